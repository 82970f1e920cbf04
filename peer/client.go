package peer

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/onesearch-labs/onesearchd/models"
)

const defaultTimeout = 10 * time.Second

// Remote calls are synchronous and blocking: a slow peer stalls the
// calling request until the client timeout fires. No retries anywhere -
// recovery is always graceful degradation at the caller.

type Config struct {
	Logger     *slog.Logger
	Timeout    time.Duration
	SkipVerify bool
}

// Client talks to peer nodes: the trust handshake against a candidate
// brand site, and the three credential/config fetches against the
// governing site.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.SkipVerify,
		},
	}

	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		logger: cfg.Logger.WithGroup("peer_client"),
	}
}

func endpointURL(siteURL, resource string) string {
	return strings.TrimSuffix(siteURL, "/") + models.PeerAPIPrefix + resource
}

// HealthCheck performs the pre-registration trust handshake against a
// candidate site. nil means the handshake passed. ErrAlreadyConnected is
// returned for the distinct pairing conflict; everything else is an
// *ErrHandshakeFailed. No retries.
func (c *Client) HealthCheck(ctx context.Context, siteURL, apiKey, origin string) error {
	reqURL := endpointURL(siteURL, "/health-check")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return &ErrHandshakeFailed{Message: err.Error()}
	}
	req.Header.Set(models.HeaderToken, apiKey)
	req.Header.Set(models.HeaderTokenLegacy, apiKey)
	req.Header.Set(models.HeaderRequestingOrigin, origin)

	c.logger.Debug("health check", "url", reqURL, "origin", origin)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("health check could not reach site", "url", reqURL, "error", err)
		return &ErrHandshakeFailed{Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ErrHandshakeFailed{Status: resp.StatusCode, Message: err.Error()}
	}

	var hc models.HealthCheckResponse
	if jsonErr := json.Unmarshal(body, &hc); jsonErr != nil {
		return &ErrHandshakeFailed{Status: resp.StatusCode, Message: "unparseable health check response"}
	}

	if resp.StatusCode != http.StatusOK {
		return &ErrHandshakeFailed{Status: resp.StatusCode, Code: hc.Code, Message: hc.Message}
	}

	if hc.Success {
		return nil
	}

	if hc.Code == models.CodeAlreadyConnected {
		return ErrAlreadyConnected
	}

	return &ErrHandshakeFailed{Status: resp.StatusCode, Code: hc.Code, Message: hc.Message}
}

// FetchCredentials pulls the search credentials from the governing site.
func (c *Client) FetchCredentials(ctx context.Context, governingURL, token string) (models.AlgoliaCredentials, error) {
	var creds models.AlgoliaCredentials
	if err := c.getJSON(ctx, governingURL, "/algolia-credentials", token, &creds); err != nil {
		return models.AlgoliaCredentials{}, err
	}
	return creds, nil
}

// FetchSearchableSites pulls the searchable site list from the governing site.
func (c *Client) FetchSearchableSites(ctx context.Context, governingURL, token string) ([]string, error) {
	var rsp models.SearchableSitesResponse
	if err := c.getJSON(ctx, governingURL, "/searchable-sites", token, &rsp); err != nil {
		return nil, err
	}
	if rsp.SearchableSites == nil {
		return []string{}, nil
	}
	return rsp.SearchableSites, nil
}

// FetchSearchSettings pulls the search scope settings from the governing site.
func (c *Client) FetchSearchSettings(ctx context.Context, governingURL, token string) (models.SearchSettings, error) {
	var rsp models.SearchSettingsResponse
	if err := c.getJSON(ctx, governingURL, "/search-settings", token, &rsp); err != nil {
		return models.SearchSettings{}, err
	}
	if rsp.Config.SearchableSites == nil {
		rsp.Config.SearchableSites = []string{}
	}
	return rsp.Config, nil
}

func (c *Client) getJSON(ctx context.Context, governingURL, resource, token string, target any) error {
	reqURL := endpointURL(governingURL, resource)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("could not build request for %s: %w", reqURL, err)
	}
	req.Header.Set(models.HeaderTokenLegacy, token)

	c.logger.Debug("proxy fetch", "url", reqURL)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("proxy fetch could not reach governing site", "url", reqURL, "error", err)
		return &ErrFailedToConnect{Body: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ErrFailedToConnect{Status: resp.StatusCode, Body: err.Error()}
	}

	if resp.StatusCode != http.StatusOK {
		return &ErrFailedToConnect{Status: resp.StatusCode, Body: string(body)}
	}

	trimmed := strings.TrimSpace(string(body))
	if !strings.HasPrefix(trimmed, "{") {
		return &ErrInvalidResponse{Reason: "body is not a JSON object"}
	}

	if err := json.Unmarshal(body, target); err != nil {
		return &ErrInvalidResponse{Reason: err.Error()}
	}
	return nil
}

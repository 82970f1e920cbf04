package proxy

import (
	"context"
	"log/slog"
	"strings"
	"unicode"

	"github.com/onesearch-labs/onesearchd/cache"
	"github.com/onesearch-labs/onesearchd/config"
	"github.com/onesearch-labs/onesearchd/models"
	"github.com/onesearch-labs/onesearchd/registry"
	"github.com/onesearch-labs/onesearchd/state"
)

/*
	The credential proxy a brand node runs against its governing node.
	Per resource: cache lookup first, then the local fallback when the
	node has no governing URL or no shared token configured (fallbacks
	are never cached), then an authenticated fetch whose result is
	sanitized and cached per the resource's policy.

	Caching policy asymmetry is deliberate and must stay: a fully-null
	credential set is a valid "configured as empty" state and IS cached
	for the full TTL; an empty site list or zero-value settings result is
	treated as "nothing to cache" and forces a re-fetch on the next read.
*/

const (
	keyCredentials     = "algolia-credentials"
	keySearchableSites = "searchable-sites"
	keySearchSettings  = "search-settings"
)

// Fetcher is the outbound half of the proxy. Implemented by peer.Client.
type Fetcher interface {
	FetchCredentials(ctx context.Context, governingURL, token string) (models.AlgoliaCredentials, error)
	FetchSearchableSites(ctx context.Context, governingURL, token string) ([]string, error)
	FetchSearchSettings(ctx context.Context, governingURL, token string) (models.SearchSettings, error)
}

type Proxy struct {
	logger *slog.Logger
	st     *state.Store
	peers  Fetcher
	ttls   config.CacheTTLs

	creds    *cache.Cache[models.AlgoliaCredentials]
	sites    *cache.Cache[[]string]
	settings *cache.Cache[models.SearchSettings]
}

func New(logger *slog.Logger, st *state.Store, peers Fetcher, ttls config.CacheTTLs) *Proxy {
	logger = logger.WithGroup("proxy")
	return &Proxy{
		logger:   logger,
		st:       st,
		peers:    peers,
		ttls:     ttls,
		creds:    cache.New[models.AlgoliaCredentials](logger.With("resource", keyCredentials)),
		sites:    cache.New[[]string](logger.With("resource", keySearchableSites)),
		settings: cache.New[models.SearchSettings](logger.With("resource", keySearchSettings)),
	}
}

// governingTarget resolves the configured governing URL and shared
// token. ok is false when either is missing and the caller must fall
// back locally without a remote call.
func (p *Proxy) governingTarget() (governingURL, token string, ok bool, err error) {
	governingURL, err = p.st.GoverningURL()
	if err != nil {
		return "", "", false, err
	}
	if governingURL == "" {
		return "", "", false, nil
	}
	token, err = p.st.SharedToken()
	if err != nil {
		return "", "", false, err
	}
	if token == "" {
		return "", "", false, nil
	}
	return governingURL, token, true, nil
}

// Credentials returns the search credentials, proxied from the governing
// node. A fully-null result is cached; the local fallback is not.
func (p *Proxy) Credentials(ctx context.Context) (models.AlgoliaCredentials, error) {
	if value, ok := p.creds.Get(keyCredentials); ok {
		return value, nil
	}

	governingURL, token, ok, err := p.governingTarget()
	if err != nil {
		return models.AlgoliaCredentials{}, err
	}
	if !ok {
		p.logger.Debug("no governing target - using local credential fallback")
		return p.st.LocalCredentials()
	}

	return p.creds.GetOrCompute(keyCredentials, p.ttls.Credentials, func() (models.AlgoliaCredentials, error) {
		creds, err := p.peers.FetchCredentials(ctx, governingURL, token)
		if err != nil {
			return models.AlgoliaCredentials{}, err
		}
		return sanitizeCredentials(creds), nil
	}, nil) // null credentials are a valid cacheable state
}

// SearchableSites returns the searchable site list from the governing
// node. An empty result is returned but never cached.
func (p *Proxy) SearchableSites(ctx context.Context) ([]string, error) {
	if value, ok := p.sites.Get(keySearchableSites); ok {
		return value, nil
	}

	governingURL, token, ok, err := p.governingTarget()
	if err != nil {
		return nil, err
	}
	if !ok {
		p.logger.Debug("no governing target - searchable sites fall back to empty")
		return []string{}, nil
	}

	return p.sites.GetOrCompute(keySearchableSites, p.ttls.SearchableSites, func() ([]string, error) {
		sites, err := p.peers.FetchSearchableSites(ctx, governingURL, token)
		if err != nil {
			return nil, err
		}
		return sanitizeURLs(sites), nil
	}, func(sites []string) bool { return len(sites) == 0 })
}

// SearchSettings returns the search scope settings from the governing
// node. A missing/zero-value result is returned but never cached.
func (p *Proxy) SearchSettings(ctx context.Context) (models.SearchSettings, error) {
	if value, ok := p.settings.Get(keySearchSettings); ok {
		return value, nil
	}

	governingURL, token, ok, err := p.governingTarget()
	if err != nil {
		return models.SearchSettings{}, err
	}
	if !ok {
		p.logger.Debug("no governing target - search settings fall back to disabled defaults")
		return models.SearchSettings{AlgoliaEnabled: false, SearchableSites: []string{}}, nil
	}

	return p.settings.GetOrCompute(keySearchSettings, p.ttls.SearchSettings, func() (models.SearchSettings, error) {
		settings, err := p.peers.FetchSearchSettings(ctx, governingURL, token)
		if err != nil {
			return models.SearchSettings{}, err
		}
		settings.SearchableSites = sanitizeURLs(settings.SearchableSites)
		return settings, nil
	}, models.SearchSettings.IsZero)
}

// -- Invalidation --
//
// Called when this node's own credentials or settings change. Local-only:
// peers that proxied a copy still hold it until their TTL expires.

func (p *Proxy) InvalidateCredentials() {
	p.creds.Invalidate(keyCredentials)
}

func (p *Proxy) InvalidateSearchableSites() {
	p.sites.Invalidate(keySearchableSites)
}

func (p *Proxy) InvalidateSearchSettings() {
	p.settings.Invalidate(keySearchSettings)
}

func (p *Proxy) InvalidateAll() {
	p.InvalidateCredentials()
	p.InvalidateSearchableSites()
	p.InvalidateSearchSettings()
}

func (p *Proxy) Stop() {
	p.creds.Stop()
	p.sites.Stop()
	p.settings.Stop()
}

// -- Sanitization --

// sanitizeText strips control characters and surrounding whitespace from
// a remote-supplied field.
func sanitizeText(value string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, value)
	return strings.TrimSpace(cleaned)
}

func sanitizeField(value *string) *string {
	if value == nil {
		return nil
	}
	cleaned := sanitizeText(*value)
	return &cleaned
}

func sanitizeCredentials(creds models.AlgoliaCredentials) models.AlgoliaCredentials {
	return models.AlgoliaCredentials{
		AppID:    sanitizeField(creds.AppID),
		WriteKey: sanitizeField(creds.WriteKey),
		AdminKey: sanitizeField(creds.AdminKey),
	}
}

// sanitizeURLs normalizes each entry and drops anything that is not a
// well-formed http(s) URL.
func sanitizeURLs(urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, raw := range urls {
		normalized, err := registry.NormalizeURL(sanitizeText(raw))
		if err != nil {
			continue
		}
		out = append(out, normalized)
	}
	return out
}

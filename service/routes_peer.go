package service

import (
	"errors"
	"net/http"

	"github.com/onesearch-labs/onesearchd/auth"
	"github.com/onesearch-labs/onesearchd/models"
	"github.com/onesearch-labs/onesearchd/peer"
	"github.com/onesearch-labs/onesearchd/registry"
)

/*
	Peer protocol handlers. The three resource endpoints are served by
	every node: a governing node answers from its own state, everything
	else proxies through its governing node with the proxy's cache and
	fallback rules. A proxy-side failure degrades to the local fallback
	rather than failing the caller.
*/

// healthCheckHandler answers the trust handshake a governing node runs
// before registering this site. It always responds 200 with a JSON body;
// the outcome is in the body.
func (s *Service) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	presented := auth.RequestToken(r)
	origin := r.Header.Get(models.HeaderRequestingOrigin)

	shared, err := s.st.SharedToken()
	if err != nil {
		s.logger.Error("could not load shared token for health check", "error", err)
		writeJSON(w, http.StatusOK, models.HealthCheckResponse{
			Success: false,
			Message: "shared token unavailable",
		})
		return
	}

	if shared == "" || presented == "" || !auth.TokensEqual(presented, shared) {
		s.logger.Warn("health check token mismatch", "remote_addr", r.RemoteAddr)
		writeJSON(w, http.StatusOK, models.HealthCheckResponse{
			Success: false,
			Code:    models.CodeInvalidAPIKey,
			Message: "shared token does not match",
		})
		return
	}

	// A site that already points at a different governing site must not
	// be silently re-paired.
	governingURL, err := s.st.GoverningURL()
	if err != nil {
		s.logger.Error("could not load governing url for health check", "error", err)
		writeJSON(w, http.StatusOK, models.HealthCheckResponse{
			Success: false,
			Message: "governing url unavailable",
		})
		return
	}

	if governingURL != "" && origin != "" &&
		registry.NormalizeLoose(governingURL) != registry.NormalizeLoose(origin) {
		writeJSON(w, http.StatusOK, models.HealthCheckResponse{
			Success: false,
			Code:    models.CodeAlreadyConnected,
			Message: "site is already connected to another governing site",
		})
		return
	}

	writeJSON(w, http.StatusOK, models.HealthCheckResponse{Success: true})
}

func (s *Service) algoliaCredentialsHandler(w http.ResponseWriter, r *http.Request) {
	if !s.authorizePeer(w, r) {
		return
	}

	role, err := s.st.Role()
	if err != nil {
		internalError(w, s.logger, "could not determine site role", err)
		return
	}

	if role == models.RoleGoverning {
		creds, err := s.st.LocalCredentials()
		if err != nil {
			internalError(w, s.logger, "could not load local credentials", err)
			return
		}
		writeJSON(w, http.StatusOK, creds)
		return
	}

	creds, err := s.px.Credentials(r.Context())
	if err != nil {
		if !isProxyDegradable(err) {
			internalError(w, s.logger, "could not resolve credentials", err)
			return
		}
		s.logger.Warn("credential proxy failed - serving local fallback", "error", err)
		creds, err = s.st.LocalCredentials()
		if err != nil {
			internalError(w, s.logger, "could not load local credentials", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, creds)
}

func (s *Service) searchableSitesHandler(w http.ResponseWriter, r *http.Request) {
	if !s.authorizePeer(w, r) {
		return
	}

	role, err := s.st.Role()
	if err != nil {
		internalError(w, s.logger, "could not determine site role", err)
		return
	}

	var sites []string
	if role == models.RoleGoverning {
		sites, err = s.reg.URLs()
		if err != nil {
			internalError(w, s.logger, "could not list registry urls", err)
			return
		}
	} else {
		sites, err = s.px.SearchableSites(r.Context())
		if err != nil {
			if !isProxyDegradable(err) {
				internalError(w, s.logger, "could not resolve searchable sites", err)
				return
			}
			s.logger.Warn("searchable sites proxy failed - serving empty fallback", "error", err)
			sites = []string{}
		}
	}

	writeJSON(w, http.StatusOK, models.SearchableSitesResponse{SearchableSites: sites})
}

func (s *Service) searchSettingsHandler(w http.ResponseWriter, r *http.Request) {
	if !s.authorizePeer(w, r) {
		return
	}

	role, err := s.st.Role()
	if err != nil {
		internalError(w, s.logger, "could not determine site role", err)
		return
	}

	var settings models.SearchSettings
	if role == models.RoleGoverning {
		settings, err = s.st.SearchSettings()
		if err != nil {
			internalError(w, s.logger, "could not load search settings", err)
			return
		}
	} else {
		settings, err = s.px.SearchSettings(r.Context())
		if err != nil {
			if !isProxyDegradable(err) {
				internalError(w, s.logger, "could not resolve search settings", err)
				return
			}
			s.logger.Warn("search settings proxy failed - serving disabled defaults", "error", err)
			settings = models.SearchSettings{AlgoliaEnabled: false, SearchableSites: []string{}}
		}
	}

	writeJSON(w, http.StatusOK, models.SearchSettingsResponse{Config: settings})
}

// authorizePeer runs the auth gate and writes the rejection when the
// request does not pass. One stateless check, no retry semantics.
func (s *Service) authorizePeer(w http.ResponseWriter, r *http.Request) bool {
	if err := s.gate.Authorize(r); err != nil {
		var invalidKey *auth.ErrInvalidAPIKey
		if errors.As(err, &invalidKey) {
			writeJSON(w, http.StatusUnauthorized, errorResponse{
				Code:    models.CodeInvalidAPIKey,
				Message: "invalid or missing shared token",
			})
			return false
		}
		internalError(w, s.logger, "authorization failed", err)
		return false
	}
	return true
}

// isProxyDegradable reports whether a proxy error falls under the
// degrade-gracefully policy (network or protocol failure against the
// governing site) rather than a local fault.
func isProxyDegradable(err error) bool {
	var connectErr *peer.ErrFailedToConnect
	if errors.As(err, &connectErr) {
		return true
	}
	var invalidErr *peer.ErrInvalidResponse
	return errors.As(err, &invalidErr)
}

package service

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/onesearch-labs/onesearchd/models"
	"github.com/onesearch-labs/onesearchd/peer"
	"github.com/onesearch-labs/onesearchd/registry"
	"github.com/onesearch-labs/onesearchd/state"
)

/*
	Admin surface. These handlers stand in for the host platform's admin
	UI: everything the UI would do - role selection, registry management,
	pairing, credential and settings editing - goes through here, gated
	on the admin token.
*/

func (s *Service) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if s.adm == nil || !s.adm.IsAdmin(r) {
		s.logger.Warn("admin authentication failed", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
		writeJSON(w, http.StatusUnauthorized, errorResponse{
			Code:    "unauthorized",
			Message: "admin token required",
		})
		return false
	}
	return true
}

func (s *Service) pingHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}

	role, err := s.st.Role()
	if err != nil {
		internalError(w, s.logger, "could not determine site role", err)
		return
	}

	sites, err := s.reg.List()
	if err != nil {
		internalError(w, s.logger, "could not list sites", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"role":   role,
		"sites":  len(sites),
		"uptime": time.Since(s.startedAt).String(),
	})
}

// -- Registry --

type sitePayload struct {
	Name   string `json:"name"`
	URL    string `json:"url"`
	APIKey string `json:"api_key"`
}

type siteIndexedPayload struct {
	Index  int    `json:"index"`
	Name   string `json:"name"`
	URL    string `json:"url"`
	APIKey string `json:"api_key"`
}

type indexPayload struct {
	Index int `json:"index"`
}

func transitionString(t registry.Transition) string {
	switch t {
	case registry.TransitionBecameOccupied:
		return "became-occupied"
	case registry.TransitionBecameEmpty:
		return "became-empty"
	default:
		return "none"
	}
}

func (s *Service) sitesListHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}

	sites, err := s.reg.List()
	if err != nil {
		internalError(w, s.logger, "could not list sites", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sites": sites})
}

func (s *Service) sitesAddHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}

	var p sitePayload
	if !decodeBody(w, s, r, &p) {
		return
	}

	transition, err := s.reg.Add(r.Context(), models.BrandSite{
		Name:   p.Name,
		URL:    p.URL,
		APIKey: p.APIKey,
	})
	if err != nil {
		s.writeRegistryError(w, err)
		return
	}

	// The searchable-sites list is registry-derived; a mutation makes
	// any cached copy stale.
	s.px.InvalidateSearchableSites()

	writeJSON(w, http.StatusOK, map[string]string{
		"status":     "ok",
		"transition": transitionString(transition),
	})
}

func (s *Service) sitesUpdateHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}

	var p siteIndexedPayload
	if !decodeBody(w, s, r, &p) {
		return
	}

	err := s.reg.Update(r.Context(), p.Index, models.BrandSite{
		Name:   p.Name,
		URL:    p.URL,
		APIKey: p.APIKey,
	})
	if err != nil {
		s.writeRegistryError(w, err)
		return
	}

	s.px.InvalidateSearchableSites()

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Service) sitesRemoveHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}

	var p indexPayload
	if !decodeBody(w, s, r, &p) {
		return
	}

	transition, err := s.reg.Remove(p.Index)
	if err != nil {
		s.writeRegistryError(w, err)
		return
	}

	s.px.InvalidateSearchableSites()

	writeJSON(w, http.StatusOK, map[string]string{
		"status":     "ok",
		"transition": transitionString(transition),
	})
}

func (s *Service) writeRegistryError(w http.ResponseWriter, err error) {
	var validationErr *registry.ValidationError
	if errors.As(err, &validationErr) {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Code:    "validation_failed",
			Field:   validationErr.Field,
			Message: validationErr.Reason,
		})
		return
	}

	if errors.Is(err, peer.ErrAlreadyConnected) {
		// Distinct conflict - must not be folded into the generic
		// handshake failure message.
		writeJSON(w, http.StatusConflict, errorResponse{
			Code:    models.CodeAlreadyConnected,
			Message: "this site is already connected to another governing site",
		})
		return
	}

	var handshakeErr *peer.ErrHandshakeFailed
	if errors.As(err, &handshakeErr) {
		writeJSON(w, http.StatusBadGateway, errorResponse{
			Code:    "handshake_failed",
			Message: handshakeErr.Error(),
		})
		return
	}

	var indexErr *registry.ErrIndexOutOfRange
	if errors.As(err, &indexErr) {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Code:    "index_out_of_range",
			Message: indexErr.Error(),
		})
		return
	}

	internalError(w, s.logger, "registry operation failed", err)
}

// -- Role --

type rolePayload struct {
	Role models.SiteRole `json:"role"`
}

func (s *Service) roleHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}

	if r.Method == http.MethodGet {
		role, err := s.st.Role()
		if err != nil {
			internalError(w, s.logger, "could not determine site role", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]models.SiteRole{"role": role})
		return
	}

	var p rolePayload
	if !decodeBody(w, s, r, &p) {
		return
	}

	if err := s.st.SetRole(p.Role); err != nil {
		var alreadySet *state.ErrRoleAlreadySet
		if errors.As(err, &alreadySet) {
			writeJSON(w, http.StatusConflict, errorResponse{
				Code:    "role_already_set",
				Message: alreadySet.Error(),
			})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Code:    "invalid_role",
			Message: err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// -- Credentials and settings --

func (s *Service) credentialsHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}

	if r.Method == http.MethodGet {
		creds, err := s.st.LocalCredentials()
		if err != nil {
			internalError(w, s.logger, "could not load local credentials", err)
			return
		}
		writeJSON(w, http.StatusOK, creds)
		return
	}

	var creds models.AlgoliaCredentials
	if !decodeBody(w, s, r, &creds) {
		return
	}

	if err := s.st.SetLocalCredentials(creds); err != nil {
		internalError(w, s.logger, "could not store local credentials", err)
		return
	}

	// Stale proxied copies elsewhere run out on their own TTL; ours is
	// dropped now.
	s.px.InvalidateCredentials()

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Service) settingsHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}

	if r.Method == http.MethodGet {
		settings, err := s.st.SearchSettings()
		if err != nil {
			internalError(w, s.logger, "could not load search settings", err)
			return
		}
		writeJSON(w, http.StatusOK, models.SearchSettingsResponse{Config: settings})
		return
	}

	var settings models.SearchSettings
	if !decodeBody(w, s, r, &settings) {
		return
	}

	if err := s.st.SetSearchSettings(settings); err != nil {
		internalError(w, s.logger, "could not store search settings", err)
		return
	}

	s.px.InvalidateSearchSettings()

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// -- Pairing (brand side) --

type pairingPayload struct {
	GoverningURL string `json:"governing_url"`
	SharedToken  string `json:"shared_token"`
}

func (s *Service) pairingHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}

	if r.Method == http.MethodGet {
		governingURL, err := s.st.GoverningURL()
		if err != nil {
			internalError(w, s.logger, "could not load governing url", err)
			return
		}
		// The shared token itself is never returned, only whether one
		// is configured.
		token, err := s.st.SharedToken()
		if err != nil {
			internalError(w, s.logger, "could not load shared token", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"governing_url":    governingURL,
			"token_configured": token != "",
		})
		return
	}

	var p pairingPayload
	if !decodeBody(w, s, r, &p) {
		return
	}

	if p.GoverningURL != "" {
		normalized, err := registry.NormalizeURL(p.GoverningURL)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{
				Code:    "validation_failed",
				Field:   "governing_url",
				Message: err.Error(),
			})
			return
		}
		p.GoverningURL = normalized
	}

	if err := s.st.SetGoverningURL(p.GoverningURL); err != nil {
		internalError(w, s.logger, "could not store governing url", err)
		return
	}
	if err := s.st.SetSharedToken(p.SharedToken); err != nil {
		internalError(w, s.logger, "could not store shared token", err)
		return
	}

	// Repointing the governing target makes every proxied value suspect.
	s.px.InvalidateAll()

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// -- Tokens --

func (s *Service) tokenGenerateHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}

	token := "osk_" + uuid.NewString()
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// -- Operational --

func (s *Service) stateKeysHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}

	offset, limit := parseOffsetAndLimit(r)
	keys, err := s.st.Keys(r.URL.Query().Get("prefix"), offset, limit)
	if err != nil {
		internalError(w, s.logger, "could not list state keys", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

func decodeBody(w http.ResponseWriter, s *Service, r *http.Request, target any) bool {
	defer r.Body.Close()
	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		s.logger.Error("could not read request body", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: "bad_request", Message: "could not read body"})
		return false
	}
	if err := json.Unmarshal(bodyBytes, target); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: "bad_request", Message: "invalid JSON payload: " + err.Error()})
		return false
	}
	return true
}

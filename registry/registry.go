package registry

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/onesearch-labs/onesearchd/models"
	"github.com/onesearch-labs/onesearchd/state"
)

/*
	The governing node's registry of brand sites. Add and Update are gated
	on a successful trust handshake against the candidate site - validate
	then mutate, never the other way around, so any failure leaves the
	persisted registry byte-for-byte unchanged.

	Mutations are read-modify-write over the whole list with no optimistic
	lock. Concurrent edits can silently overwrite each other; accepted and
	documented, not fixed here.
*/

const MaxNameLength = 20

// HealthChecker is the trust handshake. Implemented by peer.Client.
type HealthChecker interface {
	HealthCheck(ctx context.Context, siteURL, apiKey, origin string) error
}

// ValidationError is a structural rejection of a registry mutation,
// surfaced per-field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ErrIndexOutOfRange is returned for index-based operations addressing a
// slot the registry does not have.
type ErrIndexOutOfRange struct {
	Index int
	Len   int
}

func (e *ErrIndexOutOfRange) Error() string {
	return fmt.Sprintf("registry index %d out of range (have %d sites)", e.Index, e.Len)
}

// Transition reports whether a mutation crossed the empty/non-empty
// boundary. Crossing it flips governing-site features on or off, so the
// caller must reload dependent state instead of absorbing the change.
type Transition int

const (
	TransitionNone Transition = iota
	TransitionBecameOccupied
	TransitionBecameEmpty
)

type Registry struct {
	logger *slog.Logger
	st     *state.Store
	hc     HealthChecker
	origin string
}

// New builds the registry. origin is this node's public URL; it is sent
// as the requesting origin during handshakes.
func New(logger *slog.Logger, st *state.Store, hc HealthChecker, origin string) *Registry {
	return &Registry{
		logger: logger.WithGroup("registry"),
		st:     st,
		hc:     hc,
		origin: NormalizeLoose(origin),
	}
}

// NormalizeURL validates and canonicalizes a site URL: http or https
// only, host required, trailing slash always present. Idempotent.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", &ValidationError{Field: "url", Reason: "must not be empty"}
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", &ValidationError{Field: "url", Reason: "not a well-formed URL"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", &ValidationError{Field: "url", Reason: "scheme must be http or https"}
	}
	if u.Host == "" {
		return "", &ValidationError{Field: "url", Reason: "missing host"}
	}

	out := u.String()
	if !strings.HasSuffix(out, "/") {
		out += "/"
	}
	return out, nil
}

// NormalizeLoose normalizes when possible and otherwise passes the input
// through. Used for comparing origins where rejection is not an option.
func NormalizeLoose(raw string) string {
	normalized, err := NormalizeURL(raw)
	if err != nil {
		return strings.TrimSpace(raw)
	}
	return normalized
}

func validateSite(site models.BrandSite) (models.BrandSite, error) {
	site.Name = strings.TrimSpace(site.Name)
	if site.Name == "" {
		return site, &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if len(site.Name) > MaxNameLength {
		return site, &ValidationError{Field: "name", Reason: fmt.Sprintf("must be at most %d characters", MaxNameLength)}
	}

	normalized, err := NormalizeURL(site.URL)
	if err != nil {
		return site, err
	}
	site.URL = normalized

	if strings.TrimSpace(site.APIKey) == "" {
		return site, &ValidationError{Field: "api_key", Reason: "must not be empty"}
	}
	site.APIKey = strings.TrimSpace(site.APIKey)

	return site, nil
}

// List returns the registered brand sites. Pre-existing records are not
// retroactively validated; the name length rule holds at mutation time.
func (r *Registry) List() ([]models.BrandSite, error) {
	return r.st.Sites()
}

// Add validates the candidate, runs the trust handshake, and only then
// appends it to the registry. The returned transition reports whether
// the registry went from empty to occupied.
func (r *Registry) Add(ctx context.Context, site models.BrandSite) (Transition, error) {
	site, err := validateSite(site)
	if err != nil {
		return TransitionNone, err
	}

	sites, err := r.st.Sites()
	if err != nil {
		return TransitionNone, err
	}

	for _, existing := range sites {
		if existing.URL == site.URL {
			return TransitionNone, &ValidationError{Field: "url", Reason: "already registered"}
		}
	}

	if err := r.hc.HealthCheck(ctx, site.URL, site.APIKey, r.origin); err != nil {
		r.logger.Warn("handshake rejected site add", "url", site.URL, "error", err)
		return TransitionNone, err
	}

	site.ID = uuid.NewString()
	sites = append(sites, site)

	if err := r.st.SetSites(sites); err != nil {
		return TransitionNone, err
	}

	r.logger.Info("brand site added", "url", site.URL, "name", site.Name)

	if len(sites) == 1 {
		return TransitionBecameOccupied, nil
	}
	return TransitionNone, nil
}

// Update replaces the site at index after validation and a fresh
// handshake against the new values. The entry's ID is preserved.
func (r *Registry) Update(ctx context.Context, index int, site models.BrandSite) error {
	site, err := validateSite(site)
	if err != nil {
		return err
	}

	sites, err := r.st.Sites()
	if err != nil {
		return err
	}
	if index < 0 || index >= len(sites) {
		return &ErrIndexOutOfRange{Index: index, Len: len(sites)}
	}

	for i, existing := range sites {
		if i != index && existing.URL == site.URL {
			return &ValidationError{Field: "url", Reason: "already registered"}
		}
	}

	if err := r.hc.HealthCheck(ctx, site.URL, site.APIKey, r.origin); err != nil {
		r.logger.Warn("handshake rejected site update", "url", site.URL, "error", err)
		return err
	}

	site.ID = sites[index].ID
	sites[index] = site

	if err := r.st.SetSites(sites); err != nil {
		return err
	}

	r.logger.Info("brand site updated", "url", site.URL, "name", site.Name)
	return nil
}

// Remove deletes the site at index. When the removal empties the
// registry the caller must trigger a full reload of dependent state -
// menu visibility hangs off registry emptiness.
func (r *Registry) Remove(index int) (Transition, error) {
	sites, err := r.st.Sites()
	if err != nil {
		return TransitionNone, err
	}
	if index < 0 || index >= len(sites) {
		return TransitionNone, &ErrIndexOutOfRange{Index: index, Len: len(sites)}
	}

	removed := sites[index]
	sites = append(sites[:index], sites[index+1:]...)

	if err := r.st.SetSites(sites); err != nil {
		return TransitionNone, err
	}

	r.logger.Info("brand site removed", "url", removed.URL, "name", removed.Name)

	if len(sites) == 0 {
		return TransitionBecameEmpty, nil
	}
	return TransitionNone, nil
}

// URLs returns the normalized URLs of all registered sites, in registry
// order. This is what the governing node serves as its searchable-sites
// list.
func (r *Registry) URLs() ([]string, error) {
	sites, err := r.st.Sites()
	if err != nil {
		return nil, err
	}
	urls := make([]string, 0, len(sites))
	for _, site := range sites {
		urls = append(urls, site.URL)
	}
	return urls, nil
}

// APIKeys returns the shared tokens of all registered sites. The auth
// gate accepts any of them on a governing node.
func (r *Registry) APIKeys() ([]string, error) {
	sites, err := r.st.Sites()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(sites))
	for _, site := range sites {
		keys = append(keys, site.APIKey)
	}
	return keys, nil
}

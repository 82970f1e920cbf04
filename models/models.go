package models

/*
	Domain records and wire payloads shared between the inbound service,
	the outbound peer client, and the storage boundary. The JSON field
	names on the wire payloads are part of the peer protocol and must not
	change between releases.
*/

// SiteRole is the one-time role selection of a node. A node starts unset
// and is moved to exactly one of the two set roles by an administrator.
type SiteRole string

const (
	RoleUnset     SiteRole = ""
	RoleBrand     SiteRole = "brand-site"
	RoleGoverning SiteRole = "governing-site"
)

func (r SiteRole) Valid() bool {
	return r == RoleBrand || r == RoleGoverning
}

// BrandSite is a single entry in the governing node's site registry.
// URL is always stored normalized (scheme-checked, trailing slash).
type BrandSite struct {
	ID     string `json:"id,omitempty"`
	Name   string `json:"name"`
	URL    string `json:"url"`
	APIKey string `json:"api_key"`
}

// AlgoliaCredentials holds the search backend credentials. All fields are
// independently nullable; a fully null value is a valid configured state
// and means "not configured".
type AlgoliaCredentials struct {
	AppID    *string `json:"app_id"`
	WriteKey *string `json:"write_key"`
	AdminKey *string `json:"admin_key"`
}

func (c AlgoliaCredentials) IsNull() bool {
	return c.AppID == nil && c.WriteKey == nil && c.AdminKey == nil
}

// SearchSettings is the search scope configuration a brand node pulls
// from its governing node.
type SearchSettings struct {
	AlgoliaEnabled  bool     `json:"algolia_enabled"`
	SearchableSites []string `json:"searchable_sites"`
}

func (s SearchSettings) IsZero() bool {
	return !s.AlgoliaEnabled && len(s.SearchableSites) == 0
}

// -- Peer protocol --

const (
	PeerAPIPrefix = "/wp-json/onesearch/v1"

	HeaderToken            = "X-OneSearch-Token"
	HeaderTokenLegacy      = "X-OneSearch-Plugins-Token"
	HeaderRequestingOrigin = "X-OneSearch-Requesting-Origin"
)

const (
	CodeAlreadyConnected = "already_connected"
	CodeInvalidAPIKey    = "invalid_api_key"
	CodeFailedToConnect  = "failed_to_connect"
	CodeInvalidResponse  = "invalid_response"
)

type HealthCheckResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

type SearchableSitesResponse struct {
	SearchableSites []string `json:"searchable_sites"`
}

type SearchSettingsResponse struct {
	Config SearchSettings `json:"config"`
}

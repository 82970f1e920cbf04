package config

import (
	"errors"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type TLS struct {
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
}

// CacheTTLs are the per-resource TTLs for the credential proxy caches.
// Credentials are deliberately long-lived; the list/settings resources
// are short-lived because they drive search scope.
type CacheTTLs struct {
	Credentials     time.Duration `yaml:"credentials"`
	SearchableSites time.Duration `yaml:"searchableSites"`
	SearchSettings  time.Duration `yaml:"searchSettings"`
}

type RateLimiterConfig struct {
	Limit float64 `yaml:"limit"` // Requests per second
	Burst int     `yaml:"burst"` // Burst size
}

type RateLimiters struct {
	Peer    RateLimiterConfig `yaml:"peer"`
	Admin   RateLimiterConfig `yaml:"admin"`
	Default RateLimiterConfig `yaml:"default"`
}

// Site is the full configuration of a single node. Role is not part of
// the config file; it is a one-time administrative action persisted in
// the node's state store.
type Site struct {
	HttpBinding string `yaml:"httpBinding"`
	PublicURL   string `yaml:"publicURL"` // how peers reach this node; sent as requesting origin
	DataDir     string `yaml:"dataDir"`

	AdminToken string `yaml:"adminToken"`

	// Site-wide secrets for the at-rest secret store. If left empty an
	// insecure hardcoded fallback is used and flagged loudly at startup.
	SiteSecret string `yaml:"siteSecret"`
	SiteSalt   string `yaml:"siteSalt"`

	TLS TLS `yaml:"tls"`

	Cache        CacheTTLs    `yaml:"cache"`
	RateLimiters RateLimiters `yaml:"rateLimiters"`

	PeerTimeout    time.Duration `yaml:"peerTimeout"`
	PeerSkipVerify bool          `yaml:"peerSkipVerify"`
}

var (
	ErrConfigFileUnreadable     = errors.New("config file is unreadable")
	ErrConfigFileUnmarshallable = errors.New("config file is unmarshallable")
	ErrHttpBindingMissing       = errors.New("httpBinding is missing in config")
	ErrPublicURLMissing         = errors.New("publicURL is missing in config")
	ErrDataDirMissing           = errors.New("dataDir is missing in config and is required for the state store")
	ErrAdminTokenMissing        = errors.New("adminToken is missing in config")
	ErrTLSMissing               = errors.New("TLS configuration incomplete: both cert and key must be provided if one is specified")
)

// Protocol-fixed TTL defaults. These are applied when the config file
// does not override them.
const (
	DefaultCredentialsTTL     = 7 * 24 * time.Hour
	DefaultSearchableSitesTTL = 1 * time.Hour
	DefaultSearchSettingsTTL  = 1 * time.Hour

	DefaultPeerTimeout = 10 * time.Second
)

func LoadConfig(configFile string) (*Site, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, ErrConfigFileUnreadable
	}

	var cfg Site
	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, ErrConfigFileUnmarshallable
	}

	if cfg.HttpBinding == "" {
		return nil, ErrHttpBindingMissing
	}
	if cfg.PublicURL == "" {
		return nil, ErrPublicURLMissing
	}
	if cfg.DataDir == "" {
		return nil, ErrDataDirMissing
	}
	if cfg.AdminToken == "" {
		return nil, ErrAdminTokenMissing
	}

	if cfg.TLS.Cert != "" && cfg.TLS.Key == "" ||
		cfg.TLS.Cert == "" && cfg.TLS.Key != "" {
		return nil, ErrTLSMissing
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

func applyDefaults(cfg *Site) {
	if cfg.Cache.Credentials == 0 {
		cfg.Cache.Credentials = DefaultCredentialsTTL
	}
	if cfg.Cache.SearchableSites == 0 {
		cfg.Cache.SearchableSites = DefaultSearchableSitesTTL
	}
	if cfg.Cache.SearchSettings == 0 {
		cfg.Cache.SearchSettings = DefaultSearchSettingsTTL
	}
	if cfg.PeerTimeout == 0 {
		cfg.PeerTimeout = DefaultPeerTimeout
	}
	if cfg.RateLimiters.Peer.Limit == 0 {
		cfg.RateLimiters.Peer = RateLimiterConfig{Limit: 50.0, Burst: 100}
	}
	if cfg.RateLimiters.Admin.Limit == 0 {
		cfg.RateLimiters.Admin = RateLimiterConfig{Limit: 25.0, Burst: 50}
	}
	if cfg.RateLimiters.Default.Limit == 0 {
		cfg.RateLimiters.Default = RateLimiterConfig{Limit: 100.0, Burst: 200}
	}
}

// GenerateConfig returns a default config suitable for a first run. The
// caller is responsible for writing it to disk.
func GenerateConfig() *Site {
	cfg := &Site{
		HttpBinding: "127.0.0.1:8420",
		PublicURL:   "https://localhost:8420/",
		DataDir:     "data/onesearch",
		AdminToken:  "please_change_this_admin_token_!!!",
		SiteSecret:  "please_change_this_site_secret_!!!",
		SiteSalt:    "please_change_this_site_salt_!!!",
		TLS: TLS{
			Cert: "", // Optional - set both to serve HTTPS directly
			Key:  "",
		},
	}
	applyDefaults(cfg)
	return cfg
}

func WriteConfig(cfg *Site, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

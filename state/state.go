package state

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/onesearch-labs/onesearchd/db/tkv"
	"github.com/onesearch-labs/onesearchd/models"
	"github.com/onesearch-labs/onesearchd/secrets"
)

/*
	Typed records over the opaque key-value store. Everything the node
	persists - role, registry, pairing, credential fallbacks - passes
	through here so that invalid records fail fast at the boundary
	instead of propagating missing-key lookups upward.

	Secrets (brand site API keys, the node's own shared token, credential
	values) are encrypted at rest through the secret store.
*/

const (
	keyRole             = "onesearch:site_role"
	keyBrandSites       = "onesearch:brand_sites"
	keySharedToken      = "onesearch:shared_token"
	keyGoverningURL     = "onesearch:governing_url"
	keyLocalCredentials = "onesearch:local_credentials"
	keySearchSettings   = "onesearch:search_settings"

	// KeyPrefix covers every record this store owns; used for
	// operational key listing.
	KeyPrefix = "onesearch:"
)

// ErrCorruptRecord is returned when a persisted record cannot be decoded
// into its typed form.
type ErrCorruptRecord struct {
	Key    string
	Reason string
}

func (e *ErrCorruptRecord) Error() string {
	return fmt.Sprintf("corrupt record for key %s: %s", e.Key, e.Reason)
}

// ErrRoleAlreadySet is returned when a role write would silently change
// an already-set role. Role selection is one-time by design.
type ErrRoleAlreadySet struct {
	Current models.SiteRole
}

func (e *ErrRoleAlreadySet) Error() string {
	return fmt.Sprintf("site role already set to '%s'", e.Current)
}

type Store struct {
	logger *slog.Logger
	kv     tkv.TKV
	vault  *secrets.Store
}

func New(logger *slog.Logger, kv tkv.TKV, vault *secrets.Store) *Store {
	return &Store{
		logger: logger.WithGroup("state"),
		kv:     kv,
		vault:  vault,
	}
}

// -- Site role --

func (s *Store) Role() (models.SiteRole, error) {
	raw, err := s.kv.Get(keyRole)
	if err != nil {
		if tkv.IsErrKeyNotFound(err) {
			return models.RoleUnset, nil
		}
		return models.RoleUnset, err
	}
	role := models.SiteRole(raw)
	if !role.Valid() {
		return models.RoleUnset, &ErrCorruptRecord{Key: keyRole, Reason: fmt.Sprintf("unknown role '%s'", raw)}
	}
	return role, nil
}

// SetRole persists the one-time role selection. Changing a set role is
// rejected; clearing state out of band is the only way back.
func (s *Store) SetRole(role models.SiteRole) error {
	if !role.Valid() {
		return fmt.Errorf("invalid site role '%s'", role)
	}

	current, err := s.Role()
	if err != nil {
		return err
	}
	if current != models.RoleUnset && current != role {
		return &ErrRoleAlreadySet{Current: current}
	}

	s.logger.Info("setting site role", "role", role)
	return s.kv.Set(keyRole, string(role))
}

// -- Brand site registry --

// storedSite mirrors models.BrandSite but carries the API key encrypted.
type storedSite struct {
	ID              string `json:"id,omitempty"`
	Name            string `json:"name"`
	URL             string `json:"url"`
	EncryptedAPIKey string `json:"api_key"`
}

func (s *Store) Sites() ([]models.BrandSite, error) {
	raw, err := s.kv.Get(keyBrandSites)
	if err != nil {
		if tkv.IsErrKeyNotFound(err) {
			return []models.BrandSite{}, nil
		}
		return nil, err
	}

	var stored []storedSite
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return nil, &ErrCorruptRecord{Key: keyBrandSites, Reason: err.Error()}
	}

	sites := make([]models.BrandSite, 0, len(stored))
	for _, ss := range stored {
		apiKey, err := s.vault.Decrypt(ss.EncryptedAPIKey)
		if err != nil {
			// A key we cannot decrypt is unusable; surface it rather
			// than handing out a half-decoded registry.
			return nil, fmt.Errorf("could not decrypt api key for site '%s': %w", ss.URL, err)
		}
		sites = append(sites, models.BrandSite{
			ID:     ss.ID,
			Name:   ss.Name,
			URL:    ss.URL,
			APIKey: apiKey,
		})
	}
	return sites, nil
}

func (s *Store) SetSites(sites []models.BrandSite) error {
	stored := make([]storedSite, 0, len(sites))
	for _, site := range sites {
		enc, err := s.vault.Encrypt(site.APIKey)
		if err != nil {
			return fmt.Errorf("could not encrypt api key for site '%s': %w", site.URL, err)
		}
		stored = append(stored, storedSite{
			ID:              site.ID,
			Name:            site.Name,
			URL:             site.URL,
			EncryptedAPIKey: enc,
		})
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return err
	}
	return s.kv.Set(keyBrandSites, string(data))
}

// SerializedSites returns the raw persisted registry blob, empty string
// when none exists. Used by tests to assert byte-identical state after
// rejected mutations.
func (s *Store) SerializedSites() (string, error) {
	raw, err := s.kv.Get(keyBrandSites)
	if err != nil {
		if tkv.IsErrKeyNotFound(err) {
			return "", nil
		}
		return "", err
	}
	return raw, nil
}

// -- Pairing (brand side) --

func (s *Store) SharedToken() (string, error) {
	raw, err := s.kv.Get(keySharedToken)
	if err != nil {
		if tkv.IsErrKeyNotFound(err) {
			return "", nil
		}
		return "", err
	}
	token, err := s.vault.Decrypt(raw)
	if err != nil {
		return "", fmt.Errorf("could not decrypt shared token: %w", err)
	}
	return token, nil
}

func (s *Store) SetSharedToken(token string) error {
	if token == "" {
		return s.kv.Delete(keySharedToken)
	}
	enc, err := s.vault.Encrypt(token)
	if err != nil {
		return fmt.Errorf("could not encrypt shared token: %w", err)
	}
	return s.kv.Set(keySharedToken, enc)
}

func (s *Store) GoverningURL() (string, error) {
	raw, err := s.kv.Get(keyGoverningURL)
	if err != nil {
		if tkv.IsErrKeyNotFound(err) {
			return "", nil
		}
		return "", err
	}
	return raw, nil
}

func (s *Store) SetGoverningURL(url string) error {
	if url == "" {
		return s.kv.Delete(keyGoverningURL)
	}
	return s.kv.Set(keyGoverningURL, url)
}

// -- Local credential fallback --

type storedCredentials struct {
	AppID    *string `json:"app_id"`
	WriteKey *string `json:"write_key"`
	AdminKey *string `json:"admin_key"`
}

func (s *Store) LocalCredentials() (models.AlgoliaCredentials, error) {
	raw, err := s.kv.Get(keyLocalCredentials)
	if err != nil {
		if tkv.IsErrKeyNotFound(err) {
			return models.AlgoliaCredentials{}, nil
		}
		return models.AlgoliaCredentials{}, err
	}

	var stored storedCredentials
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return models.AlgoliaCredentials{}, &ErrCorruptRecord{Key: keyLocalCredentials, Reason: err.Error()}
	}

	var creds models.AlgoliaCredentials
	if creds.AppID, err = s.decryptField(stored.AppID); err != nil {
		return models.AlgoliaCredentials{}, err
	}
	if creds.WriteKey, err = s.decryptField(stored.WriteKey); err != nil {
		return models.AlgoliaCredentials{}, err
	}
	if creds.AdminKey, err = s.decryptField(stored.AdminKey); err != nil {
		return models.AlgoliaCredentials{}, err
	}
	return creds, nil
}

func (s *Store) SetLocalCredentials(creds models.AlgoliaCredentials) error {
	var stored storedCredentials
	var err error
	if stored.AppID, err = s.encryptField(creds.AppID); err != nil {
		return err
	}
	if stored.WriteKey, err = s.encryptField(creds.WriteKey); err != nil {
		return err
	}
	if stored.AdminKey, err = s.encryptField(creds.AdminKey); err != nil {
		return err
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return err
	}
	return s.kv.Set(keyLocalCredentials, string(data))
}

func (s *Store) encryptField(value *string) (*string, error) {
	if value == nil {
		return nil, nil
	}
	enc, err := s.vault.Encrypt(*value)
	if err != nil {
		return nil, fmt.Errorf("could not encrypt credential field: %w", err)
	}
	return &enc, nil
}

func (s *Store) decryptField(value *string) (*string, error) {
	if value == nil {
		return nil, nil
	}
	dec, err := s.vault.Decrypt(*value)
	if err != nil {
		return nil, fmt.Errorf("could not decrypt credential field: %w", err)
	}
	return &dec, nil
}

// -- Search settings --

func (s *Store) SearchSettings() (models.SearchSettings, error) {
	raw, err := s.kv.Get(keySearchSettings)
	if err != nil {
		if tkv.IsErrKeyNotFound(err) {
			return models.SearchSettings{SearchableSites: []string{}}, nil
		}
		return models.SearchSettings{}, err
	}

	var settings models.SearchSettings
	if err := json.Unmarshal([]byte(raw), &settings); err != nil {
		return models.SearchSettings{}, &ErrCorruptRecord{Key: keySearchSettings, Reason: err.Error()}
	}
	if settings.SearchableSites == nil {
		settings.SearchableSites = []string{}
	}
	return settings, nil
}

func (s *Store) SetSearchSettings(settings models.SearchSettings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	return s.kv.Set(keySearchSettings, string(data))
}

// -- Operational --

// Keys lists persisted state keys by prefix. Values are never included;
// several of them hold ciphertext and none are needed for inspection.
func (s *Store) Keys(prefix string, offset, limit int) ([]string, error) {
	if prefix == "" {
		prefix = KeyPrefix
	}
	return s.kv.Iterate(prefix, offset, limit)
}

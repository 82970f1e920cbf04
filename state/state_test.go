package state

import (
	"io"
	"log/slog"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onesearch-labs/onesearchd/db/tkv"
	"github.com/onesearch-labs/onesearchd/models"
	"github.com/onesearch-labs/onesearchd/secrets"
)

// memKV is an in-memory TKV for tests; the badger-backed implementation
// is covered in db/tkv.
type memKV struct {
	values map[string]string
}

func newMemKV() *memKV {
	return &memKV{values: map[string]string{}}
}

func (m *memKV) Get(key string) (string, error) {
	v, ok := m.values[key]
	if !ok {
		return "", &tkv.ErrKeyNotFound{Key: key}
	}
	return v, nil
}

func (m *memKV) Set(key string, value string) error {
	m.values[key] = value
	return nil
}

func (m *memKV) Delete(key string) error {
	delete(m.values, key)
	return nil
}

func (m *memKV) Iterate(prefix string, offset int, limit int) ([]string, error) {
	var keys []string
	for k := range m.values {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if offset > len(keys) {
		offset = len(keys)
	}
	keys = keys[offset:]
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	return keys, nil
}

func (m *memKV) Close() error { return nil }

var _ tkv.TKV = &memKV{}

func testStore(t *testing.T) (*Store, *memKV) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	kv := newMemKV()
	vault := secrets.New(secrets.Config{Logger: logger, Secret: "test-secret", Salt: "test-salt"})
	return New(logger, kv, vault), kv
}

func strptr(s string) *string { return &s }

func TestRoleLifecycle(t *testing.T) {
	st, _ := testStore(t)

	role, err := st.Role()
	require.NoError(t, err)
	assert.Equal(t, models.RoleUnset, role)

	require.NoError(t, st.SetRole(models.RoleGoverning))

	role, err = st.Role()
	require.NoError(t, err)
	assert.Equal(t, models.RoleGoverning, role)

	// Idempotent re-set of the same role is fine.
	require.NoError(t, st.SetRole(models.RoleGoverning))

	// Silent role changes are rejected at the storage layer.
	err = st.SetRole(models.RoleBrand)
	var alreadySet *ErrRoleAlreadySet
	require.ErrorAs(t, err, &alreadySet)
	assert.Equal(t, models.RoleGoverning, alreadySet.Current)
}

func TestSetRoleRejectsInvalid(t *testing.T) {
	st, _ := testStore(t)
	require.Error(t, st.SetRole(models.SiteRole("overlord")))
	require.Error(t, st.SetRole(models.RoleUnset))
}

func TestRoleCorruptRecord(t *testing.T) {
	st, kv := testStore(t)
	require.NoError(t, kv.Set("onesearch:site_role", "not-a-role"))

	_, err := st.Role()
	var corrupt *ErrCorruptRecord
	require.ErrorAs(t, err, &corrupt)
}

func TestSitesRoundTripEncryptsKeysAtRest(t *testing.T) {
	st, kv := testStore(t)

	sites := []models.BrandSite{
		{ID: "1", Name: "Alpha", URL: "https://alpha.example/", APIKey: "osk_alpha_secret"},
		{ID: "2", Name: "Beta", URL: "https://beta.example/", APIKey: "osk_beta_secret"},
	}
	require.NoError(t, st.SetSites(sites))

	got, err := st.Sites()
	require.NoError(t, err)
	assert.Equal(t, sites, got)

	// The persisted blob must not contain plaintext API keys.
	raw, err := kv.Get("onesearch:brand_sites")
	require.NoError(t, err)
	assert.NotContains(t, raw, "osk_alpha_secret")
	assert.NotContains(t, raw, "osk_beta_secret")
	assert.Contains(t, raw, "alpha.example", "urls are stored in the clear")
}

func TestSitesEmptyByDefault(t *testing.T) {
	st, _ := testStore(t)
	sites, err := st.Sites()
	require.NoError(t, err)
	assert.Empty(t, sites)
}

func TestSitesCorruptRecord(t *testing.T) {
	st, kv := testStore(t)
	require.NoError(t, kv.Set("onesearch:brand_sites", "{{{not json"))

	_, err := st.Sites()
	var corrupt *ErrCorruptRecord
	require.ErrorAs(t, err, &corrupt)
}

func TestSharedTokenRoundTrip(t *testing.T) {
	st, kv := testStore(t)

	token, err := st.SharedToken()
	require.NoError(t, err)
	assert.Empty(t, token)

	require.NoError(t, st.SetSharedToken("osk_token_value"))

	token, err = st.SharedToken()
	require.NoError(t, err)
	assert.Equal(t, "osk_token_value", token)

	raw, err := kv.Get("onesearch:shared_token")
	require.NoError(t, err)
	assert.NotContains(t, raw, "osk_token_value")

	// Clearing removes the record entirely.
	require.NoError(t, st.SetSharedToken(""))
	token, err = st.SharedToken()
	require.NoError(t, err)
	assert.Empty(t, token)
}

func TestLocalCredentialsRoundTrip(t *testing.T) {
	st, kv := testStore(t)

	// Unset state is fully null credentials.
	creds, err := st.LocalCredentials()
	require.NoError(t, err)
	assert.True(t, creds.IsNull())

	stored := models.AlgoliaCredentials{
		AppID:    strptr("APP123"),
		WriteKey: strptr("write-key-value"),
		AdminKey: nil,
	}
	require.NoError(t, st.SetLocalCredentials(stored))

	creds, err = st.LocalCredentials()
	require.NoError(t, err)
	assert.Equal(t, stored, creds)

	raw, err := kv.Get("onesearch:local_credentials")
	require.NoError(t, err)
	assert.NotContains(t, raw, "write-key-value")
}

func TestSearchSettingsRoundTrip(t *testing.T) {
	st, _ := testStore(t)

	settings, err := st.SearchSettings()
	require.NoError(t, err)
	assert.True(t, settings.IsZero())
	assert.NotNil(t, settings.SearchableSites)

	want := models.SearchSettings{
		AlgoliaEnabled:  true,
		SearchableSites: []string{"https://alpha.example/", "https://beta.example/"},
	}
	require.NoError(t, st.SetSearchSettings(want))

	settings, err = st.SearchSettings()
	require.NoError(t, err)
	assert.Equal(t, want, settings)
}

func TestKeysListing(t *testing.T) {
	st, _ := testStore(t)

	require.NoError(t, st.SetRole(models.RoleBrand))
	require.NoError(t, st.SetSharedToken("tok"))
	require.NoError(t, st.SetGoverningURL("https://gov.example/"))

	keys, err := st.Keys("", 0, 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"onesearch:site_role",
		"onesearch:shared_token",
		"onesearch:governing_url",
	}, keys)
}

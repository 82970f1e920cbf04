package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "onesearch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0600))
	return path
}

const minimalConfig = `
httpBinding: "127.0.0.1:8420"
publicURL: "https://node.example/"
dataDir: "data/onesearch"
adminToken: "admin-token"
`

func TestLoadConfigMinimal(t *testing.T) {
	path := writeTempConfig(t, minimalConfig)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8420", cfg.HttpBinding)
	assert.Equal(t, "https://node.example/", cfg.PublicURL)
	assert.Equal(t, "data/onesearch", cfg.DataDir)
	assert.Equal(t, "admin-token", cfg.AdminToken)

	// Unset values pick up the protocol defaults.
	assert.Equal(t, DefaultCredentialsTTL, cfg.Cache.Credentials)
	assert.Equal(t, DefaultSearchableSitesTTL, cfg.Cache.SearchableSites)
	assert.Equal(t, DefaultSearchSettingsTTL, cfg.Cache.SearchSettings)
	assert.Equal(t, DefaultPeerTimeout, cfg.PeerTimeout)
	assert.Equal(t, 50.0, cfg.RateLimiters.Peer.Limit)
	assert.Equal(t, 25.0, cfg.RateLimiters.Admin.Limit)
	assert.Equal(t, 100.0, cfg.RateLimiters.Default.Limit)
}

func TestLoadConfigOverrides(t *testing.T) {
	path := writeTempConfig(t, minimalConfig+`
cache:
  credentials: 48h
  searchableSites: 30m
peerTimeout: 5s
rateLimiters:
  peer:
    limit: 10
    burst: 20
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 48*time.Hour, cfg.Cache.Credentials)
	assert.Equal(t, 30*time.Minute, cfg.Cache.SearchableSites)
	assert.Equal(t, DefaultSearchSettingsTTL, cfg.Cache.SearchSettings)
	assert.Equal(t, 5*time.Second, cfg.PeerTimeout)
	assert.Equal(t, RateLimiterConfig{Limit: 10, Burst: 20}, cfg.RateLimiters.Peer)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.ErrorIs(t, err, ErrConfigFileUnreadable)
}

func TestLoadConfigBadYaml(t *testing.T) {
	path := writeTempConfig(t, "httpBinding: [unclosed")
	_, err := LoadConfig(path)
	require.ErrorIs(t, err, ErrConfigFileUnmarshallable)
}

func TestLoadConfigRequiredFields(t *testing.T) {
	cases := []struct {
		name    string
		yaml    string
		wantErr error
	}{
		{
			name: "missing httpBinding",
			yaml: `
publicURL: "https://node.example/"
dataDir: "data"
adminToken: "t"
`,
			wantErr: ErrHttpBindingMissing,
		},
		{
			name: "missing publicURL",
			yaml: `
httpBinding: "127.0.0.1:8420"
dataDir: "data"
adminToken: "t"
`,
			wantErr: ErrPublicURLMissing,
		},
		{
			name: "missing dataDir",
			yaml: `
httpBinding: "127.0.0.1:8420"
publicURL: "https://node.example/"
adminToken: "t"
`,
			wantErr: ErrDataDirMissing,
		},
		{
			name: "missing adminToken",
			yaml: `
httpBinding: "127.0.0.1:8420"
publicURL: "https://node.example/"
dataDir: "data"
`,
			wantErr: ErrAdminTokenMissing,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeTempConfig(t, tc.yaml)
			_, err := LoadConfig(path)
			require.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestLoadConfigTLSMustBeComplete(t *testing.T) {
	path := writeTempConfig(t, minimalConfig+`
tls:
  cert: "server.crt"
`)
	_, err := LoadConfig(path)
	require.ErrorIs(t, err, ErrTLSMissing)

	path = writeTempConfig(t, minimalConfig+`
tls:
  key: "server.key"
`)
	_, err = LoadConfig(path)
	require.ErrorIs(t, err, ErrTLSMissing)

	path = writeTempConfig(t, minimalConfig+`
tls:
  cert: "server.crt"
  key: "server.key"
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, TLS{Cert: "server.crt", Key: "server.key"}, cfg.TLS)
}

func TestGenerateConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "generated.yaml")
	require.NoError(t, WriteConfig(GenerateConfig(), path))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.HttpBinding)
	assert.NotEmpty(t, cfg.AdminToken)
	assert.Equal(t, DefaultCredentialsTTL, cfg.Cache.Credentials)
}

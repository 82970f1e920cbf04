package secrets

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	store := New(Config{
		Logger: testLogger(),
		Secret: "test-secret",
		Salt:   "test-salt",
	})

	for _, plaintext := range []string{
		"a",
		"an api key with spaces",
		"osk_0d1c9a8f-6f11-4c7b-a2de-000000000000",
		"unicode: héllo wörld 日本語",
	} {
		encrypted, err := store.Encrypt(plaintext)
		require.NoError(t, err)
		require.NotEqual(t, plaintext, encrypted)

		decrypted, err := store.Decrypt(encrypted)
		require.NoError(t, err)
		assert.Equal(t, plaintext, decrypted)
	}
}

func TestEncryptUsesFreshNonce(t *testing.T) {
	store := New(Config{Logger: testLogger(), Secret: "s", Salt: "x"})

	first, err := store.Encrypt("same plaintext")
	require.NoError(t, err)
	second, err := store.Encrypt("same plaintext")
	require.NoError(t, err)

	assert.NotEqual(t, first, second, "two encryptions of the same plaintext must differ")
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	alice := New(Config{Logger: testLogger(), Secret: "alice-secret", Salt: "shared-salt"})
	mallory := New(Config{Logger: testLogger(), Secret: "mallory-secret", Salt: "shared-salt"})

	encrypted, err := alice.Encrypt("credential value")
	require.NoError(t, err)

	_, err = mallory.Decrypt(encrypted)
	require.Error(t, err)

	var decryptErr *ErrDecryptFailed
	require.ErrorAs(t, err, &decryptErr, "wrong key must yield ErrDecryptFailed, never garbage plaintext")
}

func TestDecryptWithWrongSaltFails(t *testing.T) {
	alice := New(Config{Logger: testLogger(), Secret: "shared-secret", Salt: "alice-salt"})
	bob := New(Config{Logger: testLogger(), Secret: "shared-secret", Salt: "bob-salt"})

	encrypted, err := alice.Encrypt("credential value")
	require.NoError(t, err)

	_, err = bob.Decrypt(encrypted)
	var decryptErr *ErrDecryptFailed
	require.ErrorAs(t, err, &decryptErr)
}

func TestDecryptTamperedCiphertextFails(t *testing.T) {
	store := New(Config{Logger: testLogger(), Secret: "s", Salt: "salt"})

	encrypted, err := store.Encrypt("tamper target")
	require.NoError(t, err)

	// Flip a character in the base64 payload.
	tampered := []byte(encrypted)
	mid := len(tampered) / 2
	if tampered[mid] == 'A' {
		tampered[mid] = 'B'
	} else {
		tampered[mid] = 'A'
	}

	_, err = store.Decrypt(string(tampered))
	require.Error(t, err)
}

func TestDecryptGarbageInputFails(t *testing.T) {
	store := New(Config{Logger: testLogger(), Secret: "s", Salt: "salt"})

	for _, input := range []string{"", "not base64 !!!", "c2hvcnQ="} {
		_, err := store.Decrypt(input)
		var decryptErr *ErrDecryptFailed
		require.ErrorAs(t, err, &decryptErr, "input %q", input)
	}
}

func TestInsecureDefaultsFlag(t *testing.T) {
	configured := New(Config{Logger: testLogger(), Secret: "s", Salt: "x"})
	assert.False(t, configured.InsecureDefaults())

	missingSecret := New(Config{Logger: testLogger(), Salt: "x"})
	assert.True(t, missingSecret.InsecureDefaults())

	missingSalt := New(Config{Logger: testLogger(), Secret: "s"})
	assert.True(t, missingSalt.InsecureDefaults())

	// The fallback still round-trips; it is flagged, not broken.
	fallback := New(Config{Logger: testLogger()})
	assert.True(t, fallback.InsecureDefaults())
	encrypted, err := fallback.Encrypt("value")
	require.NoError(t, err)
	decrypted, err := fallback.Decrypt(encrypted)
	require.NoError(t, err)
	assert.Equal(t, "value", decrypted)
}

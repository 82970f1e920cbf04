package secrets

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/chacha20"
)

/*
	At-rest encryption for credentials and shared tokens.

	The scheme is a stream cipher with a per-call random nonce, emitted as
	base64(nonce || ciphertext). The plaintext is suffixed with a fixed
	salt before encryption; decryption only accepts output that still ends
	with that salt. The salt check substitutes for an authenticated mode:
	a wrong key or tampered ciphertext yields a failure, never garbage
	plaintext.
*/

// Hardcoded fallbacks for when the site-wide secrets are not configured.
// Using these is an insecure-default condition and is flagged at startup.
const (
	fallbackSecret = "onesearch-default-secret-do-not-ship"
	fallbackSalt   = "onesearch-default-salt-do-not-ship"
)

// ErrDecryptFailed is returned when a ciphertext cannot be decrypted to a
// salt-verified plaintext. The held value must be treated as unusable.
type ErrDecryptFailed struct {
	Reason string
}

func (e *ErrDecryptFailed) Error() string {
	return fmt.Sprintf("decrypt failed: %s", e.Reason)
}

type Config struct {
	Logger *slog.Logger

	// Site-wide values. Either may be empty, in which case the hardcoded
	// fallback is used and InsecureDefaults() reports true.
	Secret string
	Salt   string
}

type Store struct {
	logger   *slog.Logger
	key      [32]byte
	salt     []byte
	insecure bool
}

func New(config Config) *Store {
	logger := config.Logger.WithGroup("secrets")

	insecure := false
	secret := config.Secret
	if secret == "" {
		secret = fallbackSecret
		insecure = true
	}
	salt := config.Salt
	if salt == "" {
		salt = fallbackSalt
		insecure = true
	}

	if insecure {
		logger.Warn(
			"site secret or salt not configured - falling back to hardcoded defaults",
			"impact", "values encrypted at rest are NOT protected",
		)
	}

	return &Store{
		logger:   logger,
		key:      sha256.Sum256([]byte(secret)),
		salt:     []byte(salt),
		insecure: insecure,
	}
}

// InsecureDefaults reports whether the store is running on the hardcoded
// fallback key material.
func (s *Store) InsecureDefaults() bool {
	return s.insecure
}

func (s *Store) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, chacha20.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("could not generate nonce: %w", err)
	}

	cipher, err := chacha20.NewUnauthenticatedCipher(s.key[:], nonce)
	if err != nil {
		return "", fmt.Errorf("could not create cipher: %w", err)
	}

	salted := append([]byte(plaintext), s.salt...)
	ciphertext := make([]byte, len(salted))
	cipher.XORKeyStream(ciphertext, salted)

	out := make([]byte, 0, len(nonce)+len(ciphertext))
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	return base64.StdEncoding.EncodeToString(out), nil
}

func (s *Store) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", &ErrDecryptFailed{Reason: "not valid base64"}
	}

	if len(raw) < chacha20.NonceSizeX+len(s.salt) {
		return "", &ErrDecryptFailed{Reason: "ciphertext too short"}
	}

	nonce, ciphertext := raw[:chacha20.NonceSizeX], raw[chacha20.NonceSizeX:]

	cipher, err := chacha20.NewUnauthenticatedCipher(s.key[:], nonce)
	if err != nil {
		return "", &ErrDecryptFailed{Reason: "could not create cipher"}
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.XORKeyStream(plaintext, ciphertext)

	if !bytes.HasSuffix(plaintext, s.salt) {
		// Wrong key, wrong salt, or tampered data. Do not hand back
		// whatever the stream produced.
		return "", &ErrDecryptFailed{Reason: "integrity check failed"}
	}

	return string(plaintext[:len(plaintext)-len(s.salt)]), nil
}

package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/onesearch-labs/onesearchd/models"
)

/*
	The gate in front of the proxy endpoints. One stateless check per
	request: an authenticated administrator of a governing node passes
	outright; anyone else must present a shared token matching one of the
	node's accepted tokens. Comparison is constant-time and tokens are
	never logged.
*/

// ErrInvalidAPIKey is the single rejection the gate produces. No retry
// semantics; the caller either has a valid token or it does not.
type ErrInvalidAPIKey struct{}

func (e *ErrInvalidAPIKey) Error() string {
	return fmt.Sprintf("unauthorized: %s", models.CodeInvalidAPIKey)
}

// RoleSource reports the node's current role.
type RoleSource func() (models.SiteRole, error)

// TokenSource lists the shared tokens this node accepts. On a governing
// node that is every registered brand site's API key; on a brand node it
// is the node's own shared token.
type TokenSource func() ([]string, error)

// AdminAuthenticator decides whether a request carries an authenticated
// administrator of this node.
type AdminAuthenticator interface {
	IsAdmin(r *http.Request) bool
}

// AdminTokenAuthenticator accepts requests bearing the configured admin
// token in the Authorization header.
type AdminTokenAuthenticator struct {
	token string
}

func NewAdminTokenAuthenticator(token string) *AdminTokenAuthenticator {
	return &AdminTokenAuthenticator{token: token}
}

func (a *AdminTokenAuthenticator) IsAdmin(r *http.Request) bool {
	if a.token == "" {
		return false
	}
	return TokensEqual(r.Header.Get("Authorization"), a.token)
}

type Gate struct {
	logger *slog.Logger
	role   RoleSource
	tokens TokenSource
	admin  AdminAuthenticator
}

func NewGate(logger *slog.Logger, role RoleSource, tokens TokenSource, admin AdminAuthenticator) *Gate {
	return &Gate{
		logger: logger.WithGroup("auth"),
		role:   role,
		tokens: tokens,
		admin:  admin,
	}
}

// RequestToken pulls the shared token from a request, preferring the
// legacy header name for compatibility with existing peers.
func RequestToken(r *http.Request) string {
	if token := r.Header.Get(models.HeaderTokenLegacy); token != "" {
		return token
	}
	return r.Header.Get(models.HeaderToken)
}

// Authorize admits a request or returns *ErrInvalidAPIKey. Admin callers
// on a governing node pass regardless of token.
func (g *Gate) Authorize(r *http.Request) error {
	role, err := g.role()
	if err != nil {
		return err
	}

	if role == models.RoleGoverning && g.admin != nil && g.admin.IsAdmin(r) {
		return nil
	}

	presented := RequestToken(r)
	if presented == "" {
		g.logger.Warn("request missing shared token", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
		return &ErrInvalidAPIKey{}
	}

	accepted, err := g.tokens()
	if err != nil {
		return err
	}

	for _, token := range accepted {
		if token == "" {
			continue
		}
		if TokensEqual(presented, token) {
			return nil
		}
	}

	g.logger.Warn("shared token mismatch", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
	return &ErrInvalidAPIKey{}
}

// TokensEqual compares in constant time. Hashing first means length
// differences do not leak through the comparison either.
func TokensEqual(a, b string) bool {
	ha := sha256.Sum256([]byte(a))
	hb := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(ha[:], hb[:]) == 1
}

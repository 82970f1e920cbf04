package peer

import (
	"errors"
	"fmt"
)

// ErrAlreadyConnected is the distinct handshake conflict: the candidate
// site is already paired with a different governing site. Callers must
// surface this code as-is, never folded into a generic failure.
var ErrAlreadyConnected = errors.New("site is already connected to another governing site")

// ErrHandshakeFailed is any other health-check failure: unreachable,
// non-200, or a success:false body without the conflict code.
type ErrHandshakeFailed struct {
	Status  int
	Code    string
	Message string
}

func (e *ErrHandshakeFailed) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("handshake failed (status %d, code '%s'): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("handshake failed (status %d, code '%s')", e.Status, e.Code)
}

// ErrFailedToConnect is a proxy fetch that reached the governing site but
// got a non-200 back. Status and body are carried for the caller; the
// caller decides how to degrade.
type ErrFailedToConnect struct {
	Status int
	Body   string
}

func (e *ErrFailedToConnect) Error() string {
	return fmt.Sprintf("failed to connect to governing site (status %d): %s", e.Status, e.Body)
}

// ErrInvalidResponse is a 200 whose body is not a JSON object.
type ErrInvalidResponse struct {
	Reason string
}

func (e *ErrInvalidResponse) Error() string {
	return fmt.Sprintf("invalid response from governing site: %s", e.Reason)
}

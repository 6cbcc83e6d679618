package backend

import (
	"fmt"
	"net/http"
	"strings"

	"NudgeAgent/internal/domain"
)

// Error is a non-2xx response from the remote API. It unwraps to the
// domain sentinel for its class.
type Error struct {
	Op      string
	Status  int
	Message string
	kind    error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend %s: status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("backend %s: status %d: %s", e.Op, e.Status, e.Message)
}

func (e *Error) Unwrap() error { return e.kind }

func classify(op string, status int, body string) *Error {
	msg := strings.TrimSpace(body)
	return &Error{Op: op, Status: status, Message: msg, kind: kindFor(status, msg)}
}

func kindFor(status int, msg string) error {
	switch status {
	case http.StatusBadRequest:
		lower := strings.ToLower(msg)
		switch {
		case strings.Contains(lower, "could not find user"):
			return domain.ErrUserNotFound
		case strings.Contains(lower, "not friends"):
			return domain.ErrNotFriends
		default:
			return domain.ErrValidation
		}
	case http.StatusUnauthorized, http.StatusForbidden:
		return domain.ErrUnauthenticated
	case http.StatusTooManyRequests:
		return domain.ErrRateLimited
	default:
		return domain.ErrServer
	}
}

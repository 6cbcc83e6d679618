package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrNotFound         = errors.New("not_found")
	ErrValidation       = errors.New("validation")
	ErrFriendExists     = errors.New("friend_exists")
	ErrNoSession        = errors.New("no_session")
	ErrUnauthenticated  = errors.New("unauthenticated")
	ErrUserNotFound     = errors.New("user_not_found")
	ErrNotFriends       = errors.New("not_friends")
	ErrRateLimited      = errors.New("rate_limited")
	ErrTransient        = errors.New("transient")
	ErrServer           = errors.New("server_error")
	ErrQueued           = errors.New("queued")
	ErrMisrouted        = errors.New("misrouted")
	ErrCanceled         = errors.New("canceled")
	ErrInvalidSignature = errors.New("invalid_signature")
)

type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func NewValidationError(fields map[string]string) error {
	return &ValidationError{Fields: fields}
}

// FailureKind is the user-facing class of a failed outbound operation.
type FailureKind string

const (
	FailureNone         FailureKind = ""
	FailureAuth         FailureKind = "auth"
	FailureUserNotFound FailureKind = "user_not_found"
	FailureNotFriends   FailureKind = "not_friends"
	FailureValidation   FailureKind = "validation"
	FailureRateLimited  FailureKind = "rate_limited"
	FailureCanceled     FailureKind = "canceled"
	FailureInterrupted  FailureKind = "interrupted"
	FailureGeneric      FailureKind = "generic"
)

// FailureFor classifies any error returned by the backend client or the
// send pipeline. Unknown errors are generic.
func FailureFor(err error) FailureKind {
	switch {
	case err == nil:
		return FailureNone
	case errors.Is(err, ErrNoSession), errors.Is(err, ErrUnauthenticated):
		return FailureAuth
	case errors.Is(err, ErrUserNotFound):
		return FailureUserNotFound
	case errors.Is(err, ErrNotFriends):
		return FailureNotFriends
	case errors.Is(err, ErrRateLimited):
		return FailureRateLimited
	case errors.Is(err, ErrCanceled):
		return FailureCanceled
	case errors.Is(err, ErrValidation):
		return FailureValidation
	default:
		return FailureGeneric
	}
}

// Definitive reports whether retrying the same request can never succeed.
func (k FailureKind) Definitive() bool {
	switch k {
	case FailureUserNotFound, FailureNotFriends, FailureValidation:
		return true
	}
	return false
}

// Message renders the user-visible text for a failed alert to friend.
func (k FailureKind) Message(friend string) string {
	if friend == "" {
		friend = "your friend"
	}
	switch k {
	case FailureAuth:
		return "Sign in again to send alerts to " + friend + "."
	case FailureUserNotFound:
		return "Could not send to " + friend + ": that user does not exist."
	case FailureNotFriends:
		return "Could not send to " + friend + ": you are not friends anymore."
	case FailureValidation:
		return "Could not send to " + friend + ": the request was rejected."
	case FailureRateLimited:
		return "Too many alerts. Try " + friend + " again later."
	case FailureCanceled:
		return "Alert to " + friend + " was canceled."
	case FailureInterrupted:
		return "Alert to " + friend + " was interrupted before it was sent."
	default:
		return "Could not send alert to " + friend + ". Check your connection and try again."
	}
}

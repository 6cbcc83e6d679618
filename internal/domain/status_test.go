package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestMessageStatusCanAdvanceTo(t *testing.T) {
	cases := []struct {
		from, to MessageStatus
		want     bool
	}{
		{StatusNone, StatusSending, true},
		{StatusSending, StatusSent, true},
		{StatusSent, StatusDelivered, true},
		{StatusSent, StatusRead, true},
		{StatusDelivered, StatusRead, true},
		{StatusRead, StatusDelivered, false},
		{StatusRead, StatusSent, false},
		{StatusDelivered, StatusSent, false},
		{StatusDelivered, StatusDelivered, false},
		{StatusSending, StatusError, true},
		{StatusSent, StatusError, true},
		{StatusDelivered, StatusError, true},
		{StatusRead, StatusError, false},
		{StatusError, StatusError, false},
		{StatusError, StatusSending, true},
		{StatusSent, StatusNone, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanAdvanceTo(tc.to); got != tc.want {
			t.Fatalf("%q -> %q: got %v want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestFailureForClassifiesWrappedErrors(t *testing.T) {
	cases := []struct {
		err  error
		want FailureKind
	}{
		{fmt.Errorf("send alert: %w", ErrUserNotFound), FailureUserNotFound},
		{fmt.Errorf("send alert: %w", ErrUnauthenticated), FailureAuth},
		{ErrNoSession, FailureAuth},
		{ErrRateLimited, FailureRateLimited},
		{errors.Join(ErrTransient, errors.New("dial")), FailureGeneric},
		{NewValidationError(map[string]string{"x": "y"}), FailureValidation},
	}
	for _, tc := range cases {
		if got := FailureFor(tc.err); got != tc.want {
			t.Fatalf("%v: got %q want %q", tc.err, got, tc.want)
		}
	}
}

func TestFailureMessageNamesFriend(t *testing.T) {
	notFound := FailureUserNotFound.Message("bob")
	generic := FailureGeneric.Message("bob")
	if notFound == generic {
		t.Fatalf("expected distinct messages")
	}
	if !strings.Contains(notFound, "bob") || !strings.Contains(notFound, "does not exist") {
		t.Fatalf("unexpected message: %q", notFound)
	}
}

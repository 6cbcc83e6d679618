package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
	"google.golang.org/api/idtoken"
	"google.golang.org/api/option"
)

type ExternalTokenClaims struct {
	Issuer  string
	Subject string
	Email   string
}

// NewGoogleIDTokenSource mints Google-signed ID tokens for audience, used to
// reach a backend that sits behind Google identity-aware ingress.
func NewGoogleIDTokenSource(ctx context.Context, audience, credentialsFile string) (oauth2.TokenSource, error) {
	if strings.TrimSpace(audience) == "" {
		return nil, errors.New("missing id token audience")
	}
	var opts []option.ClientOption
	if strings.TrimSpace(credentialsFile) != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	ts, err := idtoken.NewTokenSource(ctx, audience, opts...)
	if err != nil {
		return nil, fmt.Errorf("google id token source: %w", err)
	}
	return ts, nil
}

// VerifyGoogleIDToken validates a Google-signed token, such as the one a
// Pub/Sub push subscription attaches to webhook calls.
func VerifyGoogleIDToken(ctx context.Context, tokenString, expectedAud string) (*ExternalTokenClaims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, errors.New("missing id token")
	}
	if strings.TrimSpace(expectedAud) == "" {
		return nil, errors.New("missing id token audience")
	}

	payload, err := idtoken.Validate(ctx, tokenString, expectedAud)
	if err != nil {
		return nil, err
	}
	if payload.Issuer != "accounts.google.com" && payload.Issuer != "https://accounts.google.com" {
		return nil, fmt.Errorf("unexpected issuer: %s", payload.Issuer)
	}

	email := ""
	if raw, ok := payload.Claims["email"]; ok {
		if v, ok := raw.(string); ok {
			email = v
		}
	}

	return &ExternalTokenClaims{
		Issuer:  payload.Issuer,
		Subject: payload.Subject,
		Email:   strings.TrimSpace(strings.ToLower(email)),
	}, nil
}

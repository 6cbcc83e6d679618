package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
)

const (
	SignatureHeader = "X-Push-Signature"
	signaturePrefix = "sha256="
)

// WebhookVerifier checks HMAC-SHA256 signatures on push webhook bodies.
type WebhookVerifier struct {
	secret []byte
}

func NewWebhookVerifier(secret []byte) WebhookVerifier {
	secretCopy := make([]byte, len(secret))
	copy(secretCopy, secret)
	return WebhookVerifier{secret: secretCopy}
}

func (v WebhookVerifier) Enabled() bool {
	return len(v.secret) > 0
}

// Sign returns the header value for body.
func (v WebhookVerifier) Sign(body []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	_, _ = mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

func (v WebhookVerifier) Verify(header string, body []byte) bool {
	if !v.Enabled() {
		return true
	}
	sigHex, ok := strings.CutPrefix(strings.TrimSpace(header), signaturePrefix)
	if !ok || sigHex == "" {
		return false
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil || len(sig) != sha256.Size {
		return false
	}
	mac := hmac.New(sha256.New, v.secret)
	_, _ = mac.Write(body)
	return hmac.Equal(sig, mac.Sum(nil))
}

// BearerToken extracts the token from an Authorization header.
func BearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

// TokenMatches compares tokens in constant time.
func TokenMatches(got, want string) bool {
	if got == "" || want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

package httpapi

import (
	"net"
	"net/http"
	"strings"

	"NudgeAgent/internal/auth"
	"NudgeAgent/internal/domain"
)

// requireToken checks the local API bearer token. Websocket clients that
// cannot set headers may pass it as access_token.
func (a *api) requireToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.apiToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		got := auth.BearerToken(r)
		if got == "" {
			got = strings.TrimSpace(r.URL.Query().Get("access_token"))
		}
		if !auth.TokenMatches(got, a.apiToken) {
			WriteDomainError(w, domain.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	}
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

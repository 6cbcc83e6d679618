package auth

import (
	"sync"

	"NudgeAgent/internal/domain"

	"golang.org/x/oauth2"
)

// Session holds the signed-in identity and its bearer token. It is an
// oauth2.TokenSource that fails with domain.ErrNoSession while signed out.
type Session struct {
	mu       sync.RWMutex
	username string
	token    string
}

func (s *Session) Token() (*oauth2.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" {
		return nil, domain.ErrNoSession
	}
	return &oauth2.Token{AccessToken: s.token, TokenType: "Bearer"}, nil
}

func (s *Session) Set(username, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.username = username
	s.token = token
}

func (s *Session) Clear() {
	s.Set("", "")
}

func (s *Session) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

func (s *Session) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token != ""
}

package httpapi

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"NudgeAgent/internal/auth"
	"NudgeAgent/internal/dialog"
	"NudgeAgent/internal/domain"
	"NudgeAgent/internal/events"
	"NudgeAgent/internal/notifications"
	"NudgeAgent/internal/service"
	"NudgeAgent/internal/store/memory"
)

const testAPIToken = "local-token"

type stubBackend struct {
	mu    sync.Mutex
	reads []string

	addFriendFunc func(context.Context, string) (domain.RemoteFriend, error)
}

func (s *stubBackend) AddFriend(ctx context.Context, username string) (domain.RemoteFriend, error) {
	if s.addFriendFunc != nil {
		return s.addFriendFunc(ctx, username)
	}
	return domain.RemoteFriend{Username: username}, nil
}

func (s *stubBackend) DeleteFriend(context.Context, string, bool) error { return nil }

func (s *stubBackend) EditFriendName(context.Context, string, string) error { return nil }

func (s *stubBackend) GetName(context.Context, string) (string, error) {
	return "", domain.ErrUserNotFound
}

func (s *stubBackend) SendAlert(ctx context.Context, to, body string) (string, error) {
	return "alert-" + to, nil
}

func (s *stubBackend) RegisterDevice(context.Context, string) error { return nil }

func (s *stubBackend) UnregisterDevice(context.Context, string) error { return nil }

func (s *stubBackend) AlertDelivered(context.Context, string) error { return nil }

func (s *stubBackend) AlertRead(ctx context.Context, alertID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads = append(s.reads, alertID)
	return nil
}

func (s *stubBackend) GetUserInfo(context.Context) (domain.UserInfo, error) {
	return domain.UserInfo{}, domain.ErrTransient
}

func (s *stubBackend) RegisterUser(ctx context.Context, username, displayName, password string) (string, error) {
	return "token-" + username, nil
}

func (s *stubBackend) GetToken(ctx context.Context, username, password string) (string, error) {
	return "token-" + username, nil
}

type testStack struct {
	store   *memory.Store
	backend *stubBackend
	hub     *events.Hub
	queue   *dialog.Queue
	device  *notifications.ReportedDevice
	repo    *service.Repository
	sends   *service.SendWorker
	inbound *service.InboundRouter
	handler http.Handler
}

func newTestStack(t *testing.T, mutate func(*RouterOpts)) *testStack {
	t.Helper()
	s := &testStack{
		store:   memory.New(),
		backend: &stubBackend{},
		hub:     events.NewHub(64),
	}
	s.queue = dialog.NewQueue(nil)
	s.device = notifications.NewReportedDevice(s.hub)
	session := &auth.Session{}
	session.Set("me", "token-me")
	presenter := notifications.NewHubPresenter(s.hub, nil, nil)

	s.repo = &service.Repository{
		Friends:  s.store,
		Pending:  s.store,
		Cached:   s.store,
		Messages: s.store,
		Jobs:     s.store,
		Prefs:    s.store,
		Wiper:    s.store,
		Backend:  s.backend,
		Session:  session,
		Hub:      s.hub,
	}
	s.sends = &service.SendWorker{Repo: s.repo, Backend: s.backend, Dialog: s.queue, Presenter: presenter}
	s.repo.Sends = s.sends
	actions := &service.FriendActionWorker{Repo: s.repo, Dialog: s.queue}
	engine := &notifications.Engine{Device: s.device, Settings: s.repo, VibrateInterval: time.Millisecond}
	s.inbound = &service.InboundRouter{Repo: s.repo, Backend: s.backend, Engine: engine, Dialog: s.queue, Presenter: presenter}

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.sends.Start(ctx); err != nil {
		t.Fatalf("start send worker: %v", err)
	}
	actions.Start(ctx)
	s.inbound.Start(ctx)
	t.Cleanup(func() {
		s.sends.Close()
		actions.Close()
		s.inbound.Close()
		cancel()
	})

	opts := RouterOpts{
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		APIToken:  testAPIToken,
		Repo:      s.repo,
		Sends:     s.sends,
		Actions:   actions,
		Inbound:   s.inbound,
		Dialog:    s.queue,
		Device:    s.device,
		Presenter: presenter,
		Hub:       s.hub,
	}
	if mutate != nil {
		mutate(&opts)
	}
	s.handler = NewRouter(opts)
	return s
}

func (s *testStack) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Authorization", "Bearer "+testAPIToken)
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

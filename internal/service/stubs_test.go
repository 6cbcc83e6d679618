package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"NudgeAgent/internal/auth"
	"NudgeAgent/internal/dialog"
	"NudgeAgent/internal/domain"
	"NudgeAgent/internal/events"
	"NudgeAgent/internal/notifications"
	"NudgeAgent/internal/store/memory"
)

type stubBackend struct {
	mu    sync.Mutex
	calls map[string]int

	addFriendFunc      func(context.Context, string) (domain.RemoteFriend, error)
	deleteFriendFunc   func(context.Context, string, bool) error
	getNameFunc        func(context.Context, string) (string, error)
	sendAlertFunc      func(context.Context, string, string) (string, error)
	alertDeliveredFunc func(context.Context, string) error
	alertReadFunc      func(context.Context, string) error
	getUserInfoFunc    func(context.Context) (domain.UserInfo, error)
	getTokenFunc       func(context.Context, string, string) (string, error)
}

func (s *stubBackend) record(op string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	s.calls[op]++
}

func (s *stubBackend) count(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *stubBackend) AddFriend(ctx context.Context, username string) (domain.RemoteFriend, error) {
	s.record("add_friend")
	if s.addFriendFunc != nil {
		return s.addFriendFunc(ctx, username)
	}
	return domain.RemoteFriend{Username: username}, nil
}

func (s *stubBackend) DeleteFriend(ctx context.Context, username string, block bool) error {
	s.record("delete_friend")
	if s.deleteFriendFunc != nil {
		return s.deleteFriendFunc(ctx, username, block)
	}
	return nil
}

func (s *stubBackend) EditFriendName(ctx context.Context, username, displayName string) error {
	s.record("edit_friend_name")
	return nil
}

func (s *stubBackend) GetName(ctx context.Context, username string) (string, error) {
	s.record("get_name")
	if s.getNameFunc != nil {
		return s.getNameFunc(ctx, username)
	}
	return "", domain.ErrUserNotFound
}

func (s *stubBackend) SendAlert(ctx context.Context, to, body string) (string, error) {
	s.record("send_alert")
	if s.sendAlertFunc != nil {
		return s.sendAlertFunc(ctx, to, body)
	}
	return "alert-" + to, nil
}

func (s *stubBackend) RegisterDevice(ctx context.Context, token string) error {
	s.record("register_device")
	return nil
}

func (s *stubBackend) UnregisterDevice(ctx context.Context, token string) error {
	s.record("unregister_device")
	return nil
}

func (s *stubBackend) AlertDelivered(ctx context.Context, alertID string) error {
	s.record("alert_delivered")
	if s.alertDeliveredFunc != nil {
		return s.alertDeliveredFunc(ctx, alertID)
	}
	return nil
}

func (s *stubBackend) AlertRead(ctx context.Context, alertID string) error {
	s.record("alert_read")
	if s.alertReadFunc != nil {
		return s.alertReadFunc(ctx, alertID)
	}
	return nil
}

func (s *stubBackend) GetUserInfo(ctx context.Context) (domain.UserInfo, error) {
	s.record("get_user_info")
	if s.getUserInfoFunc != nil {
		return s.getUserInfoFunc(ctx)
	}
	return domain.UserInfo{}, domain.ErrTransient
}

func (s *stubBackend) RegisterUser(ctx context.Context, username, displayName, password string) (string, error) {
	s.record("register_user")
	return "token-" + username, nil
}

func (s *stubBackend) GetToken(ctx context.Context, username, password string) (string, error) {
	s.record("get_token")
	if s.getTokenFunc != nil {
		return s.getTokenFunc(ctx, username, password)
	}
	return "token-" + username, nil
}

type fakeDevice struct {
	mu           sync.Mutex
	state        notifications.DeviceState
	ringing      bool
	interruptErr error
}

func (d *fakeDevice) State(ctx context.Context) notifications.DeviceState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *fakeDevice) SetInterruptMode(ctx context.Context, mode notifications.InterruptMode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.interruptErr != nil {
		return d.interruptErr
	}
	d.state.Mode = mode
	return nil
}

func (d *fakeDevice) StartRinging(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ringing = true
	return nil
}

func (d *fakeDevice) StopRinging(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ringing = false
}

func (d *fakeDevice) Vibrate(ctx context.Context) error { return nil }

func (d *fakeDevice) isRinging() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ringing
}

type harness struct {
	store     *memory.Store
	backend   *stubBackend
	session   *auth.Session
	hub       *events.Hub
	queue     *dialog.Queue
	presenter *notifications.HubPresenter
	device    *fakeDevice
	repo      *Repository
	sends     *SendWorker
	actions   *FriendActionWorker
	inbound   *InboundRouter
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:   memory.New(),
		backend: &stubBackend{},
		session: &auth.Session{},
		hub:     events.NewHub(256),
		device:  &fakeDevice{state: notifications.DeviceState{Mode: notifications.ModeNormal, Foreground: true}},
	}
	h.queue = dialog.NewQueue(nil)
	h.presenter = notifications.NewHubPresenter(h.hub, nil, nil)

	ids := 0
	var idMu sync.Mutex
	h.repo = &Repository{
		Friends:  h.store,
		Pending:  h.store,
		Cached:   h.store,
		Messages: h.store,
		Jobs:     h.store,
		Prefs:    h.store,
		Wiper:    h.store,
		Backend:  h.backend,
		Session:  h.session,
		Dialog:   h.queue,
		Hub:      h.hub,
		Now:      func() time.Time { return testNow },
		NewID: func() string {
			idMu.Lock()
			defer idMu.Unlock()
			ids++
			return fmt.Sprintf("start-%d", ids)
		},
	}
	engine := &notifications.Engine{Device: h.device, Settings: h.repo, VibrateInterval: time.Millisecond}
	h.sends = &SendWorker{Repo: h.repo, Backend: h.backend, Dialog: h.queue, Presenter: h.presenter}
	h.repo.Sends = h.sends
	h.actions = &FriendActionWorker{Repo: h.repo, Dialog: h.queue}
	h.inbound = &InboundRouter{
		Repo:      h.repo,
		Backend:   h.backend,
		Engine:    engine,
		Dialog:    h.queue,
		Presenter: h.presenter,
	}
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	if err := h.sends.Start(ctx); err != nil {
		t.Fatalf("start send worker: %v", err)
	}
	h.actions.Start(ctx)
	h.inbound.Start(ctx)
	t.Cleanup(func() {
		h.sends.Close()
		h.actions.Close()
		h.inbound.Close()
		cancel()
	})
}

func (h *harness) signIn(username string) {
	h.session.Set(username, "token-"+username)
}

func (h *harness) addFriend(t *testing.T, username, displayName string) {
	t.Helper()
	if _, err := h.store.UpsertFriend(context.Background(), domain.RemoteFriend{Username: username, DisplayName: displayName}, testNow); err != nil {
		t.Fatalf("seed friend %s: %v", username, err)
	}
}

func (h *harness) friend(t *testing.T, username string) domain.Friend {
	t.Helper()
	f, err := h.store.GetFriend(context.Background(), username)
	if err != nil {
		t.Fatalf("get friend %s: %v", username, err)
	}
	return f
}

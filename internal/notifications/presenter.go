package notifications

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"NudgeAgent/internal/domain"
	"NudgeAgent/internal/events"
)

// Presenter shows and removes dismissible notifications.
type Presenter interface {
	Post(ctx context.Context, n domain.Notification) error
	Clear(ctx context.Context, id string) error
}

// NotificationID builds the stable id used to replace or clear a notification.
func NotificationID(kind domain.NotificationKind, key string) string {
	return string(kind) + ":" + key
}

// HubPresenter keeps the set of visible notifications and publishes every
// change on the hub. Forward, when set, receives the same calls.
type HubPresenter struct {
	Hub     *events.Hub
	Forward Presenter
	Logger  *slog.Logger

	mu     sync.Mutex
	posted map[string]domain.Notification
}

func NewHubPresenter(hub *events.Hub, forward Presenter, logger *slog.Logger) *HubPresenter {
	return &HubPresenter{Hub: hub, Forward: forward, Logger: logger, posted: make(map[string]domain.Notification)}
}

func (p *HubPresenter) Post(ctx context.Context, n domain.Notification) error {
	p.mu.Lock()
	if p.posted == nil {
		p.posted = make(map[string]domain.Notification)
	}
	p.posted[n.ID] = n
	p.mu.Unlock()

	p.Hub.Publish(events.TopicNotificationPosted, n)
	if p.Forward != nil {
		if err := p.Forward.Post(ctx, n); err != nil {
			p.logger().Warn("notifications: forward post failed", "err", err, "id", n.ID)
		}
	}
	return nil
}

func (p *HubPresenter) Clear(ctx context.Context, id string) error {
	p.mu.Lock()
	_, ok := p.posted[id]
	delete(p.posted, id)
	p.mu.Unlock()
	if !ok {
		return nil
	}

	p.Hub.Publish(events.TopicNotificationCleared, map[string]string{"id": id})
	if p.Forward != nil {
		if err := p.Forward.Clear(ctx, id); err != nil {
			p.logger().Warn("notifications: forward clear failed", "err", err, "id", id)
		}
	}
	return nil
}

// Posted returns the visible notifications, oldest first.
func (p *HubPresenter) Posted() []domain.Notification {
	p.mu.Lock()
	out := make([]domain.Notification, 0, len(p.posted))
	for _, n := range p.posted {
		out = append(out, n)
	}
	p.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// ClearAll removes every visible notification.
func (p *HubPresenter) ClearAll(ctx context.Context) {
	p.mu.Lock()
	ids := make([]string, 0, len(p.posted))
	for id := range p.posted {
		ids = append(ids, id)
	}
	p.mu.Unlock()
	for _, id := range ids {
		_ = p.Clear(ctx, id)
	}
}

func (p *HubPresenter) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

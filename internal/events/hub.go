package events

import (
	"sync"
	"time"
)

// Topics published by the agent.
const (
	TopicFriendUpdated       = "friend.updated"
	TopicFriendRemoved       = "friend.removed"
	TopicFriendsReconciled   = "friends.reconciled"
	TopicPendingChanged      = "pending.changed"
	TopicCachedChanged       = "cached.changed"
	TopicMessageAdded        = "message.added"
	TopicDialogChanged       = "dialog.changed"
	TopicNotificationPosted  = "notification.posted"
	TopicNotificationCleared = "notification.cleared"
	TopicSessionChanged      = "session.changed"
	TopicDeviceEffect        = "device.effect"
)

type Event struct {
	Seq       int64     `json:"seq"`
	Topic     string    `json:"topic"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Hub fans out change notifications to subscribers and keeps a bounded
// history so a reconnecting subscriber can catch up from a sequence number.
// A subscriber that falls behind its buffer is dropped.
type Hub struct {
	mu      sync.Mutex
	nextSeq int64
	limit   int
	history []Event
	subs    map[int]chan Event
	nextSub int
	now     func() time.Time
}

func NewHub(limit int) *Hub {
	if limit < 1 {
		limit = 1
	}
	return &Hub{
		limit: limit,
		subs:  make(map[int]chan Event),
		now:   time.Now,
	}
}

func (h *Hub) Publish(topic string, payload any) Event {
	if h == nil {
		return Event{}
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextSeq++
	event := Event{
		Seq:       h.nextSeq,
		Topic:     topic,
		Payload:   payload,
		Timestamp: h.now().UTC(),
	}
	h.history = append(h.history, event)
	if len(h.history) > h.limit {
		h.history = append([]Event(nil), h.history[len(h.history)-h.limit:]...)
	}

	for id, ch := range h.subs {
		select {
		case ch <- event:
		default:
			close(ch)
			delete(h.subs, id)
		}
	}
	return event
}

// Subscribe returns the retained events after fromSeq, a live channel and a
// cancel func. The channel is closed on cancel or when the subscriber lags.
func (h *Hub) Subscribe(fromSeq int64) ([]Event, <-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	replay := make([]Event, 0)
	for _, event := range h.history {
		if event.Seq > fromSeq {
			replay = append(replay, event)
		}
	}

	id := h.nextSub
	h.nextSub++
	ch := make(chan Event, 128)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[id]; ok {
			close(sub)
			delete(h.subs, id)
		}
	}
	return replay, ch, cancel
}

func (h *Hub) LastSeq() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.nextSeq
}

package push

import (
	"context"
	"errors"
	"testing"

	"NudgeAgent/internal/domain"

	"github.com/nats-io/nats.go"
)

type recordingHandler struct {
	events []domain.PushEvent
	err    error
}

func (h *recordingHandler) Handle(ctx context.Context, ev domain.PushEvent) error {
	h.events = append(h.events, ev)
	return h.err
}

func TestNATSHandleDecodesAndRoutes(t *testing.T) {
	rec := &recordingHandler{}
	s := &NATSSubscriber{events: rec, logger: discardLogger()}

	s.handle(context.Background(), &nats.Msg{Subject: "nudge.push", Data: []byte(`{"action":"alert","from":"amy","to":"me","alert_id":"a-1"}`)})
	s.handle(context.Background(), &nats.Msg{Subject: "nudge.push", Data: []byte(`garbage`)})

	if len(rec.events) != 1 {
		t.Fatalf("expected one routed event, got %d", len(rec.events))
	}
	if rec.events[0].AlertID != "a-1" || rec.events[0].To != "me" {
		t.Fatalf("unexpected event: %+v", rec.events[0])
	}
}

func TestNATSHandleSurvivesHandlerError(t *testing.T) {
	rec := &recordingHandler{err: errors.New("boom")}
	s := &NATSSubscriber{events: rec, logger: discardLogger()}

	s.handle(context.Background(), &nats.Msg{Data: []byte(`{"action":"read","from":"amy","alert_id":"a-1"}`)})
	if len(rec.events) != 1 {
		t.Fatalf("expected handler to be called, got %d", len(rec.events))
	}
}

func TestNewNATSSubscriberRequiresConfig(t *testing.T) {
	if _, err := NewNATSSubscriber(NATSConfig{Subject: "x"}, &recordingHandler{}, nil); err == nil {
		t.Fatalf("expected error without url")
	}
	if _, err := NewNATSSubscriber(NATSConfig{URL: "nats://127.0.0.1:4222"}, &recordingHandler{}, nil); err == nil {
		t.Fatalf("expected error without subject")
	}
}

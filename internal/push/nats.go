package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"NudgeAgent/internal/domain"

	"github.com/nats-io/nats.go"
)

// EventHandler applies one decoded push event.
type EventHandler interface {
	Handle(ctx context.Context, ev domain.PushEvent) error
}

type NATSConfig struct {
	URL           string
	Subject       string
	Queue         string
	Name          string
	ReconnectWait time.Duration
	Timeout       time.Duration
	// HandleTimeout bounds the work done for one message.
	HandleTimeout time.Duration
}

// NATSSubscriber feeds push events published on a NATS subject into an
// EventHandler. Delivery is at most once per publish; duplicates are
// absorbed downstream.
type NATSSubscriber struct {
	cfg    NATSConfig
	nc     *nats.Conn
	sub    *nats.Subscription
	events EventHandler
	logger *slog.Logger
}

func NewNATSSubscriber(cfg NATSConfig, events EventHandler, logger *slog.Logger) (*NATSSubscriber, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("nats url missing")
	}
	if strings.TrimSpace(cfg.Subject) == "" {
		return nil, errors.New("nats subject missing")
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 500 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.Name == "" {
		cfg.Name = "nudge-agent"
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &NATSSubscriber{cfg: cfg, events: events, logger: logger}
	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("push: nats disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("push: nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	s.nc = nc
	return s, nil
}

// Start subscribes. Messages are handled under ctx until Close.
func (s *NATSSubscriber) Start(ctx context.Context) error {
	cb := func(m *nats.Msg) { s.handle(ctx, m) }
	var (
		sub *nats.Subscription
		err error
	)
	if s.cfg.Queue != "" {
		sub, err = s.nc.QueueSubscribe(s.cfg.Subject, s.cfg.Queue, cb)
	} else {
		sub, err = s.nc.Subscribe(s.cfg.Subject, cb)
	}
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", s.cfg.Subject, err)
	}
	s.sub = sub
	s.logger.Info("push: nats subscribed", "subject", s.cfg.Subject, "queue", s.cfg.Queue)
	return nil
}

func (s *NATSSubscriber) Close() error {
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	if s.nc != nil {
		return s.nc.Drain()
	}
	return nil
}

func (s *NATSSubscriber) handle(ctx context.Context, m *nats.Msg) {
	if s.cfg.HandleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.HandleTimeout)
		defer cancel()
	}

	ev, err := DecodeJSON(m.Data)
	if err != nil {
		s.logger.Warn("push: malformed nats message dropped", "err", err, "subject", m.Subject)
		s.reply(m, "invalid")
		return
	}
	if err := s.events.Handle(ctx, ev); err != nil {
		s.logger.Warn("push: nats event failed", "err", err, "action", ev.Action, "alert_id", ev.AlertID)
		s.reply(m, "error")
		return
	}
	s.reply(m, "ok")
}

func (s *NATSSubscriber) reply(m *nats.Msg, status string) {
	if m.Reply == "" || s.nc == nil {
		return
	}
	if err := s.nc.Publish(m.Reply, []byte(status)); err != nil {
		s.logger.Debug("push: nats reply failed", "err", err)
	}
}

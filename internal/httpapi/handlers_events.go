package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"NudgeAgent/internal/domain"

	"github.com/gorilla/websocket"
)

const (
	eventsWriteWait  = 10 * time.Second
	eventsPongWait   = 60 * time.Second
	eventsPingPeriod = eventsPongWait * 9 / 10
)

var eventsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The bearer token already gates this endpoint.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type eventsHello struct {
	Topic   string `json:"topic"`
	LastSeq int64  `json:"last_seq"`
}

// handleEvents streams hub changes over a websocket. A client reconnecting
// with ?since=<seq> first receives the retained events after seq.
func (a *api) handleEvents(w http.ResponseWriter, r *http.Request) {
	var since int64
	if raw := strings.TrimSpace(r.URL.Query().Get("since")); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			WriteDomainError(w, domain.NewValidationError(map[string]string{"since": "must be a non-negative sequence"}))
			return
		}
		since = n
	} else {
		since = a.hub.LastSeq()
	}

	conn, err := eventsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Debug("events: upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	replay, live, cancel := a.hub.Subscribe(since)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(eventsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(eventsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					a.logger.Debug("events: read failed", "err", err)
				}
				return
			}
		}
	}()

	write := func(v any) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(eventsWriteWait))
		return conn.WriteJSON(v) == nil
	}

	if !write(eventsHello{Topic: "hello", LastSeq: a.hub.LastSeq()}) {
		return
	}
	for _, ev := range replay {
		if !write(ev) {
			return
		}
	}

	ping := time.NewTicker(eventsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-live:
			if !ok {
				// Fell behind; the client reconnects with its last seq.
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "lagging"),
					time.Now().Add(eventsWriteWait))
				return
			}
			if !write(ev) {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(eventsWriteWait)); err != nil {
				return
			}
		}
	}
}

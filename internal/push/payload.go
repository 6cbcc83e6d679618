package push

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"NudgeAgent/internal/domain"

	"github.com/mitchellh/mapstructure"
)

// payload is the wire form of a push message. Senders disagree on key
// names, so both spellings are accepted.
type payload struct {
	Action    string `json:"action"`
	From      string `json:"from"`
	Sender    string `json:"sender"`
	To        string `json:"to"`
	Recipient string `json:"recipient"`
	AlertID   string `json:"alert_id"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// Decode turns an opaque key/value push payload into a PushEvent. Values
// are weakly typed: numbers may arrive as strings and the other way round.
func Decode(data map[string]any) (domain.PushEvent, error) {
	data, err := unwrap(data)
	if err != nil {
		return domain.PushEvent{}, err
	}

	var p payload
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           &p,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return domain.PushEvent{}, fmt.Errorf("new push decoder: %w", err)
	}
	if err := dec.Decode(data); err != nil {
		return domain.PushEvent{}, domain.NewValidationError(map[string]string{"payload": err.Error()})
	}

	ev := domain.PushEvent{
		Action:  domain.PushAction(strings.ToLower(strings.TrimSpace(p.Action))),
		From:    strings.TrimSpace(firstNonEmpty(p.From, p.Sender)),
		To:      strings.TrimSpace(firstNonEmpty(p.To, p.Recipient)),
		AlertID: strings.TrimSpace(p.AlertID),
		Message: p.Message,
	}
	if p.Timestamp > 0 {
		ev.Timestamp = time.UnixMilli(p.Timestamp).UTC()
	}
	if ev.Action == "" {
		return domain.PushEvent{}, domain.NewValidationError(map[string]string{"action": "required"})
	}
	return ev, nil
}

// DecodeJSON decodes a JSON object body. Numbers keep their precision so a
// millisecond timestamp survives.
func DecodeJSON(body []byte) (domain.PushEvent, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var data map[string]any
	if err := dec.Decode(&data); err != nil {
		return domain.PushEvent{}, domain.NewValidationError(map[string]string{"payload": "invalid json"})
	}
	return Decode(data)
}

// unwrap strips the transport envelopes the agent accepts: a "data" object
// and a pub/sub push message whose base64 data holds the payload.
func unwrap(data map[string]any) (map[string]any, error) {
	if data == nil {
		return nil, domain.NewValidationError(map[string]string{"payload": "empty"})
	}
	if inner, ok := data["data"].(map[string]any); ok {
		return inner, nil
	}
	msg, ok := data["message"].(map[string]any)
	if !ok {
		return data, nil
	}

	out := map[string]any{}
	if attrs, ok := msg["attributes"].(map[string]any); ok {
		for k, v := range attrs {
			out[k] = v
		}
	}
	if raw, ok := msg["data"].(string); ok && raw != "" {
		b, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, domain.NewValidationError(map[string]string{"payload": "invalid base64 data"})
		}
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.UseNumber()
		var inner map[string]any
		if err := dec.Decode(&inner); err != nil {
			return nil, domain.NewValidationError(map[string]string{"payload": "invalid message data"})
		}
		for k, v := range inner {
			out[k] = v
		}
	}
	return out, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

package domain

import "time"

type NotificationKind string

const (
	NotificationAlert       NotificationKind = "alert"
	NotificationSending     NotificationKind = "sending"
	NotificationSendFailed  NotificationKind = "send_failed"
	NotificationSignIn      NotificationKind = "sign_in_required"
	NotificationRateLimited NotificationKind = "rate_limited"
)

// Notification is a dismissible system notification handed to the
// presentation layer. ID is stable so a later update can clear it.
type Notification struct {
	ID        string           `json:"id"`
	Kind      NotificationKind `json:"kind"`
	Friend    string           `json:"friend,omitempty"`
	AlertID   string           `json:"alert_id,omitempty"`
	Title     string           `json:"title"`
	Body      string           `json:"body"`
	CreatedAt time.Time        `json:"created_at"`
}

type PushAction string

const (
	PushAlert     PushAction = "alert"
	PushDelivered PushAction = "delivered"
	PushRead      PushAction = "read"
)

// PushEvent is a decoded push transport payload.
type PushEvent struct {
	Action    PushAction `json:"action"`
	From      string     `json:"from"`
	To        string     `json:"to,omitempty"`
	AlertID   string     `json:"alert_id"`
	Message   string     `json:"message,omitempty"`
	Timestamp time.Time  `json:"timestamp,omitempty"`
}

package domain

import "time"

type Friend struct {
	Username          string        `json:"username"`
	DisplayName       string        `json:"display_name"`
	PhotoRef          string        `json:"photo_ref,omitempty"`
	Sent              int64         `json:"sent"`
	Received          int64         `json:"received"`
	Importance        float64       `json:"importance"`
	LastMessageSentID string        `json:"last_message_sent_id,omitempty"`
	LastMessageStatus MessageStatus `json:"last_message_status,omitempty"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// Name returns the display name, falling back to the username.
func (f Friend) Name() string {
	if f.DisplayName != "" {
		return f.DisplayName
	}
	return f.Username
}

type PendingFriend struct {
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type CachedAction string

const (
	CachedActionAdd    CachedAction = "add"
	CachedActionAccept CachedAction = "accept"
)

// CachedFriend is an add-friend intent that could not reach the server yet.
type CachedFriend struct {
	Username  string       `json:"username"`
	Action    CachedAction `json:"action"`
	Attempts  int          `json:"attempts"`
	CreatedAt time.Time    `json:"created_at"`
}

// RemoteFriend is a friend as reported by the remote API.
type RemoteFriend struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	PhotoRef    string `json:"photo_ref,omitempty"`
}

// UserInfo is the bulk reconciliation payload.
type UserInfo struct {
	Username    string          `json:"username"`
	DisplayName string          `json:"display_name"`
	Friends     []RemoteFriend  `json:"friends"`
	Pending     []PendingFriend `json:"pending"`
}

type RequestAction string

const (
	RequestAccept RequestAction = "accept"
	RequestIgnore RequestAction = "ignore"
	RequestBlock  RequestAction = "block"
)

func (a RequestAction) Valid() bool {
	switch a {
	case RequestAccept, RequestIgnore, RequestBlock:
		return true
	}
	return false
}

// ImportanceWeights drives the decaying friend ranking.
type ImportanceWeights struct {
	Decay     float64
	Increment float64
}

func DefaultImportanceWeights() ImportanceWeights {
	return ImportanceWeights{Decay: 0.9, Increment: 1}
}

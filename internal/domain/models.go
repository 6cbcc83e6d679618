package domain

import "time"

type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
)

type Message struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Direction Direction `json:"direction"`
	Peer      string    `json:"peer"`
	Body      string    `json:"body,omitempty"`
	AlertID   string    `json:"alert_id,omitempty"`
}

type JobState string

const (
	JobPending JobState = "pending"
	JobRunning JobState = "running"
	JobParked  JobState = "parked"
)

// SendJob is the durable record of an outgoing alert that has not reached a
// terminal state yet.
type SendJob struct {
	StartID   string    `json:"start_id"`
	To        string    `json:"to"`
	Body      string    `json:"body,omitempty"`
	State     JobState  `json:"state"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// OutgoingAlert is everything written locally when a send starts.
type OutgoingAlert struct {
	StartID string
	To      string
	Body    string
	At      time.Time
	Weights ImportanceWeights
}

// IncomingAlert is a received alert before it is recorded.
type IncomingAlert struct {
	From      string
	AlertID   string
	Body      string
	Timestamp time.Time
	// HistoryLimit bounds the handled alert ids kept per sender.
	HistoryLimit int
}

package domain

// MessageStatus is the lifecycle of the most recent outgoing alert to a
// friend. The zero value means nothing has been sent yet.
type MessageStatus string

const (
	StatusNone      MessageStatus = ""
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusError     MessageStatus = "error"
)

func (s MessageStatus) rank() int {
	switch s {
	case StatusSending:
		return 1
	case StatusSent:
		return 2
	case StatusDelivered:
		return 3
	case StatusRead:
		return 4
	default:
		return 0
	}
}

// Valid reports whether s is one of the known statuses.
func (s MessageStatus) Valid() bool {
	switch s {
	case StatusNone, StatusSending, StatusSent, StatusDelivered, StatusRead, StatusError:
		return true
	}
	return false
}

// CanAdvanceTo reports whether an update from s to next keeps the
// lifecycle monotonic for the same alert id: sending < sent < delivered < read,
// with error reachable from every state except read and error itself.
func (s MessageStatus) CanAdvanceTo(next MessageStatus) bool {
	if next == StatusError {
		return s != StatusRead && s != StatusError
	}
	if next == StatusNone {
		return false
	}
	return next.rank() > s.rank()
}

package dialog

import "NudgeAgent/internal/domain"

type Kind string

const (
	KindAlert             Kind = "alert"
	KindSignIn            Kind = "sign_in"
	KindSendFailed        Kind = "send_failed"
	KindFriendRequest     Kind = "friend_request"
	KindRingerNotice      Kind = "ringer_notice"
	KindOverlayPermission Kind = "overlay_permission"
	KindDeepLinkAdd       Kind = "deep_link_add"
)

// Lower values are shown first.
var priorities = map[Kind]int{
	KindAlert:             0,
	KindSignIn:            1,
	KindSendFailed:        2,
	KindFriendRequest:     3,
	KindRingerNotice:      4,
	KindOverlayPermission: 5,
	KindDeepLinkAdd:       6,
}

// Status is one modal prompt. Friend-scoped variants carry Username.
type Status struct {
	Kind        Kind   `json:"kind"`
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	AlertID     string `json:"alert_id,omitempty"`
	Text        string `json:"text,omitempty"`
	Notice      string `json:"notice,omitempty"`
}

func (s Status) Priority() int {
	if p, ok := priorities[s.Kind]; ok {
		return p
	}
	return len(priorities)
}

// Key identifies a prompt for de-duplication: variant plus friend.
func (s Status) Key() string {
	return string(s.Kind) + "|" + s.Username
}

func (s Status) name() string {
	if s.DisplayName != "" {
		return s.DisplayName
	}
	return s.Username
}

func less(a, b Status) bool {
	if a.Priority() != b.Priority() {
		return a.Priority() < b.Priority()
	}
	return a.name() < b.name()
}

func AlertPrompt(f domain.Friend, alertID, body string) Status {
	return Status{Kind: KindAlert, Username: f.Username, DisplayName: f.Name(), AlertID: alertID, Text: body}
}

func SignInRequired() Status {
	return Status{Kind: KindSignIn}
}

func SendFailed(f domain.Friend, text string) Status {
	return Status{Kind: KindSendFailed, Username: f.Username, DisplayName: f.Name(), Text: text}
}

func FriendRequest(p domain.PendingFriend) Status {
	return Status{Kind: KindFriendRequest, Username: p.Username, DisplayName: p.DisplayName}
}

func RingerNotice(text string) Status {
	return Status{Kind: KindRingerNotice, Text: text}
}

func OverlayPermission() Status {
	return Status{Kind: KindOverlayPermission}
}

func DeepLinkAdd(username string) Status {
	return Status{Kind: KindDeepLinkAdd, Username: username}
}

func (k Kind) Valid() bool {
	_, ok := priorities[k]
	return ok
}

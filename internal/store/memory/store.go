// Package memory is an in-process Local Store. It backs tests and agents run
// without a database.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"NudgeAgent/internal/domain"
)

const defaultHandledHistory = 32

type Store struct {
	mu          sync.Mutex
	friends     map[string]domain.Friend
	pending     map[string]domain.PendingFriend
	cached      map[string]domain.CachedFriend
	messages    []domain.Message
	nextMessage int64
	handled     map[string][]string
	jobs        map[string]domain.SendJob
	prefs       map[string]string
}

func New() *Store {
	s := &Store{prefs: make(map[string]string)}
	s.reset()
	return s
}

func (s *Store) reset() {
	s.friends = make(map[string]domain.Friend)
	s.pending = make(map[string]domain.PendingFriend)
	s.cached = make(map[string]domain.CachedFriend)
	s.messages = nil
	s.handled = make(map[string][]string)
	s.jobs = make(map[string]domain.SendJob)
}

func (s *Store) ListFriends(ctx context.Context) ([]domain.Friend, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Friend, 0, len(s.friends))
	for _, f := range s.friends {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (s *Store) GetFriend(ctx context.Context, username string) (domain.Friend, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.friends[username]
	if !ok {
		return domain.Friend{}, domain.ErrNotFound
	}
	return f, nil
}

func (s *Store) UpsertFriend(ctx context.Context, rf domain.RemoteFriend, when time.Time) (domain.Friend, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.upsertLocked(rf, when)
	delete(s.pending, rf.Username)
	delete(s.cached, rf.Username)
	return f, nil
}

func (s *Store) upsertLocked(rf domain.RemoteFriend, when time.Time) domain.Friend {
	f, ok := s.friends[rf.Username]
	if !ok {
		f = domain.Friend{Username: rf.Username}
	}
	if rf.DisplayName != "" {
		f.DisplayName = rf.DisplayName
	}
	if rf.PhotoRef != "" {
		f.PhotoRef = rf.PhotoRef
	}
	f.UpdatedAt = when
	s.friends[rf.Username] = f
	return f
}

func (s *Store) DeleteFriend(ctx context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.friends[username]; !ok {
		return domain.ErrNotFound
	}
	delete(s.friends, username)
	return nil
}

func (s *Store) SetDisplayName(ctx context.Context, username, displayName string, when time.Time) (domain.Friend, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.friends[username]
	if !ok {
		return domain.Friend{}, domain.ErrNotFound
	}
	f.DisplayName = displayName
	f.UpdatedAt = when
	s.friends[username] = f
	return f, nil
}

func (s *Store) BeginSend(ctx context.Context, a domain.OutgoingAlert) (domain.Friend, domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.friends[a.To]
	if !ok {
		return domain.Friend{}, domain.Message{}, domain.ErrNotFound
	}

	for name, other := range s.friends {
		other.Importance *= a.Weights.Decay
		s.friends[name] = other
	}
	f = s.friends[a.To]
	f.Importance += a.Weights.Increment
	f.Sent++
	f.LastMessageSentID = a.StartID
	f.LastMessageStatus = domain.StatusSending
	f.UpdatedAt = a.At
	s.friends[a.To] = f

	msg := s.appendMessageLocked(domain.Message{
		Timestamp: a.At,
		Direction: domain.DirectionOutgoing,
		Peer:      a.To,
		Body:      a.Body,
	})
	s.jobs[a.StartID] = domain.SendJob{
		StartID:   a.StartID,
		To:        a.To,
		Body:      a.Body,
		State:     domain.JobPending,
		CreatedAt: a.At,
	}
	return f, msg, nil
}

func (s *Store) CompleteSend(ctx context.Context, username, startID, alertID string, when time.Time) (domain.Friend, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, startID)
	f, ok := s.friends[username]
	if !ok || f.LastMessageSentID != startID || f.LastMessageStatus != domain.StatusSending {
		return f, false, nil
	}
	f.LastMessageSentID = alertID
	f.LastMessageStatus = domain.StatusSent
	f.UpdatedAt = when
	s.friends[username] = f
	return f, true, nil
}

func (s *Store) FailSend(ctx context.Context, username, startID, reason string, park bool, when time.Time) (domain.Friend, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[startID]; ok {
		if park {
			job.State = domain.JobParked
			job.Attempts++
			job.LastError = reason
			s.jobs[startID] = job
		} else {
			delete(s.jobs, startID)
		}
	}
	f, changed := s.applyLocked(username, startID, domain.StatusError, when)
	return f, changed, nil
}

func (s *Store) ApplyStatus(ctx context.Context, username, alertID string, status domain.MessageStatus, when time.Time) (domain.Friend, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, changed := s.applyLocked(username, alertID, status, when)
	return f, changed, nil
}

func (s *Store) applyLocked(username, alertID string, status domain.MessageStatus, when time.Time) (domain.Friend, bool) {
	f, ok := s.friends[username]
	if !ok || alertID == "" || f.LastMessageSentID != alertID {
		return f, false
	}
	if !f.LastMessageStatus.CanAdvanceTo(status) {
		return f, false
	}
	f.LastMessageStatus = status
	f.UpdatedAt = when
	s.friends[username] = f
	return f, true
}

func (s *Store) ReconcileFriends(ctx context.Context, friends []domain.RemoteFriend, pending []domain.PendingFriend, when time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keep := make(map[string]struct{}, len(friends))
	for _, rf := range friends {
		if rf.Username == "" {
			continue
		}
		keep[rf.Username] = struct{}{}
		s.upsertLocked(rf, when)
	}
	for name := range s.friends {
		if _, ok := keep[name]; !ok {
			delete(s.friends, name)
		}
	}

	next := make(map[string]domain.PendingFriend, len(pending))
	for _, p := range pending {
		if p.Username == "" {
			continue
		}
		if _, isFriend := keep[p.Username]; isFriend {
			continue
		}
		if old, ok := s.pending[p.Username]; ok && p.CreatedAt.IsZero() {
			p.CreatedAt = old.CreatedAt
		}
		if p.CreatedAt.IsZero() {
			p.CreatedAt = when
		}
		next[p.Username] = p
	}
	s.pending = next

	for name := range s.cached {
		if _, isFriend := keep[name]; isFriend {
			delete(s.cached, name)
		}
	}
	return nil
}

func (s *Store) DecayImportance(ctx context.Context, decay float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, f := range s.friends {
		f.Importance *= decay
		s.friends[name] = f
	}
	return nil
}

func (s *Store) TopImportant(ctx context.Context, k int) ([]domain.Friend, error) {
	if k <= 0 {
		return []domain.Friend{}, nil
	}
	s.mu.Lock()
	out := make([]domain.Friend, 0, len(s.friends))
	for _, f := range s.friends {
		out = append(out, f)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Importance != out[j].Importance {
			return out[i].Importance > out[j].Importance
		}
		return out[i].Username < out[j].Username
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (s *Store) ListPending(ctx context.Context) ([]domain.PendingFriend, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.PendingFriend, 0, len(s.pending))
	for _, p := range s.pending {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (s *Store) DeletePending(ctx context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, username)
	return nil
}

func (s *Store) ListCached(ctx context.Context) ([]domain.CachedFriend, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.CachedFriend, 0, len(s.cached))
	for _, c := range s.cached {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Username < out[j].Username
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) PutCached(ctx context.Context, username string, action domain.CachedAction, when time.Time) (domain.CachedFriend, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cached[username]
	if !ok {
		c = domain.CachedFriend{Username: username, CreatedAt: when}
	}
	c.Action = action
	s.cached[username] = c
	return c, nil
}

func (s *Store) MarkCachedAttempt(ctx context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cached[username]
	if !ok {
		return domain.ErrNotFound
	}
	c.Attempts++
	s.cached[username] = c
	return nil
}

func (s *Store) DeleteCached(ctx context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cached, username)
	return nil
}

func (s *Store) RecordIncoming(ctx context.Context, in domain.IncomingAlert) (domain.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.handled[in.From] {
		if id == in.AlertID {
			return domain.Message{}, false, nil
		}
	}
	limit := in.HistoryLimit
	if limit <= 0 {
		limit = defaultHandledHistory
	}
	ids := append(s.handled[in.From], in.AlertID)
	if len(ids) > limit {
		ids = append([]string(nil), ids[len(ids)-limit:]...)
	}
	s.handled[in.From] = ids

	msg := s.appendMessageLocked(domain.Message{
		Timestamp: in.Timestamp,
		Direction: domain.DirectionIncoming,
		Peer:      in.From,
		Body:      in.Body,
		AlertID:   in.AlertID,
	})
	if f, ok := s.friends[in.From]; ok {
		f.Received++
		f.UpdatedAt = in.Timestamp
		s.friends[in.From] = f
	}
	return msg, true, nil
}

func (s *Store) appendMessageLocked(m domain.Message) domain.Message {
	s.nextMessage++
	m.ID = s.nextMessage
	s.messages = append(s.messages, m)
	return m
}

// ListMessages returns the newest messages first. An empty peer lists all.
func (s *Store) ListMessages(ctx context.Context, peer string, limit int) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.Message{}
	for i := len(s.messages) - 1; i >= 0; i-- {
		m := s.messages[i]
		if peer != "" && m.Peer != peer {
			continue
		}
		out = append(out, m)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) ListJobs(ctx context.Context) ([]domain.SendJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.SendJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].StartID < out[j].StartID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) GetJob(ctx context.Context, startID string) (domain.SendJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[startID]
	if !ok {
		return domain.SendJob{}, domain.ErrNotFound
	}
	return j, nil
}

func (s *Store) SetJobState(ctx context.Context, startID string, state domain.JobState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[startID]
	if !ok {
		return domain.ErrNotFound
	}
	j.State = state
	s.jobs[startID] = j
	return nil
}

func (s *Store) DeleteJob(ctx context.Context, startID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, startID)
	return nil
}

func (s *Store) GetPreference(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.prefs[key]
	return v, ok, nil
}

func (s *Store) SetPreference(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs[key] = value
	return nil
}

func (s *Store) DeletePreference(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.prefs, key)
	return nil
}

func (s *Store) WipeLocalData(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	return nil
}

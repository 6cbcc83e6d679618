package dialog

import (
	"sort"
	"sync"
)

// Snapshot is the queue state handed to the change hook. Version grows on
// every change so observers can discard out-of-order deliveries.
type Snapshot struct {
	Version int64    `json:"version"`
	Active  *Status  `json:"active"`
	Waiting []Status `json:"waiting"`
}

// Queue holds at most one active prompt plus a de-duplicated waiting set
// ordered by priority.
type Queue struct {
	mu       sync.Mutex
	active   *Status
	waiting  []Status
	version  int64
	onChange func(Snapshot)
}

func NewQueue(onChange func(Snapshot)) *Queue {
	return &Queue{onChange: onChange}
}

// Push makes s active when nothing is shown, otherwise queues it. It reports
// whether the queue changed; a duplicate of the active prompt is dropped.
func (q *Queue) Push(s Status) bool {
	q.mu.Lock()
	if q.active == nil {
		q.active = &s
		snap := q.changedLocked()
		q.mu.Unlock()
		q.notify(snap)
		return true
	}
	if q.active.Key() == s.Key() {
		q.mu.Unlock()
		return false
	}
	q.insertLocked(s)
	snap := q.changedLocked()
	q.mu.Unlock()
	q.notify(snap)
	return true
}

// Pop finishes the active prompt and promotes the best waiting one.
func (q *Queue) Pop() (Status, bool) {
	q.mu.Lock()
	next, ok := q.promoteLocked()
	snap := q.changedLocked()
	q.mu.Unlock()
	q.notify(snap)
	return next, ok
}

// Swap forces s to be active, demoting the current prompt back to waiting.
func (q *Queue) Swap(s Status) {
	q.mu.Lock()
	q.removeLocked(s.Key())
	if q.active != nil && q.active.Key() != s.Key() {
		q.insertLocked(*q.active)
	}
	q.active = &s
	snap := q.changedLocked()
	q.mu.Unlock()
	q.notify(snap)
}

// DismissIf pops the active prompt only when match accepts it.
func (q *Queue) DismissIf(match func(Status) bool) bool {
	q.mu.Lock()
	if q.active == nil || !match(*q.active) {
		q.mu.Unlock()
		return false
	}
	q.promoteLocked()
	snap := q.changedLocked()
	q.mu.Unlock()
	q.notify(snap)
	return true
}

// Remove drops waiting prompts accepted by match. The active prompt is left alone.
func (q *Queue) Remove(match func(Status) bool) int {
	q.mu.Lock()
	kept := q.waiting[:0]
	removed := 0
	for _, s := range q.waiting {
		if match(s) {
			removed++
			continue
		}
		kept = append(kept, s)
	}
	q.waiting = kept
	if removed == 0 {
		q.mu.Unlock()
		return 0
	}
	snap := q.changedLocked()
	q.mu.Unlock()
	q.notify(snap)
	return removed
}

// Clear drops the active prompt and everything waiting.
func (q *Queue) Clear() {
	q.mu.Lock()
	if q.active == nil && len(q.waiting) == 0 {
		q.mu.Unlock()
		return
	}
	q.active = nil
	q.waiting = nil
	snap := q.changedLocked()
	q.mu.Unlock()
	q.notify(snap)
}

func (q *Queue) Active() (Status, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.active == nil {
		return Status{}, false
	}
	return *q.active, true
}

// Lookup finds the active or waiting prompt with key.
func (q *Queue) Lookup(key string) (Status, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.active != nil && q.active.Key() == key {
		return *q.active, true
	}
	for _, w := range q.waiting {
		if w.Key() == key {
			return w, true
		}
	}
	return Status{}, false
}

func (q *Queue) Snapshot() Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked()
}

func (q *Queue) promoteLocked() (Status, bool) {
	if len(q.waiting) == 0 {
		q.active = nil
		return Status{}, false
	}
	next := q.waiting[0]
	q.waiting = append(q.waiting[:0:0], q.waiting[1:]...)
	q.active = &next
	return next, true
}

func (q *Queue) insertLocked(s Status) {
	q.removeLocked(s.Key())
	i := sort.Search(len(q.waiting), func(i int) bool { return less(s, q.waiting[i]) })
	q.waiting = append(q.waiting, Status{})
	copy(q.waiting[i+1:], q.waiting[i:])
	q.waiting[i] = s
}

func (q *Queue) removeLocked(key string) {
	for i, w := range q.waiting {
		if w.Key() == key {
			q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
			return
		}
	}
}

func (q *Queue) changedLocked() Snapshot {
	q.version++
	return q.snapshotLocked()
}

func (q *Queue) snapshotLocked() Snapshot {
	snap := Snapshot{Version: q.version, Waiting: append([]Status(nil), q.waiting...)}
	if q.active != nil {
		active := *q.active
		snap.Active = &active
	}
	return snap
}

func (q *Queue) notify(snap Snapshot) {
	if q.onChange != nil {
		q.onChange(snap)
	}
}

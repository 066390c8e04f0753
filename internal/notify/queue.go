package notify

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/crimecity-live/internal/sched"
	"github.com/DoyleJ11/crimecity-live/internal/types"
)

const (
	DefaultCapacity = 5
	DefaultDuration = 5 * time.Second
)

type Notification struct {
	ID        string
	Title     string
	Message   string
	Severity  types.Severity
	CreatedAt time.Time
	AutoClose bool
	Duration  time.Duration
}

type Options struct {
	Capacity  int
	Duration  time.Duration // default auto-close delay for Push
	Scheduler sched.Scheduler
	Logger    *zap.Logger
	Now       func() time.Time
	NewID     func() string
}

// Queue holds the visible alerts, oldest first. It never holds more than
// its capacity once a call returns.
type Queue struct {
	mu        sync.Mutex
	items     []Notification
	listeners []func([]Notification)

	capacity int
	duration time.Duration
	sched    sched.Scheduler
	log      *zap.Logger
	now      func() time.Time
	newID    func() string
}

func NewQueue(opts Options) *Queue {
	q := &Queue{
		capacity: opts.Capacity,
		duration: opts.Duration,
		sched:    opts.Scheduler,
		log:      opts.Logger,
		now:      opts.Now,
		newID:    opts.NewID,
	}
	if q.capacity <= 0 {
		q.capacity = DefaultCapacity
	}
	if q.duration <= 0 {
		q.duration = DefaultDuration
	}
	if q.sched == nil {
		q.sched = sched.Real()
	}
	if q.log == nil {
		q.log = zap.NewNop()
	}
	q.log = q.log.Named("notify")
	if q.now == nil {
		q.now = time.Now
	}
	if q.newID == nil {
		q.newID = func() string { return "notification-" + uuid.NewString() }
	}
	return q
}

// Push adds an auto-closing notification with the default duration.
func (q *Queue) Push(title, message string, severity types.Severity) string {
	return q.PushWith(title, message, severity, true, q.duration)
}

func (q *Queue) PushWith(title, message string, severity types.Severity, autoClose bool, duration time.Duration) string {
	if duration <= 0 {
		duration = q.duration
	}
	n := Notification{
		ID:        q.newID(),
		Title:     title,
		Message:   message,
		Severity:  severity,
		CreatedAt: q.now(),
		AutoClose: autoClose,
		Duration:  duration,
	}

	q.mu.Lock()
	q.items = append(q.items, n)
	var evicted []Notification
	for len(q.items) > q.capacity {
		evicted = append(evicted, q.items[0])
		q.items = slices.Delete(q.items, 0, 1)
	}
	snap, listeners := q.snapshotLocked()
	q.mu.Unlock()

	for _, e := range evicted {
		q.log.Debug("evicted", zap.String("id", e.ID), zap.String("title", e.Title))
	}
	if autoClose {
		id := n.ID
		q.sched.AfterFunc(duration, func() { q.Dismiss(id) })
	}
	notifyAll(listeners, snap)
	return n.ID
}

// Dismiss removes the notification if it is still queued. Auto-close and a
// manual close may both call it; the second call reports false.
func (q *Queue) Dismiss(id string) bool {
	q.mu.Lock()
	idx := slices.IndexFunc(q.items, func(n Notification) bool { return n.ID == id })
	if idx < 0 {
		q.mu.Unlock()
		return false
	}
	q.items = slices.Delete(q.items, idx, idx+1)
	snap, listeners := q.snapshotLocked()
	q.mu.Unlock()

	notifyAll(listeners, snap)
	return true
}

// List returns the queued notifications in insertion order.
func (q *Queue) List() []Notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.items)
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) Capacity() int { return q.capacity }

// OnChange registers fn to run after every mutation with a snapshot of the
// queue. Listeners run on the mutating goroutine, outside the lock.
func (q *Queue) OnChange(fn func([]Notification)) {
	q.mu.Lock()
	q.listeners = append(q.listeners, fn)
	q.mu.Unlock()
}

func (q *Queue) snapshotLocked() ([]Notification, []func([]Notification)) {
	if len(q.listeners) == 0 {
		return nil, nil
	}
	return slices.Clone(q.items), slices.Clone(q.listeners)
}

func notifyAll(listeners []func([]Notification), snap []Notification) {
	for _, fn := range listeners {
		fn(snap)
	}
}

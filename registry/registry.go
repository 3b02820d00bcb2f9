// Package registry tracks which subscribers watch which catalog items.
package registry

import (
	"errors"
	"roguestock-notifier/catalog"
	"slices"
	"sync"
	"time"
)

// DefaultLimit is the number of items a subscriber may track at once.
const DefaultLimit = 4

var (
	ErrUnknownItem       = errors.New("unknown catalog item")
	ErrLimitExceeded     = errors.New("item limit reached")
	ErrAlreadySubscribed = errors.New("already subscribed")
)

type tracked struct {
	key   string
	since time.Time
}

// session is one subscriber's tracked items in subscribe order.
type session struct {
	items []tracked
}

func (s *session) has(key string) bool {
	return slices.ContainsFunc(s.items, func(t tracked) bool { return t.key == key })
}

// Elapsed reports how long a subscriber tracked one item.
type Elapsed struct {
	Key         string
	ProductName string
	Duration    time.Duration
}

// Report is a subscriber's status.
type Report struct {
	Items      []Elapsed
	Limit      int
	TotalUsers int
	StartedAt  time.Time // When the first of the current sessions was created
}

// Registry owns subscriber sessions and keeps catalog subscriber records in step.
// Lock order is Registry.mu before any catalog entry lock.
type Registry struct {
	catalog *catalog.Catalog
	limit   int
	now     func() time.Time

	mu        sync.Mutex
	sessions  map[string]*session
	startedAt time.Time
}

// New creates a registry over c. A non-positive limit uses DefaultLimit.
func New(c *catalog.Catalog, limit int) *Registry {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Registry{
		catalog:  c,
		limit:    limit,
		now:      time.Now,
		sessions: make(map[string]*session),
	}
}

// Limit returns the per-subscriber item limit.
func (r *Registry) Limit() int { return r.limit }

// Touch creates an empty session for id if none exists.
func (r *Registry) Touch(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessionLocked(id)
}

func (r *Registry) sessionLocked(id string) *session {
	s, ok := r.sessions[id]
	if !ok {
		if len(r.sessions) == 0 {
			r.startedAt = r.now()
		}
		s = &session{}
		r.sessions[id] = s
	}
	return s
}

// Subscribe starts tracking key for id.
func (r *Registry) Subscribe(id, key string) error {
	entry, ok := r.catalog.Entry(key)
	if !ok {
		return ErrUnknownItem
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.sessionLocked(id)
	if len(s.items) >= r.limit {
		return ErrLimitExceeded
	}
	if s.has(key) {
		return ErrAlreadySubscribed
	}
	s.items = append(s.items, tracked{key: key, since: r.now()})
	entry.AddSubscriber(id)
	return nil
}

// UnsubscribeAll clears every item for id and destroys the session.
// Subscriber records are removed from the catalog too, so a stopped
// subscriber never receives another notification.
func (r *Registry) UnsubscribeAll(id string) []Elapsed {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil
	}
	cleared := r.elapsedLocked(s)
	for _, t := range s.items {
		if entry, ok := r.catalog.Entry(t.key); ok {
			entry.RemoveSubscriber(id)
		}
	}
	s.items = nil
	delete(r.sessions, id)
	return cleared
}

// Status reports what id is tracking. The report has no items when there is no session.
func (r *Registry) Status(id string) Report {
	r.mu.Lock()
	defer r.mu.Unlock()

	rep := Report{Limit: r.limit, TotalUsers: len(r.sessions), StartedAt: r.startedAt}
	if s, ok := r.sessions[id]; ok {
		rep.Items = r.elapsedLocked(s)
	}
	return rep
}

// Count returns how many items id is tracking.
func (r *Registry) Count(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		return len(s.items)
	}
	return 0
}

// ClaimFirstNotice reserves the first-check notice for id under key.
// It returns false when another path already claimed it or id is not subscribed.
func (r *Registry) ClaimFirstNotice(key, id string) bool {
	entry, ok := r.catalog.Entry(key)
	if !ok {
		return false
	}
	return entry.ClaimFirstNotice(id)
}

// ReleaseFirstNotice hands a claim back after the notice could not be queued.
func (r *Registry) ReleaseFirstNotice(key, id string) {
	if entry, ok := r.catalog.Entry(key); ok {
		entry.ReleaseFirstNotice(id)
	}
}

func (r *Registry) elapsedLocked(s *session) []Elapsed {
	now := r.now()
	out := make([]Elapsed, 0, len(s.items))
	for _, t := range s.items {
		item, _ := r.catalog.Item(t.key)
		out = append(out, Elapsed{Key: t.key, ProductName: item.ProductName, Duration: now.Sub(t.since)})
	}
	return out
}

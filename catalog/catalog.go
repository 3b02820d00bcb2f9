// Package catalog holds the configured items and their mutable poll state.
package catalog

import (
	"maps"
	"roguestock-notifier/pkg/notifier"
	"slices"
	"sort"
	"sync"
	"time"
)

// Subscriber is a snapshot of one subscriber record under an item.
type Subscriber struct {
	ID        string
	Delivered bool
}

// Entry is a catalog item plus its poll state. All fields behind mu.
type Entry struct {
	item notifier.CatalogItem

	mu          sync.Mutex
	tally       int
	observed    bool
	summary     string
	checkedAt   time.Time
	subscribers map[string]bool // id -> delivered
}

// Catalog is the fixed set of items loaded at startup.
// The key set never changes, so lookups need no lock.
type Catalog struct {
	entries map[string]*Entry
	keys    []string
}

// New builds a catalog from configured items.
func New(items []notifier.CatalogItem) *Catalog {
	c := &Catalog{entries: make(map[string]*Entry, len(items))}
	for _, it := range items {
		c.entries[it.Key] = &Entry{item: it, subscribers: make(map[string]bool)}
		c.keys = append(c.keys, it.Key)
	}
	sort.Strings(c.keys)
	return c
}

// Keys returns item keys in sorted order.
func (c *Catalog) Keys() []string {
	return slices.Clone(c.keys)
}

// Entry returns the entry for key.
func (c *Catalog) Entry(key string) (*Entry, bool) {
	e, ok := c.entries[key]
	return e, ok
}

// Item returns the static description of key.
func (c *Catalog) Item(key string) (notifier.CatalogItem, bool) {
	e, ok := c.entries[key]
	if !ok {
		return notifier.CatalogItem{}, false
	}
	return e.item, true
}

// Item returns the static description of the entry.
func (e *Entry) Item() notifier.CatalogItem { return e.item }

// Observe classifies records fetched at the given time, stores the new tally
// unconditionally, and returns the transition along with the subscribers at that moment.
func (e *Entry) Observe(at time.Time, records []notifier.StockRecord, classify func(prev *int, records []notifier.StockRecord) (int, notifier.Transition)) (notifier.Transition, []Subscriber) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var prev *int
	if e.observed {
		p := e.tally
		prev = &p
	}
	tally, tr := classify(prev, records)
	e.tally = tally
	e.observed = true
	e.summary = tr.Summary
	e.checkedAt = at
	return tr, e.subscribersLocked()
}

// Tally returns the last in-stock count and whether any fetch has succeeded yet.
func (e *Entry) Tally() (int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tally, e.observed
}

// Summary returns the message summary of the last successful fetch and when it happened.
func (e *Entry) Summary() (string, time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.summary, e.checkedAt, e.observed
}

// AddSubscriber ensures a record exists for id, leaving an existing flag untouched.
func (e *Entry) AddSubscriber(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.subscribers[id]; !ok {
		e.subscribers[id] = false
	}
}

// RemoveSubscriber deletes the record for id.
func (e *Entry) RemoveSubscriber(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.subscribers, id)
}

// ClaimFirstNotice flips the one-shot flag for id from false to true and
// reports whether this call did the flip. Only the claimant sends the
// first-check notice.
func (e *Entry) ClaimFirstNotice(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	delivered, ok := e.subscribers[id]
	if !ok || delivered {
		return false
	}
	e.subscribers[id] = true
	return true
}

// ReleaseFirstNotice clears the flag after a claimed notice could not be queued.
func (e *Entry) ReleaseFirstNotice(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.subscribers[id]; ok {
		e.subscribers[id] = false
	}
}

// Subscribers returns a snapshot sorted by id.
func (e *Entry) Subscribers() []Subscriber {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.subscribersLocked()
}

func (e *Entry) subscribersLocked() []Subscriber {
	ids := slices.Sorted(maps.Keys(e.subscribers))
	subs := make([]Subscriber, 0, len(ids))
	for _, id := range ids {
		subs = append(subs, Subscriber{ID: id, Delivered: e.subscribers[id]})
	}
	return subs
}

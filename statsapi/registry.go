// Package statsapi publishes session statistics: a JSON REST API, a
// Prometheus collector, and a server that exposes both over HTTPS and
// HTTP/3.
package statsapi

import (
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/zsiec/srtsession/session"
)

// StatsSource is the part of a session the API reads.
type StatsSource interface {
	URI() string
	Role() session.Role
	Opened() bool
	CallerCount() int
	Stats() session.StatsReport
}

// Summary is one entry of the session list.
type Summary struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	URI     string `json:"uri"`
	Role    string `json:"role"`
	Open    bool   `json:"open"`
	Callers int    `json:"callers"`
}

// Snapshot is a Summary plus the session's current statistics.
type Snapshot struct {
	Summary
	Stats session.StatsReport `json:"stats"`
}

type entry struct {
	id   string
	name string
	src  StatsSource
}

func (e *entry) summary() Summary {
	return Summary{
		ID:      e.id,
		Name:    e.name,
		URI:     e.src.URI(),
		Role:    e.src.Role().String(),
		Open:    e.src.Opened(),
		Callers: e.src.CallerCount(),
	}
}

// Registry tracks the sessions the API reports on. It is safe for
// concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Add registers src under a display name and returns its generated id.
func (r *Registry) Add(name string, src StatsSource) string {
	id := uuid.NewString()
	r.mu.Lock()
	r.entries[id] = &entry{id: id, name: name, src: src}
	r.order = append(r.order, id)
	r.mu.Unlock()
	return id
}

// Remove unregisters id. Unknown ids are ignored.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		return
	}
	delete(r.entries, id)
	r.order = slices.DeleteFunc(r.order, func(x string) bool { return x == id })
}

func (r *Registry) snapshotEntries() []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*entry, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id])
	}
	return out
}

// List returns every session in registration order.
func (r *Registry) List() []Summary {
	entries := r.snapshotEntries()
	out := make([]Summary, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.summary())
	}
	return out
}

// Get returns the snapshot for id.
func (r *Registry) Get(id string) (Snapshot, bool) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	return Snapshot{Summary: e.summary(), Stats: e.src.Stats()}, true
}

// Package live re-runs read queries whenever a committed write touches a
// table they depend on, and pushes the fresh result to the subscriber.
//
// Dependencies are discovered by running the query with a tracking context:
// every store read records its table through Track. The store calls
// Hub.Notify once per committed write unit with the tables it wrote.
package live

import (
	"log/slog"
	"sync"

	"budgetbook/internal/core"
	applog "budgetbook/internal/log"
)

type listener interface {
	setID(id uint64)
	dependsOn(tables []core.Table) bool
	signal()
	close()
}

// Hub is the observer registry. It is safe for concurrent use.
type Hub struct {
	mu     sync.Mutex
	subs   map[uint64]listener
	nextID uint64
	closed bool
}

func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]listener)}
}

// Notify wakes every subscription that read one of tables. It never blocks:
// a subscription that is already pending absorbs the signal.
func (h *Hub) Notify(tables ...core.Table) {
	if len(tables) == 0 {
		return
	}
	h.mu.Lock()
	targets := make([]listener, 0, len(h.subs))
	for _, s := range h.subs {
		if s.dependsOn(tables) {
			targets = append(targets, s)
		}
	}
	h.mu.Unlock()

	for _, s := range targets {
		s.signal()
	}
	slog.Debug("Live hub notified",
		applog.FieldComponent, applog.ComponentLive,
		applog.FieldTable, tables,
		applog.FieldSubscribers, len(targets))
}

// Len returns the number of active subscriptions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close tears down every subscription. Later Observe calls fail.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := make([]listener, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		s.close()
	}
}

// register assigns l its id under the hub lock, so a concurrent Close sees it.
func (h *Hub) register(l listener) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.nextID++
	l.setID(h.nextID)
	h.subs[h.nextID] = l
	return true
}

func (h *Hub) unregister(id uint64) {
	h.mu.Lock()
	delete(h.subs, id)
	h.mu.Unlock()
}

package live

import (
	"context"
	"errors"
	"sync"

	"budgetbook/internal/core"
)

// ErrWriteInQuery is returned by the store when a write is attempted from
// inside a live query function. Queries are read-only; a write there would
// re-trigger the query that issued it.
var ErrWriteInQuery = errors.New("write issued from inside a live query")

type trackerKey struct{}

// tracker records the tables read while a query function runs.
type tracker struct {
	mu     sync.Mutex
	tables map[core.Table]struct{}
}

func withTracker(ctx context.Context) (context.Context, *tracker) {
	t := &tracker{tables: make(map[core.Table]struct{})}
	return context.WithValue(ctx, trackerKey{}, t), t
}

func (t *tracker) snapshot() map[core.Table]struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[core.Table]struct{}, len(t.tables))
	for k := range t.tables {
		out[k] = struct{}{}
	}
	return out
}

// Track records a read of table when ctx belongs to a running live query.
// Store read paths call it; outside a query it does nothing.
func Track(ctx context.Context, table core.Table) {
	t, ok := ctx.Value(trackerKey{}).(*tracker)
	if !ok {
		return
	}
	t.mu.Lock()
	t.tables[table] = struct{}{}
	t.mu.Unlock()
}

// InQuery reports whether ctx belongs to a running live query.
func InQuery(ctx context.Context) bool {
	_, ok := ctx.Value(trackerKey{}).(*tracker)
	return ok
}

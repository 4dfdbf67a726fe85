package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/go-cmp/cmp"

	"budgetbook/internal/core"
	applog "budgetbook/internal/log"
)

// ErrHubClosed is returned by Observe after Hub.Close.
var ErrHubClosed = errors.New("live hub closed")

// QueryFunc reads from the store using ctx. It must not write.
type QueryFunc[T any] func(ctx context.Context) (T, error)

// Update is one re-delivered query result.
type Update[T any] struct {
	Value T
	Err   error
}

// Subscription re-runs its query after relevant writes and delivers the
// result on Updates. Only the latest undelivered update is kept.
type Subscription[T any] struct {
	hub   *Hub
	id    uint64
	query QueryFunc[T]

	ctx    context.Context
	cancel context.CancelFunc
	wake   chan struct{}
	out    chan Update[T]
	ready  chan struct{}
	done   chan struct{}
	once   sync.Once

	mu sync.Mutex
	// pending is true until the initial run has recorded deps; until then
	// every notification counts as relevant.
	pending bool
	deps    map[core.Table]struct{}
	last    T
}

// Observe runs query now and returns its value together with a subscription
// that keeps re-running it. The subscription lives until Close, until ctx is
// done, or until the hub is closed.
//
// The subscription is registered before the initial run, so a write that
// commits while that run is in flight triggers a re-run instead of being
// missed.
func Observe[T any](ctx context.Context, hub *Hub, query QueryFunc[T]) (T, *Subscription[T], error) {
	var zero T
	sctx, cancel := context.WithCancel(ctx)
	s := &Subscription[T]{
		hub:     hub,
		query:   query,
		ctx:     sctx,
		cancel:  cancel,
		wake:    make(chan struct{}, 1),
		out:     make(chan Update[T], 1),
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
		pending: true,
	}

	if !hub.register(s) {
		cancel()
		return zero, nil, ErrHubClosed
	}

	go s.loop()
	go func() {
		<-sctx.Done()
		s.close()
	}()

	v, deps, err := s.run()
	if err != nil {
		s.close()
		return zero, nil, fmt.Errorf("initial live query: %w", err)
	}
	s.mu.Lock()
	s.deps = deps
	s.last = v
	s.pending = false
	s.mu.Unlock()
	close(s.ready)

	return v, s, nil
}

// Updates delivers re-run results. It is closed after Close.
func (s *Subscription[T]) Updates() <-chan Update[T] {
	return s.out
}

// Tables returns the tables the last run of the query read.
func (s *Subscription[T]) Tables() []core.Table {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Table, 0, len(s.deps))
	for _, tbl := range core.AllTables() {
		if _, ok := s.deps[tbl]; ok {
			out = append(out, tbl)
		}
	}
	return out
}

// Close stops deliveries and releases the subscription. It is idempotent.
func (s *Subscription[T]) Close() {
	s.close()
}

func (s *Subscription[T]) close() {
	s.once.Do(func() {
		s.cancel()
		<-s.done
		s.hub.unregister(s.id)
		close(s.out)
	})
}

func (s *Subscription[T]) setID(id uint64) { s.id = id }

func (s *Subscription[T]) dependsOn(tables []core.Table) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending {
		return true
	}
	for _, t := range tables {
		if _, ok := s.deps[t]; ok {
			return true
		}
	}
	return false
}

func (s *Subscription[T]) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription[T]) run() (T, map[core.Table]struct{}, error) {
	qctx, tr := withTracker(s.ctx)
	v, err := s.query(qctx)
	return v, tr.snapshot(), err
}

func (s *Subscription[T]) loop() {
	defer close(s.done)
	select {
	case <-s.ready:
	case <-s.ctx.Done():
		return
	}
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.wake:
		}

		v, deps, err := s.run()
		if s.ctx.Err() != nil {
			return
		}
		if err != nil {
			slog.WarnContext(s.ctx, "Live query re-run failed", applog.FieldComponent, applog.ComponentLive, applog.FieldError, err)
			s.deliver(Update[T]{Err: err})
			continue
		}

		s.mu.Lock()
		s.deps = deps
		same := equal(s.last, v)
		s.last = v
		s.mu.Unlock()
		if same {
			continue
		}
		s.deliver(Update[T]{Value: v})
	}
}

// deliver replaces any pending update with u.
func (s *Subscription[T]) deliver(u Update[T]) {
	for {
		select {
		case s.out <- u:
			return
		default:
		}
		select {
		case <-s.out:
		default:
		}
	}
}

// equal compares results with go-cmp; types cmp cannot handle count as
// changed.
func equal[T any](a, b T) (same bool) {
	defer func() {
		if recover() != nil {
			same = false
		}
	}()
	return cmp.Equal(a, b)
}

package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"budgetbook/internal/amqp"
	"budgetbook/internal/analytics"
	"budgetbook/internal/core"
	applog "budgetbook/internal/log"
)

// Snapshotter reads the current ledger collections.
type Snapshotter interface {
	Snapshot(ctx context.Context) (analytics.Snapshot, error)
}

// Alert reports a budget whose status changed to warning or over.
type Alert struct {
	CategoryID   int64
	CategoryName string
	Status       analytics.Status
	Percentage   float64
}

// BudgetWorker turns ledger events into budget alerts. It remembers the last
// status per category so an alert fires once per transition, not once per
// event.
type BudgetWorker struct {
	ledger Snapshotter
	now    func() time.Time

	mu   sync.Mutex
	last map[int64]analytics.Status
}

func NewBudgetWorker(ledger Snapshotter) *BudgetWorker {
	return &BudgetWorker{
		ledger: ledger,
		now:    time.Now,
		last:   make(map[int64]analytics.Status),
	}
}

// HandleLedgerEvent is the AMQP handler. Events that cannot move budget
// progress are acknowledged without reading the store.
func (w *BudgetWorker) HandleLedgerEvent(ctx context.Context, msg *amqp.LedgerEvent) error {
	if !affectsBudgets(msg) {
		slog.DebugContext(ctx, "Ignoring ledger event",
			applog.FieldComponent, applog.ComponentEvents, applog.FieldOperation, applog.OpConsume, "event", msg.Operation)
		return nil
	}
	alerts, err := w.Check(ctx)
	if err != nil {
		return fmt.Errorf("check budgets after %s: %w", msg.Operation, err)
	}
	for _, a := range alerts {
		slog.WarnContext(ctx, "Budget threshold crossed",
			applog.FieldComponent, applog.ComponentEvents,
			"category", a.CategoryName,
			"status", a.Status,
			"percentage", fmt.Sprintf("%.1f", a.Percentage))
	}
	return nil
}

// Check recomputes budget progress and returns the categories whose status
// moved to warning or over since the previous check.
func (w *BudgetWorker) Check(ctx context.Context) ([]Alert, error) {
	snap, err := w.ledger.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	progress := analytics.BudgetProgress(snap, w.now())

	w.mu.Lock()
	defer w.mu.Unlock()

	seen := make(map[int64]analytics.Status, len(progress))
	var alerts []Alert
	for _, p := range progress {
		seen[p.CategoryID] = p.Status
		if p.Status == analytics.StatusOK || w.last[p.CategoryID] == p.Status {
			continue
		}
		alerts = append(alerts, Alert{
			CategoryID:   p.CategoryID,
			CategoryName: p.CategoryName,
			Status:       p.Status,
			Percentage:   p.Percentage,
		})
	}
	w.last = seen
	return alerts, nil
}

func affectsBudgets(msg *amqp.LedgerEvent) bool {
	for _, t := range msg.Tables {
		if t == core.TableTransactions || t == core.TableBudgetLimits || t == core.TableCategories {
			return true
		}
	}
	return false
}

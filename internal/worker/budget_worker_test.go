package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"budgetbook/internal/amqp"
	"budgetbook/internal/analytics"
	"budgetbook/internal/core"
)

type fakeLedger struct {
	snap  analytics.Snapshot
	err   error
	calls int
}

func (f *fakeLedger) Snapshot(context.Context) (analytics.Snapshot, error) {
	f.calls++
	return f.snap, f.err
}

var now = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func spend(amount string) core.Transaction {
	return core.Transaction{
		Type:       core.Expense,
		Amount:     decimal.RequireFromString(amount),
		CategoryID: 1,
		Date:       now.Add(-time.Hour),
	}
}

func newWorker(l *fakeLedger) *BudgetWorker {
	w := NewBudgetWorker(l)
	w.now = func() time.Time { return now }
	return w
}

func TestBudgetWorkerAlertsOncePerTransition(t *testing.T) {
	l := &fakeLedger{snap: analytics.Snapshot{
		Categories:   []core.Category{{ID: 1, Name: "Food", Type: core.Expense}},
		BudgetLimits: []core.BudgetLimit{{CategoryID: 1, Amount: decimal.NewFromInt(100), Period: core.Monthly}},
	}}
	w := newWorker(l)
	ctx := context.Background()

	alerts, err := w.Check(ctx)
	require.NoError(t, err)
	require.Empty(t, alerts)

	l.snap.Transactions = []core.Transaction{spend("85")}
	alerts, err = w.Check(ctx)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	require.Equal(t, analytics.StatusWarning, alerts[0].Status)

	alerts, err = w.Check(ctx)
	require.NoError(t, err)
	require.Empty(t, alerts, "same status must not alert twice")

	l.snap.Transactions = append(l.snap.Transactions, spend("20"))
	alerts, err = w.Check(ctx)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	require.Equal(t, analytics.StatusOver, alerts[0].Status)
	require.Equal(t, "Food", alerts[0].CategoryName)
}

func TestHandleLedgerEventSkipsUnrelatedEvents(t *testing.T) {
	l := &fakeLedger{}
	w := newWorker(l)

	err := w.HandleLedgerEvent(context.Background(), amqp.NewLedgerEvent(amqp.OpSettingsUpdated, 1, core.TableSettings))
	require.NoError(t, err)
	require.Zero(t, l.calls)

	err = w.HandleLedgerEvent(context.Background(), amqp.NewLedgerEvent(amqp.OpTransactionAdded, 1, core.TableTransactions, core.TableAccounts))
	require.NoError(t, err)
	require.Equal(t, 1, l.calls)
}

func TestHandleLedgerEventReturnsStoreErrors(t *testing.T) {
	l := &fakeLedger{err: errors.New("disk gone")}
	w := newWorker(l)

	err := w.HandleLedgerEvent(context.Background(), amqp.NewLedgerEvent(amqp.OpBudgetLimitsSaved, 0, core.TableBudgetLimits))
	require.Error(t, err)
	require.Contains(t, err.Error(), "disk gone")
}

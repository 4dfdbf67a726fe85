package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"budgetbook/internal/core"
	"budgetbook/internal/live"
)

type recordingNotifier struct {
	mu    sync.Mutex
	calls [][]core.Table
}

func (n *recordingNotifier) Notify(tables ...core.Table) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, append([]core.Table(nil), tables...))
}

func (n *recordingNotifier) Calls() [][]core.Table {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([][]core.Table(nil), n.calls...)
}

func newTestRepo(t *testing.T) (*SQLiteRepository, *recordingNotifier) {
	t.Helper()
	n := &recordingNotifier{}
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "data", "test.db"), n)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo, n
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestMigrationsReachLatestVersion(t *testing.T) {
	repo, _ := newTestRepo(t)
	require.Equal(t, uint(2), repo.SchemaVersion())

	// reopening an up-to-date database is a no-op
	path := filepath.Join(t.TempDir(), "again.db")
	v, err := RunMigrations(path)
	require.NoError(t, err)
	v2, err := RunMigrations(path)
	require.NoError(t, err)
	require.Equal(t, v, v2)
}

func TestAddAndListAccounts(t *testing.T) {
	repo, n := newTestRepo(t)
	ctx := context.Background()

	id, err := repo.AddAccount(ctx, core.Account{Name: "Main", Type: core.Checking, Balance: dec("1000.50"), Currency: "USD"})
	require.NoError(t, err)
	require.Positive(t, id)

	got, err := repo.GetAccount(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "Main", got.Name)
	require.True(t, got.Balance.Equal(dec("1000.5")), "balance %s", got.Balance)

	count, err := repo.Count(ctx, core.TableAccounts)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	require.Equal(t, [][]core.Table{{core.TableAccounts}}, n.Calls())
}

func TestBulkAddIsAllOrNothing(t *testing.T) {
	repo, n := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.BulkAddAccounts(ctx, []core.Account{
		{Name: "Main", Type: core.Checking, Currency: "USD"},
		{Name: "Broken", Type: "brokerage", Currency: "USD"}, // rejected by CHECK constraint
	})
	require.Error(t, err)
	require.True(t, errors.Is(err, core.ErrStorage))

	count, err := repo.Count(ctx, core.TableAccounts)
	require.NoError(t, err)
	require.Zero(t, count)
	require.Empty(t, n.Calls(), "failed batch must not notify")

	ids, err := repo.BulkAddCategories(ctx, []core.Category{
		{Name: "Food", Type: core.Expense, Icon: "ShoppingCart"},
		{Name: "Salary", Type: core.Income, Icon: "DollarSign"},
	})
	require.NoError(t, err)
	require.Len(t, ids, 2)
	require.Less(t, ids[0], ids[1])
}

func TestUpdateMergesFields(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	id, err := repo.AddAccount(ctx, core.Account{Name: "Wallet", Type: core.Cash, Balance: dec("20"), Currency: "EUR"})
	require.NoError(t, err)

	balance := dec("-15.25")
	require.NoError(t, repo.UpdateAccount(ctx, id, AccountPatch{Balance: &balance}))

	got, err := repo.GetAccount(ctx, id)
	require.NoError(t, err)
	require.True(t, got.Balance.Equal(balance))
	require.Equal(t, "Wallet", got.Name)
	require.Equal(t, "EUR", got.Currency)
}

func TestUpdateMissingIDIsNotFound(t *testing.T) {
	repo, n := newTestRepo(t)
	ctx := context.Background()

	balance := dec("1")
	err := repo.UpdateAccount(ctx, 42, AccountPatch{Balance: &balance})
	var nf *core.NotFoundError
	require.ErrorAs(t, err, &nf)
	require.Equal(t, int64(42), nf.ID)

	name := "Someone"
	err = repo.UpdateSettings(ctx, 1, SettingsPatch{Name: &name})
	require.ErrorIs(t, err, core.ErrNotFound)
	require.Empty(t, n.Calls())
}

func TestTransactionsRoundTrip(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	accID, err := repo.AddAccount(ctx, core.Account{Name: "Main", Type: core.Checking, Currency: "USD"})
	require.NoError(t, err)
	catID, err := repo.AddCategory(ctx, core.Category{Name: "Food", Type: core.Expense})
	require.NoError(t, err)

	loc := time.FixedZone("CET", 3600)
	older := time.Date(2025, 3, 1, 9, 30, 0, 0, loc)
	newer := time.Date(2025, 3, 2, 9, 30, 0, 0, loc)
	for _, d := range []time.Time{older, newer} {
		_, err := repo.AddTransaction(ctx, core.Transaction{
			Type: core.Expense, Amount: dec("12.30"), CategoryID: catID, CategoryName: "Food",
			Description: "lunch", Date: d, AccountID: accID,
		})
		require.NoError(t, err)
	}

	txs, err := repo.ListTransactions(ctx)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	require.True(t, txs[0].Date.Equal(newer), "newest first")
	require.True(t, txs[1].Date.Equal(older))
	require.Equal(t, "Food", txs[0].CategoryName)
	require.Empty(t, txs[0].Note)
}

func TestForeignKeysEnforced(t *testing.T) {
	repo, _ := newTestRepo(t)
	_, err := repo.AddTransaction(context.Background(), core.Transaction{
		Type: core.Income, Amount: dec("1"), CategoryID: 99, CategoryName: "x",
		Description: "orphan", Date: time.Now(), AccountID: 99,
	})
	require.ErrorIs(t, err, core.ErrStorage)
}

func TestAtomicRollsBackEveryWrite(t *testing.T) {
	repo, n := newTestRepo(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := repo.Atomic(ctx, "two writes", func(q *Queries) error {
		if _, err := q.InsertAccount(ctx, core.Account{Name: "A", Type: core.Cash, Currency: "USD"}); err != nil {
			return err
		}
		if _, err := q.InsertSettings(ctx, core.DefaultSettings("USD")); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, core.ErrStorage)
	require.ErrorIs(t, err, boom)

	for _, tbl := range []core.Table{core.TableAccounts, core.TableSettings} {
		c, err := repo.Count(ctx, tbl)
		require.NoError(t, err)
		require.Zero(t, c, "table %s", tbl)
	}
	require.Empty(t, n.Calls())

	require.NoError(t, repo.Atomic(ctx, "two writes", func(q *Queries) error {
		if _, err := q.InsertAccount(ctx, core.Account{Name: "A", Type: core.Cash, Currency: "USD"}); err != nil {
			return err
		}
		_, err := q.InsertSettings(ctx, core.DefaultSettings("USD"))
		return err
	}))
	require.Equal(t, [][]core.Table{{core.TableAccounts, core.TableSettings}}, n.Calls(), "one notification per unit")
}

func TestClearAndSettings(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.GetSettings(ctx)
	require.ErrorIs(t, err, core.ErrNotFound)

	id, err := repo.AddSettings(ctx, core.DefaultSettings("EUR"))
	require.NoError(t, err)

	theme := core.ThemeDark
	require.NoError(t, repo.UpdateSettings(ctx, id, SettingsPatch{Theme: &theme}))
	s, err := repo.GetSettings(ctx)
	require.NoError(t, err)
	require.Equal(t, core.ThemeDark, s.Theme)
	require.Equal(t, "EUR", s.Currency)

	require.NoError(t, repo.Clear(ctx, core.TableSettings))
	c, err := repo.Count(ctx, core.TableSettings)
	require.NoError(t, err)
	require.Zero(t, c)

	require.Error(t, repo.Clear(ctx, core.Table("goals; DROP TABLE accounts")))
}

func TestClearRemovesReferencingRows(t *testing.T) {
	repo, n := newTestRepo(t)
	ctx := context.Background()

	accID, err := repo.AddAccount(ctx, core.Account{Name: "Main", Type: core.Checking, Currency: "USD"})
	require.NoError(t, err)
	catID, err := repo.AddCategory(ctx, core.Category{Name: "Food", Type: core.Expense})
	require.NoError(t, err)
	_, err = repo.AddTransaction(ctx, core.Transaction{
		Type: core.Expense, Amount: dec("5"), CategoryID: catID, CategoryName: "Food",
		Description: "lunch", Date: time.Now(), AccountID: accID,
	})
	require.NoError(t, err)
	_, err = repo.BulkAddBudgetLimits(ctx, []core.BudgetLimit{
		{CategoryID: catID, Amount: dec("100"), Period: core.Monthly, StartDate: time.Now()},
	})
	require.NoError(t, err)

	before := len(n.Calls())
	require.NoError(t, repo.Clear(ctx, core.TableCategories))
	calls := n.Calls()
	require.Len(t, calls, before+1, "one notification per clear")
	require.ElementsMatch(t,
		[]core.Table{core.TableTransactions, core.TableBudgetLimits, core.TableCategories}, calls[len(calls)-1])

	for _, tbl := range []core.Table{core.TableCategories, core.TableTransactions, core.TableBudgetLimits} {
		c, err := repo.Count(ctx, tbl)
		require.NoError(t, err)
		require.Zero(t, c, "table %s", tbl)
	}

	// accounts have no children left, but clearing them still works
	require.NoError(t, repo.Clear(ctx, core.TableAccounts))
	c, err := repo.Count(ctx, core.TableAccounts)
	require.NoError(t, err)
	require.Zero(t, c)
}

func TestClearAll(t *testing.T) {
	repo, n := newTestRepo(t)
	ctx := context.Background()

	accID, err := repo.AddAccount(ctx, core.Account{Name: "Main", Type: core.Checking, Currency: "USD"})
	require.NoError(t, err)
	catID, err := repo.AddCategory(ctx, core.Category{Name: "Food", Type: core.Expense})
	require.NoError(t, err)
	_, err = repo.AddTransaction(ctx, core.Transaction{
		Type: core.Expense, Amount: dec("5"), CategoryID: catID, CategoryName: "Food",
		Description: "lunch", Date: time.Now(), AccountID: accID,
	})
	require.NoError(t, err)
	_, err = repo.AddSettings(ctx, core.DefaultSettings("USD"))
	require.NoError(t, err)

	before := len(n.Calls())
	require.NoError(t, repo.ClearAll(ctx))
	require.Len(t, n.Calls(), before+1)
	for _, tbl := range core.AllTables() {
		c, err := repo.Count(ctx, tbl)
		require.NoError(t, err)
		require.Zero(t, c, "table %s", tbl)
	}
}

func TestReadAtomic(t *testing.T) {
	repo, n := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.AddAccount(ctx, core.Account{Name: "Main", Type: core.Checking, Balance: dec("10"), Currency: "USD"})
	require.NoError(t, err)
	before := len(n.Calls())

	var accounts []core.Account
	var limits []core.BudgetLimit
	require.NoError(t, repo.ReadAtomic(ctx, "read", func(q *Queries) (err error) {
		if accounts, err = q.ListAccounts(ctx); err != nil {
			return err
		}
		limits, err = q.ListBudgetLimits(ctx)
		return err
	}))
	require.Len(t, accounts, 1)
	require.Empty(t, limits)
	require.Len(t, n.Calls(), before, "reads notify nobody")

	err = repo.ReadAtomic(ctx, "sneaky write", func(q *Queries) error {
		_, err := q.InsertSettings(ctx, core.DefaultSettings("USD"))
		return err
	})
	require.ErrorIs(t, err, core.ErrStorage)
	c, err := repo.Count(ctx, core.TableSettings)
	require.NoError(t, err)
	require.Zero(t, c)
}

func TestReadAtomicInsideLiveQueryIsTracked(t *testing.T) {
	repo, _ := newTestRepo(t)
	hub := live.NewHub()
	defer hub.Close()

	_, sub, err := live.Observe(context.Background(), hub, func(ctx context.Context) (int, error) {
		var total int
		err := repo.ReadAtomic(ctx, "read", func(q *Queries) error {
			accounts, err := q.ListAccounts(ctx)
			if err != nil {
				return err
			}
			cats, err := q.ListCategories(ctx)
			total = len(accounts) + len(cats)
			return err
		})
		return total, err
	})
	require.NoError(t, err)
	defer sub.Close()
	require.Equal(t, []core.Table{core.TableCategories, core.TableAccounts}, sub.Tables())
}

func TestWriteFromLiveQueryRejected(t *testing.T) {
	repo, _ := newTestRepo(t)
	hub := live.NewHub()
	defer hub.Close()

	var writeErr error
	_, sub, err := live.Observe(context.Background(), hub, func(ctx context.Context) (int64, error) {
		_, writeErr = repo.AddAccount(ctx, core.Account{Name: "Loop", Type: core.Cash, Currency: "USD"})
		return repo.Count(ctx, core.TableAccounts)
	})
	require.NoError(t, err)
	defer sub.Close()

	require.ErrorIs(t, writeErr, live.ErrWriteInQuery)
	require.Equal(t, []core.Table{core.TableAccounts}, sub.Tables())
}

func TestLiveQueryOverStore(t *testing.T) {
	hub := live.NewHub()
	defer hub.Close()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "live.db"), hub)
	require.NoError(t, err)
	defer repo.Close()
	ctx := context.Background()

	v, sub, err := live.Observe(ctx, hub, repo.ListAccounts)
	require.NoError(t, err)
	defer sub.Close()
	require.Empty(t, v)

	_, err = repo.AddAccount(ctx, core.Account{Name: "Main", Type: core.Checking, Balance: dec("10"), Currency: "USD"})
	require.NoError(t, err)

	select {
	case u := <-sub.Updates():
		require.NoError(t, u.Err)
		require.Len(t, u.Value, 1)
		require.Equal(t, "Main", u.Value[0].Name)
	case <-time.After(2 * time.Second):
		t.Fatal("no live update after write")
	}
}

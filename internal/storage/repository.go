package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"budgetbook/internal/core"
	"budgetbook/internal/live"
	applog "budgetbook/internal/log"

	_ "modernc.org/sqlite"
)

// Notifier is told which tables a committed write unit changed.
type Notifier interface {
	Notify(tables ...core.Table)
}

type nopNotifier struct{}

func (nopNotifier) Notify(...core.Table) {}

// SQLiteRepository is the durable store for the five entity tables. Every
// write runs in its own SQLite transaction; observers are notified only
// after it commits.
type SQLiteRepository struct {
	db       *sql.DB
	queries  *Queries
	notifier Notifier
	version  uint
}

func NewSQLiteRepository(dbPath string, notifier Notifier) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, &core.StorageError{Op: "create db directory", Err: err}
	}

	// Run migrations before the main pool exists so it never sees an old schema
	version, err := RunMigrations(dbPath)
	if err != nil {
		return nil, &core.StorageError{Op: "migrate", Err: err}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, &core.StorageError{Op: "open database", Err: err}
	}
	// One connection serialises writers; reads queue behind an open transaction.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, &core.StorageError{Op: "ping database", Err: err}
	}

	if notifier == nil {
		notifier = nopNotifier{}
	}

	slog.Info("SQLite store ready", applog.FieldComponent, applog.ComponentStorage, "path", dbPath, "schema_version", version)

	return &SQLiteRepository{
		db:       db,
		queries:  New(db),
		notifier: notifier,
		version:  version,
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// SchemaVersion is the migration version applied when the store was opened.
func (r *SQLiteRepository) SchemaVersion() uint {
	return r.version
}

// Atomic runs fn inside one SQLite transaction. Either every write fn makes
// commits or none does; observers hear about the written tables once, after
// commit. Errors from fn that are not already typed come back as
// *core.StorageError.
func (r *SQLiteRepository) Atomic(ctx context.Context, op string, fn func(q *Queries) error) error {
	if live.InQuery(ctx) {
		return &core.StorageError{Op: op, Err: live.ErrWriteInQuery}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return &core.StorageError{Op: op, Err: fmt.Errorf("begin: %w", err)}
	}

	q := New(tx)
	if err := fn(q); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.ErrorContext(ctx, "Rollback failed", applog.FieldComponent, applog.ComponentStorage, applog.FieldOperation, op, applog.FieldError, rbErr)
		}
		return classify(op, err)
	}

	if err := tx.Commit(); err != nil {
		return &core.StorageError{Op: op, Err: fmt.Errorf("commit: %w", err)}
	}

	if written := q.Written(); len(written) > 0 {
		r.notifier.Notify(written...)
	}
	return nil
}

// ReadAtomic runs fn inside one read transaction, so every read fn makes sees
// the same committed state. Reads are still tracked for live queries, which
// may call it. fn must not write.
func (r *SQLiteRepository) ReadAtomic(ctx context.Context, op string, fn func(q *Queries) error) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return &core.StorageError{Op: op, Err: fmt.Errorf("begin: %w", err)}
	}

	q := New(tx)
	if err := fn(q); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.ErrorContext(ctx, "Rollback failed", applog.FieldComponent, applog.ComponentStorage, applog.FieldOperation, op, applog.FieldError, rbErr)
		}
		return classify(op, err)
	}
	if written := q.Written(); len(written) > 0 {
		_ = tx.Rollback()
		return &core.StorageError{Op: op, Err: fmt.Errorf("write to %v inside a read unit", written)}
	}

	if err := tx.Commit(); err != nil {
		return &core.StorageError{Op: op, Err: fmt.Errorf("commit: %w", err)}
	}
	return nil
}

// classify leaves typed domain errors alone and wraps everything else.
func classify(op string, err error) error {
	if errors.Is(err, core.ErrValidation) || errors.Is(err, core.ErrNotFound) || errors.Is(err, core.ErrStorage) {
		return err
	}
	return &core.StorageError{Op: op, Err: err}
}

func (r *SQLiteRepository) AddAccount(ctx context.Context, a core.Account) (int64, error) {
	var id int64
	err := r.Atomic(ctx, "add account", func(q *Queries) (err error) {
		id, err = q.InsertAccount(ctx, a)
		return err
	})
	if err != nil {
		return 0, err
	}
	slog.InfoContext(ctx, "Account saved", applog.FieldComponent, applog.ComponentStorage, "id", id, "name", a.Name, "type", a.Type)
	return id, nil
}

// BulkAddAccounts inserts all accounts or none.
func (r *SQLiteRepository) BulkAddAccounts(ctx context.Context, accounts []core.Account) ([]int64, error) {
	ids := make([]int64, 0, len(accounts))
	err := r.Atomic(ctx, "bulk add accounts", func(q *Queries) error {
		for _, a := range accounts {
			id, err := q.InsertAccount(ctx, a)
			if err != nil {
				return fmt.Errorf("insert account %q: %w", a.Name, err)
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *SQLiteRepository) AddCategory(ctx context.Context, c core.Category) (int64, error) {
	var id int64
	err := r.Atomic(ctx, "add category", func(q *Queries) (err error) {
		id, err = q.InsertCategory(ctx, c)
		return err
	})
	return id, err
}

// BulkAddCategories inserts all categories or none.
func (r *SQLiteRepository) BulkAddCategories(ctx context.Context, categories []core.Category) ([]int64, error) {
	ids := make([]int64, 0, len(categories))
	err := r.Atomic(ctx, "bulk add categories", func(q *Queries) error {
		for _, c := range categories {
			id, err := q.InsertCategory(ctx, c)
			if err != nil {
				return fmt.Errorf("insert category %q: %w", c.Name, err)
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// AddTransaction stores t as given. It does not touch account balances;
// the ledger service does both in one Atomic unit.
func (r *SQLiteRepository) AddTransaction(ctx context.Context, t core.Transaction) (int64, error) {
	var id int64
	err := r.Atomic(ctx, "add transaction", func(q *Queries) (err error) {
		id, err = q.InsertTransaction(ctx, t)
		return err
	})
	return id, err
}

// BulkAddBudgetLimits inserts all limits or none.
func (r *SQLiteRepository) BulkAddBudgetLimits(ctx context.Context, limits []core.BudgetLimit) ([]int64, error) {
	ids := make([]int64, 0, len(limits))
	err := r.Atomic(ctx, "bulk add budget limits", func(q *Queries) error {
		for _, b := range limits {
			id, err := q.InsertBudgetLimit(ctx, b)
			if err != nil {
				return fmt.Errorf("insert budget limit for category %d: %w", b.CategoryID, err)
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *SQLiteRepository) AddSettings(ctx context.Context, s core.Settings) (int64, error) {
	var id int64
	err := r.Atomic(ctx, "add settings", func(q *Queries) (err error) {
		id, err = q.InsertSettings(ctx, s)
		return err
	})
	return id, err
}

// UpdateAccount merges p into account id.
func (r *SQLiteRepository) UpdateAccount(ctx context.Context, id int64, p AccountPatch) error {
	return r.Atomic(ctx, "update account", func(q *Queries) error {
		n, err := q.UpdateAccount(ctx, id, p)
		if err != nil {
			return err
		}
		if n == 0 {
			return &core.NotFoundError{Entity: "account", ID: id}
		}
		return nil
	})
}

// UpdateSettings merges p into settings row id.
func (r *SQLiteRepository) UpdateSettings(ctx context.Context, id int64, p SettingsPatch) error {
	return r.Atomic(ctx, "update settings", func(q *Queries) error {
		n, err := q.UpdateSettings(ctx, id, p)
		if err != nil {
			return err
		}
		if n == 0 {
			return &core.NotFoundError{Entity: "settings", ID: id}
		}
		return nil
	})
}

// Clear removes every row of one table. Rows in other tables that reference
// it are removed first in the same unit, so clearing accounts also clears
// transactions and clearing categories also clears transactions and budget
// limits.
func (r *SQLiteRepository) Clear(ctx context.Context, table core.Table) error {
	err := r.Atomic(ctx, "clear "+string(table), func(q *Queries) error {
		for _, child := range dependents(table) {
			if err := q.ClearTable(ctx, child); err != nil {
				return err
			}
		}
		return q.ClearTable(ctx, table)
	})
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "Table cleared", applog.FieldComponent, applog.ComponentStorage, applog.FieldTable, table)
	return nil
}

// ClearAll empties every table in one unit.
func (r *SQLiteRepository) ClearAll(ctx context.Context) error {
	err := r.Atomic(ctx, "clear all", func(q *Queries) error {
		for _, t := range core.AllTables() {
			if err := q.ClearTable(ctx, t); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "All tables cleared", applog.FieldComponent, applog.ComponentStorage)
	return nil
}

// dependents lists the tables holding foreign keys into table.
func dependents(table core.Table) []core.Table {
	switch table {
	case core.TableAccounts:
		return []core.Table{core.TableTransactions}
	case core.TableCategories:
		return []core.Table{core.TableTransactions, core.TableBudgetLimits}
	}
	return nil
}

func (r *SQLiteRepository) Count(ctx context.Context, table core.Table) (int64, error) {
	n, err := r.queries.CountTable(ctx, table)
	if err != nil {
		return 0, classify("count "+string(table), err)
	}
	return n, nil
}

func (r *SQLiteRepository) GetAccount(ctx context.Context, id int64) (core.Account, error) {
	a, err := r.queries.GetAccount(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return a, &core.NotFoundError{Entity: "account", ID: id}
	}
	if err != nil {
		return a, classify("get account", err)
	}
	return a, nil
}

func (r *SQLiteRepository) GetCategory(ctx context.Context, id int64) (core.Category, error) {
	c, err := r.queries.GetCategory(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return c, &core.NotFoundError{Entity: "category", ID: id}
	}
	if err != nil {
		return c, classify("get category", err)
	}
	return c, nil
}

// GetSettings returns the singleton settings row.
func (r *SQLiteRepository) GetSettings(ctx context.Context) (core.Settings, error) {
	s, err := r.queries.GetSettings(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return s, &core.NotFoundError{Entity: "settings"}
	}
	if err != nil {
		return s, classify("get settings", err)
	}
	return s, nil
}

func (r *SQLiteRepository) ListAccounts(ctx context.Context) ([]core.Account, error) {
	out, err := r.queries.ListAccounts(ctx)
	if err != nil {
		return nil, classify("list accounts", err)
	}
	return out, nil
}

func (r *SQLiteRepository) ListCategories(ctx context.Context) ([]core.Category, error) {
	out, err := r.queries.ListCategories(ctx)
	if err != nil {
		return nil, classify("list categories", err)
	}
	return out, nil
}

// ListTransactions returns transactions newest first.
func (r *SQLiteRepository) ListTransactions(ctx context.Context) ([]core.Transaction, error) {
	out, err := r.queries.ListTransactions(ctx)
	if err != nil {
		return nil, classify("list transactions", err)
	}
	return out, nil
}

func (r *SQLiteRepository) ListBudgetLimits(ctx context.Context) ([]core.BudgetLimit, error) {
	out, err := r.queries.ListBudgetLimits(ctx)
	if err != nil {
		return nil, classify("list budget limits", err)
	}
	return out, nil
}

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"budgetbook/internal/core"
	"budgetbook/internal/live"
)

// timeLayout is fixed width and always UTC so stored dates sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

// Queries holds the SQL for every table. Reads record their table for live
// queries; writes record theirs so the repository knows whom to notify once
// the surrounding transaction commits.
type Queries struct {
	db      DBTX
	written map[core.Table]struct{}
}

func New(db DBTX) *Queries {
	return &Queries{db: db, written: make(map[core.Table]struct{})}
}

// Written returns the tables changed through q, in clearing order.
func (q *Queries) Written() []core.Table {
	var out []core.Table
	for _, t := range core.AllTables() {
		if _, ok := q.written[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

func (q *Queries) wrote(t core.Table) {
	q.written[t] = struct{}{}
}

// IsNoRows reports whether a single-row read found nothing.
func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// tolerate rows written by hand with plain RFC 3339
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}

type AccountPatch struct {
	Name     *string
	Type     *core.AccountType
	Balance  *decimal.Decimal
	Currency *string
}

type SettingsPatch struct {
	Name     *string
	Currency *string
	Theme    *core.Theme
}

// --- accounts

const insertAccount = `INSERT INTO accounts (name, type, balance, currency) VALUES (?, ?, ?, ?)`

func (q *Queries) InsertAccount(ctx context.Context, a core.Account) (int64, error) {
	res, err := q.db.ExecContext(ctx, insertAccount, a.Name, string(a.Type), a.Balance.String(), a.Currency)
	if err != nil {
		return 0, err
	}
	q.wrote(core.TableAccounts)
	return res.LastInsertId()
}

const selectAccounts = `SELECT id, name, type, balance, currency FROM accounts`

func scanAccount(sc interface{ Scan(...any) error }) (core.Account, error) {
	var a core.Account
	var typ string
	if err := sc.Scan(&a.ID, &a.Name, &typ, &a.Balance, &a.Currency); err != nil {
		return a, err
	}
	a.Type = core.AccountType(typ)
	return a, nil
}

func (q *Queries) GetAccount(ctx context.Context, id int64) (core.Account, error) {
	live.Track(ctx, core.TableAccounts)
	return scanAccount(q.db.QueryRowContext(ctx, selectAccounts+` WHERE id = ?`, id))
}

func (q *Queries) ListAccounts(ctx context.Context) ([]core.Account, error) {
	live.Track(ctx, core.TableAccounts)
	rows, err := q.db.QueryContext(ctx, selectAccounts+` ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []core.Account{}
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpdateAccount merges the set fields of p into row id and returns the
// number of rows matched.
func (q *Queries) UpdateAccount(ctx context.Context, id int64, p AccountPatch) (int64, error) {
	var sets []string
	var args []any
	if p.Name != nil {
		sets, args = append(sets, "name = ?"), append(args, *p.Name)
	}
	if p.Type != nil {
		sets, args = append(sets, "type = ?"), append(args, string(*p.Type))
	}
	if p.Balance != nil {
		sets, args = append(sets, "balance = ?"), append(args, p.Balance.String())
	}
	if p.Currency != nil {
		sets, args = append(sets, "currency = ?"), append(args, *p.Currency)
	}
	return q.update(ctx, core.TableAccounts, id, sets, args)
}

// --- categories

const insertCategory = `INSERT INTO categories (name, type, icon) VALUES (?, ?, ?)`

func (q *Queries) InsertCategory(ctx context.Context, c core.Category) (int64, error) {
	res, err := q.db.ExecContext(ctx, insertCategory, c.Name, string(c.Type), c.Icon)
	if err != nil {
		return 0, err
	}
	q.wrote(core.TableCategories)
	return res.LastInsertId()
}

const selectCategories = `SELECT id, name, type, icon FROM categories`

func scanCategory(sc interface{ Scan(...any) error }) (core.Category, error) {
	var c core.Category
	var typ string
	if err := sc.Scan(&c.ID, &c.Name, &typ, &c.Icon); err != nil {
		return c, err
	}
	c.Type = core.TransactionType(typ)
	return c, nil
}

func (q *Queries) GetCategory(ctx context.Context, id int64) (core.Category, error) {
	live.Track(ctx, core.TableCategories)
	return scanCategory(q.db.QueryRowContext(ctx, selectCategories+` WHERE id = ?`, id))
}

func (q *Queries) ListCategories(ctx context.Context) ([]core.Category, error) {
	live.Track(ctx, core.TableCategories)
	rows, err := q.db.QueryContext(ctx, selectCategories+` ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []core.Category{}
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- transactions

const insertTransaction = `INSERT INTO transactions
	(type, amount, category_id, category_name, description, date, account_id, note)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) InsertTransaction(ctx context.Context, t core.Transaction) (int64, error) {
	note := sql.NullString{String: t.Note, Valid: t.Note != ""}
	res, err := q.db.ExecContext(ctx, insertTransaction,
		string(t.Type), t.Amount.String(), t.CategoryID, t.CategoryName,
		t.Description, formatTime(t.Date), t.AccountID, note)
	if err != nil {
		return 0, err
	}
	q.wrote(core.TableTransactions)
	return res.LastInsertId()
}

const selectTransactions = `SELECT id, type, amount, category_id, category_name, description, date, account_id, note
	FROM transactions ORDER BY date DESC, id DESC`

func (q *Queries) ListTransactions(ctx context.Context) ([]core.Transaction, error) {
	live.Track(ctx, core.TableTransactions)
	rows, err := q.db.QueryContext(ctx, selectTransactions)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []core.Transaction{}
	for rows.Next() {
		var (
			t        core.Transaction
			typ, day string
			note     sql.NullString
		)
		if err := rows.Scan(&t.ID, &typ, &t.Amount, &t.CategoryID, &t.CategoryName,
			&t.Description, &day, &t.AccountID, &note); err != nil {
			return nil, err
		}
		t.Type = core.TransactionType(typ)
		t.Note = note.String
		if t.Date, err = parseTime(day); err != nil {
			return nil, fmt.Errorf("transaction %d date: %w", t.ID, err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// --- budget limits

const insertBudgetLimit = `INSERT INTO budget_limits (category_id, amount, period, start_date) VALUES (?, ?, ?, ?)`

func (q *Queries) InsertBudgetLimit(ctx context.Context, b core.BudgetLimit) (int64, error) {
	res, err := q.db.ExecContext(ctx, insertBudgetLimit, b.CategoryID, b.Amount.String(), string(b.Period), formatTime(b.StartDate))
	if err != nil {
		return 0, err
	}
	q.wrote(core.TableBudgetLimits)
	return res.LastInsertId()
}

func (q *Queries) ListBudgetLimits(ctx context.Context) ([]core.BudgetLimit, error) {
	live.Track(ctx, core.TableBudgetLimits)
	rows, err := q.db.QueryContext(ctx, `SELECT id, category_id, amount, period, start_date FROM budget_limits ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []core.BudgetLimit{}
	for rows.Next() {
		var (
			b             core.BudgetLimit
			period, start string
		)
		if err := rows.Scan(&b.ID, &b.CategoryID, &b.Amount, &period, &start); err != nil {
			return nil, err
		}
		b.Period = core.BudgetPeriod(period)
		if b.StartDate, err = parseTime(start); err != nil {
			return nil, fmt.Errorf("budget limit %d start date: %w", b.ID, err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// --- settings

const insertSettings = `INSERT INTO settings (name, currency, theme) VALUES (?, ?, ?)`

func (q *Queries) InsertSettings(ctx context.Context, s core.Settings) (int64, error) {
	res, err := q.db.ExecContext(ctx, insertSettings, s.Name, s.Currency, string(s.Theme))
	if err != nil {
		return 0, err
	}
	q.wrote(core.TableSettings)
	return res.LastInsertId()
}

// GetSettings returns the first settings row.
func (q *Queries) GetSettings(ctx context.Context) (core.Settings, error) {
	live.Track(ctx, core.TableSettings)
	var s core.Settings
	var theme string
	err := q.db.QueryRowContext(ctx, `SELECT id, name, currency, theme FROM settings ORDER BY id LIMIT 1`).
		Scan(&s.ID, &s.Name, &s.Currency, &theme)
	s.Theme = core.Theme(theme)
	return s, err
}

func (q *Queries) UpdateSettings(ctx context.Context, id int64, p SettingsPatch) (int64, error) {
	var sets []string
	var args []any
	if p.Name != nil {
		sets, args = append(sets, "name = ?"), append(args, *p.Name)
	}
	if p.Currency != nil {
		sets, args = append(sets, "currency = ?"), append(args, *p.Currency)
	}
	if p.Theme != nil {
		sets, args = append(sets, "theme = ?"), append(args, string(*p.Theme))
	}
	return q.update(ctx, core.TableSettings, id, sets, args)
}

// --- any table

func (q *Queries) update(ctx context.Context, table core.Table, id int64, sets []string, args []any) (int64, error) {
	if len(sets) == 0 {
		var n int64
		err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+string(table)+` WHERE id = ?`, id).Scan(&n)
		return n, err
	}
	res, err := q.db.ExecContext(ctx,
		`UPDATE `+string(table)+` SET `+strings.Join(sets, ", ")+` WHERE id = ?`,
		append(args, id)...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		q.wrote(table)
	}
	return n, nil
}

// ClearTable deletes every row of table. Table names come from core and are
// checked before being spliced into the statement.
func (q *Queries) ClearTable(ctx context.Context, table core.Table) error {
	if !table.Valid() {
		return fmt.Errorf("unknown table %q", table)
	}
	if _, err := q.db.ExecContext(ctx, `DELETE FROM `+string(table)); err != nil {
		return err
	}
	q.wrote(table)
	return nil
}

func (q *Queries) CountTable(ctx context.Context, table core.Table) (int64, error) {
	if !table.Valid() {
		return 0, fmt.Errorf("unknown table %q", table)
	}
	live.Track(ctx, table)
	var n int64
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+string(table)).Scan(&n)
	return n, err
}

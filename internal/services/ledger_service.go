package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"budgetbook/internal/amqp"
	"budgetbook/internal/analytics"
	"budgetbook/internal/core"
	applog "budgetbook/internal/log"
	"budgetbook/internal/storage"
)

// EventPublisher receives a LedgerEvent after every committed write.
type EventPublisher interface {
	PublishLedgerEvent(ctx context.Context, event *amqp.LedgerEvent) error
}

// LedgerService is the only writer of the ledger. Each operation is one
// atomic unit against the store.
type LedgerService struct {
	storage         *storage.SQLiteRepository
	publisher       EventPublisher
	defaultCurrency string
	logger          *applog.Logger
	now             func() time.Time
}

// NewLedgerService wires the service. publisher may be nil.
func NewLedgerService(storage *storage.SQLiteRepository, publisher EventPublisher, defaultCurrency string) *LedgerService {
	return &LedgerService{
		storage:         storage,
		publisher:       publisher,
		defaultCurrency: defaultCurrency,
		logger:          applog.Default(applog.ComponentLedger),
		now:             time.Now,
	}
}

type AccountInput struct {
	Name    string           `json:"name"`
	Type    core.AccountType `json:"type"`
	Balance string           `json:"balance"`
}

type OnboardingInput struct {
	Name       string          `json:"name"`
	Currency   string          `json:"currency"`
	Accounts   []AccountInput  `json:"accounts"`
	Categories []core.Category `json:"categories"`
}

type OnboardingResult struct {
	SettingsID  int64   `json:"settingsId"`
	AccountIDs  []int64 `json:"accountIds"`
	CategoryIDs []int64 `json:"categoryIds"`
}

type SettingsUpdate struct {
	Name     *string     `json:"name,omitempty"`
	Currency *string     `json:"currency,omitempty"`
	Theme    *core.Theme `json:"theme,omitempty"`
}

// DefaultCategories is the starter set offered during onboarding.
func DefaultCategories() []core.Category {
	return []core.Category{
		{Name: "Groceries", Type: core.Expense, Icon: "shopping-cart"},
		{Name: "Rent", Type: core.Expense, Icon: "home"},
		{Name: "Transportation", Type: core.Expense, Icon: "car"},
		{Name: "Entertainment", Type: core.Expense, Icon: "film"},
		{Name: "Utilities", Type: core.Expense, Icon: "zap"},
		{Name: "Salary", Type: core.Income, Icon: "briefcase"},
		{Name: "Freelance", Type: core.Income, Icon: "laptop"},
		{Name: "Investments", Type: core.Income, Icon: "trending-up"},
	}
}

// AddTransaction records a transaction and applies it to its account's
// balance in the same unit: income adds, expense subtracts. The category
// name is captured at this point.
func (s *LedgerService) AddTransaction(ctx context.Context, in core.TransactionInput) (core.Transaction, error) {
	if err := in.Validate(); err != nil {
		return core.Transaction{}, err
	}

	tx := core.Transaction{
		Type:        in.Type,
		Amount:      in.Amount,
		CategoryID:  in.CategoryID,
		Description: strings.TrimSpace(in.Description),
		Date:        in.Date,
		AccountID:   in.AccountID,
		Note:        strings.TrimSpace(in.Note),
	}

	err := s.storage.Atomic(ctx, "add transaction", func(q *storage.Queries) error {
		account, err := q.GetAccount(ctx, in.AccountID)
		if err != nil {
			return notFoundAsValidation(err, "accountId", "Account not found")
		}
		category, err := q.GetCategory(ctx, in.CategoryID)
		if err != nil {
			return notFoundAsValidation(err, "category", "Category not found")
		}
		tx.CategoryName = category.Name

		if tx.ID, err = q.InsertTransaction(ctx, tx); err != nil {
			return err
		}

		balance := account.Balance.Add(in.Type.Signed(in.Amount)).Round(2)
		n, err := q.UpdateAccount(ctx, account.ID, storage.AccountPatch{Balance: &balance})
		if err != nil {
			return err
		}
		if n == 0 {
			return &core.NotFoundError{Entity: "account", ID: account.ID}
		}
		return nil
	})
	if err != nil {
		return core.Transaction{}, err
	}

	s.logger.Fields(ctx, slog.LevelInfo, "Transaction added", applog.NewFields().
		WithOperation(applog.OpCreate).
		WithTransaction(tx.ID, string(tx.Type), tx.Amount.StringFixed(2), tx.AccountID))

	s.publish(ctx, amqp.NewLedgerEvent(amqp.OpTransactionAdded, tx.ID, core.TableTransactions, core.TableAccounts))
	return tx, nil
}

// UpdateAccountBalance overwrites an account's balance without recording a
// transaction.
func (s *LedgerService) UpdateAccountBalance(ctx context.Context, accountID int64, balance decimal.Decimal) error {
	balance = balance.Round(2)
	if err := s.storage.UpdateAccount(ctx, accountID, storage.AccountPatch{Balance: &balance}); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "Account balance updated",
		applog.FieldOperation, applog.OpUpdate,
		applog.FieldAccountID, accountID,
		"balance", balance.StringFixed(2))
	s.publish(ctx, amqp.NewLedgerEvent(amqp.OpBalanceUpdated, accountID, core.TableAccounts))
	return nil
}

// SaveBudgetLimits replaces every budget limit with the given
// category->amount map. A zero amount means no limit for that category.
// Saved limits are monthly and start now.
func (s *LedgerService) SaveBudgetLimits(ctx context.Context, limits map[int64]decimal.Decimal) ([]core.BudgetLimit, error) {
	categoryIDs := make([]int64, 0, len(limits))
	for id, amount := range limits {
		if amount.IsNegative() {
			return nil, core.NewValidationError("amount", fmt.Sprintf("budget limit for category %d must not be negative", id))
		}
		if amount.IsZero() {
			continue
		}
		categoryIDs = append(categoryIDs, id)
	}
	sort.Slice(categoryIDs, func(i, j int) bool { return categoryIDs[i] < categoryIDs[j] })

	start := s.now()
	saved := make([]core.BudgetLimit, 0, len(categoryIDs))
	err := s.storage.Atomic(ctx, "save budget limits", func(q *storage.Queries) error {
		for _, id := range categoryIDs {
			c, err := q.GetCategory(ctx, id)
			if err != nil {
				return notFoundAsValidation(err, "categoryId", fmt.Sprintf("Category %d not found", id))
			}
			if c.Type != core.Expense {
				return core.NewValidationError("categoryId", fmt.Sprintf("category %q is not an expense category", c.Name))
			}
		}

		if err := q.ClearTable(ctx, core.TableBudgetLimits); err != nil {
			return err
		}
		for _, id := range categoryIDs {
			l := core.BudgetLimit{
				CategoryID: id,
				Amount:     limits[id].Round(2),
				Period:     core.Monthly,
				StartDate:  start,
			}
			var err error
			if l.ID, err = q.InsertBudgetLimit(ctx, l); err != nil {
				return err
			}
			saved = append(saved, l)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "Budget limits saved", applog.FieldOperation, applog.OpUpdate, "count", len(saved))
	s.publish(ctx, amqp.NewLedgerEvent(amqp.OpBudgetLimitsSaved, 0, core.TableBudgetLimits))
	return saved, nil
}

// ResetAll wipes every collection and writes the default settings row back,
// as one unit.
func (s *LedgerService) ResetAll(ctx context.Context) error {
	err := s.storage.Atomic(ctx, "reset", func(q *storage.Queries) error {
		for _, t := range core.AllTables() {
			if err := q.ClearTable(ctx, t); err != nil {
				return err
			}
		}
		_, err := q.InsertSettings(ctx, core.DefaultSettings(s.defaultCurrency))
		return err
	})
	if err != nil {
		return err
	}

	s.logger.WarnContext(ctx, "Ledger reset", applog.FieldOperation, applog.OpReset)
	s.publish(ctx, amqp.NewLedgerEvent(amqp.OpLedgerReset, 0, core.AllTables()...))
	return nil
}

// CompleteOnboarding stores the user's profile, starting accounts and
// categories in one unit. An existing settings row is updated in place so
// the table keeps a single row.
func (s *LedgerService) CompleteOnboarding(ctx context.Context, in OnboardingInput) (OnboardingResult, error) {
	settings := core.Settings{
		Name:     strings.TrimSpace(in.Name),
		Currency: strings.ToUpper(strings.TrimSpace(in.Currency)),
		Theme:    core.ThemeLight,
	}
	if err := settings.Validate(); err != nil {
		return OnboardingResult{}, err
	}
	if len(in.Accounts) == 0 {
		return OnboardingResult{}, core.NewValidationError("accounts", "at least one account is required")
	}

	accounts := make([]core.Account, 0, len(in.Accounts))
	for _, a := range in.Accounts {
		balance, err := core.ParseDecimal(a.Balance)
		if err != nil {
			return OnboardingResult{}, core.NewValidationError("balance", fmt.Sprintf("invalid balance for %q: %v", a.Name, err))
		}
		acc := core.Account{
			Name:     strings.TrimSpace(a.Name),
			Type:     a.Type,
			Balance:  balance,
			Currency: settings.Currency,
		}
		if err := acc.Validate(); err != nil {
			return OnboardingResult{}, err
		}
		accounts = append(accounts, acc)
	}

	categories := in.Categories
	if len(categories) == 0 {
		categories = DefaultCategories()
	}
	for _, c := range categories {
		if err := c.Validate(); err != nil {
			return OnboardingResult{}, err
		}
	}

	var res OnboardingResult
	err := s.storage.Atomic(ctx, "complete onboarding", func(q *storage.Queries) error {
		n, err := q.CountTable(ctx, core.TableAccounts)
		if err != nil {
			return err
		}
		if n > 0 {
			return core.NewValidationError("onboarding", "onboarding is already complete")
		}

		if res.SettingsID, err = upsertSettings(ctx, q, settings); err != nil {
			return err
		}
		for _, a := range accounts {
			id, err := q.InsertAccount(ctx, a)
			if err != nil {
				return err
			}
			res.AccountIDs = append(res.AccountIDs, id)
		}
		for _, c := range categories {
			id, err := q.InsertCategory(ctx, c)
			if err != nil {
				return err
			}
			res.CategoryIDs = append(res.CategoryIDs, id)
		}
		return nil
	})
	if err != nil {
		return OnboardingResult{}, err
	}

	s.logger.InfoContext(ctx, "Onboarding completed",
		applog.FieldOperation, applog.OpCreate,
		"accounts", len(res.AccountIDs),
		"categories", len(res.CategoryIDs),
		"currency", settings.Currency)
	s.publish(ctx, amqp.NewLedgerEvent(amqp.OpOnboardingComplete, 0,
		core.TableSettings, core.TableAccounts, core.TableCategories))
	return res, nil
}

func upsertSettings(ctx context.Context, q *storage.Queries, s core.Settings) (int64, error) {
	cur, err := q.GetSettings(ctx)
	if err == nil {
		_, err = q.UpdateSettings(ctx, cur.ID, storage.SettingsPatch{Name: &s.Name, Currency: &s.Currency, Theme: &s.Theme})
		return cur.ID, err
	}
	if !storage.IsNoRows(err) {
		return 0, err
	}
	return q.InsertSettings(ctx, s)
}

// EnsureDefaults writes the default settings row when none exists. It never
// creates accounts, so a fresh store still reports onboarding as pending.
func (s *LedgerService) EnsureDefaults(ctx context.Context) error {
	created := false
	err := s.storage.Atomic(ctx, "ensure defaults", func(q *storage.Queries) error {
		n, err := q.CountTable(ctx, core.TableSettings)
		if err != nil || n > 0 {
			return err
		}
		created = true
		_, err = q.InsertSettings(ctx, core.DefaultSettings(s.defaultCurrency))
		return err
	})
	if err != nil {
		return err
	}
	if created {
		s.logger.InfoContext(ctx, "Default settings created", applog.FieldOperation, applog.OpStartup)
	}
	return nil
}

func (s *LedgerService) UpdateSettings(ctx context.Context, u SettingsUpdate) (core.Settings, error) {
	if u.Name != nil {
		name := strings.TrimSpace(*u.Name)
		if name == "" {
			return core.Settings{}, core.NewValidationError("name", "name is required")
		}
		u.Name = &name
	}
	if u.Currency != nil {
		cur := strings.ToUpper(strings.TrimSpace(*u.Currency))
		if cur == "" {
			return core.Settings{}, core.NewValidationError("currency", "currency is required")
		}
		u.Currency = &cur
	}
	if u.Theme != nil && !u.Theme.Valid() {
		return core.Settings{}, core.NewValidationError("theme", "invalid theme "+string(*u.Theme))
	}

	var out core.Settings
	err := s.storage.Atomic(ctx, "update settings", func(q *storage.Queries) error {
		cur, err := q.GetSettings(ctx)
		if storage.IsNoRows(err) {
			return &core.NotFoundError{Entity: "settings"}
		}
		if err != nil {
			return err
		}
		if _, err := q.UpdateSettings(ctx, cur.ID, storage.SettingsPatch{Name: u.Name, Currency: u.Currency, Theme: u.Theme}); err != nil {
			return err
		}
		out, err = q.GetSettings(ctx)
		return err
	})
	if err != nil {
		return core.Settings{}, err
	}

	s.publish(ctx, amqp.NewLedgerEvent(amqp.OpSettingsUpdated, out.ID, core.TableSettings))
	return out, nil
}

// IsOnboardingComplete reports whether at least one account exists.
func (s *LedgerService) IsOnboardingComplete(ctx context.Context) (bool, error) {
	n, err := s.storage.Count(ctx, core.TableAccounts)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Snapshot reads the four collections the analytics views work on in one
// read unit, so a concurrent write is either fully in it or not at all.
func (s *LedgerService) Snapshot(ctx context.Context) (analytics.Snapshot, error) {
	var snap analytics.Snapshot
	err := s.storage.ReadAtomic(ctx, "snapshot", func(q *storage.Queries) (err error) {
		if snap.Accounts, err = q.ListAccounts(ctx); err != nil {
			return err
		}
		if snap.Categories, err = q.ListCategories(ctx); err != nil {
			return err
		}
		if snap.Transactions, err = q.ListTransactions(ctx); err != nil {
			return err
		}
		snap.BudgetLimits, err = q.ListBudgetLimits(ctx)
		return err
	})
	if err != nil {
		return analytics.Snapshot{}, err
	}
	return snap, nil
}

// Dashboard computes every derived view over a fresh snapshot.
func (s *LedgerService) Dashboard(ctx context.Context, r analytics.TimeRange) (analytics.DashboardView, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return analytics.DashboardView{}, err
	}
	return analytics.Dashboard(snap, r, s.now())
}

func (s *LedgerService) Settings(ctx context.Context) (core.Settings, error) {
	return s.storage.GetSettings(ctx)
}

func (s *LedgerService) Accounts(ctx context.Context) ([]core.Account, error) {
	return s.storage.ListAccounts(ctx)
}

func (s *LedgerService) Categories(ctx context.Context) ([]core.Category, error) {
	return s.storage.ListCategories(ctx)
}

func (s *LedgerService) Transactions(ctx context.Context) ([]core.Transaction, error) {
	return s.storage.ListTransactions(ctx)
}

func (s *LedgerService) BudgetLimits(ctx context.Context) ([]core.BudgetLimit, error) {
	return s.storage.ListBudgetLimits(ctx)
}

func (s *LedgerService) publish(ctx context.Context, event *amqp.LedgerEvent) {
	if s.publisher == nil {
		s.logger.DebugContext(ctx, "No event publisher, skipping ledger event", applog.FieldOperation, event.Operation)
		return
	}
	if err := s.publisher.PublishLedgerEvent(ctx, event); err != nil {
		// the write is committed; a lost event is not a failed request
		fields := applog.NewFields().WithOperation(applog.OpPublish).WithError(err)
		fields["event"] = event.Operation
		s.logger.Fields(ctx, slog.LevelError, "Failed to publish ledger event", fields)
	}
}

// notFoundAsValidation turns a missing referenced row into a validation
// error on field.
func notFoundAsValidation(err error, field, msg string) error {
	if storage.IsNoRows(err) {
		return core.NewValidationError(field, msg)
	}
	return err
}

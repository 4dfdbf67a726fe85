package core

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	Checking AccountType = "checking"
	Savings  AccountType = "savings"
	Credit   AccountType = "credit"
	Cash     AccountType = "cash"

	Expense TransactionType = "expense"
	Income  TransactionType = "income"

	Monthly BudgetPeriod = "monthly"
	Yearly  BudgetPeriod = "yearly"

	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

type (
	AccountType     string
	TransactionType string
	BudgetPeriod    string
	Theme           string

	// Account balance is a running total, changed only when a transaction
	// touching the account is applied.
	Account struct {
		ID       int64           `json:"id"`
		Name     string          `json:"name"`
		Type     AccountType     `json:"type"`
		Balance  decimal.Decimal `json:"balance"`
		Currency string          `json:"currency"`
	}

	// Category.Type tells which kind of transaction the category classifies.
	Category struct {
		ID   int64           `json:"id"`
		Name string          `json:"name"`
		Type TransactionType `json:"type"`
		Icon string          `json:"icon,omitempty"`
	}

	// Transaction.CategoryName is the category name captured when the
	// transaction was recorded. It is not kept in sync with later renames.
	Transaction struct {
		ID           int64           `json:"id"`
		Type         TransactionType `json:"type"`
		Amount       decimal.Decimal `json:"amount"`
		CategoryID   int64           `json:"category"`
		CategoryName string          `json:"categoryName"`
		Description  string          `json:"description"`
		Date         time.Time       `json:"date"`
		AccountID    int64           `json:"accountId"`
		Note         string          `json:"note,omitempty"`
	}

	BudgetLimit struct {
		ID         int64           `json:"id"`
		CategoryID int64           `json:"categoryId"`
		Amount     decimal.Decimal `json:"amount"`
		Period     BudgetPeriod    `json:"period"`
		StartDate  time.Time       `json:"startDate"`
	}

	Settings struct {
		ID       int64  `json:"id"`
		Name     string `json:"name"`
		Currency string `json:"currency"`
		Theme    Theme  `json:"theme"`
	}

	// TransactionInput is what a caller hands to the add-transaction
	// operation; CategoryName is resolved by the ledger, not supplied.
	TransactionInput struct {
		Type        TransactionType `json:"type"`
		Amount      decimal.Decimal `json:"amount"`
		CategoryID  int64           `json:"category"`
		AccountID   int64           `json:"accountId"`
		Description string          `json:"description"`
		Note        string          `json:"note,omitempty"`
		Date        time.Time       `json:"date"`
	}
)

// DefaultSettings is the row written on first start and after a reset.
func DefaultSettings(currency string) Settings {
	if strings.TrimSpace(currency) == "" {
		currency = "USD"
	}
	return Settings{Name: "User", Currency: currency, Theme: ThemeLight}
}

func (t AccountType) Valid() bool {
	switch t {
	case Checking, Savings, Credit, Cash:
		return true
	}
	return false
}

func (t TransactionType) Valid() bool {
	return t == Expense || t == Income
}

func (p BudgetPeriod) Valid() bool {
	return p == Monthly || p == Yearly
}

func (t Theme) Valid() bool {
	return t == ThemeLight || t == ThemeDark
}

// Signed returns the amount with the direction of t applied: positive for
// income, negative for expense.
func (t TransactionType) Signed(amount decimal.Decimal) decimal.Decimal {
	if t == Income {
		return amount
	}
	return amount.Neg()
}

func (a Account) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return NewValidationError("name", "account name is required")
	}
	if len(a.Name) > 100 {
		return NewValidationError("name", "account name too long (max 100 characters)")
	}
	if !a.Type.Valid() {
		return NewValidationError("type", "invalid account type "+string(a.Type))
	}
	if strings.TrimSpace(a.Currency) == "" {
		return NewValidationError("currency", "currency is required")
	}
	return nil
}

func (c Category) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return NewValidationError("name", "category name is required")
	}
	if len(c.Name) > 100 {
		return NewValidationError("name", "category name too long (max 100 characters)")
	}
	if !c.Type.Valid() {
		return NewValidationError("type", "invalid category type "+string(c.Type))
	}
	return nil
}

func (s Settings) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return NewValidationError("name", "name is required")
	}
	if strings.TrimSpace(s.Currency) == "" {
		return NewValidationError("currency", "currency is required")
	}
	if !s.Theme.Valid() {
		return NewValidationError("theme", "invalid theme "+string(s.Theme))
	}
	return nil
}

func (in TransactionInput) Validate() error {
	if !in.Type.Valid() {
		return NewValidationError("type", "invalid transaction type "+string(in.Type))
	}
	if !in.Amount.IsPositive() {
		return NewValidationError("amount", "Amount must be greater than 0")
	}
	if in.CategoryID <= 0 {
		return NewValidationError("category", "Category is required")
	}
	if in.AccountID <= 0 {
		return NewValidationError("accountId", "Account is required")
	}
	if strings.TrimSpace(in.Description) == "" {
		return NewValidationError("description", "Description is required")
	}
	if len(in.Description) > 200 {
		return NewValidationError("description", "description too long (max 200 characters)")
	}
	if in.Date.IsZero() {
		return NewValidationError("date", "Date is required")
	}
	return nil
}

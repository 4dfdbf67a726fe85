package analytics

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"budgetbook/internal/core"
)

var hundred = decimal.NewFromInt(100)

// Snapshot is the set of collections every view is computed from.
type Snapshot struct {
	Accounts     []core.Account
	Categories   []core.Category
	Transactions []core.Transaction
	BudgetLimits []core.BudgetLimit
}

// percentOf returns part/whole*100, or 0 when whole is zero.
func percentOf(part, whole decimal.Decimal) float64 {
	if whole.IsZero() {
		return 0
	}
	return part.Div(whole).Mul(hundred).InexactFloat64()
}

// AccountChange compares an account's net flow this month with last month.
type AccountChange struct {
	AccountID int64           `json:"accountId"`
	Current   decimal.Decimal `json:"current"`
	Previous  decimal.Decimal `json:"previous"`
	Change    decimal.Decimal `json:"change"`
}

// MonthlyNetChange sums income minus expense for accountID in the current
// and previous calendar months and returns the difference.
func MonthlyNetChange(txs []core.Transaction, accountID int64, now time.Time) AccountChange {
	cur, prev := MonthWindow(now, 0), MonthWindow(now, -1)
	out := AccountChange{AccountID: accountID, Current: decimal.Zero, Previous: decimal.Zero}
	for _, t := range txs {
		if t.AccountID != accountID {
			continue
		}
		switch {
		case cur.Contains(t.Date):
			out.Current = out.Current.Add(t.Type.Signed(t.Amount))
		case prev.Contains(t.Date):
			out.Previous = out.Previous.Add(t.Type.Signed(t.Amount))
		}
	}
	out.Change = out.Current.Sub(out.Previous)
	return out
}

// MonthlyNetChanges returns MonthlyNetChange for every account, in account
// order.
func MonthlyNetChanges(snap Snapshot, now time.Time) []AccountChange {
	out := make([]AccountChange, 0, len(snap.Accounts))
	for _, a := range snap.Accounts {
		out = append(out, MonthlyNetChange(snap.Transactions, a.ID, now))
	}
	return out
}

type CategorySpend struct {
	CategoryName string             `json:"categoryName"`
	Total        decimal.Decimal    `json:"total"`
	Percentage   float64            `json:"percentage"`
	Transactions []core.Transaction `json:"transactions"`
}

type CategoryBreakdownView struct {
	Range         TimeRange       `json:"range"`
	Window        Window          `json:"window"`
	Categories    []CategorySpend `json:"categories"`
	TotalSpending decimal.Decimal `json:"totalSpending"`
}

// CategoryBreakdown groups the window's expenses by their recorded category
// name, largest total first. An empty window yields no categories and a zero
// total.
func CategoryBreakdown(txs []core.Transaction, r TimeRange, now time.Time) (CategoryBreakdownView, error) {
	w, err := r.Window(now)
	if err != nil {
		return CategoryBreakdownView{}, err
	}
	if r == "" {
		r = ThisMonth
	}

	groups := make(map[string]*CategorySpend)
	total := decimal.Zero
	for _, t := range txs {
		if t.Type != core.Expense || !w.Contains(t.Date) {
			continue
		}
		g, ok := groups[t.CategoryName]
		if !ok {
			g = &CategorySpend{CategoryName: t.CategoryName, Total: decimal.Zero}
			groups[t.CategoryName] = g
		}
		g.Total = g.Total.Add(t.Amount)
		g.Transactions = append(g.Transactions, t)
		total = total.Add(t.Amount)
	}

	cats := make([]CategorySpend, 0, len(groups))
	for _, g := range groups {
		g.Percentage = percentOf(g.Total, total)
		cats = append(cats, *g)
	}
	sort.Slice(cats, func(i, j int) bool {
		if c := cats[i].Total.Cmp(cats[j].Total); c != 0 {
			return c > 0
		}
		return cats[i].CategoryName < cats[j].CategoryName
	})

	return CategoryBreakdownView{Range: r, Window: w, Categories: cats, TotalSpending: total}, nil
}

type Status string

const (
	StatusOK      Status = "ok"
	StatusWarning Status = "warning"
	StatusOver    Status = "over"
)

// StatusFor classifies a budget usage percentage.
func StatusFor(percentage float64) Status {
	switch {
	case percentage >= 100:
		return StatusOver
	case percentage >= 80:
		return StatusWarning
	default:
		return StatusOK
	}
}

type BudgetProgressItem struct {
	CategoryID   int64             `json:"categoryId"`
	CategoryName string            `json:"categoryName"`
	Spent        decimal.Decimal   `json:"spent"`
	Limit        decimal.Decimal   `json:"limit"`
	Percentage   float64           `json:"percentage"`
	Period       core.BudgetPeriod `json:"period"`
	Status       Status            `json:"status"`
}

// BudgetProgress reports, for each expense category that has a limit, how
// much was spent since the start of the limit's period. Percentages are not
// capped at 100.
func BudgetProgress(snap Snapshot, now time.Time) []BudgetProgressItem {
	limits := make(map[int64]core.BudgetLimit, len(snap.BudgetLimits))
	for _, l := range snap.BudgetLimits {
		if _, dup := limits[l.CategoryID]; !dup {
			limits[l.CategoryID] = l
		}
	}

	out := make([]BudgetProgressItem, 0, len(limits))
	for _, c := range snap.Categories {
		if c.Type != core.Expense {
			continue
		}
		l, ok := limits[c.ID]
		if !ok {
			continue
		}
		since := MonthStart(now)
		if l.Period == core.Yearly {
			since = YearStart(now)
		}

		spent := decimal.Zero
		for _, t := range snap.Transactions {
			if t.CategoryID == c.ID && t.Type == core.Expense && !t.Date.Before(since) {
				spent = spent.Add(t.Amount)
			}
		}
		pct := percentOf(spent, l.Amount)
		out = append(out, BudgetProgressItem{
			CategoryID:   c.ID,
			CategoryName: c.Name,
			Spent:        spent,
			Limit:        l.Amount,
			Percentage:   pct,
			Period:       l.Period,
			Status:       StatusFor(pct),
		})
	}
	return out
}

type TrendView struct {
	CurrentIncome    decimal.Decimal `json:"currentIncome"`
	CurrentExpenses  decimal.Decimal `json:"currentExpenses"`
	PreviousIncome   decimal.Decimal `json:"previousIncome"`
	PreviousExpenses decimal.Decimal `json:"previousExpenses"`
	IncomeChange     float64         `json:"incomeChange"`
	ExpenseChange    float64         `json:"expenseChange"`
}

// PercentChange is (current-previous)/previous*100, except that a zero
// previous value always reports 100.
func PercentChange(current, previous decimal.Decimal) float64 {
	if previous.IsZero() {
		return 100
	}
	return current.Sub(previous).Div(previous).Mul(hundred).InexactFloat64()
}

// Trends compares this calendar month's income and expense sums with the
// previous month's.
func Trends(txs []core.Transaction, now time.Time) TrendView {
	cur, prev := MonthWindow(now, 0), MonthWindow(now, -1)
	v := TrendView{
		CurrentIncome: decimal.Zero, CurrentExpenses: decimal.Zero,
		PreviousIncome: decimal.Zero, PreviousExpenses: decimal.Zero,
	}
	for _, t := range txs {
		var income, expenses *decimal.Decimal
		switch {
		case cur.Contains(t.Date):
			income, expenses = &v.CurrentIncome, &v.CurrentExpenses
		case prev.Contains(t.Date):
			income, expenses = &v.PreviousIncome, &v.PreviousExpenses
		default:
			continue
		}
		if t.Type == core.Income {
			*income = income.Add(t.Amount)
		} else {
			*expenses = expenses.Add(t.Amount)
		}
	}
	v.IncomeChange = PercentChange(v.CurrentIncome, v.PreviousIncome)
	v.ExpenseChange = PercentChange(v.CurrentExpenses, v.PreviousExpenses)
	return v
}

// DashboardView bundles every derived view for one snapshot.
type DashboardView struct {
	TotalBalance decimal.Decimal       `json:"totalBalance"`
	Accounts     []AccountChange       `json:"accounts"`
	Spending     CategoryBreakdownView `json:"spending"`
	Budgets      []BudgetProgressItem  `json:"budgets"`
	Trends       TrendView             `json:"trends"`
}

func Dashboard(snap Snapshot, r TimeRange, now time.Time) (DashboardView, error) {
	spending, err := CategoryBreakdown(snap.Transactions, r, now)
	if err != nil {
		return DashboardView{}, err
	}
	total := decimal.Zero
	for _, a := range snap.Accounts {
		total = total.Add(a.Balance)
	}
	return DashboardView{
		TotalBalance: total,
		Accounts:     MonthlyNetChanges(snap, now),
		Spending:     spending,
		Budgets:      BudgetProgress(snap, now),
		Trends:       Trends(snap.Transactions, now),
	}, nil
}

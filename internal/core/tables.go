package core

// Table names one of the persisted entity tables.
type Table string

const (
	TableAccounts     Table = "accounts"
	TableCategories   Table = "categories"
	TableTransactions Table = "transactions"
	TableBudgetLimits Table = "budget_limits"
	TableSettings     Table = "settings"
)

// AllTables lists every table in dependency order: children before parents,
// the order in which they can be cleared.
func AllTables() []Table {
	return []Table{TableTransactions, TableBudgetLimits, TableCategories, TableAccounts, TableSettings}
}

func (t Table) Valid() bool {
	for _, v := range AllTables() {
		if v == t {
			return true
		}
	}
	return false
}

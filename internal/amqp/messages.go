package amqp

import (
	"encoding/json"
	"time"

	"budgetbook/internal/core"
)

// Ledger operations carried by LedgerEvent.Operation.
const (
	OpTransactionAdded   = "transaction.added"
	OpBalanceUpdated     = "account.balance_updated"
	OpBudgetLimitsSaved  = "budget_limits.saved"
	OpLedgerReset        = "ledger.reset"
	OpOnboardingComplete = "onboarding.completed"
	OpSettingsUpdated    = "settings.updated"
)

// LedgerEvent announces a committed write. It is a notification only:
// consumers read current state from the database if they need it.
type LedgerEvent struct {
	Operation string       `json:"operation"`
	EntityID  int64        `json:"entityId,omitempty"`
	Tables    []core.Table `json:"tables"`
	Timestamp time.Time    `json:"timestamp"`
}

func NewLedgerEvent(op string, entityID int64, tables ...core.Table) *LedgerEvent {
	return &LedgerEvent{
		Operation: op,
		EntityID:  entityID,
		Tables:    tables,
		Timestamp: time.Now(),
	}
}

func (m *LedgerEvent) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func LedgerEventFromJSON(data []byte) (*LedgerEvent, error) {
	var msg LedgerEvent
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

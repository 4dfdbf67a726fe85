package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"budgetbook/internal/analytics"
	"budgetbook/internal/core"
	"budgetbook/internal/services"
)

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	out, err := s.ledger.Accounts(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	out, err := s.ledger.Categories(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	out, err := s.ledger.Transactions(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListBudgetLimits(w http.ResponseWriter, r *http.Request) {
	out, err := s.ledger.BudgetLimits(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	out, err := s.ledger.Settings(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// transactionRequest carries the amount as a string so both "12.50" and
// "12,50" are accepted.
type transactionRequest struct {
	Type        core.TransactionType `json:"type"`
	Amount      string               `json:"amount"`
	CategoryID  int64                `json:"category"`
	AccountID   int64                `json:"accountId"`
	Description string               `json:"description"`
	Note        string               `json:"note"`
	Date        string               `json:"date"`
}

func (s *Server) handleAddTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	amount, err := core.ParseAmount(req.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, r, err)
		return
	}

	tx, err := s.ledger.AddTransaction(r.Context(), core.TransactionInput{
		Type:        req.Type,
		Amount:      amount,
		CategoryID:  req.CategoryID,
		AccountID:   req.AccountID,
		Description: sanitizeInput(req.Description),
		Note:        sanitizeInput(req.Note),
		Date:        date,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

func (s *Server) handleUpdateBalance(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(w, "invalid account id")
		return
	}
	var req struct {
		Balance string `json:"balance"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	balance, err := core.ParseDecimal(req.Balance)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.ledger.UpdateAccountBalance(r.Context(), id, balance); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSaveBudgetLimits takes {"limits": {"<categoryId>": "<amount>"}} and
// replaces every stored limit.
func (s *Server) handleSaveBudgetLimits(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Limits map[string]string `json:"limits"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	limits := make(map[int64]decimal.Decimal, len(req.Limits))
	for key, raw := range req.Limits {
		id, err := strconv.ParseInt(strings.TrimSpace(key), 10, 64)
		if err != nil || id <= 0 {
			badRequest(w, "invalid category id "+key)
			return
		}
		amount := decimal.Zero
		if strings.TrimSpace(raw) != "" {
			if amount, err = core.ParseDecimal(raw); err != nil {
				writeError(w, r, err)
				return
			}
		}
		limits[id] = amount
	}

	saved, err := s.ledger.SaveBudgetLimits(r.Context(), limits)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req services.SettingsUpdate
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	out, err := s.ledger.UpdateSettings(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type onboardingStatus struct {
	Complete          bool            `json:"complete"`
	DefaultCategories []core.Category `json:"defaultCategories"`
}

func (s *Server) handleOnboardingStatus(w http.ResponseWriter, r *http.Request) {
	done, err := s.ledger.IsOnboardingComplete(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, onboardingStatus{Complete: done, DefaultCategories: services.DefaultCategories()})
}

func (s *Server) handleCompleteOnboarding(w http.ResponseWriter, r *http.Request) {
	var req services.OnboardingInput
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	req.Name = sanitizeInput(req.Name)
	for i := range req.Accounts {
		req.Accounts[i].Name = sanitizeInput(req.Accounts[i].Name)
	}
	res, err := s.ledger.CompleteOnboarding(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.ResetAll(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	tr, err := analytics.ParseTimeRange(r.URL.Query().Get("range"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	v, err := s.ledger.Dashboard(r.Context(), tr)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

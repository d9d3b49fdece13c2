package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/example/expensetracker/internal/apperr"
	"github.com/example/expensetracker/internal/authz"
	"github.com/example/expensetracker/internal/budget"
	"github.com/example/expensetracker/internal/guard"
	"github.com/example/expensetracker/internal/httpx"
	"github.com/example/expensetracker/internal/store"
)

// money renders an amount as a JSON number without passing through float64.
func money(d decimal.Decimal) json.Number { return json.Number(d.String()) }

// parseAmount reads a money field. Trailing zeros past the cent are
// accepted; any other precision is rejected so every store keeps the same value.
func parseAmount(field string, n json.Number) (decimal.Decimal, error) {
	if n == "" {
		return decimal.Zero, apperr.Validation(field, "is required")
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return decimal.Zero, apperr.Validation(field, "must be a number")
	}
	if !d.Equal(d.Round(2)) {
		return decimal.Zero, apperr.Validation(field, "must have at most 2 decimal places")
	}
	return d, nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation(name, "must be a positive integer")
	}
	return id, nil
}

// ownerOf picks the user a record is created for. Admins may act for anyone;
// everyone else acts for themselves.
func ownerOf(id authz.Identity, requested int64) int64 {
	if id.Role == store.RoleAdmin && requested != 0 {
		return requested
	}
	return id.UserID
}

type categoryRequest struct {
	Name   string `json:"name"`
	UserID int64  `json:"userId"`
}

type categoryResponse struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	UserID int64  `json:"userId"`
}

func (a *App) HandleCreateCategory(w http.ResponseWriter, r *http.Request) {
	id, _ := guard.IdentityFrom(r.Context())
	var in categoryRequest
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.WriteError(w, a.logger, err)
		return
	}
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		httpx.WriteError(w, a.logger, apperr.Validation("name", "is required"))
		return
	}

	c, err := a.store.CreateCategory(r.Context(), &store.Category{Name: in.Name, UserID: ownerOf(id, in.UserID)})
	if err != nil {
		httpx.WriteError(w, a.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, categoryResponse{ID: c.ID, Name: c.Name, UserID: c.UserID})
}

type transactionRequest struct {
	Amount     json.Number `json:"amount"`
	Type       string      `json:"type"`
	Note       string      `json:"note"`
	Date       *time.Time  `json:"date"`
	UserID     int64       `json:"userId"`
	CategoryID int64       `json:"categoryId"`
}

type transactionResponse struct {
	ID         int64       `json:"id"`
	Amount     json.Number `json:"amount"`
	Type       string      `json:"type"`
	Note       string      `json:"note,omitempty"`
	Date       time.Time   `json:"date"`
	UserID     int64       `json:"userId"`
	CategoryID int64       `json:"categoryId"`
}

// HandleCreateTransaction stores the transaction and announces it on the
// bus. The announcement never delays or fails the response.
func (a *App) HandleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	id, _ := guard.IdentityFrom(r.Context())
	var in transactionRequest
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.WriteError(w, a.logger, err)
		return
	}
	amount, err := parseAmount("amount", in.Amount)
	if err != nil {
		httpx.WriteError(w, a.logger, err)
		return
	}
	if !amount.IsPositive() {
		httpx.WriteError(w, a.logger, apperr.Validation("amount", "must be positive"))
		return
	}
	if in.Type != store.TransactionIncome && in.Type != store.TransactionExpense {
		httpx.WriteError(w, a.logger, apperr.Validation("type", "must be one of income, expense"))
		return
	}
	if in.CategoryID <= 0 {
		httpx.WriteError(w, a.logger, apperr.Validation("categoryId", "is required"))
		return
	}

	tx := &store.Transaction{
		Amount:     amount,
		Type:       in.Type,
		Note:       in.Note,
		UserID:     ownerOf(id, in.UserID),
		CategoryID: in.CategoryID,
	}
	if in.Date != nil {
		tx.Date = in.Date.UTC()
	}
	created, err := a.store.CreateTransaction(r.Context(), tx)
	if err != nil {
		httpx.WriteError(w, a.logger, err)
		return
	}
	a.producer.TransactionCreated(r.Context(), created)

	httpx.WriteJSON(w, http.StatusCreated, transactionResponse{
		ID:         created.ID,
		Amount:     money(created.Amount),
		Type:       created.Type,
		Note:       created.Note,
		Date:       created.Date,
		UserID:     created.UserID,
		CategoryID: created.CategoryID,
	})
}

type setBudgetRequest struct {
	CategoryID int64       `json:"categoryId"`
	Amount     json.Number `json:"amount"`
}

type budgetResponse struct {
	ID         int64       `json:"id"`
	CategoryID int64       `json:"categoryId"`
	Amount     json.Number `json:"amount"`
}

func (a *App) HandleSetBudget(w http.ResponseWriter, r *http.Request) {
	var in setBudgetRequest
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.WriteError(w, a.logger, err)
		return
	}
	if in.CategoryID <= 0 {
		httpx.WriteError(w, a.logger, apperr.Validation("categoryId", "is required"))
		return
	}
	amount, err := parseAmount("amount", in.Amount)
	if err != nil {
		httpx.WriteError(w, a.logger, err)
		return
	}

	b, err := a.budgets.SetBudget(r.Context(), in.CategoryID, amount)
	if err != nil {
		httpx.WriteError(w, a.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, budgetResponse{ID: b.ID, CategoryID: b.CategoryID, Amount: money(b.Amount)})
}

type statusResponse struct {
	CategoryID     int64       `json:"categoryId"`
	Category       string      `json:"category"`
	Budget         json.Number `json:"budget"`
	Spent          json.Number `json:"spent"`
	Remaining      json.Number `json:"remaining"`
	PercentageUsed float64     `json:"percentageUsed"`
	IsExceeded     bool        `json:"isExceeded"`
}

type dashboardItem struct {
	CategoryID int64       `json:"categoryId"`
	Category   string      `json:"category"`
	Budget     json.Number `json:"budget"`
	Spent      json.Number `json:"spent"`
	Remaining  json.Number `json:"remaining"`
	Exceeded   bool        `json:"exceeded"`
}

func (a *App) HandleBudgetStatus(w http.ResponseWriter, r *http.Request) {
	categoryID, err := pathID(r, "categoryId")
	if err != nil {
		httpx.WriteError(w, a.logger, err)
		return
	}
	st, err := a.budgets.Status(r.Context(), categoryID)
	if err != nil {
		httpx.WriteError(w, a.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newStatusResponse(st))
}

func newStatusResponse(st *budget.Status) statusResponse {
	return statusResponse{
		CategoryID:     st.CategoryID,
		Category:       st.Category,
		Budget:         money(st.Budget),
		Spent:          money(st.Spent),
		Remaining:      money(st.Remaining),
		PercentageUsed: st.PercentageUsed,
		IsExceeded:     st.IsExceeded,
	}
}

// HandleUserBudgets lists the budgets of one user's categories. Non-admins
// may only list their own.
func (a *App) HandleUserBudgets(w http.ResponseWriter, r *http.Request) {
	id, _ := guard.IdentityFrom(r.Context())
	userID, err := pathID(r, "userId")
	if err != nil {
		httpx.WriteError(w, a.logger, err)
		return
	}
	if id.Role != store.RoleAdmin && userID != id.UserID {
		httpx.WriteError(w, a.logger, apperr.Forbidden("You can only view your own budgets"))
		return
	}

	list, err := a.budgets.UserBudgets(r.Context(), userID)
	if err != nil {
		httpx.WriteError(w, a.logger, err)
		return
	}
	out := make([]dashboardItem, 0, len(list))
	for _, st := range list {
		out = append(out, dashboardItem{
			CategoryID: st.CategoryID,
			Category:   st.Category,
			Budget:     money(st.Budget),
			Spent:      money(st.Spent),
			Remaining:  money(st.Remaining),
			Exceeded:   st.IsExceeded,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

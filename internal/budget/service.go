// Package budget tracks category spending limits and reacts to new
// expenses published on the event bus.
package budget

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/example/expensetracker/internal/apperr"
	"github.com/example/expensetracker/internal/store"
)

var hundred = decimal.NewFromInt(100)

// Status is a budget compared with the category's aggregated expenses.
type Status struct {
	CategoryID     int64
	Category       string
	Budget         decimal.Decimal
	Spent          decimal.Decimal
	Remaining      decimal.Decimal
	PercentageUsed float64
	IsExceeded     bool
}

func newStatus(b *store.Budget, spent decimal.Decimal) Status {
	s := Status{
		CategoryID: b.CategoryID,
		Category:   b.CategoryName,
		Budget:     b.Amount,
		Spent:      spent,
		Remaining:  b.Amount.Sub(spent),
		IsExceeded: spent.GreaterThan(b.Amount),
	}
	switch {
	case !b.Amount.IsZero():
		s.PercentageUsed = spent.Div(b.Amount).Mul(hundred).Round(2).InexactFloat64()
	case spent.IsPositive():
		s.PercentageUsed = 100
	}
	return s
}

type Service struct {
	store    store.Store
	logger   *slog.Logger
	breaches *prometheus.CounterVec
}

// NewService builds the service. breaches may be nil.
func NewService(st store.Store, logger *slog.Logger, breaches *prometheus.CounterVec) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, logger: logger, breaches: breaches}
}

// SetBudget creates or replaces the limit of a category.
func (s *Service) SetBudget(ctx context.Context, categoryID int64, amount decimal.Decimal) (*store.Budget, error) {
	if amount.IsNegative() {
		return nil, apperr.Validation("amount", "must not be negative")
	}
	if _, err := s.store.GetCategory(ctx, categoryID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("Category", strconv.FormatInt(categoryID, 10))
		}
		return nil, err
	}
	return s.store.UpsertBudget(ctx, categoryID, amount)
}

func (s *Service) Status(ctx context.Context, categoryID int64) (*Status, error) {
	b, err := s.store.GetBudget(ctx, categoryID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("Budget", strconv.FormatInt(categoryID, 10))
	}
	if err != nil {
		return nil, err
	}
	spent, err := s.store.SumExpenses(ctx, categoryID)
	if err != nil {
		return nil, err
	}
	st := newStatus(b, spent)
	return &st, nil
}

// UserBudgets returns the status of every budget on the user's categories.
func (s *Service) UserBudgets(ctx context.Context, userID int64) ([]Status, error) {
	budgets, err := s.store.ListBudgetsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]Status, 0, len(budgets))
	for i := range budgets {
		spent, err := s.store.SumExpenses(ctx, budgets[i].CategoryID)
		if err != nil {
			return nil, err
		}
		out = append(out, newStatus(&budgets[i], spent))
	}
	return out, nil
}

// Check re-aggregates a category and reports a breach. A category without a
// budget yields (nil, nil).
func (s *Service) Check(ctx context.Context, categoryID int64) (*Status, error) {
	st, err := s.Status(ctx, categoryID)
	if apperr.Is(err, apperr.CodeNotFound) {
		s.logger.Debug("no budget for category", "category_id", categoryID)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if st.IsExceeded {
		s.logger.Warn("budget exceeded",
			"category_id", st.CategoryID,
			"category", st.Category,
			"spent", st.Spent.String(),
			"budget", st.Budget.String(),
		)
		if s.breaches != nil {
			s.breaches.WithLabelValues(strconv.FormatInt(categoryID, 10)).Inc()
		}
	}
	return st, nil
}

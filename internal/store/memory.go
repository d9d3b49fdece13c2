package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/expensetracker/internal/apperr"
)

// Memory is a process-local Store. It enforces the same uniqueness and
// reference rules as the SQL schemas so tests exercise real failure paths.
type Memory struct {
	mu           sync.Mutex
	seq          int64
	users        map[int64]*User
	tokens       map[int64]*RefreshToken
	categories   map[int64]*Category
	transactions map[int64]*Transaction
	budgets      map[int64]*Budget // by category id
}

func NewMemory() *Memory {
	return &Memory{
		users:        map[int64]*User{},
		tokens:       map[int64]*RefreshToken{},
		categories:   map[int64]*Category{},
		transactions: map[int64]*Transaction{},
		budgets:      map[int64]*Budget{},
	}
}

func (m *Memory) nextID() int64 {
	m.seq++
	return m.seq
}

func foreignKeyError(field string) error {
	return apperr.BadRequest("Invalid foreign key reference Or have some related records", apperr.Details{"field": field})
}

func (m *Memory) CreateUser(_ context.Context, u *User) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return nil, apperr.DuplicateResource("Duplicate value for field(s): email")
		}
	}
	c := *u
	c.ID = m.nextID()
	if c.Role == "" {
		c.Role = RoleUser
	}
	if c.Status == "" {
		c.Status = StatusActive
	}
	c.CreatedAt = time.Now().UTC()
	m.users[c.ID] = &c
	out := c
	return &out, nil
}

func (m *Memory) GetUserByEmail(_ context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			out := *u
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) GetUserByID(_ context.Context, id int64) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *u
	return &out, nil
}

func (m *Memory) SetUserStatus(_ context.Context, id int64, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.Status = status
	return nil
}

func (m *Memory) CreateRefreshToken(_ context.Context, t *RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[t.UserID]; !ok {
		return foreignKeyError("user_id")
	}
	for _, existing := range m.tokens {
		if existing.JTI == t.JTI {
			return apperr.DuplicateResource("Duplicate value for field(s): jti")
		}
	}
	c := *t
	c.ID = m.nextID()
	c.CreatedAt = time.Now().UTC()
	m.tokens[c.ID] = &c
	t.ID = c.ID
	return nil
}

func (m *Memory) ListActiveRefreshTokens(_ context.Context, now time.Time) ([]RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []RefreshToken
	for _, t := range m.tokens {
		if t.Usable(now) {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) RevokeRefreshToken(_ context.Context, id int64, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[id]
	if !ok || t.RevokedAt != nil {
		return false, nil
	}
	revokedAt := at
	t.RevokedAt = &revokedAt
	return true, nil
}

func (m *Memory) RevokeRefreshTokensByJTI(_ context.Context, jti string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, t := range m.tokens {
		if t.JTI == jti && t.RevokedAt == nil {
			revokedAt := at
			t.RevokedAt = &revokedAt
			n++
		}
	}
	return n, nil
}

func (m *Memory) IsJTIRevoked(_ context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.JTI == jti && t.RevokedAt != nil {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) CreateCategory(_ context.Context, c *Category) (*Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[c.UserID]; !ok {
		return nil, foreignKeyError("user_id")
	}
	out := *c
	out.ID = m.nextID()
	m.categories[out.ID] = &out
	cp := out
	return &cp, nil
}

func (m *Memory) GetCategory(_ context.Context, id int64) (*Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.categories[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *c
	return &out, nil
}

func (m *Memory) CreateTransaction(_ context.Context, t *Transaction) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[t.UserID]; !ok {
		return nil, foreignKeyError("user_id")
	}
	if _, ok := m.categories[t.CategoryID]; !ok {
		return nil, foreignKeyError("category_id")
	}
	out := *t
	out.ID = m.nextID()
	if out.Date.IsZero() {
		out.Date = time.Now().UTC()
	}
	m.transactions[out.ID] = &out
	cp := out
	return &cp, nil
}

func (m *Memory) SumExpenses(_ context.Context, categoryID int64) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sum := decimal.Zero
	for _, t := range m.transactions {
		if t.CategoryID == categoryID && t.Type == TransactionExpense {
			sum = sum.Add(t.Amount)
		}
	}
	return sum, nil
}

func (m *Memory) UpsertBudget(_ context.Context, categoryID int64, amount decimal.Decimal) (*Budget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cat, ok := m.categories[categoryID]
	if !ok {
		return nil, foreignKeyError("category_id")
	}
	b, ok := m.budgets[categoryID]
	if !ok {
		b = &Budget{ID: m.nextID(), CategoryID: categoryID}
		m.budgets[categoryID] = b
	}
	b.Amount = amount
	out := *b
	out.CategoryName = cat.Name
	return &out, nil
}

func (m *Memory) GetBudget(_ context.Context, categoryID int64) (*Budget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.budgets[categoryID]
	if !ok {
		return nil, ErrNotFound
	}
	out := *b
	if cat, ok := m.categories[categoryID]; ok {
		out.CategoryName = cat.Name
	}
	return &out, nil
}

func (m *Memory) ListBudgetsByUser(_ context.Context, userID int64) ([]Budget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Budget
	for categoryID, b := range m.budgets {
		cat, ok := m.categories[categoryID]
		if !ok || cat.UserID != userID {
			continue
		}
		cp := *b
		cp.CategoryName = cat.Name
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CategoryID < out[j].CategoryID })
	return out, nil
}

func (m *Memory) Ping(context.Context) error { return nil }
func (m *Memory) Close() error               { return nil }

var _ Store = (*Memory)(nil)

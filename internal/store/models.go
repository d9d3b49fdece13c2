package store

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/expensetracker/internal/authz"
)

const (
	RoleAdmin = "admin"
	RoleUser  = "user"

	StatusActive   = "active"
	StatusInactive = "inactive"

	TransactionIncome  = "income"
	TransactionExpense = "expense"
)

// User is an account. Users are never hard-deleted once referenced; Status
// flips to inactive instead.
type User struct {
	ID           int64
	FullName     string
	Email        string
	PasswordHash string
	Role         string
	Status       string
	CreatedAt    time.Time
}

func (u *User) Active() bool { return u.Status != StatusInactive }

func (*User) AuthzSubject() authz.Subject { return authz.SubjectUser }

// RefreshToken is the persisted half of a refresh token: only a one-way hash
// of the secret is kept.
type RefreshToken struct {
	ID        int64
	JTI       string
	TokenHash string
	UserID    int64
	ExpiresAt time.Time
	RevokedAt *time.Time
	CreatedAt time.Time
}

// Usable reports whether the record may still be exchanged.
func (t *RefreshToken) Usable(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.ExpiresAt)
}

type Category struct {
	ID     int64
	Name   string
	UserID int64
}

func (*Category) AuthzSubject() authz.Subject { return authz.SubjectCategory }

type Transaction struct {
	ID         int64
	Amount     decimal.Decimal
	Type       string
	Note       string
	Date       time.Time
	UserID     int64
	CategoryID int64
}

func (*Transaction) AuthzSubject() authz.Subject { return authz.SubjectTransaction }

type Budget struct {
	ID           int64
	CategoryID   int64
	CategoryName string
	Amount       decimal.Decimal
}

func (*Budget) AuthzSubject() authz.Subject { return authz.SubjectBudget }

// Package store persists users, refresh tokens, categories, transactions and
// budgets. Three adapters share one interface: an in-memory store for tests
// and local runs, SQLite, and Postgres (pgx pool).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("store: record not found")

type Store interface {
	CreateUser(ctx context.Context, u *User) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByID(ctx context.Context, id int64) (*User, error)
	SetUserStatus(ctx context.Context, id int64, status string) error

	CreateRefreshToken(ctx context.Context, t *RefreshToken) error
	// ListActiveRefreshTokens returns records that are not revoked and expire after now.
	ListActiveRefreshTokens(ctx context.Context, now time.Time) ([]RefreshToken, error)
	// RevokeRefreshToken revokes one record only if it is not revoked yet and
	// reports whether this call performed the revocation.
	RevokeRefreshToken(ctx context.Context, id int64, at time.Time) (bool, error)
	RevokeRefreshTokensByJTI(ctx context.Context, jti string, at time.Time) (int64, error)
	IsJTIRevoked(ctx context.Context, jti string) (bool, error)

	CreateCategory(ctx context.Context, c *Category) (*Category, error)
	GetCategory(ctx context.Context, id int64) (*Category, error)

	CreateTransaction(ctx context.Context, t *Transaction) (*Transaction, error)
	// SumExpenses aggregates every expense transaction of a category.
	SumExpenses(ctx context.Context, categoryID int64) (decimal.Decimal, error)

	UpsertBudget(ctx context.Context, categoryID int64, amount decimal.Decimal) (*Budget, error)
	GetBudget(ctx context.Context, categoryID int64) (*Budget, error)
	ListBudgetsByUser(ctx context.Context, userID int64) ([]Budget, error)

	Ping(ctx context.Context) error
	Close() error
}

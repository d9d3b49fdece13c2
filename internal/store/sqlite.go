package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// SQLite stores timestamps as unix seconds and amounts as decimal text.
type SQLite struct {
	db   *sql.DB
	path string
}

func NewSQLite(path string) (*SQLite, error) {
	dsn := path
	if strings.Contains(dsn, "?") {
		dsn += "&_pragma=foreign_keys(1)"
	} else {
		dsn += "?_pragma=foreign_keys(1)"
	}
	d, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// one writer keeps the conditional revoke serialised
	d.SetMaxOpenConns(1)
	s := &SQLite{db: d, path: path}
	if err := s.Init(); err != nil {
		d.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) Init() error {
	queries := []string{
		`PRAGMA foreign_keys = ON;`,
		`PRAGMA busy_timeout = 5000;`,
		`CREATE TABLE IF NOT EXISTS users (id INTEGER PRIMARY KEY AUTOINCREMENT, full_name TEXT NOT NULL, email TEXT NOT NULL UNIQUE COLLATE NOCASE, password_hash TEXT NOT NULL, role TEXT NOT NULL DEFAULT 'user', status TEXT NOT NULL DEFAULT 'active', created_at INTEGER NOT NULL);`,
		`CREATE TABLE IF NOT EXISTS refresh_tokens (id INTEGER PRIMARY KEY AUTOINCREMENT, jti TEXT NOT NULL UNIQUE, token_hash TEXT NOT NULL, user_id INTEGER NOT NULL REFERENCES users(id), expires_at INTEGER NOT NULL, revoked_at INTEGER, created_at INTEGER NOT NULL);`,
		`CREATE TABLE IF NOT EXISTS categories (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL, user_id INTEGER NOT NULL REFERENCES users(id));`,
		`CREATE TABLE IF NOT EXISTS transactions (id INTEGER PRIMARY KEY AUTOINCREMENT, amount TEXT NOT NULL, type TEXT NOT NULL CHECK (type IN ('income','expense')), note TEXT NOT NULL DEFAULT '', date INTEGER NOT NULL, user_id INTEGER NOT NULL REFERENCES users(id), category_id INTEGER NOT NULL REFERENCES categories(id));`,
		`CREATE TABLE IF NOT EXISTS budgets (id INTEGER PRIMARY KEY AUTOINCREMENT, category_id INTEGER NOT NULL UNIQUE REFERENCES categories(id), amount TEXT NOT NULL);`,
	}
	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) CreateUser(ctx context.Context, u *User) (*User, error) {
	c := *u
	if c.Role == "" {
		c.Role = RoleUser
	}
	if c.Status == "" {
		c.Status = StatusActive
	}
	c.CreatedAt = time.Now().UTC().Truncate(time.Second)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users(full_name,email,password_hash,role,status,created_at) VALUES(?,?,?,?,?,?)`,
		c.FullName, c.Email, c.PasswordHash, c.Role, c.Status, c.CreatedAt.Unix())
	if err != nil {
		return nil, classify("create user", err)
	}
	c.ID, _ = res.LastInsertId()
	return &c, nil
}

func (s *SQLite) scanUser(row *sql.Row) (*User, error) {
	var u User
	var created int64
	if err := row.Scan(&u.ID, &u.FullName, &u.Email, &u.PasswordHash, &u.Role, &u.Status, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, classify("get user", err)
	}
	u.CreatedAt = time.Unix(created, 0).UTC()
	return &u, nil
}

func (s *SQLite) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id,full_name,email,password_hash,role,status,created_at FROM users WHERE email = ?`, email))
}

func (s *SQLite) GetUserByID(ctx context.Context, id int64) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id,full_name,email,password_hash,role,status,created_at FROM users WHERE id = ?`, id))
}

func (s *SQLite) SetUserStatus(ctx context.Context, id int64, status string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return classify("set user status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) CreateRefreshToken(ctx context.Context, t *RefreshToken) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO refresh_tokens(jti,token_hash,user_id,expires_at,created_at) VALUES(?,?,?,?,?)`,
		t.JTI, t.TokenHash, t.UserID, t.ExpiresAt.Unix(), now.Unix())
	if err != nil {
		return classify("create refresh token", err)
	}
	t.ID, _ = res.LastInsertId()
	t.CreatedAt = now.Truncate(time.Second)
	return nil
}

func (s *SQLite) ListActiveRefreshTokens(ctx context.Context, now time.Time) ([]RefreshToken, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id,jti,token_hash,user_id,expires_at,created_at FROM refresh_tokens WHERE revoked_at IS NULL AND expires_at > ? ORDER BY id`,
		now.Unix())
	if err != nil {
		return nil, classify("list refresh tokens", err)
	}
	defer rows.Close()
	var out []RefreshToken
	for rows.Next() {
		var t RefreshToken
		var expires, created int64
		if err := rows.Scan(&t.ID, &t.JTI, &t.TokenHash, &t.UserID, &expires, &created); err != nil {
			return nil, err
		}
		t.ExpiresAt = time.Unix(expires, 0).UTC()
		t.CreatedAt = time.Unix(created, 0).UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLite) RevokeRefreshToken(ctx context.Context, id int64, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`, at.Unix(), id)
	if err != nil {
		return false, classify("revoke refresh token", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLite) RevokeRefreshTokensByJTI(ctx context.Context, jti string, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked_at = ? WHERE jti = ? AND revoked_at IS NULL`, at.Unix(), jti)
	if err != nil {
		return 0, classify("revoke refresh tokens", err)
	}
	return res.RowsAffected()
}

func (s *SQLite) IsJTIRevoked(ctx context.Context, jti string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM refresh_tokens WHERE jti = ? AND revoked_at IS NOT NULL`, jti).Scan(&n)
	if err != nil {
		return false, classify("check jti", err)
	}
	return n > 0, nil
}

func (s *SQLite) CreateCategory(ctx context.Context, c *Category) (*Category, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO categories(name,user_id) VALUES(?,?)`, c.Name, c.UserID)
	if err != nil {
		return nil, classify("create category", err)
	}
	out := *c
	out.ID, _ = res.LastInsertId()
	return &out, nil
}

func (s *SQLite) GetCategory(ctx context.Context, id int64) (*Category, error) {
	var c Category
	err := s.db.QueryRowContext(ctx, `SELECT id,name,user_id FROM categories WHERE id = ?`, id).Scan(&c.ID, &c.Name, &c.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, classify("get category", err)
	}
	return &c, nil
}

func (s *SQLite) CreateTransaction(ctx context.Context, t *Transaction) (*Transaction, error) {
	out := *t
	if out.Date.IsZero() {
		out.Date = time.Now().UTC()
	}
	out.Date = out.Date.Truncate(time.Second)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO transactions(amount,type,note,date,user_id,category_id) VALUES(?,?,?,?,?,?)`,
		out.Amount.String(), out.Type, out.Note, out.Date.Unix(), out.UserID, out.CategoryID)
	if err != nil {
		return nil, classify("create transaction", err)
	}
	out.ID, _ = res.LastInsertId()
	return &out, nil
}

// SumExpenses adds amounts in Go; SQLite has no exact decimal type.
func (s *SQLite) SumExpenses(ctx context.Context, categoryID int64) (decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT amount FROM transactions WHERE category_id = ? AND type = ?`, categoryID, TransactionExpense)
	if err != nil {
		return decimal.Zero, classify("sum expenses", err)
	}
	defer rows.Close()
	sum := decimal.Zero
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return decimal.Zero, err
		}
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.Zero, fmt.Errorf("sum expenses: parse amount %q: %w", raw, err)
		}
		sum = sum.Add(amount)
	}
	return sum, rows.Err()
}

func (s *SQLite) UpsertBudget(ctx context.Context, categoryID int64, amount decimal.Decimal) (*Budget, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO budgets(category_id,amount) VALUES(?,?) ON CONFLICT(category_id) DO UPDATE SET amount = excluded.amount`,
		categoryID, amount.String())
	if err != nil {
		return nil, classify("upsert budget", err)
	}
	return s.GetBudget(ctx, categoryID)
}

func (s *SQLite) GetBudget(ctx context.Context, categoryID int64) (*Budget, error) {
	var b Budget
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT b.id,b.category_id,c.name,b.amount FROM budgets b JOIN categories c ON c.id = b.category_id WHERE b.category_id = ?`,
		categoryID).Scan(&b.ID, &b.CategoryID, &b.CategoryName, &raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, classify("get budget", err)
	}
	if b.Amount, err = decimal.NewFromString(raw); err != nil {
		return nil, fmt.Errorf("get budget: parse amount %q: %w", raw, err)
	}
	return &b, nil
}

func (s *SQLite) ListBudgetsByUser(ctx context.Context, userID int64) ([]Budget, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT b.id,b.category_id,c.name,b.amount FROM budgets b JOIN categories c ON c.id = b.category_id WHERE c.user_id = ? ORDER BY b.category_id`,
		userID)
	if err != nil {
		return nil, classify("list budgets", err)
	}
	defer rows.Close()
	var out []Budget
	for rows.Next() {
		var b Budget
		var raw string
		if err := rows.Scan(&b.ID, &b.CategoryID, &b.CategoryName, &raw); err != nil {
			return nil, err
		}
		if b.Amount, err = decimal.NewFromString(raw); err != nil {
			return nil, fmt.Errorf("list budgets: parse amount %q: %w", raw, err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *SQLite) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *SQLite) Close() error                   { return s.db.Close() }

var _ Store = (*SQLite)(nil)

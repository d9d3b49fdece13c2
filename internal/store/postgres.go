package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Postgres relies on migrations for its schema. Amounts cross the wire as
// text so no precision is lost to float conversion.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	cfg.MaxConnIdleTime = 5 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) CreateUser(ctx context.Context, u *User) (*User, error) {
	c := *u
	if c.Role == "" {
		c.Role = RoleUser
	}
	if c.Status == "" {
		c.Status = StatusActive
	}
	err := p.pool.QueryRow(ctx,
		`INSERT INTO users(full_name,email,password_hash,role,status) VALUES($1,$2,$3,$4,$5) RETURNING id,created_at`,
		c.FullName, c.Email, c.PasswordHash, c.Role, c.Status).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return nil, classify("create user", err)
	}
	return &c, nil
}

func (p *Postgres) scanUser(row pgx.Row, op string) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.FullName, &u.Email, &u.PasswordHash, &u.Role, &u.Status, &u.CreatedAt); err != nil {
		return nil, classify(op, err)
	}
	return &u, nil
}

func (p *Postgres) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return p.scanUser(p.pool.QueryRow(ctx,
		`SELECT id,full_name,email,password_hash,role,status,created_at FROM users WHERE lower(email) = lower($1)`, email),
		"get user by email")
}

func (p *Postgres) GetUserByID(ctx context.Context, id int64) (*User, error) {
	return p.scanUser(p.pool.QueryRow(ctx,
		`SELECT id,full_name,email,password_hash,role,status,created_at FROM users WHERE id = $1`, id),
		"get user by id")
}

func (p *Postgres) SetUserStatus(ctx context.Context, id int64, status string) error {
	tag, err := p.pool.Exec(ctx, `UPDATE users SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return classify("set user status", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) CreateRefreshToken(ctx context.Context, t *RefreshToken) error {
	err := p.pool.QueryRow(ctx,
		`INSERT INTO refresh_tokens(jti,token_hash,user_id,expires_at) VALUES($1,$2,$3,$4) RETURNING id,created_at`,
		t.JTI, t.TokenHash, t.UserID, t.ExpiresAt).Scan(&t.ID, &t.CreatedAt)
	return classify("create refresh token", err)
}

func (p *Postgres) ListActiveRefreshTokens(ctx context.Context, now time.Time) ([]RefreshToken, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id,jti,token_hash,user_id,expires_at,created_at FROM refresh_tokens WHERE revoked_at IS NULL AND expires_at > $1 ORDER BY id`,
		now)
	if err != nil {
		return nil, classify("list refresh tokens", err)
	}
	defer rows.Close()
	var out []RefreshToken
	for rows.Next() {
		var t RefreshToken
		if err := rows.Scan(&t.ID, &t.JTI, &t.TokenHash, &t.UserID, &t.ExpiresAt, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *Postgres) RevokeRefreshToken(ctx context.Context, id int64, at time.Time) (bool, error) {
	tag, err := p.pool.Exec(ctx,
		`UPDATE refresh_tokens SET revoked_at = $1 WHERE id = $2 AND revoked_at IS NULL`, at, id)
	if err != nil {
		return false, classify("revoke refresh token", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (p *Postgres) RevokeRefreshTokensByJTI(ctx context.Context, jti string, at time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx,
		`UPDATE refresh_tokens SET revoked_at = $1 WHERE jti = $2 AND revoked_at IS NULL`, at, jti)
	if err != nil {
		return 0, classify("revoke refresh tokens", err)
	}
	return tag.RowsAffected(), nil
}

func (p *Postgres) IsJTIRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM refresh_tokens WHERE jti = $1 AND revoked_at IS NOT NULL)`, jti).Scan(&revoked)
	if err != nil {
		return false, classify("check jti", err)
	}
	return revoked, nil
}

func (p *Postgres) CreateCategory(ctx context.Context, c *Category) (*Category, error) {
	out := *c
	err := p.pool.QueryRow(ctx,
		`INSERT INTO categories(name,user_id) VALUES($1,$2) RETURNING id`, c.Name, c.UserID).Scan(&out.ID)
	if err != nil {
		return nil, classify("create category", err)
	}
	return &out, nil
}

func (p *Postgres) GetCategory(ctx context.Context, id int64) (*Category, error) {
	var c Category
	err := p.pool.QueryRow(ctx, `SELECT id,name,user_id FROM categories WHERE id = $1`, id).Scan(&c.ID, &c.Name, &c.UserID)
	if err != nil {
		return nil, classify("get category", err)
	}
	return &c, nil
}

func (p *Postgres) CreateTransaction(ctx context.Context, t *Transaction) (*Transaction, error) {
	out := *t
	if out.Date.IsZero() {
		out.Date = time.Now().UTC()
	}
	var amount string
	err := p.pool.QueryRow(ctx,
		`INSERT INTO transactions(amount,type,note,date,user_id,category_id) VALUES($1::numeric,$2,$3,$4,$5,$6) RETURNING id,amount::text`,
		out.Amount.String(), out.Type, out.Note, out.Date, out.UserID, out.CategoryID).Scan(&out.ID, &amount)
	if err != nil {
		return nil, classify("create transaction", err)
	}
	if out.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("create transaction: parse amount %q: %w", amount, err)
	}
	return &out, nil
}

func (p *Postgres) SumExpenses(ctx context.Context, categoryID int64) (decimal.Decimal, error) {
	var raw string
	err := p.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0)::text FROM transactions WHERE category_id = $1 AND type = $2`,
		categoryID, TransactionExpense).Scan(&raw)
	if err != nil {
		return decimal.Zero, classify("sum expenses", err)
	}
	return decimal.NewFromString(raw)
}

func (p *Postgres) UpsertBudget(ctx context.Context, categoryID int64, amount decimal.Decimal) (*Budget, error) {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO budgets(category_id,amount) VALUES($1,$2::numeric) ON CONFLICT (category_id) DO UPDATE SET amount = EXCLUDED.amount`,
		categoryID, amount.String())
	if err != nil {
		return nil, classify("upsert budget", err)
	}
	return p.GetBudget(ctx, categoryID)
}

func (p *Postgres) GetBudget(ctx context.Context, categoryID int64) (*Budget, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT b.id,b.category_id,c.name,b.amount::text FROM budgets b JOIN categories c ON c.id = b.category_id WHERE b.category_id = $1`,
		categoryID)
	if err != nil {
		return nil, classify("get budget", err)
	}
	budgets, err := scanBudgets(rows)
	if err != nil {
		return nil, err
	}
	if len(budgets) == 0 {
		return nil, ErrNotFound
	}
	return &budgets[0], nil
}

func (p *Postgres) ListBudgetsByUser(ctx context.Context, userID int64) ([]Budget, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT b.id,b.category_id,c.name,b.amount::text FROM budgets b JOIN categories c ON c.id = b.category_id WHERE c.user_id = $1 ORDER BY b.category_id`,
		userID)
	if err != nil {
		return nil, classify("list budgets", err)
	}
	return scanBudgets(rows)
}

func scanBudgets(rows pgx.Rows) ([]Budget, error) {
	defer rows.Close()
	var out []Budget
	for rows.Next() {
		var b Budget
		var raw string
		if err := rows.Scan(&b.ID, &b.CategoryID, &b.CategoryName, &raw); err != nil {
			return nil, err
		}
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("parse budget amount %q: %w", raw, err)
		}
		b.Amount = amount
		out = append(out, b)
	}
	return out, rows.Err()
}

func (p *Postgres) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

var _ Store = (*Postgres)(nil)

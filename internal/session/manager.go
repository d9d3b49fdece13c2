// Package session issues, rotates and revokes login sessions. A session is a
// short-lived access token plus an opaque refresh secret; both share a jti
// that names the refresh-token family.
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/example/expensetracker/internal/apperr"
	"github.com/example/expensetracker/internal/password"
	"github.com/example/expensetracker/internal/store"
	"github.com/example/expensetracker/internal/token"
)

const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 30 * 24 * time.Hour

	secretBytes = 32
)

// UserInfo is the public part of the account returned with a session.
type UserInfo struct {
	UserID int64  `json:"userID"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

type Result struct {
	AccessToken  string
	RefreshToken string
	User         UserInfo
}

type Options struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Logger     *slog.Logger
	// Operations counts outcomes by operation; nil disables counting.
	Operations *prometheus.CounterVec
}

type Manager struct {
	store      store.Store
	codec      *token.Codec
	hasher     *password.Hasher
	logger     *slog.Logger
	ops        *prometheus.CounterVec
	tracer     trace.Tracer
	accessTTL  time.Duration
	refreshTTL time.Duration

	now       func() time.Time
	newSecret func() (string, error)
}

func NewManager(st store.Store, codec *token.Codec, hasher *password.Hasher, opts Options) *Manager {
	m := &Manager{
		store:      st,
		codec:      codec,
		hasher:     hasher,
		logger:     opts.Logger,
		ops:        opts.Operations,
		tracer:     otel.Tracer("expense-tracker/session"),
		accessTTL:  opts.AccessTTL,
		refreshTTL: opts.RefreshTTL,
		now:        time.Now,
		newSecret:  randomSecret,
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.accessTTL <= 0 {
		m.accessTTL = DefaultAccessTTL
	}
	if m.refreshTTL <= 0 {
		m.refreshTTL = DefaultRefreshTTL
	}
	return m
}

func randomSecret() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate refresh secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Login checks credentials and opens a new session family.
func (m *Manager) Login(ctx context.Context, email, pw string) (res *Result, err error) {
	ctx, span := m.tracer.Start(ctx, "session.Login")
	defer func() { m.finish(span, "login", err) }()

	user, err := m.store.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.UserNotFound(email)
	}
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int64("user.id", user.ID))

	if !user.Active() {
		return nil, apperr.UserNotActive(email)
	}

	ok, err := m.hasher.Verify(user.PasswordHash, pw)
	if err != nil {
		return nil, fmt.Errorf("verify password for user %d: %w", user.ID, err)
	}
	if !ok {
		return nil, apperr.InvalidCredentials("Invalid password")
	}

	return m.issue(ctx, user)
}

// Refresh exchanges a refresh secret for a new session. The presented secret
// is revoked whether or not the rest of the exchange succeeds; of two
// concurrent exchanges of one secret exactly one wins.
func (m *Manager) Refresh(ctx context.Context, secret string) (res *Result, err error) {
	ctx, span := m.tracer.Start(ctx, "session.Refresh")
	defer func() { m.finish(span, "refresh", err) }()

	if secret == "" {
		return nil, apperr.InvalidToken()
	}

	now := m.now()
	active, err := m.store.ListActiveRefreshTokens(ctx, now)
	if err != nil {
		return nil, err
	}

	var matched *store.RefreshToken
	for i := range active {
		ok, verr := m.hasher.Verify(active[i].TokenHash, secret)
		if verr != nil {
			m.logger.Warn("unreadable refresh token hash", "token_id", active[i].ID, "error", verr)
			continue
		}
		if ok {
			matched = &active[i]
			break
		}
	}
	if matched == nil {
		return nil, apperr.InvalidToken()
	}

	won, err := m.store.RevokeRefreshToken(ctx, matched.ID, now)
	if err != nil {
		return nil, err
	}
	if !won {
		m.logger.Warn("refresh token reused concurrently", "jti", matched.JTI, "user_id", matched.UserID)
		return nil, apperr.InvalidToken()
	}

	user, err := m.store.GetUserByID(ctx, matched.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.InvalidToken()
	}
	if err != nil {
		return nil, err
	}
	if !user.Active() {
		return nil, apperr.UserNotActive(user.Email)
	}

	return m.issue(ctx, user)
}

// Logout revokes every live record of the family. Unknown or already
// revoked families are not an error.
func (m *Manager) Logout(ctx context.Context, jti string) (err error) {
	ctx, span := m.tracer.Start(ctx, "session.Logout")
	defer func() { m.finish(span, "logout", err) }()

	if jti == "" {
		return nil
	}
	n, err := m.store.RevokeRefreshTokensByJTI(ctx, jti, m.now())
	if err != nil {
		return err
	}
	m.logger.Debug("session family revoked", "jti", jti, "records", n)
	return nil
}

func (m *Manager) issue(ctx context.Context, user *store.User) (*Result, error) {
	secret, err := m.newSecret()
	if err != nil {
		return nil, err
	}
	hash, err := m.hasher.Hash(secret)
	if err != nil {
		return nil, fmt.Errorf("hash refresh secret: %w", err)
	}

	jti := uuid.NewString()
	now := m.now()
	if err := m.store.CreateRefreshToken(ctx, &store.RefreshToken{
		JTI:       jti,
		TokenHash: hash,
		UserID:    user.ID,
		ExpiresAt: now.Add(m.refreshTTL),
	}); err != nil {
		return nil, err
	}

	access, err := m.codec.Issue(token.Claims{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:      jti,
			Subject: strconv.FormatInt(user.ID, 10),
		},
	}, m.accessTTL)
	if err != nil {
		return nil, err
	}

	return &Result{
		AccessToken:  access,
		RefreshToken: secret,
		User:         UserInfo{UserID: user.ID, Email: user.Email, Role: user.Role},
	}, nil
}

func (m *Manager) finish(span trace.Span, op string, err error) {
	outcome := "success"
	if err != nil {
		outcome = string(apperr.CodeOf(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		if outcome == string(apperr.CodeInternal) {
			m.logger.Error("session operation failed", "operation", op, "error", err)
		} else {
			m.logger.Info("session operation rejected", "operation", op, "code", outcome)
		}
	}
	if m.ops != nil {
		m.ops.WithLabelValues(op, outcome).Inc()
	}
	span.End()
}

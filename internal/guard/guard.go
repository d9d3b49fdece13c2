// Package guard authenticates bearer tokens and enforces route permissions.
package guard

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/example/expensetracker/internal/apperr"
	"github.com/example/expensetracker/internal/authz"
	"github.com/example/expensetracker/internal/httpx"
	"github.com/example/expensetracker/internal/store"
	"github.com/example/expensetracker/internal/token"
)

type ctxKey struct{}

func WithIdentity(ctx context.Context, id authz.Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// IdentityFrom returns the identity Protect attached to the request.
func IdentityFrom(ctx context.Context) (authz.Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(authz.Identity)
	return id, ok
}

// ExtractBearer returns the token of an "Authorization: Bearer <t>" header.
// The scheme is matched case-insensitively.
func ExtractBearer(r *http.Request) (string, bool) {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, tok, found := strings.Cut(h, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	return tok, tok != ""
}

type Guard struct {
	codec  *token.Codec
	store  store.Store
	engine *authz.Engine
	logger *slog.Logger
}

func New(codec *token.Codec, st store.Store, engine *authz.Engine, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{codec: codec, store: st, engine: engine, logger: logger}
}

// Authenticate resolves the caller of r. Every call hits the store: a
// revoked family or deactivated account takes effect on the next request.
func (g *Guard) Authenticate(r *http.Request) (authz.Identity, error) {
	raw, ok := ExtractBearer(r)
	if !ok {
		return authz.Identity{}, apperr.Unauthorized("Authentication required")
	}

	claims, err := g.codec.Verify(raw)
	switch {
	case errors.Is(err, token.ErrExpired):
		return authz.Identity{}, apperr.TokenExpired()
	case err != nil:
		return authz.Identity{}, apperr.InvalidToken().WithCause(err)
	}

	ctx := r.Context()
	revoked, err := g.store.IsJTIRevoked(ctx, claims.JTI())
	if err != nil {
		return authz.Identity{}, err
	}
	if revoked {
		return authz.Identity{}, apperr.InvalidToken()
	}

	user, err := g.store.GetUserByID(ctx, claims.UserID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return authz.Identity{}, err
	}
	if user == nil || !user.Active() {
		return authz.Identity{}, apperr.UserNotFound(claims.Email)
	}

	return authz.Identity{
		UserID: user.ID,
		Email:  user.Email,
		JTI:    claims.JTI(),
		Role:   user.Role,
	}, nil
}

// Protect authenticates the request and then requires every listed
// permission. With no requirements any authenticated caller passes.
func (g *Guard) Protect(reqs ...authz.Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := g.Authenticate(r)
			if err != nil {
				httpx.WriteError(w, g.logger, err)
				return
			}
			if err := g.engine.Evaluate(id, reqs...); err != nil {
				g.logger.Info("permission denied", "user_id", id.UserID, "role", id.Role, "path", r.URL.Path)
				httpx.WriteError(w, g.logger, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// ProtectFunc is Protect for a handler function.
func (g *Guard) ProtectFunc(h http.HandlerFunc, reqs ...authz.Requirement) http.Handler {
	return g.Protect(reqs...)(h)
}

package guard

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/expensetracker/internal/apperr"
	"github.com/example/expensetracker/internal/authz"
	"github.com/example/expensetracker/internal/httpx"
	"github.com/example/expensetracker/internal/password"
	"github.com/example/expensetracker/internal/session"
	"github.com/example/expensetracker/internal/store"
	"github.com/example/expensetracker/internal/token"
)

type env struct {
	store   *store.Memory
	codec   *token.Codec
	guard   *Guard
	session *session.Manager
	user    *store.User
}

func setup(t *testing.T) *env {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	codec, err := token.NewCodec(key, nil, "")
	require.NoError(t, err)

	hasher := password.NewHasher(password.Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	st := store.NewMemory()
	hash, err := hasher.Hash("pw")
	require.NoError(t, err)
	user, err := st.CreateUser(context.Background(), &store.User{FullName: "U", Email: "u@test.com", PasswordHash: hash, Role: store.RoleUser})
	require.NoError(t, err)

	return &env{
		store:   st,
		codec:   codec,
		guard:   New(codec, st, authz.NewEngine(false, nil), nil),
		session: session.NewManager(st, codec, hasher, session.Options{}),
		user:    user,
	}
}

func (e *env) login(t *testing.T) *session.Result {
	t.Helper()
	res, err := e.session.Login(context.Background(), "u@test.com", "pw")
	require.NoError(t, err)
	return res
}

func serve(h http.Handler, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if bearer != "" {
		req.Header.Set("Authorization", bearer)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) apperr.Code {
	t.Helper()
	var body httpx.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Code
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFrom(r.Context())
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"userID": id.UserID, "jti": id.JTI})
})

func TestExtractBearer(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := ExtractBearer(r)
	require.False(t, ok)

	r.Header.Set("Authorization", "bearer abc")
	tok, ok := ExtractBearer(r)
	require.True(t, ok)
	require.Equal(t, "abc", tok)

	r.Header.Set("Authorization", "Basic abc")
	_, ok = ExtractBearer(r)
	require.False(t, ok)

	r.Header.Set("Authorization", "Bearer ")
	_, ok = ExtractBearer(r)
	require.False(t, ok)
}

func TestProtectAttachesIdentity(t *testing.T) {
	e := setup(t)
	res := e.login(t)

	rec := serve(e.guard.Protect(authz.Require(authz.ActionCreate, authz.SubjectBudget))(okHandler), "Bearer "+res.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.EqualValues(t, e.user.ID, body["userID"])
}

func TestProtectRejections(t *testing.T) {
	e := setup(t)
	res := e.login(t)
	h := e.guard.Protect()(okHandler)

	rec := serve(h, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, apperr.CodeUnauthorized, errorCode(t, rec))

	rec = serve(h, "Bearer garbage")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, apperr.CodeInvalidToken, errorCode(t, rec))

	expired, err := e.codec.Issue(token.Claims{UserID: e.user.ID}, -time.Minute)
	require.NoError(t, err)
	rec = serve(h, "Bearer "+expired)
	require.Equal(t, apperr.CodeTokenExpired, errorCode(t, rec))

	claims, err := e.codec.Verify(res.AccessToken)
	require.NoError(t, err)
	require.NoError(t, e.session.Logout(context.Background(), claims.JTI()))
	rec = serve(h, "Bearer "+res.AccessToken)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, apperr.CodeInvalidToken, errorCode(t, rec))
}

func TestProtectInactiveUser(t *testing.T) {
	e := setup(t)
	res := e.login(t)
	require.NoError(t, e.store.SetUserStatus(context.Background(), e.user.ID, store.StatusInactive))

	rec := serve(e.guard.Protect()(okHandler), "Bearer "+res.AccessToken)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, apperr.CodeUserNotFound, errorCode(t, rec))
}

func TestProtectDeniesByRole(t *testing.T) {
	e := setup(t)
	res := e.login(t)

	rec := serve(e.guard.Protect(authz.Require(authz.ActionCreate, authz.SubjectUser))(okHandler), "Bearer "+res.AccessToken)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, apperr.CodeInsufficientPermissions, errorCode(t, rec))
}

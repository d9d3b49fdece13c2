package main

import (
	"net/http"
	"strings"
	"time"

	"github.com/example/expensetracker/internal/apperr"
	"github.com/example/expensetracker/internal/guard"
	"github.com/example/expensetracker/internal/httpx"
	"github.com/example/expensetracker/internal/session"
)

const refreshCookieName = "refreshToken"

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	AccessToken string           `json:"accessToken"`
	User        session.UserInfo `json:"user"`
}

func (a *App) setRefreshCookie(w http.ResponseWriter, secret string) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    secret,
		Path:     "/",
		MaxAge:   int(a.cfg.RefreshTokenTTL / time.Second),
		HttpOnly: true,
		Secure:   a.cfg.Production(),
		SameSite: http.SameSiteStrictMode,
	})
}

func (a *App) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.cfg.Production(),
		SameSite: http.SameSiteStrictMode,
	})
}

func refreshCookie(r *http.Request) string {
	c, err := r.Cookie(refreshCookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

// HandleLogin exchanges credentials for an access token. The refresh secret
// only travels in the cookie.
func (a *App) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var in loginRequest
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.WriteError(w, a.logger, err)
		return
	}
	in.Email = strings.TrimSpace(in.Email)
	if in.Email == "" {
		httpx.WriteError(w, a.logger, apperr.Validation("email", "is required"))
		return
	}
	if in.Password == "" {
		httpx.WriteError(w, a.logger, apperr.Validation("password", "is required"))
		return
	}

	res, err := a.sessions.Login(r.Context(), in.Email, in.Password)
	if err != nil {
		httpx.WriteError(w, a.logger, err)
		return
	}
	a.setRefreshCookie(w, res.RefreshToken)
	httpx.WriteJSON(w, http.StatusOK, sessionResponse{AccessToken: res.AccessToken, User: res.User})
}

func (a *App) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	secret := refreshCookie(r)
	if secret == "" {
		httpx.WriteError(w, a.logger, apperr.Unauthorized("No refresh token provided"))
		return
	}

	res, err := a.sessions.Refresh(r.Context(), secret)
	if err != nil {
		httpx.WriteError(w, a.logger, err)
		return
	}
	a.setRefreshCookie(w, res.RefreshToken)
	httpx.WriteJSON(w, http.StatusOK, sessionResponse{AccessToken: res.AccessToken, User: res.User})
}

// HandleLogout revokes the family named by the bearer token. An expired
// access token still identifies its family, so only the signature is
// checked here.
func (a *App) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if refreshCookie(r) == "" {
		httpx.WriteError(w, a.logger, apperr.Unauthorized("You already logged out"))
		return
	}
	raw, ok := guard.ExtractBearer(r)
	if !ok {
		httpx.WriteError(w, a.logger, apperr.Unauthorized(""))
		return
	}
	claims, err := a.codec.Decode(raw)
	if err != nil {
		httpx.WriteError(w, a.logger, apperr.InvalidToken().WithCause(err))
		return
	}

	if err := a.sessions.Logout(r.Context(), claims.JTI()); err != nil {
		httpx.WriteError(w, a.logger, err)
		return
	}
	a.clearRefreshCookie(w)
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"success": "You Logged out successfully"})
}

// HandleMe returns the identity the guard resolved for the bearer token.
func (a *App) HandleMe(w http.ResponseWriter, r *http.Request) {
	id, _ := guard.IdentityFrom(r.Context())
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"userID": id.UserID,
		"email":  id.Email,
		"role":   id.Role,
	})
}

func (a *App) HandleHealth(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *App) HandleReady(w http.ResponseWriter, r *http.Request) {
	if err := a.store.Ping(r.Context()); err != nil {
		a.logger.Warn("readiness check failed", "error", err)
		httpx.WriteJSON(w, http.StatusServiceUnavailable, map[string]bool{"ready": false})
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"ready": true})
}

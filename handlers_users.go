package main

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/example/expensetracker/internal/apperr"
	"github.com/example/expensetracker/internal/httpx"
	"github.com/example/expensetracker/internal/store"
)

type createUserRequest struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type userResponse struct {
	ID        int64     `json:"id"`
	FullName  string    `json:"fullName"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

func newUserResponse(u *store.User) userResponse {
	return userResponse{
		ID:        u.ID,
		FullName:  u.FullName,
		Email:     u.Email,
		Role:      u.Role,
		Status:    u.Status,
		CreatedAt: u.CreatedAt,
	}
}

func (in *createUserRequest) validate() error {
	in.Email = strings.TrimSpace(in.Email)
	in.FullName = strings.TrimSpace(in.FullName)
	switch {
	case in.FullName == "":
		return apperr.Validation("fullName", "is required")
	case !strings.Contains(in.Email, "@"):
		return apperr.Validation("email", "must be a valid email address")
	case in.Password == "":
		return apperr.Validation("password", "is required")
	}
	switch in.Role {
	case "":
		in.Role = store.RoleUser
	case store.RoleUser, store.RoleAdmin:
	default:
		return apperr.Validation("role", "must be one of admin, user")
	}
	return nil
}

// HandleCreateUser registers an account. Only callers allowed to create
// User reach it.
func (a *App) HandleCreateUser(w http.ResponseWriter, r *http.Request) {
	var in createUserRequest
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.WriteError(w, a.logger, err)
		return
	}
	if err := in.validate(); err != nil {
		httpx.WriteError(w, a.logger, err)
		return
	}

	hash, err := a.hasher.Hash(in.Password)
	if err != nil {
		httpx.WriteError(w, a.logger, err)
		return
	}
	u, err := a.store.CreateUser(r.Context(), &store.User{
		FullName:     in.FullName,
		Email:        in.Email,
		PasswordHash: hash,
		Role:         in.Role,
	})
	if err != nil {
		httpx.WriteError(w, a.logger, err)
		return
	}
	a.logger.Info("user created", "user_id", u.ID, "role", u.Role)
	httpx.WriteJSON(w, http.StatusCreated, newUserResponse(u))
}

// HandleDeleteUser deactivates an account. The row is kept because tokens,
// categories and transactions reference it; the guard rejects inactive
// users on their next request.
func (a *App) HandleDeleteUser(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		httpx.WriteError(w, a.logger, apperr.Validation("id", "must be an integer"))
		return
	}

	err = a.store.SetUserStatus(r.Context(), id, store.StatusInactive)
	if errors.Is(err, store.ErrNotFound) {
		httpx.WriteError(w, a.logger, apperr.NotFound("User", raw))
		return
	}
	if err != nil {
		httpx.WriteError(w, a.logger, err)
		return
	}
	a.logger.Info("user deactivated", "user_id", id)
	w.WriteHeader(http.StatusNoContent)
}

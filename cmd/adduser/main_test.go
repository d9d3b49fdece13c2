package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/expensetracker/internal/password"
	"github.com/example/expensetracker/internal/store"
)

func TestRun_Success(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "users.db")
	stdout := new(bytes.Buffer)

	err := run([]string{"-email", "root@test.com", "-role", "admin", "-password", "secret", "-db", dbPath}, new(bytes.Buffer), stdout, new(bytes.Buffer))
	require.NoError(t, err)
	assert.Contains(t, stdout.String(), "User root@test.com created successfully")

	db, err := store.NewSQLite(dbPath)
	require.NoError(t, err)
	defer db.Close()

	u, err := db.GetUserByEmail(context.Background(), "root@test.com")
	require.NoError(t, err)
	assert.Equal(t, store.RoleAdmin, u.Role)
	assert.Equal(t, "root@test.com", u.FullName)

	ok, err := password.NewHasher(password.DefaultParams).Verify(u.PasswordHash, "secret")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRun_DuplicateUser(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "users.db")
	args := []string{"-email", "a@test.com", "-password", "secret", "-db", dbPath}

	require.NoError(t, run(args, new(bytes.Buffer), new(bytes.Buffer), new(bytes.Buffer)))

	err := run(args, new(bytes.Buffer), new(bytes.Buffer), new(bytes.Buffer))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestRun_MissingEmailFlag(t *testing.T) {
	stdout := new(bytes.Buffer)
	err := run([]string{"-password", "secret"}, new(bytes.Buffer), stdout, new(bytes.Buffer))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required flags: email")
	assert.Contains(t, stdout.String(), "Usage:")
}

func TestRun_UnknownRole(t *testing.T) {
	err := run([]string{"-email", "a@test.com", "-role", "owner", "-password", "x"}, new(bytes.Buffer), new(bytes.Buffer), new(bytes.Buffer))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown role")
}

func TestRun_InteractivePassword(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "users.db")
	stdout := new(bytes.Buffer)

	err := run([]string{"-email", "i@test.com", "-db", dbPath}, bytes.NewBufferString("interactive_secret\n"), stdout, new(bytes.Buffer))
	require.NoError(t, err)
	assert.Contains(t, stdout.String(), "Password: ")
	assert.Contains(t, stdout.String(), "created successfully")
}

func TestRun_EmptyPassword(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "users.db")
	err := run([]string{"-email", "e@test.com", "-db", dbPath}, bytes.NewBufferString("   \n"), new(bytes.Buffer), new(bytes.Buffer))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "password cannot be empty")
}

// Command adduser creates an account directly in the SQLite store, e.g. the
// first admin of a fresh deployment.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/example/expensetracker/internal/password"
	"github.com/example/expensetracker/internal/store"
)

const defaultDB = "./data/expense_tracker.db"

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("adduser", flag.ContinueOnError)
	fs.SetOutput(stderr)

	email := fs.String("email", "", "Email address")
	name := fs.String("name", "", "Full name (defaults to the email)")
	role := fs.String("role", store.RoleUser, "Role: admin or user")
	passwordFlag := fs.String("password", "", "Password (optional, will prompt if omitted)")
	dbPath := fs.String("db", defaultDB, "Path to SQLite database file")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if *email == "" {
		fmt.Fprintln(stdout, "Usage: adduser -email <email> [-name <name>] [-role admin|user] [-password <password>] [-db <db_path>]")
		fs.PrintDefaults()
		return fmt.Errorf("missing required flags: email")
	}
	if *role != store.RoleUser && *role != store.RoleAdmin {
		return fmt.Errorf("unknown role %q (supported: admin, user)", *role)
	}
	if *name == "" {
		*name = *email
	}

	pw := *passwordFlag
	if pw == "" {
		fmt.Fprint(stdout, "Password: ")
		var err error
		pw, err = readPassword(stdin)
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(stdout)
	}
	if strings.TrimSpace(pw) == "" {
		return fmt.Errorf("password cannot be empty")
	}

	// SQLITE_FILE wins over the default path, never over an explicit -db.
	if path := os.Getenv("SQLITE_FILE"); path != "" && *dbPath == defaultDB {
		*dbPath = path
	}

	db, err := store.NewSQLite(*dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	ctx := context.Background()
	existing, err := db.GetUserByEmail(ctx, *email)
	if err == nil && existing != nil {
		return fmt.Errorf("user %s already exists", *email)
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed to look up user: %w", err)
	}

	hash, err := password.NewHasher(password.DefaultParams).Hash(pw)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	user, err := db.CreateUser(ctx, &store.User{
		FullName:     *name,
		Email:        *email,
		PasswordHash: hash,
		Role:         *role,
	})
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	fmt.Fprintf(stdout, "User %s created successfully with ID %d (role %s)\n", user.Email, user.ID, user.Role)
	return nil
}

func readPassword(stdin io.Reader) (string, error) {
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		if err != nil {
			return "", err
		}
		return string(b), nil
	}

	// pipes and tests
	scanner := bufio.NewScanner(stdin)
	if scanner.Scan() {
		return scanner.Text(), nil
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

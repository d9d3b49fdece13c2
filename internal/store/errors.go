package store

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/example/expensetracker/internal/apperr"
)

// classify turns driver errors into application errors. Unknown errors are
// wrapped with op and surface as 500s.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return apperr.DuplicateResource(duplicateMessage(pgErr.ConstraintName)).WithCause(err)
		case "23503":
			return apperr.BadRequest("Invalid foreign key reference Or have some related records",
				apperr.Details{"constraint": pgErr.ConstraintName}).WithCause(err)
		case "23502", "22P02", "22003":
			return apperr.BadRequest(pgErr.Message, nil).WithCause(err)
		}
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return apperr.DuplicateResource(duplicateMessage("")).WithCause(err)
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return apperr.BadRequest("Invalid foreign key reference Or have some related records", nil).WithCause(err)
		case sqlite3.SQLITE_CONSTRAINT_NOTNULL, sqlite3.SQLITE_CONSTRAINT_CHECK:
			return apperr.BadRequest("Invalid value for a required field", nil).WithCause(err)
		}
	}

	return fmt.Errorf("%s: %w", op, err)
}

func duplicateMessage(constraint string) string {
	switch constraint {
	case "users_email_key", "users_email_lower_key":
		return "Duplicate value for field(s): email"
	case "refresh_tokens_jti_key":
		return "Duplicate value for field(s): jti"
	case "budgets_category_id_key":
		return "Duplicate value for field(s): category_id"
	}
	return "Duplicate resource"
}

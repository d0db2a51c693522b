package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsUniqueViolation(t *testing.T) {
	t.Parallel()

	pgErr := &pgconn.PgError{Code: codeUniqueViolation}
	if !IsUniqueViolation(pgErr) {
		t.Error("IsUniqueViolation() = false for 23505")
	}
	if !IsUniqueViolation(fmt.Errorf("insert user: %w", pgErr)) {
		t.Error("IsUniqueViolation() = false for wrapped 23505")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: codeForeignKeyViolation}) {
		t.Error("IsUniqueViolation() = true for 23503")
	}
	if IsUniqueViolation(errors.New("plain error")) {
		t.Error("IsUniqueViolation() = true for non-pg error")
	}
}

func TestIsForeignKeyViolation(t *testing.T) {
	t.Parallel()

	if !IsForeignKeyViolation(&pgconn.PgError{Code: codeForeignKeyViolation}) {
		t.Error("IsForeignKeyViolation() = false for 23503")
	}
	if IsForeignKeyViolation(&pgconn.PgError{Code: codeUniqueViolation}) {
		t.Error("IsForeignKeyViolation() = true for 23505")
	}
}

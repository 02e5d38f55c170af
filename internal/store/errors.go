package store

import (
	"database/sql"
	"errors"
	"fmt"

	"orderly/internal/models"
)

// notFound maps sql.ErrNoRows to models.ErrNotFound and wraps everything else.
func notFound(err error, format string, args ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return models.NotFoundf(format, args...)
	}
	return fmt.Errorf("query failed: %w", err)
}

func requireRow(res sql.Result, format string, args ...any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return models.NotFoundf(format, args...)
	}
	return nil
}

package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/gosuda/domus/internal/domain"
)

// mapError translates Postgres error codes into domain sentinels. Other
// errors are returned unchanged.
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case pgerrcode.UniqueViolation:
		return fmt.Errorf("%w: %s", domain.ErrConflict, pgErr.ConstraintName)
	case pgerrcode.ForeignKeyViolation:
		// A reference into another tenant looks exactly like a missing row.
		return fmt.Errorf("%w: %s", domain.ErrNotFound, pgErr.ConstraintName)
	case pgerrcode.CheckViolation:
		return fmt.Errorf("check constraint %s: %w", pgErr.ConstraintName, err)
	default:
		return err
	}
}

func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UndefinedTable
}

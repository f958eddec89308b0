package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/zatekoja/therapybooking/internal/domain/repositories"
)

// PostgreSQL error codes the adapters translate
const (
	pqUniqueViolation    = "23505"
	pqExclusionViolation = "23P01"
)

// translate maps driver errors onto repository sentinels. Anything else is
// wrapped with op for context.
func translate(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return repositories.ErrNotFound
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pqUniqueViolation:
			return fmt.Errorf("%s: %w", op, repositories.ErrDuplicate)
		case pqExclusionViolation:
			return fmt.Errorf("%s: %w", op, repositories.ErrOverlap)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

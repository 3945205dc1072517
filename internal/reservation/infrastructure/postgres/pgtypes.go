package postgres

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"rentlane/internal/reservation/domain"
)

// Postgres SQLSTATE codes the repositories translate.
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// translateError maps driver errors onto domain errors. Serialization
// failures and deadlocks become ErrSerializationFailure so callers retry them.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeSerializationFailure, codeDeadlockDetected:
		return fmt.Errorf("%w: %s", domain.ErrSerializationFailure, pgErr.Message)
	case codeUniqueViolation:
		return domain.ErrConcurrentUpdate.WithMessage("unique constraint %s violated", pgErr.ConstraintName)
	default:
		return err
	}
}

func decimalToNumeric(value decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{
		Int:   value.Coefficient(),
		Exp:   value.Exponent(),
		Valid: true,
	}
}

func numericToDecimal(value pgtype.Numeric) (decimal.Decimal, error) {
	if !value.Valid {
		return decimal.Decimal{}, fmt.Errorf("%w: numeric is NULL", domain.ErrCorruptData)
	}
	if value.NaN {
		return decimal.Decimal{}, fmt.Errorf("%w: numeric is NaN", domain.ErrCorruptData)
	}
	if value.InfinityModifier != pgtype.Finite {
		return decimal.Decimal{}, fmt.Errorf("%w: numeric is %s", domain.ErrCorruptData, value.InfinityModifier)
	}

	intVal := value.Int
	if intVal == nil {
		intVal = big.NewInt(0)
	}

	return decimal.NewFromBigInt(intVal, value.Exp), nil
}

// numerics converts several scanned numerics at once, stopping at the first bad one.
func numerics(pairs ...numericTarget) error {
	for _, p := range pairs {
		d, err := numericToDecimal(p.src)
		if err != nil {
			return err
		}
		*p.dst = d
	}
	return nil
}

type numericTarget struct {
	src pgtype.Numeric
	dst *decimal.Decimal
}

func timePtrToTimestamptz(value *time.Time) pgtype.Timestamptz {
	if value == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: *value, Valid: true}
}

func timestamptzToTimePtr(value pgtype.Timestamptz) (*time.Time, error) {
	if !value.Valid {
		return nil, nil
	}
	if value.InfinityModifier != pgtype.Finite {
		return nil, fmt.Errorf("%w: timestamp is %s", domain.ErrCorruptData, value.InfinityModifier)
	}

	result := value.Time.UTC()
	return &result, nil
}

func dateToTimePtr(value pgtype.Date) *time.Time {
	if !value.Valid || value.InfinityModifier != pgtype.Finite {
		return nil
	}
	result := value.Time.UTC()
	return &result
}

func textFromString(value string) pgtype.Text {
	return pgtype.Text{String: value, Valid: value != ""}
}

func statusStrings(statuses []domain.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

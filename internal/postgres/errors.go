package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ariefcatur/go-realtime-pos/internal/apperr"
	"github.com/ariefcatur/go-realtime-pos/internal/orders"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
	pgSerialization       = "40001"
	pgDeadlock            = "40P01"
	pgQueryCanceled       = "57014"

	constraintOrderNumber = "orders_order_number_key"
	constraintExternalID  = "orders_external_id_key"
	constraintOpenShift   = "shifts_one_open_per_register"
)

// classify maps driver errors onto the domain sentinels and apperr kinds.
// Errors that are already classified pass through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var ae *apperr.Error
	if errors.As(err, &ae) ||
		errors.Is(err, orders.ErrNotFound) ||
		errors.Is(err, orders.ErrDuplicateOrderNumber) ||
		errors.Is(err, orders.ErrDuplicateExternalID) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			switch pgErr.ConstraintName {
			case constraintOrderNumber:
				return fmt.Errorf("%w: %s", orders.ErrDuplicateOrderNumber, pgErr.Detail)
			case constraintExternalID:
				return fmt.Errorf("%w: %s", orders.ErrDuplicateExternalID, pgErr.Detail)
			case constraintOpenShift:
				return apperr.Conflict(apperr.CodeShiftAlreadyOpen, "register already has an open shift")
			}
		case pgForeignKeyViolation:
			return apperr.Wrap(apperr.KindReference, apperr.CodeReferenceBroken, err, "referenced record does not exist")
		case pgCheckViolation:
			return apperr.Wrap(apperr.KindValidation, apperr.CodeInvalidPayload, err, "value rejected by the database")
		case pgSerialization, pgDeadlock, pgQueryCanceled:
			return apperr.Transient(err, "database is busy, retry")
		}
		// connection exceptions, insufficient resources, operator intervention
		if len(pgErr.Code) >= 2 {
			switch pgErr.Code[:2] {
			case "08", "53", "57":
				return apperr.Transient(err, "database unavailable")
			}
		}
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return apperr.Transient(err, "database timed out")
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return apperr.Transient(err, "database unavailable")
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return apperr.Transient(err, "database unavailable")
	}
	return err
}

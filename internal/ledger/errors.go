// Path: internal/ledger/errors.go
package ledger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// Kind classifies an AppError so transports can map it without string
// matching. Handlers translate kinds to HTTP statuses.
type Kind string

const (
	KindInvalidInput       Kind = "INVALID_INPUT"
	KindUnauthorized       Kind = "UNAUTHORIZED"
	KindForbidden          Kind = "FORBIDDEN"
	KindNotFound           Kind = "NOT_FOUND"
	KindConflict           Kind = "CONFLICT"
	KindPreconditionFailed Kind = "PRECONDITION_FAILED"
	KindDuplicate          Kind = "DUPLICATE"
	KindInternal           Kind = "INTERNAL"
)

// HTTPStatus maps a kind to its HTTP status code.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidInput:
		return 400
	case KindUnauthorized:
		return 401
	case KindForbidden:
		return 403
	case KindNotFound:
		return 404
	case KindConflict:
		return 409
	case KindDuplicate:
		return 409
	case KindPreconditionFailed:
		return 422
	default:
		return 500
	}
}

// AppError is the error type returned by every service in this module.
type AppError struct {
	Kind    Kind   `json:"-"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	return fmt.Sprintf("AppError: %s (Kind: %s, Details: %s)", e.Message, e.Kind, e.Details)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the caller may safely retry the operation with
// the same reference. Serialization failures and lock conflicts qualify;
// business rejections do not.
func (e *AppError) Retryable() bool {
	return e.Kind == KindConflict
}

// mapPgError converts low-level Postgres failures into AppErrors. Unique
// violations on the reference column become duplicates, serialization
// failures and deadlocks become retryable conflicts.
func mapPgError(op string, err error) *AppError {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			if strings.Contains(pgErr.ConstraintName, "reference_id") {
				return &AppError{Kind: KindDuplicate, Message: "Duplicate reference", Details: pgErr.Detail, Err: err}
			}
			return &AppError{Kind: KindConflict, Message: "Unique constraint violated", Details: pgErr.ConstraintName, Err: err}
		case "40001", "40P01":
			return &AppError{Kind: KindConflict, Message: "Transaction conflict, retry", Details: pgErr.Message, Err: err}
		case "23514":
			return &AppError{Kind: KindPreconditionFailed, Message: "Constraint check failed", Details: pgErr.ConstraintName, Err: err}
		}
	}
	return &AppError{Kind: KindInternal, Message: "Failed to " + op, Details: err.Error(), Err: err}
}

// Package postgres implements the pipeline's store gateways over pgx.
package postgres

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/shoplytics/pulse/errs"
)

// classify maps driver errors onto the pipeline taxonomy. Connectivity and
// resource-pressure failures are transient; schema, auth, and constraint
// violations other than the documented conflicts are fatal.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	code := errs.CodeTransientStore
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		code = classifySQLState(pgErr.Code)
	} else if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		code = errs.CodeTransientStore
	}

	return errs.New(code, errs.WithOp(op), errs.WithCause(err))
}

func classifySQLState(sqlstate string) errs.Code {
	if len(sqlstate) < 2 {
		return errs.CodeFatalStore
	}
	switch sqlstate[:2] {
	case "08", "53", "57":
		// Connection failures, insufficient resources, operator intervention.
		return errs.CodeTransientStore
	case "40":
		// Serialization failures and deadlocks resolve on retry.
		return errs.CodeTransientStore
	default:
		// Auth (28), invalid catalog (3D), undefined objects / schema drift
		// (42), constraint violations (23) and the rest are programming or
		// deployment bugs.
		return errs.CodeFatalStore
	}
}

// textOrNull maps empty strings onto SQL NULL for optional columns.
func textOrNull(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

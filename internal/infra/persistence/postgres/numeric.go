package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/shoplytics/pulse/errs"
)

// numericFromDecimal converts a decimal value into a pgtype.Numeric value.
func numericFromDecimal(value decimal.Decimal) (pgtype.Numeric, error) {
	var out pgtype.Numeric
	if err := out.Scan(value.String()); err != nil {
		return out, errs.New(errs.CodeFatalStore, errs.WithOp("store.numeric"),
			errs.WithMessage(fmt.Sprintf("convert numeric %s", value)), errs.WithCause(err))
	}
	return out, nil
}

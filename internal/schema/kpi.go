package schema

import "github.com/shoplytics/pulse/errs"

// KPI column names recognised by the aggregate tables. The detector whitelists
// against this set before any name reaches a SQL statement.
const (
	KPIRevenue       = "revenue"
	KPIOrderCount    = "order_count"
	KPISessionCount  = "session_count"
	KPICheckoutCount = "checkout_count"
	KPIPurchaseCount = "purchase_count"
)

var allowedKPIs = map[string]struct{}{
	KPIRevenue:       {},
	KPIOrderCount:    {},
	KPISessionCount:  {},
	KPICheckoutCount: {},
	KPIPurchaseCount: {},
}

// ValidateKPI rejects KPI names outside the allowed set.
func ValidateKPI(name string) error {
	if _, ok := allowedKPIs[name]; !ok {
		return errs.New(errs.CodeUnknownKPI, errs.WithOp("schema.validate_kpi"),
			errs.WithMessage("unsupported KPI "+name))
	}
	return nil
}

// KPIs returns the allowed KPI column names.
func KPIs() []string {
	return []string{KPIRevenue, KPIOrderCount, KPISessionCount, KPICheckoutCount, KPIPurchaseCount}
}

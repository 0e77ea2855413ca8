package schema

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shoplytics/pulse/errs"
)

func TestBucketMetricsAdd(t *testing.T) {
	a := BucketMetrics{Revenue: decimal.NewFromFloat(10.5), OrderCount: 1}
	b := BucketMetrics{Revenue: decimal.NewFromFloat(4.5), SessionCount: 2, PurchaseCount: 1}

	sum := a.Add(b)
	if !sum.Revenue.Equal(decimal.NewFromFloat(15.0)) {
		t.Errorf("revenue = %s, want 15", sum.Revenue)
	}
	if sum.OrderCount != 1 || sum.SessionCount != 2 || sum.CheckoutCount != 0 || sum.PurchaseCount != 1 {
		t.Errorf("unexpected counters: %+v", sum)
	}
}

func TestBucketMetricsZeroIdentity(t *testing.T) {
	var zero BucketMetrics
	if !zero.IsZero() {
		t.Fatal("zero value must be the identity")
	}
	m := BucketMetrics{Revenue: decimal.NewFromInt(3), CheckoutCount: 7}
	if got := m.Add(zero); got != got.Add(zero) || !got.Revenue.Equal(m.Revenue) || got.CheckoutCount != 7 {
		t.Errorf("identity violated: %+v", got)
	}
}

func TestBucketTruncation(t *testing.T) {
	in := time.Date(2026, 2, 3, 10, 15, 30, 123456789, time.UTC)
	if got := MinuteBucket(in); !got.Equal(time.Date(2026, 2, 3, 10, 15, 0, 0, time.UTC)) {
		t.Errorf("MinuteBucket = %v", got)
	}
	if got := HourBucket(in); !got.Equal(time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("HourBucket = %v", got)
	}

	// Non-UTC inputs truncate on the UTC wall clock.
	offset := time.FixedZone("plus2", 2*3600)
	local := time.Date(2026, 2, 3, 12, 15, 30, 0, offset)
	if got := MinuteBucket(local); !got.Equal(time.Date(2026, 2, 3, 10, 15, 0, 0, time.UTC)) {
		t.Errorf("MinuteBucket(offset) = %v", got)
	}
}

func TestOrderDelta(t *testing.T) {
	ev := OrderEvent{EventID: "e1", OrderID: "o1", Amount: decimal.NewFromFloat(100.0)}
	d := ev.Delta()
	if !d.Revenue.Equal(decimal.NewFromFloat(100.0)) || d.OrderCount != 1 {
		t.Errorf("order delta = %+v", d)
	}
	if d.SessionCount != 0 || d.CheckoutCount != 0 || d.PurchaseCount != 0 {
		t.Errorf("order delta touched session counters: %+v", d)
	}
}

func TestSessionDelta(t *testing.T) {
	cases := []struct {
		kind SessionType
		want BucketMetrics
	}{
		{SessionView, BucketMetrics{SessionCount: 1}},
		{SessionCheckout, BucketMetrics{CheckoutCount: 1}},
		{SessionPurchase, BucketMetrics{PurchaseCount: 1}},
	}
	for _, tc := range cases {
		ev := SessionEvent{EventID: "e", SessionID: "s", Type: tc.kind}
		got := ev.Delta()
		if got.SessionCount != tc.want.SessionCount ||
			got.CheckoutCount != tc.want.CheckoutCount ||
			got.PurchaseCount != tc.want.PurchaseCount ||
			!got.Revenue.IsZero() || got.OrderCount != 0 {
			t.Errorf("%s delta = %+v, want %+v", tc.kind, got, tc.want)
		}
	}
}

func TestSessionTypeValid(t *testing.T) {
	for _, valid := range []SessionType{SessionView, SessionCheckout, SessionPurchase} {
		if !valid.Valid() {
			t.Errorf("%s should be valid", valid)
		}
	}
	if SessionType("refund").Valid() {
		t.Error("refund should be invalid")
	}
}

func TestValidateKPI(t *testing.T) {
	for _, kpi := range KPIs() {
		if err := ValidateKPI(kpi); err != nil {
			t.Errorf("ValidateKPI(%s) = %v", kpi, err)
		}
	}
	err := ValidateKPI("revenue; DROP TABLE alerts")
	if err == nil {
		t.Fatal("expected rejection")
	}
	if errs.CodeOf(err) != errs.CodeUnknownKPI {
		t.Errorf("code = %q, want unknown_kpi", errs.CodeOf(err))
	}
}

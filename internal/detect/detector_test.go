package detect

import (
	"context"
	"testing"
	"time"

	"github.com/shoplytics/pulse/errs"
	"github.com/shoplytics/pulse/internal/schema"
)

type fakeAlertStore struct {
	buckets  []time.Time
	current  map[time.Time]float64
	partial  map[time.Time]bool
	baseline map[time.Time]float64
	noBase   map[time.Time]bool

	alerts    []Alert
	duplicate bool
	err       error
}

func newFakeAlertStore() *fakeAlertStore {
	return &fakeAlertStore{
		current:  make(map[time.Time]float64),
		partial:  make(map[time.Time]bool),
		baseline: make(map[time.Time]float64),
		noBase:   make(map[time.Time]bool),
	}
}

func (s *fakeAlertStore) LatestBuckets(_ context.Context, _ time.Duration, count int) ([]time.Time, error) {
	if s.err != nil {
		return nil, s.err
	}
	if len(s.buckets) > count {
		return s.buckets[len(s.buckets)-count:], nil
	}
	return s.buckets, nil
}

func (s *fakeAlertStore) SmoothedCurrent(_ context.Context, _ string, bucket time.Time, _ int) (float64, bool, error) {
	if s.err != nil {
		return 0, false, s.err
	}
	if s.partial[bucket] {
		return 0, false, nil
	}
	return s.current[bucket], true, nil
}

func (s *fakeAlertStore) Baseline(_ context.Context, _ string, bucket time.Time, _ int) (float64, bool, error) {
	if s.err != nil {
		return 0, false, s.err
	}
	if s.noBase[bucket] {
		return 0, false, nil
	}
	return s.baseline[bucket], true, nil
}

func (s *fakeAlertStore) InsertAlert(_ context.Context, alert Alert) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	if s.duplicate {
		return false, nil
	}
	s.alerts = append(s.alerts, alert)
	return true, nil
}

func testParams() Params {
	return Params{
		KPI:                  schema.KPIRevenue,
		BaselineDays:         7,
		ThresholdPct:         0.3,
		MinBaseline:          10,
		LookbackMinutes:      15,
		Interval:             time.Minute,
		CurrentWindowMinutes: 3,
		DurationMinutes:      3,
	}
}

// bucketsAt returns n consecutive ascending minute buckets ending at end.
func bucketsAt(end time.Time, n int) []time.Time {
	out := make([]time.Time, 0, n)
	for i := n - 1; i >= 0; i-- {
		out = append(out, end.Add(-time.Duration(i)*time.Minute))
	}
	return out
}

func TestDetectorFiresOnSustainedDrop(t *testing.T) {
	end := time.Date(2026, 8, 25, 12, 5, 0, 0, time.UTC)
	store := newFakeAlertStore()
	store.buckets = bucketsAt(end, 3)
	for _, bucket := range store.buckets {
		store.current[bucket] = 40
		store.baseline[bucket] = 100
	}

	detector := New(store, testParams(), nil, nil)
	fired, err := detector.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick = %v", err)
	}
	if !fired {
		t.Fatal("sustained 60% drop must fire")
	}

	alert := store.alerts[0]
	if !alert.Bucket.Equal(end) {
		t.Errorf("alert bucket = %v, want latest %v", alert.Bucket, end)
	}
	if alert.Direction != "down" {
		t.Errorf("direction = %q, want down", alert.Direction)
	}
	if alert.DeltaPct > -0.59 || alert.DeltaPct < -0.61 {
		t.Errorf("delta = %f, want about -0.6", alert.DeltaPct)
	}
}

func TestDetectorFiresOnSustainedSpike(t *testing.T) {
	end := time.Date(2026, 8, 25, 12, 5, 0, 0, time.UTC)
	store := newFakeAlertStore()
	store.buckets = bucketsAt(end, 3)
	for _, bucket := range store.buckets {
		store.current[bucket] = 200
		store.baseline[bucket] = 100
	}

	detector := New(store, testParams(), nil, nil)
	fired, err := detector.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick = %v", err)
	}
	if !fired {
		t.Fatal("sustained 100% spike must fire")
	}
	if store.alerts[0].Direction != "up" {
		t.Errorf("direction = %q, want up", store.alerts[0].Direction)
	}
}

func TestDetectorOneBucketRecoveryHoldsFire(t *testing.T) {
	end := time.Date(2026, 8, 25, 12, 5, 0, 0, time.UTC)
	store := newFakeAlertStore()
	store.buckets = bucketsAt(end, 3)
	for i, bucket := range store.buckets {
		store.baseline[bucket] = 100
		if i == 1 {
			store.current[bucket] = 95 // back within threshold
		} else {
			store.current[bucket] = 40
		}
	}

	detector := New(store, testParams(), nil, nil)
	fired, err := detector.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick = %v", err)
	}
	if fired {
		t.Fatal("recovery inside the window must hold fire")
	}
}

func TestDetectorExactThresholdDoesNotFire(t *testing.T) {
	end := time.Date(2026, 8, 25, 12, 5, 0, 0, time.UTC)
	store := newFakeAlertStore()
	store.buckets = bucketsAt(end, 3)
	for _, bucket := range store.buckets {
		store.current[bucket] = 70 // delta exactly -0.3
		store.baseline[bucket] = 100
	}

	detector := New(store, testParams(), nil, nil)
	fired, err := detector.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick = %v", err)
	}
	if fired {
		t.Fatal("deviation equal to the threshold must not fire")
	}
}

func TestDetectorLowBaselineSuppressed(t *testing.T) {
	end := time.Date(2026, 8, 25, 12, 5, 0, 0, time.UTC)
	store := newFakeAlertStore()
	store.buckets = bucketsAt(end, 3)
	for _, bucket := range store.buckets {
		store.current[bucket] = 0.5
		store.baseline[bucket] = 2 // below MinBaseline of 10
	}

	detector := New(store, testParams(), nil, nil)
	fired, err := detector.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick = %v", err)
	}
	if fired {
		t.Fatal("thin baseline must suppress the alert")
	}
}

func TestDetectorMissingHistorySuppressed(t *testing.T) {
	end := time.Date(2026, 8, 25, 12, 5, 0, 0, time.UTC)
	store := newFakeAlertStore()
	store.buckets = bucketsAt(end, 3)
	for _, bucket := range store.buckets {
		store.current[bucket] = 40
		store.baseline[bucket] = 100
	}
	store.noBase[store.buckets[0]] = true

	detector := New(store, testParams(), nil, nil)
	fired, err := detector.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick = %v", err)
	}
	if fired {
		t.Fatal("missing baseline history must suppress the alert")
	}
}

func TestDetectorSparseWindowSuppressed(t *testing.T) {
	end := time.Date(2026, 8, 25, 12, 5, 0, 0, time.UTC)
	store := newFakeAlertStore()
	store.buckets = bucketsAt(end, 3)
	for _, bucket := range store.buckets {
		store.current[bucket] = 40
		store.baseline[bucket] = 100
	}
	store.partial[end] = true

	detector := New(store, testParams(), nil, nil)
	fired, err := detector.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick = %v", err)
	}
	if fired {
		t.Fatal("incomplete smoothing window must suppress the alert")
	}
}

func TestDetectorTooFewBucketsSuppressed(t *testing.T) {
	end := time.Date(2026, 8, 25, 12, 5, 0, 0, time.UTC)
	store := newFakeAlertStore()
	store.buckets = bucketsAt(end, 2)

	detector := New(store, testParams(), nil, nil)
	fired, err := detector.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick = %v", err)
	}
	if fired {
		t.Fatal("too few recent buckets must suppress the alert")
	}
}

func TestDetectorDuplicateAlertReported(t *testing.T) {
	end := time.Date(2026, 8, 25, 12, 5, 0, 0, time.UTC)
	store := newFakeAlertStore()
	store.buckets = bucketsAt(end, 3)
	for _, bucket := range store.buckets {
		store.current[bucket] = 40
		store.baseline[bucket] = 100
	}
	store.duplicate = true

	detector := New(store, testParams(), nil, nil)
	fired, err := detector.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick = %v", err)
	}
	if fired {
		t.Fatal("suppressed duplicate alert must not report as fired")
	}
}

func TestDetectorDurationOneFiresImmediately(t *testing.T) {
	end := time.Date(2026, 8, 25, 12, 5, 0, 0, time.UTC)
	store := newFakeAlertStore()
	store.buckets = bucketsAt(end, 1)
	store.current[end] = 40
	store.baseline[end] = 100

	params := testParams()
	params.DurationMinutes = 1
	detector := New(store, params, nil, nil)
	fired, err := detector.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick = %v", err)
	}
	if !fired {
		t.Fatal("single deviating bucket must fire when duration is 1")
	}
}

func TestDetectorStoreErrorPropagates(t *testing.T) {
	store := newFakeAlertStore()
	store.err = errs.New(errs.CodeTransientStore, errs.WithOp("test"))

	detector := New(store, testParams(), nil, nil)
	if _, err := detector.Tick(context.Background()); errs.CodeOf(err) != errs.CodeTransientStore {
		t.Fatalf("Tick = %v, want transient store error", err)
	}
}

func TestParamsValidate(t *testing.T) {
	if err := testParams().Validate(); err != nil {
		t.Fatalf("valid params rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Params)
	}{
		{"unknown kpi", func(p *Params) { p.KPI = "orders; DROP TABLE alerts" }},
		{"zero threshold", func(p *Params) { p.ThresholdPct = 0 }},
		{"zero baseline days", func(p *Params) { p.BaselineDays = 0 }},
		{"negative min baseline", func(p *Params) { p.MinBaseline = -1 }},
		{"zero interval", func(p *Params) { p.Interval = 0 }},
		{"zero window", func(p *Params) { p.CurrentWindowMinutes = 0 }},
		{"zero duration", func(p *Params) { p.DurationMinutes = 0 }},
		{"short lookback", func(p *Params) { p.LookbackMinutes = 3 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := testParams()
			tc.mutate(&p)
			if err := p.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

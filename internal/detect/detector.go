// Package detect evaluates minute KPI aggregates against seasonal baselines
// and fires alerts on sustained deviations.
package detect

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/shoplytics/pulse/errs"
	"github.com/shoplytics/pulse/internal/observability"
	"github.com/shoplytics/pulse/internal/schema"
)

// Alert describes a fired anomaly for one minute bucket.
type Alert struct {
	Bucket    time.Time
	KPI       string
	Current   float64
	Baseline  float64
	DeltaPct  float64
	Direction string
}

// Store is the read/write surface the detector needs.
type Store interface {
	LatestBuckets(ctx context.Context, lookback time.Duration, count int) ([]time.Time, error)
	SmoothedCurrent(ctx context.Context, kpi string, bucket time.Time, window int) (float64, bool, error)
	Baseline(ctx context.Context, kpi string, bucket time.Time, days int) (float64, bool, error)
	InsertAlert(ctx context.Context, alert Alert) (bool, error)
}

// Params configure one detector instance.
type Params struct {
	KPI                  string
	BaselineDays         int
	ThresholdPct         float64
	MinBaseline          float64
	LookbackMinutes      int
	Interval             time.Duration
	CurrentWindowMinutes int
	DurationMinutes      int
}

// Validate rejects parameter combinations that could never fire or that would
// read outside the data they compare against.
func (p Params) Validate() error {
	if err := schema.ValidateKPI(p.KPI); err != nil {
		return err
	}
	if p.BaselineDays < 1 {
		return errs.New(errs.CodeConfig, errs.WithOp("detect.params"),
			errs.WithMessage("baseline days must be at least 1"))
	}
	if p.ThresholdPct <= 0 {
		return errs.New(errs.CodeConfig, errs.WithOp("detect.params"),
			errs.WithMessage("threshold must be positive"))
	}
	if p.MinBaseline < 0 {
		return errs.New(errs.CodeConfig, errs.WithOp("detect.params"),
			errs.WithMessage("min baseline must not be negative"))
	}
	if p.Interval <= 0 {
		return errs.New(errs.CodeConfig, errs.WithOp("detect.params"),
			errs.WithMessage("interval must be positive"))
	}
	if p.CurrentWindowMinutes < 1 {
		return errs.New(errs.CodeConfig, errs.WithOp("detect.params"),
			errs.WithMessage("current window must be at least 1 minute"))
	}
	if p.DurationMinutes < 1 {
		return errs.New(errs.CodeConfig, errs.WithOp("detect.params"),
			errs.WithMessage("duration must be at least 1 minute"))
	}
	if p.LookbackMinutes < p.DurationMinutes+p.CurrentWindowMinutes {
		return errs.New(errs.CodeConfig, errs.WithOp("detect.params"),
			errs.WithMessage("lookback must cover duration plus smoothing window"))
	}
	return nil
}

// Detector periodically evaluates the configured KPI. A single alert fires
// only when every bucket of the duration window deviates past the threshold.
type Detector struct {
	store   Store
	params  Params
	log     observability.Logger
	metrics *Metrics
}

// New constructs a Detector. A nil logger falls back to the package default
// and a nil metrics struct disables instrument emission.
func New(store Store, params Params, log observability.Logger, metrics *Metrics) *Detector {
	if log == nil {
		log = observability.Log()
	}
	return &Detector{
		store:   store,
		params:  params,
		log:     log,
		metrics: metrics,
	}
}

// Run evaluates on the configured interval until the context is cancelled.
// Evaluation errors are logged and the next tick proceeds; a broken database
// connection must not kill the loop while the store pool can recover.
func (d *Detector) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.params.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			deadline := d.params.Interval
			if deadline > 30*time.Second {
				deadline = 30 * time.Second
			}
			tickCtx, cancel := context.WithTimeout(ctx, deadline)
			fired, err := d.Tick(tickCtx)
			cancel()
			if err != nil {
				d.log.Warn("detector tick failed",
					observability.F("kpi", d.params.KPI),
					observability.F("error", err.Error()))
				d.metrics.RecordTickError(ctx, d.params.KPI)
				continue
			}
			if fired {
				d.metrics.RecordAlert(ctx, d.params.KPI)
			}
		}
	}
}

// Tick runs a single evaluation pass and reports whether an alert fired.
func (d *Detector) Tick(ctx context.Context) (bool, error) {
	p := d.params

	buckets, err := d.store.LatestBuckets(ctx,
		time.Duration(p.LookbackMinutes)*time.Minute, p.DurationMinutes)
	if err != nil {
		return false, err
	}
	if len(buckets) < p.DurationMinutes {
		d.log.Info("insufficient recent buckets",
			observability.F("kpi", p.KPI),
			observability.F("have", len(buckets)),
			observability.F("need", p.DurationMinutes))
		return false, nil
	}

	// Every bucket in the window must deviate in some direction before an
	// alert fires; a one-minute spike stays a spike.
	var latest *evaluation
	for _, bucket := range buckets {
		ev, ok, err := d.evaluate(ctx, bucket)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
		latest = ev
	}

	alert := Alert{
		Bucket:    latest.bucket,
		KPI:       p.KPI,
		Current:   latest.current,
		Baseline:  latest.baseline,
		DeltaPct:  latest.delta,
		Direction: latest.direction(),
	}
	inserted, err := d.store.InsertAlert(ctx, alert)
	if err != nil {
		return false, err
	}
	if !inserted {
		return false, nil
	}

	d.log.Info("anomaly alert fired",
		observability.F("kpi", p.KPI),
		observability.F("bucket", alert.Bucket.Format(time.RFC3339)),
		observability.F("current", fmt.Sprintf("%.2f", alert.Current)),
		observability.F("baseline", fmt.Sprintf("%.2f", alert.Baseline)),
		observability.F("delta_pct", fmt.Sprintf("%.1f", alert.DeltaPct*100)),
		observability.F("direction", alert.Direction))
	return true, nil
}

type evaluation struct {
	bucket   time.Time
	current  float64
	baseline float64
	delta    float64
}

func (e *evaluation) direction() string {
	if e.delta > 0 {
		return "up"
	}
	return "down"
}

// evaluate compares one bucket's smoothed value against its seasonal
// baseline. ok is false whenever data is missing, the baseline is too small
// to trust, or the deviation stays within the threshold.
func (d *Detector) evaluate(ctx context.Context, bucket time.Time) (*evaluation, bool, error) {
	p := d.params

	current, ok, err := d.store.SmoothedCurrent(ctx, p.KPI, bucket, p.CurrentWindowMinutes)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	baseline, ok, err := d.store.Baseline(ctx, p.KPI, bucket, p.BaselineDays)
	if err != nil {
		return nil, false, err
	}
	if !ok || baseline < p.MinBaseline {
		return nil, false, nil
	}

	delta := (current - baseline) / baseline
	if math.Abs(delta) <= p.ThresholdPct {
		return nil, false, nil
	}
	return &evaluation{bucket: bucket, current: current, baseline: baseline, delta: delta}, true, nil
}

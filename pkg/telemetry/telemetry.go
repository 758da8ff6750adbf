// Package telemetry records scan metrics with OpenTelemetry.
//
// Instruments come from the global meter provider unless one is given, so
// nothing is exported until the embedding program installs a provider.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/tagcheck/tagcheck/pkg/types"
)

// MeterName is the instrumentation scope of every instrument.
const MeterName = "github.com/tagcheck/tagcheck"

// Recorder implements scanner.Recorder.
type Recorder struct {
	artifacts  metric.Int64Counter
	incomplete metric.Int64Counter
	matches    metric.Int64Counter
	duration   metric.Float64Histogram
	cache      metric.Int64Counter
}

// Option configures a Recorder.
type Option func(*options)

type options struct {
	provider metric.MeterProvider
}

// WithMeterProvider sets the provider instruments are created from.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		o.provider = mp
	}
}

// NewRecorder creates the scan instruments.
func NewRecorder(opts ...Option) (*Recorder, error) {
	o := options{provider: otel.GetMeterProvider()}
	for _, opt := range opts {
		opt(&o)
	}
	meter := o.provider.Meter(MeterName)

	r := &Recorder{}
	var err error
	if r.artifacts, err = meter.Int64Counter("tagcheck_artifacts_scanned_total",
		metric.WithDescription("Artifacts scanned, by status")); err != nil {
		return nil, err
	}
	if r.incomplete, err = meter.Int64Counter("tagcheck_scans_incomplete_total",
		metric.WithDescription("Scans cancelled or timed out")); err != nil {
		return nil, err
	}
	if r.matches, err = meter.Int64Counter("tagcheck_rule_matches_total",
		metric.WithDescription("Report entries, by rule")); err != nil {
		return nil, err
	}
	if r.duration, err = meter.Float64Histogram("tagcheck_scan_duration_seconds",
		metric.WithDescription("Time to scan one artifact"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if r.cache, err = meter.Int64Counter("tagcheck_matcher_cache_lookups_total",
		metric.WithDescription("Compiled pattern cache lookups, by result")); err != nil {
		return nil, err
	}
	return r, nil
}

// ScanFinished records a finished scan.
func (r *Recorder) ScanFinished(ctx context.Context, report *types.Report) {
	// The scan context may already be cancelled; the measurements still count.
	ctx = context.WithoutCancel(ctx)

	status := metric.WithAttributes(attribute.String("status", string(report.Status)))
	r.artifacts.Add(ctx, 1, status)
	r.duration.Record(ctx, report.Duration.Seconds(), status)
	if !report.Complete() {
		r.incomplete.Add(ctx, 1)
	}
	for _, e := range report.Entries {
		r.matches.Add(ctx, 1, metric.WithAttributes(attribute.String("rule", e.RuleID)))
	}
}

// CacheLookup records a pattern cache lookup.
func (r *Recorder) CacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	r.cache.Add(context.Background(), 1, metric.WithAttributes(attribute.String("result", result)))
}

// Package scanner runs a compiled rule set against artifacts and produces
// match reports.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tagcheck/tagcheck/pkg/facts"
	"github.com/tagcheck/tagcheck/pkg/matcher"
	"github.com/tagcheck/tagcheck/pkg/rule"
	"github.com/tagcheck/tagcheck/pkg/ruleset"
	"github.com/tagcheck/tagcheck/pkg/types"
)

// ErrIncomplete is returned, wrapped with the cause, when a scan was cut short
// by cancellation or timeout, or when a pattern count is not exact (match
// limit reached, regex timeout or error). The accompanying report has
// StatusIncomplete.
var ErrIncomplete = errors.New("scan incomplete")

// Recorder receives scan telemetry.
type Recorder interface {
	ScanFinished(ctx context.Context, report *types.Report)
	CacheLookup(hit bool)
}

type nopRecorder struct{}

func (nopRecorder) ScanFinished(context.Context, *types.Report) {}
func (nopRecorder) CacheLookup(bool)                            {}

// Scanner evaluates one plan of a rule set against artifacts. It holds no
// per-scan state and is safe for concurrent use.
type Scanner struct {
	rules      *ruleset.RuleSet
	plan       *ruleset.Plan
	cache      *matcher.Cache
	collectors []facts.Collector
	selection  rule.FilterConfig
	matchOpts  matcher.Options
	timeout    time.Duration
	cacheSize  int
	logger     zerolog.Logger
	recorder   Recorder
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithCollectors replaces the default fact collectors (FileCollector).
func WithCollectors(collectors ...facts.Collector) Option {
	return func(s *Scanner) {
		s.collectors = collectors
	}
}

// WithSelection restricts reporting to the public rules cfg selects.
func WithSelection(cfg rule.FilterConfig) Option {
	return func(s *Scanner) {
		s.selection = cfg
	}
}

// WithMatcherOptions sets the options pattern batches are compiled with.
func WithMatcherOptions(opts matcher.Options) Option {
	return func(s *Scanner) {
		s.matchOpts = opts
	}
}

// WithTimeout bounds the scan of a single artifact (0 = no timeout).
func WithTimeout(d time.Duration) Option {
	return func(s *Scanner) {
		s.timeout = d
	}
}

// WithCache shares a compiled-pattern cache between scanners, e.g. across
// rule reloads.
func WithCache(c *matcher.Cache) Option {
	return func(s *Scanner) {
		s.cache = c
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Scanner) {
		s.logger = l
	}
}

// WithRecorder sets the telemetry recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Scanner) {
		if r != nil {
			s.recorder = r
		}
	}
}

// New creates a scanner for rs.
func New(rs *ruleset.RuleSet, opts ...Option) (*Scanner, error) {
	if rs == nil {
		return nil, fmt.Errorf("no rule set")
	}
	s := &Scanner{
		rules:      rs,
		collectors: []facts.Collector{facts.FileCollector{}},
		matchOpts:  rs.Options().Matcher,
		logger:     zerolog.Nop(),
		recorder:   nopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.matchOpts.Logger = s.logger

	var err error
	if s.selection.Empty() {
		s.plan, err = rs.DefaultPlan()
	} else {
		s.plan, err = rs.Select(s.selection)
	}
	if err != nil {
		return nil, fmt.Errorf("selecting rules: %w", err)
	}

	if s.cache == nil {
		s.cache, err = matcher.NewCache(matcher.DefaultCacheSize, matcher.WithCacheObserver(s.recorder.CacheLookup))
		if err != nil {
			return nil, err
		}
	}
	// Compile the batch up front so pattern errors surface here, not per scan.
	if len(s.plan.Entries()) > 0 {
		if _, err := s.cache.Get(s.plan.Entries(), s.matchOpts); err != nil {
			return nil, fmt.Errorf("compiling patterns: %w", err)
		}
	}
	return s, nil
}

// RuleSet returns the scanner's rule set.
func (s *Scanner) RuleSet() *ruleset.RuleSet {
	return s.rules
}

// Plan returns the scanner's rule selection.
func (s *Scanner) Plan() *ruleset.Plan {
	return s.plan
}

// Scan evaluates every selected public rule against a. The rule set is never
// modified. If the scan is cancelled or times out, the returned report has
// StatusIncomplete and no entries, and the error wraps ErrIncomplete. If some
// pattern count is not exact, the rules are still evaluated on the counts
// found, but the report is likewise StatusIncomplete and the error wraps
// ErrIncomplete.
func (s *Scanner) Scan(ctx context.Context, a *types.Artifact) (*types.Report, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	report := &types.Report{
		ScanID:       uuid.NewString(),
		ArtifactID:   a.ID,
		ArtifactName: a.Name,
		Origin:       a.Origin,
		Status:       types.StatusComplete,
		Entries:      []types.ReportEntry{},
		StartedAt:    time.Now().UTC(),
	}
	defer func() {
		report.Duration = time.Since(report.StartedAt)
		s.recorder.ScanFinished(ctx, report)
	}()

	f := facts.Gather(ctx, a, s.collectors, s.logger)

	ev, err := s.match(ctx, a)
	if err != nil {
		report.Status = types.StatusIncomplete
		report.Reason = err.Error()
		s.logger.Warn().Str("artifact", a.Name).Err(err).Msg("scan incomplete")
		return report, fmt.Errorf("%w: %s: %w", ErrIncomplete, a.Name, err)
	}

	res := s.plan.NewResolver(ev.counts, f)
	for _, i := range s.plan.Targets() {
		if !res.Verdict(i) {
			continue
		}
		report.Entries = append(report.Entries, s.entry(i, res, ev))
	}

	s.logger.Debug().Str("artifact", a.Name).Int("streams", len(a.Streams)).
		Int("evaluated", res.Evaluated()).Int("matched", len(report.Entries)).Msg("scanned artifact")

	if len(ev.inexact) > 0 {
		report.Status = types.StatusIncomplete
		report.Reason = strings.Join(ev.inexact, "; ")
		s.logger.Warn().Str("artifact", a.Name).Str("reason", report.Reason).Msg("scan incomplete")
		return report, fmt.Errorf("%w: %s: %s", ErrIncomplete, a.Name, report.Reason)
	}
	return report, nil
}

// streamEvidence holds pattern counts summed over an artifact's streams and
// the first offsets in stream order.
type streamEvidence struct {
	counts  []int
	offsets [][]types.Offset
	inexact []string // patterns whose counts are lower bounds, with the cause
}

func (s *Scanner) match(ctx context.Context, a *types.Artifact) (*streamEvidence, error) {
	n := len(s.plan.Entries())
	ev := &streamEvidence{counts: make([]int, n), offsets: make([][]types.Offset, n)}
	if n == 0 {
		return ev, nil
	}

	set, err := s.cache.Get(s.plan.Entries(), s.matchOpts)
	if err != nil {
		return nil, err
	}
	limit := set.Options().MaxOffsets
	for _, stream := range a.Streams {
		res, err := set.Scan(ctx, stream.Content)
		if err != nil {
			return nil, err
		}
		for i, c := range res.Counts {
			ev.counts[i] += c
			for _, off := range res.Offsets[i] {
				if len(ev.offsets[i]) >= limit {
					break
				}
				ev.offsets[i] = append(ev.offsets[i], types.Offset{Stream: stream.Name, Offset: off})
			}
		}
		ev.noteInexact(set, res, stream.Name)
	}
	return ev, nil
}

// noteInexact records the patterns of res whose counts are not exact.
func (ev *streamEvidence) noteInexact(set *matcher.Set, res *matcher.Result, stream string) {
	entries := set.Entries()
	for i := range entries {
		var cause string
		switch {
		case res.Truncated[i]:
			cause = "match limit reached"
		case res.Status[i] == matcher.PatternTimedOut:
			cause = "regex timeout"
		case res.Status[i] == matcher.PatternError:
			cause = "regex error"
		default:
			continue
		}
		where := entries[i].Label
		if stream != "" {
			where += " in " + stream
		}
		ev.inexact = append(ev.inexact, cause+" for "+where)
	}
}

// ScanAll scans artifacts from the channel with up to workers concurrent
// scans and hands every report to fn. fn is called concurrently; a non-nil
// return stops the pool and is returned. Incomplete scans are passed to fn
// with their ErrIncomplete error and do not stop the pool by themselves.
func (s *Scanner) ScanAll(ctx context.Context, artifacts <-chan *types.Artifact, workers int, fn func(*types.Report, error) error) error {
	if workers <= 0 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

loop:
	for {
		select {
		case <-gctx.Done():
			break loop
		case a, ok := <-artifacts:
			if !ok {
				break loop
			}
			g.Go(func() error {
				report, err := s.Scan(gctx, a)
				return fn(report, err)
			})
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

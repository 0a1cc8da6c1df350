// Package scheduler drives the repeating fetch, parse, diff, notify and
// persist cycle over all configured queries.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/bakkerme/listing-notifier/internal/core"
	"github.com/bakkerme/listing-notifier/internal/dedupe"
	"github.com/bakkerme/listing-notifier/internal/diff"
	"github.com/bakkerme/listing-notifier/internal/fetch"
	"github.com/bakkerme/listing-notifier/internal/filter"
	"github.com/bakkerme/listing-notifier/internal/notify"
)

var tracer = otel.Tracer("github.com/bakkerme/listing-notifier/internal/scheduler")

// Fetcher retrieves the pages of every query. *fetch.Pool implements it.
type Fetcher interface {
	FetchAll(ctx context.Context, queries []core.SearchQuery) map[string]fetch.Result
}

// Parser turns one fetched page into listings. *listing.Parser implements it.
type Parser interface {
	Parse(query core.SearchQuery, page []byte) (iter.Seq[core.Listing], error)
}

// Enricher completes novel listings from their detail pages. *listing.Enricher
// implements it. errs is parallel to the input; a non-nil entry means the
// listing could not be completed.
type Enricher interface {
	Enrich(ctx context.Context, listings []core.Listing) (out []core.Listing, errs []error)
}

type Config struct {
	Queries  []core.SearchQuery
	Fetcher  Fetcher
	Parser   Parser
	Enricher Enricher // optional
	Store    dedupe.Store
	Notifier notify.Notifier
	Schedule Schedule
	Logger   *slog.Logger
	Now      func() time.Time
}

// Status is a point-in-time view of the scheduler for the status API.
type Status struct {
	State     core.State        `json:"state"`
	Queries   int               `json:"queries"`
	Cycles    int               `json:"cycles"`
	NextRun   *time.Time        `json:"next_run,omitempty"`
	LastCycle *core.CycleReport `json:"last_cycle,omitempty"`
}

type Scheduler struct {
	queries  []core.SearchQuery
	filters  map[string]*filter.Filter
	fetcher  Fetcher
	parser   Parser
	enricher Enricher
	store    dedupe.Store
	notifier notify.Notifier
	schedule Schedule
	logger   *slog.Logger
	now      func() time.Time

	// cycleMu serializes cycles; cache is only touched while holding it.
	cycleMu sync.Mutex
	cache   map[string]*dedupe.Set

	mu      sync.RWMutex
	state   core.State
	last    *core.CycleReport
	nextRun time.Time
	cycles  int

	wake chan struct{}
}

func New(cfg Config) (*Scheduler, error) {
	if len(cfg.Queries) == 0 {
		return nil, fmt.Errorf("at least one query is required")
	}
	if cfg.Fetcher == nil || cfg.Parser == nil || cfg.Store == nil || cfg.Notifier == nil {
		return nil, fmt.Errorf("fetcher, parser, store and notifier are required")
	}
	if cfg.Schedule == nil {
		cfg.Schedule = cron.Every(10 * time.Minute)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	filters := make(map[string]*filter.Filter, len(cfg.Queries))
	ids := make(map[string]struct{}, len(cfg.Queries))
	for _, q := range cfg.Queries {
		if _, dup := ids[q.ID]; dup {
			return nil, fmt.Errorf("duplicate query id %q", q.ID)
		}
		ids[q.ID] = struct{}{}
		f, err := filter.New(q.Filter)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", q.ID, err)
		}
		filters[q.ID] = f
	}

	return &Scheduler{
		queries:  append([]core.SearchQuery(nil), cfg.Queries...),
		filters:  filters,
		fetcher:  cfg.Fetcher,
		parser:   cfg.Parser,
		enricher: cfg.Enricher,
		store:    cfg.Store,
		notifier: cfg.Notifier,
		schedule: cfg.Schedule,
		logger:   cfg.Logger,
		now:      cfg.Now,
		cache:    make(map[string]*dedupe.Set),
		state:    core.StateIdle,
		wake:     make(chan struct{}, 1),
	}, nil
}

// Run executes cycles until ctx is cancelled. The next cycle is scheduled from
// the end of the previous one, so cycles never overlap.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		report := s.RunCycle(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		next := s.schedule.Next(s.now())
		s.mu.Lock()
		s.nextRun = next
		s.mu.Unlock()

		wait := next.Sub(s.now())
		s.logger.Info("sleeping until next cycle",
			slog.String("cycle_id", report.ID),
			slog.Time("next_run", next),
			slog.Duration("wait", wait.Round(time.Second)),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-s.wake:
			timer.Stop()
			s.logger.Info("cycle requested")
		case <-timer.C:
		}
	}
}

// TriggerNow wakes a sleeping Run loop. It reports false when a wake-up is
// already pending.
func (s *Scheduler) TriggerNow() bool {
	select {
	case s.wake <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Status{
		State:   s.state,
		Queries: len(s.queries),
		Cycles:  s.cycles,
	}
	if !s.nextRun.IsZero() {
		next := s.nextRun
		st.NextRun = &next
	}
	if s.last != nil {
		last := *s.last
		last.Queries = append([]core.QueryReport(nil), s.last.Queries...)
		st.LastCycle = &last
	}
	return st
}

// RunCycle runs exactly one cycle over all queries and returns its report.
// Per-query failures are recorded in the report and never stop other queries.
func (s *Scheduler) RunCycle(ctx context.Context) *core.CycleReport {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	cycleID := uuid.NewString()
	ctx, logger := core.WithCycle(core.WithLogger(ctx, s.logger), cycleID)

	ctx, span := tracer.Start(ctx, "scheduler.cycle", trace.WithAttributes(
		attribute.String("cycle.id", cycleID),
		attribute.Int("cycle.queries", len(s.queries)),
	))
	defer span.End()

	report := &core.CycleReport{
		ID:        cycleID,
		StartedAt: s.now().UTC(),
		Status:    core.CycleStatusRunning,
		Queries:   make([]core.QueryReport, len(s.queries)),
	}
	for i, q := range s.queries {
		report.Queries[i] = core.QueryReport{QueryID: q.ID, Label: q.Label, Stage: core.StateIdle}
	}
	logger.Info("cycle started", slog.Int("queries", len(s.queries)))

	s.setState(core.StateFetching)
	results := s.fetcher.FetchAll(ctx, s.queries)

	for i, q := range s.queries {
		qr := &report.Queries[i]
		if err := ctx.Err(); err != nil {
			qr.Error = fmt.Sprintf("abandoned: %v", err)
			continue
		}
		s.runQuery(ctx, q, results[q.ID], qr)
	}
	s.setState(core.StateIdle)

	completed := s.now().UTC()
	report.CompletedAt = &completed
	switch {
	case ctx.Err() != nil:
		report.Status = core.CycleStatusCancelled
	case report.Failed():
		report.Status = core.CycleStatusPartial
	default:
		report.Status = core.CycleStatusCompleted
	}
	span.SetAttributes(
		attribute.String("cycle.status", string(report.Status)),
		attribute.Int("cycle.novel", report.Novel()),
	)
	if report.Status != core.CycleStatusCompleted {
		span.SetStatus(codes.Error, string(report.Status))
	}

	s.mu.Lock()
	s.last = report
	s.cycles++
	s.mu.Unlock()

	logger.Info("cycle finished",
		slog.String("status", string(report.Status)),
		slog.Int("novel", report.Novel()),
		slog.Duration("duration", completed.Sub(report.StartedAt)),
	)
	return report
}

func (s *Scheduler) runQuery(ctx context.Context, q core.SearchQuery, res fetch.Result, qr *core.QueryReport) {
	ctx, logger := core.WithQuery(ctx, q.ID)
	ctx, span := tracer.Start(ctx, "scheduler.query", trace.WithAttributes(attribute.String("query.id", q.ID)))
	defer span.End()
	fail := func(err error) {
		qr.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	qr.Stage = core.StateFetching
	qr.Pages = len(res.Pages)
	if res.Err != nil {
		logger.Warn("fetch failed", slog.Int("pages", len(res.Pages)), slog.Any("error", res.Err))
		fail(res.Err)
		if !res.OK() {
			return
		}
	}

	seen, err := s.loadSeen(ctx, q.ID)
	if err != nil {
		logger.Error("load seen set failed", slog.Any("error", err))
		fail(err)
		return
	}

	s.setState(core.StateParsing)
	qr.Stage = core.StateParsing
	var pages []iter.Seq[core.Listing]
	for i, page := range res.Pages {
		seq, err := s.parser.Parse(q, page)
		if err != nil {
			if core.IsParseError(err) {
				logger.Error("parse_error", slog.Int("page", i+1), slog.Any("error", err))
			} else {
				logger.Error("parse failed", slog.Int("page", i+1), slog.Any("error", err))
			}
			fail(err)
			break
		}
		pages = append(pages, seq)
	}
	if len(pages) == 0 {
		return
	}

	s.setState(core.StateDiffing)
	qr.Stage = core.StateDiffing
	result := diff.Diff(seen, counted(concat(pages), &qr.Found))
	qr.Novel = len(result.Novel)

	novel := result.Novel
	if s.enricher != nil && len(novel) > 0 {
		s.setState(core.StateEnriching)
		qr.Stage = core.StateEnriching
		novel = s.enrich(ctx, novel, qr)
		if qr.DetailsFailed > 0 {
			fail(fmt.Errorf("%d of %d detail pages failed", qr.DetailsFailed, len(result.Novel)))
		}
	}

	var (
		keep     []core.Listing
		filtered []string
	)
	f := s.filters[q.ID]
	for _, l := range novel {
		verdict, err := f.Match(l)
		if err != nil {
			logger.Warn("filter rule failed", slog.String("listing_id", l.ID), slog.Any("error", err))
		}
		if !verdict.Keep {
			logger.Debug("listing filtered", slog.String("listing_id", l.ID), slog.String("reason", verdict.Reason))
			filtered = append(filtered, l.ID)
			continue
		}
		keep = append(keep, l)
	}
	qr.Filtered = len(filtered)

	if err := ctx.Err(); err != nil {
		fail(fmt.Errorf("abandoned before notify: %w", err))
		return
	}

	s.setState(core.StateNotifying)
	qr.Stage = core.StateNotifying
	outcome := notify.Deliver(ctx, s.notifier, q, keep)
	qr.Notified = len(outcome.Delivered)
	qr.Failed = len(outcome.Failed)
	for _, nerr := range outcome.Failed {
		logger.Warn("notify failed", slog.String("listing_id", nerr.ListingID), slog.Any("error", nerr.Err))
	}
	if len(outcome.Failed) > 0 {
		fail(fmt.Errorf("%d of %d notifications failed: %w", len(outcome.Failed), len(keep), outcome.Failed[0]))
	}

	if len(outcome.Delivered) == 0 && len(filtered) == 0 {
		logger.Debug("nothing to persist", slog.Int("found", qr.Found))
		return
	}

	s.setState(core.StatePersisting)
	qr.Stage = core.StatePersisting
	next := seen.With(append(outcome.Delivered, filtered...)...)
	s.cache[q.ID] = next
	// Notifications are out; persist even if the cycle was cancelled meanwhile.
	if err := s.store.Save(context.WithoutCancel(ctx), q.ID, next); err != nil {
		logger.Error("persist seen set failed", slog.Any("error", err))
		fail(fmt.Errorf("persist seen set: %w", err))
		return
	}
	qr.Persisted = true
	logger.Info("query processed",
		slog.Int("found", qr.Found),
		slog.Int("novel", qr.Novel),
		slog.Int("filtered", qr.Filtered),
		slog.Int("notified", qr.Notified),
	)
}

// enrich returns the novel listings whose detail page could be read. The rest
// stay out of the seen set and are tried again next cycle.
func (s *Scheduler) enrich(ctx context.Context, novel []core.Listing, qr *core.QueryReport) []core.Listing {
	logger := core.LoggerFromContext(ctx)
	out, errs := s.enricher.Enrich(ctx, novel)
	complete := make([]core.Listing, 0, len(novel))
	for i, l := range novel {
		var err error
		if i < len(errs) {
			err = errs[i]
		}
		if err == nil && i >= len(out) {
			err = errors.New("no detail result")
		}
		if err != nil {
			qr.DetailsFailed++
			logger.Warn("detail page failed", slog.String("listing_id", l.ID), slog.Any("error", err))
			continue
		}
		complete = append(complete, out[i])
	}
	return complete
}

// loadSeen returns the cached set for queryID, loading it on first use.
// Corrupt state is replaced by an empty set so the query keeps working.
func (s *Scheduler) loadSeen(ctx context.Context, queryID string) (*dedupe.Set, error) {
	if set, ok := s.cache[queryID]; ok {
		return set, nil
	}
	set, err := s.store.Load(ctx, queryID)
	if err != nil {
		var corrupt *core.StoreCorruptError
		if !errors.As(err, &corrupt) {
			return nil, err
		}
		core.LoggerFromContext(ctx).Warn("seen set is corrupt, starting empty", slog.Any("error", err))
		set = dedupe.NewSet()
	}
	s.cache[queryID] = set
	return set, nil
}

func (s *Scheduler) setState(state core.State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func concat(seqs []iter.Seq[core.Listing]) iter.Seq[core.Listing] {
	return func(yield func(core.Listing) bool) {
		for _, seq := range seqs {
			for l := range seq {
				if !yield(l) {
					return
				}
			}
		}
	}
}

func counted(seq iter.Seq[core.Listing], n *int) iter.Seq[core.Listing] {
	return func(yield func(core.Listing) bool) {
		for l := range seq {
			*n++
			if !yield(l) {
				return
			}
		}
	}
}

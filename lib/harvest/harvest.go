// Package harvest walks the pages of a remote source and yields the items
// that are not yet stored.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"docharvest/lib/chrono"
	"docharvest/lib/credential"
	"docharvest/lib/deferred"
	"docharvest/lib/ratelimit"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

var tracer = otel.Tracer("lib/harvest")
var meter = otel.Meter("lib/harvest")

type State string

const (
	StateFetching        State = "FETCHING"
	StateYielding        State = "YIELDING"
	StateRateLimited     State = "RATE_LIMITED"
	StateCursorExhausted State = "CURSOR_EXHAUSTED"
	StateSourceExhausted State = "SOURCE_EXHAUSTED"
	StateFailed          State = "FAILED"
)

// Terminal reports whether a walk that ended in s will not be resumed.
func (s State) Terminal() bool {
	return s != StateRateLimited
}

const maxBackoff = 30 * time.Second

type Config struct {
	// RefreshEvery is the amount of yielded items between rate limit
	// probes, 0 probes at every page boundary.
	RefreshEvery int
	// RequestTimeout bounds every page fetch, defaults to 10s.
	RequestTimeout time.Duration
	// MaxRetries is the amount of times a failed fetch is retried.
	MaxRetries int
	// BaseBackoff is the wait before the first retry, it doubles with every
	// attempt up to 30s.
	BaseBackoff time.Duration
	// ResetWindow is assumed when the remote rejects a call without
	// reporting when the quota resets, defaults to 15m.
	ResetWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = time.Second
	}
	if c.ResetWindow <= 0 {
		c.ResetWindow = 15 * time.Minute
	}
	return c
}

type Request struct {
	Identity string
	Force    bool
	// MaxID is the cursor the walk starts at, empty starts at the newest
	// page.
	MaxID string
}

type Store interface {
	Exists(ctx context.Context, id string) (bool, error)
}

type RateLimitStore interface {
	ratelimit.Store
	PutRateLimit(ctx context.Context, record ratelimit.Record) error
}

type Scheduler interface {
	Schedule(ctx context.Context, key string, delay time.Duration, task deferred.Task) (string, error)
}

// ResumeFunc re-enters the harvest of a rate limited walk once its delay
// has passed.
type ResumeFunc func(ctx context.Context, req Request)

type Deps struct {
	Documents  Store
	RateLimits RateLimitStore
	Scheduler  Scheduler
	Clock      chrono.Clock
	// Resume is scheduled when a walk is rate limited, nil only reports
	// the delay.
	Resume ResumeFunc
}

type Result struct {
	State   State
	Yielded int
	// Skipped counts stored items passed over on sources that are not
	// newest first, and items that could not be completed.
	Skipped int
	Pages   int
	// Credential is the id of the last credential used.
	Credential string
	// ResumeIn is the delay of the scheduled resumption of a rate limited
	// walk.
	ResumeIn time.Duration
}

type Harvester struct {
	source  Source
	deps    Deps
	tracker ratelimit.Tracker
	config  Config

	itemsCounter     metric.Int64Counter
	deferralsCounter metric.Int64Counter
}

func New(source Source, deps Deps, config Config) *Harvester {
	if deps.Clock == nil {
		deps.Clock = chrono.Standard{}
	}

	itemsCounter, err := meter.Int64Counter(
		"harvest_items_total",
		metric.WithDescription("The total amount of unseen items yielded by harvests."),
	)
	if err != nil {
		slog.Warn("failed to create harvest items counter", "err", err)
	}
	deferralsCounter, err := meter.Int64Counter(
		"harvest_deferrals_total",
		metric.WithDescription("The total amount of harvests suspended by a rate limit."),
	)
	if err != nil {
		slog.Warn("failed to create harvest deferrals counter", "err", err)
	}

	return &Harvester{
		source:           source,
		deps:             deps,
		tracker:          ratelimit.NewTracker(deps.RateLimits, deps.Clock),
		config:           config.withDefaults(),
		itemsCounter:     itemsCounter,
		deferralsCounter: deferralsCounter,
	}
}

func (h *Harvester) Source() Source {
	return h.source
}

// Key identifies the walks of one source identity, at most one of them
// is active or pending at a time.
func Key(source, identity string) string {
	return fmt.Sprintf("%s:%s", source, identity)
}

// Get returns the lazy sequence of unseen items of a source identity. A
// walk that ends in an error yields it as the last element, rate limits are
// not errors.
func (h *Harvester) Get(ctx context.Context, creds []credential.Credential, req Request) iter.Seq2[Item, error] {
	return func(yield func(Item, error) bool) {
		stopped := false
		_, err := h.Walk(ctx, creds, req, func(item Item) bool {
			if !yield(item, nil) {
				stopped = true
				return false
			}
			return true
		})
		if err != nil && !stopped {
			yield(Item{}, err)
		}
	}
}

// Walk pages through the source and calls emit with every unseen item in
// source order until the walk reaches a terminal state, is rate limited or
// emit returns false.
func (h *Harvester) Walk(ctx context.Context, creds []credential.Credential, req Request, emit func(Item) bool) (Result, error) {
	ctx, span := tracer.Start(ctx, "Walk")
	defer span.End()

	span.SetAttributes(
		attribute.String("source", h.source.Name()),
		attribute.String("identity", req.Identity),
		attribute.Bool("force", req.Force),
	)

	result, err := h.walk(ctx, creds, req, emit)
	span.SetAttributes(
		attribute.String("state", string(result.State)),
		attribute.Int("yielded", result.Yielded),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "harvest failed")
	}
	slog.InfoContext(
		ctx, "harvest walk ended",
		"source", h.source.Name(),
		"identity", req.Identity,
		"state", result.State,
		"yielded", result.Yielded,
		"pages", result.Pages,
	)
	return result, err
}

func (h *Harvester) walk(ctx context.Context, creds []credential.Credential, req Request, emit func(Item) bool) (Result, error) {
	result := Result{State: StateFetching}
	endpoint := h.source.Endpoint()

	if len(creds) == 0 {
		result.State = StateFailed
		return result, fmt.Errorf("%w for %s", ratelimit.ErrNoCredentials, h.source.Service())
	}

	cred, ok, err := h.tracker.UsableCredential(ctx, creds, endpoint)
	if err != nil {
		result.State = StateFailed
		return result, err
	}
	if !ok {
		slog.InfoContext(ctx, "every credential is rate limited", "endpoint", endpoint)
		return h.suspend(ctx, creds, req, result)
	}
	result.Credential = cred.ID()

	usable, err := h.refresh(ctx, cred)
	if err != nil {
		result.State = StateFailed
		return result, err
	}
	if !usable {
		return h.suspend(ctx, creds, req, result)
	}

	cursor := req.MaxID
	sinceRefresh := 0
	for {
		result.State = StateFetching
		page, err := h.fetch(ctx, cred, req.Identity, cursor)
		if errors.Is(err, ErrRateLimited) {
			err = h.exhausted(ctx, cred, err)
			if err != nil {
				result.State = StateFailed
				return result, err
			}
			// older pages were never stored, resume where the walk stopped
			req.MaxID = cursor
			return h.suspend(ctx, creds, req, result)
		}
		if err != nil {
			result.State = StateFailed
			return result, err
		}
		result.Pages++

		for _, item := range page.Items {
			if !req.Force {
				exists, err := h.deps.Documents.Exists(ctx, item.ID)
				if err != nil {
					result.State = StateFailed
					return result, err
				}
				if exists && h.source.NewestFirst() {
					slog.DebugContext(ctx, "reached stored item", "id", item.ID)
					result.State = StateCursorExhausted
					return result, nil
				}
				if exists {
					result.Skipped++
					continue
				}
			}

			if completing, ok := h.source.(CompletingSource); ok {
				completed, err := completing.Complete(ctx, cred, item)
				if err != nil {
					if ctx.Err() != nil {
						result.State = StateFailed
						return result, ctx.Err()
					}
					slog.WarnContext(ctx, "skipping item", "source", h.source.Name(), "id", item.ID, "err", err)
					result.Skipped++
					continue
				}
				item = completed
			}

			result.State = StateYielding
			result.Yielded++
			if h.itemsCounter != nil {
				h.itemsCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("source", h.source.Name())))
			}
			if !emit(item) {
				return result, nil
			}

			sinceRefresh++
			if h.config.RefreshEvery > 0 && sinceRefresh >= h.config.RefreshEvery {
				sinceRefresh = 0
				if _, err := h.refresh(ctx, cred); err != nil {
					result.State = StateFailed
					return result, err
				}
			}
		}

		// a page whose items all failed to parse still carries a cursor
		if page.Next == "" {
			result.State = StateSourceExhausted
			return result, nil
		}
		if h.config.RefreshEvery == 0 {
			usable, err := h.refresh(ctx, cred)
			if err != nil {
				result.State = StateFailed
				return result, err
			}
			if !usable {
				req.MaxID = page.Next
				return h.suspend(ctx, creds, req, result)
			}
		}
		cursor = page.Next
	}
}

// refresh probes the quota of cred and stores it, it reports whether cred
// can still be used. Sources without a quota are always usable.
func (h *Harvester) refresh(ctx context.Context, cred credential.Credential) (bool, error) {
	source, ok := h.source.(RateLimitedSource)
	if !ok {
		return true, nil
	}

	probeCtx, cancel := context.WithTimeout(ctx, h.config.RequestTimeout)
	record, err := source.ProbeRateLimit(probeCtx, cred)
	cancel()
	if errors.Is(err, ErrRateLimited) {
		return false, h.exhausted(ctx, cred, err)
	}
	if err != nil {
		// a stale record is still usable, the next fetch reports exhaustion
		slog.WarnContext(ctx, "failed to probe rate limit", "credential", cred.ID(), "err", err)
		return true, nil
	}

	record.CredentialID = cred.ID()
	record.Endpoint = h.source.Endpoint()
	err = h.deps.RateLimits.PutRateLimit(ctx, record)
	if err != nil {
		return false, err
	}
	slog.DebugContext(
		ctx, "refreshed rate limit",
		"credential", record.CredentialID,
		"remaining", record.Remaining,
		"reset_at", record.ResetAt,
	)
	return record.Usable(h.deps.Clock.Now()), nil
}

// exhausted stores that cred has no quota left until the reset reported by
// err.
func (h *Harvester) exhausted(ctx context.Context, cred credential.Credential, err error) error {
	now := h.deps.Clock.Now()
	resetAt := now.Add(h.config.ResetWindow)
	var rlErr RateLimitError
	if errors.As(err, &rlErr) && !rlErr.ResetAt.IsZero() {
		resetAt = rlErr.ResetAt
	}
	if !resetAt.After(now) {
		// the remote clock is behind, never resume synchronously after a rejection
		resetAt = now.Add(time.Second)
	}
	slog.InfoContext(ctx, "credential rate limited", "credential", cred.ID(), "reset_at", resetAt)
	return h.deps.RateLimits.PutRateLimit(ctx, ratelimit.Record{
		CredentialID: cred.ID(),
		Endpoint:     h.source.Endpoint(),
		Remaining:    0,
		ResetAt:      resetAt,
	})
}

func (h *Harvester) suspend(ctx context.Context, creds []credential.Credential, req Request, result Result) (Result, error) {
	result.State = StateRateLimited

	// credentials that were never used have no record yet
	_, anyUsable, err := h.tracker.UsableCredential(ctx, creds, h.source.Endpoint())
	if err != nil {
		result.State = StateFailed
		return result, err
	}
	var delay time.Duration
	if !anyUsable {
		delay, err = h.tracker.EarliestResetDelay(ctx, h.source.Endpoint(), creds...)
		if err != nil {
			result.State = StateFailed
			return result, err
		}
		if delay <= 0 {
			// a credential reset between the two reads
			slog.WarnContext(ctx, "rate limit reset while suspending", "endpoint", h.source.Endpoint())
			delay = time.Second
		}
	}
	result.ResumeIn = delay
	if h.deferralsCounter != nil {
		h.deferralsCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("source", h.source.Name())))
	}

	if h.deps.Resume == nil || h.deps.Scheduler == nil {
		slog.InfoContext(ctx, "harvest rate limited, not resuming", "source", h.source.Name(), "delay", delay.String())
		return result, nil
	}

	resume := h.deps.Resume
	_, err = h.deps.Scheduler.Schedule(
		ctx,
		Key(h.source.Name(), req.Identity),
		delay,
		func(ctx context.Context) {
			resume(ctx, req)
		},
	)
	if err != nil {
		return result, fmt.Errorf("schedule resumption: %w", err)
	}
	return result, nil
}

func backoff(base time.Duration, attempt int) time.Duration {
	if attempt > 8 {
		return maxBackoff
	}
	return min(base*time.Duration(1<<attempt), maxBackoff)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Harvester) fetch(ctx context.Context, cred credential.Credential, identity, cursor string) (Page, error) {
	var lastErr error
	for attempt := 0; attempt <= h.config.MaxRetries; attempt++ {
		if attempt > 0 {
			err := sleep(ctx, backoff(h.config.BaseBackoff, attempt-1))
			if err != nil {
				return Page{}, err
			}
		}

		fetchCtx, cancel := context.WithTimeout(ctx, h.config.RequestTimeout)
		page, err := h.source.FetchPage(fetchCtx, cred, identity, cursor)
		cancel()
		if err == nil {
			return page, nil
		}
		if errors.Is(err, ErrRateLimited) {
			return Page{}, err
		}
		lastErr = err
		slog.WarnContext(
			ctx, "failed to fetch page",
			"source", h.source.Name(),
			"cursor", cursor,
			"attempt", attempt+1,
			"err", err,
		)
	}
	return Page{}, fmt.Errorf("fetch %s page %q: %w", h.source.Name(), cursor, lastErr)
}

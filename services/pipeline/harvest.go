package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"docharvest/lib/alert"
	"docharvest/lib/chrono"
	"docharvest/lib/harvest"
	"docharvest/lib/ratelimit"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Harvest walks the source called name for req.Identity and stores every
// unseen item. A rate limited walk is resumed by the scheduler, the result
// only describes the walk up to its suspension.
func (s *Service) Harvest(ctx context.Context, name string, req harvest.Request) (harvest.Result, error) {
	ctx, span := tracer.Start(ctx, "Harvest")
	defer span.End()

	span.SetAttributes(
		attribute.String("source", name),
		attribute.String("identity", req.Identity),
	)

	h, err := s.harvester(name)
	if err != nil {
		return harvest.Result{}, err
	}

	key := harvest.Key(name, req.Identity)
	ctx, release, ok := s.acquire(ctx, key)
	if !ok {
		return harvest.Result{}, fmt.Errorf("%w: %s", ErrBusy, key)
	}
	defer release()

	creds, err := s.credentials(ctx, h.Source())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get credentials")
		return harvest.Result{State: harvest.StateFailed}, err
	}

	// re-harvested items are merged so derived fields survive a forced walk
	var saveErr error
	result, err := h.Walk(ctx, creds, req, func(item harvest.Item) bool {
		saveErr = s.store.Upsert(ctx, item.Document(), false)
		return saveErr == nil
	})
	if saveErr != nil {
		result.State = harvest.StateFailed
		err = fmt.Errorf("save %s item: %w", name, saveErr)
	}
	if errors.Is(err, ratelimit.ErrNoCredentials) {
		alertErr := s.notifier.Notify(ctx, alert.Alert{
			Subject: "no credentials",
			Message: fmt.Sprintf("cannot harvest %s, add credentials for %s", name, h.Source().Service()),
			Attrs: []slog.Attr{
				slog.String("source", name),
				slog.String("identity", req.Identity),
			},
		})
		if alertErr != nil {
			slog.ErrorContext(ctx, "failed to notify operators", "err", alertErr)
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "harvest failed")
	}
	return result, err
}

func (s *Service) resume(ctx context.Context, name string, req harvest.Request) {
	result, err := s.Harvest(ctx, name, req)
	if errors.Is(err, ErrBusy) {
		slog.InfoContext(ctx, "walk still running, dropping resumption", "source", name, "identity", req.Identity)
		return
	}
	if err != nil {
		slog.ErrorContext(ctx, "resumed harvest failed", "source", name, "identity", req.Identity, "err", err)
		return
	}
	slog.InfoContext(ctx, "resumed harvest", "source", name, "identity", req.Identity, "state", result.State)
}

type Job struct {
	Source   string `json:"source"`
	Identity string `json:"identity"`
	Force    bool   `json:"force"`
	// Schedule is the cron spec the daemon runs the job on.
	Schedule string `json:"schedule"`
}

func (j Job) request() harvest.Request {
	return harvest.Request{Identity: j.Identity, Force: j.Force}
}

type JobResult struct {
	Job    Job
	Result harvest.Result
	Err    error
}

// HarvestAll runs the jobs concurrently, jobs of distinct source identities
// share nothing but the store.
func (s *Service) HarvestAll(ctx context.Context, jobs []Job) []JobResult {
	ctx, span := tracer.Start(ctx, "HarvestAll")
	defer span.End()

	results := make([]JobResult, len(jobs))
	sem := make(chan struct{}, s.options.Concurrency)
	wg := sync.WaitGroup{}
	for i, job := range jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			result, err := s.Harvest(ctx, job.Source, job.request())
			results[i] = JobResult{Job: job, Result: result, Err: err}
		}()
	}
	wg.Wait()

	return results
}

// ScheduleJobs registers every job with cron, the returned error names the
// first job that could not be scheduled.
func (s *Service) ScheduleJobs(ctx context.Context, cron chrono.Cron, jobs []Job) error {
	for _, job := range jobs {
		_, err := s.harvester(job.Source)
		if err != nil {
			return err
		}
		err = cron.Cron(job.Schedule, func() {
			result, err := s.Harvest(ctx, job.Source, job.request())
			if err != nil {
				slog.ErrorContext(ctx, "scheduled harvest failed", "source", job.Source, "identity", job.Identity, "err", err)
				return
			}
			slog.InfoContext(ctx, "scheduled harvest", "source", job.Source, "identity", job.Identity, "state", result.State, "yielded", result.Yielded)
		})
		if err != nil {
			return fmt.Errorf("schedule %s %s: %w", job.Source, job.Identity, err)
		}
	}
	return nil
}

// Package ratelimit decides which credentials may be used against a remote
// endpoint right now, and how long to wait when none can.
//
// Records are written by the harvester after every probe of the remote
// rate-limit status, keyed by (credential, endpoint), last writer wins. The
// tracker itself only reads them.
package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"docharvest/lib/chrono"
	"docharvest/lib/credential"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("lib/ratelimit")

// ErrNoCredentials means there is nothing to wait for, an operator has to add
// credentials before the endpoint can be harvested.
var ErrNoCredentials = errors.New("no credentials configured")

type Record struct {
	CredentialID string
	Endpoint     string
	Remaining    int
	ResetAt      time.Time
}

// Usable reports whether the credential may be used for the endpoint at now.
func (r Record) Usable(now time.Time) bool {
	return r.Remaining > 0 || !r.ResetAt.After(now)
}

type Store interface {
	// RateLimit returns the latest record, ok is false if none exists.
	RateLimit(ctx context.Context, credentialID, endpoint string) (rec Record, ok bool, err error)
	// RateLimitsByReset returns all records for an endpoint, earliest reset first.
	RateLimitsByReset(ctx context.Context, endpoint string) ([]Record, error)
}

type Tracker struct {
	store Store
	clock chrono.Clock
}

func NewTracker(store Store, clock chrono.Clock) Tracker {
	if clock == nil {
		clock = chrono.Standard{}
	}
	return Tracker{store: store, clock: clock}
}

// UsableCredential returns the first candidate whose record allows a call to
// endpoint now. A candidate that has never been probed is assumed usable.
func (t Tracker) UsableCredential(ctx context.Context, candidates []credential.Credential, endpoint string) (credential.Credential, bool, error) {
	ctx, span := tracer.Start(ctx, "UsableCredential")
	defer span.End()

	span.SetAttributes(
		attribute.String("endpoint", endpoint),
		attribute.Int("candidates", len(candidates)),
	)

	now := t.clock.Now()
	for _, cred := range candidates {
		rec, ok, err := t.store.RateLimit(ctx, cred.ID(), endpoint)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to read rate limit record")
			return credential.Credential{}, false, err
		}
		if !ok || rec.Usable(now) {
			span.SetAttributes(attribute.String("credential", cred.ID()))
			return cred, true, nil
		}
	}

	slog.DebugContext(ctx, "all credentials exhausted", "endpoint", endpoint, "candidates", len(candidates))
	return credential.Credential{}, false, nil
}

// EarliestResetDelay returns how long until some credential can be used for
// endpoint again. It is zero when a record is already usable. When
// candidates are given only their records count, and a candidate without a
// record is usable.
func (t Tracker) EarliestResetDelay(ctx context.Context, endpoint string, candidates ...credential.Credential) (time.Duration, error) {
	ctx, span := tracer.Start(ctx, "EarliestResetDelay")
	defer span.End()

	span.SetAttributes(
		attribute.String("endpoint", endpoint),
		attribute.Int("candidates", len(candidates)),
	)

	records, err := t.store.RateLimitsByReset(ctx, endpoint)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list rate limit records")
		return 0, err
	}
	if len(candidates) > 0 {
		offered := make(map[string]bool, len(candidates))
		for _, cred := range candidates {
			offered[cred.ID()] = true
		}
		records = slices.DeleteFunc(records, func(rec Record) bool {
			return !offered[rec.CredentialID]
		})
		if len(records) < len(offered) {
			return 0, nil
		}
	}
	if len(records) == 0 {
		span.SetStatus(codes.Error, ErrNoCredentials.Error())
		return 0, ErrNoCredentials
	}

	now := t.clock.Now()
	for _, rec := range records {
		if rec.Usable(now) {
			return 0, nil
		}
	}

	// records are sorted, but a store may not honour that for equal resets
	earliest := records[0].ResetAt
	for _, rec := range records[1:] {
		if rec.ResetAt.Before(earliest) {
			earliest = rec.ResetAt
		}
	}
	return max(0, earliest.Sub(now)), nil
}

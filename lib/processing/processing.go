// Package processing derives new document fields from existing ones and
// records the provenance of every derived field in the document's META.
package processing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"

	"docharvest/lib/chrono"
	"docharvest/lib/document"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

var tracer = otel.Tracer("lib/processing")
var meter = otel.Meter("lib/processing")

var ErrMissingField = errors.New("missing field")

// Derivation computes a field value from another field value. It must be a
// pure function of its inputs.
type Derivation interface {
	Name() string
	Version() string
	Doc() string
	Derive(value any, args ...string) (any, error)
}

type Store interface {
	Get(ctx context.Context, id string) (document.Document, error)
	Exists(ctx context.Context, id string) (bool, error)
	Upsert(ctx context.Context, doc document.Document, force bool) error
}

// Step is a processing step that can be run by name.
type Step interface {
	Name() string
	Doc() string
	// Run applies the step to field of the referenced document, ok is false
	// when the document could not be retrieved.
	Run(ctx context.Context, ref document.Ref, field string, save bool, args ...string) (doc document.Document, ok bool, err error)
}

type Options struct {
	// Save persists the result.
	Save bool
	// Target is the field the result is written to, defaults to the
	// derivation name.
	Target string
}

var appliedCounter, _ = meter.Int64Counter(
	"processing_applied_total",
	metric.WithDescription("The total amount of fields derived."),
)

// resolve returns the referenced document, ok is false when a referenced id
// is not stored.
func resolve(ctx context.Context, store Store, ref document.Ref) (document.Document, bool, error) {
	switch ref := ref.(type) {
	case document.ByValue:
		return ref.Document.Clone(), true, nil
	case document.ByID:
		exists, err := store.Exists(ctx, string(ref))
		if err != nil {
			return document.Document{}, false, err
		}
		if !exists {
			slog.WarnContext(ctx, "document retrieval failure", "id", string(ref))
			return document.Document{}, false, nil
		}
		doc, err := store.Get(ctx, string(ref))
		if err != nil {
			return document.Document{}, false, err
		}
		return doc, true, nil
	default:
		return document.Document{}, false, fmt.Errorf("unknown document reference %T", ref)
	}
}

// normalize returns v the way it reads back from the store, so a value
// derived in memory compares equal to the same value after a round trip.
func normalize(v any) (any, error) {
	encoded, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	err = json.Unmarshal(encoded, &out)
	return out, err
}

type Processor struct {
	derivation Derivation
	store      Store
	clock      chrono.Clock
}

func New(derivation Derivation, store Store, clock chrono.Clock) *Processor {
	if clock == nil {
		clock = chrono.Standard{}
	}
	return &Processor{
		derivation: derivation,
		store:      store,
		clock:      clock,
	}
}

func (p *Processor) Name() string { return p.derivation.Name() }
func (p *Processor) Doc() string  { return p.derivation.Doc() }

func (p *Processor) Run(ctx context.Context, ref document.Ref, field string, save bool, args ...string) (document.Document, bool, error) {
	return p.Apply(ctx, ref, field, Options{Save: save}, args...)
}

// Apply derives a new value from field and writes it with its META entry
// to the target field. An unknown id yields ok false. A missing field or a
// failing derivation leaves the document unchanged, both are logged.
// Applying the same derivation to the same value again changes nothing.
func (p *Processor) Apply(ctx context.Context, ref document.Ref, field string, opts Options, args ...string) (document.Document, bool, error) {
	ctx, span := tracer.Start(ctx, "Apply")
	defer span.End()

	target := opts.Target
	if target == "" {
		target = p.derivation.Name()
	}
	span.SetAttributes(
		attribute.String("derivation", p.derivation.Name()),
		attribute.String("field", field),
		attribute.String("target", target),
	)

	doc, ok, err := resolve(ctx, p.store, ref)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to resolve document")
		return document.Document{}, false, err
	}
	if !ok {
		return document.Document{}, false, nil
	}
	span.SetAttributes(attribute.String("id", doc.ID))

	value, present := doc.Source[field]
	if !present {
		slog.InfoContext(ctx, "field missing, not processing", "id", doc.ID, "field", field, "derivation", p.derivation.Name())
		return doc, true, nil
	}

	derived, err := p.derivation.Derive(value, args...)
	if err == nil {
		derived, err = normalize(derived)
	}
	if err != nil {
		slog.WarnContext(ctx, "derivation failed", "id", doc.ID, "field", field, "derivation", p.derivation.Name(), "err", err)
		return doc, true, nil
	}

	entry := document.MetaEntry{
		Producer:  p.derivation.Name(),
		Version:   p.derivation.Version(),
		Doc:       p.derivation.Doc(),
		Timestamp: p.clock.Now(),
	}
	previous, derivedBefore := doc.Meta[target]
	unchanged := derivedBefore &&
		previous.Producer == entry.Producer &&
		previous.Version == entry.Version &&
		!previous.Moved() &&
		reflect.DeepEqual(doc.Source[target], derived)
	if unchanged {
		slog.DebugContext(ctx, "derived value unchanged", "id", doc.ID, "target", target)
		return doc, true, nil
	}

	if doc.Has(target) && !derivedBefore {
		slog.InfoContext(ctx, "target holds an original value, not overwriting", "id", doc.ID, "target", target)
		return doc, true, nil
	}

	doc.Source[target] = derived
	doc.Meta[target] = entry

	err = doc.Verify()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "derived document is invalid")
		return doc, true, err
	}

	if opts.Save {
		err = p.store.Upsert(ctx, doc, false)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to save document")
			return doc, true, err
		}
	}
	appliedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("derivation", p.derivation.Name())))

	return doc, true, nil
}

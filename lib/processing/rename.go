package processing

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"docharvest/lib/chrono"
	"docharvest/lib/document"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

const (
	renameName    = "rename_field"
	renameVersion = "0.1"
	renameDoc     = "Copies a field to a new name, keeping the provenance of where it was moved from."
)

// Renamer copies a field to a new name. Fields with the same content under
// different names ('publicationDate', 'post Date') can be unified this way.
type Renamer struct {
	store Store
	clock chrono.Clock
}

func NewRenamer(store Store, clock chrono.Clock) *Renamer {
	if clock == nil {
		clock = chrono.Standard{}
	}
	return &Renamer{store: store, clock: clock}
}

func (r *Renamer) Name() string { return renameName }
func (r *Renamer) Doc() string  { return renameDoc }

// Run renames field to args[0].
func (r *Renamer) Run(ctx context.Context, ref document.Ref, field string, save bool, args ...string) (document.Document, bool, error) {
	if len(args) != 1 || args[0] == "" {
		return document.Document{}, false, fmt.Errorf("%s takes exactly one argument, the new field name", renameName)
	}
	return r.Rename(ctx, ref, field, args[0], save)
}

// Rename writes the value of oldField to newField. It is a no-op when
// oldField is missing or newField holds an original (not derived) value.
// Renaming onto a field that was itself moved extends its moved_from chain.
// The stored document is replaced on save.
func (r *Renamer) Rename(ctx context.Context, ref document.Ref, oldField, newField string, save bool) (document.Document, bool, error) {
	ctx, span := tracer.Start(ctx, "Rename")
	defer span.End()

	span.SetAttributes(
		attribute.String("old_field", oldField),
		attribute.String("new_field", newField),
	)

	doc, ok, err := resolve(ctx, r.store, ref)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to resolve document")
		return document.Document{}, false, err
	}
	if !ok {
		return document.Document{}, false, nil
	}
	if oldField == newField {
		slog.InfoContext(ctx, "renaming a field onto itself, ignoring rename", "id", doc.ID, "field", oldField)
		return doc, true, nil
	}

	value, present := doc.Source[oldField]
	if !present {
		slog.InfoContext(ctx, "source field missing, ignoring rename", "id", doc.ID, "field", oldField)
		return doc, true, nil
	}

	destination, destinationDerived := doc.Meta[newField]
	if doc.Has(newField) && !destinationDerived {
		slog.InfoContext(ctx, "existing original field, ignoring rename", "id", doc.ID, "field", newField)
		return doc, true, nil
	}
	if destinationDerived && destination.Moved() {
		slog.InfoContext(ctx, "moving to existing field which was itself moved", "id", doc.ID, "field", newField)
	}

	entry, sourceDerived := doc.Meta[oldField]
	if !sourceDerived {
		entry = document.MetaEntry{
			Producer:  renameName,
			Version:   renameVersion,
			Doc:       renameDoc,
			Timestamp: r.clock.Now(),
		}
	}

	var chain []string
	if destinationDerived {
		chain = append(chain, destination.MovedFrom...)
	}
	chain = append(chain, entry.MovedFrom...)
	chain = append(chain, oldField)
	chain = slices.DeleteFunc(chain, func(f string) bool {
		return f == newField
	})
	entry.MovedFrom = chain

	doc.Source[newField] = value
	doc.Meta[newField] = entry

	err = doc.Verify()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "renamed document is invalid")
		return doc, true, err
	}

	if save {
		err = r.store.Upsert(ctx, doc, true)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to save document")
			return doc, true, err
		}
	}
	appliedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("derivation", renameName)))

	return doc, true, nil
}

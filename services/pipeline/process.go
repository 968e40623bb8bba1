package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"docharvest/lib/document"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type ProcessRequest struct {
	Processor string
	Field     string
	Args      []string
	Save      bool
	// ID selects one stored document, otherwise every stored document of
	// Doctype is processed.
	ID      string
	Doctype string
}

// Process runs a processing step over stored documents and returns the
// processed documents. Documents that cannot be retrieved are left out.
func (s *Service) Process(ctx context.Context, req ProcessRequest) ([]document.Document, error) {
	ctx, span := tracer.Start(ctx, "Process")
	defer span.End()

	span.SetAttributes(
		attribute.String("processor", req.Processor),
		attribute.String("field", req.Field),
	)

	step, err := s.registry.Lookup(req.Processor)
	if err != nil {
		return nil, err
	}

	if req.ID != "" {
		doc, ok, err := step.Run(ctx, document.ByID(req.ID), req.Field, req.Save, req.Args...)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to process document")
			return nil, err
		}
		if !ok {
			return []document.Document{}, nil
		}
		return []document.Document{doc}, nil
	}

	if req.Doctype == "" {
		return nil, fmt.Errorf("either a document id or a doctype is required")
	}
	docs, err := s.store.List(ctx, req.Doctype, 0)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list documents")
		return nil, err
	}

	var errs []error
	out := make([]document.Document, 0, len(docs))
	for _, doc := range docs {
		processed, ok, err := step.Run(ctx, document.ByValue{Document: doc}, req.Field, req.Save, req.Args...)
		if err != nil {
			slog.WarnContext(ctx, "failed to process document", "id", doc.ID, "processor", req.Processor, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", doc.ID, err))
			continue
		}
		if ok {
			out = append(out, processed)
		}
	}
	err = errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to process some documents")
	}
	return out, err
}

type Processor struct {
	Name string
	Doc  string
}

func (s *Service) Processors() []Processor {
	names := s.registry.Names()
	out := make([]Processor, 0, len(names))
	for _, name := range names {
		step, err := s.registry.Lookup(name)
		if err != nil {
			continue
		}
		out = append(out, Processor{Name: name, Doc: step.Doc()})
	}
	return out
}

// Package alert notifies operators of conditions that need a human, such as
// a harvest job that has no credentials to run with.
package alert

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("lib/alert")

type Alert struct {
	Subject string
	Message string
	// Attrs are attached to the log entry and listed in the e-mail body.
	Attrs []slog.Attr
}

type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// Log writes alerts to the default logger at error level.
type Log struct{}

func (Log) Notify(ctx context.Context, alert Alert) error {
	attrs := append([]slog.Attr{slog.String("subject", alert.Subject)}, alert.Attrs...)
	slog.LogAttrs(ctx, slog.LevelError, alert.Message, attrs...)
	return nil
}

// Multi notifies every notifier, a failing notifier does not stop the rest.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		err := n.Notify(ctx, alert)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

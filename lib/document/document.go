// Package document holds the stored document model: the harvested source
// fields plus the META provenance map describing how every derived field was
// produced.
package document

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"
)

// MetaEntry records the processing step that produced a derived field.
type MetaEntry struct {
	Producer  string    `json:"producer"`
	Version   string    `json:"version"`
	Doc       string    `json:"doc,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	// MovedFrom is the chain of field names this value was renamed from,
	// oldest first.
	MovedFrom []string `json:"moved_from,omitempty"`
}

// Moved reports whether the field was produced by a rename.
func (e MetaEntry) Moved() bool {
	return len(e.MovedFrom) > 0
}

type Document struct {
	ID      string               `json:"_id"`
	Doctype string               `json:"doctype"`
	Source  map[string]any       `json:"_source"`
	Meta    map[string]MetaEntry `json:"META"`
}

func New(id, doctype string, source map[string]any) Document {
	if source == nil {
		source = map[string]any{}
	}
	return Document{
		ID:      id,
		Doctype: doctype,
		Source:  source,
		Meta:    map[string]MetaEntry{},
	}
}

// Has reports whether the document carries the field.
func (d Document) Has(field string) bool {
	_, ok := d.Source[field]
	return ok
}

// Derived reports whether field was written by a processing step rather than
// by the harvester.
func (d Document) Derived(field string) bool {
	_, ok := d.Meta[field]
	return ok
}

// Clone returns a copy that can be mutated without touching d. Field values
// are copied shallowly.
func (d Document) Clone() Document {
	out := Document{
		ID:      d.ID,
		Doctype: d.Doctype,
		Source:  maps.Clone(d.Source),
		Meta:    make(map[string]MetaEntry, len(d.Meta)),
	}
	if out.Source == nil {
		out.Source = map[string]any{}
	}
	for k, v := range d.Meta {
		v.MovedFrom = slices.Clone(v.MovedFrom)
		out.Meta[k] = v
	}
	return out
}

var ErrInvalid = errors.New("invalid document")

// Verify checks the structural invariants of a document: it has an id and
// every META entry describes a field that is present, names its producer and
// version, and does not list itself as a rename origin.
func (d Document) Verify() error {
	var errs []error
	if d.ID == "" {
		errs = append(errs, fmt.Errorf("%w: missing id", ErrInvalid))
	}
	for _, field := range slices.Sorted(maps.Keys(d.Meta)) {
		entry := d.Meta[field]
		if !d.Has(field) {
			errs = append(errs, fmt.Errorf("%w: META entry for absent field %q", ErrInvalid, field))
		}
		if entry.Producer == "" {
			errs = append(errs, fmt.Errorf("%w: field %q has no producer", ErrInvalid, field))
		}
		if entry.Version == "" {
			errs = append(errs, fmt.Errorf("%w: field %q has no version", ErrInvalid, field))
		}
		if slices.Contains(entry.MovedFrom, field) {
			errs = append(errs, fmt.Errorf("%w: field %q was moved from itself", ErrInvalid, field))
		}
	}
	return errors.Join(errs...)
}

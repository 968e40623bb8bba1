package processing

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"docharvest/lib/chrono"
	"docharvest/lib/textutil"

	"github.com/antzucaro/matchr"
)

var ErrUnknownDerivation = errors.New("unknown derivation")

// minimum similarity of a suggested step name
const suggestionThreshold = 0.8

// Registry holds the processing steps that can be run by name.
type Registry struct {
	steps map[string]Step
}

// NewRegistry returns a registry of every built in step.
func NewRegistry(store Store, clock chrono.Clock) *Registry {
	r := &Registry{steps: map[string]Step{}}
	for _, d := range []Derivation{StringToDate{}, Tokenize{}, Polish{}} {
		r.Register(New(d, store, clock))
	}
	r.Register(NewRenamer(store, clock))
	return r
}

func (r *Registry) Register(step Step) {
	r.steps[step.Name()] = step
}

func (r *Registry) Names() []string {
	return slices.Sorted(maps.Keys(r.steps))
}

// Lookup returns the step called name, the error suggests the closest
// known name when there is no such step.
func (r *Registry) Lookup(name string) (Step, error) {
	step, ok := r.steps[name]
	if ok {
		return step, nil
	}

	normalized := textutil.NormalizeName(name)
	best := ""
	bestSimilarity := suggestionThreshold
	for _, candidate := range r.Names() {
		similarity := matchr.JaroWinkler(normalized, textutil.NormalizeName(candidate), false)
		if similarity >= bestSimilarity {
			best = candidate
			bestSimilarity = similarity
		}
	}
	if best != "" {
		return nil, fmt.Errorf("%w %q, did you mean %q?", ErrUnknownDerivation, name, best)
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownDerivation, name)
}

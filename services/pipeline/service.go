// Package pipeline wires sources, the document store, the deferred runner
// and the processing steps into the operations the daemon and the cli run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"docharvest/lib/alert"
	"docharvest/lib/chrono"
	"docharvest/lib/credential"
	"docharvest/lib/docstore"
	"docharvest/lib/harvest"
	"docharvest/lib/processing"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("services/pipeline")

var (
	ErrUnknownSource = errors.New("unknown source")
	// ErrBusy is returned when a walk of the same source identity is still
	// running.
	ErrBusy = errors.New("harvest already running")
)

type Options struct {
	Harvest harvest.Config
	// Concurrency bounds the walks HarvestAll runs at once, defaults to 4.
	Concurrency int
}

type Service struct {
	store     docstore.Store
	scheduler harvest.Scheduler
	notifier  alert.Notifier
	clock     chrono.Clock
	registry  *processing.Registry
	options   Options

	mu         sync.Mutex
	harvesters map[string]*harvest.Harvester
	active     map[string]struct{}
}

func NewService(store docstore.Store, scheduler harvest.Scheduler, notifier alert.Notifier, clock chrono.Clock, options Options) *Service {
	if clock == nil {
		clock = chrono.Standard{}
	}
	if notifier == nil {
		notifier = alert.Log{}
	}
	if options.Concurrency <= 0 {
		options.Concurrency = 4
	}
	return &Service{
		store:      store,
		scheduler:  scheduler,
		notifier:   notifier,
		clock:      clock,
		registry:   processing.NewRegistry(store, clock),
		options:    options,
		harvesters: map[string]*harvest.Harvester{},
		active:     map[string]struct{}{},
	}
}

// AddSource registers source under its name, a source registered twice
// replaces the first.
func (s *Service) AddSource(source harvest.Source) {
	name := source.Name()
	h := harvest.New(source, harvest.Deps{
		Documents:  s.store,
		RateLimits: s.store,
		Scheduler:  s.scheduler,
		Clock:      s.clock,
		Resume: func(ctx context.Context, req harvest.Request) {
			s.resume(ctx, name, req)
		},
	}, s.options.Harvest)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.harvesters[name] = h
}

func (s *Service) Sources() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.harvesters))
}

func (s *Service) harvester(name string) (*harvest.Harvester, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.harvesters[name]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownSource, name)
	}
	return h, nil
}

func (s *Service) Registry() *processing.Registry {
	return s.registry
}

type heldKey struct {
	key string
}

// acquire marks the walk of key as active. A walk resumed synchronously
// from within the walk holding key re-enters.
func (s *Service) acquire(ctx context.Context, key string) (context.Context, func(), bool) {
	if ctx.Value(heldKey{key}) != nil {
		return ctx, func() {}, true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.active[key]; busy {
		return ctx, nil, false
	}
	s.active[key] = struct{}{}

	return context.WithValue(ctx, heldKey{key}, true), func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.active, key)
	}, true
}

// credentials returns the stored credentials of the source's service,
// sources without a quota run anonymously when none are stored.
func (s *Service) credentials(ctx context.Context, source harvest.Source) ([]credential.Credential, error) {
	creds, err := s.store.Credentials(ctx, source.Service())
	if err != nil {
		return nil, err
	}
	if _, limited := source.(harvest.RateLimitedSource); len(creds) == 0 && !limited {
		creds = []credential.Credential{credential.Anonymous(source.Service())}
	}
	return creds, nil
}

package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"docharvest/lib/alert"
	"docharvest/lib/chrono"
	"docharvest/lib/credential"
	"docharvest/lib/deferred"
	"docharvest/lib/docstore"
	"docharvest/lib/docstore/db"
	"docharvest/lib/harvest"
	"docharvest/lib/processing"
	"docharvest/lib/ratelimit"
	"docharvest/lib/sources/newsroom"
	"docharvest/lib/testutil"

	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2017, 9, 25, 8, 0, 0, 0, time.UTC)

type fakeSource struct {
	name string

	mu      sync.Mutex
	pages   map[string]harvest.Page
	limited map[string]harvest.RateLimitError
}

func (s *fakeSource) Name() string      { return s.name }
func (s *fakeSource) Service() string   { return "fake" }
func (s *fakeSource) Endpoint() string  { return "fake:/" + s.name }
func (s *fakeSource) NewestFirst() bool { return true }

func (s *fakeSource) FetchPage(ctx context.Context, cred credential.Credential, identity, cursor string) (harvest.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rlErr, ok := s.limited[cursor]; ok {
		return harvest.Page{}, rlErr
	}
	return s.pages[cursor], nil
}

func (s *fakeSource) lift(cursor string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.limited, cursor)
}

type quotaSource struct {
	*fakeSource
}

func (s quotaSource) ProbeRateLimit(ctx context.Context, cred credential.Credential) (ratelimit.Record, error) {
	return ratelimit.Record{Remaining: 100, ResetAt: epoch.Add(time.Hour)}, nil
}

func tweets(ids ...string) []harvest.Item {
	out := make([]harvest.Item, len(ids))
	for i, id := range ids {
		out[i] = harvest.Item{
			ID:      id,
			Doctype: "tweet",
			Fields: map[string]any{
				"id_str":     id,
				"created_at": fmt.Sprintf("Fri Jun 10 19:27:%s +0000 2016", id),
			},
		}
	}
	return out
}

func timeline(name string) *fakeSource {
	return &fakeSource{
		name: name,
		pages: map[string]harvest.Page{
			"":   {Items: tweets("50", "49"), Next: "48"},
			"48": {Items: tweets("48", "47")},
		},
	}
}

type recorder struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

func (r *recorder) Notify(ctx context.Context, a alert.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return nil
}

type fakeCron struct {
	specs     []string
	callbacks []func()
}

func (c *fakeCron) Cron(spec string, callback func()) error {
	c.specs = append(c.specs, spec)
	c.callbacks = append(c.callbacks, callback)
	return nil
}

type env struct {
	service  *Service
	store    docstore.Store
	clock    *chrono.Fake
	runner   *deferred.Runner
	notifier *recorder
}

func setup(t *testing.T) env {
	res, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name:     "services/pipeline",
		DbSchema: db.Schema,
	})
	t.Cleanup(cleanup)

	clock := chrono.NewFake(epoch)
	runner := deferred.NewRunner(clock, 2)
	t.Cleanup(runner.Close)

	store := docstore.NewStore(res.DB, clock)
	notifier := &recorder{}
	return env{
		service:  NewService(store, runner, notifier, clock, Options{}),
		store:    store,
		clock:    clock,
		runner:   runner,
		notifier: notifier,
	}
}

func TestHarvest(t *testing.T) {
	e := setup(t)
	e.service.AddSource(timeline("timeline"))
	ctx := context.Background()

	res, err := e.service.Harvest(ctx, "timeline", harvest.Request{Identity: "nos"})
	require.NoError(t, err)
	require.Equal(t, harvest.StateSourceExhausted, res.State)
	require.Equal(t, 4, res.Yielded)

	count, err := e.store.Count(ctx, "tweet")
	require.NoError(t, err)
	require.EqualValues(t, 4, count)

	doc, err := e.store.Get(ctx, "48")
	require.NoError(t, err)
	require.Equal(t, "48", doc.Source["id_str"])

	res, err = e.service.Harvest(ctx, "timeline", harvest.Request{Identity: "nos"})
	require.NoError(t, err)
	require.Equal(t, harvest.StateCursorExhausted, res.State)
	require.Zero(t, res.Yielded)

	_, err = e.service.Harvest(ctx, "missing", harvest.Request{Identity: "nos"})
	require.ErrorIs(t, err, ErrUnknownSource)
	require.Equal(t, []string{"timeline"}, e.service.Sources())
}

func TestHarvestNoCredentials(t *testing.T) {
	e := setup(t)
	e.service.AddSource(quotaSource{timeline("timeline")})

	res, err := e.service.Harvest(context.Background(), "timeline", harvest.Request{Identity: "nos"})
	require.ErrorIs(t, err, ratelimit.ErrNoCredentials)
	require.Equal(t, harvest.StateFailed, res.State)

	require.Len(t, e.notifier.alerts, 1)
	require.Equal(t, "no credentials", e.notifier.alerts[0].Subject)
}

func TestHarvestBusy(t *testing.T) {
	e := setup(t)
	e.service.AddSource(timeline("timeline"))

	_, release, ok := e.service.acquire(context.Background(), harvest.Key("timeline", "nos"))
	require.True(t, ok)

	_, err := e.service.Harvest(context.Background(), "timeline", harvest.Request{Identity: "nos"})
	require.ErrorIs(t, err, ErrBusy)

	// other identities are not affected
	_, err = e.service.Harvest(context.Background(), "timeline", harvest.Request{Identity: "cda"})
	require.NoError(t, err)

	release()
	_, err = e.service.Harvest(context.Background(), "timeline", harvest.Request{Identity: "nos"})
	require.NoError(t, err)
}

func TestHarvestResumes(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	require.NoError(t, e.store.AddCredential(ctx, credential.Credential{
		Service: "fake",
		Account: "a",
		Payload: map[string]string{"access_token": "a"},
	}))

	source := timeline("timeline")
	source.limited = map[string]harvest.RateLimitError{
		"48": {ResetAt: epoch.Add(300 * time.Second)},
	}
	e.service.AddSource(source)

	res, err := e.service.Harvest(ctx, "timeline", harvest.Request{Identity: "nos"})
	require.NoError(t, err)
	require.Equal(t, harvest.StateRateLimited, res.State)
	require.Equal(t, 300*time.Second, res.ResumeIn)

	due, ok := e.runner.Pending(harvest.Key("timeline", "nos"))
	require.True(t, ok)
	require.Equal(t, epoch.Add(300*time.Second), due)

	exists, err := e.store.Exists(ctx, "48")
	require.NoError(t, err)
	require.False(t, exists)

	source.lift("48")
	e.clock.Advance(300 * time.Second)

	require.Eventually(t, func() bool {
		count, err := e.store.Count(ctx, "tweet")
		return err == nil && count == 4
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHarvestAll(t *testing.T) {
	e := setup(t)
	e.service.AddSource(timeline("first"))
	e.service.AddSource(timeline("second"))

	results := e.service.HarvestAll(context.Background(), []Job{
		{Source: "first", Identity: "nos"},
		{Source: "second", Identity: "cda"},
		{Source: "missing", Identity: "nos"},
	})
	require.Len(t, results, 3)
	require.NoError(t, results[0].Err)
	require.NoError(t, results[1].Err)
	require.ErrorIs(t, results[2].Err, ErrUnknownSource)

	require.Equal(t, "first", results[0].Job.Source)

	// both sources return the same ids
	count, err := e.store.Count(context.Background(), "tweet")
	require.NoError(t, err)
	require.EqualValues(t, 4, count)
}

func TestScheduleJobs(t *testing.T) {
	e := setup(t)
	e.service.AddSource(timeline("timeline"))
	cron := &fakeCron{}
	ctx := context.Background()

	err := e.service.ScheduleJobs(ctx, cron, []Job{
		{Source: "timeline", Identity: "nos", Schedule: "*/15 * * * *"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"*/15 * * * *"}, cron.specs)

	cron.callbacks[0]()
	count, err := e.store.Count(ctx, "tweet")
	require.NoError(t, err)
	require.EqualValues(t, 4, count)

	err = e.service.ScheduleJobs(ctx, cron, []Job{{Source: "missing", Schedule: "@daily"}})
	require.ErrorIs(t, err, ErrUnknownSource)
}

func TestProcess(t *testing.T) {
	e := setup(t)
	e.service.AddSource(timeline("timeline"))
	ctx := context.Background()

	_, err := e.service.Harvest(ctx, "timeline", harvest.Request{Identity: "nos"})
	require.NoError(t, err)

	docs, err := e.service.Process(ctx, ProcessRequest{
		Processor: "string_to_date",
		Field:     "created_at",
		Args:      []string{"%a %b %d %H:%M:%S %z %Y"},
		Save:      true,
		Doctype:   "tweet",
	})
	require.NoError(t, err)
	require.Len(t, docs, 4)

	doc, err := e.store.Get(ctx, "49")
	require.NoError(t, err)
	require.Equal(t, "2016-06-10T19:27:49Z", doc.Source["string_to_date"])
	require.Equal(t, "string_to_date", doc.Meta["string_to_date"].Producer)

	docs, err = e.service.Process(ctx, ProcessRequest{
		Processor: "rename_field",
		Field:     "string_to_date",
		Args:      []string{"date"},
		Save:      true,
		ID:        "49",
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)

	doc, err = e.store.Get(ctx, "49")
	require.NoError(t, err)
	require.Equal(t, "2016-06-10T19:27:49Z", doc.Source["date"])
	require.Equal(t, []string{"string_to_date"}, doc.Meta["date"].MovedFrom)

	// re-harvesting keeps derived fields
	_, err = e.service.Harvest(ctx, "timeline", harvest.Request{Identity: "nos", Force: true})
	require.NoError(t, err)
	doc, err = e.store.Get(ctx, "49")
	require.NoError(t, err)
	require.True(t, doc.Derived("date"))

	docs, err = e.service.Process(ctx, ProcessRequest{Processor: "tokenize", Field: "text", ID: "missing"})
	require.NoError(t, err)
	require.Empty(t, docs)

	_, err = e.service.Process(ctx, ProcessRequest{Processor: "tokenise", Field: "text", ID: "49"})
	require.ErrorIs(t, err, processing.ErrUnknownDerivation)

	_, err = e.service.Process(ctx, ProcessRequest{Processor: "tokenize", Field: "text"})
	require.Error(t, err)
}

func TestProcessors(t *testing.T) {
	e := setup(t)
	processors := e.service.Processors()
	require.Len(t, processors, 4)
	require.Equal(t, "polish", processors[0].Name)
	require.NotEmpty(t, processors[0].Doc)
}

func TestAddSources(t *testing.T) {
	e := setup(t)
	cfg := Config{
		Sources: SourcesConfig{
			Twitter: &TwitterConfig{PageSize: 100},
			Newsrooms: []newsroom.Options{{
				Name:       "cda",
				ListingUrl: "https://www.cda.nl/actueel/nieuws",
				Selectors:  newsroom.Selectors{Link: "a.news-item", Text: "article p"},
			}},
		},
		RequestTimeoutSeconds: 5,
		BaseBackoffMillis:     500,
	}
	require.NoError(t, e.service.AddSources(cfg))
	require.Equal(t, []string{"cda", "twitter_timeline"}, e.service.Sources())

	opts := cfg.Options()
	require.Equal(t, 5*time.Second, opts.Harvest.RequestTimeout)
	require.Equal(t, 500*time.Millisecond, opts.Harvest.BaseBackoff)

	cfg.Sources.Newsrooms = []newsroom.Options{{Name: "broken"}}
	require.Error(t, e.service.AddSources(cfg))
}

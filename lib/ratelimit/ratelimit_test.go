package ratelimit

import (
	"context"
	"slices"
	"testing"
	"time"

	"docharvest/lib/chrono"
	"docharvest/lib/credential"

	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	records map[[2]string]Record
}

func newMemoryStore(records ...Record) memoryStore {
	s := memoryStore{records: map[[2]string]Record{}}
	for _, r := range records {
		s.records[[2]string{r.CredentialID, r.Endpoint}] = r
	}
	return s
}

func (s memoryStore) RateLimit(_ context.Context, credentialID, endpoint string) (Record, bool, error) {
	r, ok := s.records[[2]string{credentialID, endpoint}]
	return r, ok, nil
}

func (s memoryStore) RateLimitsByReset(_ context.Context, endpoint string) ([]Record, error) {
	var out []Record
	for _, r := range s.records {
		if r.Endpoint == endpoint {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b Record) int {
		return a.ResetAt.Compare(b.ResetAt)
	})
	return out, nil
}

const endpoint = "twitter:/statuses/user_timeline"

var now = time.Date(2017, 9, 8, 12, 0, 0, 0, time.UTC)

func cred(account string) credential.Credential {
	return credential.Credential{Service: "twitter", Account: account}
}

func TestUsableCredential(t *testing.T) {
	ctx := context.Background()
	clock := chrono.NewFake(now)

	cases := []struct {
		name    string
		records []Record
		expect  string
		usable  bool
	}{
		{
			name:   "never probed is usable",
			expect: "twitter:a",
			usable: true,
		},
		{
			name: "skips exhausted credential",
			records: []Record{
				{CredentialID: "twitter:a", Endpoint: endpoint, Remaining: 0, ResetAt: now.Add(time.Minute)},
				{CredentialID: "twitter:b", Endpoint: endpoint, Remaining: 3, ResetAt: now.Add(time.Minute)},
			},
			expect: "twitter:b",
			usable: true,
		},
		{
			name: "exhausted but reset passed",
			records: []Record{
				{CredentialID: "twitter:a", Endpoint: endpoint, Remaining: 0, ResetAt: now},
			},
			expect: "twitter:a",
			usable: true,
		},
		{
			name: "all exhausted",
			records: []Record{
				{CredentialID: "twitter:a", Endpoint: endpoint, Remaining: 0, ResetAt: now.Add(time.Minute)},
				{CredentialID: "twitter:b", Endpoint: endpoint, Remaining: 0, ResetAt: now.Add(time.Hour)},
			},
		},
	}

	for _, test := range cases {
		t.Run(test.name, func(t *testing.T) {
			tracker := NewTracker(newMemoryStore(test.records...), clock)
			got, ok, err := tracker.UsableCredential(ctx, []credential.Credential{cred("a"), cred("b")}, endpoint)
			require.NoError(t, err)
			require.Equal(t, test.usable, ok)
			if test.usable {
				require.Equal(t, test.expect, got.ID())
			}
		})
	}
}

func TestEarliestResetDelay(t *testing.T) {
	ctx := context.Background()
	clock := chrono.NewFake(now)

	t.Run("no records", func(t *testing.T) {
		tracker := NewTracker(newMemoryStore(), clock)
		_, err := tracker.EarliestResetDelay(ctx, endpoint)
		require.ErrorIs(t, err, ErrNoCredentials)
	})

	t.Run("exhausted credential waits until reset", func(t *testing.T) {
		tracker := NewTracker(newMemoryStore(
			Record{CredentialID: "twitter:a", Endpoint: endpoint, Remaining: 0, ResetAt: now.Add(300 * time.Second)},
		), clock)
		delay, err := tracker.EarliestResetDelay(ctx, endpoint)
		require.NoError(t, err)
		require.Equal(t, 300*time.Second, delay)
	})

	t.Run("minimum across records", func(t *testing.T) {
		tracker := NewTracker(newMemoryStore(
			Record{CredentialID: "twitter:a", Endpoint: endpoint, Remaining: 0, ResetAt: now.Add(900 * time.Second)},
			Record{CredentialID: "twitter:b", Endpoint: endpoint, Remaining: 0, ResetAt: now.Add(120 * time.Second)},
			Record{CredentialID: "twitter:c", Endpoint: "other", Remaining: 0, ResetAt: now.Add(time.Second)},
		), clock)
		delay, err := tracker.EarliestResetDelay(ctx, endpoint)
		require.NoError(t, err)
		require.Equal(t, 120*time.Second, delay)
	})

	t.Run("zero when any record has remaining calls", func(t *testing.T) {
		tracker := NewTracker(newMemoryStore(
			Record{CredentialID: "twitter:a", Endpoint: endpoint, Remaining: 0, ResetAt: now.Add(300 * time.Second)},
			Record{CredentialID: "twitter:b", Endpoint: endpoint, Remaining: 5, ResetAt: now.Add(600 * time.Second)},
		), clock)
		delay, err := tracker.EarliestResetDelay(ctx, endpoint)
		require.NoError(t, err)
		require.Zero(t, delay)
	})

	t.Run("only offered credentials count", func(t *testing.T) {
		tracker := NewTracker(newMemoryStore(
			Record{CredentialID: "twitter:a", Endpoint: endpoint, Remaining: 0, ResetAt: now.Add(300 * time.Second)},
			Record{CredentialID: "twitter:removed", Endpoint: endpoint, Remaining: 50, ResetAt: now.Add(600 * time.Second)},
		), clock)
		offered := cred("a")

		delay, err := tracker.EarliestResetDelay(ctx, endpoint, offered)
		require.NoError(t, err)
		require.Equal(t, 300*time.Second, delay)

		delay, err = tracker.EarliestResetDelay(ctx, endpoint)
		require.NoError(t, err)
		require.Zero(t, delay)

		// never probed
		delay, err = tracker.EarliestResetDelay(ctx, endpoint, offered, cred("new"))
		require.NoError(t, err)
		require.Zero(t, delay)
	})

	t.Run("zero when reset already passed", func(t *testing.T) {
		tracker := NewTracker(newMemoryStore(
			Record{CredentialID: "twitter:a", Endpoint: endpoint, Remaining: 0, ResetAt: now.Add(-time.Second)},
		), clock)
		delay, err := tracker.EarliestResetDelay(ctx, endpoint)
		require.NoError(t, err)
		require.Zero(t, delay)
	})
}

package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"docharvest/lib/alert"
	"docharvest/lib/chrono"
	"docharvest/lib/docstore"
	"docharvest/lib/docstore/db"
	"docharvest/lib/ratelimit"
	"docharvest/lib/testutil"
	"docharvest/services/pipeline"

	"github.com/stretchr/testify/require"
)

func TestStatus(t *testing.T) {
	res, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name:     "cmd/harvestd",
		DbSchema: db.Schema,
	})
	defer cleanup()

	now := time.Date(2017, 9, 25, 8, 0, 0, 0, time.UTC)
	clock := chrono.NewFake(now)
	store := docstore.NewStore(res.DB, clock)
	require.NoError(t, store.PutRateLimit(context.Background(), ratelimit.Record{
		CredentialID: "twitter:nos",
		Endpoint:     "twitter:/statuses/user_timeline",
		Remaining:    0,
		ResetAt:      now.Add(5 * time.Minute),
	}))

	service := pipeline.NewService(store, nil, alert.Log{}, clock, pipeline.Options{})
	require.NoError(t, service.AddSources(pipeline.Config{
		Sources: pipeline.SourcesConfig{Twitter: &pipeline.TwitterConfig{}},
	}))

	rec := httptest.NewRecorder()
	statusHandler(service, store).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var out status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, []string{"twitter_timeline"}, out.Sources)
	require.Len(t, out.RateLimits, 1)
	require.Equal(t, "twitter:nos", out.RateLimits[0].Credential)
	require.True(t, now.Add(5*time.Minute).Equal(out.RateLimits[0].ResetAt))
}

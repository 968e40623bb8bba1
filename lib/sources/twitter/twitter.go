// Package twitter harvests the timelines of twitter accounts.
package twitter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"docharvest/lib/credential"
	"docharvest/lib/harvest"
	"docharvest/lib/ratelimit"
	"docharvest/lib/restyutil"
	"docharvest/lib/telemetry"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("lib/sources/twitter")

const (
	Service         = "twitter"
	TimelineDoctype = "tweet"
	timelinePath    = "/statuses/user_timeline"
)

type Options struct {
	// BaseUrl defaults to https://api.twitter.com/1.1
	BaseUrl string
	// PageSize is the amount of tweets per page, twitter allows at most 200.
	PageSize int
	Timeout  time.Duration
	// Dump receives every http exchange when set.
	Dump restyutil.Output
}

// Timeline is the source of the tweets of one account, the harvest
// identity is the account's screen name.
type Timeline struct {
	opts Options

	mu      sync.Mutex
	clients map[string]*resty.Client
}

func NewTimeline(opts Options) *Timeline {
	if opts.BaseUrl == "" {
		opts.BaseUrl = "https://api.twitter.com/1.1"
	}
	if opts.PageSize <= 0 || opts.PageSize > 200 {
		opts.PageSize = 200
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Timeline{
		opts:    opts,
		clients: map[string]*resty.Client{},
	}
}

func (t *Timeline) Name() string      { return "twitter_timeline" }
func (t *Timeline) Service() string   { return Service }
func (t *Timeline) Endpoint() string  { return Service + ":" + timelinePath }
func (t *Timeline) NewestFirst() bool { return true }

func (t *Timeline) client(cred credential.Credential) (*resty.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if client, ok := t.clients[cred.ID()]; ok {
		return client, nil
	}
	httpClient, err := cred.HTTPClient(context.Background())
	if err != nil {
		return nil, err
	}

	client := resty.NewWithClient(httpClient)
	client.SetBaseURL(t.opts.BaseUrl)
	client.SetTimeout(t.opts.Timeout)
	client.SetHeader("accept", "application/json")
	telemetry.InstrumentResty(client, "lib/sources/twitter/http")
	restyutil.Dump(client, fmt.Sprintf("twitter-%s", cred.Account), t.opts.Dump)

	t.clients[cred.ID()] = client
	return client, nil
}

func rateLimitError(res *resty.Response) error {
	reset, err := strconv.ParseInt(res.Header().Get("x-rate-limit-reset"), 10, 64)
	if err != nil {
		return harvest.RateLimitError{}
	}
	return harvest.RateLimitError{ResetAt: time.Unix(reset, 0).UTC()}
}

func checkResponse(res *resty.Response) error {
	if res.StatusCode() == http.StatusTooManyRequests {
		return rateLimitError(res)
	}
	if res.IsError() {
		return fmt.Errorf("twitter responded with %s: %s", res.Status(), res.String())
	}
	return nil
}

type rateLimitStatus struct {
	Resources map[string]map[string]struct {
		Limit     int   `json:"limit"`
		Remaining int   `json:"remaining"`
		Reset     int64 `json:"reset"`
	} `json:"resources"`
}

// ProbeRateLimit reads the remaining timeline quota of cred, the probe
// itself draws from a separate quota.
func (t *Timeline) ProbeRateLimit(ctx context.Context, cred credential.Credential) (ratelimit.Record, error) {
	ctx, span := tracer.Start(ctx, "ProbeRateLimit")
	defer span.End()

	client, err := t.client(cred)
	if err != nil {
		return ratelimit.Record{}, err
	}
	res, err := client.R().
		SetContext(ctx).
		SetQueryParam("resources", "statuses").
		Get("/application/rate_limit_status.json")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch rate limit status")
		return ratelimit.Record{}, err
	}
	err = checkResponse(res)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rate limit status rejected")
		return ratelimit.Record{}, err
	}

	var status rateLimitStatus
	err = json.Unmarshal(res.Body(), &status)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to decode rate limit status")
		return ratelimit.Record{}, err
	}
	limit, ok := status.Resources["statuses"][timelinePath]
	if !ok {
		return ratelimit.Record{}, fmt.Errorf("rate limit status has no entry for %s", timelinePath)
	}

	span.SetAttributes(attribute.Int("remaining", limit.Remaining))
	return ratelimit.Record{
		CredentialID: cred.ID(),
		Endpoint:     t.Endpoint(),
		Remaining:    limit.Remaining,
		ResetAt:      time.Unix(limit.Reset, 0).UTC(),
	}, nil
}

// FetchPage fetches the tweets of identity older than or equal to cursor,
// the next cursor is the smallest id of the page minus one.
func (t *Timeline) FetchPage(ctx context.Context, cred credential.Credential, identity, cursor string) (harvest.Page, error) {
	ctx, span := tracer.Start(ctx, "FetchPage")
	defer span.End()

	span.SetAttributes(
		attribute.String("screen_name", identity),
		attribute.String("max_id", cursor),
	)

	client, err := t.client(cred)
	if err != nil {
		return harvest.Page{}, err
	}
	req := client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"screen_name": identity,
			"count":       strconv.Itoa(t.opts.PageSize),
			"tweet_mode":  "extended",
		})
	if cursor != "" {
		req.SetQueryParam("max_id", cursor)
	}
	res, err := req.Get(timelinePath + ".json")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch timeline")
		return harvest.Page{}, err
	}
	err = checkResponse(res)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "timeline rejected")
		return harvest.Page{}, err
	}

	var tweets []json.RawMessage
	err = json.Unmarshal(res.Body(), &tweets)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to decode timeline")
		return harvest.Page{}, err
	}

	var page harvest.Page
	var oldest uint64
	for i, raw := range tweets {
		var tweet map[string]any
		err := json.Unmarshal(raw, &tweet)
		if err != nil {
			slog.WarnContext(ctx, "skipping malformed tweet", "screen_name", identity, "index", i, "err", err)
			continue
		}
		idStr, _ := tweet["id_str"].(string)
		id, err := strconv.ParseUint(idStr, 10, 64)
		if err != nil {
			slog.WarnContext(ctx, "skipping tweet without id", "screen_name", identity, "index", i)
			continue
		}
		if oldest == 0 || id < oldest {
			oldest = id
		}
		page.Items = append(page.Items, harvest.Item{
			ID:      idStr,
			Doctype: TimelineDoctype,
			Fields:  tweet,
		})
	}
	if oldest > 1 {
		page.Next = strconv.FormatUint(oldest-1, 10)
	}
	span.SetAttributes(attribute.Int("tweets", len(page.Items)))
	return page, nil
}

// Package newsroom harvests the press releases of paged news listings.
package newsroom

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"docharvest/lib/credential"
	"docharvest/lib/harvest"
	"docharvest/lib/htmlutil"
	"docharvest/lib/restyutil"
	"docharvest/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("lib/sources/newsroom")

const Service = "newsroom"

// Selectors are the CSS selectors locating the parts of a listing page and
// an article page. Only Link and Text are required.
type Selectors struct {
	Link   string `json:"link"`
	Title  string `json:"title"`
	Teaser string `json:"teaser"`
	Byline string `json:"byline"`
	Text   string `json:"text"`
	Date   string `json:"date"`
}

type Options struct {
	Name    string `json:"name"`
	Doctype string `json:"doctype"`
	// ListingUrl is the first listing page.
	ListingUrl string `json:"listing_url"`
	// PageParam is the query parameter holding the page number, defaults to
	// "page".
	PageParam string    `json:"page_param"`
	Selectors Selectors `json:"selectors"`
	// Timeout bounds every request, defaults to 10s.
	Timeout time.Duration `json:"-"`
	// Dump receives every http exchange when set.
	Dump restyutil.Output `json:"-"`
}

type Source struct {
	opts    Options
	listing *url.URL
	http    *resty.Client
}

func NewSource(opts Options) (*Source, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("newsroom source requires a name")
	}
	if opts.Selectors.Link == "" || opts.Selectors.Text == "" {
		return nil, fmt.Errorf("newsroom source %s requires link and text selectors", opts.Name)
	}
	listing, err := url.Parse(opts.ListingUrl)
	if err != nil {
		return nil, err
	}
	if opts.PageParam == "" {
		opts.PageParam = "page"
	}
	if opts.Doctype == "" {
		opts.Doctype = opts.Name
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	client := resty.New()
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	client.SetHeader("user-agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36")
	client.SetRedirectPolicy(resty.FlexibleRedirectPolicy(5))
	client.SetTimeout(opts.Timeout)
	telemetry.InstrumentResty(client, "lib/sources/newsroom/http")
	restyutil.Dump(client, opts.Name, opts.Dump)

	return &Source{
		opts:    opts,
		listing: listing,
		http:    client,
	}, nil
}

func (s *Source) Name() string     { return s.opts.Name }
func (s *Source) Service() string  { return Service }
func (s *Source) Endpoint() string { return Service + ":" + s.listing.Host }

// NewestFirst is true, listings show the latest release on the first page.
func (s *Source) NewestFirst() bool { return true }

func (s *Source) get(ctx context.Context, target string) (*goquery.Document, error) {
	res, err := s.http.R().
		SetContext(ctx).
		Get(target)
	if err != nil {
		return nil, err
	}
	if res.IsError() {
		return nil, fmt.Errorf("GET %s: %s", target, res.Status())
	}
	return goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
}

func (s *Source) pageUrl(page int) string {
	u := *s.listing
	if page > 0 {
		q := u.Query()
		q.Set(s.opts.PageParam, strconv.Itoa(page))
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// FetchPage fetches the listing page numbered by cursor (the empty cursor
// is page 0) and lists the articles linked from it, Complete fetches their
// text. The credential and identity are unused, listings are public.
func (s *Source) FetchPage(ctx context.Context, _ credential.Credential, _ string, cursor string) (harvest.Page, error) {
	ctx, span := tracer.Start(ctx, "FetchPage")
	defer span.End()

	page := 0
	if cursor != "" {
		var err error
		page, err = strconv.Atoi(cursor)
		if err != nil {
			return harvest.Page{}, fmt.Errorf("invalid page cursor %q: %w", cursor, err)
		}
	}
	span.SetAttributes(
		attribute.String("source", s.opts.Name),
		attribute.Int("page", page),
	)

	listing, err := s.get(ctx, s.pageUrl(page))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch listing")
		return harvest.Page{}, err
	}

	anchors := htmlutil.GetAnchors(ctx, listing.Find(s.opts.Selectors.Link), s.listing)
	if len(anchors) == 0 {
		slog.DebugContext(ctx, "empty listing page", "source", s.opts.Name, "page", page)
		return harvest.Page{}, nil
	}

	var out harvest.Page
	seen := map[string]bool{}
	for _, a := range anchors {
		if seen[a.Href] {
			continue
		}
		seen[a.Href] = true

		out.Items = append(out.Items, harvest.Item{
			ID:      a.Href,
			Doctype: s.opts.Doctype,
			Fields:  map[string]any{"url": a.Href},
		})
	}
	out.Next = strconv.Itoa(page + 1)
	span.SetAttributes(attribute.Int("articles", len(out.Items)))
	return out, nil
}

func (s *Source) text(doc *goquery.Document, selector string) string {
	if selector == "" {
		return ""
	}
	return htmlutil.Clean(doc.Find(selector).Text())
}

// Complete fetches the article of a listed item.
func (s *Source) Complete(ctx context.Context, _ credential.Credential, item harvest.Item) (harvest.Item, error) {
	ctx, span := tracer.Start(ctx, "Complete")
	defer span.End()
	link := item.ID
	span.SetAttributes(attribute.String("url", link))

	doc, err := s.get(ctx, link)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch article")
		return harvest.Item{}, err
	}

	text := htmlutil.Lines(doc.Find(s.opts.Selectors.Text))
	if strings.TrimSpace(text) == "" {
		return harvest.Item{}, fmt.Errorf("article has no text")
	}

	return harvest.Item{
		ID:      link,
		Doctype: s.opts.Doctype,
		Fields: map[string]any{
			"url":      link,
			"title":    s.text(doc, s.opts.Selectors.Title),
			"teaser":   s.text(doc, s.opts.Selectors.Teaser),
			"byline":   s.text(doc, s.opts.Selectors.Byline),
			"text":     htmlutil.Polish(text),
			"pub_date": s.text(doc, s.opts.Selectors.Date),
		},
	}, nil
}

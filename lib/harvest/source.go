package harvest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"docharvest/lib/credential"
	"docharvest/lib/document"
	"docharvest/lib/ratelimit"
)

// ErrRateLimited is returned by sources when the remote rejected a call
// because the credential's quota is spent.
var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimitError is an ErrRateLimited carrying the reset time reported by
// the remote, ResetAt is zero when the remote did not report one.
type RateLimitError struct {
	ResetAt time.Time
}

func (e RateLimitError) Error() string {
	if e.ResetAt.IsZero() {
		return ErrRateLimited.Error()
	}
	return fmt.Sprintf("%s, resets at %s", ErrRateLimited.Error(), e.ResetAt.Format(time.RFC3339))
}

func (e RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// Item is one raw record of a remote source.
type Item struct {
	ID      string
	Doctype string
	Fields  map[string]any
}

func (i Item) Document() document.Document {
	return document.New(i.ID, i.Doctype, i.Fields)
}

type Page struct {
	Items []Item
	// Next is the cursor of the following page, empty once the source has
	// no more pages.
	Next string
}

type Source interface {
	Name() string
	// Service is the credential service the source authenticates with.
	Service() string
	// Endpoint is the quota the source draws from.
	Endpoint() string
	// NewestFirst reports whether pages are ordered newest to oldest, only
	// then does the first stored item imply every following one is stored.
	NewestFirst() bool
	// FetchPage fetches the page at cursor, the empty cursor is the newest
	// page. Items that fail to parse are skipped by the source.
	FetchPage(ctx context.Context, cred credential.Credential, identity, cursor string) (Page, error)
}

// RateLimitedSource is a Source that can report the remaining quota of a
// credential without spending it.
type RateLimitedSource interface {
	Source
	ProbeRateLimit(ctx context.Context, cred credential.Credential) (ratelimit.Record, error)
}

// CompletingSource is a Source whose pages only list items, the harvester
// calls Complete for the items it keeps. An item Complete fails on is
// skipped.
type CompletingSource interface {
	Source
	Complete(ctx context.Context, cred credential.Credential, item Item) (Item, error)
}

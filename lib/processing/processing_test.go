package processing

import (
	"context"
	"testing"
	"time"

	"docharvest/lib/chrono"
	"docharvest/lib/docstore"
	"docharvest/lib/docstore/db"
	"docharvest/lib/document"
	"docharvest/lib/testutil"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2017, 9, 25, 8, 0, 0, 0, time.UTC)

const twitterDate = "%a %b %d %H:%M:%S %z %Y"

func setup(t *testing.T) (docstore.Store, *chrono.Fake) {
	res, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name:     "processing",
		DbSchema: db.Schema,
	})
	t.Cleanup(cleanup)
	clock := chrono.NewFake(epoch)
	return docstore.NewStore(res.DB, clock), clock
}

func TestStringToDate(t *testing.T) {
	store, clock := setup(t)
	processor := New(StringToDate{}, store, clock)

	doc := document.New("1", "tweet", map[string]any{
		"title": "Fri Jun 10 19:27:13 +0000 2016",
	})
	out, ok, err := processor.Apply(context.Background(), document.ByValue{Document: doc}, "title", Options{}, twitterDate)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "2016-06-10T19:27:13Z", out.Source["string_to_date"])
	require.Equal(t, document.MetaEntry{
		Producer:  "string_to_date",
		Version:   "0.1",
		Doc:       "Takes a specified date-format and outputs ISO-datetimes",
		Timestamp: epoch,
	}, out.Meta["string_to_date"])

	// the input document is not mutated
	require.False(t, doc.Has("string_to_date"))

	// nothing is stored without save
	exists, err := store.Exists(context.Background(), "1")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestApplyPreconditions(t *testing.T) {
	store, clock := setup(t)
	processor := New(StringToDate{}, store, clock)
	ctx := context.Background()

	_, ok, err := processor.Apply(ctx, document.ByID("missing"), "title", Options{Save: true}, twitterDate)
	require.NoError(t, err)
	require.False(t, ok)

	doc := document.New("1", "tweet", map[string]any{"title": "not a date"})
	for _, tc := range []struct {
		name  string
		field string
		args  []string
	}{
		{name: "missing field", field: "created_at", args: []string{twitterDate}},
		{name: "unparsable value", field: "title", args: []string{twitterDate}},
		{name: "missing format", field: "title"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			out, ok, err := processor.Apply(ctx, document.ByValue{Document: doc}, tc.field, Options{}, tc.args...)
			require.NoError(t, err)
			require.True(t, ok)
			if diff := cmp.Diff(doc, out); diff != "" {
				t.Fatal("(-want +got)\n", diff)
			}
		})
	}
}

func TestApplyDoesNotOverwriteOriginals(t *testing.T) {
	store, clock := setup(t)
	processor := New(StringToDate{}, store, clock)

	doc := document.New("1", "tweet", map[string]any{
		"created_at": "Fri Jun 10 19:27:13 +0000 2016",
		"date":       "10-06-2016",
	})
	out, ok, err := processor.Apply(context.Background(), document.ByValue{Document: doc}, "created_at", Options{Target: "date"}, twitterDate)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "10-06-2016", out.Source["date"])
	require.False(t, out.Derived("date"))
}

func TestApplyIdempotent(t *testing.T) {
	store, clock := setup(t)
	ctx := context.Background()

	doc := document.New("1", "tweet", map[string]any{
		"created_at": "Fri Jun 10 19:27:13 +0000 2016",
		"full_text":  "RT Het CDA wil CO2-uitstoot halveren",
	})
	require.NoError(t, store.Upsert(ctx, doc, false))

	for _, tc := range []struct {
		processor *Processor
		field     string
		args      []string
	}{
		{processor: New(StringToDate{}, store, clock), field: "created_at", args: []string{twitterDate}},
		{processor: New(Tokenize{}, store, clock), field: "full_text"},
	} {
		_, ok, err := tc.processor.Apply(ctx, document.ByID("1"), tc.field, Options{Save: true}, tc.args...)
		require.NoError(t, err)
		require.True(t, ok)
	}
	first, err := store.Get(ctx, "1")
	require.NoError(t, err)
	require.Equal(t, []any{"rt", "het", "cda", "wil", "co2-uitstoot", "halveren"}, first.Source["tokenize"])

	clock.Advance(time.Hour)

	for _, tc := range []struct {
		processor *Processor
		field     string
		args      []string
	}{
		{processor: New(StringToDate{}, store, clock), field: "created_at", args: []string{twitterDate}},
		{processor: New(Tokenize{}, store, clock), field: "full_text"},
	} {
		_, ok, err := tc.processor.Apply(ctx, document.ByID("1"), tc.field, Options{Save: true}, tc.args...)
		require.NoError(t, err)
		require.True(t, ok)
	}
	second, err := store.Get(ctx, "1")
	require.NoError(t, err)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatal("(-first +second)\n", diff)
	}
	require.Len(t, second.Meta, 2)
}

func TestRename(t *testing.T) {
	store, clock := setup(t)
	renamer := NewRenamer(store, clock)
	ctx := context.Background()

	original := document.New("1", "CDA (pol)", map[string]any{
		"pub_date": "25 september 2017",
		"title":    "Title",
	})

	t.Run("missing source", func(t *testing.T) {
		out, ok, err := renamer.Rename(ctx, document.ByValue{Document: original}, "publicationDate", "date", false)
		require.NoError(t, err)
		require.True(t, ok)
		if diff := cmp.Diff(original, out); diff != "" {
			t.Fatal("(-want +got)\n", diff)
		}
	})

	t.Run("original destination", func(t *testing.T) {
		out, ok, err := renamer.Rename(ctx, document.ByValue{Document: original}, "pub_date", "title", false)
		require.NoError(t, err)
		require.True(t, ok)
		if diff := cmp.Diff(original, out); diff != "" {
			t.Fatal("(-want +got)\n", diff)
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		_, ok, err := renamer.Rename(ctx, document.ByID("missing"), "pub_date", "date", false)
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("chained", func(t *testing.T) {
		out, ok, err := renamer.Rename(ctx, document.ByValue{Document: original}, "pub_date", "date", false)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "25 september 2017", out.Source["date"])
		require.Equal(t, "25 september 2017", out.Source["pub_date"])
		require.Equal(t, []string{"pub_date"}, out.Meta["date"].MovedFrom)
		require.Equal(t, "rename_field", out.Meta["date"].Producer)

		out, _, err = renamer.Rename(ctx, document.ByValue{Document: out}, "date", "published", false)
		require.NoError(t, err)
		require.Equal(t, []string{"pub_date", "date"}, out.Meta["published"].MovedFrom)

		out.Source["posted"] = "26 september 2017"
		out, _, err = renamer.Rename(ctx, document.ByValue{Document: out}, "posted", "published", false)
		require.NoError(t, err)
		require.Equal(t, "26 september 2017", out.Source["published"])
		require.Equal(t, []string{"pub_date", "date", "posted"}, out.Meta["published"].MovedFrom)
		require.NoError(t, out.Verify())
	})

	t.Run("derived provenance is kept", func(t *testing.T) {
		doc := document.New("2", "tweet", map[string]any{"created_at": "Fri Jun 10 19:27:13 +0000 2016"})
		dated, _, err := New(StringToDate{}, store, clock).Apply(ctx, document.ByValue{Document: doc}, "created_at", Options{}, twitterDate)
		require.NoError(t, err)

		out, _, err := renamer.Rename(ctx, document.ByValue{Document: dated}, "string_to_date", "date", false)
		require.NoError(t, err)
		require.Equal(t, "string_to_date", out.Meta["date"].Producer)
		require.Equal(t, []string{"string_to_date"}, out.Meta["date"].MovedFrom)
	})

	t.Run("save replaces", func(t *testing.T) {
		require.NoError(t, store.Upsert(ctx, original, false))
		_, ok, err := renamer.Run(ctx, document.ByID("1"), "pub_date", true, "date")
		require.NoError(t, err)
		require.True(t, ok)

		stored, err := store.Get(ctx, "1")
		require.NoError(t, err)
		require.Equal(t, "25 september 2017", stored.Source["date"])
		require.Equal(t, []string{"pub_date"}, stored.Meta["date"].MovedFrom)
	})

	_, _, err := renamer.Run(ctx, document.ByID("1"), "pub_date", false)
	require.Error(t, err)
}

func TestRegistry(t *testing.T) {
	store, clock := setup(t)
	registry := NewRegistry(store, clock)

	require.Equal(t, []string{"polish", "rename_field", "string_to_date", "tokenize"}, registry.Names())

	step, err := registry.Lookup("polish")
	require.NoError(t, err)
	out, ok, err := step.Run(context.Background(), document.ByValue{Document: document.New("1", "article", map[string]any{
		"text": "Lead\nFirst\nSecond",
	})}, "text", false)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Lead ||| First||Second", out.Source["polish"])

	_, err = registry.Lookup("string_2_date")
	require.ErrorIs(t, err, ErrUnknownDerivation)
	require.Contains(t, err.Error(), `did you mean "string_to_date"`)

	_, err = registry.Lookup("xyz")
	require.ErrorIs(t, err, ErrUnknownDerivation)
	require.NotContains(t, err.Error(), "did you mean")
}

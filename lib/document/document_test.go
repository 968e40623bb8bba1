package document

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestVerify(t *testing.T) {
	now := time.Date(2016, 6, 10, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name  string
		doc   Document
		valid bool
	}{
		{
			name:  "plain harvested document",
			doc:   New("1", "tweet", map[string]any{"text": "hello"}),
			valid: true,
		},
		{
			name: "derived field with complete meta",
			doc: Document{
				ID:     "1",
				Source: map[string]any{"date": "2016-06-10T19:27:13Z"},
				Meta: map[string]MetaEntry{
					"date": {Producer: "string_to_date", Version: "0.1", Timestamp: now},
				},
			},
			valid: true,
		},
		{
			name: "meta for absent field",
			doc: Document{
				ID:     "1",
				Source: map[string]any{},
				Meta:   map[string]MetaEntry{"date": {Producer: "string_to_date", Version: "0.1"}},
			},
		},
		{
			name: "meta without producer",
			doc: Document{
				ID:     "1",
				Source: map[string]any{"date": "x"},
				Meta:   map[string]MetaEntry{"date": {Version: "0.1"}},
			},
		},
		{
			name: "moved from itself",
			doc: Document{
				ID:     "1",
				Source: map[string]any{"date": "x"},
				Meta: map[string]MetaEntry{
					"date": {Producer: "rename_field", Version: "0.1", MovedFrom: []string{"date"}},
				},
			},
		},
		{
			name: "missing id",
			doc:  New("", "tweet", nil),
		},
	}

	for _, test := range cases {
		t.Run(test.name, func(t *testing.T) {
			err := test.doc.Verify()
			if test.valid {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.True(t, errors.Is(err, ErrInvalid))
		})
	}
}

func TestClone(t *testing.T) {
	doc := New("1", "tweet", map[string]any{"text": "hello"})
	doc.Meta["text"] = MetaEntry{Producer: "p", Version: "1", MovedFrom: []string{"body"}}

	clone := doc.Clone()
	clone.Source["text"] = "changed"
	entry := clone.Meta["text"]
	entry.MovedFrom[0] = "other"

	require.Equal(t, "hello", doc.Source["text"])
	require.Equal(t, []string{"body"}, doc.Meta["text"].MovedFrom)
	require.True(t, doc.Derived("text"))
	require.False(t, doc.Derived("missing"))
}

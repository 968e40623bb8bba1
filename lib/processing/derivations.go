package processing

import (
	"fmt"
	"strings"
	"time"

	"docharvest/lib/htmlutil"
	"docharvest/lib/textutil"

	"github.com/ncruces/go-strftime"
)

// StringToDate parses a string with a strptime format and outputs an
// RFC 3339 timestamp in UTC.
//
//	value:  "Fri Jun 10 19:27:13 +0000 2016"
//	format: "%a %b %d %H:%M:%S %z %Y"
//	output: "2016-06-10T19:27:13Z"
type StringToDate struct{}

func (StringToDate) Name() string    { return "string_to_date" }
func (StringToDate) Version() string { return "0.1" }
func (StringToDate) Doc() string     { return "Takes a specified date-format and outputs ISO-datetimes" }

func (StringToDate) Derive(value any, args ...string) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("string_to_date takes exactly one argument, the input format")
	}
	s, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("cannot parse a date from %T", value)
	}
	t, err := strftime.Parse(args[0], strings.TrimSpace(s))
	if err != nil {
		return nil, err
	}
	return t.UTC().Format(time.RFC3339), nil
}

// Tokenize splits text into lower cased word tokens.
type Tokenize struct{}

func (Tokenize) Name() string    { return "tokenize" }
func (Tokenize) Version() string { return "0.1" }
func (Tokenize) Doc() string     { return "Splits text into lower cased word tokens" }

func (Tokenize) Derive(value any, args ...string) (any, error) {
	s, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("cannot tokenize %T", value)
	}
	return textutil.Tokenize(s), nil
}

// Polish separates the lead of a text from its paragraphs.
type Polish struct{}

func (Polish) Name() string    { return "polish" }
func (Polish) Version() string { return "0.1" }
func (Polish) Doc() string {
	return "Separates the lead from the rest by ||| and paragraphs and subtitles by ||"
}

func (Polish) Derive(value any, args ...string) (any, error) {
	s, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("cannot polish %T", value)
	}
	return htmlutil.Polish(s), nil
}

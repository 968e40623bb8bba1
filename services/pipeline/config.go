package pipeline

import (
	"fmt"
	"time"

	"docharvest/lib/harvest"
	"docharvest/lib/restyutil"
	"docharvest/lib/sources/newsroom"
	"docharvest/lib/sources/twitter"
)

type TwitterConfig struct {
	BaseUrl  string `json:"base_url"`
	PageSize int    `json:"page_size"`
}

type SourcesConfig struct {
	Twitter   *TwitterConfig     `json:"twitter"`
	Newsrooms []newsroom.Options `json:"newsrooms"`
}

// Config is the pipeline section of a config file.
type Config struct {
	Sources SourcesConfig `json:"sources"`
	// RefreshEvery is the amount of items between rate limit probes, 0
	// probes at every page.
	RefreshEvery          int `json:"refresh_every"`
	RequestTimeoutSeconds int `json:"request_timeout_seconds"`
	MaxRetries            int `json:"max_retries"`
	BaseBackoffMillis     int `json:"base_backoff_ms"`
	ResetWindowSeconds    int `json:"reset_window_seconds"`
	Concurrency           int `json:"concurrency"`
	// DumpHttp is a directory every http exchange of the sources is
	// written to, empty disables it.
	DumpHttp string `json:"dump_http"`

	Jobs []Job `json:"jobs"`
}

func (c Config) requestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

func (c Config) Options() Options {
	return Options{
		Harvest: harvest.Config{
			RefreshEvery:   c.RefreshEvery,
			RequestTimeout: c.requestTimeout(),
			MaxRetries:     c.MaxRetries,
			BaseBackoff:    time.Duration(c.BaseBackoffMillis) * time.Millisecond,
			ResetWindow:    time.Duration(c.ResetWindowSeconds) * time.Second,
		},
		Concurrency: c.Concurrency,
	}
}

// AddSources registers every source configured in c.
func (s *Service) AddSources(c Config) error {
	var dump restyutil.Output
	if c.DumpHttp != "" {
		output, err := restyutil.NewFilesystemOutput(c.DumpHttp)
		if err != nil {
			return fmt.Errorf("create http dump directory: %w", err)
		}
		dump = output
	}

	if c.Sources.Twitter != nil {
		s.AddSource(twitter.NewTimeline(twitter.Options{
			BaseUrl:  c.Sources.Twitter.BaseUrl,
			PageSize: c.Sources.Twitter.PageSize,
			Timeout:  c.requestTimeout(),
			Dump:     dump,
		}))
	}
	for _, opts := range c.Sources.Newsrooms {
		opts.Timeout = c.requestTimeout()
		opts.Dump = dump
		source, err := newsroom.NewSource(opts)
		if err != nil {
			return err
		}
		s.AddSource(source)
	}
	return nil
}

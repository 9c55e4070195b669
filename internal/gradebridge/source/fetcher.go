// Package source fetches the intake table and turns it into records.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var ErrFetch = errors.New("intake fetch failed")

const (
	// defaultMaxBytes caps a single download.  Exports are a few MB at most.
	defaultMaxBytes      = 64 << 20
	defaultRetryInterval = 30 * time.Second
	defaultTimeout       = 30 * time.Second
)

type FetcherConfig struct {
	URL string

	// RetryInterval is the fixed wait between failed attempts (default 30s).
	RetryInterval time.Duration

	// MaxAttempts bounds the retry loop.  0 retries until ctx is cancelled.
	MaxAttempts int

	// Timeout bounds each GET when HTTPClient is nil (default 30s).
	Timeout time.Duration

	// MaxBytes rejects larger bodies instead of truncating them (default 64 MiB).
	MaxBytes int64

	HTTPClient *http.Client
	UserAgent  string
}

// Fetcher downloads the exported intake table, retrying until the body
// carries a usable header row.
type Fetcher struct {
	url       string
	retry     time.Duration
	max       int
	maxBytes  int64
	client    *http.Client
	userAgent string
	logger    zerolog.Logger
}

func NewFetcher(cfg FetcherConfig, logger zerolog.Logger) (*Fetcher, error) {
	u := strings.TrimSpace(cfg.URL)
	if u == "" {
		return nil, errors.New("source URL is required")
	}
	if _, err := url.ParseRequestURI(u); err != nil {
		return nil, fmt.Errorf("invalid source URL: %w", err)
	}

	retry := cfg.RetryInterval
	if retry <= 0 {
		retry = defaultRetryInterval
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	ua := strings.TrimSpace(cfg.UserAgent)
	if ua == "" {
		ua = "gradebridge/1.0"
	}

	return &Fetcher{
		url:       u,
		retry:     retry,
		max:       cfg.MaxAttempts,
		maxBytes:  maxBytes,
		client:    client,
		userAgent: ua,
		logger:    logger.With().Str("component", "fetcher").Logger(),
	}, nil
}

// SpreadsheetCSVURL returns the CSV export URL of a Google spreadsheet.
func SpreadsheetCSVURL(spreadsheetID string) string {
	return "https://docs.google.com/spreadsheets/d/" + url.PathEscape(strings.TrimSpace(spreadsheetID)) + "/export?format=csv"
}

// Fetch returns the raw table text.  Transport errors, non-2xx responses
// and bodies without a valid header are retried after the fixed interval.
func (f *Fetcher) Fetch(ctx context.Context) (string, error) {
	for attempt := 1; ; attempt++ {
		text, err := f.fetchOnce(ctx)
		if err == nil {
			if attempt > 1 {
				f.logger.Info().Int("attempt", attempt).Msg("intake table fetched after retry")
			}
			return text, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		f.logger.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", f.retry).Msg("intake fetch unusable")

		if f.max > 0 && attempt >= f.max {
			return "", fmt.Errorf("giving up after %d attempts: %w", attempt, err)
		}

		t := time.NewTimer(f.retry)
		select {
		case <-ctx.Done():
			t.Stop()
			return "", ctx.Err()
		case <-t.C:
		}
	}
}

func (f *Fetcher) fetchOnce(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFetch, err)
	}
	req.Header.Set("Accept", "text/csv")
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("%w: read body: %v", ErrFetch, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: http status %d", ErrFetch, resp.StatusCode)
	}
	if int64(len(body)) > f.maxBytes {
		return "", fmt.Errorf("%w: table exceeds %d bytes", ErrFetch, f.maxBytes)
	}

	text := string(body)
	if err := validHeader(text); err != nil {
		return "", err
	}
	return text, nil
}

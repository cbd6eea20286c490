package providers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
	"go.uber.org/zap"

	"github.com/deepresearch/backend/internal/ratelimit"
	"github.com/deepresearch/backend/internal/search"
	"github.com/deepresearch/backend/pkg/logger"
)

const maxResponseBytes = 4 << 20

// Config carries what a single provider needs. Endpoint overrides the public
// API base URL and is mostly useful for tests and self-hosted mirrors.
type Config struct {
	APIKey            string
	Endpoint          string
	FallbackEndpoint  string
	UserAgent         string
	Timeout           time.Duration
	RequestsPerSecond float64
	MaxConcurrent     int
}

type base struct {
	name       string
	sourceType string
	endpoint   string
	apiKey     string
	userAgent  string
	client     *http.Client
	limiter    *ratelimit.Limiter
}

func newBase(name, sourceType, defaultEndpoint string, cfg Config) base {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = "DeepResearch-Bot/1.0"
	}

	return base{
		name:       name,
		sourceType: sourceType,
		endpoint:   strings.TrimRight(endpoint, "/"),
		apiKey:     cfg.APIKey,
		userAgent:  ua,
		client:     &http.Client{Timeout: timeout},
		limiter:    ratelimit.New(name, rps, cfg.MaxConcurrent),
	}
}

func (b *base) Name() string {
	return b.name
}

// do sends req under the provider's rate limiter and returns the body of a
// 2xx response.
func (b *base) do(ctx context.Context, req *http.Request) ([]byte, error) {
	var body []byte
	err := b.limiter.Throttle(ctx, func(ctx context.Context) error {
		req = req.WithContext(ctx)
		if req.Header.Get("User-Agent") == "" {
			req.Header.Set("User-Agent", b.userAgent)
		}

		resp, err := b.client.Do(req)
		if err != nil {
			return fmt.Errorf("failed to call %s: %w", b.name, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			return fmt.Errorf("%s returned status %d", b.name, resp.StatusCode)
		}

		body, err = io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return fmt.Errorf("failed to read %s response: %w", b.name, err)
		}
		return nil
	})
	return body, err
}

func (b *base) get(ctx context.Context, rawURL string, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return b.do(ctx, req)
}

func (b *base) fail(query string, err error) []search.Result {
	logger.Warn("Search provider failed",
		zap.String("provider", b.name),
		zap.String("query", query),
		zap.Error(err),
	)
	return nil
}

func (b *base) result(title, link, snippet string) search.Result {
	return search.Result{
		Title:      strings.TrimSpace(title),
		URL:        strings.TrimSpace(link),
		Snippet:    strings.TrimSpace(snippet),
		SourceType: search.ClassifySourceType(link, b.sourceType),
		Provider:   b.name,
	}
}

// finish applies the caller's domain and date filters that the upstream API
// could not express, then truncates to MaxResults.
func finish(results []search.Result, opts search.Options) []search.Result {
	out := results[:0]
	for _, r := range results {
		if r.URL == "" || !search.MatchesDomains(r.URL, opts.IncludeDomains) {
			continue
		}
		if !inRange(r.PublishDate, opts) {
			continue
		}
		out = append(out, r)
	}
	if opts.MaxResults > 0 && len(out) > opts.MaxResults {
		out = out[:opts.MaxResults]
	}
	return out
}

// inRange treats undated results as in range.
func inRange(t *time.Time, opts search.Options) bool {
	if t == nil || opts.DateRange == nil {
		return true
	}
	if opts.DateRange.From != nil && t.Before(*opts.DateRange.From) {
		return false
	}
	if opts.DateRange.To != nil && t.After(*opts.DateRange.To) {
		return false
	}
	return true
}

func limit(opts search.Options, fallback int) int {
	if opts.MaxResults > 0 {
		return opts.MaxResults
	}
	return fallback
}

func parseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	t, err := dateparse.ParseAny(s)
	if err != nil {
		return nil
	}
	return &t
}

// plainText strips markup from an HTML fragment such as a search snippet.
func plainText(fragment string) string {
	if !strings.ContainsAny(fragment, "<&") {
		return strings.Join(strings.Fields(fragment), " ")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return fragment
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

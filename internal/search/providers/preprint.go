package providers

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/mmcdole/gofeed"

	"github.com/deepresearch/backend/internal/search"
)

// Preprint queries the arXiv Atom API.
type Preprint struct {
	base
}

func NewPreprint(cfg Config) *Preprint {
	cfg.RequestsPerSecond = minPositive(cfg.RequestsPerSecond, 1.0/3)
	return &Preprint{base: newBase("preprint", search.TypePreprint, "https://export.arxiv.org", cfg)}
}

func (p *Preprint) IsAvailable() bool {
	return true
}

func (p *Preprint) Search(ctx context.Context, query string, opts search.Options) []search.Result {
	params := url.Values{}
	params.Set("search_query", "all:"+strconv.Quote(query))
	params.Set("start", "0")
	params.Set("max_results", strconv.Itoa(limit(opts, 10)))
	params.Set("sortBy", "relevance")

	body, err := p.get(ctx, p.endpoint+"/api/query?"+params.Encode(), nil)
	if err != nil {
		return p.fail(query, err)
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return p.fail(query, fmt.Errorf("failed to parse arXiv feed: %w", err))
	}

	results := feedResults(&p.base, feed)
	for i := range results {
		results[i].SourceType = search.TypePreprint
	}
	return finish(results, opts)
}

// minPositive returns the smaller of two rates, ignoring an unset one.
func minPositive(configured, ceiling float64) float64 {
	if configured <= 0 || configured > ceiling {
		return ceiling
	}
	return configured
}

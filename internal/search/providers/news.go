package providers

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/mmcdole/gofeed"
	"github.com/tidwall/gjson"

	"github.com/deepresearch/backend/internal/search"
)

// News uses NewsAPI when a key is configured and the public Google News RSS
// search feed otherwise.
type News struct {
	base
	feedEndpoint string
}

func NewNews(cfg Config) *News {
	feed := cfg.FallbackEndpoint
	if feed == "" {
		feed = "https://news.google.com/rss/search"
	}
	return &News{
		base:         newBase("news", search.TypeNews, "https://newsapi.org", cfg),
		feedEndpoint: feed,
	}
}

func (n *News) IsAvailable() bool {
	return true
}

func (n *News) Search(ctx context.Context, query string, opts search.Options) []search.Result {
	var results []search.Result
	var err error
	if n.apiKey != "" {
		results, err = n.searchNewsAPI(ctx, query, opts)
	} else {
		results, err = n.searchFeed(ctx, query, opts)
	}
	if err != nil {
		return n.fail(query, err)
	}
	return finish(results, opts)
}

func (n *News) searchNewsAPI(ctx context.Context, query string, opts search.Options) ([]search.Result, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("pageSize", strconv.Itoa(limit(opts, 10)))
	params.Set("sortBy", "relevancy")
	params.Set("language", "en")
	if len(opts.IncludeDomains) > 0 {
		params.Set("domains", strings.Join(opts.IncludeDomains, ","))
	}
	if opts.DateRange != nil {
		if opts.DateRange.From != nil {
			params.Set("from", opts.DateRange.From.Format("2006-01-02"))
		}
		if opts.DateRange.To != nil {
			params.Set("to", opts.DateRange.To.Format("2006-01-02"))
		}
	}

	header := http.Header{}
	header.Set("X-Api-Key", n.apiKey)

	body, err := n.get(ctx, n.endpoint+"/v2/everything?"+params.Encode(), header)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("invalid JSON from newsapi")
	}
	if status := gjson.GetBytes(body, "status").String(); status != "" && status != "ok" {
		return nil, fmt.Errorf("newsapi error: %s", gjson.GetBytes(body, "message").String())
	}

	var results []search.Result
	gjson.GetBytes(body, "articles").ForEach(func(_, a gjson.Result) bool {
		r := n.result(a.Get("title").String(), a.Get("url").String(), a.Get("description").String())
		r.Author = a.Get("author").String()
		r.PublishDate = parseDate(a.Get("publishedAt").String())
		results = append(results, r)
		return true
	})
	return results, nil
}

func (n *News) searchFeed(ctx context.Context, query string, opts search.Options) ([]search.Result, error) {
	params := url.Values{}
	params.Set("q", withSiteFilter(query, opts.IncludeDomains))
	params.Set("hl", "en-US")
	params.Set("gl", "US")
	params.Set("ceid", "US:en")

	body, err := n.get(ctx, n.feedEndpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse news feed: %w", err)
	}

	return feedResults(&n.base, feed), nil
}

func feedResults(b *base, feed *gofeed.Feed) []search.Result {
	results := make([]search.Result, 0, len(feed.Items))
	for _, item := range feed.Items {
		r := b.result(plainText(item.Title), item.Link, plainText(item.Description))
		if item.Author != nil {
			r.Author = item.Author.Name
		} else if len(item.Authors) > 0 && item.Authors[0] != nil {
			r.Author = item.Authors[0].Name
		}
		if item.PublishedParsed != nil {
			t := *item.PublishedParsed
			r.PublishDate = &t
		} else if item.UpdatedParsed != nil {
			t := *item.UpdatedParsed
			r.PublishDate = &t
		}
		results = append(results, r)
	}
	return results
}

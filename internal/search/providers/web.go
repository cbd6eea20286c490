package providers

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/tidwall/gjson"

	"github.com/deepresearch/backend/internal/search"
)

// Web searches SerpAPI when a key is configured and scrapes DuckDuckGo's
// HTML endpoint otherwise.
type Web struct {
	base
	fallbackEndpoint string
}

func NewWeb(cfg Config) *Web {
	fallback := cfg.FallbackEndpoint
	if fallback == "" {
		fallback = "https://html.duckduckgo.com/html/"
	}
	return &Web{
		base:             newBase("web", search.TypeWeb, "https://serpapi.com/search", cfg),
		fallbackEndpoint: fallback,
	}
}

func (w *Web) IsAvailable() bool {
	return true
}

func (w *Web) Search(ctx context.Context, query string, opts search.Options) []search.Result {
	q := withSiteFilter(query, opts.IncludeDomains)

	var results []search.Result
	var err error
	if w.apiKey != "" {
		results, err = w.searchSerpAPI(ctx, q, opts)
	} else {
		results, err = w.searchDuckDuckGo(ctx, q)
	}
	if err != nil {
		return w.fail(query, err)
	}
	return finish(results, opts)
}

func (w *Web) searchSerpAPI(ctx context.Context, query string, opts search.Options) ([]search.Result, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("api_key", w.apiKey)
	params.Set("engine", "google")
	params.Set("num", strconv.Itoa(limit(opts, 10)))

	body, err := w.get(ctx, w.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("invalid JSON from serpapi")
	}

	var results []search.Result
	gjson.GetBytes(body, "organic_results").ForEach(func(_, item gjson.Result) bool {
		r := w.result(item.Get("title").String(), item.Get("link").String(), item.Get("snippet").String())
		r.PublishDate = parseDate(item.Get("date").String())
		results = append(results, r)
		return true
	})
	return results, nil
}

func (w *Web) searchDuckDuckGo(ctx context.Context, query string) ([]search.Result, error) {
	body, err := w.get(ctx, w.fallbackEndpoint+"?q="+url.QueryEscape(query), nil)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse duckduckgo HTML: %w", err)
	}

	var results []search.Result
	doc.Find(".result").Each(func(_ int, s *goquery.Selection) {
		link := s.Find("a.result__a").First()
		href, ok := link.Attr("href")
		if !ok {
			return
		}
		href = unwrapDuckDuckGo(href)
		if href == "" {
			return
		}
		results = append(results, w.result(link.Text(), href, s.Find(".result__snippet").Text()))
	})
	return results, nil
}

// unwrapDuckDuckGo resolves the redirect links DuckDuckGo wraps results in.
func unwrapDuckDuckGo(href string) string {
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if strings.HasSuffix(u.Hostname(), "duckduckgo.com") && strings.HasPrefix(u.Path, "/l/") {
		if target := u.Query().Get("uddg"); target != "" {
			return target
		}
		return ""
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return href
}

func withSiteFilter(query string, domains []string) string {
	if len(domains) == 0 {
		return query
	}
	sites := make([]string, 0, len(domains))
	for _, d := range domains {
		if d = strings.TrimSpace(d); d != "" {
			sites = append(sites, "site:"+d)
		}
	}
	if len(sites) == 0 {
		return query
	}
	return query + " (" + strings.Join(sites, " OR ") + ")"
}

package providers

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/deepresearch/backend/internal/search"
)

// Encyclopedia searches English Wikipedia through the MediaWiki action API.
type Encyclopedia struct {
	base
	articleBase string
}

func NewEncyclopedia(cfg Config) *Encyclopedia {
	return &Encyclopedia{
		base:        newBase("encyclopedia", search.TypeEncyclopedia, "https://en.wikipedia.org", cfg),
		articleBase: "https://en.wikipedia.org/wiki/",
	}
}

func (e *Encyclopedia) IsAvailable() bool {
	return true
}

func (e *Encyclopedia) Search(ctx context.Context, query string, opts search.Options) []search.Result {
	params := url.Values{}
	params.Set("action", "query")
	params.Set("list", "search")
	params.Set("srsearch", query)
	params.Set("srlimit", strconv.Itoa(limit(opts, 5)))
	params.Set("srprop", "snippet|timestamp")
	params.Set("format", "json")
	params.Set("formatversion", "2")

	body, err := e.get(ctx, e.endpoint+"/w/api.php?"+params.Encode(), nil)
	if err != nil {
		return e.fail(query, err)
	}
	if !gjson.ValidBytes(body) {
		return e.fail(query, fmt.Errorf("invalid JSON from wikipedia"))
	}

	var results []search.Result
	gjson.GetBytes(body, "query.search").ForEach(func(_, page gjson.Result) bool {
		title := page.Get("title").String()
		link := e.articleBase + url.PathEscape(strings.ReplaceAll(title, " ", "_"))

		r := e.result(title, link, plainText(page.Get("snippet").String()))
		r.Author = "Wikipedia contributors"
		r.PublishDate = parseDate(page.Get("timestamp").String())
		results = append(results, r)
		return true
	})

	// Article revision dates say nothing about when the topic happened, so
	// the date range is not applied here.
	opts.DateRange = nil
	return finish(results, opts)
}

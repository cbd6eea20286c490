package providers

import (
	"context"
	"fmt"
	"html"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/deepresearch/backend/internal/search"
)

// Forum searches Stack Exchange Q&A sites.
type Forum struct {
	base
	site string
}

func NewForum(cfg Config) *Forum {
	return &Forum{
		base: newBase("forum", search.TypeForum, "https://api.stackexchange.com", cfg),
		site: "stackoverflow",
	}
}

func (f *Forum) IsAvailable() bool {
	return true
}

func (f *Forum) Search(ctx context.Context, query string, opts search.Options) []search.Result {
	params := url.Values{}
	params.Set("order", "desc")
	params.Set("sort", "relevance")
	params.Set("q", query)
	params.Set("site", f.site)
	params.Set("pagesize", strconv.Itoa(limit(opts, 10)))
	if opts.DateRange != nil {
		if opts.DateRange.From != nil {
			params.Set("fromdate", strconv.FormatInt(opts.DateRange.From.Unix(), 10))
		}
		if opts.DateRange.To != nil {
			params.Set("todate", strconv.FormatInt(opts.DateRange.To.Unix(), 10))
		}
	}
	if f.apiKey != "" {
		params.Set("key", f.apiKey)
	}

	body, err := f.get(ctx, f.endpoint+"/2.3/search/advanced?"+params.Encode(), nil)
	if err != nil {
		return f.fail(query, err)
	}
	if !gjson.ValidBytes(body) {
		return f.fail(query, fmt.Errorf("invalid JSON from stackexchange"))
	}
	if msg := gjson.GetBytes(body, "error_message").String(); msg != "" {
		return f.fail(query, fmt.Errorf("stackexchange error: %s", msg))
	}

	var results []search.Result
	gjson.GetBytes(body, "items").ForEach(func(_, item gjson.Result) bool {
		var tags []string
		for _, t := range item.Get("tags").Array() {
			tags = append(tags, t.String())
		}
		snippet := fmt.Sprintf("%d votes, %d answers", item.Get("score").Int(), item.Get("answer_count").Int())
		if len(tags) > 0 {
			snippet += "; tags: " + strings.Join(tags, ", ")
		}

		r := f.result(html.UnescapeString(item.Get("title").String()), item.Get("link").String(), snippet)
		r.Author = html.UnescapeString(item.Get("owner.display_name").String())
		if created := item.Get("creation_date").Int(); created > 0 {
			t := time.Unix(created, 0).UTC()
			r.PublishDate = &t
		}
		results = append(results, r)
		return true
	})

	return finish(results, opts)
}

package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/deepresearch/backend/internal/search"
)

// Academic queries the Semantic Scholar Graph API. The API works without a
// key at a lower rate limit.
type Academic struct {
	base
}

func NewAcademic(cfg Config) *Academic {
	return &Academic{base: newBase("academic", search.TypeAcademic, "https://api.semanticscholar.org", cfg)}
}

func (a *Academic) IsAvailable() bool {
	return true
}

func (a *Academic) Search(ctx context.Context, query string, opts search.Options) []search.Result {
	params := url.Values{}
	params.Set("query", query)
	params.Set("limit", strconv.Itoa(limit(opts, 10)))
	params.Set("fields", "title,url,abstract,tldr,authors,year,publicationDate,externalIds,citationCount")
	if years := yearRange(opts); years != "" {
		params.Set("year", years)
	}

	header := http.Header{}
	if a.apiKey != "" {
		header.Set("x-api-key", a.apiKey)
	}

	body, err := a.get(ctx, a.endpoint+"/graph/v1/paper/search?"+params.Encode(), header)
	if err != nil {
		return a.fail(query, err)
	}
	if !gjson.ValidBytes(body) {
		return a.fail(query, fmt.Errorf("invalid JSON from semantic scholar"))
	}

	var results []search.Result
	gjson.GetBytes(body, "data").ForEach(func(_, paper gjson.Result) bool {
		link := paper.Get("url").String()
		if doi := paper.Get("externalIds.DOI").String(); doi != "" {
			link = "https://doi.org/" + doi
		}

		snippet := paper.Get("abstract").String()
		if snippet == "" {
			snippet = paper.Get("tldr.text").String()
		}

		r := a.result(paper.Get("title").String(), link, snippet)
		r.SourceType = search.TypeAcademic

		var authors []string
		paper.Get("authors.#.name").ForEach(func(_, name gjson.Result) bool {
			authors = append(authors, name.String())
			return len(authors) < 3
		})
		r.Author = strings.Join(authors, ", ")

		r.PublishDate = parseDate(paper.Get("publicationDate").String())
		if r.PublishDate == nil {
			if year := paper.Get("year").Int(); year > 0 {
				t := time.Date(int(year), time.January, 1, 0, 0, 0, 0, time.UTC)
				r.PublishDate = &t
			}
		}

		results = append(results, r)
		return true
	})

	return finish(results, opts)
}

func yearRange(opts search.Options) string {
	if opts.DateRange == nil {
		return ""
	}
	from, to := "", ""
	if opts.DateRange.From != nil {
		from = strconv.Itoa(opts.DateRange.From.Year())
	}
	if opts.DateRange.To != nil {
		to = strconv.Itoa(opts.DateRange.To.Year())
	}
	if from == "" && to == "" {
		return ""
	}
	return from + "-" + to
}

package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/deepresearch/backend/internal/search"
)

// Semantic runs Exa neural search. It is only available with an API key.
type Semantic struct {
	base
}

func NewSemantic(cfg Config) *Semantic {
	return &Semantic{base: newBase("semantic", search.TypeSemantic, "https://api.exa.ai", cfg)}
}

func (s *Semantic) IsAvailable() bool {
	return s.apiKey != ""
}

type exaRequest struct {
	Query              string       `json:"query"`
	NumResults         int          `json:"numResults"`
	Type               string       `json:"type"`
	IncludeDomains     []string     `json:"includeDomains,omitempty"`
	StartPublishedDate string       `json:"startPublishedDate,omitempty"`
	EndPublishedDate   string       `json:"endPublishedDate,omitempty"`
	Contents           *exaContents `json:"contents,omitempty"`
}

type exaContents struct {
	Text struct {
		MaxCharacters int `json:"maxCharacters"`
	} `json:"text"`
}

func (s *Semantic) Search(ctx context.Context, query string, opts search.Options) []search.Result {
	reqBody := exaRequest{
		Query:          query,
		NumResults:     limit(opts, 10),
		Type:           "auto",
		IncludeDomains: opts.IncludeDomains,
		Contents:       &exaContents{},
	}
	reqBody.Contents.Text.MaxCharacters = 500
	if opts.DateRange != nil {
		if opts.DateRange.From != nil {
			reqBody.StartPublishedDate = opts.DateRange.From.UTC().Format(time.RFC3339)
		}
		if opts.DateRange.To != nil {
			reqBody.EndPublishedDate = opts.DateRange.To.UTC().Format(time.RFC3339)
		}
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return s.fail(query, fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+"/search", bytes.NewReader(payload))
	if err != nil {
		return s.fail(query, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", s.apiKey)

	body, err := s.do(ctx, req)
	if err != nil {
		return s.fail(query, err)
	}
	if !gjson.ValidBytes(body) {
		return s.fail(query, fmt.Errorf("invalid JSON from exa"))
	}

	var results []search.Result
	gjson.GetBytes(body, "results").ForEach(func(_, item gjson.Result) bool {
		link := item.Get("url").String()
		r := s.result(item.Get("title").String(), link, item.Get("text").String())
		r.Author = item.Get("author").String()
		r.PublishDate = parseDate(item.Get("publishedDate").String())
		if sc := item.Get("score"); sc.Exists() {
			v := sc.Float()
			r.Score = &v
		}
		results = append(results, r)
		return true
	})

	return finish(results, opts)
}

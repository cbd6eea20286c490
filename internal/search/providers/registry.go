package providers

import (
	"time"

	"github.com/deepresearch/backend/internal/search"
	"github.com/deepresearch/backend/pkg/config"
)

// Defaults builds every provider in registration order. Each one gets its
// own limiter so a throttled source cannot starve the others.
func Defaults(cfg config.SearchConfig) []search.Provider {
	shared := Config{
		UserAgent:         cfg.UserAgent,
		Timeout:           time.Duration(cfg.TimeoutSec) * time.Second,
		RequestsPerSecond: cfg.RequestsPerSecond,
		MaxConcurrent:     cfg.MaxConcurrent,
	}

	with := func(key string) Config {
		c := shared
		c.APIKey = key
		return c
	}

	return []search.Provider{
		NewWeb(with(cfg.SerpAPIKey)),
		NewAcademic(with(cfg.SemanticScholarKey)),
		NewNews(with(cfg.NewsAPIKey)),
		NewEncyclopedia(shared),
		NewForum(shared),
		NewPreprint(shared),
		NewSemantic(with(cfg.ExaAPIKey)),
	}
}

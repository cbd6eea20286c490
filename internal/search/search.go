package search

import (
	"context"
	"strings"
	"time"

	"github.com/deepresearch/backend/internal/storage/models"
	"github.com/deepresearch/backend/pkg/utils"
)

const (
	TypeWeb          = "web"
	TypeAcademic     = "academic"
	TypeNews         = "news"
	TypeEncyclopedia = "encyclopedia"
	TypeForum        = "forum"
	TypePreprint     = "preprint"
	TypeSemantic     = "semantic"
)

type Options struct {
	MaxResults     int
	DateRange      *models.DateRange
	IncludeDomains []string
	// Providers toggles providers by name. Missing names are enabled.
	Providers map[string]bool
}

// Enabled reports whether the caller left the named provider switched on.
func (o Options) Enabled(name string) bool {
	if o.Providers == nil {
		return true
	}
	on, ok := o.Providers[name]
	return !ok || on
}

type Result struct {
	Title       string     `json:"title"`
	URL         string     `json:"url"`
	Snippet     string     `json:"snippet"`
	Author      string     `json:"author,omitempty"`
	PublishDate *time.Time `json:"publish_date,omitempty"`
	SourceType  string     `json:"source_type"`
	Provider    string     `json:"provider"`
	Score       *float64   `json:"score,omitempty"`
}

// Provider is one external search source. Search never returns an error:
// failures are logged by the provider and yield an empty slice.
type Provider interface {
	Name() string
	IsAvailable() bool
	Search(ctx context.Context, query string, opts Options) []Result
}

var hostTypes = []struct {
	sourceType string
	patterns   []string
}{
	{TypeEncyclopedia, []string{"wikipedia.org", "britannica.com", "scholarpedia.org"}},
	{TypeForum, []string{"reddit.com", "stackexchange.com", "stackoverflow.com", "quora.com", "news.ycombinator.com", "discourse"}},
	{TypePreprint, []string{"arxiv.org", "biorxiv.org", "medrxiv.org", "ssrn.com", "researchgate.net"}},
	{TypeAcademic, []string{"doi.org", "pubmed", "ncbi.nlm.nih.gov", "semanticscholar.org", "springer.com", "sciencedirect.com", "ieee.org", "acm.org", "nature.com", "jstor.org", "wiley.com"}},
	{TypeNews, []string{"reuters.com", "apnews.com", "bbc.", "nytimes.com", "theguardian.com", "washingtonpost.com", "bloomberg.com", "cnn.com", "npr.org", "wsj.com", "ft.com"}},
}

// ClassifySourceType guesses a source type from the URL host, falling back to
// the provider's own type when no pattern matches.
func ClassifySourceType(rawURL, fallback string) string {
	host := utils.Hostname(rawURL)
	if host != "" {
		for _, ht := range hostTypes {
			for _, p := range ht.patterns {
				if strings.Contains(host, p) {
					return ht.sourceType
				}
			}
		}
	}
	if fallback == "" {
		return TypeWeb
	}
	return fallback
}

// MatchesDomains reports whether rawURL's host ends with one of domains. An
// empty list matches everything.
func MatchesDomains(rawURL string, domains []string) bool {
	if len(domains) == 0 {
		return true
	}
	host := utils.Hostname(rawURL)
	for _, d := range domains {
		d = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(d)), "www.")
		if d == "" {
			continue
		}
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

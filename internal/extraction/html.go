package extraction

import (
	"bytes"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
	"github.com/markusmobius/go-trafilatura"
	"go.uber.org/zap"

	"github.com/deepresearch/backend/pkg/logger"
)

const minContainerChars = 500

var nonContentSelector = strings.Join([]string{
	"script", "style", "noscript", "template", "iframe", "svg", "form",
	"nav", "header", "footer", "aside",
	".advertisement", ".ads", ".ad", ".sidebar", ".cookie-banner", ".newsletter",
	".social-share", ".share-buttons", ".comments", "#comments", ".related-posts",
	"[role=navigation]", "[role=banner]", "[role=contentinfo]", "[aria-hidden=true]",
}, ", ")

var contentSelectors = []string{
	"article",
	"[role=main]",
	"main",
	"[itemprop=articleBody]",
	".post-content",
	".article-content",
	".article-body",
	".entry-content",
	".story-body",
	".content",
	"#content",
	".post",
}

var titleStrategies = []metaStrategy{
	{selector: `meta[property="og:title"]`, attr: "content"},
	{selector: `meta[name="twitter:title"]`, attr: "content"},
	{selector: `meta[name="citation_title"]`, attr: "content"},
	{selector: "title"},
	{selector: "h1"},
}

var authorStrategies = []metaStrategy{
	{selector: `meta[name="author"]`, attr: "content"},
	{selector: `meta[property="article:author"]`, attr: "content"},
	{selector: `meta[name="citation_author"]`, attr: "content"},
	{selector: `meta[name="parsely-author"]`, attr: "content"},
	{selector: `[itemprop="author"] [itemprop="name"]`},
	{selector: `[itemprop="author"]`},
	{selector: `[rel="author"]`},
	{selector: ".byline"},
	{selector: ".author"},
}

var dateStrategies = []metaStrategy{
	{selector: `meta[property="article:published_time"]`, attr: "content"},
	{selector: `meta[name="citation_publication_date"]`, attr: "content"},
	{selector: `meta[name="date"]`, attr: "content"},
	{selector: `meta[name="pubdate"]`, attr: "content"},
	{selector: `meta[name="publish-date"]`, attr: "content"},
	{selector: `meta[itemprop="datePublished"]`, attr: "content"},
	{selector: `time[datetime]`, attr: "datetime"},
	{selector: `[itemprop="datePublished"]`},
	{selector: "time"},
}

// metaStrategy reads attr from the first element matching selector, or its
// text when attr is empty.
type metaStrategy struct {
	selector string
	attr     string
}

func (m metaStrategy) read(doc *goquery.Document) string {
	sel := doc.Find(m.selector).First()
	if sel.Length() == 0 {
		return ""
	}
	if m.attr != "" {
		v, _ := sel.Attr(m.attr)
		return collapse(v)
	}
	return collapse(sel.Text())
}

func firstHit(doc *goquery.Document, strategies []metaStrategy) string {
	for _, s := range strategies {
		if v := s.read(doc); v != "" {
			return v
		}
	}
	return ""
}

func extractHTML(raw []byte, pageURL *url.URL) (*Content, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}

	// Scripts are counted before they are stripped.
	scriptCount := doc.Find("script").Length()

	title := firstHit(doc, titleStrategies)
	author := firstHit(doc, authorStrategies)
	if len(author) > 120 {
		author = ""
	}
	var published *time.Time
	for _, s := range dateStrategies {
		if t := parseDate(s.read(doc)); t != nil {
			published = t
			break
		}
	}

	if title == "" || author == "" || published == nil {
		title, author, published = fillFromTrafilatura(raw, pageURL, title, author, published)
	}

	doc.Find(nonContentSelector).Remove()

	body := ""
	for _, selector := range contentSelectors {
		var found string
		doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			text := collapse(s.Text())
			if len(text) > minContainerChars {
				found = text
				return false
			}
			return true
		})
		if found != "" {
			body = found
			break
		}
	}
	if body == "" {
		body = collapse(doc.Find("body").Text())
	}
	if body == "" {
		return nil, ErrNoContent
	}

	words := countWords(body)
	return &Content{
		Title:       title,
		Author:      author,
		PublishDate: published,
		Body:        body,
		Excerpt:     Excerpt(body),
		WordCount:   words,
		QualityScore: ScoreQuality(QualitySignals{
			Body:        body,
			WordCount:   words,
			ScriptCount: scriptCount,
			HTMLLength:  len(raw),
		}),
	}, nil
}

// fillFromTrafilatura fills only the metadata fields the DOM strategies
// left empty.
func fillFromTrafilatura(raw []byte, pageURL *url.URL, title, author string, published *time.Time) (string, string, *time.Time) {
	result, err := trafilatura.Extract(bytes.NewReader(raw), trafilatura.Options{OriginalURL: pageURL})
	if err != nil || result == nil {
		if err != nil {
			logger.Debug("Trafilatura metadata fallback failed", zap.String("url", pageURL.String()), zap.Error(err))
		}
		return title, author, published
	}

	if title == "" {
		title = collapse(result.Metadata.Title)
	}
	if author == "" {
		author = collapse(result.Metadata.Author)
	}
	if published == nil && !result.Metadata.Date.IsZero() {
		d := result.Metadata.Date
		published = &d
	}
	return title, author, published
}

func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := dateparse.ParseAny(s)
	if err != nil || t.IsZero() {
		return nil
	}
	return &t
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

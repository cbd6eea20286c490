package providers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepresearch/backend/internal/search"
	"github.com/deepresearch/backend/internal/storage/models"
	"github.com/deepresearch/backend/pkg/config"
)

func serve(t *testing.T, contentType, body string, check func(r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(r)
		}
		w.Header().Set("Content-Type", contentType)
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(endpoint string) Config {
	return Config{Endpoint: endpoint, FallbackEndpoint: endpoint, Timeout: 2 * time.Second, RequestsPerSecond: 100, MaxConcurrent: 4}
}

func TestWeb_SerpAPI(t *testing.T) {
	srv := serve(t, "application/json", `{"organic_results":[
		{"title":"Qubits explained","link":"https://example.com/qubits","snippet":"A qubit is...","date":"Mar 3, 2023"},
		{"title":"Wiki","link":"https://en.wikipedia.org/wiki/Qubit","snippet":"Qubit"}
	]}`, func(r *http.Request) {
		assert.Equal(t, "secret", r.URL.Query().Get("api_key"))
		assert.Equal(t, "quantum", r.URL.Query().Get("q"))
	})

	cfg := testConfig(srv.URL)
	cfg.APIKey = "secret"
	got := NewWeb(cfg).Search(context.Background(), "quantum", search.Options{MaxResults: 5})

	require.Len(t, got, 2)
	assert.Equal(t, "web", got[0].Provider)
	assert.Equal(t, search.TypeWeb, got[0].SourceType)
	require.NotNil(t, got[0].PublishDate)
	assert.Equal(t, 2023, got[0].PublishDate.Year())
	assert.Equal(t, search.TypeEncyclopedia, got[1].SourceType)
}

func TestWeb_DuckDuckGoFallback(t *testing.T) {
	srv := serve(t, "text/html", `<html><body>
		<div class="result"><a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.org%2Fa&rut=x">Result A</a>
			<a class="result__snippet">Snippet <b>A</b></a></div>
		<div class="result"><a class="result__a" href="https://example.net/b">Result B</a></div>
		<div class="result"><a class="result__a" href="javascript:void(0)">Bad</a></div>
	</body></html>`, nil)

	got := NewWeb(testConfig(srv.URL)).Search(context.Background(), "q", search.Options{})

	require.Len(t, got, 2)
	assert.Equal(t, "https://example.org/a", got[0].URL)
	assert.Equal(t, "Snippet A", got[0].Snippet)
	assert.Equal(t, "Result B", got[1].Title)
}

func TestWeb_ErrorStatusYieldsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	got := NewWeb(testConfig(srv.URL)).Search(context.Background(), "q", search.Options{})
	assert.Empty(t, got)
}

func TestAcademic_SemanticScholar(t *testing.T) {
	srv := serve(t, "application/json", `{"data":[
		{"title":"Quantum supremacy","url":"https://www.semanticscholar.org/paper/1","abstract":"We demonstrate...",
		 "authors":[{"name":"F. Arute"},{"name":"K. Arya"}],"year":2019,"publicationDate":"2019-10-23","externalIds":{"DOI":"10.1038/s41586-019-1666-5"}},
		{"title":"No DOI","url":"https://www.semanticscholar.org/paper/2","tldr":{"text":"Short"},"year":2020}
	]}`, func(r *http.Request) {
		assert.Equal(t, "/graph/v1/paper/search", r.URL.Path)
		assert.Equal(t, "2018-2021", r.URL.Query().Get("year"))
	})

	from := time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2021, 12, 31, 0, 0, 0, 0, time.UTC)
	got := NewAcademic(testConfig(srv.URL)).Search(context.Background(), "quantum", search.Options{
		DateRange: &models.DateRange{From: &from, To: &to},
	})

	require.Len(t, got, 2)
	assert.Equal(t, "https://doi.org/10.1038/s41586-019-1666-5", got[0].URL)
	assert.Equal(t, "F. Arute, K. Arya", got[0].Author)
	assert.Equal(t, search.TypeAcademic, got[0].SourceType)
	assert.Equal(t, "Short", got[1].Snippet)
	require.NotNil(t, got[1].PublishDate)
	assert.Equal(t, 2020, got[1].PublishDate.Year())
}

func TestNews_NewsAPI(t *testing.T) {
	srv := serve(t, "application/json", `{"status":"ok","articles":[
		{"title":"Chip news","url":"https://www.reuters.com/tech/chip","description":"desc","author":"Jane Roe","publishedAt":"2024-05-01T10:00:00Z"}
	]}`, func(r *http.Request) {
		assert.Equal(t, "k", r.Header.Get("X-Api-Key"))
	})

	cfg := testConfig(srv.URL)
	cfg.APIKey = "k"
	got := NewNews(cfg).Search(context.Background(), "chips", search.Options{})

	require.Len(t, got, 1)
	assert.Equal(t, "Jane Roe", got[0].Author)
	assert.Equal(t, search.TypeNews, got[0].SourceType)
}

func TestNews_RSSFallback(t *testing.T) {
	srv := serve(t, "application/rss+xml", `<?xml version="1.0"?>
<rss version="2.0"><channel><title>News</title>
<item><title>Quantum leap</title><link>https://news.example.com/q</link>
<description>&lt;a href="x"&gt;Quantum&lt;/a&gt; leap</description>
<pubDate>Mon, 06 May 2024 10:00:00 GMT</pubDate></item>
</channel></rss>`, nil)

	got := NewNews(testConfig(srv.URL)).Search(context.Background(), "quantum", search.Options{})

	require.Len(t, got, 1)
	assert.Equal(t, "Quantum leap", got[0].Title)
	assert.Equal(t, "Quantum leap", got[0].Snippet)
	assert.Equal(t, search.TypeNews, got[0].SourceType)
	require.NotNil(t, got[0].PublishDate)
}

func TestEncyclopedia_Wikipedia(t *testing.T) {
	srv := serve(t, "application/json", `{"query":{"search":[
		{"title":"Quantum computing","snippet":"A <span class=\"searchmatch\">quantum</span> computer","timestamp":"2024-01-02T03:04:05Z"}
	]}}`, nil)

	got := NewEncyclopedia(testConfig(srv.URL)).Search(context.Background(), "quantum", search.Options{})

	require.Len(t, got, 1)
	assert.Equal(t, "https://en.wikipedia.org/wiki/Quantum_computing", got[0].URL)
	assert.Equal(t, "A quantum computer", got[0].Snippet)
	assert.Equal(t, search.TypeEncyclopedia, got[0].SourceType)
}

func TestForum_StackExchange(t *testing.T) {
	srv := serve(t, "application/json", `{"items":[
		{"title":"How do I simulate a &quot;qubit&quot;?","link":"https://stackoverflow.com/q/1","score":12,"answer_count":3,
		 "tags":["python","qiskit"],"owner":{"display_name":"alice"},"creation_date":1700000000}
	]}`, nil)

	got := NewForum(testConfig(srv.URL)).Search(context.Background(), "qubit", search.Options{})

	require.Len(t, got, 1)
	assert.Equal(t, `How do I simulate a "qubit"?`, got[0].Title)
	assert.Equal(t, "12 votes, 3 answers; tags: python, qiskit", got[0].Snippet)
	assert.Equal(t, search.TypeForum, got[0].SourceType)
}

func TestPreprint_Arxiv(t *testing.T) {
	srv := serve(t, "application/atom+xml", `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>arXiv Query</title>
  <entry>
    <id>http://arxiv.org/abs/2101.00001v1</id>
    <title>Error correction for qubits</title>
    <summary>We study error correction.</summary>
    <published>2021-01-01T00:00:00Z</published>
    <author><name>Ada Lovelace</name></author>
    <link href="http://arxiv.org/abs/2101.00001v1" rel="alternate" type="text/html"/>
  </entry>
</feed>`, nil)

	got := NewPreprint(testConfig(srv.URL)).Search(context.Background(), "qubits", search.Options{})

	require.Len(t, got, 1)
	assert.Equal(t, "http://arxiv.org/abs/2101.00001v1", got[0].URL)
	assert.Equal(t, "Ada Lovelace", got[0].Author)
	assert.Equal(t, search.TypePreprint, got[0].SourceType)
}

func TestSemantic_Exa(t *testing.T) {
	srv := serve(t, "application/json", `{"results":[
		{"title":"Low","url":"https://a.example/1","score":0.2,"text":"t1"},
		{"title":"High","url":"https://b.example/2","score":0.8,"text":"t2","publishedDate":"2023-06-01T00:00:00.000Z"}
	]}`, func(r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "exa", r.Header.Get("x-api-key"))
		var req exaRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "neural nets", req.Query)
		assert.Equal(t, []string{"b.example"}, req.IncludeDomains)
	})

	cfg := testConfig(srv.URL)
	cfg.APIKey = "exa"
	p := NewSemantic(cfg)
	require.True(t, p.IsAvailable())

	got := p.Search(context.Background(), "neural nets", search.Options{IncludeDomains: []string{"b.example"}})
	require.Len(t, got, 1)
	assert.Equal(t, "High", got[0].Title)
	require.NotNil(t, got[0].Score)
	assert.Equal(t, 0.8, *got[0].Score)

	assert.False(t, NewSemantic(Config{}).IsAvailable())
}

func TestDefaults_RegistrationOrder(t *testing.T) {
	var names []string
	for _, p := range Defaults(config.SearchConfig{TimeoutSec: 1}) {
		names = append(names, p.Name())
	}
	assert.Equal(t, []string{"web", "academic", "news", "encyclopedia", "forum", "preprint", "semantic"}, names)
}

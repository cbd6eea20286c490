package extraction

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func words(n int) string {
	return strings.TrimSpace(strings.Repeat("lorem ", n))
}

func TestScoreQuality(t *testing.T) {
	t.Run("clean long article", func(t *testing.T) {
		assert.Equal(t, 1.0, ScoreQuality(QualitySignals{Body: words(600), WordCount: 600}))
	})

	t.Run("short pages pay both word penalties", func(t *testing.T) {
		score := ScoreQuality(QualitySignals{Body: words(50), WordCount: 50})
		assert.InDelta(t, 0.6, score, 1e-9)
		assert.LessOrEqual(t, score, 0.7)
	})

	t.Run("error page below threshold", func(t *testing.T) {
		body := "Page not found. " + words(77)
		score := ScoreQuality(QualitySignals{Body: body, WordCount: countWords(body)})
		assert.InDelta(t, 0.1, score, 1e-9)
	})

	t.Run("error phrase ignored on long pages", func(t *testing.T) {
		body := "access denied " + words(600)
		assert.Equal(t, 1.0, ScoreQuality(QualitySignals{Body: body, WordCount: countWords(body)}))
	})

	t.Run("scripts paywall and ratio", func(t *testing.T) {
		body := "Subscribe to continue reading. " + words(400)
		score := ScoreQuality(QualitySignals{Body: body, WordCount: countWords(body), ScriptCount: 25, HTMLLength: len(body) * 20})
		assert.InDelta(t, 0.3, score, 1e-9)
	})

	t.Run("ratio skipped without html", func(t *testing.T) {
		assert.Equal(t, 1.0, ScoreQuality(QualitySignals{Body: words(400), WordCount: 400, HTMLLength: 0}))
	})

	t.Run("floor at zero", func(t *testing.T) {
		body := "page not found subscribe to continue"
		score := ScoreQuality(QualitySignals{Body: body, WordCount: 6, ScriptCount: 40, HTMLLength: 100000})
		assert.Equal(t, 0.0, score)
	})
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "Short text.", Excerpt("  Short   text. "))

	sentence := strings.Repeat("word ", 49) + "end."
	long := sentence + " " + strings.Repeat("more ", 30)
	assert.Equal(t, sentence, Excerpt(long))

	noStop := Excerpt(strings.Repeat("alpha ", 100))
	assert.True(t, strings.HasSuffix(noStop, "alpha..."))
	assert.LessOrEqual(t, len([]rune(noStop)), 303)

	early := "One. " + strings.Repeat("beta ", 100)
	assert.True(t, strings.HasSuffix(Excerpt(early), "..."), "sentence end before 70% is ignored")
}

const articleHTML = `<!doctype html>
<html><head>
<title>Fallback title</title>
<meta property="og:title" content="Qubits in Practice">
<meta name="author" content="Grace Hopper">
<meta property="article:published_time" content="2023-04-05T10:00:00Z">
<script>var a = 1;</script>
</head>
<body>
<nav>Home | About | Subscribe</nav>
<header><h1>Site banner</h1></header>
<article>%s</article>
<footer>Copyright footer text</footer>
</body></html>`

func newTestServer(t *testing.T, routes map[string]func(w http.ResponseWriter)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h, ok := routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		h(w)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func html(body string) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.WriteString(w, body)
	}
}

func TestExtract_HTMLArticle(t *testing.T) {
	text := strings.Repeat("Quantum computers use qubits to perform calculations. ", 60)
	srv := newTestServer(t, map[string]func(http.ResponseWriter){
		"/article": html(fmt.Sprintf(articleHTML, text)),
	})

	e := NewExtractor(Config{AllowPrivateHosts: true})
	c, err := e.Extract(context.Background(), srv.URL+"/article")
	require.NoError(t, err)

	assert.Equal(t, "Qubits in Practice", c.Title)
	assert.Equal(t, "Grace Hopper", c.Author)
	require.NotNil(t, c.PublishDate)
	assert.Equal(t, 2023, c.PublishDate.Year())
	assert.NotContains(t, c.Body, "Home | About")
	assert.NotContains(t, c.Body, "Copyright footer")
	assert.Equal(t, 420, c.WordCount)
	assert.Equal(t, 1.0, c.QualityScore)
	assert.False(t, c.IsPDF)
	assert.LessOrEqual(t, len([]rune(c.Excerpt)), 303)
}

func TestExtract_FallsBackToBody(t *testing.T) {
	srv := newTestServer(t, map[string]func(http.ResponseWriter){
		"/short": html(`<html><head><title>Tiny</title></head><body><article>Too short.</article><p>Outside text.</p></body></html>`),
	})

	c, err := NewExtractor(Config{AllowPrivateHosts: true}).Extract(context.Background(), srv.URL+"/short")
	require.NoError(t, err)
	assert.Contains(t, c.Body, "Outside text.")
	assert.Equal(t, "Tiny", c.Title)
}

func TestExtract_ErrorPageScoresBelowThreshold(t *testing.T) {
	body := "Page not found. " + strings.Repeat("The page you were looking for has moved somewhere else. ", 8)
	srv := newTestServer(t, map[string]func(http.ResponseWriter){
		"/missing": html("<html><body><p>" + body + "</p></body></html>"),
	})

	c, err := NewExtractor(Config{AllowPrivateHosts: true}).Extract(context.Background(), srv.URL+"/missing")
	require.NoError(t, err)
	assert.Less(t, c.WordCount, 100)
	assert.Less(t, c.QualityScore, 0.3)
}

func TestExtract_BlocksPrivateHosts(t *testing.T) {
	e := NewExtractor(Config{})

	_, err := e.Extract(context.Background(), "http://127.0.0.1:1/x")
	assert.ErrorIs(t, err, ErrBlockedHost)

	_, err = e.Extract(context.Background(), "http://localhost/x")
	assert.ErrorIs(t, err, ErrBlockedHost)

	_, err = e.Extract(context.Background(), "ftp://example.com/file")
	assert.Error(t, err)
}

func TestExtract_RespectsRobots(t *testing.T) {
	text := strings.Repeat("Open content sentence for the crawler. ", 40)
	srv := newTestServer(t, map[string]func(http.ResponseWriter){
		"/robots.txt": func(w http.ResponseWriter) { io.WriteString(w, "User-agent: *\nDisallow: /private\n") },
		"/private":    html("<html><body><article>" + text + "</article></body></html>"),
		"/public":     html("<html><body><article>" + text + "</article></body></html>"),
	})

	e := NewExtractor(Config{AllowPrivateHosts: true, RespectRobots: true})

	_, err := e.Extract(context.Background(), srv.URL+"/private")
	assert.ErrorIs(t, err, ErrDisallowed)

	c, err := e.Extract(context.Background(), srv.URL+"/public")
	require.NoError(t, err)
	assert.NotEmpty(t, c.Body)
}

type flakyTransport struct {
	failures int
	calls    int
}

func (f *flakyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, fmt.Errorf("connection reset")
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"text/plain"}},
		Body:       io.NopCloser(strings.NewReader("User-agent: *\nDisallow: /\n")),
		Request:    req,
	}, nil
}

func TestRobotsChecker_TransportFailureIsNotCached(t *testing.T) {
	transport := &flakyTransport{failures: 1}
	rc := NewRobotsChecker("TestBot", &http.Client{Transport: transport})
	ctx := context.Background()

	allowed, err := rc.Allowed(ctx, "https://flaky.example/page")
	require.NoError(t, err)
	assert.True(t, allowed, "unreachable robots.txt allows the request")

	allowed, err = rc.Allowed(ctx, "https://flaky.example/page")
	require.NoError(t, err)
	assert.False(t, allowed, "the next request fetches robots.txt again")

	_, err = rc.Allowed(ctx, "https://flaky.example/other")
	require.NoError(t, err)
	assert.Equal(t, 2, transport.calls, "a successful fetch is cached")
}

func TestExtract_UnsupportedType(t *testing.T) {
	srv := newTestServer(t, map[string]func(http.ResponseWriter){
		"/img": func(w http.ResponseWriter) {
			w.Header().Set("Content-Type", "image/png")
			w.Write([]byte{0x89, 'P', 'N', 'G'})
		},
	})

	_, err := NewExtractor(Config{AllowPrivateHosts: true}).Extract(context.Background(), srv.URL+"/img")
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func buildPDF(text, title string) []byte {
	content := fmt.Sprintf("BT /F1 12 Tf 72 712 Td (%s) Tj ET", text)
	objs := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 4 0 R >> >> /Contents 5 0 R >>",
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
		fmt.Sprintf("<< /Title (%s) /Author (Ada Lovelace) /CreationDate (D:20210304120000Z) >>", title),
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, o := range objs {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, o)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objs)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R /Info 6 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)
	return buf.Bytes()
}

func TestExtract_PDFByContentType(t *testing.T) {
	doc := buildPDF("Superconducting qubits decohere quickly", "Decoherence Notes")
	srv := newTestServer(t, map[string]func(http.ResponseWriter){
		"/paper": func(w http.ResponseWriter) {
			w.Header().Set("Content-Type", "application/pdf")
			w.Write(doc)
		},
	})

	c, err := NewExtractor(Config{AllowPrivateHosts: true}).Extract(context.Background(), srv.URL+"/paper")
	require.NoError(t, err)
	assert.True(t, c.IsPDF)
	assert.Contains(t, c.Body, "qubits")
	assert.Equal(t, "Decoherence Notes", c.Title)
	assert.Equal(t, "Ada Lovelace", c.Author)
	require.NotNil(t, c.PublishDate)
	assert.Equal(t, 2021, c.PublishDate.Year())
}

func TestPDFDate(t *testing.T) {
	require.NotNil(t, pdfDate("D:20200102"))
	assert.Equal(t, 2020, pdfDate("D:20200102").Year())
	assert.Nil(t, pdfDate("yesterday"))
}

func TestExtractBatch_KeepsFailuresAsNil(t *testing.T) {
	text := strings.Repeat("Batch extraction keeps going. ", 40)
	srv := newTestServer(t, map[string]func(http.ResponseWriter){
		"/a": html("<html><body><article>" + text + "</article></body></html>"),
		"/b": html("<html><body><article>" + text + "</article></body></html>"),
	})

	urls := []string{srv.URL + "/a", srv.URL + "/missing", srv.URL + "/b", srv.URL + "/a"}
	got := NewExtractor(Config{AllowPrivateHosts: true}).ExtractBatch(context.Background(), urls, 2)

	require.Len(t, got, 3)
	assert.NotNil(t, got[srv.URL+"/a"])
	assert.NotNil(t, got[srv.URL+"/b"])
	v, ok := got[srv.URL+"/missing"]
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestExtractBatch_Empty(t *testing.T) {
	got := NewExtractor(Config{}).ExtractBatch(context.Background(), nil, 5)
	assert.Empty(t, got)
}

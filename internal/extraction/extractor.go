package extraction

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/deepresearch/backend/internal/metrics"
	"github.com/deepresearch/backend/pkg/logger"
)

var (
	ErrBlockedHost     = errors.New("host is not publicly routable")
	ErrDisallowed      = errors.New("fetch disallowed by robots.txt")
	ErrUnsupportedType = errors.New("unsupported content type")
	ErrNoContent       = errors.New("no extractable content")
)

type Content struct {
	URL          string     `json:"url"`
	Title        string     `json:"title"`
	Author       string     `json:"author,omitempty"`
	PublishDate  *time.Time `json:"publish_date,omitempty"`
	Body         string     `json:"body"`
	Excerpt      string     `json:"excerpt"`
	WordCount    int        `json:"word_count"`
	QualityScore float64    `json:"quality_score"`
	IsPDF        bool       `json:"is_pdf"`
}

type Config struct {
	UserAgent     string
	Timeout       time.Duration
	MaxBodyBytes  int64
	RespectRobots bool
	// AllowPrivateHosts disables the guard against loopback and private
	// network targets.
	AllowPrivateHosts bool
}

type Extractor struct {
	client *http.Client
	robots *RobotsChecker
	cfg    Config
}

func NewExtractor(cfg Config) *Extractor {
	if cfg.UserAgent == "" {
		cfg.UserAgent = "DeepResearch-Bot/1.0"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 10 << 20
	}

	e := &Extractor{cfg: cfg}
	e.client = &http.Client{
		Timeout: cfg.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return errors.New("too many redirects")
			}
			return e.checkHost(req.URL)
		},
	}
	if cfg.RespectRobots {
		e.robots = NewRobotsChecker(cfg.UserAgent, &http.Client{Timeout: 10 * time.Second})
	}
	return e
}

// Extract fetches rawURL and returns its cleaned content with a quality
// score. PDFs are recognised by URL suffix or response content type.
func (e *Extractor) Extract(ctx context.Context, rawURL string) (*Content, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid URL %q", rawURL)
	}
	if err := e.checkHost(u); err != nil {
		return nil, err
	}

	if e.robots != nil {
		allowed, err := e.robots.Allowed(ctx, u.String())
		if err != nil {
			return nil, err
		}
		if !allowed {
			metrics.Extractions.WithLabelValues("unknown", "robots").Inc()
			return nil, ErrDisallowed
		}
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", e.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/pdf;q=0.9,*/*;q=0.5")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error %d fetching %s", resp.StatusCode, u)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, e.cfg.MaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	isPDF := strings.HasSuffix(strings.ToLower(u.Path), ".pdf") || strings.Contains(contentType, "application/pdf")

	var content *Content
	kind := "html"
	switch {
	case isPDF:
		kind = "pdf"
		content, err = extractPDF(body)
	case contentType == "" || strings.Contains(contentType, "html") || strings.Contains(contentType, "xml") || strings.HasPrefix(contentType, "text/"):
		content, err = extractHTML(body, u)
	default:
		err = fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
	}
	if err != nil {
		metrics.Extractions.WithLabelValues(kind, "error").Inc()
		return nil, err
	}

	content.URL = u.String()
	if content.Title == "" {
		content.Title = u.Hostname()
	}

	metrics.Extractions.WithLabelValues(kind, "ok").Inc()
	metrics.ExtractionQuality.Observe(content.QualityScore)

	logger.Debug("Content extracted",
		zap.String("url", content.URL),
		zap.Int("words", content.WordCount),
		zap.Float64("quality", content.QualityScore),
		zap.Bool("pdf", content.IsPDF),
	)

	return content, nil
}

func (e *Extractor) checkHost(u *url.URL) error {
	if e.cfg.AllowPrivateHosts {
		return nil
	}

	host := strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
	if host == "localhost" || strings.HasSuffix(host, ".localhost") || strings.HasSuffix(host, ".internal") {
		return fmt.Errorf("%w: %s", ErrBlockedHost, host)
	}

	if ip := net.ParseIP(host); ip != nil {
		if isPrivate(ip) {
			return fmt.Errorf("%w: %s", ErrBlockedHost, host)
		}
		return nil
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		// Unresolvable hosts fail at fetch time.
		return nil
	}
	for _, ip := range ips {
		if isPrivate(ip) {
			return fmt.Errorf("%w: %s resolves to %s", ErrBlockedHost, host, ip)
		}
	}
	return nil
}

func isPrivate(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified() || ip.IsInterfaceLocalMulticast()
}

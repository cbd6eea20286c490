package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"go.uber.org/zap"

	"github.com/deepresearch/backend/internal/metrics"
	"github.com/deepresearch/backend/internal/storage/models"
	"github.com/deepresearch/backend/pkg/logger"
)

var (
	ErrUnsupportedFormat    = errors.New("unsupported export format")
	ErrFormatNotImplemented = errors.New("export format not implemented")
)

const exportTTL = time.Hour

// ExportCache stores rendered exports. Rendered output only depends on the
// stored report, which never changes once written.
type ExportCache interface {
	GetExport(ctx context.Context, sessionID, format string) ([]byte, bool, error)
	SetExport(ctx context.Context, sessionID, format string, data []byte, ttl time.Duration) error
}

type ReportSource interface {
	GenerateReport(ctx context.Context, sessionID string) (*models.Report, error)
}

type Exporter struct {
	reports ReportSource
	cache   ExportCache
	md      goldmark.Markdown
}

// NewExporter returns an Exporter. cache may be nil.
func NewExporter(reports ReportSource, cache ExportCache) *Exporter {
	return &Exporter{
		reports: reports,
		cache:   cache,
		md:      goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}
}

// ContentType returns the MIME type for a supported export format.
func ContentType(format string) string {
	switch format {
	case "html":
		return "text/html; charset=utf-8"
	default:
		return "text/markdown; charset=utf-8"
	}
}

// Export renders the session's report in format, generating the report
// first if needed.
func (e *Exporter) Export(ctx context.Context, sessionID, format string) ([]byte, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	switch format {
	case "md", "markdown":
		format = "md"
	case "html":
	case "pdf", "docx":
		return nil, fmt.Errorf("%w: %s", ErrFormatNotImplemented, format)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	if e.cache != nil {
		data, ok, err := e.cache.GetExport(ctx, sessionID, format)
		if err != nil {
			logger.Warn("Failed to read export cache", zap.String("session_id", sessionID), zap.Error(err))
		} else if ok {
			return data, nil
		}
	}

	report, err := e.reports.GenerateReport(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	data := []byte(Markdown(report))
	if format == "html" {
		if data, err = e.renderHTML(report.Title, data); err != nil {
			return nil, err
		}
	}

	if e.cache != nil {
		if err := e.cache.SetExport(ctx, sessionID, format, data, exportTTL); err != nil {
			logger.Warn("Failed to cache export", zap.String("session_id", sessionID), zap.Error(err))
		}
	}
	return data, nil
}

// Markdown renders a report as a standalone markdown document.
func Markdown(r *models.Report) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", r.Title)
	if r.Abstract != "" {
		fmt.Fprintf(&sb, "## Abstract\n\n%s\n\n", r.Abstract)
	}
	for _, sec := range r.Sections {
		title := sec.Title
		if title == "" {
			title = "Untitled section"
		}
		fmt.Fprintf(&sb, "## %s\n\n%s\n\n", title, sec.Content)
	}
	writeList(&sb, "Key Findings", r.KeyFindings, false)
	writeList(&sb, "Limitations", r.Limitations, false)
	writeList(&sb, "Bibliography", r.Bibliography, r.CitationStyle != StyleIEEE)
	return strings.TrimRight(sb.String(), "\n") + "\n"
}

func writeList(sb *strings.Builder, heading string, items []string, numbered bool) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(sb, "## %s\n\n", heading)
	for i, item := range items {
		if numbered {
			sb.WriteString(strconv.Itoa(i+1) + ". ")
		} else {
			sb.WriteString("- ")
		}
		sb.WriteString(item)
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
}

func (e *Exporter) renderHTML(title string, markdown []byte) ([]byte, error) {
	var body bytes.Buffer
	if err := e.md.Convert(markdown, &body); err != nil {
		return nil, fmt.Errorf("failed to render html: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&buf, "<title>%s</title>\n", html.EscapeString(title))
	buf.WriteString("<style>body{max-width:48rem;margin:2rem auto;font-family:Georgia,serif;line-height:1.6;padding:0 1rem}</style>\n")
	buf.WriteString("</head>\n<body>\n")
	buf.Write(body.Bytes())
	buf.WriteString("</body>\n</html>\n")
	return buf.Bytes(), nil
}

// MemoryCache is an in-process ExportCache for deployments without Redis.
type MemoryCache struct {
	c *gocache.Cache
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{c: gocache.New(exportTTL, 10*time.Minute)}
}

func (m *MemoryCache) GetExport(_ context.Context, sessionID, format string) ([]byte, bool, error) {
	v, ok := m.c.Get(sessionID + ":" + format)
	if !ok {
		metrics.CacheMisses.WithLabelValues("export").Inc()
		return nil, false, nil
	}
	metrics.CacheHits.WithLabelValues("export").Inc()
	return v.([]byte), true, nil
}

func (m *MemoryCache) SetExport(_ context.Context, sessionID, format string, data []byte, ttl time.Duration) error {
	m.c.Set(sessionID+":"+format, data, ttl)
	return nil
}

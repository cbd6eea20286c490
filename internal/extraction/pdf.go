package extraction

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
)

const (
	maxPDFPages     = 200
	maxPDFTextBytes = 2 << 20
)

func extractPDF(data []byte) (*Content, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}

	pages := reader.NumPage()
	if pages == 0 {
		return nil, ErrNoContent
	}
	if pages > maxPDFPages {
		pages = maxPDFPages
	}

	var sb strings.Builder
	for i := 1; i <= pages && sb.Len() < maxPDFTextBytes; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		text = collapse(strings.ReplaceAll(text, "\x00", ""))
		if text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(text)
	}

	body := sb.String()
	if body == "" {
		return nil, ErrNoContent
	}

	info := reader.Trailer().Key("Info")
	words := countWords(body)

	return &Content{
		Title:       collapse(info.Key("Title").Text()),
		Author:      collapse(info.Key("Author").Text()),
		PublishDate: pdfDate(info.Key("CreationDate").Text()),
		Body:        body,
		Excerpt:     Excerpt(body),
		WordCount:   words,
		IsPDF:       true,
		QualityScore: ScoreQuality(QualitySignals{
			Body:      body,
			WordCount: words,
		}),
	}, nil
}

// pdfDate parses the D:YYYYMMDDHHmmSS form used in PDF info dictionaries.
func pdfDate(s string) *time.Time {
	s = strings.TrimPrefix(strings.TrimSpace(s), "D:")
	digits := 0
	for digits < len(s) && digits < 14 && s[digits] >= '0' && s[digits] <= '9' {
		digits++
	}

	layouts := map[int]string{14: "20060102150405", 12: "200601021504", 8: "20060102", 6: "200601", 4: "2006"}
	layout, ok := layouts[digits]
	if !ok {
		return nil
	}
	t, err := time.Parse(layout, s[:digits])
	if err != nil {
		return nil
	}
	return &t
}

package report

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/deepresearch/backend/internal/storage/models"
)

const (
	StyleAPA     = "apa"
	StyleMLA     = "mla"
	StyleChicago = "chicago"
	StyleIEEE    = "ieee"
)

// NormalizeStyle maps a requested citation style to a supported one,
// defaulting to APA.
func NormalizeStyle(style string) string {
	switch s := strings.ToLower(strings.TrimSpace(style)); s {
	case StyleMLA, StyleChicago, StyleIEEE:
		return s
	default:
		return StyleAPA
	}
}

// FormatCitation renders one bibliography entry. n is the 1-based entry
// number, used by IEEE.
func FormatCitation(style string, n int, src models.Source) string {
	author := strings.TrimSpace(src.Author)
	if author == "" {
		author = "Unknown"
	}
	title := strings.TrimSpace(src.Title)
	if title == "" {
		title = src.URL
	}
	year := "n.d."
	if src.PublishDate != nil && !src.PublishDate.IsZero() {
		year = strconv.Itoa(src.PublishDate.Year())
	}

	switch NormalizeStyle(style) {
	case StyleMLA:
		return fmt.Sprintf(`%s. "%s." Web. %s. <%s>.`, author, title, year, src.URL)
	case StyleChicago:
		return fmt.Sprintf(`%s. "%s." Accessed %s. %s.`, author, title, year, src.URL)
	case StyleIEEE:
		return fmt.Sprintf(`[%d] %s, "%s," %s. [Online]. Available: %s`, n, author, title, year, src.URL)
	default:
		return fmt.Sprintf(`%s. (%s). %s. Retrieved from %s`, author, year, title, src.URL)
	}
}

func Bibliography(style string, sources []models.Source) []string {
	entries := make([]string, len(sources))
	for i, src := range sources {
		entries[i] = FormatCitation(style, i+1, src)
	}
	return entries
}

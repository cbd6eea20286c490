package validation

import (
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

var xssPattern = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=|onclick=)`)

var (
	depths         = []string{"quick", "standard", "deep", "exhaustive"}
	citationStyles = []string{"apa", "mla", "chicago", "ieee"}
	reportFormats  = []string{"md", "markdown", "html", "pdf", "docx"}
)

type Config struct {
	MaxQueryLength int
	MaxSources     int
	MaxDomains     int
	Logger         *zap.Logger
}

// Middleware rejects malformed research requests before they reach the
// handlers. Bodies are only inspected on the start and deep-dive routes.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxQueryLength == 0 {
		cfg.MaxQueryLength = 2000
	}
	if cfg.MaxSources == 0 {
		cfg.MaxSources = 100
	}
	if cfg.MaxDomains == 0 {
		cfg.MaxDomains = 50
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodPost || c.Method() == fiber.MethodPut {
			contentType := c.Get(fiber.HeaderContentType)
			if contentType != "" && !strings.Contains(contentType, fiber.MIMEApplicationJSON) {
				return badRequest(c, fiber.StatusUnsupportedMediaType, "Unsupported content type")
			}
		}
		if c.Method() != fiber.MethodPost {
			return c.Next()
		}

		path := strings.TrimSuffix(c.Path(), "/")
		var field string
		switch {
		case strings.HasSuffix(path, "/research/start"):
			field = "query"
		case strings.HasSuffix(path, "/deep-dive"):
			field = "question"
		default:
			return c.Next()
		}

		var req map[string]interface{}
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, fiber.StatusBadRequest, "Invalid JSON format")
		}

		text, ok := req[field].(string)
		if !ok || strings.TrimSpace(text) == "" {
			return badRequest(c, fiber.StatusBadRequest, field+" is required and must be a string")
		}
		if len(text) > cfg.MaxQueryLength {
			return badRequest(c, fiber.StatusBadRequest, field+" exceeds maximum length")
		}
		if strings.ContainsRune(text, 0) || xssPattern.MatchString(text) {
			cfg.Logger.Warn("Rejected suspicious research text",
				zap.String("ip", c.IP()),
				zap.String("path", path),
			)
			return badRequest(c, fiber.StatusBadRequest, "Invalid "+field+" content")
		}

		if field == "query" {
			if msg := checkConfig(req, cfg); msg != "" {
				return badRequest(c, fiber.StatusBadRequest, msg)
			}
		}
		return c.Next()
	}
}

func checkConfig(req map[string]interface{}, cfg Config) string {
	if !oneOf(req["depth"], depths) {
		return "depth must be one of " + strings.Join(depths, ", ")
	}
	if !oneOf(req["citation_style"], citationStyles) {
		return "citation_style must be one of " + strings.Join(citationStyles, ", ")
	}
	if !oneOf(req["report_format"], reportFormats) {
		return "report_format must be one of " + strings.Join(reportFormats, ", ")
	}
	if v, ok := req["max_sources"]; ok && v != nil {
		n, isNum := v.(float64)
		if !isNum || n != float64(int(n)) || n < 1 || int(n) > cfg.MaxSources {
			return "max_sources must be an integer between 1 and the configured maximum"
		}
	}
	for _, key := range []string{"include_domains", "excluded_domains"} {
		v, ok := req[key]
		if !ok || v == nil {
			continue
		}
		list, isList := v.([]interface{})
		if !isList || len(list) > cfg.MaxDomains {
			return key + " must be a list of at most the configured number of domains"
		}
		for _, d := range list {
			if s, isStr := d.(string); !isStr || strings.TrimSpace(s) == "" {
				return key + " entries must be non-empty strings"
			}
		}
	}
	return ""
}

// oneOf accepts a missing value or a string from allowed, ignoring case.
func oneOf(v interface{}, allowed []string) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	if !ok {
		return false
	}
	if s == "" {
		return true
	}
	for _, a := range allowed {
		if strings.EqualFold(s, a) {
			return true
		}
	}
	return false
}

func badRequest(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"error": msg})
}

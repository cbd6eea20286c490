package handlers

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/deepresearch/backend/internal/report"
)

type ExportHandler struct {
	exporter *report.Exporter
}

func NewExportHandler(exporter *report.Exporter) *ExportHandler {
	return &ExportHandler{exporter: exporter}
}

// Export renders the session report. ?download=1 asks the browser to save
// it instead of displaying it.
func (h *ExportHandler) Export(c *fiber.Ctx) error {
	id := c.Params("id")
	format := strings.ToLower(c.Params("format"))

	data, err := h.exporter.Export(c.UserContext(), id, format)
	if err != nil {
		return respondError(c, err, "export report")
	}

	c.Set(fiber.HeaderContentType, report.ContentType(format))
	if c.QueryBool("download") {
		ext := format
		if ext == "markdown" {
			ext = "md"
		}
		c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="research-%s.%s"`, id, ext))
	}
	return c.Send(data)
}

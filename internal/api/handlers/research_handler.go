package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/deepresearch/backend/internal/research"
	"github.com/deepresearch/backend/internal/storage/models"
	"github.com/deepresearch/backend/pkg/config"
	"github.com/deepresearch/backend/pkg/logger"
)

const (
	defaultPageSize = 100
	maxPageSize     = 500
)

type ResearchHandler struct {
	svc      *research.Service
	defaults config.ResearchConfig
}

func NewResearchHandler(svc *research.Service, defaults config.ResearchConfig) *ResearchHandler {
	return &ResearchHandler{
		svc:      svc,
		defaults: defaults,
	}
}

type startRequest struct {
	Query           string            `json:"query"`
	ProjectID       string            `json:"project_id"`
	Depth           string            `json:"depth"`
	MaxSources      int               `json:"max_sources"`
	Providers       map[string]bool   `json:"providers"`
	DateRange       *models.DateRange `json:"date_range"`
	IncludeDomains  []string          `json:"include_domains"`
	ExcludedDomains []string          `json:"excluded_domains"`
	CitationStyle   string            `json:"citation_style"`
	ReportFormat    string            `json:"report_format"`
	GenerateReport  *bool             `json:"generate_report"`
}

func (h *ResearchHandler) Start(c *fiber.Ctx) error {
	var req startRequest
	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	generate := h.defaults.GenerateReport
	if req.GenerateReport != nil {
		generate = *req.GenerateReport
	}

	session, err := h.svc.Start(c.UserContext(), research.StartRequest{
		Query:     req.Query,
		ProjectID: req.ProjectID,
		Config: models.ResearchConfig{
			Depth:           models.Depth(req.Depth),
			MaxSources:      req.MaxSources,
			Providers:       req.Providers,
			DateRange:       req.DateRange,
			IncludeDomains:  req.IncludeDomains,
			ExcludedDomains: req.ExcludedDomains,
			CitationStyle:   req.CitationStyle,
			ReportFormat:    req.ReportFormat,
			GenerateReport:  generate,
		},
	})
	if err != nil {
		return respondError(c, err, "start research")
	}

	return c.Status(fiber.StatusAccepted).JSON(session)
}

func (h *ResearchHandler) DeepDive(c *fiber.Ctx) error {
	var req struct {
		Question string `json:"question"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	session, err := h.svc.DeepDive(c.UserContext(), c.Params("id"), req.Question)
	if err != nil {
		return respondError(c, err, "start deep dive")
	}
	return c.Status(fiber.StatusAccepted).JSON(session)
}

func (h *ResearchHandler) Get(c *fiber.Ctx) error {
	session, err := h.svc.Get(c.Params("id"))
	if err != nil {
		return respondError(c, err, "get research session")
	}
	return c.JSON(session)
}

func (h *ResearchHandler) List(c *fiber.Ctx) error {
	sessions, err := h.svc.List(c.Query("project_id"), pageSize(c))
	if err != nil {
		return respondError(c, err, "list research sessions")
	}
	return c.JSON(fiber.Map{"sessions": sessions})
}

func (h *ResearchHandler) Sources(c *fiber.Ctx) error {
	sources, err := h.svc.Sources(c.Params("id"))
	if err != nil {
		return respondError(c, err, "get sources")
	}
	return c.JSON(fiber.Map{"sources": sources})
}

func (h *ResearchHandler) Facts(c *fiber.Ctx) error {
	facts, err := h.svc.Facts(c.Params("id"))
	if err != nil {
		return respondError(c, err, "get facts")
	}
	return c.JSON(fiber.Map{"facts": facts})
}

func (h *ResearchHandler) Graph(c *fiber.Ctx) error {
	nodes, err := h.svc.Graph(c.Params("id"))
	if err != nil {
		return respondError(c, err, "get knowledge graph")
	}
	return c.JSON(fiber.Map{"nodes": nodes})
}

func (h *ResearchHandler) Neighbors(c *fiber.Ctx) error {
	entity := c.Query("entity")
	if entity == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "entity is required",
		})
	}

	neighbors, err := h.svc.Neighbors(c.UserContext(), c.Params("id"), entity, c.QueryInt("limit", 0))
	if err != nil {
		return respondError(c, err, "get graph neighbors")
	}
	return c.JSON(fiber.Map{"entity": entity, "neighbors": neighbors})
}

func (h *ResearchHandler) Contradictions(c *fiber.Ctx) error {
	contradictions, err := h.svc.Contradictions(c.Params("id"))
	if err != nil {
		return respondError(c, err, "get contradictions")
	}
	return c.JSON(fiber.Map{"contradictions": contradictions})
}

func (h *ResearchHandler) FollowUps(c *fiber.Ctx) error {
	questions, err := h.svc.FollowUps(c.Params("id"))
	if err != nil {
		return respondError(c, err, "get follow-up questions")
	}
	return c.JSON(fiber.Map{"follow_ups": questions})
}

// Events pages through the event log; clients resume with the last id they
// saw as ?after=.
func (h *ResearchHandler) Events(c *fiber.Ctx) error {
	after, err := strconv.ParseInt(c.Query("after", "0"), 10, 64)
	if err != nil || after < 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "after must be a non-negative event id",
		})
	}

	evs, err := h.svc.Events(c.Params("id"), after, pageSize(c))
	if err != nil {
		return respondError(c, err, "get events")
	}
	return c.JSON(fiber.Map{"events": evs})
}

func (h *ResearchHandler) GenerateReport(c *fiber.Ctx) error {
	r, err := h.svc.GenerateReport(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err, "generate report")
	}
	return c.JSON(r)
}

func (h *ResearchHandler) GetReport(c *fiber.Ctx) error {
	r, err := h.svc.Report(c.Params("id"))
	if err != nil {
		return respondError(c, err, "get report")
	}
	return c.JSON(r)
}

func pageSize(c *fiber.Ctx) int {
	n := c.QueryInt("limit", defaultPageSize)
	if n <= 0 {
		return defaultPageSize
	}
	if n > maxPageSize {
		return maxPageSize
	}
	return n
}

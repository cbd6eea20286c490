package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

type Handlers struct {
	Research *ResearchHandler
	Stream   *StreamHandler
	Export   *ExportHandler
	System   *SystemHandler
}

// Register mounts every API route on api, normally the /api/v1 group.
func Register(api fiber.Router, h Handlers) {
	api.Get("/health", h.System.Health)
	api.Get("/ready", h.System.Ready)

	api.Post("/research/start", h.Research.Start)
	api.Get("/research", h.Research.List)

	r := api.Group("/research/:id")
	r.Get("/", h.Research.Get)
	r.Get("/stream", h.Stream.SSE)
	r.Get("/ws", h.Stream.Upgrade, websocket.New(h.Stream.WebSocket))
	r.Post("/deep-dive", h.Research.DeepDive)
	r.Get("/sources", h.Research.Sources)
	r.Get("/facts", h.Research.Facts)
	r.Get("/graph", h.Research.Graph)
	r.Get("/graph/neighbors", h.Research.Neighbors)
	r.Get("/contradictions", h.Research.Contradictions)
	r.Get("/follow-ups", h.Research.FollowUps)
	r.Get("/events", h.Research.Events)
	r.Post("/report", h.Research.GenerateReport)
	r.Get("/report", h.Research.GetReport)
	r.Get("/export/:format", h.Export.Export)
}

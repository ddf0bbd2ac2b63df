package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/nestfi/nestfi/internal/incubator"
)

// RegisterIncubatorRoutes wires the incubator lifecycle endpoints.
func RegisterIncubatorRoutes(r fiber.Router, h *incubator.Handler) {
	grp := r.Group("/incubator")
	grp.Post("/activate", h.Activate)
	grp.Post("/deactivate", h.Deactivate)
	grp.Post("/cards", h.CreateCard)
	grp.Get("/cards", h.ListCards)
	grp.Get("/cards/:cardId", h.GetCard)
	grp.Post("/claim/:cardId", h.Claim)
	grp.Get("/status", h.Status)
}

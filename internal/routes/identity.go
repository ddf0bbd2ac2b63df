package routes

import (
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/nestfi/nestfi/internal/identity"
	"github.com/nestfi/nestfi/internal/wallet"
)

// RegisterIdentityRoutes wires registration and auto-provisions a wallet for
// each new user.
func RegisterIdentityRoutes(r fiber.Router, ids *identity.Service, wallets *wallet.Service, logger *slog.Logger) {
	r.Post("/users", func(c *fiber.Ctx) error {
		var req struct {
			Email string `json:"email"`
		}
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		user, err := ids.Register(c.UserContext(), req.Email)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		var walletID string
		if wallets != nil {
			w, err := wallets.Provision(c.UserContext(), user.ID)
			if err != nil {
				logger.Error("provision wallet", "user_id", user.ID, "error", err)
			} else {
				walletID = w.ID
			}
		}
		logger.Info("user registered",
			slog.String("user_id", user.ID),
			slog.String("tier", string(user.Tier)),
			slog.String("wallet_id", walletID),
		)
		return c.Status(http.StatusCreated).JSON(fiber.Map{
			"user_id":   user.ID,
			"email":     user.Email,
			"tier":      user.Tier,
			"wallet_id": walletID,
		})
	})
}

// RegisterProfileRoute exposes the authenticated user's profile.
func RegisterProfileRoute(r fiber.Router, ids *identity.Service) {
	r.Get("/me", func(c *fiber.Ctx) error {
		uid, _ := c.Locals("user_id").(string)
		user, err := ids.Get(c.UserContext(), uid)
		if err != nil {
			return fiber.NewError(http.StatusNotFound, "user not found")
		}
		return c.JSON(fiber.Map{
			"user_id":    user.ID,
			"email":      user.Email,
			"tier":       user.Tier,
			"created_at": user.CreatedAt,
		})
	})
}

package routes

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/nestfi/nestfi/internal/wallet"
)

// RegisterWalletRoutes wires the balance read endpoint.
func RegisterWalletRoutes(r fiber.Router, wallets *wallet.Service) {
	r.Get("/wallet", func(c *fiber.Ctx) error {
		uid, _ := c.Locals("user_id").(string)
		w, err := wallets.Get(c.UserContext(), uid)
		if err != nil {
			if errors.Is(err, wallet.ErrWalletNotFound) {
				return fiber.NewError(http.StatusNotFound, err.Error())
			}
			return fiber.NewError(http.StatusInternalServerError, err.Error())
		}
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"wallet_id":          w.ID,
			"reward_balance":     w.RewardBalance,
			"settlement_balance": w.SettlementBalance,
			"incubator_accrued":  w.IncubatorAccrued,
			"session": fiber.Map{
				"active":     w.Session.Active,
				"expires_at": w.Session.ExpiresAt,
			},
		})
	})
}

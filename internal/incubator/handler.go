package incubator

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/nestfi/nestfi/internal/identity"
	"github.com/nestfi/nestfi/internal/wallet"
)

// Handler exposes incubator endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs an incubator handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createCardRequest struct {
	RewardAmount float64 `json:"reward_amount"`
}

type cardResponse struct {
	ID              string     `json:"id"`
	Tier            string     `json:"tier"`
	RewardAmount    float64    `json:"reward_amount"`
	SettlementWorth float64    `json:"settlement_worth"`
	TotalDurationMs int64      `json:"total_duration_ms"`
	RemainingTimeMs int64      `json:"remaining_time_ms"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	EndsAt          *time.Time `json:"ends_at,omitempty"`
	Status          string     `json:"status"`
}

func toCardResponse(c Card) cardResponse {
	return cardResponse{
		ID:              c.ID,
		Tier:            string(c.Tier),
		RewardAmount:    c.RewardAmount,
		SettlementWorth: c.SettlementWorth,
		TotalDurationMs: c.TotalDuration.Milliseconds(),
		RemainingTimeMs: c.RemainingTime.Milliseconds(),
		StartedAt:       c.StartedAt,
		EndsAt:          c.EndsAt,
		Status:          string(c.Status),
	}
}

// CreateCard commits reward tokens into a new card.
func (h *Handler) CreateCard(c *fiber.Ctx) error {
	var req createCardRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	uid, _ := c.Locals("user_id").(string)

	card, err := h.service.CreateCard(c.UserContext(), uid, req.RewardAmount)
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"card": toCardResponse(card)})
}

// Activate opens the user's activation session.
func (h *Handler) Activate(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)

	session, err := h.service.ActivateSession(c.UserContext(), uid)
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"active": session.Active, "expires_at": session.ExpiresAt})
}

// Deactivate closes the user's activation session early.
func (h *Handler) Deactivate(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)

	if err := h.service.DeactivateSession(c.UserContext(), uid); err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"active": false})
}

// Claim pays out a matured card.
func (h *Handler) Claim(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	cardID := c.Params("cardId")

	res, err := h.service.ClaimCard(c.UserContext(), uid, cardID)
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"settlement_credited": res.SettlementCredited,
		"reward_credited":     res.RewardCredited,
	})
}

// ListCards returns the user's cards with projected remaining time.
func (h *Handler) ListCards(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)

	cards, err := h.service.ListCards(c.UserContext(), uid)
	if err != nil {
		return mapError(err)
	}
	out := make([]cardResponse, 0, len(cards))
	for _, card := range cards {
		out = append(out, toCardResponse(card))
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"cards": out})
}

// GetCard returns a single card with projected remaining time.
func (h *Handler) GetCard(c *fiber.Ctx) error {
	card, err := h.service.GetCard(c.UserContext(), c.Params("cardId"))
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"card": toCardResponse(card)})
}

// Status reports the session and card portfolio.
func (h *Handler) Status(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)

	report, err := h.service.SessionStatus(c.UserContext(), uid)
	if err != nil {
		return mapError(err)
	}
	cards := make([]cardResponse, 0, len(report.Cards))
	for _, card := range report.Cards {
		cards = append(cards, toCardResponse(card))
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"session": fiber.Map{"active": report.Session.Active, "expires_at": report.Session.ExpiresAt},
		"cards":   cards,
	})
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrCardNotFound),
		errors.Is(err, wallet.ErrWalletNotFound),
		errors.Is(err, identity.ErrUserNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidAmount):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrSessionActive),
		errors.Is(err, ErrSessionInactive),
		errors.Is(err, ErrNotClaimable):
		return fiber.NewError(http.StatusConflict, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}

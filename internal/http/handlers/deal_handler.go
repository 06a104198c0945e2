package handlers

import (
	"errors"
	"strconv"

	"github.com/ads-marketplace/deposit-tracker/internal/http/dto"
	"github.com/ads-marketplace/deposit-tracker/internal/middleware"
	"github.com/ads-marketplace/deposit-tracker/internal/models"
	"github.com/ads-marketplace/deposit-tracker/internal/repositories"
	"github.com/ads-marketplace/deposit-tracker/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type DealHandler struct {
	deposits *services.DepositService
	log      *zap.Logger
}

func NewDealHandler(deposits *services.DepositService, log *zap.Logger) *DealHandler {
	return &DealHandler{deposits: deposits, log: log}
}

func (h *DealHandler) GetDeal(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid deal id"})
	}

	deal, err := h.deposits.GetDeal(c.UserContext(), id, middleware.GetUserID(c))
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: deal})
}

func (h *DealHandler) ListDeals(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	filter := repositories.DealFilter{
		Limit:  20,
		Offset: 0,
	}

	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			filter.Offset = n
		}
	}
	if v := c.Query("status"); v != "" {
		if !models.IsDealStatus(v) {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "unknown deal status"})
		}
		filter.Status = &v
	}

	switch c.Query("role") {
	case "owner":
		filter.OwnerUserID = &userID
	default:
		filter.AdvertiserUserID = &userID
	}

	deals, err := h.deposits.ListDeals(c.UserContext(), filter)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: deals})
}

// GetDepositStatus answers with the bare deposit status object. Clients poll it.
func (h *DealHandler) GetDepositStatus(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid deal id"})
	}

	st, err := h.deposits.DepositStatus(c.UserContext(), id, middleware.GetUserID(c))
	if err != nil {
		return h.fail(c, err)
	}

	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.JSON(st)
}

// GetDepositHistory lists the deposit transitions recorded for the deal.
func (h *DealHandler) GetDepositHistory(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid deal id"})
	}

	history, err := h.deposits.DepositHistory(c.UserContext(), id, middleware.GetUserID(c), c.QueryInt("limit", 50))
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: history})
}

func (h *DealHandler) fail(c *fiber.Ctx, err error) error {
	reqID, _ := c.Locals(middleware.CtxRequestID).(string)
	switch {
	case errors.Is(err, services.ErrDealNotFound):
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "deal not found", RequestID: reqID})
	case errors.Is(err, services.ErrDepositNotFound):
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "deposit not found", RequestID: reqID})
	}
	h.log.Error("deal request failed",
		zap.String("request_id", reqID),
		zap.String("path", c.Path()),
		zap.Error(err),
	)
	return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error", RequestID: reqID})
}

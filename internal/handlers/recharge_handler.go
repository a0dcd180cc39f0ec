package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sandanbot/recharge/internal/auth"
	"github.com/sandanbot/recharge/internal/blob"
	"github.com/sandanbot/recharge/internal/services"
	"github.com/shopspring/decimal"
)

// RechargeHandler обрабатывает заявки покупателей на пополнение баланса.
type RechargeHandler struct {
	rechargeService services.RechargeService
	blobs           blob.Store
}

// NewRechargeHandler создаёт новый экземпляр RechargeHandler.
func NewRechargeHandler(rechargeService services.RechargeService, blobs blob.Store) *RechargeHandler {
	return &RechargeHandler{
		rechargeService: rechargeService,
		blobs:           blobs,
	}
}

// Submit обрабатывает POST /api/recharges (multipart: amount + чек об оплате).
func (h *RechargeHandler) Submit(c echo.Context) error {
	userID, err := auth.GetUserIDFromContext(c)
	if err != nil {
		return err
	}

	amount, err := decimal.NewFromString(c.FormValue("amount"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid amount")
	}

	file, err := c.FormFile("proof")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "payment proof is required")
	}
	src, err := file.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot read payment proof")
	}
	defer src.Close()

	proofRef, err := h.blobs.Save(src, file.Filename)
	if err != nil {
		c.Logger().Errorf("failed to save proof: %v", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}

	req, err := h.rechargeService.Submit(c.Request().Context(), userID, amount, proofRef)
	if err != nil {
		if errors.Is(err, services.ErrInvalidAmount) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		c.Logger().Errorf("failed to submit recharge: %v", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}

	return c.JSON(http.StatusCreated, map[string]interface{}{
		"id":     req.ID,
		"status": string(req.Status),
	})
}

// List обрабатывает GET /api/recharges: заявки пользователя, ожидающие решения.
func (h *RechargeHandler) List(c echo.Context) error {
	userID, err := auth.GetUserIDFromContext(c)
	if err != nil {
		return err
	}

	recharges, err := h.rechargeService.ListByUser(c.Request().Context(), userID)
	if err != nil {
		c.Logger().Errorf("failed to list recharges: %v", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}

	if len(recharges) == 0 {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, recharges)
}

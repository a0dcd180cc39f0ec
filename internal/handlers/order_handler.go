package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/sandanbot/recharge/internal/auth"
	"github.com/sandanbot/recharge/internal/blob"
	"github.com/sandanbot/recharge/internal/models"
	"github.com/sandanbot/recharge/internal/services"
	"github.com/sandanbot/recharge/internal/storage"
)

// OrderHandler обрабатывает HTTP-запросы заказов покупателей.
type OrderHandler struct {
	orderService services.OrderService
	blobs        blob.Store
}

// NewOrderHandler создаёт новый экземпляр OrderHandler.
func NewOrderHandler(orderService services.OrderService, blobs blob.Store) *OrderHandler {
	return &OrderHandler{
		orderService: orderService,
		blobs:        blobs,
	}
}

// Submit обрабатывает POST /api/orders (multipart: поля заказа + чек об оплате).
func (h *OrderHandler) Submit(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	var req models.SubmitOrderRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request format")
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

	order, err := h.orderService.Submit(c.Request().Context(), user, &req, proofRef)
	if err != nil {
		var insufficient *storage.InsufficientFundsError
		switch {
		case errors.Is(err, services.ErrPackageUnknown):
			return echo.NewHTTPError(http.StatusBadRequest, "unknown package")
		case errors.Is(err, services.ErrDuplicateRemark):
			return echo.NewHTTPError(http.StatusConflict, "duplicate remark for today, pass allow_duplicate to override")
		case errors.Is(err, services.ErrNoCapacity):
			return echo.NewHTTPError(http.StatusServiceUnavailable, "no sellers available, try again later")
		case errors.As(err, &insufficient):
			return c.JSON(http.StatusPaymentRequired, map[string]interface{}{
				"error":     "insufficient funds",
				"shortfall": insufficient.Shortfall.StringFixed(2),
			})
		}
		c.Logger().Errorf("failed to submit order: %v", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}

	return c.JSON(http.StatusCreated, order.ToResponse())
}

// RedeemCode обрабатывает POST /api/orders/redeem.
func (h *OrderHandler) RedeemCode(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	var req models.RedeemCodeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request format")
	}

	order, err := h.orderService.RedeemCode(c.Request().Context(), user, &req)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrCodeNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "activation code not found")
		case errors.Is(err, storage.ErrCodeUsed):
			return echo.NewHTTPError(http.StatusConflict, "activation code already used")
		case errors.Is(err, services.ErrNoCapacity):
			return echo.NewHTTPError(http.StatusServiceUnavailable, "no sellers available, try again later")
		}
		c.Logger().Errorf("failed to redeem code: %v", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}

	return c.JSON(http.StatusCreated, order.ToResponse())
}

// List обрабатывает GET /api/orders.
func (h *OrderHandler) List(c echo.Context) error {
	userID, err := auth.GetUserIDFromContext(c)
	if err != nil {
		return err
	}

	orders, err := h.orderService.GetUserOrders(c.Request().Context(), userID)
	if err != nil {
		c.Logger().Errorf("failed to list orders: %v", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}

	if len(orders) == 0 {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, orders)
}

// Cancel обрабатывает POST /api/orders/:id/cancel.
func (h *OrderHandler) Cancel(c echo.Context) error {
	return h.orderAction(c, h.orderService.Cancel)
}

// Confirm обрабатывает POST /api/orders/:id/confirm.
func (h *OrderHandler) Confirm(c echo.Context) error {
	return h.orderAction(c, h.orderService.ConfirmReceipt)
}

// Dispute обрабатывает POST /api/orders/:id/dispute.
func (h *OrderHandler) Dispute(c echo.Context) error {
	return h.orderAction(c, h.orderService.Dispute)
}

// orderAction - общий каркас действий над заказом по id.
func (h *OrderHandler) orderAction(c echo.Context, action func(ctx context.Context, user *models.User, orderID int64) error) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid order id")
	}

	if err := action(c.Request().Context(), user, orderID); err != nil {
		switch {
		case errors.Is(err, storage.ErrOrderNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "order not found")
		case errors.Is(err, services.ErrNotOrderOwner):
			return echo.NewHTTPError(http.StatusForbidden, "not your order")
		case errors.Is(err, services.ErrWrongStatus):
			return echo.NewHTTPError(http.StatusConflict, "order is not in a status allowing this action")
		}
		c.Logger().Errorf("order action failed: %v", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}

	return c.NoContent(http.StatusOK)
}

// currentUser собирает пользователя из данных JWT в контексте.
func currentUser(c echo.Context) (*models.User, error) {
	userID, err := auth.GetUserIDFromContext(c)
	if err != nil {
		return nil, err
	}
	username, err := auth.GetUsernameFromContext(c)
	if err != nil {
		return nil, err
	}
	role, _ := c.Get(string(auth.RoleKey)).(string)
	return &models.User{ID: userID, Username: username, Role: role}, nil
}

package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/sandanbot/recharge/internal/auth"
	"github.com/sandanbot/recharge/internal/models"
	"github.com/sandanbot/recharge/internal/queue"
	"github.com/sandanbot/recharge/internal/registry"
	"github.com/sandanbot/recharge/internal/services"
	"github.com/sandanbot/recharge/internal/storage"
	"github.com/shopspring/decimal"
)

const maxCodesPerBatch = 500

// AdminHandler обрабатывает административные запросы: управление продавцами,
// тарифами, кодами активации, индивидуальными ценами и заявками на пополнение.
type AdminHandler struct {
	sellerStorage   storage.SellerStorage
	userStorage     storage.UserStorage
	orderStorage    storage.OrderStorage
	codeStorage     storage.CodeStorage
	packageStorage  storage.PackageStorage
	rechargeService services.RechargeService
	registry        *registry.Registry
	channel         queue.Channel
}

// NewAdminHandler создаёт новый экземпляр AdminHandler.
func NewAdminHandler(
	sellerStorage storage.SellerStorage,
	userStorage storage.UserStorage,
	orderStorage storage.OrderStorage,
	codeStorage storage.CodeStorage,
	packageStorage storage.PackageStorage,
	rechargeService services.RechargeService,
	reg *registry.Registry,
	channel queue.Channel,
) *AdminHandler {
	return &AdminHandler{
		sellerStorage:   sellerStorage,
		userStorage:     userStorage,
		orderStorage:    orderStorage,
		codeStorage:     codeStorage,
		packageStorage:  packageStorage,
		rechargeService: rechargeService,
		registry:        reg,
		channel:         channel,
	}
}

// AddSellerRequest - запрос на добавление продавца.
type AddSellerRequest struct {
	TelegramID        int64  `json:"telegram_id"`
	Nickname          string `json:"nickname"`
	IsAdmin           bool   `json:"is_admin"`
	DistributionLevel int    `json:"distribution_level"`
}

// AddSeller обрабатывает POST /api/admin/sellers.
func (h *AdminHandler) AddSeller(c echo.Context) error {
	var req AddSellerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request format")
	}
	if req.TelegramID <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "telegram_id is required")
	}

	addedBy, _ := auth.GetUsernameFromContext(c)
	seller := &models.Seller{
		TelegramID:                req.TelegramID,
		Nickname:                  req.Nickname,
		IsActive:                  true,
		ParticipateInDistribution: true,
		IsAdmin:                   req.IsAdmin,
		DistributionLevel:         req.DistributionLevel,
		MaxConcurrentOrders:       models.DefaultMaxConcurrentOrders,
		AddedBy:                   addedBy,
	}
	if err := h.sellerStorage.Add(c.Request().Context(), seller); err != nil {
		if errors.Is(err, storage.ErrSellerExists) {
			return echo.NewHTTPError(http.StatusConflict, "seller already registered")
		}
		c.Logger().Errorf("failed to add seller: %v", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
	return c.JSON(http.StatusCreated, h.sellerResponse(c, seller))
}

// RemoveSeller обрабатывает DELETE /api/admin/sellers/:id.
func (h *AdminHandler) RemoveSeller(c echo.Context) error {
	id, err := sellerIDParam(c)
	if err != nil {
		return err
	}
	if err := h.sellerStorage.Remove(c.Request().Context(), id); err != nil {
		if errors.Is(err, storage.ErrSellerNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "seller not found")
		}
		c.Logger().Errorf("failed to remove seller: %v", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
	return c.NoContent(http.StatusNoContent)
}

// ListSellers обрабатывает GET /api/admin/sellers: реестр с текущей загрузкой.
func (h *AdminHandler) ListSellers(c echo.Context) error {
	sellers, err := h.sellerStorage.List(c.Request().Context())
	if err != nil {
		c.Logger().Errorf("failed to list sellers: %v", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}

	resp := make([]*models.SellerResponse, 0, len(sellers))
	for _, s := range sellers {
		resp = append(resp, h.sellerResponse(c, s))
	}
	return c.JSON(http.StatusOK, resp)
}

// ToggleSeller обрабатывает POST /api/admin/sellers/:id/toggle.
func (h *AdminHandler) ToggleSeller(c echo.Context) error {
	id, err := sellerIDParam(c)
	if err != nil {
		return err
	}
	return h.sellerUpdate(c, h.sellerStorage.ToggleActive(c.Request().Context(), id), id)
}

// SetParticipation обрабатывает PUT /api/admin/sellers/:id/participation.
func (h *AdminHandler) SetParticipation(c echo.Context) error {
	id, err := sellerIDParam(c)
	if err != nil {
		return err
	}
	var req struct {
		Participate bool `json:"participate"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request format")
	}
	return h.sellerUpdate(c, h.sellerStorage.SetParticipation(c.Request().Context(), id, req.Participate), id)
}

// SetDistributionLevel обрабатывает PUT /api/admin/sellers/:id/level.
func (h *AdminHandler) SetDistributionLevel(c echo.Context) error {
	id, err := sellerIDParam(c)
	if err != nil {
		return err
	}
	var req struct {
		Level int `json:"level"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request format")
	}
	if req.Level < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "level must be non-negative")
	}
	return h.sellerUpdate(c, h.sellerStorage.SetDistributionLevel(c.Request().Context(), id, req.Level), id)
}

// SetMaxConcurrent обрабатывает PUT /api/admin/sellers/:id/capacity.
func (h *AdminHandler) SetMaxConcurrent(c echo.Context) error {
	id, err := sellerIDParam(c)
	if err != nil {
		return err
	}
	var req struct {
		MaxConcurrent int `json:"max_concurrent"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request format")
	}
	if req.MaxConcurrent < 1 {
		return echo.NewHTTPError(http.StatusBadRequest, "max_concurrent must be positive")
	}
	return h.sellerUpdate(c, h.sellerStorage.SetMaxConcurrent(c.Request().Context(), id, req.MaxConcurrent), id)
}

// PingSeller обрабатывает POST /api/admin/sellers/:id/ping: отправляет
// продавцу проверку активности через очередь уведомлений.
func (h *AdminHandler) PingSeller(c echo.Context) error {
	id, err := sellerIDParam(c)
	if err != nil {
		return err
	}
	if _, err := h.sellerStorage.Get(c.Request().Context(), id); err != nil {
		if errors.Is(err, storage.ErrSellerNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "seller not found")
		}
		c.Logger().Errorf("failed to get seller: %v", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}

	msg := queue.Message{Type: queue.TypeActivityCheck, SellerID: id}
	if err := h.channel.Publish(c.Request().Context(), msg); err != nil {
		c.Logger().Errorf("failed to publish activity check: %v", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
	return c.NoContent(http.StatusAccepted)
}

// RecentOrders обрабатывает GET /api/admin/orders?limit=N.
func (h *AdminHandler) RecentOrders(c echo.Context) error {
	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		limit = n
	}

	orders, err := h.orderStorage.ListRecent(c.Request().Context(), limit)
	if err != nil {
		c.Logger().Errorf("failed to list recent orders: %v", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}

	resp := make([]*models.OrderResponse, 0, len(orders))
	for _, o := range orders {
		resp = append(resp, o.ToResponse())
	}
	return c.JSON(http.StatusOK, resp)
}

// UpsertPackage обрабатывает PUT /api/admin/packages.
func (h *AdminHandler) UpsertPackage(c echo.Context) error {
	var req struct {
		Code    string  `json:"code"`
		Title   string  `json:"title"`
		Price   float64 `json:"price"`
		Enabled bool    `json:"enabled"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request format")
	}
	if req.Code == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "package code is required")
	}
	if req.Price < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "price must be non-negative")
	}

	pkg := &models.Package{
		Code:    req.Code,
		Title:   req.Title,
		Price:   decimal.NewFromFloat(req.Price),
		Enabled: req.Enabled,
	}
	if err := h.packageStorage.Upsert(c.Request().Context(), pkg); err != nil {
		c.Logger().Errorf("failed to upsert package: %v", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
	return c.NoContent(http.StatusOK)
}

// SetCustomPrice обрабатывает PUT /api/admin/users/:id/price.
func (h *AdminHandler) SetCustomPrice(c echo.Context) error {
	userID, err := userIDParam(c)
	if err != nil {
		return err
	}
	var req struct {
		Package string  `json:"package"`
		Price   float64 `json:"price"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request format")
	}
	if req.Package == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "package code is required")
	}
	if req.Price < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "price must be non-negative")
	}

	ctx := c.Request().Context()
	if _, err := h.packageStorage.GetByCode(ctx, req.Package); err != nil {
		if errors.Is(err, storage.ErrPackageNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "package not found")
		}
		c.Logger().Errorf("failed to get package: %v", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
	if err := h.userStorage.SetCustomPrice(ctx, userID, req.Package, decimal.NewFromFloat(req.Price)); err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "user not found")
		}
		c.Logger().Errorf("failed to set custom price: %v", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
	return c.NoContent(http.StatusOK)
}

// SetCreditLimit обрабатывает PUT /api/admin/users/:id/credit.
func (h *AdminHandler) SetCreditLimit(c echo.Context) error {
	userID, err := userIDParam(c)
	if err != nil {
		return err
	}
	var req struct {
		Limit float64 `json:"limit"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request format")
	}
	if req.Limit < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "limit must be non-negative")
	}

	if err := h.userStorage.SetCreditLimit(c.Request().Context(), userID, decimal.NewFromFloat(req.Limit)); err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "user not found")
		}
		c.Logger().Errorf("failed to set credit limit: %v", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
	return c.NoContent(http.StatusOK)
}

// GenerateCodes обрабатывает POST /api/admin/codes: создаёт партию
// одноразовых кодов активации для указанного тарифа.
func (h *AdminHandler) GenerateCodes(c echo.Context) error {
	var req struct {
		Package string `json:"package"`
		Count   int    `json:"count"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request format")
	}
	if req.Count < 1 || req.Count > maxCodesPerBatch {
		return echo.NewHTTPError(http.StatusBadRequest, "count must be between 1 and 500")
	}

	ctx := c.Request().Context()
	if _, err := h.packageStorage.GetByCode(ctx, req.Package); err != nil {
		if errors.Is(err, storage.ErrPackageNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "package not found")
		}
		c.Logger().Errorf("failed to get package: %v", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}

	codes := make([]*models.ActivationCode, 0, req.Count)
	for i := 0; i < req.Count; i++ {
		codes = append(codes, &models.ActivationCode{
			Code:    newActivationCode(),
			Package: req.Package,
		})
	}
	if err := h.codeStorage.CreateBatch(ctx, codes); err != nil {
		c.Logger().Errorf("failed to create codes: %v", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}

	values := make([]string, 0, len(codes))
	for _, code := range codes {
		values = append(values, code.Code)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"package": req.Package,
		"codes":   values,
	})
}

// ListCodes обрабатывает GET /api/admin/codes?unused=true.
func (h *AdminHandler) ListCodes(c echo.Context) error {
	onlyUnused := c.QueryParam("unused") == "true"
	codes, err := h.codeStorage.List(c.Request().Context(), onlyUnused)
	if err != nil {
		c.Logger().Errorf("failed to list codes: %v", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
	return c.JSON(http.StatusOK, codes)
}

// ListRecharges обрабатывает GET /api/admin/recharges: заявки на проверке.
func (h *AdminHandler) ListRecharges(c echo.Context) error {
	recharges, err := h.rechargeService.ListPending(c.Request().Context())
	if err != nil {
		c.Logger().Errorf("failed to list recharges: %v", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
	return c.JSON(http.StatusOK, recharges)
}

// ApproveRecharge обрабатывает POST /api/admin/recharges/:id/approve.
func (h *AdminHandler) ApproveRecharge(c echo.Context) error {
	return h.reviewRecharge(c, h.rechargeService.Approve)
}

// RejectRecharge обрабатывает POST /api/admin/recharges/:id/reject.
func (h *AdminHandler) RejectRecharge(c echo.Context) error {
	return h.reviewRecharge(c, h.rechargeService.Reject)
}

func (h *AdminHandler) reviewRecharge(c echo.Context, review func(ctx context.Context, id int64, reviewer string) error) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid recharge id")
	}
	reviewer, _ := auth.GetUsernameFromContext(c)

	if err := review(c.Request().Context(), id, reviewer); err != nil {
		switch {
		case errors.Is(err, services.ErrStaleRecharge):
			return echo.NewHTTPError(http.StatusConflict, "recharge request already reviewed")
		case errors.Is(err, storage.ErrRechargeNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "recharge request not found")
		default:
			c.Logger().Errorf("failed to review recharge: %v", err)
			return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
		}
	}
	return c.NoContent(http.StatusOK)
}

// sellerUpdate завершает мутацию продавца общим для всех операций образом.
func (h *AdminHandler) sellerUpdate(c echo.Context, updateErr error, id int64) error {
	if updateErr != nil {
		if errors.Is(updateErr, storage.ErrSellerNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "seller not found")
		}
		c.Logger().Errorf("failed to update seller %d: %v", id, updateErr)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}

	seller, err := h.sellerStorage.Get(c.Request().Context(), id)
	if err != nil {
		c.Logger().Errorf("failed to get seller %d: %v", id, err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
	return c.JSON(http.StatusOK, h.sellerResponse(c, seller))
}

func (h *AdminHandler) sellerResponse(c echo.Context, s *models.Seller) *models.SellerResponse {
	resp := &models.SellerResponse{
		TelegramID:                s.TelegramID,
		DisplayName:               s.DisplayName(),
		Username:                  s.Username,
		IsActive:                  s.IsActive,
		ParticipateInDistribution: s.ParticipateInDistribution,
		IsAdmin:                   s.IsAdmin,
		DistributionLevel:         s.DistributionLevel,
		MaxConcurrentOrders:       s.MaxConcurrentOrders,
	}
	if load, err := h.registry.CurrentLoad(c.Request().Context(), s.TelegramID); err == nil {
		resp.CurrentLoad = load
	}
	if s.LastActiveAt != nil {
		resp.LastActiveAt = s.LastActiveAt.Format(time.RFC3339)
	}
	return resp
}

func sellerIDParam(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid seller id")
	}
	return id, nil
}

func userIDParam(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid user id")
	}
	return id, nil
}

// newActivationCode генерирует код активации вида XXXX-XXXX-XXXX
// на основе случайного UUID.
func newActivationCode() string {
	raw := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))
	return raw[:4] + "-" + raw[4:8] + "-" + raw[8:12]
}

package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sandanbot/recharge/internal/models"
	"github.com/sandanbot/recharge/internal/storage"
)

// PackageHandler отдаёт каталог тарифов покупателям.
type PackageHandler struct {
	packageStorage storage.PackageStorage
}

// NewPackageHandler создаёт новый экземпляр PackageHandler.
func NewPackageHandler(packageStorage storage.PackageStorage) *PackageHandler {
	return &PackageHandler{packageStorage: packageStorage}
}

// List обрабатывает GET /api/packages: только включённые тарифы.
func (h *PackageHandler) List(c echo.Context) error {
	packages, err := h.packageStorage.List(c.Request().Context())
	if err != nil {
		c.Logger().Errorf("failed to list packages: %v", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}

	resp := make([]*models.PackageResponse, 0, len(packages))
	for _, p := range packages {
		if !p.Enabled {
			continue
		}
		price, _ := p.Price.Float64()
		resp = append(resp, &models.PackageResponse{
			Code:    p.Code,
			Title:   p.Title,
			Price:   price,
			Enabled: p.Enabled,
		})
	}
	return c.JSON(http.StatusOK, resp)
}

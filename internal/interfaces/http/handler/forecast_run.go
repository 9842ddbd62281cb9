package handler

import (
	forecastingapp "github.com/sop/backend/internal/application/forecasting"
	"github.com/sop/backend/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ForecastRunHandler handles forecast run audit API endpoints
type ForecastRunHandler struct {
	BaseHandler
	service *forecastingapp.ForecastRunService
}

// NewForecastRunHandler creates a new ForecastRunHandler
func NewForecastRunHandler(service *forecastingapp.ForecastRunService) *ForecastRunHandler {
	return &ForecastRunHandler{
		service: service,
	}
}

// RegisterRoutes registers forecast run routes on the given group
func (h *ForecastRunHandler) RegisterRoutes(rg *gin.RouterGroup) {
	runs := rg.Group("/runs")
	{
		runs.GET("", h.List)
		runs.GET("/:id", h.Get)
	}
}

// List returns forecast run audits, most recent first
func (h *ForecastRunHandler) List(c *gin.Context) {
	var filter forecastingapp.ForecastRunListFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		h.Error(c, dto.GetHTTPStatus(dto.ErrCodeInvalidInput), dto.ErrCodeInvalidInput, err.Error())
		return
	}

	runs, total, err := h.service.ListRuns(c.Request.Context(), filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	page := filter.Page
	if page <= 0 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	h.SuccessWithMeta(c, runs, total, page, pageSize)
}

// Get returns one forecast run audit with its prediction points
func (h *ForecastRunHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid forecast run ID")
		return
	}

	run, err := h.service.GetRun(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, run)
}

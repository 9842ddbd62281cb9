package handler

import (
	forecastingapp "github.com/sop/backend/internal/application/forecasting"
	"github.com/sop/backend/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ForecastConsensusHandler handles consensus forecast API endpoints
type ForecastConsensusHandler struct {
	BaseHandler
	service *forecastingapp.ConsensusService
}

// NewForecastConsensusHandler creates a new ForecastConsensusHandler
func NewForecastConsensusHandler(service *forecastingapp.ConsensusService) *ForecastConsensusHandler {
	return &ForecastConsensusHandler{
		service: service,
	}
}

// RegisterRoutes registers consensus routes on the given group
func (h *ForecastConsensusHandler) RegisterRoutes(rg *gin.RouterGroup) {
	consensus := rg.Group("/consensus")
	{
		consensus.GET("", h.List)
		consensus.POST("", h.Create)
		consensus.GET("/:id", h.Get)
		consensus.PATCH("/:id", h.Update)
		consensus.POST("/:id/approve", h.Approve)
		consensus.GET("/:id/variance", h.Variance)
	}
}

// List returns consensus records matching the query filters, ordered by
// period then version unless overridden
func (h *ForecastConsensusHandler) List(c *gin.Context) {
	var filter forecastingapp.ConsensusListFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		h.Error(c, dto.GetHTTPStatus(dto.ErrCodeInvalidInput), dto.ErrCodeInvalidInput, err.Error())
		return
	}

	records, total, err := h.service.ListConsensus(c.Request.Context(), filter)
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
	h.SuccessWithMeta(c, records, total, page, pageSize)
}

// Get returns a single consensus record by ID
func (h *ForecastConsensusHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid consensus ID")
		return
	}

	record, err := h.service.GetConsensus(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, record)
}

// Create records a new consensus version for a product and period
func (h *ForecastConsensusHandler) Create(c *gin.Context) {
	var req forecastingapp.CreateConsensusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Error(c, dto.GetHTTPStatus(dto.ErrCodeInvalidInput), dto.ErrCodeInvalidInput, err.Error())
		return
	}
	req.CreatedBy = getActorID(c)

	record, err := h.service.CreateConsensus(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Created(c, record)
}

// Update applies a partial edit to a draft or proposed consensus record
func (h *ForecastConsensusHandler) Update(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid consensus ID")
		return
	}

	var req forecastingapp.UpdateConsensusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Error(c, dto.GetHTTPStatus(dto.ErrCodeInvalidInput), dto.ErrCodeInvalidInput, err.Error())
		return
	}

	record, err := h.service.UpdateConsensus(c.Request.Context(), id, req)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, record)
}

// Approve locks a consensus record; any later edit attempt is rejected
func (h *ForecastConsensusHandler) Approve(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid consensus ID")
		return
	}

	var req forecastingapp.ApproveConsensusRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.Error(c, dto.GetHTTPStatus(dto.ErrCodeInvalidInput), dto.ErrCodeInvalidInput, err.Error())
			return
		}
	}

	record, err := h.service.ApproveConsensus(c.Request.Context(), id, getActorID(c), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, record)
}

// Variance explains the gap between the consensus and its statistical
// prediction for the same product and period
func (h *ForecastConsensusHandler) Variance(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid consensus ID")
		return
	}

	explanation, err := h.service.ExplainVariance(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, explanation)
}

package handlers

import (
	"github.com/gin-gonic/gin"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/entity"
	"stockledger/internal/domain/reservation"
	"stockledger/internal/infrastructure/http/v1/dto"
)

// ReservationHandler handles HTTP requests for reservations.
type ReservationHandler struct {
	*BaseHandler
	service *reservation.Service
}

// NewReservationHandler creates a new reservation handler.
func NewReservationHandler(base *BaseHandler, service *reservation.Service) *ReservationHandler {
	return &ReservationHandler{
		BaseHandler: base,
		service:     service,
	}
}

// Reserve handles POST /reservations
func (h *ReservationHandler) Reserve(c *gin.Context) {
	var req dto.ReserveRequest
	if !h.BindJSON(c, &req) {
		return
	}
	reserve, err := req.ToDomain()
	if err != nil {
		h.Error(c, err)
		return
	}

	res, err := h.service.Reserve(c.Request.Context(), reserve)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, dto.FromReservation(res))
}

// Get handles GET /reservations/:id
func (h *ReservationHandler) Get(c *gin.Context) {
	reservationID, ok := h.ParseInt64Param(c, "id")
	if !ok {
		return
	}

	res, err := h.service.Get(c.Request.Context(), reservationID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromReservation(res))
}

// ListByDemand handles GET /reservations?demandType=&demandId=
func (h *ReservationHandler) ListByDemand(c *gin.Context) {
	demand := entity.DemandRef{Type: c.Query("demandType"), ID: c.Query("demandId")}
	if demand.Type == "" || demand.ID == "" {
		h.Error(c, apperror.NewValidation("demandType and demandId are required"))
		return
	}

	list, err := h.service.ListByDemand(c.Request.Context(), demand)
	if err != nil {
		h.Error(c, err)
		return
	}

	items := make([]dto.ReservationResponse, len(list))
	for i := range list {
		items[i] = dto.FromReservation(&list[i])
	}
	h.OK(c, dto.NewListResponse(items))
}

// Release handles POST /reservations/:id/release
func (h *ReservationHandler) Release(c *gin.Context) {
	reservationID, ok := h.ParseInt64Param(c, "id")
	if !ok {
		return
	}
	var req dto.ReleaseRequest
	if !h.BindJSON(c, &req) {
		return
	}

	res, err := h.service.Release(c.Request.Context(), reservationID, req.Quantity)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromReservation(res))
}

// Fulfill handles POST /reservations/:id/fulfill
func (h *ReservationHandler) Fulfill(c *gin.Context) {
	reservationID, ok := h.ParseInt64Param(c, "id")
	if !ok {
		return
	}
	var req dto.FulfillRequest
	if !h.BindJSON(c, &req) {
		return
	}

	result, err := h.service.Fulfill(c.Request.Context(), reservationID, req.Quantity, req.Source.ToDomain())
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromFulfillResult(result))
}

// Cancel handles POST /reservations/:id/cancel
func (h *ReservationHandler) Cancel(c *gin.Context) {
	reservationID, ok := h.ParseInt64Param(c, "id")
	if !ok {
		return
	}

	res, err := h.service.Cancel(c.Request.Context(), reservationID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromReservation(res))
}

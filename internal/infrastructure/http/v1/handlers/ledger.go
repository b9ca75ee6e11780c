package handlers

import (
	"github.com/gin-gonic/gin"

	"stockledger/internal/domain/ledger"
	"stockledger/internal/infrastructure/http/v1/dto"
)

// LedgerHandler handles HTTP requests for location ledgers and the transaction log.
type LedgerHandler struct {
	*BaseHandler
	service *ledger.Service
}

// NewLedgerHandler creates a new ledger handler.
func NewLedgerHandler(base *BaseHandler, service *ledger.Service) *LedgerHandler {
	return &LedgerHandler{
		BaseHandler: base,
		service:     service,
	}
}

// ApplyMovement handles POST /ledger/movements
func (h *LedgerHandler) ApplyMovement(c *gin.Context) {
	var req dto.ApplyMovementRequest
	if !h.BindJSON(c, &req) {
		return
	}
	movement, err := req.ToDomain()
	if err != nil {
		h.Error(c, err)
		return
	}

	entry, err := h.service.ApplyMovement(c.Request.Context(), movement)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, entry)
}

// ReverseMovement handles POST /ledger/entries/:id/reverse
func (h *LedgerHandler) ReverseMovement(c *gin.Context) {
	entryID, ok := h.ParseInt64Param(c, "id")
	if !ok {
		return
	}
	var req dto.ReverseMovementRequest
	if !h.BindJSON(c, &req) {
		return
	}

	entry, err := h.service.ReverseMovement(c.Request.Context(), entryID, req.Source.ToDomain())
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, entry)
}

// Transfer handles POST /ledger/transfers
func (h *LedgerHandler) Transfer(c *gin.Context) {
	var req dto.TransferRequest
	if !h.BindJSON(c, &req) {
		return
	}
	transfer, err := req.ToDomain()
	if err != nil {
		h.Error(c, err)
		return
	}

	result, err := h.service.Transfer(c.Request.Context(), transfer)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, dto.TransferResponse{Out: result.Out, In: result.In})
}

// AdjustInFlight handles POST /ledger/in-flight
func (h *LedgerHandler) AdjustInFlight(c *gin.Context) {
	var req dto.InFlightRequest
	if !h.BindJSON(c, &req) {
		return
	}
	adjust, err := req.ToDomain()
	if err != nil {
		h.Error(c, err)
		return
	}

	entry, err := h.service.AdjustInFlight(c.Request.Context(), adjust)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, entry)
}

// SetThresholds handles PUT /ledger/thresholds
func (h *LedgerHandler) SetThresholds(c *gin.Context) {
	var req dto.ThresholdsRequest
	if !h.BindJSON(c, &req) {
		return
	}
	thresholds, err := req.ToDomain()
	if err != nil {
		h.Error(c, err)
		return
	}

	l, err := h.service.SetThresholds(c.Request.Context(), thresholds)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromLedger(*l))
}

// GetAggregate handles GET /ledger/products/:productId/aggregate
func (h *LedgerHandler) GetAggregate(c *gin.Context) {
	productID, err := dto.ParseID("productId", c.Param("productId"))
	if err != nil {
		h.Error(c, err)
		return
	}

	agg, err := h.service.GetAggregate(c.Request.Context(), productID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, agg)
}

// ListLedgers handles GET /ledger/products/:productId/locations
func (h *LedgerHandler) ListLedgers(c *gin.Context) {
	productID, err := dto.ParseID("productId", c.Param("productId"))
	if err != nil {
		h.Error(c, err)
		return
	}

	ledgers, err := h.service.ListLedgers(c.Request.Context(), productID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NewListResponse(dto.FromLedgers(ledgers)))
}

// ListBelowMinimum handles GET /ledger/below-minimum
func (h *LedgerHandler) ListBelowMinimum(c *gin.Context) {
	warehouseID, err := dto.ParseOptionalIDPtr("warehouseId", c.Query("warehouseId"))
	if err != nil {
		h.Error(c, err)
		return
	}

	ledgers, err := h.service.ListBelowMinimum(c.Request.Context(), warehouseID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NewListResponse(dto.FromLedgers(ledgers)))
}

// ListEntries handles GET /ledger/entries
func (h *LedgerHandler) ListEntries(c *gin.Context) {
	var req dto.EntryFilterRequest
	if !h.BindQuery(c, &req) {
		return
	}
	filter, err := req.ToDomain()
	if err != nil {
		h.Error(c, err)
		return
	}

	entries, err := h.service.ListEntries(c.Request.Context(), filter)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NewListResponse(entries))
}

package v1_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/internal/core/types"
	"stockledger/internal/domain/ledger"
	"stockledger/internal/domain/reservation"
	v1 "stockledger/internal/infrastructure/http/v1"
	"stockledger/internal/infrastructure/http/v1/dto"
	"stockledger/internal/infrastructure/storage/memory"
	"stockledger/pkg/logger"
)

type recordingObserver struct {
	mu     sync.Mutex
	routes []string
}

func (o *recordingObserver) ObserveHTTP(method, route string, status int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.routes = append(o.routes, fmt.Sprintf("%s %s %d", method, route, status))
}

func newRouter(t *testing.T) (*gin.Engine, *recordingObserver) {
	t.Helper()
	store := memory.New()
	ledgerSvc := ledger.NewService(ledger.ServiceConfig{
		Ledgers:   store.Ledgers(),
		Entries:   store.Entries(),
		TxManager: store,
		Events:    store,
	})
	reservationSvc := reservation.NewService(reservation.ServiceConfig{
		Reservations: store.Reservations(),
		Ledgers:      store.Ledgers(),
		Mover:        ledgerSvc,
		TxManager:    store,
		Events:       store,
	})
	obs := &recordingObserver{}
	router := v1.NewRouter(v1.RouterConfig{
		Ledger:       ledgerSvc,
		Reservations: reservationSvc,
		Metrics:      obs,
		Logger:       logger.NewNop(),
		Version:      "test",
	})
	return router, obs
}

func do(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Caller", "router-test")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestRouter_Health(t *testing.T) {
	router, _ := newRouter(t)

	w := do(t, router, http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, router, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, router, http.MethodGet, "/health/info", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"version":"test"`)
}

func TestRouter_LedgerAndReservationFlow(t *testing.T) {
	router, obs := newRouter(t)
	product, warehouse := id.New().String(), id.New().String()

	// Receive 10 at cost 5.
	w := do(t, router, http.MethodPost, "/api/v1/ledger/movements", map[string]any{
		"productId":   product,
		"warehouseId": warehouse,
		"quantity":    "10",
		"unitCost":    "5",
		"source":      map[string]string{"type": "goods_receipt", "id": "GR-1"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	receipt := decode[entity.TransactionEntry](t, w)
	assert.True(t, receipt.BalanceAfter.Equal(types.Qty(10)))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	// Shipping more than on hand fails.
	w = do(t, router, http.MethodPost, "/api/v1/ledger/movements", map[string]any{
		"productId":   product,
		"warehouseId": warehouse,
		"quantity":    "-15",
		"source":      map[string]string{"type": "shipment", "id": "SHIP-X"},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, apperror.CodeInsufficientStock, decode[dto.ErrorResponse](t, w).Code)

	// Reserve 4.
	w = do(t, router, http.MethodPost, "/api/v1/reservations", map[string]any{
		"productId": product,
		"demand":    map[string]string{"type": "sales_order_line", "id": "SO-1/1"},
		"quantity":  "4",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	res := decode[dto.ReservationResponse](t, w)
	require.NotNil(t, res.Reservation)
	assert.Equal(t, entity.ReservationReserved, res.Status)
	assert.True(t, res.RemainingQty.Equal(types.Qty(4)))

	w = do(t, router, http.MethodGet, "/api/v1/ledger/products/"+product+"/aggregate", nil)
	require.Equal(t, http.StatusOK, w.Code)
	agg := decode[entity.StockAggregate](t, w)
	assert.True(t, agg.TotalCurrent.Equal(types.Qty(10)))
	assert.True(t, agg.TotalReserved.Equal(types.Qty(4)))
	assert.True(t, agg.TotalAvailable.Equal(types.Qty(6)))

	resPath := fmt.Sprintf("/api/v1/reservations/%d", res.ID)

	w = do(t, router, http.MethodPost, resPath+"/release", map[string]string{"quantity": "1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, entity.ReservationPartiallyReleased, decode[dto.ReservationResponse](t, w).Status)

	w = do(t, router, http.MethodPost, resPath+"/release", map[string]string{"quantity": "5"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, apperror.CodeOverRelease, decode[dto.ErrorResponse](t, w).Code)

	w = do(t, router, http.MethodPost, resPath+"/fulfill", map[string]any{
		"quantity": "3",
		"source":   map[string]string{"type": "shipment", "id": "SHIP-1"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	fulfilled := decode[dto.FulfillResponse](t, w)
	assert.Equal(t, entity.ReservationReleased, fulfilled.Reservation.Status)
	require.Len(t, fulfilled.Entries, 1)
	assert.True(t, fulfilled.Entries[0].Quantity.Equal(types.Qty(-3)))

	w = do(t, router, http.MethodGet, "/api/v1/ledger/entries?productId="+product, nil)
	require.Equal(t, http.StatusOK, w.Code)
	entries := decode[dto.ListResponse[entity.TransactionEntry]](t, w)
	assert.Equal(t, 2, entries.Count)

	w = do(t, router, http.MethodGet, "/api/v1/reservations?demandType=sales_order_line&demandId=SO-1/1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[dto.ListResponse[dto.ReservationResponse]](t, w).Count)

	w = do(t, router, http.MethodGet, "/api/v1/ledger/products/"+product+"/locations", nil)
	require.Equal(t, http.StatusOK, w.Code)
	locations := decode[dto.ListResponse[dto.LedgerResponse]](t, w)
	require.Len(t, locations.Items, 1)
	assert.True(t, locations.Items[0].CurrentQty.Equal(types.Qty(7)))
	assert.True(t, locations.Items[0].AvailableQty.Equal(types.Qty(7)))

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Contains(t, obs.routes, "POST /api/v1/reservations/:id/release 200")
	assert.Contains(t, obs.routes, "POST /api/v1/ledger/movements 422")
}

func TestRouter_Errors(t *testing.T) {
	router, _ := newRouter(t)

	w := do(t, router, http.MethodGet, "/api/v1/reservations/999", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, apperror.CodeReservationNotFound, decode[dto.ErrorResponse](t, w).Code)

	w = do(t, router, http.MethodGet, "/api/v1/reservations/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, http.MethodPost, "/api/v1/ledger/movements", "{not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apperror.CodeValidation, decode[dto.ErrorResponse](t, w).Code)

	w = do(t, router, http.MethodGet, "/api/v1/ledger/products/not-a-uuid/aggregate", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, http.MethodPost, "/api/v1/ledger/entries/42/reverse", map[string]any{
		"source": map[string]string{"type": "manual_adjustment", "id": "ADJ-1"},
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, apperror.CodeEntryNotFound, decode[dto.ErrorResponse](t, w).Code)

	w = do(t, router, http.MethodGet, "/api/v1/reservations", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "demandType"))
}

func TestRouter_Thresholds(t *testing.T) {
	router, _ := newRouter(t)
	product, warehouse := id.New().String(), id.New().String()

	w := do(t, router, http.MethodPost, "/api/v1/ledger/movements", map[string]any{
		"productId":   product,
		"warehouseId": warehouse,
		"quantity":    "3",
		"source":      map[string]string{"type": "opening_balance", "id": "OB-1"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, router, http.MethodPut, "/api/v1/ledger/thresholds", map[string]any{
		"productId":     product,
		"warehouseId":   warehouse,
		"minStockLevel": "5",
		"maxStockLevel": "50",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, decode[dto.LedgerResponse](t, w).BelowMinimum)

	w = do(t, router, http.MethodGet, "/api/v1/ledger/below-minimum?warehouseId="+warehouse, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[dto.ListResponse[dto.LedgerResponse]](t, w).Count)
}

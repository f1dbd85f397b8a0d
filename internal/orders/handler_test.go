package orders

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"papertrade/internal/settlement"
	"papertrade/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSettler struct {
	got    settlement.Order
	userID string
	res    settlement.Result
}

func (s *stubSettler) SettleOrder(_ context.Context, order settlement.Order, userID string) settlement.Result {
	s.got = order
	s.userID = userID
	return s.res
}

func TestPlace(t *testing.T) {
	cases := []struct {
		name       string
		body       string
		code       settlement.Code
		wantStatus int
		wantType   types.OrderType
	}{
		{"market buy", `{"symbol":"aapl","side":"BUY","shares":"3"}`, settlement.CodeOK, http.StatusOK, types.OrderTypeMarket},
		{"explicit limit", `{"symbol":"aapl","side":"sell","type":"Limit","shares":"1"}`, settlement.CodeInvalidOrder, http.StatusBadRequest, types.OrderTypeLimit},
		{"no funds", `{"symbol":"aapl","side":"buy","shares":"1"}`, settlement.CodeInsufficientFunds, http.StatusUnprocessableEntity, types.OrderTypeMarket},
		{"no quote", `{"symbol":"aapl","side":"buy","shares":"1"}`, settlement.CodeQuoteUnavailable, http.StatusServiceUnavailable, types.OrderTypeMarket},
		{"store down", `{"symbol":"aapl","side":"buy","shares":"1"}`, settlement.CodePersistence, http.StatusInternalServerError, types.OrderTypeMarket},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stub := &stubSettler{res: settlement.Result{Success: tc.code == settlement.CodeOK, Code: tc.code}}
			h := NewHandler(stub)
			rec := httptest.NewRecorder()
			h.Place(rec, httptest.NewRequest(http.MethodPost, "/v1/orders", strings.NewReader(tc.body)), "u-1")

			assert.Equal(t, tc.wantStatus, rec.Code)
			assert.Equal(t, "u-1", stub.userID)
			assert.Equal(t, tc.wantType, stub.got.OrderType)
			var res settlement.Result
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
			assert.Equal(t, tc.code, res.Code)
		})
	}
}

func TestPlaceRejectsBadShares(t *testing.T) {
	stub := &stubSettler{}
	h := NewHandler(stub)
	rec := httptest.NewRecorder()
	h.Place(rec, httptest.NewRequest(http.MethodPost, "/v1/orders", strings.NewReader(`{"symbol":"aapl","side":"buy","shares":"lots"}`)), "u-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, stub.userID)
}

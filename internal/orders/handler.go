package orders

import (
	"context"
	"net/http"
	"strings"

	"papertrade/internal/httputil"
	"papertrade/internal/settlement"
	"papertrade/internal/types"

	"github.com/shopspring/decimal"
)

type Settler interface {
	SettleOrder(ctx context.Context, order settlement.Order, userID string) settlement.Result
}

type Handler struct {
	svc Settler
}

func NewHandler(svc Settler) *Handler {
	return &Handler{svc: svc}
}

type placeOrderRequest struct {
	Symbol string `json:"symbol"`
	Side   string `json:"side"`
	Type   string `json:"type"`
	Shares string `json:"shares"`
	Notes  string `json:"notes"`
}

func (h *Handler) Place(w http.ResponseWriter, r *http.Request, userID string) {
	var req placeOrderRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	shares, err := decimal.NewFromString(strings.TrimSpace(req.Shares))
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid shares", Code: string(settlement.CodeInvalidOrder)})
		return
	}
	orderType := types.OrderType(strings.ToLower(strings.TrimSpace(req.Type)))
	if orderType == "" {
		orderType = types.OrderTypeMarket
	}
	res := h.svc.SettleOrder(r.Context(), settlement.Order{
		Symbol:    req.Symbol,
		Side:      types.OrderSide(strings.ToLower(strings.TrimSpace(req.Side))),
		OrderType: orderType,
		Shares:    shares,
		Notes:     req.Notes,
	}, userID)
	httputil.WriteJSON(w, statusFor(res.Code), res)
}

func statusFor(code settlement.Code) int {
	switch code {
	case settlement.CodeOK:
		return http.StatusOK
	case settlement.CodeInvalidOrder:
		return http.StatusBadRequest
	case settlement.CodeInsufficientFunds:
		return http.StatusUnprocessableEntity
	case settlement.CodeQuoteUnavailable:
		return http.StatusServiceUnavailable
	case settlement.CodeUserNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

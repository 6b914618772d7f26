package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"portfolio-systemv1/internal/ledger"
	"portfolio-systemv1/internal/model"
)

// BuyRequest is the POST /api/positions/buy payload.
type BuyRequest struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	Qty    int64   `json:"qty"`
}

// SellRequest is the POST /api/positions/sell payload.
type SellRequest struct {
	Symbol string `json:"symbol"`
	Qty    int64  `json:"qty"`
}

// SellResponse reports the post-sale position, or liquidated=true with no
// position when the sale exhausted the holding.
type SellResponse struct {
	Liquidated bool            `json:"liquidated"`
	Position   *model.Position `json:"position,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// writeJSON writes v as a JSON response.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// writeLedgerError maps ledger error kinds onto HTTP statuses:
// bad input 400, unknown symbol 404, overselling 409, store failure 502.
func writeLedgerError(w http.ResponseWriter, err error) {
	var (
		vErr *ledger.ValidationError
		nErr *ledger.NotFoundError
		iErr *ledger.InsufficientQuantityError
		sErr *ledger.StoreError
	)
	switch {
	case errors.As(err, &vErr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: vErr.Error(), Kind: "validation"})
	case errors.As(err, &nErr):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: nErr.Error(), Kind: "not_found"})
	case errors.As(err, &iErr):
		writeJSON(w, http.StatusConflict, errorResponse{Error: iErr.Error(), Kind: "insufficient_quantity"})
	case errors.As(err, &sErr):
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: sErr.Error(), Kind: "store"})
	default:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error(), Kind: "internal"})
	}
}

// errorKind labels a ledger error for metrics.
func errorKind(err error) string {
	var (
		vErr *ledger.ValidationError
		nErr *ledger.NotFoundError
		iErr *ledger.InsufficientQuantityError
		sErr *ledger.StoreError
	)
	switch {
	case errors.As(err, &vErr):
		return "validation"
	case errors.As(err, &nErr):
		return "not_found"
	case errors.As(err, &iErr):
		return "insufficient"
	case errors.As(err, &sErr):
		return "store"
	default:
		return "internal"
	}
}

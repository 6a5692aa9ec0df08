package httppresentation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	domcart "github.com/Zhima-Mochi/minishop-checkout/internal/domain/cart"
	domcoupon "github.com/Zhima-Mochi/minishop-checkout/internal/domain/coupon"
	dominv "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-checkout/internal/domain/outbox"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
)

const maxBodyBytes = 1 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type errorBody struct {
	Error     string `json:"error"`
	Field     string `json:"field,omitempty"`
	Available *int   `json:"available,omitempty"`
	Product   string `json:"product,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}

// writeDomainError maps use case errors to status codes. Anything unrecognised is a 500.
func writeDomainError(w http.ResponseWriter, err error) {
	status, body := classify(err)
	writeJSON(w, status, body)
}

func classify(err error) (int, errorBody) {
	body := errorBody{Error: err.Error()}

	var verr *application.ValidationError
	var short *dominv.InsufficientStockError
	var perr *dompay.ProviderError
	switch {
	case errors.As(err, &short):
		body.Available = &short.Available
		body.Product = short.ProductName
		return http.StatusBadRequest, body
	case errors.As(err, &perr):
		if perr.Retryable {
			body.Retryable = true
			return http.StatusBadGateway, body
		}
		return http.StatusBadRequest, body
	case errors.Is(err, domcoupon.ErrExhausted),
		errors.Is(err, domorder.ErrRequestInFlight),
		errors.Is(err, domorder.ErrConflict),
		errors.Is(err, dompay.ErrConflict):
		return http.StatusConflict, body
	case errors.As(err, &verr):
		body.Field = verr.Field
		return http.StatusBadRequest, body
	case errors.Is(err, domorder.ErrNotFound),
		errors.Is(err, dompay.ErrNotFound),
		errors.Is(err, dominv.ErrNotFound),
		errors.Is(err, domcoupon.ErrNotFound):
		return http.StatusNotFound, body
	case errors.Is(err, domorder.ErrEmptyCart),
		errors.Is(err, domorder.ErrInvalidPaymentMethod),
		errors.Is(err, domorder.ErrInvalidAddress),
		errors.Is(err, domorder.ErrInvalidStateTransition),
		errors.Is(err, domcart.ErrInvalidQuantity),
		errors.Is(err, dominv.ErrInvalidQuantity),
		errors.Is(err, dompay.ErrInvalidOrderState),
		errors.Is(err, dompay.ErrNotRefundable),
		errors.Is(err, dompay.ErrRefundExceedsAmount),
		errors.Is(err, dompay.ErrUnsupportedProvider),
		errors.Is(err, dompay.ErrNotCompleted),
		errors.Is(err, dompay.ErrOrderMismatch),
		errors.Is(err, dompay.ErrSignature):
		return http.StatusBadRequest, body
	case errors.Is(err, domoutbox.ErrClosed):
		return http.StatusServiceUnavailable, body
	}
	return http.StatusInternalServerError, errorBody{Error: "internal error"}
}

// pageParams reads limit and offset; bad values fall back to zero and the service default.
func pageParams(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	if limit < 0 {
		limit = 0
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

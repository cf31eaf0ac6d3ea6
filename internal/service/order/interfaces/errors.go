package interfaces

import (
	"encoding/json"
	"errors"
	"net/http"

	"orderflow/internal/pkg/lock"
	"orderflow/internal/service/order/domain"
	"orderflow/internal/service/order/domain/port"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// statusFor 把错误分类映射为 HTTP 状态码
func statusFor(err error) int {
	var pe *port.PaymentError
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	case errors.As(err, &pe):
		if pe.Kind == port.FailureRejected {
			return http.StatusPaymentRequired
		}
		return http.StatusServiceUnavailable
	case errors.Is(err, lock.ErrTimeout):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	body := errorBody{Error: err.Error()}
	var pe *port.PaymentError
	if errors.As(err, &pe) {
		body.Error = pe.Reason
		body.Code = pe.Code
	}
	if status == http.StatusInternalServerError {
		body.Error = "internal error"
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"scalper-backend/internal/domain"
)

var validate = validator.New()

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string        `json:"error"`
	Details []ErrorDetail `json:"details,omitempty"`
}

type ErrorDetail struct {
	Field   string `json:"field,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeAndValidate reads a JSON body into req, fills struct defaults and
// runs the validator. Any failure is a *domain.ValidationError or validator
// errors, both of which writeError maps to 400.
func decodeAndValidate(ctx context.Context, r *http.Request, req any) error {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		return domain.NewValidationError("body", "invalid JSON: %v", err)
	}
	if err := defaults.Set(req); err != nil {
		return fmt.Errorf("apply defaults: %w", err)
	}
	return validate.StructCtx(ctx, req)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var (
		verr   *domain.ValidationError
		fields validator.ValidationErrors
		risk   *domain.RiskRejectedError
		bt     *domain.BacktestTimeoutError
	)
	switch {
	case errors.As(err, &verr), errors.As(err, &fields):
		return http.StatusBadRequest
	case errors.As(err, &risk), errors.Is(err, domain.ErrDataInsufficient):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	case errors.As(err, &bt):
		return http.StatusGatewayTimeout
	}
	if _, ok := domain.IsExchangeError(err); ok {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func errorDetails(err error) []ErrorDetail {
	var (
		verr   *domain.ValidationError
		fields validator.ValidationErrors
		bt     *domain.BacktestTimeoutError
	)
	switch {
	case errors.As(err, &fields):
		out := make([]ErrorDetail, 0, len(fields))
		for _, fe := range fields {
			out = append(out, ErrorDetail{
				Field:   fe.Field(),
				Code:    "ERR_" + strings.ToUpper(fe.Tag()),
				Message: fieldMessage(fe),
			})
		}
		return out
	case errors.As(err, &verr):
		return []ErrorDetail{{Field: verr.Field, Code: "ERR_INVALID", Message: verr.Message}}
	case errors.As(err, &bt):
		return []ErrorDetail{{
			Code:    "ERR_TIMEOUT",
			Message: fmt.Sprintf("retry with %d days or less", bt.SuggestedDays),
		}}
	}
	return nil
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, fe.Param())
	case "lt":
		return fmt.Sprintf("%s must be less than %s", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "gtfield":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed validation: %s", field, fe.Tag())
	}
}

// writeError logs server-side failures and writes the JSON error body.
func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", zap.Int("status", status), zap.Error(err))
	}
	msg := err.Error()
	var fields validator.ValidationErrors
	if errors.As(err, &fields) {
		msg = "validation failed"
	}
	writeJSON(w, status, ErrorResponse{Error: msg, Details: errorDetails(err)})
}

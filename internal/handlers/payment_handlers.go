package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"dealer_payments_echo/internal/apperrors"
	"dealer_payments_echo/internal/models"
	"dealer_payments_echo/internal/services"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	maxIdempotencyKeyLen = 128
)

// CreateSessionRequest is the body of POST /payment-sessions
type CreateSessionRequest struct {
	DealerID int64  `json:"dealerId" validate:"required,gt=0"`
	Plan     string `json:"plan" validate:"required,oneof=monthly yearly"`
}

type PaymentHandler struct {
	payments   *services.PaymentService
	settlement *services.SettlementService
	validate   *validator.Validate
}

func NewPaymentHandler(payments *services.PaymentService, settlement *services.SettlementService) *PaymentHandler {
	v := validator.New()
	// Report json names in validation messages
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &PaymentHandler{
		payments:   payments,
		settlement: settlement,
		validate:   v,
	}
}

// CreateSession handles POST /payment-sessions
func (h *PaymentHandler) CreateSession(c echo.Context) error {
	var req CreateSessionRequest
	if err := decodeStrict(c.Request().Body, &req); err != nil {
		return err
	}
	if err := h.validateStruct(req); err != nil {
		return err
	}

	key := strings.TrimSpace(c.Request().Header.Get(headerIdempotencyKey))
	if len(key) > maxIdempotencyKeyLen {
		return apperrors.NewValidationError(fmt.Sprintf("%s must be at most %d characters", headerIdempotencyKey, maxIdempotencyKeyLen))
	}

	result, err := h.payments.CreateSession(c.Request().Context(), uint(req.DealerID), models.PlanType(req.Plan), key)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// PaymentCallback handles GET /payment-callback
func (h *PaymentHandler) PaymentCallback(c echo.Context) error {
	result, err := h.settlement.HandleCallback(c.Request().Context(), c.QueryParams())
	if err != nil {
		return err
	}

	status := http.StatusAccepted
	if result.Terminal() {
		status = http.StatusOK
	}
	return c.JSON(status, result)
}

// decodeStrict decodes exactly one JSON object, rejecting unknown fields
func decodeStrict(body io.Reader, dst interface{}) error {
	data, err := io.ReadAll(body)
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request body too large")
		}
		return apperrors.NewValidationError("failed to read request body")
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return apperrors.NewValidationError("request body is required")
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		switch {
		case errors.As(err, &syntaxErr), errors.Is(err, io.ErrUnexpectedEOF):
			return apperrors.NewValidationError("request body must be valid JSON")
		case errors.As(err, &typeErr):
			if typeErr.Field == "dealerId" {
				return apperrors.NewValidationError("dealerId must be a positive integer")
			}
			return apperrors.NewValidationError(fmt.Sprintf("%s has the wrong type", typeErr.Field))
		case strings.HasPrefix(err.Error(), "json: unknown field "):
			return apperrors.NewValidationError("unknown field in request body", strings.TrimPrefix(err.Error(), "json: unknown field "))
		default:
			return apperrors.NewValidationError("invalid request body", err.Error())
		}
	}
	if dec.More() {
		return apperrors.NewValidationError("request body must contain a single JSON object")
	}
	return nil
}

func (h *PaymentHandler) validateStruct(s interface{}) error {
	err := h.validate.Struct(s)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return apperrors.NewValidationError("validation failed", err.Error())
	}

	messages := make([]string, 0, len(validationErrors))
	for _, fe := range validationErrors {
		messages = append(messages, fieldErrorMessage(fe))
	}
	return apperrors.NewValidationError("validation failed", strings.Join(messages, "; "))
}

func fieldErrorMessage(fe validator.FieldError) string {
	switch fe.Field() {
	case "dealerId":
		return "dealerId must be a positive integer"
	case "plan":
		return "plan must be one of: monthly, yearly"
	}

	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed validation for '%s'", fe.Field(), fe.Tag())
	}
}

package middleware

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"dealer_payments_echo/internal/apperrors"
)

// ErrorResponse is the JSON body of every error reply
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Detail    string `json:"detail,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// CustomErrorHandler creates a custom error handler for Echo that renders
// AppError and echo.HTTPError as JSON
func CustomErrorHandler(log *slog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		requestID := c.Response().Header().Get(echo.HeaderXRequestID)
		status := http.StatusInternalServerError
		body := ErrorResponse{
			Error:     "internal server error",
			Code:      string(apperrors.ErrorTypeInternal),
			RequestID: requestID,
		}

		if appErr, ok := apperrors.GetAppError(err); ok {
			status = appErr.Code
			body.Code = string(appErr.Type)

			switch appErr.Type {
			case apperrors.ErrorTypeInternal:
				// Message is safe to show; the cause is not
				body.Error = appErr.Message
				log.Error("request failed",
					"request_id", requestID,
					"method", c.Request().Method,
					"path", c.Path(),
					"error", err,
				)
			case apperrors.ErrorTypeUpstream:
				body.Error = appErr.Message
				body.Code = appErr.UpstreamCode
				body.Detail = appErr.Details
			default:
				body.Error = appErr.Message
				body.Detail = appErr.Details
			}
		} else if he, ok := err.(*echo.HTTPError); ok {
			status = he.Code
			body.Code = codeForStatus(he.Code)
			if msg, ok := he.Message.(string); ok && msg != "" {
				body.Error = msg
			} else {
				body.Error = http.StatusText(he.Code)
			}
			if status >= http.StatusInternalServerError {
				log.Error("request failed", "request_id", requestID, "error", err)
			}
		} else {
			log.Error("unhandled error",
				"request_id", requestID,
				"method", c.Request().Method,
				"path", c.Path(),
				"error", err,
			)
		}

		var writeErr error
		if c.Request().Method == http.MethodHead {
			writeErr = c.NoContent(status)
		} else {
			writeErr = c.JSON(status, body)
		}
		if writeErr != nil {
			log.Error("failed to write error response", "request_id", requestID, "error", writeErr)
		}
	}
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return string(apperrors.ErrorTypeValidation)
	case http.StatusUnauthorized:
		return string(apperrors.ErrorTypeUnauthorized)
	case http.StatusNotFound:
		return string(apperrors.ErrorTypeNotFound)
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case http.StatusRequestEntityTooLarge:
		return "payload_too_large"
	case http.StatusConflict:
		return string(apperrors.ErrorTypeConflict)
	}
	if status >= http.StatusInternalServerError {
		return string(apperrors.ErrorTypeInternal)
	}
	return "error"
}

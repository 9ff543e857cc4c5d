package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"battles/internal/auth"
	"battles/internal/service"
	"battles/internal/settlement"
)

// apiResponse is the envelope every JSON endpoint returns. Code is 0 on
// success and the HTTP status otherwise.
type apiResponse struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    any            `json:"data,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

func Ok(c *gin.Context, data any, meta map[string]any) {
	c.JSON(http.StatusOK, apiResponse{Code: 0, Message: "ok", Data: data, Meta: meta})
}

func Error(c *gin.Context, status int, message string, meta map[string]any) {
	c.JSON(status, apiResponse{Code: status, Message: message, Meta: meta})
}

// Fail writes err with the status its sentinel maps to. Unknown errors are
// reported as fallback with a 500 so internals stay out of the body.
func Fail(c *gin.Context, err error, fallback string) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = fallback
	}
	Error(c, status, msg, nil)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrBattleNotFound),
		errors.Is(err, settlement.ErrBattleNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalidPick),
		errors.Is(err, service.ErrBattleClosed),
		errors.Is(err, service.ErrCutoffPassed),
		errors.Is(err, service.ErrNotSettled),
		errors.Is(err, service.ErrBattleNotActive),
		errors.Is(err, service.ErrInvalidPeriod):
		return http.StatusBadRequest
	case errors.Is(err, settlement.ErrBattleNotEnded):
		return http.StatusConflict
	case errors.Is(err, auth.ErrNonceInvalid),
		errors.Is(err, auth.ErrBadSignature):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

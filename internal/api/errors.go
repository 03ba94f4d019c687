package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AaronLay10/SentientDrill/internal/orchestrator"
	"github.com/AaronLay10/SentientDrill/internal/profile"
	"github.com/AaronLay10/SentientDrill/internal/scenario"
	"github.com/AaronLay10/SentientDrill/internal/storage"
)

// APIError is the error body returned by every endpoint.
type APIError struct {
	Message string      `json:"message"`
	Code    string      `json:"code,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

// ErrorEnvelope wraps APIError.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func errorBody(code, msg string) ErrorEnvelope {
	return ErrorEnvelope{Error: APIError{Message: msg, Code: code}}
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, orchestrator.ErrInvalidState):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, storage.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, orchestrator.ErrInvalidAction):
		return http.StatusUnprocessableEntity, "invalid_action"
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, scenario.ErrInvalidDefinition):
		return http.StatusBadRequest, "invalid_definition"
	case errors.Is(err, profile.ErrTransient), errors.Is(err, storage.ErrVersionConflict):
		return http.StatusServiceUnavailable, "transient"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (s *Server) respondError(c *gin.Context, err error) {
	status, code := statusFor(err)
	if status >= 500 {
		s.Log.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, errorBody(code, err.Error()))
}

func (s *Server) respondInvalid(c *gin.Context, res scenario.ValidationResult) {
	body := errorBody("invalid_definition", res.Err().Error())
	body.Error.Details = res.Errors
	c.JSON(http.StatusBadRequest, body)
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, errorBody("bad_request", msg))
}

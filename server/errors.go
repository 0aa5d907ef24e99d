package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tbxark/formchat/types"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

const (
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrCodeInternalError      = "INTERNAL_ERROR"
)

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, types.ErrInvalidArgument):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Code: ErrCodeInvalidRequest, Details: err.Error()})
	case errors.Is(err, types.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Session not found. Please start a new conversation.", Code: ErrCodeNotFound})
	case errors.Is(err, types.ErrServiceUnavailable):
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "Language model service unavailable", Code: ErrCodeServiceUnavailable})
	default:
		slog.Error("Unhandled request error", "path", c.Request.URL.Path, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "An unexpected error occurred", Code: ErrCodeInternalError})
	}
	_ = c.Error(err)
}

package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/victornm/examroom/internal/errors"
)

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// RenderErrors writes the last error attached to the request as the response body.
func RenderErrors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		e := errors.Convert(c.Errors.Last().Err)
		resp := ErrorResponse{
			Code:    e.Kind(),
			Message: e.Message,
			Details: e.Details,
		}

		switch e.Code {
		case errors.CodeInternal:
			slog.ErrorContext(c.Request.Context(), "api: internal error", "path", c.FullPath(), "error", e)
			resp.Message = "internal error"
		case errors.CodeUnavailable:
			slog.WarnContext(c.Request.Context(), "api: service unavailable", "path", c.FullPath(), "error", e)
		}

		c.JSON(e.HTTPStatusCode(), resp)
	}
}

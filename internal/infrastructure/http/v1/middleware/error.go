package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"quartermaster/internal/core/apperror"
	"quartermaster/pkg/logger"
)

// ErrorHandler middleware transforms errors into consistent JSON responses.
// Hides internal errors from clients while logging full details.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		writeError(c, c.Errors.Last().Err)
	}
}

func writeError(c *gin.Context, err error) {
	ctx := c.Request.Context()

	appErr, ok := apperror.AsAppError(err)
	if !ok {
		logger.Error(ctx, "unhandled error", "error", err)
		appErr = apperror.NewInternal(err)
	}

	switch {
	case appErr.HTTPStatus >= http.StatusInternalServerError:
		logger.Error(ctx, "request failed", "code", appErr.Code, "cause", appErr.Err)
	case appErr.Err != nil:
		logger.Warn(ctx, "request rejected", "code", appErr.Code, "cause", appErr.Err)
	}

	details := appErr.Details
	if appErr.Code == apperror.CodeInternal {
		details = map[string]any{"request_id": c.GetString("request_id")}
	}

	c.AbortWithStatusJSON(appErr.HTTPStatus, gin.H{
		"code":    appErr.Code,
		"message": appErr.Message,
		"details": details,
	})
}

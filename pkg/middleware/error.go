package middleware

import (
	"errors"
	"net/http"

	"licensing-controlplane/pkg/errutil"
	"licensing-controlplane/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Error renders the last error attached to the gin context. Handlers call
// c.Error(err) and return without writing a body.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err

		var base errutil.BaseError
		if errors.As(err, &base) {
			status := base.Code.HTTPStatus()
			if status >= http.StatusInternalServerError {
				logger.FromContext(c.Request.Context()).Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
				base.Details = nil
			}
			c.JSON(status, base.JSON())
			return
		}

		code := errutil.StatusOf(err)
		if code == errutil.StatusInternal {
			logger.FromContext(c.Request.Context()).Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		}
		c.JSON(code.HTTPStatus(), errutil.BaseError{Code: code, Message: http.StatusText(code.HTTPStatus())}.JSON())
	}
}

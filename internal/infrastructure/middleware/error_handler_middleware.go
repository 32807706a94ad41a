package middleware

import (
	"fmt"

	apperrors "connectsphere/pkg/errors"
	"connectsphere/pkg/logger"

	"github.com/gin-gonic/gin"
)

// ErrorHandlerMiddleware renders the last error attached with c.Error as the
// same {code, message} shape the websocket error frame uses.
func ErrorHandlerMiddleware(cl *logger.ContextLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		appErr := apperrors.FromDomain(c.Errors.Last().Err)
		log := cl.Sugared(c.Request.Context())
		if appErr.HTTPStatus >= 500 {
			log.Errorw("request failed", "code", appErr.Code, "error", appErr, "path", c.Request.URL.Path, "method", c.Request.Method)
		} else {
			log.Debugw("request rejected", "code", appErr.Code, "message", appErr.Message, "path", c.Request.URL.Path)
		}
		writeError(c, appErr)
	}
}

// RecoveryMiddleware recovers from panics and returns proper error responses
func RecoveryMiddleware(cl *logger.ContextLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				cl.Sugared(c.Request.Context()).Errorw("panic recovered",
					"panic", fmt.Sprint(r),
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)
				abortWithError(c, apperrors.NewInternalError("internal server error"))
			}
		}()

		c.Next()
	}
}

func writeError(c *gin.Context, appErr *apperrors.AppError) {
	body := gin.H{
		"code":    string(appErr.Code),
		"message": appErr.Message,
	}
	if len(appErr.Context) > 0 {
		body["details"] = appErr.Context
	}
	c.JSON(appErr.HTTPStatus, body)
}

func abortWithError(c *gin.Context, appErr *apperrors.AppError) {
	writeError(c, appErr)
	c.Abort()
}

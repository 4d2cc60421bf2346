// Package api exposes the thread REST and SSE surface: the event stream,
// the message router and the upload endpoint.
package api

import (
	stderrors "errors"
	"net/http"
	"os/user"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coday/coday/internal/common/errors"
	"github.com/coday/coday/internal/common/logger"
)

// identityKey is the gin context key holding the authenticated username.
const identityKey = "username"

// forbiddenAccounts are system accounts that must never drive threads. They
// only realistically appear when auth is disabled and the OS user is used.
var forbiddenAccounts = map[string]bool{
	"root": true, "admin": true, "administrator": true, "system": true,
	"daemon": true, "nobody": true, "node": true, "app": true,
	"service": true, "docker": true, "www-data": true, "nginx": true,
	"apache": true, "ansible": true,
}

// Identity resolves the caller's username. A trusted reverse proxy sets
// x-forwarded-email; with auth disabled the local OS user is the fallback.
func Identity(authDisabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		username := c.GetHeader("x-forwarded-email")
		if username == "" && authDisabled {
			if current, err := user.Current(); err == nil {
				username = current.Username
			}
		}

		if username == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{
					"code":    errors.ErrCodeUnauthorized,
					"message": "no username provided",
				},
			})
			return
		}

		if forbiddenAccounts[strings.ToLower(username)] {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": gin.H{
					"code":    errors.ErrCodeSecurityError,
					"message": "forbidden system account",
				},
			})
			return
		}

		c.Set(identityKey, username)
		c.Next()
	}
}

// RequestLogger logs all incoming requests with detailed information.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := uuid.New().String()
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)

		c.Next()

		duration := time.Since(start)
		log.Info("Request completed",
			zap.String("path", c.Request.URL.Path),
			zap.String("method", c.Request.Method),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", duration),
			zap.String("request_id", requestID),
		)
	}
}

// ErrorHandler handles errors and returns appropriate responses.
func ErrorHandler(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			err := c.Errors.Last().Err

			var appErr *errors.AppError
			if stderrors.As(err, &appErr) {
				log.Error("Request error",
					zap.String("code", appErr.Code),
					zap.String("message", appErr.Message),
					zap.Int("status", appErr.HTTPStatus),
				)
				c.JSON(appErr.HTTPStatus, gin.H{
					"error": gin.H{
						"code":    appErr.Code,
						"message": appErr.Message,
					},
				})
				return
			}

			log.Error("Internal server error", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": gin.H{
					"code":    errors.ErrCodeInternalError,
					"message": "An internal server error occurred",
				},
			})
		}
	}
}

// Recovery recovers from panics and logs them.
func Recovery(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("Panic recovered",
					zap.Any("panic", r),
					zap.String("path", c.Request.URL.Path),
					zap.String("method", c.Request.Method),
				)

				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": gin.H{
						"code":    errors.ErrCodeInternalError,
						"message": "An internal server error occurred",
					},
				})
			}
		}()

		c.Next()
	}
}

// CORS adds CORS headers for cross-origin requests.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Request-ID, x-forwarded-email")
		c.Header("Access-Control-Expose-Headers", "X-Request-ID")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

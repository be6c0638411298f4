package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// LoggingMiddleware returns a gin.HandlerFunc for logging requests
func LoggingMiddleware(logger *logrus.Logger) gin.HandlerFunc {
	return gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/health", "/metrics"},
		Formatter: func(param gin.LogFormatterParams) string {
			entry := logger.WithFields(logrus.Fields{
				"client_ip":     param.ClientIP,
				"method":        param.Method,
				"path":          param.Path,
				"status_code":   param.StatusCode,
				"latency":       param.Latency,
				"user_agent":    param.Request.UserAgent(),
				"error_message": param.ErrorMessage,
				"request_id":    param.Keys[requestIDKey],
			})

			switch {
			case param.StatusCode >= 500:
				entry.Error("HTTP Request")
			case param.StatusCode >= 400:
				entry.Warn("HTTP Request")
			default:
				entry.Info("HTTP Request")
			}

			return ""
		},
	})
}

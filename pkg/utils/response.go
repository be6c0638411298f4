package utils

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// Response represents a standard API response
type Response struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp string      `json:"timestamp"`
	Meta      interface{} `json:"meta,omitempty"`
}

// ErrorResponse represents an enhanced error response with additional context
type ErrorResponse struct {
	Success   bool        `json:"success"`
	Error     string      `json:"error"`
	Code      int         `json:"code"`
	Timestamp string      `json:"timestamp"`
	Request   RequestInfo `json:"request"`
	Details   interface{} `json:"details,omitempty"`
}

// RequestInfo provides context about the failed request
type RequestInfo struct {
	Method string `json:"method"`
	Path   string `json:"path"`
	Query  string `json:"query,omitempty"`
}

// SendSuccess sends a successful response
func SendSuccess(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// SendSuccessWithStatus sends a successful response with a specific status code
func SendSuccessWithStatus(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// SendError sends an error response with enhanced context
func SendError(c *gin.Context, statusCode int, message string) {
	errorResponse := ErrorResponse{
		Success:   false,
		Error:     message,
		Code:      statusCode,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Request: RequestInfo{
			Method: c.Request.Method,
			Path:   c.Request.URL.Path,
			Query:  c.Request.URL.RawQuery,
		},
	}

	// Add helpful suggestions for common errors
	if statusCode == http.StatusNotFound {
		suggestions := generateNotFoundSuggestions(c.Request.URL.Path)
		if len(suggestions) > 0 {
			errorResponse.Details = map[string]interface{}{
				"suggestions": suggestions,
				"message":     "The requested endpoint does not exist. Check the suggestions below for similar endpoints.",
			}
		}
	} else if statusCode == http.StatusMethodNotAllowed {
		errorResponse.Details = map[string]interface{}{
			"message": "The HTTP method is not supported for this endpoint. Please check the API documentation for supported methods.",
		}
	}

	c.JSON(statusCode, errorResponse)
}

// SendSuccessWithMeta sends a successful response with metadata
func SendSuccessWithMeta(c *gin.Context, data interface{}, meta interface{}) {
	c.JSON(http.StatusOK, Response{
		Success:   true,
		Data:      data,
		Meta:      meta,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// generateNotFoundSuggestions provides helpful endpoint suggestions for 404 errors
func generateNotFoundSuggestions(path string) []string {
	commonEndpoints := []string{
		"/health",
		"/api/v1/entries",
		"/api/v1/entities",
		"/api/v1/devices/:id/refresh",
		"/ws",
	}

	var suggestions []string
	pathLower := strings.ToLower(path)

	for _, endpoint := range commonEndpoints {
		endpointLower := strings.ToLower(endpoint)

		switch {
		case strings.Contains(pathLower, "entit"):
			if strings.Contains(endpointLower, "entities") {
				suggestions = append(suggestions, endpoint)
			}
		case strings.Contains(pathLower, "entr"), strings.Contains(pathLower, "config"):
			if strings.Contains(endpointLower, "entries") {
				suggestions = append(suggestions, endpoint)
			}
		case strings.Contains(pathLower, "device"), strings.Contains(pathLower, "refresh"):
			if strings.Contains(endpointLower, "devices") {
				suggestions = append(suggestions, endpoint)
			}
		case strings.Contains(pathLower, "status"), strings.Contains(pathLower, "health"):
			if strings.Contains(endpointLower, "health") {
				suggestions = append(suggestions, endpoint)
			}
		}
	}

	return suggestions
}

package api

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// loggingMiddleware provides structured request logging.
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		s.logger.Info("http request",
			"method", param.Method,
			"path", param.Path,
			"status", param.StatusCode,
			"latency", param.Latency,
			"ip", param.ClientIP,
			"error", param.ErrorMessage,
		)
		return ""
	})
}

// corsMiddleware configures CORS based on application configuration.
func (s *Server) corsMiddleware() gin.HandlerFunc {
	if !s.config.API.Cors.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	corsConfig := cors.Config{
		AllowOrigins:     s.config.API.Cors.AllowedOrigins,
		AllowMethods:     s.config.API.Cors.AllowedMethods,
		AllowHeaders:     s.config.API.Cors.AllowedHeaders,
		AllowCredentials: s.config.API.Cors.AllowCredentials,
		MaxAge:           time.Duration(s.config.API.Cors.MaxAge) * time.Second,
	}

	if len(corsConfig.AllowOrigins) == 1 && corsConfig.AllowOrigins[0] == "*" {
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowOrigins = nil
	}

	return cors.New(corsConfig)
}

// securityMiddleware adds standard security headers.
func (s *Server) securityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Content-Security-Policy", "default-src 'none'")
		c.Header("Server", "imagepipe")
		c.Next()
	}
}

// rateLimitMiddleware applies a per-IP token bucket, sized from the
// pipeline's own rate-limit config so the gateway doesn't admit more
// traffic than the fetch stage can actually absorb (spec.md §4.5).
func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	limiters := make(map[string]*rate.Limiter)
	mu := &sync.Mutex{}

	return gin.HandlerFunc(func(c *gin.Context) {
		clientIP := c.ClientIP()

		mu.Lock()
		limiter, exists := limiters[clientIP]
		if !exists {
			limiter = rate.NewLimiter(rate.Limit(s.config.RateLimit.RequestsPerSecond), s.config.RateLimit.Burst)
			limiters[clientIP] = limiter
		}
		mu.Unlock()

		if !limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limit_exceeded",
				"message": "too many requests, please try again later",
			})
			c.Abort()
			return
		}

		c.Next()
	})
}

// requestSizeMiddleware limits request body size.
func (s *Server) requestSizeMiddleware() gin.HandlerFunc {
	return gin.HandlerFunc(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.config.API.MaxBodySize)
		c.Next()
	})
}

// contentTypeMiddleware ensures proper content type handling for mutating
// requests.
func (s *Server) contentTypeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/v1/") {
			method := c.Request.Method
			if method == "POST" || method == "PUT" || method == "PATCH" {
				contentType := c.GetHeader("Content-Type")
				if !strings.Contains(contentType, "application/json") {
					c.JSON(http.StatusBadRequest, gin.H{
						"error":   "invalid_content_type",
						"message": "Content-Type must be application/json",
					})
					c.Abort()
					return
				}
			}
		}
		c.Next()
	}
}

// versionMiddleware adds API version information to responses.
func (s *Server) versionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-API-Version", "v1")
		c.Next()
	}
}

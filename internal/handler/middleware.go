package handler

import (
	"strings"
	"time"

	"dairyrun/internal/model"
	"dairyrun/internal/service"
	"dairyrun/pkg/auth"
	"dairyrun/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	actorKey     = "actor"
	requestIDKey = "request_id"
)

// LoggerMiddleware tags every request with an id (X-Request-ID, generated
// when absent) and logs it once it completes.
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(requestIDKey, requestID)
		c.Header("X-Request-ID", requestID)

		c.Next()

		path := c.Request.URL.Path
		if q := c.Request.URL.RawQuery; q != "" {
			path = path + "?" + q
		}
		entry := logrus.WithFields(logrus.Fields{
			"request_id": requestID,
			"status":     c.Writer.Status(),
			"latency":    time.Since(start).String(),
			"client_ip":  c.ClientIP(),
			"method":     c.Request.Method,
			"path":       path,
		})
		if actor, ok := c.Get(actorKey); ok {
			entry = entry.WithField("user_id", actor.(service.Actor).UserID)
		}
		if c.Writer.Status() >= 500 {
			entry.Warn("http request")
			return
		}
		entry.Info("http request")
	}
}

// RecoveryMiddleware turns a panic into a 500 response.
func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				requestLogger(c).WithField("panic", err).Error("handler panicked")
				response.ServerError(c, "internal server error")
			}
		}()
		c.Next()
	}
}

func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Request-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// AuthMiddleware verifies the bearer token and stores the caller as a
// service.Actor. Any role other than admin is treated as a plain user.
func AuthMiddleware(secret, issuer string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Unauthorized(c, "authorization header is required")
			return
		}
		tokenStr := strings.TrimPrefix(header, "Bearer ")
		if tokenStr == header {
			response.Unauthorized(c, "authorization header must be a bearer token")
			return
		}

		claims, err := auth.ParseToken(tokenStr, secret, issuer)
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			return
		}

		role := model.RoleUser
		if claims.Role == model.RoleAdmin {
			role = model.RoleAdmin
		}
		c.Set(actorKey, service.Actor{UserID: claims.UserID, Role: role})
		c.Next()
	}
}

// AdminMiddleware must run after AuthMiddleware.
func AdminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !currentActor(c).IsAdmin() {
			response.Forbidden(c, "admin access required")
			return
		}
		c.Next()
	}
}

// currentActor returns the zero Actor, which can access nothing, when the
// request was not authenticated.
func currentActor(c *gin.Context) service.Actor {
	v, ok := c.Get(actorKey)
	if !ok {
		return service.Actor{}
	}
	actor, _ := v.(service.Actor)
	return actor
}

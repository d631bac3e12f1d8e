package api

import (
	"net/http"
	"strconv"
	"time"

	"isla-market/internal/models"
	"isla-market/internal/service"
	"isla-market/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	ctxUser    = "user"
	ctxAdminID = "admin_id"
)

// RequireUser resolves the bearer token to a user or answers 401
func (h *Handler) RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := h.auth.Authenticate(c.Request.Context(), c.GetHeader("Authorization"))
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.Set(ctxUser, user)
		c.Next()
	}
}

// RequireAdmin answers 401 without a valid token and 403 for non-admins
func (h *Handler) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		check, err := h.auth.CheckAdmin(c.Request.Context(), c.GetHeader("Authorization"))
		if err != nil {
			h.respondError(c, err)
			return
		}
		if !check.IsAdmin {
			util.GetLogger().Warn("Admin route denied",
				zap.String("user_id", check.UserID.String()),
				zap.String("path", c.FullPath()))
			h.respondError(c, service.Forbidden("admin access required"))
			return
		}
		c.Set(ctxAdminID, check.UserID)
		c.Next()
	}
}

func currentUser(c *gin.Context) *models.User {
	if v, ok := c.Get(ctxUser); ok {
		if user, ok := v.(*models.User); ok {
			return user
		}
	}
	return nil
}

func adminID(c *gin.Context) uuid.UUID {
	if v, ok := c.Get(ctxAdminID); ok {
		if id, ok := v.(uuid.UUID); ok {
			return id
		}
	}
	return uuid.Nil
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(c.Request.Method, path, status).Observe(time.Since(start).Seconds())
		util.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
	}
}

// requestLogger logs one line per request
func requestLogger() gin.HandlerFunc {
	logger := util.GetLogger()
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

// maxBodyBytes caps the request body size
func maxBodyBytes(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		c.Next()
	}
}

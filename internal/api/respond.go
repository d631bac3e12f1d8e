package api

import (
	"errors"
	"net/http"
	"strconv"

	"isla-market/internal/service"
	"isla-market/internal/util"

	"github.com/getsentry/sentry-go"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var kindStatus = map[service.Kind]int{
	service.KindValidation:   http.StatusBadRequest,
	service.KindUnauthorized: http.StatusUnauthorized,
	service.KindForbidden:    http.StatusForbidden,
	service.KindNotFound:     http.StatusNotFound,
	service.KindConflict:     http.StatusConflict,
	service.KindInternal:     http.StatusInternalServerError,
}

// respondError writes the error envelope for err. Upstream error text is
// only included outside production.
func (h *Handler) respondError(c *gin.Context, err error) {
	status := kindStatus[service.KindOf(err)]
	message := "internal server error"

	var svcErr *service.Error
	if errors.As(err, &svcErr) {
		message = svcErr.Message
	}

	body := gin.H{"error": message}
	if svcErr != nil {
		for k, v := range svcErr.Fields {
			body[k] = v
		}
	}

	if status >= http.StatusInternalServerError {
		util.GetLogger().Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		if hub := sentrygin.GetHubFromContext(c); hub != nil {
			hub.CaptureException(err)
		} else {
			sentry.CaptureException(err)
		}
		if !h.production && (svcErr == nil || svcErr.Err != nil) {
			body["details"] = err.Error()
		}
	}

	c.AbortWithStatusJSON(status, body)
}

// badRequest answers 400 for malformed input that never reached a service
func (h *Handler) badRequest(c *gin.Context, message string, err error) {
	body := gin.H{"error": message}
	if err != nil && !h.production {
		body["details"] = err.Error()
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, body)
}

// bindJSON decodes the request body into v, answering 400 on failure
func (h *Handler) bindJSON(c *gin.Context, v interface{}) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		h.badRequest(c, "invalid request body", err)
		return false
	}
	return true
}

// paramID parses the int64 path parameter name, answering 400 on failure
func (h *Handler) paramID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		h.badRequest(c, "invalid "+name, nil)
		return 0, false
	}
	return id, true
}

func queryInt(c *gin.Context, name string, def int) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return def
	}
	return v
}

package api

import (
	"errors"
	"mime/multipart"
	"net/http"

	"isla-market/internal/service"

	"github.com/gin-gonic/gin"
)

// multipartOverhead leaves room for form fields around the file part
const multipartOverhead = 1 << 20

func (h *Handler) upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+multipartOverhead)

	file, ok := h.formFile(c, "file")
	if !ok {
		return
	}

	result, err := h.uploads.Upload(c.Request.Context(), file, c.PostForm("folder"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// formFile reads a multipart file part. A body cut off by the size cap is
// reported as an oversize file rather than a missing one.
func (h *Handler) formFile(c *gin.Context, name string) (*multipart.FileHeader, bool) {
	file, err := c.FormFile(name)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.respondError(c, service.FileTooLarge())
			return nil, false
		}
		h.badRequest(c, name+" is required", err)
		return nil, false
	}
	return file, true
}

type deleteUploadRequest struct {
	Key string `json:"key"`
}

func (h *Handler) deleteUpload(c *gin.Context) {
	key := c.Query("key")
	if key == "" {
		var req deleteUploadRequest
		if !h.bindJSON(c, &req) {
			return
		}
		key = req.Key
	}

	if err := h.uploads.Delete(c.Request.Context(), key); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "file deleted", "key": key})
}

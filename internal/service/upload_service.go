package service

import (
	"bytes"
	"context"
	"io"
	"mime"
	"mime/multipart"
	"strings"

	"isla-market/internal/util"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultUploadFolder = "products"

// AllowedImageTypes are the MIME types accepted by uploads
var AllowedImageTypes = []string{"image/jpeg", "image/png", "image/webp", "image/gif"}

// ObjectStore stores and removes objects in a bucket
type ObjectStore interface {
	PutObject(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	RemoveObject(ctx context.Context, key string) error
}

// UploadService validates images and forwards them to object storage
type UploadService struct {
	objects       ObjectStore
	publicURLBase string
	maxBytes      int64
	logger        *zap.Logger
}

// NewUploadService creates a new upload service
func NewUploadService(objects ObjectStore, publicURLBase string, maxBytes int64) *UploadService {
	return &UploadService{
		objects:       objects,
		publicURLBase: strings.TrimRight(publicURLBase, "/"),
		maxBytes:      maxBytes,
		logger:        util.GetLogger(),
	}
}

// UploadResult locates a stored object
type UploadResult struct {
	URL string `json:"url"`
	Key string `json:"key"`
}

// FileTooLarge is the rejection for uploads over the size limit
func FileTooLarge() *Error {
	return Validation("file too large; maximum size is 5MB")
}

func allowedType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	for _, t := range AllowedImageTypes {
		if mediaType == t {
			return true
		}
	}
	return false
}

// SanitizeFolder keeps lowercase letters, digits, dashes, underscores and
// single slashes. An empty result becomes the default folder.
func SanitizeFolder(folder string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(folder) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == '/':
			if s := b.String(); s != "" && !strings.HasSuffix(s, "/") {
				b.WriteRune(r)
			}
		}
	}
	out := strings.Trim(b.String(), "/")
	if out == "" {
		return defaultUploadFolder
	}
	return out
}

// Upload validates the declared type, then the size, then the sniffed
// content type, and stores the file under folder/<uuid><ext>
func (s *UploadService) Upload(ctx context.Context, file *multipart.FileHeader, folder string) (*UploadResult, error) {
	ctx, span := util.StartSpan(ctx, "UploadService.Upload")
	defer span.End()

	if file == nil {
		return nil, s.rejected("missing", Validation("file is required"))
	}
	if !allowedType(file.Header.Get("Content-Type")) {
		return nil, s.rejected("type", Validation("file type not allowed; allowed types: "+strings.Join(AllowedImageTypes, ", ")))
	}
	if file.Size > s.maxBytes {
		return nil, s.rejected("size", FileTooLarge())
	}

	f, err := file.Open()
	if err != nil {
		return nil, Internal("failed to open upload", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, s.maxBytes+1))
	if err != nil {
		return nil, Internal("failed to read upload", err)
	}
	if int64(len(data)) > s.maxBytes {
		return nil, s.rejected("size", FileTooLarge())
	}

	detected := mimetype.Detect(data)
	if !allowedType(detected.String()) {
		return nil, s.rejected("content", Validation("file type not allowed; content does not match an allowed image type"))
	}

	key := SanitizeFolder(folder) + "/" + uuid.NewString() + detected.Extension()
	if err := s.objects.PutObject(ctx, key, bytes.NewReader(data), int64(len(data)), detected.String()); err != nil {
		util.UploadsTotal.WithLabelValues("error").Inc()
		return nil, Internal("failed to store file", err)
	}

	util.UploadsTotal.WithLabelValues("stored").Inc()
	s.logger.Info("File uploaded", zap.String("key", key), zap.Int("bytes", len(data)))
	return &UploadResult{URL: s.publicURLBase + "/" + key, Key: key}, nil
}

func (s *UploadService) rejected(reason string, err error) error {
	util.UploadsTotal.WithLabelValues("rejected_" + reason).Inc()
	return err
}

// Delete removes a stored object by key
func (s *UploadService) Delete(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" || strings.Contains(key, "..") || strings.HasPrefix(key, "/") {
		return Validation("a valid key is required")
	}
	if err := s.objects.RemoveObject(ctx, key); err != nil {
		return Internal("failed to delete file", err)
	}
	s.logger.Info("File deleted", zap.String("key", key))
	return nil
}

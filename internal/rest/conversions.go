package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dfryer1193/odtswap/api"
	"github.com/dfryer1193/odtswap/document/application"
	"github.com/dfryer1193/odtswap/document/domain"
	"github.com/dfryer1193/odtswap/internal/config"
	"github.com/dfryer1193/odtswap/internal/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	odtContentType     = "application/vnd.oasis.opendocument.text"
	conversionIDHeader = "X-Conversion-ID"
)

type ConversionService interface {
	Convert(ctx context.Context, req application.ConversionRequest) (*domain.Conversion, error)
	GetConversion(ctx context.Context, id string) (*domain.Conversion, error)
	ListConversions(ctx context.Context, limit int, offset int) ([]*domain.Conversion, error)
	DeleteConversion(ctx context.Context, id string) error
}

type ConversionHandler struct {
	service             ConversionService
	uploadDir           string
	maxUploadBytes      int64
	allowLocalImagePath bool
}

func NewConversionHandler(service ConversionService, cfg *config.Config) *ConversionHandler {
	return &ConversionHandler{
		service:             service,
		uploadDir:           cfg.UploadDir,
		maxUploadBytes:      cfg.MaxUploadBytes,
		allowLocalImagePath: cfg.AllowLocalImagePath,
	}
}

// Upload accepts an .odt in the "odt" field and a replacement image, either
// uploaded as "image" or named by the "newImagePath" form value, and responds
// with the rewritten document.
func (h *ConversionHandler) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)

	odt, err := c.FormFile("odt")
	if err != nil {
		h.formError(c, "Missing odt file", err)
		return
	}

	uploadID := uuid.NewString()
	sourcePath := filepath.Join(h.uploadDir, uploadID+".odt")
	if err := c.SaveUploadedFile(odt, sourcePath); err != nil {
		log.Error().Err(err).Str("requestID", middleware.RequestID(c)).Msg("Failed to store uploaded document")
		c.String(http.StatusInternalServerError, "Error processing ODT file: failed to store upload")
		return
	}
	defer removeUpload(sourcePath)

	imagePath, imageName, uploaded, ok := h.replacementImage(c, uploadID)
	if !ok {
		return
	}
	if uploaded {
		defer removeUpload(imagePath)
	}

	conv, err := h.service.Convert(c.Request.Context(), application.ConversionRequest{
		SourcePath: sourcePath,
		SourceName: odt.Filename,
		ImagePath:  imagePath,
		ImageName:  imageName,
	})
	if conv != nil {
		c.Header(conversionIDHeader, conv.ID)
	}
	if err != nil {
		_ = c.Error(err)
		c.String(statusForError(err), "Error processing ODT file: %s", err.Error())
		return
	}

	c.Header("Content-Type", odtContentType)
	c.FileAttachment(conv.OutputPath, filepath.Base(conv.OutputPath))
}

// replacementImage resolves the replacement image for an upload. uploaded
// reports whether path is a file this request stored and must remove. When ok
// is false a response has already been written.
func (h *ConversionHandler) replacementImage(c *gin.Context, uploadID string) (path string, name string, uploaded bool, ok bool) {
	image, err := c.FormFile("image")
	if err == nil {
		path = filepath.Join(h.uploadDir, uploadID+"-image"+filepath.Ext(image.Filename))
		if err := c.SaveUploadedFile(image, path); err != nil {
			log.Error().Err(err).Str("requestID", middleware.RequestID(c)).Msg("Failed to store uploaded image")
			c.String(http.StatusInternalServerError, "Error processing ODT file: failed to store upload")
			return "", "", false, false
		}
		return path, image.Filename, true, true
	}
	if !errors.Is(err, http.ErrMissingFile) {
		h.formError(c, "Invalid image upload", err)
		return "", "", false, false
	}

	local := c.PostForm("newImagePath")
	if local == "" {
		c.String(http.StatusBadRequest, "Missing replacement image: upload an image file or set newImagePath")
		return "", "", false, false
	}
	if !h.allowLocalImagePath {
		c.String(http.StatusBadRequest, "newImagePath is disabled on this server; upload an image file instead")
		return "", "", false, false
	}

	return local, filepath.Base(local), false, true
}

func (h *ConversionHandler) formError(c *gin.Context, msg string, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		c.String(http.StatusRequestEntityTooLarge, "Upload exceeds %d bytes", tooLarge.Limit)
		return
	}
	c.String(http.StatusBadRequest, "%s: %s", msg, err.Error())
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotArchive):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, domain.ErrStructural), errors.Is(err, domain.ErrParse):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func removeUpload(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("path", path).Msg("Failed to remove upload")
	}
}

func (h *ConversionHandler) ListConversions(c *gin.Context) {
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conversions, err := h.service.ListConversions(c.Request.Context(), limit, offset)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list conversions"})
		return
	}

	resp := api.ConversionList{
		Conversions: make([]api.Conversion, 0, len(conversions)),
		Limit:       limit,
		Offset:      offset,
	}
	for _, conv := range conversions {
		resp.Conversions = append(resp.Conversions, toAPI(conv))
	}

	c.JSON(http.StatusOK, resp)
}

func (h *ConversionHandler) GetConversion(c *gin.Context) {
	conv, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, toAPI(conv))
}

func (h *ConversionHandler) Download(c *gin.Context) {
	conv, ok := h.lookup(c)
	if !ok {
		return
	}

	if conv.Status != domain.ConversionSucceeded {
		c.JSON(http.StatusConflict, gin.H{"error": "conversion did not produce a document"})
		return
	}
	if _, err := os.Stat(conv.OutputPath); err != nil {
		c.JSON(http.StatusGone, gin.H{"error": "output document is no longer available"})
		return
	}

	c.Header("Content-Type", odtContentType)
	c.FileAttachment(conv.OutputPath, filepath.Base(conv.OutputPath))
}

func (h *ConversionHandler) DeleteConversion(c *gin.Context) {
	err := h.service.DeleteConversion(c.Request.Context(), c.Param("id"))
	if errors.Is(err, domain.ErrConversionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete conversion"})
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *ConversionHandler) lookup(c *gin.Context) (*domain.Conversion, bool) {
	conv, err := h.service.GetConversion(c.Request.Context(), c.Param("id"))
	if errors.Is(err, domain.ErrConversionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return nil, false
	}
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get conversion"})
		return nil, false
	}
	return conv, true
}

func queryInt(c *gin.Context, key string, fallback int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", key, raw)
	}
	return v, nil
}

func toAPI(conv *domain.Conversion) api.Conversion {
	out := api.Conversion{
		ID:           conv.ID,
		SourceName:   conv.SourceName,
		ImageName:    conv.ImageName,
		ImageMIME:    conv.ImageMIME,
		PictureEntry: conv.PictureEntry,
		StyleOutcome: conv.Style.String(),
		Status:       string(conv.Status),
		Error:        conv.Error,
		DurationMS:   conv.Duration.Milliseconds(),
		CreatedAt:    conv.CreatedAt.UTC().Format(time.RFC3339),
	}
	if conv.Status == domain.ConversionSucceeded {
		out.DownloadURL = "/conversions/v1/" + conv.ID + "/download"
	}
	return out
}

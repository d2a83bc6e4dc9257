package application

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dfryer1193/odtswap/document/domain"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// ConversionObserver is notified once per conversion attempt
type ConversionObserver interface {
	ObserveConversion(outcome string, duration time.Duration)
}

type noopObserver struct{}

func (noopObserver) ObserveConversion(string, time.Duration) {}

// ConversionRequest points at files the caller already placed on disk
type ConversionRequest struct {
	SourcePath string
	SourceName string
	ImagePath  string
	ImageName  string
}

type ConversionService struct {
	replacer  *Replacer
	repo      domain.ConversionRepository
	outputDir string
	observer  ConversionObserver
}

func NewConversionService(replacer *Replacer, repo domain.ConversionRepository, outputDir string, observer ConversionObserver) *ConversionService {
	if observer == nil {
		observer = noopObserver{}
	}
	return &ConversionService{
		replacer:  replacer,
		repo:      repo,
		outputDir: outputDir,
		observer:  observer,
	}
}

// Convert runs the replacer for one upload and records the attempt.
// The returned Conversion is never nil, also when err is not.
func (s *ConversionService) Convert(ctx context.Context, req ConversionRequest) (*domain.Conversion, error) {
	start := time.Now()
	id := uuid.NewString()

	conv := &domain.Conversion{
		ID:         id,
		SourceName: req.SourceName,
		ImageName:  req.ImageName,
		OutputPath: filepath.Join(s.outputDir, fmt.Sprintf("output_%s.odt", id)),
		CreatedAt:  start.UTC(),
	}

	result, err := s.convert(ctx, req, conv)
	conv.Duration = time.Since(start)

	if err != nil {
		conv.Status = domain.ConversionFailed
		conv.Error = err.Error()
		conv.OutputPath = ""
		log.Error().Err(err).Str("conversionID", id).Str("source", req.SourceName).Msg("Failed to process ODT file")
	} else {
		conv.Status = domain.ConversionSucceeded
		conv.PictureEntry = result.PictureEntry
		conv.Style = result.Style
	}

	s.observer.ObserveConversion(outcomeLabel(err), conv.Duration)

	// A lost history entry doesn't invalidate the output
	if saveErr := s.repo.SaveConversion(context.WithoutCancel(ctx), conv); saveErr != nil {
		log.Error().Err(saveErr).Str("conversionID", id).Msg("Failed to record conversion")
	}

	return conv, err
}

func (s *ConversionService) convert(ctx context.Context, req ConversionRequest, conv *domain.Conversion) (*domain.Result, error) {
	if err := requireArchive(req.SourcePath); err != nil {
		return nil, err
	}

	if mt, err := mimetype.DetectFile(req.ImagePath); err == nil {
		conv.ImageMIME = mt.String()
	}

	return s.replacer.Replace(ctx, req.SourcePath, req.ImagePath, conv.OutputPath)
}

// requireArchive rejects uploads that are not zip containers before any
// extraction work happens.
func requireArchive(path string) error {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return fmt.Errorf("%w: failed to read uploaded document: %w", domain.ErrIO, err)
	}

	for m := mt; m != nil; m = m.Parent() {
		if m.Is("application/zip") {
			return nil
		}
	}

	return fmt.Errorf("%w (detected %s)", domain.ErrNotArchive, mt.String())
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "succeeded"
	case errors.Is(err, domain.ErrStructural):
		return "structural_error"
	case errors.Is(err, domain.ErrParse):
		return "parse_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "io_error"
	}
}

func (s *ConversionService) GetConversion(ctx context.Context, id string) (*domain.Conversion, error) {
	return s.repo.GetConversion(ctx, id)
}

func (s *ConversionService) ListConversions(ctx context.Context, limit int, offset int) ([]*domain.Conversion, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListConversions(ctx, limit, offset)
}

func (s *ConversionService) DeleteConversion(ctx context.Context, id string) error {
	return s.repo.DeleteConversion(ctx, id)
}

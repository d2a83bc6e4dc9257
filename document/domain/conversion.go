package domain

import (
	"context"
	"errors"
	"time"
)

var ErrConversionNotFound = errors.New("conversion not found")

type ConversionStatus string

const (
	ConversionSucceeded ConversionStatus = "succeeded"
	ConversionFailed    ConversionStatus = "failed"
)

// Conversion is the log entry recorded for every upload that reached the replacer
type Conversion struct {
	ID           string
	SourceName   string
	ImageName    string
	ImageMIME    string
	PictureEntry string
	Style        StyleOutcome
	OutputPath   string
	Status       ConversionStatus
	Error        string
	Duration     time.Duration
	CreatedAt    time.Time
}

type ConversionRepository interface {
	SaveConversion(ctx context.Context, c *Conversion) error
	GetConversion(ctx context.Context, id string) (*Conversion, error)
	ListConversions(ctx context.Context, limit int, offset int) ([]*Conversion, error)

	// DeleteConversion removes the record together with its output archive
	DeleteConversion(ctx context.Context, id string) error
}

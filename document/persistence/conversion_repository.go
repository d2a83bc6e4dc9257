package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dfryer1193/odtswap/document/domain"
	"github.com/dfryer1193/odtswap/shared/db"
)

var _ domain.ConversionRepository = (*SQLiteConversionRepository)(nil)

// SQLiteConversionRepository implements domain.ConversionRepository using SQL database (SQLite)
type SQLiteConversionRepository struct {
	db *sql.DB
}

// NewConversionRepository creates a new SQLiteConversionRepository from a standard sql.DB
func NewConversionRepository(sqlDB *sql.DB) *SQLiteConversionRepository {
	return &SQLiteConversionRepository{
		db: sqlDB,
	}
}

const upsertConversionQuery = `
	INSERT INTO conversions (
		id, source_name, image_name, image_mime, picture_entry,
		style_outcome, output_path, status, error, duration_ms, created_at
	)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		picture_entry = excluded.picture_entry,
		style_outcome = excluded.style_outcome,
		output_path = excluded.output_path,
		status = excluded.status,
		error = excluded.error,
		duration_ms = excluded.duration_ms
`

// SaveConversion inserts a conversion, or updates the outcome of an existing one
func (r *SQLiteConversionRepository) SaveConversion(ctx context.Context, c *domain.Conversion) error {
	if c == nil {
		return fmt.Errorf("conversion cannot be nil")
	}

	if c.ID == "" {
		return fmt.Errorf("conversion id cannot be empty")
	}

	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	executor := db.GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, upsertConversionQuery,
		c.ID,
		c.SourceName,
		c.ImageName,
		c.ImageMIME,
		c.PictureEntry,
		c.Style.String(),
		c.OutputPath,
		string(c.Status),
		c.Error,
		c.Duration.Milliseconds(),
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert conversion record: %w", err)
	}

	return nil
}

const selectConversionColumns = `
	SELECT id, source_name, image_name, image_mime, picture_entry,
		style_outcome, output_path, status, error, duration_ms, created_at
	FROM conversions
`

// GetConversion retrieves a single conversion by id
func (r *SQLiteConversionRepository) GetConversion(ctx context.Context, id string) (*domain.Conversion, error) {
	if id == "" {
		return nil, fmt.Errorf("conversion id cannot be empty")
	}

	executor := db.GetExecutor(ctx, r.db)
	row := executor.QueryRowContext(ctx, selectConversionColumns+` WHERE id = ?`, id)

	var cr conversionRow
	err := cr.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrConversionNotFound, id)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get conversion: %w", err)
	}

	return cr.toDomain(), nil
}

// ListConversions returns conversions newest first
func (r *SQLiteConversionRepository) ListConversions(ctx context.Context, limit int, offset int) ([]*domain.Conversion, error) {
	executor := db.GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx,
		selectConversionColumns+` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		limit,
		offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversions: %w", err)
	}
	defer rows.Close()

	conversions := []*domain.Conversion{}
	for rows.Next() {
		var cr conversionRow
		if err := cr.scan(rows); err != nil {
			return nil, fmt.Errorf("failed to scan conversion: %w", err)
		}
		conversions = append(conversions, cr.toDomain())
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversions: %w", err)
	}

	return conversions, nil
}

const deleteConversionQuery = `
	DELETE FROM conversions WHERE id = ?
`

// DeleteConversion removes a conversion record and its output archive within a transaction
func (r *SQLiteConversionRepository) DeleteConversion(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("conversion id cannot be empty")
	}

	return db.RunInTransaction(ctx, r.db, func(txCtx context.Context) error {
		conv, err := r.GetConversion(txCtx, id)
		if err != nil {
			return err
		}

		executor := db.GetExecutor(txCtx, r.db)
		if _, err := executor.ExecContext(txCtx, deleteConversionQuery, id); err != nil {
			return fmt.Errorf("failed to delete conversion record: %w", err)
		}

		// If this fails, the transaction rolls back and the record survives
		if conv.OutputPath != "" {
			if err := os.Remove(conv.OutputPath); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("failed to remove output archive: %w", err)
			}
		}

		return nil
	})
}

// conversionRow is a private struct used to scan database rows
type conversionRow struct {
	ID           string
	SourceName   string
	ImageName    string
	ImageMIME    string
	PictureEntry string
	StyleOutcome string
	OutputPath   string
	Status       string
	Error        string
	DurationMS   int64
	CreatedAt    time.Time
}

type scanner interface {
	Scan(dest ...any) error
}

func (cr *conversionRow) scan(s scanner) error {
	return s.Scan(
		&cr.ID,
		&cr.SourceName,
		&cr.ImageName,
		&cr.ImageMIME,
		&cr.PictureEntry,
		&cr.StyleOutcome,
		&cr.OutputPath,
		&cr.Status,
		&cr.Error,
		&cr.DurationMS,
		&cr.CreatedAt,
	)
}

func (cr *conversionRow) toDomain() *domain.Conversion {
	return &domain.Conversion{
		ID:           cr.ID,
		SourceName:   cr.SourceName,
		ImageName:    cr.ImageName,
		ImageMIME:    cr.ImageMIME,
		PictureEntry: cr.PictureEntry,
		Style:        domain.ParseStyleOutcome(cr.StyleOutcome),
		OutputPath:   cr.OutputPath,
		Status:       domain.ConversionStatus(cr.Status),
		Error:        cr.Error,
		Duration:     time.Duration(cr.DurationMS) * time.Millisecond,
		CreatedAt:    cr.CreatedAt,
	}
}

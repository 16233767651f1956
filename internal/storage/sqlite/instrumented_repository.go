package sqlite

import (
	"context"
	"database/sql"

	"github.com/italolelis/media_cache/internal/content"
	"github.com/italolelis/media_cache/internal/telemetry"
)

// InstrumentedContentRepository wraps ContentRepository with telemetry.
type InstrumentedContentRepository struct {
	repo      *ContentRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedContentRepository creates a new instrumented content repository.
func NewInstrumentedContentRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedContentRepository {
	return &InstrumentedContentRepository{
		repo:      NewContentRepository(dbConn),
		telemetry: tel,
	}
}

// Get retrieves the record for a key with telemetry.
func (r *InstrumentedContentRepository) Get(ctx context.Context, key content.Key) (*content.Record, error) {
	var result *content.Record

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(ctx, "get_content", func(ctx context.Context) error {
		result, err = r.repo.Get(ctx, key)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

// Insert adds a record with telemetry.
func (r *InstrumentedContentRepository) Insert(ctx context.Context, rec *content.Record) error {
	return r.telemetry.InstrumentDBOperation(ctx, "insert_content", func(ctx context.Context) error {
		return r.repo.Insert(ctx, rec)
	})
}

// Delete removes the record for a key with telemetry.
func (r *InstrumentedContentRepository) Delete(ctx context.Context, key content.Key) error {
	return r.telemetry.InstrumentDBOperation(ctx, "delete_content", func(ctx context.Context) error {
		return r.repo.Delete(ctx, key)
	})
}

// All lists every record with telemetry.
func (r *InstrumentedContentRepository) All(ctx context.Context) ([]*content.Record, error) {
	var result []*content.Record

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(ctx, "list_content", func(ctx context.Context) error {
		result, err = r.repo.All(ctx)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

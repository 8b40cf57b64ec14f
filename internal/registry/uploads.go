package registry

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/rawlclub/backend/internal/models"
)

// InsertFailedUpload dead-letters a content-store write. Pass a nil payload
// for artifacts not worth persisting (replay bytes); such rows are recorded
// for visibility but never retried.
func (r *Registry) InsertFailedUpload(ctx context.Context, matchID uuid.UUID, key string, payload []byte, lastError string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO failed_uploads (match_id, key, payload, last_error, status)
		VALUES ($1, $2, $3, $4, 'failed')
	`, matchID, key, payload, lastError)
	if err != nil {
		return fmt.Errorf("registry: insert failed upload: %w", err)
	}
	return nil
}

// RetryableUploads returns dead-letter rows that still have a payload and
// have not exhausted their retry budget.
func (r *Registry) RetryableUploads(ctx context.Context, maxRetries, limit int) ([]models.FailedUpload, error) {
	var out []models.FailedUpload
	err := r.db.SelectContext(ctx, &out, `
		SELECT * FROM failed_uploads
		WHERE status IN ('failed', 'retrying')
		  AND payload IS NOT NULL
		  AND retry_count < $1
		ORDER BY created_at
		LIMIT $2
	`, maxRetries, limit)
	if err != nil {
		return nil, fmt.Errorf("registry: retryable uploads: %w", err)
	}
	return out, nil
}

// MarkUploadResolved closes a dead-letter row after a successful retry.
func (r *Registry) MarkUploadResolved(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE failed_uploads SET status = 'resolved', updated_at = NOW() WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("registry: mark upload resolved: %w", err)
	}
	return nil
}

// RecordUploadAttempt bumps the retry counter after a failed retry.
func (r *Registry) RecordUploadAttempt(ctx context.Context, id int64, lastError string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE failed_uploads
		SET retry_count = retry_count + 1, last_error = $2, status = 'retrying', updated_at = NOW()
		WHERE id = $1
	`, id, lastError)
	if err != nil {
		return fmt.Errorf("registry: record upload attempt: %w", err)
	}
	return nil
}

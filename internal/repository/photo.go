package repository

import (
	"context"
	"fmt"

	"event-photo-backend/internal/models"
)

const photoColumns = `id, event_id, file_path, original_filename, mime_type, file_size,
	uploader_id, guest_name, guest_email, is_approved, uploaded_at`

// PhotoRepository handles database operations for photos
type PhotoRepository struct {
	db DBTX
}

// NewPhotoRepository creates a new photo repository
func NewPhotoRepository(db DBTX) *PhotoRepository {
	return &PhotoRepository{db: db}
}

func scanPhoto(row scanner) (*models.Photo, error) {
	var p models.Photo
	err := row.Scan(
		&p.ID, &p.EventID, &p.FilePath, &p.OriginalFilename, &p.MimeType, &p.FileSize,
		&p.UploaderID, &p.GuestName, &p.GuestEmail, &p.IsApproved, &p.UploadedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateIfAbsent inserts photo unless a row with the same file_path exists.
// It reports whether a row was inserted.
func (r *PhotoRepository) CreateIfAbsent(ctx context.Context, photo *models.Photo) (bool, error) {
	query := `
		INSERT INTO photos (event_id, file_path, original_filename, mime_type, file_size,
			uploader_id, guest_name, guest_email, is_approved)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (file_path) DO NOTHING
		RETURNING id, uploaded_at
	`
	rows, err := r.db.Query(ctx, query,
		photo.EventID, photo.FilePath, photo.OriginalFilename, photo.MimeType, photo.FileSize,
		photo.UploaderID, photo.GuestName, photo.GuestEmail, photo.IsApproved,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create photo: %w", err)
	}
	defer rows.Close()

	inserted := false
	if rows.Next() {
		if err := rows.Scan(&photo.ID, &photo.UploadedAt); err != nil {
			return false, fmt.Errorf("failed to scan photo id: %w", err)
		}
		inserted = true
	}
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("failed to create photo: %w", err)
	}
	return inserted, nil
}

// GetByID retrieves a photo by ID
func (r *PhotoRepository) GetByID(ctx context.Context, id int64) (*models.Photo, error) {
	query := `SELECT ` + photoColumns + ` FROM photos WHERE id = $1`
	photo, err := scanPhoto(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "photo")
	}
	return photo, nil
}

// ListByEvent returns an event's photos newest first. Pending photos are
// included only when includePending is set.
func (r *PhotoRepository) ListByEvent(ctx context.Context, eventID int64, includePending bool) ([]*models.Photo, error) {
	query := `SELECT ` + photoColumns + `
		FROM photos
		WHERE event_id = $1 AND (is_approved OR $2)
		ORDER BY uploaded_at DESC, id DESC`
	rows, err := r.db.Query(ctx, query, eventID, includePending)
	if err != nil {
		return nil, fmt.Errorf("failed to list photos: %w", err)
	}
	defer rows.Close()

	photos := []*models.Photo{}
	for rows.Next() {
		photo, err := scanPhoto(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan photo: %w", err)
		}
		photos = append(photos, photo)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list photos: %w", err)
	}
	return photos, nil
}

// CountByEvent counts approved and pending photos of an event
func (r *PhotoRepository) CountByEvent(ctx context.Context, eventID int64) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM photos WHERE event_id = $1`, eventID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count photos: %w", err)
	}
	return count, nil
}

// Approve marks a photo approved
func (r *PhotoRepository) Approve(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `UPDATE photos SET is_approved = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to approve photo: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("photo %w", ErrNotFound)
	}
	return nil
}

// Delete deletes a photo by ID
func (r *PhotoRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM photos WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete photo: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("photo %w", ErrNotFound)
	}
	return nil
}

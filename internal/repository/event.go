package repository

import (
	"context"
	"fmt"
	"time"

	"event-photo-backend/internal/models"
)

const eventColumns = `id, name, event_date, event_code, access_code, is_public,
	allow_guest_uploads, require_approval, owner_id, created_at`

// EventRepository handles database operations for events
type EventRepository struct {
	db DBTX
}

// NewEventRepository creates a new event repository
func NewEventRepository(db DBTX) *EventRepository {
	return &EventRepository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (*models.Event, error) {
	var e models.Event
	err := row.Scan(
		&e.ID, &e.Name, &e.EventDate, &e.EventCode, &e.AccessCode, &e.IsPublic,
		&e.AllowGuestUploads, &e.RequireApproval, &e.OwnerID, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Create inserts a new event and fills in ID and CreatedAt.
// A duplicate event or access code yields ErrConflict.
func (r *EventRepository) Create(ctx context.Context, event *models.Event) error {
	query := `
		INSERT INTO events (name, event_date, event_code, access_code, is_public,
			allow_guest_uploads, require_approval, owner_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`
	err := r.db.QueryRow(ctx, query,
		event.Name, event.EventDate, event.EventCode, event.AccessCode, event.IsPublic,
		event.AllowGuestUploads, event.RequireApproval, event.OwnerID,
	).Scan(&event.ID, &event.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("event code taken: %w", ErrConflict)
		}
		return fmt.Errorf("failed to create event: %w", err)
	}
	return nil
}

// GetByID retrieves an event by ID
func (r *EventRepository) GetByID(ctx context.Context, id int64) (*models.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE id = $1`
	event, err := scanEvent(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "event")
	}
	return event, nil
}

// GetByCode retrieves an event by its public event code
func (r *EventRepository) GetByCode(ctx context.Context, code string) (*models.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE upper(event_code) = upper($1)`
	event, err := scanEvent(r.db.QueryRow(ctx, query, code))
	if err != nil {
		return nil, notFound(err, "event")
	}
	return event, nil
}

// FindRecentDuplicate returns the newest event of owner with the same
// normalized name and date created at or after since. The SQL folding
// matches models.NormalizeEventName.
func (r *EventRepository) FindRecentDuplicate(ctx context.Context, ownerID int64, normalizedName string, date time.Time, since time.Time) (*models.Event, error) {
	query := `SELECT ` + eventColumns + `
		FROM events
		WHERE owner_id = $1 AND lower(btrim(regexp_replace(name, '\s+', ' ', 'g'))) = $2 AND event_date = $3 AND created_at >= $4
		ORDER BY created_at DESC
		LIMIT 1`
	event, err := scanEvent(r.db.QueryRow(ctx, query, ownerID, normalizedName, date, since))
	if err != nil {
		return nil, notFound(err, "event")
	}
	return event, nil
}

// ListByOwner returns every event owned by ownerID, newest first
func (r *EventRepository) ListByOwner(ctx context.Context, ownerID int64) ([]*models.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE owner_id = $1 ORDER BY created_at DESC`
	rows, err := r.db.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []*models.Event{}
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return events, nil
}

// UpdateSettings persists visibility and upload policy flags
func (r *EventRepository) UpdateSettings(ctx context.Context, event *models.Event) error {
	query := `
		UPDATE events
		SET name = $2, is_public = $3, allow_guest_uploads = $4, require_approval = $5
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, event.ID, event.Name, event.IsPublic, event.AllowGuestUploads, event.RequireApproval)
	if err != nil {
		return fmt.Errorf("failed to update event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("event %w", ErrNotFound)
	}
	return nil
}

// Delete removes an event. Photos and memberships cascade.
func (r *EventRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM events WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("event %w", ErrNotFound)
	}
	return nil
}

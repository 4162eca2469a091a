package repository

import (
	"context"
	"fmt"

	"event-photo-backend/internal/models"
)

// MemberRepository handles event-scoped role assignments
type MemberRepository struct {
	db DBTX
}

// NewMemberRepository creates a new member repository
func NewMemberRepository(db DBTX) *MemberRepository {
	return &MemberRepository{db: db}
}

// Upsert grants or changes a user's role on an event
func (r *MemberRepository) Upsert(ctx context.Context, m *models.EventMember) error {
	query := `
		INSERT INTO event_members (event_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_id, user_id) DO UPDATE SET role = EXCLUDED.role
		RETURNING created_at
	`
	if err := r.db.QueryRow(ctx, query, m.EventID, m.UserID, string(m.Role)).Scan(&m.CreatedAt); err != nil {
		return fmt.Errorf("failed to save member: %w", err)
	}
	return nil
}

// GetRole returns the role of userID on eventID, or ErrNotFound.
func (r *MemberRepository) GetRole(ctx context.Context, eventID, userID int64) (models.Role, error) {
	var role string
	err := r.db.QueryRow(ctx,
		`SELECT role FROM event_members WHERE event_id = $1 AND user_id = $2`,
		eventID, userID,
	).Scan(&role)
	if err != nil {
		return "", notFound(err, "member")
	}
	return models.Role(role), nil
}

// Remove revokes a user's role on an event
func (r *MemberRepository) Remove(ctx context.Context, eventID, userID int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM event_members WHERE event_id = $1 AND user_id = $2`, eventID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("member %w", ErrNotFound)
	}
	return nil
}

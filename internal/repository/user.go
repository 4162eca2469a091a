package repository

import (
	"context"
	"fmt"

	"event-photo-backend/internal/models"
)

// UserRepository handles database operations for users
type UserRepository struct {
	db DBTX
}

// NewUserRepository creates a new user repository
func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

// Create creates a new user
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (email, plan, is_admin)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`
	err := r.db.QueryRow(ctx, query, user.Email, user.Plan, user.IsAdmin).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("email already registered: %w", ErrConflict)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	query := `
		SELECT id, email, plan, is_admin, push_token, created_at
		FROM users
		WHERE id = $1
	`
	var user models.User
	err := r.db.QueryRow(ctx, query, id).Scan(
		&user.ID, &user.Email, &user.Plan, &user.IsAdmin, &user.PushToken, &user.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err, "user")
	}
	return &user, nil
}

// GetPlan returns the subscription plan name of a user
func (r *UserRepository) GetPlan(ctx context.Context, id int64) (string, error) {
	var plan string
	if err := r.db.QueryRow(ctx, `SELECT plan FROM users WHERE id = $1`, id).Scan(&plan); err != nil {
		return "", notFound(err, "user")
	}
	return plan, nil
}

// UpdatePushToken stores the APNs device token of a user
func (r *UserRepository) UpdatePushToken(ctx context.Context, id int64, token string) error {
	tag, err := r.db.Exec(ctx, `UPDATE users SET push_token = NULLIF($2, '') WHERE id = $1`, id, token)
	if err != nil {
		return fmt.Errorf("failed to update push token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %w", ErrNotFound)
	}
	return nil
}

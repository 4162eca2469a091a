package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"event-photo-backend/internal/models"
)

const jwtExpDays = 30

// Claims identifies an authenticated user
type Claims struct {
	UserID  int64
	IsAdmin bool
}

// UserService handles user-related business logic
type UserService struct {
	userRepo  UserRepository
	jwtSecret string
}

// NewUserService creates a new user service
func NewUserService(userRepo UserRepository, jwtSecret string) *UserService {
	return &UserService{
		userRepo:  userRepo,
		jwtSecret: jwtSecret,
	}
}

// GenerateJWT generates a JWT token for a user
func (s *UserService) GenerateJWT(userID int64, isAdmin bool, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = jwtExpDays * 24 * time.Hour
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"user_id":  userID,
		"is_admin": isAdmin,
		"exp":      now.Add(ttl).Unix(),
		"iat":      now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

// ValidateJWT validates a JWT token and returns its claims
func (s *UserService) ValidateJWT(tokenString string) (*Claims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.jwtSecret), nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}

	// JSON numbers decode as float64
	rawID, ok := claims["user_id"].(float64)
	if !ok || rawID <= 0 {
		return nil, fmt.Errorf("user_id not found in token")
	}
	isAdmin, _ := claims["is_admin"].(bool)

	return &Claims{UserID: int64(rawID), IsAdmin: isAdmin}, nil
}

// GetUser returns the account of userID
func (s *UserService) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, lookupErr(err, "user")
	}
	return user, nil
}

// RegisterPushToken stores the APNs device token of a host
func (s *UserService) RegisterPushToken(ctx context.Context, userID int64, token string) error {
	token = strings.TrimSpace(token)
	if token == "" || len(token) > 200 {
		return invalid("invalid device token")
	}
	if err := s.userRepo.UpdatePushToken(ctx, userID, token); err != nil {
		return lookupErr(err, "user")
	}
	return nil
}

package services

import (
	"errors"
	"fmt"
	"time"

	"event-photo-backend/internal/repository"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrForbidden        = errors.New("forbidden")
	ErrInvalidInput     = errors.New("invalid input")
	ErrCapacityExceeded = errors.New("capacity exceeded")
	ErrRateLimited      = errors.New("rate limited")
	ErrConflict         = errors.New("conflict")
	ErrUpstream         = errors.New("upstream failure")
)

// RateLimitedError reports a rejected call and when to retry.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("too many requests, retry in %s", e.RetryAfter.Round(time.Second))
}

func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, msg)
}

func forbidden(msg string) error {
	return fmt.Errorf("%w: %s", ErrForbidden, msg)
}

// lookupErr maps a repository miss to ErrNotFound.
func lookupErr(err error, what string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %s not found", ErrNotFound, what)
	}
	return fmt.Errorf("failed to load %s: %w", what, err)
}

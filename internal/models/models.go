package models

import (
	"strings"
	"time"
)

// User represents a host account
type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Plan      string    `json:"plan"`
	IsAdmin   bool      `json:"is_admin"`
	PushToken *string   `json:"push_token,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Event represents a photo-sharing event owned by a host
type Event struct {
	ID                int64     `json:"id"`
	Name              string    `json:"name"`
	EventDate         time.Time `json:"event_date"`
	EventCode         string    `json:"event_code"`
	AccessCode        string    `json:"access_code,omitempty"`
	IsPublic          bool      `json:"is_public"`
	AllowGuestUploads bool      `json:"allow_guest_uploads"`
	RequireApproval   bool      `json:"require_approval"`
	OwnerID           int64     `json:"owner_id"`
	CreatedAt         time.Time `json:"created_at"`
}

// PublicView strips the private access code.
func (e *Event) PublicView() *Event {
	cp := *e
	cp.AccessCode = ""
	return &cp
}

// Role is an event-scoped membership role
type Role string

const (
	RoleViewer      Role = "viewer"
	RoleContributor Role = "contributor"
	RoleModerator   Role = "moderator"
)

// CanRead reports whether the role grants gallery access.
func (r Role) CanRead() bool {
	switch r {
	case RoleViewer, RoleContributor, RoleModerator:
		return true
	}
	return false
}

// CanUpload reports whether the role grants upload access.
func (r Role) CanUpload() bool {
	return r == RoleContributor || r == RoleModerator
}

// CanModerate reports whether the role grants moderation access.
func (r Role) CanModerate() bool {
	return r == RoleModerator
}

// EventMember grants a user a role on an event
type EventMember struct {
	EventID   int64     `json:"event_id"`
	UserID    int64     `json:"user_id"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// Photo represents an uploaded photo
type Photo struct {
	ID               int64     `json:"id"`
	EventID          int64     `json:"event_id"`
	FilePath         string    `json:"-"`
	OriginalFilename string    `json:"original_filename"`
	MimeType         string    `json:"mime_type"`
	FileSize         int64     `json:"file_size"`
	UploaderID       *int64    `json:"uploader_id,omitempty"`
	GuestName        *string   `json:"guest_name,omitempty"`
	GuestEmail       *string   `json:"-"`
	IsApproved       bool      `json:"is_approved"`
	UploadedAt       time.Time `json:"uploaded_at"`
}

// NormalizeEventName folds case and collapses every whitespace run to one
// space. Duplicate-event detection compares names in this form.
func NormalizeEventName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

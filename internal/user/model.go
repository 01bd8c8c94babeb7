// Package user provides the user model and repository for profile management.
package user

import (
	"errors"
	"strings"
	"time"

	"github.com/veritrail/veritrail/internal/validate"
)

// Common errors for user operations.
var (
	ErrUserNotFound = errors.New("user not found")
	ErrEmailTaken   = errors.New("email already in use")
	ErrMissingName  = errors.New("name is required")
	ErrInvalidName  = errors.New("name is invalid")
	ErrMissingEmail = errors.New("email is required")
	ErrInvalidEmail = errors.New("email format is invalid")
	ErrInvalidTitle = errors.New("title is invalid")
)

// User represents a registered user profile.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Title string `json:"title,omitempty"`

	// Stamping fields record which authenticated actor performed
	// the mutation. Populated by StampedRepository.
	CreatedBy string `json:"created_by,omitempty"`
	UpdatedBy string `json:"updated_by,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the user's required fields and normalizes them in place.
// The email comes back lowercased and trimmed so uniqueness checks and the
// audit trail see one canonical form.
func (u *User) Validate() error {
	name, err := validate.PersonName(u.Name)
	if errors.Is(err, validate.ErrEmpty) {
		return ErrMissingName
	}
	if err != nil {
		return ErrInvalidName
	}
	u.Name = name

	if strings.TrimSpace(u.Email) == "" {
		return ErrMissingEmail
	}
	email, err := validate.Email(u.Email)
	if err != nil {
		return ErrInvalidEmail
	}
	u.Email = email

	title, err := validate.JobTitle(u.Title)
	if err != nil {
		return ErrInvalidTitle
	}
	u.Title = title

	return nil
}

// Update describes a partial update to a user profile.
// Nil fields are left unchanged.
type Update struct {
	Name  *string `json:"name,omitempty"`
	Email *string `json:"email,omitempty"`
	Title *string `json:"title,omitempty"`

	// UpdatedBy is stamped by StampedRepository, never decoded from clients.
	UpdatedBy string `json:"-"`
}

// Apply copies the non-nil fields of the update onto the user.
func (p Update) Apply(u *User) {
	if p.UpdatedBy != "" {
		u.UpdatedBy = p.UpdatedBy
	}
	if p.Name != nil {
		u.Name = *p.Name
	}
	if p.Email != nil {
		u.Email = *p.Email
	}
	if p.Title != nil {
		u.Title = *p.Title
	}
}

// ListOptions controls pagination for List.
type ListOptions struct {
	Limit  int
	Offset int
}

// DefaultListLimit caps unbounded list requests.
const DefaultListLimit = 50

package user

import (
	"context"

	"github.com/veritrail/veritrail/internal/middleware"
)

// StampedRepository wraps a Repository and records the authenticated actor
// on every mutation. The actor is read from the request context populated
// by the auth middleware; anonymous mutations are stored without stamps.
type StampedRepository struct {
	inner Repository
}

// NewStampedRepository wraps a repository with actor stamping.
func NewStampedRepository(inner Repository) *StampedRepository {
	return &StampedRepository{inner: inner}
}

// Create stamps created_by and updated_by with the acting identity.
func (r *StampedRepository) Create(ctx context.Context, u *User) (*User, error) {
	if actor := middleware.GetActor(ctx); actor != "" {
		u.CreatedBy = actor
		u.UpdatedBy = actor
	}
	return r.inner.Create(ctx, u)
}

// GetByID delegates to the wrapped repository. Reads are not stamped.
func (r *StampedRepository) GetByID(ctx context.Context, id string) (*User, error) {
	return r.inner.GetByID(ctx, id)
}

// List delegates to the wrapped repository.
func (r *StampedRepository) List(ctx context.Context, opts ListOptions) ([]*User, error) {
	return r.inner.List(ctx, opts)
}

// Update stamps updated_by with the acting identity.
func (r *StampedRepository) Update(ctx context.Context, id string, patch Update) (*User, error) {
	if actor := middleware.GetActor(ctx); actor != "" {
		patch.UpdatedBy = actor
	}
	return r.inner.Update(ctx, id, patch)
}

// Delete delegates to the wrapped repository. The audit trail records
// the deleting actor at the handler layer.
func (r *StampedRepository) Delete(ctx context.Context, id string) (*User, error) {
	return r.inner.Delete(ctx, id)
}

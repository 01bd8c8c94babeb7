package user

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/veritrail/veritrail/internal/tracing"
)

// Repository defines the interface for user persistence.
type Repository interface {
	// Create inserts a new user. A UUID is assigned if the ID is empty.
	// Returns ErrEmailTaken if the email is already registered.
	Create(ctx context.Context, u *User) (*User, error)

	// GetByID retrieves a user by UUID. Returns ErrUserNotFound if absent.
	GetByID(ctx context.Context, id string) (*User, error)

	// List returns users ordered by creation time, newest first.
	List(ctx context.Context, opts ListOptions) ([]*User, error)

	// Update applies a partial update to a user.
	// Returns ErrUserNotFound if the user does not exist.
	Update(ctx context.Context, id string, patch Update) (*User, error)

	// Delete removes a user. Returns ErrUserNotFound if absent.
	Delete(ctx context.Context, id string) (*User, error)
}

// PostgresRepository implements Repository backed by PostgreSQL.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a new Postgres-backed user repository.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const userColumns = "id, name, email, title, created_by, updated_by, created_at, updated_at"

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	var title, createdBy, updatedBy sql.NullString
	err := row.Scan(&u.ID, &u.Name, &u.Email, &title, &createdBy, &updatedBy, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	u.Title = title.String
	u.CreatedBy = createdBy.String
	u.UpdatedBy = updatedBy.String
	return &u, nil
}

// Create inserts a new user.
func (r *PostgresRepository) Create(ctx context.Context, u *User) (_ *User, err error) {
	if err := u.Validate(); err != nil {
		return nil, err
	}
	if u.ID == "" {
		u.ID = uuid.New().String()
	}

	ctx, end := tracing.StartDBSpan(ctx, "users", tracing.DBOperationInsert)
	defer func() { end(err) }()

	query := `
		INSERT INTO users (id, name, email, title, created_by, updated_by)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''))
		RETURNING ` + userColumns

	created, err := scanUser(r.db.QueryRowContext(ctx, query,
		u.ID, u.Name, strings.ToLower(u.Email), u.Title, u.CreatedBy, u.UpdatedBy))
	if err != nil {
		var pqErr *pq.Error
		// 23505 = unique_violation
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	return created, nil
}

// GetByID retrieves a user by UUID.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (_ *User, err error) {
	ctx, end := tracing.StartDBSpan(ctx, "users", tracing.DBOperationQuery)
	defer func() { end(err) }()

	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	u, err := scanUser(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// List returns users ordered by creation time, newest first.
func (r *PostgresRepository) List(ctx context.Context, opts ListOptions) (_ []*User, err error) {
	ctx, end := tracing.StartDBSpan(ctx, "users", tracing.DBOperationQuery)
	defer func() { end(err) }()

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + userColumns + ` FROM users ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

// Update applies a partial update to a user.
func (r *PostgresRepository) Update(ctx context.Context, id string, patch Update) (_ *User, err error) {
	ctx, end := tracing.StartDBSpan(ctx, "users", tracing.DBOperationUpdate)
	defer func() { end(err) }()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	current, err := scanUser(tx.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	patch.Apply(current)
	if err := current.Validate(); err != nil {
		return nil, err
	}

	query := `
		UPDATE users
		SET name = $2, email = $3, title = NULLIF($4, ''), updated_by = NULLIF($5, ''), updated_at = now()
		WHERE id = $1
		RETURNING ` + userColumns

	updated, err := scanUser(tx.QueryRowContext(ctx, query,
		id, current.Name, strings.ToLower(current.Email), current.Title, current.UpdatedBy))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, ErrEmailTaken
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes a user and returns the deleted row.
func (r *PostgresRepository) Delete(ctx context.Context, id string) (_ *User, err error) {
	ctx, end := tracing.StartDBSpan(ctx, "users", tracing.DBOperationDelete)
	defer func() { end(err) }()

	query := `DELETE FROM users WHERE id = $1 RETURNING ` + userColumns

	u, err := scanUser(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// InMemoryRepository implements Repository with in-memory storage.
// Thread-safe via RWMutex. Intended for tests.
type InMemoryRepository struct {
	mu    sync.RWMutex
	users map[string]*User
	order []string // insertion order, newest appended last
}

// NewInMemoryRepository creates a new in-memory user repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		users: make(map[string]*User),
	}
}

// Create inserts a new user.
func (r *InMemoryRepository) Create(ctx context.Context, u *User) (*User, error) {
	if err := u.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	email := strings.ToLower(u.Email)
	for _, existing := range r.users {
		if strings.ToLower(existing.Email) == email {
			return nil, ErrEmailTaken
		}
	}

	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	now := time.Now()
	u.Email = email
	u.CreatedAt = now
	u.UpdatedAt = now

	copied := *u
	r.users[u.ID] = &copied
	r.order = append(r.order, u.ID)

	result := copied
	return &result, nil
}

// GetByID retrieves a user by UUID.
func (r *InMemoryRepository) GetByID(ctx context.Context, id string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	copied := *u
	return &copied, nil
}

// List returns users ordered by creation time, newest first.
func (r *InMemoryRepository) List(ctx context.Context, opts ListOptions) ([]*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	var users []*User
	// Walk newest-first
	for i := len(r.order) - 1; i >= 0; i-- {
		u, ok := r.users[r.order[i]]
		if !ok {
			continue
		}
		if offset > 0 {
			offset--
			continue
		}
		if len(users) >= limit {
			break
		}
		copied := *u
		users = append(users, &copied)
	}
	return users, nil
}

// Update applies a partial update to a user.
func (r *InMemoryRepository) Update(ctx context.Context, id string, patch Update) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}

	updated := *existing
	patch.Apply(&updated)
	if err := updated.Validate(); err != nil {
		return nil, err
	}

	email := strings.ToLower(updated.Email)
	for otherID, other := range r.users {
		if otherID != id && strings.ToLower(other.Email) == email {
			return nil, ErrEmailTaken
		}
	}

	updated.Email = email
	updated.UpdatedAt = time.Now()
	r.users[id] = &updated

	copied := updated
	return &copied, nil
}

// Delete removes a user and returns the deleted record.
func (r *InMemoryRepository) Delete(ctx context.Context, id string) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	delete(r.users, id)

	copied := *u
	return &copied, nil
}

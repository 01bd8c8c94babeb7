package user

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	veridb "github.com/veritrail/veritrail/internal/db"
)

// startPostgres spins up a throwaway Postgres container and applies the
// users migration. Skipped in short mode and when Docker is unavailable.
func startPostgres(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	ctx := context.Background()

	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("veritrail_test"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("could not start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(ctr); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	connStr, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}

	db, err := veridb.Open(ctx, connStr)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	migration, err := os.ReadFile(filepath.Join("..", "..", "migrations", "000001_create_users.up.sql"))
	if err != nil {
		t.Fatalf("failed to read migration: %v", err)
	}
	if _, err := db.ExecContext(ctx, string(migration)); err != nil {
		t.Fatalf("failed to apply migration: %v", err)
	}

	return db
}

func TestPostgresRepository_CRUD(t *testing.T) {
	db := startPostgres(t)
	repo := NewPostgresRepository(db)
	ctx := context.Background()

	// Create
	created, err := repo.Create(ctx, &User{
		Name:      "Alice",
		Email:     "Alice@Example.com",
		Title:     "Engineer",
		CreatedBy: "admin@example.com",
		UpdatedBy: "admin@example.com",
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if created.Email != "alice@example.com" {
		t.Errorf("Create() email = %s, want lowercased alice@example.com", created.Email)
	}
	if created.CreatedBy != "admin@example.com" {
		t.Errorf("Create() created_by = %s, want admin@example.com", created.CreatedBy)
	}
	if created.CreatedAt.IsZero() {
		t.Error("Create() did not return created_at")
	}

	// Duplicate email
	_, err = repo.Create(ctx, &User{Name: "Clone", Email: "alice@example.com"})
	if !errors.Is(err, ErrEmailTaken) {
		t.Errorf("Create() duplicate email error = %v, want ErrEmailTaken", err)
	}

	// Get
	got, err := repo.GetByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Name != "Alice" || got.Title != "Engineer" {
		t.Errorf("GetByID() = %+v, want Alice/Engineer", got)
	}

	// Update
	newName := "Alice Cooper"
	updated, err := repo.Update(ctx, created.ID, Update{Name: &newName, UpdatedBy: "editor@example.com"})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.Name != "Alice Cooper" {
		t.Errorf("Update() name = %s, want Alice Cooper", updated.Name)
	}
	if updated.UpdatedBy != "editor@example.com" {
		t.Errorf("Update() updated_by = %s, want editor@example.com", updated.UpdatedBy)
	}
	if updated.Email != "alice@example.com" {
		t.Errorf("Update() email = %s, want alice@example.com (unchanged)", updated.Email)
	}

	// List
	if _, err := repo.Create(ctx, &User{Name: "Bob", Email: "bob@example.com"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	users, err := repo.List(ctx, ListOptions{Limit: 10})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(users) != 2 {
		t.Errorf("List() returned %d users, want 2", len(users))
	}

	// Delete
	deleted, err := repo.Delete(ctx, created.ID)
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if deleted.ID != created.ID {
		t.Errorf("Delete() returned ID %s, want %s", deleted.ID, created.ID)
	}
	if _, err := repo.GetByID(ctx, created.ID); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("GetByID() after delete error = %v, want ErrUserNotFound", err)
	}
}

func TestPostgresRepository_UpdateMissing(t *testing.T) {
	db := startPostgres(t)
	repo := NewPostgresRepository(db)

	name := "Ghost"
	_, err := repo.Update(context.Background(), "00000000-0000-0000-0000-000000000000", Update{Name: &name})
	if !errors.Is(err, ErrUserNotFound) {
		t.Errorf("Update() error = %v, want ErrUserNotFound", err)
	}
}

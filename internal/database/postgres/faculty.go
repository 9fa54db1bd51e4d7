package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/kozaktomas/face-attendance/internal/database"
)

// FacultyRepository provides PostgreSQL-backed faculty accounts
type FacultyRepository struct {
	pool *Pool
}

// NewFacultyRepository creates a new PostgreSQL faculty repository
func NewFacultyRepository(pool *Pool) *FacultyRepository {
	return &FacultyRepository{pool: pool}
}

var _ database.FacultyWriter = (*FacultyRepository)(nil)

// GetFacultyByEmail retrieves an account by its login email (case-insensitive)
func (r *FacultyRepository) GetFacultyByEmail(ctx context.Context, email string) (*database.StoredFaculty, error) {
	var f database.StoredFaculty
	err := r.pool.QueryRow(ctx,
		"SELECT id, email, name, password_hash, created_at FROM faculty WHERE email = $1",
		strings.ToLower(strings.TrimSpace(email)),
	).Scan(&f.ID, &f.Email, &f.Name, &f.PasswordHash, &f.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("faculty %s: %w", email, database.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get faculty: %w", err)
	}
	return &f, nil
}

// CreateFaculty stores a new account
func (r *FacultyRepository) CreateFaculty(ctx context.Context, faculty *database.StoredFaculty) error {
	if faculty.ID == "" {
		faculty.ID = uuid.NewString()
	}
	faculty.Email = strings.ToLower(strings.TrimSpace(faculty.Email))

	err := r.pool.QueryRow(ctx,
		"INSERT INTO faculty (id, email, name, password_hash) VALUES ($1, $2, $3, $4) RETURNING created_at",
		faculty.ID, faculty.Email, faculty.Name, faculty.PasswordHash,
	).Scan(&faculty.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%s: %w", faculty.Email, database.ErrDuplicateFaculty)
	}
	if err != nil {
		return fmt.Errorf("create faculty: %w", err)
	}
	return nil
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/pgvector/pgvector-go"
)

// StudentRepository provides PostgreSQL-backed enrollment storage
type StudentRepository struct {
	pool *Pool
}

// NewStudentRepository creates a new PostgreSQL student repository
func NewStudentRepository(pool *Pool) *StudentRepository {
	return &StudentRepository{pool: pool}
}

var _ database.StudentWriter = (*StudentRepository)(nil)

const studentColumns = `id, faculty_id, name, roll_number, subject, section, descriptor, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStudent(row rowScanner) (*database.StoredStudent, error) {
	var s database.StoredStudent
	var vec *pgvector.Vector
	if err := row.Scan(&s.ID, &s.FacultyID, &s.Name, &s.RollNumber, &s.Subject, &s.Section, &vec, &s.CreatedAt); err != nil {
		return nil, err
	}
	if vec != nil {
		s.Descriptor = vec.Slice()
	}
	return &s, nil
}

func descriptorParam(descriptor []float32) any {
	if len(descriptor) == 0 {
		return nil
	}
	return pgvector.NewVector(descriptor)
}

// FindRoster returns the students of a subject/section ordered by roll number.
// Rows that fail validation are skipped and logged.
func (r *StudentRepository) FindRoster(ctx context.Context, subject, section, facultyID string) ([]database.StoredStudent, error) {
	query := `SELECT ` + studentColumns + `
		FROM students
		WHERE faculty_id = $1 AND subject = $2 AND section = $3
		ORDER BY roll_number, id`

	rows, err := r.pool.Query(ctx, query, facultyID, subject, section)
	if err != nil {
		return nil, fmt.Errorf("find roster: %w", err)
	}
	defer rows.Close()

	var roster []database.StoredStudent
	for rows.Next() {
		s, err := scanStudent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan student: %w", err)
		}
		if err := s.Validate(); err != nil {
			slog.Warn("skipping invalid roster row", "subject", subject, "section", section, "error", err)
			continue
		}
		roster = append(roster, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roster: %w", err)
	}
	return roster, nil
}

// GetStudent retrieves a student by ID
func (r *StudentRepository) GetStudent(ctx context.Context, id string) (*database.StoredStudent, error) {
	query := `SELECT ` + studentColumns + ` FROM students WHERE id = $1`

	s, err := scanStudent(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("student %s: %w", id, database.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get student: %w", err)
	}
	return s, nil
}

// CreateStudent enrolls a student and fills in its ID and creation time
func (r *StudentRepository) CreateStudent(ctx context.Context, student *database.StoredStudent) error {
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	query := `
		INSERT INTO students (id, faculty_id, name, roll_number, subject, section, descriptor)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`

	err := r.pool.QueryRow(ctx, query,
		student.ID, student.FacultyID, student.Name, student.RollNumber,
		student.Subject, student.Section, descriptorParam(student.Descriptor),
	).Scan(&student.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("roll number %s in %s %s: %w", student.RollNumber, student.Subject, student.Section, database.ErrDuplicateStudent)
	}
	if err != nil {
		return fmt.Errorf("create student: %w", err)
	}
	return nil
}

// UpdateDescriptor replaces a student's face descriptor
func (r *StudentRepository) UpdateDescriptor(ctx context.Context, id string, descriptor []float32) error {
	result, err := r.pool.Exec(ctx, "UPDATE students SET descriptor = $2 WHERE id = $1", id, descriptorParam(descriptor))
	if err != nil {
		return fmt.Errorf("update descriptor: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update descriptor: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("student %s: %w", id, database.ErrNotFound)
	}
	return nil
}

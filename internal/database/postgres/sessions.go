package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/lib/pq"
)

// SessionRepository provides PostgreSQL-backed attendance session storage.
// A session row and its records are always written in one transaction.
type SessionRepository struct {
	pool *Pool
}

// NewSessionRepository creates a new PostgreSQL session repository
func NewSessionRepository(pool *Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

var _ database.SessionWriter = (*SessionRepository)(nil)

const sessionColumns = `id, faculty_id, subject, section, session_type, hours, session_date,
	total_students, present_students, absent_students, version, created_at, updated_at`

func scanSession(row rowScanner) (*database.StoredSession, error) {
	var s database.StoredSession
	var hours pq.Int64Array
	var date time.Time
	err := row.Scan(&s.ID, &s.FacultyID, &s.Subject, &s.Section, &s.SessionType, &hours, &date,
		&s.TotalStudents, &s.PresentStudents, &s.AbsentStudents, &s.Version, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.Hours = make([]int, len(hours))
	for i, h := range hours {
		s.Hours[i] = int(h)
	}
	s.Date = dateValue(date)
	return &s, nil
}

func hoursParam(hours []int) []int64 {
	out := make([]int64, len(hours))
	for i, h := range hours {
		out[i] = int64(h)
	}
	return out
}

func loadRecords(ctx context.Context, tx *sql.Tx, session *database.StoredSession) error {
	query := `
		SELECT student_id, student_name, roll_number, is_present, marked_at, confidence
		FROM attendance_records
		WHERE session_id = $1
		ORDER BY position`

	rows, err := tx.QueryContext(ctx, query, session.ID)
	if err != nil {
		return fmt.Errorf("load records: %w", err)
	}
	defer rows.Close()

	session.Records = session.Records[:0]
	for rows.Next() {
		var rec database.StoredRecord
		var markedAt sql.NullTime
		var confidence sql.NullFloat64
		if err := rows.Scan(&rec.StudentID, &rec.StudentName, &rec.RollNumber, &rec.IsPresent, &markedAt, &confidence); err != nil {
			return fmt.Errorf("scan record: %w", err)
		}
		if markedAt.Valid {
			t := markedAt.Time
			rec.MarkedAt = &t
		}
		if confidence.Valid {
			c := confidence.Float64
			rec.Confidence = &c
		}
		session.Records = append(session.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate records: %w", err)
	}
	return nil
}

// loadSession reads a session row and its records from one snapshot, so a
// concurrent save can never pair old counters with new records.
func (r *SessionRepository) loadSession(ctx context.Context, notFound string, query string, args ...any) (*database.StoredSession, error) {
	tx, err := r.pool.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	s, err := scanSession(tx.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", notFound, database.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if err := loadRecords(ctx, tx, s); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit session read: %w", err)
	}
	return s, nil
}

// GetSession retrieves a session with its records
func (r *SessionRepository) GetSession(ctx context.Context, id string) (*database.StoredSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM attendance_sessions WHERE id = $1`
	return r.loadSession(ctx, id, query, id)
}

// FindSessionByKey retrieves the session for a natural key
func (r *SessionRepository) FindSessionByKey(ctx context.Context, key database.SessionKey) (*database.StoredSession, error) {
	query := `SELECT ` + sessionColumns + `
		FROM attendance_sessions
		WHERE faculty_id = $1 AND subject = $2 AND section = $3 AND session_type = $4 AND session_date = $5`
	return r.loadSession(ctx, key.String(), query,
		key.FacultyID, key.Subject, key.Section, key.SessionType, dateParam(key.Date))
}

// ListSessions returns sessions between two days without their records, newest first
func (r *SessionRepository) ListSessions(ctx context.Context, facultyID string, from, to time.Time) ([]database.StoredSession, error) {
	query := `SELECT ` + sessionColumns + `
		FROM attendance_sessions
		WHERE faculty_id = $1 AND session_date BETWEEN $2 AND $3
		ORDER BY session_date DESC, created_at DESC`

	rows, err := r.pool.Query(ctx, query, facultyID, dateParam(from), dateParam(to))
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []database.StoredSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// CreateSession inserts a session and its records at version 1
func (r *SessionRepository) CreateSession(ctx context.Context, session *database.StoredSession) error {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO attendance_sessions (id, faculty_id, subject, section, session_type, hours, session_date,
			total_students, present_students, absent_students, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1)
		RETURNING version, created_at, updated_at`

	err = tx.QueryRowContext(ctx, query,
		session.ID, session.FacultyID, session.Subject, session.Section, session.SessionType,
		pq.Array(hoursParam(session.Hours)), dateParam(session.Date),
		session.TotalStudents, session.PresentStudents, session.AbsentStudents,
	).Scan(&session.Version, &session.CreatedAt, &session.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("session %s: %w", session.Key(), database.ErrDuplicateSession)
	}
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	if err := upsertRecords(ctx, tx, session); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit session: %w", err)
	}
	return nil
}

// SaveSession writes counters and records if the stored version still matches
// session.Version, then bumps the version.
func (r *SessionRepository) SaveSession(ctx context.Context, session *database.StoredSession) error {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		UPDATE attendance_sessions
		SET total_students = $3, present_students = $4, absent_students = $5,
			version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at`

	var version int64
	var updatedAt time.Time
	err = tx.QueryRowContext(ctx, query,
		session.ID, session.Version,
		session.TotalStudents, session.PresentStudents, session.AbsentStudents,
	).Scan(&version, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return r.classifyMissedUpdate(ctx, tx, session.ID)
	}
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}

	if err := upsertRecords(ctx, tx, session); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit session: %w", err)
	}
	session.Version = version
	session.UpdatedAt = updatedAt
	return nil
}

// classifyMissedUpdate tells a stale version apart from a missing session
func (r *SessionRepository) classifyMissedUpdate(ctx context.Context, tx *sql.Tx, id string) error {
	var exists bool
	err := tx.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM attendance_sessions WHERE id = $1)", id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check session: %w", err)
	}
	if !exists {
		return fmt.Errorf("session %s: %w", id, database.ErrNotFound)
	}
	return database.ErrVersionConflict
}

func upsertRecords(ctx context.Context, tx *sql.Tx, session *database.StoredSession) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO attendance_records (session_id, position, student_id, student_name, roll_number,
			is_present, marked_at, confidence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (session_id, student_id) DO UPDATE SET
			is_present = EXCLUDED.is_present,
			marked_at = EXCLUDED.marked_at,
			confidence = EXCLUDED.confidence`)
	if err != nil {
		return fmt.Errorf("prepare records: %w", err)
	}
	defer stmt.Close()

	for i := range session.Records {
		rec := &session.Records[i]
		var markedAt sql.NullTime
		if rec.MarkedAt != nil {
			markedAt = sql.NullTime{Time: *rec.MarkedAt, Valid: true}
		}
		var confidence sql.NullFloat64
		if rec.Confidence != nil {
			confidence = sql.NullFloat64{Float64: *rec.Confidence, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, session.ID, i, rec.StudentID, rec.StudentName, rec.RollNumber,
			rec.IsPresent, markedAt, confidence); err != nil {
			return fmt.Errorf("upsert record %s: %w", rec.StudentID, err)
		}
	}
	return nil
}

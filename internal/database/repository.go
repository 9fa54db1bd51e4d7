package database

import (
	"context"
	"time"
)

// RosterReader provides the ordered list of students enrolled in a subject/section.
type RosterReader interface {
	// FindRoster returns the students of a subject/section owned by a faculty member,
	// ordered by roll number. Re-querying reflects enrollments made since the last call.
	FindRoster(ctx context.Context, subject, section, facultyID string) ([]StoredStudent, error)
}

// StudentReader provides read access to enrolled students
type StudentReader interface {
	RosterReader

	// GetStudent retrieves a student by ID, returns ErrNotFound if missing
	GetStudent(ctx context.Context, id string) (*StoredStudent, error)
}

// StudentWriter provides write access to enrollment data
type StudentWriter interface {
	StudentReader

	// CreateStudent enrolls a student, returns ErrDuplicateStudent for a repeated roll number
	CreateStudent(ctx context.Context, student *StoredStudent) error
	// UpdateDescriptor replaces the face descriptor of a student
	UpdateDescriptor(ctx context.Context, id string, descriptor []float32) error
}

// SessionReader provides read access to attendance sessions
type SessionReader interface {
	// GetSession retrieves a session with its records, returns ErrNotFound if missing
	GetSession(ctx context.Context, id string) (*StoredSession, error)
	// FindSessionByKey retrieves the session for a natural key, returns ErrNotFound if missing
	FindSessionByKey(ctx context.Context, key SessionKey) (*StoredSession, error)
	// ListSessions returns a faculty member's sessions between from and to (inclusive), newest first.
	// Records are not loaded.
	ListSessions(ctx context.Context, facultyID string, from, to time.Time) ([]StoredSession, error)
}

// SessionWriter provides write access to attendance sessions.
// SaveSession must be atomic per session: records and counters are written together.
type SessionWriter interface {
	SessionReader

	// CreateSession inserts a new session with its records.
	// Returns ErrDuplicateSession if the natural key is taken.
	CreateSession(ctx context.Context, session *StoredSession) error
	// SaveSession writes counters and records if session.Version still matches the stored one,
	// then increments session.Version. Returns ErrVersionConflict otherwise.
	// Records are only ever added or updated, never removed.
	SaveSession(ctx context.Context, session *StoredSession) error
}

// FacultyReader provides read access to faculty accounts
type FacultyReader interface {
	// GetFacultyByEmail retrieves a faculty member by login email, returns ErrNotFound if missing
	GetFacultyByEmail(ctx context.Context, email string) (*StoredFaculty, error)
}

// FacultyWriter provides write access to faculty accounts
type FacultyWriter interface {
	FacultyReader

	// CreateFaculty stores a new faculty account
	CreateFaculty(ctx context.Context, faculty *StoredFaculty) error
}

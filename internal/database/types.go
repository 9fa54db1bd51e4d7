package database

import (
	"errors"
	"fmt"
	"time"
)

// Store sentinel errors. Repositories wrap these so callers can use errors.Is.
var (
	// ErrNotFound is returned when a requested entity does not exist
	ErrNotFound = errors.New("not found")
	// ErrDuplicateSession is returned when a session for the same natural key already exists
	ErrDuplicateSession = errors.New("session already exists for this key")
	// ErrVersionConflict is returned when a session was modified since it was read
	ErrVersionConflict = errors.New("session was modified concurrently")
	// ErrDuplicateStudent is returned when a roll number is already enrolled in a subject/section
	ErrDuplicateStudent = errors.New("student already enrolled")
	// ErrDuplicateFaculty is returned when an account with the same email exists
	ErrDuplicateFaculty = errors.New("faculty email already registered")
)

// Session types accepted by the attendance service
const (
	SessionTypeLecture  = "lecture"
	SessionTypeLab      = "lab"
	SessionTypeTutorial = "tutorial"
)

// StoredStudent is an enrolled student as read from the roster
type StoredStudent struct {
	ID         string
	FacultyID  string
	Name       string
	RollNumber string
	Subject    string
	Section    string
	Descriptor []float32 // nil when no face has been enrolled
	CreatedAt  time.Time
}

// HasDescriptor reports whether the student can take part in face matching
func (s *StoredStudent) HasDescriptor() bool {
	return len(s.Descriptor) > 0
}

// Validate checks the fields every roster row must carry.
// Roster providers call it so the matching core never sees partial records.
func (s *StoredStudent) Validate() error {
	switch {
	case s.ID == "":
		return errors.New("student id is empty")
	case s.Name == "":
		return fmt.Errorf("student %s has no name", s.ID)
	case s.RollNumber == "":
		return fmt.Errorf("student %s has no roll number", s.ID)
	}
	return nil
}

// StoredRecord is one student's attendance entry inside a session
type StoredRecord struct {
	StudentID   string
	StudentName string
	RollNumber  string
	IsPresent   bool
	MarkedAt    *time.Time
	Confidence  *float64
}

// SessionKey is the natural key of an attendance session: at most one session
// exists per faculty, subject, section, session type and day.
type SessionKey struct {
	FacultyID   string
	Subject     string
	Section     string
	SessionType string
	Date        time.Time // midnight of the session day
}

// String renders the key for logs
func (k SessionKey) String() string {
	return fmt.Sprintf("%s/%s/%s/%s/%s", k.FacultyID, k.Subject, k.Section, k.SessionType, k.Date.Format(time.DateOnly))
}

// StoredSession is an attendance session with its roster snapshot
type StoredSession struct {
	ID              string
	FacultyID       string
	Subject         string
	Section         string
	SessionType     string
	Hours           []int
	Date            time.Time
	TotalStudents   int
	PresentStudents int
	AbsentStudents  int
	Records         []StoredRecord
	Version         int64 // optimistic concurrency token, bumped on every save
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Key returns the natural key of the session
func (s *StoredSession) Key() SessionKey {
	return SessionKey{
		FacultyID:   s.FacultyID,
		Subject:     s.Subject,
		Section:     s.Section,
		SessionType: s.SessionType,
		Date:        s.Date,
	}
}

// RecordIndex returns the position of the student's record, or -1
func (s *StoredSession) RecordIndex(studentID string) int {
	for i := range s.Records {
		if s.Records[i].StudentID == studentID {
			return i
		}
	}
	return -1
}

// Recount re-derives the counters from the record list
func (s *StoredSession) Recount() {
	present := 0
	for i := range s.Records {
		if s.Records[i].IsPresent {
			present++
		}
	}
	s.TotalStudents = len(s.Records)
	s.PresentStudents = present
	s.AbsentStudents = s.TotalStudents - present
}

// CheckInvariants verifies counters against records and record uniqueness
func (s *StoredSession) CheckInvariants() error {
	if s.PresentStudents+s.AbsentStudents != s.TotalStudents {
		return fmt.Errorf("present %d + absent %d != total %d", s.PresentStudents, s.AbsentStudents, s.TotalStudents)
	}
	if s.TotalStudents != len(s.Records) {
		return fmt.Errorf("total %d != records %d", s.TotalStudents, len(s.Records))
	}
	seen := make(map[string]bool, len(s.Records))
	present := 0
	for i := range s.Records {
		r := &s.Records[i]
		if seen[r.StudentID] {
			return fmt.Errorf("duplicate record for student %s", r.StudentID)
		}
		seen[r.StudentID] = true
		if r.IsPresent {
			present++
			if r.Confidence == nil || *r.Confidence < 0 || *r.Confidence > 1 {
				return fmt.Errorf("present student %s has invalid confidence", r.StudentID)
			}
		}
	}
	if present != s.PresentStudents {
		return fmt.Errorf("present counter %d != present records %d", s.PresentStudents, present)
	}
	return nil
}

// Clone returns a deep copy so callers can mutate without touching shared state
func (s *StoredSession) Clone() *StoredSession {
	c := *s
	c.Hours = append([]int(nil), s.Hours...)
	c.Records = make([]StoredRecord, len(s.Records))
	for i, r := range s.Records {
		if r.MarkedAt != nil {
			t := *r.MarkedAt
			r.MarkedAt = &t
		}
		if r.Confidence != nil {
			f := *r.Confidence
			r.Confidence = &f
		}
		c.Records[i] = r
	}
	return &c
}

// StoredFaculty is a faculty member who owns rosters and sessions
type StoredFaculty struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	CreatedAt    time.Time
}

// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/face-attendance/internal/database"
)

// MockStudentStore is a mock implementation of database.StudentWriter
type MockStudentStore struct {
	mu       sync.RWMutex
	students map[string]*database.StoredStudent

	// FindRosterCalls counts roster lookups
	FindRosterCalls int

	// Error injection
	FindRosterError       error
	GetStudentError       error
	CreateStudentError    error
	UpdateDescriptorError error
}

// NewMockStudentStore creates a new mock student store
func NewMockStudentStore() *MockStudentStore {
	return &MockStudentStore{
		students: make(map[string]*database.StoredStudent),
	}
}

// AddStudent adds a student to the mock store, assigning an ID if empty
func (m *MockStudentStore) AddStudent(s database.StoredStudent) database.StoredStudent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	m.students[s.ID] = &s
	return s
}

// FindRoster returns matching students ordered by roll number, then ID
func (m *MockStudentStore) FindRoster(ctx context.Context, subject, section, facultyID string) ([]database.StoredStudent, error) {
	m.mu.Lock()
	m.FindRosterCalls++
	m.mu.Unlock()

	if m.FindRosterError != nil {
		return nil, m.FindRosterError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var roster []database.StoredStudent
	for _, s := range m.students {
		if s.Subject == subject && s.Section == section && s.FacultyID == facultyID {
			roster = append(roster, *s)
		}
	}
	sort.Slice(roster, func(i, j int) bool {
		if roster[i].RollNumber != roster[j].RollNumber {
			return roster[i].RollNumber < roster[j].RollNumber
		}
		return roster[i].ID < roster[j].ID
	})
	return roster, nil
}

// GetStudent retrieves a student by ID
func (m *MockStudentStore) GetStudent(ctx context.Context, id string) (*database.StoredStudent, error) {
	if m.GetStudentError != nil {
		return nil, m.GetStudentError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.students[id]
	if !ok {
		return nil, fmt.Errorf("student %s: %w", id, database.ErrNotFound)
	}
	c := *s
	return &c, nil
}

// CreateStudent enrolls a student
func (m *MockStudentStore) CreateStudent(ctx context.Context, student *database.StoredStudent) error {
	if m.CreateStudentError != nil {
		return m.CreateStudentError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.students {
		if s.FacultyID == student.FacultyID && s.Subject == student.Subject &&
			s.Section == student.Section && s.RollNumber == student.RollNumber {
			return database.ErrDuplicateStudent
		}
	}
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	student.CreatedAt = time.Now()
	c := *student
	m.students[c.ID] = &c
	return nil
}

// UpdateDescriptor replaces a student's descriptor
func (m *MockStudentStore) UpdateDescriptor(ctx context.Context, id string, descriptor []float32) error {
	if m.UpdateDescriptorError != nil {
		return m.UpdateDescriptorError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.students[id]
	if !ok {
		return fmt.Errorf("student %s: %w", id, database.ErrNotFound)
	}
	s.Descriptor = append([]float32(nil), descriptor...)
	return nil
}

// MockSessionStore is a mock implementation of database.SessionWriter with
// compare-and-swap semantics on StoredSession.Version
type MockSessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*database.StoredSession

	// BeforeSave runs before the version check, letting tests interleave a competing writer.
	// It is called without the store lock held.
	BeforeSave func(session *database.StoredSession)

	// SaveCalls counts SaveSession invocations, including conflicting ones
	SaveCalls int

	// Error injection
	GetError    error
	FindError   error
	ListError   error
	CreateError error
	SaveError   error
}

// NewMockSessionStore creates a new mock session store
func NewMockSessionStore() *MockSessionStore {
	return &MockSessionStore{
		sessions: make(map[string]*database.StoredSession),
	}
}

// GetSession retrieves a copy of a session by ID
func (m *MockSessionStore) GetSession(ctx context.Context, id string) (*database.StoredSession, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, database.ErrNotFound)
	}
	return s.Clone(), nil
}

// FindSessionByKey retrieves a copy of a session by natural key
func (m *MockSessionStore) FindSessionByKey(ctx context.Context, key database.SessionKey) (*database.StoredSession, error) {
	if m.FindError != nil {
		return nil, m.FindError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sessions {
		if sameKey(s.Key(), key) {
			return s.Clone(), nil
		}
	}
	return nil, fmt.Errorf("session %s: %w", key, database.ErrNotFound)
}

// ListSessions returns sessions in a date range without records, newest first
func (m *MockSessionStore) ListSessions(ctx context.Context, facultyID string, from, to time.Time) ([]database.StoredSession, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []database.StoredSession
	for _, s := range m.sessions {
		if s.FacultyID != facultyID || s.Date.Before(from) || s.Date.After(to) {
			continue
		}
		c := s.Clone()
		c.Records = nil
		result = append(result, *c)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].Date.Equal(result[j].Date) {
			return result[i].Date.After(result[j].Date)
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// CreateSession inserts a session, enforcing the natural key
func (m *MockSessionStore) CreateSession(ctx context.Context, session *database.StoredSession) error {
	if m.CreateError != nil {
		return m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if sameKey(s.Key(), session.Key()) {
			return database.ErrDuplicateSession
		}
	}
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	now := time.Now()
	session.CreatedAt = now
	session.UpdatedAt = now
	session.Version = 1
	m.sessions[session.ID] = session.Clone()
	return nil
}

// SaveSession stores the session if its version matches, then bumps the version
func (m *MockSessionStore) SaveSession(ctx context.Context, session *database.StoredSession) error {
	if hook := m.BeforeSave; hook != nil {
		hook(session)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.SaveCalls++

	if m.SaveError != nil {
		return m.SaveError
	}
	current, ok := m.sessions[session.ID]
	if !ok {
		return fmt.Errorf("session %s: %w", session.ID, database.ErrNotFound)
	}
	if current.Version != session.Version {
		return database.ErrVersionConflict
	}
	session.Version++
	session.UpdatedAt = time.Now()
	m.sessions[session.ID] = session.Clone()
	return nil
}

// Put stores a session as-is, bypassing key and version checks
func (m *MockSessionStore) Put(session *database.StoredSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID] = session.Clone()
}

// Count returns the number of stored sessions
func (m *MockSessionStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func sameKey(a, b database.SessionKey) bool {
	return a.FacultyID == b.FacultyID && a.Subject == b.Subject && a.Section == b.Section &&
		a.SessionType == b.SessionType && a.Date.Equal(b.Date)
}

// MockFacultyStore is a mock implementation of database.FacultyWriter
type MockFacultyStore struct {
	mu      sync.RWMutex
	faculty map[string]*database.StoredFaculty

	GetError    error
	CreateError error
}

// NewMockFacultyStore creates a new mock faculty store
func NewMockFacultyStore() *MockFacultyStore {
	return &MockFacultyStore{
		faculty: make(map[string]*database.StoredFaculty),
	}
}

// GetFacultyByEmail retrieves a faculty account by email
func (m *MockFacultyStore) GetFacultyByEmail(ctx context.Context, email string) (*database.StoredFaculty, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.faculty[email]
	if !ok {
		return nil, fmt.Errorf("faculty %s: %w", email, database.ErrNotFound)
	}
	c := *f
	return &c, nil
}

// CreateFaculty stores a faculty account
func (m *MockFacultyStore) CreateFaculty(ctx context.Context, faculty *database.StoredFaculty) error {
	if m.CreateError != nil {
		return m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.faculty[faculty.Email]; ok {
		return database.ErrDuplicateFaculty
	}
	if faculty.ID == "" {
		faculty.ID = uuid.NewString()
	}
	faculty.CreatedAt = time.Now()
	c := *faculty
	m.faculty[c.Email] = &c
	return nil
}

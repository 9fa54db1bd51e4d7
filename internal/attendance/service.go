// Package attendance reconciles face matches against attendance sessions.
//
// A session is created once per faculty, subject, section, type and day from a
// snapshot of the roster. Marking a student present matches a descriptor
// against the live roster and applies the transition with optimistic
// concurrency, admitting late enrollees into the snapshot when needed.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/embedding"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/metrics"
	"github.com/kozaktomas/face-attendance/internal/ratelimit"
)

// Service owns the attendance session state machine
type Service struct {
	roster   database.RosterReader
	sessions database.SessionWriter
	limiter  ratelimit.Limiter
	detector FaceDetector
	metrics  *metrics.Manager
	logger   *slog.Logger
	validate *validator.Validate

	threshold     float64
	descriptorDim int
	maxAttempts   int
	location      *time.Location
	now           func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithDetector enables image recognition through an embedding service
func WithDetector(d FaceDetector) Option {
	return func(s *Service) { s.detector = d }
}

// WithMetrics records outcomes in Prometheus
func WithMetrics(m *metrics.Manager) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger overrides the default logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLocation sets the timezone that decides which day a session belongs to
func WithLocation(loc *time.Location) Option {
	return func(s *Service) { s.location = loc }
}

// WithDescriptorDim rejects query descriptors of any other length (0 disables the check)
func WithDescriptorDim(dim int) Option {
	return func(s *Service) { s.descriptorDim = dim }
}

// WithMaxAttempts bounds compare-and-swap retries when saving a session
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// NewService creates an attendance service.
// threshold is the minimum cosine similarity accepted as a match.
func NewService(roster database.RosterReader, sessions database.SessionWriter, limiter ratelimit.Limiter, threshold float64, opts ...Option) *Service {
	s := &Service{
		roster:      roster,
		sessions:    sessions,
		limiter:     limiter,
		logger:      slog.Default().With("component", "attendance"),
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		threshold:   threshold,
		maxAttempts: constants.MaxSaveAttempts,
		location:    time.UTC,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Threshold returns the acceptance threshold in use
func (s *Service) Threshold() float64 {
	return s.threshold
}

// DescriptorDim returns the required descriptor length, 0 when unconstrained
func (s *Service) DescriptorDim() int {
	return s.descriptorDim
}

// Location returns the timezone that decides session days
func (s *Service) Location() *time.Location {
	return s.location
}

func requireCaller(caller Caller) error {
	if caller.FacultyID == "" {
		return newError(KindUnauthenticated, "authentication required")
	}
	return nil
}

// StartSession returns the session for the request's natural key, creating it
// from the current roster if it does not exist yet. Repeated calls for the same
// key return the stored session unchanged.
func (s *Service) StartSession(ctx context.Context, caller Caller, req StartRequest) (*StartResult, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, &Error{Kind: KindValidation, Message: "invalid session request", Err: err}
	}

	subject := NormalizeLabel(req.Subject)
	section := NormalizeLabel(req.Section)
	if subject == "" || section == "" {
		return nil, validationError("subject and section are required")
	}

	if retryAfter, ok := s.limiter.Allow(ratelimit.Key(caller.FacultyID, subject, section)); !ok {
		s.logger.InfoContext(ctx, "session start rate limited",
			"faculty_id", caller.FacultyID, "subject", subject, "section", section, "retry_after", retryAfter)
		s.metrics.ObserveSession(string(OutcomeRateLimited))
		return &StartResult{Outcome: OutcomeRateLimited, RetryAfter: retryAfter}, nil
	}

	key := database.SessionKey{
		FacultyID:   caller.FacultyID,
		Subject:     subject,
		Section:     section,
		SessionType: req.SessionType,
		Date:        NormalizeDate(req.Date, s.now(), s.location),
	}

	existing, err := s.sessions.FindSessionByKey(ctx, key)
	switch {
	case err == nil:
		s.metrics.ObserveSession(string(OutcomeAlreadyExists))
		return &StartResult{Outcome: OutcomeAlreadyExists, Session: existing}, nil
	case !errors.Is(err, database.ErrNotFound):
		s.logger.ErrorContext(ctx, "failed to look up session", "key", key.String(), "error", err)
		return nil, upstreamError("failed to look up session", err)
	}

	roster, err := s.roster.FindRoster(ctx, subject, section, caller.FacultyID)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to load roster", "key", key.String(), "error", err)
		return nil, upstreamError("failed to load roster", err)
	}
	if len(roster) == 0 {
		return nil, &Error{
			Kind:    KindNotFound,
			Message: fmt.Sprintf("no students enrolled in %s %s", subject, section),
			Hint:    HintRegisterStudents,
		}
	}

	session := newSession(key, NormalizeHours(req.Hours), roster)
	if err := s.sessions.CreateSession(ctx, session); err != nil {
		if !errors.Is(err, database.ErrDuplicateSession) {
			s.logger.ErrorContext(ctx, "failed to create session", "key", key.String(), "error", err)
			return nil, upstreamError("failed to create session", err)
		}
		// Lost a creation race; the winner's session is the answer.
		existing, err := s.sessions.FindSessionByKey(ctx, key)
		if err != nil {
			return nil, upstreamError("failed to load concurrently created session", err)
		}
		s.metrics.ObserveSession(string(OutcomeAlreadyExists))
		return &StartResult{Outcome: OutcomeAlreadyExists, Session: existing}, nil
	}

	s.logger.InfoContext(ctx, "session created",
		"session_id", session.ID, "key", key.String(), "students", session.TotalStudents)
	s.metrics.ObserveSession(string(OutcomeCreated))
	return &StartResult{Outcome: OutcomeCreated, Session: session}, nil
}

// newSession snapshots the roster into a session with every student absent
func newSession(key database.SessionKey, hours []int, roster []database.StoredStudent) *database.StoredSession {
	records := make([]database.StoredRecord, 0, len(roster))
	seen := make(map[string]bool, len(roster))
	for i := range roster {
		st := &roster[i]
		if seen[st.ID] {
			continue
		}
		seen[st.ID] = true
		records = append(records, absentRecord(st))
	}

	session := &database.StoredSession{
		ID:          uuid.NewString(),
		FacultyID:   key.FacultyID,
		Subject:     key.Subject,
		Section:     key.Section,
		SessionType: key.SessionType,
		Hours:       hours,
		Date:        key.Date,
		Records:     records,
	}
	session.Recount()
	return session
}

func absentRecord(st *database.StoredStudent) database.StoredRecord {
	return database.StoredRecord{
		StudentID:   st.ID,
		StudentName: st.Name,
		RollNumber:  st.RollNumber,
	}
}

// GetSession returns a session owned by the caller
func (s *Service) GetSession(ctx context.Context, caller Caller, sessionID string) (*database.StoredSession, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(sessionID); err != nil {
		return nil, validationError("invalid session id")
	}
	return s.loadOwnedSession(ctx, caller, sessionID)
}

// ListSessions returns the caller's sessions between two days, newest first
func (s *Service) ListSessions(ctx context.Context, caller Caller, from, to time.Time) ([]database.StoredSession, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	now := s.now()
	if to.IsZero() {
		to = now
	}
	if from.IsZero() {
		from = to.AddDate(0, 0, -constants.DefaultSessionListDays)
	}
	from = NormalizeDate(from, now, s.location)
	to = NormalizeDate(to, now, s.location)
	if from.After(to) {
		return nil, validationError("from must not be after to")
	}

	sessions, err := s.sessions.ListSessions(ctx, caller.FacultyID, from, to)
	if err != nil {
		return nil, upstreamError("failed to list sessions", err)
	}
	return sessions, nil
}

func (s *Service) loadOwnedSession(ctx context.Context, caller Caller, sessionID string) (*database.StoredSession, error) {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, newError(KindNotFound, "session not found")
		}
		return nil, upstreamError("failed to load session", err)
	}
	if session.FacultyID != caller.FacultyID {
		return nil, newError(KindUnauthorized, "session belongs to another faculty member")
	}
	return session, nil
}

// ValidateDescriptor checks a query or enrollment descriptor.
// dim is the expected length, 0 accepts any length.
func ValidateDescriptor(descriptor []float32, dim int) error {
	if len(descriptor) == 0 {
		return validationError("descriptor is required")
	}
	if len(descriptor) > constants.MaxDescriptorLength {
		return validationError("descriptor is too long")
	}
	if dim > 0 && len(descriptor) != dim {
		return validationError(fmt.Sprintf("descriptor must have %d values, got %d", dim, len(descriptor)))
	}
	for _, v := range descriptor {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return validationError("descriptor contains non-finite values")
		}
	}
	return nil
}

// MarkPresent identifies the student behind descriptor among the session's
// live roster and marks them present.
func (s *Service) MarkPresent(ctx context.Context, caller Caller, sessionID string, descriptor []float32) (*MarkResult, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(sessionID); err != nil {
		return nil, validationError("invalid session id")
	}
	if err := ValidateDescriptor(descriptor, s.descriptorDim); err != nil {
		return nil, err
	}

	session, err := s.loadOwnedSession(ctx, caller, sessionID)
	if err != nil {
		return nil, err
	}

	roster, err := s.roster.FindRoster(ctx, session.Subject, session.Section, session.FacultyID)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to load roster", "session_id", sessionID, "error", err)
		return nil, upstreamError("failed to load roster", err)
	}

	candidates := make([]facematch.Candidate, len(roster))
	for i := range roster {
		candidates[i] = facematch.Candidate{ID: roster[i].ID, Descriptor: roster[i].Descriptor}
	}
	match, ok := facematch.BestMatch(descriptor, candidates, s.threshold)
	s.metrics.ObserveCandidates(match.Scanned)
	if !ok {
		s.logger.InfoContext(ctx, "no face match", "session_id", sessionID, "candidates", match.Scanned)
		s.metrics.ObserveMark(string(OutcomeNoMatch), 0)
		return &MarkResult{Outcome: OutcomeNoMatch, Session: session}, nil
	}

	student := roster[match.Index]
	result, err := s.applyMatch(ctx, session, &student, match.Confidence)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveMark(string(result.Outcome), result.Confidence)
	return result, nil
}

// Recognize detects a face in image and marks the matching student present
func (s *Service) Recognize(ctx context.Context, caller Caller, sessionID string, image []byte) (*MarkResult, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	if len(image) == 0 {
		return nil, validationError("image is required")
	}
	if s.detector == nil {
		return nil, newError(KindUpstream, "face detection is not configured")
	}

	// Ownership is checked before calling the embedding service.
	if _, err := s.GetSession(ctx, caller, sessionID); err != nil {
		return nil, err
	}

	descriptor, err := s.detector.DetectFace(ctx, image)
	switch {
	case errors.Is(err, embedding.ErrNoFace):
		s.metrics.ObserveMark(string(OutcomeNoFace), 0)
		return &MarkResult{Outcome: OutcomeNoFace}, nil
	case errors.Is(err, embedding.ErrExtractionFailed):
		s.metrics.ObserveMark(string(OutcomeExtractionFailed), 0)
		return &MarkResult{Outcome: OutcomeExtractionFailed}, nil
	case errors.Is(err, embedding.ErrInvalidImage):
		return nil, &Error{Kind: KindValidation, Message: "unsupported image", Err: err}
	case err != nil:
		s.logger.ErrorContext(ctx, "embedding service failed", "session_id", sessionID, "error", err)
		return nil, upstreamError("face detection failed", err)
	}

	return s.MarkPresent(ctx, caller, sessionID, descriptor)
}

// applyMatch applies the present transition for student, retrying on version conflicts.
// If the student is missing from the snapshot, the live roster is consulted and the
// student is appended and marked in the same save.
func (s *Service) applyMatch(ctx context.Context, session *database.StoredSession, student *database.StoredStudent, confidence float64) (*MarkResult, error) {
	var enrolled *bool

	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if attempt > 0 {
			reloaded, err := s.sessions.GetSession(ctx, session.ID)
			if err != nil {
				return nil, upstreamError("failed to reload session", err)
			}
			session = reloaded
		}

		reconciled := false
		idx := session.RecordIndex(student.ID)
		if idx < 0 {
			if enrolled == nil {
				ok, err := s.isEnrolled(ctx, session, student.ID)
				if err != nil {
					return nil, err
				}
				enrolled = &ok
			}
			if !*enrolled {
				s.logger.WarnContext(ctx, "matched student cannot be reconciled into session",
					"session_id", session.ID, "student_id", student.ID)
				return &MarkResult{
					Outcome:    OutcomeNotEnrolled,
					Session:    session,
					Student:    student,
					Confidence: clamp01(confidence),
					Hint:       HintRestartSession,
				}, nil
			}
			session.Records = append(session.Records, absentRecord(student))
			idx = len(session.Records) - 1
			reconciled = true
		}

		record := &session.Records[idx]
		if record.IsPresent {
			s.logger.InfoContext(ctx, "student already marked",
				"session_id", session.ID, "student_id", student.ID)
			return &MarkResult{
				Outcome:    OutcomeAlreadyMarked,
				Session:    session,
				Student:    student,
				Confidence: clamp01(confidence),
			}, nil
		}

		markPresent(record, confidence, s.now())
		session.Recount()
		if err := session.CheckInvariants(); err != nil {
			return nil, upstreamError("session invariants violated", err)
		}

		err := s.sessions.SaveSession(ctx, session)
		if errors.Is(err, database.ErrVersionConflict) {
			s.metrics.ObserveConflict()
			s.logger.DebugContext(ctx, "session save conflict, retrying",
				"session_id", session.ID, "attempt", attempt+1)
			continue
		}
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to save session", "session_id", session.ID, "error", err)
			return nil, upstreamError("failed to save session", err)
		}

		s.logger.InfoContext(ctx, "student marked present",
			"session_id", session.ID, "student_id", student.ID,
			"confidence", *record.Confidence, "reconciled", reconciled)
		return &MarkResult{
			Outcome:    OutcomeMarked,
			Session:    session,
			Student:    student,
			Confidence: *record.Confidence,
			Reconciled: reconciled,
		}, nil
	}

	return nil, &Error{
		Kind:    KindConflict,
		Message: "session is being updated concurrently",
		Hint:    "retry the scan",
		Err:     database.ErrVersionConflict,
	}
}

// isEnrolled re-reads the live roster to confirm the student belongs to the session's class
func (s *Service) isEnrolled(ctx context.Context, session *database.StoredSession, studentID string) (bool, error) {
	roster, err := s.roster.FindRoster(ctx, session.Subject, session.Section, session.FacultyID)
	if err != nil {
		return false, upstreamError("failed to refresh roster", err)
	}
	for i := range roster {
		if roster[i].ID == studentID {
			return true, nil
		}
	}
	return false, nil
}

func markPresent(record *database.StoredRecord, confidence float64, now time.Time) {
	c := clamp01(confidence)
	t := now
	record.IsPresent = true
	record.MarkedAt = &t
	record.Confidence = &c
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

package attendance

import (
	"context"
	"time"

	"github.com/kozaktomas/face-attendance/internal/database"
)

// Outcome is the result kind of a successful call
type Outcome string

// Outcome kinds reported to callers
const (
	OutcomeCreated          Outcome = "created"
	OutcomeAlreadyExists    Outcome = "already_exists"
	OutcomeRateLimited      Outcome = "rate_limited"
	OutcomeMarked           Outcome = "marked"
	OutcomeAlreadyMarked    Outcome = "already_marked"
	OutcomeNoMatch          Outcome = "no_match"
	OutcomeNoFace           Outcome = "no_face"
	OutcomeExtractionFailed Outcome = "extraction_failed"
	OutcomeNotEnrolled      Outcome = "not_enrolled"
)

// Hints attached to outcomes and errors
const (
	HintRegisterStudents = "register students for this subject and section first"
	HintRestartSession   = "the matched student is not part of this session; restart the session"
	HintRetryLater       = "another session start for this class is in progress; retry shortly"
)

// Caller is the authenticated faculty member issuing a request
type Caller struct {
	FacultyID string
}

// StartRequest asks for the session of a class on a given day
type StartRequest struct {
	Subject     string    `json:"subject" validate:"required,max=100"`
	Section     string    `json:"section" validate:"required,max=50"`
	SessionType string    `json:"session_type" validate:"required,oneof=lecture lab tutorial"`
	Hours       []int     `json:"hours" validate:"required,min=1,max=24,dive,min=1,max=24"`
	Date        time.Time `json:"date"` // zero means today
}

// StartResult is the outcome of StartSession
type StartResult struct {
	Outcome    Outcome
	Session    *database.StoredSession
	RetryAfter time.Duration // set for OutcomeRateLimited
}

// MarkResult is the outcome of MarkPresent and Recognize
type MarkResult struct {
	Outcome    Outcome
	Session    *database.StoredSession
	Student    *database.StoredStudent // matched student, nil without a match
	Confidence float64
	Reconciled bool // the student was added to the session snapshot late
	Hint       string
}

// FaceDetector turns a captured image into a face descriptor.
// It returns embedding.ErrNoFace, embedding.ErrExtractionFailed or
// embedding.ErrInvalidImage for the expected negative outcomes.
type FaceDetector interface {
	DetectFace(ctx context.Context, image []byte) ([]float32, error)
}

package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/web/middleware"
)

// SessionsHandler serves attendance sessions
type SessionsHandler struct {
	service *attendance.Service
}

// NewSessionsHandler creates a new sessions handler
func NewSessionsHandler(service *attendance.Service) *SessionsHandler {
	return &SessionsHandler{service: service}
}

type startSessionRequest struct {
	Subject     string `json:"subject"`
	Section     string `json:"section"`
	SessionType string `json:"session_type"`
	Hours       []int  `json:"hours"`
	Date        string `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

type markRequest struct {
	Descriptor []float32 `json:"descriptor" validate:"required"`
}

// RecordResponse is one student's entry in a session
type RecordResponse struct {
	StudentID   string     `json:"student_id"`
	StudentName string     `json:"student_name"`
	RollNumber  string     `json:"roll_number"`
	IsPresent   bool       `json:"is_present"`
	MarkedAt    *time.Time `json:"marked_at,omitempty"`
	Confidence  *float64   `json:"confidence,omitempty"`
}

// SessionResponse is an attendance session
type SessionResponse struct {
	ID              string           `json:"id"`
	Subject         string           `json:"subject"`
	Section         string           `json:"section"`
	SessionType     string           `json:"session_type"`
	Hours           []int            `json:"hours"`
	Date            string           `json:"date"`
	TotalStudents   int              `json:"total_students"`
	PresentStudents int              `json:"present_students"`
	AbsentStudents  int              `json:"absent_students"`
	Records         []RecordResponse `json:"records,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// StartSessionResponse is returned by Start
type StartSessionResponse struct {
	Outcome attendance.Outcome `json:"outcome"`
	Session *SessionResponse   `json:"session"`
}

// StudentSummary names a matched student
type StudentSummary struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	RollNumber string `json:"roll_number"`
}

// MarkResponse is returned by Mark and Recognize
type MarkResponse struct {
	Outcome    attendance.Outcome `json:"outcome"`
	Student    *StudentSummary    `json:"student,omitempty"`
	Confidence float64            `json:"confidence,omitempty"`
	Reconciled bool               `json:"reconciled,omitempty"`
	Hint       string             `json:"hint,omitempty"`
	Session    *SessionResponse   `json:"session,omitempty"`
}

func toSessionResponse(s *database.StoredSession, withRecords bool) *SessionResponse {
	if s == nil {
		return nil
	}
	resp := &SessionResponse{
		ID:              s.ID,
		Subject:         s.Subject,
		Section:         s.Section,
		SessionType:     s.SessionType,
		Hours:           s.Hours,
		Date:            s.Date.Format(time.DateOnly),
		TotalStudents:   s.TotalStudents,
		PresentStudents: s.PresentStudents,
		AbsentStudents:  s.AbsentStudents,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
	if withRecords {
		resp.Records = make([]RecordResponse, len(s.Records))
		for i, r := range s.Records {
			resp.Records[i] = RecordResponse{
				StudentID:   r.StudentID,
				StudentName: r.StudentName,
				RollNumber:  r.RollNumber,
				IsPresent:   r.IsPresent,
				MarkedAt:    r.MarkedAt,
				Confidence:  r.Confidence,
			}
		}
	}
	return resp
}

func toMarkResponse(res *attendance.MarkResult) MarkResponse {
	resp := MarkResponse{
		Outcome:    res.Outcome,
		Confidence: res.Confidence,
		Reconciled: res.Reconciled,
		Hint:       res.Hint,
		Session:    toSessionResponse(res.Session, false),
	}
	if res.Student != nil {
		resp.Student = &StudentSummary{
			ID:         res.Student.ID,
			Name:       res.Student.Name,
			RollNumber: res.Student.RollNumber,
		}
	}
	return resp
}

// Start returns today's session for a class, creating it on first call
func (h *SessionsHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	date, err := parseDay(req.Date, h.service.Location())
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.service.StartSession(r.Context(), middleware.CallerFromContext(r.Context()), attendance.StartRequest{
		Subject:     req.Subject,
		Section:     req.Section,
		SessionType: req.SessionType,
		Hours:       req.Hours,
		Date:        date,
	})
	if err != nil {
		respondServiceError(w, r, err, http.StatusInternalServerError)
		return
	}

	switch res.Outcome {
	case attendance.OutcomeRateLimited:
		respondRateLimited(w, res.RetryAfter)
	case attendance.OutcomeCreated:
		respondJSON(w, http.StatusCreated, StartSessionResponse{Outcome: res.Outcome, Session: toSessionResponse(res.Session, true)})
	default:
		respondJSON(w, http.StatusOK, StartSessionResponse{Outcome: res.Outcome, Session: toSessionResponse(res.Session, true)})
	}
}

// Get returns a session with its records
func (h *SessionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.GetSession(r.Context(), middleware.CallerFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, r, err, http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, toSessionResponse(session, true))
}

// List returns the caller's sessions between ?from and ?to (YYYY-MM-DD)
func (h *SessionsHandler) List(w http.ResponseWriter, r *http.Request) {
	loc := h.service.Location()
	from, err := parseDay(r.URL.Query().Get("from"), loc)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := parseDay(r.URL.Query().Get("to"), loc)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	sessions, err := h.service.ListSessions(r.Context(), middleware.CallerFromContext(r.Context()), from, to)
	if err != nil {
		respondServiceError(w, r, err, http.StatusInternalServerError)
		return
	}

	resp := make([]*SessionResponse, len(sessions))
	for i := range sessions {
		resp[i] = toSessionResponse(&sessions[i], false)
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"sessions": resp,
		"count":    len(resp),
	})
}

// Mark matches a descriptor computed on the client and marks the student present
func (h *SessionsHandler) Mark(w http.ResponseWriter, r *http.Request) {
	var req markRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.service.MarkPresent(r.Context(), middleware.CallerFromContext(r.Context()), chi.URLParam(r, "id"), req.Descriptor)
	if err != nil {
		respondServiceError(w, r, err, http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, toMarkResponse(res))
}

// Recognize accepts a captured image (multipart field "image"), detects the face
// through the embedding service and marks the student present
func (h *SessionsHandler) Recognize(w http.ResponseWriter, r *http.Request) {
	image, err := readImage(w, r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.service.Recognize(r.Context(), middleware.CallerFromContext(r.Context()), chi.URLParam(r, "id"), image)
	if err != nil {
		respondServiceError(w, r, err, http.StatusBadGateway)
		return
	}
	respondJSON(w, http.StatusOK, toMarkResponse(res))
}

// readImage reads the "image" part of a multipart upload
func readImage(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxUploadSize)
	if err := r.ParseMultipartForm(constants.MaxUploadSize); err != nil {
		return nil, errors.New("expected a multipart upload no larger than 10MB")
	}
	file, _, err := r.FormFile("image")
	if err != nil {
		return nil, errors.New("image file is required")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, errors.New("failed to read image")
	}
	if len(data) == 0 {
		return nil, errors.New("image file is empty")
	}
	return data, nil
}

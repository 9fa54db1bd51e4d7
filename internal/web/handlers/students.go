package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/embedding"
	"github.com/kozaktomas/face-attendance/internal/web/middleware"
)

// StudentsHandler serves enrollment endpoints
type StudentsHandler struct {
	students      database.StudentWriter
	detector      attendance.FaceDetector
	descriptorDim int
}

// NewStudentsHandler creates a new students handler. detector may be nil,
// in which case descriptors can only be uploaded as JSON.
func NewStudentsHandler(students database.StudentWriter, detector attendance.FaceDetector, descriptorDim int) *StudentsHandler {
	return &StudentsHandler{
		students:      students,
		detector:      detector,
		descriptorDim: descriptorDim,
	}
}

type createStudentRequest struct {
	Name       string    `json:"name" validate:"required,max=200"`
	RollNumber string    `json:"roll_number" validate:"required,max=50"`
	Subject    string    `json:"subject" validate:"required,max=100"`
	Section    string    `json:"section" validate:"required,max=50"`
	Descriptor []float32 `json:"descriptor,omitempty"`
}

type descriptorRequest struct {
	Descriptor []float32 `json:"descriptor" validate:"required"`
}

// StudentResponse is an enrolled student without the descriptor itself
type StudentResponse struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	RollNumber    string    `json:"roll_number"`
	Subject       string    `json:"subject"`
	Section       string    `json:"section"`
	HasDescriptor bool      `json:"has_descriptor"`
	CreatedAt     time.Time `json:"created_at"`
}

func toStudentResponse(s *database.StoredStudent) StudentResponse {
	return StudentResponse{
		ID:            s.ID,
		Name:          s.Name,
		RollNumber:    s.RollNumber,
		Subject:       s.Subject,
		Section:       s.Section,
		HasDescriptor: s.HasDescriptor(),
		CreatedAt:     s.CreatedAt,
	}
}

// Create enrolls a student, optionally with a descriptor
func (h *StudentsHandler) Create(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerFromContext(r.Context())
	if caller.FacultyID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req createStudentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Descriptor != nil {
		if err := attendance.ValidateDescriptor(req.Descriptor, h.descriptorDim); err != nil {
			respondServiceError(w, r, err, http.StatusInternalServerError)
			return
		}
	}

	student := &database.StoredStudent{
		FacultyID:  caller.FacultyID,
		Name:       strings.TrimSpace(req.Name),
		RollNumber: strings.TrimSpace(req.RollNumber),
		Subject:    attendance.NormalizeLabel(req.Subject),
		Section:    attendance.NormalizeLabel(req.Section),
		Descriptor: req.Descriptor,
	}
	if student.Subject == "" || student.Section == "" {
		respondError(w, http.StatusBadRequest, "subject and section are required")
		return
	}

	if err := h.students.CreateStudent(r.Context(), student); err != nil {
		if errors.Is(err, database.ErrDuplicateStudent) {
			respondError(w, http.StatusConflict, "roll number already enrolled in this class")
			return
		}
		slog.ErrorContext(r.Context(), "failed to create student", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to create student")
		return
	}

	slog.InfoContext(r.Context(), "student enrolled",
		"student_id", student.ID, "subject", student.Subject, "section", student.Section)
	respondJSON(w, http.StatusCreated, toStudentResponse(student))
}

// List returns the roster of ?subject and ?section
func (h *StudentsHandler) List(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerFromContext(r.Context())
	if caller.FacultyID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	subject := attendance.NormalizeLabel(r.URL.Query().Get("subject"))
	section := attendance.NormalizeLabel(r.URL.Query().Get("section"))
	if subject == "" || section == "" {
		respondError(w, http.StatusBadRequest, "subject and section are required")
		return
	}

	roster, err := h.students.FindRoster(r.Context(), subject, section, caller.FacultyID)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to load roster", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to load roster")
		return
	}

	resp := make([]StudentResponse, len(roster))
	for i := range roster {
		resp[i] = toStudentResponse(&roster[i])
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"students": resp,
		"count":    len(resp),
	})
}

// UpdateDescriptor replaces a student's descriptor. The body is either JSON
// {"descriptor": [...]} or a multipart upload with an "image" field that is
// sent to the embedding service.
func (h *StudentsHandler) UpdateDescriptor(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerFromContext(r.Context())
	if caller.FacultyID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		respondError(w, http.StatusBadRequest, "invalid student id")
		return
	}
	student, err := h.students.GetStudent(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusNotFound, "student not found")
		return
	}
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to load student", "student_id", sanitizeForLog(id), "error", err)
		respondError(w, http.StatusInternalServerError, "failed to load student")
		return
	}
	if student.FacultyID != caller.FacultyID {
		respondError(w, http.StatusForbidden, "student belongs to another faculty member")
		return
	}

	descriptor, status, err := h.readDescriptor(w, r)
	if err != nil {
		respondError(w, status, err.Error())
		return
	}
	if err := attendance.ValidateDescriptor(descriptor, h.descriptorDim); err != nil {
		respondServiceError(w, r, err, http.StatusInternalServerError)
		return
	}

	if err := h.students.UpdateDescriptor(r.Context(), id, descriptor); err != nil {
		slog.ErrorContext(r.Context(), "failed to update descriptor", "student_id", sanitizeForLog(id), "error", err)
		respondError(w, http.StatusInternalServerError, "failed to update descriptor")
		return
	}

	student.Descriptor = descriptor
	slog.InfoContext(r.Context(), "descriptor updated", "student_id", id, "dim", len(descriptor))
	respondJSON(w, http.StatusOK, toStudentResponse(student))
}

func (h *StudentsHandler) readDescriptor(w http.ResponseWriter, r *http.Request) ([]float32, int, error) {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		var req descriptorRequest
		if err := decodeJSON(w, r, &req); err != nil {
			return nil, http.StatusBadRequest, err
		}
		return req.Descriptor, 0, nil
	}

	if h.detector == nil {
		return nil, http.StatusServiceUnavailable, errors.New("face detection is not configured")
	}
	image, err := readImage(w, r)
	if err != nil {
		return nil, http.StatusBadRequest, err
	}
	descriptor, err := h.detector.DetectFace(r.Context(), image)
	switch {
	case errors.Is(err, embedding.ErrNoFace):
		return nil, http.StatusUnprocessableEntity, errors.New("no face found in image")
	case errors.Is(err, embedding.ErrExtractionFailed):
		return nil, http.StatusUnprocessableEntity, errors.New("could not extract face features, try another photo")
	case errors.Is(err, embedding.ErrInvalidImage):
		return nil, http.StatusBadRequest, errors.New("unsupported image")
	case err != nil:
		slog.ErrorContext(r.Context(), "embedding service failed", "error", err)
		return nil, http.StatusBadGateway, errors.New("face detection failed")
	}
	return descriptor, 0, nil
}

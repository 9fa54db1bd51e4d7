package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/ratelimit"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

var validate = newValidator()

// newValidator reports fields by their JSON names
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// errorResponse is the body of every error reply
type errorResponse struct {
	Error string `json:"error"`
	Hint  string `json:"hint,omitempty"`
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}

// respondServiceError maps an attendance error to a status code.
// upstreamStatus is used for failures of collaborators (store, embedding service).
func respondServiceError(w http.ResponseWriter, r *http.Request, err error, upstreamStatus int) {
	var status int
	switch attendance.KindOf(err) {
	case attendance.KindUnauthenticated:
		status = http.StatusUnauthorized
	case attendance.KindUnauthorized:
		status = http.StatusForbidden
	case attendance.KindValidation:
		status = http.StatusBadRequest
	case attendance.KindNotFound:
		status = http.StatusNotFound
	case attendance.KindConflict:
		status = http.StatusConflict
	default:
		slog.ErrorContext(r.Context(), "request failed",
			"method", r.Method, "path", sanitizeForLog(r.URL.Path), "error", err)
		respondJSON(w, upstreamStatus, errorResponse{Error: http.StatusText(upstreamStatus)})
		return
	}

	message := err.Error()
	var ae *attendance.Error
	if errors.As(err, &ae) {
		message = ae.Message
	}
	respondJSON(w, status, errorResponse{Error: message, Hint: attendance.HintOf(err)})
}

// respondRateLimited sends 429 with a Retry-After header in whole seconds
func respondRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	secs := ratelimit.RetryAfterSeconds(retryAfter)
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	respondJSON(w, http.StatusTooManyRequests, map[string]any{
		"outcome":             attendance.OutcomeRateLimited,
		"error":               "a session for this class was just requested",
		"hint":                attendance.HintRetryLater,
		"retry_after_seconds": secs,
	})
}

// decodeJSON reads a size-limited JSON body into dst and validates it.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxUploadSize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.New(errInvalidRequestBody)
	}
	if err := validate.Struct(dst); err != nil {
		return validationMessage(err)
	}
	return nil
}

// validationMessage turns validator errors into one readable message
func validationMessage(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s is %s", fe.Field(), fe.Tag()))
		}
	}
	return errors.New(strings.Join(parts, "; "))
}

// parseDay parses a YYYY-MM-DD query value in loc; empty yields the zero time.
func parseDay(value string, loc *time.Location) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", value)
	}
	return t, nil
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

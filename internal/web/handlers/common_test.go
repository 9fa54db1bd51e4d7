package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kozaktomas/face-attendance/internal/attendance"
)

func TestRespondJSON_SetsContentType(t *testing.T) {
	recorder := httptest.NewRecorder()
	data := map[string]string{"status": "ok"}

	respondJSON(recorder, http.StatusOK, data)

	contentType := recorder.Header().Get("Content-Type")
	if contentType != "application/json" {
		t.Errorf("expected Content-Type 'application/json', got '%s'", contentType)
	}
}

func TestRespondJSON_SetsStatusCode(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
	}{
		{"OK", http.StatusOK},
		{"Created", http.StatusCreated},
		{"BadRequest", http.StatusBadRequest},
		{"NotFound", http.StatusNotFound},
		{"InternalServerError", http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			respondJSON(recorder, tc.statusCode, nil)

			if recorder.Code != tc.statusCode {
				t.Errorf("expected status %d, got %d", tc.statusCode, recorder.Code)
			}
		})
	}
}

func TestRespondJSON_EncodesData(t *testing.T) {
	recorder := httptest.NewRecorder()
	data := map[string]interface{}{
		"message": "hello",
		"count":   42,
		"active":  true,
	}

	respondJSON(recorder, http.StatusOK, data)

	var result map[string]interface{}
	err := json.Unmarshal(recorder.Body.Bytes(), &result)
	if err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	if result["message"] != "hello" {
		t.Errorf("expected message 'hello', got '%v'", result["message"])
	}

	if result["count"] != float64(42) { // JSON numbers are float64
		t.Errorf("expected count 42, got %v", result["count"])
	}

	if result["active"] != true {
		t.Errorf("expected active true, got %v", result["active"])
	}
}

func TestRespondJSON_NilData(t *testing.T) {
	recorder := httptest.NewRecorder()

	respondJSON(recorder, http.StatusOK, nil)

	if recorder.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, recorder.Code)
	}

	// Body should be empty for nil data
	if recorder.Body.Len() != 0 {
		t.Errorf("expected empty body for nil data, got '%s'", recorder.Body.String())
	}
}

func TestRespondError_SetsStatusCode(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
	}{
		{"BadRequest", http.StatusBadRequest},
		{"Unauthorized", http.StatusUnauthorized},
		{"NotFound", http.StatusNotFound},
		{"InternalServerError", http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			respondError(recorder, tc.statusCode, "test error")

			if recorder.Code != tc.statusCode {
				t.Errorf("expected status %d, got %d", tc.statusCode, recorder.Code)
			}
		})
	}
}

func TestRespondError_ContainsErrorKey(t *testing.T) {
	recorder := httptest.NewRecorder()
	errorMessage := "something went wrong"

	respondError(recorder, http.StatusBadRequest, errorMessage)

	var result map[string]string
	err := json.Unmarshal(recorder.Body.Bytes(), &result)
	if err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	if result["error"] != errorMessage {
		t.Errorf("expected error '%s', got '%s'", errorMessage, result["error"])
	}
}

func TestRespondError_SetsContentType(t *testing.T) {
	recorder := httptest.NewRecorder()

	respondError(recorder, http.StatusBadRequest, "error")

	contentType := recorder.Header().Get("Content-Type")
	if contentType != "application/json" {
		t.Errorf("expected Content-Type 'application/json', got '%s'", contentType)
	}
}

func TestRespondError_EmptyMessage(t *testing.T) {
	recorder := httptest.NewRecorder()

	respondError(recorder, http.StatusBadRequest, "")

	var result map[string]string
	err := json.Unmarshal(recorder.Body.Bytes(), &result)
	if err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	// Error key should exist but be empty
	if result["error"] != "" {
		t.Errorf("expected empty error message, got '%s'", result["error"])
	}
}

func TestHealthCheck_ReturnsOK(t *testing.T) {
	req := httptest.NewRequest("GET", "/health", nil)
	recorder := httptest.NewRecorder()

	HealthCheck(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, recorder.Code)
	}
}

func TestHealthCheck_ReturnsStatusOk(t *testing.T) {
	req := httptest.NewRequest("GET", "/health", nil)
	recorder := httptest.NewRecorder()

	HealthCheck(recorder, req)

	var result map[string]string
	err := json.Unmarshal(recorder.Body.Bytes(), &result)
	if err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	if result["status"] != "ok" {
		t.Errorf("expected status 'ok', got '%s'", result["status"])
	}
}


func TestRespondServiceError(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		upstreamStatus int
		expectedStatus int
		expectedError  string
		expectedHint   string
	}{
		{"unauthenticated", &attendance.Error{Kind: attendance.KindUnauthenticated, Message: "authentication required"}, 500, http.StatusUnauthorized, "authentication required", ""},
		{"unauthorized", &attendance.Error{Kind: attendance.KindUnauthorized, Message: "not yours"}, 500, http.StatusForbidden, "not yours", ""},
		{"validation", &attendance.Error{Kind: attendance.KindValidation, Message: "bad hours"}, 500, http.StatusBadRequest, "bad hours", ""},
		{"not found with hint", &attendance.Error{Kind: attendance.KindNotFound, Message: "no students", Hint: attendance.HintRegisterStudents}, 500, http.StatusNotFound, "no students", attendance.HintRegisterStudents},
		{"conflict", &attendance.Error{Kind: attendance.KindConflict, Message: "busy", Hint: "retry the scan"}, 500, http.StatusConflict, "busy", "retry the scan"},
		{"plain error is upstream", errors.New("connection refused"), 500, http.StatusInternalServerError, "Internal Server Error", ""},
		{"upstream uses given status", &attendance.Error{Kind: attendance.KindUpstream, Message: "face detection failed"}, 502, http.StatusBadGateway, "Bad Gateway", ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)

			respondServiceError(recorder, req, tc.err, tc.upstreamStatus)

			assertStatusCode(t, recorder, tc.expectedStatus)
			var body errorResponse
			parseJSONResponse(t, recorder, &body)
			if body.Error != tc.expectedError {
				t.Errorf("expected error %q, got %q", tc.expectedError, body.Error)
			}
			if body.Hint != tc.expectedHint {
				t.Errorf("expected hint %q, got %q", tc.expectedHint, body.Hint)
			}
		})
	}
}

func TestRespondServiceError_HidesUpstreamDetails(t *testing.T) {
	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	respondServiceError(recorder, req, errors.New("pq: password authentication failed for user admin"), http.StatusInternalServerError)

	if strings.Contains(recorder.Body.String(), "password") {
		t.Errorf("upstream error leaked into response: %s", recorder.Body.String())
	}
}

func TestRespondRateLimited(t *testing.T) {
	recorder := httptest.NewRecorder()

	respondRateLimited(recorder, 2100*time.Millisecond)

	assertStatusCode(t, recorder, http.StatusTooManyRequests)
	if got := recorder.Header().Get("Retry-After"); got != "3" {
		t.Errorf("expected Retry-After '3', got '%s'", got)
	}
	var body map[string]any
	parseJSONResponse(t, recorder, &body)
	if body["outcome"] != string(attendance.OutcomeRateLimited) {
		t.Errorf("expected outcome rate_limited, got %v", body["outcome"])
	}
	if body["retry_after_seconds"] != float64(3) {
		t.Errorf("expected retry_after_seconds 3, got %v", body["retry_after_seconds"])
	}
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Email string `json:"email" validate:"required,email"`
		Count int    `json:"count" validate:"min=1"`
	}

	tests := []struct {
		name          string
		body          string
		expectedError string
	}{
		{"valid", `{"email":"a@b.cz","count":2}`, ""},
		{"malformed", `{"email":`, errInvalidRequestBody},
		{"unknown field", `{"email":"a@b.cz","count":2,"admin":true}`, errInvalidRequestBody},
		{"missing required", `{"count":2}`, "email is required"},
		{"param rule", `{"email":"a@b.cz","count":0}`, "count must satisfy min=1"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body))

			var dst payload
			err := decodeJSON(recorder, req, &dst)
			if tc.expectedError == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || err.Error() != tc.expectedError {
				t.Errorf("expected error %q, got %v", tc.expectedError, err)
			}
		})
	}
}

func TestParseDay(t *testing.T) {
	prague, err := time.LoadLocation("Europe/Prague")
	if err != nil {
		t.Skipf("timezone data unavailable: %v", err)
	}

	day, err := parseDay("2026-03-10", prague)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if day.Location() != prague || day.Day() != 10 || day.Hour() != 0 {
		t.Errorf("expected local midnight of March 10, got %v", day)
	}

	zero, err := parseDay("", prague)
	if err != nil || !zero.IsZero() {
		t.Errorf("expected zero time for empty value, got %v, %v", zero, err)
	}

	if _, err := parseDay("10.03.2026", prague); err == nil {
		t.Error("expected error for non ISO date")
	}
}

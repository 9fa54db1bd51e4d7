package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/database/mock"
	"github.com/kozaktomas/face-attendance/internal/ratelimit"
	"github.com/kozaktomas/face-attendance/internal/web/middleware"
)

const testFacultyID = "faculty-1"

var testNow = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

type allowAll struct{}

func (allowAll) Allow(string) (time.Duration, bool) { return 0, true }

type denyAll struct{ wait time.Duration }

func (d denyAll) Allow(string) (time.Duration, bool) { return d.wait, false }

type fakeDetector struct {
	descriptor []float32
	err        error
}

func (f *fakeDetector) DetectFace(ctx context.Context, image []byte) ([]float32, error) {
	return f.descriptor, f.err
}

// testEnv bundles mock stores and a service for handler tests
type testEnv struct {
	students *mock.MockStudentStore
	sessions *mock.MockSessionStore
	service  *attendance.Service
}

func newTestEnv(t *testing.T, opts ...attendance.Option) *testEnv {
	t.Helper()
	return newTestEnvWithLimiter(t, allowAll{}, opts...)
}

func newTestEnvWithLimiter(t *testing.T, limiter ratelimit.Limiter, opts ...attendance.Option) *testEnv {
	t.Helper()
	env := &testEnv{
		students: mock.NewMockStudentStore(),
		sessions: mock.NewMockSessionStore(),
	}
	env.students.AddStudent(database.StoredStudent{
		FacultyID: testFacultyID, Name: "Alice", RollNumber: "01", Subject: "MATH", Section: "A",
		Descriptor: []float32{0.9, 0.1, 0.0},
	})
	env.students.AddStudent(database.StoredStudent{
		FacultyID: testFacultyID, Name: "Bob", RollNumber: "02", Subject: "MATH", Section: "A",
		Descriptor: []float32{0.0, 0.2, 0.95},
	})
	opts = append([]attendance.Option{attendance.WithClock(func() time.Time { return testNow })}, opts...)
	env.service = attendance.NewService(env.students, env.sessions, limiter, 0.5, opts...)
	return env
}

// startSession creates today's MATH/A lecture directly through the service
func (e *testEnv) startSession(t *testing.T) *database.StoredSession {
	t.Helper()
	res, err := e.service.StartSession(context.Background(), attendance.Caller{FacultyID: testFacultyID}, attendance.StartRequest{
		Subject: "MATH", Section: "A", SessionType: "lecture", Hours: []int{1},
	})
	if err != nil {
		t.Fatalf("failed to start session: %v", err)
	}
	return res.Session
}

// authedRequest creates a request carrying an authenticated caller
func authedRequest(method, path string, body []byte) *http.Request {
	return authedRequestAs(testFacultyID, method, path, body)
}

func authedRequestAs(facultyID, method, path string, body []byte) *http.Request {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	ctx := middleware.SetCallerInContext(req.Context(), attendance.Caller{FacultyID: facultyID})
	return req.WithContext(ctx)
}

// multipartImage builds a multipart body with one file field
func multipartImage(t *testing.T, field string, data []byte) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile(field, "capture.jpg")
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("failed to write form file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}
	return buf.Bytes(), writer.FormDataContentType()
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}
	return data
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertContentType checks if the response has the expected content type
func assertContentType(t *testing.T, recorder *httptest.ResponseRecorder, expected string) {
	t.Helper()
	ct := recorder.Header().Get("Content-Type")
	if ct != expected {
		t.Errorf("expected Content-Type '%s', got '%s'", expected, ct)
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%v'", expectedMessage, result["error"])
	}
}

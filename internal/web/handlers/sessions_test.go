package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/embedding"
)

func startBody(t *testing.T) []byte {
	return mustJSON(t, map[string]any{
		"subject":      "math",
		"section":      " a ",
		"session_type": "lecture",
		"hours":        []int{1, 2},
	})
}

func TestSessionsHandler_Start_CreatesThenReturnsExisting(t *testing.T) {
	env := newTestEnv(t)
	handler := NewSessionsHandler(env.service)

	recorder := httptest.NewRecorder()
	handler.Start(recorder, authedRequest("POST", "/api/v1/sessions", startBody(t)))

	assertStatusCode(t, recorder, http.StatusCreated)
	assertContentType(t, recorder, "application/json")

	var created StartSessionResponse
	parseJSONResponse(t, recorder, &created)
	if created.Outcome != attendance.OutcomeCreated {
		t.Errorf("expected outcome created, got %s", created.Outcome)
	}
	if created.Session.Subject != "MATH" || created.Session.Section != "A" {
		t.Errorf("expected normalized MATH/A, got %s/%s", created.Session.Subject, created.Session.Section)
	}
	if created.Session.Date != "2026-03-10" {
		t.Errorf("expected date 2026-03-10, got %s", created.Session.Date)
	}
	if created.Session.TotalStudents != 2 || created.Session.AbsentStudents != 2 || len(created.Session.Records) != 2 {
		t.Errorf("expected 2 absent records, got %+v", created.Session)
	}

	recorder = httptest.NewRecorder()
	handler.Start(recorder, authedRequest("POST", "/api/v1/sessions", startBody(t)))

	assertStatusCode(t, recorder, http.StatusOK)
	var again StartSessionResponse
	parseJSONResponse(t, recorder, &again)
	if again.Outcome != attendance.OutcomeAlreadyExists {
		t.Errorf("expected outcome already_exists, got %s", again.Outcome)
	}
	if again.Session.ID != created.Session.ID {
		t.Errorf("expected the same session %s, got %s", created.Session.ID, again.Session.ID)
	}
	if env.sessions.Count() != 1 {
		t.Errorf("expected 1 stored session, got %d", env.sessions.Count())
	}
}

func TestSessionsHandler_Start_RateLimited(t *testing.T) {
	env := newTestEnvWithLimiter(t, denyAll{wait: 1500 * time.Millisecond})
	handler := NewSessionsHandler(env.service)

	recorder := httptest.NewRecorder()
	handler.Start(recorder, authedRequest("POST", "/api/v1/sessions", startBody(t)))

	assertStatusCode(t, recorder, http.StatusTooManyRequests)
	if got := recorder.Header().Get("Retry-After"); got != "2" {
		t.Errorf("expected Retry-After '2', got '%s'", got)
	}
	if env.sessions.Count() != 0 {
		t.Errorf("expected no stored sessions, got %d", env.sessions.Count())
	}
}

func TestSessionsHandler_Start_Errors(t *testing.T) {
	tests := []struct {
		name           string
		facultyID      string
		body           map[string]any
		expectedStatus int
	}{
		{
			name:           "unauthenticated",
			facultyID:      "",
			body:           map[string]any{"subject": "MATH", "section": "A", "session_type": "lecture", "hours": []int{1}},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "bad session type",
			facultyID:      testFacultyID,
			body:           map[string]any{"subject": "MATH", "section": "A", "session_type": "seminar", "hours": []int{1}},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "no hours",
			facultyID:      testFacultyID,
			body:           map[string]any{"subject": "MATH", "section": "A", "session_type": "lab", "hours": []int{}},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "bad date",
			facultyID:      testFacultyID,
			body:           map[string]any{"subject": "MATH", "section": "A", "session_type": "lab", "hours": []int{1}, "date": "10/03/2026"},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "empty roster",
			facultyID:      testFacultyID,
			body:           map[string]any{"subject": "PHYSICS", "section": "A", "session_type": "lab", "hours": []int{1}},
			expectedStatus: http.StatusNotFound,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			handler := NewSessionsHandler(env.service)

			recorder := httptest.NewRecorder()
			handler.Start(recorder, authedRequestAs(tc.facultyID, "POST", "/api/v1/sessions", mustJSON(t, tc.body)))

			assertStatusCode(t, recorder, tc.expectedStatus)
		})
	}
}

func TestSessionsHandler_Start_EmptyRosterHint(t *testing.T) {
	env := newTestEnv(t)
	handler := NewSessionsHandler(env.service)

	body := mustJSON(t, map[string]any{"subject": "PHYSICS", "section": "A", "session_type": "lab", "hours": []int{1}})
	recorder := httptest.NewRecorder()
	handler.Start(recorder, authedRequest("POST", "/api/v1/sessions", body))

	var resp errorResponse
	parseJSONResponse(t, recorder, &resp)
	if resp.Hint != attendance.HintRegisterStudents {
		t.Errorf("expected hint %q, got %q", attendance.HintRegisterStudents, resp.Hint)
	}
}

func TestSessionsHandler_Get(t *testing.T) {
	env := newTestEnv(t)
	handler := NewSessionsHandler(env.service)
	session := env.startSession(t)

	tests := []struct {
		name           string
		facultyID      string
		id             string
		expectedStatus int
	}{
		{"owner", testFacultyID, session.ID, http.StatusOK},
		{"other faculty", "faculty-2", session.ID, http.StatusForbidden},
		{"unknown", testFacultyID, uuid.NewString(), http.StatusNotFound},
		{"malformed id", testFacultyID, "42", http.StatusBadRequest},
		{"unauthenticated", "", session.ID, http.StatusUnauthorized},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := requestWithChiParams(authedRequestAs(tc.facultyID, "GET", "/api/v1/sessions/"+tc.id, nil),
				map[string]string{"id": tc.id})
			recorder := httptest.NewRecorder()

			handler.Get(recorder, req)

			assertStatusCode(t, recorder, tc.expectedStatus)
			if tc.expectedStatus == http.StatusOK {
				var resp SessionResponse
				parseJSONResponse(t, recorder, &resp)
				if resp.ID != session.ID || len(resp.Records) != 2 {
					t.Errorf("unexpected session: %+v", resp)
				}
			}
		})
	}
}

func TestSessionsHandler_List(t *testing.T) {
	env := newTestEnv(t)
	handler := NewSessionsHandler(env.service)
	env.startSession(t)

	t.Run("default range", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		handler.List(recorder, authedRequest("GET", "/api/v1/sessions", nil))

		assertStatusCode(t, recorder, http.StatusOK)
		var resp struct {
			Sessions []SessionResponse `json:"sessions"`
			Count    int               `json:"count"`
		}
		parseJSONResponse(t, recorder, &resp)
		if resp.Count != 1 || len(resp.Sessions) != 1 {
			t.Fatalf("expected 1 session, got %d", resp.Count)
		}
		if len(resp.Sessions[0].Records) != 0 {
			t.Error("expected list entries without records")
		}
	})

	t.Run("outside range", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		handler.List(recorder, authedRequest("GET", "/api/v1/sessions?from=2026-01-01&to=2026-01-31", nil))

		assertStatusCode(t, recorder, http.StatusOK)
		var resp map[string]any
		parseJSONResponse(t, recorder, &resp)
		if resp["count"] != float64(0) {
			t.Errorf("expected count 0, got %v", resp["count"])
		}
	})

	t.Run("inverted range", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		handler.List(recorder, authedRequest("GET", "/api/v1/sessions?from=2026-03-10&to=2026-03-01", nil))
		assertStatusCode(t, recorder, http.StatusBadRequest)
	})

	t.Run("bad date", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		handler.List(recorder, authedRequest("GET", "/api/v1/sessions?from=yesterday", nil))
		assertStatusCode(t, recorder, http.StatusBadRequest)
	})
}

func TestSessionsHandler_Mark(t *testing.T) {
	env := newTestEnv(t)
	handler := NewSessionsHandler(env.service)
	session := env.startSession(t)

	mark := func(descriptor []float32) *httptest.ResponseRecorder {
		req := requestWithChiParams(
			authedRequest("POST", "/api/v1/sessions/"+session.ID+"/mark", mustJSON(t, map[string]any{"descriptor": descriptor})),
			map[string]string{"id": session.ID})
		recorder := httptest.NewRecorder()
		handler.Mark(recorder, req)
		return recorder
	}

	recorder := mark([]float32{0.88, 0.12, 0.01})
	assertStatusCode(t, recorder, http.StatusOK)
	var first MarkResponse
	parseJSONResponse(t, recorder, &first)
	if first.Outcome != attendance.OutcomeMarked {
		t.Fatalf("expected outcome marked, got %s", first.Outcome)
	}
	if first.Student == nil || first.Student.Name != "Alice" {
		t.Errorf("expected Alice, got %+v", first.Student)
	}
	if first.Confidence < 0.99 || first.Confidence > 1 {
		t.Errorf("expected confidence close to 1, got %f", first.Confidence)
	}
	if first.Session.PresentStudents != 1 || first.Session.AbsentStudents != 1 {
		t.Errorf("expected 1 present and 1 absent, got %+v", first.Session)
	}

	recorder = mark([]float32{0.9, 0.1, 0.0})
	var second MarkResponse
	parseJSONResponse(t, recorder, &second)
	if second.Outcome != attendance.OutcomeAlreadyMarked {
		t.Errorf("expected outcome already_marked, got %s", second.Outcome)
	}
	if second.Session.PresentStudents != 1 {
		t.Errorf("expected present count to stay 1, got %d", second.Session.PresentStudents)
	}

	recorder = mark([]float32{0, -1, 0})
	var third MarkResponse
	parseJSONResponse(t, recorder, &third)
	if third.Outcome != attendance.OutcomeNoMatch || third.Student != nil {
		t.Errorf("expected no_match without student, got %+v", third)
	}
}

func TestSessionsHandler_Mark_InvalidInput(t *testing.T) {
	env := newTestEnv(t)
	handler := NewSessionsHandler(env.service)
	session := env.startSession(t)

	tests := []struct {
		name string
		body string
	}{
		{"missing descriptor", `{}`},
		{"empty descriptor", `{"descriptor": []}`},
		{"not numbers", `{"descriptor": ["a", "b"]}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := requestWithChiParams(authedRequest("POST", "/", []byte(tc.body)), map[string]string{"id": session.ID})
			recorder := httptest.NewRecorder()

			handler.Mark(recorder, req)

			assertStatusCode(t, recorder, http.StatusBadRequest)
		})
	}
}

func TestSessionsHandler_Recognize(t *testing.T) {
	tests := []struct {
		name            string
		detector        *fakeDetector
		expectedStatus  int
		expectedOutcome attendance.Outcome
	}{
		{"marks matched student", &fakeDetector{descriptor: []float32{0.01, 0.2, 0.94}}, http.StatusOK, attendance.OutcomeMarked},
		{"no face", &fakeDetector{err: embedding.ErrNoFace}, http.StatusOK, attendance.OutcomeNoFace},
		{"extraction failed", &fakeDetector{err: embedding.ErrExtractionFailed}, http.StatusOK, attendance.OutcomeExtractionFailed},
		{"unsupported image", &fakeDetector{err: embedding.ErrInvalidImage}, http.StatusBadRequest, ""},
		{"embedding service down", &fakeDetector{err: errors.New("connection refused")}, http.StatusBadGateway, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, attendance.WithDetector(tc.detector))
			handler := NewSessionsHandler(env.service)
			session := env.startSession(t)

			body, contentType := multipartImage(t, "image", []byte("jpeg bytes"))
			req := requestWithChiParams(authedRequest("POST", "/api/v1/sessions/"+session.ID+"/recognize", body),
				map[string]string{"id": session.ID})
			req.Header.Set("Content-Type", contentType)
			recorder := httptest.NewRecorder()

			handler.Recognize(recorder, req)

			assertStatusCode(t, recorder, tc.expectedStatus)
			if tc.expectedOutcome == "" {
				return
			}
			var resp MarkResponse
			parseJSONResponse(t, recorder, &resp)
			if resp.Outcome != tc.expectedOutcome {
				t.Errorf("expected outcome %s, got %s", tc.expectedOutcome, resp.Outcome)
			}
			if tc.expectedOutcome == attendance.OutcomeMarked && (resp.Student == nil || resp.Student.Name != "Bob") {
				t.Errorf("expected Bob, got %+v", resp.Student)
			}
		})
	}
}

func TestSessionsHandler_Recognize_MissingImage(t *testing.T) {
	env := newTestEnv(t, attendance.WithDetector(&fakeDetector{}))
	handler := NewSessionsHandler(env.service)
	session := env.startSession(t)

	body, contentType := multipartImage(t, "photo", []byte("jpeg bytes"))
	req := requestWithChiParams(authedRequest("POST", "/", body), map[string]string{"id": session.ID})
	req.Header.Set("Content-Type", contentType)
	recorder := httptest.NewRecorder()

	handler.Recognize(recorder, req)

	assertStatusCode(t, recorder, http.StatusBadRequest)
	assertJSONError(t, recorder, "image file is required")
}

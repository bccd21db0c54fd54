package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	api "github.com/gradepoint/gradepoint/internal/api/http"
	authmw "github.com/gradepoint/gradepoint/internal/auth/middleware"
	"github.com/gradepoint/gradepoint/internal/grading"
	"github.com/gradepoint/gradepoint/internal/submission"
)

type testServer struct {
	router  *chi.Mux
	authSvc *authmw.AuthService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := submission.NewInMemoryStore()
	ctx := context.Background()
	if err := store.PutExam(ctx, submission.Exam{
		ID: "exam-1", Title: "Loops", DurationSec: 3600,
		TotalMarks: 20, PassingScore: 10, Status: submission.ExamPublished,
	}); err != nil {
		t.Fatalf("put exam: %v", err)
	}
	if err := store.PutQuestions(ctx, []submission.Question{
		{ID: "q1", ExamID: "exam-1", Text: "2^3?", Type: grading.TypeMultipleChoice,
			Key: grading.Key{Accept: []string{"8"}}, Marks: 10, Order: 1},
		{ID: "q2", ExamID: "exam-1", Text: "How does iteration work?", Type: grading.TypeShortAnswer,
			Key: grading.Key{Keywords: map[string]float64{"loop": 1, "iteration": 1}}, Marks: 10, Order: 2},
	}); err != nil {
		t.Fatalf("put questions: %v", err)
	}

	agg := grading.NewAggregator(grading.NewRegistry(), 0)
	coordinator := submission.NewCoordinator(store, agg, nil, 30*time.Second)
	authSvc := authmw.NewAuthService("test-secret", "reviewer", "")

	r := chi.NewRouter()
	r.Route("/api", func(pr chi.Router) {
		pr.Use(authmw.JWTMiddleware(authSvc))
		api.MountSubmissions(pr, coordinator)
	})
	return &testServer{router: r, authSvc: authSvc}
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) token(t *testing.T, sub, role string) string {
	t.Helper()
	tok, err := s.authSvc.IssueJWT(sub, role)
	if err != nil {
		t.Fatalf("issue jwt: %v", err)
	}
	return tok
}

func submitBody() map[string]interface{} {
	return map[string]interface{}{
		"attempt":     1,
		"start_time":  "2025-03-01T09:00:00Z",
		"submit_time": "2025-03-01T09:30:00Z",
		"answers": []map[string]interface{}{
			{"question_id": "q1", "answer": "8"},
			{"question_id": "q2", "answer": "loop"},
		},
	}
}

func TestSubmitGradeResultFlow(t *testing.T) {
	s := newTestServer(t)
	student := s.token(t, "student-1", "student")

	w := s.do(t, http.MethodPost, "/api/exams/exam-1/submissions", student, submitBody())
	if w.Code != http.StatusCreated {
		t.Fatalf("submit status = %d, body %s", w.Code, w.Body.String())
	}
	var created struct {
		SubmissionID string `json:"submission_id"`
		Status       string `json:"status"`
		SubmittedAt  string `json:"submitted_at"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Status != "pending" || created.SubmissionID == "" {
		t.Errorf("created = %+v", created)
	}

	w = s.do(t, http.MethodGet, "/api/submissions/"+created.SubmissionID+"/result", student, nil)
	if w.Code != http.StatusConflict {
		t.Errorf("result before grading status = %d, want 409", w.Code)
	}

	w = s.do(t, http.MethodPost, "/api/submissions/"+created.SubmissionID+"/grade", student, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("grade status = %d, body %s", w.Code, w.Body.String())
	}
	var res grading.GradingResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Total != 15 || !res.Passed {
		t.Errorf("result = %+v, want total 15 passed", res)
	}

	w = s.do(t, http.MethodGet, "/api/submissions/"+created.SubmissionID+"/result", student, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("result status = %d, body %s", w.Code, w.Body.String())
	}
}

func TestSubmitDuplicateAttemptHTTP(t *testing.T) {
	s := newTestServer(t)
	student := s.token(t, "student-1", "student")

	if w := s.do(t, http.MethodPost, "/api/exams/exam-1/submissions", student, submitBody()); w.Code != http.StatusCreated {
		t.Fatalf("first submit status = %d", w.Code)
	}
	w := s.do(t, http.MethodPost, "/api/exams/exam-1/submissions", student, submitBody())
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate submit status = %d, want 409", w.Code)
	}
	var errResp struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if errResp.Error != "duplicate_attempt" {
		t.Errorf("error = %q, want duplicate_attempt", errResp.Error)
	}
}

func TestSubmitUnknownQuestionHTTP(t *testing.T) {
	s := newTestServer(t)
	student := s.token(t, "student-1", "student")

	body := submitBody()
	body["answers"] = []map[string]interface{}{{"question_id": "q99", "answer": "x"}}
	w := s.do(t, http.MethodPost, "/api/exams/exam-1/submissions", student, body)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", w.Code)
	}
}

func TestSubmitRequiresAuth(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodPost, "/api/exams/exam-1/submissions", "not-a-token", submitBody())
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestReviewRequiresReviewerRole(t *testing.T) {
	s := newTestServer(t)
	student := s.token(t, "student-1", "student")
	reviewer := s.token(t, "reviewer-1", "reviewer")

	w := s.do(t, http.MethodPost, "/api/exams/exam-1/submissions", student, submitBody())
	if w.Code != http.StatusCreated {
		t.Fatalf("submit status = %d", w.Code)
	}
	var created struct {
		SubmissionID string `json:"submission_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if w := s.do(t, http.MethodPost, "/api/submissions/"+created.SubmissionID+"/grade", student, nil); w.Code != http.StatusOK {
		t.Fatalf("grade status = %d", w.Code)
	}

	review := map[string]interface{}{
		"items": map[string]interface{}{"q2": map[string]interface{}{"score": 10, "feedback": "full credit"}},
	}
	if w := s.do(t, http.MethodPost, "/api/submissions/"+created.SubmissionID+"/review", student, review); w.Code != http.StatusForbidden {
		t.Errorf("student review status = %d, want 403", w.Code)
	}
	w = s.do(t, http.MethodPost, "/api/submissions/"+created.SubmissionID+"/review", reviewer, review)
	if w.Code != http.StatusOK {
		t.Fatalf("reviewer review status = %d, body %s", w.Code, w.Body.String())
	}
	var res grading.GradingResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Total != 20 {
		t.Errorf("reviewed total = %v, want 20", res.Total)
	}
}

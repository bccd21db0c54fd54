package http

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	authmw "github.com/gradepoint/gradepoint/internal/auth/middleware"
	"github.com/gradepoint/gradepoint/internal/grading"
	"github.com/gradepoint/gradepoint/internal/submission"
)

type submitAnswer struct {
	QuestionID string          `json:"question_id"`
	Answer     json.RawMessage `json:"answer"`
}

type submitReq struct {
	Attempt    int            `json:"attempt"`
	StartTime  time.Time      `json:"start_time"`
	SubmitTime time.Time      `json:"submit_time"`
	Answers    []submitAnswer `json:"answers"`
}

type submitResp struct {
	SubmissionID string `json:"submission_id"`
	Status       string `json:"status"`
	SubmittedAt  string `json:"submitted_at"`
	Late         bool   `json:"late,omitempty"`
}

// POST /api/exams/{examID}/submissions
func SubmitHandler(c *submission.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		examID := strings.TrimSpace(chi.URLParam(r, "examID"))
		if examID == "" {
			http.Error(w, "examID required", http.StatusBadRequest)
			return
		}
		studentID := authmw.SubjectFromContext(r.Context())
		if studentID == "" {
			http.Error(w, "unauthenticated", http.StatusUnauthorized)
			return
		}
		var req submitReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json: "+err.Error(), http.StatusBadRequest)
			return
		}
		if req.StartTime.IsZero() || req.SubmitTime.IsZero() {
			http.Error(w, "start_time and submit_time required", http.StatusBadRequest)
			return
		}

		answers := make([]submission.SubmittedAnswer, 0, len(req.Answers))
		for _, a := range req.Answers {
			resp, err := rawToText(a.Answer)
			if err != nil {
				writeError(w, "malformed_answer", "answer for question "+a.QuestionID, http.StatusUnprocessableEntity)
				return
			}
			answers = append(answers, submission.SubmittedAnswer{QuestionID: a.QuestionID, Response: resp})
		}

		sub, err := c.Submit(r.Context(), submission.SubmitRequest{
			ExamID:     examID,
			StudentID:  studentID,
			Attempt:    req.Attempt,
			StartTime:  req.StartTime,
			SubmitTime: req.SubmitTime,
			Answers:    answers,
			IPAddress:  clientIP(r),
			UserAgent:  r.UserAgent(),
		})
		if err != nil {
			writeSubmissionError(w, err)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(submitResp{
			SubmissionID: sub.ID,
			Status:       string(sub.Status),
			SubmittedAt:  sub.SubmitTime.UTC().Format(time.RFC3339),
			Late:         sub.Late,
		})
	}
}

// POST /api/submissions/{submissionID}/grade
func GradeHandler(c *submission.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(chi.URLParam(r, "submissionID"))
		if id == "" {
			http.Error(w, "submissionID required", http.StatusBadRequest)
			return
		}
		res, err := c.Grade(r.Context(), id)
		if err != nil {
			writeSubmissionError(w, err)
			return
		}
		_ = json.NewEncoder(w).Encode(res)
	}
}

// GET /api/submissions/{submissionID}/result
func ResultHandler(c *submission.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(chi.URLParam(r, "submissionID"))
		sub, res, err := c.Result(r.Context(), id)
		if err != nil {
			writeSubmissionError(w, err)
			return
		}
		_ = json.NewEncoder(w).Encode(struct {
			SubmissionID string                `json:"submission_id"`
			Status       string                `json:"status"`
			Late         bool                  `json:"late,omitempty"`
			Result       grading.GradingResult `json:"result"`
		}{sub.ID, string(sub.Status), sub.Late, res})
	}
}

type reviewReq struct {
	Items map[string]submission.ManualGradeInput `json:"items"` // question_id -> grade
}

// POST /api/submissions/{submissionID}/review
func ReviewHandler(c *submission.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(chi.URLParam(r, "submissionID"))
		var req reviewReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json: "+err.Error(), http.StatusBadRequest)
			return
		}
		if len(req.Items) == 0 {
			http.Error(w, "items required", http.StatusBadRequest)
			return
		}
		reviewer := authmw.SubjectFromContext(r.Context())
		res, err := c.ApplyReview(r.Context(), id, req.Items, reviewer)
		if err != nil {
			writeSubmissionError(w, err)
			return
		}
		_ = json.NewEncoder(w).Encode(res)
	}
}

// rawToText accepts the wire-level answer payload: a JSON string is
// unwrapped, anything else is kept as compact JSON text.
func rawToText(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", err
	}
	buf, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(buf), nil
}

// clientIP strips the port from RemoteAddr. RealIP middleware may have
// already rewritten it to a bare IP, which SplitHostPort rejects.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func writeError(w http.ResponseWriter, code, detail string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "detail": detail})
}

func writeSubmissionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, submission.ErrDuplicateAttempt):
		writeError(w, "duplicate_attempt", err.Error(), http.StatusConflict)
	case errors.Is(err, submission.ErrOutOfWindow):
		writeError(w, "out_of_window", err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, grading.ErrUnknownQuestion):
		writeError(w, "unknown_question", err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, grading.ErrDuplicateAnswer):
		writeError(w, "duplicate_answer", err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, submission.ErrExamNotPublished):
		writeError(w, "exam_not_published", err.Error(), http.StatusConflict)
	case errors.Is(err, submission.ErrNotFound):
		writeError(w, "not_found", err.Error(), http.StatusNotFound)
	case errors.Is(err, submission.ErrNotGraded):
		// failed submissions also land here: the student sees grading in
		// progress, never a partial score
		writeError(w, "not_yet_graded", "grading in progress", http.StatusConflict)
	case errors.Is(err, submission.ErrAlreadyGrading):
		writeError(w, "grading_in_flight", err.Error(), http.StatusConflict)
	default:
		writeError(w, "grading_error", err.Error(), http.StatusInternalServerError)
	}
}

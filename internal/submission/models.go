package submission

import (
	"errors"
	"time"

	"github.com/gradepoint/gradepoint/internal/grading"
)

// Status is the grading lifecycle of a submission:
// pending -> grading -> graded, with grading -> failed retryable.
type Status string

const (
	StatusPending Status = "pending"
	StatusGrading Status = "grading"
	StatusGraded  Status = "graded"
	StatusFailed  Status = "failed"
)

// ExamStatus gates whether an exam accepts submissions.
type ExamStatus string

const (
	ExamDraft     ExamStatus = "draft"
	ExamPublished ExamStatus = "published"
	ExamClosed    ExamStatus = "closed"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrNotGraded        = errors.New("not yet graded")
	ErrDuplicateAttempt = errors.New("duplicate attempt")
	ErrOutOfWindow      = errors.New("submission outside exam time window")
	ErrExamNotPublished = errors.New("exam is not published")
	ErrAlreadyGrading   = errors.New("grading already in flight")
	ErrGraded           = errors.New("submission already graded")
)

type Exam struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Course       string     `json:"course,omitempty"`
	DurationSec  int        `json:"duration_sec"`
	TotalMarks   float64    `json:"total_marks"`
	PassingScore float64    `json:"passing_score"`
	Status       ExamStatus `json:"status"`
	CreatedAt    int64      `json:"created_at,omitempty"`
}

type Question struct {
	ID     string               `json:"id"`
	ExamID string               `json:"exam_id"`
	Text   string               `json:"text"`
	Type   grading.QuestionType `json:"type"`
	Key    grading.Key          `json:"-"` // expected answer, never serialized to students
	Marks  float64              `json:"marks"`
	Order  int                  `json:"order"`
}

// Submission is the only mutable shared record during grading; its
// status and score fields are updated under per-submission mutual
// exclusion. At most one submission exists per (student, exam, attempt).
type Submission struct {
	ID          string    `json:"id"`
	ExamID      string    `json:"exam_id"`
	StudentID   string    `json:"student_id"`
	Attempt     int       `json:"attempt"`
	StartTime   time.Time `json:"start_time"`
	SubmitTime  time.Time `json:"submit_time"`
	Status      Status    `json:"status"`
	Score       *float64  `json:"score,omitempty"`
	Passed      *bool     `json:"passed,omitempty"`
	NeedsManual bool      `json:"needs_manual,omitempty"`
	Late        bool      `json:"late,omitempty"`
	TimeTaken   int       `json:"time_taken_sec"`
	IPAddress   string    `json:"ip_address,omitempty"`
	UserAgent   string    `json:"user_agent,omitempty"`
	FailReason  string    `json:"-"`
	CreatedAt   int64     `json:"created_at,omitempty"`
}

// Answer belongs to exactly one submission and references exactly one
// question of the submission's exam. Exactly one answer exists per
// (submission, question) pair.
type Answer struct {
	ID             string   `json:"id"`
	SubmissionID   string   `json:"submission_id"`
	QuestionID     string   `json:"question_id"`
	Response       string   `json:"response"`
	Score          *float64 `json:"score,omitempty"`
	Feedback       string   `json:"feedback,omitempty"`
	NeedsManual    bool     `json:"needs_manual,omitempty"`
	EvalFailed     bool     `json:"eval_failed,omitempty"`
	ManualScore    *float64 `json:"manual_score,omitempty"`
	ManualFeedback string   `json:"manual_feedback,omitempty"`
}

// ManualGradeInput is one reviewer-assigned score for a deferred answer.
type ManualGradeInput struct {
	Score    float64 `json:"score"`
	Feedback string  `json:"feedback,omitempty"`
}

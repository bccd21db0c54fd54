package submission

import (
	"context"

	"github.com/gradepoint/gradepoint/internal/grading"
)

// Store is the persistence collaborator for the grading core. The result
// write (SaveResult) must be atomic across the submission's status+score
// fields and its answer rows.
type Store interface {
	PutExam(ctx context.Context, e Exam) error
	GetExam(ctx context.Context, id string) (Exam, error)
	PutQuestions(ctx context.Context, qs []Question) error
	GetQuestions(ctx context.Context, examID string) ([]Question, error)

	// CreateSubmission inserts the submission with its answers in one
	// unit, rejecting with ErrDuplicateAttempt when a row already exists
	// for the same (student, exam, attempt).
	CreateSubmission(ctx context.Context, sub Submission, answers []Answer) error
	GetSubmission(ctx context.Context, id string) (Submission, error)
	GetAnswers(ctx context.Context, submissionID string) ([]Answer, error)

	// ClaimGrading transitions pending|failed -> grading as a
	// compare-and-swap. It reports false when the submission is in any
	// other state (already grading, or terminally graded).
	ClaimGrading(ctx context.Context, id string) (bool, error)
	// SaveResult writes per-answer scores and the submission's
	// status=graded, score, passed and needs_manual fields atomically.
	SaveResult(ctx context.Context, id string, res grading.GradingResult) error
	// MarkFailed transitions grading -> failed, recording the reason.
	MarkFailed(ctx context.Context, id, reason string) error

	// ApplyManualScores records reviewer scores on the given answers and
	// clears their review flags.
	ApplyManualScores(ctx context.Context, submissionID string, updates map[string]ManualGradeInput, reviewer string) error
}

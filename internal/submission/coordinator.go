package submission

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gradepoint/gradepoint/internal/grading"
)

// Coordinator drives the grading state machine: it validates raw
// submissions, invokes the aggregator exactly once per grading pass, and
// transitions submission status. Mutual exclusion is per submission id,
// backed by the store's compare-and-swap status transition.
type Coordinator struct {
	store Store
	agg   *grading.Aggregator
	log   *slog.Logger
	grace time.Duration

	mu    sync.Mutex
	locks map[string]*subLock
}

// NewCoordinator wires the coordinator. grace extends the exam duration
// before a submission is flagged late; late submissions are still graded.
func NewCoordinator(store Store, agg *grading.Aggregator, log *slog.Logger, grace time.Duration) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		store: store,
		agg:   agg,
		log:   log,
		grace: grace,
		locks: map[string]*subLock{},
	}
}

// subLock is a per-submission mutex with a holder count so entries can
// be dropped from the map once the last caller releases.
type subLock struct {
	mu   sync.Mutex
	refs int
}

func (c *Coordinator) lockFor(id string) *subLock {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[id]
	if !ok {
		l = &subLock{}
		c.locks[id] = l
	}
	l.refs++
	return l
}

func (c *Coordinator) release(id string, l *subLock) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(c.locks, id)
	}
}

// SubmittedAnswer is one raw question/answer pair of a submit request.
type SubmittedAnswer struct {
	QuestionID string `json:"question_id"`
	Response   string `json:"answer"`
}

// SubmitRequest is the raw submission handed over by the request layer.
type SubmitRequest struct {
	ExamID     string
	StudentID  string
	Attempt    int
	StartTime  time.Time
	SubmitTime time.Time
	Answers    []SubmittedAnswer
	IPAddress  string
	UserAgent  string
}

// Submit validates the request and creates the submission in pending.
// Rejections (duplicate attempt, incoherent timing, unknown or repeated
// questions) never enter the grading pipeline. A submission past the
// exam duration is accepted and flagged late rather than discarded.
func (c *Coordinator) Submit(ctx context.Context, req SubmitRequest) (Submission, error) {
	exam, err := c.store.GetExam(ctx, req.ExamID)
	if err != nil {
		return Submission{}, fmt.Errorf("load exam: %w", err)
	}
	if exam.Status != ExamPublished {
		return Submission{}, ErrExamNotPublished
	}
	if req.Attempt < 1 {
		return Submission{}, fmt.Errorf("attempt number must be positive, got %d", req.Attempt)
	}
	if req.SubmitTime.Before(req.StartTime) {
		return Submission{}, ErrOutOfWindow
	}
	late := false
	if exam.DurationSec > 0 {
		deadline := req.StartTime.Add(time.Duration(exam.DurationSec)*time.Second + c.grace)
		late = req.SubmitTime.After(deadline)
	}

	questions, err := c.store.GetQuestions(ctx, req.ExamID)
	if err != nil {
		return Submission{}, fmt.Errorf("load questions: %w", err)
	}
	known := make(map[string]bool, len(questions))
	for _, q := range questions {
		known[q.ID] = true
	}
	seen := make(map[string]bool, len(req.Answers))
	for _, a := range req.Answers {
		if !known[a.QuestionID] {
			return Submission{}, fmt.Errorf("%w: %s", grading.ErrUnknownQuestion, a.QuestionID)
		}
		if seen[a.QuestionID] {
			return Submission{}, fmt.Errorf("%w: %s", grading.ErrDuplicateAnswer, a.QuestionID)
		}
		seen[a.QuestionID] = true
	}

	sub := Submission{
		ID:         uuid.NewString(),
		ExamID:     req.ExamID,
		StudentID:  req.StudentID,
		Attempt:    req.Attempt,
		StartTime:  req.StartTime,
		SubmitTime: req.SubmitTime,
		Status:     StatusPending,
		Late:       late,
		TimeTaken:  int(req.SubmitTime.Sub(req.StartTime) / time.Second),
		IPAddress:  req.IPAddress,
		UserAgent:  req.UserAgent,
		CreatedAt:  time.Now().Unix(),
	}
	answers := make([]Answer, 0, len(req.Answers))
	for _, a := range req.Answers {
		answers = append(answers, Answer{
			ID:           uuid.NewString(),
			SubmissionID: sub.ID,
			QuestionID:   a.QuestionID,
			Response:     a.Response,
		})
	}
	if err := c.store.CreateSubmission(ctx, sub, answers); err != nil {
		return Submission{}, err
	}
	c.log.Info("submission accepted",
		"submission_id", sub.ID, "exam_id", sub.ExamID,
		"student_id", sub.StudentID, "attempt", sub.Attempt, "late", late)
	return sub, nil
}

// Grade runs one grading pass: pending|failed -> grading -> graded, or
// -> failed on unrecoverable errors (retryable by calling Grade again).
// Grading the same submission concurrently is mutually exclusive; a
// second call on a graded submission returns the stored result.
func (c *Coordinator) Grade(ctx context.Context, id string) (grading.GradingResult, error) {
	l := c.lockFor(id)
	l.mu.Lock()
	defer func() {
		l.mu.Unlock()
		c.release(id, l)
	}()

	claimed, err := c.store.ClaimGrading(ctx, id)
	if err != nil {
		return grading.GradingResult{}, err
	}
	if !claimed {
		sub, err := c.store.GetSubmission(ctx, id)
		if err != nil {
			return grading.GradingResult{}, err
		}
		if sub.Status == StatusGraded {
			_, res, err := c.Result(ctx, id)
			return res, err
		}
		return grading.GradingResult{}, ErrAlreadyGrading
	}

	res, err := c.runAggregation(ctx, id)
	if err != nil {
		if ferr := c.store.MarkFailed(ctx, id, err.Error()); ferr != nil {
			c.log.Error("mark failed", "submission_id", id, "err", ferr)
		}
		c.log.Warn("grading failed", "submission_id", id, "err", err)
		return grading.GradingResult{}, err
	}
	c.log.Info("submission graded",
		"submission_id", id, "total", res.Total,
		"passed", res.Passed, "needs_manual", res.NeedsManual)
	return res, nil
}

// runAggregation loads the submission's world, aggregates, and persists
// the result atomically. Callers must hold the per-submission lock and
// have claimed the grading status.
func (c *Coordinator) runAggregation(ctx context.Context, id string) (grading.GradingResult, error) {
	sub, err := c.store.GetSubmission(ctx, id)
	if err != nil {
		return grading.GradingResult{}, err
	}
	exam, err := c.store.GetExam(ctx, sub.ExamID)
	if err != nil {
		return grading.GradingResult{}, fmt.Errorf("load exam: %w", err)
	}
	questions, err := c.store.GetQuestions(ctx, sub.ExamID)
	if err != nil {
		return grading.GradingResult{}, fmt.Errorf("load questions: %w", err)
	}
	answers, err := c.store.GetAnswers(ctx, id)
	if err != nil {
		return grading.GradingResult{}, fmt.Errorf("load answers: %w", err)
	}

	res, err := c.agg.Aggregate(ctx,
		grading.Exam{ID: exam.ID, PassingScore: exam.PassingScore},
		gradingQuestions(questions),
		gradingAnswers(answers))
	if err != nil {
		return grading.GradingResult{}, err
	}
	if err := c.store.SaveResult(ctx, id, res); err != nil {
		return grading.GradingResult{}, fmt.Errorf("save result: %w", err)
	}
	return res, nil
}

// Result returns the persisted grading outcome. Submissions that are
// pending, in flight, or failed all surface ErrNotGraded so a student
// never sees a partial or incorrect score.
func (c *Coordinator) Result(ctx context.Context, id string) (Submission, grading.GradingResult, error) {
	sub, err := c.store.GetSubmission(ctx, id)
	if err != nil {
		return Submission{}, grading.GradingResult{}, err
	}
	if sub.Status != StatusGraded {
		return Submission{}, grading.GradingResult{}, ErrNotGraded
	}
	questions, err := c.store.GetQuestions(ctx, sub.ExamID)
	if err != nil {
		return Submission{}, grading.GradingResult{}, err
	}
	answers, err := c.store.GetAnswers(ctx, id)
	if err != nil {
		return Submission{}, grading.GradingResult{}, err
	}

	byQuestion := make(map[string]Answer, len(answers))
	for _, a := range answers {
		byQuestion[a.QuestionID] = a
	}
	sort.Slice(questions, func(i, j int) bool { return questions[i].Order < questions[j].Order })

	res := grading.GradingResult{NeedsManual: sub.NeedsManual}
	if sub.Score != nil {
		res.Total = *sub.Score
	}
	if sub.Passed != nil {
		res.Passed = *sub.Passed
	}
	for _, q := range questions {
		ar := grading.AnswerResult{QuestionID: q.ID, MaxMarks: q.Marks, Feedback: "not answered"}
		if a, ok := byQuestion[q.ID]; ok {
			ar.AnswerID = a.ID
			ar.Feedback = a.Feedback
			ar.NeedsManual = a.NeedsManual
			ar.EvalFailed = a.EvalFailed
			if a.Score != nil {
				ar.Score = *a.Score
			}
		}
		res.Answers = append(res.Answers, ar)
	}
	return sub, res, nil
}

// ApplyReview records reviewer scores for manually deferred answers and
// re-runs aggregation so the stored total reflects them. Allowed only on
// graded submissions; re-aggregation is idempotent.
func (c *Coordinator) ApplyReview(ctx context.Context, id string, updates map[string]ManualGradeInput, reviewer string) (grading.GradingResult, error) {
	l := c.lockFor(id)
	l.mu.Lock()
	defer func() {
		l.mu.Unlock()
		c.release(id, l)
	}()

	sub, err := c.store.GetSubmission(ctx, id)
	if err != nil {
		return grading.GradingResult{}, err
	}
	if sub.Status != StatusGraded {
		return grading.GradingResult{}, ErrNotGraded
	}
	if err := c.store.ApplyManualScores(ctx, id, updates, reviewer); err != nil {
		return grading.GradingResult{}, err
	}
	res, err := c.runAggregation(ctx, id)
	if err != nil {
		return grading.GradingResult{}, err
	}
	c.log.Info("manual review applied",
		"submission_id", id, "reviewer", reviewer,
		"total", res.Total, "needs_manual", res.NeedsManual)
	return res, nil
}

func gradingQuestions(qs []Question) []grading.Question {
	out := make([]grading.Question, 0, len(qs))
	for _, q := range qs {
		out = append(out, grading.Question{ID: q.ID, Type: q.Type, Marks: q.Marks, Key: q.Key})
	}
	return out
}

func gradingAnswers(as []Answer) []grading.Answer {
	out := make([]grading.Answer, 0, len(as))
	for _, a := range as {
		out = append(out, grading.Answer{
			ID:             a.ID,
			QuestionID:     a.QuestionID,
			Response:       a.Response,
			ManualScore:    a.ManualScore,
			ManualFeedback: a.ManualFeedback,
		})
	}
	return out
}

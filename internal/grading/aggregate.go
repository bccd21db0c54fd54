package grading

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrUnknownQuestion means an answer references a question outside the exam.
	ErrUnknownQuestion = errors.New("unknown question")
	// ErrDuplicateAnswer means a submission answered the same question twice.
	ErrDuplicateAnswer = errors.New("duplicate answer for question")
)

// Exam is a minimal view of an exam needed for aggregation.
type Exam struct {
	ID           string
	PassingScore float64
}

// AnswerResult is the per-question outcome within a GradingResult.
type AnswerResult struct {
	AnswerID    string  `json:"answer_id,omitempty"`
	QuestionID  string  `json:"question_id"`
	Score       float64 `json:"score"`
	MaxMarks    float64 `json:"max_marks"`
	Feedback    string  `json:"feedback,omitempty"`
	NeedsManual bool    `json:"needs_manual,omitempty"`
	EvalFailed  bool    `json:"eval_failed,omitempty"`
}

// GradingResult is the finalized outcome for one submission. Passed is
// provisional while NeedsManual is set.
type GradingResult struct {
	Total       float64        `json:"total"`
	Passed      bool           `json:"passed"`
	NeedsManual bool           `json:"needs_manual"`
	Answers     []AnswerResult `json:"answers"`
}

// Aggregator evaluates every answer in a submission and folds the
// per-answer results into one GradingResult. Aggregation is idempotent
// and independent of answer order.
type Aggregator struct {
	reg     *Registry
	workers int
}

// NewAggregator builds an Aggregator over reg. workers bounds the
// per-answer fan-out; zero means unbounded.
func NewAggregator(reg *Registry, workers int) *Aggregator {
	return &Aggregator{reg: reg, workers: workers}
}

// Aggregate validates structural integrity, fans out evaluation, and
// sums awarded marks against the exam's passing score. An evaluator
// failure for one answer is recorded as a zero score with diagnostic
// feedback and does not abort the rest; an unresolved question type is
// a configuration defect and aborts the whole aggregation.
func (a *Aggregator) Aggregate(ctx context.Context, exam Exam, questions []Question, answers []Answer) (GradingResult, error) {
	pos := make(map[string]int, len(questions))
	for i, q := range questions {
		pos[q.ID] = i
	}
	byQuestion := make([]*Answer, len(questions))
	for i := range answers {
		ans := &answers[i]
		p, ok := pos[ans.QuestionID]
		if !ok {
			return GradingResult{}, fmt.Errorf("%w: %s", ErrUnknownQuestion, ans.QuestionID)
		}
		if byQuestion[p] != nil {
			return GradingResult{}, fmt.Errorf("%w: %s", ErrDuplicateAnswer, ans.QuestionID)
		}
		byQuestion[p] = ans
	}

	results := make([]AnswerResult, len(questions))
	g, gctx := errgroup.WithContext(ctx)
	if a.workers > 0 {
		g.SetLimit(a.workers)
	}
	for i := range questions {
		i := i
		g.Go(func() error {
			r, err := a.evaluateOne(gctx, questions[i], byQuestion[i])
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return GradingResult{}, err
	}

	out := GradingResult{Answers: results}
	total := 0.0
	for _, r := range results {
		total += r.Score
		if r.NeedsManual {
			out.NeedsManual = true
		}
	}
	out.Total = round2(total)
	out.Passed = out.Total >= exam.PassingScore
	return out, nil
}

func (a *Aggregator) evaluateOne(ctx context.Context, q Question, ans *Answer) (AnswerResult, error) {
	out := AnswerResult{QuestionID: q.ID, MaxMarks: q.Marks}
	// resolve first: an unbound type is a configuration defect even for
	// unanswered questions
	ev, err := a.reg.Resolve(q.Type)
	if err != nil {
		return out, err
	}
	if ans == nil {
		out.Feedback = "not answered"
		return out, nil
	}
	out.AnswerID = ans.ID

	if ans.ManualScore != nil {
		s := *ans.ManualScore
		if s < 0 {
			s = 0
		}
		if s > q.Marks {
			s = q.Marks
		}
		out.Score = round2(s)
		out.Feedback = ans.ManualFeedback
		if out.Feedback == "" {
			out.Feedback = "scored by reviewer"
		}
		return out, nil
	}

	res, err := ev.Evaluate(ctx, q, ans.Response)
	if err != nil {
		out.EvalFailed = true
		out.Feedback = "evaluation error: " + err.Error()
		return out, nil
	}
	out.Score = res.Score
	out.NeedsManual = res.NeedsManual
	out.Feedback = strings.Join(res.Feedback, "; ")
	return out, nil
}

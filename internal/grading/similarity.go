package grading

import (
	"context"
	"fmt"
	"time"
)

// SimilarityBackend computes a normalized similarity in [0,1] between a
// submitted text and one reference answer. Calls may be long-running
// (model inference) and must honor ctx cancellation.
type SimilarityBackend interface {
	Similarity(ctx context.Context, text, reference string) (float64, error)
}

const feedbackPendingManual = "pending manual review"

// essayStrategy grades long-form answers. With a backend configured and
// references present, marks = round(marks x max similarity over the
// references). Backend errors and timeouts degrade to keyword scoring
// instead of failing the answer. Essays with neither references nor
// keywords defer to manual review.
type essayStrategy struct {
	backend  SimilarityBackend
	timeout  time.Duration
	fallback keywordStrategy
}

func (s essayStrategy) Evaluate(ctx context.Context, q Question, response string) (Result, error) {
	if q.Key.Manual || (len(q.Key.References) == 0 && len(q.Key.Keywords) == 0) {
		return Result{
			MaxMarks:    q.Marks,
			NeedsManual: true,
			Feedback:    []string{feedbackPendingManual},
		}, nil
	}

	if s.backend != nil && len(q.Key.References) > 0 {
		res, err := s.similarityScore(ctx, q, response)
		if err == nil {
			return res, nil
		}
		res, ferr := s.degrade(ctx, q, response)
		if ferr != nil {
			return res, ferr
		}
		res.Feedback = append(res.Feedback, fmt.Sprintf("similarity backend unavailable (%v), scored by keyword fallback", err))
		return res, nil
	}

	return s.degrade(ctx, q, response)
}

func (s essayStrategy) similarityScore(ctx context.Context, q Question, response string) (Result, error) {
	res := Result{MaxMarks: q.Marks}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	best := 0.0
	for _, ref := range q.Key.References {
		sim, err := s.backend.Similarity(ctx, response, ref)
		if err != nil {
			return res, err
		}
		if sim > best {
			best = sim
		}
	}
	if best < 0 {
		best = 0
	}
	if best > 1 {
		best = 1
	}
	res.Score = round2(q.Marks * best)
	res.Feedback = append(res.Feedback, fmt.Sprintf("similarity: %.2f", best))
	return res, nil
}

// degrade scores without the backend: weighted keywords when configured,
// otherwise term overlap against the reference answers.
func (s essayStrategy) degrade(ctx context.Context, q Question, response string) (Result, error) {
	if len(q.Key.Keywords) > 0 {
		return s.fallback.Evaluate(ctx, q, response)
	}
	res := Result{MaxMarks: q.Marks}
	best := 0.0
	for _, ref := range q.Key.References {
		if ov := termOverlap(response, ref); ov > best {
			best = ov
		}
	}
	res.Score = round2(q.Marks * best)
	res.Feedback = append(res.Feedback, fmt.Sprintf("term overlap: %.2f", best))
	return res, nil
}

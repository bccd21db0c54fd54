package grading

import (
	"context"
	"errors"
)

// exactStrategy grades multiple_choice, true_false and fill_blank by
// case-normalized equality against the accept set. Full marks or zero,
// no partial credit. A positive maxEdit enables a spelling hint on
// near-miss answers; the hint never awards marks.
type exactStrategy struct {
	maxEdit int
}

func (s exactStrategy) Evaluate(_ context.Context, q Question, response string) (Result, error) {
	res := Result{MaxMarks: q.Marks}
	if len(q.Key.Accept) == 0 {
		return res, errors.New("expected-answer payload has no accept set")
	}
	norm := normalize(response)
	for _, accept := range q.Key.Accept {
		if normalize(accept) == norm {
			res.Score = round2(q.Marks)
			return res, nil
		}
	}
	if s.maxEdit > 0 && norm != "" {
		for _, accept := range q.Key.Accept {
			if levenshtein(normalize(accept), norm) <= s.maxEdit {
				res.Feedback = append(res.Feedback, "close, check spelling")
				break
			}
		}
	}
	res.Feedback = append(res.Feedback, "incorrect")
	return res, nil
}

package grading

import (
	"context"
	"errors"
	"fmt"
)

// keywordStrategy grades short answers against a weighted keyword set.
// Score = marks x (matched weight / total weight), clamped to [0, marks]
// and rounded half-to-even to 2 decimals. Multi-word keywords match as
// normalized phrases, single words as whole tokens.
type keywordStrategy struct{}

func (keywordStrategy) Evaluate(_ context.Context, q Question, response string) (Result, error) {
	return scoreKeywords(q.Key.Keywords, q.Marks, response)
}

func scoreKeywords(keywords map[string]float64, marks float64, response string) (Result, error) {
	res := Result{MaxMarks: marks}
	total := 0.0
	for _, w := range keywords {
		if w < 0 {
			return res, errors.New("expected-answer payload has a negative keyword weight")
		}
		total += w
	}
	if total <= 0 {
		return res, errors.New("expected-answer payload has no weighted keywords")
	}

	norm := normalize(response)
	tokens := tokenSet(norm)
	matched := 0.0
	hits := 0
	for kw, w := range keywords {
		if matchKeyword(norm, tokens, kw) {
			matched += w
			hits++
		}
	}

	score := marks * (matched / total)
	if score < 0 {
		score = 0
	}
	if score > marks {
		score = marks
	}
	res.Score = round2(score)
	res.Feedback = append(res.Feedback, fmt.Sprintf("keyword hits: %d/%d", hits, len(keywords)))
	return res, nil
}

func matchKeyword(normText string, tokens map[string]struct{}, keyword string) bool {
	nk := normalize(keyword)
	if nk == "" {
		return false
	}
	if containsToken(nk, ' ') {
		return containsPhrase(normText, nk)
	}
	_, ok := tokens[nk]
	return ok
}

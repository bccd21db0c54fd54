package grading

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// QuestionType enumerates the question kinds the engine can grade.
// The set is closed: a type outside it is a configuration defect,
// not a per-request condition.
type QuestionType string

const (
	TypeMultipleChoice QuestionType = "multiple_choice"
	TypeTrueFalse      QuestionType = "true_false"
	TypeShortAnswer    QuestionType = "short_answer"
	TypeEssay          QuestionType = "essay"
	TypeFillBlank      QuestionType = "fill_blank"
)

// ErrUnsupportedType is returned by Resolve when a question type has no
// bound strategy. It aborts the grading attempt rather than being
// swallowed per-answer.
var ErrUnsupportedType = errors.New("unsupported question type")

// Key is the decoded expected-answer payload of a question. Which fields
// are populated depends on the question type: Accept for the exact-match
// types, Keywords for short answers, References (and optionally Keywords
// as a fallback) for essays.
type Key struct {
	Accept     []string           `json:"accept,omitempty"`
	Keywords   map[string]float64 `json:"keywords,omitempty"`
	References []string           `json:"references,omitempty"`
	Manual     bool               `json:"manual,omitempty"`
}

// Question is a minimal view of a question needed for grading.
type Question struct {
	ID    string
	Type  QuestionType
	Marks float64
	Key   Key
}

// Answer is a minimal view of a submitted answer. ManualScore, when set,
// carries a reviewer-assigned score that overrides automatic evaluation.
type Answer struct {
	ID             string
	QuestionID     string
	Response       string
	ManualScore    *float64
	ManualFeedback string
}

// Result is the outcome of evaluating a single answer.
type Result struct {
	Score       float64  // marks awarded, rounded half-to-even to 2 decimals
	MaxMarks    float64  // the question's marks
	NeedsManual bool     // true if a human reviewer must score this answer
	Feedback    []string // notes surfaced to the student
}

// Evaluator scores a single (question, answer) pair. Implementations must
// be pure functions of their inputs apart from an injected similarity
// backend, so grading stays deterministic and replayable.
type Evaluator interface {
	Evaluate(ctx context.Context, q Question, response string) (Result, error)
}

// Registry maps question types to evaluators. It is built once at startup
// and read-only thereafter.
type Registry struct {
	strategies map[QuestionType]Evaluator
}

// Resolve returns the evaluator bound to t.
func (r *Registry) Resolve(t QuestionType) (Evaluator, error) {
	s, ok := r.strategies[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, t)
	}
	return s, nil
}

// Registry options

type Option func(*config)

type config struct {
	backend           SimilarityBackend
	similarityTimeout time.Duration
	maxEditDistance   int
}

// WithSimilarity installs a similarity backend for essay grading. Absence
// is a valid configuration; essays then fall back to keyword scoring or
// manual review.
func WithSimilarity(b SimilarityBackend) Option {
	return func(c *config) { c.backend = b }
}

// WithSimilarityTimeout bounds a single backend call.
func WithSimilarityTimeout(d time.Duration) Option {
	return func(c *config) { c.similarityTimeout = d }
}

// WithMaxEditDistance tunes the near-miss hint on fill-in-the-blank
// answers. Zero disables the hint.
func WithMaxEditDistance(n int) Option {
	return func(c *config) { c.maxEditDistance = n }
}

// NewRegistry installs the built-in strategies for the closed type set.
func NewRegistry(opts ...Option) *Registry {
	cfg := &config{
		similarityTimeout: 10 * time.Second,
		maxEditDistance:   1,
	}
	for _, o := range opts {
		o(cfg)
	}
	kw := keywordStrategy{}
	return &Registry{
		strategies: map[QuestionType]Evaluator{
			TypeMultipleChoice: exactStrategy{},
			TypeTrueFalse:      exactStrategy{},
			TypeFillBlank:      exactStrategy{maxEdit: cfg.maxEditDistance},
			TypeShortAnswer:    kw,
			TypeEssay: essayStrategy{
				backend:  cfg.backend,
				timeout:  cfg.similarityTimeout,
				fallback: kw,
			},
		},
	}
}

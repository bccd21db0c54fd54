package grading

import (
	"context"
	"errors"
	"math/rand"
	"reflect"
	"testing"
)

func twoQuestionExam() (Exam, []Question) {
	exam := Exam{ID: "exam-1", PassingScore: 10}
	questions := []Question{
		{ID: "q1", Type: TypeMultipleChoice, Marks: 10, Key: Key{Accept: []string{"8"}}},
		{ID: "q2", Type: TypeShortAnswer, Marks: 10, Key: Key{
			Keywords: map[string]float64{"loop": 1, "iteration": 1},
		}},
	}
	return exam, questions
}

func TestAggregatePassing(t *testing.T) {
	exam, questions := twoQuestionExam()
	answers := []Answer{
		{ID: "a1", QuestionID: "q1", Response: "8"},
		{ID: "a2", QuestionID: "q2", Response: "loop"},
	}
	agg := NewAggregator(NewRegistry(), 0)
	res, err := agg.Aggregate(context.Background(), exam, questions, answers)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if res.Answers[0].Score != 10 || res.Answers[1].Score != 5 {
		t.Errorf("per-answer scores = %v/%v, want 10/5", res.Answers[0].Score, res.Answers[1].Score)
	}
	if res.Total != 15 {
		t.Errorf("total = %v, want 15", res.Total)
	}
	if !res.Passed {
		t.Error("want passed")
	}
	if res.NeedsManual {
		t.Error("no manual review expected")
	}
}

func TestAggregateFailing(t *testing.T) {
	exam, questions := twoQuestionExam()
	answers := []Answer{
		{ID: "a1", QuestionID: "q1", Response: "6"},
		{ID: "a2", QuestionID: "q2", Response: ""},
	}
	agg := NewAggregator(NewRegistry(), 0)
	res, err := agg.Aggregate(context.Background(), exam, questions, answers)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if res.Total != 0 {
		t.Errorf("total = %v, want 0", res.Total)
	}
	if res.Passed {
		t.Error("want failed")
	}
}

func TestAggregateSumMatchesPerAnswerScores(t *testing.T) {
	exam, questions := twoQuestionExam()
	questions = append(questions, Question{
		ID: "q3", Type: TypeShortAnswer, Marks: 10,
		Key: Key{Keywords: map[string]float64{"stack": 1, "heap": 1, "frame": 1}},
	})
	answers := []Answer{
		{ID: "a1", QuestionID: "q1", Response: "8"},
		{ID: "a2", QuestionID: "q2", Response: "loop"},
		{ID: "a3", QuestionID: "q3", Response: "the stack"},
	}
	agg := NewAggregator(NewRegistry(), 0)
	res, err := agg.Aggregate(context.Background(), exam, questions, answers)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	sum := 0.0
	for _, a := range res.Answers {
		sum += a.Score
	}
	if round2(sum) != res.Total {
		t.Errorf("sum of per-answer scores %v != total %v", round2(sum), res.Total)
	}
}

func TestAggregateOrderIndependence(t *testing.T) {
	exam, questions := twoQuestionExam()
	answers := []Answer{
		{ID: "a1", QuestionID: "q1", Response: "8"},
		{ID: "a2", QuestionID: "q2", Response: "loop and iteration"},
	}
	agg := NewAggregator(NewRegistry(), 0)
	base, err := agg.Aggregate(context.Background(), exam, questions, answers)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 10; i++ {
		shuffled := append([]Answer(nil), answers...)
		rng.Shuffle(len(shuffled), func(a, b int) {
			shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
		})
		got, err := agg.Aggregate(context.Background(), exam, questions, shuffled)
		if err != nil {
			t.Fatalf("Aggregate: %v", err)
		}
		if !reflect.DeepEqual(got, base) {
			t.Fatalf("permuted answers changed result:\n got %+v\nwant %+v", got, base)
		}
	}
}

func TestAggregateIdempotent(t *testing.T) {
	exam, questions := twoQuestionExam()
	answers := []Answer{
		{ID: "a1", QuestionID: "q1", Response: "8"},
		{ID: "a2", QuestionID: "q2", Response: "loop"},
	}
	agg := NewAggregator(NewRegistry(), 0)
	first, err := agg.Aggregate(context.Background(), exam, questions, answers)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	second, err := agg.Aggregate(context.Background(), exam, questions, answers)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("re-aggregation differs:\n first %+v\nsecond %+v", first, second)
	}
}

func TestAggregateUnanswered(t *testing.T) {
	exam, questions := twoQuestionExam()
	answers := []Answer{{ID: "a1", QuestionID: "q1", Response: "8"}}
	agg := NewAggregator(NewRegistry(), 0)
	res, err := agg.Aggregate(context.Background(), exam, questions, answers)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if res.Answers[1].Score != 0 || res.Answers[1].Feedback != "not answered" {
		t.Errorf("unanswered = %+v, want zero score with 'not answered'", res.Answers[1])
	}
	if res.Total != 10 {
		t.Errorf("total = %v, want 10", res.Total)
	}
}

func TestAggregateUnknownQuestion(t *testing.T) {
	exam, questions := twoQuestionExam()
	answers := []Answer{{ID: "a1", QuestionID: "q99", Response: "8"}}
	agg := NewAggregator(NewRegistry(), 0)
	if _, err := agg.Aggregate(context.Background(), exam, questions, answers); !errors.Is(err, ErrUnknownQuestion) {
		t.Errorf("err = %v, want ErrUnknownQuestion", err)
	}
}

func TestAggregateDuplicateAnswer(t *testing.T) {
	exam, questions := twoQuestionExam()
	answers := []Answer{
		{ID: "a1", QuestionID: "q1", Response: "8"},
		{ID: "a2", QuestionID: "q1", Response: "6"},
	}
	agg := NewAggregator(NewRegistry(), 0)
	if _, err := agg.Aggregate(context.Background(), exam, questions, answers); !errors.Is(err, ErrDuplicateAnswer) {
		t.Errorf("err = %v, want ErrDuplicateAnswer", err)
	}
}

func TestAggregateUnsupportedTypeAborts(t *testing.T) {
	exam := Exam{ID: "exam-1", PassingScore: 5}
	questions := []Question{{ID: "q1", Type: "matching", Marks: 10}}
	answers := []Answer{{ID: "a1", QuestionID: "q1", Response: "x"}}
	agg := NewAggregator(NewRegistry(), 0)
	if _, err := agg.Aggregate(context.Background(), exam, questions, answers); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("err = %v, want ErrUnsupportedType", err)
	}
}

func TestAggregateManualDeferral(t *testing.T) {
	exam := Exam{ID: "exam-1", PassingScore: 5}
	questions := []Question{
		{ID: "q1", Type: TypeMultipleChoice, Marks: 10, Key: Key{Accept: []string{"8"}}},
		{ID: "q2", Type: TypeEssay, Marks: 10, Key: Key{Manual: true}},
	}
	answers := []Answer{
		{ID: "a1", QuestionID: "q1", Response: "8"},
		{ID: "a2", QuestionID: "q2", Response: "long essay text"},
	}
	agg := NewAggregator(NewRegistry(), 0)
	res, err := agg.Aggregate(context.Background(), exam, questions, answers)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if !res.NeedsManual {
		t.Error("want needs_manual set")
	}
	if !res.Answers[1].NeedsManual {
		t.Error("essay answer must be flagged for review")
	}
	if res.Answers[1].Score != 0 || res.Answers[1].Feedback != feedbackPendingManual {
		t.Errorf("deferred answer = %+v", res.Answers[1])
	}
}

func TestAggregateManualScoreOverride(t *testing.T) {
	exam := Exam{ID: "exam-1", PassingScore: 12}
	questions := []Question{
		{ID: "q1", Type: TypeMultipleChoice, Marks: 10, Key: Key{Accept: []string{"8"}}},
		{ID: "q2", Type: TypeEssay, Marks: 10, Key: Key{Manual: true}},
	}
	score := 7.0
	answers := []Answer{
		{ID: "a1", QuestionID: "q1", Response: "8"},
		{ID: "a2", QuestionID: "q2", Response: "long essay text", ManualScore: &score, ManualFeedback: "good structure"},
	}
	agg := NewAggregator(NewRegistry(), 0)
	res, err := agg.Aggregate(context.Background(), exam, questions, answers)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if res.NeedsManual {
		t.Error("reviewed submission must not need manual review")
	}
	if res.Answers[1].Score != 7 || res.Answers[1].Feedback != "good structure" {
		t.Errorf("reviewed answer = %+v", res.Answers[1])
	}
	if res.Total != 17 || !res.Passed {
		t.Errorf("total = %v passed = %v, want 17 passed", res.Total, res.Passed)
	}
}

func TestAggregateManualScoreClamped(t *testing.T) {
	exam := Exam{ID: "exam-1", PassingScore: 5}
	questions := []Question{{ID: "q1", Type: TypeEssay, Marks: 10, Key: Key{Manual: true}}}
	score := 25.0
	answers := []Answer{{ID: "a1", QuestionID: "q1", Response: "essay", ManualScore: &score}}
	agg := NewAggregator(NewRegistry(), 0)
	res, err := agg.Aggregate(context.Background(), exam, questions, answers)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if res.Answers[0].Score != 10 {
		t.Errorf("manual score not clamped to marks: %v", res.Answers[0].Score)
	}
}

func TestAggregatePartialEvaluatorFailureIsolation(t *testing.T) {
	exam := Exam{ID: "exam-1", PassingScore: 10}
	questions := []Question{
		{ID: "q1", Type: TypeMultipleChoice, Marks: 10, Key: Key{Accept: []string{"8"}}},
		// malformed expected-answer config: short_answer without keywords
		{ID: "q2", Type: TypeShortAnswer, Marks: 10},
	}
	answers := []Answer{
		{ID: "a1", QuestionID: "q1", Response: "8"},
		{ID: "a2", QuestionID: "q2", Response: "whatever"},
	}
	agg := NewAggregator(NewRegistry(), 0)
	res, err := agg.Aggregate(context.Background(), exam, questions, answers)
	if err != nil {
		t.Fatalf("Aggregate must not abort on a per-answer evaluator failure: %v", err)
	}
	if res.Answers[0].Score != 10 {
		t.Errorf("healthy answer score = %v, want 10", res.Answers[0].Score)
	}
	if !res.Answers[1].EvalFailed || res.Answers[1].Score != 0 {
		t.Errorf("failing answer = %+v, want flagged zero", res.Answers[1])
	}
	if res.Total != 10 || !res.Passed {
		t.Errorf("total = %v passed = %v, want 10 passed", res.Total, res.Passed)
	}
}

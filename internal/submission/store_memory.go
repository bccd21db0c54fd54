package submission

import (
	"context"
	"fmt"
	"sync"

	"github.com/gradepoint/gradepoint/internal/grading"
)

type memoryStore struct {
	mu          sync.RWMutex
	exams       map[string]Exam
	questions   map[string][]Question // examID -> questions
	submissions map[string]Submission
	answers     map[string][]Answer // submissionID -> answers
	attempts    map[string]string   // student|exam|attempt -> submissionID
}

// NewInMemoryStore returns a Store for tests and offline single-process use.
func NewInMemoryStore() Store {
	return &memoryStore{
		exams:       map[string]Exam{},
		questions:   map[string][]Question{},
		submissions: map[string]Submission{},
		answers:     map[string][]Answer{},
		attempts:    map[string]string{},
	}
}

func attemptKey(studentID, examID string, attempt int) string {
	return fmt.Sprintf("%s|%s|%d", studentID, examID, attempt)
}

func (m *memoryStore) PutExam(_ context.Context, e Exam) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exams[e.ID] = e
	return nil
}

func (m *memoryStore) GetExam(_ context.Context, id string) (Exam, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.exams[id]
	if !ok {
		return Exam{}, fmt.Errorf("exam %s: %w", id, ErrNotFound)
	}
	return e, nil
}

func (m *memoryStore) PutQuestions(_ context.Context, qs []Question) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, q := range qs {
		m.questions[q.ExamID] = append(m.questions[q.ExamID], q)
	}
	return nil
}

func (m *memoryStore) GetQuestions(_ context.Context, examID string) ([]Question, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Question(nil), m.questions[examID]...), nil
}

func (m *memoryStore) CreateSubmission(_ context.Context, sub Submission, answers []Answer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := attemptKey(sub.StudentID, sub.ExamID, sub.Attempt)
	if _, exists := m.attempts[key]; exists {
		return ErrDuplicateAttempt
	}
	m.attempts[key] = sub.ID
	m.submissions[sub.ID] = sub
	m.answers[sub.ID] = append([]Answer(nil), answers...)
	return nil
}

func (m *memoryStore) GetSubmission(_ context.Context, id string) (Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.submissions[id]
	if !ok {
		return Submission{}, fmt.Errorf("submission %s: %w", id, ErrNotFound)
	}
	return s, nil
}

func (m *memoryStore) GetAnswers(_ context.Context, submissionID string) ([]Answer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.submissions[submissionID]; !ok {
		return nil, fmt.Errorf("submission %s: %w", submissionID, ErrNotFound)
	}
	return append([]Answer(nil), m.answers[submissionID]...), nil
}

func (m *memoryStore) ClaimGrading(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.submissions[id]
	if !ok {
		return false, fmt.Errorf("submission %s: %w", id, ErrNotFound)
	}
	if s.Status != StatusPending && s.Status != StatusFailed {
		return false, nil
	}
	s.Status = StatusGrading
	s.FailReason = ""
	m.submissions[id] = s
	return true, nil
}

func (m *memoryStore) SaveResult(_ context.Context, id string, res grading.GradingResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.submissions[id]
	if !ok {
		return fmt.Errorf("submission %s: %w", id, ErrNotFound)
	}
	byID := make(map[string]grading.AnswerResult, len(res.Answers))
	for _, ar := range res.Answers {
		if ar.AnswerID != "" {
			byID[ar.AnswerID] = ar
		}
	}
	answers := m.answers[id]
	for i := range answers {
		ar, ok := byID[answers[i].ID]
		if !ok {
			continue
		}
		score := ar.Score
		answers[i].Score = &score
		answers[i].Feedback = ar.Feedback
		answers[i].NeedsManual = ar.NeedsManual
		answers[i].EvalFailed = ar.EvalFailed
	}
	total := res.Total
	passed := res.Passed
	s.Status = StatusGraded
	s.Score = &total
	s.Passed = &passed
	s.NeedsManual = res.NeedsManual
	m.submissions[id] = s
	return nil
}

func (m *memoryStore) MarkFailed(_ context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.submissions[id]
	if !ok {
		return fmt.Errorf("submission %s: %w", id, ErrNotFound)
	}
	s.Status = StatusFailed
	s.FailReason = reason
	m.submissions[id] = s
	return nil
}

func (m *memoryStore) ApplyManualScores(_ context.Context, submissionID string, updates map[string]ManualGradeInput, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.submissions[submissionID]; !ok {
		return fmt.Errorf("submission %s: %w", submissionID, ErrNotFound)
	}
	answers := m.answers[submissionID]
	for i := range answers {
		in, ok := updates[answers[i].QuestionID]
		if !ok {
			continue
		}
		score := in.Score
		answers[i].ManualScore = &score
		answers[i].ManualFeedback = in.Feedback
		answers[i].NeedsManual = false
	}
	return nil
}

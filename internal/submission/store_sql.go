package submission

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/gradepoint/gradepoint/internal/grading"
)

// SQLStore implements Store over database/sql, for the sqlite and
// postgres drivers opened by internal/db.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) PutExam(ctx context.Context, e Exam) error {
	if e.CreatedAt == 0 {
		e.CreatedAt = time.Now().Unix()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO exams (id,title,course,duration_sec,total_marks,passing_score,status,created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE SET title=EXCLUDED.title, course=EXCLUDED.course,
			duration_sec=EXCLUDED.duration_sec, total_marks=EXCLUDED.total_marks,
			passing_score=EXCLUDED.passing_score, status=EXCLUDED.status`,
		e.ID, e.Title, e.Course, e.DurationSec, e.TotalMarks, e.PassingScore, string(e.Status), e.CreatedAt)
	return err
}

func (s *SQLStore) GetExam(ctx context.Context, id string) (Exam, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id,title,course,duration_sec,total_marks,passing_score,status,created_at
		FROM exams WHERE id=$1`, id)
	var e Exam
	var status string
	if err := row.Scan(&e.ID, &e.Title, &e.Course, &e.DurationSec, &e.TotalMarks, &e.PassingScore, &status, &e.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Exam{}, fmt.Errorf("exam %s: %w", id, ErrNotFound)
		}
		return Exam{}, err
	}
	e.Status = ExamStatus(status)
	return e, nil
}

func (s *SQLStore) PutQuestions(ctx context.Context, qs []Question) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, q := range qs {
		kj, err := json.Marshal(q.Key)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO questions (id,exam_id,text,type,key_json,marks,ord)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
			ON CONFLICT (id) DO UPDATE SET text=EXCLUDED.text, type=EXCLUDED.type,
				key_json=EXCLUDED.key_json, marks=EXCLUDED.marks, ord=EXCLUDED.ord`,
			q.ID, q.ExamID, q.Text, string(q.Type), string(kj), q.Marks, q.Order); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLStore) GetQuestions(ctx context.Context, examID string) ([]Question, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id,exam_id,text,type,key_json,marks,ord
		FROM questions WHERE exam_id=$1 ORDER BY ord, id`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Question
	for rows.Next() {
		var q Question
		var typ, kj string
		if err := rows.Scan(&q.ID, &q.ExamID, &q.Text, &typ, &kj, &q.Marks, &q.Order); err != nil {
			return nil, err
		}
		q.Type = grading.QuestionType(typ)
		if err := json.Unmarshal([]byte(kj), &q.Key); err != nil {
			return nil, fmt.Errorf("question %s key: %w", q.ID, err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *SQLStore) CreateSubmission(ctx context.Context, sub Submission, answers []Answer) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if sub.CreatedAt == 0 {
		sub.CreatedAt = time.Now().Unix()
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO submissions
		(id,exam_id,student_id,attempt,start_time,submit_time,status,needs_manual,late,time_taken,ip_address,user_agent,fail_reason,created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,'',$13)`,
		sub.ID, sub.ExamID, sub.StudentID, sub.Attempt,
		sub.StartTime.Unix(), sub.SubmitTime.Unix(), string(sub.Status),
		sub.NeedsManual, sub.Late, sub.TimeTaken, sub.IPAddress, sub.UserAgent, sub.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateAttempt
		}
		return err
	}
	for _, a := range answers {
		if _, err := tx.ExecContext(ctx, `INSERT INTO answers
			(id,submission_id,question_id,response,feedback,needs_manual,eval_failed,manual_feedback)
			VALUES ($1,$2,$3,$4,'',$5,$6,'')`,
			a.ID, a.SubmissionID, a.QuestionID, a.Response, a.NeedsManual, a.EvalFailed); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s", grading.ErrDuplicateAnswer, a.QuestionID)
			}
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLStore) GetSubmission(ctx context.Context, id string) (Submission, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id,exam_id,student_id,attempt,start_time,submit_time,status,score,passed,needs_manual,late,time_taken,ip_address,user_agent,fail_reason,created_at
		FROM submissions WHERE id=$1`, id)
	var sub Submission
	var status string
	var start, submit int64
	var score sql.NullFloat64
	var passed sql.NullBool
	if err := row.Scan(&sub.ID, &sub.ExamID, &sub.StudentID, &sub.Attempt, &start, &submit,
		&status, &score, &passed, &sub.NeedsManual, &sub.Late, &sub.TimeTaken,
		&sub.IPAddress, &sub.UserAgent, &sub.FailReason, &sub.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Submission{}, fmt.Errorf("submission %s: %w", id, ErrNotFound)
		}
		return Submission{}, err
	}
	sub.Status = Status(status)
	sub.StartTime = time.Unix(start, 0).UTC()
	sub.SubmitTime = time.Unix(submit, 0).UTC()
	if score.Valid {
		sub.Score = &score.Float64
	}
	if passed.Valid {
		sub.Passed = &passed.Bool
	}
	return sub, nil
}

func (s *SQLStore) GetAnswers(ctx context.Context, submissionID string) ([]Answer, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id,submission_id,question_id,response,score,feedback,needs_manual,eval_failed,manual_score,manual_feedback
		FROM answers WHERE submission_id=$1 ORDER BY id`, submissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Answer
	for rows.Next() {
		var a Answer
		var score, manual sql.NullFloat64
		if err := rows.Scan(&a.ID, &a.SubmissionID, &a.QuestionID, &a.Response,
			&score, &a.Feedback, &a.NeedsManual, &a.EvalFailed, &manual, &a.ManualFeedback); err != nil {
			return nil, err
		}
		if score.Valid {
			v := score.Float64
			a.Score = &v
		}
		if manual.Valid {
			v := manual.Float64
			a.ManualScore = &v
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLStore) ClaimGrading(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE submissions SET status='grading', fail_reason=''
		WHERE id=$1 AND status IN ('pending','failed')`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		// distinguish a missing submission from a lost CAS
		var one int
		if err := s.db.QueryRowContext(ctx, `SELECT 1 FROM submissions WHERE id=$1`, id).Scan(&one); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return false, fmt.Errorf("submission %s: %w", id, ErrNotFound)
			}
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (s *SQLStore) SaveResult(ctx context.Context, id string, res grading.GradingResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, ar := range res.Answers {
		if ar.AnswerID == "" {
			continue // unanswered question, no row to update
		}
		if _, err := tx.ExecContext(ctx, `UPDATE answers SET score=$1, feedback=$2, needs_manual=$3, eval_failed=$4
			WHERE id=$5 AND submission_id=$6`,
			ar.Score, ar.Feedback, ar.NeedsManual, ar.EvalFailed, ar.AnswerID, id); err != nil {
			return err
		}
	}
	out, err := tx.ExecContext(ctx, `UPDATE submissions SET status='graded', score=$1, passed=$2, needs_manual=$3, fail_reason=''
		WHERE id=$4 AND status IN ('grading','graded')`,
		res.Total, res.Passed, res.NeedsManual, id)
	if err != nil {
		return err
	}
	n, err := out.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("submission %s not in a gradable state", id)
	}
	return tx.Commit()
}

func (s *SQLStore) MarkFailed(ctx context.Context, id, reason string) error {
	if len(reason) > 1024 {
		reason = reason[:1024]
	}
	_, err := s.db.ExecContext(ctx, `UPDATE submissions SET status='failed', fail_reason=$1
		WHERE id=$2 AND status='grading'`, reason, id)
	return err
}

func (s *SQLStore) ApplyManualScores(ctx context.Context, submissionID string, updates map[string]ManualGradeInput, reviewer string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for qid, in := range updates {
		res, err := tx.ExecContext(ctx, `UPDATE answers SET manual_score=$1, manual_feedback=$2, needs_manual=$3, reviewed_by=$4
			WHERE submission_id=$5 AND question_id=$6`,
			in.Score, in.Feedback, false, reviewer, submissionID, qid)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("answer for question %s: %w", qid, ErrNotFound)
		}
	}
	return tx.Commit()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

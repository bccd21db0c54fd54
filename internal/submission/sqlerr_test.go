package submission

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"sqlite unique", errors.New("constraint failed: UNIQUE constraint failed: submissions.student_id, submissions.exam_id, submissions.attempt (1555)"), true},
		{"sqlite foreign key", errors.New("constraint failed: FOREIGN KEY constraint failed (787)"), false},
		{"sqlite not null", errors.New("constraint failed: NOT NULL constraint failed: answers.question_id (1299)"), false},
		{"postgres unique", &pgconn.PgError{Code: "23505"}, true},
		{"postgres foreign key", &pgconn.PgError{Code: "23503"}, false},
		{"wrapped postgres unique", fmt.Errorf("insert submission: %w", &pgconn.PgError{Code: "23505"}), true},
		{"unrelated", errors.New("database is locked"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isUniqueViolation(tt.err); got != tt.want {
				t.Errorf("isUniqueViolation(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

package http

import (
	"github.com/go-chi/chi/v5"

	authmw "github.com/gradepoint/gradepoint/internal/auth/middleware"
	"github.com/gradepoint/gradepoint/internal/submission"
)

// MountSubmissions wires the grading API under the given (already
// authenticated) router.
func MountSubmissions(r chi.Router, c *submission.Coordinator) {
	r.Post("/exams/{examID}/submissions", SubmitHandler(c))
	r.Post("/submissions/{submissionID}/grade", GradeHandler(c))
	r.Get("/submissions/{submissionID}/result", ResultHandler(c))
	r.Group(func(rr chi.Router) {
		rr.Use(authmw.RequireRole("reviewer"))
		rr.Post("/submissions/{submissionID}/review", ReviewHandler(c))
	})
}

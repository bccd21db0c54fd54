package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	api "github.com/gradepoint/gradepoint/internal/api/http"
	authmw "github.com/gradepoint/gradepoint/internal/auth/middleware"
	"github.com/gradepoint/gradepoint/internal/config"
	"github.com/gradepoint/gradepoint/internal/db"
	"github.com/gradepoint/gradepoint/internal/grading"
	"github.com/gradepoint/gradepoint/internal/similarity"
	"github.com/gradepoint/gradepoint/internal/submission"
)

func main() {
	cfg := config.FromEnv()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbh, err := db.Open(ctx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	if err != nil {
		log.Fatalf("db open failed: %v", err)
	}
	store := submission.NewSQLStore(dbh)

	regOpts := []grading.Option{grading.WithSimilarityTimeout(cfg.SimilarityTimeout)}
	if cfg.SimilarityAPIKey != "" || cfg.SimilarityBaseURL != "" {
		backend := similarity.New(cfg.SimilarityBaseURL, cfg.SimilarityAPIKey, cfg.SimilarityModel)
		regOpts = append(regOpts, grading.WithSimilarity(backend))
		logger.Info("similarity backend enabled", "model", cfg.SimilarityModel)
	}
	registry := grading.NewRegistry(regOpts...)
	aggregator := grading.NewAggregator(registry, cfg.GradeWorkers)
	coordinator := submission.NewCoordinator(store, aggregator, logger, cfg.LateGrace)

	authSvc := authmw.NewAuthService(cfg.AuthSecret, cfg.ReviewerUser, cfg.ReviewerPassHash)

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Post("/auth/login", authmw.LoginHandler(authSvc))

	r.Route("/api", func(pr chi.Router) {
		pr.Use(authmw.JWTMiddleware(authSvc))
		api.MountSubmissions(pr, coordinator)
	})

	logger.Info("gradingd listening", "addr", cfg.HTTPAddr, "db", cfg.DBDriver)
	if err := http.ListenAndServe(cfg.HTTPAddr, r); err != nil {
		log.Fatalf("http server: %v", err)
	}
}

package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is built once from the environment at startup and read-only
// thereafter.
type Config struct {
	HTTPAddr string

	DBDriver string
	DBDSN    string

	AuthSecret       string
	ReviewerUser     string
	ReviewerPassHash string // bcrypt

	CORSOrigins []string

	// Similarity backend (optional; empty base URL and key disables it)
	SimilarityBaseURL string
	SimilarityAPIKey  string
	SimilarityModel   string
	SimilarityTimeout time.Duration

	GradeWorkers int
	LateGrace    time.Duration
}

func FromEnv() Config {
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	return Config{
		HTTPAddr:         addr,
		DBDriver:         envOr("DB_DRIVER", "sqlite"),
		DBDSN:            envOr("DB_DSN", ""),
		AuthSecret:       envOr("AUTH_HMAC_SECRET", "supersecret-dev-key"),
		ReviewerUser:     envOr("REVIEWER_USER", "reviewer"),
		ReviewerPassHash: envOr("REVIEWER_PASS_HASH", "$2y$12$pyZAiWaTfVtM7UElIRStvOC3gNbnp70nmQU4eYopLGBfCJr1DOvji"),
		CORSOrigins:      csvOr("CORS_ORIGINS", "http://localhost:3000"),

		SimilarityBaseURL: os.Getenv("SIMILARITY_BASE_URL"),
		SimilarityAPIKey:  os.Getenv("SIMILARITY_API_KEY"),
		SimilarityModel:   os.Getenv("SIMILARITY_MODEL"),
		SimilarityTimeout: envDurationMS("SIMILARITY_TIMEOUT_MS", 10*time.Second),

		GradeWorkers: envInt("GRADE_WORKERS", 8),
		LateGrace:    envDurationMS("LATE_GRACE_MS", 30*time.Second),
	}
}

func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func envInt(k string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(k)); err == nil {
		return v
	}
	return def
}

func envDurationMS(k string, def time.Duration) time.Duration {
	if v, err := strconv.Atoi(os.Getenv(k)); err == nil && v > 0 {
		return time.Duration(v) * time.Millisecond
	}
	return def
}

func csvOr(k, def string) []string {
	v := envOr(k, def)
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("storage: not found")

// Feed status values. A feed starts pending, becomes active after its first
// successful processing cycle, and error after a failed fetch.
const (
	FeedStatusPending = "pending"
	FeedStatusActive  = "active"
	FeedStatusError   = "error"
)

// Email digest frequencies.
const (
	FrequencyDaily  = "daily"
	FrequencyWeekly = "weekly"
	FrequencyNever  = "never"
)

// Store wraps the SQLite database holding users, feeds, and articles.
type Store struct {
	db *sqlx.DB
}

// User is a registered account. The processing core only reads users; the
// single exception is the expired-account cleanup job.
type User struct {
	ID                   int64      `db:"id"`
	Username             string     `db:"username"`
	Email                string     `db:"email"`
	PasswordHash         *string    `db:"password_hash"`
	EmailVerified        bool       `db:"email_verified"`
	VerificationToken    *string    `db:"verification_token"`
	TokenExpiresAt       *time.Time `db:"token_expires_at"`
	NotificationsEnabled bool       `db:"notifications_enabled"`
	EmailFrequency       string     `db:"email_frequency"`
	SummaryLength        string     `db:"summary_length"`
	IncludeCritique      bool       `db:"include_critique"`
	FocusAreas           string     `db:"focus_areas"`
	CreatedAt            time.Time  `db:"created_at"`
}

// Feed is a subscribed content source together with its processing health
// metrics. health_score is kept equal to
// success_count/(success_count+failure_count)*100 by the recording methods.
type Feed struct {
	ID                     int64      `db:"id"`
	UserID                 int64      `db:"user_id"`
	URL                    string     `db:"url"`
	Title                  *string    `db:"title"`
	LastChecked            *time.Time `db:"last_checked"`
	Status                 string     `db:"status"`
	ErrorMessage           *string    `db:"error_message"`
	ProcessingAttempts     int        `db:"processing_attempts"`
	SuccessCount           int        `db:"success_count"`
	FailureCount           int        `db:"failure_count"`
	LastSuccessfulProcess  *time.Time `db:"last_successful_process"`
	LastFailedProcess      *time.Time `db:"last_failed_process"`
	TotalArticlesProcessed int        `db:"total_articles_processed"`
	AverageProcessingTime  float64    `db:"average_processing_time"`
	LastProcessingDuration float64    `db:"last_processing_duration"`
	HealthScore            float64    `db:"health_score"`
	WebhookID              *string    `db:"webhook_id"`
	ETag                   *string    `db:"etag"`
	LastModified           *string    `db:"last_modified"`
}

// Article is one deduplicated feed entry. Rows are insert-only; re-fetches
// never touch existing rows.
type Article struct {
	ID            int64      `db:"id"`
	FeedID        int64      `db:"feed_id"`
	Title         string     `db:"title"`
	URL           string     `db:"url"`
	Content       string     `db:"content"`
	PublishedDate *time.Time `db:"published_date"`
	Summary       *string    `db:"summary"`
	Critique      *string    `db:"critique"`
	Processed     bool       `db:"processed"`
	CreatedAt     time.Time  `db:"created_at"`
}

// Tag and Category are normalized labels attached to articles.
type Tag struct {
	ID   int64  `db:"id"`
	Name string `db:"name"`
}

type Category struct {
	ID          int64   `db:"id"`
	Name        string  `db:"name"`
	Description *string `db:"description"`
}

// NewStore opens (creating if necessary) the SQLite database at dbPath and
// initializes the schema.
func NewStore(dbPath string) (*Store, error) {
	// FK enforcement is per-connection in SQLite, so the pragma goes in the
	// DSN where the driver applies it to every connection the pool opens.
	db, err := sqlx.Open("sqlite", dbPath+"?_time_format=sqlite&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	// Migrations for databases created before these columns existed.
	migrations := []string{
		"ALTER TABLE feeds ADD COLUMN webhook_id TEXT",
		"ALTER TABLE feeds ADD COLUMN etag TEXT",
		"ALTER TABLE feeds ADD COLUMN last_modified TEXT",
	}
	for _, m := range migrations {
		db.Exec(m) // ignore "duplicate column" errors
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func wrapNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

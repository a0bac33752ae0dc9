package feedscribe

import "time"

// Feed is the public view of a subscribed feed and its processing health.
type Feed struct {
	ID                     int64
	UserID                 int64
	URL                    string
	Title                  string
	Status                 string
	ErrorMessage           string
	LastChecked            *time.Time
	ProcessingAttempts     int
	SuccessCount           int
	FailureCount           int
	LastSuccessfulProcess  *time.Time
	LastFailedProcess      *time.Time
	TotalArticlesProcessed int
	AverageProcessingTime  float64
	LastProcessingDuration float64
	HealthScore            float64
	HasWebhook             bool
}

// Article is the public view of one stored entry.
type Article struct {
	ID            int64
	FeedID        int64
	Title         string
	URL           string
	Summary       string
	Critique      string
	Processed     bool
	PublishedDate *time.Time
	CreatedAt     time.Time
}

// Job is a diagnostic snapshot of one scheduled job.
type Job struct {
	ID      string
	Trigger string
	NextRun time.Time
	Running int
}

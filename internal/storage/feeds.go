package storage

import (
	"fmt"
	"time"
)

// AddFeed registers a new feed for a user in pending status.
func (s *Store) AddFeed(userID int64, url string) (int64, error) {
	res, err := s.db.Exec(
		"INSERT INTO feeds (user_id, url, status) VALUES (?, ?, ?)",
		userID, url, FeedStatusPending)
	if err != nil {
		return 0, fmt.Errorf("add feed: %w", err)
	}
	return res.LastInsertId()
}

// GetFeed returns the feed with the given id, or ErrNotFound.
func (s *Store) GetFeed(id int64) (*Feed, error) {
	var f Feed
	if err := s.db.Get(&f, "SELECT * FROM feeds WHERE id = ?", id); err != nil {
		return nil, wrapNotFound(err)
	}
	return &f, nil
}

// FeedsForUser returns all feeds belonging to a user.
func (s *Store) FeedsForUser(userID int64) ([]Feed, error) {
	var feeds []Feed
	if err := s.db.Select(&feeds, "SELECT * FROM feeds WHERE user_id = ? ORDER BY id", userID); err != nil {
		return nil, fmt.Errorf("feeds for user: %w", err)
	}
	return feeds, nil
}

// FeedsByURL returns all feed rows subscribed to the given URL, across users.
func (s *Store) FeedsByURL(url string) ([]Feed, error) {
	var feeds []Feed
	if err := s.db.Select(&feeds, "SELECT * FROM feeds WHERE url = ? ORDER BY id", url); err != nil {
		return nil, fmt.Errorf("feeds by url: %w", err)
	}
	return feeds, nil
}

// EligibleFeeds selects feeds due for a processing cycle: owner verified,
// retry budget not exhausted (or feed currently healthy), and outside the
// cool-down window. Least-recently-checked first, never-checked before all.
func (s *Store) EligibleFeeds(now time.Time, cooldown time.Duration, maxAttempts int) ([]Feed, error) {
	cutoff := now.Add(-cooldown)
	var feeds []Feed
	err := s.db.Select(&feeds, `
		SELECT f.* FROM feeds f
		JOIN users u ON u.id = f.user_id
		WHERE u.email_verified = 1
		  AND (f.processing_attempts < ? OR f.status = ?)
		  AND (f.last_checked IS NULL OR f.last_checked < ?)
		ORDER BY f.last_checked ASC`,
		maxAttempts, FeedStatusActive, cutoff)
	if err != nil {
		return nil, fmt.Errorf("eligible feeds: %w", err)
	}
	return feeds, nil
}

// BeginAttempt increments processing_attempts and persists immediately, so a
// crash mid-cycle still leaves a visible trace. Returns the new attempt count.
func (s *Store) BeginAttempt(feedID int64) (int, error) {
	res, err := s.db.Exec(
		"UPDATE feeds SET processing_attempts = processing_attempts + 1 WHERE id = ?", feedID)
	if err != nil {
		return 0, fmt.Errorf("begin attempt: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return 0, ErrNotFound
	}
	var attempts int
	if err := s.db.Get(&attempts, "SELECT processing_attempts FROM feeds WHERE id = ?", feedID); err != nil {
		return 0, wrapNotFound(err)
	}
	return attempts, nil
}

// MarkFetched records the parsed title, check time, and HTTP cache headers
// after a successful fetch. Empty header values clear the stored ones.
func (s *Store) MarkFetched(feedID int64, title string, checkedAt time.Time, etag, lastModified string) error {
	_, err := s.db.Exec(`
		UPDATE feeds SET title = ?, last_checked = ?, etag = ?, last_modified = ?
		WHERE id = ?`,
		title, checkedAt, nullableString(etag), nullableString(lastModified), feedID)
	if err != nil {
		return fmt.Errorf("mark fetched: %w", err)
	}
	return nil
}

// RecordSuccess finalizes a successful cycle: active status, cleared error,
// success counters, running-mean processing time, and recomputed health score.
func (s *Store) RecordSuccess(feedID int64, at time.Time, newArticles int, duration float64) error {
	_, err := s.db.Exec(`
		UPDATE feeds SET
			status = ?,
			error_message = NULL,
			success_count = success_count + 1,
			last_successful_process = ?,
			total_articles_processed = total_articles_processed + ?,
			last_processing_duration = ?,
			average_processing_time =
				(average_processing_time * success_count + ?) / (success_count + 1),
			health_score =
				CAST(success_count + 1 AS REAL) / (success_count + 1 + failure_count) * 100
		WHERE id = ?`,
		FeedStatusActive, at, newArticles, duration, duration, feedID)
	if err != nil {
		return fmt.Errorf("record success: %w", err)
	}
	return nil
}

// RecordFailure marks a failed cycle: error status and message, failure
// counters, and recomputed health score.
func (s *Store) RecordFailure(feedID int64, errMsg string, at time.Time) error {
	_, err := s.db.Exec(`
		UPDATE feeds SET
			status = ?,
			error_message = ?,
			failure_count = failure_count + 1,
			last_failed_process = ?,
			last_checked = ?,
			health_score =
				CAST(success_count AS REAL) / (success_count + failure_count + 1) * 100
		WHERE id = ?`,
		FeedStatusError, errMsg, at, at, feedID)
	if err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	return nil
}

// ResetAttempts zeroes the retry budget so a manual reprocess can run a feed
// that went sticky-error.
func (s *Store) ResetAttempts(feedID int64) error {
	_, err := s.db.Exec(
		"UPDATE feeds SET processing_attempts = 0, status = ? WHERE id = ?",
		FeedStatusPending, feedID)
	if err != nil {
		return fmt.Errorf("reset attempts: %w", err)
	}
	return nil
}

// SetWebhookID stores the push-subscription id for a feed.
func (s *Store) SetWebhookID(feedID int64, webhookID string) error {
	_, err := s.db.Exec("UPDATE feeds SET webhook_id = ? WHERE id = ?", webhookID, feedID)
	if err != nil {
		return fmt.Errorf("set webhook id: %w", err)
	}
	return nil
}

// WebhookIDForURL returns an existing subscription id held by any other feed
// row with the same URL, if one exists. webhook_id is intentionally not
// unique: feeds pointing at the same URL share one subscription.
func (s *Store) WebhookIDForURL(url string, excludeFeedID int64) (*string, error) {
	var id string
	err := s.db.Get(&id, `
		SELECT webhook_id FROM feeds
		WHERE url = ? AND id != ? AND webhook_id IS NOT NULL
		LIMIT 1`, url, excludeFeedID)
	if err != nil {
		if wrapNotFound(err) == ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("webhook id for url: %w", err)
	}
	return &id, nil
}

// WebhookIDInUse reports whether any feed other than the given one still
// references the subscription id.
func (s *Store) WebhookIDInUse(webhookID string, excludeFeedID int64) (bool, error) {
	var n int
	err := s.db.Get(&n,
		"SELECT COUNT(*) FROM feeds WHERE webhook_id = ? AND id != ?",
		webhookID, excludeFeedID)
	if err != nil {
		return false, fmt.Errorf("webhook id in use: %w", err)
	}
	return n > 0, nil
}

// DeleteFeed removes a feed and, via FK cascade, its articles.
func (s *Store) DeleteFeed(feedID int64) error {
	_, err := s.db.Exec("DELETE FROM feeds WHERE id = ?", feedID)
	if err != nil {
		return fmt.Errorf("delete feed: %w", err)
	}
	return nil
}

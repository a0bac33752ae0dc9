package storage

import (
	"fmt"
	"time"
)

// ArticleExists reports whether the dedupe key (feed_id, url) already has a
// row.
func (s *Store) ArticleExists(feedID int64, url string) (bool, error) {
	var n int
	err := s.db.Get(&n, "SELECT COUNT(*) FROM articles WHERE feed_id = ? AND url = ?", feedID, url)
	if err != nil {
		return false, fmt.Errorf("article exists: %w", err)
	}
	return n > 0, nil
}

// InsertArticle inserts an article, relying on the (feed_id, url) unique
// constraint for deduplication. Returns the new row id and whether a row was
// actually created; a duplicate reports created=false without error.
func (s *Store) InsertArticle(a *Article) (int64, bool, error) {
	res, err := s.db.NamedExec(`
		INSERT INTO articles (feed_id, title, url, content, published_date,
			summary, critique, processed)
		VALUES (:feed_id, :title, :url, :content, :published_date,
			:summary, :critique, :processed)
		ON CONFLICT(feed_id, url) DO NOTHING`, a)
	if err != nil {
		return 0, false, fmt.Errorf("insert article: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("insert article: %w", err)
	}
	if affected == 0 {
		return 0, false, nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("insert article: %w", err)
	}
	a.ID = id
	return id, true, nil
}

// FeedArticles returns all articles of a feed, newest first.
func (s *Store) FeedArticles(feedID int64) ([]Article, error) {
	var articles []Article
	err := s.db.Select(&articles,
		"SELECT * FROM articles WHERE feed_id = ? ORDER BY created_at DESC, id DESC", feedID)
	if err != nil {
		return nil, fmt.Errorf("feed articles: %w", err)
	}
	return articles, nil
}

// ProcessedArticlesSince returns a user's enriched articles created after the
// cutoff, newest first. Used to assemble digest emails.
func (s *Store) ProcessedArticlesSince(userID int64, since time.Time) ([]Article, error) {
	var articles []Article
	err := s.db.Select(&articles, `
		SELECT a.* FROM articles a
		JOIN feeds f ON f.id = a.feed_id
		WHERE f.user_id = ?
		  AND a.processed = 1
		  AND a.created_at >= ?
		ORDER BY a.created_at DESC, a.id DESC`, userID, since)
	if err != nil {
		return nil, fmt.Errorf("processed articles since: %w", err)
	}
	return articles, nil
}

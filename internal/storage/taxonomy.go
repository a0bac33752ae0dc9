package storage

import (
	"fmt"
	"strings"
)

// maxNameLen caps normalized tag/category names.
const maxNameLen = 50

// CleanName normalizes a tag or category name: trimmed, lower-cased, internal
// whitespace collapsed, capped at maxNameLen runes. Idempotent: cleaning an
// already-clean name returns it unchanged.
func CleanName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.Join(strings.Fields(name), " ")
	runes := []rune(name)
	if len(runes) > maxNameLen {
		name = strings.TrimSpace(string(runes[:maxNameLen]))
	}
	return name
}

// GetOrCreateTag resolves a name (normalized first) to a tag row, inserting
// it when absent. Empty names after cleaning are rejected.
func (s *Store) GetOrCreateTag(name string) (*Tag, error) {
	name = CleanName(name)
	if name == "" {
		return nil, fmt.Errorf("empty tag name")
	}
	if _, err := s.db.Exec(
		"INSERT INTO tags (name) VALUES (?) ON CONFLICT(name) DO NOTHING", name); err != nil {
		return nil, fmt.Errorf("create tag: %w", err)
	}
	var t Tag
	if err := s.db.Get(&t, "SELECT * FROM tags WHERE name = ?", name); err != nil {
		return nil, fmt.Errorf("get tag: %w", err)
	}
	return &t, nil
}

// GetOrCreateCategory resolves a name (normalized first) to a category row,
// inserting it when absent.
func (s *Store) GetOrCreateCategory(name string) (*Category, error) {
	name = CleanName(name)
	if name == "" {
		return nil, fmt.Errorf("empty category name")
	}
	if _, err := s.db.Exec(
		"INSERT INTO categories (name) VALUES (?) ON CONFLICT(name) DO NOTHING", name); err != nil {
		return nil, fmt.Errorf("create category: %w", err)
	}
	var c Category
	if err := s.db.Get(&c, "SELECT * FROM categories WHERE name = ?", name); err != nil {
		return nil, fmt.Errorf("get category: %w", err)
	}
	return &c, nil
}

// TagArticle attaches a tag to an article. Re-attaching is a no-op.
func (s *Store) TagArticle(articleID, tagID int64) error {
	_, err := s.db.Exec(`
		INSERT INTO article_tags (article_id, tag_id) VALUES (?, ?)
		ON CONFLICT(article_id, tag_id) DO NOTHING`, articleID, tagID)
	if err != nil {
		return fmt.Errorf("tag article: %w", err)
	}
	return nil
}

// CategorizeArticle attaches a category to an article. Re-attaching is a
// no-op.
func (s *Store) CategorizeArticle(articleID, categoryID int64) error {
	_, err := s.db.Exec(`
		INSERT INTO article_categories (article_id, category_id) VALUES (?, ?)
		ON CONFLICT(article_id, category_id) DO NOTHING`, articleID, categoryID)
	if err != nil {
		return fmt.Errorf("categorize article: %w", err)
	}
	return nil
}

// ArticleTags returns the normalized tag names attached to an article.
func (s *Store) ArticleTags(articleID int64) ([]string, error) {
	var names []string
	err := s.db.Select(&names, `
		SELECT t.name FROM tags t
		JOIN article_tags at ON at.tag_id = t.id
		WHERE at.article_id = ?
		ORDER BY t.name`, articleID)
	if err != nil {
		return nil, fmt.Errorf("article tags: %w", err)
	}
	return names, nil
}

// ArticleCategories returns the normalized category names attached to an
// article.
func (s *Store) ArticleCategories(articleID int64) ([]string, error) {
	var names []string
	err := s.db.Select(&names, `
		SELECT c.name FROM categories c
		JOIN article_categories ac ON ac.category_id = c.id
		WHERE ac.article_id = ?
		ORDER BY c.name`, articleID)
	if err != nil {
		return nil, fmt.Errorf("article categories: %w", err)
	}
	return names, nil
}

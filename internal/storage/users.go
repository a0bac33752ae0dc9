package storage

import (
	"fmt"
	"time"
)

// CreateUser inserts a user row. The web layer normally owns user creation;
// this exists for bootstrapping and tests.
func (s *Store) CreateUser(u *User) (int64, error) {
	res, err := s.db.NamedExec(`
		INSERT INTO users (username, email, password_hash, email_verified,
			verification_token, token_expires_at, notifications_enabled,
			email_frequency, summary_length, include_critique, focus_areas)
		VALUES (:username, :email, :password_hash, :email_verified,
			:verification_token, :token_expires_at, :notifications_enabled,
			:email_frequency, :summary_length, :include_critique, :focus_areas)`,
		u)
	if err != nil {
		return 0, fmt.Errorf("create user: %w", err)
	}
	return res.LastInsertId()
}

// GetUser returns the user with the given id, or ErrNotFound.
func (s *Store) GetUser(id int64) (*User, error) {
	var u User
	if err := s.db.Get(&u, "SELECT * FROM users WHERE id = ?", id); err != nil {
		return nil, wrapNotFound(err)
	}
	return &u, nil
}

// UsersForDigest returns verified users who have notifications enabled and
// whose digest frequency matches.
func (s *Store) UsersForDigest(frequency string) ([]User, error) {
	var users []User
	err := s.db.Select(&users, `
		SELECT * FROM users
		WHERE email_verified = 1
		  AND notifications_enabled = 1
		  AND email_frequency = ?
		ORDER BY id`, frequency)
	if err != nil {
		return nil, fmt.Errorf("users for digest: %w", err)
	}
	return users, nil
}

// DeleteExpiredUnverifiedUsers removes accounts that never verified their
// email before the token expired. Feeds and articles go with them via FK
// cascade. Returns the number of deleted accounts.
func (s *Store) DeleteExpiredUnverifiedUsers(now time.Time) (int64, error) {
	res, err := s.db.Exec(`
		DELETE FROM users
		WHERE email_verified = 0
		  AND token_expires_at IS NOT NULL
		  AND token_expires_at < ?`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired accounts: %w", err)
	}
	return res.RowsAffected()
}

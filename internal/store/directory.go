package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/4xmen/peyk/internal/apperr"
	"github.com/4xmen/peyk/internal/models"
)

// GetUser looks up one user by id.
func (s *Store) GetUser(ctx context.Context, id int64) (*models.User, error) {
	u, err := s.getUser(ctx, s.db, id)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return u, nil
}

// ListUsers returns users of one kind, optionally filtered by a name
// prefix. Used by the contact pickers.
func (s *Store) ListUsers(ctx context.Context, kind models.UserKind, search string) ([]models.User, error) {
	if !kind.Valid() {
		return nil, apperr.Validation("invalid user kind")
	}

	query := "SELECT id, username, kind, display_name, avatar_url, department, created_at FROM users WHERE kind = ?"
	args := []any{string(kind)}

	if search = strings.TrimSpace(search); search != "" {
		query += " AND (username LIKE ? OR display_name LIKE ?)"
		pattern := search + "%"
		args = append(args, pattern, pattern)
	}
	query += " ORDER BY COALESCE(display_name, username)"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var (
			u       models.User
			kindRaw string
		)
		err := rows.Scan(&u.ID, &u.Username, &kindRaw, &u.DisplayName, &u.AvatarURL, &u.Department, &u.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		u.Kind = models.UserKind(kindRaw)
		users = append(users, u)
	}
	return users, rows.Err()
}

// StudentClass resolves a student's class id for event routing. Students
// without an enrollment get 0, meaning no class channel.
func (s *Store) StudentClass(ctx context.Context, studentID int64) (int64, error) {
	var classID int64
	err := s.db.QueryRowContext(ctx,
		"SELECT class_id FROM enrollments WHERE student_id = ? ORDER BY class_id LIMIT 1",
		studentID,
	).Scan(&classID)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to resolve class: %w", err)
	}
	return classID, nil
}

// SavePushSubscription stores a Web Push subscription for a user. The same
// endpoint resubscribing just refreshes the row.
func (s *Store) SavePushSubscription(ctx context.Context, who models.Identity, endpoint, p256dh, auth string) error {
	if endpoint == "" || p256dh == "" || auth == "" {
		return apperr.Validation("invalid request")
	}

	_, err := s.db.ExecContext(ctx, "DELETE FROM push_subscriptions WHERE user_id = ? AND endpoint = ?", who.ID, endpoint)
	if err != nil {
		return fmt.Errorf("failed to save subscription: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO push_subscriptions (user_id, endpoint, p256dh, auth) VALUES (?, ?, ?, ?)",
		who.ID, endpoint, p256dh, auth,
	)
	if err != nil {
		return fmt.Errorf("failed to save subscription: %w", err)
	}
	return nil
}

// RemovePushSubscription revokes a subscription by endpoint.
func (s *Store) RemovePushSubscription(ctx context.Context, who models.Identity, endpoint string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE push_subscriptions SET revoked_at = CURRENT_TIMESTAMP WHERE user_id = ? AND endpoint = ?",
		who.ID, endpoint,
	)
	if err != nil {
		return fmt.Errorf("failed to remove subscription: %w", err)
	}
	return nil
}

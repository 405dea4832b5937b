package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/4xmen/peyk/internal/apperr"
	"github.com/4xmen/peyk/internal/models"
)

// ScheduleRequest is one message to be sent later.
type ScheduleRequest struct {
	RecipientID   int64
	RecipientKind models.UserKind
	Content       string
	Category      string
	Priority      string
	ScheduledFor  time.Time
}

// ScheduleMessage stores a message for future delivery. The scheduled time
// must be strictly in the future; a past or present time persists nothing.
func (s *Store) ScheduleMessage(ctx context.Context, who models.Identity, req ScheduleRequest) (*models.ScheduledMessage, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, apperr.Validation("message content is required")
	}
	if !req.RecipientKind.Valid() {
		return nil, apperr.Validation("invalid user kind")
	}
	if !req.ScheduledFor.After(time.Now()) {
		return nil, apperr.Validation("scheduled time must be in the future")
	}

	category, err := models.ParseCategory(req.Category)
	if err != nil {
		return nil, apperr.Validation("invalid message category")
	}
	priority, err := models.ParsePriority(req.Priority)
	if err != nil {
		return nil, apperr.Validation("invalid priority")
	}

	recipient, err := s.getUser(ctx, s.db, req.RecipientID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("recipient not found")
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	if recipient.Kind != req.RecipientKind {
		return nil, apperr.NotFound("recipient not found")
	}

	sm := &models.ScheduledMessage{
		SenderID:      who.ID,
		SenderKind:    who.Kind,
		RecipientID:   recipient.ID,
		RecipientKind: recipient.Kind,
		Content:       req.Content,
		Category:      category,
		Priority:      priority,
		ScheduledFor:  req.ScheduledFor.UTC(),
		Status:        models.ScheduledPending,
		CreatedAt:     time.Now().UTC(),
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduled_messages (sender_id, sender_kind, recipient_id, recipient_kind,
		                                content, category, priority, scheduled_for, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sm.SenderID, string(sm.SenderKind), sm.RecipientID, string(sm.RecipientKind),
		sm.Content, string(sm.Category), string(sm.Priority), sm.ScheduledFor, string(sm.Status), sm.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to schedule message: %w", err)
	}
	sm.ID, err = result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to schedule message: %w", err)
	}

	return sm, nil
}

// ListScheduled returns the caller's pending scheduled messages, soonest
// first.
func (s *Store) ListScheduled(ctx context.Context, who models.Identity) ([]models.ScheduledMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sender_id, sender_kind, recipient_id, recipient_kind,
		       content, category, priority, scheduled_for, status, created_at
		FROM scheduled_messages
		WHERE sender_id = ? AND status = 'pending'
		ORDER BY scheduled_for ASC
	`, who.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduled messages: %w", err)
	}
	defer rows.Close()

	var scheduled []models.ScheduledMessage
	for rows.Next() {
		sm, err := scanScheduled(rows)
		if err != nil {
			return nil, err
		}
		scheduled = append(scheduled, *sm)
	}
	return scheduled, rows.Err()
}

func scanScheduled(rows *sql.Rows) (*models.ScheduledMessage, error) {
	var (
		sm            models.ScheduledMessage
		senderKind    string
		recipientKind string
		status        string
	)
	err := rows.Scan(&sm.ID, &sm.SenderID, &senderKind, &sm.RecipientID, &recipientKind,
		&sm.Content, &sm.Category, &sm.Priority, &sm.ScheduledFor, &status, &sm.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan scheduled message: %w", err)
	}
	sm.SenderKind = models.UserKind(senderKind)
	sm.RecipientKind = models.UserKind(recipientKind)
	sm.Status = models.ScheduledStatus(status)
	return &sm, nil
}

// CancelScheduled cancels one of the caller's pending scheduled messages.
// The status guard in the update makes cancel and dispatch mutually
// exclusive: whichever flips the row first wins.
func (s *Store) CancelScheduled(ctx context.Context, who models.Identity, id int64) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE scheduled_messages SET status = 'cancelled' WHERE id = ? AND sender_id = ? AND status = 'pending'",
		id, who.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to cancel scheduled message: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperr.NotFound("scheduled message not found")
	}
	return nil
}

// DispatchDue sends every pending scheduled message whose time has come.
// Called periodically from the scheduler loop; returns how many went out.
func (s *Store) DispatchDue(ctx context.Context) (int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sender_id, sender_kind, recipient_id, recipient_kind,
		       content, category, priority, scheduled_for, status, created_at
		FROM scheduled_messages
		WHERE status = 'pending' AND scheduled_for <= ?
		ORDER BY scheduled_for ASC
	`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to fetch due messages: %w", err)
	}

	var due []models.ScheduledMessage
	for rows.Next() {
		sm, err := scanScheduled(rows)
		if err != nil {
			rows.Close()
			return 0, err
		}
		due = append(due, *sm)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	sent := 0
	for _, sm := range due {
		// Claim the row first so a cancel racing us loses cleanly.
		result, err := s.db.ExecContext(ctx,
			"UPDATE scheduled_messages SET status = 'sent' WHERE id = ? AND status = 'pending'",
			sm.ID,
		)
		if err != nil {
			log.Printf("scheduler: failed to claim message %d: %v", sm.ID, err)
			continue
		}
		if n, _ := result.RowsAffected(); n == 0 {
			continue
		}

		sender, err := s.getUser(ctx, s.db, sm.SenderID)
		if err != nil {
			log.Printf("scheduler: sender %d for message %d is gone: %v", sm.SenderID, sm.ID, err)
			continue
		}
		who := models.Identity{ID: sender.ID, Kind: sender.Kind, Name: sender.Label()}

		_, err = s.SendMessage(ctx, who, SendMessageRequest{
			RecipientID:   sm.RecipientID,
			RecipientKind: sm.RecipientKind,
			Content:       sm.Content,
			Category:      string(sm.Category),
			Priority:      string(sm.Priority),
		})
		if err != nil {
			log.Printf("scheduler: failed to dispatch message %d: %v", sm.ID, err)
			// Put it back so the next sweep tries again.
			s.db.ExecContext(ctx, "UPDATE scheduled_messages SET status = 'pending' WHERE id = ?", sm.ID)
			continue
		}
		sent++
	}
	return sent, nil
}

// RunScheduler dispatches due messages every interval until ctx ends.
func (s *Store) RunScheduler(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.DispatchDue(ctx)
			if err != nil {
				log.Printf("scheduler: dispatch sweep failed: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("scheduler: dispatched %d scheduled message(s)", n)
			}
		}
	}
}

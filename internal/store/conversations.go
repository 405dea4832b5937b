package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/4xmen/peyk/internal/apperr"
	"github.com/4xmen/peyk/internal/models"
)

// ConversationFilters narrows ListConversations. Nil pointer fields mean
// "don't care".
type ConversationFilters struct {
	OtherKind *models.UserKind
	Unread    bool
	Archived  *bool
	Resolved  *bool
	Starred   *bool
}

type ConversationSort string

const (
	SortRecent       ConversationSort = "recent"
	SortUnreadFirst  ConversationSort = "unread"
	SortPriority     ConversationSort = "priority"
	SortAlphabetical ConversationSort = "alphabetical"
)

// conversationView is one list entry: the caller's own participant row,
// the other side, and the last-message metadata used for sorting.
type conversationView struct {
	conv         models.Conversation
	lastPriority models.Priority
}

// ListConversations returns the caller's conversations, filtered and
// sorted. Archived conversations are hidden unless asked for explicitly.
func (s *Store) ListConversations(ctx context.Context, who models.Identity, filters ConversationFilters, sortBy ConversationSort) ([]models.Conversation, error) {
	query := `
		SELECT c.id, c.last_message_preview, c.last_message_at, c.created_at, c.updated_at,
		       self.user_id, self.user_kind, self.display_name,
		       self.pinned, self.starred, self.archived, self.resolved, self.muted, self.unread_count,
		       other.user_id, other.user_kind, other.display_name,
		       other.pinned, other.starred, other.archived, other.resolved, other.muted, other.unread_count,
		       COALESCE((SELECT m.priority FROM messages m
		                 WHERE m.conversation_id = c.id AND m.deleted = 0
		                 ORDER BY m.created_at DESC, m.id DESC LIMIT 1), 'normal')
		FROM conversations c
		JOIN conversation_participants self ON self.conversation_id = c.id AND self.user_id = ?
		JOIN conversation_participants other ON other.conversation_id = c.id AND other.user_id != ?
	`
	args := []any{who.ID, who.ID}

	var conds []string
	if filters.OtherKind != nil {
		conds = append(conds, "other.user_kind = ?")
		args = append(args, string(*filters.OtherKind))
	}
	if filters.Unread {
		conds = append(conds, "self.unread_count > 0")
	}
	if filters.Archived != nil {
		conds = append(conds, "self.archived = ?")
		args = append(args, boolInt(*filters.Archived))
	} else {
		conds = append(conds, "self.archived = 0")
	}
	if filters.Resolved != nil {
		conds = append(conds, "self.resolved = ?")
		args = append(args, boolInt(*filters.Resolved))
	}
	if filters.Starred != nil {
		conds = append(conds, "self.starred = ?")
		args = append(args, boolInt(*filters.Starred))
	}

	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var views []conversationView
	for rows.Next() {
		var (
			v             conversationView
			self, other   models.Participant
			selfKind      string
			otherKind     string
			lastMessageAt sql.NullTime
			priorityRaw   string
		)
		err := rows.Scan(
			&v.conv.ID, &v.conv.LastMessagePreview, &lastMessageAt, &v.conv.CreatedAt, &v.conv.UpdatedAt,
			&self.UserID, &selfKind, &self.DisplayName,
			&self.Pinned, &self.Starred, &self.Archived, &self.Resolved, &self.Muted, &self.UnreadCount,
			&other.UserID, &otherKind, &other.DisplayName,
			&other.Pinned, &other.Starred, &other.Archived, &other.Resolved, &other.Muted, &other.UnreadCount,
			&priorityRaw,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}

		self.UserKind = models.UserKind(selfKind)
		other.UserKind = models.UserKind(otherKind)
		if lastMessageAt.Valid {
			t := lastMessageAt.Time
			v.conv.LastMessageAt = &t
		}
		v.conv.Participants = []models.Participant{self, other}
		v.lastPriority, _ = models.ParsePriority(priorityRaw)

		views = append(views, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	sortViews(views, who, sortBy)

	conversations := make([]models.Conversation, 0, len(views))
	for _, v := range views {
		conversations = append(conversations, v.conv)
	}
	return conversations, nil
}

func sortViews(views []conversationView, who models.Identity, sortBy ConversationSort) {
	lastAt := func(v conversationView) time.Time {
		if v.conv.LastMessageAt != nil {
			return *v.conv.LastMessageAt
		}
		return v.conv.CreatedAt
	}
	byRecency := func(i, j int) bool {
		return lastAt(views[i]).After(lastAt(views[j]))
	}

	switch sortBy {
	case SortUnreadFirst:
		sort.SliceStable(views, func(i, j int) bool {
			ui := views[i].conv.Self(who).UnreadCount
			uj := views[j].conv.Self(who).UnreadCount
			if (ui > 0) != (uj > 0) {
				return ui > 0
			}
			return byRecency(i, j)
		})
	case SortPriority:
		sort.SliceStable(views, func(i, j int) bool {
			pi := views[i].lastPriority.Rank()
			pj := views[j].lastPriority.Rank()
			if pi != pj {
				return pi > pj
			}
			return byRecency(i, j)
		})
	case SortAlphabetical:
		sort.SliceStable(views, func(i, j int) bool {
			return views[i].conv.Other(who).DisplayName < views[j].conv.Other(who).DisplayName
		})
	default: // SortRecent
		sort.SliceStable(views, byRecency)
	}
}

// GetConversation fetches one conversation scoped to the caller. A
// conversation the caller does not participate in reports not found, the
// same as one that does not exist.
func (s *Store) GetConversation(ctx context.Context, who models.Identity, id int64) (*models.Conversation, error) {
	return s.getConversation(ctx, s.db, who, id)
}

func (s *Store) getConversation(ctx context.Context, q querier, who models.Identity, id int64) (*models.Conversation, error) {
	var (
		conv          models.Conversation
		lastMessageAt sql.NullTime
	)
	err := q.QueryRowContext(ctx,
		"SELECT id, last_message_preview, last_message_at, created_at, updated_at FROM conversations WHERE id = ?",
		id,
	).Scan(&conv.ID, &conv.LastMessagePreview, &lastMessageAt, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("conversation not found")
		}
		return nil, fmt.Errorf("failed to fetch conversation: %w", err)
	}
	if lastMessageAt.Valid {
		t := lastMessageAt.Time
		conv.LastMessageAt = &t
	}

	rows, err := q.QueryContext(ctx, `
		SELECT user_id, user_kind, display_name, pinned, starred, archived, resolved, muted, unread_count
		FROM conversation_participants WHERE conversation_id = ?
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch conversation: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			p       models.Participant
			kindRaw string
		)
		if err := rows.Scan(&p.UserID, &kindRaw, &p.DisplayName, &p.Pinned, &p.Starred, &p.Archived, &p.Resolved, &p.Muted, &p.UnreadCount); err != nil {
			return nil, fmt.Errorf("failed to fetch conversation: %w", err)
		}
		p.UserKind = models.UserKind(kindRaw)
		conv.Participants = append(conv.Participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to fetch conversation: %w", err)
	}

	if conv.Self(who) == nil {
		return nil, apperr.NotFound("conversation not found")
	}

	return &conv, nil
}

// CreateConversation is the idempotent lookup-or-create: calling it twice
// for the same pair, in either direction, yields the same id. The pair
// key is unique and the insert is INSERT OR IGNORE, so two racing creates
// still collapse to a single conversation; the loser re-selects the row
// the winner made.
func (s *Store) CreateConversation(ctx context.Context, who models.Identity, recipientID int64, recipientKind models.UserKind) (int64, error) {
	if recipientID == who.ID {
		return 0, apperr.Validation("cannot create conversation with yourself")
	}
	if !recipientKind.Valid() {
		return 0, apperr.Validation("invalid user kind")
	}

	recipient, err := s.getUser(ctx, s.db, recipientID)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, apperr.NotFound("recipient not found")
		}
		return 0, fmt.Errorf("failed to query user: %w", err)
	}
	if recipient.Kind != recipientKind {
		return 0, apperr.NotFound("recipient not found")
	}

	key := pairKey(who.ID, recipientID)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create conversation: %w", err)
	}
	defer tx.Rollback()

	var existingID int64
	err = tx.QueryRowContext(ctx, "SELECT id FROM conversations WHERE pair_key = ?", key).Scan(&existingID)
	if err == nil {
		return existingID, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("failed to create conversation: %w", err)
	}

	// The unique pair key closes the lookup/insert race: a concurrent
	// create for the same pair loses the insert, and we return the row
	// the winner made.
	result, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO conversations (pair_key) VALUES (?)", key)
	if err != nil {
		return 0, fmt.Errorf("failed to create conversation: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			return 0, fmt.Errorf("failed to create conversation: %w", err)
		}
		err = s.db.QueryRowContext(ctx, "SELECT id FROM conversations WHERE pair_key = ?", key).Scan(&existingID)
		if err != nil {
			return 0, fmt.Errorf("failed to create conversation: %w", err)
		}
		return existingID, nil
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to create conversation: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversation_participants (conversation_id, user_id, user_kind, display_name)
		VALUES (?, ?, ?, ?), (?, ?, ?, ?)
	`,
		id, who.ID, string(who.Kind), who.Name,
		id, recipient.ID, string(recipient.Kind), recipient.Label(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to create conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to create conversation: %w", err)
	}

	return id, nil
}

// participantFlag maps a flag name onto its column. Keeping the mapping
// closed here means no caller-supplied string ever reaches the SQL.
func participantFlag(flag string) (string, bool) {
	switch flag {
	case "pinned", "starred", "archived", "resolved", "muted":
		return flag, true
	}
	return "", false
}

func (s *Store) setFlag(ctx context.Context, who models.Identity, conversationID int64, flag string, value bool) error {
	column, ok := participantFlag(flag)
	if !ok {
		return apperr.Validation("invalid request")
	}

	result, err := s.db.ExecContext(ctx,
		"UPDATE conversation_participants SET "+column+" = ? WHERE conversation_id = ? AND user_id = ?",
		boolInt(value), conversationID, who.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperr.NotFound("conversation not found")
	}
	return nil
}

func (s *Store) PinConversation(ctx context.Context, who models.Identity, id int64, pinned bool) error {
	return s.setFlag(ctx, who, id, "pinned", pinned)
}

func (s *Store) StarConversation(ctx context.Context, who models.Identity, id int64, starred bool) error {
	return s.setFlag(ctx, who, id, "starred", starred)
}

func (s *Store) ArchiveConversation(ctx context.Context, who models.Identity, id int64, archived bool) error {
	return s.setFlag(ctx, who, id, "archived", archived)
}

func (s *Store) ResolveConversation(ctx context.Context, who models.Identity, id int64, resolved bool) error {
	return s.setFlag(ctx, who, id, "resolved", resolved)
}

func (s *Store) MuteConversation(ctx context.Context, who models.Identity, id int64, muted bool) error {
	return s.setFlag(ctx, who, id, "muted", muted)
}

// MarkRead records read receipts for every not-yet-read message from the
// other side and zeroes the caller's unread counter, in one transaction.
func (s *Store) MarkRead(ctx context.Context, who models.Identity, conversationID int64) error {
	if _, err := s.getConversation(ctx, s.db, who, conversationID); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	_, err = tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO read_receipts (message_id, user_id, read_at)
		SELECT id, ?, ? FROM messages
		WHERE conversation_id = ? AND sender_id != ? AND deleted = 0 AND read_at IS NULL
	`, who.ID, now, conversationID, who.ID)
	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE messages SET read_at = ?
		WHERE conversation_id = ? AND sender_id != ? AND deleted = 0 AND read_at IS NULL
	`, now, conversationID, who.ID)
	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE conversation_participants SET unread_count = 0 WHERE conversation_id = ? AND user_id = ?",
		conversationID, who.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}

	return tx.Commit()
}

// MarkUnread flags the conversation unread again for the caller.
func (s *Store) MarkUnread(ctx context.Context, who models.Identity, conversationID int64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE conversation_participants
		SET unread_count = CASE WHEN unread_count = 0 THEN 1 ELSE unread_count END
		WHERE conversation_id = ? AND user_id = ?
	`, conversationID, who.ID)
	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperr.NotFound("conversation not found")
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

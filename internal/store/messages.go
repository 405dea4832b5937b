package store

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/4xmen/peyk/internal/apperr"
	"github.com/4xmen/peyk/internal/models"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
	previewLength   = 100
)

// GetMessages returns one ascending page of a conversation's messages.
// Deleted messages never appear; attachments and reactions come attached.
func (s *Store) GetMessages(ctx context.Context, who models.Identity, conversationID int64, limit, offset int) ([]models.Message, error) {
	if err := s.requireParticipant(ctx, who, conversationID); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, sender_id, sender_kind, sender_name, content,
		       category, priority, is_forwarded, forwarded_from_id, forwarded_from_name,
		       reply_to_id, created_at, delivered_at, read_at
		FROM messages
		WHERE conversation_id = ? AND deleted = 0
		ORDER BY created_at ASC, id ASC
		LIMIT ? OFFSET ?
	`, conversationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}

	if err := s.attachExtras(ctx, who, messages); err != nil {
		return nil, err
	}

	return messages, nil
}

func scanMessages(rows *sql.Rows) ([]models.Message, error) {
	var messages []models.Message
	for rows.Next() {
		var (
			m           models.Message
			kindRaw     string
			deliveredAt sql.NullTime
			readAt      sql.NullTime
		)
		err := rows.Scan(
			&m.ID, &m.ConversationID, &m.SenderID, &kindRaw, &m.SenderName, &m.Content,
			&m.Category, &m.Priority, &m.IsForwarded, &m.ForwardedFromID, &m.ForwardedFromName,
			&m.ReplyToID, &m.CreatedAt, &deliveredAt, &readAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.SenderKind = models.UserKind(kindRaw)
		if deliveredAt.Valid {
			t := deliveredAt.Time
			m.DeliveredAt = &t
		}
		if readAt.Valid {
			t := readAt.Time
			m.ReadAt = &t
		}
		m.Status = m.DeriveStatus()
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan messages: %w", err)
	}
	return messages, nil
}

// attachExtras fills attachments, reactions, and the caller's pin flag for
// a page of messages.
func (s *Store) attachExtras(ctx context.Context, who models.Identity, messages []models.Message) error {
	if len(messages) == 0 {
		return nil
	}

	index := make(map[int64]*models.Message, len(messages))
	placeholders := make([]string, 0, len(messages))
	ids := make([]any, 0, len(messages))
	for i := range messages {
		index[messages[i].ID] = &messages[i]
		placeholders = append(placeholders, "?")
		ids = append(ids, messages[i].ID)
	}
	in := strings.Join(placeholders, ",")

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, message_id, file_name, storage_name, content_type, file_size,
		       storage_path, public_url, thumbnail_url, uploader_id, uploader_kind, scan_status, created_at
		FROM attachments WHERE message_id IN (`+in+`)
	`, ids...)
	if err != nil {
		return fmt.Errorf("failed to fetch attachments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			a       models.Attachment
			kindRaw string
		)
		err := rows.Scan(&a.ID, &a.MessageID, &a.FileName, &a.StorageName, &a.ContentType, &a.FileSize,
			&a.StoragePath, &a.PublicURL, &a.ThumbnailURL, &a.UploaderID, &kindRaw, &a.ScanStatus, &a.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to scan attachment: %w", err)
		}
		a.UploaderKind = models.UserKind(kindRaw)
		if s.blobs != nil {
			if url, err := s.blobs.PublicURL(ctx, a.StoragePath); err == nil {
				a.PublicURL = url
			}
		}
		if m := index[a.MessageID]; m != nil {
			m.Attachments = append(m.Attachments, a)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to fetch attachments: %w", err)
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT message_id, user_id, user_kind, reaction, created_at
		FROM reactions WHERE message_id IN (`+in+`)
	`, ids...)
	if err != nil {
		return fmt.Errorf("failed to fetch reactions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			r       models.Reaction
			kindRaw string
		)
		if err := rows.Scan(&r.MessageID, &r.UserID, &kindRaw, &r.Reaction, &r.CreatedAt); err != nil {
			return fmt.Errorf("failed to scan reaction: %w", err)
		}
		r.UserKind = models.UserKind(kindRaw)
		if m := index[r.MessageID]; m != nil {
			m.Reactions = append(m.Reactions, r)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to fetch reactions: %w", err)
	}

	rows, err = s.db.QueryContext(ctx,
		"SELECT message_id FROM message_pins WHERE user_id = ? AND message_id IN ("+in+")",
		append([]any{who.ID}, ids...)...)
	if err != nil {
		return fmt.Errorf("failed to fetch pins: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("failed to scan pin: %w", err)
		}
		if m := index[id]; m != nil {
			m.Pinned = true
		}
	}
	return rows.Err()
}

// requireParticipant gates every message operation on conversation
// membership.
func (s *Store) requireParticipant(ctx context.Context, who models.Identity, conversationID int64) error {
	var one int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM conversation_participants WHERE conversation_id = ? AND user_id = ?",
		conversationID, who.ID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return apperr.Permission("access denied to this conversation")
	}
	if err != nil {
		return fmt.Errorf("failed to check conversation access: %w", err)
	}
	return nil
}

// SendMessageRequest carries everything needed to send one message. Either
// ConversationID or the recipient pair must be set; with only a recipient
// the conversation is looked up or created first.
type SendMessageRequest struct {
	ConversationID int64
	RecipientID    int64
	RecipientKind  models.UserKind
	Content        string
	Category       string
	Priority       string
	ReplyToID      *int64
	Attachments    []AttachmentUpload
}

// SendMessage validates, persists, and delivers one message. Attachment
// validation runs before anything touches the database; the insert itself
// runs under the retry executor so transient failures get another go.
func (s *Store) SendMessage(ctx context.Context, who models.Identity, req SendMessageRequest) (*models.Message, error) {
	if strings.TrimSpace(req.Content) == "" && len(req.Attachments) == 0 {
		return nil, apperr.Validation("message content is required")
	}

	category, err := models.ParseCategory(req.Category)
	if err != nil {
		return nil, apperr.Validation("invalid message category")
	}
	priority, err := models.ParsePriority(req.Priority)
	if err != nil {
		return nil, apperr.Validation("invalid priority")
	}

	for _, u := range req.Attachments {
		if err := ValidateUpload(u); err != nil {
			return nil, err
		}
	}

	conversationID := req.ConversationID
	if conversationID == 0 {
		conversationID, err = s.CreateConversation(ctx, who, req.RecipientID, req.RecipientKind)
		if err != nil {
			return nil, err
		}
	}
	if err := s.requireParticipant(ctx, who, conversationID); err != nil {
		return nil, err
	}

	var msg *models.Message
	err = s.executor.Do(ctx, "send message", func(ctx context.Context) error {
		m, err := s.insertMessage(ctx, who, conversationID, req.Content, category, priority, req.ReplyToID, nil)
		if err != nil {
			return err
		}
		msg = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Attachment failures do not take the message down with them; the
	// message is already sent, the file just did not make it.
	for _, u := range req.Attachments {
		a, err := s.storeAttachment(ctx, who, conversationID, msg.ID, u, "")
		if err != nil {
			log.Printf("store: attachment %q for message %d failed: %v", u.FileName, msg.ID, err)
			continue
		}
		msg.Attachments = append(msg.Attachments, *a)
	}

	if conv, err := s.getConversation(ctx, s.db, who, conversationID); err == nil {
		if other := conv.Other(who); other != nil {
			s.notifyMessage(other.UserID, msg)
		}
	}

	return msg, nil
}

// insertMessage writes the message row and the conversation bookkeeping
// that goes with it in one transaction.
func (s *Store) insertMessage(ctx context.Context, who models.Identity, conversationID int64, content string, category models.MessageCategory, priority models.Priority, replyToID *int64, forwarded *models.Message) (*models.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}
	defer tx.Rollback()

	if replyToID != nil {
		var one int
		err := tx.QueryRowContext(ctx,
			"SELECT 1 FROM messages WHERE id = ? AND conversation_id = ? AND deleted = 0",
			*replyToID, conversationID,
		).Scan(&one)
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("message not found")
		}
		if err != nil {
			return nil, fmt.Errorf("failed to send message: %w", err)
		}
	}

	now := time.Now().UTC()
	m := &models.Message{
		ConversationID: conversationID,
		SenderID:       who.ID,
		SenderKind:     who.Kind,
		SenderName:     who.Name,
		Content:        content,
		Category:       category,
		Priority:       priority,
		ReplyToID:      replyToID,
		CreatedAt:      now,
	}
	if forwarded != nil {
		m.IsForwarded = true
		m.ForwardedFromID = &forwarded.SenderID
		m.ForwardedFromName = &forwarded.SenderName
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO messages (conversation_id, sender_id, sender_kind, sender_name, content,
		                      category, priority, is_forwarded, forwarded_from_id, forwarded_from_name,
		                      reply_to_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ConversationID, m.SenderID, string(m.SenderKind), m.SenderName, m.Content,
		string(m.Category), string(m.Priority), boolInt(m.IsForwarded), m.ForwardedFromID, m.ForwardedFromName,
		m.ReplyToID, m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}
	m.ID, err = result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	preview := content
	if len([]rune(preview)) > previewLength {
		preview = string([]rune(preview)[:previewLength])
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE conversations SET last_message_preview = ?, last_message_at = ?, updated_at = ? WHERE id = ?",
		preview, now, now, conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE conversation_participants SET unread_count = unread_count + 1 WHERE conversation_id = ? AND user_id != ?",
		conversationID, who.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	m.Status = m.DeriveStatus()
	return m, nil
}

// MarkDelivered stamps a message delivered. Called by the realtime layer
// once the recipient's live connection accepted the event.
func (s *Store) MarkDelivered(ctx context.Context, messageID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE messages SET delivered_at = ? WHERE id = ? AND delivered_at IS NULL",
		time.Now().UTC(), messageID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark message delivered: %w", err)
	}
	return nil
}

// messageMeta is the slice of a message row that access checks need.
type messageMeta struct {
	id             int64
	conversationID int64
	senderID       int64
}

func (s *Store) messageAccess(ctx context.Context, who models.Identity, messageID int64) (*messageMeta, error) {
	var m messageMeta
	err := s.db.QueryRowContext(ctx,
		"SELECT id, conversation_id, sender_id FROM messages WHERE id = ? AND deleted = 0",
		messageID,
	).Scan(&m.id, &m.conversationID, &m.senderID)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("message not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch message: %w", err)
	}
	if err := s.requireParticipant(ctx, who, m.conversationID); err != nil {
		return nil, err
	}
	return &m, nil
}

// DeleteMessage soft-deletes the caller's own message. The row stays for
// audit; it just stops appearing anywhere.
func (s *Store) DeleteMessage(ctx context.Context, who models.Identity, messageID int64) error {
	m, err := s.messageAccess(ctx, who, messageID)
	if err != nil {
		return err
	}
	if m.senderID != who.ID {
		return apperr.Permission("only the sender can delete a message")
	}

	_, err = s.db.ExecContext(ctx, "UPDATE messages SET deleted = 1 WHERE id = ?", messageID)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

// SearchFilters narrows SearchMessages. Nil pointer fields mean "don't
// care".
type SearchFilters struct {
	Category   *models.MessageCategory
	SenderKind *models.UserKind
}

// SearchMessages runs a full-text search over the caller's conversations.
func (s *Store) SearchMessages(ctx context.Context, who models.Identity, query string, filters SearchFilters, limit, offset int) ([]models.Message, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperr.Validation("search query is required")
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if offset < 0 {
		offset = 0
	}

	conds := []string{"m.deleted = 0"}
	var condArgs []any
	if filters.Category != nil {
		conds = append(conds, "m.category = ?")
		condArgs = append(condArgs, string(*filters.Category))
	}
	if filters.SenderKind != nil {
		conds = append(conds, "m.sender_kind = ?")
		condArgs = append(condArgs, string(*filters.SenderKind))
	}

	var (
		rows *sql.Rows
		err  error
	)
	if s.ftsAvailable(ctx) {
		// Quote the user's input so FTS operators in it cannot break the
		// query.
		match := `"` + strings.ReplaceAll(query, `"`, `""`) + `"`
		args := append([]any{who.ID, match}, condArgs...)
		args = append(args, limit, offset)
		rows, err = s.db.QueryContext(ctx, `
			SELECT m.id, m.conversation_id, m.sender_id, m.sender_kind, m.sender_name, m.content,
			       m.category, m.priority, m.is_forwarded, m.forwarded_from_id, m.forwarded_from_name,
			       m.reply_to_id, m.created_at, m.delivered_at, m.read_at
			FROM messages_fts f
			JOIN messages m ON m.id = f.rowid
			JOIN conversation_participants cp ON cp.conversation_id = m.conversation_id AND cp.user_id = ?
			WHERE messages_fts MATCH ? AND `+strings.Join(conds, " AND ")+`
			ORDER BY m.created_at DESC, m.id DESC
			LIMIT ? OFFSET ?
		`, args...)
	} else {
		pattern := "%" + strings.ReplaceAll(strings.ReplaceAll(query, "%", `\%`), "_", `\_`) + "%"
		args := append([]any{who.ID, pattern}, condArgs...)
		args = append(args, limit, offset)
		rows, err = s.db.QueryContext(ctx, `
			SELECT m.id, m.conversation_id, m.sender_id, m.sender_kind, m.sender_name, m.content,
			       m.category, m.priority, m.is_forwarded, m.forwarded_from_id, m.forwarded_from_name,
			       m.reply_to_id, m.created_at, m.delivered_at, m.read_at
			FROM messages m
			JOIN conversation_participants cp ON cp.conversation_id = m.conversation_id AND cp.user_id = ?
			WHERE m.content LIKE ? ESCAPE '\' AND `+strings.Join(conds, " AND ")+`
			ORDER BY m.created_at DESC, m.id DESC
			LIMIT ? OFFSET ?
		`, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// PinMessage pins a message for the caller only.
func (s *Store) PinMessage(ctx context.Context, who models.Identity, messageID int64) error {
	if _, err := s.messageAccess(ctx, who, messageID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO message_pins (message_id, user_id) VALUES (?, ?)",
		messageID, who.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to pin message: %w", err)
	}
	return nil
}

func (s *Store) UnpinMessage(ctx context.Context, who models.Identity, messageID int64) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM message_pins WHERE message_id = ? AND user_id = ?",
		messageID, who.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to unpin message: %w", err)
	}
	return nil
}

// AddReaction records one reaction. The primary key makes the same
// (message, user, reaction) triple a no-op on repeat.
func (s *Store) AddReaction(ctx context.Context, who models.Identity, messageID int64, reaction string) error {
	reaction = strings.TrimSpace(reaction)
	if reaction == "" {
		return apperr.Validation("reaction is required")
	}
	if _, err := s.messageAccess(ctx, who, messageID); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO reactions (message_id, user_id, user_kind, reaction) VALUES (?, ?, ?, ?)",
		messageID, who.ID, string(who.Kind), reaction,
	)
	if err != nil {
		return fmt.Errorf("failed to add reaction: %w", err)
	}
	return nil
}

// RemoveReaction deletes the caller's own reaction; other users' reactions
// are out of reach.
func (s *Store) RemoveReaction(ctx context.Context, who models.Identity, messageID int64, reaction string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM reactions WHERE message_id = ? AND user_id = ? AND reaction = ?",
		messageID, who.ID, reaction,
	)
	if err != nil {
		return fmt.Errorf("failed to remove reaction: %w", err)
	}
	return nil
}

// ForwardMessage copies a message the caller can read into another of the
// caller's conversations, keeping the original sender's attribution.
func (s *Store) ForwardMessage(ctx context.Context, who models.Identity, messageID, targetConversationID int64, note string) (*models.Message, error) {
	if _, err := s.messageAccess(ctx, who, messageID); err != nil {
		return nil, err
	}
	if err := s.requireParticipant(ctx, who, targetConversationID); err != nil {
		return nil, err
	}

	var original models.Message
	var kindRaw string
	err := s.db.QueryRowContext(ctx,
		"SELECT sender_id, sender_kind, sender_name, content, category, priority FROM messages WHERE id = ?",
		messageID,
	).Scan(&original.SenderID, &kindRaw, &original.SenderName, &original.Content, &original.Category, &original.Priority)
	if err != nil {
		return nil, fmt.Errorf("failed to forward message: %w", err)
	}
	original.SenderKind = models.UserKind(kindRaw)

	content := original.Content
	if note = strings.TrimSpace(note); note != "" {
		content = note + "\n\n" + content
	}

	var msg *models.Message
	err = s.executor.Do(ctx, "forward message", func(ctx context.Context) error {
		m, err := s.insertMessage(ctx, who, targetConversationID, content, original.Category, original.Priority, nil, &original)
		if err != nil {
			return err
		}
		msg = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	if conv, err := s.getConversation(ctx, s.db, who, targetConversationID); err == nil {
		if other := conv.Other(who); other != nil {
			s.notifyMessage(other.UserID, msg)
		}
	}

	return msg, nil
}

// storeAttachment scans, uploads, and records one attachment. pathPrefix
// overrides the default per-conversation storage prefix; broadcasts use it
// to share one stored copy across recipients.
func (s *Store) storeAttachment(ctx context.Context, who models.Identity, conversationID, messageID int64, u AttachmentUpload, pathPrefix string) (*models.Attachment, error) {
	if err := ValidateUpload(u); err != nil {
		return nil, err
	}

	status := models.ScanPassed
	if s.scanner != nil {
		var err error
		status, err = s.scanner.Scan(ctx, u.FileName)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attachment: %w", err)
		}
	}
	if status == models.ScanFailed {
		return nil, apperr.Upload("file failed security scan")
	}

	storageName := uuid.NewString() + strings.ToLower(filepath.Ext(u.FileName))
	if pathPrefix == "" {
		pathPrefix = fmt.Sprintf("attachments/%d", conversationID)
	}
	storagePath := pathPrefix + "/" + storageName

	if s.blobs != nil {
		err := s.executor.Do(ctx, "upload attachment", func(ctx context.Context) error {
			return s.blobs.Upload(ctx, storagePath, bytes.NewReader(u.Content), u.ContentType)
		})
		if err != nil {
			return nil, err
		}
	}

	var publicURL string
	if s.blobs != nil {
		if url, err := s.blobs.PublicURL(ctx, storagePath); err == nil {
			publicURL = url
		}
	}

	a := &models.Attachment{
		MessageID:    messageID,
		FileName:     u.FileName,
		StorageName:  storageName,
		ContentType:  u.ContentType,
		FileSize:     u.Size,
		StoragePath:  storagePath,
		PublicURL:    publicURL,
		UploaderID:   who.ID,
		UploaderKind: who.Kind,
		ScanStatus:   status,
		CreatedAt:    time.Now().UTC(),
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO attachments (message_id, file_name, storage_name, content_type, file_size,
		                         storage_path, public_url, uploader_id, uploader_kind, scan_status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.MessageID, a.FileName, a.StorageName, a.ContentType, a.FileSize,
		a.StoragePath, a.PublicURL, a.UploaderID, string(a.UploaderKind), string(a.ScanStatus), a.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to record attachment: %w", err)
	}
	a.ID, err = result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to record attachment: %w", err)
	}

	return a, nil
}

// UploadAttachment attaches one file to an existing message the caller
// can read. Same pipeline as the send path: validate, scan, blob upload,
// metadata row.
func (s *Store) UploadAttachment(ctx context.Context, who models.Identity, messageID int64, u AttachmentUpload) (*models.Attachment, error) {
	m, err := s.messageAccess(ctx, who, messageID)
	if err != nil {
		return nil, err
	}
	return s.storeAttachment(ctx, who, m.conversationID, messageID, u, "")
}

// OpenAttachment resolves an attachment the caller may read and returns
// its stored content.
func (s *Store) OpenAttachment(ctx context.Context, who models.Identity, attachmentID int64) (*models.Attachment, io.ReadCloser, error) {
	var (
		a       models.Attachment
		kindRaw string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, message_id, file_name, storage_name, content_type, file_size,
		       storage_path, public_url, thumbnail_url, uploader_id, uploader_kind, scan_status, created_at
		FROM attachments WHERE id = ?
	`, attachmentID).Scan(&a.ID, &a.MessageID, &a.FileName, &a.StorageName, &a.ContentType, &a.FileSize,
		&a.StoragePath, &a.PublicURL, &a.ThumbnailURL, &a.UploaderID, &kindRaw, &a.ScanStatus, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil, apperr.NotFound("attachment not found")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch attachment: %w", err)
	}
	a.UploaderKind = models.UserKind(kindRaw)

	if _, err := s.messageAccess(ctx, who, a.MessageID); err != nil {
		return nil, nil, err
	}

	if s.blobs == nil {
		return nil, nil, apperr.NotFound("attachment not found")
	}
	body, err := s.blobs.Download(ctx, a.StoragePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open attachment: %w", err)
	}
	return &a, body, nil
}

package store

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/4xmen/peyk/internal/apperr"
	"github.com/4xmen/peyk/internal/models"
)

// BroadcastRequest is one broadcast as submitted by an office user.
type BroadcastRequest struct {
	Content     string
	Category    string
	Priority    string
	Criteria    models.BroadcastCriteria
	Attachments []AttachmentUpload
}

// sharedAttachment is an attachment uploaded once and referenced by every
// recipient's copy of the broadcast message.
type sharedAttachment struct {
	upload      AttachmentUpload
	storageName string
	storagePath string
	publicURL   string
	scanStatus  models.ScanStatus
}

// SendBroadcast resolves recipients from the criteria and delivers the
// message to each one in turn. Failures are accumulated per recipient, not
// raised: one bad recipient never takes the broadcast down. The counters
// always satisfy delivered + failed == total.
func (s *Store) SendBroadcast(ctx context.Context, who models.Identity, req BroadcastRequest) (*models.Broadcast, error) {
	if who.Kind != models.KindOffice {
		return nil, apperr.Permission("only office can broadcast")
	}
	if strings.TrimSpace(req.Content) == "" {
		return nil, apperr.Validation("message content is required")
	}
	if err := req.Criteria.Validate(); err != nil {
		return nil, apperr.Validation(err.Error())
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

	recipients, err := s.resolveRecipients(ctx, req.Criteria)
	if err != nil {
		return nil, err
	}
	if len(recipients) == 0 {
		return nil, apperr.Validation("no recipients matched")
	}

	b := &models.Broadcast{
		ID:              uuid.NewString(),
		SenderID:        who.ID,
		SenderKind:      who.Kind,
		SenderName:      who.Name,
		Content:         req.Content,
		Category:        category,
		Priority:        priority,
		Criteria:        req.Criteria,
		TotalRecipients: len(recipients),
		CreatedAt:       time.Now().UTC(),
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO broadcasts (id, sender_id, sender_kind, sender_name, content, category, priority,
		                        criteria_type, criteria_class, criteria_session, criteria_department,
		                        total_recipients, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, b.ID, b.SenderID, string(b.SenderKind), b.SenderName, b.Content, string(b.Category), string(b.Priority),
		string(req.Criteria.Type), req.Criteria.ClassName, req.Criteria.Session, req.Criteria.Department,
		b.TotalRecipients, b.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to record broadcast: %w", err)
	}

	for _, r := range recipients {
		_, err = s.db.ExecContext(ctx,
			"INSERT INTO broadcast_recipients (broadcast_id, user_id, user_kind) VALUES (?, ?, ?)",
			b.ID, r.UserID, string(r.UserKind),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to record broadcast: %w", err)
		}
	}

	shared, err := s.uploadSharedAttachments(ctx, b.ID, req.Attachments)
	if err != nil {
		return nil, err
	}

	s.deliverBroadcast(ctx, who, b, recipients, shared)

	return b, nil
}

// uploadSharedAttachments stores each broadcast attachment once; recipient
// messages reference the same stored object.
func (s *Store) uploadSharedAttachments(ctx context.Context, broadcastID string, uploads []AttachmentUpload) ([]sharedAttachment, error) {
	var shared []sharedAttachment
	for _, u := range uploads {
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
		storagePath := "broadcasts/" + broadcastID + "/" + storageName

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

		shared = append(shared, sharedAttachment{
			upload:      u,
			storageName: storageName,
			storagePath: storagePath,
			publicURL:   publicURL,
			scanStatus:  status,
		})
	}
	return shared, nil
}

// deliverBroadcast walks the recipient list sequentially and records each
// outcome. Counters are written once at the end.
func (s *Store) deliverBroadcast(ctx context.Context, who models.Identity, b *models.Broadcast, recipients []models.BroadcastRecipient, shared []sharedAttachment) {
	delivered, failed := 0, 0
	for _, r := range recipients {
		err := s.executor.Do(ctx, "broadcast delivery", func(ctx context.Context) error {
			return s.deliverToRecipient(ctx, who, b, r, shared)
		})
		if err != nil {
			failed++
			b.FailedRecipients = append(b.FailedRecipients, models.BroadcastRecipient{
				UserID:   r.UserID,
				UserKind: r.UserKind,
				Status:   "failed",
				Error:    apperr.Message(err),
			})
			s.setRecipientStatus(ctx, b.ID, r.UserID, "failed", apperr.Message(err))
			log.Printf("broadcast %s: delivery to user %d failed: %v", b.ID, r.UserID, err)
			continue
		}
		delivered++
		s.setRecipientStatus(ctx, b.ID, r.UserID, "delivered", "")
		s.notifyBroadcast(r.UserID, b)
	}

	b.DeliveredCount = delivered
	b.FailedCount = failed

	_, err := s.db.ExecContext(ctx,
		"UPDATE broadcasts SET delivered_count = ?, failed_count = ? WHERE id = ?",
		delivered, failed, b.ID,
	)
	if err != nil {
		log.Printf("broadcast %s: failed to update counters: %v", b.ID, err)
	}
}

// deliverToRecipient lands the broadcast in the recipient's one-on-one
// conversation with the sender.
func (s *Store) deliverToRecipient(ctx context.Context, who models.Identity, b *models.Broadcast, r models.BroadcastRecipient, shared []sharedAttachment) error {
	conversationID, err := s.CreateConversation(ctx, who, r.UserID, r.UserKind)
	if err != nil {
		return err
	}

	msg, err := s.insertMessage(ctx, who, conversationID, b.Content, b.Category, b.Priority, nil, nil)
	if err != nil {
		return err
	}

	for _, a := range shared {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO attachments (message_id, file_name, storage_name, content_type, file_size,
			                         storage_path, public_url, uploader_id, uploader_kind, scan_status)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, msg.ID, a.upload.FileName, a.storageName, a.upload.ContentType, a.upload.Size,
			a.storagePath, a.publicURL, who.ID, string(who.Kind), string(a.scanStatus))
		if err != nil {
			return fmt.Errorf("failed to record attachment: %w", err)
		}
	}

	return nil
}

func (s *Store) setRecipientStatus(ctx context.Context, broadcastID string, userID int64, status, errMsg string) {
	_, err := s.db.ExecContext(ctx,
		"UPDATE broadcast_recipients SET status = ?, error = ?, updated_at = ? WHERE broadcast_id = ? AND user_id = ?",
		status, errMsg, time.Now().UTC(), broadcastID, userID,
	)
	if err != nil {
		log.Printf("broadcast %s: failed to update recipient %d: %v", broadcastID, userID, err)
	}
}

// resolveRecipients expands criteria into concrete users with their kinds.
func (s *Store) resolveRecipients(ctx context.Context, criteria models.BroadcastCriteria) ([]models.BroadcastRecipient, error) {
	var (
		query string
		args  []any
	)
	switch criteria.Type {
	case models.CriteriaAllStudents:
		query = "SELECT id, kind FROM users WHERE kind = 'student' ORDER BY id"
	case models.CriteriaAllTeachers:
		query = "SELECT id, kind FROM users WHERE kind = 'teacher' ORDER BY id"
	case models.CriteriaSpecificClass:
		query = `
			SELECT u.id, u.kind FROM users u
			JOIN enrollments e ON e.student_id = u.id
			JOIN classes c ON c.id = e.class_id
			WHERE c.name = ? AND (? = '' OR c.session = ?)
			ORDER BY u.id
		`
		args = []any{criteria.ClassName, criteria.Session, criteria.Session}
	case models.CriteriaDepartment:
		query = "SELECT id, kind FROM users WHERE kind = 'teacher' AND department = ? ORDER BY id"
		args = []any{criteria.Department}
	default:
		return nil, apperr.Validation("unknown criteria type")
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve recipients: %w", err)
	}
	defer rows.Close()

	var recipients []models.BroadcastRecipient
	for rows.Next() {
		var (
			r       models.BroadcastRecipient
			kindRaw string
		)
		if err := rows.Scan(&r.UserID, &kindRaw); err != nil {
			return nil, fmt.Errorf("failed to resolve recipients: %w", err)
		}
		r.UserKind = models.UserKind(kindRaw)
		r.Status = "pending"
		recipients = append(recipients, r)
	}
	return recipients, rows.Err()
}

// RetryFailedDeliveries re-runs delivery for every failed recipient of the
// caller's broadcast. Kinds come from the persisted recipient rows, so the
// retry needs no guessing. Counters move additively: each recovered
// recipient shifts one from failed to delivered.
func (s *Store) RetryFailedDeliveries(ctx context.Context, who models.Identity, broadcastID string) (*models.Broadcast, error) {
	b, err := s.GetBroadcast(ctx, who, broadcastID)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT user_id, user_kind FROM broadcast_recipients WHERE broadcast_id = ? AND status = 'failed' ORDER BY user_id",
		broadcastID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch failed recipients: %w", err)
	}
	defer rows.Close()

	var failed []models.BroadcastRecipient
	for rows.Next() {
		var (
			r       models.BroadcastRecipient
			kindRaw string
		)
		if err := rows.Scan(&r.UserID, &kindRaw); err != nil {
			return nil, fmt.Errorf("failed to fetch failed recipients: %w", err)
		}
		r.UserKind = models.UserKind(kindRaw)
		failed = append(failed, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to fetch failed recipients: %w", err)
	}

	shared, err := s.sharedAttachmentsFor(ctx, broadcastID)
	if err != nil {
		return nil, err
	}

	recovered := 0
	b.FailedRecipients = nil
	for _, r := range failed {
		err := s.executor.Do(ctx, "broadcast delivery", func(ctx context.Context) error {
			return s.deliverToRecipient(ctx, who, b, r, shared)
		})
		if err != nil {
			b.FailedRecipients = append(b.FailedRecipients, models.BroadcastRecipient{
				UserID:   r.UserID,
				UserKind: r.UserKind,
				Status:   "failed",
				Error:    apperr.Message(err),
			})
			s.setRecipientStatus(ctx, broadcastID, r.UserID, "failed", apperr.Message(err))
			continue
		}
		recovered++
		s.setRecipientStatus(ctx, broadcastID, r.UserID, "delivered", "")
		s.notifyBroadcast(r.UserID, b)
	}

	b.DeliveredCount += recovered
	b.FailedCount -= recovered

	_, err = s.db.ExecContext(ctx,
		"UPDATE broadcasts SET delivered_count = ?, failed_count = ? WHERE id = ?",
		b.DeliveredCount, b.FailedCount, broadcastID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update broadcast: %w", err)
	}

	return b, nil
}

// sharedAttachmentsFor rebuilds the shared attachment list from any
// delivered copy, so retries reference the already-stored objects instead
// of uploading again.
func (s *Store) sharedAttachmentsFor(ctx context.Context, broadcastID string) ([]sharedAttachment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT file_name, storage_name, content_type, file_size, storage_path, public_url, scan_status
		FROM attachments WHERE storage_path LIKE ?
	`, "broadcasts/"+broadcastID+"/%")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch broadcast attachments: %w", err)
	}
	defer rows.Close()

	var shared []sharedAttachment
	for rows.Next() {
		var (
			a         sharedAttachment
			statusRaw string
		)
		err := rows.Scan(&a.upload.FileName, &a.storageName, &a.upload.ContentType, &a.upload.Size,
			&a.storagePath, &a.publicURL, &statusRaw)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch broadcast attachments: %w", err)
		}
		a.scanStatus = models.ScanStatus(statusRaw)
		shared = append(shared, a)
	}
	return shared, rows.Err()
}

// BroadcastHistory lists the caller's broadcasts, newest first.
func (s *Store) BroadcastHistory(ctx context.Context, who models.Identity) ([]models.Broadcast, error) {
	if who.Kind != models.KindOffice {
		return nil, apperr.Permission("only office can broadcast")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sender_id, sender_kind, sender_name, content, category, priority,
		       criteria_type, criteria_class, criteria_session, criteria_department,
		       total_recipients, delivered_count, failed_count, created_at
		FROM broadcasts WHERE sender_id = ? ORDER BY created_at DESC
	`, who.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list broadcasts: %w", err)
	}
	defer rows.Close()

	var broadcasts []models.Broadcast
	for rows.Next() {
		b, err := scanBroadcast(rows)
		if err != nil {
			return nil, err
		}
		broadcasts = append(broadcasts, *b)
	}
	return broadcasts, rows.Err()
}

func scanBroadcast(rows *sql.Rows) (*models.Broadcast, error) {
	var (
		b        models.Broadcast
		kindRaw  string
		critType string
	)
	err := rows.Scan(&b.ID, &b.SenderID, &kindRaw, &b.SenderName, &b.Content, &b.Category, &b.Priority,
		&critType, &b.Criteria.ClassName, &b.Criteria.Session, &b.Criteria.Department,
		&b.TotalRecipients, &b.DeliveredCount, &b.FailedCount, &b.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan broadcast: %w", err)
	}
	b.SenderKind = models.UserKind(kindRaw)
	b.Criteria.Type = models.CriteriaType(critType)
	return &b, nil
}

// GetBroadcast returns one of the caller's broadcasts with its failed
// recipients.
func (s *Store) GetBroadcast(ctx context.Context, who models.Identity, id string) (*models.Broadcast, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sender_id, sender_kind, sender_name, content, category, priority,
		       criteria_type, criteria_class, criteria_session, criteria_department,
		       total_recipients, delivered_count, failed_count, created_at
		FROM broadcasts WHERE id = ? AND sender_id = ?
	`, id, who.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch broadcast: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to fetch broadcast: %w", err)
		}
		return nil, apperr.NotFound("broadcast not found")
	}
	b, err := scanBroadcast(rows)
	if err != nil {
		return nil, err
	}
	rows.Close()

	frows, err := s.db.QueryContext(ctx,
		"SELECT user_id, user_kind, status, error FROM broadcast_recipients WHERE broadcast_id = ? AND status = 'failed' ORDER BY user_id",
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch broadcast: %w", err)
	}
	defer frows.Close()

	for frows.Next() {
		var (
			r       models.BroadcastRecipient
			kindRaw string
		)
		if err := frows.Scan(&r.UserID, &kindRaw, &r.Status, &r.Error); err != nil {
			return nil, fmt.Errorf("failed to fetch broadcast: %w", err)
		}
		r.UserKind = models.UserKind(kindRaw)
		b.FailedRecipients = append(b.FailedRecipients, r)
	}
	return b, frows.Err()
}

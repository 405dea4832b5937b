// Package store owns every messaging entity: conversations, messages,
// attachments, reactions, broadcasts, and scheduled messages. Nothing
// outside this package touches the tables directly.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/4xmen/peyk/internal/blob"
	"github.com/4xmen/peyk/internal/models"
	"github.com/4xmen/peyk/internal/retry"
	"github.com/4xmen/peyk/internal/scan"
)

// DeliveryNotifier is how the store tells the outside world a message
// landed. The live event stream and the web push notifier both sit behind
// it; a nil notifier disables both.
type DeliveryNotifier interface {
	NotifyMessage(recipientID int64, msg *models.Message)
	NotifyBroadcast(recipientID int64, b *models.Broadcast)
}

type Store struct {
	db       *sql.DB
	blobs    blob.Store
	scanner  scan.Scanner
	executor *retry.Executor
	notifier DeliveryNotifier

	ftsOnce sync.Once
	ftsOK   bool
}

func New(db *sql.DB, blobs blob.Store, scanner scan.Scanner, executor *retry.Executor) *Store {
	if executor == nil {
		executor = retry.NewExecutor()
	}
	return &Store{
		db:       db,
		blobs:    blobs,
		scanner:  scanner,
		executor: executor,
	}
}

// SetNotifier attaches the delivery notifier after construction; the
// realtime layer is built later in startup than the store.
func (s *Store) SetNotifier(n DeliveryNotifier) {
	s.notifier = n
}

func (s *Store) notifyMessage(recipientID int64, msg *models.Message) {
	if s.notifier != nil {
		s.notifier.NotifyMessage(recipientID, msg)
	}
}

func (s *Store) notifyBroadcast(recipientID int64, b *models.Broadcast) {
	if s.notifier != nil {
		s.notifier.NotifyBroadcast(recipientID, b)
	}
}

// ftsAvailable reports whether the full-text index made it into this
// database. Builds without FTS5 skip it; search then scans with LIKE.
func (s *Store) ftsAvailable(ctx context.Context) bool {
	s.ftsOnce.Do(func() {
		var name string
		err := s.db.QueryRowContext(ctx,
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'messages_fts'",
		).Scan(&name)
		s.ftsOK = err == nil
	})
	return s.ftsOK
}

// pairKey normalizes a two-party conversation to a single lookup key so
// (A,B) and (B,A) land on the same row.
func pairKey(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%d", a, b)
}

// querier lets helpers run inside or outside a transaction.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) getUser(ctx context.Context, q querier, id int64) (*models.User, error) {
	var (
		u       models.User
		kindRaw string
	)
	err := q.QueryRowContext(ctx,
		"SELECT id, username, kind, display_name, avatar_url, department, created_at FROM users WHERE id = ?",
		id,
	).Scan(&u.ID, &u.Username, &kindRaw, &u.DisplayName, &u.AvatarURL, &u.Department, &u.CreatedAt)
	if err != nil {
		return nil, err
	}

	kind, err := models.ParseUserKind(kindRaw)
	if err != nil {
		return nil, err
	}
	u.Kind = kind
	return &u, nil
}

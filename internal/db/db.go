package db

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type DB struct {
	conn *sql.DB
}

func New(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Enable WAL mode so readers keep working while a writer is writing
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Wait up to 5 seconds instead of an immediate SQLITE_BUSY error
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	// NORMAL is a good balance with WAL; FULL is safest but slower
	if _, err := conn.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}

	// -64000 = 64MB cache
	if _, err := conn.Exec("PRAGMA cache_size=-64000"); err != nil {
		return nil, fmt.Errorf("failed to set cache size: %w", err)
	}

	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return db, nil
}

func (db *DB) migrate() error {
	return Migrate(db.conn)
}

// Migrate creates the schema. Exported so tests can run it against their
// own in-memory connections.
func Migrate(conn *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		kind TEXT NOT NULL DEFAULT 'student',
		display_name TEXT,
		avatar_url TEXT,
		department TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS classes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		session TEXT NOT NULL DEFAULT '',
		UNIQUE (name, session)
	);

	CREATE TABLE IF NOT EXISTS enrollments (
		class_id INTEGER NOT NULL,
		student_id INTEGER NOT NULL,
		PRIMARY KEY (class_id, student_id),
		FOREIGN KEY (class_id) REFERENCES classes(id),
		FOREIGN KEY (student_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS conversations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		pair_key TEXT UNIQUE NOT NULL,
		last_message_preview TEXT NOT NULL DEFAULT '',
		last_message_at TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS conversation_participants (
		conversation_id INTEGER NOT NULL,
		user_id INTEGER NOT NULL,
		user_kind TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		pinned INTEGER NOT NULL DEFAULT 0,
		starred INTEGER NOT NULL DEFAULT 0,
		archived INTEGER NOT NULL DEFAULT 0,
		resolved INTEGER NOT NULL DEFAULT 0,
		muted INTEGER NOT NULL DEFAULT 0,
		unread_count INTEGER NOT NULL DEFAULT 0,
		joined_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (conversation_id, user_id),
		FOREIGN KEY (conversation_id) REFERENCES conversations(id),
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id INTEGER NOT NULL,
		sender_id INTEGER NOT NULL,
		sender_kind TEXT NOT NULL,
		sender_name TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT 'general',
		priority TEXT NOT NULL DEFAULT 'normal',
		is_forwarded INTEGER NOT NULL DEFAULT 0,
		forwarded_from_id INTEGER,
		forwarded_from_name TEXT,
		reply_to_id INTEGER,
		deleted INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		delivered_at TIMESTAMP,
		read_at TIMESTAMP,
		FOREIGN KEY (conversation_id) REFERENCES conversations(id)
	);

	CREATE TABLE IF NOT EXISTS attachments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id INTEGER NOT NULL,
		file_name TEXT NOT NULL,
		storage_name TEXT NOT NULL,
		content_type TEXT NOT NULL DEFAULT '',
		file_size INTEGER NOT NULL,
		storage_path TEXT NOT NULL,
		public_url TEXT NOT NULL DEFAULT '',
		thumbnail_url TEXT,
		uploader_id INTEGER NOT NULL,
		uploader_kind TEXT NOT NULL,
		scan_status TEXT NOT NULL DEFAULT 'pending',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (message_id) REFERENCES messages(id)
	);

	CREATE TABLE IF NOT EXISTS reactions (
		message_id INTEGER NOT NULL,
		user_id INTEGER NOT NULL,
		user_kind TEXT NOT NULL,
		reaction TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (message_id, user_id, reaction),
		FOREIGN KEY (message_id) REFERENCES messages(id)
	);

	CREATE TABLE IF NOT EXISTS message_pins (
		message_id INTEGER NOT NULL,
		user_id INTEGER NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (message_id, user_id),
		FOREIGN KEY (message_id) REFERENCES messages(id)
	);

	CREATE TABLE IF NOT EXISTS read_receipts (
		message_id INTEGER NOT NULL,
		user_id INTEGER NOT NULL,
		read_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (message_id, user_id),
		FOREIGN KEY (message_id) REFERENCES messages(id)
	);

	CREATE TABLE IF NOT EXISTS broadcasts (
		id TEXT PRIMARY KEY,
		sender_id INTEGER NOT NULL,
		sender_kind TEXT NOT NULL,
		sender_name TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT 'general',
		priority TEXT NOT NULL DEFAULT 'normal',
		criteria_type TEXT NOT NULL,
		criteria_class TEXT NOT NULL DEFAULT '',
		criteria_session TEXT NOT NULL DEFAULT '',
		criteria_department TEXT NOT NULL DEFAULT '',
		total_recipients INTEGER NOT NULL DEFAULT 0,
		delivered_count INTEGER NOT NULL DEFAULT 0,
		failed_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS broadcast_recipients (
		broadcast_id TEXT NOT NULL,
		user_id INTEGER NOT NULL,
		user_kind TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		error TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (broadcast_id, user_id),
		FOREIGN KEY (broadcast_id) REFERENCES broadcasts(id)
	);

	CREATE TABLE IF NOT EXISTS scheduled_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sender_id INTEGER NOT NULL,
		sender_kind TEXT NOT NULL,
		recipient_id INTEGER NOT NULL,
		recipient_kind TEXT NOT NULL,
		content TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT 'general',
		priority TEXT NOT NULL DEFAULT 'normal',
		scheduled_for TIMESTAMP NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS push_subscriptions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		endpoint TEXT NOT NULL,
		p256dh TEXT NOT NULL,
		auth TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		revoked_at TIMESTAMP,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_participants_user ON conversation_participants(user_id);
	CREATE INDEX IF NOT EXISTS idx_attachments_message ON attachments(message_id);
	CREATE INDEX IF NOT EXISTS idx_broadcasts_sender ON broadcasts(sender_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_broadcast_recipients_status ON broadcast_recipients(broadcast_id, status);
	CREATE INDEX IF NOT EXISTS idx_scheduled_sender ON scheduled_messages(sender_id, status, scheduled_for);
	CREATE INDEX IF NOT EXISTS idx_enrollments_class ON enrollments(class_id);
	CREATE INDEX IF NOT EXISTS idx_users_kind ON users(kind);
	CREATE INDEX IF NOT EXISTS idx_push_subscriptions_user ON push_subscriptions(user_id);
	`

	if _, err := conn.Exec(schema); err != nil {
		return err
	}

	// Full-text index over message content. Kept in sync by triggers so the
	// search path stays a single query.
	fts := `
	CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
		content,
		content='messages',
		content_rowid='id'
	);

	CREATE TRIGGER IF NOT EXISTS messages_fts_insert AFTER INSERT ON messages BEGIN
		INSERT INTO messages_fts(rowid, content) VALUES (new.id, new.content);
	END;

	CREATE TRIGGER IF NOT EXISTS messages_fts_delete AFTER DELETE ON messages BEGIN
		INSERT INTO messages_fts(messages_fts, rowid, content) VALUES ('delete', old.id, old.content);
	END;
	`

	if _, err := conn.Exec(fts); err != nil {
		// FTS5 needs the sqlite_fts5 build tag; without it search degrades
		// to LIKE scans.
		log.Printf("full-text search index unavailable: %v", err)
	}
	return nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) GetConn() *sql.DB {
	return db.conn
}

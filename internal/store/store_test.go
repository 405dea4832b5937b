package store

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/4xmen/peyk/internal/blob"
	"github.com/4xmen/peyk/internal/db"
	"github.com/4xmen/peyk/internal/models"
	"github.com/4xmen/peyk/internal/scan"
)

var (
	testDB    *sql.DB
	testStore *Store
)

func TestMain(m *testing.M) {
	var err error
	testDB, err = sql.Open("sqlite3", "file::memory:?cache=shared")
	if err != nil {
		panic(err)
	}

	if err := db.Migrate(testDB); err != nil {
		panic(err)
	}

	uploadDir, err := os.MkdirTemp("", "peyk-test-uploads")
	if err != nil {
		panic(err)
	}

	testStore = New(testDB, blob.NewDiskStore(uploadDir), &scan.KeywordScanner{}, nil)

	code := m.Run()

	os.RemoveAll(uploadDir)
	testDB.Close()
	os.Exit(code)
}

func clearTestData() {
	tables := []string{
		"broadcast_recipients", "broadcasts", "scheduled_messages",
		"read_receipts", "message_pins", "reactions", "attachments",
		"messages", "conversation_participants", "conversations",
		"enrollments", "classes", "push_subscriptions", "users",
	}
	for _, table := range tables {
		testDB.Exec("DELETE FROM " + table)
	}
}

func createUser(t *testing.T, username string, kind models.UserKind) models.Identity {
	t.Helper()
	result, err := testDB.Exec(
		"INSERT INTO users (username, password_hash, kind) VALUES (?, 'x', ?)",
		username, string(kind),
	)
	if err != nil {
		t.Fatalf("failed to create user %s: %v", username, err)
	}
	id, _ := result.LastInsertId()
	return models.Identity{ID: id, Kind: kind, Name: username}
}

func createTeacherInDepartment(t *testing.T, username, department string) models.Identity {
	t.Helper()
	result, err := testDB.Exec(
		"INSERT INTO users (username, password_hash, kind, department) VALUES (?, 'x', 'teacher', ?)",
		username, department,
	)
	if err != nil {
		t.Fatalf("failed to create teacher %s: %v", username, err)
	}
	id, _ := result.LastInsertId()
	return models.Identity{ID: id, Kind: models.KindTeacher, Name: username}
}

func enrollStudent(t *testing.T, className, session string, studentID int64) int64 {
	t.Helper()
	testDB.Exec("INSERT OR IGNORE INTO classes (name, session) VALUES (?, ?)", className, session)
	var classID int64
	if err := testDB.QueryRow("SELECT id FROM classes WHERE name = ? AND session = ?", className, session).Scan(&classID); err != nil {
		t.Fatalf("failed to look up class: %v", err)
	}
	if _, err := testDB.Exec("INSERT OR IGNORE INTO enrollments (class_id, student_id) VALUES (?, ?)", classID, studentID); err != nil {
		t.Fatalf("failed to enroll student: %v", err)
	}
	return classID
}

func ctxb() context.Context { return context.Background() }

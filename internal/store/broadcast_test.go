package store

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/4xmen/peyk/internal/apperr"
	"github.com/4xmen/peyk/internal/models"
)

func TestSendBroadcastRequiresOffice(t *testing.T) {
	clearTestData()

	teacher := createUser(t, "teacher_b1", models.KindTeacher)

	_, err := testStore.SendBroadcast(ctxb(), teacher, BroadcastRequest{
		Content:  "everyone please read",
		Criteria: models.BroadcastCriteria{Type: models.CriteriaAllStudents},
	})
	if apperr.KindOf(err) != apperr.KindPermission {
		t.Errorf("teacher broadcast error kind = %v, want permission", apperr.KindOf(err))
	}
}

func TestSendBroadcastValidation(t *testing.T) {
	clearTestData()

	office := createUser(t, "office_b2", models.KindOffice)
	createUser(t, "student_b2", models.KindStudent)

	tests := []struct {
		name string
		req  BroadcastRequest
	}{
		{"empty content", BroadcastRequest{
			Criteria: models.BroadcastCriteria{Type: models.CriteriaAllStudents},
		}},
		{"class criteria without class", BroadcastRequest{
			Content:  "hello",
			Criteria: models.BroadcastCriteria{Type: models.CriteriaSpecificClass},
		}},
		{"unknown criteria", BroadcastRequest{
			Content:  "hello",
			Criteria: models.BroadcastCriteria{Type: "everyone"},
		}},
		{"no recipients matched", BroadcastRequest{
			Content:  "hello",
			Criteria: models.BroadcastCriteria{Type: models.CriteriaDepartment, Department: "alchemy"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := testStore.SendBroadcast(ctxb(), office, tt.req); apperr.KindOf(err) != apperr.KindValidation {
				t.Errorf("error kind = %v, want validation", apperr.KindOf(err))
			}
		})
	}

	var count int
	testDB.QueryRow("SELECT COUNT(*) FROM broadcasts").Scan(&count)
	if count != 0 {
		t.Errorf("broadcasts persisted = %d, want 0", count)
	}
}

func TestSendBroadcastAllStudents(t *testing.T) {
	clearTestData()

	office := createUser(t, "office_b3", models.KindOffice)
	s1 := createUser(t, "student_b3a", models.KindStudent)
	s2 := createUser(t, "student_b3b", models.KindStudent)
	createUser(t, "teacher_b3", models.KindTeacher)

	b, err := testStore.SendBroadcast(ctxb(), office, BroadcastRequest{
		Content:  "campus closed friday",
		Category: "announcement",
		Priority: "important",
		Criteria: models.BroadcastCriteria{Type: models.CriteriaAllStudents},
	})
	if err != nil {
		t.Fatalf("SendBroadcast() error = %v", err)
	}

	if b.TotalRecipients != 2 {
		t.Errorf("total recipients = %d, want 2 (teacher excluded)", b.TotalRecipients)
	}
	if b.DeliveredCount != 2 || b.FailedCount != 0 {
		t.Errorf("delivered/failed = %d/%d, want 2/0", b.DeliveredCount, b.FailedCount)
	}
	if b.DeliveredCount+b.FailedCount != b.TotalRecipients {
		t.Errorf("delivered + failed = %d, want total %d", b.DeliveredCount+b.FailedCount, b.TotalRecipients)
	}

	// Each student now has the broadcast in a one-on-one conversation.
	for _, student := range []models.Identity{s1, s2} {
		list, err := testStore.ListConversations(ctxb(), student, ConversationFilters{}, SortRecent)
		if err != nil {
			t.Fatalf("ListConversations() error = %v", err)
		}
		if len(list) != 1 {
			t.Fatalf("student %s has %d conversations, want 1", student.Name, len(list))
		}
		if list[0].LastMessagePreview != "campus closed friday" {
			t.Errorf("preview = %q, want the broadcast content", list[0].LastMessagePreview)
		}
	}

	// Recipient rows carry kind and final status.
	var delivered int
	testDB.QueryRow(
		"SELECT COUNT(*) FROM broadcast_recipients WHERE broadcast_id = ? AND status = 'delivered' AND user_kind = 'student'",
		b.ID,
	).Scan(&delivered)
	if delivered != 2 {
		t.Errorf("delivered student recipient rows = %d, want 2", delivered)
	}
}

func TestSendBroadcastSpecificClass(t *testing.T) {
	clearTestData()

	office := createUser(t, "office_b4", models.KindOffice)
	enrolled := createUser(t, "student_b4a", models.KindStudent)
	other := createUser(t, "student_b4b", models.KindStudent)
	enrollStudent(t, "CS101", "fall", enrolled.ID)
	enrollStudent(t, "MATH200", "fall", other.ID)

	b, err := testStore.SendBroadcast(ctxb(), office, BroadcastRequest{
		Content:  "lab moved to room 204",
		Criteria: models.BroadcastCriteria{Type: models.CriteriaSpecificClass, ClassName: "CS101", Session: "fall"},
	})
	if err != nil {
		t.Fatalf("SendBroadcast() error = %v", err)
	}
	if b.TotalRecipients != 1 || b.DeliveredCount != 1 {
		t.Fatalf("total/delivered = %d/%d, want 1/1", b.TotalRecipients, b.DeliveredCount)
	}

	list, _ := testStore.ListConversations(ctxb(), other, ConversationFilters{}, SortRecent)
	if len(list) != 0 {
		t.Errorf("unenrolled student received the class broadcast")
	}
}

func TestSendBroadcastDepartment(t *testing.T) {
	clearTestData()

	office := createUser(t, "office_b5", models.KindOffice)
	createTeacherInDepartment(t, "teacher_b5a", "physics")
	createTeacherInDepartment(t, "teacher_b5b", "physics")
	createTeacherInDepartment(t, "teacher_b5c", "history")

	b, err := testStore.SendBroadcast(ctxb(), office, BroadcastRequest{
		Content:  "department meeting at noon",
		Criteria: models.BroadcastCriteria{Type: models.CriteriaDepartment, Department: "physics"},
	})
	if err != nil {
		t.Fatalf("SendBroadcast() error = %v", err)
	}
	if b.TotalRecipients != 2 || b.DeliveredCount != 2 {
		t.Errorf("total/delivered = %d/%d, want 2/2", b.TotalRecipients, b.DeliveredCount)
	}
}

// seedBroadcast inserts a broadcast with an explicit recipient list so tests
// can exercise delivery against recipients the resolver would never produce.
func seedBroadcast(t *testing.T, who models.Identity, content string, recipients []models.BroadcastRecipient) *models.Broadcast {
	t.Helper()

	b := &models.Broadcast{
		ID:              uuid.NewString(),
		SenderID:        who.ID,
		SenderKind:      who.Kind,
		SenderName:      who.Name,
		Content:         content,
		Category:        models.CategoryGeneral,
		Priority:        models.PriorityNormal,
		Criteria:        models.BroadcastCriteria{Type: models.CriteriaAllStudents},
		TotalRecipients: len(recipients),
		CreatedAt:       time.Now().UTC(),
	}
	_, err := testDB.Exec(`
		INSERT INTO broadcasts (id, sender_id, sender_kind, sender_name, content, category, priority,
		                        criteria_type, criteria_class, criteria_session, criteria_department,
		                        total_recipients, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, '', '', '', ?, ?)
	`, b.ID, b.SenderID, string(b.SenderKind), b.SenderName, b.Content, string(b.Category), string(b.Priority),
		string(b.Criteria.Type), b.TotalRecipients, b.CreatedAt)
	if err != nil {
		t.Fatalf("failed to seed broadcast: %v", err)
	}
	for _, r := range recipients {
		if _, err := testDB.Exec(
			"INSERT INTO broadcast_recipients (broadcast_id, user_id, user_kind) VALUES (?, ?, ?)",
			b.ID, r.UserID, string(r.UserKind),
		); err != nil {
			t.Fatalf("failed to seed recipient: %v", err)
		}
	}
	return b
}

func TestBroadcastFailuresAccumulateThenRetryRecovers(t *testing.T) {
	clearTestData()

	office := createUser(t, "office_b6", models.KindOffice)
	s1 := createUser(t, "student_b6a", models.KindStudent)
	s2 := createUser(t, "student_b6b", models.KindStudent)
	const missingID = 424242

	recipients := []models.BroadcastRecipient{
		{UserID: s1.ID, UserKind: models.KindStudent},
		{UserID: missingID, UserKind: models.KindStudent},
		{UserID: s2.ID, UserKind: models.KindStudent},
	}
	b := seedBroadcast(t, office, "exam rescheduled", recipients)

	testStore.deliverBroadcast(ctxb(), office, b, recipients, nil)

	if b.DeliveredCount != 2 || b.FailedCount != 1 {
		t.Fatalf("delivered/failed = %d/%d, want 2/1", b.DeliveredCount, b.FailedCount)
	}
	if b.DeliveredCount+b.FailedCount != b.TotalRecipients {
		t.Errorf("delivered + failed = %d, want total %d", b.DeliveredCount+b.FailedCount, b.TotalRecipients)
	}
	if len(b.FailedRecipients) != 1 || b.FailedRecipients[0].UserID != missingID {
		t.Fatalf("failed recipients = %+v, want only user %d", b.FailedRecipients, missingID)
	}
	if b.FailedRecipients[0].Error == "" {
		t.Error("failed recipient carries no error message")
	}

	// One bad recipient never blocks the others.
	for _, student := range []models.Identity{s1, s2} {
		list, _ := testStore.ListConversations(ctxb(), student, ConversationFilters{}, SortRecent)
		if len(list) != 1 {
			t.Errorf("student %s has %d conversations, want 1", student.Name, len(list))
		}
	}

	// The failure is visible on fetch, kind persisted with it.
	fetched, err := testStore.GetBroadcast(ctxb(), office, b.ID)
	if err != nil {
		t.Fatalf("GetBroadcast() error = %v", err)
	}
	if fetched.DeliveredCount != 2 || fetched.FailedCount != 1 {
		t.Errorf("fetched delivered/failed = %d/%d, want 2/1", fetched.DeliveredCount, fetched.FailedCount)
	}
	if len(fetched.FailedRecipients) != 1 || fetched.FailedRecipients[0].UserKind != models.KindStudent {
		t.Errorf("fetched failed recipients = %+v", fetched.FailedRecipients)
	}

	// The missing account appears; retry delivers to it alone.
	if _, err := testDB.Exec(
		"INSERT INTO users (id, username, password_hash, kind) VALUES (?, 'student_b6c', 'x', 'student')",
		missingID,
	); err != nil {
		t.Fatalf("failed to create late user: %v", err)
	}

	retried, err := testStore.RetryFailedDeliveries(ctxb(), office, b.ID)
	if err != nil {
		t.Fatalf("RetryFailedDeliveries() error = %v", err)
	}
	if retried.DeliveredCount != 3 || retried.FailedCount != 0 {
		t.Errorf("retried delivered/failed = %d/%d, want 3/0", retried.DeliveredCount, retried.FailedCount)
	}
	if len(retried.FailedRecipients) != 0 {
		t.Errorf("retried failed recipients = %+v, want none", retried.FailedRecipients)
	}

	// The already-delivered recipients did not get a second copy.
	messages, _ := testStore.GetMessages(ctxb(), s1, mustConversation(t, office, s1), 0, 0)
	if len(messages) != 1 {
		t.Errorf("student_b6a has %d messages after retry, want 1", len(messages))
	}

	var status string
	testDB.QueryRow(
		"SELECT status FROM broadcast_recipients WHERE broadcast_id = ? AND user_id = ?",
		b.ID, missingID,
	).Scan(&status)
	if status != "delivered" {
		t.Errorf("recovered recipient status = %q, want delivered", status)
	}
}

func mustConversation(t *testing.T, a models.Identity, b models.Identity) int64 {
	t.Helper()
	id, err := testStore.CreateConversation(ctxb(), a, b.ID, b.Kind)
	if err != nil {
		t.Fatalf("conversation lookup failed: %v", err)
	}
	return id
}

func TestBroadcastHistoryScopedToSender(t *testing.T) {
	clearTestData()

	office1 := createUser(t, "office_b7a", models.KindOffice)
	office2 := createUser(t, "office_b7b", models.KindOffice)
	createUser(t, "student_b7", models.KindStudent)

	first, err := testStore.SendBroadcast(ctxb(), office1, BroadcastRequest{
		Content:  "first notice",
		Criteria: models.BroadcastCriteria{Type: models.CriteriaAllStudents},
	})
	if err != nil {
		t.Fatalf("SendBroadcast() error = %v", err)
	}
	if _, err := testStore.SendBroadcast(ctxb(), office2, BroadcastRequest{
		Content:  "second notice",
		Criteria: models.BroadcastCriteria{Type: models.CriteriaAllStudents},
	}); err != nil {
		t.Fatalf("SendBroadcast() error = %v", err)
	}

	history, err := testStore.BroadcastHistory(ctxb(), office1)
	if err != nil {
		t.Fatalf("BroadcastHistory() error = %v", err)
	}
	if len(history) != 1 || history[0].ID != first.ID {
		t.Errorf("history = %+v, want only office1's broadcast", history)
	}

	// Another office cannot fetch or retry someone else's broadcast.
	if _, err := testStore.GetBroadcast(ctxb(), office2, first.ID); apperr.KindOf(err) != apperr.KindNotFound {
		t.Errorf("foreign GetBroadcast error kind = %v, want not found", apperr.KindOf(err))
	}
	if _, err := testStore.RetryFailedDeliveries(ctxb(), office2, first.ID); apperr.KindOf(err) != apperr.KindNotFound {
		t.Errorf("foreign retry error kind = %v, want not found", apperr.KindOf(err))
	}
}

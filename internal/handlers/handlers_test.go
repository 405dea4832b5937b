package handlers

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/mattn/go-sqlite3"

	"github.com/4xmen/peyk/internal/auth"
	"github.com/4xmen/peyk/internal/blob"
	"github.com/4xmen/peyk/internal/db"
	"github.com/4xmen/peyk/internal/models"
	"github.com/4xmen/peyk/internal/scan"
	"github.com/4xmen/peyk/internal/sse"
	"github.com/4xmen/peyk/internal/store"
)

var (
	testDB        *sql.DB
	testAuthSvc   *auth.Service
	testStore     *store.Store
	testRegistry  *sse.Registry
	testRouter    *gin.Engine
	testUploadDir string
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)

	// In-memory SQLite with shared cache so every pooled connection sees
	// the same database.
	var err error
	testDB, err = sql.Open("sqlite3", "file::memory:?cache=shared")
	if err != nil {
		panic(err)
	}

	if err := db.Migrate(testDB); err != nil {
		panic(err)
	}

	testUploadDir, err = os.MkdirTemp("", "peyk-test-uploads")
	if err != nil {
		panic(err)
	}

	testAuthSvc = auth.New(testDB, "test-jwt-secret")
	testStore = store.New(testDB, blob.NewDiskStore(testUploadDir), &scan.KeywordScanner{}, nil)
	testRegistry = sse.NewRegistry(nil)
	testRouter = setupTestRouter()

	code := m.Run()

	os.RemoveAll(testUploadDir)
	testDB.Close()
	os.Exit(code)
}

func setupTestRouter() *gin.Engine {
	router := gin.New()

	authHandler := NewAuthHandler(testAuthSvc)
	convHandler := NewConversationHandler(testStore)
	msgHandler := NewMessageHandler(testStore)
	broadcastHandler := NewBroadcastHandler(testStore)
	scheduledHandler := NewScheduledHandler(testStore)
	pushHandler := NewPushHandler(testStore, nil)
	userHandler := NewUserHandler(testStore)
	eventHandler := NewEventHandler(testRegistry)

	api := router.Group("/api")
	{
		api.POST("/auth/register", authHandler.Register)
		api.POST("/auth/login", authHandler.Login)
	}

	protected := api.Group("")
	protected.Use(authHandler.AuthMiddleware())
	{
		protected.GET("/me", authHandler.Me)
		protected.GET("/users", userHandler.List)
		protected.GET("/users/:id", userHandler.Get)

		protected.GET("/conversations", convHandler.List)
		protected.POST("/conversations", convHandler.Create)
		protected.GET("/conversations/:id", convHandler.Get)
		protected.PUT("/conversations/:id/pin", convHandler.Pin)
		protected.PUT("/conversations/:id/star", convHandler.Star)
		protected.PUT("/conversations/:id/archive", convHandler.Archive)
		protected.PUT("/conversations/:id/resolve", convHandler.Resolve)
		protected.PUT("/conversations/:id/mute", convHandler.Mute)
		protected.PUT("/conversations/:id/read", convHandler.MarkRead)
		protected.PUT("/conversations/:id/unread", convHandler.MarkUnread)
		protected.GET("/conversations/:id/messages", msgHandler.List)

		protected.POST("/messages", msgHandler.Send)
		protected.DELETE("/messages/:id", msgHandler.Delete)
		protected.GET("/messages/search", msgHandler.Search)
		protected.PUT("/messages/:id/pin", msgHandler.Pin)
		protected.DELETE("/messages/:id/pin", msgHandler.Unpin)
		protected.POST("/messages/:id/reactions", msgHandler.React)
		protected.DELETE("/messages/:id/reactions", msgHandler.Unreact)
		protected.POST("/messages/:id/forward", msgHandler.Forward)
		protected.POST("/messages/:id/attachments", msgHandler.UploadAttachment)
		protected.GET("/attachments/:id", msgHandler.DownloadAttachment)

		protected.POST("/broadcasts", broadcastHandler.Send)
		protected.GET("/broadcasts", broadcastHandler.History)
		protected.GET("/broadcasts/:id", broadcastHandler.Get)
		protected.POST("/broadcasts/:id/retry", broadcastHandler.Retry)

		protected.POST("/scheduled", scheduledHandler.Create)
		protected.GET("/scheduled", scheduledHandler.List)
		protected.DELETE("/scheduled/:id", scheduledHandler.Cancel)

		protected.POST("/events/attendance", eventHandler.PublishAttendance)
		protected.POST("/events/metrics", eventHandler.PublishMetrics)

		protected.GET("/push/key", pushHandler.VAPIDKey)
		protected.POST("/push/subscribe", pushHandler.Subscribe)
		protected.POST("/push/unsubscribe", pushHandler.Unsubscribe)
	}

	return router
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

// registerTestUser creates an account through the auth service and returns
// its id and a valid token.
func registerTestUser(t *testing.T, username string, kind models.UserKind) (int64, string) {
	t.Helper()
	id, err := testAuthSvc.Register(username, "password123", kind)
	if err != nil {
		t.Fatalf("failed to register %s: %v", username, err)
	}
	token, err := testAuthSvc.GenerateToken(models.Identity{ID: id, Kind: kind, Name: username}, username)
	if err != nil {
		t.Fatalf("failed to generate token for %s: %v", username, err)
	}
	return id, token
}

func doJSON(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	testRouter.ServeHTTP(w, req)
	return w
}

func TestRegister(t *testing.T) {
	clearTestData()

	tests := []struct {
		name       string
		body       map[string]string
		wantStatus int
		wantError  bool
	}{
		{
			name:       "valid student",
			body:       map[string]string{"username": "newstudent", "password": "password123", "kind": "student"},
			wantStatus: http.StatusCreated,
		},
		{
			name:       "valid teacher",
			body:       map[string]string{"username": "newteacher", "password": "password123", "kind": "teacher"},
			wantStatus: http.StatusCreated,
		},
		{
			name:       "valid office",
			body:       map[string]string{"username": "newoffice", "password": "password123", "kind": "office"},
			wantStatus: http.StatusCreated,
		},
		{
			name:       "unknown kind",
			body:       map[string]string{"username": "badkind", "password": "password123", "kind": "admin"},
			wantStatus: http.StatusBadRequest,
			wantError:  true,
		},
		{
			name:       "missing kind",
			body:       map[string]string{"username": "nokind", "password": "password123"},
			wantStatus: http.StatusBadRequest,
			wantError:  true,
		},
		{
			name:       "duplicate username",
			body:       map[string]string{"username": "newstudent", "password": "password123", "kind": "student"},
			wantStatus: http.StatusBadRequest,
			wantError:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, "POST", "/api/auth/register", "", tt.body)

			if w.Code != tt.wantStatus {
				t.Errorf("Register() status = %d, want %d", w.Code, tt.wantStatus)
			}

			var resp map[string]interface{}
			json.Unmarshal(w.Body.Bytes(), &resp)

			if tt.wantError {
				if _, ok := resp["error"]; !ok {
					t.Error("Expected error response")
				}
			} else {
				if _, ok := resp["token"]; !ok {
					t.Error("Expected token in response")
				}
				if resp["kind"] != tt.body["kind"] {
					t.Errorf("kind = %v, want %s", resp["kind"], tt.body["kind"])
				}
			}
		})
	}
}

func TestLogin(t *testing.T) {
	clearTestData()

	registerTestUser(t, "loginuser", models.KindTeacher)

	tests := []struct {
		name       string
		body       map[string]string
		wantStatus int
	}{
		{
			name:       "valid login",
			body:       map[string]string{"username": "loginuser", "password": "password123"},
			wantStatus: http.StatusOK,
		},
		{
			name:       "wrong password",
			body:       map[string]string{"username": "loginuser", "password": "wrongpassword"},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "non-existent user",
			body:       map[string]string{"username": "nonexistent", "password": "password123"},
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, "POST", "/api/auth/login", "", tt.body)
			if w.Code != tt.wantStatus {
				t.Errorf("Login() status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}

	t.Run("login response carries kind", func(t *testing.T) {
		w := doJSON(t, "POST", "/api/auth/login", "", map[string]string{
			"username": "loginuser", "password": "password123",
		})
		var resp AuthResponse
		json.Unmarshal(w.Body.Bytes(), &resp)
		if resp.Kind != models.KindTeacher {
			t.Errorf("kind = %s, want teacher", resp.Kind)
		}
	})
}

func TestAuthRequired(t *testing.T) {
	clearTestData()

	for _, tt := range []struct {
		name  string
		token string
	}{
		{"missing token", ""},
		{"garbage token", "not-a-jwt"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, "GET", "/api/conversations", tt.token, nil)
			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", w.Code)
			}
		})
	}

	t.Run("token for deleted user rejected", func(t *testing.T) {
		id, token := registerTestUser(t, "ghost", models.KindStudent)
		testDB.Exec("DELETE FROM users WHERE id = ?", id)

		w := doJSON(t, "GET", "/api/conversations", token, nil)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", w.Code)
		}
	})
}

func TestConversationEndpoints(t *testing.T) {
	clearTestData()

	studentID, studentToken := registerTestUser(t, "conv_student", models.KindStudent)
	teacherID, teacherToken := registerTestUser(t, "conv_teacher", models.KindTeacher)
	_, outsiderToken := registerTestUser(t, "conv_outsider", models.KindStudent)

	var convID float64

	t.Run("create conversation", func(t *testing.T) {
		w := doJSON(t, "POST", "/api/conversations", studentToken, map[string]any{
			"recipient_id": teacherID, "recipient_kind": "teacher",
		})
		if w.Code != http.StatusOK {
			t.Fatalf("Create() status = %d, want 200: %s", w.Code, w.Body.String())
		}
		var resp map[string]interface{}
		json.Unmarshal(w.Body.Bytes(), &resp)
		id, ok := resp["id"].(float64)
		if !ok {
			t.Fatalf("Expected id in response, got: %v", resp)
		}
		convID = id
	})

	t.Run("duplicate create returns same conversation", func(t *testing.T) {
		w := doJSON(t, "POST", "/api/conversations", teacherToken, map[string]any{
			"recipient_id": studentID, "recipient_kind": "student",
		})
		if w.Code != http.StatusOK {
			t.Fatalf("Create() status = %d, want 200", w.Code)
		}
		var resp map[string]interface{}
		json.Unmarshal(w.Body.Bytes(), &resp)
		if resp["id"] != convID {
			t.Errorf("duplicate create id = %v, want %v", resp["id"], convID)
		}
	})

	t.Run("create with self rejected", func(t *testing.T) {
		w := doJSON(t, "POST", "/api/conversations", studentToken, map[string]any{
			"recipient_id": studentID, "recipient_kind": "student",
		})
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})

	t.Run("get scoped to participants", func(t *testing.T) {
		path := fmt.Sprintf("/api/conversations/%d", int64(convID))
		if w := doJSON(t, "GET", path, studentToken, nil); w.Code != http.StatusOK {
			t.Errorf("participant Get() status = %d, want 200", w.Code)
		}
		if w := doJSON(t, "GET", path, outsiderToken, nil); w.Code != http.StatusNotFound {
			t.Errorf("outsider Get() status = %d, want 404", w.Code)
		}
	})

	t.Run("pin flag round trip", func(t *testing.T) {
		path := fmt.Sprintf("/api/conversations/%d/pin", int64(convID))
		if w := doJSON(t, "PUT", path, studentToken, map[string]bool{"value": true}); w.Code != http.StatusOK {
			t.Fatalf("Pin() status = %d, want 200", w.Code)
		}

		w := doJSON(t, "GET", fmt.Sprintf("/api/conversations/%d", int64(convID)), studentToken, nil)
		var conv models.Conversation
		json.Unmarshal(w.Body.Bytes(), &conv)
		who := models.Identity{ID: studentID, Kind: models.KindStudent}
		if !conv.Self(who).Pinned {
			t.Error("conversation not pinned after PUT")
		}
	})
}

func TestMessageEndpoints(t *testing.T) {
	clearTestData()

	_, studentToken := registerTestUser(t, "msg_student", models.KindStudent)
	teacherID, teacherToken := registerTestUser(t, "msg_teacher", models.KindTeacher)
	_, outsiderToken := registerTestUser(t, "msg_outsider", models.KindStudent)

	var convID float64
	var messageID float64

	t.Run("send creates the conversation on first message", func(t *testing.T) {
		w := doJSON(t, "POST", "/api/messages", studentToken, SendMessageJSON{
			RecipientID:   teacherID,
			RecipientKind: "teacher",
			Content:       "question about the midterm",
		})
		if w.Code != http.StatusCreated {
			t.Fatalf("Send() status = %d, want 201: %s", w.Code, w.Body.String())
		}
		var resp map[string]interface{}
		json.Unmarshal(w.Body.Bytes(), &resp)
		convID = resp["conversation_id"].(float64)
		messageID = resp["id"].(float64)
	})

	t.Run("empty message rejected", func(t *testing.T) {
		w := doJSON(t, "POST", "/api/messages", studentToken, SendMessageJSON{
			ConversationID: int64(convID),
		})
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})

	t.Run("list messages", func(t *testing.T) {
		w := doJSON(t, "GET", fmt.Sprintf("/api/conversations/%d/messages", int64(convID)), teacherToken, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("List() status = %d, want 200", w.Code)
		}
		var resp map[string]interface{}
		json.Unmarshal(w.Body.Bytes(), &resp)
		messages, ok := resp["messages"].([]interface{})
		if !ok || len(messages) != 1 {
			t.Errorf("messages = %v, want 1 entry", resp["messages"])
		}
	})

	t.Run("outsider cannot list", func(t *testing.T) {
		w := doJSON(t, "GET", fmt.Sprintf("/api/conversations/%d/messages", int64(convID)), outsiderToken, nil)
		if w.Code != http.StatusForbidden {
			t.Errorf("outsider List() status = %d, want 403", w.Code)
		}
	})

	t.Run("react and search", func(t *testing.T) {
		path := fmt.Sprintf("/api/messages/%d/reactions", int64(messageID))
		if w := doJSON(t, "POST", path, teacherToken, map[string]string{"reaction": "👍"}); w.Code != http.StatusOK {
			t.Errorf("React() status = %d, want 200", w.Code)
		}

		w := doJSON(t, "GET", "/api/messages/search?q=midterm", studentToken, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("Search() status = %d, want 200", w.Code)
		}
		var resp map[string]interface{}
		json.Unmarshal(w.Body.Bytes(), &resp)
		if messages, ok := resp["messages"].([]interface{}); !ok || len(messages) != 1 {
			t.Errorf("search results = %v, want 1 hit", resp["messages"])
		}

		if w := doJSON(t, "GET", "/api/messages/search?q=", studentToken, nil); w.Code != http.StatusBadRequest {
			t.Errorf("empty query status = %d, want 400", w.Code)
		}
	})

	t.Run("only sender can delete", func(t *testing.T) {
		path := fmt.Sprintf("/api/messages/%d", int64(messageID))
		if w := doJSON(t, "DELETE", path, teacherToken, nil); w.Code != http.StatusForbidden {
			t.Errorf("recipient Delete() status = %d, want 403", w.Code)
		}
		if w := doJSON(t, "DELETE", path, studentToken, nil); w.Code != http.StatusOK {
			t.Errorf("sender Delete() status = %d, want 200", w.Code)
		}
	})
}

// doUpload posts one multipart file under the "file" field with an
// explicit content type.
func doUpload(t *testing.T, path, token, filename, contentType string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename))
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	if err != nil {
		t.Fatalf("failed to build multipart body: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("failed to build multipart body: %v", err)
	}
	mw.Close()

	req := httptest.NewRequest("POST", path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	testRouter.ServeHTTP(w, req)
	return w
}

func TestSearchPagingAndFilters(t *testing.T) {
	clearTestData()

	_, studentToken := registerTestUser(t, "sp_student", models.KindStudent)
	teacherID, _ := registerTestUser(t, "sp_teacher", models.KindTeacher)

	for _, content := range []string{"seminar room a", "seminar room b", "seminar room c"} {
		w := doJSON(t, "POST", "/api/messages", studentToken, SendMessageJSON{
			RecipientID:   teacherID,
			RecipientKind: "teacher",
			Content:       content,
		})
		if w.Code != http.StatusCreated {
			t.Fatalf("Send() status = %d, want 201: %s", w.Code, w.Body.String())
		}
	}

	search := func(t *testing.T, path string) []interface{} {
		t.Helper()
		w := doJSON(t, "GET", path, studentToken, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("Search() status = %d, want 200: %s", w.Code, w.Body.String())
		}
		var resp map[string]interface{}
		json.Unmarshal(w.Body.Bytes(), &resp)
		messages, _ := resp["messages"].([]interface{})
		return messages
	}

	if got := search(t, "/api/messages/search?q=seminar&limit=2"); len(got) != 2 {
		t.Errorf("first page = %d messages, want 2", len(got))
	}
	if got := search(t, "/api/messages/search?q=seminar&limit=2&offset=2"); len(got) != 1 {
		t.Errorf("second page = %d messages, want 1", len(got))
	}
	if got := search(t, "/api/messages/search?q=seminar&sender_kind=student"); len(got) != 3 {
		t.Errorf("student-sent hits = %d, want 3", len(got))
	}
	if got := search(t, "/api/messages/search?q=seminar&sender_kind=teacher"); len(got) != 0 {
		t.Errorf("teacher-sent hits = %d, want 0", len(got))
	}

	if w := doJSON(t, "GET", "/api/messages/search?q=seminar&category=party", studentToken, nil); w.Code != http.StatusBadRequest {
		t.Errorf("unknown category status = %d, want 400", w.Code)
	}
	if w := doJSON(t, "GET", "/api/messages/search?q=seminar&sender_kind=alien", studentToken, nil); w.Code != http.StatusBadRequest {
		t.Errorf("unknown sender kind status = %d, want 400", w.Code)
	}
}

func TestAttachmentUploadEndpoint(t *testing.T) {
	clearTestData()

	_, studentToken := registerTestUser(t, "ua_student", models.KindStudent)
	teacherID, teacherToken := registerTestUser(t, "ua_teacher", models.KindTeacher)
	_, outsiderToken := registerTestUser(t, "ua_outsider", models.KindStudent)

	w := doJSON(t, "POST", "/api/messages", studentToken, SendMessageJSON{
		RecipientID:   teacherID,
		RecipientKind: "teacher",
		Content:       "grading sheet to follow",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Send() status = %d, want 201: %s", w.Code, w.Body.String())
	}
	var sent map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &sent)
	path := fmt.Sprintf("/api/messages/%d/attachments", int64(sent["id"].(float64)))

	t.Run("participant attaches a file", func(t *testing.T) {
		w := doUpload(t, path, teacherToken, "grades.pdf", "application/pdf", []byte("%PDF"))
		if w.Code != http.StatusCreated {
			t.Fatalf("UploadAttachment() status = %d, want 201: %s", w.Code, w.Body.String())
		}
		var resp map[string]interface{}
		json.Unmarshal(w.Body.Bytes(), &resp)
		if resp["file_name"] != "grades.pdf" {
			t.Errorf("file_name = %v, want grades.pdf", resp["file_name"])
		}
		if resp["scan_status"] != "passed" {
			t.Errorf("scan_status = %v, want passed", resp["scan_status"])
		}

		dl := doJSON(t, "GET", fmt.Sprintf("/api/attachments/%d", int64(resp["id"].(float64))), studentToken, nil)
		if dl.Code != http.StatusOK {
			t.Fatalf("DownloadAttachment() status = %d, want 200: %s", dl.Code, dl.Body.String())
		}
		if dl.Body.String() != "%PDF" {
			t.Errorf("downloaded body = %q, want original content", dl.Body.String())
		}
	})

	t.Run("outsider rejected", func(t *testing.T) {
		w := doUpload(t, path, outsiderToken, "sneak.pdf", "application/pdf", []byte("%PDF"))
		if w.Code != http.StatusForbidden {
			t.Errorf("status = %d, want 403", w.Code)
		}
	})

	t.Run("missing file rejected", func(t *testing.T) {
		if w := doJSON(t, "POST", path, teacherToken, nil); w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})

	t.Run("blocked extension rejected", func(t *testing.T) {
		w := doUpload(t, path, studentToken, "tool.exe", "application/pdf", []byte("MZ"))
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})

	t.Run("unknown message 404", func(t *testing.T) {
		w := doUpload(t, "/api/messages/999999/attachments", teacherToken, "late.pdf", "application/pdf", []byte("%PDF"))
		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", w.Code)
		}
	})
}

func TestBroadcastEndpoints(t *testing.T) {
	clearTestData()

	_, studentToken := registerTestUser(t, "bc_student", models.KindStudent)
	registerTestUser(t, "bc_student2", models.KindStudent)
	_, officeToken := registerTestUser(t, "bc_office", models.KindOffice)

	t.Run("student cannot broadcast", func(t *testing.T) {
		w := doJSON(t, "POST", "/api/broadcasts", studentToken, BroadcastJSON{
			Content: "hi all", Criteria: "all_students",
		})
		if w.Code != http.StatusForbidden {
			t.Errorf("status = %d, want 403", w.Code)
		}
	})

	t.Run("empty match rejected", func(t *testing.T) {
		w := doJSON(t, "POST", "/api/broadcasts", officeToken, BroadcastJSON{
			Content: "hello physics", Criteria: "specific_department", Department: "physics",
		})
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})

	var broadcastID string

	t.Run("broadcast to all students", func(t *testing.T) {
		w := doJSON(t, "POST", "/api/broadcasts", officeToken, BroadcastJSON{
			Content: "semester starts monday", Criteria: "all_students",
		})
		if w.Code != http.StatusCreated {
			t.Fatalf("Send() status = %d, want 201: %s", w.Code, w.Body.String())
		}
		var b models.Broadcast
		json.Unmarshal(w.Body.Bytes(), &b)
		broadcastID = b.ID
		if b.TotalRecipients != 2 || b.DeliveredCount != 2 || b.FailedCount != 0 {
			t.Errorf("counts = %d/%d/%d, want 2/2/0", b.TotalRecipients, b.DeliveredCount, b.FailedCount)
		}
	})

	t.Run("history and get scoped to sender", func(t *testing.T) {
		w := doJSON(t, "GET", "/api/broadcasts", officeToken, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("History() status = %d, want 200", w.Code)
		}
		var resp map[string]interface{}
		json.Unmarshal(w.Body.Bytes(), &resp)
		if broadcasts, ok := resp["broadcasts"].([]interface{}); !ok || len(broadcasts) != 1 {
			t.Errorf("history = %v, want 1 broadcast", resp["broadcasts"])
		}

		if w := doJSON(t, "GET", "/api/broadcasts/"+broadcastID, officeToken, nil); w.Code != http.StatusOK {
			t.Errorf("Get() status = %d, want 200", w.Code)
		}
		if w := doJSON(t, "GET", "/api/broadcasts", studentToken, nil); w.Code != http.StatusForbidden {
			t.Errorf("student History() status = %d, want 403", w.Code)
		}
	})

	t.Run("retry with nothing failed", func(t *testing.T) {
		w := doJSON(t, "POST", "/api/broadcasts/"+broadcastID+"/retry", officeToken, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("Retry() status = %d, want 200", w.Code)
		}
		var b models.Broadcast
		json.Unmarshal(w.Body.Bytes(), &b)
		if b.DeliveredCount != 2 || b.FailedCount != 0 {
			t.Errorf("counts after retry = %d/%d, want 2/0", b.DeliveredCount, b.FailedCount)
		}
	})
}

func TestScheduledEndpoints(t *testing.T) {
	clearTestData()

	studentID, _ := registerTestUser(t, "sched_student", models.KindStudent)
	_, teacherToken := registerTestUser(t, "sched_teacher", models.KindTeacher)

	t.Run("past time rejected", func(t *testing.T) {
		w := doJSON(t, "POST", "/api/scheduled", teacherToken, ScheduleJSON{
			RecipientID:   studentID,
			RecipientKind: "student",
			Content:       "too late",
			ScheduledFor:  time.Now().Add(-time.Hour),
		})
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400: %s", w.Code, w.Body.String())
		}
	})

	var scheduledID float64

	t.Run("future schedule accepted", func(t *testing.T) {
		w := doJSON(t, "POST", "/api/scheduled", teacherToken, ScheduleJSON{
			RecipientID:   studentID,
			RecipientKind: "student",
			Content:       "assignment due friday",
			ScheduledFor:  time.Now().Add(time.Hour),
		})
		if w.Code != http.StatusCreated {
			t.Fatalf("Create() status = %d, want 201: %s", w.Code, w.Body.String())
		}
		var resp map[string]interface{}
		json.Unmarshal(w.Body.Bytes(), &resp)
		scheduledID = resp["id"].(float64)
	})

	t.Run("list pending", func(t *testing.T) {
		w := doJSON(t, "GET", "/api/scheduled", teacherToken, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("List() status = %d, want 200", w.Code)
		}
		var resp map[string]interface{}
		json.Unmarshal(w.Body.Bytes(), &resp)
		if scheduled, ok := resp["scheduled"].([]interface{}); !ok || len(scheduled) != 1 {
			t.Errorf("scheduled = %v, want 1 entry", resp["scheduled"])
		}
	})

	t.Run("cancel once then not found", func(t *testing.T) {
		path := fmt.Sprintf("/api/scheduled/%d", int64(scheduledID))
		if w := doJSON(t, "DELETE", path, teacherToken, nil); w.Code != http.StatusOK {
			t.Fatalf("Cancel() status = %d, want 200", w.Code)
		}
		if w := doJSON(t, "DELETE", path, teacherToken, nil); w.Code != http.StatusNotFound {
			t.Errorf("re-cancel status = %d, want 404", w.Code)
		}
	})
}

func TestEventPublishEndpoints(t *testing.T) {
	clearTestData()

	studentID, studentToken := registerTestUser(t, "ev_student", models.KindStudent)
	_, officeToken := registerTestUser(t, "ev_office", models.KindOffice)

	t.Run("office only", func(t *testing.T) {
		w := doJSON(t, "POST", "/api/events/attendance", studentToken, map[string]any{
			"user_id": studentID, "payload": map[string]string{"status": "present"},
		})
		if w.Code != http.StatusForbidden {
			t.Errorf("status = %d, want 403", w.Code)
		}
	})

	t.Run("needs a target", func(t *testing.T) {
		w := doJSON(t, "POST", "/api/events/attendance", officeToken, map[string]any{
			"payload": map[string]string{"status": "present"},
		})
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})

	t.Run("delivered to the user's live stream", func(t *testing.T) {
		conn := testRegistry.Register(context.Background(), studentID, 0)
		defer testRegistry.Unregister(context.Background(), conn.ID())

		w := doJSON(t, "POST", "/api/events/attendance", officeToken, map[string]any{
			"user_id": studentID, "payload": map[string]string{"status": "present"},
		})
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
		}

		select {
		case ev := <-conn.Events():
			if ev.Type != sse.EventAttendanceUpdate {
				t.Errorf("event type = %s, want %s", ev.Type, sse.EventAttendanceUpdate)
			}
		default:
			t.Error("no event arrived on the stream")
		}
	})
}

func TestPushKeyUnconfigured(t *testing.T) {
	clearTestData()

	_, token := registerTestUser(t, "push_user", models.KindStudent)

	w := doJSON(t, "GET", "/api/push/key", token, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("VAPIDKey() status = %d, want 404 when unconfigured", w.Code)
	}
}

package models

import (
	"fmt"
	"time"
)

// UserKind is the closed set of principals in the attendance platform.
// It is parsed once at the boundary; everything past that point works with
// the typed value, never the raw string.
type UserKind string

const (
	KindStudent UserKind = "student"
	KindTeacher UserKind = "teacher"
	KindOffice  UserKind = "office"
)

func ParseUserKind(s string) (UserKind, error) {
	switch UserKind(s) {
	case KindStudent, KindTeacher, KindOffice:
		return UserKind(s), nil
	}
	return "", fmt.Errorf("unknown user kind: %q", s)
}

func (k UserKind) Valid() bool {
	_, err := ParseUserKind(string(k))
	return err == nil
}

// Identity is the caller resolved by the auth middleware. Store methods
// take it explicitly; there is no ambient current-user state anywhere.
type Identity struct {
	ID   int64    `json:"id"`
	Kind UserKind `json:"kind"`
	Name string   `json:"name"`
}

type MessageCategory string

const (
	CategoryGeneral         MessageCategory = "general"
	CategoryAdministrative  MessageCategory = "administrative"
	CategoryAttendanceAlert MessageCategory = "attendance_alert"
	CategoryScheduleChange  MessageCategory = "schedule_change"
	CategoryAnnouncement    MessageCategory = "announcement"
	CategoryUrgent          MessageCategory = "urgent"
)

func ParseCategory(s string) (MessageCategory, error) {
	switch MessageCategory(s) {
	case CategoryGeneral, CategoryAdministrative, CategoryAttendanceAlert,
		CategoryScheduleChange, CategoryAnnouncement, CategoryUrgent:
		return MessageCategory(s), nil
	case "":
		return CategoryGeneral, nil
	}
	return "", fmt.Errorf("unknown message category: %q", s)
}

type Priority string

const (
	PriorityNormal    Priority = "normal"
	PriorityImportant Priority = "important"
	PriorityUrgent    Priority = "urgent"
)

func ParsePriority(s string) (Priority, error) {
	switch Priority(s) {
	case PriorityNormal, PriorityImportant, PriorityUrgent:
		return Priority(s), nil
	case "":
		return PriorityNormal, nil
	}
	return "", fmt.Errorf("unknown priority: %q", s)
}

// Rank orders priorities for the priority sort. Higher is more urgent.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 2
	case PriorityImportant:
		return 1
	default:
		return 0
	}
}

// DeliveryStatus is derived from the message timestamps, never stored.
type DeliveryStatus string

const (
	StatusSending   DeliveryStatus = "sending"
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
	StatusFailed    DeliveryStatus = "failed"
)

type ScanStatus string

const (
	ScanPending ScanStatus = "pending"
	ScanPassed  ScanStatus = "passed"
	ScanFailed  ScanStatus = "failed"
)

// Participant is one user's view of a conversation. The flags belong to
// that user alone; the other side keeps its own row.
type Participant struct {
	UserID      int64    `json:"user_id"`
	UserKind    UserKind `json:"user_kind"`
	DisplayName string   `json:"display_name"`
	AvatarURL   *string  `json:"avatar_url,omitempty"`
	Pinned      bool     `json:"pinned"`
	Starred     bool     `json:"starred"`
	Archived    bool     `json:"archived"`
	Resolved    bool     `json:"resolved"`
	Muted       bool     `json:"muted"`
	UnreadCount int      `json:"unread_count"`
}

type Conversation struct {
	ID                 int64         `json:"id"`
	Participants       []Participant `json:"participants"`
	LastMessagePreview string        `json:"last_message_preview,omitempty"`
	LastMessageAt      *time.Time    `json:"last_message_at,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// Self returns the participant row belonging to who, if present.
func (c *Conversation) Self(who Identity) *Participant {
	for i := range c.Participants {
		if c.Participants[i].UserID == who.ID {
			return &c.Participants[i]
		}
	}
	return nil
}

// Other returns the first participant that is not who.
func (c *Conversation) Other(who Identity) *Participant {
	for i := range c.Participants {
		if c.Participants[i].UserID != who.ID {
			return &c.Participants[i]
		}
	}
	return nil
}

type Message struct {
	ID                int64           `json:"id"`
	ConversationID    int64           `json:"conversation_id"`
	SenderID          int64           `json:"sender_id"`
	SenderKind        UserKind        `json:"sender_kind"`
	SenderName        string          `json:"sender_name"`
	Content           string          `json:"content"`
	Category          MessageCategory `json:"category"`
	Priority          Priority        `json:"priority"`
	Status            DeliveryStatus  `json:"status"`
	Pinned            bool            `json:"pinned"`
	IsForwarded       bool            `json:"is_forwarded"`
	ForwardedFromID   *int64          `json:"forwarded_from_id,omitempty"`
	ForwardedFromName *string         `json:"forwarded_from_name,omitempty"`
	ReplyToID         *int64          `json:"reply_to_id,omitempty"`
	Attachments       []Attachment    `json:"attachments,omitempty"`
	Reactions         []Reaction      `json:"reactions,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	DeliveredAt       *time.Time      `json:"delivered_at,omitempty"`
	ReadAt            *time.Time      `json:"read_at,omitempty"`
}

// DeriveStatus computes the delivery status from the timestamps.
func (m *Message) DeriveStatus() DeliveryStatus {
	switch {
	case m.ReadAt != nil:
		return StatusRead
	case m.DeliveredAt != nil:
		return StatusDelivered
	default:
		return StatusSent
	}
}

type Attachment struct {
	ID           int64      `json:"id"`
	MessageID    int64      `json:"message_id"`
	FileName     string     `json:"file_name"`
	StorageName  string     `json:"-"`
	ContentType  string     `json:"content_type"`
	FileSize     int64      `json:"file_size"`
	StoragePath  string     `json:"-"`
	PublicURL    string     `json:"public_url"`
	ThumbnailURL *string    `json:"thumbnail_url,omitempty"`
	UploaderID   int64      `json:"uploader_id"`
	UploaderKind UserKind   `json:"uploader_kind"`
	ScanStatus   ScanStatus `json:"scan_status"`
	CreatedAt    time.Time  `json:"created_at"`
}

type Reaction struct {
	MessageID int64     `json:"message_id"`
	UserID    int64     `json:"user_id"`
	UserKind  UserKind  `json:"user_kind"`
	Reaction  string    `json:"reaction"`
	CreatedAt time.Time `json:"created_at"`
}

// CriteriaType selects how a broadcast resolves its recipients.
type CriteriaType string

const (
	CriteriaAllStudents   CriteriaType = "all_students"
	CriteriaSpecificClass CriteriaType = "specific_class"
	CriteriaAllTeachers   CriteriaType = "all_teachers"
	CriteriaDepartment    CriteriaType = "specific_department"
)

type BroadcastCriteria struct {
	Type       CriteriaType `json:"type"`
	ClassName  string       `json:"class_name,omitempty"`
	Session    string       `json:"session,omitempty"`
	Department string       `json:"department,omitempty"`
}

func (c BroadcastCriteria) Validate() error {
	switch c.Type {
	case CriteriaAllStudents, CriteriaAllTeachers:
		return nil
	case CriteriaSpecificClass:
		if c.ClassName == "" {
			return fmt.Errorf("class criteria requires a class name")
		}
		return nil
	case CriteriaDepartment:
		if c.Department == "" {
			return fmt.Errorf("department criteria requires a department")
		}
		return nil
	}
	return fmt.Errorf("unknown criteria type: %q", c.Type)
}

type Broadcast struct {
	ID               string               `json:"id"`
	SenderID         int64                `json:"sender_id"`
	SenderKind       UserKind             `json:"sender_kind"`
	SenderName       string               `json:"sender_name"`
	Content          string               `json:"content"`
	Category         MessageCategory      `json:"category"`
	Priority         Priority             `json:"priority"`
	Criteria         BroadcastCriteria    `json:"criteria"`
	TotalRecipients  int                  `json:"total_recipients"`
	DeliveredCount   int                  `json:"delivered_count"`
	FailedCount      int                  `json:"failed_count"`
	FailedRecipients []BroadcastRecipient `json:"failed_recipients,omitempty"`
	CreatedAt        time.Time            `json:"created_at"`
}

// BroadcastRecipient records one recipient's outcome. The kind is persisted
// at resolution time so retries do not have to guess it.
type BroadcastRecipient struct {
	UserID   int64    `json:"user_id"`
	UserKind UserKind `json:"user_kind"`
	Status   string   `json:"status"`
	Error    string   `json:"error,omitempty"`
}

type ScheduledStatus string

const (
	ScheduledPending   ScheduledStatus = "pending"
	ScheduledSent      ScheduledStatus = "sent"
	ScheduledCancelled ScheduledStatus = "cancelled"
)

type ScheduledMessage struct {
	ID            int64           `json:"id"`
	SenderID      int64           `json:"sender_id"`
	SenderKind    UserKind        `json:"sender_kind"`
	RecipientID   int64           `json:"recipient_id"`
	RecipientKind UserKind        `json:"recipient_kind"`
	Content       string          `json:"content"`
	Category      MessageCategory `json:"category"`
	Priority      Priority        `json:"priority"`
	ScheduledFor  time.Time       `json:"scheduled_for"`
	Status        ScheduledStatus `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
}

type User struct {
	ID          int64     `json:"id"`
	Username    string    `json:"username"`
	Kind        UserKind  `json:"kind"`
	DisplayName *string   `json:"display_name,omitempty"`
	AvatarURL   *string   `json:"avatar_url,omitempty"`
	Department  *string   `json:"department,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Label is the name shown in conversation participant rows: display name
// when set, username otherwise.
func (u *User) Label() string {
	if u.DisplayName != nil && *u.DisplayName != "" {
		return *u.DisplayName
	}
	return u.Username
}

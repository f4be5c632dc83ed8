package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/livepoll/classroom/internal/models"
	"github.com/livepoll/classroom/internal/store"
)

// DefaultTeacherName is the sender identity allowed to chat without being on the roster.
const DefaultTeacherName = "Teacher"

// MessageLog is the append-only classroom chat.
type MessageLog struct {
	store   store.Messages
	roster  *Roster
	teacher string
	now     func() time.Time
}

// NewMessageLog creates a chat log authorizing senders against roster.
func NewMessageLog(st store.Messages, roster *Roster, teacherName string, now func() time.Time) *MessageLog {
	if teacherName == "" {
		teacherName = DefaultTeacherName
	}
	if now == nil {
		now = time.Now
	}
	return &MessageLog{store: st, roster: roster, teacher: teacherName, now: now}
}

// Authorized reports whether sender may post: the teacher always, anyone else only while an
// active (non-kicked) participant.
func (l *MessageLog) Authorized(sender string) bool {
	return sender == l.teacher || l.roster.IsActive(sender)
}

// IsTeacher reports whether sender is the configured teacher identity.
func (l *MessageLog) IsTeacher(sender string) bool {
	return strings.TrimSpace(sender) == l.teacher
}

// Append stores a message. appended is false when the sender is not authorized or the text is
// blank; such messages are dropped without error.
func (l *MessageLog) Append(ctx context.Context, sender, text, conn string) (msg models.Message, appended bool, err error) {
	sender = strings.TrimSpace(sender)
	text = strings.TrimSpace(text)
	if text == "" || !l.Authorized(sender) {
		return models.Message{}, false, nil
	}
	msg = models.Message{
		ID:        uuid.New(),
		Sender:    sender,
		Text:      text,
		ConnID:    conn,
		CreatedAt: l.now().UTC(),
	}
	if err := l.store.AppendMessage(ctx, &msg); err != nil {
		return models.Message{}, false, fmt.Errorf("append message: %w", err)
	}
	return msg, true, nil
}

// All returns the chat history oldest first.
func (l *MessageLog) All(ctx context.Context) ([]models.Message, error) {
	msgs, err := l.store.ListAllMessages(ctx)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

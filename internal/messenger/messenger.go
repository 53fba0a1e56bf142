package messenger

import (
	"context"
	"errors"
	"strings"
)

// ConversationKey identifies an independent paging session. ThreadID is 0
// outside forum topics.
type ConversationKey struct {
	ChatID   int64
	ThreadID int
}

type Photo struct {
	Name  string
	Bytes []byte
}

// Button is an inline button when Data is set, or a WebApp launcher when
// WebAppURL is set.
type Button struct {
	Text      string
	Data      string
	WebAppURL string
}

type Text struct {
	Body           string
	HTML           bool
	ReplyTo        int
	DisablePreview bool
	// Inline is rendered as a single row of inline buttons.
	Inline []Button
	// Keyboard is rendered as a single row resized reply keyboard.
	Keyboard []Button
}

var (
	// ErrMessageGone is returned when a message was already deleted.
	ErrMessageGone = errors.New("message already gone")
	ErrNoResult    = errors.New("telegram returned no message")
)

// Client is the subset of the messaging platform the bot relies on.
type Client interface {
	SendText(ctx context.Context, conv ConversationKey, msg Text) (int, error)
	SendPhotoGroup(ctx context.Context, conv ConversationKey, photos []Photo) ([]int, error)
	SendSinglePhoto(ctx context.Context, conv ConversationKey, photo Photo) (int, error)
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	EditMessage(ctx context.Context, chatID int64, messageID int, text string) error
	AnswerCallback(ctx context.Context, callbackID string) error
}

// Deleter is the part of Client needed to expire messages.
type Deleter interface {
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
}

func isGone(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "message to delete not found") ||
		strings.Contains(s, "message to edit not found")
}

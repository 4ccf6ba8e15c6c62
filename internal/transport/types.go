package transport

import "context"

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
	// UpdateJoined is emitted when the bot itself is added to a group.
	UpdateJoined UpdateKind = "joined"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
	Joined   *Joined
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	FromName     string
	Text         string
	IsGroup      bool
}

type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	ThreadID  int
	MessageID int
	Data      string
}

// Joined describes a group the bot was added to.
type Joined struct {
	ChatID int64
	Title  string
	ByID   int64
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode          string
	DisablePreview     bool
	ReplyMarkupAdapter any // adapter-specific markup (Telegram: *telebot.ReplyMarkup)
}

type BotCommand struct {
	Command     string
	Description string
}

type Notification struct {
	Target  ChatTarget
	Text    string
	Options *SendOptions
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}

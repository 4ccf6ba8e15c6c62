package tgui

import (
	"context"
	"strings"

	tele "gopkg.in/telebot.v4"

	kit "groupcast/internal/transport"
)

// Message is rendered text plus send options.
type Message struct {
	Text string
	Opt  *kit.SendOptions
}

// Send sends m to the chat.
func (m Message) Send(ctx context.Context, ad kit.Adapter, to kit.ChatTarget) (kit.MessageRef, error) {
	return ad.SendText(ctx, to, m.Text, m.options())
}

// Edit replaces the message at ref with m.
func (m Message) Edit(ctx context.Context, ad kit.Adapter, ref kit.MessageRef) error {
	return ad.EditText(ctx, ref, m.Text, m.options())
}

func (m Message) options() *kit.SendOptions {
	if m.Opt == nil {
		return &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
	}
	return m.Opt
}

// Builder assembles an HTML message line by line. Plain strings are escaped;
// H values are trusted.
type Builder struct {
	rm    *tele.ReplyMarkup
	lines []string
}

func New() *Builder { return &Builder{} }

// Inline attaches a keyboard. nil removes it.
func (b *Builder) Inline(kb *Inline) *Builder {
	if kb == nil {
		b.rm = nil
		return b
	}
	b.rm = kb.Markup()
	return b
}

// Title adds a bold title, optionally led by an emoji.
func (b *Builder) Title(emoji, title string) *Builder {
	t := strings.TrimSpace(title)
	if t == "" {
		return b
	}
	if e := strings.TrimSpace(emoji); e != "" {
		b.lines = append(b.lines, Esc(e).String()+" "+B(t).String())
	} else {
		b.lines = append(b.lines, B(t).String())
	}
	return b
}

// Line adds an escaped line. A blank string adds an empty line.
func (b *Builder) Line(s string) *Builder {
	b.lines = append(b.lines, Esc(s).String())
	return b
}

// HTML adds trusted HTML.
func (b *Builder) HTML(h H) *Builder {
	b.lines = append(b.lines, h.String())
	return b
}

// Blank adds an empty line.
func (b *Builder) Blank() *Builder {
	b.lines = append(b.lines, "")
	return b
}

// KV adds "• key: value" with a bold key.
func (b *Builder) KV(key, value string) *Builder {
	b.lines = append(b.lines, "• "+B(key).String()+": "+Esc(value).String())
	return b
}

// Bullet adds "• text".
func (b *Builder) Bullet(s string) *Builder {
	b.lines = append(b.lines, "• "+Esc(s).String())
	return b
}

// Build produces the Message.
func (b *Builder) Build() Message {
	opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
	if b.rm != nil {
		opt.ReplyMarkupAdapter = b.rm
	}
	return Message{Text: strings.Trim(strings.Join(b.lines, "\n"), "\n"), Opt: opt}
}

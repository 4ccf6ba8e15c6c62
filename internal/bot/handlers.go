package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"groupcast/internal/activity"
	"groupcast/internal/dispatch"
	"groupcast/internal/storage"
	logx "groupcast/pkg/logx"
	"groupcast/pkg/tgui"
)

const (
	maxDelayMs      = int64(time.Hour / time.Millisecond)
	maxRatePerMin   = 1000
	maxTimerMinutes = 7 * 24 * 60
)

var errBroadcastOff = errors.New("broadcast is disabled in settings")

func (b *Bot) handleStranger(ctx context.Context, req *Request) error {
	return b.reply(ctx, req, tgui.New().Line("🔒 This bot is private.").Build())
}

func (b *Bot) handleForbidden(ctx context.Context, req *Request) error {
	return b.ad.AnswerCallback(ctx, req.Update.Callback.ID, "forbidden")
}

func (b *Bot) handleMessage(ctx context.Context, req *Request) error {
	m := req.Update.Message
	switch req.Route {
	case "":
		p, ok := b.inputs.take(req.Chat.ChatID)
		if !ok {
			return nil
		}
		return b.handleInput(ctx, req, p, m.Text)
	case "/start":
		b.inputs.clear(req.Chat.ChatID)
		b.act.Record(activity.KindBotStart, fmt.Sprintf("user %s (%d) started the bot", displayName(m.FromName, m.FromUsername), m.FromID))
		return b.reply(ctx, req, welcome(m.FromName))
	case "/help":
		b.inputs.clear(req.Chat.ChatID)
		return b.reply(ctx, req, helpMessage())
	case "/menu":
		b.inputs.clear(req.Chat.ChatID)
		return b.reply(ctx, req, mainMenu(""))
	case "/cancel":
		if b.inputs.clear(req.Chat.ChatID) {
			return b.reply(ctx, req, mainMenu("❎ Cancelled."))
		}
		return b.reply(ctx, req, mainMenu("Nothing to cancel."))
	default:
		b.inputs.clear(req.Chat.ChatID)
		return b.reply(ctx, req, mainMenu("Unknown command. Try /help."))
	}
}

func displayName(name, username string) string {
	if name != "" {
		return name
	}
	if username != "" {
		return "@" + username
	}
	return "unknown"
}

func (b *Bot) handleInput(ctx context.Context, req *Request, p pending, text string) error {
	chat := req.Chat.ChatID
	text = strings.TrimSpace(text)

	switch p.kind {
	case inputBroadcastAll, inputSelectBody:
		if text == "" {
			b.inputs.set(chat, p)
			return b.reply(ctx, req, prompt("📝", "Broadcast", "The message is empty. Send the text to broadcast:", ""))
		}
		return b.startBroadcast(ctx, req, text, p.ids)

	case inputSelectIDs:
		ids, err := ParseIDList(text)
		if err != nil {
			b.inputs.set(chat, p)
			return b.reply(ctx, req, prompt("❌", "Invalid list", err.Error()+". Send the group ids again:", "Example: -1001234567890, -1009876543210"))
		}
		known, unknown, err := b.knownIDs(ctx, ids)
		if err != nil {
			return err
		}
		if len(known) == 0 {
			b.inputs.set(chat, p)
			return b.reply(ctx, req, prompt("❌", "No match", "None of those ids are in the group list. Send the group ids again:", ""))
		}
		b.inputs.set(chat, pending{kind: inputSelectBody, ids: known})
		body := fmt.Sprintf("%d group(s) selected. Now send the message to broadcast:", len(known))
		if len(unknown) > 0 {
			body = fmt.Sprintf("%d group(s) selected, skipped unknown: %s. Now send the message to broadcast:", len(known), strings.Join(unknown, ", "))
		}
		return b.reply(ctx, req, prompt("📝", "Broadcast to selected groups", body, ""))

	case inputAddGroup:
		return b.addGroup(ctx, req, text)

	case inputTimerMinutes:
		n, err := ParsePositiveInt(text, maxTimerMinutes)
		if err != nil {
			b.inputs.set(chat, p)
			return b.reply(ctx, req, prompt("❌", "Invalid duration", err.Error()+".", "Example: 30"))
		}
		b.inputs.set(chat, pending{kind: inputTimerBody, delay: minutes(n)})
		return b.reply(ctx, req, prompt("📝", "Scheduled broadcast", "Now send the message to schedule:", ""))

	case inputTimerBody:
		if text == "" {
			b.inputs.set(chat, p)
			return b.reply(ctx, req, prompt("📝", "Scheduled broadcast", "The message is empty. Send the text to schedule:", ""))
		}
		return b.scheduleAll(ctx, req, p.delay, text)

	case inputDelayMin, inputDelayMax:
		v, err := ParseNonNegativeInt(text, maxDelayMs)
		if err != nil {
			b.inputs.set(chat, p)
			return b.reply(ctx, req, prompt("❌", "Invalid delay", err.Error()+".", "Example: 500"))
		}
		return b.editSettings(ctx, req, func(st *storage.Settings) string {
			if p.kind == inputDelayMin {
				st.DelayMin = v
				return fmt.Sprintf("✅ Minimum delay set to %dms.", v)
			}
			st.DelayMax = v
			return fmt.Sprintf("✅ Maximum delay set to %dms.", v)
		})

	case inputRateLimit:
		v, err := ParsePositiveInt(text, maxRatePerMin)
		if err != nil {
			b.inputs.set(chat, p)
			return b.reply(ctx, req, prompt("❌", "Invalid rate limit", err.Error()+".", "Example: 25"))
		}
		return b.editSettings(ctx, req, func(st *storage.Settings) string {
			st.MaxMessagesPerMinute = int(v)
			return fmt.Sprintf("✅ Rate limit set to %d messages per minute.", v)
		})
	}
	return nil
}

// knownIDs splits ids into those present in the group list and the rest.
func (b *Bot) knownIDs(ctx context.Context, ids []string) (known, unknown []string, err error) {
	groups, err := b.groups.ListGroups(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list groups: %w", err)
	}
	have := make(map[string]struct{}, len(groups))
	for _, g := range groups {
		have[g.ID] = struct{}{}
	}
	for _, id := range ids {
		if _, ok := have[id]; ok {
			known = append(known, id)
		} else {
			unknown = append(unknown, id)
		}
	}
	return known, unknown, nil
}

func (b *Bot) addGroup(ctx context.Context, req *Request, text string) error {
	id, name, err := ParseGroupInput(text)
	switch {
	case errors.Is(err, ErrGroupLink):
		return b.reply(ctx, req, mainMenu("⚠️ For public groups send the numeric group id, or add the bot to the group with auto join on."))
	case err != nil:
		return b.reply(ctx, req, mainMenu("❌ Invalid id: it must be numeric."))
	}
	added, err := b.groups.AddGroup(ctx, storage.Group{ID: id, Name: name, AddedAt: b.now()})
	if err != nil {
		return fmt.Errorf("add group: %w", err)
	}
	if !added {
		return b.reply(ctx, req, mainMenu("⚠️ That group is already in the list."))
	}
	b.act.Record(activity.KindGroupAdded, fmt.Sprintf("group %s (%s) added manually", name, id))
	return b.reply(ctx, req, mainMenu(fmt.Sprintf("✅ Group %s added.", name)))
}

func (b *Bot) editSettings(ctx context.Context, req *Request, edit func(*storage.Settings) string) error {
	st, err := b.settings.Load(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	next := st
	note := edit(&next)
	if err := b.settings.Save(ctx, next); err != nil {
		if errors.Is(err, dispatch.ErrInvalidSettings) {
			return b.reply(ctx, req, settingsMenu(st, "❌ "+err.Error()))
		}
		return fmt.Errorf("save settings: %w", err)
	}
	return b.reply(ctx, req, settingsMenu(next, note))
}

func (b *Bot) broadcastEnabled(ctx context.Context) (bool, error) {
	st, err := b.settings.Load(ctx)
	if err != nil {
		return false, fmt.Errorf("load settings: %w", err)
	}
	return st.BroadcastEnabled, nil
}

// startBroadcast acknowledges at once and reports the summary when the run
// ends. ids nil means every group.
func (b *Bot) startBroadcast(ctx context.Context, req *Request, body string, ids []string) error {
	on, err := b.broadcastEnabled(ctx)
	if err != nil {
		return err
	}
	if !on {
		return b.reply(ctx, req, mainMenu("⛔ "+errBroadcastOff.Error()+"."))
	}
	groups, err := b.groups.ListGroups(ctx)
	if err != nil {
		return fmt.Errorf("list groups: %w", err)
	}
	if len(groups) == 0 {
		return b.reply(ctx, req, mainMenu("❌ No groups added yet. Add a group first."))
	}
	n := len(groups)
	if ids != nil {
		n = len(ids)
	}
	if err := b.reply(ctx, req, tgui.New().Line(fmt.Sprintf("⏳ Sending to %d group(s)...", n)).Build()); err != nil {
		return err
	}

	chat := req.Chat
	log := req.Logger
	b.goBroadcast(req, func(ctx context.Context) {
		sum, err := b.bcast.Broadcast(ctx, body, ids)
		if err != nil {
			log.Warn("broadcast ended early", logx.Err(err))
		}
		if _, serr := summaryMessage("Broadcast finished", sum, err).Send(ctx, b.ad, chat); serr != nil {
			log.Warn("send summary failed", logx.Err(serr))
		}
	})
	return nil
}

func (b *Bot) scheduleAll(ctx context.Context, req *Request, delay time.Duration, body string) error {
	on, err := b.broadcastEnabled(ctx)
	if err != nil {
		return err
	}
	if !on {
		return b.reply(ctx, req, mainMenu("⛔ "+errBroadcastOff.Error()+"."))
	}
	groups, err := b.groups.ListGroups(ctx)
	if err != nil {
		return fmt.Errorf("list groups: %w", err)
	}
	if len(groups) == 0 {
		return b.reply(ctx, req, mainMenu("❌ No groups to send to."))
	}
	ids := make([]string, 0, len(groups))
	for _, g := range groups {
		ids = append(ids, g.ID)
	}
	id, err := b.timers.Schedule(ids, body, delay)
	if err != nil {
		return b.reply(ctx, req, mainMenu("❌ Could not schedule: "+err.Error()))
	}
	at := b.now().Add(delay).In(b.loc)
	msg := tgui.New().
		Title("✅", "Message scheduled").
		Blank().
		KV("⏱️ In", delay.String()).
		KV("🕐 At", at.Format(timeLayout)).
		KV("📊 Groups", strconv.Itoa(len(ids))).
		KV("🆔 Job", strconv.FormatInt(id, 10)).
		Inline(mainKeyboard()).
		Build()
	return b.reply(ctx, req, msg)
}

func (b *Bot) handleJoined(ctx context.Context, req *Request) error {
	j := req.Update.Joined
	st, err := b.settings.Load(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if !st.AutoJoinEnabled {
		req.Logger.Info("added to group; auto join is off")
		return nil
	}
	if !b.isOwner(j.ByID) {
		req.Logger.Info("added to group by a non-owner; ignoring")
		return nil
	}
	id := strconv.FormatInt(j.ChatID, 10)
	name := strings.TrimSpace(j.Title)
	if name == "" {
		name = "Group " + id
	}
	added, err := b.groups.AddGroup(ctx, storage.Group{ID: id, Name: name, AddedAt: b.now()})
	if err != nil {
		return fmt.Errorf("add group: %w", err)
	}
	if added {
		b.act.Record(activity.KindGroupAdded, fmt.Sprintf("group %s (%s) added by auto join", name, id))
	}
	return nil
}

package bot

import (
	"context"
	"fmt"
	"strconv"

	"groupcast/internal/activity"
	kit "groupcast/internal/transport"
	logx "groupcast/pkg/logx"
	"groupcast/pkg/tgui"
)

// handleCallback serves inline buttons. The callback is always answered so
// the client stops its spinner, even when the handler fails.
func (b *Bot) handleCallback(ctx context.Context, req *Request) error {
	cb := req.Update.Callback
	toast, err := b.callback(ctx, req)
	if err != nil {
		b.act.Record(activity.KindCallbackError, fmt.Sprintf("%s: %v", req.Route, err))
		toast = "something went wrong"
	}
	if aerr := b.ad.AnswerCallback(ctx, cb.ID, toast); aerr != nil {
		req.Logger.Debug("answer callback failed", logx.Err(aerr))
	}
	return err
}

func (b *Bot) callback(ctx context.Context, req *Request) (string, error) {
	chat := req.Chat.ChatID
	switch req.Route {
	case "m:home":
		b.inputs.clear(chat)
		return "", b.show(ctx, req, mainMenu(""))
	case "m:broadcast":
		return "", b.show(ctx, req, broadcastMenu())

	case "bc:all", "bc:select":
		on, err := b.broadcastEnabled(ctx)
		if err != nil {
			return "", err
		}
		if !on {
			return "broadcast is off", b.reply(ctx, req, mainMenu("⛔ "+errBroadcastOff.Error()+"."))
		}
		if req.Route == "bc:all" {
			b.inputs.set(chat, pending{kind: inputBroadcastAll})
			return "", b.reply(ctx, req, prompt("📝", "Broadcast to all groups", "Send the message to broadcast:", ""))
		}
		b.inputs.set(chat, pending{kind: inputSelectIDs})
		return "", b.reply(ctx, req, prompt("🎯", "Broadcast to selected groups",
			"Send the group ids, separated by commas or spaces:", "Example: -1001234567890, -1009876543210"))

	case "grp:add":
		b.inputs.set(chat, pending{kind: inputAddGroup})
		return "", b.reply(ctx, req, prompt("➕", "Add group",
			"Send the group id, optionally followed by a name:", "Example: -1001234567890 My Group"))
	case "grp:list", "grp:del":
		groups, err := b.groups.ListGroups(ctx)
		if err != nil {
			return "", fmt.Errorf("list groups: %w", err)
		}
		page, _ := strconv.Atoi(req.Payload)
		if req.Route == "grp:list" {
			return "", b.show(ctx, req, groupList(groups, page, b.loc))
		}
		return "", b.show(ctx, req, removeMenu(groups, page))
	case "grp:rm":
		return b.removeGroup(ctx, req, req.Payload)

	case "set:menu":
		st, err := b.settings.Load(ctx)
		if err != nil {
			return "", fmt.Errorf("load settings: %w", err)
		}
		return "", b.show(ctx, req, settingsMenu(st, ""))
	case "set:min":
		b.inputs.set(chat, pending{kind: inputDelayMin})
		return "", b.reply(ctx, req, prompt("⏱️", "Minimum delay", "Send the minimum delay in milliseconds:", "Example: 500"))
	case "set:max":
		b.inputs.set(chat, pending{kind: inputDelayMax})
		return "", b.reply(ctx, req, prompt("⏱️", "Maximum delay", "Send the maximum delay in milliseconds:", "Example: 2000"))
	case "set:rate":
		b.inputs.set(chat, pending{kind: inputRateLimit})
		return "", b.reply(ctx, req, prompt("📊", "Rate limit", "Send the maximum number of messages per minute:", "Example: 25"))
	case "set:autojoin", "set:broadcast":
		return b.toggle(ctx, req)

	case "tm:menu":
		return "", b.show(ctx, req, timerMenu(len(b.timers.Pending())))
	case "tm:in":
		n, err := ParsePositiveInt(req.Payload, maxTimerMinutes)
		if err != nil {
			return "", fmt.Errorf("timer preset %q: %w", req.Payload, err)
		}
		b.inputs.set(chat, pending{kind: inputTimerBody, delay: minutes(n)})
		return "", b.reply(ctx, req, prompt("📝", "Scheduled broadcast", fmt.Sprintf("Send the message to broadcast in %d minute(s):", n), ""))
	case "tm:custom":
		b.inputs.set(chat, pending{kind: inputTimerMinutes})
		return "", b.reply(ctx, req, prompt("⏱️", "Custom timer", "Send the delay in minutes:", "Example: 30"))
	case "tm:cancel":
		n := len(b.timers.Pending())
		if n == 0 {
			return "no pending timers", b.show(ctx, req, timerMenu(0))
		}
		return "", b.show(ctx, req, confirmCancel(n))
	case "tm:cancelok":
		n := b.timers.CancelAll()
		return fmt.Sprintf("%d cancelled", n), b.reply(ctx, req, mainMenu(fmt.Sprintf("✅ %d scheduled message(s) cancelled.", n)))
	case "tm:list":
		return "", b.show(ctx, req, pendingJobs(b.timers.Pending(), b.loc))

	case "ses:backup":
		return b.backupSession(ctx, req)
	case "log:view":
		lines, err := b.act.Tail(ctx, logLines)
		if err != nil {
			return "", fmt.Errorf("tail activity: %w", err)
		}
		return "", b.reply(ctx, req, logsMessage(lines))
	}
	req.Logger.Debug("unknown callback")
	return "", nil
}

// show edits the message that carried the button, falling back to a new
// message when the edit fails.
func (b *Bot) show(ctx context.Context, req *Request, m tgui.Message) error {
	cb := req.Update.Callback
	if cb != nil && cb.MessageID != 0 {
		ref := kit.MessageRef{ChatID: cb.ChatID, ThreadID: cb.ThreadID, MessageID: cb.MessageID}
		err := m.Edit(ctx, b.ad, ref)
		if err == nil {
			return nil
		}
		req.Logger.Debug("edit failed; sending new message", logx.Err(err))
	}
	return b.reply(ctx, req, m)
}

func (b *Bot) removeGroup(ctx context.Context, req *Request, id string) (string, error) {
	if id == "" {
		return "", nil
	}
	groups, err := b.groups.ListGroups(ctx)
	if err != nil {
		return "", fmt.Errorf("list groups: %w", err)
	}
	name := id
	for _, g := range groups {
		if g.ID == id {
			name = g.Name
			break
		}
	}
	removed, err := b.groups.RemoveGroup(ctx, id)
	if err != nil {
		return "", fmt.Errorf("remove group: %w", err)
	}
	toast := "group not found"
	if removed {
		b.act.Record(activity.KindGroupRemoved, fmt.Sprintf("group %s (%s) removed", name, id))
		toast = "removed " + tgui.TruncRunes(name, 40)
	}
	groups, err = b.groups.ListGroups(ctx)
	if err != nil {
		return "", fmt.Errorf("list groups: %w", err)
	}
	return toast, b.show(ctx, req, removeMenu(groups, 0))
}

func (b *Bot) toggle(ctx context.Context, req *Request) (string, error) {
	st, err := b.settings.Load(ctx)
	if err != nil {
		return "", fmt.Errorf("load settings: %w", err)
	}
	var note string
	if req.Route == "set:autojoin" {
		st.AutoJoinEnabled = !st.AutoJoinEnabled
		note = "✅ Auto join is now " + onOffWord(st.AutoJoinEnabled) + "."
	} else {
		st.BroadcastEnabled = !st.BroadcastEnabled
		note = "✅ Broadcast is now " + onOffWord(st.BroadcastEnabled) + "."
	}
	if err := b.settings.Save(ctx, st); err != nil {
		return "", fmt.Errorf("save settings: %w", err)
	}
	return "", b.show(ctx, req, settingsMenu(st, note))
}

func onOffWord(v bool) string {
	if v {
		return "ON"
	}
	return "OFF"
}

func (b *Bot) backupSession(ctx context.Context, req *Request) (string, error) {
	if b.backup == nil {
		return "backup unavailable", nil
	}
	sess, err := b.backup.Backup(ctx)
	if err != nil {
		return "", fmt.Errorf("backup session: %w", err)
	}
	msg := tgui.New().
		Title("💾", "Session saved").
		Blank().
		KV("⏱️ Time", sess.BackupTime.In(b.loc).Format(timeLayout)).
		KV("📊 Groups", strconv.Itoa(sess.Groups)).
		KV("⏰ Pending timers", strconv.Itoa(sess.PendingJobs)).
		Inline(mainKeyboard()).
		Build()
	return "saved", b.reply(ctx, req, msg)
}

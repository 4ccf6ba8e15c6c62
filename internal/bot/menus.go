package bot

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"groupcast/internal/dispatch"
	"groupcast/internal/scheduler"
	"groupcast/internal/storage"
	"groupcast/pkg/tgui"
)

// Callback scopes and actions. Data is "scope:action[:payload]".
const (
	scopeMenu     = "m"
	scopeBcast    = "bc"
	scopeGroups   = "grp"
	scopeSettings = "set"
	scopeTimer    = "tm"
	scopeSession  = "ses"
	scopeLogs     = "log"
)

const (
	groupsPerPage = 8
	logLines      = 20
	detailLines   = 40
	timeLayout    = "2006-01-02 15:04:05"
)

var timerPresets = []struct {
	label   string
	minutes int
}{
	{"⏱️ 5 min", 5},
	{"⏱️ 10 min", 10},
	{"⏱️ 30 min", 30},
	{"⏱️ 1 hour", 60},
}

func mainKeyboard() *tgui.Inline {
	return tgui.NewInline().
		Row(
			tgui.Btn("📣 Broadcast", tgui.Data(scopeMenu, "broadcast", "")),
			tgui.Btn("➕ Add group", tgui.Data(scopeGroups, "add", "")),
		).
		Row(
			tgui.Btn("📜 Groups", tgui.Data(scopeGroups, "list", "0")),
			tgui.Btn("❌ Remove group", tgui.Data(scopeGroups, "del", "0")),
		).
		Row(
			tgui.Btn("⚙️ Settings", tgui.Data(scopeSettings, "menu", "")),
			tgui.Btn("⏰ Timer", tgui.Data(scopeTimer, "menu", "")),
		).
		Row(
			tgui.Btn("💾 Backup session", tgui.Data(scopeSession, "backup", "")),
			tgui.Btn("📋 Activity log", tgui.Data(scopeLogs, "view", "")),
		)
}

func mainMenu(note string) tgui.Message {
	b := tgui.New().Title("🤖", "Main menu")
	if note != "" {
		b.Blank().Line(note)
	}
	return b.Blank().Line("Choose an option:").Inline(mainKeyboard()).Build()
}

func welcome(name string) tgui.Message {
	if name == "" {
		name = "there"
	}
	return tgui.New().
		HTML(tgui.Raw("🤖 Welcome, "+tgui.B(name).String()+"!")).
		Blank().
		Line("This bot helps you:").
		Line("📣 send one message to many groups").
		Line("🔄 manage your group list").
		Line("⏰ schedule broadcasts").
		Line("🛡️ stay under Telegram limits with random delays").
		Line("💾 back up the session").
		Blank().
		HTML(tgui.B("Pick a menu below to start:")).
		Inline(mainKeyboard()).
		Build()
}

func helpMessage() tgui.Message {
	return tgui.New().
		Title("📖", "How to use").
		Blank().
		HTML(tgui.B("📣 Broadcast")).
		Line("Send to every group or a chosen few, with a random delay between messages.").
		Blank().
		HTML(tgui.B("➕ Add group")).
		Line("Send the numeric group id, optionally followed by a name. Groups are also added automatically when the bot joins them and auto-join is on.").
		Blank().
		HTML(tgui.B("⚙️ Settings")).
		Line("Delay range, messages per minute, and the broadcast and auto-join switches.").
		Blank().
		HTML(tgui.B("⏰ Timer")).
		Line("Schedule a broadcast to all current groups. Pending timers are lost on restart.").
		Blank().
		HTML(tgui.B("🛡️ Safety")).
		Line("Random delays and a per-minute cap keep the bot clear of Telegram flood limits.").
		Blank().
		Line("/cancel drops a pending prompt.").
		Inline(mainKeyboard()).
		Build()
}

func broadcastMenu() tgui.Message {
	kb := tgui.NewInline().
		Row(
			tgui.Btn("To all groups", tgui.Data(scopeBcast, "all", "")),
			tgui.Btn("To selected groups", tgui.Data(scopeBcast, "select", "")),
		).
		Row(tgui.Btn("◀️ Back", tgui.Data(scopeMenu, "home", "")))
	return tgui.New().Title("📣", "Broadcast").Blank().Line("Choose the target:").Inline(kb).Build()
}

func onOff(v bool) string {
	if v {
		return "✅"
	}
	return "❌"
}

func settingsMenu(st storage.Settings, note string) tgui.Message {
	kb := tgui.NewInline().
		Row(
			tgui.Btn(fmt.Sprintf("Delay min: %dms", st.DelayMin), tgui.Data(scopeSettings, "min", "")),
			tgui.Btn(fmt.Sprintf("Delay max: %dms", st.DelayMax), tgui.Data(scopeSettings, "max", "")),
		).
		Row(tgui.Btn(fmt.Sprintf("Rate limit: %d/min", st.MaxMessagesPerMinute), tgui.Data(scopeSettings, "rate", ""))).
		Row(
			tgui.Btn("Auto join: "+onOff(st.AutoJoinEnabled), tgui.Data(scopeSettings, "autojoin", "")),
			tgui.Btn("Broadcast: "+onOff(st.BroadcastEnabled), tgui.Data(scopeSettings, "broadcast", "")),
		).
		Row(tgui.Btn("◀️ Back", tgui.Data(scopeMenu, "home", "")))
	b := tgui.New().Title("⚙️", "Settings")
	if note != "" {
		b.Blank().Line(note)
	} else {
		b.Blank().Line("Tune the pacing between messages:")
	}
	return b.Inline(kb).Build()
}

func timerMenu(pending int) tgui.Message {
	kb := tgui.NewInline()
	for i := 0; i < len(timerPresets); i += 2 {
		row := timerPresets[i : i+2]
		kb.Row(
			tgui.Btn(row[0].label, tgui.Data(scopeTimer, "in", strconv.Itoa(row[0].minutes))),
			tgui.Btn(row[1].label, tgui.Data(scopeTimer, "in", strconv.Itoa(row[1].minutes))),
		)
	}
	kb.Row(
		tgui.Btn("⏱️ Custom", tgui.Data(scopeTimer, "custom", "")),
		tgui.Btn("🛑 Cancel all", tgui.Data(scopeTimer, "cancel", "")),
	)
	kb.Row(
		tgui.Btn(fmt.Sprintf("📋 Pending (%d)", pending), tgui.Data(scopeTimer, "list", "")),
		tgui.Btn("◀️ Back", tgui.Data(scopeMenu, "home", "")),
	)
	return tgui.New().Title("⏰", "Scheduled broadcast").Blank().Line("Choose how long to wait before sending:").Inline(kb).Build()
}

func confirmCancel(pending int) tgui.Message {
	kb := tgui.ConfirmInline(
		tgui.Btn("🛑 Yes, cancel", tgui.Data(scopeTimer, "cancelok", "")),
		tgui.Btn("◀️ Keep", tgui.Data(scopeTimer, "menu", "")),
	)
	return tgui.New().
		Title("🛑", "Cancel timers").
		Blank().
		Line(fmt.Sprintf("Cancel all %d pending timer(s)? Broadcasts already running are not stopped.", pending)).
		Inline(kb).
		Build()
}

func pendingJobs(jobs []scheduler.Job, loc *time.Location) tgui.Message {
	b := tgui.New().Title("📋", fmt.Sprintf("Pending timers (%d)", len(jobs)))
	if len(jobs) == 0 {
		b.Blank().Line("Nothing scheduled.")
	}
	for _, j := range jobs {
		b.Blank().
			HTML(tgui.Raw("#" + tgui.Code(strconv.FormatInt(j.ID, 10)).String())).
			KV("at", j.FireAt.In(loc).Format(timeLayout)).
			KV("groups", strconv.Itoa(len(j.DestinationIDs))).
			KV("message", tgui.TruncRunes(j.Body, 60))
	}
	return b.Inline(tgui.NewInline().Row(
		tgui.Btn("◀️ Timer", tgui.Data(scopeTimer, "menu", "")),
		tgui.Btn("🏠 Menu", tgui.Data(scopeMenu, "home", "")),
	)).Build()
}

func groupList(groups []storage.Group, page int, loc *time.Location) tgui.Message {
	if len(groups) == 0 {
		return mainMenu("📭 No groups added yet.")
	}
	p := tgui.Paginate(groups, page, groupsPerPage)
	b := tgui.New().Title("📜", fmt.Sprintf("Groups (%d)", len(groups)))
	for i, g := range p.Items {
		b.Blank().
			HTML(tgui.Raw(strconv.Itoa(p.From+i+1) + ". " + tgui.B(g.Name).String())).
			HTML(tgui.Raw("   ID: " + tgui.Code(g.ID).String())).
			Line("   Added: " + g.AddedAt.In(loc).Format(timeLayout))
	}
	b.Blank().Line(p.Label())
	return b.Inline(pagerRow(tgui.NewInline(), p, "list")).Build()
}

func removeMenu(groups []storage.Group, page int) tgui.Message {
	if len(groups) == 0 {
		return mainMenu("📭 No groups to remove.")
	}
	p := tgui.Paginate(groups, page, groupsPerPage)
	kb := tgui.NewInline()
	for _, g := range p.Items {
		kb.Row(tgui.Btn("❌ "+tgui.TruncRunes(g.Name, 40), tgui.Data(scopeGroups, "rm", g.ID)))
	}
	return tgui.New().
		Title("❌", "Remove group").
		Blank().
		Line("Tap a group to remove it from the broadcast list.").
		Line(p.Label()).
		Inline(pagerRow(kb, p, "del")).
		Build()
}

func pagerRow(kb *tgui.Inline, p tgui.Page[storage.Group], action string) *tgui.Inline {
	var nav []tele.Btn
	if p.HasPrev {
		nav = append(nav, tgui.Btn("⬅️", tgui.Data(scopeGroups, action, strconv.Itoa(p.Index-1))))
	}
	if p.HasNext {
		nav = append(nav, tgui.Btn("➡️", tgui.Data(scopeGroups, action, strconv.Itoa(p.Index+1))))
	}
	kb.Row(nav...)
	return kb.Row(tgui.Btn("◀️ Back", tgui.Data(scopeMenu, "home", "")))
}

// summaryMessage renders a broadcast outcome; the detail list is capped.
func summaryMessage(title string, sum dispatch.Summary, err error) tgui.Message {
	b := tgui.New().Title("✅", title)
	if err != nil {
		b = tgui.New().Title("⚠️", title+" (interrupted)")
	}
	b.Blank().
		KV("📨 Sent", strconv.Itoa(sum.Success)).
		KV("❌ Failed", strconv.Itoa(sum.Failed)).
		KV("📊 Total", strconv.Itoa(sum.Total()))
	if len(sum.Results) > 0 {
		b.Blank().HTML(tgui.B("Details:"))
		for i, r := range sum.Results {
			if i == detailLines {
				b.Line(fmt.Sprintf("… and %d more", len(sum.Results)-detailLines))
				break
			}
			label := r.Label
			if label == "" {
				label = r.DestinationID
			}
			if r.Status == dispatch.StatusSuccess {
				b.Line("✅ " + label)
			} else {
				b.Line("❌ " + label + ": " + tgui.TruncRunes(r.Detail, 80))
			}
		}
	}
	if err != nil {
		b.Blank().Line("Stopped early: " + err.Error())
	}
	return b.Inline(mainKeyboard()).Build()
}

func logsMessage(lines []string) tgui.Message {
	b := tgui.New().Title("📋", fmt.Sprintf("Activity log (last %d lines)", logLines)).Blank()
	if len(lines) == 0 {
		b.Line("No activity yet.")
	} else {
		var sb strings.Builder
		for _, l := range lines {
			sb.WriteString(tgui.TruncRunes(l, 180))
			sb.WriteByte('\n')
		}
		b.HTML(tgui.Pre(sb.String()))
	}
	return b.Inline(mainKeyboard()).Build()
}

func prompt(emoji, title, body, example string) tgui.Message {
	b := tgui.New().Title(emoji, title).Blank().Line(body)
	if example != "" {
		b.Blank().HTML(tgui.I(example))
	}
	return b.Build()
}

package bot

import (
	"fmt"
	"strings"
	"time"

	"github.com/Lebouse/telegram-reminder/internal/storage"
	"github.com/Lebouse/telegram-reminder/internal/task"
)

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func recurrenceLabel(r task.Recurrence) string {
	switch r {
	case task.RecurDaily:
		return "daily"
	case task.RecurWeekly:
		return "weekly"
	case task.RecurMonthly:
		return "monthly"
	default:
		return "once"
	}
}

func deleteAfterLabel(days int) string {
	if days <= 0 {
		return "never"
	}
	if days == 1 {
		return "after 1 day"
	}
	return fmt.Sprintf("after %d days", days)
}

// renderTaskList formats active publications for the list view.
func renderTaskList(tasks []task.Task, loc *time.Location) string {
	if len(tasks) == 0 {
		return "📭 No active publications."
	}
	var b strings.Builder
	b.WriteString("📋 Active publications:\n")
	for _, t := range tasks {
		fmt.Fprintf(&b, "\n#%d → chat %d\n", t.ID, t.ChatID)
		fmt.Fprintf(&b, "  %s", task.FormatLocal(t.NextFireAt, loc))
		if t.Recurrence != task.RecurNone {
			fmt.Fprintf(&b, " (%s)", recurrenceLabel(t.Recurrence))
		}
		b.WriteString("\n")
		fmt.Fprintf(&b, "  %s\n", t.Payload.Preview())
		fmt.Fprintf(&b, "  pin: %s, silent: %s, delete: %s\n",
			yesNo(t.Pin), yesNo(t.Silent), deleteAfterLabel(t.DeleteAfterDays))
	}
	return b.String()
}

// renderChatList formats the trusted chats view.
func renderChatList(chats []storage.Chat, loc *time.Location) string {
	if len(chats) == 0 {
		return "📭 The bot is not a member of any chat yet. Add it to a group as an administrator first."
	}
	var b strings.Builder
	b.WriteString("🔍 Trusted chats:\n")
	for _, c := range chats {
		fmt.Fprintf(&b, "\n%s\n  ID: %d, added %s\n", c.Title, c.ID, task.FormatLocal(c.AddedAt, loc))
	}
	return b.String()
}

// renderScheduled is the confirmation shown after a successful submit.
func renderScheduled(id int64, d task.Draft, loc *time.Location) string {
	var b strings.Builder
	b.WriteString("✅ Publication scheduled.\n\n")
	fmt.Fprintf(&b, "ID: %d\n", id)
	fmt.Fprintf(&b, "Chat: %d\n", d.ChatID)
	fmt.Fprintf(&b, "Time: %s\n", task.FormatLocal(d.FireAt, loc))
	fmt.Fprintf(&b, "Repeat: %s\n", recurrenceLabel(d.Recurrence))
	fmt.Fprintf(&b, "Pin: %s\n", yesNo(d.Pin))
	fmt.Fprintf(&b, "Silent: %s\n", yesNo(d.Silent))
	fmt.Fprintf(&b, "Delete: %s", deleteAfterLabel(d.DeleteAfterDays))
	return b.String()
}

const helpText = `🤖 Publication scheduler

Commands:
  /start — main menu
  /cancel — abort the current dialog

The bot schedules posts into group chats it has been added to:
  • text, photo or document (PDF, JPEG, PNG) content
  • one-off or daily / weekly / monthly repetition
  • optional pinning after publication
  • optional silent delivery (no member notification)
  • optional auto-delete after 1-3 days

Add the bot to the target group as an administrator with permission
to post, pin and delete messages, then talk to it in this private
chat. Dates use the DD.MM.YYYY HH:MM format and may be scheduled up
to one year ahead.`

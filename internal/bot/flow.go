package bot

import (
	"errors"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/Lebouse/telegram-reminder/internal/storage"
	"github.com/Lebouse/telegram-reminder/internal/task"
	"github.com/Lebouse/telegram-reminder/pkg/logx"
)

// allowedDocMIME is the document allowlist; anything else is refused
// at intake so a bad file never reaches the schedule.
var allowedDocMIME = map[string]bool{
	"application/pdf": true,
	"image/jpeg":      true,
	"image/png":       true,
}

const datePrompt = "📅 Enter the date and time of the first publication (DD.MM.YYYY HH:MM):"

func (r *Router) onMenuAdd(c tele.Context) error {
	sess := r.sessions.start(c.Sender().ID)
	sess.mu.Lock()
	sess.Step = stepContent
	sess.mu.Unlock()
	return c.Edit("📤 Send the message to publish: text, a photo, or a document (PDF, JPEG, PNG).")
}

func (r *Router) onText(c tele.Context) error {
	sess := r.sessions.get(c.Sender().ID)
	if sess == nil {
		return c.Send("Use /start to open the menu.")
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	switch sess.Step {
	case stepContent:
		sess.Draft.Payload = task.Payload{Kind: task.KindText, Text: c.Text()}
		return r.askChat(c, sess)
	case stepDate:
		return r.handleDateInput(c, sess)
	default:
		// Mid-dialog text while a button step is pending: nudge, keep state.
		return c.Send("Please use the buttons above, or /cancel to abort.")
	}
}

func (r *Router) onPhoto(c tele.Context) error {
	sess := r.sessions.get(c.Sender().ID)
	if sess == nil {
		return nil
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.Step != stepContent {
		return nil
	}
	photo := c.Message().Photo
	if photo == nil {
		return nil
	}
	sess.Draft.Payload = task.Payload{
		Kind:    task.KindPhoto,
		FileID:  photo.FileID,
		Caption: c.Message().Caption,
	}
	return r.askChat(c, sess)
}

func (r *Router) onDocument(c tele.Context) error {
	sess := r.sessions.get(c.Sender().ID)
	if sess == nil {
		return nil
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.Step != stepContent {
		return nil
	}
	doc := c.Message().Document
	if doc == nil {
		return nil
	}
	if !allowedDocMIME[doc.MIME] {
		return c.Send("❌ Only PDF and image documents are supported. Send another file or /cancel.")
	}
	sess.Draft.Payload = task.Payload{
		Kind:    task.KindDocument,
		FileID:  doc.FileID,
		Caption: c.Message().Caption,
	}
	return r.askChat(c, sess)
}

// askChat moves the dialog to target selection.
func (r *Router) askChat(c tele.Context, sess *session) error {
	ctx, cancel := r.opCtx()
	defer cancel()

	chats, err := r.chats.ListChats(ctx)
	if err != nil {
		r.log.Error("list chats", logx.Err(err))
		return c.Send("❌ Could not load chats, try again later.")
	}
	if len(chats) == 0 {
		r.sessions.drop(c.Sender().ID)
		return c.Send("❌ The bot is not a member of any chat yet. Add it to a group as an administrator, then /start again.")
	}

	sess.Step = stepChat
	return c.Send("🎯 Pick the chat to publish into:", chatPicker(chats))
}

func chatPicker(chats []storage.Chat) *tele.ReplyMarkup {
	m := &tele.ReplyMarkup{}
	rows := make([]tele.Row, 0, len(chats)+1)
	for _, chat := range chats {
		rows = append(rows, m.Row(m.Data(chat.Title, btnPickChat.Unique, strconv.FormatInt(chat.ID, 10))))
	}
	rows = append(rows, m.Row(btnFlowCancel))
	m.Inline(rows...)
	return m
}

func (r *Router) onPickChat(c tele.Context) error {
	sess := r.sessions.get(c.Sender().ID)
	if sess == nil {
		return staleButton(c)
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.Step != stepChat {
		return staleButton(c)
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(c.Data()), 10, 64)
	if err != nil {
		return staleButton(c)
	}
	sess.Draft.ChatID = chatID
	sess.Step = stepDate
	return c.Edit(datePrompt)
}

func (r *Router) handleDateInput(c tele.Context, sess *session) error {
	at, err := task.ParseLocalDateTime(c.Text(), r.cfg.Location)
	if err != nil {
		return c.Send("❌ Unrecognized date. " + datePrompt)
	}
	if msg := checkFireAt(time.Now(), at, r.cfg.Horizon); msg != "" {
		return c.Send("❌ " + msg + "\n" + datePrompt)
	}

	sess.Draft.FireAt = at
	sess.Step = stepRecurrence

	m := &tele.ReplyMarkup{}
	m.Inline(
		m.Row(m.Data("Once", btnRecurrence.Unique, string(task.RecurNone))),
		m.Row(m.Data("Daily", btnRecurrence.Unique, string(task.RecurDaily))),
		m.Row(m.Data("Weekly", btnRecurrence.Unique, string(task.RecurWeekly))),
		m.Row(m.Data("Monthly", btnRecurrence.Unique, string(task.RecurMonthly))),
		m.Row(btnFlowCancel),
	)
	return c.Send("🔄 How often should it repeat?", m)
}

// checkFireAt rejects past and over-horizon dates. Returns a
// user-facing message, empty when the instant is acceptable.
func checkFireAt(now, at time.Time, horizon time.Duration) string {
	if !at.After(now) {
		return "The date must be in the future."
	}
	if horizon > 0 && at.After(now.Add(horizon)) {
		return "That is too far ahead; publications may be scheduled at most one year out."
	}
	return ""
}

func (r *Router) onRecurrence(c tele.Context) error {
	sess := r.sessions.get(c.Sender().ID)
	if sess == nil {
		return staleButton(c)
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.Step != stepRecurrence {
		return staleButton(c)
	}
	rec, err := task.ParseRecurrence(strings.TrimSpace(c.Data()))
	if err != nil {
		return staleButton(c)
	}
	sess.Draft.Recurrence = rec
	sess.Step = stepPin

	m := &tele.ReplyMarkup{}
	m.Inline(
		m.Row(m.Data("✅ Yes", btnPin.Unique, "yes"), m.Data("❌ No", btnPin.Unique, "no")),
		m.Row(btnFlowCancel),
	)
	return c.Edit("📌 Pin the message after publishing?", m)
}

func (r *Router) onPin(c tele.Context) error {
	sess := r.sessions.get(c.Sender().ID)
	if sess == nil {
		return staleButton(c)
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.Step != stepPin {
		return staleButton(c)
	}
	sess.Draft.Pin = c.Data() == "yes"
	sess.Step = stepSilent

	m := &tele.ReplyMarkup{}
	m.Inline(
		m.Row(m.Data("✅ Yes", btnSilent.Unique, "yes"), m.Data("❌ No", btnSilent.Unique, "no")),
		m.Row(btnFlowCancel),
	)
	return c.Edit("🔕 Deliver silently (no member notification)?", m)
}

func (r *Router) onSilent(c tele.Context) error {
	sess := r.sessions.get(c.Sender().ID)
	if sess == nil {
		return staleButton(c)
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.Step != stepSilent {
		return staleButton(c)
	}
	sess.Draft.Silent = c.Data() == "yes"
	sess.Step = stepDeleteDays

	m := &tele.ReplyMarkup{}
	m.Inline(
		m.Row(m.Data("1 day", btnDeleteDays.Unique, "1")),
		m.Row(m.Data("2 days", btnDeleteDays.Unique, "2")),
		m.Row(m.Data("3 days", btnDeleteDays.Unique, "3")),
		m.Row(m.Data("Never", btnDeleteDays.Unique, "0")),
		m.Row(btnFlowCancel),
	)
	return c.Edit("🗑️ Delete the publication after:", m)
}

func (r *Router) onDeleteDays(c tele.Context) error {
	userID := c.Sender().ID
	sess := r.sessions.get(userID)
	if sess == nil {
		return staleButton(c)
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.Step != stepDeleteDays {
		return staleButton(c)
	}
	days, err := strconv.Atoi(strings.TrimSpace(c.Data()))
	if err != nil || days < 0 || days > 3 {
		return staleButton(c)
	}
	sess.Draft.DeleteAfterDays = days

	ctx, cancel := r.opCtx()
	defer cancel()

	id, err := r.sched.Submit(ctx, sess.Draft)
	if err != nil {
		r.sessions.drop(userID)
		if errors.Is(err, task.ErrValidation) {
			return c.Edit("❌ Rejected: " + err.Error())
		}
		r.log.Error("submit publication", logx.Err(err))
		return c.Edit("❌ Could not save the publication, try again later.")
	}

	draft := sess.Draft
	r.sessions.drop(userID)
	r.log.Info("publication scheduled",
		logx.Int64("task_id", id),
		logx.Int64("chat_id", draft.ChatID),
		logx.Time("fire_at", draft.FireAt))
	return c.Edit(renderScheduled(id, draft, r.cfg.Location))
}

// onCancelPick shows active publications as cancel buttons.
func (r *Router) onCancelPick(c tele.Context) error {
	ctx, cancel := r.opCtx()
	defer cancel()

	tasks, err := r.sched.ListActive(ctx)
	if err != nil {
		r.log.Error("list publications", logx.Err(err))
		return c.Edit("❌ Could not load publications, try again later.")
	}
	if len(tasks) == 0 {
		m := &tele.ReplyMarkup{}
		m.Inline(m.Row(btnMenuHome))
		return c.Edit("📭 No active publications.", m)
	}

	m := &tele.ReplyMarkup{}
	rows := make([]tele.Row, 0, len(tasks)+1)
	for _, t := range tasks {
		label := "#" + strconv.FormatInt(t.ID, 10) + " " + task.FormatLocal(t.NextFireAt, r.cfg.Location) + " " + t.Payload.Preview()
		rows = append(rows, m.Row(m.Data(label, btnCancelTask.Unique, strconv.FormatInt(t.ID, 10))))
	}
	rows = append(rows, m.Row(btnMenuHome))
	m.Inline(rows...)
	return c.Edit("🗑️ Pick the publication to cancel:", m)
}

func (r *Router) onCancelTask(c tele.Context) error {
	id, err := strconv.ParseInt(strings.TrimSpace(c.Data()), 10, 64)
	if err != nil {
		return staleButton(c)
	}

	ctx, cancel := r.opCtx()
	defer cancel()

	m := &tele.ReplyMarkup{}
	m.Inline(m.Row(btnMenuHome))

	if err := r.sched.Cancel(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return c.Edit("❌ Publication #"+strconv.FormatInt(id, 10)+" no longer exists.", m)
		}
		r.log.Error("cancel publication", logx.Int64("task_id", id), logx.Err(err))
		return c.Edit("❌ Could not cancel, try again later.")
	}
	r.log.Info("publication cancelled", logx.Int64("task_id", id))
	return c.Edit("✅ Publication #"+strconv.FormatInt(id, 10)+" cancelled.", m)
}

// staleButton acknowledges a press that no longer matches the dialog
// state (expired session, replayed callback).
func staleButton(c tele.Context) error {
	return c.Respond(&tele.CallbackResponse{Text: "This button is no longer active. Use /start."})
}

func formatInt64(v int64) string { return strconv.FormatInt(v, 10) }

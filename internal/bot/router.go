package bot

import (
	"context"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/Lebouse/telegram-reminder/internal/storage"
	"github.com/Lebouse/telegram-reminder/internal/task"
	"github.com/Lebouse/telegram-reminder/pkg/logx"
)

// Scheduler is the slice of the dispatcher the dialog needs.
type Scheduler interface {
	Submit(ctx context.Context, d task.Draft) (int64, error)
	ListActive(ctx context.Context) ([]task.Task, error)
	Cancel(ctx context.Context, id int64) error
}

// ChatRegistry tracks the trusted chats publications may target.
type ChatRegistry interface {
	UpsertChat(ctx context.Context, id int64, title string) error
	RemoveChat(ctx context.Context, id int64) error
	ListChats(ctx context.Context) ([]storage.Chat, error)
}

type Config struct {
	// AdminUserIDs are the only users the dialog answers to.
	AdminUserIDs []int64
	// Location interprets user-entered dates; nil means UTC.
	Location *time.Location
	// Horizon caps how far ahead a publication may be scheduled.
	Horizon time.Duration
	// SessionIdle expires abandoned dialogs (default 30m).
	SessionIdle time.Duration
}

// Router wires the conversational handlers onto a telebot instance.
type Router struct {
	bot   *tele.Bot
	sched Scheduler
	chats ChatRegistry
	cfg   Config
	log   logx.Logger

	sessions *sessionStore

	// baseCtx bounds handler-side storage and dispatcher calls; telebot
	// handlers do not carry a context of their own.
	baseCtx context.Context
}

func NewRouter(b *tele.Bot, sched Scheduler, chats ChatRegistry, cfg Config, log logx.Logger) *Router {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Router{
		bot:      b,
		sched:    sched,
		chats:    chats,
		cfg:      cfg,
		log:      log,
		sessions: newSessionStore(cfg.SessionIdle),
		baseCtx:  context.Background(),
	}
}

// Static inline buttons. Dynamic ones (chat picker, task picker) share
// the uniques below and carry their payload in the callback data.
var (
	btnMenuAdd   = tele.Btn{Unique: "menu_add", Text: "➕ Add publication"}
	btnMenuList  = tele.Btn{Unique: "menu_list", Text: "📋 My publications"}
	btnMenuChats = tele.Btn{Unique: "menu_chats", Text: "🔍 Trusted chats"}
	btnMenuHelp  = tele.Btn{Unique: "menu_help", Text: "❓ Help"}
	btnMenuHome  = tele.Btn{Unique: "menu_home", Text: "🔙 Back"}

	btnFlowCancel = tele.Btn{Unique: "flow_cancel", Text: "🔙 Cancel"}

	btnPickChat   = tele.Btn{Unique: "pick_chat"}
	btnRecurrence = tele.Btn{Unique: "recurrence"}
	btnPin        = tele.Btn{Unique: "pin"}
	btnSilent     = tele.Btn{Unique: "silent"}
	btnDeleteDays = tele.Btn{Unique: "delete_days"}
	btnCancelPick = tele.Btn{Unique: "cancel_pick", Text: "🗑️ Cancel publication"}
	btnCancelTask = tele.Btn{Unique: "cancel_task"}
)

// Register attaches all handlers. ctx bounds the storage and scheduler
// calls the handlers make; cancel it on shutdown.
func (r *Router) Register(ctx context.Context) {
	r.baseCtx = ctx

	// Membership updates arrive from group members, not admins, so they
	// bypass the allowlist.
	r.bot.Handle(tele.OnMyChatMember, r.onMyChatMember)

	adm := r.bot.Group()
	adm.Use(r.adminOnly)

	adm.Handle("/start", r.onStart)
	adm.Handle("/cancel", r.onCancel)
	adm.Handle("/help", r.onHelpCommand)

	adm.Handle(tele.OnText, r.onText)
	adm.Handle(tele.OnPhoto, r.onPhoto)
	adm.Handle(tele.OnDocument, r.onDocument)

	adm.Handle(&btnMenuAdd, r.onMenuAdd)
	adm.Handle(&btnMenuList, r.onMenuList)
	adm.Handle(&btnMenuChats, r.onMenuChats)
	adm.Handle(&btnMenuHelp, r.onMenuHelp)
	adm.Handle(&btnMenuHome, r.onMenuHome)
	adm.Handle(&btnFlowCancel, r.onFlowCancel)

	adm.Handle(&btnPickChat, r.onPickChat)
	adm.Handle(&btnRecurrence, r.onRecurrence)
	adm.Handle(&btnPin, r.onPin)
	adm.Handle(&btnSilent, r.onSilent)
	adm.Handle(&btnDeleteDays, r.onDeleteDays)
	adm.Handle(&btnCancelPick, r.onCancelPick)
	adm.Handle(&btnCancelTask, r.onCancelTask)

	if err := r.bot.SetCommands([]tele.Command{
		{Text: "start", Description: "Main menu"},
		{Text: "cancel", Description: "Abort the current dialog"},
		{Text: "help", Description: "How to use the bot"},
	}); err != nil {
		r.log.Warn("set bot commands", logx.Err(err))
	}
}

// adminOnly drops private-chat traffic from anyone outside the
// allowlist and ignores messages sent in groups entirely. Unauthorized
// users get a terse refusal rather than silence so misconfiguration is
// visible.
func (r *Router) adminOnly(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		chat := c.Chat()
		if chat == nil || chat.Type != tele.ChatPrivate {
			return nil
		}
		sender := c.Sender()
		if sender == nil {
			return nil
		}
		for _, id := range r.cfg.AdminUserIDs {
			if sender.ID == id {
				return next(c)
			}
		}
		r.log.Warn("unauthorized access", logx.Int64("user_id", sender.ID))
		if c.Callback() != nil {
			return c.Respond(&tele.CallbackResponse{Text: "Access denied."})
		}
		return c.Send("❌ Access denied.")
	}
}

// opCtx bounds a single handler-side storage or scheduler call.
func (r *Router) opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.baseCtx, 10*time.Second)
}

func mainMenu() *tele.ReplyMarkup {
	m := &tele.ReplyMarkup{}
	m.Inline(
		m.Row(btnMenuAdd),
		m.Row(btnMenuList),
		m.Row(btnMenuChats),
		m.Row(btnMenuHelp),
	)
	return m
}

func (r *Router) onStart(c tele.Context) error {
	r.sessions.drop(c.Sender().ID)
	return c.Send("👋 Hi! I schedule publications into your group chats.\n\nPick an action:", mainMenu())
}

func (r *Router) onCancel(c tele.Context) error {
	r.sessions.drop(c.Sender().ID)
	return c.Send("❌ Operation cancelled.")
}

func (r *Router) onHelpCommand(c tele.Context) error {
	return c.Send(helpText)
}

func (r *Router) onMenuHelp(c tele.Context) error {
	m := &tele.ReplyMarkup{}
	m.Inline(m.Row(btnMenuHome))
	return c.Edit(helpText, m)
}

func (r *Router) onMenuHome(c tele.Context) error {
	r.sessions.drop(c.Sender().ID)
	return c.Edit("👋 Main menu\n\nPick an action:", mainMenu())
}

func (r *Router) onFlowCancel(c tele.Context) error {
	r.sessions.drop(c.Sender().ID)
	return c.Edit("❌ Operation cancelled.")
}

func (r *Router) onMenuList(c tele.Context) error {
	ctx, cancel := r.opCtx()
	defer cancel()

	tasks, err := r.sched.ListActive(ctx)
	if err != nil {
		r.log.Error("list publications", logx.Err(err))
		return c.Edit("❌ Could not load publications, try again later.")
	}

	m := &tele.ReplyMarkup{}
	if len(tasks) == 0 {
		m.Inline(m.Row(btnMenuAdd), m.Row(btnMenuHome))
	} else {
		m.Inline(m.Row(btnMenuAdd), m.Row(btnCancelPick), m.Row(btnMenuHome))
	}
	return c.Edit(renderTaskList(tasks, r.cfg.Location), m)
}

func (r *Router) onMenuChats(c tele.Context) error {
	ctx, cancel := r.opCtx()
	defer cancel()

	chats, err := r.chats.ListChats(ctx)
	if err != nil {
		r.log.Error("list chats", logx.Err(err))
		return c.Edit("❌ Could not load chats, try again later.")
	}

	m := &tele.ReplyMarkup{}
	addRow := m.Row(m.URL("➕ Add me to a group", "https://t.me/"+r.bot.Me.Username+"?startgroup=true"))
	m.Inline(addRow, m.Row(btnMenuHome))

	text := renderChatList(chats, r.cfg.Location)
	if len(chats) > 0 {
		text += "\nThe bot needs administrator rights with permission to post, pin and delete messages."
	}
	return c.Edit(text, m)
}

// onMyChatMember keeps the trusted chat registry in sync with the
// bot's own group membership and tells the admins about new chats.
func (r *Router) onMyChatMember(c tele.Context) error {
	upd := c.ChatMember()
	if upd == nil || upd.NewChatMember == nil {
		return nil
	}
	chat := upd.Chat
	if chat == nil || (chat.Type != tele.ChatGroup && chat.Type != tele.ChatSuperGroup) {
		return nil
	}

	ctx, cancel := r.opCtx()
	defer cancel()

	switch upd.NewChatMember.Role {
	case tele.Member, tele.Administrator:
		title := chat.Title
		if title == "" {
			title = "Untitled chat"
		}
		if err := r.chats.UpsertChat(ctx, chat.ID, title); err != nil {
			r.log.Error("register chat", logx.Int64("chat_id", chat.ID), logx.Err(err))
			return nil
		}
		r.log.Info("added to chat", logx.Int64("chat_id", chat.ID), logx.String("title", title))
		for _, admin := range r.cfg.AdminUserIDs {
			_, err := r.bot.Send(&tele.User{ID: admin},
				"✅ The bot was added to a chat:\nID: "+formatInt64(chat.ID)+"\nTitle: "+title)
			if err != nil {
				r.log.Warn("notify admin", logx.Int64("admin_id", admin), logx.Err(err))
			}
		}
	case tele.Left, tele.Kicked:
		if err := r.chats.RemoveChat(ctx, chat.ID); err != nil {
			r.log.Error("unregister chat", logx.Int64("chat_id", chat.ID), logx.Err(err))
			return nil
		}
		r.log.Info("removed from chat", logx.Int64("chat_id", chat.ID))
	}
	return nil
}

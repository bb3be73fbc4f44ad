package telegram

import (
	"context"
	"fmt"
	"strconv"

	tele "gopkg.in/telebot.v4"

	"github.com/Lebouse/telegram-reminder/internal/dispatch"
	"github.com/Lebouse/telegram-reminder/internal/task"
)

var _ dispatch.Publisher = (*Adapter)(nil)

// Publish delivers the payload to the target chat and returns the
// message handle for later pinning/deletion. Payload text and captions
// are user-entered, so they are escaped and sent as MarkdownV2.
func (a *Adapter) Publish(ctx context.Context, chatID int64, p task.Payload, silent bool) (dispatch.MessageRef, error) {
	what, err := sendable(p)
	if err != nil {
		return dispatch.MessageRef{}, err
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return dispatch.MessageRef{}, err
	}

	opt := &tele.SendOptions{
		DisableNotification: silent,
		ParseMode:           tele.ModeMarkdownV2,
	}
	msg, err := a.bot.Send(&tele.Chat{ID: chatID}, what, opt)
	if err != nil {
		return dispatch.MessageRef{}, err
	}
	return dispatch.MessageRef{ChatID: chatID, MessageID: msg.ID}, nil
}

// sendable maps a payload to the telebot value to send, with text and
// captions escaped for MarkdownV2.
func sendable(p task.Payload) (any, error) {
	switch p.Kind {
	case task.KindText:
		return EscapeMarkdownV2(p.Text), nil
	case task.KindPhoto:
		return &tele.Photo{File: tele.File{FileID: p.FileID}, Caption: EscapeMarkdownV2(p.Caption)}, nil
	case task.KindDocument:
		return &tele.Document{File: tele.File{FileID: p.FileID}, Caption: EscapeMarkdownV2(p.Caption)}, nil
	default:
		return nil, fmt.Errorf("unsupported payload kind %q", p.Kind)
	}
}

// Pin pins an earlier delivery. Notification of the pin itself is
// suppressed; the publication already notified the chat.
func (a *Adapter) Pin(ctx context.Context, ref dispatch.MessageRef) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	return a.bot.Pin(stored(ref), tele.Silent)
}

// Delete removes an earlier delivery from the chat.
func (a *Adapter) Delete(ctx context.Context, ref dispatch.MessageRef) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	return a.bot.Delete(stored(ref))
}

func stored(ref dispatch.MessageRef) tele.StoredMessage {
	return tele.StoredMessage{MessageID: strconv.Itoa(ref.MessageID), ChatID: ref.ChatID}
}

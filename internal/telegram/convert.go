package telegram

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ashureev/roomrelay/internal/bot"
	"github.com/ashureev/roomrelay/internal/domain"
)

// ToEvent converts an update into a bot event. Updates the bot does not act on,
// such as edits or inline callbacks without a message, report false.
func ToEvent(u tgbotapi.Update) (bot.Event, bool) {
	switch {
	case u.CallbackQuery != nil:
		return callbackEvent(u.CallbackQuery)
	case u.Message != nil:
		return messageEvent(u.Message)
	}
	return bot.Event{}, false
}

func callbackEvent(q *tgbotapi.CallbackQuery) (bot.Event, bool) {
	if q.Message == nil || q.Message.Chat == nil {
		return bot.Event{}, false
	}
	ev := bot.Event{
		Kind:         bot.EventCallback,
		ChatID:       q.Message.Chat.ID,
		MessageID:    q.Message.MessageID,
		CallbackID:   q.ID,
		CallbackData: q.Data,
	}
	if q.From != nil {
		ev.UserID = q.From.ID
		ev.Username = q.From.UserName
	}
	return ev, true
}

func messageEvent(m *tgbotapi.Message) (bot.Event, bool) {
	if m.Chat == nil {
		return bot.Event{}, false
	}
	ev := bot.Event{
		ChatID:    m.Chat.ID,
		MessageID: m.MessageID,
	}
	if m.From != nil {
		ev.UserID = m.From.ID
		ev.Username = m.From.UserName
	}

	switch {
	case m.IsCommand():
		ev.Kind = bot.EventCommand
		ev.Command = m.Command()
	case m.ReplyToMessage != nil:
		ev.Kind = bot.EventReply
		ev.ReplyTo = m.ReplyToMessage.MessageID
		ev.Payload = PayloadOf(m)
	default:
		ev.Kind = bot.EventMessage
		ev.Payload = PayloadOf(m)
	}
	return ev, true
}

// PayloadOf classifies a message. GIFs arrive with both a document and an
// animation, so animation is checked first.
func PayloadOf(m *tgbotapi.Message) domain.Payload {
	switch {
	case m.Text != "":
		return domain.TextPayload(m.Text)
	case m.Animation != nil:
		return domain.MediaPayload(domain.KindAnimation, m.Animation.FileID, m.Caption)
	case len(m.Photo) > 0:
		return domain.MediaPayload(domain.KindPhoto, m.Photo[len(m.Photo)-1].FileID, m.Caption)
	case m.Video != nil:
		return domain.MediaPayload(domain.KindVideo, m.Video.FileID, m.Caption)
	case m.Document != nil:
		return domain.MediaPayload(domain.KindDocument, m.Document.FileID, m.Caption)
	case m.Voice != nil:
		return domain.MediaPayload(domain.KindVoice, m.Voice.FileID, m.Caption)
	case m.Sticker != nil:
		return domain.MediaPayload(domain.KindSticker, m.Sticker.FileID, "")
	case m.VideoNote != nil:
		p := domain.MediaPayload(domain.KindVideoNote, m.VideoNote.FileID, "")
		p.Length = m.VideoNote.Length
		return p
	}
	return domain.Payload{Kind: domain.KindUnsupported}
}

// Package telegram adapts the Telegram Bot API to the relay's transport port and
// converts incoming updates into bot events.
package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ashureev/roomrelay/internal/domain"
	"github.com/ashureev/roomrelay/internal/transport"
)

// botAPI is the subset of *tgbotapi.BotAPI the client needs.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Client implements transport.Messenger over the Bot API.
type Client struct {
	api botAPI
}

var _ transport.Messenger = (*Client)(nil)

// NewClient wraps a bot API handle.
func NewClient(api botAPI) *Client {
	return &Client{api: api}
}

// Connect authenticates token against the Bot API.
func Connect(token string) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("connect to telegram: %w", err)
	}
	return api, nil
}

// Send delivers msg and returns the platform message id.
func (c *Client) Send(ctx context.Context, msg transport.Outbound) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	cfg, err := outboundConfig(msg)
	if err != nil {
		return 0, err
	}
	sent, err := c.api.Send(cfg)
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

// EditText replaces the text and inline keyboard of a message.
func (c *Client) EditText(ctx context.Context, chatID int64, messageID int, text string, kb *transport.Keyboard) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cfg := tgbotapi.NewEditMessageText(chatID, messageID, text)
	if kb != nil {
		markup := inlineKeyboard(kb)
		cfg.ReplyMarkup = &markup
	}
	_, err := c.api.Request(cfg)
	return err
}

// AnswerCallback acknowledges a button press without a notification.
func (c *Client) AnswerCallback(ctx context.Context, callbackID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.api.Request(tgbotapi.NewCallback(callbackID, ""))
	return err
}

func outboundConfig(msg transport.Outbound) (tgbotapi.Chattable, error) {
	p := msg.Payload
	parseMode := ""
	if msg.Markdown {
		parseMode = tgbotapi.ModeMarkdown
	}
	file := tgbotapi.FileID(p.FileID)

	switch p.Kind {
	case domain.KindText:
		cfg := tgbotapi.NewMessage(msg.ChatID, p.Text)
		cfg.ParseMode = parseMode
		applyBase(&cfg.BaseChat, msg)
		return cfg, nil
	case domain.KindPhoto:
		cfg := tgbotapi.NewPhoto(msg.ChatID, file)
		cfg.Caption = p.Caption
		cfg.ParseMode = parseMode
		applyBase(&cfg.BaseChat, msg)
		return cfg, nil
	case domain.KindVideo:
		cfg := tgbotapi.NewVideo(msg.ChatID, file)
		cfg.Caption = p.Caption
		cfg.ParseMode = parseMode
		applyBase(&cfg.BaseChat, msg)
		return cfg, nil
	case domain.KindDocument:
		cfg := tgbotapi.NewDocument(msg.ChatID, file)
		cfg.Caption = p.Caption
		cfg.ParseMode = parseMode
		applyBase(&cfg.BaseChat, msg)
		return cfg, nil
	case domain.KindVoice:
		cfg := tgbotapi.NewVoice(msg.ChatID, file)
		cfg.Caption = p.Caption
		cfg.ParseMode = parseMode
		applyBase(&cfg.BaseChat, msg)
		return cfg, nil
	case domain.KindAnimation:
		cfg := tgbotapi.NewAnimation(msg.ChatID, file)
		cfg.Caption = p.Caption
		cfg.ParseMode = parseMode
		applyBase(&cfg.BaseChat, msg)
		return cfg, nil
	case domain.KindSticker:
		cfg := tgbotapi.NewSticker(msg.ChatID, file)
		applyBase(&cfg.BaseChat, msg)
		return cfg, nil
	case domain.KindVideoNote:
		cfg := tgbotapi.NewVideoNote(msg.ChatID, p.Length, file)
		applyBase(&cfg.BaseChat, msg)
		return cfg, nil
	case domain.KindUnsupported:
		return nil, domain.ErrUnsupportedPayload
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedPayload, p.Kind)
}

func applyBase(b *tgbotapi.BaseChat, msg transport.Outbound) {
	b.ReplyToMessageID = msg.ReplyTo
	if msg.Keyboard != nil {
		b.ReplyMarkup = inlineKeyboard(msg.Keyboard)
	}
}

func inlineKeyboard(kb *transport.Keyboard) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(kb.Rows))
	for _, r := range kb.Rows {
		row := make([]tgbotapi.InlineKeyboardButton, 0, len(r))
		for _, b := range r {
			row = append(row, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(row...))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

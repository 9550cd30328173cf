// Package relay forwards user messages into the operator chat and routes operator
// replies back to the conversation each message came from.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashureev/roomrelay/internal/clock"
	"github.com/ashureev/roomrelay/internal/domain"
	"github.com/ashureev/roomrelay/internal/feed"
	"github.com/ashureev/roomrelay/internal/store"
	"github.com/ashureev/roomrelay/internal/transport"
)

const (
	unsupportedMarker      = "[Unsupported message type]"
	unsupportedReplyNotice = "Admin sent a message of unsupported type"
	replyPrefix            = "*Reply from admin:*\n\n"
)

// Default captions for operator media sent without one.
var replyCaptions = map[domain.Kind]string{
	domain.KindVoice:     "Voice message from admin",
	domain.KindDocument:  "Document from admin",
	domain.KindPhoto:     "Photo from admin",
	domain.KindVideo:     "Video from admin",
	domain.KindAnimation: "GIF from admin",
}

// Origin identifies where a user message came from.
type Origin struct {
	ChatID int64
	UserID int64
}

// Router is the relay between user conversations and the operator chat.
type Router struct {
	repo       store.Repository
	messenger  transport.Messenger
	operatorID int64
	clock      clock.Clock
	feed       *feed.Hub
}

// NewRouter creates a router that forwards into operatorChatID.
func NewRouter(repo store.Repository, messenger transport.Messenger, operatorChatID int64, c clock.Clock, hub *feed.Hub) *Router {
	return &Router{
		repo:       repo,
		messenger:  messenger,
		operatorID: operatorChatID,
		clock:      c,
		feed:       hub,
	}
}

// OperatorChatID returns the chat forwards are sent to.
func (r *Router) OperatorChatID() int64 { return r.operatorID }

// ForwardToOperator sends payload with header into the operator chat and records
// where it came from. The mapping is persisted before the relay id is returned.
// When the payload kind cannot carry a caption the header goes out as a separate
// reply to the media, and both ids map to the same origin.
func (r *Router) ForwardToOperator(ctx context.Context, origin Origin, header string, payload domain.Payload) (int, error) {
	relayIDs, err := r.sendForward(ctx, header, payload)
	if err != nil {
		return 0, err
	}

	now := r.clock.Now()
	mappings := make([]*domain.RelayMapping, 0, len(relayIDs))
	for _, id := range relayIDs {
		mappings = append(mappings, &domain.RelayMapping{
			RelayMessageID: id,
			OriginChatID:   origin.ChatID,
			OriginUserID:   origin.UserID,
			CreatedAt:      now,
		})
	}
	if err := r.repo.SaveRelayMappings(ctx, mappings...); err != nil {
		return 0, &domain.StorageError{Op: "save relay mapping", Err: err}
	}

	primary := relayIDs[0]
	slog.Info("Forwarded message to operator",
		"chat_id", origin.ChatID,
		"user_id", origin.UserID,
		"relay_message_id", primary,
		"kind", payload.Kind.String())
	r.feed.Publish(feed.Event{
		Type:           feed.EventForwarded,
		ChatID:         origin.ChatID,
		UserID:         origin.UserID,
		RelayMessageID: primary,
		Kind:           payload.Kind.String(),
	})
	return primary, nil
}

// sendForward performs the platform sends for one forward. The first returned id
// is the primary message; a second id is the split header.
func (r *Router) sendForward(ctx context.Context, header string, payload domain.Payload) ([]int, error) {
	msg := transport.Outbound{ChatID: r.operatorID, Markdown: true}
	split := false

	switch payload.Kind {
	case domain.KindText:
		msg.Payload = domain.TextPayload(header + EscapeMarkdown(payload.Text))
	case domain.KindUnsupported:
		msg.Payload = domain.TextPayload(header + EscapeMarkdown(unsupportedMarker))
	case domain.KindVoice, domain.KindDocument, domain.KindPhoto, domain.KindVideo, domain.KindAnimation:
		msg.Payload = domain.MediaPayload(payload.Kind, payload.FileID, header+EscapeMarkdown(payload.Caption))
	case domain.KindSticker, domain.KindVideoNote:
		media := payload
		media.Caption = ""
		msg.Payload = media
		msg.Markdown = false
		split = true
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedPayload, payload.Kind)
	}

	primary, err := r.messenger.Send(ctx, msg)
	if err != nil {
		return nil, &domain.DeliveryError{ChatID: r.operatorID, Err: err}
	}
	if !split {
		return []int{primary}, nil
	}

	headerID, err := r.messenger.Send(ctx, transport.Outbound{
		ChatID:   r.operatorID,
		Payload:  domain.TextPayload(strings.TrimRight(header, "\n")),
		Markdown: true,
		ReplyTo:  primary,
	})
	if err != nil {
		// The media already arrived; keep it routable even without its header.
		slog.Warn("Failed to send split header", "relay_message_id", primary, "error", err)
		return []int{primary}, nil
	}
	return []int{primary, headerID}, nil
}

// RelayReplyToOrigin sends an operator reply to the conversation that produced
// repliedTo. It returns domain.ErrUnknownOrigin when no mapping exists and a
// *domain.DeliveryError when the platform rejects the send.
func (r *Router) RelayReplyToOrigin(ctx context.Context, repliedTo int, payload domain.Payload) error {
	m, err := r.repo.GetRelayMapping(ctx, repliedTo)
	if err != nil {
		return &domain.StorageError{Op: "get relay mapping", Err: err}
	}
	if m == nil {
		slog.Warn("Cannot find original message for reply", "relay_message_id", repliedTo)
		return fmt.Errorf("relay message %d: %w", repliedTo, domain.ErrUnknownOrigin)
	}

	msg := replyMessage(m.OriginChatID, payload)
	if _, err := r.messenger.Send(ctx, msg); err != nil {
		slog.Error("Error sending reply to user", "chat_id", m.OriginChatID, "relay_message_id", repliedTo, "error", err)
		r.feed.Publish(feed.Event{
			Type:           feed.EventReplyFailed,
			ChatID:         m.OriginChatID,
			UserID:         m.OriginUserID,
			RelayMessageID: repliedTo,
			Kind:           payload.Kind.String(),
			Detail:         err.Error(),
		})
		return &domain.DeliveryError{ChatID: m.OriginChatID, Err: err}
	}

	slog.Info("Sent reply to user", "chat_id", m.OriginChatID, "relay_message_id", repliedTo)
	r.feed.Publish(feed.Event{
		Type:           feed.EventReplied,
		ChatID:         m.OriginChatID,
		UserID:         m.OriginUserID,
		RelayMessageID: repliedTo,
		Kind:           payload.Kind.String(),
	})
	return nil
}

func replyMessage(chatID int64, payload domain.Payload) transport.Outbound {
	msg := transport.Outbound{ChatID: chatID}

	switch payload.Kind {
	case domain.KindText:
		msg.Payload = domain.TextPayload(replyPrefix + payload.Text)
		msg.Markdown = true
	case domain.KindVoice, domain.KindDocument, domain.KindPhoto, domain.KindVideo, domain.KindAnimation:
		caption := payload.Caption
		if caption == "" {
			caption = replyCaptions[payload.Kind]
		}
		msg.Payload = domain.MediaPayload(payload.Kind, payload.FileID, caption)
	case domain.KindSticker, domain.KindVideoNote:
		msg.Payload = payload
		msg.Payload.Caption = ""
	case domain.KindUnsupported:
		msg.Payload = domain.TextPayload(unsupportedReplyNotice)
	default:
		msg.Payload = domain.TextPayload(unsupportedReplyNotice)
	}
	return msg
}

// Header renders the operator-facing line identifying a forwarded message.
func Header(displayName, room string) string {
	if room == "" {
		room = "Unknown Room"
	}
	return fmt.Sprintf("*Message from %s* | *Room: %s*\n\n", EscapeMarkdown(displayName), EscapeMarkdown(room))
}

var markdownEscaper = strings.NewReplacer(
	"_", "\\_",
	"*", "\\*",
	"`", "\\`",
	"[", "\\[",
)

// EscapeMarkdown escapes legacy Markdown metacharacters in user-supplied text.
func EscapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

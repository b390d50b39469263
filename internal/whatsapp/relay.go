package whatsapp

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/wagate/gateway-server-go/internal/errors"
	"github.com/wagate/gateway-server-go/internal/model"
	"github.com/wagate/gateway-server-go/internal/notify"
	"github.com/wagate/gateway-server-go/internal/transport"
)

const (
	autoReplyGreeting = "Halo kembali! Ini adalah balasan otomatis dari sistem."

	autoReplyTimeout = 15 * time.Second
)

// SendText relays one outbound text message through the user's READY session.
func (s *Service) SendText(ctx context.Context, userID, accountID, target, body string) (string, error) {
	sess, tr, err := s.readyTransport(userID, accountID)
	if err != nil {
		return "", err
	}

	to := NormalizeAccountID(target)
	if to == "" {
		return "", apperrors.InvalidInput("target", "must contain digits")
	}

	messageID, err := tr.SendText(ctx, to, body)
	if err != nil {
		return "", apperrors.SendFailed(err)
	}

	log.Info().
		Str("accountId", sess.accountID).
		Str("to", to).
		Str("messageId", messageID).
		Msg("text message sent")
	return messageID, nil
}

// SendMedia relays an outbound media reference, classified by file extension
// into the transport's image, video or document send path.
func (s *Service) SendMedia(ctx context.Context, userID, accountID, target, mediaURL, caption string) (string, error) {
	sess, tr, err := s.readyTransport(userID, accountID)
	if err != nil {
		return "", err
	}

	to := NormalizeAccountID(target)
	if to == "" {
		return "", apperrors.InvalidInput("target", "must contain digits")
	}
	if strings.TrimSpace(mediaURL) == "" {
		return "", apperrors.MissingRequired("mediaUrl")
	}

	media := classifyMedia(mediaURL)
	media.Caption = caption

	messageID, err := tr.SendMedia(ctx, to, media)
	if err != nil {
		return "", apperrors.SendFailed(err)
	}

	log.Info().
		Str("accountId", sess.accountID).
		Str("to", to).
		Str("kind", string(media.Kind)).
		Str("messageId", messageID).
		Msg("media message sent")
	return messageID, nil
}

func (s *Service) readyTransport(userID, accountID string) (*Session, transport.Transport, error) {
	accountID = NormalizeAccountID(accountID)
	sess := s.registry.Get(accountID)
	if sess == nil || sess.userID != userID {
		return nil, nil, apperrors.NoActiveSession(accountID)
	}

	sess.mu.Lock()
	state := sess.state
	tr := sess.transport
	sess.mu.Unlock()

	if state != model.SessionStatusReady || tr == nil {
		return nil, nil, apperrors.SessionNotReady(accountID, string(state))
	}
	return sess, tr, nil
}

// classifyMedia maps a reference's file extension onto a transport media
// kind. Unknown extensions fall through to a generic document.
func classifyMedia(ref string) transport.Media {
	name := path.Base(ref)
	if parsed, err := url.Parse(ref); err == nil && parsed.Path != "" {
		name = path.Base(parsed.Path)
	}
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))

	media := transport.Media{URL: ref, FileName: name}
	switch ext {
	case "mp4":
		media.Kind = transport.MediaKindVideo
		media.MimeType = "video/mp4"
	case "mov":
		media.Kind = transport.MediaKindVideo
		media.MimeType = "video/quicktime"
	case "jpg", "jpeg":
		media.Kind = transport.MediaKindImage
		media.MimeType = "image/jpeg"
	case "png":
		media.Kind = transport.MediaKindImage
		media.MimeType = "image/png"
	default:
		media.Kind = transport.MediaKindDocument
		media.MimeType = "application/octet-stream"
	}
	return media
}

// handleInbound processes one inbound message: drop group/broadcast traffic,
// deliver to the account's webhook if one is set, publish the in-process
// notification, then run the keyword auto-responder. Webhook and
// auto-responder failures never propagate back to the transport.
func (s *Service) handleInbound(sess *Session, ev transport.MessageEvent) {
	if ev.IsGroup || ev.IsBroadcast {
		return
	}

	log.Debug().
		Str("accountId", sess.accountID).
		Str("from", ev.Sender).
		Msg("inbound message")

	s.deliverWebhook(sess, ev)

	event := notify.NewEvent(notify.EventNewMessage, notify.MessagePayload{
		AccountID: sess.accountID,
		From:      ev.Sender,
		Message:   ev.Text,
		UserID:    sess.userID,
	})
	if err := s.notifier.Publish(context.Background(), sess.userID, event); err != nil {
		log.Warn().Err(err).Str("accountId", sess.accountID).Msg("failed to publish message event")
	}

	s.autoRespond(sess, ev)
}

// deliverWebhook re-reads the webhook URL from the record on every message,
// since it may have changed since the session connected. Delivery is
// best-effort with a bounded timeout.
func (s *Service) deliverWebhook(sess *Session, ev transport.MessageEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	record, err := s.sessions.FindByAccountID(ctx, sess.accountID)
	cancel()
	if err != nil {
		log.Warn().Err(err).Str("accountId", sess.accountID).Msg("failed to load record for webhook lookup")
		return
	}
	if record == nil || record.WebhookURL == nil || *record.WebhookURL == "" {
		return
	}

	ctx, cancel = context.WithTimeout(context.Background(), s.cfg.WebhookTimeout())
	defer cancel()
	err = s.webhooks.Send(ctx, *record.WebhookURL, WebhookEvent{
		Event:     notify.EventNewMessage,
		AccountID: sess.accountID,
		From:      ev.Sender,
		Message:   ev.Text,
		Payload:   ev.Raw,
		Timestamp: ev.Timestamp,
		UserID:    sess.userID,
	})
	if err != nil {
		log.Warn().Err(err).
			Str("accountId", sess.accountID).
			Str("webhookUrl", *record.WebhookURL).
			Msg("webhook delivery failed")
	}
}

// autoRespond answers two fixed keywords, case-insensitively, with an
// immediate synchronous reply attempt.
func (s *Service) autoRespond(sess *Session, ev transport.MessageEvent) {
	var reply string
	switch strings.ToLower(strings.TrimSpace(ev.Text)) {
	case "halo":
		reply = autoReplyGreeting
	case "!status":
		reply = s.statusReply(sess)
	default:
		return
	}

	sess.mu.Lock()
	tr := sess.transport
	ready := sess.state == model.SessionStatusReady
	sess.mu.Unlock()
	if !ready || tr == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), autoReplyTimeout)
	defer cancel()
	if _, err := tr.SendText(ctx, ev.Sender, reply); err != nil {
		log.Warn().Err(err).
			Str("accountId", sess.accountID).
			Str("to", ev.Sender).
			Msg("auto-reply failed")
		return
	}
	log.Info().
		Str("accountId", sess.accountID).
		Str("to", ev.Sender).
		Msg("auto-reply sent")
}

func (s *Service) statusReply(sess *Session) string {
	name := sess.accountID
	sess.mu.Lock()
	tr := sess.transport
	sess.mu.Unlock()
	if tr != nil {
		if id := tr.Identity(); id != nil && id.PushName != "" {
			name = id.PushName
		}
	}
	return fmt.Sprintf("Status: Connected as %s on %s.", name, sess.accountID)
}

package whatsapp

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wagate/gateway-server-go/internal/config"
	apperrors "github.com/wagate/gateway-server-go/internal/errors"
	"github.com/wagate/gateway-server-go/internal/model"
	"github.com/wagate/gateway-server-go/internal/notify"
)

const pairingCodeRequestTimeout = 30 * time.Second

// RequestArtifact re-publishes the cached pairing artifact for the account,
// or actively requests a fresh one when the caller asks for a numeric code.
// Switching modes mid-flow is allowed; the auth timeout keeps running either
// way. Sessions owned by another user look absent to the caller.
func (s *Service) RequestArtifact(userID, accountID string, mode model.PairingMode) error {
	accountID = NormalizeAccountID(accountID)
	sess := s.registry.Get(accountID)
	if sess == nil || sess.userID != userID {
		return apperrors.NoActiveSession(accountID)
	}

	switch mode {
	case model.PairingModeCode:
		sess.mu.Lock()
		cached := sess.pendingCode
		sess.mu.Unlock()
		if cached != "" {
			s.publishPairingCode(sess, cached)
			return nil
		}
		go s.requestPairingCode(sess)
		return nil

	default:
		sess.mu.Lock()
		cached := sess.pendingQR
		sess.mu.Unlock()
		if cached != "" {
			s.publishQR(sess, cached)
		}
		// No cached QR means the transport has not produced one yet; it
		// arrives through the connection flow on its own.
		return nil
	}
}

// handleQR captures a QR payload emitted by an unauthenticated connect. For
// code-preferring sessions the QR is the trigger to request a numeric code
// instead of being surfaced.
func (s *Service) handleQR(sess *Session, qr string) {
	sess.mu.Lock()
	if !sess.state.Initializing() {
		sess.mu.Unlock()
		return
	}

	if sess.usePairingCode {
		needCode := sess.pendingCode == "" && !sess.codeRequestActive
		sess.mu.Unlock()
		if needCode {
			go s.requestPairingCode(sess)
		}
		return
	}

	sess.pendingQR = qr
	sess.state = model.SessionStatusQRPending
	s.scheduleAuthTimeoutLocked(sess)
	sess.mu.Unlock()

	s.persistStatus(sess.accountID, model.SessionStatusQRPending)
	s.publishQR(sess, qr)
	log.Info().Str("accountId", sess.accountID).Msg("qr code available")
}

// requestPairingCode asks the transport for a numeric code with a short retry
// loop; the transport rejects the request until its socket is up. Giving up
// is silent: the connection flow keeps going and the caller can re-request.
func (s *Service) requestPairingCode(sess *Session) {
	sess.mu.Lock()
	if sess.codeRequestActive || sess.state == model.SessionStatusDestroyed {
		sess.mu.Unlock()
		return
	}
	sess.codeRequestActive = true
	tr := sess.transport
	sess.mu.Unlock()

	defer func() {
		sess.mu.Lock()
		sess.codeRequestActive = false
		sess.mu.Unlock()
	}()

	if tr == nil {
		return
	}

	for attempt := 1; attempt <= config.PairingCodeAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), pairingCodeRequestTimeout)
		code, err := tr.RequestPairingCode(ctx, sess.accountID)
		cancel()

		if err == nil {
			if s.registry.Get(sess.accountID) != sess {
				return
			}
			sess.mu.Lock()
			if sess.state == model.SessionStatusDestroyed || sess.state == model.SessionStatusReady {
				sess.mu.Unlock()
				return
			}
			sess.pendingCode = code
			sess.state = model.SessionStatusPairingPending
			s.scheduleAuthTimeoutLocked(sess)
			sess.mu.Unlock()

			s.persistStatus(sess.accountID, model.SessionStatusPairingPending)
			s.publishPairingCode(sess, code)
			log.Info().
				Str("accountId", sess.accountID).
				Int("attempt", attempt).
				Msg("pairing code obtained")
			return
		}

		log.Warn().Err(err).
			Str("accountId", sess.accountID).
			Int("attempt", attempt).
			Int("maxAttempts", config.PairingCodeAttempts).
			Msg("pairing code request failed")
		if attempt < config.PairingCodeAttempts {
			time.Sleep(config.PairingCodeRetryWait)
		}
	}

	log.Warn().Str("accountId", sess.accountID).Msg("giving up on pairing code requests")
}

// scheduleAuthTimeoutLocked (re)arms the single pending-auth timeout. Callers
// must hold sess.mu. Re-requesting an artifact resets the clock.
func (s *Service) scheduleAuthTimeoutLocked(sess *Session) {
	if sess.authTimer != nil {
		sess.authTimer.Stop()
	}
	sess.authTimer = time.AfterFunc(s.cfg.QRTimeout(), func() {
		s.authTimeout(sess)
	})
}

// authTimeout fires when a pairing artifact expires without the session
// reaching READY. A stale timer on a replaced session is a no-op.
func (s *Service) authTimeout(sess *Session) {
	if s.registry.Get(sess.accountID) != sess {
		return
	}
	sess.mu.Lock()
	state := sess.state
	sess.mu.Unlock()
	if state == model.SessionStatusReady || state == model.SessionStatusDestroyed {
		return
	}

	log.Warn().
		Str("accountId", sess.accountID).
		Str("state", string(state)).
		Msg("pairing artifact expired without authentication")
	s.destroySession(sess, model.DestroyReasonAuthTimeout)
}

func (s *Service) publishQR(sess *Session, qr string) {
	event := notify.NewEvent(notify.EventQRCode, notify.QRPayload{
		AccountID: sess.accountID,
		QR:        qr,
		UserID:    sess.userID,
	})
	if err := s.notifier.Publish(context.Background(), sess.userID, event); err != nil {
		log.Warn().Err(err).Str("accountId", sess.accountID).Msg("failed to publish qr event")
	}
}

func (s *Service) publishPairingCode(sess *Session, code string) {
	event := notify.NewEvent(notify.EventPairingCode, notify.PairingCodePayload{
		AccountID: sess.accountID,
		Code:      code,
		UserID:    sess.userID,
	})
	if err := s.notifier.Publish(context.Background(), sess.userID, event); err != nil {
		log.Warn().Err(err).Str("accountId", sess.accountID).Msg("failed to publish pairing code event")
	}
}

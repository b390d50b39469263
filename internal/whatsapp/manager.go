package whatsapp

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wagate/gateway-server-go/internal/config"
	"github.com/wagate/gateway-server-go/internal/credstore"
	apperrors "github.com/wagate/gateway-server-go/internal/errors"
	"github.com/wagate/gateway-server-go/internal/model"
	"github.com/wagate/gateway-server-go/internal/notify"
	"github.com/wagate/gateway-server-go/internal/repository"
	"github.com/wagate/gateway-server-go/internal/token"
	"github.com/wagate/gateway-server-go/internal/transport"
)

var nonDigits = regexp.MustCompile(`\D`)

// NormalizeAccountID strips everything but digits from a phone-number-style
// identifier.
func NormalizeAccountID(raw string) string {
	return nonDigits.ReplaceAllString(raw, "")
}

const persistTimeout = 5 * time.Second

// Notifier is the event fan-out the core publishes through. Satisfied by
// notify.Broker.
type Notifier interface {
	Publish(ctx context.Context, userID string, event notify.Event) error
}

// Service is the gateway core. It owns the registry and drives every session
// through its lifecycle: create, pair, supervise reconnects, relay messages
// and tear down.
type Service struct {
	cfg      *config.Config
	registry *Registry
	users    repository.UserRepository
	sessions repository.WaSessionRepository
	tokens   *token.Manager
	creds    *credstore.Store
	factory  transport.Factory
	notifier Notifier
	webhooks WebhookSender

	closed atomic.Bool
}

func NewService(
	cfg *config.Config,
	users repository.UserRepository,
	sessions repository.WaSessionRepository,
	tokens *token.Manager,
	creds *credstore.Store,
	factory transport.Factory,
	notifier Notifier,
	webhooks WebhookSender,
) *Service {
	return &Service{
		cfg:      cfg,
		registry: NewRegistry(),
		users:    users,
		sessions: sessions,
		tokens:   tokens,
		creds:    creds,
		factory:  factory,
		notifier: notifier,
		webhooks: webhooks,
	}
}

// CreateResult is the caller-visible outcome of a create call. AlreadyActive
// marks the idempotent path where a live session absorbed the request.
type CreateResult struct {
	AccountID     string              `json:"accountId"`
	Status        model.SessionStatus `json:"status"`
	SessionToken  string              `json:"sessionToken"`
	AlreadyActive bool                `json:"alreadyActive,omitempty"`
}

// Create attaches an account for the user and launches the connection
// attempt. It returns as soon as the attempt is launched; progress arrives
// through the notifier. A second call for an account that is already live
// returns the existing token without touching the connection.
func (s *Service) Create(ctx context.Context, userID, rawAccountID string, usePairingCode bool) (*CreateResult, error) {
	accountID := NormalizeAccountID(rawAccountID)
	if accountID == "" {
		return nil, apperrors.InvalidInput("accountId", "must contain digits")
	}

	if existing := s.registry.Get(accountID); existing != nil {
		return s.absorbExisting(existing, userID)
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if user == nil {
		return nil, apperrors.UserNotFound(userID)
	}

	record, err := s.sessions.FindByAccountID(ctx, accountID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if record != nil && record.UserID != userID {
		return nil, apperrors.New(apperrors.ErrCodeConflict, "Account is already attached by another user")
	}

	createdRecord := false
	if record == nil {
		count, err := s.sessions.CountByUserID(ctx, userID)
		if err != nil {
			return nil, apperrors.Database(err)
		}
		if count >= s.cfg.MaxSessionsPerUser {
			return nil, apperrors.QuotaExceeded(s.cfg.MaxSessionsPerUser)
		}

		sessionToken, err := s.tokens.NewSessionToken(userID, accountID)
		if err != nil {
			return nil, apperrors.Internal("failed to mint session token").WithCause(err)
		}

		record, err = s.sessions.Create(ctx, model.CreateWaSessionParams{
			AccountID:      accountID,
			UserID:         userID,
			SessionToken:   sessionToken,
			Status:         model.SessionStatusConnecting,
			UsePairingCode: usePairingCode,
		})
		switch {
		case err == nil:
			createdRecord = true
		case repository.IsUniqueViolation(err):
			// Lost an insert race for the same account. Adopt the winner's
			// record; the registry below settles who owns the live session.
			record, err = s.sessions.FindByAccountID(ctx, accountID)
			if err != nil {
				return nil, apperrors.Database(err)
			}
			if record == nil {
				return nil, apperrors.Internal("session create raced a concurrent teardown")
			}
			if record.UserID != userID {
				return nil, apperrors.New(apperrors.ErrCodeConflict, "Account is already attached by another user")
			}
			usePairingCode = record.UsePairingCode
		default:
			return nil, apperrors.Database(err)
		}
	} else {
		// The pairing preference is fixed for the life of the record.
		usePairingCode = record.UsePairingCode
	}

	sess := newSession(accountID, userID, record.SessionToken, usePairingCode)
	actual, inserted := s.registry.PutIfAbsent(sess)
	if !inserted {
		return s.absorbExisting(actual, userID)
	}

	if err := s.startTransport(sess); err != nil {
		s.registry.Remove(accountID, sess)
		if createdRecord {
			s.rollbackRecord(userID, accountID)
		}
		return nil, apperrors.TransportInit(err)
	}

	s.persistStatus(accountID, model.SessionStatusConnecting)
	log.Info().
		Str("accountId", accountID).
		Str("userId", userID).
		Bool("usePairingCode", usePairingCode).
		Msg("session created, connection launched")

	return &CreateResult{
		AccountID:    accountID,
		Status:       model.SessionStatusConnecting,
		SessionToken: record.SessionToken,
	}, nil
}

func (s *Service) absorbExisting(sess *Session, userID string) (*CreateResult, error) {
	if sess.userID != userID {
		return nil, apperrors.New(apperrors.ErrCodeConflict, "Account is already attached by another user")
	}
	state, _, sessionToken := sess.snapshot()
	return &CreateResult{
		AccountID:     sess.accountID,
		Status:        state,
		SessionToken:  sessionToken,
		AlreadyActive: true,
	}, nil
}

func (s *Service) rollbackRecord(userID, accountID string) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if _, err := s.sessions.DeleteByUserAndAccount(ctx, userID, accountID); err != nil {
		log.Error().Err(err).Str("accountId", accountID).Msg("failed to roll back session record")
	}
	if err := s.creds.Remove(accountID); err != nil {
		log.Error().Err(err).Str("accountId", accountID).Msg("failed to roll back credential directory")
	}
}

// startTransport builds a fresh transport for the session and launches the
// connect in the background. Synchronous errors here are construction
// failures (credential store, protocol library); network failures surface
// later through the state callback.
func (s *Service) startTransport(sess *Session) error {
	tr, err := s.factory.New(sess.accountID, transport.Events{
		ConnectionState: func(ev transport.StateEvent) { s.handleConnectionState(sess, ev) },
		Message:         func(ev transport.MessageEvent) { s.handleInbound(sess, ev) },
		CredentialsChanged: func() {
			log.Debug().Str("accountId", sess.accountID).Msg("credentials updated on disk")
		},
	})
	if err != nil {
		return err
	}

	sess.mu.Lock()
	sess.transport = tr
	sess.mu.Unlock()

	go func() {
		if err := tr.Connect(context.Background()); err != nil {
			log.Warn().Err(err).Str("accountId", sess.accountID).Msg("transport connect failed")
			s.handleConnectionState(sess, transport.StateEvent{
				State:  transport.ConnStateClosed,
				Reason: transport.RecoverableDisconnect("CONNECT_FAILED", err),
			})
		}
	}()
	return nil
}

func (s *Service) handleConnectionState(sess *Session, ev transport.StateEvent) {
	if s.registry.Get(sess.accountID) != sess {
		return
	}

	switch ev.State {
	case transport.ConnStateOpen:
		s.handleOpen(sess)
	case transport.ConnStateConnecting:
		if ev.QR != "" {
			s.handleQR(sess, ev.QR)
		}
	case transport.ConnStateClosed:
		s.handleDisconnect(sess, ev.Reason)
	}
}

func (s *Service) handleOpen(sess *Session) {
	sess.mu.Lock()
	if sess.state == model.SessionStatusDestroyed {
		sess.mu.Unlock()
		return
	}
	sess.state = model.SessionStatusReady
	sess.reconnectAttempts = 0
	sess.pendingQR = ""
	sess.pendingCode = ""
	sess.stopTimersLocked()
	tr := sess.transport
	sess.mu.Unlock()

	var info *notify.IdentityInfo
	if tr != nil {
		if id := tr.Identity(); id != nil {
			info = &notify.IdentityInfo{PushName: id.PushName, Number: id.Number}
		}
	}

	s.persistStatus(sess.accountID, model.SessionStatusReady)
	s.publishStatus(sess, model.SessionStatusReady, "", info)
	log.Info().Str("accountId", sess.accountID).Msg("session ready")
}

func (s *Service) handleDisconnect(sess *Session, reason transport.DisconnectReason) {
	if s.closed.Load() {
		return
	}

	if !reason.Recoverable() {
		log.Warn().
			Str("accountId", sess.accountID).
			Str("reason", reason.Code).
			Err(reason.Err).
			Msg("unrecoverable disconnect, destroying session")
		s.publishStatus(sess, model.SessionStatusAuthFailed, reason.Code, nil)
		s.destroySession(sess, model.DestroyReasonAuthFailure)
		return
	}

	sess.mu.Lock()
	if sess.state == model.SessionStatusDestroyed {
		sess.mu.Unlock()
		return
	}
	if sess.reconnectAttempts >= s.cfg.MaxReconnectAttempts {
		attempts := sess.reconnectAttempts
		sess.mu.Unlock()
		log.Warn().
			Str("accountId", sess.accountID).
			Int("attempts", attempts).
			Msg("reconnect budget exhausted, destroying session")
		s.destroySession(sess, model.DestroyReasonMaxReconnects)
		return
	}
	sess.reconnectAttempts++
	attempt := sess.reconnectAttempts
	sess.state = model.SessionStatusDisconnected
	if sess.reconnectTimer != nil {
		sess.reconnectTimer.Stop()
	}
	sess.reconnectTimer = time.AfterFunc(s.cfg.ReconnectDelay(), func() {
		s.reconnect(sess)
	})
	sess.mu.Unlock()

	s.persistStatus(sess.accountID, model.SessionStatusDisconnected)
	s.publishStatus(sess, model.SessionStatusDisconnected, reason.Code, nil)
	log.Info().
		Str("accountId", sess.accountID).
		Str("reason", reason.Code).
		Int("attempt", attempt).
		Int("maxAttempts", s.cfg.MaxReconnectAttempts).
		Dur("delay", s.cfg.ReconnectDelay()).
		Msg("scheduling reconnect")
}

// reconnect is the timer callback for a transient drop. The registry identity
// check makes a stale timer on a destroyed-and-recreated account a no-op.
func (s *Service) reconnect(sess *Session) {
	if s.closed.Load() || s.registry.Get(sess.accountID) != sess {
		return
	}

	sess.mu.Lock()
	if sess.state != model.SessionStatusDisconnected {
		sess.mu.Unlock()
		return
	}
	sess.state = model.SessionStatusConnecting
	old := sess.transport
	sess.transport = nil
	sess.mu.Unlock()

	if old != nil {
		old.Disconnect()
	}

	if err := s.startTransport(sess); err != nil {
		log.Error().Err(err).Str("accountId", sess.accountID).Msg("transport rebuild failed")
		s.handleDisconnect(sess, transport.RecoverableDisconnect("REBUILD_FAILED", err))
		return
	}

	s.persistStatus(sess.accountID, model.SessionStatusConnecting)
	s.publishStatus(sess, model.SessionStatusConnecting, "", nil)
}

// Destroy tears the session down on behalf of its owner. The ownership scope
// means a caller can never delete another user's record through an account ID
// they do not own.
func (s *Service) Destroy(ctx context.Context, userID, accountID string) error {
	accountID = NormalizeAccountID(accountID)

	record, err := s.sessions.FindByUserAndAccount(ctx, userID, accountID)
	if err != nil {
		return apperrors.Database(err)
	}
	sess := s.registry.Get(accountID)
	if sess != nil && sess.userID != userID {
		sess = nil
	}
	if record == nil && sess == nil {
		return apperrors.SessionNotFound(accountID)
	}

	s.teardown(userID, accountID, sess, model.DestroyReasonUserRequest)
	return nil
}

// destroySession is the internal teardown path for background supervision
// (auth failures, exhausted budgets, timeouts).
func (s *Service) destroySession(sess *Session, reason model.DestroyReason) {
	s.teardown(sess.userID, sess.accountID, sess, reason)
}

// teardown performs every cleanup step best-effort: close transport, cancel
// timers, vacate the registry slot, wipe credentials, delete the record.
// Failures are logged and never stop the remaining steps. The terminal status
// event is published unconditionally.
func (s *Service) teardown(userID, accountID string, sess *Session, reason model.DestroyReason) {
	if sess != nil {
		sess.mu.Lock()
		alreadyDestroyed := sess.state == model.SessionStatusDestroyed
		sess.state = model.SessionStatusDestroyed
		sess.stopTimersLocked()
		tr := sess.transport
		sess.transport = nil
		sess.mu.Unlock()

		if alreadyDestroyed {
			return
		}
		s.registry.Remove(accountID, sess)

		if tr != nil {
			if reason == model.DestroyReasonUserRequest {
				ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
				if err := tr.Logout(ctx); err != nil {
					log.Warn().Err(err).Str("accountId", accountID).Msg("transport logout failed")
				}
				cancel()
			}
			tr.Disconnect()
		}
	}

	if err := s.creds.Remove(accountID); err != nil {
		log.Error().Err(err).Str("accountId", accountID).Msg("failed to remove credential directory")
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if _, err := s.sessions.DeleteByUserAndAccount(ctx, userID, accountID); err != nil {
		log.Error().Err(err).Str("accountId", accountID).Msg("failed to delete session record")
	}

	s.publishTerminal(userID, accountID, reason)
	log.Info().
		Str("accountId", accountID).
		Str("userId", userID).
		Str("reason", string(reason)).
		Msg("session destroyed")
}

// RestoreAll recreates a live session for every persisted record whose
// credential material survives on disk. Records without credentials are
// skipped and left for the orphan sweep. Accounts restore in parallel and
// one failure never blocks the rest.
func (s *Service) RestoreAll(ctx context.Context) int {
	records, err := s.sessions.FindAll(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to load session records for restore")
		return 0
	}

	var restored atomic.Int32
	var wg sync.WaitGroup
	for _, record := range records {
		record := record
		if s.registry.Get(record.AccountID) != nil {
			continue
		}
		if !s.creds.Exists(record.AccountID) {
			log.Warn().
				Str("accountId", record.AccountID).
				Str("userId", record.UserID).
				Msg("no credential material on disk, skipping restore")
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Create(ctx, record.UserID, record.AccountID, record.UsePairingCode)
			if err != nil {
				log.Error().Err(err).Str("accountId", record.AccountID).Msg("restore failed")
				s.teardown(record.UserID, record.AccountID, s.registry.Get(record.AccountID), model.DestroyReasonRestoreFailed)
				return
			}
			restored.Add(1)
		}()
	}
	wg.Wait()

	count := int(restored.Load())
	log.Info().Int("restored", count).Int("records", len(records)).Msg("session restore complete")
	return count
}

// SessionStatus is one entry of a user's status listing. Live in-memory state
// wins; the persisted status covers the window before restore or after an
// unclean shutdown.
type SessionStatus struct {
	AccountID      string               `json:"accountId"`
	Status         model.SessionStatus  `json:"status"`
	QR             string               `json:"qr,omitempty"`
	Info           *notify.IdentityInfo `json:"info,omitempty"`
	SessionToken   string               `json:"sessionToken"`
	WebhookURL     *string              `json:"webhookUrl,omitempty"`
	UsePairingCode bool                 `json:"usePairingCode"`
}

// StatusForUser never fails for an unknown user; it returns an empty list.
func (s *Service) StatusForUser(ctx context.Context, userID string) ([]SessionStatus, error) {
	records, err := s.sessions.FindAllByUserID(ctx, userID)
	if err != nil {
		return nil, apperrors.Database(err)
	}

	statuses := make([]SessionStatus, 0, len(records))
	for _, record := range records {
		entry := SessionStatus{
			AccountID:      record.AccountID,
			Status:         record.Status,
			SessionToken:   record.SessionToken,
			WebhookURL:     record.WebhookURL,
			UsePairingCode: record.UsePairingCode,
		}

		if sess := s.registry.Get(record.AccountID); sess != nil && sess.userID == userID {
			sess.mu.Lock()
			entry.Status = sess.state
			entry.QR = sess.pendingQR
			tr := sess.transport
			ready := sess.state == model.SessionStatusReady
			sess.mu.Unlock()

			if ready && tr != nil {
				if id := tr.Identity(); id != nil {
					entry.Info = &notify.IdentityInfo{PushName: id.PushName, Number: id.Number}
				}
			}
		}
		statuses = append(statuses, entry)
	}
	return statuses, nil
}

// SetWebhookURL updates (or clears, with nil) the webhook for one of the
// user's sessions.
func (s *Service) SetWebhookURL(ctx context.Context, userID, accountID string, url *string) error {
	accountID = NormalizeAccountID(accountID)
	if url != nil {
		trimmed := strings.TrimSpace(*url)
		if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
			return apperrors.InvalidWebhookURL()
		}
		url = &trimmed
	}

	updated, err := s.sessions.SetWebhookURL(ctx, userID, accountID, url)
	if err != nil {
		return apperrors.Database(err)
	}
	if !updated {
		return apperrors.SessionNotFound(accountID)
	}
	return nil
}

// VerifySendAccess re-verifies capability token claims against the persisted
// record, so a token never outlives the session it was minted for.
func (s *Service) VerifySendAccess(ctx context.Context, userID, accountID string) error {
	record, err := s.sessions.FindByUserAndAccount(ctx, userID, accountID)
	if err != nil {
		return apperrors.Database(err)
	}
	if record == nil {
		return apperrors.InvalidSessionToken()
	}
	return nil
}

// Live reports whether the account has an in-memory session in this process.
func (s *Service) Live(accountID string) bool {
	return s.registry.Get(NormalizeAccountID(accountID)) != nil
}

// NotifyOrphaned publishes the terminal event for a record the orphan sweep
// removed. The sweep deletes the row itself; only the event goes through the
// core so observers see the same shape as any other teardown.
func (s *Service) NotifyOrphaned(userID, accountID string) {
	s.publishTerminal(userID, accountID, model.DestroyReasonOrphaned)
}

// Close disconnects every live session without deleting records or
// credentials, so the next process start can restore them.
func (s *Service) Close() {
	s.closed.Store(true)

	for _, sess := range s.registry.All() {
		sess.mu.Lock()
		sess.stopTimersLocked()
		sess.state = model.SessionStatusDisconnected
		tr := sess.transport
		sess.transport = nil
		sess.mu.Unlock()

		if tr != nil {
			tr.Disconnect()
		}
		s.registry.Remove(sess.accountID, sess)
		s.persistStatus(sess.accountID, model.SessionStatusDisconnected)
		s.publishStatus(sess, model.SessionStatusDisconnected, string(model.DestroyReasonShutdown), nil)
	}
	log.Info().Msg("gateway core closed")
}

// persistStatus mirrors an in-memory transition into the record without
// blocking it. Failures leave a stale status column, which the next
// transition or restore overwrites.
func (s *Service) persistStatus(accountID string, status model.SessionStatus) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := s.sessions.UpdateStatus(ctx, accountID, status); err != nil {
			log.Warn().Err(err).
				Str("accountId", accountID).
				Str("status", string(status)).
				Msg("failed to persist session status")
		}
	}()
}

func (s *Service) publishStatus(sess *Session, status model.SessionStatus, reason string, info *notify.IdentityInfo) {
	event := notify.NewEvent(notify.EventClientStatus, notify.StatusPayload{
		AccountID: sess.accountID,
		Status:    string(status),
		UserID:    sess.userID,
		Reason:    reason,
		Info:      info,
	})
	if err := s.notifier.Publish(context.Background(), sess.userID, event); err != nil {
		log.Warn().Err(err).Str("accountId", sess.accountID).Msg("failed to publish status event")
	}
}

func (s *Service) publishTerminal(userID, accountID string, reason model.DestroyReason) {
	event := notify.NewEvent(notify.EventClientStatus, notify.StatusPayload{
		AccountID: accountID,
		Status:    string(model.SessionStatusDestroyed),
		UserID:    userID,
		Reason:    string(reason),
	})
	if err := s.notifier.Publish(context.Background(), userID, event); err != nil {
		log.Warn().Err(err).Str("accountId", accountID).Msg("failed to publish terminal status event")
	}
}

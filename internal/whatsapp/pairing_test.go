package whatsapp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/wagate/gateway-server-go/internal/errors"
	"github.com/wagate/gateway-server-go/internal/model"
	"github.com/wagate/gateway-server-go/internal/notify"
)

func TestService_QRFlow(t *testing.T) {
	ctx := context.Background()

	t.Run("captures and publishes the QR payload", func(t *testing.T) {
		h := newHarness(t)
		h.expectNewSession(testUserID, testAccountID, false)
		_, err := h.svc.Create(ctx, testUserID, testAccountID, false)
		require.NoError(t, err)

		h.factory.last().fireQR("qr-payload-1")

		sess := h.svc.registry.Get(testAccountID)
		require.NotNil(t, sess)
		sess.mu.Lock()
		state, qr, timer := sess.state, sess.pendingQR, sess.authTimer
		sess.mu.Unlock()
		assert.Equal(t, model.SessionStatusQRPending, state)
		assert.Equal(t, "qr-payload-1", qr)
		assert.NotNil(t, timer)

		events := h.notifier.ofType(notify.EventQRCode)
		require.Len(t, events, 1)
		payload := decodePayload[notify.QRPayload](t, events[0].event)
		assert.Equal(t, "qr-payload-1", payload.QR)
		assert.Equal(t, testUserID, payload.UserID)
	})

	t.Run("re-request republishes the cached payload", func(t *testing.T) {
		h := newHarness(t)
		h.expectNewSession(testUserID, testAccountID, false)
		_, err := h.svc.Create(ctx, testUserID, testAccountID, false)
		require.NoError(t, err)
		h.factory.last().fireQR("qr-payload-1")

		require.NoError(t, h.svc.RequestArtifact(testUserID, testAccountID, model.PairingModeQR))

		events := h.notifier.ofType(notify.EventQRCode)
		assert.Len(t, events, 2)
	})

	t.Run("reaching ready clears the artifact and its timeout", func(t *testing.T) {
		h := newHarness(t)
		h.expectNewSession(testUserID, testAccountID, false)
		_, err := h.svc.Create(ctx, testUserID, testAccountID, false)
		require.NoError(t, err)
		tr := h.factory.last()
		tr.fireQR("qr-payload-1")

		tr.fireOpen()

		sess := h.svc.registry.Get(testAccountID)
		sess.mu.Lock()
		qr, timer := sess.pendingQR, sess.authTimer
		sess.mu.Unlock()
		assert.Empty(t, qr)
		assert.Nil(t, timer)
	})

	t.Run("expired artifact destroys the session", func(t *testing.T) {
		h := newHarness(t)
		h.expectNewSession(testUserID, testAccountID, false)
		_, err := h.svc.Create(ctx, testUserID, testAccountID, false)
		require.NoError(t, err)
		h.factory.last().fireQR("qr-payload-1")
		h.sessions.On("DeleteByUserAndAccount", mock.Anything, testUserID, testAccountID).Return(true, nil).Once()

		sess := h.svc.registry.Get(testAccountID)
		h.svc.authTimeout(sess)

		assert.Nil(t, h.svc.registry.Get(testAccountID))
		terminal := h.notifier.ofType(notify.EventClientStatus)
		require.NotEmpty(t, terminal)
		payload := decodePayload[notify.StatusPayload](t, terminal[len(terminal)-1].event)
		assert.Equal(t, string(model.DestroyReasonAuthTimeout), payload.Reason)
	})

	t.Run("stale timeout after ready is a no-op", func(t *testing.T) {
		h := newHarness(t)
		tr := h.startReady(t, testUserID, testAccountID)
		_ = tr

		sess := h.svc.registry.Get(testAccountID)
		h.svc.authTimeout(sess)

		assert.NotNil(t, h.svc.registry.Get(testAccountID))
	})
}

func TestService_PairingCodeFlow(t *testing.T) {
	ctx := context.Background()

	t.Run("no active session", func(t *testing.T) {
		h := newHarness(t)

		err := h.svc.RequestArtifact(testUserID, testAccountID, model.PairingModeCode)

		assert.Equal(t, apperrors.ErrCodeNoActiveSession, apperrors.GetCode(err))
	})

	t.Run("another user's session looks absent", func(t *testing.T) {
		h := newHarness(t)
		h.expectNewSession(testUserID, testAccountID, false)
		_, err := h.svc.Create(ctx, testUserID, testAccountID, false)
		require.NoError(t, err)

		err = h.svc.RequestArtifact("user-intruder", testAccountID, model.PairingModeCode)

		assert.Equal(t, apperrors.ErrCodeNoActiveSession, apperrors.GetCode(err))
	})

	t.Run("code-preferring session requests a code off the QR trigger", func(t *testing.T) {
		h := newHarness(t)
		h.expectNewSession(testUserID, testAccountID, true)
		_, err := h.svc.Create(ctx, testUserID, testAccountID, true)
		require.NoError(t, err)
		tr := h.factory.last()
		tr.mu.Lock()
		tr.pairingCode = "ABCD1234"
		tr.mu.Unlock()

		tr.fireQR("qr-payload-ignored")

		sess := h.svc.registry.Get(testAccountID)
		require.Eventually(t, func() bool {
			sess.mu.Lock()
			defer sess.mu.Unlock()
			return sess.state == model.SessionStatusPairingPending && sess.pendingCode == "ABCD1234"
		}, 2*time.Second, 10*time.Millisecond)

		events := h.notifier.ofType(notify.EventPairingCode)
		require.Len(t, events, 1)
		payload := decodePayload[notify.PairingCodePayload](t, events[0].event)
		assert.Equal(t, "ABCD1234", payload.Code)

		// the QR payload for a code-preferring session is never surfaced
		assert.Empty(t, h.notifier.ofType(notify.EventQRCode))
	})

	t.Run("retries transient failures before succeeding", func(t *testing.T) {
		h := newHarness(t)
		h.expectNewSession(testUserID, testAccountID, true)
		_, err := h.svc.Create(ctx, testUserID, testAccountID, true)
		require.NoError(t, err)
		tr := h.factory.last()
		tr.mu.Lock()
		tr.pairingCode = "ABCD1234"
		tr.pairingErrs = []error{assert.AnError, assert.AnError}
		tr.mu.Unlock()

		require.NoError(t, h.svc.RequestArtifact(testUserID, testAccountID, model.PairingModeCode))

		sess := h.svc.registry.Get(testAccountID)
		require.Eventually(t, func() bool {
			sess.mu.Lock()
			defer sess.mu.Unlock()
			return sess.pendingCode == "ABCD1234"
		}, 5*time.Second, 20*time.Millisecond)
	})

	t.Run("re-request republishes the cached code", func(t *testing.T) {
		h := newHarness(t)
		h.expectNewSession(testUserID, testAccountID, true)
		_, err := h.svc.Create(ctx, testUserID, testAccountID, true)
		require.NoError(t, err)
		tr := h.factory.last()
		tr.mu.Lock()
		tr.pairingCode = "ABCD1234"
		tr.mu.Unlock()

		require.NoError(t, h.svc.RequestArtifact(testUserID, testAccountID, model.PairingModeCode))
		sess := h.svc.registry.Get(testAccountID)
		require.Eventually(t, func() bool {
			sess.mu.Lock()
			defer sess.mu.Unlock()
			return sess.pendingCode != ""
		}, 2*time.Second, 10*time.Millisecond)

		require.NoError(t, h.svc.RequestArtifact(testUserID, testAccountID, model.PairingModeCode))

		assert.Len(t, h.notifier.ofType(notify.EventPairingCode), 2)
	})

	t.Run("mode switch from QR to code mid-flow", func(t *testing.T) {
		h := newHarness(t)
		h.expectNewSession(testUserID, testAccountID, false)
		_, err := h.svc.Create(ctx, testUserID, testAccountID, false)
		require.NoError(t, err)
		tr := h.factory.last()
		tr.fireQR("qr-payload-1")
		tr.mu.Lock()
		tr.pairingCode = "ABCD1234"
		tr.mu.Unlock()

		require.NoError(t, h.svc.RequestArtifact(testUserID, testAccountID, model.PairingModeCode))

		sess := h.svc.registry.Get(testAccountID)
		require.Eventually(t, func() bool {
			sess.mu.Lock()
			defer sess.mu.Unlock()
			return sess.state == model.SessionStatusPairingPending
		}, 2*time.Second, 10*time.Millisecond)
	})
}

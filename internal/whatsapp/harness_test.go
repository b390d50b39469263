package whatsapp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/wagate/gateway-server-go/internal/config"
	"github.com/wagate/gateway-server-go/internal/credstore"
	"github.com/wagate/gateway-server-go/internal/model"
	"github.com/wagate/gateway-server-go/internal/notify"
	"github.com/wagate/gateway-server-go/internal/token"
	"github.com/wagate/gateway-server-go/internal/transport"
)

// Mock user repository

type mockUserRepo struct {
	mock.Mock
}

func (m *mockUserRepo) Create(ctx context.Context, params model.CreateUserParams) (*model.User, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

func (m *mockUserRepo) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

// Mock session repository

type mockSessionRepo struct {
	mock.Mock
}

func (m *mockSessionRepo) Create(ctx context.Context, params model.CreateWaSessionParams) (*model.WaSession, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.WaSession), args.Error(1)
}

func (m *mockSessionRepo) FindByAccountID(ctx context.Context, accountID string) (*model.WaSession, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.WaSession), args.Error(1)
}

func (m *mockSessionRepo) FindByUserAndAccount(ctx context.Context, userID, accountID string) (*model.WaSession, error) {
	args := m.Called(ctx, userID, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.WaSession), args.Error(1)
}

func (m *mockSessionRepo) FindAllByUserID(ctx context.Context, userID string) ([]model.WaSession, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.WaSession), args.Error(1)
}

func (m *mockSessionRepo) FindAll(ctx context.Context) ([]model.WaSession, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.WaSession), args.Error(1)
}

func (m *mockSessionRepo) CountByUserID(ctx context.Context, userID string) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

func (m *mockSessionRepo) UpdateStatus(ctx context.Context, accountID string, status model.SessionStatus) error {
	args := m.Called(ctx, accountID, status)
	return args.Error(0)
}

func (m *mockSessionRepo) SetWebhookURL(ctx context.Context, userID, accountID string, url *string) (bool, error) {
	args := m.Called(ctx, userID, accountID, url)
	return args.Bool(0), args.Error(1)
}

func (m *mockSessionRepo) DeleteByUserAndAccount(ctx context.Context, userID, accountID string) (bool, error) {
	args := m.Called(ctx, userID, accountID)
	return args.Bool(0), args.Error(1)
}

// Scripted transport stub. Every factory call produces a fresh stub, so the
// number of stubs equals the number of connection attempts.

type stubTransport struct {
	accountID string
	events    transport.Events

	mu          sync.Mutex
	connects    int
	registered  bool
	pairingCode string
	pairingErrs []error
	sendID      string
	sendErr     error
	sent        []sentMessage
	sentMedia   []transport.Media
	identity    *transport.Identity
	disconnects int
	logouts     int
}

type sentMessage struct {
	to   string
	body string
}

func (t *stubTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connects++
	return nil
}

func (t *stubTransport) Disconnect() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disconnects++
}

func (t *stubTransport) Logout(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.logouts++
	return nil
}

func (t *stubTransport) IsRegistered() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.registered
}

func (t *stubTransport) RequestPairingCode(ctx context.Context, phone string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.pairingErrs) > 0 {
		err := t.pairingErrs[0]
		t.pairingErrs = t.pairingErrs[1:]
		return "", err
	}
	return t.pairingCode, nil
}

func (t *stubTransport) SendText(ctx context.Context, to, body string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sendErr != nil {
		return "", t.sendErr
	}
	t.sent = append(t.sent, sentMessage{to: to, body: body})
	return t.sendID, nil
}

func (t *stubTransport) SendMedia(ctx context.Context, to string, media transport.Media) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sendErr != nil {
		return "", t.sendErr
	}
	t.sentMedia = append(t.sentMedia, media)
	return t.sendID, nil
}

func (t *stubTransport) Identity() *transport.Identity {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.identity
}

func (t *stubTransport) sentMessages() []sentMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]sentMessage(nil), t.sent...)
}

func (t *stubTransport) fireOpen() {
	t.events.ConnectionState(transport.StateEvent{State: transport.ConnStateOpen})
}

func (t *stubTransport) fireQR(qr string) {
	t.events.ConnectionState(transport.StateEvent{State: transport.ConnStateConnecting, QR: qr})
}

func (t *stubTransport) fireClosed(reason transport.DisconnectReason) {
	t.events.ConnectionState(transport.StateEvent{State: transport.ConnStateClosed, Reason: reason})
}

func (t *stubTransport) fireMessage(ev transport.MessageEvent) {
	t.events.Message(ev)
}

type stubFactory struct {
	mu         sync.Mutex
	transports []*stubTransport
	newErr     error
	sendID     string
}

func (f *stubFactory) New(accountID string, ev transport.Events) (transport.Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.newErr != nil {
		return nil, f.newErr
	}
	tr := &stubTransport{accountID: accountID, events: ev, sendID: f.sendID}
	f.transports = append(f.transports, tr)
	return tr, nil
}

func (f *stubFactory) attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.transports)
}

func (f *stubFactory) last() *stubTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.transports) == 0 {
		return nil
	}
	return f.transports[len(f.transports)-1]
}

// Capture notifier

type capturedEvent struct {
	userID string
	event  notify.Event
}

type captureNotifier struct {
	mu     sync.Mutex
	events []capturedEvent
}

func (n *captureNotifier) Publish(ctx context.Context, userID string, event notify.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, capturedEvent{userID: userID, event: event})
	return nil
}

func (n *captureNotifier) ofType(eventType string) []capturedEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []capturedEvent
	for _, ev := range n.events {
		if ev.event.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func decodePayload[T any](t *testing.T, ev notify.Event) T {
	t.Helper()
	var payload T
	require.NoError(t, json.Unmarshal(ev.Data, &payload))
	return payload
}

// Capture webhook sender

type sentWebhook struct {
	url   string
	event WebhookEvent
}

type captureWebhookSender struct {
	mu   sync.Mutex
	err  error
	sent []sentWebhook
}

func (w *captureWebhookSender) Send(ctx context.Context, url string, event WebhookEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sent = append(w.sent, sentWebhook{url: url, event: event})
	return w.err
}

func (w *captureWebhookSender) deliveries() []sentWebhook {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]sentWebhook(nil), w.sent...)
}

// Harness

type testHarness struct {
	svc      *Service
	users    *mockUserRepo
	sessions *mockSessionRepo
	factory  *stubFactory
	notifier *captureNotifier
	webhooks *captureWebhookSender
	creds    *credstore.Store
	tokens   *token.Manager
	cfg      *config.Config
}

func testConfig() *config.Config {
	return &config.Config{
		MaxSessionsPerUser:   2,
		QRTimeoutMinutes:     5,
		MaxReconnectAttempts: 5,
		ReconnectDelaySecs:   1,
		WebhookTimeoutSecs:   2,
	}
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	creds, err := credstore.New(t.TempDir())
	require.NoError(t, err)

	h := &testHarness{
		users:    new(mockUserRepo),
		sessions: new(mockSessionRepo),
		factory:  &stubFactory{sendID: "3EB0TESTID"},
		notifier: &captureNotifier{},
		webhooks: &captureWebhookSender{},
		creds:    creds,
		tokens:   token.NewManager("test-session-secret", "test-access-secret"),
		cfg:      testConfig(),
	}
	h.svc = NewService(h.cfg, h.users, h.sessions, h.tokens, h.creds, h.factory, h.notifier, h.webhooks)

	// status mirroring runs in background goroutines all over the lifecycle
	h.sessions.On("UpdateStatus", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	return h
}

const (
	testUserID    = "0d2b7a46-1111-4a31-9f60-000000000001"
	testAccountID = "6285700000001"
)

func (h *testHarness) expectUser(userID string) {
	h.users.On("FindByID", mock.Anything, userID).Return(&model.User{ID: userID, Username: "tester"}, nil)
}

func (h *testHarness) record(userID, accountID string, status model.SessionStatus, usePairingCode bool) *model.WaSession {
	tok, _ := h.tokens.NewSessionToken(userID, accountID)
	return &model.WaSession{
		AccountID:      accountID,
		UserID:         userID,
		SessionToken:   tok,
		Status:         status,
		UsePairingCode: usePairingCode,
		CreatedAt:      time.Now(),
		LastUpdated:    time.Now(),
	}
}

// expectNewSession wires the mock calls for a fresh create of accountID.
func (h *testHarness) expectNewSession(userID, accountID string, usePairingCode bool) *model.WaSession {
	h.expectUser(userID)
	h.sessions.On("FindByAccountID", mock.Anything, accountID).Return(nil, nil).Once()
	h.sessions.On("CountByUserID", mock.Anything, userID).Return(0, nil).Once()
	rec := h.record(userID, accountID, model.SessionStatusConnecting, usePairingCode)
	h.sessions.On("Create", mock.Anything, mock.MatchedBy(func(p model.CreateWaSessionParams) bool {
		return p.AccountID == accountID && p.UserID == userID && p.UsePairingCode == usePairingCode
	})).Return(rec, nil).Once()
	return rec
}

func (h *testHarness) writeCreds(t *testing.T, accountID string) {
	t.Helper()
	dir, err := h.creds.Path(accountID)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "session.db"), []byte("creds"), 0o644))
}

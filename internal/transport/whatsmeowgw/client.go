// Package whatsmeowgw implements the transport boundary on top of the
// whatsmeow WhatsApp Web multidevice library. Credential material lives in a
// per-account SQLite container managed by whatsmeow itself.
package whatsmeowgw

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	waCompanionReg "go.mau.fi/whatsmeow/proto/waCompanionReg"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/wagate/gateway-server-go/internal/credstore"
	"github.com/wagate/gateway-server-go/internal/transport"
)

const pairingBrowserName = "Chrome (Linux)"

// Factory builds whatsmeow-backed transports with credentials rooted in a
// shared credential store.
type Factory struct {
	creds  *credstore.Store
	logger zerolog.Logger
}

func NewFactory(creds *credstore.Store, logger zerolog.Logger) *Factory {
	return &Factory{creds: creds, logger: logger}
}

func (f *Factory) New(accountID string, ev transport.Events) (transport.Transport, error) {
	dir, err := f.creds.Path(accountID)
	if err != nil {
		return nil, err
	}

	log := f.logger.With().Str("account_id", accountID).Logger()
	dbPath := filepath.Join(dir, "session.db")
	ctx := context.Background()
	container, err := sqlstore.New(ctx, "sqlite3", "file:"+dbPath+"?_foreign_keys=on", newWaLogger(log, "database"))
	if err != nil {
		return nil, fmt.Errorf("open credential container: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		container.Close()
		return nil, fmt.Errorf("load device: %w", err)
	}

	store.SetOSInfo("Linux", store.GetWAVersion())
	store.DeviceProps.PlatformType = waCompanionReg.DeviceProps_CHROME.Enum()

	cli := whatsmeow.NewClient(deviceStore, newWaLogger(log, "client"))

	return &Client{
		accountID: accountID,
		cli:       cli,
		container: container,
		events:    ev,
		log:       log,
	}, nil
}

// Client is one live whatsmeow connection implementing transport.Transport.
type Client struct {
	accountID string
	cli       *whatsmeow.Client
	container *sqlstore.Container
	events    transport.Events
	log       zerolog.Logger
}

func (c *Client) IsRegistered() bool {
	return c.cli.Store.ID != nil
}

// Connect registers the event bridge and launches the connection attempt.
// For unregistered devices the QR channel must be claimed before dialing.
func (c *Client) Connect(ctx context.Context) error {
	c.cli.AddEventHandler(c.handleEvent)

	if !c.IsRegistered() {
		qrChan, err := c.cli.GetQRChannel(context.Background())
		if err != nil {
			return fmt.Errorf("claim qr channel: %w", err)
		}
		go c.pumpQR(qrChan)
	}

	if err := c.cli.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

func (c *Client) pumpQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		switch item.Event {
		case whatsmeow.QRChannelEventCode:
			c.emitState(transport.StateEvent{State: transport.ConnStateConnecting, QR: item.Code})
		case whatsmeow.QRChannelEventError:
			c.log.Warn().Err(item.Error).Msg("qr channel error")
		default:
			// success and timeout both end the pairing stream; the
			// connection events carry the outcome from here.
			return
		}
	}
}

func (c *Client) handleEvent(evt interface{}) {
	switch e := evt.(type) {
	case *events.Connected:
		c.emitState(transport.StateEvent{State: transport.ConnStateOpen})
	case *events.PairSuccess:
		if c.events.CredentialsChanged != nil {
			c.events.CredentialsChanged()
		}
	case *events.LoggedOut:
		c.emitState(transport.StateEvent{
			State:  transport.ConnStateClosed,
			Reason: transport.UnrecoverableDisconnect("LOGGED_OUT", fmt.Errorf("logged out: %s", e.Reason.String())),
		})
	case *events.StreamError:
		c.emitState(transport.StateEvent{
			State:  transport.ConnStateClosed,
			Reason: transport.RecoverableDisconnect("STREAM_ERROR", fmt.Errorf("stream error: %s", e.Code)),
		})
	case *events.Disconnected:
		c.emitState(transport.StateEvent{
			State:  transport.ConnStateClosed,
			Reason: transport.RecoverableDisconnect("CONNECTION_CLOSED", nil),
		})
	case *events.Message:
		c.handleMessage(e)
	}
}

func (c *Client) emitState(ev transport.StateEvent) {
	if c.events.ConnectionState != nil {
		c.events.ConnectionState(ev)
	}
}

func (c *Client) handleMessage(e *events.Message) {
	if e.Info.IsFromMe || c.events.Message == nil {
		return
	}

	text := e.Message.GetConversation()
	if text == "" {
		text = e.Message.GetExtendedTextMessage().GetText()
	}

	c.events.Message(transport.MessageEvent{
		Sender:      e.Info.Sender.User,
		Text:        text,
		IsGroup:     e.Info.Chat.Server == types.GroupServer,
		IsBroadcast: strings.Contains(e.Info.Chat.Server, "broadcast"),
		Timestamp:   e.Info.Timestamp,
		Raw:         e,
	})
}

func (c *Client) RequestPairingCode(ctx context.Context, phone string) (string, error) {
	code, err := c.cli.PairPhone(ctx, phone, true, whatsmeow.PairClientChrome, pairingBrowserName)
	if err != nil {
		return "", fmt.Errorf("request pairing code: %w", err)
	}
	return code, nil
}

func (c *Client) SendText(ctx context.Context, toAccountID, body string) (string, error) {
	msg := &waE2E.Message{Conversation: proto.String(body)}
	resp, err := c.cli.SendMessage(ctx, recipientJID(toAccountID), msg, whatsmeow.SendRequestExtra{
		ID: whatsmeow.GenerateMessageID(),
	})
	if err != nil {
		return "", err
	}
	return string(resp.ID), nil
}

func (c *Client) SendMedia(ctx context.Context, toAccountID string, media transport.Media) (string, error) {
	data, mimeType, err := fetchMedia(ctx, media.URL)
	if err != nil {
		return "", err
	}
	if media.MimeType != "" {
		mimeType = media.MimeType
	}

	var waType whatsmeow.MediaType
	switch media.Kind {
	case transport.MediaKindImage:
		waType = whatsmeow.MediaImage
	case transport.MediaKindVideo:
		waType = whatsmeow.MediaVideo
	default:
		waType = whatsmeow.MediaDocument
	}

	uploaded, err := c.cli.Upload(ctx, data, waType)
	if err != nil {
		return "", fmt.Errorf("upload media: %w", err)
	}

	msg := buildMediaMessage(media, uploaded, mimeType, uint64(len(data)))
	resp, err := c.cli.SendMessage(ctx, recipientJID(toAccountID), msg, whatsmeow.SendRequestExtra{
		ID: whatsmeow.GenerateMessageID(),
	})
	if err != nil {
		return "", err
	}
	return string(resp.ID), nil
}

func (c *Client) Identity() *transport.Identity {
	id := c.cli.Store.ID
	if id == nil {
		return nil
	}
	return &transport.Identity{
		PushName: c.cli.Store.PushName,
		Number:   id.User,
	}
}

func (c *Client) Disconnect() {
	c.cli.Disconnect()
	if err := c.container.Close(); err != nil {
		c.log.Warn().Err(err).Msg("closing credential container")
	}
}

// Logout invalidates the registration server-side and wipes the local device
// record. The credential directory itself is removed by the caller.
func (c *Client) Logout(ctx context.Context) error {
	return c.cli.Logout(ctx)
}

func recipientJID(accountID string) types.JID {
	return types.JID{User: accountID, Server: types.DefaultUserServer}
}

func fetchMedia(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build media request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download media: unexpected status %s", resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read media body: %w", err)
	}

	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	return data, mimeType, nil
}

func buildMediaMessage(media transport.Media, uploaded whatsmeow.UploadResponse, mimeType string, size uint64) *waE2E.Message {
	switch media.Kind {
	case transport.MediaKindImage:
		return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			Caption:       proto.String(media.Caption),
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			Mimetype:      proto.String(mimeType),
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(size),
		}}
	case transport.MediaKindVideo:
		return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			Caption:       proto.String(media.Caption),
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			Mimetype:      proto.String(mimeType),
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(size),
		}}
	default:
		return &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			Caption:       proto.String(media.Caption),
			FileName:      proto.String(media.FileName),
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			Mimetype:      proto.String(mimeType),
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(size),
		}}
	}
}

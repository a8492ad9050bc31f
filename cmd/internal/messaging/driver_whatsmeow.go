package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	// database/sql driver "sqlite" for the credential store.
	_ "modernc.org/sqlite"
)

const sessionDBFile = "session.db"

// WhatsmeowDriver speaks the WhatsApp multi-device protocol. Credentials live in
// a SQLite database inside the session directory.
type WhatsmeowDriver struct {
	dir string
	log *slog.Logger

	mu        sync.Mutex
	container *sqlstore.Container
	client    *whatsmeow.Client
	closed    bool
}

// NewWhatsmeowFactory returns a DriverFactory for the production driver.
// deviceName is what the phone shows under "Linked devices".
func NewWhatsmeowFactory(log *slog.Logger, deviceName string) DriverFactory {
	if log == nil {
		log = slog.Default()
	}
	if name := strings.TrimSpace(deviceName); name != "" {
		store.SetOSInfo(name, [3]uint32{1, 0, 0})
	}
	return func(sessionDir string) (Driver, error) {
		if err := os.MkdirAll(sessionDir, 0o700); err != nil {
			return nil, fmt.Errorf("create session dir: %w", err)
		}
		return &WhatsmeowDriver{dir: sessionDir, log: log}, nil
	}
}

func (d *WhatsmeowDriver) dsn() string {
	path := filepath.Join(d.dir, sessionDBFile)
	return "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// Connect opens the credential store and starts the handshake. An unpaired
// device streams pairing codes until the phone scans one.
func (d *WhatsmeowDriver) Connect(ctx context.Context, emit EventHandler) error {
	container, err := sqlstore.New(ctx, "sqlite", d.dsn(), newWALogger(d.log, "store"))
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		_ = container.Close()
		return fmt.Errorf("load device: %w", err)
	}

	client := whatsmeow.NewClient(device, newWALogger(d.log, "client"))
	// A dropped session goes to DISCONNECTED and waits for an explicit restart.
	client.EnableAutoReconnect = false
	client.AddEventHandler(func(evt interface{}) { translateEvent(evt, emit) })

	if !d.adopt(container, client) {
		_ = container.Close()
		return ErrClosed
	}

	var qrCh <-chan whatsmeow.QRChannelItem
	if client.Store.ID == nil {
		qrCh, err = client.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("pairing channel: %w", err)
		}
	}
	if err := d.dial(ctx, client); err != nil {
		return err
	}
	if qrCh == nil {
		return nil
	}
	go func() {
		for item := range qrCh {
			switch item.Event {
			case whatsmeow.QRChannelEventCode:
				emit(Event{Kind: EventPairingCode, Payload: item.Code})
			case whatsmeow.QRChannelSuccess.Event:
				// Authenticated arrives through *events.Connected.
			case whatsmeow.QRChannelTimeout.Event:
				emit(Event{Kind: EventAuthFailure, Err: errors.New("pairing timed out")})
			case whatsmeow.QRChannelEventError:
				emit(Event{Kind: EventAuthFailure, Err: item.Error})
			default:
				emit(Event{Kind: EventAuthFailure, Err: fmt.Errorf("pairing failed: %s", item.Event)})
			}
		}
	}()
	return nil
}

// adopt installs the store and client unless Close already ran.
func (d *WhatsmeowDriver) adopt(container *sqlstore.Container, client *whatsmeow.Client) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	d.container = container
	d.client = client
	return true
}

// dial connects client if it is still the live one. A Close that races the
// dial disconnects it again.
func (d *WhatsmeowDriver) dial(ctx context.Context, client *whatsmeow.Client) error {
	d.mu.Lock()
	live := !d.closed && d.client == client
	d.mu.Unlock()
	if !live || ctx.Err() != nil {
		return ErrClosed
	}

	if err := client.Connect(); err != nil {
		return err
	}

	d.mu.Lock()
	orphaned := d.closed
	d.mu.Unlock()
	if orphaned {
		client.Disconnect()
		return ErrClosed
	}
	return nil
}

func translateEvent(evt interface{}, emit EventHandler) {
	switch e := evt.(type) {
	case *events.Connected:
		emit(Event{Kind: EventAuthenticated})
	case *events.LoggedOut:
		emit(Event{Kind: EventDisconnected, Err: fmt.Errorf("logged out: %s", e.Reason.String())})
	case *events.StreamReplaced:
		emit(Event{Kind: EventDisconnected, Err: errors.New("session opened elsewhere")})
	case *events.Disconnected:
		emit(Event{Kind: EventDisconnected, Err: errors.New("connection closed")})
	case *events.ConnectFailure:
		emit(Event{Kind: EventAuthFailure, Err: fmt.Errorf("connect failure: %s %s", e.Reason.String(), e.Message)})
	case *events.TemporaryBan:
		emit(Event{Kind: EventAuthFailure, Err: errors.New(e.String())})
	case *events.ClientOutdated:
		emit(Event{Kind: EventAuthFailure, Err: errors.New("client outdated")})
	}
}

// Send delivers a plain text message to phone's personal chat.
func (d *WhatsmeowDriver) Send(ctx context.Context, phone, body string) error {
	d.mu.Lock()
	client := d.client
	d.mu.Unlock()
	if client == nil || !client.IsConnected() {
		return ErrNotReady
	}

	to := types.NewJID(phone, types.DefaultUserServer)
	_, err := client.SendMessage(ctx, to, &waE2E.Message{Conversation: proto.String(body)})
	return err
}

// Close disconnects and closes the credential store. A Connect still in
// progress gives up instead of starting a client nobody owns.
func (d *WhatsmeowDriver) Close() error {
	d.mu.Lock()
	client, container := d.client, d.container
	d.client, d.container = nil, nil
	d.closed = true
	d.mu.Unlock()

	if client != nil {
		client.Disconnect()
	}
	if container != nil {
		return container.Close()
	}
	return nil
}

package messaging

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

const defaultSendTimeout = 20 * time.Second

// InitResult tells the caller what Init did.
type InitResult int

const (
	// InitStarted means a new bring-up began.
	InitStarted InitResult = iota + 1
	// InitAlreadyReady means the session was READY; nothing changed.
	InitAlreadyReady
	// InitInProgress means a handshake is already in flight; nothing changed.
	InitInProgress
)

func (r InitResult) String() string {
	switch r {
	case InitStarted:
		return "started"
	case InitAlreadyReady:
		return "already_ready"
	case InitInProgress:
		return "in_progress"
	default:
		return "unknown"
	}
}

// Status is a point-in-time view of the session.
type Status struct {
	State          State  `json:"state"`
	Ready          bool   `json:"ready"`
	Initializing   bool   `json:"initializing"`
	PairingPayload string `json:"pairingPayload,omitempty"`
	Error          string `json:"error,omitempty"`
	HasSession     bool   `json:"hasSession"`
}

// Manager owns the single outbound session and its state machine.
// All transitions happen under mu; driver calls happen outside it.
type Manager struct {
	factory            DriverFactory
	sessionDir         string
	defaultCountryCode string
	sendTimeout        time.Duration
	log                *slog.Logger
	metrics            *Metrics

	// restartMu serializes Restart so teardown and directory removal never overlap.
	restartMu sync.Mutex

	mu      sync.Mutex
	state   State
	pairing string
	lastErr string
	driver  Driver
	// gen increments on every bring-up and teardown; events tagged with an older
	// generation are dropped.
	gen    uint64
	cancel context.CancelFunc
	closed bool
}

// ManagerOption configures the Manager.
type ManagerOption func(*Manager) error

// WithSessionDir sets where the driver persists credentials.
func WithSessionDir(dir string) ManagerOption {
	return func(m *Manager) error {
		dir = strings.TrimSpace(dir)
		if dir == "" || dir == "/" {
			return ErrInvalidInput
		}
		m.sessionDir = dir
		return nil
	}
}

// WithDefaultCountryCode rewrites national numbers with a leading 0.
func WithDefaultCountryCode(cc string) ManagerOption {
	return func(m *Manager) error {
		m.defaultCountryCode = strings.TrimSpace(cc)
		return nil
	}
}

// WithSendTimeout bounds each outbound message.
func WithSendTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) error {
		if d <= 0 {
			return ErrInvalidInput
		}
		m.sendTimeout = d
		return nil
	}
}

// WithLogger sets the logger (default: slog.Default()).
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) error {
		if l == nil {
			return ErrInvalidInput
		}
		m.log = l
		return nil
	}
}

// WithMetrics attaches collectors.
func WithMetrics(mt *Metrics) ManagerOption {
	return func(m *Manager) error {
		m.metrics = mt
		return nil
	}
}

// NewManager constructs a Manager in UNINITIALIZED. Nothing connects until Init.
func NewManager(factory DriverFactory, opts ...ManagerOption) (*Manager, error) {
	if factory == nil {
		return nil, ErrInvalidInput
	}
	m := &Manager{
		factory:     factory,
		sessionDir:  "./.wa-session",
		sendTimeout: defaultSendTimeout,
		log:         slog.Default(),
		state:       StateUninitialized,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// SessionDir returns the credential directory.
func (m *Manager) SessionDir() string { return m.sessionDir }

// Status returns a snapshot. It never changes state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Status{
		State:          m.state,
		Ready:          m.state == StateReady,
		Initializing:   m.state == StateInitializing || m.state == StatePairing,
		PairingPayload: m.pairing,
		Error:          m.lastErr,
		HasSession:     m.driver != nil,
	}
}

// Init begins bring-up from UNINITIALIZED. It is idempotent: READY and an
// in-flight handshake are reported without side effects, and concurrent callers
// start at most one bring-up. From ERROR or DISCONNECTED it returns
// ErrRestartRequired.
func (m *Manager) Init(ctx context.Context) (InitResult, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, ErrClosed
	}
	switch m.state {
	case StateReady:
		m.mu.Unlock()
		return InitAlreadyReady, nil
	case StateInitializing, StatePairing:
		m.mu.Unlock()
		return InitInProgress, nil
	case StateError, StateDisconnected:
		m.mu.Unlock()
		return 0, ErrRestartRequired
	}

	m.gen++
	gen := m.gen
	m.pairing = ""
	m.lastErr = ""
	m.setStateLocked(StateInitializing)

	// Bring-up outlives the request that triggered it.
	bctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.mu.Unlock()

	m.log.Info("messaging.session.init", "session_dir", m.sessionDir)
	go m.bringUp(bctx, gen)
	return InitStarted, nil
}

func (m *Manager) bringUp(ctx context.Context, gen uint64) {
	drv, err := m.factory(m.sessionDir)
	if err != nil {
		m.handle(gen, Event{Kind: EventAuthFailure, Err: err})
		return
	}

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		_ = drv.Close()
		return
	}
	m.driver = drv
	m.mu.Unlock()

	if err := drv.Connect(ctx, func(ev Event) { m.handle(gen, ev) }); err != nil {
		m.handle(gen, Event{Kind: EventAuthFailure, Err: err})
	}
}

// handle applies a driver event if it belongs to the current generation.
func (m *Manager) handle(gen uint64, ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen {
		m.log.Debug("messaging.session.event.stale", "kind", ev.Kind)
		return
	}

	switch ev.Kind {
	case EventPairingCode:
		if m.state != StateInitializing && m.state != StatePairing {
			return
		}
		m.pairing = ev.Payload
		m.setStateLocked(StatePairing)
		m.log.Info("messaging.session.pairing")

	case EventAuthenticated:
		if !m.state.live() {
			return
		}
		m.pairing = ""
		m.lastErr = ""
		m.setStateLocked(StateReady)
		m.log.Info("messaging.session.ready")

	case EventAuthFailure:
		if !m.state.live() {
			return
		}
		m.pairing = ""
		m.lastErr = errString(ev.Err, "authentication failed")
		m.setStateLocked(StateError)
		m.log.Error("messaging.session.auth.fail", "err", m.lastErr)

	case EventDisconnected:
		if !m.state.live() {
			return
		}
		m.pairing = ""
		m.lastErr = errString(ev.Err, "disconnected")
		m.setStateLocked(StateDisconnected)
		m.log.Warn("messaging.session.disconnected", "reason", m.lastErr)
	}
}

// Restart tears down the live session, deletes the session directory so the
// next bring-up pairs from scratch, resets state, and calls Init.
func (m *Manager) Restart(ctx context.Context) (InitResult, error) {
	m.restartMu.Lock()
	defer m.restartMu.Unlock()

	drv, err := m.teardown(false)
	if err != nil {
		return 0, err
	}
	if drv != nil {
		if err := drv.Close(); err != nil {
			m.log.Warn("messaging.session.close.fail", "err", err)
		}
	}
	if err := os.RemoveAll(m.sessionDir); err != nil {
		m.log.Warn("messaging.session.dir.remove.fail", "session_dir", m.sessionDir, "err", err)
	}

	m.log.Info("messaging.session.restart")
	return m.Init(ctx)
}

// Close shuts the session down for process exit. Credentials stay on disk.
func (m *Manager) Close() error {
	drv, err := m.teardown(true)
	if err != nil || drv == nil {
		return err
	}
	return drv.Close()
}

// teardown invalidates in-flight events, cancels bring-up and detaches the driver.
func (m *Manager) teardown(final bool) (Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	m.gen++
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	drv := m.driver
	m.driver = nil
	m.pairing = ""
	m.lastErr = ""
	m.setStateLocked(StateUninitialized)
	m.closed = final
	return drv, nil
}

// Send delivers body to phone. It fails fast with ErrNotReady unless READY.
func (m *Manager) Send(ctx context.Context, phone, body string) error {
	m.mu.Lock()
	ready := m.state == StateReady && m.driver != nil
	drv := m.driver
	m.mu.Unlock()

	if !ready {
		m.metrics.send("not_ready")
		return ErrNotReady
	}
	if strings.TrimSpace(body) == "" {
		m.metrics.send("invalid")
		return ErrInvalidInput
	}
	digits, err := NormalizePhone(phone, m.defaultCountryCode)
	if err != nil {
		m.metrics.send("invalid")
		return err
	}

	sctx, cancel := context.WithTimeout(ctx, m.sendTimeout)
	defer cancel()

	if err := drv.Send(sctx, digits, body); err != nil {
		m.metrics.send("error")
		m.log.Warn("messaging.send.fail", "err", err)
		return DeliveryError{Op: "send", Err: err}
	}
	m.metrics.send("ok")
	return nil
}

func (m *Manager) setStateLocked(s State) {
	m.state = s
	m.metrics.setState(s)
}

func errString(err error, fallback string) string {
	if err == nil {
		return fallback
	}
	return err.Error()
}

// ABOUTME: Session manager: login flows, pump-driven connection state machine
// ABOUTME: Reconnects with exponential backoff after the connection drops
package session

import (
	"encoding/base64"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Thalhammer/libspotify-embedded/internal/clocksync"
	"github.com/Thalhammer/libspotify-embedded/internal/metrics"
	"github.com/Thalhammer/libspotify-embedded/internal/version"
	"github.com/Thalhammer/libspotify-embedded/pkg/errcode"
	"github.com/Thalhammer/libspotify-embedded/pkg/notify"
	"github.com/Thalhammer/libspotify-embedded/pkg/protocol"
	"github.com/Thalhammer/libspotify-embedded/pkg/transport"
)

const (
	maxUsername     = 64
	maxDisplayName  = 64
	readBufSize     = 16 * 1024
	maxReadsPerPump = 64
)

// live guards the one-manager-per-process rule.
var live atomic.Bool

// Manager owns the access point connection. It is not safe for concurrent
// use; all calls must come from the goroutine that drives Pump.
type Manager struct {
	cfg    Config
	log    zerolog.Logger
	bus    *notify.Bus
	clk    clock.Clock
	tsync  *clocksync.Sync
	errSub notify.Handle

	deviceID     string
	displayName  string
	connectivity Connectivity

	state       State
	phase       phase
	loginActive bool
	everOnline  bool
	method      Method
	creds       Credentials

	addr     string
	conn     transport.Conn
	dec      *protocol.Decoder
	out      []byte
	rbuf     []byte
	lastRecv time.Time
	nextPing time.Time

	username    string
	accountType string
	blob        []byte

	bo           *backoff.ExponentialBackOff
	attempts     int
	retryPending bool
	retryAt      time.Time
	retryDelay   time.Duration

	nextReq uint32
	routes  map[uint32]*route

	onCommand func(protocol.ServerCommand)
	released  bool
}

// New validates cfg and creates the process-wide Manager. A second call
// before Release fails with AlreadyInitialized.
func New(cfg Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !live.CompareAndSwap(false, true) {
		return nil, errcode.New(errcode.AlreadyInitialized, "session.init", "a session is already live")
	}
	cfg.setDefaults()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.Reconnect.InitialInterval
	bo.MaxInterval = cfg.Reconnect.MaxInterval
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	bo.Clock = cfg.Clock
	bo.Reset()

	m := &Manager{
		cfg:          cfg,
		log:          cfg.Logger.With().Str("component", "session").Logger(),
		bus:          cfg.Bus,
		clk:          cfg.Clock,
		deviceID:     cfg.DeviceID,
		displayName:  cfg.DisplayName,
		connectivity: ConnectivityWired,
		dec:          protocol.NewDecoder(protocol.MaxPayload),
		rbuf:         make([]byte, readBufSize),
		bo:           bo,
		routes:       make(map[uint32]*route),
	}
	if m.deviceID == "" {
		m.deviceID = uuid.NewString()
	}
	if m.displayName == "" {
		m.displayName = cfg.Model
	}
	m.displayName = truncate(m.displayName, maxDisplayName)
	m.tsync = clocksync.New(cfg.Clock, m.log)
	m.errSub = m.bus.Subscribe(notify.KindError, notify.HandlerFunc(m.forwardError))

	m.log.Debug().Str("device_id", m.deviceID).Str("brand", cfg.Brand).Str("model", cfg.Model).Msg("session initialized")
	return m, nil
}

// Release tears the manager down without emitting events and allows a new
// one to be created.
func (m *Manager) Release() {
	if m.released {
		return
	}
	m.teardown()
	m.routes = make(map[uint32]*route)
	m.bus.Unsubscribe(m.errSub)
	m.released = true
	live.Store(false)
	m.log.Debug().Msg("session released")
}

func (m *Manager) forwardError(ev notify.Event) error {
	ee, ok := ev.(notify.ErrorEvent)
	if !ok || ee.Err == nil {
		return nil
	}
	var ce *errcode.Error
	if !errors.As(ee.Err, &ce) {
		ce = &errcode.Error{Code: errcode.CodeOf(ee.Err), Err: ee.Err}
	}
	m.cfg.OnError(ce)
	return nil
}

// Bus returns the bus session events are published on.
func (m *Manager) Bus() *notify.Bus { return m.bus }

// State returns the current connection state.
func (m *Manager) State() State { return m.state }

// IsLoggedIn reports whether the session is authenticated and connected.
func (m *Manager) IsLoggedIn() bool { return m.state == StateLoggedIn }

// CanonicalUsername returns the username confirmed by the access point.
func (m *Manager) CanonicalUsername() string { return m.username }

// AccountType returns the account type of the logged in user.
func (m *Manager) AccountType() string { return m.accountType }

// Blob returns a copy of the credentials blob from the last login.
func (m *Manager) Blob() []byte {
	if m.blob == nil {
		return nil
	}
	return append([]byte(nil), m.blob...)
}

// DeviceID returns the device identifier sent in client/hello.
func (m *Manager) DeviceID() string { return m.deviceID }

// DisplayName returns the advertised device name.
func (m *Manager) DisplayName() string { return m.displayName }

// Brand returns the configured brand name.
func (m *Manager) Brand() string { return m.cfg.Brand }

// Model returns the configured model name.
func (m *Manager) Model() string { return m.cfg.Model }

// DeviceType returns the configured device type.
func (m *Manager) DeviceType() DeviceType { return m.cfg.DeviceType }

// ServerTime returns the estimated access point clock.
func (m *Manager) ServerTime() time.Time { return m.tsync.ServerNow() }

// RetryDelay returns the delay scheduled after the last connection loss.
func (m *Manager) RetryDelay() time.Duration { return m.retryDelay }

// SetCommandHandler installs the receiver for server/command pushes.
func (m *Manager) SetCommandHandler(fn func(protocol.ServerCommand)) { m.onCommand = fn }

// Connectivity returns the current network hint.
func (m *Manager) Connectivity() Connectivity { return m.connectivity }

// SetConnectivity stores a network hint. Offline suspends reconnect attempts;
// leaving Offline retries immediately.
func (m *Manager) SetConnectivity(c Connectivity) error {
	if c < ConnectivityOffline || c > ConnectivityMobile {
		return errcode.New(errcode.InvalidArgument, "session.connectivity", "unknown connectivity %d", int(c))
	}
	prev := m.connectivity
	m.connectivity = c
	if prev == ConnectivityOffline && c != ConnectivityOffline && m.retryPending {
		m.retryAt = m.clk.Now()
	}
	if prev != c {
		m.log.Debug().Stringer("from", prev).Stringer("to", c).Msg("connectivity changed")
	}
	return nil
}

// SetDisplayName changes the advertised device name. Names longer than 64
// bytes are truncated.
func (m *Manager) SetDisplayName(name string) error {
	if name == "" {
		return errcode.New(errcode.InvalidArgument, "session.display_name", "empty display name")
	}
	m.displayName = truncate(name, maxDisplayName)
	if m.phase == phaseOnline {
		m.queue(protocol.TypeClientDisplayName, protocol.ClientDisplayName{DisplayName: m.displayName})
	}
	return nil
}

// LoginPassword starts a password login.
func (m *Manager) LoginPassword(username, password string) error {
	return m.Login(MethodPassword, Credentials{Username: username, Password: password})
}

// LoginBlob starts a login with a blob from an earlier LoggedInEvent.
func (m *Manager) LoginBlob(username string, blob []byte) error {
	return m.Login(MethodBlob, Credentials{Username: username, Blob: blob})
}

// LoginToken starts a bearer token login.
func (m *Manager) LoginToken(token string) error {
	return m.Login(MethodToken, Credentials{Token: token})
}

// Login starts an asynchronous login. The result is published on the bus:
// a LoggedInEvent on success, an error event otherwise. Only one login may
// be active; a second call fails with AlreadyInitialized. A successful
// login stays active until Logout, so switching accounts means logging out
// first.
func (m *Manager) Login(method Method, creds Credentials) error {
	const op = "session.login"
	if m.released {
		return errcode.New(errcode.Uninitialized, op, "session released")
	}
	if m.loginActive {
		if m.state == StateLoggedIn {
			return errcode.New(errcode.AlreadyInitialized, op, "already logged in as %q, log out first", m.username)
		}
		return errcode.New(errcode.AlreadyInitialized, op, "login already active in state %s", m.state)
	}

	switch method {
	case MethodPassword:
		if creds.Username == "" || creds.Password == "" {
			return errcode.New(errcode.InvalidArgument, op, "username and password required")
		}
	case MethodBlob:
		if creds.Username == "" || len(creds.Blob) == 0 {
			return errcode.New(errcode.InvalidArgument, op, "username and blob required")
		}
	case MethodToken:
		if creds.Token == "" {
			return errcode.New(errcode.InvalidArgument, op, "token required")
		}
	default:
		return errcode.New(errcode.InvalidArgument, op, "unknown login method %d", int(method))
	}

	if len(creds.Username) > maxUsername {
		m.log.Debug().Int("length", len(creds.Username)).Msg("username truncated to 64 bytes")
		creds.Username = truncate(creds.Username, maxUsername)
	}

	m.method = method
	m.creds = creds
	m.loginActive = true
	m.everOnline = false
	m.attempts = 0
	m.retryPending = false
	m.retryDelay = 0
	m.bo.Reset()

	m.log.Debug().Stringer("method", method).Msg("login requested")
	m.startConnect(StateConnecting)
	return nil
}

// Logout closes the connection, forgets credentials and cancels pending
// reconnects and requests. Calling it while logged out does nothing.
func (m *Manager) Logout() error {
	if m.released {
		return errcode.New(errcode.Uninitialized, "session.logout", "session released")
	}
	if !m.loginActive && m.state == StateDisconnected {
		return nil
	}

	if m.conn != nil && m.phase >= phaseHello {
		m.queue(protocol.TypeClientGoodbye, protocol.ClientGoodbye{Reason: "logout"})
		if _, err := m.conn.Send(m.out); err != nil && !errors.Is(err, transport.ErrWouldBlock) {
			m.log.Debug().Err(err).Msg("goodbye not sent")
		}
	}
	m.teardown()
	m.routes = make(map[uint32]*route)
	m.forget()

	m.setState(StateDisconnected)
	m.bus.Publish(LoggedOutEvent{})
	m.log.Info().Msg("logged out")
	return nil
}

// PumpEvents runs one Pump and one bus dispatch.
func (m *Manager) PumpEvents() {
	m.Pump()
	m.bus.Dispatch()
}

// Pump advances the connection by one step: pending retries, resolve,
// dial, inbound frames, keepalive and outbound flush. It never blocks.
func (m *Manager) Pump() {
	if m.released {
		return
	}
	now := m.clk.Now()

	if m.retryPending && m.connectivity != ConnectivityOffline && !now.Before(m.retryAt) {
		m.retryPending = false
		metrics.SessionReconnectAttempts.Inc()
		m.log.Debug().Int("attempt", m.attempts).Msg("reconnecting")
		m.startConnect(StateReconnect)
	}
	if m.phase == phaseResolve {
		m.resolve()
	}
	if m.phase == phaseDial {
		m.dial(now)
	}
	if m.conn == nil {
		return
	}
	if !m.receive(now) {
		return
	}
	if !m.timers(now) {
		return
	}
	m.flush()
}

func (m *Manager) startConnect(st State) {
	m.phase = phaseResolve
	m.setState(st)
}

func (m *Manager) resolve() {
	addr, err := m.cfg.Resolver.Resolve(m.cfg.APAddress)
	if errors.Is(err, transport.ErrWouldBlock) {
		return
	}
	if err != nil {
		m.lost(fmt.Errorf("resolve %s: %w", m.cfg.APAddress, err))
		return
	}
	m.addr = addr
	m.phase = phaseDial
}

func (m *Manager) dial(now time.Time) {
	conn, err := m.cfg.Dialer.Dial(m.addr)
	if errors.Is(err, transport.ErrWouldBlock) {
		return
	}
	if err != nil {
		m.lost(fmt.Errorf("dial %s: %w", m.addr, err))
		return
	}
	m.conn = conn
	m.dec.Reset()
	m.out = nil
	m.lastRecv = now
	m.phase = phaseHello
	m.queue(protocol.TypeClientHello, protocol.ClientHello{
		ClientID:    uuid.NewString(),
		DeviceID:    m.deviceID,
		APIVersion:  m.cfg.APIVersion,
		Brand:       m.cfg.Brand,
		Model:       m.cfg.Model,
		DeviceType:  int(m.cfg.DeviceType),
		DisplayName: m.displayName,
		Version:     version.Library(),
	})
}

func (m *Manager) queue(msgType string, payload interface{}) {
	out, err := protocol.AppendControl(m.out, msgType, payload)
	if err != nil {
		m.log.Error().Err(err).Str("type", msgType).Msg("failed to encode message")
		return
	}
	m.out = out
	metrics.SessionFrames.WithLabelValues("out").Inc()
}

// flush sends buffered output until the transport pushes back.
func (m *Manager) flush() bool {
	for len(m.out) > 0 {
		n, err := m.conn.Send(m.out)
		if n > 0 {
			m.out = m.out[n:]
		}
		if errors.Is(err, transport.ErrWouldBlock) {
			return true
		}
		if err != nil {
			m.lost(fmt.Errorf("send: %w", err))
			return false
		}
		if n == 0 {
			return true
		}
	}
	m.out = nil
	return true
}

func (m *Manager) receive(now time.Time) bool {
	for i := 0; i < maxReadsPerPump; i++ {
		n, err := m.conn.Recv(m.rbuf)
		if n > 0 {
			m.dec.Feed(m.rbuf[:n])
			m.lastRecv = now
		}
		if errors.Is(err, transport.ErrWouldBlock) {
			break
		}
		if err != nil {
			m.lost(fmt.Errorf("recv: %w", err))
			return false
		}
		if n == 0 {
			break
		}
	}

	for m.conn != nil {
		f, ok, err := m.dec.Next()
		if err != nil {
			m.lost(err)
			return false
		}
		if !ok {
			break
		}
		metrics.SessionFrames.WithLabelValues("in").Inc()
		m.handleFrame(f, now)
	}
	return m.conn != nil
}

func (m *Manager) timers(now time.Time) bool {
	if now.Sub(m.lastRecv) > m.cfg.ReadTimeout {
		m.lost(fmt.Errorf("nothing received for %s", now.Sub(m.lastRecv)))
		return false
	}
	if m.phase == phaseOnline && !now.Before(m.nextPing) {
		m.probeTime(now)
	}
	return true
}

func (m *Manager) probeTime(now time.Time) {
	m.queue(protocol.TypeClientTime, protocol.ClientTime{ClientTransmitted: now.UnixMicro()})
	m.nextPing = now.Add(m.cfg.PingInterval)
}

func (m *Manager) handleFrame(f protocol.Frame, now time.Time) {
	if f.Type == protocol.FrameChunk {
		chunk, err := protocol.ParseChunk(f.Payload)
		if err != nil {
			m.log.Warn().Err(err).Msg("bad chunk frame")
			return
		}
		m.deliverChunk(chunk)
		return
	}

	env, err := protocol.DecodeEnvelope(f.Payload)
	if err != nil {
		m.log.Warn().Err(err).Msg("bad control frame")
		return
	}

	switch m.phase {
	case phaseHello:
		if env.Type != protocol.TypeServerHello {
			m.log.Warn().Str("type", env.Type).Msg("expected server/hello")
			return
		}
		m.handleHello(env)
	case phaseAuth:
		switch env.Type {
		case protocol.TypeServerLoginOK:
			m.handleLoginOK(env, now)
		case protocol.TypeServerLoginFailed:
			m.handleLoginFailed(env)
		default:
			m.log.Debug().Str("type", env.Type).Msg("ignoring message before login")
		}
	case phaseOnline:
		m.handleOnline(env, now)
	}
}

func (m *Manager) handleHello(env protocol.Envelope) {
	var hello protocol.ServerHello
	if err := env.Into(&hello); err != nil {
		m.lost(err)
		return
	}
	if hello.ServerTime > 0 {
		m.tsync.SetServerTime(hello.ServerTime * 1000)
	}
	m.log.Debug().Str("server", hello.Name).Msg("handshake complete")

	login := protocol.ClientLogin{Method: m.method.String(), Username: m.creds.Username}
	switch m.method {
	case MethodPassword:
		login.Password = m.creds.Password
	case MethodBlob:
		login.Blob = base64.StdEncoding.EncodeToString(m.creds.Blob)
	case MethodToken:
		login.Username = ""
		login.Token = m.creds.Token
	}
	m.phase = phaseAuth
	m.queue(protocol.TypeClientLogin, login)
}

func (m *Manager) handleLoginOK(env protocol.Envelope, now time.Time) {
	var ok protocol.ServerLoginOK
	if err := env.Into(&ok); err != nil {
		m.lost(err)
		return
	}
	blob, err := base64.StdEncoding.DecodeString(ok.Blob)
	if err != nil {
		m.log.Warn().Err(err).Msg("login blob is not base64; blob login unavailable")
		blob = nil
	}

	m.username = ok.Username
	m.accountType = ok.AccountType
	m.blob = blob
	if blob != nil {
		// reconnects reuse the blob instead of the original secret
		m.method = MethodBlob
		m.creds = Credentials{Username: ok.Username, Blob: blob}
	}

	m.phase = phaseOnline
	m.everOnline = true
	m.attempts = 0
	m.retryDelay = 0
	m.bo.Reset()
	m.probeTime(now)

	m.setState(StateLoggedIn)
	m.bus.Publish(LoggedInEvent{Username: ok.Username, AccountType: ok.AccountType, Blob: m.Blob()})
	m.log.Info().Str("username", ok.Username).Str("account_type", ok.AccountType).Msg("logged in")
}

func (m *Manager) handleLoginFailed(env protocol.Envelope) {
	var failed protocol.ServerLoginFailed
	if err := env.Into(&failed); err != nil {
		m.lost(err)
		return
	}
	code := errcode.Parse(failed.Code)
	if code == errcode.Failed || code == errcode.OK {
		code = errcode.GeneralLoginError
	}
	metrics.SessionLoginFailures.WithLabelValues(code.String()).Inc()
	m.terminate(errcode.New(code, "session.login", "%s", failed.Reason))
}

func (m *Manager) handleOnline(env protocol.Envelope, now time.Time) {
	var err error
	switch env.Type {
	case protocol.TypeServerMessage:
		var msg protocol.ServerMessage
		if err = env.Into(&msg); err == nil {
			m.bus.Publish(MessageEvent{Text: msg.Text})
		}
	case protocol.TypeServerTime:
		var st protocol.ServerTime
		if err = env.Into(&st); err == nil {
			m.tsync.ProcessResponse(st.ClientTransmitted, st.ServerReceived, st.ServerTransmitted, now.UnixMicro())
		}
	case protocol.TypeServerCommand:
		var cmd protocol.ServerCommand
		if err = env.Into(&cmd); err == nil && m.onCommand != nil {
			m.onCommand(cmd)
		}
	case protocol.TypeServerMetadata:
		var md protocol.ServerMetadata
		if err = env.Into(&md); err == nil {
			m.completeMetadata(md.ReqID, &md, nil)
		}
	case protocol.TypeServerMetaFailed:
		var f protocol.ServerMetadataFailed
		if err = env.Into(&f); err == nil {
			m.completeMetadata(f.ReqID, nil, errcode.New(errcode.Parse(f.Code), "session.metadata", "request %d failed", f.ReqID))
		}
	case protocol.TypeServerFetchDone:
		var d protocol.ServerFetchDone
		if err = env.Into(&d); err == nil {
			m.completeFetch(d.ReqID, nil)
		}
	case protocol.TypeServerFetchFailed:
		var f protocol.ServerFetchFailed
		if err = env.Into(&f); err == nil {
			m.completeFetch(f.ReqID, errcode.New(errcode.Parse(f.Code), "session.fetch", "request %d failed", f.ReqID))
		}
	default:
		m.log.Debug().Str("type", env.Type).Msg("unhandled message")
	}
	if err != nil {
		m.log.Warn().Err(err).Msg("bad message payload")
	}
}

// lost handles a failed connect or a dropped connection. Before the first
// successful login it ends the flow; afterwards it schedules a reconnect.
func (m *Manager) lost(cause error) {
	m.log.Warn().Err(cause).Stringer("state", m.state).Msg("connection lost")
	m.teardown()
	m.failRoutes(cause)

	if !m.everOnline {
		metrics.SessionLoginFailures.WithLabelValues(errcode.GeneralLoginError.String()).Inc()
		m.terminate(&errcode.Error{Code: errcode.GeneralLoginError, Op: "session.login", Err: cause})
		return
	}

	m.attempts++
	if m.attempts > m.cfg.Reconnect.MaxAttempts {
		m.terminate(errcode.New(errcode.GeneralLoginError, "session.reconnect",
			"giving up after %d attempts: %v", m.attempts-1, cause))
		return
	}

	d := m.bo.NextBackOff()
	if m.connectivity == ConnectivityMobile {
		d *= 2
		if d > m.cfg.Reconnect.MaxInterval {
			d = m.cfg.Reconnect.MaxInterval
		}
	}
	m.retryDelay = d
	m.retryAt = m.clk.Now().Add(d)
	m.retryPending = true
	m.setState(StateTemporaryError)
	m.log.Debug().Dur("delay", d).Int("attempt", m.attempts).Msg("reconnect scheduled")
}

// terminate ends the login flow and reports err as its single outcome.
func (m *Manager) terminate(err *errcode.Error) {
	m.teardown()
	m.failRoutes(err)
	m.forget()
	m.setState(StateDisconnected)
	m.bus.Publish(notify.ErrorEvent{Err: err})
	m.log.Warn().Err(err).Msg("login ended")
}

func (m *Manager) forget() {
	m.loginActive = false
	m.everOnline = false
	m.retryPending = false
	m.creds = Credentials{}
	m.blob = nil
	m.username = ""
	m.accountType = ""
}

func (m *Manager) teardown() {
	if m.conn != nil {
		if err := m.conn.Close(); err != nil {
			m.log.Debug().Err(err).Msg("close failed")
		}
		m.conn = nil
	}
	m.dec.Reset()
	m.out = nil
	m.phase = phaseIdle
}

func (m *Manager) setState(s State) {
	if s == m.state {
		return
	}
	prev := m.state
	m.state = s
	metrics.SessionStateTransitions.WithLabelValues(s.String()).Inc()
	m.log.Debug().Stringer("from", prev).Stringer("to", s).Msg("connection state changed")
	m.bus.Publish(StateEvent{State: s, Prev: prev})
}

// ABOUTME: Transport-agnostic access point: one Peer per connection
// ABOUTME: Handshake, login, clock sync, metadata and chunked file fetches
package accesspoint

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/Thalhammer/libspotify-embedded/internal/metrics"
	"github.com/Thalhammer/libspotify-embedded/internal/version"
	"github.com/Thalhammer/libspotify-embedded/pkg/errcode"
	"github.com/Thalhammer/libspotify-embedded/pkg/protocol"
)

// DefaultChunkSize is the data carried by one chunk frame. Frames are not
// aligned to cache chunks.
const DefaultChunkSize = 3000

// ErrPeerClosed is returned by Feed after the peer has closed.
var ErrPeerClosed = errors.New("accesspoint: peer closed")

// Config configures a Service.
type Config struct {
	Name      string     `validate:"required,max=64"`
	Directory *Directory `validate:"required"`
	Sealer    *Sealer    `validate:"required"`
	Catalog   *Catalog   `validate:"required"`

	// LoginRate and LoginBurst bound login attempts per peer.
	LoginRate  rate.Limit
	LoginBurst int `validate:"gte=0"`

	ChunkSize int `validate:"gte=0,lte=65536"`

	Clock  clock.Clock
	Logger zerolog.Logger
}

// Service holds state shared by all peers.
type Service struct {
	cfg      Config
	serverID string
	log      zerolog.Logger

	mu    sync.Mutex
	peers map[string]*Peer
}

// NewService validates cfg and creates a service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Name == "" {
		cfg.Name = "libspotify-embedded AP"
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid access point config: %w", err)
	}
	if cfg.LoginRate == 0 {
		cfg.LoginRate = rate.Limit(1)
	}
	if cfg.LoginBurst == 0 {
		cfg.LoginBurst = 5
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}

	return &Service{
		cfg:      cfg,
		serverID: uuid.NewString(),
		log:      cfg.Logger.With().Str("component", "accesspoint").Logger(),
		peers:    make(map[string]*Peer),
	}, nil
}

// Name returns the advertised server name.
func (s *Service) Name() string { return s.cfg.Name }

// Catalog returns the catalog served to peers.
func (s *Service) Catalog() *Catalog { return s.cfg.Catalog }

// NewPeer registers a new connection.
func (s *Service) NewPeer() *Peer {
	p := &Peer{
		id:      uuid.NewString(),
		svc:     s,
		dec:     protocol.NewDecoder(protocol.MaxPayload),
		limiter: rate.NewLimiter(s.cfg.LoginRate, s.cfg.LoginBurst),
		fetches: make(map[uint32]*fetch),
		wake:    make(chan struct{}, 1),
	}
	p.log = s.log.With().Str("peer", p.id).Logger()

	s.mu.Lock()
	s.peers[p.id] = p
	s.mu.Unlock()
	metrics.AccessPointPeers.Inc()
	p.log.Debug().Msg("peer connected")
	return p
}

func (s *Service) removePeer(p *Peer) {
	s.mu.Lock()
	_, ok := s.peers[p.id]
	delete(s.peers, p.id)
	s.mu.Unlock()
	if ok {
		metrics.AccessPointPeers.Dec()
		p.log.Debug().Msg("peer disconnected")
	}
}

// Peers returns the number of connected peers.
func (s *Service) Peers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// Broadcast pushes a server/message to every logged in peer and returns
// how many received it.
func (s *Service) Broadcast(text string) int {
	return s.each(func(p *Peer) { p.push(protocol.TypeServerMessage, protocol.ServerMessage{Text: text}) })
}

// Command pushes a remote control command to every logged in peer.
func (s *Service) Command(cmd protocol.ServerCommand) int {
	return s.each(func(p *Peer) { p.push(protocol.TypeServerCommand, cmd) })
}

func (s *Service) each(fn func(*Peer)) int {
	s.mu.Lock()
	peers := make([]*Peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	n := 0
	for _, p := range peers {
		if p.LoggedIn() {
			fn(p)
			n++
		}
	}
	return n
}

type peerPhase int

const (
	peerHello peerPhase = iota
	peerAuth
	peerOnline
)

type fetch struct {
	id     uint32
	data   []byte
	offset uint32
	end    uint32
}

// Peer is the server side of one connection. Inbound bytes go to Feed;
// outbound bytes are drained with Read. Peer is safe for concurrent use.
type Peer struct {
	id  string
	svc *Service
	log zerolog.Logger

	mu          sync.Mutex
	dec         *protocol.Decoder
	out         []byte
	phase       peerPhase
	closed      bool
	username    string
	displayName string
	limiter     *rate.Limiter

	fetches map[uint32]*fetch
	order   []uint32
	next    int

	wake chan struct{}
}

// ID returns the connection id.
func (p *Peer) ID() string { return p.id }

// LoggedIn reports whether the peer has authenticated.
func (p *Peer) LoggedIn() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.phase == peerOnline && !p.closed
}

// Username returns the canonical name of the authenticated user.
func (p *Peer) Username() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.username
}

// DisplayName returns the name the device advertised.
func (p *Peer) DisplayName() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.displayName
}

// Fetches returns the number of outstanding fetches.
func (p *Peer) Fetches() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.fetches)
}

// Closed reports whether the peer said goodbye or was closed.
func (p *Peer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Wake is signalled when output is queued from outside Feed.
func (p *Peer) Wake() <-chan struct{} { return p.wake }

// Close drops the peer.
func (p *Peer) Close() {
	p.mu.Lock()
	p.closed = true
	p.fetches = make(map[uint32]*fetch)
	p.order = nil
	p.mu.Unlock()
	p.svc.removePeer(p)
}

// Feed consumes inbound bytes. A returned error means the stream is
// corrupt and the connection should be closed.
func (p *Peer) Feed(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPeerClosed
	}
	p.dec.Feed(data)
	for !p.closed {
		f, ok, err := p.dec.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if f.Type != protocol.FrameControl {
			p.log.Warn().Msg("client sent a chunk frame")
			continue
		}
		env, err := protocol.DecodeEnvelope(f.Payload)
		if err != nil {
			p.log.Warn().Err(err).Msg("bad control frame")
			continue
		}
		if err := p.handle(env); err != nil {
			p.log.Warn().Err(err).Str("type", env.Type).Msg("bad message payload")
		}
	}
	return nil
}

// Pending reports whether Read would return data.
func (p *Peer) Pending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.out) > 0 || len(p.order) > 0
}

// Read drains up to len(b) outbound bytes. When the control backlog is
// short, chunk frames for outstanding fetches are added round-robin.
func (p *Peer) Read(b []byte) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.out) < len(b) && len(p.order) > 0 {
		p.serveChunk()
	}
	n := copy(b, p.out)
	p.out = p.out[n:]
	if len(p.out) == 0 {
		p.out = nil
	}
	return n
}

func (p *Peer) serveChunk() {
	if p.next >= len(p.order) {
		p.next = 0
	}
	id := p.order[p.next]
	f := p.fetches[id]

	n := f.end - f.offset
	if n > uint32(p.svc.cfg.ChunkSize) {
		n = uint32(p.svc.cfg.ChunkSize)
	}
	if n > 0 {
		p.out = protocol.AppendChunk(p.out, id, f.offset, f.data[f.offset:f.offset+n])
		f.offset += n
		metrics.AccessPointBytesServed.Add(float64(n))
	}
	if f.offset >= f.end {
		p.queue(protocol.TypeServerFetchDone, protocol.ServerFetchDone{ReqID: id})
		p.dropFetch(id)
		return
	}
	p.next++
}

func (p *Peer) dropFetch(id uint32) {
	delete(p.fetches, id)
	for i, v := range p.order {
		if v == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			if p.next > i {
				p.next--
			}
			break
		}
	}
}

func (p *Peer) queue(msgType string, payload interface{}) {
	out, err := protocol.AppendControl(p.out, msgType, payload)
	if err != nil {
		p.log.Error().Err(err).Str("type", msgType).Msg("failed to encode message")
		return
	}
	p.out = out
}

// push queues a message from outside the peer's read loop.
func (p *Peer) push(msgType string, payload interface{}) {
	p.mu.Lock()
	p.queue(msgType, payload)
	p.mu.Unlock()
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Peer) handle(env protocol.Envelope) error {
	if env.Type == protocol.TypeClientGoodbye {
		var bye protocol.ClientGoodbye
		_ = env.Into(&bye)
		p.log.Debug().Str("reason", bye.Reason).Msg("client goodbye")
		p.closed = true
		return nil
	}
	if env.Type == protocol.TypeClientTime {
		return p.handleTime(env)
	}

	switch p.phase {
	case peerHello:
		if env.Type != protocol.TypeClientHello {
			return fmt.Errorf("expected client/hello")
		}
		return p.handleHello(env)
	case peerAuth:
		if env.Type != protocol.TypeClientLogin {
			return fmt.Errorf("expected client/login")
		}
		return p.handleLogin(env)
	}

	switch env.Type {
	case protocol.TypeClientMetadata:
		return p.handleMetadata(env)
	case protocol.TypeClientFetch:
		return p.handleFetch(env)
	case protocol.TypeClientFetchCancel:
		var c protocol.ClientFetchCancel
		if err := env.Into(&c); err != nil {
			return err
		}
		p.dropFetch(c.ReqID)
	case protocol.TypeClientDisplayName:
		var d protocol.ClientDisplayName
		if err := env.Into(&d); err != nil {
			return err
		}
		p.displayName = d.DisplayName
		p.log.Debug().Str("display_name", d.DisplayName).Msg("display name changed")
	default:
		p.log.Debug().Str("type", env.Type).Msg("unhandled message")
	}
	return nil
}

func (p *Peer) handleHello(env protocol.Envelope) error {
	var hello protocol.ClientHello
	if err := env.Into(&hello); err != nil {
		return err
	}
	p.displayName = hello.DisplayName
	p.log.Info().
		Str("device_id", hello.DeviceID).
		Str("brand", hello.Brand).
		Str("model", hello.Model).
		Str("version", hello.Version).
		Msg("client hello")

	p.phase = peerAuth
	p.queue(protocol.TypeServerHello, protocol.ServerHello{
		ServerID:   p.svc.serverID,
		Name:       p.svc.cfg.Name,
		Version:    version.APIVersion,
		ServerTime: p.svc.cfg.Clock.Now().UnixMilli(),
	})
	return nil
}

func (p *Peer) handleLogin(env protocol.Envelope) error {
	var login protocol.ClientLogin
	if err := env.Into(&login); err != nil {
		return err
	}
	if !p.limiter.AllowN(p.svc.cfg.Clock.Now(), 1) {
		p.loginFailed(errcode.APIRateLimited, "too many login attempts")
		return nil
	}

	dir := p.svc.cfg.Directory
	var acct Account
	var code errcode.Code
	switch login.Method {
	case protocol.LoginPassword:
		acct, code = dir.CheckPassword(login.Username, login.Password)
	case protocol.LoginToken:
		acct, code = dir.CheckToken(login.Token)
	case protocol.LoginBlob:
		acct, code = p.checkBlob(login.Username, login.Blob)
	default:
		p.loginFailed(errcode.InvalidArgument, "unknown login method "+login.Method)
		return nil
	}
	if code != errcode.OK {
		p.loginFailed(code, "")
		return nil
	}

	blob, err := p.svc.cfg.Sealer.Seal(acct.Username, p.svc.cfg.Clock.Now())
	if err != nil {
		p.log.Error().Err(err).Msg("failed to seal login blob")
		p.loginFailed(errcode.GeneralLoginError, "")
		return nil
	}

	p.phase = peerOnline
	p.username = acct.Username
	p.queue(protocol.TypeServerLoginOK, protocol.ServerLoginOK{
		Username:    acct.Username,
		Blob:        base64.StdEncoding.EncodeToString(blob),
		AccountType: acct.Type,
	})
	p.log.Info().Str("username", acct.Username).Str("method", login.Method).Msg("login accepted")
	return nil
}

func (p *Peer) checkBlob(username, encoded string) (Account, errcode.Code) {
	blob, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return Account{}, errcode.BadCredentials
	}
	owner, err := p.svc.cfg.Sealer.Open(blob, p.svc.cfg.Clock.Now())
	if err != nil {
		p.log.Debug().Err(err).Msg("blob rejected")
		return Account{}, errcode.BadCredentials
	}
	if !strings.EqualFold(owner, username) {
		return Account{}, errcode.BadCredentials
	}
	return p.svc.cfg.Directory.CheckUser(owner)
}

func (p *Peer) loginFailed(code errcode.Code, reason string) {
	p.log.Info().Stringer("code", code).Msg("login rejected")
	p.queue(protocol.TypeServerLoginFailed, protocol.ServerLoginFailed{Code: code.String(), Reason: reason})
}

func (p *Peer) handleTime(env protocol.Envelope) error {
	received := p.svc.cfg.Clock.Now().UnixMicro()
	var ct protocol.ClientTime
	if err := env.Into(&ct); err != nil {
		return err
	}
	p.queue(protocol.TypeServerTime, protocol.ServerTime{
		ClientTransmitted: ct.ClientTransmitted,
		ServerReceived:    received,
		ServerTransmitted: p.svc.cfg.Clock.Now().UnixMicro(),
	})
	return nil
}

func (p *Peer) handleMetadata(env protocol.Envelope) error {
	var req protocol.ClientMetadata
	if err := env.Into(&req); err != nil {
		return err
	}
	md, code := p.svc.cfg.Catalog.Resolve(req.URI)
	if code != errcode.OK {
		p.queue(protocol.TypeServerMetaFailed, protocol.ServerMetadataFailed{ReqID: req.ReqID, Code: code.String()})
		return nil
	}
	md.ReqID = req.ReqID
	p.queue(protocol.TypeServerMetadata, md)
	return nil
}

func (p *Peer) handleFetch(env protocol.Envelope) error {
	var req protocol.ClientFetch
	if err := env.Into(&req); err != nil {
		return err
	}
	data, ok := p.svc.cfg.Catalog.File(req.FileID)
	if !ok {
		p.queue(protocol.TypeServerFetchFailed, protocol.ServerFetchFailed{ReqID: req.ReqID, Code: errcode.PlaybackGeneral.String()})
		return nil
	}
	size := uint32(len(data))
	if req.Offset > size {
		p.queue(protocol.TypeServerFetchFailed, protocol.ServerFetchFailed{ReqID: req.ReqID, Code: errcode.InvalidArgument.String()})
		return nil
	}
	end := size
	if req.Length > 0 && req.Length < size-req.Offset {
		end = req.Offset + req.Length
	}
	if _, dup := p.fetches[req.ReqID]; dup {
		p.dropFetch(req.ReqID)
	}
	p.fetches[req.ReqID] = &fetch{id: req.ReqID, data: data, offset: req.Offset, end: end}
	p.order = append(p.order, req.ReqID)
	return nil
}

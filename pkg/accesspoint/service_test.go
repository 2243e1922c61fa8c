// ABOUTME: Tests for the transport-agnostic peer protocol handling
// ABOUTME: Drives a Peer with encoded frames and inspects its output
package accesspoint

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/Thalhammer/libspotify-embedded/pkg/errcode"
	"github.com/Thalhammer/libspotify-embedded/pkg/protocol"
)

func newTestService(t *testing.T, clk clock.Clock) *Service {
	t.Helper()
	sealer, err := NewSealer(testSecret)
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}
	catalog := NewCatalog(zerolog.Nop())
	if err := catalog.AddTone("spotify:track:a", "A", 440, time.Second); err != nil {
		t.Fatalf("AddTone: %v", err)
	}
	svc, err := NewService(Config{
		Name:      "test ap",
		Directory: newTestDirectory(t),
		Sealer:    sealer,
		Catalog:   catalog,
		Clock:     clk,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

// client drives a Peer the way a session would.
type client struct {
	t    *testing.T
	peer *Peer
	dec  *protocol.Decoder
}

func newClient(t *testing.T, svc *Service) *client {
	return &client{t: t, peer: svc.NewPeer(), dec: protocol.NewDecoder(0)}
}

func (c *client) send(msgType string, payload interface{}) {
	c.t.Helper()
	data, err := protocol.AppendControl(nil, msgType, payload)
	if err != nil {
		c.t.Fatalf("AppendControl: %v", err)
	}
	if err := c.peer.Feed(data); err != nil {
		c.t.Fatalf("Feed: %v", err)
	}
}

// frames drains everything the peer has to say.
func (c *client) frames() []protocol.Frame {
	c.t.Helper()
	buf := make([]byte, 4096)
	for {
		n := c.peer.Read(buf)
		if n == 0 {
			break
		}
		c.dec.Feed(buf[:n])
	}
	var out []protocol.Frame
	for {
		f, ok, err := c.dec.Next()
		if err != nil {
			c.t.Fatalf("decode: %v", err)
		}
		if !ok {
			return out
		}
		out = append(out, f)
	}
}

func (c *client) expect(msgType string, v interface{}) {
	c.t.Helper()
	frames := c.frames()
	if len(frames) != 1 {
		c.t.Fatalf("got %d frames, want one %s", len(frames), msgType)
	}
	env, err := protocol.DecodeEnvelope(frames[0].Payload)
	if err != nil {
		c.t.Fatalf("DecodeEnvelope: %v", err)
	}
	if env.Type != msgType {
		c.t.Fatalf("type = %s, want %s (%s)", env.Type, msgType, env.Payload)
	}
	if v != nil {
		if err := env.Into(v); err != nil {
			c.t.Fatalf("Into: %v", err)
		}
	}
}

func (c *client) login(login protocol.ClientLogin) {
	c.t.Helper()
	c.send(protocol.TypeClientHello, protocol.ClientHello{ClientID: "c", DeviceID: "d", APIVersion: 13, DisplayName: "Kitchen"})
	c.expect(protocol.TypeServerHello, nil)
	c.send(protocol.TypeClientLogin, login)
}

func TestPeerHandshake(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.Unix(1700000000, 0))
	svc := newTestService(t, clk)
	c := newClient(t, svc)

	c.send(protocol.TypeClientMetadata, protocol.ClientMetadata{ReqID: 1, URI: "spotify:track:a"})
	if frames := c.frames(); len(frames) != 0 {
		t.Fatalf("messages before hello should be ignored, got %d frames", len(frames))
	}

	c.send(protocol.TypeClientHello, protocol.ClientHello{ClientID: "c", APIVersion: 13, DisplayName: "Kitchen"})
	var hello protocol.ServerHello
	c.expect(protocol.TypeServerHello, &hello)
	if hello.Name != "test ap" {
		t.Errorf("name = %q", hello.Name)
	}
	if hello.ServerTime != clk.Now().UnixMilli() {
		t.Errorf("server time = %d, want %d", hello.ServerTime, clk.Now().UnixMilli())
	}
	if c.peer.DisplayName() != "Kitchen" {
		t.Errorf("display name = %q", c.peer.DisplayName())
	}

	c.send(protocol.TypeClientTime, protocol.ClientTime{ClientTransmitted: 42})
	var st protocol.ServerTime
	c.expect(protocol.TypeServerTime, &st)
	if st.ClientTransmitted != 42 || st.ServerReceived != clk.Now().UnixMicro() {
		t.Errorf("server time = %+v", st)
	}
}

func TestPeerLogin(t *testing.T) {
	clk := clock.NewMock()
	svc := newTestService(t, clk)

	c := newClient(t, svc)
	c.login(protocol.ClientLogin{Method: protocol.LoginPassword, Username: "alice", Password: "secret"})
	var ok protocol.ServerLoginOK
	c.expect(protocol.TypeServerLoginOK, &ok)
	if ok.Username != "Alice" || ok.AccountType != Premium {
		t.Errorf("login ok = %+v", ok)
	}
	if !c.peer.LoggedIn() || c.peer.Username() != "Alice" {
		t.Error("peer should be logged in as Alice")
	}

	// the issued blob logs in on a fresh connection
	c2 := newClient(t, svc)
	c2.login(protocol.ClientLogin{Method: protocol.LoginBlob, Username: "Alice", Blob: ok.Blob})
	c2.expect(protocol.TypeServerLoginOK, nil)

	// but not for somebody else
	c3 := newClient(t, svc)
	c3.login(protocol.ClientLogin{Method: protocol.LoginBlob, Username: "mallory", Blob: ok.Blob})
	var failed protocol.ServerLoginFailed
	c3.expect(protocol.TypeServerLoginFailed, &failed)
	if errcode.Parse(failed.Code) != errcode.BadCredentials {
		t.Errorf("code = %s", failed.Code)
	}
}

func TestPeerLoginFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*Directory)
		login protocol.ClientLogin
		want  errcode.Code
	}{
		{
			name:  "bad password",
			login: protocol.ClientLogin{Method: protocol.LoginPassword, Username: "alice", Password: "x"},
			want:  errcode.BadCredentials,
		},
		{
			name:  "free account",
			setup: func(d *Directory) { d.Update("alice", func(a *Account) { a.Type = Free }) },
			login: protocol.ClientLogin{Method: protocol.LoginPassword, Username: "alice", Password: "secret"},
			want:  errcode.NeedsPremium,
		},
		{
			name:  "garbage blob",
			login: protocol.ClientLogin{Method: protocol.LoginBlob, Username: "alice", Blob: base64.StdEncoding.EncodeToString([]byte("garbage"))},
			want:  errcode.BadCredentials,
		},
		{
			name:  "unknown token",
			login: protocol.ClientLogin{Method: protocol.LoginToken, Token: "nope"},
			want:  errcode.BadCredentials,
		},
		{
			name:  "unknown method",
			login: protocol.ClientLogin{Method: "telepathy"},
			want:  errcode.InvalidArgument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(t, clock.NewMock())
			if tt.setup != nil {
				tt.setup(svc.cfg.Directory)
			}
			c := newClient(t, svc)
			c.login(tt.login)
			var failed protocol.ServerLoginFailed
			c.expect(protocol.TypeServerLoginFailed, &failed)
			if got := errcode.Parse(failed.Code); got != tt.want {
				t.Errorf("code = %s, want %s", got, tt.want)
			}
			if c.peer.LoggedIn() {
				t.Error("peer should not be logged in")
			}
		})
	}
}

func TestPeerLoginRateLimit(t *testing.T) {
	clk := clock.NewMock()
	svc := newTestService(t, clk)
	svc.cfg.LoginRate = rate.Every(time.Minute)
	svc.cfg.LoginBurst = 2

	c := newClient(t, svc)
	bad := protocol.ClientLogin{Method: protocol.LoginPassword, Username: "alice", Password: "x"}
	c.login(bad)

	codes := []errcode.Code{}
	for i := 0; i < 3; i++ {
		if i > 0 {
			c.send(protocol.TypeClientLogin, bad)
		}
		var failed protocol.ServerLoginFailed
		c.expect(protocol.TypeServerLoginFailed, &failed)
		codes = append(codes, errcode.Parse(failed.Code))
	}
	if codes[0] != errcode.BadCredentials || codes[1] != errcode.BadCredentials || codes[2] != errcode.APIRateLimited {
		t.Errorf("codes = %v", codes)
	}

	clk.Add(time.Minute)
	c.send(protocol.TypeClientLogin, protocol.ClientLogin{Method: protocol.LoginPassword, Username: "alice", Password: "secret"})
	c.expect(protocol.TypeServerLoginOK, nil)
}

func loggedInClient(t *testing.T, svc *Service) *client {
	t.Helper()
	c := newClient(t, svc)
	c.login(protocol.ClientLogin{Method: protocol.LoginPassword, Username: "alice", Password: "secret"})
	c.expect(protocol.TypeServerLoginOK, nil)
	return c
}

func TestPeerMetadata(t *testing.T) {
	svc := newTestService(t, clock.NewMock())
	c := loggedInClient(t, svc)

	c.send(protocol.TypeClientMetadata, protocol.ClientMetadata{ReqID: 7, URI: "spotify:track:a"})
	var md protocol.ServerMetadata
	c.expect(protocol.TypeServerMetadata, &md)
	if md.ReqID != 7 || len(md.Tracks) != 1 || md.Tracks[0].Title != "A" {
		t.Errorf("metadata = %+v", md)
	}

	c.send(protocol.TypeClientMetadata, protocol.ClientMetadata{ReqID: 8, URI: "spotify:track:zzz"})
	var failed protocol.ServerMetadataFailed
	c.expect(protocol.TypeServerMetaFailed, &failed)
	if failed.ReqID != 8 || errcode.Parse(failed.Code) != errcode.ContextFailed {
		t.Errorf("failed = %+v", failed)
	}
}

func TestPeerFetch(t *testing.T) {
	svc := newTestService(t, clock.NewMock())
	c := loggedInClient(t, svc)

	md, _ := svc.Catalog().Resolve("spotify:track:a")
	file := md.Tracks[0].Files[0]
	data, _ := svc.Catalog().File(file.FileID)

	c.send(protocol.TypeClientFetch, protocol.ClientFetch{ReqID: 1, FileID: file.FileID, Offset: 100, Length: 7000})
	if c.peer.Fetches() != 1 {
		t.Fatalf("fetches = %d, want 1", c.peer.Fetches())
	}

	frames := c.frames()
	if len(frames) != 4 {
		t.Fatalf("got %d frames, want 3 chunks and done", len(frames))
	}
	got := make([]byte, 0, 7000)
	for i, f := range frames[:3] {
		if f.Type != protocol.FrameChunk {
			t.Fatalf("frame %d is not a chunk", i)
		}
		chunk, err := protocol.ParseChunk(f.Payload)
		if err != nil {
			t.Fatalf("ParseChunk: %v", err)
		}
		if chunk.ReqID != 1 || chunk.Offset != uint32(100+len(got)) {
			t.Errorf("chunk %d = req %d off %d", i, chunk.ReqID, chunk.Offset)
		}
		got = append(got, chunk.Data...)
	}
	if string(got) != string(data[100:7100]) {
		t.Error("fetched bytes differ from file")
	}
	env, _ := protocol.DecodeEnvelope(frames[3].Payload)
	if env.Type != protocol.TypeServerFetchDone {
		t.Errorf("last frame = %s", env.Type)
	}
	if c.peer.Fetches() != 0 {
		t.Error("fetch should be finished")
	}
}

func TestPeerFetchErrorsAndCancel(t *testing.T) {
	svc := newTestService(t, clock.NewMock())
	c := loggedInClient(t, svc)
	md, _ := svc.Catalog().Resolve("spotify:track:a")
	file := md.Tracks[0].Files[0]

	c.send(protocol.TypeClientFetch, protocol.ClientFetch{ReqID: 1, FileID: "missing"})
	var failed protocol.ServerFetchFailed
	c.expect(protocol.TypeServerFetchFailed, &failed)
	if failed.ReqID != 1 {
		t.Errorf("failed = %+v", failed)
	}

	c.send(protocol.TypeClientFetch, protocol.ClientFetch{ReqID: 2, FileID: file.FileID, Offset: file.Size + 1})
	c.expect(protocol.TypeServerFetchFailed, &failed)
	if errcode.Parse(failed.Code) != errcode.InvalidArgument {
		t.Errorf("out of range code = %s", failed.Code)
	}

	c.send(protocol.TypeClientFetch, protocol.ClientFetch{ReqID: 3, FileID: file.FileID})
	c.send(protocol.TypeClientFetchCancel, protocol.ClientFetchCancel{ReqID: 3})
	if frames := c.frames(); len(frames) != 0 {
		t.Errorf("cancelled fetch produced %d frames", len(frames))
	}
}

func TestPeerFetchRoundRobin(t *testing.T) {
	svc := newTestService(t, clock.NewMock())
	c := loggedInClient(t, svc)
	md, _ := svc.Catalog().Resolve("spotify:track:a")
	file := md.Tracks[0].Files[0]

	c.send(protocol.TypeClientFetch, protocol.ClientFetch{ReqID: 1, FileID: file.FileID, Length: 6000})
	c.send(protocol.TypeClientFetch, protocol.ClientFetch{ReqID: 2, FileID: file.FileID, Length: 6000})

	var order []uint32
	for _, f := range c.frames() {
		if f.Type == protocol.FrameChunk {
			chunk, _ := protocol.ParseChunk(f.Payload)
			order = append(order, chunk.ReqID)
		}
	}
	want := []uint32{1, 2, 1, 2}
	if len(order) != len(want) {
		t.Fatalf("chunk order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("chunk order = %v, want %v", order, want)
		}
	}
}

func TestServiceBroadcast(t *testing.T) {
	svc := newTestService(t, clock.NewMock())
	online := loggedInClient(t, svc)
	pending := newClient(t, svc)

	if n := svc.Broadcast("hello"); n != 1 {
		t.Fatalf("Broadcast reached %d peers, want 1", n)
	}
	select {
	case <-online.peer.Wake():
	default:
		t.Error("broadcast should wake the peer")
	}
	var msg protocol.ServerMessage
	online.expect(protocol.TypeServerMessage, &msg)
	if msg.Text != "hello" {
		t.Errorf("text = %q", msg.Text)
	}
	if frames := pending.frames(); len(frames) != 0 {
		t.Error("peer without login should not receive broadcasts")
	}

	if n := svc.Command(protocol.ServerCommand{Command: "pause"}); n != 1 {
		t.Errorf("Command reached %d peers", n)
	}
	var cmd protocol.ServerCommand
	online.expect(protocol.TypeServerCommand, &cmd)
	if cmd.Command != "pause" {
		t.Errorf("command = %q", cmd.Command)
	}

	if svc.Peers() != 2 {
		t.Errorf("peers = %d, want 2", svc.Peers())
	}
	online.send(protocol.TypeClientGoodbye, protocol.ClientGoodbye{Reason: "logout"})
	if !online.peer.Closed() {
		t.Error("goodbye should close the peer")
	}
	online.peer.Close()
	pending.peer.Close()
	if svc.Peers() != 0 {
		t.Errorf("peers = %d after close", svc.Peers())
	}
}

func TestNewServiceValidation(t *testing.T) {
	if _, err := NewService(Config{}); err == nil {
		t.Error("empty config should fail")
	}
	sealer, _ := NewSealer(testSecret)
	_, err := NewService(Config{
		Directory: NewDirectory(),
		Sealer:    sealer,
		Catalog:   NewCatalog(zerolog.Nop()),
		ChunkSize: 1 << 20,
	})
	if err == nil {
		t.Error("oversized chunk should fail")
	}
}

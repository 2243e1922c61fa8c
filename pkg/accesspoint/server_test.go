// ABOUTME: Integration tests for the websocket access point server
// ABOUTME: Runs a real listener and talks to it with a gorilla client
package accesspoint

import (
	"net"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"

	"github.com/Thalhammer/libspotify-embedded/pkg/protocol"
)

func TestNewServerRequiresService(t *testing.T) {
	if _, err := NewServer(ServerConfig{}); err == nil {
		t.Error("expected error without service")
	}
	srv, err := NewServer(ServerConfig{Service: newTestService(t, clock.New())})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if srv.config.Port != DefaultPort || srv.config.Path != DefaultPath {
		t.Errorf("defaults not applied: %+v", srv.config)
	}
}

func TestServerHandshake(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	svc := newTestService(t, clock.New())
	srv, err := NewServer(ServerConfig{Listener: ln, Service: svc})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- srv.Start() }()
	defer func() {
		srv.Stop()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Start returned %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	}()

	url := "ws://" + ln.Addr().String() + DefaultPath
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello, _ := protocol.AppendControl(nil, protocol.TypeClientHello, protocol.ClientHello{ClientID: "c", APIVersion: 13})
	login, _ := protocol.AppendControl(nil, protocol.TypeClientLogin, protocol.ClientLogin{
		Method: protocol.LoginPassword, Username: "alice", Password: "secret",
	})
	// split the stream across messages to exercise reassembly
	stream := append(hello, login...)
	for _, part := range [][]byte{stream[:5], stream[5:]} {
		if err := conn.WriteMessage(websocket.BinaryMessage, part); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	dec := protocol.NewDecoder(0)
	var types []string
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for len(types) < 2 {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		dec.Feed(data)
		for {
			f, ok, err := dec.Next()
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !ok {
				break
			}
			env, _ := protocol.DecodeEnvelope(f.Payload)
			types = append(types, env.Type)
		}
	}
	if types[0] != protocol.TypeServerHello || types[1] != protocol.TypeServerLoginOK {
		t.Errorf("types = %v", types)
	}
	if svc.Peers() != 1 {
		t.Errorf("peers = %d, want 1", svc.Peers())
	}
}

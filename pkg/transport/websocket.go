// ABOUTME: gorilla websocket adapter presenting a non-blocking Conn
// ABOUTME: Reader and writer goroutines bridge blocking I/O through channels
package transport

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// WebSocketDialer connects to an access point over ws://host/path.
type WebSocketDialer struct {
	Path             string
	HandshakeTimeout time.Duration
	QueueSize        int
	Logger           zerolog.Logger
}

// NewWebSocketDialer returns a dialer with defaults applied.
func NewWebSocketDialer(path string, logger zerolog.Logger) *WebSocketDialer {
	if path == "" {
		path = "/ap"
	}
	return &WebSocketDialer{
		Path:             path,
		HandshakeTimeout: 5 * time.Second,
		QueueSize:        256,
		Logger:           logger,
	}
}

// Dial starts connecting in the background and returns immediately.
func (d *WebSocketDialer) Dial(addr string) (Conn, error) {
	u := url.URL{Scheme: "ws", Host: addr, Path: d.Path}

	ctx, cancel := context.WithCancel(context.Background())
	c := &wsConn{
		inbound:  make(chan []byte, d.QueueSize),
		outbound: make(chan []byte, d.QueueSize),
		ctx:      ctx,
		cancel:   cancel,
		log:      d.Logger.With().Str("url", u.String()).Logger(),
	}

	dialer := websocket.Dialer{HandshakeTimeout: d.HandshakeTimeout}
	go c.connect(dialer, u.String())
	return c, nil
}

type wsConn struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	open    bool
	err     error
	current []byte

	inbound  chan []byte
	outbound chan []byte

	ctx    context.Context
	cancel context.CancelFunc
	log    zerolog.Logger
}

func (c *wsConn) connect(dialer websocket.Dialer, rawURL string) {
	conn, _, err := dialer.DialContext(c.ctx, rawURL, nil)
	if err != nil {
		c.fail(fmt.Errorf("dial failed: %w", err))
		return
	}

	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.open = true
	c.mu.Unlock()

	c.log.Debug().Msg("websocket connected")

	go c.readLoop()
	go c.writeLoop()
}

func (c *wsConn) readLoop() {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			c.fail(fmt.Errorf("read failed: %w", err))
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		select {
		case c.inbound <- data:
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *wsConn) writeLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	const writeDeadline = 10 * time.Second

	for {
		select {
		case data := <-c.outbound:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				c.fail(fmt.Errorf("write failed: %w", err))
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline)); err != nil {
				c.fail(fmt.Errorf("ping failed: %w", err))
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *wsConn) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = err
		c.log.Debug().Err(err).Msg("websocket failed")
	}
}

func (c *wsConn) Send(p []byte) (int, error) {
	c.mu.Lock()
	open, err := c.open, c.err
	c.mu.Unlock()

	if err != nil {
		return 0, err
	}
	if !open {
		return 0, ErrWouldBlock
	}

	buf := make([]byte, len(p))
	copy(buf, p)
	select {
	case c.outbound <- buf:
		return len(p), nil
	default:
		return 0, ErrWouldBlock
	}
}

func (c *wsConn) Recv(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.current) == 0 {
		select {
		case data := <-c.inbound:
			c.current = data
		default:
			if c.err != nil {
				return 0, c.err
			}
			return 0, ErrWouldBlock
		}
	}
	n := copy(p, c.current)
	c.current = c.current[n:]
	return n, nil
}

func (c *wsConn) Close() error {
	c.fail(ErrClosed)
	c.cancel()

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return conn.Close()
}

package signaling

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server is the offerer-side WebSocket server. It accepts exactly one client
// presenting the right PIN.
type Server struct {
	pin      string
	listener net.Listener
	httpSrv  *http.Server
	connCh   chan *websocket.Conn
}

// NewServer creates a new signaling server with the given PIN for authentication.
func NewServer(pin string) *Server {
	return &Server{
		pin:    pin,
		connCh: make(chan *websocket.Conn, 1),
	}
}

// PIN returns the PIN clients must present.
func (s *Server) PIN() string { return s.pin }

// Start begins listening on addr (":0" picks a random port). Returns the
// assigned port number.
func (s *Server) Start(addr string) (int, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("failed to start WS server: %w", err)
	}
	s.listener = listener
	port := listener.Addr().(*net.TCPAddr).Port

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	s.httpSrv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		_ = s.httpSrv.Serve(listener)
	}()

	return port, nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	pin := r.URL.Query().Get("pin")
	if pin != s.pin {
		http.Error(w, "Invalid PIN", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	// Only accept the first client.
	select {
	case s.connCh <- conn:
	default:
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "already connected"))
		conn.Close()
	}
}

// WaitForClient blocks until a client connects or ctx is cancelled.
func (s *Server) WaitForClient(ctx context.Context) (*Peer, error) {
	select {
	case conn := <-s.connCh:
		return newPeer(conn), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close shuts down the listener, preventing new connections. Established
// peers are not affected.
func (s *Server) Close() {
	if s.httpSrv != nil {
		s.httpSrv.Close()
	}
}

// Dial connects to the offerer's server. url must carry the PIN, e.g.
//
//	wss://example.devtunnels.ms/ws?pin=1234
func Dial(ctx context.Context, url string) (*Peer, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("failed to connect to WS server: invalid PIN")
		}
		return nil, fmt.Errorf("failed to connect to WS server: %w", err)
	}
	return newPeer(conn), nil
}

// NormalizeURL turns operator input ("host", "https://host/...?pin=1")
// into a WebSocket URL on the /ws path, keeping the PIN query. Schemes other
// than ws and wss default to wss.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "wss://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid WebSocket URL: %s", raw)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		u.Scheme = "wss"
	}
	u.Path = "/ws"
	u.Fragment = ""
	return u.String(), nil
}

// Peer is one end of an established signaling WebSocket. It implements
// Exchanger.
type Peer struct {
	conn *websocket.Conn
	mu   sync.Mutex // serializes writes
}

func newPeer(conn *websocket.Conn) *Peer {
	return &Peer{conn: conn}
}

func (p *Peer) send(ctx context.Context, msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if d, ok := ctx.Deadline(); ok {
		p.conn.SetWriteDeadline(d)
		defer p.conn.SetWriteDeadline(time.Time{})
	}
	return p.conn.WriteJSON(msg)
}

// Send writes text as a description message.
func (p *Peer) Send(ctx context.Context, text string) error {
	if err := p.send(ctx, Message{Type: MsgTypeDescription, Description: text}); err != nil {
		return fmt.Errorf("failed to send description: %w", err)
	}
	return nil
}

// Receive waits for the next description message. Unknown message types are
// skipped; a bye yields ErrPeerLeft.
func (p *Peer) Receive(ctx context.Context) (string, error) {
	stop := context.AfterFunc(ctx, func() {
		p.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		var msg Message
		if err := p.conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", fmt.Errorf("failed to read WS message: %w", err)
		}

		switch msg.Type {
		case MsgTypeDescription:
			return msg.Description, nil
		case MsgTypeBye:
			return "", ErrPeerLeft
		}
	}
}

// Close says goodbye and closes the WebSocket. The bye is best-effort.
func (p *Peer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = p.send(ctx, Message{Type: MsgTypeBye})

	err := p.conn.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// GeneratePIN returns a random numeric PIN of the specified length.
func GeneratePIN(length int) string {
	digits := make([]byte, length)
	for i := range digits {
		n, _ := rand.Int(rand.Reader, big.NewInt(10))
		digits[i] = byte('0') + byte(n.Int64())
	}
	return string(digits)
}

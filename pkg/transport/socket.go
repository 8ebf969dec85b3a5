// Package transport owns one WebSocket connection to one thread. It frames
// outbound actions, decodes inbound events, and applies the reconnect
// policy: a fixed short delay after an unexpected close, no backoff and no
// retry cap, while a deliberate Close suppresses reconnection entirely.
package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/barchshimelis/supportchat/pkg/logger"
	"github.com/barchshimelis/supportchat/pkg/telemetry"
	"github.com/barchshimelis/supportchat/pkg/wire"
)

// State is the connection state of a Socket.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// DefaultReconnectDelay matches the deployed front ends: 2 s flat. There is
// no backoff and no retry cap; see the project design notes for why this is
// preserved rather than "fixed".
const DefaultReconnectDelay = 2 * time.Second

// Options configures a Socket.
type Options struct {
	// BaseURL is the page origin, e.g. "https://support.example.com". The
	// socket scheme follows it: https dials wss, anything else dials ws.
	BaseURL string
	// WSBase is the socket path prefix, e.g. "/ws/support/".
	WSBase string
	// Header is attached to the dial request (cookies, roles).
	Header http.Header
	// ReconnectDelay overrides DefaultReconnectDelay when positive.
	ReconnectDelay time.Duration
	// OnEvent receives every decoded inbound event, including UnknownEvent.
	OnEvent func(wire.Event)
	// OnState is invoked on connection state transitions. Optional.
	OnState func(State)
}

// Socket is one live WebSocket connection scoped to one thread.
type Socket struct {
	threadID string
	opts     Options
	dialer   *websocket.Dialer

	mu         sync.Mutex
	conn       *websocket.Conn
	state      State
	deliberate bool
	generation int
	loopDone   chan struct{}
}

// URL builds the socket URL for a thread from an HTTP(S) origin.
func URL(baseURL, wsBase, threadID string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	scheme := "ws"
	if u.Scheme == "https" || u.Scheme == "wss" {
		scheme = "wss"
	}
	base := wsBase
	if base == "" {
		base = "/ws/support/"
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return scheme + "://" + u.Host + base + threadID + "/", nil
}

// New creates a socket for the given thread. It does not connect; call Dial.
func New(threadID string, opts Options) *Socket {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	return &Socket{
		threadID: threadID,
		opts:     opts,
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		state:    StateClosed,
	}
}

// ThreadID returns the thread this socket is scoped to.
func (s *Socket) ThreadID() string { return s.threadID }

// State returns the current connection state.
func (s *Socket) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Socket) setState(st State) {
	s.state = st
	if s.opts.OnState != nil {
		go s.opts.OnState(st)
	}
}

// Dial opens the connection. The server side may push a bootstrap event on
// connect; the socket itself emits nothing on open.
func (s *Socket) Dial(ctx context.Context) error {
	s.mu.Lock()
	if s.conn != nil {
		s.mu.Unlock()
		return fmt.Errorf("socket for thread %s already open", s.threadID)
	}
	s.deliberate = false
	s.setState(StateConnecting)
	s.mu.Unlock()

	return s.dial(ctx)
}

func (s *Socket) dial(ctx context.Context) error {
	wsURL, err := URL(s.opts.BaseURL, s.opts.WSBase, s.threadID)
	if err != nil {
		s.mu.Lock()
		s.setState(StateClosed)
		s.mu.Unlock()
		return err
	}
	conn, resp, err := s.dialer.DialContext(ctx, wsURL, s.opts.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		s.mu.Lock()
		deliberate := s.deliberate
		if !deliberate {
			s.scheduleReconnectLocked()
		} else {
			s.setState(StateClosed)
		}
		s.mu.Unlock()
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}

	s.mu.Lock()
	if s.deliberate {
		// Closed while the handshake was in flight.
		s.mu.Unlock()
		_ = conn.Close()
		return fmt.Errorf("socket for thread %s closed during dial", s.threadID)
	}
	s.conn = conn
	s.generation++
	gen := s.generation
	done := make(chan struct{})
	s.loopDone = done
	s.setState(StateOpen)
	s.mu.Unlock()

	logger.Debug("socket_open", "thread", s.threadID)
	go s.readLoop(conn, gen, done)
	return nil
}

// readLoop decodes inbound frames until the connection drops. Unknown tags
// are delivered as UnknownEvent; the handler decides to ignore them.
func (s *Socket) readLoop(conn *websocket.Conn, gen int, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.onClosed(gen, err)
			return
		}
		ev, derr := wire.DecodeEvent(data)
		if derr != nil {
			logger.Warn("socket_bad_frame", "thread", s.threadID, "error", derr)
			continue
		}
		telemetry.EventsReceived.WithLabelValues(eventLabel(ev)).Inc()
		if s.opts.OnEvent != nil {
			s.opts.OnEvent(ev)
		}
	}
}

func eventLabel(ev wire.Event) string {
	switch ev.(type) {
	case wire.Bootstrap:
		return wire.EventBootstrap
	case wire.MessageEvent:
		return wire.EventMessage
	case wire.ReadEvent:
		return wire.EventRead
	case wire.TypingEvent:
		return wire.EventTyping
	case wire.DeleteEvent:
		return wire.EventDelete
	case wire.ErrorEvent:
		return wire.EventError
	default:
		return "unknown"
	}
}

// onClosed runs when the read loop exits. Only an unexpected close (not one
// we initiated) triggers a reconnect.
func (s *Socket) onClosed(gen int, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return
	}
	s.conn = nil
	if s.deliberate {
		s.setState(StateClosed)
		return
	}
	logger.Info("socket_lost", "thread", s.threadID, "error", cause)
	s.scheduleReconnectLocked()
}

// scheduleReconnectLocked arms one reconnect attempt after the fixed delay.
// Callers hold s.mu.
func (s *Socket) scheduleReconnectLocked() {
	s.setState(StateConnecting)
	telemetry.SocketReconnects.Inc()
	time.AfterFunc(s.opts.ReconnectDelay, func() {
		s.mu.Lock()
		if s.deliberate || s.conn != nil {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		if err := s.dial(context.Background()); err != nil {
			logger.Warn("socket_reconnect_failed", "thread", s.threadID, "error", err)
		}
	})
}

// Send writes one action frame. Fire-and-forget: no acknowledgement is
// awaited; the caller learns about delivery from the echoed message event.
func (s *Socket) Send(a wire.Action) error {
	data, err := wire.EncodeAction(a)
	if err != nil {
		return err
	}
	s.mu.Lock()
	conn := s.conn
	if conn == nil {
		s.mu.Unlock()
		return fmt.Errorf("socket for thread %s is not open", s.threadID)
	}
	err = conn.WriteMessage(websocket.TextMessage, data)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("send action: %w", err)
	}
	telemetry.ActionsSent.WithLabelValues(actionLabel(a)).Inc()
	return nil
}

func actionLabel(a wire.Action) string {
	switch a.(type) {
	case wire.MessageAction:
		return wire.ActionMessage
	case wire.ReadAction:
		return wire.ActionRead
	case wire.FileAction:
		return wire.ActionFile
	default:
		return "unknown"
	}
}

// Close tears the connection down deliberately and suppresses any
// reconnect. It returns once the read loop has exited, so a caller can
// close-before-open synchronously when switching threads.
func (s *Socket) Close() error {
	s.mu.Lock()
	s.deliberate = true
	conn := s.conn
	done := s.loopDone
	if conn == nil {
		s.setState(StateClosed)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	err := conn.Close()
	if done != nil {
		<-done
	}
	logger.Debug("socket_closed", "thread", s.threadID)
	return err
}

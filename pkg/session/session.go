// Package session couples one live socket, one ordered message buffer and
// one read tracker to one thread. Rendering is an external collaborator:
// every state change is reported through Hooks and nothing here touches a
// UI directly.
package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/barchshimelis/supportchat/pkg/attach"
	"github.com/barchshimelis/supportchat/pkg/logger"
	"github.com/barchshimelis/supportchat/pkg/models"
	"github.com/barchshimelis/supportchat/pkg/transport"
	"github.com/barchshimelis/supportchat/pkg/wire"
)

// Sender delivers outbound text and mark-read signals. The REST client
// satisfies it directly. A nil Sender selects the deployment variant that
// sends over the live socket instead (message/read actions).
type Sender interface {
	SendText(ctx context.Context, threadID, text string) error
	MarkRead(ctx context.Context, threadID string) error
}

// Uploader delivers attachments. The REST client satisfies it for the
// out-of-band multipart variant. A nil Uploader selects the inline variant:
// base64 file actions over the socket under the inline policy (2 MiB,
// fixed MIME list).
type Uploader interface {
	Upload(ctx context.Context, threadID, fileName, mimeType string, data []byte) error
}

// Hooks are the render callbacks. All fields are optional; a nil hook is
// skipped. Hooks must not call back into the session synchronously.
type Hooks struct {
	// OnReplace fires when a bootstrap snapshot replaces the buffer.
	OnReplace func(msgs []models.Message)
	// OnMessage fires for every newly inserted message.
	OnMessage func(m models.Message)
	// OnRemove fires when a message leaves the buffer.
	OnRemove func(messageID string)
	// OnPeerRead fires when the other participant reads the thread. It
	// drives "seen" affordances only; unread counters are unaffected.
	OnPeerRead func(reader models.Role)
	// OnTyping fires on a presence signal. No state changes.
	OnTyping func(sender models.Role)
	// OnComposer fires when the composer-enabled flag flips.
	OnComposer func(enabled bool)
	// OnServerError fires for non-fatal error events from the server.
	OnServerError func(detail string)
}

// Session is the per-thread unit: a single-thread widget holds exactly one,
// a multi-thread dashboard at most one active at a time.
type Session struct {
	threadID string
	role     models.Role
	sender   Sender
	uploader Uploader
	hooks    Hooks

	sock    *transport.Socket
	buf     *buffer
	tracker *ReadTracker
}

// New builds a session. Call BindSocket before expecting live events.
func New(threadID string, role models.Role, sender Sender, uploader Uploader, hooks Hooks) *Session {
	s := &Session{
		threadID: threadID,
		role:     role,
		sender:   sender,
		uploader: uploader,
		hooks:    hooks,
		buf:      newBuffer(),
	}
	s.tracker = NewReadTracker(s.sendMarkRead)
	return s
}

// ThreadID returns the thread this session is scoped to.
func (s *Session) ThreadID() string { return s.threadID }

// Role returns the side of the conversation this session acts as.
func (s *Session) Role() models.Role { return s.role }

// Tracker exposes the read tracker for scroll/visibility wiring.
func (s *Session) Tracker() *ReadTracker { return s.tracker }

// BindSocket attaches the live socket. The socket's OnEvent must already
// point at s.HandleEvent.
func (s *Session) BindSocket(sock *transport.Socket) {
	s.sock = sock
}

// Socket returns the bound socket, or nil before BindSocket.
func (s *Session) Socket() *transport.Socket { return s.sock }

// SeedHistory installs a fetched history snapshot, for the deployment
// variant that bootstraps over REST before the socket opens.
func (s *Session) SeedHistory(msgs []models.Message) {
	out := s.buf.replaceAll(msgs)
	if s.hooks.OnReplace != nil {
		s.hooks.OnReplace(out)
	}
}

// Messages returns a copy of the rendered buffer in display order.
func (s *Session) Messages() []models.Message { return s.buf.snapshot() }

// HandleEvent is the socket's event sink. Unknown tags are ignored and
// never fatal.
func (s *Session) HandleEvent(ev wire.Event) {
	switch e := ev.(type) {
	case wire.Bootstrap:
		out := s.buf.replaceAll(e.Messages)
		if s.hooks.OnReplace != nil {
			s.hooks.OnReplace(out)
		}
	case wire.MessageEvent:
		if err := e.Message.Validate(); err != nil {
			logger.Warn("event_message_invalid", "thread", s.threadID, "error", err)
			return
		}
		inserted := s.buf.insert(e.Message)
		if !inserted {
			// Echo of a message already held; buffer updated in place.
			return
		}
		if e.Message.Sender == s.role.Peer() {
			s.tracker.PeerMessage()
		}
		if s.hooks.OnMessage != nil {
			s.hooks.OnMessage(e.Message)
		}
	case wire.ReadEvent:
		if s.hooks.OnPeerRead != nil {
			s.hooks.OnPeerRead(e.Reader)
		}
	case wire.TypingEvent:
		if s.hooks.OnTyping != nil {
			s.hooks.OnTyping(e.Sender)
		}
	case wire.DeleteEvent:
		s.RemoveMessage(e.MessageID)
	case wire.ErrorEvent:
		logger.Warn("server_error_event", "thread", s.threadID, "detail", e.Detail)
		if s.hooks.OnServerError != nil {
			s.hooks.OnServerError(e.Detail)
		}
	case wire.UnknownEvent:
		logger.Debug("event_unknown_tag", "thread", s.threadID, "tag", e.Tag)
	}
}

// SendText delivers a text message. Fire-and-forget: the composer may be
// cleared as soon as this returns; the message shows up via its echo on the
// live stream. Two sends of the same text are two distinct messages.
func (s *Session) SendText(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("empty message")
	}
	if s.sender != nil {
		return s.sender.SendText(ctx, s.threadID, text)
	}
	if s.sock == nil {
		return fmt.Errorf("no socket bound for thread %s", s.threadID)
	}
	return s.sock.Send(wire.MessageAction{Text: text})
}

// SendFile delivers an attachment through the configured path. Validation
// happens before any network activity; the rejection reason is user-facing.
func (s *Session) SendFile(ctx context.Context, fileName, mimeType string, data []byte) error {
	if s.uploader != nil {
		return s.uploader.Upload(ctx, s.threadID, fileName, mimeType, data)
	}
	if s.sock == nil {
		return fmt.Errorf("no socket bound for thread %s", s.threadID)
	}
	action, err := attach.InlineAction(fileName, mimeType, data)
	if err != nil {
		logger.Warn("upload_rejected", "thread", s.threadID, "name", fileName, "reason", err)
		return err
	}
	return s.sock.Send(action)
}

// RemoveMessage removes a message id from the buffer. The socket delete
// event and the REST delete confirmation both land here, so removal is
// idempotent by construction.
func (s *Session) RemoveMessage(messageID string) {
	if messageID == "" {
		return
	}
	if s.buf.remove(messageID) && s.hooks.OnRemove != nil {
		s.hooks.OnRemove(messageID)
	}
}

// Opened records explicit activation of the thread and issues mark-read.
func (s *Session) Opened() {
	s.tracker.ThreadOpened()
}

// Scrolled reports the message view's distance from its bottom edge.
func (s *Session) Scrolled(distanceFromBottom float64) {
	s.tracker.Scrolled(distanceFromBottom)
}

// sendMarkRead is the tracker's signal sink. Failures are logged, never
// retried; mark-read is idempotent server-side.
func (s *Session) sendMarkRead() {
	var err error
	if s.sender != nil {
		err = s.sender.MarkRead(context.Background(), s.threadID)
	} else if s.sock != nil {
		err = s.sock.Send(wire.ReadAction{})
	}
	if err != nil {
		logger.Error("mark_read_failed", "thread", s.threadID, "error", err)
	}
}

// Close tears down the live socket, suppressing reconnection.
func (s *Session) Close() error {
	if s.sock == nil {
		return nil
	}
	return s.sock.Close()
}

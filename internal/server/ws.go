package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/barchshimelis/supportchat/pkg/attach"
	"github.com/barchshimelis/supportchat/pkg/logger"
	"github.com/barchshimelis/supportchat/pkg/models"
	"github.com/barchshimelis/supportchat/pkg/store"
	"github.com/barchshimelis/supportchat/pkg/wire"
)

// handleSocket upgrades a connection onto one thread's topic and relays
// inbound actions until the peer goes away. Every event a client ever
// receives flows through here; REST responses never carry new messages.
func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := loadThread(id); err != nil {
		jsonError(w, http.StatusNotFound, "unknown thread")
		return
	}
	role := requestRole(r)
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("ws_upgrade_failed", "thread", id, "error", err)
		return
	}
	// Base64 inflates the inline cap by 4/3; anything past that plus
	// envelope headroom cannot be a valid frame, so drop the connection
	// before buffering it.
	conn.SetReadLimit(attach.InlineMaxBytes/3*4 + 64*1024)
	s.hub.Register(id, conn, role)
	logger.Info("ws_connected", "thread", id, "role", role)

	if s.opts.BootstrapOverSocket {
		s.hub.Send(id, conn, wire.Bootstrap{Messages: threadMessages(id)})
	}

	defer func() {
		s.hub.Unregister(id, conn)
		conn.Close()
		logger.Info("ws_disconnected", "thread", id, "role", role)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		act, err := wire.DecodeAction(data)
		if err != nil {
			s.hub.Send(id, conn, wire.ErrorEvent{Detail: "unrecognized action"})
			continue
		}
		s.dispatchAction(id, conn, role, act)
	}
}

func (s *Server) dispatchAction(threadID string, conn *websocket.Conn, role models.Role, act wire.Action) {
	switch a := act.(type) {
	case wire.MessageAction:
		if a.Text == "" {
			s.hub.Send(threadID, conn, wire.ErrorEvent{Detail: "empty message"})
			return
		}
		m := models.Message{
			ID:        uuid.NewString(),
			ThreadID:  threadID,
			Sender:    role,
			Content:   a.Text,
			CreatedAt: time.Now().UTC(),
		}
		if err := s.appendMessage(m); err != nil {
			s.hub.Send(threadID, conn, wire.ErrorEvent{Detail: "send failed"})
		}
	case wire.ReadAction:
		s.threadMu.Lock()
		if t, err := loadThread(threadID); err == nil {
			t.ClearUnread(role)
			_ = saveThread(t)
		}
		s.threadMu.Unlock()
		s.hub.Broadcast(threadID, wire.ReadEvent{Reader: role})
	case wire.FileAction:
		s.relayInlineFile(threadID, conn, role, a)
	default:
		s.hub.Send(threadID, conn, wire.ErrorEvent{Detail: "unrecognized action"})
	}
}

// relayInlineFile handles the inline deployment variant: the attachment
// arrives base64-encoded on the socket, gets validated and persisted, and
// comes back to all participants as a regular attachment message.
func (s *Server) relayInlineFile(threadID string, conn *websocket.Conn, role models.Role, a wire.FileAction) {
	data, err := attach.DecodeInline(a)
	if err != nil {
		s.hub.Send(threadID, conn, wire.ErrorEvent{Detail: err.Error()})
		return
	}
	if err := attach.Validate(attach.ModeInline, a.MimeType, int64(len(data))); err != nil {
		s.hub.Send(threadID, conn, wire.ErrorEvent{Detail: err.Error()})
		return
	}
	blobID := uuid.NewString()
	if err := store.SaveBlob(blobID, data); err != nil {
		s.hub.Send(threadID, conn, wire.ErrorEvent{Detail: "store failed"})
		return
	}
	m := models.Message{
		ID:       uuid.NewString(),
		ThreadID: threadID,
		Sender:   role,
		Attachment: &models.Attachment{
			URL:      "/chat/attachments/" + blobID + "/",
			Name:     a.FileName,
			Size:     int64(len(data)),
			MimeType: a.MimeType,
		},
		CreatedAt: time.Now().UTC(),
	}
	if err := s.appendMessage(m); err != nil {
		s.hub.Send(threadID, conn, wire.ErrorEvent{Detail: "send failed"})
	}
}

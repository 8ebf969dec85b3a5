package server

import (
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/barchshimelis/supportchat/pkg/attach"
	"github.com/barchshimelis/supportchat/pkg/logger"
	"github.com/barchshimelis/supportchat/pkg/models"
	"github.com/barchshimelis/supportchat/pkg/store"
	"github.com/barchshimelis/supportchat/pkg/wire"
)

func requestUser(r *http.Request) string {
	if u := r.Header.Get(userHeaderName); u != "" {
		return u
	}
	return "guest"
}

// handleBootstrap returns the caller's own thread plus full history and
// primes the anti-forgery cookie for subsequent mutating calls.
func (s *Server) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	ensureCSRF(w, r)
	t, err := s.ensureThreadFor(requestUser(r))
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "bootstrap failed")
		return
	}
	jsonWrite(w, map[string]any{
		"thread":   t,
		"messages": threadMessages(t.ID),
	})
}

// handleThreadList returns every thread summary for the support console,
// most recently active first.
func (s *Server) handleThreadList(w http.ResponseWriter, r *http.Request) {
	ensureCSRF(w, r)
	raw, err := store.ListThreads()
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "thread list failed")
		return
	}
	threads := make([]models.Thread, 0, len(raw))
	for _, entry := range raw {
		var t models.Thread
		if err := json.Unmarshal([]byte(entry), &t); err == nil {
			threads = append(threads, t)
		}
	}
	sort.Slice(threads, func(i, j int) bool {
		return threads[i].LastActivity.After(threads[j].LastActivity)
	})
	jsonWrite(w, map[string]any{"threads": threads})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	ensureCSRF(w, r)
	id := mux.Vars(r)["id"]
	t, err := loadThread(id)
	if err != nil {
		jsonError(w, http.StatusNotFound, "unknown thread")
		return
	}
	jsonWrite(w, map[string]any{
		"thread":   t,
		"messages": threadMessages(id),
	})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := loadThread(id); err != nil {
		jsonError(w, http.StatusNotFound, "unknown thread")
		return
	}
	var body struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Message == "" {
		jsonError(w, http.StatusBadRequest, "missing message")
		return
	}
	m := models.Message{
		ID:        uuid.NewString(),
		ThreadID:  id,
		Sender:    requestRole(r),
		Content:   body.Message,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.appendMessage(m); err != nil {
		jsonError(w, http.StatusInternalServerError, "send failed")
		return
	}
	jsonWrite(w, map[string]string{"message_id": m.ID})
}

// handleRead clears the caller's unread direction and fans the read
// receipt out to the thread's live connections. Idempotent.
func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	role := requestRole(r)
	s.threadMu.Lock()
	t, err := loadThread(id)
	if err != nil {
		s.threadMu.Unlock()
		jsonError(w, http.StatusNotFound, "unknown thread")
		return
	}
	t.ClearUnread(role)
	if err := saveThread(t); err != nil {
		s.threadMu.Unlock()
		jsonError(w, http.StatusInternalServerError, "read failed")
		return
	}
	s.threadMu.Unlock()
	s.hub.Broadcast(id, wire.ReadEvent{Reader: role})
	jsonWrite(w, map[string]string{"status": "ok"})
}

// handleUpload accepts a multipart attachment, stores its bytes, and
// appends an attachment-bearing message. The message reaches clients over
// the socket; the upload response confirms acceptance only.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := loadThread(id); err != nil {
		jsonError(w, http.StatusNotFound, "unknown thread")
		return
	}
	if err := r.ParseMultipartForm(attach.UploadMaxBytes + 1024); err != nil {
		jsonError(w, http.StatusBadRequest, "malformed upload")
		return
	}
	file, hdr, err := r.FormFile("attachment")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "missing attachment")
		return
	}
	defer file.Close()
	mime := hdr.Header.Get("Content-Type")
	if err := attach.Validate(attach.ModeUpload, mime, hdr.Size); err != nil {
		jsonError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	data, err := io.ReadAll(io.LimitReader(file, attach.UploadMaxBytes+1))
	if err != nil || int64(len(data)) > attach.UploadMaxBytes {
		jsonError(w, http.StatusUnprocessableEntity, "attachment too large")
		return
	}
	blobID := uuid.NewString()
	if err := store.SaveBlob(blobID, data); err != nil {
		jsonError(w, http.StatusInternalServerError, "store failed")
		return
	}
	m := models.Message{
		ID:       uuid.NewString(),
		ThreadID: id,
		Sender:   requestRole(r),
		Attachment: &models.Attachment{
			URL:      "/chat/attachments/" + blobID + "/",
			Name:     hdr.Filename,
			Size:     int64(len(data)),
			MimeType: mime,
		},
		CreatedAt: time.Now().UTC(),
	}
	if err := s.appendMessage(m); err != nil {
		jsonError(w, http.StatusInternalServerError, "send failed")
		return
	}
	logger.Info("attachment_stored", "thread", id, "blob", blobID, "bytes", len(data))
	jsonWrite(w, map[string]string{"message_id": m.ID})
}

// handleDelete removes a message on behalf of the support side and
// broadcasts the removal. The response names the deleted id so callers
// reconcile against the server's answer, not their request.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, mid := vars["id"], vars["mid"]
	if requestRole(r) != models.RoleAgent {
		jsonError(w, http.StatusForbidden, "only the support side may delete messages")
		return
	}
	if err := store.DeleteMessage(mid); err != nil {
		jsonError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	s.hub.Broadcast(id, wire.DeleteEvent{MessageID: mid})
	jsonWrite(w, map[string]string{"deleted_message_id": mid})
}

func (s *Server) handleAttachment(w http.ResponseWriter, r *http.Request) {
	data, err := store.GetBlob(mux.Vars(r)["id"])
	if err != nil {
		jsonError(w, http.StatusNotFound, "unknown attachment")
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}

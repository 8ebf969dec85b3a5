// Package server is the reference support-chat backend: the REST side
// channel plus per-thread WebSocket delivery the sync client depends on.
// It persists threads and messages in the pebble store and is also the
// integration-test harness for the client packages.
package server

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/barchshimelis/supportchat/pkg/logger"
	"github.com/barchshimelis/supportchat/pkg/models"
	"github.com/barchshimelis/supportchat/pkg/store"
	"github.com/barchshimelis/supportchat/pkg/wire"
)

// Options configures the reference server.
type Options struct {
	// BootstrapOverSocket makes the server push full history as a
	// bootstrap event on every socket connect (the inline deployment
	// variant). When false, clients fetch history over REST first.
	BootstrapOverSocket bool
	// RateRPS / RateBurst bound mutating REST calls per client IP.
	RateRPS   float64
	RateBurst int
}

type Server struct {
	opts     Options
	hub      *Hub
	limiter  *limiterPool
	upgrader websocket.Upgrader

	// threadMu serializes thread metadata read-modify-write cycles.
	threadMu sync.Mutex
}

func New(opts Options) *Server {
	return &Server{
		opts:    opts,
		hub:     NewHub(),
		limiter: newLimiterPool(opts.RateRPS, opts.RateBurst),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origin policy is delegated to the reverse proxy, same as
			// role identification.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Router mounts all chat routes. Health, metrics and docs are mounted by
// the app wiring, not here.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/chat/bootstrap/", s.handleBootstrap).Methods(http.MethodGet)
	r.HandleFunc("/chat/threads/", s.handleThreadList).Methods(http.MethodGet)
	r.HandleFunc("/chat/threads/{id}/messages/", s.handleHistory).Methods(http.MethodGet)
	r.HandleFunc("/chat/threads/{id}/send/", s.guard(s.handleSend)).Methods(http.MethodPost)
	r.HandleFunc("/chat/threads/{id}/read/", s.guard(s.handleRead)).Methods(http.MethodPost)
	r.HandleFunc("/chat/threads/{id}/upload/", s.guard(s.handleUpload)).Methods(http.MethodPost)
	r.HandleFunc("/chat/threads/{id}/messages/{mid}/delete/", s.guard(s.handleDelete)).Methods(http.MethodPost)
	r.HandleFunc("/chat/attachments/{id}/", s.handleAttachment).Methods(http.MethodGet)
	r.HandleFunc("/ws/support/{id}/", s.handleSocket).Methods(http.MethodGet)
	return r
}

// guard wraps mutating handlers with the per-IP rate limit and the
// anti-forgery check (cookie value echoed in the header).
func (s *Server) guard(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow(clientIP(r)) {
			jsonError(w, http.StatusTooManyRequests, "rate limited")
			return
		}
		ck, err := r.Cookie(csrfCookieName)
		if err != nil || ck.Value == "" || r.Header.Get(csrfHeaderName) != ck.Value {
			jsonError(w, http.StatusForbidden, "missing or mismatched anti-forgery token")
			return
		}
		next(w, r)
	}
}

const (
	csrfCookieName = "csrftoken"
	csrfHeaderName = "X-CSRFToken"
	roleHeaderName = "X-Chat-Role"
	userHeaderName = "X-Chat-User"
)

// ensureCSRF sets the anti-forgery cookie if the request has none, so the
// first read call primes the client for mutating calls.
func ensureCSRF(w http.ResponseWriter, r *http.Request) {
	if ck, err := r.Cookie(csrfCookieName); err == nil && ck.Value != "" {
		return
	}
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	http.SetCookie(w, &http.Cookie{
		Name:  csrfCookieName,
		Value: hex.EncodeToString(b),
		Path:  "/",
	})
}

func requestRole(r *http.Request) models.Role {
	role := models.Role(r.Header.Get(roleHeaderName))
	if !role.Valid() {
		return models.RoleCustomer
	}
	return role
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}

func jsonError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func jsonWrite(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// loadThread reads one thread's metadata from the store.
func loadThread(threadID string) (models.Thread, error) {
	raw, err := store.GetThread(threadID)
	if err != nil {
		return models.Thread{}, err
	}
	var t models.Thread
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return models.Thread{}, fmt.Errorf("corrupt thread meta %s: %w", threadID, err)
	}
	return t, nil
}

func saveThread(t models.Thread) error {
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return store.SaveThread(t.ID, string(b))
}

// ensureThreadFor returns the customer's thread, creating it on first
// contact. Threads exist server-side before any client sees them.
func (s *Server) ensureThreadFor(customer string) (models.Thread, error) {
	s.threadMu.Lock()
	defer s.threadMu.Unlock()
	raw, err := store.ListThreads()
	if err != nil {
		return models.Thread{}, err
	}
	for _, entry := range raw {
		var t models.Thread
		if err := json.Unmarshal([]byte(entry), &t); err == nil && t.Customer == customer {
			return t, nil
		}
	}
	t := models.Thread{
		ID:           uuid.NewString(),
		Customer:     customer,
		LastActivity: time.Now().UTC(),
	}
	if err := saveThread(t); err != nil {
		return models.Thread{}, err
	}
	logger.Info("thread_created", "thread", t.ID, "customer", customer)
	return t, nil
}

// appendMessage persists a message, bumps the thread's directional unread
// counter and last-activity, and broadcasts the message event.
func (s *Server) appendMessage(m models.Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := store.SaveMessage(m.ThreadID, m.ID, m.CreatedAt, string(b)); err != nil {
		return err
	}
	s.threadMu.Lock()
	if t, err := loadThread(m.ThreadID); err == nil {
		t.Bump(m.Sender, m.CreatedAt)
		_ = saveThread(t)
	}
	s.threadMu.Unlock()
	s.hub.Broadcast(m.ThreadID, wire.MessageEvent{Message: m})
	return nil
}

// threadMessages loads a thread's stream in display order.
func threadMessages(threadID string) []models.Message {
	raw, err := store.ListMessages(threadID)
	if err != nil {
		logger.Error("list_messages_failed", "thread", threadID, "error", err)
		return nil
	}
	out := make([]models.Message, 0, len(raw))
	for _, entry := range raw {
		var m models.Message
		if err := json.Unmarshal([]byte(entry), &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

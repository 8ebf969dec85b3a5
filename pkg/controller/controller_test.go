package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/barchshimelis/supportchat/internal/server"
	"github.com/barchshimelis/supportchat/pkg/models"
	"github.com/barchshimelis/supportchat/pkg/session"
	"github.com/barchshimelis/supportchat/pkg/store"
	"github.com/barchshimelis/supportchat/pkg/transport"
)

func startBackend(t *testing.T) *httptest.Server {
	t.Helper()
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	srv := httptest.NewServer(server.New(server.Options{RateRPS: 1000, RateBurst: 1000}).Router())
	t.Cleanup(srv.Close)
	return srv
}

func seedThread(t *testing.T, id, customer string, texts ...string) {
	t.Helper()
	th := models.Thread{ID: id, Customer: customer, LastActivity: time.Now().UTC()}
	b, _ := json.Marshal(th)
	if err := store.SaveThread(id, string(b)); err != nil {
		t.Fatalf("SaveThread: %v", err)
	}
	base := time.Now().UTC().Add(-time.Minute)
	for i, text := range texts {
		m := models.Message{
			ID: id + "-m" + text, ThreadID: id, Sender: models.RoleCustomer,
			Content: text, CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		mb, _ := json.Marshal(m)
		if err := store.SaveMessage(id, m.ID, m.CreatedAt, string(mb)); err != nil {
			t.Fatalf("SaveMessage: %v", err)
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// TestAgentSelectAndSwitch walks the dashboard flow end to end: registry
// snapshot, selecting a thread, switching to another, and the invariant
// that at most one socket is live at any instant.
func TestAgentSelectAndSwitch(t *testing.T) {
	srv := startBackend(t)
	seedThread(t, "t7", "alice", "a1", "a2")
	seedThread(t, "t42", "bob", "b1")

	var composer atomic.Bool
	ctrl, err := New(Options{
		BaseURL:      srv.URL,
		Role:         models.RoleAgent,
		PollInterval: time.Hour,
		Hooks: session.Hooks{
			OnComposer: func(enabled bool) { composer.Store(enabled) },
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if err := ctrl.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer ctrl.Close()

	threads := ctrl.Registry().Threads()
	if len(threads) != 2 {
		t.Fatalf("registry holds %d threads, want 2", len(threads))
	}
	if composer.Load() {
		t.Fatalf("composer must start disabled in agent mode")
	}

	if err := ctrl.Select(ctx, "t7"); err != nil {
		t.Fatalf("select t7: %v", err)
	}
	sess := ctrl.Active()
	if sess == nil || sess.ThreadID() != "t7" {
		t.Fatalf("active session wrong: %+v", sess)
	}
	if got := len(sess.Messages()); got != 2 {
		t.Fatalf("t7 history len = %d, want 2", got)
	}
	if !composer.Load() {
		t.Fatalf("composer must enable after history resolves")
	}
	firstSock := sess.Socket()

	if err := ctrl.Select(ctx, "t42"); err != nil {
		t.Fatalf("select t42: %v", err)
	}
	if st := firstSock.State(); st != transport.StateClosed {
		t.Fatalf("previous socket still %v after switch", st)
	}
	sess = ctrl.Active()
	if sess.ThreadID() != "t42" || len(sess.Messages()) != 1 {
		t.Fatalf("t42 session wrong: thread=%s len=%d", sess.ThreadID(), len(sess.Messages()))
	}
	if ctrl.Registry().Active() != "t42" {
		t.Fatalf("registry active marker not updated")
	}
}

// TestSendEchoRoundTrip verifies the non-optimistic send: the text shows
// up via its echo on the live stream, exactly once.
func TestSendEchoRoundTrip(t *testing.T) {
	srv := startBackend(t)
	seedThread(t, "t7", "alice")

	ctrl, err := New(Options{
		BaseURL:      srv.URL,
		Role:         models.RoleAgent,
		PollInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if err := ctrl.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer ctrl.Close()
	if err := ctrl.Select(ctx, "t7"); err != nil {
		t.Fatalf("select: %v", err)
	}
	sess := ctrl.Active()
	// registration runs just after the handshake on the server goroutine
	time.Sleep(50 * time.Millisecond)

	if err := sess.SendText(ctx, "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}
	// nothing is rendered locally until the echo arrives
	waitFor(t, "echo", func() bool {
		for _, m := range sess.Messages() {
			if m.Content == "hello" {
				return true
			}
		}
		return false
	})
	count := 0
	for _, m := range sess.Messages() {
		if m.Content == "hello" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("echo produced %d copies, want 1", count)
	}
}

// TestDeleteMessageFullFlow verifies the privileged removal: confirm,
// round-trip, local removal of the server-confirmed id.
func TestDeleteMessageFullFlow(t *testing.T) {
	srv := startBackend(t)
	seedThread(t, "t7", "alice", "keep", "drop")

	ctrl, err := New(Options{
		BaseURL:      srv.URL,
		Role:         models.RoleAgent,
		PollInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if err := ctrl.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer ctrl.Close()
	if err := ctrl.Select(ctx, "t7"); err != nil {
		t.Fatalf("select: %v", err)
	}
	sess := ctrl.Active()

	// declined confirmation leaves everything alone
	if err := ctrl.DeleteMessage(ctx, "t7-mdrop", func() bool { return false }); err != nil {
		t.Fatalf("declined delete: %v", err)
	}
	if len(sess.Messages()) != 2 {
		t.Fatalf("declined delete changed the buffer")
	}

	if err := ctrl.DeleteMessage(ctx, "t7-mdrop", func() bool { return true }); err != nil {
		t.Fatalf("delete: %v", err)
	}
	waitFor(t, "local removal", func() bool { return len(sess.Messages()) == 1 })
	if sess.Messages()[0].ID != "t7-mkeep" {
		t.Fatalf("wrong message survived: %+v", sess.Messages())
	}
}

// TestCustomerBootstrap verifies customer mode creates and attaches to its
// own thread without any selection step.
func TestCustomerBootstrap(t *testing.T) {
	srv := startBackend(t)

	var composer atomic.Bool
	ctrl, err := New(Options{
		BaseURL: srv.URL,
		Role:    models.RoleCustomer,
		Hooks: session.Hooks{
			OnComposer: func(enabled bool) { composer.Store(enabled) },
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if err := ctrl.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer ctrl.Close()

	sess := ctrl.Active()
	if sess == nil || sess.ThreadID() == "" {
		t.Fatalf("customer session missing thread")
	}
	if !composer.Load() {
		t.Fatalf("composer must enable once the session is live")
	}
	if sess.Socket().State() != transport.StateOpen {
		t.Fatalf("socket not open: %v", sess.Socket().State())
	}
}

// stubBackend is a scriptable chat server for failure scenarios the real
// backend cannot produce on demand: rejected handshakes and history
// responses held open while a switch races past them.
type stubBackend struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu        sync.Mutex
	conns     map[string]int
	dialFails map[string]int
	histHold  map[string]chan struct{}
	histHits  map[string]int
}

func newStubBackend(t *testing.T) *stubBackend {
	t.Helper()
	b := &stubBackend{
		conns:     map[string]int{},
		dialFails: map[string]int{},
		histHold:  map[string]chan struct{}{},
		histHits:  map[string]int{},
	}
	b.srv = httptest.NewServer(http.HandlerFunc(b.handle))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *stubBackend) handle(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case r.URL.Path == "/chat/threads/":
		_ = json.NewEncoder(w).Encode(map[string]any{"threads": []models.Thread{}})
	case len(parts) == 3 && parts[0] == "ws" && parts[1] == "support":
		b.handleWS(w, r, parts[2])
	case len(parts) == 4 && parts[0] == "chat" && parts[3] == "messages":
		b.handleHistory(w, parts[2])
	default:
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}

func (b *stubBackend) handleWS(w http.ResponseWriter, r *http.Request, id string) {
	b.mu.Lock()
	if b.dialFails[id] > 0 {
		b.dialFails[id]--
		b.mu.Unlock()
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	b.mu.Unlock()
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	b.mu.Lock()
	b.conns[id]++
	b.mu.Unlock()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	b.mu.Lock()
	b.conns[id]--
	b.mu.Unlock()
	conn.Close()
}

func (b *stubBackend) handleHistory(w http.ResponseWriter, id string) {
	b.mu.Lock()
	b.histHits[id]++
	hold := b.histHold[id]
	b.mu.Unlock()
	if hold != nil {
		<-hold
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"thread": models.Thread{ID: id},
		"messages": []models.Message{
			{ID: id + "-m1", ThreadID: id, Sender: models.RoleCustomer,
				Content: "hi", CreatedAt: time.Now().UTC()},
		},
	})
}

func (b *stubBackend) connCount(id string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conns[id]
}

func (b *stubBackend) historyHits(id string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.histHits[id]
}

// TestFailedSelectLeavesNoSocketBehind covers the abandoned-session path: a
// select whose handshake fails must not leave a socket retrying in the
// background, or a later successful select ends up with two live streams.
func TestFailedSelectLeavesNoSocketBehind(t *testing.T) {
	b := newStubBackend(t)
	b.mu.Lock()
	b.dialFails["t42"] = 1
	b.mu.Unlock()

	ctrl, err := New(Options{
		BaseURL:        b.srv.URL,
		Role:           models.RoleAgent,
		PollInterval:   time.Hour,
		ReconnectDelay: 30 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if err := ctrl.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer ctrl.Close()

	if err := ctrl.Select(ctx, "t42"); err == nil {
		t.Fatalf("select must fail when the handshake is rejected")
	}
	if err := ctrl.Select(ctx, "t7"); err != nil {
		t.Fatalf("select t7: %v", err)
	}
	// long enough for the abandoned socket's reconnect timer to have fired
	time.Sleep(150 * time.Millisecond)

	if got := b.connCount("t42"); got != 0 {
		t.Fatalf("abandoned t42 socket came back to life: %d conns", got)
	}
	if got := b.connCount("t7"); got != 1 {
		t.Fatalf("t7 conns = %d, want 1", got)
	}
	if sess := ctrl.Active(); sess == nil || sess.ThreadID() != "t7" {
		t.Fatalf("active session wrong after recovery")
	}
}

// TestStaleHistoryResponseDiscarded covers the switch-while-fetching race:
// a history response that resolves after another select must not touch the
// active session or open a socket for its by-then-inactive thread.
func TestStaleHistoryResponseDiscarded(t *testing.T) {
	b := newStubBackend(t)
	hold := make(chan struct{})
	b.mu.Lock()
	b.histHold["t7"] = hold
	b.mu.Unlock()

	ctrl, err := New(Options{
		BaseURL:      b.srv.URL,
		Role:         models.RoleAgent,
		PollInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if err := ctrl.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer ctrl.Close()

	done := make(chan error, 1)
	go func() { done <- ctrl.Select(ctx, "t7") }()
	waitFor(t, "t7 history request", func() bool { return b.historyHits("t7") > 0 })

	if err := ctrl.Select(ctx, "t42"); err != nil {
		t.Fatalf("select t42: %v", err)
	}
	close(hold)
	if err := <-done; err != nil {
		t.Fatalf("superseded select must return nil, got %v", err)
	}

	sess := ctrl.Active()
	if sess == nil || sess.ThreadID() != "t42" {
		t.Fatalf("active session is not t42")
	}
	msgs := sess.Messages()
	if len(msgs) != 1 || msgs[0].ID != "t42-m1" {
		t.Fatalf("stale t7 history leaked into the buffer: %+v", msgs)
	}
	if got := b.connCount("t7"); got != 0 {
		t.Fatalf("stale select opened a t7 socket: %d conns", got)
	}
}

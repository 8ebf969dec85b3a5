// Package controller is the top-level orchestrator: it wires a role to a
// mode (single-thread customer widget vs multi-thread agent dashboard),
// owns the at-most-one live socket, and handles thread switching with
// close-before-open semantics and stale-response discarding.
package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/barchshimelis/supportchat/pkg/logger"
	"github.com/barchshimelis/supportchat/pkg/models"
	"github.com/barchshimelis/supportchat/pkg/registry"
	"github.com/barchshimelis/supportchat/pkg/rest"
	"github.com/barchshimelis/supportchat/pkg/session"
	"github.com/barchshimelis/supportchat/pkg/store"
	"github.com/barchshimelis/supportchat/pkg/telemetry"
	"github.com/barchshimelis/supportchat/pkg/transport"
)

// BootstrapMode selects how a thread's initial history arrives.
type BootstrapMode string

const (
	// BootstrapFetch loads history over REST before the socket opens.
	BootstrapFetch BootstrapMode = "fetch"
	// BootstrapSocket expects the server to push a bootstrap event on
	// connect; the REST history call is skipped.
	BootstrapSocket BootstrapMode = "socket"
)

// Options configures a Controller.
type Options struct {
	BaseURL string
	WSBase  string
	Role    models.Role
	// ThreadID pins the single thread in customer mode. Ignored for agents.
	ThreadID  string
	Bootstrap BootstrapMode
	// SendViaSocket picks the deployment variant that sends text and read
	// signals as socket actions instead of REST calls.
	SendViaSocket bool
	// InlineAttachments picks the base64-over-socket attachment path.
	InlineAttachments bool
	ReconnectDelay    time.Duration
	PollInterval      time.Duration
	Hooks             session.Hooks
	// OnThreads receives every registry snapshot (agent mode).
	OnThreads func(threads []models.Thread, activeID string)
}

// Controller owns the active session. The active socket is the only mutable
// shared resource across interleaved operations; it has 0 or 1 live
// instances at any instant.
type Controller struct {
	opts Options
	rc   *rest.Client

	mu     sync.Mutex
	active *session.Session
	// epoch guards against stale async results mutating state after a
	// thread switch: every switch bumps it, every async completion checks it.
	epoch uint64

	reg *registry.Registry
}

// New builds a controller and its REST side channel.
func New(opts Options) (*Controller, error) {
	if !opts.Role.Valid() {
		return nil, fmt.Errorf("invalid role %q", opts.Role)
	}
	if opts.Bootstrap == "" {
		opts.Bootstrap = BootstrapFetch
	}
	rc, err := rest.New(opts.BaseURL, opts.Role)
	if err != nil {
		return nil, err
	}
	return &Controller{opts: opts, rc: rc}, nil
}

// Rest exposes the side channel for callers that need direct access
// (message deletion, manual uploads).
func (c *Controller) Rest() *rest.Client { return c.rc }

// Registry returns the thread registry in agent mode, nil otherwise.
func (c *Controller) Registry() *registry.Registry { return c.reg }

// Active returns the current session, or nil.
func (c *Controller) Active() *session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Start wires the mode. Customer mode bootstraps its one thread right away
// and keeps it alive for the process lifetime; agent mode starts with no
// session and a disabled composer until a thread is selected.
func (c *Controller) Start(ctx context.Context) error {
	if c.opts.Role == models.RoleAgent {
		c.setComposer(false)
		c.reg = registry.New(c.rc, c.opts.PollInterval, c.opts.OnThreads)
		c.reg.Start(ctx)
		return nil
	}
	return c.startCustomer(ctx)
}

func (c *Controller) startCustomer(ctx context.Context) error {
	threadID := c.opts.ThreadID
	sess := c.newSession(threadID)

	if c.opts.Bootstrap == BootstrapFetch {
		boot, err := c.rc.Bootstrap(ctx)
		if err != nil {
			return fmt.Errorf("bootstrap: %w", err)
		}
		if threadID == "" {
			threadID = boot.Thread.ID
			sess = c.newSession(threadID)
		}
		sess.SeedHistory(boot.Messages)
		cacheHistory(threadID, boot.Messages)
	} else if threadID == "" {
		return fmt.Errorf("bootstrap-over-socket requires a thread id")
	}

	if err := c.openSocket(ctx, sess); err != nil {
		// A failed dial has already armed the reconnect timer; the close
		// disarms it so the abandoned session cannot come back to life.
		_ = sess.Close()
		return err
	}
	c.mu.Lock()
	c.active = sess
	c.mu.Unlock()
	sess.Opened()
	c.setComposer(true)
	logger.Info("customer_session_started", "thread", threadID)
	return nil
}

// Select switches the agent's active thread. The old socket closes
// synchronously before the new handshake begins; the composer re-enables
// only after the new thread's history resolves; mark-read fires and the
// badge clears locally without waiting for the next poll.
func (c *Controller) Select(ctx context.Context, threadID string) error {
	if c.opts.Role != models.RoleAgent {
		return fmt.Errorf("thread selection is an agent-mode operation")
	}
	c.mu.Lock()
	c.epoch++
	myEpoch := c.epoch
	old := c.active
	c.active = nil
	c.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	c.setComposer(false)
	telemetry.ThreadSwitches.Inc()

	sess := c.newSession(threadID)

	if c.opts.Bootstrap == BootstrapFetch {
		hist, err := c.rc.History(ctx, threadID)
		if err != nil {
			logger.Error("history_fetch_failed", "thread", threadID, "error", err)
			return err
		}
		c.mu.Lock()
		stale := c.epoch != myEpoch
		c.mu.Unlock()
		if stale {
			// The user switched again while this fetch was in flight;
			// its result must not touch shared state.
			logger.Debug("history_fetch_stale", "thread", threadID)
			return nil
		}
		sess.SeedHistory(hist.Messages)
		cacheHistory(threadID, hist.Messages)
	}

	c.mu.Lock()
	if c.epoch != myEpoch {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.openSocket(ctx, sess); err != nil {
		_ = sess.Close()
		return err
	}

	c.mu.Lock()
	if c.epoch != myEpoch {
		c.mu.Unlock()
		_ = sess.Close()
		return nil
	}
	c.active = sess
	c.mu.Unlock()

	if c.reg != nil {
		c.reg.SetActive(threadID)
		c.reg.ClearUnreadLocally(threadID, models.RoleAgent)
	}
	sess.Opened()
	c.setComposer(true)
	logger.Info("thread_selected", "thread", threadID)
	return nil
}

// Close tears down whatever is live. Used on navigation away / shutdown.
func (c *Controller) Close() error {
	c.mu.Lock()
	c.epoch++
	old := c.active
	c.active = nil
	c.mu.Unlock()
	if c.reg != nil {
		c.reg.Stop()
	}
	c.setComposer(false)
	if old != nil {
		return old.Close()
	}
	return nil
}

// DeleteMessage is the privileged removal path: confirm, round-trip, then
// remove the server-confirmed id locally through the same code path a
// socket delete event uses.
func (c *Controller) DeleteMessage(ctx context.Context, messageID string, confirm func() bool) error {
	c.mu.Lock()
	sess := c.active
	c.mu.Unlock()
	if sess == nil {
		return fmt.Errorf("no active thread")
	}
	deletedID, err := c.rc.DeleteMessage(ctx, sess.ThreadID(), messageID, confirm)
	if err != nil {
		return err
	}
	if deletedID == "" {
		// Not confirmed.
		return nil
	}
	sess.RemoveMessage(deletedID)
	return nil
}

func (c *Controller) newSession(threadID string) *session.Session {
	var sender session.Sender
	var uploader session.Uploader
	if !c.opts.SendViaSocket {
		sender = c.rc
	}
	if !c.opts.InlineAttachments {
		uploader = c.rc
	}
	sess := session.New(threadID, c.opts.Role, sender, uploader, c.opts.Hooks)
	sock := transport.New(threadID, transport.Options{
		BaseURL:        c.opts.BaseURL,
		WSBase:         c.opts.WSBase,
		Header:         c.rc.Header(),
		ReconnectDelay: c.opts.ReconnectDelay,
		OnEvent:        sess.HandleEvent,
	})
	sess.BindSocket(sock)
	return sess
}

func (c *Controller) openSocket(ctx context.Context, sess *session.Session) error {
	return sess.Socket().Dial(ctx)
}

func (c *Controller) setComposer(enabled bool) {
	if c.opts.Hooks.OnComposer != nil {
		c.opts.Hooks.OnComposer(enabled)
	}
}

// cacheHistory mirrors a fetched snapshot into the local store, best
// effort, so the next start can render without waiting on the network.
func cacheHistory(threadID string, msgs []models.Message) {
	if !store.Ready() {
		return
	}
	if err := store.ClearMessages(threadID); err != nil {
		logger.Warn("history_cache_clear_failed", "thread", threadID, "error", err)
		return
	}
	for _, m := range msgs {
		b, err := json.Marshal(m)
		if err != nil {
			continue
		}
		if err := store.SaveMessage(threadID, m.ID, m.CreatedAt, string(b)); err != nil {
			logger.Warn("history_cache_write_failed", "thread", threadID, "error", err)
			return
		}
	}
}

// CachedHistory loads the locally cached snapshot for a thread. Render-only:
// live state always comes from the server.
func CachedHistory(threadID string) []models.Message {
	if !store.Ready() {
		return nil
	}
	raw, err := store.ListMessages(threadID)
	if err != nil {
		return nil
	}
	out := make([]models.Message, 0, len(raw))
	for _, s := range raw {
		var m models.Message
		if err := json.Unmarshal([]byte(s), &m); err == nil && m.ID != "" {
			out = append(out, m)
		}
	}
	return out
}

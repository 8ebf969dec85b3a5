// Package registry maintains the agent-side thread list: a snapshot of
// thread summaries polled on a fixed interval plus on demand. The freshly
// fetched list fully replaces the previous one; the only local mutations are
// the active-thread marker and optimistic unread clears.
package registry

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/barchshimelis/supportchat/pkg/logger"
	"github.com/barchshimelis/supportchat/pkg/models"
	"github.com/barchshimelis/supportchat/pkg/store"
	"github.com/barchshimelis/supportchat/pkg/telemetry"
)

// DefaultPollInterval matches the deployed dashboard's auto-refresh.
const DefaultPollInterval = 10 * time.Second

// Lister is the slice of the REST client the registry needs.
type Lister interface {
	ThreadList(ctx context.Context) ([]models.Thread, error)
}

type Registry struct {
	lister   Lister
	interval time.Duration
	onUpdate func(threads []models.Thread, activeID string)

	mu       sync.Mutex
	threads  []models.Thread
	activeID string

	refreshCh chan struct{}
	stopOnce  sync.Once
	stopCh    chan struct{}
}

// New builds a registry. onUpdate fires after every snapshot replacement
// and after local badge mutations; it receives a copy.
func New(lister Lister, interval time.Duration, onUpdate func([]models.Thread, string)) *Registry {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Registry{
		lister:    lister,
		interval:  interval,
		onUpdate:  onUpdate,
		refreshCh: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}
}

// Start seeds the list from the local cache (a restarted dashboard renders
// instantly), then polls until the context ends or Stop is called.
func (r *Registry) Start(ctx context.Context) {
	if cached := loadCached(); len(cached) > 0 {
		r.mu.Lock()
		r.threads = cached
		r.mu.Unlock()
		r.notify()
	}
	if err := r.Refresh(ctx); err != nil {
		logger.Error("registry_initial_refresh_failed", "error", err)
	}
	go r.loop(ctx)
}

func (r *Registry) loop(ctx context.Context) {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-t.C:
		case <-r.refreshCh:
		}
		if err := r.Refresh(ctx); err != nil {
			logger.Error("registry_refresh_failed", "error", err)
		}
	}
}

// RequestRefresh triggers an on-demand poll (the explicit refresh button).
func (r *Registry) RequestRefresh() {
	select {
	case r.refreshCh <- struct{}{}:
	default:
	}
}

// Refresh fetches the summary list and replaces the snapshot. Unread badges
// reflect only the freshly fetched counts; the active thread stays active.
func (r *Registry) Refresh(ctx context.Context) error {
	threads, err := r.lister.ThreadList(ctx)
	if err != nil {
		return err
	}
	telemetry.RegistryRefreshes.Inc()
	r.mu.Lock()
	r.threads = threads
	r.mu.Unlock()
	persistCached(threads)
	r.notify()
	return nil
}

// Threads returns a copy of the current snapshot in server order.
func (r *Registry) Threads() []models.Thread {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Thread, len(r.threads))
	copy(out, r.threads)
	return out
}

// Get returns one thread's summary from the snapshot.
func (r *Registry) Get(threadID string) (models.Thread, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.threads {
		if t.ID == threadID {
			return t, true
		}
	}
	return models.Thread{}, false
}

// SetActive marks the selected thread. At most one thread is active.
func (r *Registry) SetActive(threadID string) {
	r.mu.Lock()
	r.activeID = threadID
	r.mu.Unlock()
	r.notify()
}

// Active returns the currently selected thread id, or "".
func (r *Registry) Active() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeID
}

// ClearUnreadLocally zeroes one thread's badge for the given direction
// without waiting for the next poll. The next snapshot wins regardless.
func (r *Registry) ClearUnreadLocally(threadID string, reader models.Role) {
	r.mu.Lock()
	for i := range r.threads {
		if r.threads[i].ID == threadID {
			r.threads[i].ClearUnread(reader)
			break
		}
	}
	r.mu.Unlock()
	r.notify()
}

// Stop ends the poll loop.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

func (r *Registry) notify() {
	if r.onUpdate == nil {
		return
	}
	r.mu.Lock()
	out := make([]models.Thread, len(r.threads))
	copy(out, r.threads)
	active := r.activeID
	r.mu.Unlock()
	r.onUpdate(out, active)
}

// loadCached reads whatever summaries the local store holds. Best effort:
// the cache only bridges the gap until the first poll lands.
func loadCached() []models.Thread {
	if !store.Ready() {
		return nil
	}
	raw, err := store.ListThreads()
	if err != nil {
		logger.Warn("registry_cache_read_failed", "error", err)
		return nil
	}
	out := make([]models.Thread, 0, len(raw))
	for _, s := range raw {
		var t models.Thread
		if err := json.Unmarshal([]byte(s), &t); err == nil && t.ID != "" {
			out = append(out, t)
		}
	}
	return out
}

func persistCached(threads []models.Thread) {
	if !store.Ready() {
		return
	}
	for _, t := range threads {
		b, err := json.Marshal(t)
		if err != nil {
			continue
		}
		if err := store.SaveThread(t.ID, string(b)); err != nil {
			logger.Warn("registry_cache_write_failed", "thread", t.ID, "error", err)
			return
		}
	}
}

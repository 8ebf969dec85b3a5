package session

import (
	"sort"
	"sync"

	"github.com/barchshimelis/supportchat/pkg/models"
)

// buffer is the per-thread ordered message store. Messages already rendered
// are never reordered; new arrivals are inserted at the position their
// (created_at, id) key demands, and duplicates of an id update in place:
// the echo of an own send must not produce a second entry.
type buffer struct {
	mu    sync.Mutex
	msgs  []models.Message
	index map[string]int
}

func newBuffer() *buffer {
	return &buffer{index: map[string]int{}}
}

// replaceAll installs a bootstrap snapshot, sorted by the ordering key.
func (b *buffer) replaceAll(msgs []models.Message) []models.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.Message, 0, len(msgs))
	seen := map[string]struct{}{}
	for _, m := range msgs {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Less(out[j]) })
	b.msgs = out
	b.reindexLocked()
	return b.snapshotLocked()
}

// insert places a message at its sorted position. If the id is already
// present the stored entry is updated in place (the echo path) and insert
// reports false.
func (b *buffer) insert(m models.Message) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if i, ok := b.index[m.ID]; ok {
		status := b.msgs[i].Status
		b.msgs[i] = m
		if status != "" {
			b.msgs[i].Status = models.StatusAcked
		}
		return false
	}
	i := sort.Search(len(b.msgs), func(i int) bool { return m.Less(b.msgs[i]) })
	b.msgs = append(b.msgs, models.Message{})
	copy(b.msgs[i+1:], b.msgs[i:])
	b.msgs[i] = m
	b.reindexLocked()
	return true
}

// remove deletes by id. Removing an absent id is a no-op, not an error.
func (b *buffer) remove(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	i, ok := b.index[id]
	if !ok {
		return false
	}
	b.msgs = append(b.msgs[:i], b.msgs[i+1:]...)
	b.reindexLocked()
	return true
}

func (b *buffer) get(id string) (models.Message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if i, ok := b.index[id]; ok {
		return b.msgs[i], true
	}
	return models.Message{}, false
}

func (b *buffer) snapshot() []models.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

func (b *buffer) snapshotLocked() []models.Message {
	out := make([]models.Message, len(b.msgs))
	copy(out, b.msgs)
	return out
}

func (b *buffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.msgs)
}

func (b *buffer) reindexLocked() {
	b.index = make(map[string]int, len(b.msgs))
	for i, m := range b.msgs {
		b.index[m.ID] = i
	}
}

// Package store wraps a pebble database holding threads and their message
// streams. The server uses it as its system of record; the client reuses it
// as an on-disk cache so a restarted dashboard can render thread summaries
// and recent history before the first poll completes.
package store

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/barchshimelis/supportchat/pkg/logger"
)

var db *pebble.DB

// seq reduces key collisions when multiple messages share the same
// nanosecond timestamp.
var seq uint64

// Open opens (or creates) a pebble database at the given path and keeps a
// global handle for simple usage in this package.
func Open(path string) error {
	var err error
	db, err = pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return err
	}
	logger.Info("pebble_opened", "path", path)
	return nil
}

// Close closes the opened pebble DB if present.
func Close() error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return err
	}
	db = nil
	return nil
}

// Ready reports whether the store is opened and ready.
func Ready() bool {
	return db != nil
}

func msgPrefix(threadID string) string {
	return "thread:" + threadID + ":msg:"
}

func msgIndexKey(msgID string) string {
	return "msgidx:" + msgID
}

// SaveMessage appends a message to a thread under a sortable timestamp key
// and indexes it by message id so it can be removed later. ts orders the
// stream; pass the message's creation time so bootstrap order matches
// display order.
func SaveMessage(threadID, msgID string, ts time.Time, data string) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	s := atomic.AddUint64(&seq, 1)
	key := fmt.Sprintf("%s%020d-%06d", msgPrefix(threadID), ts.UTC().UnixNano(), s)
	b := db.NewBatch()
	defer b.Close()
	if err := b.Set([]byte(key), []byte(data), nil); err != nil {
		return err
	}
	if msgID != "" {
		if err := b.Set([]byte(msgIndexKey(msgID)), []byte(key), nil); err != nil {
			return err
		}
	}
	return b.Commit(pebble.Sync)
}

// DeleteMessage removes a message by id. Deleting an absent id is a no-op.
func DeleteMessage(msgID string) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	idx := []byte(msgIndexKey(msgID))
	v, closer, err := db.Get(idx)
	if err != nil {
		if err == pebble.ErrNotFound {
			return nil
		}
		return err
	}
	key := append([]byte(nil), v...)
	_ = closer.Close()
	b := db.NewBatch()
	defer b.Close()
	if err := b.Delete(key, nil); err != nil {
		return err
	}
	if err := b.Delete(idx, nil); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}

// ListMessages returns the raw stored messages of a thread in stream order.
func ListMessages(threadID string) ([]string, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	prefix := []byte(msgPrefix(threadID))
	iter, err := db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: append(append([]byte(nil), prefix...), 0xff),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []string
	for iter.First(); iter.Valid(); iter.Next() {
		out = append(out, string(iter.Value()))
	}
	return out, iter.Error()
}

// ClearMessages drops a thread's whole message stream along with the id
// index entries pointing into it. Used when a cached history snapshot is
// replaced by a fresh bootstrap and by the retention sweep.
func ClearMessages(threadID string) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	prefix := []byte(msgPrefix(threadID))
	b := db.NewBatch()
	defer b.Close()
	if err := b.DeleteRange(prefix, append(append([]byte(nil), prefix...), 0xff), nil); err != nil {
		return err
	}
	idxPrefix := []byte("msgidx:")
	iter, err := db.NewIter(&pebble.IterOptions{
		LowerBound: idxPrefix,
		UpperBound: append(append([]byte(nil), idxPrefix...), 0xff),
	})
	if err != nil {
		return err
	}
	for iter.First(); iter.Valid(); iter.Next() {
		if strings.HasPrefix(string(iter.Value()), string(prefix)) {
			if err := b.Delete(append([]byte(nil), iter.Key()...), nil); err != nil {
				_ = iter.Close()
				return err
			}
		}
	}
	if err := iter.Close(); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}

// SaveThread stores thread metadata by id.
func SaveThread(threadID, data string) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	return db.Set([]byte("threadmeta:"+threadID), []byte(data), pebble.Sync)
}

// GetThread fetches thread metadata by id.
func GetThread(threadID string) (string, error) {
	if db == nil {
		return "", fmt.Errorf("pebble not opened; call store.Open first")
	}
	v, closer, err := db.Get([]byte("threadmeta:" + threadID))
	if err != nil {
		if err == pebble.ErrNotFound {
			return "", fmt.Errorf("thread not found: %s", threadID)
		}
		return "", err
	}
	out := string(v)
	_ = closer.Close()
	return out, nil
}

// DeleteThread removes thread metadata and the thread's message stream.
func DeleteThread(threadID string) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	if err := ClearMessages(threadID); err != nil {
		return err
	}
	return db.Delete([]byte("threadmeta:"+threadID), pebble.Sync)
}

// SaveBlob stores an opaque binary value (attachment payloads).
func SaveBlob(key string, data []byte) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	return db.Set([]byte("blob:"+key), data, pebble.Sync)
}

// GetBlob fetches an opaque binary value by key.
func GetBlob(key string) ([]byte, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	v, closer, err := db.Get([]byte("blob:" + key))
	if err != nil {
		if err == pebble.ErrNotFound {
			return nil, fmt.Errorf("blob not found: %s", key)
		}
		return nil, err
	}
	out := append([]byte(nil), v...)
	_ = closer.Close()
	return out, nil
}

// ListThreads returns all stored thread metadata entries.
func ListThreads() ([]string, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	prefix := []byte("threadmeta:")
	iter, err := db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: append(append([]byte(nil), prefix...), 0xff),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []string
	for iter.First(); iter.Valid(); iter.Next() {
		if !strings.HasPrefix(string(iter.Key()), "threadmeta:") {
			continue
		}
		out = append(out, string(iter.Value()))
	}
	return out, iter.Error()
}

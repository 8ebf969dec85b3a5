package store

import (
	"testing"
	"time"

	"github.com/cockroachdb/pebble"
)

func openTemp(t *testing.T) {
	t.Helper()
	if err := Open(t.TempDir()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	})
}

// TestMessageStreamOrder verifies messages come back in creation order
// regardless of write order, which is what keeps a cached history snapshot
// aligned with the server's display order.
func TestMessageStreamOrder(t *testing.T) {
	openTemp(t)
	t0 := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	if err := SaveMessage("t1", "m2", t0.Add(time.Second), "second"); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}
	if err := SaveMessage("t1", "m1", t0, "first"); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}
	if err := SaveMessage("t2", "m3", t0, "other thread"); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}

	got, err := ListMessages("t1")
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Fatalf("unexpected stream: %v", got)
	}
}

// TestDeleteMessageByID verifies the id index removes the right stream
// entry and that deleting an absent id is a no-op.
func TestDeleteMessageByID(t *testing.T) {
	openTemp(t)
	t0 := time.Now().UTC()
	_ = SaveMessage("t1", "m1", t0, "a")
	_ = SaveMessage("t1", "m2", t0.Add(time.Second), "b")

	if err := DeleteMessage("m1"); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}
	if err := DeleteMessage("m1"); err != nil {
		t.Fatalf("second delete must be a no-op: %v", err)
	}
	if err := DeleteMessage("never-existed"); err != nil {
		t.Fatalf("absent id must be a no-op: %v", err)
	}
	got, _ := ListMessages("t1")
	if len(got) != 1 || got[0] != "b" {
		t.Fatalf("unexpected stream after delete: %v", got)
	}
}

// TestClearMessagesScopedToThread verifies clearing one thread's stream
// leaves the others untouched.
func TestClearMessagesScopedToThread(t *testing.T) {
	openTemp(t)
	t0 := time.Now().UTC()
	_ = SaveMessage("t1", "m1", t0, "a")
	_ = SaveMessage("t2", "m2", t0, "b")

	if err := ClearMessages("t1"); err != nil {
		t.Fatalf("ClearMessages: %v", err)
	}
	if got, _ := ListMessages("t1"); len(got) != 0 {
		t.Fatalf("t1 stream not cleared: %v", got)
	}
	if got, _ := ListMessages("t2"); len(got) != 1 {
		t.Fatalf("t2 stream lost entries: %v", got)
	}
}

// TestThreadMetadataRoundTrip covers save, list, and delete of thread
// summaries, the registry cache's substrate.
func TestThreadMetadataRoundTrip(t *testing.T) {
	openTemp(t)
	if err := SaveThread("t1", `{"id":"t1"}`); err != nil {
		t.Fatalf("SaveThread: %v", err)
	}
	if err := SaveThread("t2", `{"id":"t2"}`); err != nil {
		t.Fatalf("SaveThread: %v", err)
	}
	got, err := GetThread("t1")
	if err != nil || got != `{"id":"t1"}` {
		t.Fatalf("GetThread: %q %v", got, err)
	}
	all, err := ListThreads()
	if err != nil || len(all) != 2 {
		t.Fatalf("ListThreads: %v %v", all, err)
	}
	if err := DeleteThread("t1"); err != nil {
		t.Fatalf("DeleteThread: %v", err)
	}
	if _, err := GetThread("t1"); err == nil {
		t.Fatalf("deleted thread still readable")
	}
}

// TestBlobRoundTrip covers attachment payload storage.
func TestBlobRoundTrip(t *testing.T) {
	openTemp(t)
	payload := []byte{1, 2, 3, 0, 255}
	if err := SaveBlob("b1", payload); err != nil {
		t.Fatalf("SaveBlob: %v", err)
	}
	got, err := GetBlob("b1")
	if err != nil {
		t.Fatalf("GetBlob: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("payload mismatch: %v", got)
	}
	if _, err := GetBlob("missing"); err == nil {
		t.Fatalf("missing blob must error")
	}
}

// TestClearMessagesDropsIndexEntries verifies clearing a stream also clears
// the id index pointing into it, without touching other threads' entries.
func TestClearMessagesDropsIndexEntries(t *testing.T) {
	openTemp(t)
	now := time.Now()
	if err := SaveMessage("ta", "ma", now, "a"); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}
	if err := SaveMessage("tb", "mb", now, "b"); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}
	if err := ClearMessages("ta"); err != nil {
		t.Fatalf("ClearMessages: %v", err)
	}

	_, closer, err := db.Get([]byte(msgIndexKey("ma")))
	if err == nil {
		_ = closer.Close()
		t.Fatalf("index entry for cleared thread survived")
	}
	if err != pebble.ErrNotFound {
		t.Fatalf("index lookup: %v", err)
	}

	v, closer, err := db.Get([]byte(msgIndexKey("mb")))
	if err != nil {
		t.Fatalf("other thread's index entry lost: %v", err)
	}
	_ = closer.Close()
	if len(v) == 0 {
		t.Fatalf("empty index value for mb")
	}
	if err := DeleteMessage("mb"); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}
	msgs, err := ListMessages("tb")
	if err != nil || len(msgs) != 0 {
		t.Fatalf("tb still holds %d messages (err %v)", len(msgs), err)
	}
}

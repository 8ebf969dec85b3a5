package session

import (
	"testing"
	"time"

	"github.com/barchshimelis/supportchat/pkg/models"
)

func msgAt(id string, ts time.Time) models.Message {
	return models.Message{ID: id, Sender: models.RoleCustomer, Content: id, CreatedAt: ts}
}

// TestBufferReplaceAllSortsAndDedupes verifies a bootstrap snapshot with
// duplicate ids and shuffled timestamps installs sorted and unique.
func TestBufferReplaceAllSortsAndDedupes(t *testing.T) {
	t0 := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	b := newBuffer()
	out := b.replaceAll([]models.Message{
		msgAt("m3", t0.Add(2*time.Second)),
		msgAt("m1", t0),
		msgAt("m3", t0.Add(2*time.Second)),
		msgAt("m2", t0.Add(time.Second)),
	})
	if len(out) != 3 {
		t.Fatalf("len = %d, want 3", len(out))
	}
	for i, want := range []string{"m1", "m2", "m3"} {
		if out[i].ID != want {
			t.Fatalf("position %d = %s, want %s", i, out[i].ID, want)
		}
	}
}

// TestBufferInsertOrdering verifies a late-arriving older message lands at
// its sorted position rather than appending.
func TestBufferInsertOrdering(t *testing.T) {
	t0 := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	b := newBuffer()
	b.replaceAll([]models.Message{msgAt("m1", t0), msgAt("m3", t0.Add(2 * time.Second))})

	if !b.insert(msgAt("m2", t0.Add(time.Second))) {
		t.Fatalf("insert of new id should report true")
	}
	snap := b.snapshot()
	if snap[1].ID != "m2" {
		t.Fatalf("late arrival not at sorted position: %v", ids(snap))
	}
}

// TestBufferInsertEchoUpdatesInPlace verifies a duplicate id never creates
// a second entry: the echoed copy replaces the stored one and a pending
// delivery status upgrades to acked.
func TestBufferInsertEchoUpdatesInPlace(t *testing.T) {
	t0 := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	b := newBuffer()
	local := msgAt("m1", t0)
	local.Status = models.StatusSent
	b.insert(local)

	echo := msgAt("m1", t0)
	if b.insert(echo) {
		t.Fatalf("echo insert should report false")
	}
	if b.len() != 1 {
		t.Fatalf("echo created a duplicate entry: %d", b.len())
	}
	got, _ := b.get("m1")
	if got.Status != models.StatusAcked {
		t.Fatalf("echo should ack the pending send, got %q", got.Status)
	}
}

// TestBufferRemoveIdempotent verifies removing an id twice is a no-op the
// second time, which is what makes the REST delete path and the broadcast
// delete event safe to run in either order.
func TestBufferRemoveIdempotent(t *testing.T) {
	t0 := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	b := newBuffer()
	b.replaceAll([]models.Message{msgAt("m1", t0), msgAt("m2", t0.Add(time.Second))})

	if !b.remove("m1") {
		t.Fatalf("first remove should report true")
	}
	if b.remove("m1") {
		t.Fatalf("second remove should be a no-op")
	}
	if b.len() != 1 {
		t.Fatalf("len = %d, want 1", b.len())
	}
	if _, ok := b.get("m2"); !ok {
		t.Fatalf("surviving message lost its index entry")
	}
}

func ids(msgs []models.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

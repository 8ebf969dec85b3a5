package registry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/barchshimelis/supportchat/pkg/models"
)

type fakeLister struct {
	snapshots [][]models.Thread
	calls     int
	fail      bool
}

func (f *fakeLister) ThreadList(context.Context) ([]models.Thread, error) {
	if f.fail {
		return nil, fmt.Errorf("listing down")
	}
	i := f.calls
	if i >= len(f.snapshots) {
		i = len(f.snapshots) - 1
	}
	f.calls++
	return f.snapshots[i], nil
}

func summaries(ids ...string) []models.Thread {
	out := make([]models.Thread, 0, len(ids))
	for _, id := range ids {
		out = append(out, models.Thread{ID: id, LastActivity: time.Now().UTC()})
	}
	return out
}

// TestRefreshReplacesSnapshot verifies a poll fully replaces the previous
// list: threads absent from the fresh snapshot disappear.
func TestRefreshReplacesSnapshot(t *testing.T) {
	fl := &fakeLister{snapshots: [][]models.Thread{
		summaries("t1", "t2", "t3"),
		summaries("t2", "t4"),
	}}
	r := New(fl, time.Hour, nil)

	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if len(r.Threads()) != 3 {
		t.Fatalf("first snapshot len = %d", len(r.Threads()))
	}

	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	got := r.Threads()
	if len(got) != 2 || got[0].ID != "t2" || got[1].ID != "t4" {
		t.Fatalf("snapshot not replaced: %+v", got)
	}
	if _, ok := r.Get("t1"); ok {
		t.Fatalf("t1 should be gone after replacement")
	}
}

// TestRefreshFailureKeepsSnapshot verifies a failed poll leaves the last
// good list in place.
func TestRefreshFailureKeepsSnapshot(t *testing.T) {
	fl := &fakeLister{snapshots: [][]models.Thread{summaries("t1")}}
	r := New(fl, time.Hour, nil)
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	fl.fail = true
	if err := r.Refresh(context.Background()); err == nil {
		t.Fatalf("expected refresh error")
	}
	if len(r.Threads()) != 1 {
		t.Fatalf("failed refresh must not clear the snapshot")
	}
}

// TestActiveSurvivesRefresh verifies the active marker is local state the
// snapshot replacement never touches.
func TestActiveSurvivesRefresh(t *testing.T) {
	fl := &fakeLister{snapshots: [][]models.Thread{
		summaries("t1", "t2"),
		summaries("t1", "t2"),
	}}
	r := New(fl, time.Hour, nil)
	_ = r.Refresh(context.Background())
	r.SetActive("t2")
	_ = r.Refresh(context.Background())
	if r.Active() != "t2" {
		t.Fatalf("active = %q, want t2", r.Active())
	}
}

// TestClearUnreadLocally verifies the optimistic badge clear zeroes only
// the requested thread and direction, and that onUpdate observes it.
func TestClearUnreadLocally(t *testing.T) {
	list := summaries("t1", "t2")
	list[0].UnreadForAgent = 3
	list[1].UnreadForAgent = 5
	fl := &fakeLister{snapshots: [][]models.Thread{list}}

	var lastSeen []models.Thread
	r := New(fl, time.Hour, func(threads []models.Thread, _ string) { lastSeen = threads })
	_ = r.Refresh(context.Background())

	r.ClearUnreadLocally("t1", models.RoleAgent)
	got, ok := r.Get("t1")
	if !ok || got.UnreadForAgent != 0 {
		t.Fatalf("badge not cleared: %+v", got)
	}
	if other, _ := r.Get("t2"); other.UnreadForAgent != 5 {
		t.Fatalf("other thread's badge touched: %+v", other)
	}
	if len(lastSeen) != 2 || lastSeen[0].UnreadForAgent != 0 {
		t.Fatalf("onUpdate did not observe the clear: %+v", lastSeen)
	}
}

// TestRequestRefreshCoalesces verifies queued manual refreshes never block
// the caller.
func TestRequestRefreshCoalesces(t *testing.T) {
	r := New(&fakeLister{snapshots: [][]models.Thread{summaries("t1")}}, time.Hour, nil)
	for i := 0; i < 10; i++ {
		r.RequestRefresh()
	}
}

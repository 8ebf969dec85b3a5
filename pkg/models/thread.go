package models

import "time"

// Thread is a read-only projection of one ongoing conversation. Threads are
// created server-side; clients only ever hold snapshots fetched via bootstrap
// or the registry poll, mutated locally only for optimistic read-state clears.
type Thread struct {
	ID            string    `json:"id"`
	Customer      string    `json:"customer,omitempty"`
	AssignedAgent string    `json:"assigned_agent,omitempty"`
	LastActivity  time.Time `json:"last_activity"`
	// Unread counters are directional and independent; a peer's read event
	// must never touch the local direction.
	UnreadForCustomer int `json:"unread_for_customer"`
	UnreadForAgent    int `json:"unread_for_agent"`
}

// UnreadFor returns the unread counter for the given reader's direction.
func (t Thread) UnreadFor(r Role) int {
	if r == RoleAgent {
		return t.UnreadForAgent
	}
	return t.UnreadForCustomer
}

// ClearUnread zeroes the unread counter for the given reader's direction.
func (t *Thread) ClearUnread(r Role) {
	if r == RoleAgent {
		t.UnreadForAgent = 0
		return
	}
	t.UnreadForCustomer = 0
}

// Bump records activity from the sender side: the receiving direction's
// unread counter grows and last-activity advances.
func (t *Thread) Bump(sender Role, at time.Time) {
	if at.After(t.LastActivity) {
		t.LastActivity = at
	}
	if sender == RoleCustomer {
		t.UnreadForAgent++
	} else {
		t.UnreadForCustomer++
	}
}

package arbiter

import (
	"sort"
	"time"
)

// Request is a snapshot of one outstanding value assertion held by a
// RequestGroup. ExpireAt is the zero time when the request never expires.
type Request struct {
	Owner    string
	Value    string
	ExpireAt time.Time
}

// RequestGroup is a priority bucket of outstanding requests that share a single
// applied value. Requests are keyed by owner; a resubmission by the same owner
// only takes effect if it extends the previous expiry.
//
// RequestGroup performs no locking of its own. The owning node serializes all
// access through its mutex.
type RequestGroup struct {
	value    string
	requests map[string]time.Time
}

func NewRequestGroup(value string) *RequestGroup {
	return &RequestGroup{
		value:    value,
		requests: map[string]time.Time{},
	}
}

// Value returns the label applied to the control surface when this group wins
// arbitration.
func (g *RequestGroup) Value() string {
	return g.value
}

// Add records a request from owner expiring at expireAt (zero time for a
// permanent request). Returns true when the group's state changed, i.e. the
// request is new or its expiry moved later.
func (g *RequestGroup) Add(owner string, expireAt time.Time) bool {
	existing, found := g.requests[owner]
	if found {
		// keep whichever request expires later; zero time outlasts everything
		if existing.IsZero() || (!expireAt.IsZero() && !expireAt.After(existing)) {
			return false
		}
	}
	g.requests[owner] = expireAt
	return true
}

// Remove withdraws owner's request, returning true if one was present.
func (g *RequestGroup) Remove(owner string) bool {
	if _, found := g.requests[owner]; !found {
		return false
	}
	delete(g.requests, owner)
	return true
}

// IsActive reports whether any request has no expiry or expires strictly
// after now. Expired requests may still be physically present; they simply
// stop counting.
func (g *RequestGroup) IsActive(now time.Time) bool {
	for _, expiry := range g.requests {
		if expiry.IsZero() || expiry.After(now) {
			return true
		}
	}
	return false
}

// NextExpiry returns the earliest expiry strictly after now among the active
// finite requests. The second return value is false when the group is inactive
// or all active requests are permanent.
func (g *RequestGroup) NextExpiry(now time.Time) (time.Time, bool) {
	var next time.Time
	for _, expiry := range g.requests {
		if expiry.IsZero() || !expiry.After(now) {
			continue
		}
		if next.IsZero() || expiry.Before(next) {
			next = expiry
		}
	}
	return next, !next.IsZero()
}

// Prune drops requests whose expiry is at or before now and returns how many
// were removed.
func (g *RequestGroup) Prune(now time.Time) int {
	removed := 0
	for owner, expiry := range g.requests {
		if !expiry.IsZero() && !expiry.After(now) {
			delete(g.requests, owner)
			removed++
		}
	}
	return removed
}

// Requests returns a snapshot of all physically present requests, sorted by
// owner for stable diagnostic output.
func (g *RequestGroup) Requests() []Request {
	snapshot := make([]Request, 0, len(g.requests))
	for owner, expiry := range g.requests {
		snapshot = append(snapshot, Request{
			Owner:    owner,
			Value:    g.value,
			ExpireAt: expiry,
		})
	}
	sort.Slice(snapshot, func(i, j int) bool {
		return snapshot[i].Owner < snapshot[j].Owner
	})
	return snapshot
}

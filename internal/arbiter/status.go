package arbiter

import "time"

const neverExpires = "never"

// RequestStatus describes one outstanding request in a diagnostic dump.
// ExpiresAt is RFC3339, or "never" for a permanent request.
type RequestStatus struct {
	Owner     string `json:"owner"`
	Value     string `json:"value"`
	ExpiresAt string `json:"expires_at"`
}

// GroupStatus describes one request group: its priority rank (0 = highest)
// and its physically present requests.
type GroupStatus struct {
	Rank     int             `json:"rank"`
	Value    string          `json:"value"`
	Requests []RequestStatus `json:"requests"`
}

// NodeStatus is the read-only diagnostic report for a node.
type NodeStatus struct {
	Name         string        `json:"name"`
	Path         string        `json:"path"`
	CurrentIndex int           `json:"current_index"`
	CurrentValue string        `json:"current_value"`
	Groups       []GroupStatus `json:"groups"`
}

func formatExpiry(expireAt time.Time) string {
	if expireAt.IsZero() {
		return neverExpires
	}
	return expireAt.Format(time.RFC3339)
}

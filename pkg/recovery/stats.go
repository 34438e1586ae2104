package recovery

import "time"

// Stats is a monitoring snapshot of a supervisor.
type Stats struct {
	Name       string          `json:"name"`
	InstanceID string          `json:"instance_id"`
	State      ConnectionState `json:"state"`
	Connected  bool            `json:"connected"`

	ConnectedAt *time.Time    `json:"connected_at,omitempty"`
	Uptime      time.Duration `json:"uptime"`

	Retry            RetryContext `json:"retry"`
	TotalAttempts    uint64       `json:"total_attempts"`
	Reconnects       uint64       `json:"reconnects"`
	ExhaustedCycles  uint64       `json:"exhausted_cycles"`
	Exhausted        bool         `json:"exhausted"`
	ReconnectPending bool         `json:"reconnect_pending"`

	// Standby is set while an unverified handle from a failed dial is kept
	// listening for the service to come back.
	Standby bool `json:"standby"`

	RecentErrors []ErrorSnapshot `json:"recent_errors,omitempty"`
	LastHealth   *HealthReport   `json:"last_health,omitempty"`

	// Subscriptions lists active channel names for managers that have them.
	Subscriptions []string `json:"subscriptions,omitempty"`
}

// errorRing keeps the most recent errors in arrival order.
type errorRing struct {
	buf  []ErrorSnapshot
	next int
	full bool
}

func newErrorRing(size int) *errorRing {
	return &errorRing{buf: make([]ErrorSnapshot, size)}
}

func (r *errorRing) add(e ErrorSnapshot) {
	r.buf[r.next] = e
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

func (r *errorRing) list() []ErrorSnapshot {
	if !r.full {
		return append([]ErrorSnapshot(nil), r.buf[:r.next]...)
	}
	out := make([]ErrorSnapshot, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	return append(out, r.buf[:r.next]...)
}

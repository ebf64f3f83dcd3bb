package reading

import "time"

// DefaultFreshness is the age bound under which the latest reading still
// counts as live. Transport-level "connected" and actual data flow diverge
// in practice (broker up, node silent), so liveness is judged on message
// age, not connection state. Observed deployments use 6-10s.
const DefaultFreshness = 8 * time.Second

// IsFresh reports whether r is recent enough, as of now, to be considered
// live. A nil reading (no message ever received) is never fresh.
func IsFresh(now time.Time, r *Reading, threshold time.Duration) bool {
	if r == nil {
		return false
	}
	return now.Sub(r.ReceivedAt) <= threshold
}

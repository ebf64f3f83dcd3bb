package reading

import (
	"maps"
	"time"
)

// Reading is one normalized sensor sample derived from a single inbound
// message. Every field is independently optional: a nil pointer means the
// payload carried no usable value for it, never a zero placeholder.
type Reading struct {
	Temperature *float64 `json:"temperature,omitempty"`
	Humidity    *float64 `json:"humidity,omitempty"`
	Threshold   *float64 `json:"threshold,omitempty"`
	FlameLocal  *bool    `json:"flameLocal,omitempty"`
	FlameRemote *bool    `json:"flameRemote,omitempty"`
	AlarmActive *bool    `json:"alarmActive,omitempty"`

	// ReceivedAt is when the bridge decoded the message. Device clocks are
	// not trusted; freshness is judged against this timestamp.
	ReceivedAt time.Time `json:"receivedAt"`

	// Raw is the decoded wire object, kept for diagnostics. Clone copies its
	// top level, but nested values are still shared; treat them as read-only.
	Raw map[string]any `json:"raw,omitempty"`
}

// Clone returns a copy of r whose Raw map is independently mutable at the
// top level. Nested Raw values (arrays, sub-objects) remain shared.
func (r Reading) Clone() Reading {
	r.Raw = maps.Clone(r.Raw)
	return r
}

package chat

import (
	"encoding/json"
	"fmt"
)

// Status tracks how far a message has progressed toward being read by the
// other party. The zero value is StatusPending.
type Status int

const (
	StatusPending Status = iota
	StatusSent
	StatusRead
	StatusFailed
)

var statusNames = map[Status]string{
	StatusPending: "pending",
	StatusSent:    "sent",
	StatusRead:    "read",
	StatusFailed:  "failed",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Terminal reports whether no further transition can happen.
func (s Status) Terminal() bool {
	return s == StatusRead || s == StatusFailed
}

// Merge returns the status a message holds after observing next. Status only
// moves forward: pending -> sent -> read, or pending -> failed. A late
// sent-level event never downgrades read, and failed sticks.
func Merge(old, next Status) Status {
	if old == StatusFailed {
		return StatusFailed
	}
	if next == StatusFailed {
		if old == StatusPending {
			return StatusFailed
		}
		return old
	}
	if next > old {
		return next
	}
	return old
}

func (s Status) MarshalJSON() ([]byte, error) {
	name, ok := statusNames[s]
	if !ok {
		return nil, fmt.Errorf("chat: unknown status %d", int(s))
	}
	return json.Marshal(name)
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "", "pending":
		*s = StatusPending
	case "sent":
		*s = StatusSent
	case "read":
		*s = StatusRead
	case "failed":
		*s = StatusFailed
	default:
		return fmt.Errorf("chat: unknown status %q", name)
	}
	return nil
}

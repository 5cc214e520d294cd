// Package queue contains the bounded FIFO buffer every rivulet sequence builds on.
package queue

import (
	"strings"

	"github.com/coachpo/rivulet/errs"
)

// OverflowPolicy selects the rule applied when a bounded buffer is full and a
// new value arrives.
type OverflowPolicy string

const (
	// Reject fails the push with an overflow error; the value is not stored.
	Reject OverflowPolicy = "reject"
	// DropNewest silently discards the incoming value.
	DropNewest OverflowPolicy = "drop_newest"
	// DropOldest evicts the oldest buffered value to make room.
	DropOldest OverflowPolicy = "drop_oldest"
	// Suspend blocks the producer until capacity frees.
	Suspend OverflowPolicy = "suspend"
)

// ParsePolicy converts a configuration string into an OverflowPolicy.
func ParsePolicy(raw string) (OverflowPolicy, error) {
	switch OverflowPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case Reject, "":
		return Reject, nil
	case DropNewest:
		return DropNewest, nil
	case DropOldest:
		return DropOldest, nil
	case Suspend:
		return Suspend, nil
	default:
		return "", errs.New("queue/policy", errs.CodeInvalid,
			errs.WithMessage("unknown overflow policy"),
			errs.WithDetail("policy", raw))
	}
}

func (p OverflowPolicy) valid() bool {
	switch p {
	case Reject, DropNewest, DropOldest, Suspend:
		return true
	default:
		return false
	}
}

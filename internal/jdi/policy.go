package jdi

import (
	"fmt"
	"strings"
)

// SuspendPolicy selects which threads the VM suspends when an event fires.
type SuspendPolicy int

const (
	// SuspendAll suspends every thread.
	SuspendAll SuspendPolicy = iota
	// SuspendEventThread suspends only the thread that raised the event.
	SuspendEventThread
	// SuspendNone leaves all threads running.
	SuspendNone
)

// String returns the persisted name of the policy.
func (p SuspendPolicy) String() string {
	switch p {
	case SuspendAll:
		return "all"
	case SuspendEventThread:
		return "thread"
	case SuspendNone:
		return "none"
	default:
		return fmt.Sprintf("SuspendPolicy(%d)", int(p))
	}
}

// ParseSuspendPolicy converts a persisted name back into a policy.
func ParseSuspendPolicy(s string) (SuspendPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "all", "":
		return SuspendAll, nil
	case "thread":
		return SuspendEventThread, nil
	case "none":
		return SuspendNone, nil
	default:
		return SuspendAll, fmt.Errorf("unknown suspend policy %q", s)
	}
}

package planexec

// Status is the terminal outcome of planning or executing a motion plan,
// relayed to action clients alongside the result.
type Status int

// The possible outcomes.
const (
	StatusUnspecified = Status(iota)
	// StatusSuccess means the whole plan executed and all effects applied.
	StatusSuccess
	// StatusPreempted means execution was stopped by request.
	StatusPreempted
	// StatusControlFailed means a controller rejected or failed a segment,
	// or execution is disabled on the server.
	StatusControlFailed
	// StatusInvalidPlan means the plan could not be constructed or validated.
	StatusInvalidPlan
	// StatusFailed means a post-segment effect could not be applied.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusPreempted:
		return "preempted"
	case StatusControlFailed:
		return "control failed"
	case StatusInvalidPlan:
		return "invalid motion plan"
	case StatusFailed:
		return "failed"
	case StatusUnspecified:
		fallthrough
	default:
		return "unspecified"
	}
}

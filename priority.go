package jobsched

import "strconv"

// Priority selects the bucket a job is queued in. Lower values run first:
// 0 is the highest priority.
type Priority uint8

// Default priority set used when Options.Levels is not set.
const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
	PriorityIdle

	DefaultLevels = int(PriorityIdle) + 1
)

// MaxLevels bounds Options.Levels. Priorities are a small closed set.
const MaxLevels = 64

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	case PriorityIdle:
		return "idle"
	default:
		return "p" + strconv.Itoa(int(p))
	}
}

package feed

// LoadState is the loading status of a list. Exactly one holds at a time.
type LoadState int

const (
	// StateIdle means no fetch is in flight and more data may exist.
	StateIdle LoadState = iota

	// StateLoading means a fetch is in flight.
	StateLoading

	// StateFailed means the last fetch failed; the cursor was not advanced.
	StateFailed

	// StateNoMoreData means the backend reported the list exhausted.
	StateNoMoreData
)

// String returns the lower-case state name used in logs and metrics.
func (s LoadState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateFailed:
		return "failed"
	case StateNoMoreData:
		return "no_more_data"
	default:
		return "unknown"
	}
}

// CanTrigger reports whether the scroll trigger may start a fetch.
func (s LoadState) CanTrigger() bool {
	return s == StateIdle || s == StateFailed
}

// CanRetry reports whether an explicit retry may start a fetch.
func (s LoadState) CanRetry() bool {
	return s == StateFailed || s == StateNoMoreData
}

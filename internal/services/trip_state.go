package services

// TripState is the lifecycle state of one tracking session.
type TripState string

const (
	StateIdle       TripState = "idle"
	StateTracking   TripState = "tracking"
	StatePaused     TripState = "paused"
	StateFinalizing TripState = "finalizing"
	StateSaved      TripState = "saved"
	StateDiscarded  TripState = "discarded"
)

// Finalizing may repeat: a failed save leaves the session there until the
// stop is retried or the trip is discarded.
var tripTransitions = map[TripState]map[TripState]struct{}{
	StateIdle:       {StateTracking: {}},
	StateTracking:   {StatePaused: {}, StateFinalizing: {}, StateDiscarded: {}},
	StatePaused:     {StateTracking: {}, StateFinalizing: {}, StateDiscarded: {}},
	StateFinalizing: {StateFinalizing: {}, StateSaved: {}, StateDiscarded: {}},
	StateSaved:      {},
	StateDiscarded:  {},
}

// CanTransition reports whether a session may move from one state to another.
func CanTransition(from, to TripState) bool {
	allowed, ok := tripTransitions[from]
	if !ok {
		return false
	}
	_, ok = allowed[to]
	return ok
}

// Terminal reports whether the session has ended.
func (s TripState) Terminal() bool {
	return s == StateSaved || s == StateDiscarded
}

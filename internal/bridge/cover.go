package bridge

// Semantic cover states published on the state topic.
const (
	CoverOpen    = "open"
	CoverClosed  = "closed"
	CoverStopped = "stopped"
	CoverOpening = "opening"
	CoverClosing = "closing"
)

// DeriveCoverState maps a raw position report onto a semantic cover
// state. Position 0 is fully open, 100 fully closed; direction during
// movement is inferred from the delta against the last committed
// position, the hardware has no separate direction sensor.
//
// The retain flag is true for the very first observation of a device,
// so a newly subscribed consumer immediately sees a defined value, and
// for all settled observations. Transient opening/closing pushes are
// not retained: a stale movement label must not outlive the move.
func DeriveCoverState(rawPosition, lastKnownPosition int, moving, firstObservation bool) (state string, retain bool) {
	if moving {
		if rawPosition > lastKnownPosition {
			state = CoverClosing
		} else {
			state = CoverOpening
		}
		return state, firstObservation
	}

	switch rawPosition {
	case 0:
		state = CoverOpen
	case 100:
		state = CoverClosed
	default:
		state = CoverStopped
	}
	return state, true
}

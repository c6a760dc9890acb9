package bridge

import "time"

// rainState is the per-sensor hysteresis machine. Either Stable
// (pending == nil) or Pending (pending holds the proposed state).
type rainState struct {
	committed    bool
	hasCommitted bool
	pending      *bool
	pendingSince time.Time
}

// RainEngine debounces the binary rain signal. A change of state must
// persist for a delay before it is committed; a reversion to the
// committed state cancels the pending change. The delays are
// asymmetric: a false rain-stop is more disruptive to automations than
// a delayed rain-start, so cessation waits longer than onset.
//
// Not self-synchronized: callers serialize access on the engine path.
type RainEngine struct {
	onDelay  time.Duration
	offDelay time.Duration
	sensors  map[string]*rainState

	now func() time.Time
}

// NewRainEngine creates a hysteresis engine with the given onset and
// cessation delays.
func NewRainEngine(onDelay, offDelay time.Duration) *RainEngine {
	return &RainEngine{
		onDelay:  onDelay,
		offDelay: offDelay,
		sensors:  make(map[string]*rainState),
		now:      time.Now,
	}
}

// Observe folds one raw reading into the sensor's machine. It returns
// the committed state and whether this observation committed a change
// that must be published. The first reading of a sensor commits
// immediately.
func (r *RainEngine) Observe(snr string, raw bool) (committed bool, publish bool) {
	now := r.now()

	s, ok := r.sensors[snr]
	if !ok {
		s = &rainState{}
		r.sensors[snr] = s
	}

	if !s.hasCommitted {
		s.committed = raw
		s.hasCommitted = true
		return s.committed, true
	}

	if s.pending == nil {
		if raw == s.committed {
			return s.committed, false
		}
		proposed := raw
		s.pending = &proposed
		s.pendingSince = now
		return s.committed, false
	}

	// Pending: a reversion cancels, a sustained proposal commits after
	// its delay. Repeated identical readings do not reset the timer.
	if raw == s.committed {
		s.pending = nil
		return s.committed, false
	}

	if raw == *s.pending && now.Sub(s.pendingSince) >= r.delay(*s.pending) {
		s.committed = *s.pending
		s.pending = nil
		return s.committed, true
	}

	return s.committed, false
}

// Committed returns the committed state for a sensor, or false if no
// reading has been committed yet.
func (r *RainEngine) Committed(snr string) (state bool, ok bool) {
	s, found := r.sensors[snr]
	if !found || !s.hasCommitted {
		return false, false
	}
	return s.committed, true
}

func (r *RainEngine) delay(proposed bool) time.Duration {
	if proposed {
		return r.onDelay
	}
	return r.offDelay
}

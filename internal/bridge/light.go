package bridge

import "time"

// QuantizeMode selects how a raw brightness maps onto the motor's
// discrete step set.
type QuantizeMode string

const (
	QuantizeNearest QuantizeMode = "nearest"
	QuantizeFloor   QuantizeMode = "floor"
	QuantizeCeil    QuantizeMode = "ceil"
)

// lightState is the per-device guard machine: Idle when pending is
// nil, CommandPending otherwise.
type lightState struct {
	pending   bool
	target    int
	startedAt time.Time
}

// Verdict is the guard's decision about one hardware feedback value.
type Verdict struct {
	// Value is the quantized observed brightness.
	Value int

	// Publish indicates the value must be reflected to the control
	// plane. False when the feedback is the echo of the commanded
	// target, which was already published optimistically.
	Publish bool
}

// LightGuard arbitrates between automation-issued brightness commands
// and the hardware's own feedback. A command's delayed echo must not
// be mistaken for an independent change from the physical remote, yet
// the remote must never be locked out: the pending window closes when
// the target is reached or the timeout expires.
//
// Not self-synchronized: callers serialize access on the engine path.
type LightGuard struct {
	steps          []int
	mode           QuantizeMode
	timeout        time.Duration
	publishMidMove bool
	devices        map[string]*lightState

	now func() time.Time
}

// NewLightGuard creates a guard over the given ascending step set.
// publishMidMove controls whether intermediate feedback during a
// commanded move is reflected to the control plane.
func NewLightGuard(steps []int, mode QuantizeMode, timeout time.Duration, publishMidMove bool) *LightGuard {
	return &LightGuard{
		steps:          steps,
		mode:           mode,
		timeout:        timeout,
		publishMidMove: publishMidMove,
		devices:        make(map[string]*lightState),
		now:            time.Now,
	}
}

// Quantize maps a raw brightness onto the step set. Nearest mode
// resolves ties toward the lower step, scanning ascending.
func (g *LightGuard) Quantize(raw int) int {
	if len(g.steps) == 0 {
		return raw
	}

	switch g.mode {
	case QuantizeFloor:
		best := g.steps[0]
		for _, step := range g.steps {
			if step <= raw {
				best = step
			}
		}
		return best
	case QuantizeCeil:
		for _, step := range g.steps {
			if step >= raw {
				return step
			}
		}
		return g.steps[len(g.steps)-1]
	default:
		best := g.steps[0]
		bestDist := abs(raw - best)
		for _, step := range g.steps[1:] {
			if d := abs(raw - step); d < bestDist {
				best = step
				bestDist = d
			}
		}
		return best
	}
}

// HandleCommand quantizes a commanded brightness and opens the pending
// window. Returns the quantized target to emit to the hardware and to
// publish optimistically.
func (g *LightGuard) HandleCommand(snr string, rawTarget int) int {
	target := g.Quantize(rawTarget)
	g.devices[snr] = &lightState{
		pending:   true,
		target:    target,
		startedAt: g.now(),
	}
	return target
}

// ResolveOn maps an ON command to a brightness target: the device's
// last nonzero brightness, or full brightness if it has never reported
// one.
func ResolveOn(lastBrightness *int) int {
	if lastBrightness != nil && *lastBrightness > 0 {
		return *lastBrightness
	}
	return 100
}

// HandleFeedback quantizes a hardware-reported brightness and decides
// whether it must be published.
//
// Pending and the echo matches the target: the goal is reached, the
// window closes, and nothing is republished. Pending past the timeout:
// the confirmation was lost, the window is forced shut and the
// feedback is authoritative. Pending mid-move: intermediate steps are
// published or suppressed per policy. Idle: every feedback is
// authoritative.
func (g *LightGuard) HandleFeedback(snr string, rawObserved int) Verdict {
	observed := g.Quantize(rawObserved)

	s, ok := g.devices[snr]
	if !ok || !s.pending {
		return Verdict{Value: observed, Publish: true}
	}

	if observed == s.target {
		s.pending = false
		return Verdict{Value: observed, Publish: false}
	}

	if g.now().Sub(s.startedAt) > g.timeout {
		s.pending = false
		return Verdict{Value: observed, Publish: true}
	}

	return Verdict{Value: observed, Publish: g.publishMidMove}
}

// Pending reports whether a command window is open for the device.
func (g *LightGuard) Pending(snr string) bool {
	s, ok := g.devices[snr]
	return ok && s.pending
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

package bridge

// rebindLatch decides when the full rebind sequence runs. The sequence
// fires once both the control-plane transport and the stick are up,
// and is re-armed only by an actual drop of either side, so redundant
// ready signals do not replay it.
type rebindLatch struct {
	mqttUp     bool
	stickReady bool
	fired      bool
}

// mqttConnected records a transport (re)connect. Returns true when the
// rebind sequence must run now.
func (l *rebindLatch) mqttConnected() bool {
	l.mqttUp = true
	return l.shouldFire()
}

// mqttLost re-arms the latch on transport loss.
func (l *rebindLatch) mqttLost() {
	l.mqttUp = false
	l.fired = false
}

// stickUp records a stick ready signal. Returns true when the rebind
// sequence must run now.
func (l *rebindLatch) stickUp() bool {
	l.stickReady = true
	return l.shouldFire()
}

// stickLost re-arms the latch on stick connection loss.
func (l *rebindLatch) stickLost() {
	l.stickReady = false
	l.fired = false
}

func (l *rebindLatch) shouldFire() bool {
	if l.fired || !l.mqttUp || !l.stickReady {
		return false
	}
	l.fired = true
	return true
}

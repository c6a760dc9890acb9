package bridge

import "time"

// dedupKey identifies one physical broadcast class per device.
type dedupKey struct {
	snr string
	tag string
}

// Deduplicator collapses re-deliveries of the same physical radio
// broadcast. The transceiver frequently hands the identical frame to
// the host several times within one logical event; any repeat of the
// same (SNR, tag) pair within the minimum spacing is dropped.
//
// Not self-synchronized: callers serialize access on the engine path.
type Deduplicator struct {
	minSpacing time.Duration
	entries    map[dedupKey]time.Time
	lastGC     time.Time

	now func() time.Time
}

// NewDeduplicator creates a deduplicator with the given minimum spacing
// between accepted repeats of the same tag.
func NewDeduplicator(minSpacing time.Duration) *Deduplicator {
	return &Deduplicator{
		minSpacing: minSpacing,
		entries:    make(map[dedupKey]time.Time),
		now:        time.Now,
	}
}

// IsDuplicate reports whether the (snr, tag) pair was already seen
// within the minimum spacing. Accepting a message records its
// timestamp; stale entries are evicted opportunistically.
func (d *Deduplicator) IsDuplicate(snr, tag string) bool {
	now := d.now()
	key := dedupKey{snr: snr, tag: tag}

	if last, seen := d.entries[key]; seen && now.Sub(last) < d.minSpacing {
		return true
	}

	d.entries[key] = now

	// Opportunistic sweep alongside the periodic GC ticker, so the map
	// stays bounded even if the ticker is never started.
	if now.Sub(d.lastGC) >= d.gcInterval() {
		d.gc(now)
	}

	return false
}

// GC evicts entries older than the retention horizon. Called from the
// engine's housekeeping ticker.
func (d *Deduplicator) GC() {
	d.gc(d.now())
}

// Size returns the number of live entries.
func (d *Deduplicator) Size() int {
	return len(d.entries)
}

// horizon is the retention limit for dedup entries.
func (d *Deduplicator) horizon() time.Duration {
	return 10 * d.minSpacing
}

func (d *Deduplicator) gcInterval() time.Duration {
	return 5 * time.Second
}

func (d *Deduplicator) gc(now time.Time) {
	horizon := d.horizon()
	for key, last := range d.entries {
		if now.Sub(last) > horizon {
			delete(d.entries, key)
		}
	}
	d.lastGC = now
}

package snapshot

// DefaultInterval is the number of events between snapshots.
const DefaultInterval = 50

// Policy decides when an aggregate is due for a snapshot.
type Policy struct {
	Interval int
}

// NewPolicy returns a policy for interval, falling back to DefaultInterval
// when interval is not positive.
func NewPolicy(interval int) Policy {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return Policy{Interval: interval}
}

// ShouldTakeSnapshot reports whether currentVersion has moved at least one
// interval past lastSnapshotVersion.
func (p Policy) ShouldTakeSnapshot(currentVersion, lastSnapshotVersion int) bool {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return currentVersion-lastSnapshotVersion >= interval
}

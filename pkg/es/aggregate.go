package es

import (
	"context"
	"fmt"
)

// Aggregate is the contract an entity implements to be event sourced.
// Embed AggregateBase to get everything except AggregateType and ApplyEvent.
//
// ApplyEvent must mutate state deterministically from the event alone and is
// expected to switch over the aggregate's own event variants.
type Aggregate interface {
	AggregateID() string
	AggregateType() string
	Version() int
	Uncommitted() []Envelope
	ClearUncommitted()
	ApplyEvent(event Event) error

	root() *AggregateBase
}

// Snapshotter is implemented by aggregates that can be captured and restored
// without replaying their whole stream.
type Snapshotter interface {
	SnapshotState() any
	RestoreSnapshot(data []byte) error
}

// AggregateBase carries identity, version and pending events.
type AggregateBase struct {
	id              string
	version         int
	snapshotVersion int
	uncommitted     []Envelope
}

// NewAggregateBase creates an empty base for id at version 0.
func NewAggregateBase(id string) AggregateBase {
	return AggregateBase{id: id}
}

func (a *AggregateBase) AggregateID() string { return a.id }

// Version is the number of events applied, equal to the latest stream version.
func (a *AggregateBase) Version() int { return a.version }

// SnapshotVersion is the version of the snapshot the aggregate was last
// restored from or captured at, 0 when none.
func (a *AggregateBase) SnapshotVersion() int { return a.snapshotVersion }

func (a *AggregateBase) Uncommitted() []Envelope {
	out := make([]Envelope, len(a.uncommitted))
	copy(out, a.uncommitted)
	return out
}

func (a *AggregateBase) ClearUncommitted() { a.uncommitted = nil }

func (a *AggregateBase) root() *AggregateBase { return a }

// Raise applies event to agg and records it as uncommitted. Correlation,
// causation, user and metadata are taken from ctx.
func Raise(ctx context.Context, agg Aggregate, event Event) error {
	if event == nil {
		return fmt.Errorf("raise on %s: nil event", agg.AggregateID())
	}
	if err := agg.ApplyEvent(event); err != nil {
		return fmt.Errorf("apply %s: %w", event.EventType(), err)
	}

	base := agg.root()
	base.version++

	env := NewEnvelope(ctx, event)
	env.AggregateID = base.id
	env.AggregateType = agg.AggregateType()
	env.StreamVersion = base.version
	base.uncommitted = append(base.uncommitted, env)
	return nil
}

// LoadFromHistory applies persisted events in order. Stream versions must
// continue exactly where the aggregate currently is.
func LoadFromHistory(agg Aggregate, history []Envelope) error {
	base := agg.root()
	for _, env := range history {
		if env.StreamVersion != base.version+1 {
			return &VersionGapError{
				AggregateID: base.id,
				Expected:    base.version + 1,
				Got:         env.StreamVersion,
			}
		}
		if err := agg.ApplyEvent(env.Event); err != nil {
			return fmt.Errorf("apply %s at version %d: %w", env.EventType, env.StreamVersion, err)
		}
		base.version = env.StreamVersion
	}
	return nil
}

// LoadSparseHistory applies history that may skip stream versions, as a
// point-in-time selection does. Versions must still be strictly increasing;
// the aggregate ends at the last applied stream version.
func LoadSparseHistory(agg Aggregate, history []Envelope) error {
	base := agg.root()
	for _, env := range history {
		if env.StreamVersion <= base.version {
			return &VersionGapError{
				AggregateID: base.id,
				Expected:    base.version + 1,
				Got:         env.StreamVersion,
			}
		}
		if err := agg.ApplyEvent(env.Event); err != nil {
			return fmt.Errorf("apply %s at version %d: %w", env.EventType, env.StreamVersion, err)
		}
		base.version = env.StreamVersion
	}
	return nil
}

// RestoreFromSnapshot positions a freshly created aggregate at a snapshot.
func RestoreFromSnapshot(agg Aggregate, data []byte, version int) error {
	snap, ok := agg.(Snapshotter)
	if !ok {
		return fmt.Errorf("aggregate %s (%s) does not support snapshots", agg.AggregateID(), agg.AggregateType())
	}
	base := agg.root()
	if base.version != 0 || len(base.uncommitted) > 0 {
		return fmt.Errorf("aggregate %s already has state at version %d", base.id, base.version)
	}
	if err := snap.RestoreSnapshot(data); err != nil {
		return fmt.Errorf("restore snapshot for %s: %w", base.id, err)
	}
	base.version = version
	base.snapshotVersion = version
	return nil
}

// MarkSnapshotted records that a snapshot was captured at version.
func MarkSnapshotted(agg Aggregate, version int) {
	agg.root().snapshotVersion = version
}

// ExpectedVersion is the stream version the aggregate was loaded at.
func ExpectedVersion(agg Aggregate) int {
	base := agg.root()
	return base.version - len(base.uncommitted)
}

// SnapshotVersionOf returns the version agg was last snapshotted at, 0 when never.
func SnapshotVersionOf(agg Aggregate) int {
	return agg.root().snapshotVersion
}

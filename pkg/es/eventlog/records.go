package eventlog

import (
	"time"

	"github.com/angelmondragon/eventcore/pkg/db/models"
	"github.com/angelmondragon/eventcore/pkg/es"
)

func (s *Store) toRecord(env es.Envelope, persistedAt time.Time) (models.EventRecord, error) {
	typeName, schemaVersion, data, err := s.codec.Marshal(env.Event)
	if err != nil {
		return models.EventRecord{}, err
	}
	if env.SchemaVersion > 0 {
		schemaVersion = env.SchemaVersion
	}
	return models.EventRecord{
		EventID:       env.EventID,
		AggregateID:   env.AggregateID,
		AggregateType: env.AggregateType,
		EventType:     typeName,
		StreamVersion: env.StreamVersion,
		SchemaVersion: schemaVersion,
		Payload:       data,
		Metadata:      map[string]string(env.Metadata),
		OccurredAt:    env.OccurredAt,
		PersistedAt:   persistedAt,
		UserID:        optional(env.UserID),
		CorrelationID: optional(env.CorrelationID),
		CausationID:   optional(env.CausationID),
	}, nil
}

func (s *Store) toEnvelope(rec models.EventRecord) (es.Envelope, error) {
	event, err := s.codec.Unmarshal(rec.EventType, rec.Payload)
	if err != nil {
		return es.Envelope{}, err
	}
	var md es.Metadata
	if len(rec.Metadata) > 0 {
		md = es.Metadata(rec.Metadata)
	}
	return es.Envelope{
		EventID:        rec.EventID,
		AggregateID:    rec.AggregateID,
		AggregateType:  rec.AggregateType,
		EventType:      rec.EventType,
		SchemaVersion:  rec.SchemaVersion,
		Event:          event,
		Metadata:       md,
		OccurredAt:     rec.OccurredAt.UTC(),
		UserID:         deref(rec.UserID),
		CorrelationID:  deref(rec.CorrelationID),
		CausationID:    deref(rec.CausationID),
		StreamVersion:  rec.StreamVersion,
		SequenceNumber: rec.SequenceNumber,
		PersistedAt:    rec.PersistedAt.UTC(),
	}, nil
}

// decodeAll stops at the first record that cannot be decoded; an unknown
// type is never skipped.
func (s *Store) decodeAll(records []models.EventRecord) ([]es.Envelope, error) {
	out := make([]es.Envelope, 0, len(records))
	for _, rec := range records {
		env, err := s.toEnvelope(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, env)
	}
	return out, nil
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

package enums

import (
	"fmt"
	"strings"
)

// OutboxSink names the external transport the relay delivers to.
type OutboxSink string

const (
	OutboxSinkPubSub   OutboxSink = "pubsub"
	OutboxSinkNATS     OutboxSink = "nats"
	OutboxSinkBigQuery OutboxSink = "bigquery"
)

var validOutboxSinks = []OutboxSink{
	OutboxSinkPubSub,
	OutboxSinkNATS,
	OutboxSinkBigQuery,
}

// IsValid reports whether the value is a supported sink.
func (s OutboxSink) IsValid() bool {
	for _, candidate := range validOutboxSinks {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseOutboxSink converts raw config input into OutboxSink.
func ParseOutboxSink(value string) (OutboxSink, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validOutboxSinks {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid outbox sink %q", value)
}

// OutboxEntryState is the derived lifecycle state of an outbox row.
type OutboxEntryState string

const (
	OutboxEntryPending   OutboxEntryState = "pending"
	OutboxEntryProcessed OutboxEntryState = "processed"
	OutboxEntryExhausted OutboxEntryState = "exhausted"
)

// StateOf derives the entry state from its persisted columns.
func StateOf(isProcessed bool, attempts, maxRetries int) OutboxEntryState {
	switch {
	case isProcessed:
		return OutboxEntryProcessed
	case attempts >= maxRetries:
		return OutboxEntryExhausted
	default:
		return OutboxEntryPending
	}
}

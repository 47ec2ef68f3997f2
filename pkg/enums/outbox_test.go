package enums

import "testing"

func TestParseOutboxSink(t *testing.T) {
	got, err := ParseOutboxSink(" NATS ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != OutboxSinkNATS {
		t.Fatalf("expected nats, got %q", got)
	}
	if _, err := ParseOutboxSink("kafka"); err == nil {
		t.Fatal("expected error for unsupported sink")
	}
}

func TestStateOf(t *testing.T) {
	cases := []struct {
		processed bool
		attempts  int
		want      OutboxEntryState
	}{
		{processed: false, attempts: 0, want: OutboxEntryPending},
		{processed: false, attempts: 4, want: OutboxEntryPending},
		{processed: false, attempts: 5, want: OutboxEntryExhausted},
		{processed: true, attempts: 5, want: OutboxEntryProcessed},
	}
	for _, tc := range cases {
		if got := StateOf(tc.processed, tc.attempts, 5); got != tc.want {
			t.Fatalf("StateOf(%v, %d) = %q, want %q", tc.processed, tc.attempts, got, tc.want)
		}
	}
}

func TestOutboxDLQErrorReasonValidity(t *testing.T) {
	if !OutboxDLQReasonUnknownType.IsValid() {
		t.Fatal("expected unknown_event_type to be valid")
	}
	if _, err := ParseOutboxDLQErrorReason("nope"); err == nil {
		t.Fatal("expected parse error")
	}
}

package outbox

import (
	"errors"
	"strings"
	"unicode/utf8"
)

const maxErrorTextLen = 1024

// NonRetryableError signals the relay should stop retrying an entry.
type NonRetryableError struct {
	Err error
}

// NewNonRetryableError wraps err so the relay dead-letters the entry at once.
func NewNonRetryableError(err error) error {
	return NonRetryableError{Err: err}
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error {
	return e.Err
}

// IsNonRetryable reports whether err carries a NonRetryableError.
func IsNonRetryable(err error) bool {
	var nonRetry NonRetryableError
	return errors.As(err, &nonRetry)
}

// truncateText caps msg at max bytes without splitting a rune. Invalid UTF-8
// in msg is replaced since text columns reject it.
func truncateText(msg string, max int) string {
	msg = strings.ToValidUTF8(msg, "\uFFFD")
	if len(msg) <= max {
		return msg
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}

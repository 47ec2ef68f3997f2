package outbox

import "time"

const maxBackoffExponent = 20

// Backoff is the delay before retry number attempts: 2^(attempts-1) minutes.
func Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	exp := attempts - 1
	if exp > maxBackoffExponent {
		exp = maxBackoffExponent
	}
	return time.Duration(1<<exp) * time.Minute
}

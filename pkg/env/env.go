package env

import (
	"os"
	"strings"
)

// Prefix namespaces process-level knobs read outside of pkg/config.
const Prefix = "EVENTCORE_"

// Get returns the value of PREFIX+key, then key, or fallback when neither is set.
func Get(key, fallback string) string {
	for _, name := range []string{Prefix + key, key} {
		if val := strings.TrimSpace(os.Getenv(name)); val != "" {
			return val
		}
	}
	return fallback
}

package instance

import (
	"os"

	"github.com/angelmondragon/eventcore/pkg/env"
)

const fallbackID = "worker-0"

// GetID returns the process instance identifier: EVENTCORE_INSTANCE_ID or
// INSTANCE_ID, then the hostname, then a fixed default.
func GetID() string {
	if id := env.Get("INSTANCE_ID", ""); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return fallbackID
}

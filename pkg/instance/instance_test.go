package instance

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetIDPrefersPrefixedEnv(t *testing.T) {
	t.Setenv("INSTANCE_ID", "plain")
	t.Setenv("EVENTCORE_INSTANCE_ID", "relay-2")
	require.Equal(t, "relay-2", GetID())
}

func TestGetIDFallsBackToPlainEnv(t *testing.T) {
	t.Setenv("EVENTCORE_INSTANCE_ID", "")
	t.Setenv("INSTANCE_ID", "plain")
	require.Equal(t, "plain", GetID())
}

func TestGetIDWithoutEnvIsNeverEmpty(t *testing.T) {
	t.Setenv("EVENTCORE_INSTANCE_ID", "")
	t.Setenv("INSTANCE_ID", "")
	require.NotEmpty(t, GetID())
}

package es_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/angelmondragon/eventcore/pkg/es"
	pkgerrors "github.com/angelmondragon/eventcore/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrencyConflictErrorMatching(t *testing.T) {
	err := fmt.Errorf("save: %w", &es.ConcurrencyConflictError{AggregateID: "A", Expected: 1, Actual: 2})

	assert.True(t, errors.Is(err, es.ErrConcurrencyConflict))
	assert.False(t, errors.Is(err, es.ErrUnknownEventType))

	conflict, ok := es.IsConcurrencyConflict(err)
	require.True(t, ok)
	assert.Equal(t, 1, conflict.Expected)
	assert.Equal(t, 2, conflict.Actual)

	assert.Equal(t, pkgerrors.CodeConcurrencyConflict, pkgerrors.CodeOf(err))
	assert.True(t, pkgerrors.MetadataFor(pkgerrors.CodeOf(err)).WriteFailed)
}

func TestUnknownEventTypeIsNotRetryable(t *testing.T) {
	err := &es.UnknownEventTypeError{TypeName: "ghost"}
	assert.True(t, errors.Is(err, es.ErrUnknownEventType))
	assert.False(t, pkgerrors.IsRetryable(err))
	assert.Contains(t, err.Error(), "ghost")
}

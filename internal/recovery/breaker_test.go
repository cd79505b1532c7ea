package recovery

import (
	"errors"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/require"

	"github.com/fossawork/dispatcher/internal/models"
)

func TestBreakerRegistry_OpensAfterConsecutiveFailures(t *testing.T) {
	r := NewBreakerRegistry()
	failing := errors.New("boom")

	for i := 0; i < 10; i++ {
		err := r.Execute(models.ErrorKindNetwork, "navigate", func() error { return failing })
		require.ErrorIs(t, err, failing)
	}

	state, ok := r.State(models.ErrorKindNetwork, "navigate")
	require.True(t, ok)
	require.Equal(t, gobreaker.StateOpen, state)

	err := r.Execute(models.ErrorKindNetwork, "navigate", func() error { return nil })
	require.ErrorIs(t, err, ErrCircuitOpen)
}

func TestBreakerRegistry_SeparateKeysIndependent(t *testing.T) {
	r := NewBreakerRegistry()
	failing := errors.New("boom")

	for i := 0; i < 10; i++ {
		_ = r.Execute(models.ErrorKindNetwork, "navigate", func() error { return failing })
	}

	err := r.Execute(models.ErrorKindTimeout, "navigate", func() error { return nil })
	require.NoError(t, err)
}

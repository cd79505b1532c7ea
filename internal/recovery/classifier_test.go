package recovery

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fossawork/dispatcher/internal/models"
)

func TestClassify_PatternMatch(t *testing.T) {
	cases := map[string]models.ErrorKind{
		"dial tcp: connection refused":          models.ErrorKindNetwork,
		"context deadline exceeded":              models.ErrorKindTimeout,
		"login failed: invalid credentials":      models.ErrorKindAuthentication,
		"no such element: #submit":                models.ErrorKindElementNotFound,
		"target crashed unexpectedly":             models.ErrorKindBrowserCrash,
		"something totally unrecognized happened": models.ErrorKindUnknown,
	}
	for msg, want := range cases {
		require.Equal(t, want, Classify(errors.New(msg)), msg)
	}
}

type explicitErr struct{ kind models.ErrorKind }

func (e explicitErr) Error() string              { return "explicit" }
func (e explicitErr) ErrorKind() models.ErrorKind { return e.kind }

func TestClassify_ExplicitKindWins(t *testing.T) {
	err := explicitErr{kind: models.ErrorKindCredential}
	require.Equal(t, models.ErrorKindCredential, Classify(err))
}

func TestStrategyFor_FallsBackAfterThreshold(t *testing.T) {
	s := StrategyFor(models.ErrorKindNetwork, 1)
	require.Equal(t, models.ActionRetryWithDelay, s.Action)

	s = StrategyFor(models.ErrorKindNetwork, 3)
	require.Equal(t, models.ActionRetryWithNewSession, s.Action)
}

func TestDelayFor_ExponentialWhenConfigured(t *testing.T) {
	s := strategyTable[models.ErrorKindNetwork]
	d1 := DelayFor(s, 1)
	d2 := DelayFor(s, 2)
	require.Less(t, d1, d2)
}

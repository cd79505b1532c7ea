// Package recovery implements the error classifier and recovery
// strategy engine (C7, spec §4.7): a static taxonomy-to-strategy
// table, a per-(error_kind, operation) circuit breaker built on
// github.com/sony/gobreaker, and exponential backoff delays computed by
// DelayFor (harness.go waits them out through a
// github.com/sethvargo/go-retry constant backoff). Grounded on the
// teacher's internal/recovery package (pattern-table classifier + stats
// ring buffer) with the breaker swapped for the pack's ecosystem
// library per the kubernaut example.
package recovery

import (
	"strings"
	"time"

	"github.com/fossawork/dispatcher/internal/models"
)

// Strategy is one row of the taxonomy-to-action table (spec §4.7).
type Strategy struct {
	Action      models.RecoveryAction
	MaxAttempts int
	BaseDelay   time.Duration
	Backoff     bool
	Fallback    models.RecoveryAction
	FallbackAt  int // attempt number at which Fallback replaces Action
}

// strategyTable is the fixed per-kind strategy (spec §4.7 table).
var strategyTable = map[models.ErrorKind]Strategy{
	models.ErrorKindNetwork: {
		Action: models.ActionRetryWithDelay, MaxAttempts: 3, BaseDelay: 5 * time.Second, Backoff: true,
		Fallback: models.ActionRetryWithNewSession, FallbackAt: 2,
	},
	models.ErrorKindTimeout: {
		Action: models.ActionRetryWithRefresh, MaxAttempts: 2, BaseDelay: 3 * time.Second,
		Fallback: models.ActionRetryWithNewSession, FallbackAt: 1,
	},
	models.ErrorKindAuthentication: {
		Action: models.ActionRetryWithNewSession, MaxAttempts: 2, BaseDelay: 2 * time.Second,
		Fallback: models.ActionEscalateManual, FallbackAt: 0,
	},
	models.ErrorKindPageLoad: {
		Action: models.ActionRetryWithRefresh, MaxAttempts: 3, BaseDelay: 2 * time.Second, Backoff: true,
		Fallback: models.ActionRetryWithAlternative, FallbackAt: 2,
	},
	models.ErrorKindElementNotFound: {
		Action: models.ActionRetryWithDelay, MaxAttempts: 4, BaseDelay: time.Second,
		Fallback: models.ActionRetryWithAlternative, FallbackAt: 2,
	},
	models.ErrorKindFormSubmission: {
		Action: models.ActionRetryWithRefresh, MaxAttempts: 2, BaseDelay: 3 * time.Second,
		Fallback: models.ActionSkipAndContinue, FallbackAt: 0,
	},
	models.ErrorKindScraping: {
		Action: models.ActionRetryWithAlternative, MaxAttempts: 3, BaseDelay: 2 * time.Second,
		Fallback: models.ActionSkipAndContinue, FallbackAt: 0,
	},
	models.ErrorKindBrowserCrash: {
		Action: models.ActionRetryWithNewSession, MaxAttempts: 2, BaseDelay: 5 * time.Second,
		Fallback: models.ActionAbort, FallbackAt: 0,
	},
	models.ErrorKindCredential: {
		Action: models.ActionEscalateManual, MaxAttempts: 1,
	},
	models.ErrorKindValidation: {
		Action: models.ActionAbort, MaxAttempts: 1,
	},
	models.ErrorKindUnknown: {
		Action: models.ActionRetryWithDelay, MaxAttempts: 2, BaseDelay: 3 * time.Second,
		Fallback: models.ActionSkipAndContinue, FallbackAt: 0,
	},
}

// patternTable classifies raw errors by substring match when no
// structured error type is available (spec §4.7: "classification is
// by exception category if available, else by substring matching
// against a static pattern table").
var patternTable = []struct {
	substr string
	kind   models.ErrorKind
}{
	{"context deadline exceeded", models.ErrorKindTimeout},
	{"timeout", models.ErrorKindTimeout},
	{"no such host", models.ErrorKindNetwork},
	{"connection refused", models.ErrorKindNetwork},
	{"connection reset", models.ErrorKindNetwork},
	{"net/http", models.ErrorKindNetwork},
	{"login failed", models.ErrorKindAuthentication},
	{"unauthorized", models.ErrorKindAuthentication},
	{"invalid credentials", models.ErrorKindAuthentication},
	{"navigation failed", models.ErrorKindPageLoad},
	{"page load", models.ErrorKindPageLoad},
	{"no such element", models.ErrorKindElementNotFound},
	{"element not found", models.ErrorKindElementNotFound},
	{"selector not found", models.ErrorKindElementNotFound},
	{"form submission", models.ErrorKindFormSubmission},
	{"submit failed", models.ErrorKindFormSubmission},
	{"scrape", models.ErrorKindScraping},
	{"parse", models.ErrorKindScraping},
	{"target crashed", models.ErrorKindBrowserCrash},
	{"browser closed", models.ErrorKindBrowserCrash},
	{"chrome not reachable", models.ErrorKindBrowserCrash},
	{"credential", models.ErrorKindCredential},
	{"validation", models.ErrorKindValidation},
}

// ClassifiableError lets a component attach an explicit ErrorKind to
// an error, bypassing pattern matching (spec §4.7: "by exception
// category if available").
type ClassifiableError interface {
	error
	ErrorKind() models.ErrorKind
}

// Classify determines the ErrorKind for err: explicit classification
// via ClassifiableError wins; otherwise substring match against
// patternTable; otherwise ErrorKindUnknown.
func Classify(err error) models.ErrorKind {
	if err == nil {
		return models.ErrorKindUnknown
	}
	if ce, ok := err.(ClassifiableError); ok {
		return ce.ErrorKind()
	}
	msg := strings.ToLower(err.Error())
	for _, p := range patternTable {
		if strings.Contains(msg, p.substr) {
			return p.kind
		}
	}
	return models.ErrorKindUnknown
}

// StrategyFor returns the strategy for kind, selecting the fallback
// action once attempt exceeds the row's FallbackAt threshold.
func StrategyFor(kind models.ErrorKind, attempt int) Strategy {
	s, ok := strategyTable[kind]
	if !ok {
		s = strategyTable[models.ErrorKindUnknown]
	}
	if s.Fallback != "" && attempt > s.FallbackAt && s.FallbackAt > 0 {
		s.Action = s.Fallback
	} else if s.Fallback != "" && s.FallbackAt == 0 && attempt >= s.MaxAttempts {
		s.Action = s.Fallback
	}
	return s
}

// DelayFor computes the wait before attempt N (1-indexed), applying
// exponential backoff when the strategy calls for it.
func DelayFor(s Strategy, attempt int) time.Duration {
	if !s.Backoff || attempt <= 1 {
		return s.BaseDelay
	}
	return s.BaseDelay * time.Duration(1<<uint(attempt-1))
}

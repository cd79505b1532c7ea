package server

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateBodyRejectsMalformedEmail(t *testing.T) {
	err := validateBody(credentialRequest{Username: "not-an-email", Password: "secret"})
	require.Error(t, err)
}

func TestValidateBodyRejectsEmptyPassword(t *testing.T) {
	err := validateBody(credentialRequest{Username: "tech@example.com", Password: ""})
	require.Error(t, err)
}

func TestValidateBodyAcceptsWellFormedCredential(t *testing.T) {
	err := validateBody(credentialRequest{Username: "tech@example.com", Password: "secret"})
	require.NoError(t, err)
}

func TestValidateBodyRejectsUnknownStatus(t *testing.T) {
	err := validateBody(statusUpdateRequest{Status: "bogus"})
	require.Error(t, err)
}

func TestValidateBodyAcceptsKnownStatus(t *testing.T) {
	err := validateBody(statusUpdateRequest{Status: "in_progress"})
	require.NoError(t, err)
}

func TestValidateBodyRejectsOutOfRangePriority(t *testing.T) {
	err := validateBody(processVisitRequest{
		UserID:      "user-1",
		WorkOrderID: "wo-1",
		DispenserID: "d-1",
		Priority:    99,
	})
	require.Error(t, err)
}

func TestValidateBodyRejectsEmptyBatch(t *testing.T) {
	err := validateBody(processBatchRequest{UserID: "user-1", WorkOrderIDs: nil})
	require.Error(t, err)
}

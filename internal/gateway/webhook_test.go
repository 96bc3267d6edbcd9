package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMobileMoney(t *testing.T) {
	body := []byte(`{"id":"evt_1","event":"payout.completed","reference":"REL-42","status":"SUCCESSFUL"}`)
	sig := SignMobileMoney("s3cret", body)

	cb, err := ParseMobileMoney("s3cret", body, sig)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", cb.WebhookID)
	assert.Equal(t, "REL-42", cb.Reference)
	assert.Equal(t, StatusSuccess, cb.Status)
}

func TestParseMobileMoneyRejectsBadSignature(t *testing.T) {
	body := []byte(`{"id":"evt_1","reference":"REL-42","status":"FAILED"}`)

	_, err := ParseMobileMoney("s3cret", body, "deadbeef")
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = ParseMobileMoney("", body, SignMobileMoney("", body))
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestParseMobileMoneyStatuses(t *testing.T) {
	for raw, want := range map[string]Status{"FAILED": StatusFailed, "expired": StatusFailed, "processing": StatusPending} {
		body := []byte(`{"id":"e","reference":"r","status":"` + raw + `"}`)
		cb, err := ParseMobileMoney("k", body, SignMobileMoney("k", body))
		require.NoError(t, err)
		assert.Equal(t, want, cb.Status, raw)
	}
}

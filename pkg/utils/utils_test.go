package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		"670 00 00 01":       "+237670000001",
		"+237 6 70 00 00 01": "+237670000001",
		"237670000001":       "+237670000001",
		"+33612345678":       "33612345678",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizePhone(in), in)
	}

	assert.True(t, ValidCameroonMobile("670000001"))
	assert.False(t, ValidCameroonMobile("222000001"))
	assert.False(t, ValidCameroonMobile("+33612345678"))
}

func TestMaskSensitive(t *testing.T) {
	assert.Equal(t, "+237670******", MaskSensitive("+237670000001", 7))
	assert.Equal(t, "***", MaskSensitive("abc", 7))
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "102,500 XAF", FormatAmount(decimal.NewFromInt(102500), "XAF"))
	assert.Equal(t, "1,000", FormatAmount(decimal.RequireFromString("999.6"), ""))
	assert.Equal(t, "-2,500 XAF", FormatAmount(decimal.NewFromInt(-2500), "XAF"))
}

func TestNewReference(t *testing.T) {
	ref := NewReference("TXN", 8)
	assert.Regexp(t, `^TXN-[0-9A-F]{8}$`, ref)
	assert.NotEqual(t, ref, NewReference("TXN", 8))
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("s3cret-pass")
	require.NoError(t, err)
	assert.NoError(t, ComparePasswords(hash, "s3cret-pass"))
	assert.Error(t, ComparePasswords(hash, "wrong"))
}

func TestHandleServiceError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{NewValidationError("amount", "below minimum"), http.StatusBadRequest, "validation_error"},
		{&StateTransitionError{Resource: "transaction", Action: "cancel", From: "DISPUTE", Reason: ReasonWrongState}, http.StatusConflict, "invalid_transition"},
		{&GatewayError{Op: "release", Reference: "REL-1", Err: errors.New("timeout")}, http.StatusBadGateway, "gateway_error"},
		{fmt.Errorf("confirm: %w", ErrConcurrencyConflict), http.StatusConflict, "concurrency_conflict"},
		{ErrSettlementPending, http.StatusAccepted, "settlement_pending"},
		{ErrNotFound, http.StatusNotFound, "not_found"},
		{ErrKYCRequired, http.StatusForbidden, "kyc_required"},
		{ErrInvalidCredentials, http.StatusUnauthorized, "unauthorized"},
		{ErrInvalidResetToken, http.StatusBadRequest, "invalid_token"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Set("trace_id", "trace-1")
			HandleServiceError(c, tc.err)

			assert.Equal(t, tc.status, w.Code)
			var resp APIResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.False(t, resp.Success)
			assert.Equal(t, tc.code, resp.Code)
			assert.Equal(t, "trace-1", resp.TraceID)
		})
	}
}

func TestTokenManager(t *testing.T) {
	m := NewTokenManager("secret", 0)
	_, err := m.ValidateToken("not-a-token")
	assert.Error(t, err)
}

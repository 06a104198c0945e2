package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsKnownDepositStatus(t *testing.T) {
	for _, s := range []string{
		DepositStatusAwaitingPayment, DepositStatusTxDetected, DepositStatusConfirming,
		DepositStatusAwaitingOperatorReview, DepositStatusConfirmed, DepositStatusExpired,
		DepositStatusUnderpaid, DepositStatusOverpaid, DepositStatusRejected,
	} {
		assert.True(t, IsKnownDepositStatus(s), s)
	}
	assert.False(t, IsKnownDepositStatus("confirmed"))
	assert.False(t, IsKnownDepositStatus(""))
}

func TestDepositStatus_IsConfirmed(t *testing.T) {
	var nilStatus *DepositStatus
	assert.False(t, nilStatus.IsConfirmed())
	assert.False(t, (&DepositStatus{Status: DepositStatusConfirming}).IsConfirmed())
	assert.True(t, (&DepositStatus{Status: DepositStatusConfirmed}).IsConfirmed())
}

func TestDepositStatusFromEscrow_AwaitingHasNullCounts(t *testing.T) {
	ds := DepositStatusFromEscrow(&EscrowLedger{})

	assert.Equal(t, DepositStatusAwaitingPayment, ds.Status)
	assert.Nil(t, ds.Confirmations)
	assert.Nil(t, ds.RequiredConfirmations)

	data, err := json.Marshal(ds)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"AWAITING_PAYMENT","confirmations":null,"required_confirmations":null,
		"received_amount_nano":null,"tx_hash":null,"expires_at":null}`, string(data))
}

func TestDepositStatusFromEscrow_Confirming(t *testing.T) {
	seqno := uint32(100)
	amount := "5000000000"
	hash := "abcd"
	expires := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	ds := DepositStatusFromEscrow(&EscrowLedger{
		DepositStatus:         DepositStatusConfirming,
		Confirmations:         2,
		RequiredConfirmations: 3,
		DetectedSeqno:         &seqno,
		ReceivedAmountNano:    &amount,
		FundingTxHash:         &hash,
		DepositExpiresAt:      &expires,
	})

	require.NotNil(t, ds.Confirmations)
	require.NotNil(t, ds.RequiredConfirmations)
	assert.Equal(t, 2, *ds.Confirmations)
	assert.Equal(t, 3, *ds.RequiredConfirmations)
	assert.Equal(t, "5000000000", *ds.ReceivedAmountNano)
	assert.Equal(t, "abcd", *ds.TxHash)
	assert.Equal(t, expires, *ds.ExpiresAt)
}

func TestPendingIntent_JSONFieldNames(t *testing.T) {
	in := NewEscrowDepositIntent("deal-42", 1700000000000, "EQabc", "1500000000")
	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"escrow_deposit","dealId":"deal-42","sentAt":1700000000000,
		"destinationAddress":"EQabc","amountNano":"1500000000"}`, string(data))
}

func TestDepositHistoryFromAudit(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	logs := []AuditLog{
		{Action: "deposit_" + DepositStatusTxDetected, CreatedAt: t0, Meta: map[string]any{"tx_hash": "ab"}},
		{Action: "deal_status_awaiting_payment_to_funded", CreatedAt: t0.Add(time.Second)},
		{Action: "deposit_SOMETHING_ELSE", CreatedAt: t0.Add(2 * time.Second)},
		{Action: "deposit_" + DepositStatusConfirmed, CreatedAt: t0.Add(3 * time.Second)},
	}

	got := DepositHistoryFromAudit(logs)
	require.Len(t, got, 2)
	assert.Equal(t, DepositStatusTxDetected, got[0].Status)
	assert.Equal(t, t0, got[0].At)
	assert.Equal(t, map[string]any{"tx_hash": "ab"}, got[0].Details)
	assert.Equal(t, DepositStatusConfirmed, got[1].Status)

	assert.NotNil(t, DepositHistoryFromAudit(nil))
}

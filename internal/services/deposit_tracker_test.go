package services

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ads-marketplace/deposit-tracker/internal/events"
	"github.com/ads-marketplace/deposit-tracker/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type trackerFixture struct {
	dealID  uuid.UUID
	escrows *memEscrows
	deals   *memDeals
	audit   *memAudit
	inv     *memInvalidator
	pub     *memPublisher
	tracker *DepositTracker
}

func newTrackerFixture(t *testing.T, tolerance int64) *trackerFixture {
	t.Helper()
	f := &trackerFixture{
		dealID: uuid.New(),
		deals:  newMemDeals(),
		audit:  &memAudit{},
		inv:    &memInvalidator{},
		pub:    &memPublisher{},
	}
	f.escrows = newMemEscrows(&models.EscrowLedger{
		DealID:             f.dealID,
		DepositExpectedTON: "5.5",
		DepositMemo:        "deal-memo-1",
		DepositStatus:      models.DepositStatusAwaitingPayment,
		Status:             models.EscrowStatusAwaiting,
	})
	f.deals.add(f.dealID, uuid.New(), models.DealStatusAwaitingPayment)
	f.deals.telegram[f.dealID] = 777
	f.tracker = NewDepositTracker(f.escrows, f.deals, f.audit, f.inv, f.pub, 3, big.NewInt(tolerance), zap.NewNop())
	return f
}

func nano(s string) *big.Int {
	n, _ := new(big.Int).SetString(s, 10)
	return n
}

func TestDepositTracker_ExactPaymentConfirmsAfterRequiredSeqnos(t *testing.T) {
	f := newTrackerFixture(t, 0)
	ctx := context.Background()

	outcome, err := f.tracker.HandleTransfer(ctx, Transfer{
		Memo: "deal-memo-1", Amount: nano("5500000000"), TxHash: "h1", From: "EQpayer",
	}, 100)
	require.NoError(t, err)
	assert.Equal(t, models.DepositStatusTxDetected, outcome)

	e := f.escrows.get(f.dealID)
	assert.Equal(t, 3, e.RequiredConfirmations)
	require.NotNil(t, e.DetectedSeqno)
	assert.Equal(t, uint32(100), *e.DetectedSeqno)

	// same block: nothing to advance
	require.NoError(t, f.tracker.AdvanceConfirmations(ctx, 100))
	assert.Equal(t, models.DepositStatusTxDetected, f.escrows.get(f.dealID).DepositStatus)

	require.NoError(t, f.tracker.AdvanceConfirmations(ctx, 101))
	e = f.escrows.get(f.dealID)
	assert.Equal(t, models.DepositStatusConfirming, e.DepositStatus)
	assert.Equal(t, 1, e.Confirmations)

	// unchanged depth publishes nothing new
	before := len(f.pub.on(events.StreamDeposit))
	require.NoError(t, f.tracker.AdvanceConfirmations(ctx, 101))
	assert.Len(t, f.pub.on(events.StreamDeposit), before)

	require.NoError(t, f.tracker.AdvanceConfirmations(ctx, 103))
	e = f.escrows.get(f.dealID)
	assert.Equal(t, models.DepositStatusConfirmed, e.DepositStatus)
	assert.Equal(t, 3, e.Confirmations)
	assert.Equal(t, models.EscrowStatusFunded, e.Status)
	assert.Equal(t, models.DealStatusFunded, f.deals.status(f.dealID))

	var statuses []string
	for _, ev := range f.pub.on(events.StreamDeposit) {
		assert.Equal(t, events.EventDepositStatusChanged, ev.Type)
		statuses = append(statuses, ev.Payload["status"].(string))
	}
	assert.Equal(t, []string{
		models.DepositStatusTxDetected,
		models.DepositStatusConfirming,
		models.DepositStatusConfirmed,
	}, statuses)

	var dealTypes []string
	for _, ev := range f.pub.on(events.StreamDeal) {
		dealTypes = append(dealTypes, ev.Type)
	}
	assert.Equal(t, []string{events.EventDealStatusChanged, events.EventPaymentReceived}, dealTypes)

	assert.Equal(t, 1, f.inv.lists)
	assert.Len(t, f.inv.deals, 3)
	assert.Contains(t, f.audit.actions, "deal_status_awaiting_payment_to_funded")
	assert.Contains(t, f.audit.actions, "deposit_CONFIRMED")
}

func TestDepositTracker_AmountMismatch(t *testing.T) {
	tests := []struct {
		name      string
		amount    string
		tolerance int64
		want      string
	}{
		{"underpaid", "5499999999", 0, models.DepositStatusUnderpaid},
		{"overpaid", "5500000001", 0, models.DepositStatusOverpaid},
		{"within tolerance", "5500000100", 100, models.DepositStatusTxDetected},
		{"above tolerance", "5500000101", 100, models.DepositStatusOverpaid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTrackerFixture(t, tt.tolerance)
			got, err := f.tracker.HandleTransfer(context.Background(), Transfer{
				Memo: "deal-memo-1", Amount: nano(tt.amount), TxHash: "h",
			}, 10)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			e := f.escrows.get(f.dealID)
			assert.Equal(t, tt.want, e.DepositStatus)
			require.NotNil(t, e.ReceivedAmountNano)
			assert.Equal(t, tt.amount, *e.ReceivedAmountNano)
		})
	}
}

func TestDepositTracker_UnknownMemoAndRepeatedTransfer(t *testing.T) {
	f := newTrackerFixture(t, 0)
	ctx := context.Background()

	got, err := f.tracker.HandleTransfer(ctx, Transfer{Memo: "nope", Amount: nano("1")}, 1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoEscrow, got)

	tr := Transfer{Memo: "deal-memo-1", Amount: nano("5500000000"), TxHash: "h"}
	got, err = f.tracker.HandleTransfer(ctx, tr, 1)
	require.NoError(t, err)
	assert.Equal(t, models.DepositStatusTxDetected, got)

	got, err = f.tracker.HandleTransfer(ctx, tr, 2)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, got)
	assert.Equal(t, uint32(1), *f.escrows.get(f.dealID).DetectedSeqno)
}

func TestDepositTracker_NotificationPayload(t *testing.T) {
	f := newTrackerFixture(t, 0)
	_, err := f.tracker.HandleTransfer(context.Background(), Transfer{
		Memo: "deal-memo-1", Amount: nano("5500000000"), TxHash: "h",
	}, 1)
	require.NoError(t, err)

	evs := f.pub.on(events.StreamDeposit)
	require.Len(t, evs, 1)
	assert.Equal(t, int64(777), evs[0].Payload["telegram_user_id"])
	assert.Contains(t, evs[0].Payload["text"], "detected")
	assert.Equal(t, f.dealID.String(), evs[0].Payload["deal_id"])
}

func TestDepositTracker_ConfirmWithoutFundableDeal(t *testing.T) {
	f := newTrackerFixture(t, 0)
	ctx := context.Background()
	require.NoError(t, f.deals.UpdateStatus(ctx, f.dealID, models.DealStatusCancelled))

	_, err := f.tracker.HandleTransfer(ctx, Transfer{Memo: "deal-memo-1", Amount: nano("5500000000")}, 1)
	require.NoError(t, err)
	require.NoError(t, f.tracker.AdvanceConfirmations(ctx, 10))

	assert.Equal(t, models.DepositStatusConfirmed, f.escrows.get(f.dealID).DepositStatus)
	assert.Equal(t, models.DealStatusCancelled, f.deals.status(f.dealID))
}

func TestDepositTracker_ConfirmRetriesAfterDealUpdateFailure(t *testing.T) {
	f := newTrackerFixture(t, 0)
	ctx := context.Background()

	_, err := f.tracker.HandleTransfer(ctx, Transfer{Memo: "deal-memo-1", Amount: nano("5500000000")}, 1)
	require.NoError(t, err)
	require.NoError(t, f.tracker.AdvanceConfirmations(ctx, 2))
	require.Equal(t, models.DepositStatusConfirming, f.escrows.get(f.dealID).DepositStatus)

	f.deals.updateErr = errors.New("connection reset")
	require.Error(t, f.tracker.AdvanceConfirmations(ctx, 10))
	assert.Equal(t, models.DepositStatusConfirming, f.escrows.get(f.dealID).DepositStatus)
	assert.Equal(t, models.DealStatusAwaitingPayment, f.deals.status(f.dealID))
	assert.Zero(t, f.inv.lists)

	f.deals.updateErr = nil
	require.NoError(t, f.tracker.AdvanceConfirmations(ctx, 11))
	e := f.escrows.get(f.dealID)
	assert.Equal(t, models.DepositStatusConfirmed, e.DepositStatus)
	assert.Equal(t, models.EscrowStatusFunded, e.Status)
	assert.Equal(t, models.DealStatusFunded, f.deals.status(f.dealID))
	assert.Equal(t, 1, f.inv.lists)
}

func TestDepositTracker_ConfirmRetriesAfterEscrowUpdateFailure(t *testing.T) {
	f := newTrackerFixture(t, 0)
	ctx := context.Background()

	_, err := f.tracker.HandleTransfer(ctx, Transfer{Memo: "deal-memo-1", Amount: nano("5500000000")}, 1)
	require.NoError(t, err)

	f.escrows.confirmErr = errors.New("connection reset")
	require.Error(t, f.tracker.AdvanceConfirmations(ctx, 10))
	assert.Equal(t, models.DealStatusFunded, f.deals.status(f.dealID))
	assert.Equal(t, models.DepositStatusTxDetected, f.escrows.get(f.dealID).DepositStatus)

	f.escrows.confirmErr = nil
	require.NoError(t, f.tracker.AdvanceConfirmations(ctx, 11))
	assert.Equal(t, models.DepositStatusConfirmed, f.escrows.get(f.dealID).DepositStatus)
	assert.Equal(t, models.DealStatusFunded, f.deals.status(f.dealID))
	assert.Equal(t, 1, f.inv.lists)

	var dealTypes []string
	for _, ev := range f.pub.on(events.StreamDeal) {
		dealTypes = append(dealTypes, ev.Type)
	}
	assert.Equal(t, []string{events.EventDealStatusChanged, events.EventPaymentReceived}, dealTypes)
}

func TestDepositTracker_ExpireOverdue(t *testing.T) {
	f := newTrackerFixture(t, 0)
	past := time.Now().Add(-time.Minute)
	f.escrows.rows[f.dealID].DepositExpiresAt = &past

	n, err := f.tracker.ExpireOverdue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, models.DepositStatusExpired, f.escrows.get(f.dealID).DepositStatus)

	evs := f.pub.on(events.StreamDeposit)
	require.Len(t, evs, 1)
	assert.Equal(t, models.DepositStatusExpired, evs[0].Payload["status"])

	n, err = f.tracker.ExpireOverdue(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

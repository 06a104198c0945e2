package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ads-marketplace/deposit-tracker/internal/events"
	"github.com/ads-marketplace/deposit-tracker/internal/metrics"
	"github.com/ads-marketplace/deposit-tracker/internal/models"
	"github.com/ads-marketplace/deposit-tracker/internal/polling"
	"github.com/ads-marketplace/deposit-tracker/internal/repositories"
	"github.com/ads-marketplace/deposit-tracker/internal/ton"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

type EscrowWriter interface {
	GetByMemo(ctx context.Context, memo string) (*models.EscrowLedger, error)
	ListConfirming(ctx context.Context) ([]models.EscrowLedger, error)
	MarkDetected(ctx context.Context, dealID uuid.UUID, d repositories.DepositDetection, required int) (bool, error)
	MarkAmountMismatch(ctx context.Context, dealID uuid.UUID, status string, d repositories.DepositDetection) (bool, error)
	UpdateConfirmations(ctx context.Context, dealID uuid.UUID, confirmations int) error
	MarkConfirmed(ctx context.Context, dealID uuid.UUID, confirmations int) (bool, error)
	ExpireOverdue(ctx context.Context) ([]uuid.UUID, error)
}

type DealWriter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Deal, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
	AdvertiserTelegramID(ctx context.Context, dealID uuid.UUID) (int64, error)
}

type AuditLogger interface {
	Log(ctx context.Context, entry models.AuditLog) error
}

// Outcomes of HandleTransfer besides the deposit statuses it sets.
const (
	OutcomeNoEscrow = "no_escrow"
	OutcomeSkipped  = "skip"
)

// Transfer is an incoming TON transfer to the escrow wallet.
type Transfer struct {
	Memo   string
	Amount *big.Int // nanoTON
	TxHash string
	From   string
}

// DepositTracker applies chain observations to escrow deposits.
type DepositTracker struct {
	escrows     EscrowWriter
	deals       DealWriter
	audit       AuditLogger
	invalidator polling.Invalidator
	publisher   events.Publisher
	required    int
	tolerance   *big.Int
	log         *zap.Logger
}

func NewDepositTracker(
	escrows EscrowWriter,
	deals DealWriter,
	audit AuditLogger,
	invalidator polling.Invalidator,
	publisher events.Publisher,
	requiredConfirmations int,
	overpayTolerance *big.Int,
	log *zap.Logger,
) *DepositTracker {
	if overpayTolerance == nil {
		overpayTolerance = new(big.Int)
	}
	return &DepositTracker{
		escrows:     escrows,
		deals:       deals,
		audit:       audit,
		invalidator: invalidator,
		publisher:   publisher,
		required:    requiredConfirmations,
		tolerance:   overpayTolerance,
		log:         log,
	}
}

// HandleTransfer matches a transfer to an escrow by memo and records it.
// seqno is the masterchain seqno the transfer was observed at.
func (t *DepositTracker) HandleTransfer(ctx context.Context, tr Transfer, seqno uint32) (string, error) {
	escrow, err := t.escrows.GetByMemo(ctx, tr.Memo)
	if errors.Is(err, pgx.ErrNoRows) {
		return OutcomeNoEscrow, nil
	}
	if err != nil {
		return "", fmt.Errorf("get escrow by memo: %w", err)
	}

	if escrow.DepositStatus != models.DepositStatusAwaitingPayment {
		t.log.Debug("escrow not awaiting payment",
			zap.String("deal_id", escrow.DealID.String()),
			zap.String("deposit_status", escrow.DepositStatus),
		)
		return OutcomeSkipped, nil
	}

	expected, err := ton.ParseTON(escrow.DepositExpectedTON)
	if err != nil {
		return "", fmt.Errorf("expected amount of deal %s: %w", escrow.DealID, err)
	}

	det := repositories.DepositDetection{
		ReceivedAmountNano: tr.Amount.String(),
		TxHash:             tr.TxHash,
		PayerAddress:       tr.From,
		Seqno:              seqno,
	}

	var (
		status  string
		applied bool
	)
	switch ton.ClassifyAmount(tr.Amount, expected.Nano(), t.tolerance) {
	case -1:
		status = models.DepositStatusUnderpaid
		applied, err = t.escrows.MarkAmountMismatch(ctx, escrow.DealID, status, det)
	case 1:
		status = models.DepositStatusOverpaid
		applied, err = t.escrows.MarkAmountMismatch(ctx, escrow.DealID, status, det)
	default:
		status = models.DepositStatusTxDetected
		applied, err = t.escrows.MarkDetected(ctx, escrow.DealID, det, t.required)
	}
	if err != nil {
		return "", fmt.Errorf("record transfer for deal %s: %w", escrow.DealID, err)
	}
	if !applied {
		return OutcomeSkipped, nil
	}

	t.log.Info("deposit transfer recorded",
		zap.String("deal_id", escrow.DealID.String()),
		zap.String("deposit_status", status),
		zap.String("received_nano", det.ReceivedAmountNano),
		zap.String("expected_ton", escrow.DepositExpectedTON),
		zap.String("tx_hash", tr.TxHash),
	)
	t.statusChanged(ctx, escrow.DealID, status, map[string]any{
		"received_amount_nano": det.ReceivedAmountNano,
		"tx_hash":              tr.TxHash,
	})
	return status, nil
}

// AdvanceConfirmations recomputes confirmations of detected deposits
// against the current masterchain seqno and finalizes those that are deep enough.
func (t *DepositTracker) AdvanceConfirmations(ctx context.Context, currentSeqno uint32) error {
	pending, err := t.escrows.ListConfirming(ctx)
	if err != nil {
		return fmt.Errorf("list confirming escrows: %w", err)
	}

	var errs []error
	for _, e := range pending {
		if e.DetectedSeqno == nil {
			continue
		}
		required := e.RequiredConfirmations
		if required <= 0 {
			required = t.required
		}

		n := 0
		if currentSeqno > *e.DetectedSeqno {
			n = int(currentSeqno - *e.DetectedSeqno)
		}

		if n >= required {
			if err := t.confirm(ctx, e.DealID, n); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		if n == 0 || (e.DepositStatus == models.DepositStatusConfirming && n == e.Confirmations) {
			continue
		}

		if err := t.escrows.UpdateConfirmations(ctx, e.DealID, n); err != nil {
			errs = append(errs, fmt.Errorf("update confirmations of deal %s: %w", e.DealID, err))
			continue
		}
		t.statusChanged(ctx, e.DealID, models.DepositStatusConfirming, map[string]any{
			"confirmations":          n,
			"required_confirmations": required,
		})
	}
	return errors.Join(errs...)
}

func (t *DepositTracker) confirm(ctx context.Context, dealID uuid.UUID, confirmations int) error {
	// The escrow row is flipped last so a failed deal update leaves it
	// CONFIRMING and the next tick retries the whole step.
	deal, err := t.deals.GetByID(ctx, dealID)
	if err != nil {
		return fmt.Errorf("get deal %s: %w", dealID, err)
	}
	switch {
	case deal.Status == models.DealStatusFunded:
	case models.IsValidTransition(deal.Status, models.DealStatusFunded):
		if err := t.deals.UpdateStatus(ctx, dealID, models.DealStatusFunded); err != nil {
			return fmt.Errorf("fund deal %s: %w", dealID, err)
		}
		_ = t.audit.Log(ctx, models.AuditLog{
			ActorType:  models.AuditActorSystem,
			Action:     fmt.Sprintf("deal_status_%s_to_%s", deal.Status, models.DealStatusFunded),
			EntityType: "deal",
			EntityID:   &dealID,
			Meta:       map[string]any{"old_status": deal.Status, "new_status": models.DealStatusFunded},
		})
		_ = t.publisher.Publish(ctx, events.StreamDeal, events.Event{
			Type: events.EventDealStatusChanged,
			Payload: map[string]any{
				"deal_id":    dealID.String(),
				"old_status": deal.Status,
				"new_status": models.DealStatusFunded,
			},
		})
	default:
		t.log.Warn("deposit confirmed but deal cannot be funded",
			zap.String("deal_id", dealID.String()),
			zap.String("deal_status", deal.Status),
		)
	}

	ok, err := t.escrows.MarkConfirmed(ctx, dealID, confirmations)
	if err != nil {
		return fmt.Errorf("mark deal %s confirmed: %w", dealID, err)
	}
	if !ok {
		return nil
	}

	_ = t.publisher.Publish(ctx, events.StreamDeal, events.Event{
		Type: events.EventPaymentReceived,
		Payload: map[string]any{
			"deal_id":       dealID.String(),
			"confirmations": confirmations,
		},
	})

	t.log.Info("deposit confirmed", zap.String("deal_id", dealID.String()), zap.Int("confirmations", confirmations))
	t.statusChanged(ctx, dealID, models.DepositStatusConfirmed, map[string]any{"confirmations": confirmations})
	if err := t.invalidator.InvalidateDealLists(ctx); err != nil {
		t.log.Warn("failed to invalidate deal lists", zap.Error(err))
	}
	return nil
}

// ExpireOverdue expires unpaid deposits past their deadline.
func (t *DepositTracker) ExpireOverdue(ctx context.Context) (int, error) {
	ids, err := t.escrows.ExpireOverdue(ctx)
	if err != nil {
		return 0, fmt.Errorf("expire overdue deposits: %w", err)
	}
	for _, id := range ids {
		t.log.Info("deposit expired", zap.String("deal_id", id.String()))
		t.statusChanged(ctx, id, models.DepositStatusExpired, nil)
	}
	return len(ids), nil
}

// statusChanged runs the side effects shared by every deposit transition:
// metrics, audit, detail cache invalidation and the deposit event.
func (t *DepositTracker) statusChanged(ctx context.Context, dealID uuid.UUID, status string, extra map[string]any) {
	metrics.DepositTransitions.WithLabelValues(status).Inc()

	_ = t.audit.Log(ctx, models.AuditLog{
		ActorType:  models.AuditActorSystem,
		Action:     "deposit_" + status,
		EntityType: "deal",
		EntityID:   &dealID,
		Meta:       extra,
	})

	if err := t.invalidator.InvalidateDeal(ctx, dealID.String()); err != nil {
		t.log.Warn("failed to invalidate deal cache", zap.String("deal_id", dealID.String()), zap.Error(err))
	}

	payload := map[string]any{
		"deal_id": dealID.String(),
		"status":  status,
	}
	for k, v := range extra {
		payload[k] = v
	}
	ev := events.Event{Type: events.EventDepositStatusChanged, Payload: payload}

	if tgID, err := t.deals.AdvertiserTelegramID(ctx, dealID); err == nil && tgID != 0 {
		payload["telegram_user_id"] = tgID
		if text := DepositNotificationText(ev); text != "" {
			payload["text"] = text
		}
	}

	_ = t.publisher.Publish(ctx, events.StreamDeposit, ev)
}

package repositories

import (
	"context"

	"github.com/ads-marketplace/deposit-tracker/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type EscrowRepo struct {
	pool *pgxpool.Pool
}

func NewEscrowRepo(pool *pgxpool.Pool) *EscrowRepo {
	return &EscrowRepo{pool: pool}
}

// DepositDetection is an incoming transfer matched to an escrow memo.
type DepositDetection struct {
	ReceivedAmountNano string
	TxHash             string
	PayerAddress       string
	Seqno              uint32
}

const escrowColumns = `
	id, deal_id, deposit_expected_ton::text, deposit_address, deposit_memo,
	deposit_status, confirmations, required_confirmations, received_amount_nano,
	detected_seqno, deposit_expires_at, funded_at, funding_tx_hash, payer_address, status`

func scanEscrow(row pgx.Row) (*models.EscrowLedger, error) {
	var (
		e     models.EscrowLedger
		seqno *int64
	)
	err := row.Scan(&e.ID, &e.DealID, &e.DepositExpectedTON, &e.DepositAddress, &e.DepositMemo,
		&e.DepositStatus, &e.Confirmations, &e.RequiredConfirmations, &e.ReceivedAmountNano,
		&seqno, &e.DepositExpiresAt, &e.FundedAt, &e.FundingTxHash, &e.PayerAddress, &e.Status)
	if err != nil {
		return nil, err
	}
	if seqno != nil {
		s := uint32(*seqno)
		e.DetectedSeqno = &s
	}
	return &e, nil
}

func (r *EscrowRepo) GetByDealID(ctx context.Context, dealID uuid.UUID) (*models.EscrowLedger, error) {
	return scanEscrow(r.pool.QueryRow(ctx, `SELECT`+escrowColumns+` FROM escrow_ledger WHERE deal_id = $1`, dealID))
}

func (r *EscrowRepo) GetByMemo(ctx context.Context, memo string) (*models.EscrowLedger, error) {
	return scanEscrow(r.pool.QueryRow(ctx, `SELECT`+escrowColumns+` FROM escrow_ledger WHERE deposit_memo = $1`, memo))
}

// ListConfirming returns escrows whose transfer was seen but is not yet final.
func (r *EscrowRepo) ListConfirming(ctx context.Context) ([]models.EscrowLedger, error) {
	rows, err := r.pool.Query(ctx, `SELECT`+escrowColumns+` FROM escrow_ledger
		WHERE deposit_status IN ('TX_DETECTED', 'CONFIRMING')
		ORDER BY detected_seqno`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.EscrowLedger
	for rows.Next() {
		e, err := scanEscrow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// MarkDetected moves an AWAITING_PAYMENT escrow to TX_DETECTED.
// Returns false when the escrow already left AWAITING_PAYMENT.
func (r *EscrowRepo) MarkDetected(ctx context.Context, dealID uuid.UUID, d DepositDetection, required int) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE escrow_ledger
		SET deposit_status = 'TX_DETECTED', confirmations = 0,
		    required_confirmations = CASE WHEN required_confirmations > 0 THEN required_confirmations ELSE $1 END,
		    received_amount_nano = $2, funding_tx_hash = $3, payer_address = $4, detected_seqno = $5
		WHERE deal_id = $6 AND deposit_status = 'AWAITING_PAYMENT'
	`, required, d.ReceivedAmountNano, d.TxHash, d.PayerAddress, int64(d.Seqno), dealID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkAmountMismatch records an UNDERPAID or OVERPAID transfer.
func (r *EscrowRepo) MarkAmountMismatch(ctx context.Context, dealID uuid.UUID, status string, d DepositDetection) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE escrow_ledger
		SET deposit_status = $1, received_amount_nano = $2, funding_tx_hash = $3, payer_address = $4
		WHERE deal_id = $5 AND deposit_status = 'AWAITING_PAYMENT'
	`, status, d.ReceivedAmountNano, d.TxHash, d.PayerAddress, dealID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *EscrowRepo) UpdateConfirmations(ctx context.Context, dealID uuid.UUID, confirmations int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE escrow_ledger SET deposit_status = 'CONFIRMING', confirmations = $1
		WHERE deal_id = $2 AND deposit_status IN ('TX_DETECTED', 'CONFIRMING')
	`, confirmations, dealID)
	return err
}

// MarkConfirmed finalizes the deposit and flips the legacy status to funded.
func (r *EscrowRepo) MarkConfirmed(ctx context.Context, dealID uuid.UUID, confirmations int) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE escrow_ledger
		SET deposit_status = 'CONFIRMED', confirmations = $1, status = 'funded', funded_at = now()
		WHERE deal_id = $2 AND deposit_status IN ('TX_DETECTED', 'CONFIRMING')
	`, confirmations, dealID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ExpireOverdue moves unpaid escrows past their deadline to EXPIRED.
func (r *EscrowRepo) ExpireOverdue(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE escrow_ledger SET deposit_status = 'EXPIRED'
		WHERE deposit_status = 'AWAITING_PAYMENT'
		  AND deposit_expires_at IS NOT NULL AND deposit_expires_at < now()
		RETURNING deal_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

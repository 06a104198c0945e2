package models

import (
	"strings"
	"time"
)

// Deposit statuses reported by GET /deals/:id/deposit.
const (
	DepositStatusAwaitingPayment        = "AWAITING_PAYMENT"
	DepositStatusTxDetected             = "TX_DETECTED"
	DepositStatusConfirming             = "CONFIRMING"
	DepositStatusAwaitingOperatorReview = "AWAITING_OPERATOR_REVIEW"
	DepositStatusConfirmed              = "CONFIRMED"
	DepositStatusExpired                = "EXPIRED"
	DepositStatusUnderpaid              = "UNDERPAID"
	DepositStatusOverpaid               = "OVERPAID"
	DepositStatusRejected               = "REJECTED"
)

var depositStatuses = map[string]struct{}{
	DepositStatusAwaitingPayment:        {},
	DepositStatusTxDetected:             {},
	DepositStatusConfirming:             {},
	DepositStatusAwaitingOperatorReview: {},
	DepositStatusConfirmed:              {},
	DepositStatusExpired:                {},
	DepositStatusUnderpaid:              {},
	DepositStatusOverpaid:               {},
	DepositStatusRejected:               {},
}

func IsKnownDepositStatus(s string) bool {
	_, ok := depositStatuses[s]
	return ok
}

// DepositStatus is the payload of the deposit-status endpoint.
// Nullable fields stay nil until the indexer has something to report.
type DepositStatus struct {
	Status                string     `json:"status"`
	Confirmations         *int       `json:"confirmations"`
	RequiredConfirmations *int       `json:"required_confirmations"`
	ReceivedAmountNano    *string    `json:"received_amount_nano"`
	TxHash                *string    `json:"tx_hash"`
	ExpiresAt             *time.Time `json:"expires_at"`
}

// IsConfirmed reports whether the deposit reached the only success state.
func (d *DepositStatus) IsConfirmed() bool {
	return d != nil && d.Status == DepositStatusConfirmed
}

// DepositStatusFromEscrow builds the endpoint payload from a ledger row.
func DepositStatusFromEscrow(e *EscrowLedger) DepositStatus {
	ds := DepositStatus{
		Status:             e.DepositStatus,
		ReceivedAmountNano: e.ReceivedAmountNano,
		TxHash:             e.FundingTxHash,
		ExpiresAt:          e.DepositExpiresAt,
	}
	if ds.Status == "" {
		ds.Status = DepositStatusAwaitingPayment
	}
	if e.DetectedSeqno != nil || e.Confirmations > 0 {
		c := e.Confirmations
		ds.Confirmations = &c
	}
	if e.RequiredConfirmations > 0 {
		r := e.RequiredConfirmations
		ds.RequiredConfirmations = &r
	}
	return ds
}

// DepositHistoryEntry is one recorded deposit transition of a deal.
type DepositHistoryEntry struct {
	Status  string    `json:"status"`
	At      time.Time `json:"at"`
	Details any       `json:"details,omitempty"`
}

// DepositHistoryFromAudit keeps the audit rows that record a known deposit status.
func DepositHistoryFromAudit(logs []AuditLog) []DepositHistoryEntry {
	out := make([]DepositHistoryEntry, 0, len(logs))
	for _, l := range logs {
		status, ok := strings.CutPrefix(l.Action, "deposit_")
		if !ok || !IsKnownDepositStatus(status) {
			continue
		}
		out = append(out, DepositHistoryEntry{Status: status, At: l.CreatedAt, Details: l.Meta})
	}
	return out
}

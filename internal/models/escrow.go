package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	EscrowStatusAwaiting = "awaiting"
	EscrowStatusFunded   = "funded"
	EscrowStatusReleased = "released"
	EscrowStatusRefunded = "refunded"
)

type EscrowLedger struct {
	ID                    uuid.UUID  `json:"id"`
	DealID                uuid.UUID  `json:"deal_id"`
	DepositExpectedTON    string     `json:"deposit_expected_ton"`
	DepositAddress        string     `json:"deposit_address"`
	DepositMemo           string     `json:"deposit_memo"`
	DepositStatus         string     `json:"deposit_status"`
	Confirmations         int        `json:"confirmations"`
	RequiredConfirmations int        `json:"required_confirmations"`
	ReceivedAmountNano    *string    `json:"received_amount_nano,omitempty"`
	DetectedSeqno         *uint32    `json:"-"`
	DepositExpiresAt      *time.Time `json:"deposit_expires_at,omitempty"`
	FundedAt              *time.Time `json:"funded_at,omitempty"`
	FundingTxHash         *string    `json:"funding_tx_hash,omitempty"`
	PayerAddress          *string    `json:"payer_address,omitempty"`
	Status                string     `json:"status"`
}

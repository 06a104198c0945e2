package models

// IntentKindEscrowDeposit is the only kind of pending intent recorded today.
const IntentKindEscrowDeposit = "escrow_deposit"

// PendingIntent marks a deposit transfer that was handed to the wallet
// and is not confirmed yet. Field names match the web client record.
type PendingIntent struct {
	Kind               string `json:"kind"`
	DealID             string `json:"dealId"`
	SentAt             int64  `json:"sentAt"` // unix millis
	DestinationAddress string `json:"destinationAddress"`
	AmountNano         string `json:"amountNano"`
}

func NewEscrowDepositIntent(dealID string, sentAtMillis int64, destination, amountNano string) PendingIntent {
	return PendingIntent{
		Kind:               IntentKindEscrowDeposit,
		DealID:             dealID,
		SentAt:             sentAtMillis,
		DestinationAddress: destination,
		AmountNano:         amountNano,
	}
}

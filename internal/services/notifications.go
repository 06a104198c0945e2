package services

import (
	"fmt"

	"github.com/ads-marketplace/deposit-tracker/internal/events"
	"github.com/ads-marketplace/deposit-tracker/internal/models"
)

// DepositNotificationText renders the bot message for a deposit event.
// Returns "" when the event is not worth a message.
func DepositNotificationText(ev events.Event) string {
	dealID, _ := ev.Payload["deal_id"].(string)

	switch ev.Type {
	case events.EventDepositConfirmed:
		return fmt.Sprintf("Deposit for deal %s is confirmed. The deal is funded.", dealID)
	case events.EventDepositTimedOut:
		return fmt.Sprintf("Still no confirmed deposit for deal %s. Open the deal to check its payment status.", dealID)
	case events.EventDepositStatusChanged:
	default:
		return ""
	}

	status, _ := ev.Payload["status"].(string)
	switch status {
	case models.DepositStatusTxDetected:
		return fmt.Sprintf("Payment for deal %s detected. Waiting for network confirmations.", dealID)
	case models.DepositStatusConfirmed:
		return fmt.Sprintf("Deposit for deal %s is confirmed. The deal is funded.", dealID)
	case models.DepositStatusUnderpaid:
		return fmt.Sprintf("Payment for deal %s is below the expected amount. Contact support to resolve it.", dealID)
	case models.DepositStatusOverpaid:
		return fmt.Sprintf("Payment for deal %s exceeds the expected amount. It is held for operator review.", dealID)
	case models.DepositStatusExpired:
		return fmt.Sprintf("The payment window for deal %s has expired.", dealID)
	}
	return ""
}

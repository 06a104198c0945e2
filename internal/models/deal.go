package models

import (
	"time"

	"github.com/google/uuid"
)

// Deal statuses. Only the payment step matters to deposits: a confirmed
// deposit moves a deal from awaiting_payment to funded.
const (
	DealStatusDraft                    = "draft"
	DealStatusSubmitted                = "submitted"
	DealStatusRejected                 = "rejected"
	DealStatusAccepted                 = "accepted"
	DealStatusAwaitingPayment          = "awaiting_payment"
	DealStatusFunded                   = "funded"
	DealStatusCreativePending          = "creative_pending"
	DealStatusCreativeSubmitted        = "creative_submitted"
	DealStatusCreativeChangesRequested = "creative_changes_requested"
	DealStatusCreativeApproved         = "creative_approved"
	DealStatusScheduled                = "scheduled"
	DealStatusPosted                   = "posted"
	DealStatusHoldVerification         = "hold_verification"
	DealStatusHoldVerificationFailed   = "hold_verification_failed"
	DealStatusCompleted                = "completed"
	DealStatusRefunded                 = "refunded"
	DealStatusCancelled                = "cancelled"
)

// dealTransitions maps a status to the statuses it may move to.
var dealTransitions = map[string][]string{
	DealStatusDraft:                    {DealStatusSubmitted, DealStatusCancelled},
	DealStatusSubmitted:                {DealStatusAccepted, DealStatusRejected, DealStatusCancelled},
	DealStatusRejected:                 nil,
	DealStatusAccepted:                 {DealStatusAwaitingPayment, DealStatusCancelled},
	DealStatusAwaitingPayment:          {DealStatusFunded, DealStatusCancelled},
	DealStatusFunded:                   {DealStatusCreativePending, DealStatusCancelled},
	DealStatusCreativePending:          {DealStatusCreativeSubmitted, DealStatusCancelled},
	DealStatusCreativeSubmitted:        {DealStatusCreativeApproved, DealStatusCreativeChangesRequested},
	DealStatusCreativeChangesRequested: {DealStatusCreativeSubmitted, DealStatusCancelled},
	DealStatusCreativeApproved:         {DealStatusScheduled, DealStatusPosted},
	DealStatusScheduled:                {DealStatusPosted, DealStatusCancelled},
	DealStatusPosted:                   {DealStatusHoldVerification},
	DealStatusHoldVerification:         {DealStatusCompleted, DealStatusHoldVerificationFailed},
	DealStatusHoldVerificationFailed:   {DealStatusRefunded},
	DealStatusCompleted:                nil,
	DealStatusRefunded:                 nil,
	DealStatusCancelled:                {DealStatusRefunded},
}

// IsDealStatus reports whether s names a deal status.
func IsDealStatus(s string) bool {
	_, ok := dealTransitions[s]
	return ok
}

func IsValidTransition(from, to string) bool {
	for _, s := range dealTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Deal struct {
	ID                uuid.UUID  `json:"id"`
	ChannelID         uuid.UUID  `json:"channel_id"`
	AdvertiserUserID  uuid.UUID  `json:"advertiser_user_id"`
	Status            string     `json:"status"`
	AdFormat          string     `json:"ad_format"` // post / repost / story
	Brief             *string    `json:"brief,omitempty"`
	ScheduledAt       *time.Time `json:"scheduled_at,omitempty"`
	PriceTON          string     `json:"price_ton"` // numeric as string
	PlatformFeeBPS    int        `json:"platform_fee_bps"`
	HoldPeriodSeconds int        `json:"hold_period_seconds"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// DealWithChannel is the deal detail/list row served to the Mini App.
type DealWithChannel struct {
	Deal
	ChannelTitle    *string `json:"channel_title,omitempty"`
	ChannelUsername *string `json:"channel_username,omitempty"`
	DepositStatus   *string `json:"deposit_status,omitempty"`
}

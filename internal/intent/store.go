// Package intent keeps the single pending deposit intent that lets a
// payment flow resume after the wallet round-trip.
package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ads-marketplace/deposit-tracker/internal/metrics"
	"github.com/ads-marketplace/deposit-tracker/internal/models"
	"go.uber.org/zap"
)

const (
	// StorageKey is the only slot the store touches.
	StorageKey = "ton:pending-intent"

	// TTL bounds how long a sent-but-unconfirmed transfer is resumable.
	TTL = 30 * time.Minute
)

// Store is a single-slot, last-write-wins record of the pending intent.
// Storage failures never reach the caller: Load degrades to absent,
// Save and Clear to no-ops.
type Store struct {
	storage Storage
	log     *zap.Logger
	now     func() time.Time
}

func NewStore(storage Storage, log *zap.Logger) *Store {
	return &Store{storage: storage, log: log, now: time.Now}
}

// WithClock replaces the wall clock used for expiry.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) Save(ctx context.Context, in models.PendingIntent) {
	data, err := json.Marshal(in)
	if err != nil {
		s.log.Warn("failed to encode pending intent", zap.String("deal_id", in.DealID), zap.Error(err))
		return
	}
	if err := s.storage.Set(ctx, StorageKey, string(data)); err != nil {
		s.log.Warn("failed to save pending intent", zap.String("deal_id", in.DealID), zap.Error(err))
	}
}

// Load returns the stored intent if it is well-formed and not older than
// TTL. Malformed and expired records are cleared as a side effect.
func (s *Store) Load(ctx context.Context) (*models.PendingIntent, bool) {
	raw, ok, err := s.storage.Get(ctx, StorageKey)
	if err != nil {
		s.log.Warn("failed to read pending intent", zap.Error(err))
		metrics.IntentLoads.WithLabelValues("error").Inc()
		return nil, false
	}
	if !ok {
		metrics.IntentLoads.WithLabelValues("absent").Inc()
		return nil, false
	}

	in, err := decodeIntent(raw)
	if err != nil {
		s.log.Info("dropping malformed pending intent", zap.Error(err))
		metrics.IntentLoads.WithLabelValues("corrupt").Inc()
		s.Clear(ctx)
		return nil, false
	}

	// exactly TTL old is still valid; compared this way round so a very
	// old sentAt cannot overflow the subtraction
	if in.SentAt < s.now().UnixMilli()-TTL.Milliseconds() {
		s.log.Info("pending intent expired",
			zap.String("deal_id", in.DealID),
			zap.Int64("sent_at", in.SentAt),
		)
		metrics.IntentLoads.WithLabelValues("expired").Inc()
		s.Clear(ctx)
		return nil, false
	}

	metrics.IntentLoads.WithLabelValues("found").Inc()
	return in, true
}

// Clear is idempotent.
func (s *Store) Clear(ctx context.Context) {
	if err := s.storage.Delete(ctx, StorageKey); err != nil {
		s.log.Warn("failed to clear pending intent", zap.Error(err))
	}
}

// wireIntent distinguishes missing fields (nil) from zero values.
type wireIntent struct {
	Kind               *string          `json:"kind"`
	DealID             *string          `json:"dealId"`
	SentAt             *json.RawMessage `json:"sentAt"`
	DestinationAddress *string          `json:"destinationAddress"`
	AmountNano         *string          `json:"amountNano"`
}

func decodeIntent(raw string) (*models.PendingIntent, error) {
	var w wireIntent
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return nil, fmt.Errorf("decode pending intent: %w", err)
	}
	if w.Kind == nil || w.DealID == nil || w.SentAt == nil || w.DestinationAddress == nil || w.AmountNano == nil {
		return nil, fmt.Errorf("pending intent is missing fields")
	}
	if *w.Kind != models.IntentKindEscrowDeposit {
		return nil, fmt.Errorf("unexpected pending intent kind %q", *w.Kind)
	}
	sentAt, err := parseMillis(*w.SentAt)
	if err != nil {
		return nil, err
	}
	return &models.PendingIntent{
		Kind:               *w.Kind,
		DealID:             *w.DealID,
		SentAt:             sentAt,
		DestinationAddress: *w.DestinationAddress,
		AmountNano:         *w.AmountNano,
	}, nil
}

// parseMillis accepts only a bare JSON integer that fits in int64.
// Fractions, exponents and out-of-range values are rejected rather than
// truncated.
func parseMillis(raw json.RawMessage) (int64, error) {
	text := strings.TrimSpace(string(raw))
	if text == "" || text == "null" || strings.HasPrefix(text, `"`) {
		return 0, fmt.Errorf("sentAt is not a number")
	}
	ms, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid sentAt %s: %w", text, err)
	}
	return ms, nil
}

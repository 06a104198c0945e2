package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/ads-marketplace/deposit-tracker/internal/cache"
	"github.com/ads-marketplace/deposit-tracker/internal/models"
	"github.com/ads-marketplace/deposit-tracker/internal/repositories"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

var (
	ErrDealNotFound    = errors.New("deal not found")
	ErrDepositNotFound = errors.New("deposit not found")
)

type DealReader interface {
	GetByIDWithChannel(ctx context.Context, id uuid.UUID) (*models.DealWithChannel, error)
	ListWithChannel(ctx context.Context, f repositories.DealFilter) ([]models.DealWithChannel, error)
	IsParticipant(ctx context.Context, dealID, userID uuid.UUID) (bool, error)
}

type EscrowReader interface {
	GetByDealID(ctx context.Context, dealID uuid.UUID) (*models.EscrowLedger, error)
}

type HistoryReader interface {
	DepositHistory(ctx context.Context, dealID uuid.UUID, limit int) ([]models.AuditLog, error)
}

type ResponseCache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any) error
}

// DepositService serves the read side of deals and their deposits.
type DepositService struct {
	deals   DealReader
	escrows EscrowReader
	history HistoryReader
	cache   ResponseCache
	log     *zap.Logger
}

func NewDepositService(deals DealReader, escrows EscrowReader, history HistoryReader, cache ResponseCache, log *zap.Logger) *DepositService {
	return &DepositService{deals: deals, escrows: escrows, history: history, cache: cache, log: log}
}

func (s *DepositService) checkParticipant(ctx context.Context, dealID, userID uuid.UUID) error {
	ok, err := s.deals.IsParticipant(ctx, dealID, userID)
	if err != nil {
		return fmt.Errorf("check participant: %w", err)
	}
	if !ok {
		// strangers get the same answer as a missing deal
		return ErrDealNotFound
	}
	return nil
}

// DepositStatus is the idempotent status read polled by clients.
func (s *DepositService) DepositStatus(ctx context.Context, dealID, userID uuid.UUID) (*models.DepositStatus, error) {
	if err := s.checkParticipant(ctx, dealID, userID); err != nil {
		return nil, err
	}

	escrow, err := s.escrows.GetByDealID(ctx, dealID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDepositNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get escrow: %w", err)
	}

	st := models.DepositStatusFromEscrow(escrow)
	return &st, nil
}

// DepositHistory lists the recorded deposit transitions of a deal.
func (s *DepositService) DepositHistory(ctx context.Context, dealID, userID uuid.UUID, limit int) ([]models.DepositHistoryEntry, error) {
	if err := s.checkParticipant(ctx, dealID, userID); err != nil {
		return nil, err
	}
	logs, err := s.history.DepositHistory(ctx, dealID, limit)
	if err != nil {
		return nil, fmt.Errorf("deposit history: %w", err)
	}
	return models.DepositHistoryFromAudit(logs), nil
}

func (s *DepositService) GetDeal(ctx context.Context, dealID, userID uuid.UUID) (*models.DealWithChannel, error) {
	if err := s.checkParticipant(ctx, dealID, userID); err != nil {
		return nil, err
	}

	key := cache.DealKey(dealID.String())
	var cached models.DealWithChannel
	if hit, err := s.cache.Get(ctx, key, &cached); err != nil {
		s.log.Warn("deal cache read failed", zap.String("deal_id", dealID.String()), zap.Error(err))
	} else if hit {
		return &cached, nil
	}

	deal, err := s.deals.GetByIDWithChannel(ctx, dealID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDealNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get deal: %w", err)
	}

	if err := s.cache.Set(ctx, key, deal); err != nil {
		s.log.Warn("deal cache write failed", zap.String("deal_id", dealID.String()), zap.Error(err))
	}
	return deal, nil
}

func (s *DepositService) ListDeals(ctx context.Context, f repositories.DealFilter) ([]models.DealWithChannel, error) {
	key := cache.DealListKey(f.CacheScope())
	var cached []models.DealWithChannel
	if hit, err := s.cache.Get(ctx, key, &cached); err != nil {
		s.log.Warn("deal list cache read failed", zap.Error(err))
	} else if hit {
		return cached, nil
	}

	deals, err := s.deals.ListWithChannel(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list deals: %w", err)
	}

	if err := s.cache.Set(ctx, key, deals); err != nil {
		s.log.Warn("deal list cache write failed", zap.Error(err))
	}
	return deals, nil
}

package repositories

import (
	"context"
	"fmt"
	"strings"

	"github.com/ads-marketplace/deposit-tracker/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type DealRepo struct {
	pool *pgxpool.Pool
}

func NewDealRepo(pool *pgxpool.Pool) *DealRepo {
	return &DealRepo{pool: pool}
}

const dealViewSelect = `
	SELECT d.id, d.channel_id, d.advertiser_user_id, d.status, d.ad_format, d.brief, d.scheduled_at,
	       d.price_ton::text, d.platform_fee_bps, d.hold_period_seconds, d.created_at, d.updated_at,
	       c.title, c.username, e.deposit_status
	FROM deals d
	JOIN channels c ON c.id = d.channel_id
	LEFT JOIN escrow_ledger e ON e.deal_id = d.id
`

func scanDealView(row pgx.Row) (*models.DealWithChannel, error) {
	var d models.DealWithChannel
	err := row.Scan(&d.ID, &d.ChannelID, &d.AdvertiserUserID, &d.Status, &d.AdFormat, &d.Brief, &d.ScheduledAt,
		&d.PriceTON, &d.PlatformFeeBPS, &d.HoldPeriodSeconds, &d.CreatedAt, &d.UpdatedAt,
		&d.ChannelTitle, &d.ChannelUsername, &d.DepositStatus)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *DealRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Deal, error) {
	var d models.Deal
	err := r.pool.QueryRow(ctx, `
		SELECT id, channel_id, advertiser_user_id, status, ad_format, brief, scheduled_at,
		       price_ton::text, platform_fee_bps, hold_period_seconds, created_at, updated_at
		FROM deals WHERE id = $1
	`, id).Scan(&d.ID, &d.ChannelID, &d.AdvertiserUserID, &d.Status, &d.AdFormat, &d.Brief, &d.ScheduledAt,
		&d.PriceTON, &d.PlatformFeeBPS, &d.HoldPeriodSeconds, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *DealRepo) GetByIDWithChannel(ctx context.Context, id uuid.UUID) (*models.DealWithChannel, error) {
	return scanDealView(r.pool.QueryRow(ctx, dealViewSelect+` WHERE d.id = $1`, id))
}

type DealFilter struct {
	AdvertiserUserID *uuid.UUID
	OwnerUserID      *uuid.UUID // through channel_members
	Status           *string
	Limit            int
	Offset           int
}

// CacheScope identifies the list view for the deal list cache.
func (f DealFilter) CacheScope() string {
	parts := []string{"adv=", "own=", "st=", fmt.Sprintf("l=%d", f.Limit), fmt.Sprintf("o=%d", f.Offset)}
	if f.AdvertiserUserID != nil {
		parts[0] += f.AdvertiserUserID.String()
	}
	if f.OwnerUserID != nil {
		parts[1] += f.OwnerUserID.String()
	}
	if f.Status != nil {
		parts[2] += *f.Status
	}
	return strings.Join(parts, ":")
}

func (r *DealRepo) ListWithChannel(ctx context.Context, f DealFilter) ([]models.DealWithChannel, error) {
	query := dealViewSelect
	var (
		args  []any
		where []string
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.AdvertiserUserID != nil {
		where = append(where, "d.advertiser_user_id = "+arg(*f.AdvertiserUserID))
	}
	if f.OwnerUserID != nil {
		query += ` JOIN channel_members cm ON cm.channel_id = d.channel_id `
		where = append(where, "cm.user_id = "+arg(*f.OwnerUserID))
	}
	if f.Status != nil {
		where = append(where, "d.status = "+arg(*f.Status))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query += " ORDER BY d.created_at DESC LIMIT " + arg(limit) + " OFFSET " + arg(f.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	deals := []models.DealWithChannel{}
	for rows.Next() {
		d, err := scanDealView(rows)
		if err != nil {
			return nil, err
		}
		deals = append(deals, *d)
	}
	return deals, rows.Err()
}

func (r *DealRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	_, err := r.pool.Exec(ctx, `UPDATE deals SET status = $1, updated_at = now() WHERE id = $2`, status, id)
	return err
}

// IsParticipant reports whether the user is the advertiser of the deal
// or a member of the deal's channel.
func (r *DealRepo) IsParticipant(ctx context.Context, dealID, userID uuid.UUID) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM deals d
			LEFT JOIN channel_members cm ON cm.channel_id = d.channel_id AND cm.user_id = $2
			WHERE d.id = $1 AND (d.advertiser_user_id = $2 OR cm.user_id IS NOT NULL)
		)
	`, dealID, userID).Scan(&ok)
	return ok, err
}

// AdvertiserTelegramID resolves who should hear about the deal's deposit.
func (r *DealRepo) AdvertiserTelegramID(ctx context.Context, dealID uuid.UUID) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `
		SELECT u.telegram_user_id FROM deals d
		JOIN users u ON u.id = d.advertiser_user_id
		WHERE d.id = $1
	`, dealID).Scan(&id)
	return id, err
}

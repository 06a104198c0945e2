package services

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/ads-marketplace/deposit-tracker/internal/cache"
	"github.com/ads-marketplace/deposit-tracker/internal/events"
	"github.com/ads-marketplace/deposit-tracker/internal/models"
	"github.com/ads-marketplace/deposit-tracker/internal/repositories"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// memEscrows mimics the conditional updates of EscrowRepo.
type memEscrows struct {
	mu         sync.Mutex
	rows       map[uuid.UUID]*models.EscrowLedger
	confirmErr error
}

func newMemEscrows(rows ...*models.EscrowLedger) *memEscrows {
	m := &memEscrows{rows: map[uuid.UUID]*models.EscrowLedger{}}
	for _, r := range rows {
		m.rows[r.DealID] = r
	}
	return m
}

func (m *memEscrows) get(dealID uuid.UUID) models.EscrowLedger {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.rows[dealID]
}

func (m *memEscrows) GetByDealID(_ context.Context, dealID uuid.UUID) (*models.EscrowLedger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.rows[dealID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *e
	return &cp, nil
}

func (m *memEscrows) GetByMemo(_ context.Context, memo string) (*models.EscrowLedger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.rows {
		if e.DepositMemo == memo {
			cp := *e
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *memEscrows) ListConfirming(context.Context) ([]models.EscrowLedger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.EscrowLedger
	for _, e := range m.rows {
		if e.DepositStatus == models.DepositStatusTxDetected || e.DepositStatus == models.DepositStatusConfirming {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (m *memEscrows) MarkDetected(_ context.Context, dealID uuid.UUID, d repositories.DepositDetection, required int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.rows[dealID]
	if e == nil || e.DepositStatus != models.DepositStatusAwaitingPayment {
		return false, nil
	}
	e.DepositStatus = models.DepositStatusTxDetected
	e.Confirmations = 0
	if e.RequiredConfirmations <= 0 {
		e.RequiredConfirmations = required
	}
	e.ReceivedAmountNano = &d.ReceivedAmountNano
	e.FundingTxHash = &d.TxHash
	e.PayerAddress = &d.PayerAddress
	seqno := d.Seqno
	e.DetectedSeqno = &seqno
	return true, nil
}

func (m *memEscrows) MarkAmountMismatch(_ context.Context, dealID uuid.UUID, status string, d repositories.DepositDetection) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.rows[dealID]
	if e == nil || e.DepositStatus != models.DepositStatusAwaitingPayment {
		return false, nil
	}
	e.DepositStatus = status
	e.ReceivedAmountNano = &d.ReceivedAmountNano
	e.FundingTxHash = &d.TxHash
	return true, nil
}

func (m *memEscrows) UpdateConfirmations(_ context.Context, dealID uuid.UUID, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.rows[dealID]
	e.DepositStatus = models.DepositStatusConfirming
	e.Confirmations = n
	return nil
}

func (m *memEscrows) MarkConfirmed(_ context.Context, dealID uuid.UUID, n int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.confirmErr != nil {
		return false, m.confirmErr
	}
	e := m.rows[dealID]
	if e.DepositStatus != models.DepositStatusTxDetected && e.DepositStatus != models.DepositStatusConfirming {
		return false, nil
	}
	e.DepositStatus = models.DepositStatusConfirmed
	e.Confirmations = n
	e.Status = models.EscrowStatusFunded
	return true, nil
}

func (m *memEscrows) ExpireOverdue(context.Context) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []uuid.UUID
	for id, e := range m.rows {
		if e.DepositStatus == models.DepositStatusAwaitingPayment && e.DepositExpiresAt != nil && e.DepositExpiresAt.Before(time.Now()) {
			e.DepositStatus = models.DepositStatusExpired
			ids = append(ids, id)
		}
	}
	return ids, nil
}

type memDeals struct {
	mu           sync.Mutex
	deals        map[uuid.UUID]*models.DealWithChannel
	participants map[uuid.UUID]uuid.UUID
	telegram     map[uuid.UUID]int64
	lists        int
	updateErr    error
}

func newMemDeals() *memDeals {
	return &memDeals{
		deals:        map[uuid.UUID]*models.DealWithChannel{},
		participants: map[uuid.UUID]uuid.UUID{},
		telegram:     map[uuid.UUID]int64{},
	}
}

func (m *memDeals) add(id, advertiser uuid.UUID, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deals[id] = &models.DealWithChannel{Deal: models.Deal{ID: id, AdvertiserUserID: advertiser, Status: status, PriceTON: "5.5"}}
	m.participants[id] = advertiser
}

func (m *memDeals) status(id uuid.UUID) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deals[id].Status
}

func (m *memDeals) GetByID(_ context.Context, id uuid.UUID) (*models.Deal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deals[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := d.Deal
	return &cp, nil
}

func (m *memDeals) GetByIDWithChannel(_ context.Context, id uuid.UUID) (*models.DealWithChannel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deals[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *d
	return &cp, nil
}

func (m *memDeals) ListWithChannel(_ context.Context, f repositories.DealFilter) ([]models.DealWithChannel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists++
	out := []models.DealWithChannel{}
	for _, d := range m.deals {
		if f.AdvertiserUserID != nil && d.AdvertiserUserID != *f.AdvertiserUserID {
			continue
		}
		out = append(out, *d)
	}
	return out, nil
}

func (m *memDeals) IsParticipant(_ context.Context, dealID, userID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.participants[dealID] == userID, nil
}

func (m *memDeals) UpdateStatus(_ context.Context, id uuid.UUID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	m.deals[id].Status = status
	return nil
}

func (m *memDeals) AdvertiserTelegramID(_ context.Context, dealID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.telegram[dealID]
	if !ok {
		return 0, pgx.ErrNoRows
	}
	return id, nil
}

type memAudit struct {
	mu      sync.Mutex
	actions []string
	entries []models.AuditLog
}

func (a *memAudit) Log(_ context.Context, entry models.AuditLog) error {
	a.mu.Lock()
	a.actions = append(a.actions, entry.Action)
	a.entries = append(a.entries, entry)
	a.mu.Unlock()
	return nil
}

func (a *memAudit) DepositHistory(_ context.Context, dealID uuid.UUID, limit int) ([]models.AuditLog, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []models.AuditLog
	for _, e := range a.entries {
		if e.EntityID != nil && *e.EntityID == dealID && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

type memInvalidator struct {
	mu    sync.Mutex
	deals []string
	lists int
}

func (i *memInvalidator) InvalidateDeal(_ context.Context, dealID string) error {
	i.mu.Lock()
	i.deals = append(i.deals, dealID)
	i.mu.Unlock()
	return nil
}

func (i *memInvalidator) InvalidateDealLists(context.Context) error {
	i.mu.Lock()
	i.lists++
	i.mu.Unlock()
	return nil
}

type published struct {
	stream string
	event  events.Event
}

type memPublisher struct {
	mu  sync.Mutex
	out []published
}

func (p *memPublisher) Publish(_ context.Context, stream string, ev events.Event) error {
	p.mu.Lock()
	p.out = append(p.out, published{stream: stream, event: ev})
	p.mu.Unlock()
	return nil
}

func (p *memPublisher) on(stream string) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var evs []events.Event
	for _, e := range p.out {
		if e.stream == stream {
			evs = append(evs, e.event)
		}
	}
	return evs
}

// memCache is a map-backed ResponseCache.
type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
	hits int
}

func newMemCache() *memCache { return &memCache{data: map[string][]byte{}} }

func (c *memCache) Get(_ context.Context, key string, dst any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.data[key]
	if !ok {
		return false, nil
	}
	c.hits++
	return true, json.Unmarshal(raw, dst)
}

func (c *memCache) Set(_ context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.data[key] = raw
	c.mu.Unlock()
	return nil
}

func (c *memCache) InvalidateDeal(_ context.Context, dealID string) error {
	c.mu.Lock()
	delete(c.data, cache.DealKey(dealID))
	c.mu.Unlock()
	return nil
}

func (c *memCache) InvalidateDealLists(context.Context) error {
	c.mu.Lock()
	for k := range c.data {
		if strings.HasPrefix(k, cache.DealListKey("")) {
			delete(c.data, k)
		}
	}
	c.mu.Unlock()
	return nil
}

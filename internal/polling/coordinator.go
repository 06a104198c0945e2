// Package polling tracks an escrow deposit until the backend reports it
// confirmed or the session gives up.
//
// A Coordinator owns at most one session. A session polls the deposit
// status endpoint on a fixed interval, on Focus and on Refetch, with at
// most one fetch in flight. It ends in exactly one terminal outcome:
// confirmed (first CONFIRMED status) or timed out (elapsed > Timeout,
// checked after every fetch). Confirmation is evaluated first, so a
// CONFIRMED answer observed after the deadline still counts as confirmed.
package polling

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ads-marketplace/deposit-tracker/internal/depositapi"
	"github.com/ads-marketplace/deposit-tracker/internal/events"
	"github.com/ads-marketplace/deposit-tracker/internal/metrics"
	"github.com/ads-marketplace/deposit-tracker/internal/models"
	"go.uber.org/zap"
)

const (
	DefaultPollInterval = 10 * time.Second
	DefaultTimeout      = 30 * time.Minute
	DefaultRetries      = 1
	DefaultRetryDelay   = time.Second
)

type StatusFetcher interface {
	FetchDepositStatus(ctx context.Context, dealID string) (*models.DepositStatus, error)
}

// Invalidator drops cached deal data so readers refetch it.
type Invalidator interface {
	InvalidateDeal(ctx context.Context, dealID string) error
	InvalidateDealLists(ctx context.Context) error
}

// TickerFunc returns a tick channel and its stop function.
type TickerFunc func(d time.Duration) (<-chan time.Time, func())

func realTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

type Options struct {
	DealID       string
	Enabled      bool
	PollInterval time.Duration
	Timeout      time.Duration

	OnConfirmed func(models.DepositStatus)
	OnTimeout   func()
	// OnStatus sees every successfully fetched status, terminal or not.
	OnStatus func(models.DepositStatus)
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return o
}

type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseActive  Phase = "active"
	PhaseStopped Phase = "stopped"
)

// State is the read model of the current session.
type State struct {
	Phase                 Phase
	DealID                string
	Status                *models.DepositStatus
	Confirmations         *int
	RequiredConfirmations *int
	IsPolling             bool
	Elapsed               time.Duration
	IsLoading             bool
	IsFetching            bool
	IsError               bool
	Err                   error
}

type Option func(*Coordinator)

func WithInvalidator(inv Invalidator) Option {
	return func(c *Coordinator) { c.invalidator = inv }
}

func WithPublisher(p events.Publisher) Option {
	return func(c *Coordinator) {
		if p != nil {
			c.publisher = p
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func WithTicker(f TickerFunc) Option {
	return func(c *Coordinator) { c.newTicker = f }
}

// WithRetry sets how many times a failed fetch is repeated before the
// error flag is raised. The n-th retry waits n*delay.
func WithRetry(retries int, delay time.Duration) Option {
	return func(c *Coordinator) {
		if retries < 0 {
			retries = 0
		}
		c.retries = retries
		c.retryDelay = delay
	}
}

type Coordinator struct {
	fetcher     StatusFetcher
	invalidator Invalidator
	publisher   events.Publisher
	log         *zap.Logger

	now        func() time.Time
	newTicker  TickerFunc
	retries    int
	retryDelay time.Duration

	mu   sync.Mutex
	sess *session
}

type session struct {
	dealID    string
	opts      Options
	startedAt time.Time
	stopped   bool

	status   *models.DepositStatus
	err      error
	fetching bool

	cancel  context.CancelFunc
	trigger chan struct{}
	reset   chan time.Duration
	done    chan struct{}
}

func NewCoordinator(fetcher StatusFetcher, log *zap.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		fetcher:    fetcher,
		publisher:  events.NopPublisher{},
		log:        log,
		now:        time.Now,
		newTicker:  realTicker,
		retries:    DefaultRetries,
		retryDelay: DefaultRetryDelay,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Activate applies a configuration. Disabling tears the session down;
// switching deals or re-enabling starts a fresh one. Re-activating the
// running deal only refreshes callbacks, timeout and interval.
func (c *Coordinator) Activate(ctx context.Context, o Options) {
	o = o.withDefaults()

	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.sess
	if cur != nil && o.Enabled && cur.dealID == o.DealID {
		intervalChanged := cur.opts.PollInterval != o.PollInterval
		cur.opts = o
		if intervalChanged && !cur.stopped {
			select {
			case <-cur.reset:
			default:
			}
			cur.reset <- o.PollInterval
		}
		return
	}

	if cur != nil {
		c.teardownLocked(cur)
	}
	if !o.Enabled || o.DealID == "" {
		return
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &session{
		dealID:    o.DealID,
		opts:      o,
		startedAt: c.now(),
		cancel:    cancel,
		trigger:   make(chan struct{}, 1),
		reset:     make(chan time.Duration, 1),
		done:      make(chan struct{}),
	}
	c.sess = s
	metrics.PollingSessionsStarted.Inc()
	c.log.Info("deposit polling started",
		zap.String("deal_id", s.dealID),
		zap.Duration("interval", o.PollInterval),
		zap.Duration("timeout", o.Timeout),
	)

	go c.run(sctx, s)
}

// Deactivate is Activate with Enabled=false. Safe to call from callbacks.
func (c *Coordinator) Deactivate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != nil {
		c.teardownLocked(c.sess)
	}
}

// Close tears the session down and waits for its goroutine.
// Must not be called from a callback.
func (c *Coordinator) Close() {
	c.mu.Lock()
	s := c.sess
	if s != nil {
		c.teardownLocked(s)
	}
	c.mu.Unlock()

	if s != nil {
		<-s.done
	}
}

// Focus requests an eager status check, e.g. when the user comes back.
func (c *Coordinator) Focus() { c.requestCheck() }

// Refetch requests a status check now. Ignored once the session stopped.
func (c *Coordinator) Refetch() { c.requestCheck() }

func (c *Coordinator) requestCheck() {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.sess
	if s == nil || s.stopped {
		return
	}
	select {
	case s.trigger <- struct{}{}:
	default:
		// a check is already queued
	}
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.sess
	if s == nil {
		return State{Phase: PhaseIdle}
	}

	st := State{
		Phase:      PhaseActive,
		DealID:     s.dealID,
		IsPolling:  !s.stopped,
		Elapsed:    c.now().Sub(s.startedAt),
		IsFetching: s.fetching,
		IsLoading:  s.fetching && s.status == nil,
		IsError:    s.err != nil,
		Err:        s.err,
	}
	if s.stopped {
		st.Phase = PhaseStopped
	}
	if s.status != nil {
		cp := *s.status
		st.Status = &cp
		st.Confirmations = cp.Confirmations
		st.RequiredConfirmations = cp.RequiredConfirmations
	}
	return st
}

func (c *Coordinator) teardownLocked(s *session) {
	s.cancel()
	if c.sess == s {
		c.sess = nil
	}
	c.log.Debug("deposit polling torn down", zap.String("deal_id", s.dealID))
}

func (c *Coordinator) run(ctx context.Context, s *session) {
	defer close(s.done)

	c.poll(ctx, s)

	tick, stop := c.newTicker(c.interval(s))
	defer func() { stop() }()

	for {
		if c.finished(ctx, s) {
			return
		}
		select {
		case <-ctx.Done():
			c.detach(s)
			return
		case d := <-s.reset:
			stop()
			tick, stop = c.newTicker(d)
			continue
		case <-tick:
		case <-s.trigger:
		}
		c.poll(ctx, s)
	}
}

// interval reads the poll interval under the lock since Activate may
// replace s.opts while the first fetch is in flight.
func (c *Coordinator) interval(s *session) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return s.opts.PollInterval
}

func (c *Coordinator) finished(ctx context.Context, s *session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return s.stopped || c.sess != s || ctx.Err() != nil
}

// detach drops a session whose parent context ended without teardown.
func (c *Coordinator) detach(s *session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == s {
		c.sess = nil
	}
}

func (c *Coordinator) poll(ctx context.Context, s *session) {
	c.mu.Lock()
	if c.sess != s || s.stopped {
		c.mu.Unlock()
		return
	}
	s.fetching = true
	c.mu.Unlock()

	status, err := c.fetch(ctx, s.dealID)

	c.mu.Lock()
	if c.sess != s || s.stopped || ctx.Err() != nil {
		// torn down while the request was in flight
		c.mu.Unlock()
		return
	}
	s.fetching = false
	if err != nil {
		s.err = err
		kind := depositapi.Classify(err)
		metrics.PollingFetchErrors.WithLabelValues(string(kind)).Inc()
		c.log.Warn("deposit status fetch failed",
			zap.String("deal_id", s.dealID),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
	} else {
		s.status = status
		s.err = nil
	}

	opts := s.opts
	elapsed := c.now().Sub(s.startedAt)

	var terminal func()
	switch {
	case err == nil && status.IsConfirmed():
		s.stopped = true
		confirmed := *status
		terminal = func() { c.onConfirmed(ctx, s.dealID, opts, confirmed, elapsed) }
	case elapsed > opts.Timeout:
		s.stopped = true
		terminal = func() { c.onTimeout(ctx, s.dealID, opts, elapsed) }
	}
	c.mu.Unlock()

	if err == nil && opts.OnStatus != nil {
		opts.OnStatus(*status)
	}
	if terminal != nil {
		terminal()
	}
}

func (c *Coordinator) fetch(ctx context.Context, dealID string) (*models.DepositStatus, error) {
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(time.Duration(attempt) * c.retryDelay)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			case <-t.C:
			}
		}

		status, err := c.fetcher.FetchDepositStatus(ctx, dealID)
		if err == nil && status == nil {
			err = &depositapi.DecodeError{Err: fmt.Errorf("empty deposit status")}
		}
		if err == nil {
			return status, nil
		}
		lastErr = err
		if !depositapi.Retryable(err) {
			break
		}
	}
	return nil, lastErr
}

func (c *Coordinator) onConfirmed(ctx context.Context, dealID string, opts Options, status models.DepositStatus, elapsed time.Duration) {
	metrics.PollingOutcomes.WithLabelValues("confirmed").Inc()
	metrics.TimeToConfirm.Observe(elapsed.Seconds())
	c.log.Info("deposit confirmed",
		zap.String("deal_id", dealID),
		zap.Duration("elapsed", elapsed),
	)

	if c.invalidator != nil {
		if err := c.invalidator.InvalidateDeal(ctx, dealID); err != nil {
			c.log.Warn("failed to invalidate deal cache", zap.String("deal_id", dealID), zap.Error(err))
		}
		if err := c.invalidator.InvalidateDealLists(ctx); err != nil {
			c.log.Warn("failed to invalidate deal lists", zap.Error(err))
		}
	}

	payload := map[string]any{
		"deal_id":    dealID,
		"elapsed_ms": elapsed.Milliseconds(),
	}
	if status.TxHash != nil {
		payload["tx_hash"] = *status.TxHash
	}
	_ = c.publisher.Publish(ctx, events.StreamDeposit, events.Event{
		Type:    events.EventDepositConfirmed,
		Payload: payload,
	})

	if opts.OnConfirmed != nil {
		opts.OnConfirmed(status)
	}
}

func (c *Coordinator) onTimeout(ctx context.Context, dealID string, opts Options, elapsed time.Duration) {
	metrics.PollingOutcomes.WithLabelValues("timeout").Inc()
	c.log.Warn("deposit polling timed out",
		zap.String("deal_id", dealID),
		zap.Duration("elapsed", elapsed),
		zap.Duration("timeout", opts.Timeout),
	)

	_ = c.publisher.Publish(ctx, events.StreamDeposit, events.Event{
		Type: events.EventDepositTimedOut,
		Payload: map[string]any{
			"deal_id":    dealID,
			"elapsed_ms": elapsed.Milliseconds(),
		},
	})

	if opts.OnTimeout != nil {
		opts.OnTimeout()
	}
}

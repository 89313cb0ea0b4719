// Package syncer runs sync passes over due shipments: selection, pacing,
// rate limiting, carrier fetches and outcome bookkeeping, with every
// shipment isolated from its neighbours' failures.
package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/LaneWise/ShipSync/internal/broker/messages"
	"github.com/LaneWise/ShipSync/internal/carriers"
	"github.com/LaneWise/ShipSync/internal/metrics"
	"github.com/LaneWise/ShipSync/internal/models"
	"github.com/LaneWise/ShipSync/internal/ratelimit"
	"github.com/LaneWise/ShipSync/internal/reconcile"
	"github.com/pkg/errors"
)

type Repository interface {
	// SelectDueShipments returns eligible shipments whose staleness or
	// backoff window has elapsed, in stable id order. sched carries the
	// configured waits so selection agrees with the in-memory gate.
	SelectDueShipments(ctx context.Context, now time.Time, sched BackoffConfig, limit int) ([]*models.Shipment, error)
	// SelectActiveShipments ignores staleness: every eligible shipment.
	SelectActiveShipments(ctx context.Context, limit int) ([]*models.Shipment, error)
	GetShipmentsByIDs(ctx context.Context, ids []uint64) ([]*models.Shipment, error)
	MarkSyncSuccess(ctx context.Context, shipmentID uint64, at time.Time) error
	MarkSyncFailure(ctx context.Context, shipmentID uint64, at time.Time, apiError string) error
	AddEvent(ctx context.Context, ev *models.TrackingEvent) error
}

type Reconciler interface {
	Reconcile(ctx context.Context, sh *models.Shipment, fetched []*models.TrackingEvent) (reconcile.Result, error)
}

type AdapterSource interface {
	Adapter(c models.Carrier) (carriers.Adapter, error)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// SharedLimiter is the optional cross-worker counter (Redis-backed in
// production). Failing open on limiter errors is deliberate: the
// in-process window still applies.
type SharedLimiter interface {
	Allow(ctx context.Context, c models.Carrier, limit int64, window time.Duration) (bool, int64, error)
}

// ShipmentResult is one entry of a pass summary.
type ShipmentResult struct {
	ShipmentID     uint64                `json:"shipmentId"`
	Carrier        models.Carrier        `json:"carrier,omitempty"`
	Success        bool                  `json:"success"`
	Skipped        bool                  `json:"skipped,omitempty"`
	EventsAdded    int                   `json:"eventsAdded,omitempty"`
	StatusChanged  bool                  `json:"statusChanged,omitempty"`
	Status         models.ShipmentStatus `json:"status,omitempty"`
	Error          string                `json:"error,omitempty"`
	NextRetryAfter *time.Time            `json:"nextRetryAfter,omitempty"`
}

type Summary struct {
	TotalShipments int              `json:"totalShipments"`
	Successful     int              `json:"successful"`
	Failed         int              `json:"failed"`
	Skipped        int              `json:"skipped"`
	Results        []ShipmentResult `json:"results"`
	StartedAt      time.Time        `json:"startedAt"`
	CompletedAt    time.Time        `json:"completedAt"`
}

// DefaultPaceDelays are the waits between consecutive calls to the same
// carrier. The scheduler runs unattended, so these sit at the
// conservative end of each carrier's tolerated range.
func DefaultPaceDelays() map[models.Carrier]time.Duration {
	return map[models.Carrier]time.Duration{
		models.CarrierUPS:   2 * time.Second,
		models.CarrierFedEx: 3 * time.Second,
		models.CarrierDHL:   4 * time.Second,
		models.CarrierUSPS:  time.Second,
	}
}

type Orchestrator struct {
	repo       Repository
	adapters   AdapterSource
	limiter    *ratelimit.Limiter
	reconciler Reconciler
	producer   Producer
	topic      string

	backoff     *Backoff
	retry       ratelimit.RetryConfig
	pace        map[models.Carrier]time.Duration
	callTimeout time.Duration

	shared       SharedLimiter
	sharedPerMin int64

	pollInterval time.Duration
	batchSize    int

	log     *slog.Logger
	metrics *metrics.SyncMetrics

	triggerCh chan struct{}

	// injectable for tests
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	startedAtUnixNano   int64
	lastPassUnixNano    atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalSelected       atomic.Int64
	totalSuccessful     atomic.Int64
	totalFailed         atomic.Int64
	totalSkipped        atomic.Int64
	inFlight            atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(repo Repository, adapters AdapterSource, limiter *ratelimit.Limiter, rec Reconciler, producer Producer, topic string) *Orchestrator {
	return &Orchestrator{
		repo:         repo,
		adapters:     adapters,
		limiter:      limiter,
		reconciler:   rec,
		producer:     producer,
		topic:        topic,
		backoff:      NewBackoff(DefaultBackoffConfig()),
		retry:        ratelimit.DefaultRetryConfig(),
		pace:         DefaultPaceDelays(),
		callTimeout:  30 * time.Second,
		pollInterval: 5 * time.Minute,
		batchSize:    500,
		log:          slog.Default(),
		triggerCh:    make(chan struct{}, 1),
		now:          func() time.Time { return time.Now().UTC() },
		sleep: func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				return nil
			}
		},
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func (o *Orchestrator) WithSettings(pollInterval time.Duration, batchSize int, callTimeout time.Duration) *Orchestrator {
	if pollInterval > 0 {
		o.pollInterval = pollInterval
	}
	if batchSize > 0 {
		o.batchSize = batchSize
	}
	if callTimeout > 0 {
		o.callTimeout = callTimeout
	}
	return o
}

func (o *Orchestrator) WithBackoff(cfg BackoffConfig) *Orchestrator {
	o.backoff = NewBackoff(cfg)
	return o
}

func (o *Orchestrator) WithRetry(cfg ratelimit.RetryConfig) *Orchestrator {
	o.retry = cfg
	return o
}

func (o *Orchestrator) WithPaceDelays(pace map[models.Carrier]time.Duration) *Orchestrator {
	for c, d := range pace {
		if d > 0 {
			o.pace[c] = d
		}
	}
	return o
}

func (o *Orchestrator) WithSharedLimiter(l SharedLimiter, perMinute int64) *Orchestrator {
	if l != nil && perMinute > 0 {
		o.shared = l
		o.sharedPerMin = perMinute
	}
	return o
}

func (o *Orchestrator) WithMetrics(m *metrics.SyncMetrics) *Orchestrator {
	o.metrics = m
	return o
}

func (o *Orchestrator) WithLogger(log *slog.Logger) *Orchestrator {
	if log != nil {
		o.log = log
	}
	return o
}

// Trigger forces an immediate pass (best-effort, non-blocking).
func (o *Orchestrator) Trigger() {
	o.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case o.triggerCh <- struct{}{}:
	default:
	}
}

// Run loops on the poll interval until the context is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	t := time.NewTicker(o.pollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			o.runScheduled(ctx)
		case <-o.triggerCh:
			o.runScheduled(ctx)
		}
	}
}

func (o *Orchestrator) runScheduled(ctx context.Context) {
	sum, err := o.RunPass(ctx, false)
	if err != nil {
		o.log.Error("sync pass failed", "error", err.Error())
		o.lastErrorMu.Lock()
		o.lastError = err.Error()
		o.lastErrorMu.Unlock()
		return
	}
	o.log.Info("sync pass finished",
		"total", sum.TotalShipments,
		"successful", sum.Successful,
		"failed", sum.Failed,
		"skipped", sum.Skipped,
		"took", sum.CompletedAt.Sub(sum.StartedAt).String())
}

// RunPass executes one pass. force ignores staleness and backoff gating
// (the admin full-resync path); the scheduled path only sees shipments
// the due query already selected. Shipments are fanned out one goroutine
// per carrier and processed strictly sequentially within a carrier, so
// per-carrier pacing and rate limits stay deterministic.
func (o *Orchestrator) RunPass(ctx context.Context, force bool) (*Summary, error) {
	started := o.now()
	o.lastPassUnixNano.Store(started.UnixNano())

	var (
		shipments []*models.Shipment
		err       error
	)
	if force {
		shipments, err = o.repo.SelectActiveShipments(ctx, o.batchSize)
	} else {
		shipments, err = o.repo.SelectDueShipments(ctx, started, o.backoff.Config(), o.batchSize)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select shipments")
	}
	o.totalSelected.Add(int64(len(shipments)))

	results := o.processBatch(ctx, shipments, force)

	sum := &Summary{
		TotalShipments: len(shipments),
		Results:        results,
		StartedAt:      started,
		CompletedAt:    o.now(),
	}
	for _, r := range results {
		switch {
		case r.Skipped:
			sum.Skipped++
		case r.Success:
			sum.Successful++
		default:
			sum.Failed++
		}
	}
	o.totalSuccessful.Add(int64(sum.Successful))
	o.totalFailed.Add(int64(sum.Failed))
	o.totalSkipped.Add(int64(sum.Skipped))

	if o.metrics != nil {
		o.metrics.PassesTotal.Inc()
		o.metrics.ShipmentsTotal.WithLabelValues("success").Add(float64(sum.Successful))
		o.metrics.ShipmentsTotal.WithLabelValues("failed").Add(float64(sum.Failed))
		o.metrics.ShipmentsTotal.WithLabelValues("skipped").Add(float64(sum.Skipped))
		o.metrics.PassDuration.Observe(sum.CompletedAt.Sub(sum.StartedAt).Seconds())
	}
	return sum, nil
}

// SyncOne is the operator's manual override for a single flagged
// shipment: bypasses backoff gating, still goes through the rate limiter.
func (o *Orchestrator) SyncOne(ctx context.Context, shipmentID uint64) (ShipmentResult, error) {
	shs, err := o.repo.GetShipmentsByIDs(ctx, []uint64{shipmentID})
	if err != nil {
		return ShipmentResult{}, errors.Wrap(err, "get shipment")
	}
	if len(shs) == 0 {
		return ShipmentResult{}, errors.Errorf("shipment %d not found", shipmentID)
	}
	return o.processOne(ctx, shs[0], true), nil
}

// processBatch groups by carrier, runs one sequential worker per carrier
// and reassembles results in the original selection order.
func (o *Orchestrator) processBatch(ctx context.Context, shipments []*models.Shipment, force bool) []ShipmentResult {
	results := make([]ShipmentResult, len(shipments))

	byCarrier := make(map[models.Carrier][]int)
	var order []models.Carrier
	for i, sh := range shipments {
		c := sh.Carrier
		if _, seen := byCarrier[c]; !seen {
			order = append(order, c)
		}
		byCarrier[c] = append(byCarrier[c], i)
	}

	var wg sync.WaitGroup
	for _, c := range order {
		idxs := byCarrier[c]
		wg.Add(1)
		go func(c models.Carrier, idxs []int) {
			defer wg.Done()
			for n, i := range idxs {
				o.inFlight.Add(1)
				results[i] = o.processOne(ctx, shipments[i], force)
				o.inFlight.Add(-1)
				if n < len(idxs)-1 {
					if err := o.sleep(ctx, o.paceFor(c)); err != nil {
						// Context gone: mark the rest skipped and stop.
						for _, rest := range idxs[n+1:] {
							results[rest] = ShipmentResult{
								ShipmentID: shipments[rest].ID,
								Carrier:    shipments[rest].Carrier,
								Skipped:    true,
								Error:      "pass cancelled",
							}
						}
						return
					}
				}
			}
		}(c, idxs)
	}
	wg.Wait()
	return results
}

func (o *Orchestrator) paceFor(c models.Carrier) time.Duration {
	if d, ok := o.pace[c]; ok {
		return d
	}
	return time.Second
}

// processOne runs steps a-g of the pass algorithm for a single shipment.
// Every failure is converted into the result entry; nothing escapes to
// abort the batch.
func (o *Orchestrator) processOne(ctx context.Context, sh *models.Shipment, force bool) ShipmentResult {
	now := o.now()
	res := ShipmentResult{ShipmentID: sh.ID, Carrier: sh.Carrier}

	if !sh.SyncEligible() {
		res.Skipped = true
		res.Error = "missing carrier or tracking number, or terminal status"
		return res
	}

	// Backoff gate. The due query already enforces this for scheduled
	// passes; re-checking keeps manual triggers honest.
	if !force && sh.APISyncStatus == models.SyncFailed && sh.LastAPISync != nil {
		if next := o.backoff.NextRetryAfter(*sh.LastAPISync, sh.FirstFailedAt); now.Before(next) {
			res.Skipped = true
			res.NextRetryAfter = &next
			return res
		}
	}

	events, fetchErr := o.fetch(ctx, sh)
	if fetchErr != nil {
		return o.recordFailure(ctx, sh, now, fetchErr, res)
	}
	return o.recordSuccess(ctx, sh, now, events, res)
}

// fetch runs the carrier call through the rate limiter and the per-call
// retry loop, with the hard timeout raced against each attempt.
func (o *Orchestrator) fetch(ctx context.Context, sh *models.Shipment) ([]*models.TrackingEvent, error) {
	adapter, err := o.adapters.Adapter(sh.Carrier)
	if err != nil {
		return nil, err
	}

	// Rate-limit gate fails fast, before any attempt is made.
	if err := o.limiter.Check(sh.Carrier); err != nil {
		return nil, err
	}
	if o.shared != nil {
		allowed, n, err := o.shared.Allow(ctx, sh.Carrier, o.sharedPerMin, 70*time.Second)
		if err != nil {
			o.log.Warn("shared limiter unavailable, failing open",
				"carrier", sh.Carrier, "error", err.Error())
		} else if !allowed {
			return nil, errors.Wrapf(ratelimit.ErrRateLimited,
				"carrier %s: %d calls this minute across workers", sh.Carrier, n)
		}
	}

	var events []*models.TrackingEvent
	err = ratelimit.Retry(ctx, o.retry, func(ctx context.Context) error {
		o.limiter.Record(sh.Carrier)

		callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
		defer cancel()

		evs, err := adapter.GetTrackingEvents(callCtx, *sh.TrackingNumber)
		if o.metrics != nil {
			outcome := "ok"
			if err != nil {
				outcome = "error"
			}
			o.metrics.CarrierCalls.WithLabelValues(string(sh.Carrier), outcome).Inc()
		}
		if err != nil {
			return err
		}
		events = evs
		return nil
	})
	if err != nil {
		if carriers.IsRateLimited(err) {
			until := o.limiter.Block(sh.Carrier)
			o.log.Warn("carrier rate limited, cooling down",
				"carrier", sh.Carrier, "until", until.Format(time.RFC3339))
		}
		return nil, err
	}
	return events, nil
}

func (o *Orchestrator) recordSuccess(ctx context.Context, sh *models.Shipment, now time.Time, events []*models.TrackingEvent, res ShipmentResult) ShipmentResult {
	if err := o.repo.MarkSyncSuccess(ctx, sh.ID, now); err != nil {
		return o.recordFailure(ctx, sh, now, errors.Wrap(err, "mark sync success"), res)
	}
	sh.APISyncStatus = models.SyncSuccess
	sh.NeedsReview = false
	sh.LastAPISync = &now
	sh.FirstFailedAt = nil

	recRes, recErr := o.reconciler.Reconcile(ctx, sh, events)
	if recErr != nil {
		// Sync-status fields stay as written; the fetch itself succeeded.
		o.log.Error("reconciliation failed",
			"shipment_id", sh.ID, "error", recErr.Error())
	}

	res.Success = true
	res.EventsAdded = recRes.NewEvents
	res.StatusChanged = recRes.StatusChanged
	res.Status = sh.Status

	desc := fmt.Sprintf("API sync completed: %d new events", recRes.NewEvents)
	if recRes.StatusChanged {
		desc = fmt.Sprintf("API sync completed: %d new events, status %s -> %s",
			recRes.NewEvents, recRes.From, recRes.To)
	}
	o.appendAuditEvent(ctx, sh.ID, now, desc)
	o.publish(ctx, messages.ShipmentSynced{
		ShipmentID:    sh.ID,
		CheckedAt:     now,
		Success:       true,
		EventsAdded:   recRes.NewEvents,
		StatusChanged: recRes.StatusChanged,
		Status:        sh.Status,
	})
	return res
}

func (o *Orchestrator) recordFailure(ctx context.Context, sh *models.Shipment, now time.Time, cause error, res ShipmentResult) ShipmentResult {
	msg := cause.Error()
	if err := o.repo.MarkSyncFailure(ctx, sh.ID, now, msg); err != nil {
		o.log.Error("mark sync failure", "shipment_id", sh.ID, "error", err.Error())
	}

	firstFailed := sh.FirstFailedAt
	if firstFailed == nil {
		firstFailed = &now
	}
	next := o.backoff.NextRetryAfter(now, firstFailed)

	res.Success = false
	res.Error = msg
	res.NextRetryAfter = &next

	o.log.Warn("shipment sync failed",
		"shipment_id", sh.ID, "carrier", sh.Carrier,
		"error", msg, "next_retry_after", next.Format(time.RFC3339))

	o.appendAuditEvent(ctx, sh.ID, now, "API sync failed: "+msg)
	o.publish(ctx, messages.ShipmentSynced{
		ShipmentID:     sh.ID,
		CheckedAt:      now,
		Success:        false,
		Error:          &msg,
		NextRetryAfter: &next,
	})
	return res
}

// appendAuditEvent writes the synthetic api_sync trail entry recorded on
// every attempt, success or failure.
func (o *Orchestrator) appendAuditEvent(ctx context.Context, shipmentID uint64, at time.Time, desc string) {
	ev := &models.TrackingEvent{
		ShipmentID:  shipmentID,
		Type:        models.EventAPISync,
		Description: desc,
		Source:      models.SourceAPISync,
		EventTime:   at,
	}
	if err := o.repo.AddEvent(ctx, ev); err != nil {
		o.log.Error("append audit event", "shipment_id", shipmentID, "error", err.Error())
	}
}

// publish is best-effort: a broker hiccup never fails the shipment.
func (o *Orchestrator) publish(ctx context.Context, msg messages.ShipmentSynced) {
	if o.producer == nil {
		return
	}
	b, err := json.Marshal(msg)
	if err != nil {
		o.log.Error("marshal sync message", "error", err.Error())
		return
	}
	key := []byte(fmt.Sprintf("%d", msg.ShipmentID))
	if err := o.producer.Publish(ctx, o.topic, key, b); err != nil {
		o.log.Error("publish sync message", "shipment_id", msg.ShipmentID, "error", err.Error())
	}
}

type Stats struct {
	StartedAt       time.Time  `json:"startedAt"`
	LastPassAt      *time.Time `json:"lastPassAt,omitempty"`
	LastTriggerAt   *time.Time `json:"lastTriggerAt,omitempty"`
	TotalSelected   int64      `json:"totalSelected"`
	TotalSuccessful int64      `json:"totalSuccessful"`
	TotalFailed     int64      `json:"totalFailed"`
	TotalSkipped    int64      `json:"totalSkipped"`
	InFlight        int64      `json:"inFlight"`
	LastError       string     `json:"lastError,omitempty"`
}

func (o *Orchestrator) Stats() Stats {
	st := Stats{
		StartedAt:       time.Unix(0, o.startedAtUnixNano).UTC(),
		TotalSelected:   o.totalSelected.Load(),
		TotalSuccessful: o.totalSuccessful.Load(),
		TotalFailed:     o.totalFailed.Load(),
		TotalSkipped:    o.totalSkipped.Load(),
		InFlight:        o.inFlight.Load(),
	}
	if n := o.lastPassUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastPassAt = &t
	}
	if n := o.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	o.lastErrorMu.Lock()
	st.LastError = o.lastError
	o.lastErrorMu.Unlock()
	return st
}

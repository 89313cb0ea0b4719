package syncer

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/LaneWise/ShipSync/internal/broker/messages"
	"github.com/LaneWise/ShipSync/internal/carriers"
	"github.com/LaneWise/ShipSync/internal/models"
	"github.com/LaneWise/ShipSync/internal/ratelimit"
	"github.com/LaneWise/ShipSync/internal/reconcile"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type memRepo struct {
	mu sync.Mutex

	due       []*models.Shipment
	successes []uint64
	failures  map[uint64]string
	events    []*models.TrackingEvent
	statuses  map[uint64]models.ShipmentStatus
	lastSched BackoffConfig
}

func newMemRepo(due ...*models.Shipment) *memRepo {
	return &memRepo{
		due:      due,
		failures: map[uint64]string{},
		statuses: map[uint64]models.ShipmentStatus{},
	}
}

func (r *memRepo) SelectDueShipments(ctx context.Context, now time.Time, sched BackoffConfig, limit int) ([]*models.Shipment, error) {
	r.lastSched = sched
	return r.due, nil
}
func (r *memRepo) SelectActiveShipments(ctx context.Context, limit int) ([]*models.Shipment, error) {
	return r.due, nil
}
func (r *memRepo) GetShipmentsByIDs(ctx context.Context, ids []uint64) ([]*models.Shipment, error) {
	var out []*models.Shipment
	for _, sh := range r.due {
		for _, id := range ids {
			if sh.ID == id {
				out = append(out, sh)
			}
		}
	}
	return out, nil
}
func (r *memRepo) MarkSyncSuccess(ctx context.Context, shipmentID uint64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.successes = append(r.successes, shipmentID)
	return nil
}
func (r *memRepo) MarkSyncFailure(ctx context.Context, shipmentID uint64, at time.Time, apiError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[shipmentID] = apiError
	return nil
}
func (r *memRepo) AddEvent(ctx context.Context, ev *models.TrackingEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// reconcile.Repository, so the real reconciler can run on top.
func (r *memRepo) ListSyncEventKeys(ctx context.Context, shipmentID uint64) (reconcile.ExistingKeys, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := reconcile.ExistingKeys{}
	for _, ev := range r.events {
		if ev.ShipmentID == shipmentID && ev.Source == models.SourceAPISync && ev.Type != models.EventAPISync {
			id := ""
			if ev.SourceID != nil {
				id = *ev.SourceID
			}
			keys.Add(ev.EventTime, id)
		}
	}
	return keys, nil
}
func (r *memRepo) InsertEventsOrdered(ctx context.Context, shipmentID uint64, events []*models.TrackingEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
	return nil
}
func (r *memRepo) UpdateShipmentStatus(ctx context.Context, shipmentID uint64, s models.ShipmentStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[shipmentID] = s
	return nil
}

type stubAdapter struct {
	events []*models.TrackingEvent
	err    error
	calls  int
}

func (a *stubAdapter) GetTrackingEvents(ctx context.Context, trackingNumber string) ([]*models.TrackingEvent, error) {
	a.calls++
	if a.err != nil {
		return nil, a.err
	}
	return a.events, nil
}
func (a *stubAdapter) ValidateTrackingNumber(trackingNumber string) bool { return true }
func (a *stubAdapter) IsAvailable() bool                                 { return true }

type stubAdapters struct {
	m map[models.Carrier]carriers.Adapter
}

func (s stubAdapters) Adapter(c models.Carrier) (carriers.Adapter, error) {
	a, ok := s.m[c]
	if !ok {
		return nil, errors.Errorf("no adapter for %q", c)
	}
	return a, nil
}

type captureProducer struct {
	mu   sync.Mutex
	msgs []messages.ShipmentSynced
}

func (p *captureProducer) Publish(ctx context.Context, topic string, key, value []byte) error {
	var m messages.ShipmentSynced
	if err := json.Unmarshal(value, &m); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, m)
	return nil
}

func fastPace() map[models.Carrier]time.Duration {
	return map[models.Carrier]time.Duration{
		models.CarrierUPS:   time.Millisecond,
		models.CarrierFedEx: time.Millisecond,
		models.CarrierDHL:   time.Millisecond,
		models.CarrierUSPS:  time.Millisecond,
	}
}

func activeShipment(id uint64, c models.Carrier, tn string) *models.Shipment {
	return &models.Shipment{
		ID:             id,
		Carrier:        c,
		TrackingNumber: &tn,
		Status:         models.StatusInTransit,
		APISyncStatus:  models.SyncSuccess,
	}
}

func newTestOrchestrator(repo Repository, adapters AdapterSource, rec Reconciler, prod Producer) *Orchestrator {
	return New(repo, adapters, ratelimit.New(1000, nil), rec, prod, "shipment.synced").
		WithPaceDelays(fastPace()).
		WithRetry(ratelimit.RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond, Multiplier: 2, MaxDelay: time.Millisecond})
}

func TestRunPass_StatusAdvancesAndOutcomesPublished(t *testing.T) {
	sh := activeShipment(1, models.CarrierFedEx, "123456789012")
	repo := newMemRepo(sh)
	prod := &captureProducer{}

	delivered := []*models.TrackingEvent{
		{Type: models.EventInTransit, Status: models.StatusInTransit, Description: "Departed FedEx hub", Source: models.SourceAPISync, EventTime: time.Now().Add(-2 * time.Hour)},
		{Type: models.EventDelivered, Status: models.StatusDelivered, Description: "Delivered", Source: models.SourceAPISync, EventTime: time.Now().Add(-time.Hour)},
	}
	adapters := stubAdapters{m: map[models.Carrier]carriers.Adapter{
		models.CarrierFedEx: &stubAdapter{events: delivered},
	}}

	o := newTestOrchestrator(repo, adapters, reconcile.New(repo, nil), prod)

	sum, err := o.RunPass(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, 1, sum.TotalShipments)
	require.Equal(t, 1, sum.Successful)
	require.Zero(t, sum.Failed)

	require.Equal(t, []uint64{1}, repo.successes)
	require.Equal(t, models.StatusDelivered, repo.statuses[1])

	// Two carrier events plus the api_sync audit entry.
	require.Len(t, repo.events, 3)
	require.Equal(t, models.EventAPISync, repo.events[2].Type)
	require.Contains(t, repo.events[2].Description, "2 new events")
	require.Contains(t, repo.events[2].Description, "in-transit -> delivered")

	require.Len(t, prod.msgs, 1)
	require.True(t, prod.msgs[0].Success)
	require.Equal(t, 2, prod.msgs[0].EventsAdded)
	require.True(t, prod.msgs[0].StatusChanged)
}

func TestRunPass_SecondPassIsIdempotent(t *testing.T) {
	sh := activeShipment(1, models.CarrierUPS, "1Z999AA10123456784")
	repo := newMemRepo(sh)

	sourceID := "DL:20250601 120000"
	events := []*models.TrackingEvent{
		{Type: models.EventDelivered, Status: models.StatusDelivered, Description: "Delivered", Source: models.SourceAPISync, SourceID: &sourceID, EventTime: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)},
	}
	adapters := stubAdapters{m: map[models.Carrier]carriers.Adapter{
		models.CarrierUPS: &stubAdapter{events: events},
	}}

	o := newTestOrchestrator(repo, adapters, reconcile.New(repo, nil), &captureProducer{})

	first, err := o.RunPass(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, 1, first.Results[0].EventsAdded)

	second, err := o.RunPass(context.Background(), true)
	require.NoError(t, err)
	require.Zero(t, second.Results[0].EventsAdded)

	// One carrier event, two audit entries.
	carrierEvents := 0
	for _, ev := range repo.events {
		if ev.Type != models.EventAPISync {
			carrierEvents++
		}
	}
	require.Equal(t, 1, carrierEvents)
}

func TestRunPass_FailureIsolatedPerShipment(t *testing.T) {
	ok := activeShipment(1, models.CarrierUPS, "1Z999AA10123456784")
	bad := activeShipment(2, models.CarrierDHL, "1234567890")
	repo := newMemRepo(ok, bad)
	prod := &captureProducer{}

	adapters := stubAdapters{m: map[models.Carrier]carriers.Adapter{
		models.CarrierUPS: &stubAdapter{},
		models.CarrierDHL: &stubAdapter{err: &carriers.APIError{
			Carrier: models.CarrierDHL, Code: carriers.CodeUnavailable, StatusCode: 503, Message: "upstream down",
		}},
	}}

	o := newTestOrchestrator(repo, adapters, reconcile.New(repo, nil), prod)

	sum, err := o.RunPass(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, 2, sum.TotalShipments)
	require.Equal(t, 1, sum.Successful)
	require.Equal(t, 1, sum.Failed)

	// Results keep the selection order.
	require.Equal(t, uint64(1), sum.Results[0].ShipmentID)
	require.True(t, sum.Results[0].Success)
	require.Equal(t, uint64(2), sum.Results[1].ShipmentID)
	require.False(t, sum.Results[1].Success)
	require.Contains(t, sum.Results[1].Error, "upstream down")
	require.NotNil(t, sum.Results[1].NextRetryAfter)

	require.Contains(t, repo.failures[2], "upstream down")
}

func TestProcessOne_SkipsIneligible(t *testing.T) {
	delivered := activeShipment(1, models.CarrierUPS, "1Z999AA10123456784")
	delivered.Status = models.StatusDelivered
	noNumber := &models.Shipment{ID: 2, Carrier: models.CarrierUPS, Status: models.StatusPending}
	repo := newMemRepo(delivered, noNumber)

	adapter := &stubAdapter{}
	adapters := stubAdapters{m: map[models.Carrier]carriers.Adapter{models.CarrierUPS: adapter}}
	o := newTestOrchestrator(repo, adapters, reconcile.New(repo, nil), nil)

	sum, err := o.RunPass(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, 2, sum.Skipped)
	require.Zero(t, adapter.calls)
}

func TestProcessOne_BackoffGateSkipsUntilDue(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	last := now.Add(-time.Minute)
	first := now.Add(-10 * time.Minute)

	sh := activeShipment(1, models.CarrierUPS, "1Z999AA10123456784")
	sh.APISyncStatus = models.SyncFailed
	sh.LastAPISync = &last
	sh.FirstFailedAt = &first

	repo := newMemRepo(sh)
	adapter := &stubAdapter{}
	adapters := stubAdapters{m: map[models.Carrier]carriers.Adapter{models.CarrierUPS: adapter}}
	o := newTestOrchestrator(repo, adapters, reconcile.New(repo, nil), nil)
	o.now = func() time.Time { return now }

	res := o.processOne(context.Background(), sh, false)
	require.True(t, res.Skipped)
	require.NotNil(t, res.NextRetryAfter)
	require.Equal(t, last.Add(5*time.Minute), *res.NextRetryAfter)
	require.Zero(t, adapter.calls)

	// Forced passes ignore the gate.
	res = o.processOne(context.Background(), sh, true)
	require.False(t, res.Skipped)
	require.Equal(t, 1, adapter.calls)
}

func TestFetch_RateLimitedBlocksCarrier(t *testing.T) {
	first := activeShipment(1, models.CarrierFedEx, "123456789012")
	second := activeShipment(2, models.CarrierFedEx, "123456789013")
	repo := newMemRepo(first, second)

	adapter := &stubAdapter{err: &carriers.APIError{
		Carrier: models.CarrierFedEx, Code: carriers.CodeRateLimited, StatusCode: 429, Message: "too many requests",
	}}
	adapters := stubAdapters{m: map[models.Carrier]carriers.Adapter{models.CarrierFedEx: adapter}}
	o := newTestOrchestrator(repo, adapters, reconcile.New(repo, nil), nil)

	sum, err := o.RunPass(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, 2, sum.Failed)

	// The 429 must be hit once; the second shipment fails fast on the
	// cooldown without another carrier call.
	require.Equal(t, 1, adapter.calls)
	require.Contains(t, sum.Results[1].Error, "blocked until")
}

type blockingShared struct{ allowed bool }

func (s blockingShared) Allow(ctx context.Context, c models.Carrier, limit int64, window time.Duration) (bool, int64, error) {
	return s.allowed, limit, nil
}

type failingShared struct{}

func (failingShared) Allow(ctx context.Context, c models.Carrier, limit int64, window time.Duration) (bool, int64, error) {
	return false, 0, errors.New("redis down")
}

func TestFetch_SharedLimiter(t *testing.T) {
	sh := activeShipment(1, models.CarrierUPS, "1Z999AA10123456784")
	adapter := &stubAdapter{}
	adapters := stubAdapters{m: map[models.Carrier]carriers.Adapter{models.CarrierUPS: adapter}}

	repo := newMemRepo(sh)
	o := newTestOrchestrator(repo, adapters, reconcile.New(repo, nil), nil).
		WithSharedLimiter(blockingShared{allowed: false}, 60)

	res := o.processOne(context.Background(), sh, true)
	require.False(t, res.Success)
	require.Contains(t, res.Error, "across workers")
	require.Zero(t, adapter.calls)

	// Limiter errors fail open.
	o = newTestOrchestrator(repo, adapters, reconcile.New(repo, nil), nil).
		WithSharedLimiter(failingShared{}, 60)
	res = o.processOne(context.Background(), sh, true)
	require.True(t, res.Success)
	require.Equal(t, 1, adapter.calls)
}

func TestSyncOne(t *testing.T) {
	sh := activeShipment(7, models.CarrierUSPS, "9400100000000000000000")
	repo := newMemRepo(sh)
	adapters := stubAdapters{m: map[models.Carrier]carriers.Adapter{models.CarrierUSPS: &stubAdapter{}}}
	o := newTestOrchestrator(repo, adapters, reconcile.New(repo, nil), nil)

	res, err := o.SyncOne(context.Background(), 7)
	require.NoError(t, err)
	require.True(t, res.Success)

	_, err = o.SyncOne(context.Background(), 99)
	require.ErrorContains(t, err, "not found")
}

func TestRun_TriggerAndCancel(t *testing.T) {
	repo := newMemRepo()
	adapters := stubAdapters{m: map[models.Carrier]carriers.Adapter{}}
	o := newTestOrchestrator(repo, adapters, reconcile.New(repo, nil), nil).
		WithSettings(time.Hour, 10, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- o.Run(ctx) }()

	o.Trigger()
	require.Eventually(t, func() bool {
		return o.Stats().LastPassAt != nil
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)

	st := o.Stats()
	require.NotNil(t, st.LastTriggerAt)
}

func TestRunPass_SelectionUsesConfiguredSchedule(t *testing.T) {
	repo := newMemRepo()
	adapters := stubAdapters{m: map[models.Carrier]carriers.Adapter{}}
	o := newTestOrchestrator(repo, adapters, reconcile.New(repo, nil), nil).
		WithBackoff(BackoffConfig{Tier1: 90 * time.Second, SuccessInterval: 10 * time.Minute})

	_, err := o.RunPass(context.Background(), false)
	require.NoError(t, err)

	// The due query sees the same waits the in-memory gate applies.
	require.Equal(t, 90*time.Second, repo.lastSched.Tier1)
	require.Equal(t, 10*time.Minute, repo.lastSched.SuccessInterval)
	// Unset tiers arrive normalized to the defaults.
	require.Equal(t, 15*time.Minute, repo.lastSched.Tier2)
	require.Equal(t, 6*time.Hour, repo.lastSched.Tier5)
}

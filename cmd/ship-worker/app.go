package main

import (
	"context"
	"fmt"
	"time"

	"github.com/LaneWise/ShipSync/config"
	"github.com/LaneWise/ShipSync/internal/broker/kafka"
	"github.com/LaneWise/ShipSync/internal/cache/rediscache"
	"github.com/LaneWise/ShipSync/internal/carriers"
	"github.com/LaneWise/ShipSync/internal/carriers/dhlhttp"
	"github.com/LaneWise/ShipSync/internal/carriers/fake"
	"github.com/LaneWise/ShipSync/internal/carriers/fedexhttp"
	"github.com/LaneWise/ShipSync/internal/carriers/upshttp"
	"github.com/LaneWise/ShipSync/internal/carriers/uspshttp"
	"github.com/LaneWise/ShipSync/internal/metrics"
	"github.com/LaneWise/ShipSync/internal/models"
	"github.com/LaneWise/ShipSync/internal/ratelimit"
	"github.com/LaneWise/ShipSync/internal/reconcile"
	"github.com/LaneWise/ShipSync/internal/storage/pgshipments"
	"github.com/LaneWise/ShipSync/internal/syncer"
	"github.com/prometheus/client_golang/prometheus"
)

type workerRepository interface {
	syncer.Repository
	reconcile.Repository
}

type workerFactories struct {
	newStorage       func(cfg *config.Config) (repo workerRepository, closeFn func(), err error)
	newProducer      func(cfg *config.Config) syncer.Producer
	newSharedLimiter func(cfg *config.Config) syncer.SharedLimiter
	newAdapters      func(cfg *config.Config) syncer.AdapterSource
	newMetrics       func() *metrics.SyncMetrics
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (workerRepository, func(), error) {
			sslMode := cfg.Database.SSLMode
			if sslMode == "" {
				sslMode = "disable"
			}
			connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
				cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
			st, err := pgshipments.New(connString)
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) syncer.Producer {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewProducer(brokers)
		},
		newSharedLimiter: func(cfg *config.Config) syncer.SharedLimiter {
			if cfg.Redis.Host == "" {
				return nil
			}
			redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
			return rediscache.NewCarrierLimiter(redisAddr)
		},
		newAdapters: func(cfg *config.Config) syncer.AdapterSource {
			return buildCarrierFactory(cfg)
		},
		newMetrics: func() *metrics.SyncMetrics {
			return metrics.NewSyncMetrics(prometheus.DefaultRegisterer)
		},
	}
}

// buildCarrierFactory registers an HTTP adapter per configured carrier
// and a deterministic fake for the rest, so a partially configured
// environment still syncs everything.
func buildCarrierFactory(cfg *config.Config) *carriers.Factory {
	f := carriers.NewFactory()
	timeout := time.Duration(cfg.ShipSync.WorkerCallTimeoutSeconds) * time.Second

	register := func(c models.Carrier, cc config.CarrierConfig, mk func(baseURL, apiKey string, timeout time.Duration) carriers.Adapter) {
		if cc.BaseURL == "" {
			f.Register(c, fake.New(c))
			return
		}
		f.Register(c, mk(cc.BaseURL, cc.APIKey, timeout))
	}

	register(models.CarrierUPS, cfg.ShipSync.UPS, func(b, k string, t time.Duration) carriers.Adapter { return upshttp.New(b, k, t) })
	register(models.CarrierFedEx, cfg.ShipSync.FedEx, func(b, k string, t time.Duration) carriers.Adapter { return fedexhttp.New(b, k, t) })
	register(models.CarrierDHL, cfg.ShipSync.DHL, func(b, k string, t time.Duration) carriers.Adapter { return dhlhttp.New(b, k, t) })
	register(models.CarrierUSPS, cfg.ShipSync.USPS, func(b, k string, t time.Duration) carriers.Adapter { return uspshttp.New(b, k, t) })
	return f
}

func buildLimiter(cfg *config.Config) *ratelimit.Limiter {
	perMin := cfg.ShipSync.WorkerRateLimitPerMinute
	if perMin <= 0 {
		perMin = 60
	}
	caps := map[models.Carrier]int{}
	if v := cfg.ShipSync.WorkerRateLimitUPSPerMinute; v > 0 {
		caps[models.CarrierUPS] = v
	}
	if v := cfg.ShipSync.WorkerRateLimitFedExPerMinute; v > 0 {
		caps[models.CarrierFedEx] = v
	}
	if v := cfg.ShipSync.WorkerRateLimitDHLPerMinute; v > 0 {
		caps[models.CarrierDHL] = v
	}
	if v := cfg.ShipSync.WorkerRateLimitUSPSPerMinute; v > 0 {
		caps[models.CarrierUSPS] = v
	}
	l := ratelimit.New(perMin, caps)
	if cd := cfg.ShipSync.WorkerCooldownSeconds; cd > 0 {
		l = l.WithCooldown(time.Duration(cd) * time.Second)
	}
	return l
}

func buildBackoff(cfg *config.Config) syncer.BackoffConfig {
	sec := func(v int) time.Duration { return time.Duration(v) * time.Second }
	return syncer.BackoffConfig{
		Tier1:           sec(cfg.ShipSync.Backoff1Seconds),
		Tier2:           sec(cfg.ShipSync.Backoff2Seconds),
		Tier3:           sec(cfg.ShipSync.Backoff3Seconds),
		Tier4:           sec(cfg.ShipSync.Backoff4Seconds),
		Tier5:           sec(cfg.ShipSync.Backoff5Seconds),
		SuccessInterval: sec(cfg.ShipSync.SuccessIntervalSeconds),
	}
}

func buildPaceDelays(cfg *config.Config) map[models.Carrier]time.Duration {
	pace := syncer.DefaultPaceDelays()
	if v := cfg.ShipSync.PaceUPSSeconds; v > 0 {
		pace[models.CarrierUPS] = time.Duration(v) * time.Second
	}
	if v := cfg.ShipSync.PaceFedExSeconds; v > 0 {
		pace[models.CarrierFedEx] = time.Duration(v) * time.Second
	}
	if v := cfg.ShipSync.PaceDHLSeconds; v > 0 {
		pace[models.CarrierDHL] = time.Duration(v) * time.Second
	}
	if v := cfg.ShipSync.PaceUSPSSeconds; v > 0 {
		pace[models.CarrierUSPS] = time.Duration(v) * time.Second
	}
	return pace
}

func buildOrchestrator(cfg *config.Config, f workerFactories) (*syncer.Orchestrator, func(), error) {
	topic := cfg.Kafka.ShipmentSyncedTopic
	if topic == "" {
		topic = "shipment.synced"
	}

	pollInterval := time.Duration(cfg.ShipSync.WorkerPollIntervalSeconds) * time.Second
	if pollInterval <= 0 {
		pollInterval = 5 * time.Minute
	}
	batchSize := cfg.ShipSync.WorkerBatchSize
	if batchSize <= 0 {
		batchSize = 500
	}
	callTimeout := time.Duration(cfg.ShipSync.WorkerCallTimeoutSeconds) * time.Second
	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}

	repo, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return nil, nil, err
	}

	limiter := buildLimiter(cfg)
	rec := reconcile.New(repo, nil)

	o := syncer.New(repo, f.newAdapters(cfg), limiter, rec, f.newProducer(cfg), topic).
		WithSettings(pollInterval, batchSize, callTimeout).
		WithBackoff(buildBackoff(cfg)).
		WithPaceDelays(buildPaceDelays(cfg))

	if shared := f.newSharedLimiter(cfg); shared != nil {
		o = o.WithSharedLimiter(shared, int64(cfg.ShipSync.WorkerRateLimitPerMinute))
	}
	if f.newMetrics != nil {
		o = o.WithMetrics(f.newMetrics())
	}
	return o, closeFn, nil
}

func RunShipWorker(ctx context.Context, cfg *config.Config, f workerFactories) error {
	o, closeFn, err := buildOrchestrator(cfg, f)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runWorkerHTTPServer(ctx, workerHTTPOpts{
			httpAddr:     cfg.ShipSync.WorkerHTTPAddr,
			swaggerPath:  cfg.ShipSync.SwaggerPath,
			orchestrator: o,
			cfg:          cfg,
		})
	}()

	runErr := make(chan error, 1)
	go func() {
		runErr <- o.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-runErr:
		return err
	case err := <-httpErr:
		return err
	}
}

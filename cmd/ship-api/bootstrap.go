package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LaneWise/ShipSync/config"
	"github.com/LaneWise/ShipSync/internal/broker/kafka"
	"github.com/LaneWise/ShipSync/internal/cache/rediscache"
	"github.com/LaneWise/ShipSync/internal/carriers"
	"github.com/LaneWise/ShipSync/internal/carriers/dhlhttp"
	"github.com/LaneWise/ShipSync/internal/carriers/fedexhttp"
	"github.com/LaneWise/ShipSync/internal/carriers/upshttp"
	"github.com/LaneWise/ShipSync/internal/carriers/uspshttp"
	"github.com/LaneWise/ShipSync/internal/models"
	"github.com/LaneWise/ShipSync/internal/services/shipments"
	"github.com/LaneWise/ShipSync/internal/storage/pgshipments"
)

// buildCarrierValidator enforces carrier number formats at intake. The
// adapters are registered without credentials: only their syntactic
// checks run here, never their HTTP calls.
func buildCarrierValidator(cfg *config.Config) *carriers.Factory {
	return carriers.NewFactory().
		Register(models.CarrierUPS, upshttp.New(cfg.ShipSync.UPS.BaseURL, "", 0)).
		Register(models.CarrierFedEx, fedexhttp.New(cfg.ShipSync.FedEx.BaseURL, "", 0)).
		Register(models.CarrierDHL, dhlhttp.New(cfg.ShipSync.DHL.BaseURL, "", 0)).
		Register(models.CarrierUSPS, uspshttp.New(cfg.ShipSync.USPS.BaseURL, "", 0))
}

type shipAPIApp struct {
	ctx      context.Context
	cancel   context.CancelFunc
	opts     shipAPIOpts
	svc      *shipments.Service
	consumer *kafka.Consumer
	closeDB  func()
}

func mustBootstrapShipAPI() *shipAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	swaggerPath := cfg.ShipSync.SwaggerPath
	if sp := os.Getenv("swaggerPath"); sp != "" {
		swaggerPath = sp
	}
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	httpAddr := cfg.ShipSync.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := cfg.ShipSync.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "ship-api"
	}
	topic := cfg.Kafka.ShipmentSyncedTopic
	if topic == "" {
		topic = "shipment.synced"
	}

	cacheTTL := time.Duration(cfg.ShipSync.CurrentStatusTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}

	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
	st := mustOpenPostgresWithRetry(connString, 60*time.Second)

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	rc := rediscache.New(redisAddr)

	svc := shipments.New(st, buildCarrierValidator(cfg), rc, cacheTTL)

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	consumer := kafka.NewConsumer(brokers, topic, consumerGroup)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &shipAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: shipAPIOpts{
			httpAddr:      httpAddr,
			swaggerPath:   swaggerPath,
			topic:         topic,
			consumerGroup: consumerGroup,
		},
		svc:      svc,
		consumer: consumer,
		closeDB:  st.Close,
	}
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgshipments.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgshipments.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *shipAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.consumer != nil {
		_ = a.consumer.Close()
	}
	if a.closeDB != nil {
		a.closeDB()
	}
}

func (a *shipAPIApp) Run() error {
	return runShipAPI(a.ctx, a.opts, a.svc, a.consumer)
}

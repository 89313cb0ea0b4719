package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/LaneWise/ShipSync/config"
	"github.com/LaneWise/ShipSync/internal/syncer"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
)

type workerHTTPOpts struct {
	httpAddr    string
	swaggerPath string
	onListen    func(httpAddr string)

	orchestrator *syncer.Orchestrator
	cfg          *config.Config
}

func runWorkerHTTPServer(ctx context.Context, opts workerHTTPOpts) error {
	if opts.httpAddr == "" {
		opts.httpAddr = ":8082"
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.orchestrator == nil {
			_, _ = w.Write([]byte(`{"error":"orchestrator not wired"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(opts.orchestrator.Stats())
	})

	r.Get("/config", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.cfg == nil {
			_, _ = w.Write([]byte(`{"error":"config not wired"}`))
			return
		}
		// Avoid dumping secrets; show only operational worker settings.
		out := map[string]any{
			"pollIntervalSeconds":      opts.cfg.ShipSync.WorkerPollIntervalSeconds,
			"batchSize":                opts.cfg.ShipSync.WorkerBatchSize,
			"callTimeoutSeconds":       opts.cfg.ShipSync.WorkerCallTimeoutSeconds,
			"rateLimitPerMinute":       opts.cfg.ShipSync.WorkerRateLimitPerMinute,
			"rateLimitUPSPerMinute":    opts.cfg.ShipSync.WorkerRateLimitUPSPerMinute,
			"rateLimitFedExPerMinute":  opts.cfg.ShipSync.WorkerRateLimitFedExPerMinute,
			"rateLimitDHLPerMinute":    opts.cfg.ShipSync.WorkerRateLimitDHLPerMinute,
			"rateLimitUSPSPerMinute":   opts.cfg.ShipSync.WorkerRateLimitUSPSPerMinute,
			"cooldownSeconds":          opts.cfg.ShipSync.WorkerCooldownSeconds,
			"successIntervalSeconds":   opts.cfg.ShipSync.SuccessIntervalSeconds,
		}
		_ = json.NewEncoder(w).Encode(out)
	})

	r.Post("/trigger", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.orchestrator == nil {
			_, _ = w.Write([]byte(`{"error":"orchestrator not wired"}`))
			return
		}
		if r.URL.Query().Get("force") == "1" {
			// Forced pass: every active shipment, staleness and backoff ignored.
			go func() {
				if _, err := opts.orchestrator.RunPass(context.Background(), true); err != nil {
					slog.Error("forced pass failed", "error", err.Error())
				}
			}()
			_, _ = w.Write([]byte(`{"triggered":true,"forced":true}`))
			return
		}
		opts.orchestrator.Trigger()
		_, _ = w.Write([]byte(`{"triggered":true}`))
	})

	// Out-of-band sync of one shipment, bypassing backoff gating.
	r.Post("/sync/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.orchestrator == nil {
			_, _ = w.Write([]byte(`{"error":"orchestrator not wired"}`))
			return
		}
		id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
		if err != nil || id == 0 {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"id must be a positive integer"}`))
			return
		}
		res, err := opts.orchestrator.SyncOne(r.Context(), id)
		if err != nil {
			code := http.StatusInternalServerError
			if strings.Contains(err.Error(), "not found") {
				code = http.StatusNotFound
			}
			w.WriteHeader(code)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		_ = json.NewEncoder(w).Encode(res)
	})

	// Swagger is optional on the worker; the ops surface works without it.
	if opts.swaggerPath != "" {
		r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-store")
			http.ServeFile(w, r, opts.swaggerPath)
		})
		swaggerURL := "/swagger.json"
		if fi, err := os.Stat(opts.swaggerPath); err == nil {
			swaggerURL = fmt.Sprintf("/swagger.json?v=%d", fi.ModTime().Unix())
		}
		r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL(swaggerURL)))
	}

	srv := &http.Server{Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	return srv.Serve(lis)
}

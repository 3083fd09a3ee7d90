package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/BearBump/PharmBox/config"
	"github.com/BearBump/PharmBox/internal/metrics"
	"github.com/BearBump/PharmBox/internal/services/refills"
	"github.com/BearBump/PharmBox/internal/services/syncer"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
)

type workerHTTPOpts struct {
	httpAddr string
	onListen func(httpAddr string)

	syncer    *syncer.Syncer
	scheduler *refills.Scheduler
	metrics   *metrics.Metrics
	cfg       *config.Config
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

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		out := map[string]any{}
		if opts.syncer != nil {
			out["sync"] = opts.syncer.Stats()
		}
		if opts.scheduler != nil {
			out["refills"] = opts.scheduler.Stats()
		}
		_ = json.NewEncoder(w).Encode(out)
	})

	r.Post("/trigger/{job}", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch chi.URLParam(req, "job") {
		case "sync":
			if opts.syncer == nil {
				_, _ = w.Write([]byte(`{"error":"syncer not wired"}`))
				return
			}
			opts.syncer.Trigger()
		case "refills":
			if opts.scheduler == nil {
				_, _ = w.Write([]byte(`{"error":"scheduler not wired"}`))
				return
			}
			opts.scheduler.Trigger()
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"unknown job"}`))
			return
		}
		_, _ = w.Write([]byte(`{"triggered":true}`))
	})

	r.Get("/config", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.cfg == nil {
			_, _ = w.Write([]byte(`{"error":"config not wired"}`))
			return
		}
		// Секреты не показываем, только операционные настройки.
		out := map[string]any{
			"syncPollIntervalSeconds":   opts.cfg.PharmBox.SyncPollIntervalSeconds,
			"syncBatchSize":             opts.cfg.PharmBox.SyncBatchSize,
			"syncConcurrency":           opts.cfg.PharmBox.SyncConcurrency,
			"syncLeaseSeconds":          opts.cfg.PharmBox.SyncLeaseSeconds,
			"syncRateLimitPerMinute":    opts.cfg.PharmBox.SyncRateLimitPerMinute,
			"refillPollIntervalSeconds": opts.cfg.PharmBox.RefillPollIntervalSeconds,
			"refillBatchSize":           opts.cfg.PharmBox.RefillBatchSize,
			"refillDefaultIntervalDays": opts.cfg.PharmBox.RefillDefaultIntervalDays,
			"providerClientMode":        opts.cfg.PharmBox.ProviderClientMode,
		}
		_ = json.NewEncoder(w).Encode(out)
	})

	if opts.metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.metrics.Handler())
	}

	srv := &http.Server{Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	err = srv.Serve(lis)
	if errors.Is(err, http.ErrServerClosed) && ctx.Err() != nil {
		// штатный Shutdown по отмене контекста, не ошибка сервера
		return ctx.Err()
	}
	return err
}

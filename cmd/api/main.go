package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"postflow/internal/config"
	"postflow/internal/httpapi"
	"postflow/internal/logging"
	"postflow/internal/observability"
	"postflow/internal/service"
	"postflow/internal/store/pg"
	"postflow/internal/util"
)

func main() {
	cfg := config.LoadAPI()
	logging.Init("api", cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := pg.NewPool(ctx, cfg.DBDSN, pg.PoolOptions{MaxConns: cfg.DBMaxConns})
	if err != nil {
		slog.Error("api db connect failed", "err", err)
		os.Exit(1)
	}

	observability.Register(prometheus.DefaultRegisterer)

	store := pg.New(db)
	svc := &service.ScheduleService{
		Store:      store,
		Heartbeats: store,
	}

	s := httpapi.New()
	api := &httpapi.API{
		Svc:   svc,
		IDGen: util.NewScheduleID,
	}
	api.Register(s.Router)

	s.Router.HandleFunc("/healthz", httpapi.Healthz())
	s.Router.HandleFunc("/readyz", httpapi.Readyz(2*time.Second, httpapi.ReadyzCheck{
		Name:  "db",
		Check: func(ctx context.Context) error { return db.Ping(ctx) },
	}))

	handler := httpapi.Logging(httpapi.Metrics(observability.APIRequests)(s.Router))
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: handler,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("api shutdown", "signal", sig.String())
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("api listening", "port", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("api server failed", "err", err)
		os.Exit(1)
	}

	db.Close()
}

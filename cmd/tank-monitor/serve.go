package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sweeney/tank-monitor/internal/channel"
	"github.com/sweeney/tank-monitor/internal/config"
	"github.com/sweeney/tank-monitor/internal/logger"
	"github.com/sweeney/tank-monitor/internal/monitor"
	"github.com/sweeney/tank-monitor/internal/mqtt"
	"github.com/sweeney/tank-monitor/internal/status"
	"github.com/sweeney/tank-monitor/internal/storage"
	"github.com/sweeney/tank-monitor/internal/web"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the monitor and its HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return run(cfg)
	},
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// app is the wired service: storage, session manager, tracker and HTTP server.
type app struct {
	db  *sql.DB
	svc *monitor.Service
	srv *web.Server
	log *logger.Logger
}

func newApp(cfg *config.Config, dialer mqtt.Dialer, log *logger.Logger) (*app, error) {
	db, err := storage.InitDB(cfg.DB.Path)
	if err != nil {
		return nil, fmt.Errorf("init db: %w", err)
	}

	manager := channel.NewManager(dialer, channel.Options{
		RetryDelay:  cfg.Channel.RetryDelay,
		RecentLimit: cfg.Channel.RecentLimit,
		Logger:      log,
	})
	tracker := status.NewTracker(time.Now(), status.Config{
		Broker:       dialer.Broker(),
		HTTPAddr:     cfg.HTTP.Addr,
		RetryDelayMs: manager.RetryDelay().Milliseconds(),
		Database:     cfg.DB.Path,
	})
	svc := monitor.New(storage.NewRepository(db), manager, tracker, log)

	return &app{
		db:  db,
		svc: svc,
		srv: web.New(cfg.HTTP.Addr, svc, log),
		log: log,
	}, nil
}

// close tears down live sessions before the database they write to.
func (a *app) close() {
	a.svc.Close()
	if err := a.db.Close(); err != nil {
		a.log.Warnw("failed to close database", "error", err)
	}
}

func run(cfg *config.Config) error {
	log := logger.Get(cfg.Log.Level)
	defer func() { _ = log.Sync() }()

	a, err := newApp(cfg, mqtt.NewPahoDialer(cfg.MQTT.Transport()), log)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.svc.Load(context.Background(), cfg.Channel.AutoOpen); err != nil {
		return fmt.Errorf("load tanks: %w", err)
	}

	ln, err := net.Listen("tcp", cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.HTTP.Addr, err)
	}
	log.Infow("started",
		"http", ln.Addr().String(),
		"broker", cfg.MQTT.Transport().BrokerURL(),
		"db", cfg.DB.Path,
		"retry_delay", cfg.Channel.RetryDelay,
		"auto_open", cfg.Channel.AutoOpen,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	return runLoop(a, ln, sigCh)
}

// runLoop serves HTTP on ln until a signal arrives or the server fails.
func runLoop(a *app, ln net.Listener, sig <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- a.srv.Serve(ln)
	}()

	select {
	case s := <-sig:
		a.log.Infow("shutting down", "signal", s.String())
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

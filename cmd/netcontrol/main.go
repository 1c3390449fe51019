package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"netcontrol/internal/event"
	"netcontrol/internal/manager"
	"netcontrol/internal/mastership"
	"netcontrol/internal/natsbus"
	"netcontrol/internal/netcfg"
	"netcontrol/internal/store"
	"netcontrol/internal/web"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

// roleService is a mastership backend with a lifecycle.
type roleService interface {
	mastership.Service
	Stop()
}

type localRoles struct{ *mastership.LocalService }

func (localRoles) Stop() {}

func main() {
	// Temporary logger for config loading errors.
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfgPath := "config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		bootLogger.Error("load config", "err", err)
		os.Exit(1)
	}
	if err := cfg.validate(); err != nil {
		bootLogger.Error("invalid config", "err", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("netcontrol starting", "version", version, "node", cfg.Node.ID)

	if err := run(cfg, logger); err != nil {
		logger.Error("netcontrol failed", "err", err)
		os.Exit(1)
	}
	logger.Info("goodbye")
}

func run(cfg *Config, logger *slog.Logger) error {
	var nc *nats.Conn
	if cfg.usesNATS() {
		var err error
		nc, err = connectNATS(cfg, logger)
		if err != nil {
			return err
		}
		defer nc.Close()
	}

	roles, err := newRoleService(cfg, nc, logger)
	if err != nil {
		return err
	}
	defer roles.Stop()

	db, err := store.NewBoltStore(cfg.Store.Path, store.WithMasterCheck(roles.IsLocalMaster))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	netConfig := netcfg.NewRegistry(logger)
	if err := netConfig.Load(cfg.NetCfg.Path); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := event.NewFanout(logger, cfg.Events.QueueSize)
	events.Start(ctx)
	defer events.Stop()

	mgr := manager.New(db, roles, netConfig, events, manager.Config{
		AuditInterval: cfg.Audit.Interval,
	}, logger)
	mgr.Start()
	defer mgr.Stop()

	// Scripts register into the manager's overlay chain (no-op when built
	// with the no_scripts tag).
	scripts, scriptWebOpts := initScripts(mgr, cfg, logger)
	defer scripts.Stop()

	var publisher *natsbus.Publisher
	if cfg.Events.NATS.Enabled {
		publisher, err = newPublisher(ctx, cfg, nc, logger)
		if err != nil {
			return err
		}
		publisher.Start(events)
		defer publisher.Stop()
	}

	var webOpts []web.ServerOption
	if cfg.Web.APIKey != "" {
		webOpts = append(webOpts, web.WithAPIKey(cfg.Web.APIKey))
	}
	if len(cfg.Web.AllowedOrigins) > 0 {
		webOpts = append(webOpts, web.WithAllowedOrigins(cfg.Web.AllowedOrigins))
	}
	webOpts = append(webOpts, web.WithVersion(version))
	webOpts = append(webOpts, scriptWebOpts...)
	webServer := web.NewServer(mgr, logger, webOpts...)

	httpServer := &http.Server{
		Addr:         cfg.Web.Listen,
		Handler:      webServer,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		logger.Info("web server starting", "addr", cfg.Web.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", "err", err)
		}
	}()

	// Start MQTT bridge (no-op when built with no_mqtt tag).
	mqtt := initMQTT(mgr, events, cfg, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)
	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			if err := netConfig.Reload(); err != nil {
				logger.Error("reload network config", "err", err)
			} else {
				logger.Info("network config reloaded", "path", cfg.NetCfg.Path)
			}
			continue
		}
		logger.Info("shutting down", "signal", sig)
		break
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	mqtt.Stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "err", err)
	}
	webServer.Stop()
	return nil
}

func connectNATS(cfg *Config, logger *slog.Logger) (*nats.Conn, error) {
	log := logger.With("component", "nats")
	nc, err := nats.Connect(cfg.NATS.URL,
		nats.Name(cfg.NATS.Name),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", cfg.NATS.URL, err)
	}
	log.Info("connected to nats", "url", nc.ConnectedUrl())
	return nc, nil
}

func newRoleService(cfg *Config, nc *nats.Conn, logger *slog.Logger) (roleService, error) {
	node := mastership.NodeID(cfg.Node.ID)
	if cfg.Mastership.Backend == "local" {
		return localRoles{mastership.NewLocalService(node, logger)}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	svc, err := mastership.NewNATSService(ctx, nc, cfg.Mastership.Bucket, node, logger)
	if err != nil {
		return nil, err
	}
	// The watcher lives until Stop, so it gets its own context.
	if err := svc.Start(context.Background()); err != nil {
		return nil, fmt.Errorf("start mastership: %w", err)
	}
	return svc, nil
}

func newPublisher(ctx context.Context, cfg *Config, nc *nats.Conn, logger *slog.Logger) (*natsbus.Publisher, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return natsbus.NewPublisher(ctx, js, natsbus.Config{
		Stream:        cfg.Events.NATS.Stream,
		SubjectPrefix: cfg.Events.NATS.SubjectPrefix,
		Source:        "netcontrol/" + cfg.Node.ID,
		MaxAge:        cfg.Events.NATS.MaxAge,
	}, logger)
}

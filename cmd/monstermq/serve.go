package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/vogler75/monstermq/internal/archivegroup"
	"github.com/vogler75/monstermq/internal/auth"
	"github.com/vogler75/monstermq/internal/bus"
	"github.com/vogler75/monstermq/internal/cluster"
	"github.com/vogler75/monstermq/internal/config"
	"github.com/vogler75/monstermq/internal/dispatch"
	"github.com/vogler75/monstermq/internal/endpoint"
	"github.com/vogler75/monstermq/internal/logger"
	"github.com/vogler75/monstermq/internal/metrics"
	"github.com/vogler75/monstermq/internal/registry"
	"github.com/vogler75/monstermq/internal/scheduler"
	"github.com/vogler75/monstermq/internal/store/archive"
	"github.com/vogler75/monstermq/internal/store/lastvalue"
	"github.com/vogler75/monstermq/internal/store/retained"
	"github.com/vogler75/monstermq/internal/store/session"
	"github.com/vogler75/monstermq/internal/store/user"
	"github.com/vogler75/monstermq/internal/subscription"
	"github.com/vogler75/monstermq/internal/transport"
)

func newServeCmd() *cobra.Command {
	var configPath, nodeID string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the broker until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFile(configPath)
			if err != nil {
				return err
			}
			if nodeID != "" {
				cfg.NodeID = nodeID
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "config.yaml", "path to the YAML config file")
	cmd.Flags().StringVar(&nodeID, "node-id", "", "override the configured node id")
	return cmd
}

// runServe wires every subsystem together and blocks until SIGINT/
// SIGTERM, in the teacher's gracefulShutdown style.
func runServe(parent context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.New(logger.Config{Level: logger.LevelInfo, Format: "json", Component: "monstermq", Service: "monstermq", Version: "dev"})
	log.Info("starting broker", "node_id", cfg.NodeID)

	sched := scheduler.New()
	sched.Start()
	defer sched.Stop()

	reg := registry.New()
	subs := subscription.NewManager()

	sessionStore, err := openSessionStore(cfg.Storage.Sessions)
	if err != nil {
		return fmt.Errorf("session store: %w", err)
	}
	userStore, err := openUserStore(cfg.Storage.Sessions)
	if err != nil {
		return fmt.Errorf("user store: %w", err)
	}
	lastValueStore, err := openLastValueSink(cfg.Storage.LastValue)
	if err != nil {
		return fmt.Errorf("last-value store: %w", err)
	}

	var redisClient redis.UniversalClient
	if cfg.Storage.Retained.Kind == "redis" || cfg.Cluster.Enabled {
		addr := cfg.Storage.Retained.DSN
		if addr == "" {
			addr = cfg.Cluster.RedisAddr
		}
		redisClient = redis.NewClient(&redis.Options{Addr: addr})
	}

	retainedStore, err := openRetainedStore(cfg.Storage.Retained, redisClient)
	if err != nil {
		return fmt.Errorf("retained store: %w", err)
	}

	var clusterCoord cluster.Coordinator
	var messageBus bus.Bus
	if cfg.Cluster.Enabled && redisClient != nil {
		clusterCoord = cluster.NewRedisCoordinator(redisClient, cfg.NodeID, "monstermq")
		messageBus = bus.NewRedisBus(redisClient, "monstermq")
	} else {
		clusterCoord = cluster.NewLocalCoordinator(cfg.NodeID)
		messageBus = bus.NewLocalBus(1024)
	}

	archiveEngine := archivegroup.NewEngine()
	for _, g := range cfg.Archive {
		if !g.Enabled {
			continue
		}
		group, err := buildArchiveGroup(g, lastValueStore)
		if err != nil {
			return fmt.Errorf("archive group %s: %w", g.Name, err)
		}
		archiveEngine.AddGroup(group)
	}

	var aclEvaluator *auth.Evaluator
	if cfg.Users.Enabled {
		aclEvaluator = auth.NewEvaluator(userStore, 30*time.Second)
	}
	saslRegistry := auth.NewRegistry()

	dispatchHandler := dispatch.NewHandler(subs, retainedStore, sessionStore, archiveEngine, reg, clusterCoord, messageBus, log)
	go dispatchHandler.RunPurge(ctx)

	metricsStore := metrics.NewMemoryStore()
	collector := metrics.NewCollector(messageBus, clusterCoord, metricsStore, map[string]string{"node": cfg.NodeID})
	go collector.Run(ctx)

	deps := &endpoint.Deps{
		NodeID:         cfg.NodeID,
		Users:          userStore,
		ACL:            aclEvaluator,
		SASL:           saslRegistry,
		Sessions:       sessionStore,
		Retained:       retainedStore,
		Subscriptions:  subs,
		Registry:       reg,
		Cluster:        clusterCoord,
		Bus:            messageBus,
		Dispatch:       dispatchHandler,
		Archive:        archiveEngine,
		Scheduler:      sched,
		Log:            log,
		AllowAnonymous: cfg.Users.AllowAnonymous,
	}

	servers, err := startListeners(ctx, cfg, deps, log)
	if err != nil {
		return err
	}

	<-ctx.Done()

	log.Info("shutting down")
	for _, s := range servers {
		if err := s.Stop(); err != nil {
			log.Warn("listener stop error", "error", err)
		}
	}
	archiveEngine.Flush(context.Background())
	return nil
}

type listener interface {
	Start(ctx context.Context) error
	Stop() error
}

func startListeners(ctx context.Context, cfg *config.Config, deps *endpoint.Deps, log *logger.Logger) ([]listener, error) {
	var servers []listener

	if cfg.Listeners.TCP.Port != 0 {
		srv := transport.New(fmt.Sprintf(":%d", cfg.Listeners.TCP.Port), nil, deps, log, cfg.Listeners.TCP.MaxConnections)
		if err := srv.Start(ctx); err != nil {
			return nil, fmt.Errorf("tcp listener: %w", err)
		}
		log.Info("tcp listener started", "port", cfg.Listeners.TCP.Port)
		servers = append(servers, srv)
	}

	if cfg.Listeners.TLS.Port != 0 {
		cert, err := tls.LoadX509KeyPair(cfg.Listeners.TLS.CertFile, cfg.Listeners.TLS.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("tls cert: %w", err)
		}
		tlsCfg := &tls.Config{Certificates: []tls.Certificate{cert}}
		srv := transport.New(fmt.Sprintf(":%d", cfg.Listeners.TLS.Port), tlsCfg, deps, log, cfg.Listeners.TLS.MaxConnections)
		if err := srv.Start(ctx); err != nil {
			return nil, fmt.Errorf("tls listener: %w", err)
		}
		log.Info("tls listener started", "port", cfg.Listeners.TLS.Port)
		servers = append(servers, srv)
	}

	if cfg.Listeners.WebSocket.Port != 0 {
		srv := transport.NewWS(fmt.Sprintf(":%d", cfg.Listeners.WebSocket.Port), "/mqtt", deps, log)
		if err := srv.Start(ctx); err != nil {
			return nil, fmt.Errorf("websocket listener: %w", err)
		}
		log.Info("websocket listener started", "port", cfg.Listeners.WebSocket.Port)
		servers = append(servers, srv)
	}

	return servers, nil
}

func openSessionStore(cfg config.BackendConfig) (session.Store, error) {
	switch cfg.Kind {
	case "sqlite":
		db, err := sql.Open("sqlite3", cfg.DSN)
		if err != nil {
			return nil, err
		}
		return session.NewSQLiteStore(db)
	default:
		return session.NewMemoryStore(), nil
	}
}

func openUserStore(cfg config.BackendConfig) (user.Store, error) {
	const bcryptCost = 12
	switch cfg.Kind {
	case "sqlite":
		db, err := sql.Open("sqlite3", cfg.DSN)
		if err != nil {
			return nil, err
		}
		return user.NewSQLiteStore(db, bcryptCost)
	default:
		return user.NewMemoryStore(bcryptCost), nil
	}
}

func openRetainedStore(cfg config.BackendConfig, client redis.UniversalClient) (retained.Store, error) {
	switch cfg.Kind {
	case "redis":
		return retained.NewRedisStore(client, "monstermq"), nil
	default:
		return retained.NewMemoryStore(), nil
	}
}

func openLastValueSink(cfg config.BackendConfig) (lastvalue.Sink, error) {
	switch cfg.Kind {
	case "sqlite":
		db, err := gorm.Open(sqlite.Open(cfg.DSN), &gorm.Config{})
		if err != nil {
			return nil, err
		}
		return lastvalue.NewGormSink(db)
	default:
		return lastvalue.NewMemorySink(), nil
	}
}

func buildArchiveGroup(g config.ArchiveGroup, lv lastvalue.Sink) (*archivegroup.Group, error) {
	var archiveSink archive.Sink
	switch g.Archive.Kind {
	case "kafka":
		brokers := []string{g.Archive.DSN}
		sink, err := archive.NewKafkaSink(brokers, g.Name)
		if err != nil {
			return nil, err
		}
		archiveSink = sink
	default:
		archiveSink = archive.NewMemoryRingSink(10000)
	}

	retention := time.Duration(0)
	if g.Retention != "" {
		r, err := archivegroup.ParseRetention(g.Retention)
		if err != nil {
			return nil, err
		}
		retention = r
	}

	return &archivegroup.Group{
		Name:          g.Name,
		Enabled:       g.Enabled,
		Filters:       g.Filters,
		RetainedOnly:  g.RetainedOnly,
		LastValueSink: lv,
		ArchiveSink:   archiveSink,
		Retention:     retention,
		BatchSize:     g.BatchSize,
		BatchTimeout:  g.BatchWindow,
	}, nil
}

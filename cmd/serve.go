package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nexwire/chatgate/internal/bus"
	"github.com/nexwire/chatgate/internal/config"
	"github.com/nexwire/chatgate/internal/credstore"
	"github.com/nexwire/chatgate/internal/db"
	"github.com/nexwire/chatgate/internal/dispatcher"
	httpSrv "github.com/nexwire/chatgate/internal/http"
	"github.com/nexwire/chatgate/internal/logger"
	"github.com/nexwire/chatgate/internal/registry"
	"github.com/nexwire/chatgate/internal/repository"
	"github.com/nexwire/chatgate/internal/retry"
	"github.com/nexwire/chatgate/internal/sink"
	"github.com/nexwire/chatgate/internal/supervisor"
	"github.com/nexwire/chatgate/internal/transport"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logger.Init(cfg.Log.Level)
		log := logger.Log

		// credential store: MySQL when configured, in-memory for dev
		var creds credstore.Store = credstore.NewMemoryStore()
		if cfg.MySQL.DSN != "" {
			mysqlDB, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
				MaxOpenConns:    cfg.MySQL.MaxOpenConns,
				MaxIdleConns:    cfg.MySQL.MaxIdleConns,
				ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
				ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
				PingTimeout:     cfg.MySQL.PingTimeout,
			})
			if err != nil {
				return fmt.Errorf("mysql connect: %w", err)
			}
			defer mysqlDB.Close()
			creds = credstore.NewMySQLStore(mysqlDB)
		}

		var rds *redis.Client
		if cfg.Redis.Addr != "" {
			rds, err = db.NewRedisClient(db.RedisOpts{
				Addr:        cfg.Redis.Addr,
				Password:    cfg.Redis.Password,
				DB:          cfg.Redis.DB,
				DialTimeout: cfg.Redis.DialTimeout,
			})
			if err != nil {
				return fmt.Errorf("redis connect: %w", err)
			}
			defer func() { _ = rds.Close() }()
		}

		rootCtx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// delivery audit log (optional)
		var audit *repository.DeliveryLog
		if cfg.ClickHouse.DSN != "" {
			chDB, err := db.NewClickHouseConnection(db.ClickHouseOpts{
				DSN:             cfg.ClickHouse.DSN,
				MaxOpenConns:    cfg.ClickHouse.MaxOpenConns,
				MaxIdleConns:    cfg.ClickHouse.MaxIdleConns,
				ConnMaxLifetime: cfg.ClickHouse.ConnMaxLifetime,
				ConnMaxIdleTime: cfg.ClickHouse.ConnMaxIdleTime,
				PingTimeout:     cfg.ClickHouse.PingTimeout,
			})
			if err != nil {
				return fmt.Errorf("clickhouse connect: %w", err)
			}
			defer func() { _ = chDB.Close() }()

			audit = repository.NewDeliveryLog(chDB, log.Named("deliverylog"))
			go func() {
				if err := audit.Run(rootCtx); err != nil {
					log.Error("delivery log stopped", zap.Error(err))
				}
			}()
		}

		eventBus := bus.New(cfg.Bus.Buffer, bus.Policy(cfg.Bus.Policy), log.Named("bus"))

		dialer := transport.NewWSDialer(transport.WSDialerOpts{
			GatewayURL:       cfg.Transport.GatewayURL,
			HandshakeTimeout: cfg.Transport.HandshakeTimeout,
		}, log.Named("transport"))

		disp := dispatcher.New(dispatcher.Config{
			Backoff: retry.Config{
				Base:       cfg.Dispatcher.Backoff.Base,
				Max:        cfg.Dispatcher.Backoff.Max,
				Multiplier: cfg.Dispatcher.Backoff.Multiplier,
				Jitter:     cfg.Dispatcher.Backoff.Jitter,
			},
			DefaultAttempts: cfg.Dispatcher.DefaultAttempts,
			WorkerBuffer:    cfg.Dispatcher.WorkerBuffer,
		}, eventBus, nil, sink.Deps{
			KafkaBrokers:      cfg.Kafka.Brokers,
			KafkaBatchTimeout: cfg.Kafka.BatchTimeout,
			KafkaWriteTimeout: cfg.Kafka.WriteTimeout,
			Redis:             rds,
			DefaultTimeout:    cfg.Dispatcher.DefaultTimeout,
		}, audit)

		reg := registry.New(registry.Config{
			Supervisor: supervisor.Config{
				Backoff: retry.Config{
					Base:       cfg.Session.Backoff.Base,
					Max:        cfg.Session.Backoff.Max,
					Multiplier: cfg.Session.Backoff.Multiplier,
					Jitter:     cfg.Session.Backoff.Jitter,
				},
				MaxReconnects:  cfg.Session.MaxReconnects,
				AckTimeout:     cfg.Session.AckTimeout,
				SendAttempts:   cfg.Session.SendAttempts,
				PairingTimeout: cfg.Transport.PairingTimeout,
				QueueCapacity:  cfg.Queue.Capacity,
			},
			StopGrace: cfg.Session.StopGrace,
		}, dialer, eventBus, creds, disp)
		disp.SetTargetSource(reg)

		go func() {
			if err := disp.Run(rootCtx); err != nil {
				log.Error("dispatcher stopped", zap.Error(err))
			}
		}()

		server := httpSrv.NewServer(cfg, reg, rds)

		errCh := make(chan error, 1)
		go func() {
			log.Info("starting http", zap.String("addr", cfg.HTTP.Addr))
			errCh <- server.Start(cfg.HTTP.Addr)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			log.Info("signal received, shutting down", zap.String("signal", sig.String()))
		case err := <-errCh:
			if err != nil {
				log.Error("http server exited", zap.Error(err))
			}
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
		reg.Shutdown(shutdownCtx)
		cancel()
		eventBus.Close()

		return nil
	},
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	natsgo "github.com/nats-io/nats.go"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"sudooom.im.realtime/internal/config"
	"sudooom.im.realtime/internal/handler"
	"sudooom.im.realtime/internal/health"
	"sudooom.im.realtime/internal/metrics"
	"sudooom.im.realtime/internal/model"
	"sudooom.im.realtime/internal/nats"
	"sudooom.im.realtime/internal/notification"
	"sudooom.im.realtime/internal/presence"
	"sudooom.im.realtime/internal/pubsub"
	"sudooom.im.realtime/internal/redis"
	"sudooom.im.realtime/internal/repository"
	"sudooom.im.realtime/internal/repository/memory"
	"sudooom.im.realtime/internal/router"
	"sudooom.im.realtime/internal/service"
	"sudooom.im.realtime/internal/task"
	"sudooom.im.realtime/internal/typing"
	"sudooom.im.realtime/internal/workerpool"
	"sudooom.im.realtime/internal/ws"
	"sudooom.im.realtime/pkg/jwt"
	"sudooom.im.realtime/pkg/snowflake"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and WebSocket server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// app 持有所有长生命周期组件
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	db          *pgxpool.Pool
	redisClient *redis.Client
	natsClient  *nats.Client
	subscriber  *nats.Subscriber

	broker    *pubsub.Broker
	pool      *workerpool.Pool
	scheduler *task.Scheduler
	sweeper   *presence.Sweeper
	wsServer  *ws.Server
	http      *http.Server
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	return a.run(ctx)
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	metrics.Register()
	a := &app{cfg: cfg, logger: logger}

	node, err := snowflake.NewNode(cfg.App.NodeID)
	if err != nil {
		return nil, fmt.Errorf("create snowflake node: %w", err)
	}
	limits, err := cfg.Limits.Message()
	if err != nil {
		return nil, err
	}
	readLimit, err := cfg.WebSocket.ReadLimitBytes()
	if err != nil {
		return nil, err
	}

	// 存储
	store, err := a.openStore(ctx, node)
	if err != nil {
		a.close()
		return nil, err
	}

	// 进程内发布订阅，可选跨节点转发
	a.broker = pubsub.NewBroker(logger)
	if cfg.NATS.Enabled {
		if err := a.connectNATS(); err != nil {
			a.close()
			return nil, err
		}
	}

	a.pool = workerpool.New(cfg.Workers.Size, cfg.Workers.QueueSize, logger)
	a.scheduler = task.NewScheduler(task.NewTimeWheel(cfg.Typing.WheelSlots, cfg.Typing.TickInterval), a.pool, logger)

	// 输入状态：Redis 可用时跨节点共享，否则退回进程内存储
	var typingStore typing.Store = typing.NewMemoryStore()
	if cfg.Redis.Enabled {
		a.redisClient = redis.NewClient(cfg.Redis, logger)
		if err := a.redisClient.Ping(ctx); err != nil {
			a.close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		logger.Info("Connected to Redis", "addr", cfg.Redis.Addr())
		typingStore = a.redisClient
	}
	typingTracker := typing.NewTracker(typingStore, a.scheduler, a.broker, cfg.Typing.TTL, logger)

	presenceTracker := presence.NewTracker(store, a.broker, presence.Config{
		OfflineThreshold: cfg.Presence.OfflineThreshold,
		SyncInterval:     cfg.Presence.SyncInterval,
	}, logger)
	a.sweeper = presence.NewSweeper(presenceTracker, cfg.Presence.SweepInterval, logger)

	notifier := notification.NewService(store, a.broker, a.pool, logger)

	svc := service.NewMessagingService(service.Options{
		Store:     store,
		IDs:       node,
		Publisher: a.broker,
		Typing:    typingTracker,
		Presence:  presenceTracker,
		Notifier:  notifier,
		Limits:    limits,
		Logger:    logger,
	})

	tokens := jwt.NewService(cfg.JWT.SecretKey, cfg.JWT.AccessExpire)
	a.wsServer = ws.NewServer(ws.Options{
		AuthTimeout:     cfg.WebSocket.AuthTimeout,
		PingInterval:    cfg.WebSocket.PingInterval,
		WriteTimeout:    cfg.WebSocket.WriteTimeout,
		ReadLimit:       readLimit,
		SendBuffer:      cfg.WebSocket.SendBuffer,
		FramesPerSecond: cfg.WebSocket.FramesPerSecond,
		Burst:           cfg.WebSocket.Burst,
		AllowedOrigins:  cfg.CORS.AllowedOrigins,
	}, tokens, svc, presenceTracker, a.broker, logger)

	var (
		rawRedis *goredis.Client
		nc       *natsgo.Conn
	)
	if a.redisClient != nil {
		rawRedis = a.redisClient.Raw()
	}
	if a.natsClient != nil {
		nc = a.natsClient.Conn()
	}

	engine := router.SetupRouter(cfg, tokens, &router.Handlers{
		Conversation: handler.NewConversationHandler(svc),
		Message:      handler.NewMessageHandler(svc),
		Notification: handler.NewNotificationHandler(svc),
		Presence:     handler.NewPresenceHandler(svc),
		Health:       health.NewChecker(cfg.App.Name, a.db, rawRedis, nc, a.wsServer),
		WebSocket:    a.wsServer,
	}, logger)

	a.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

// openStore 按配置选择 PostgreSQL 或内存存储
func (a *app) openStore(ctx context.Context, node *snowflake.Node) (repository.Store, error) {
	switch a.cfg.Storage.Driver {
	case "memory":
		var users []model.User
		if a.cfg.Storage.SeedFile != "" {
			seed, err := memory.LoadSeed(a.cfg.Storage.SeedFile)
			if err != nil {
				return nil, err
			}
			users = seed
		}
		a.logger.Info("Using in-memory store", "seed_users", len(users))
		return memory.NewStore(node, users...), nil
	default:
		db, err := connectDatabase(ctx, a.cfg)
		if err != nil {
			return nil, err
		}
		a.db = db
		a.logger.Info("Connected to PostgreSQL", "host", a.cfg.Database.Host, "database", a.cfg.Database.Name)
		return repository.NewPostgresStore(db, node), nil
	}
}

// connectNATS 建立跨节点转发与接收
func (a *app) connectNATS() error {
	nodeID := fmt.Sprintf("%s-%d", a.cfg.App.Name, a.cfg.App.NodeID)

	client, err := nats.NewClient(a.cfg.NATS, nodeID, a.logger)
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	a.natsClient = client
	a.logger.Info("Connected to NATS", "url", a.cfg.NATS.URL)

	a.broker.SetRelay(nats.NewRelay(client.Conn(), nodeID, a.cfg.NATS, a.logger))
	a.subscriber = nats.NewSubscriber(client.Conn(), a.broker, nodeID, nats.SubscriberConfig{
		SubjectPrefix: a.cfg.NATS.SubjectPrefix,
	}, a.logger)
	return nil
}

func (a *app) run(ctx context.Context) error {
	if err := a.scheduler.Start(); err != nil {
		return err
	}
	if a.subscriber != nil {
		if err := a.subscriber.Start(ctx); err != nil {
			return fmt.Errorf("start relay subscriber: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.sweeper.Start(gctx)
		return nil
	})

	g.Go(func() error {
		a.logger.Info("Realtime server started", "addr", a.http.Addr, "mode", a.cfg.App.Mode, "storage", a.cfg.Storage.Driver)
		if err := a.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		errs = append(errs, a.http.Shutdown(shutdownCtx))
		errs = append(errs, a.wsServer.Shutdown(shutdownCtx))
		if a.subscriber != nil {
			a.subscriber.Stop()
		}
		a.scheduler.Stop()
		errs = append(errs, a.pool.Shutdown(shutdownCtx))
		a.broker.Close()
		return errors.Join(errs...)
	})

	err := g.Wait()
	a.logger.Info("Server stopped")
	return err
}

// close 释放外部连接
func (a *app) close() {
	if a.natsClient != nil {
		a.natsClient.Close()
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("Failed to close redis", "error", err)
		}
	}
	if a.db != nil {
		a.db.Close()
	}
}

// connectDatabase 连接 PostgreSQL
func connectDatabase(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	return repository.NewPool(ctx, repository.PoolConfig{
		DSN:             cfg.Database.DSN(),
		MaxConns:        int32(cfg.Database.MaxOpenConns),
		MinConns:        int32(cfg.Database.MaxIdleConns),
		MaxConnLifetime: cfg.Database.ConnMaxLifetime,
	})
}

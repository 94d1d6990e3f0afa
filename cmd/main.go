package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tripconnect/messaging-service/internal/config"
	"github.com/tripconnect/messaging-service/internal/delivery"
	"github.com/tripconnect/messaging-service/internal/domain"
	"github.com/tripconnect/messaging-service/internal/handler"
	"github.com/tripconnect/messaging-service/internal/hub"
	"github.com/tripconnect/messaging-service/internal/offline"
	"github.com/tripconnect/messaging-service/internal/pipeline"
	"github.com/tripconnect/messaging-service/internal/presence"
	"github.com/tripconnect/messaging-service/internal/ratelimit"
	"github.com/tripconnect/messaging-service/internal/registry"
	"github.com/tripconnect/messaging-service/internal/rooms"
	"github.com/tripconnect/messaging-service/internal/service"
	"github.com/tripconnect/messaging-service/internal/stream"
	"github.com/tripconnect/messaging-service/pkg/database"
	"github.com/tripconnect/messaging-service/pkg/jwt"
	pkglog "github.com/tripconnect/messaging-service/pkg/log"
	"github.com/tripconnect/messaging-service/pkg/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load config")
	}

	pkglog.Init(pkglog.Config{
		Level:       cfg.Log.Level,
		Pretty:      cfg.Log.Pretty,
		ServiceName: "messaging-service",
	})
	logger := pkglog.L()

	redisEnabled := cfg.Redis.Enabled && cfg.Redis.Address != ""
	instanceAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	// Room persistence
	db, err := database.New(&cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	roomRepo, err := rooms.NewGormRepository(db)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate room schema")
	}
	logger.Info().Str("driver", cfg.Database.Driver).Msg("room database ready")

	var roomCache rooms.Cache
	if redisEnabled {
		cache, err := rooms.NewRedisCache(cfg.Redis, cfg.Redis.IndexPrefix)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		roomCache = cache
		logger.Info().Msg("room cache connected")
	}

	directory := rooms.NewDirectory(roomRepo, roomCache, cfg.Rooms, cfg.Redis.CacheTTL)

	// Message persistence
	var msgRepo pipeline.MessageRepository
	if len(cfg.Cassandra.Hosts) > 0 {
		repo, err := pipeline.NewCassandraRepository(cfg.Cassandra)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to cassandra")
		}
		msgRepo = repo
		if redisEnabled {
			cached, err := pipeline.NewCachingRepository(repo, cfg.Redis)
			if err != nil {
				logger.Fatal().Err(err).Msg("failed to connect history cache")
			}
			msgRepo = cached
		}
		logger.Info().Strs("hosts", cfg.Cassandra.Hosts).Msg("message store connected")
	} else {
		msgRepo = pipeline.NewMemoryRepository()
		logger.Warn().Msg("no cassandra hosts configured, messages are held in memory")
	}

	var dedup pipeline.DedupIndex
	if redisEnabled {
		index, err := pipeline.NewRedisDedupIndex(cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect dedup index")
		}
		defer index.Close()
		dedup = index
	} else {
		dedup = pipeline.NewMemoryDedupIndex()
	}

	// Session registry and hub
	reg := registry.New(registry.Config{
		HeartbeatInterval: cfg.WebSocket.HeartbeatInterval,
		MissedHeartbeats:  cfg.WebSocket.MissedHeartbeats,
	})

	var msgService service.MessagingService
	h := hub.NewHub(cfg.WebSocket, func(sessionID string) {
		msgService.HandleDisconnect(sessionID)
	})

	var roomIndex *registry.RoomIndex
	if redisEnabled {
		roomIndex, err = registry.NewRoomIndex(cfg.Redis, instanceAddr)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect room index")
		}
	}

	// Delivery tracking and offline spooling
	tracker := delivery.NewTracker(cfg.Messages.DeliveryTimeout, service.NewDeliveryNotifier(reg, h))
	queue := offline.NewQueue(cfg.Offline, func(userID string, msg *domain.Message) {
		tracker.Fail(msg.ID, userID)
	})

	// Downstream stream
	var producer stream.Producer
	if cfg.Kafka.Enabled {
		producer, err = stream.NewConfluentProducer(cfg.Kafka)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create kafka producer")
		}
		logger.Info().Str("topic", cfg.Kafka.Topic).Msg("kafka producer ready")
	} else {
		producer = stream.NoopProducer{}
	}
	defer producer.Close()

	limiter := ratelimit.NewPool(cfg.RateLimit)

	pl := pipeline.New(pipeline.Options{
		Config:    cfg.Messages,
		Repo:      msgRepo,
		Dedup:     dedup,
		Directory: directory,
		Limiter:   limiter,
		Tracker:   tracker,
		Spooler:   queue,
		Roster:    reg,
		Fanout:    h,
		Producer:  producer,
	})

	broadcaster := presence.NewBroadcaster(h, reg, reg.Updates(), cfg.WebSocket.TypingClearTimeout)

	msgService = service.NewMessagingService(service.Options{
		Config:    cfg,
		Hub:       h,
		Registry:  reg,
		Directory: directory,
		Pipeline:  pl,
		Tracker:   tracker,
		Queue:     queue,
		Presence:  broadcaster,
		Limiter:   limiter,
		RoomIndex: roomIndex,
	})

	// Archived/deleted rooms announce themselves to live subscribers.
	rooms.SetStateChangeHook(directory, func(roomID, change string) {
		h.BroadcastToRoom(roomID, &domain.RoomStateChangeEvent{
			Event:  domain.EventRoomStateChange,
			RoomID: roomID,
			Change: change,
		}, "")
	})

	// Attachment storage
	var store storage.AttachmentStore
	ctx := context.Background()
	switch cfg.Storage.Backend {
	case "s3":
		store, err = storage.NewS3Store(ctx, cfg.Storage.S3)
	default:
		store, err = storage.NewLocalStore(cfg.Storage.Local)
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize attachment storage")
	}

	validator := jwt.NewValidator(cfg.Auth.JWTSecret, cfg.Auth.Issuer)

	go h.Run()
	if err := msgService.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start messaging service")
	}

	sweepCtx, cancelSweep := context.WithCancel(ctx)
	rooms.StartSweeper(sweepCtx, directory, cfg.Rooms.SweepInterval)

	// HTTP and websocket surface
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(pkglog.GinMiddleware(logger))

	handler.NewWSHandler(h, msgService, validator, cfg.WebSocket).RegisterRoutes(router)
	handler.NewHTTPHandler(directory, pl, store, validator).RegisterRoutes(router)

	server := &http.Server{
		Addr:    instanceAddr,
		Handler: router,
	}

	go func() {
		logger.Info().Str("addr", instanceAddr).Msg("messaging-service listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("server shutdown incomplete")
	}

	cancelSweep()
	rooms.StopSweeper(directory)
	if err := msgService.Stop(); err != nil {
		logger.Warn().Err(err).Msg("service shutdown incomplete")
	}
	if err := msgRepo.Close(); err != nil {
		logger.Warn().Err(err).Msg("message store close failed")
	}
	logger.Info().Msg("messaging-service stopped")
}

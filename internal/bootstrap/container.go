package bootstrap

import (
	"context"
	"log"

	"image-labeler-be/internal/config"
	"image-labeler-be/internal/controller"
	"image-labeler-be/internal/pkg/logger"
	"image-labeler-be/internal/repository/memory"
	"image-labeler-be/internal/service"
	"image-labeler-be/pkg/oracle"
	"image-labeler-be/pkg/oracle/factory"

	pktNats "image-labeler-be/pkg/nats"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
)

// EventsTopic is the in-process topic every labeler event goes through.
const EventsTopic = "labeler.events"

type Container struct {
	// Controllers
	LabelerController controller.ILabelerController
	AdminController   controller.IAdminController

	// Background Services (Exposed for main.go to run)
	ConsumerService service.IConsumerService
	OracleManager   *oracle.Manager

	Logger      logger.ILogger
	AuditLogger *logger.ZapLogger

	closers []func()
}

func NewContainer(cfg *config.Config) *Container {
	// 1. Core Facades
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.App.Environment == "production")
	auditLogger := logger.NewIsolatedLogger(cfg.App.AuditLogFilePath)

	c := &Container{
		Logger:      sysLogger,
		AuditLogger: auditLogger,
	}

	// 2. Event Bus
	watermillLogger := watermill.NewStdLogger(false, false)
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{},
		watermillLogger,
	)
	c.closers = append(c.closers, func() { _ = pubSub.Close() })

	// 3. Infrastructure
	// NATS (optional)
	var forwarder service.EventForwarder
	if cfg.App.NatsURL != "" {
		natsPub, err := pktNats.NewPublisher(cfg.App.NatsURL)
		if err != nil {
			log.Printf("[WARN] Failed to connect to NATS Publisher: %v", err)
		} else {
			forwarder = natsPub
			c.closers = append(c.closers, natsPub.Close)
		}
	}

	// Redis (optional, backs the result cache)
	rdb := newRedisClient(cfg.App.RedisURL)
	if rdb != nil {
		c.closers = append(c.closers, func() { _ = rdb.Close() })
	}

	// 4. Oracle
	c.OracleManager = factory.NewManager(factory.Options{
		Backend:            cfg.Oracle.Backend,
		ModelID:            cfg.Oracle.ModelID,
		Timeout:            cfg.Oracle.Timeout,
		HuggingFaceBaseURL: cfg.Oracle.HFBaseURL,
		HuggingFaceAPIKey:  cfg.Oracle.HFAPIKey,
		OrtLibraryPath:     cfg.Oracle.OrtLibraryPath,
		OnnxModelPath:      cfg.Oracle.OnnxModelPath,
		TokenizerPath:      cfg.Oracle.TokenizerPath,
		PromptTemplate:     cfg.Oracle.PromptTemplate,
		CacheBackend:       cfg.Labeler.CacheBackend,
		CacheTTL:           cfg.Labeler.CacheTTL,
		Redis:              rdb,
	})
	log.Printf("[INFO] Using Oracle Backend: %s (%s)", cfg.Oracle.Backend, cfg.Oracle.ModelID)

	// 5. Services
	sessionRepo := memory.NewSessionRepository(cfg.App.SessionTTL)

	publisherService := service.NewPublisherService(EventsTopic, pubSub)
	c.ConsumerService = service.NewConsumerService(
		pubSub,
		EventsTopic,
		auditLogger,
		forwarder,
	)

	labelerService := service.NewLabelerService(
		c.OracleManager,
		sessionRepo,
		publisherService,
		auditLogger,
		sysLogger,
		service.LabelerOptions{
			Threshold:      cfg.Labeler.ConfidenceThreshold,
			OracleTimeout:  cfg.Oracle.Timeout,
			MaxImagePixels: cfg.Labeler.MaxImagePixels,
		},
	)

	// 6. Controllers
	c.LabelerController = controller.NewLabelerController(labelerService, cfg.App.SessionTTL)
	c.AdminController = controller.NewAdminController(labelerService, c.OracleManager, sessionRepo, cfg.App.AdminToken)

	return c
}

// Close releases the oracle and infrastructure connections in reverse order.
func (c *Container) Close() {
	if err := c.OracleManager.Close(); err != nil {
		log.Printf("[WARN] Failed to close oracle: %v", err)
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	_ = c.Logger.Sync()
	_ = c.AuditLogger.Sync()
}

func newRedisClient(url string) *redis.Client {
	if url == "" {
		return nil
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		log.Printf("[WARN] Failed to parse Redis URL: %v. Using direct Addr", err)
		opt = &redis.Options{
			Addr: url,
		}
	}
	rdb := redis.NewClient(opt)
	if _, err := rdb.Ping(context.Background()).Result(); err != nil {
		log.Printf("[WARN] Failed to connect to Redis: %v", err)
	}
	return rdb
}

package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"notification-orchestrator/internal/channel"
	"notification-orchestrator/internal/config"
	"notification-orchestrator/internal/dedup"
	"notification-orchestrator/internal/digest"
	"notification-orchestrator/internal/dlq"
	"notification-orchestrator/internal/executor"
	"notification-orchestrator/internal/explain"
	handlers "notification-orchestrator/internal/handler/http"
	"notification-orchestrator/internal/planner"
	"notification-orchestrator/internal/preference"
	"notification-orchestrator/internal/repository"
	"notification-orchestrator/internal/router"
	"notification-orchestrator/internal/worker"
	"notification-orchestrator/pkg/jobqueue"
	"notification-orchestrator/pkg/kafka"
	"notification-orchestrator/pkg/template"
	"notification-orchestrator/pkg/ws"
)

// Server wires the whole pipeline: stores, queue, adapters, workers, Kafka,
// and the HTTP surface.
type Server struct {
	cfg    config.AppConfig
	logger *zap.Logger

	db       *pgxpool.Pool
	rdb      redis.UniversalClient
	httpSrv  *http.Server
	consumer *kafka.EventConsumer
	producer *kafka.StatusProducer
	pool     *worker.Pool
	sweeper  *worker.SweepWorker
	hub      *ws.Hub
}

func New(cfg config.AppConfig, logger *zap.Logger) (*Server, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPass,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	// Stores
	ruleStore := repository.NewRuleStore(db)
	messageStore := repository.NewMessageStore(db)
	deliveryStore := repository.NewDeliveryStore(db)
	prefStore := repository.NewPreferenceStore(db)
	suppressionStore := repository.NewSuppressionStore(db)
	dlqStore := repository.NewDlqStore(db)
	digestStore := repository.NewDigestStore(db)
	directoryStore := repository.NewDirectoryStore(db)
	consentStore := repository.NewConsentStore(db)

	// Queue and pipeline services
	queue := jobqueue.NewRedisQueue(rdb, logger)
	dedupFilter := dedup.NewFilter(rdb, logger)
	templates := template.NewService(cfg.EmailTemplateDir, cfg.SMSTemplateDir, cfg.WhatsAppTemplateDir)
	evaluator := preference.NewEvaluator(prefStore, suppressionStore, logger)

	// Channel adapters
	hub := ws.NewHub(logger)
	sessionWindow := channel.NewRedisSessionWindow(rdb, cfg.WASessionWindow)
	registry := channel.NewRegistry(
		channel.NewEmailAdapter(channel.EmailConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPass,
			Timeout:  cfg.ProviderTimeout,
		}, logger),
		channel.NewSMSAdapter(channel.SMSConfig{
			BaseURL:  cfg.SMSBaseURL,
			UserID:   cfg.SMSUserID,
			Password: cfg.SMSPassword,
			SenderID: cfg.SMSSenderID,
			APIKey:   cfg.SMSAPIKey,
			Timeout:  cfg.ProviderTimeout,
		}, logger),
		channel.NewWhatsAppAdapter(channel.WhatsAppConfig{
			BaseURL: cfg.WABaseURL,
			Token:   cfg.WAToken,
			Sender:  cfg.WASender,
			Timeout: cfg.ProviderTimeout,
		}, consentStore, sessionWindow, logger),
		channel.NewInAppAdapter(hub, logger),
	)

	dlqManager := dlq.NewManager(dlqStore, queue, logger)
	digestService := digest.NewService(digestStore, deliveryStore, evaluator, templates, queue, cfg.DigestRetention, logger)

	statusProducer, err := kafka.NewStatusProducer(cfg.KafkaBrokers, cfg.KafkaStatusTopic)
	if err != nil {
		// Status publishing is a non-critical write; run without it.
		logger.Warn("status producer unavailable", zap.Error(err))
		statusProducer = nil
	}

	var status executor.StatusPublisher
	if statusProducer != nil {
		status = statusProducer
	}
	exec := executor.New(executor.Params{
		Deliveries:      deliveryStore,
		Prefs:           evaluator,
		Templates:       templates,
		Adapters:        registry,
		Queue:           queue,
		DLQ:             dlqManager,
		Digests:         digestService,
		Status:          status,
		Logger:          logger,
		MaxAttempts:     cfg.MaxAttempts,
		BackoffBase:     cfg.BackoffBase,
		ProviderTimeout: cfg.ProviderTimeout,
	})

	resolver := planner.NewResolver(directoryStore, logger)
	plan := planner.NewPlanner(ruleStore, messageStore, deliveryStore, resolver, evaluator, dedupFilter, queue, logger)

	consumer, err := kafka.NewEventConsumer(cfg.KafkaBrokers, cfg.KafkaGroupID, cfg.KafkaEventTopic, queue, logger)
	if err != nil {
		return nil, fmt.Errorf("create event consumer: %w", err)
	}

	pool := worker.NewPool(queue, plan, exec, cfg.WorkerCount, logger)
	sweeper := worker.NewSweepWorker(deliveryStore, digestService, queue, cfg.SweepInterval, cfg.StuckAfter, cfg.MaxAttempts, logger)

	explainService := explain.NewService(messageStore, deliveryStore)

	handler := router.New(router.Deps{
		Webhooks: handlers.NewWebhookHandler(queue, sessionWindow, cfg.WebhookSecret, logger),
		Dlq:      handlers.NewDlqHandler(dlqManager, logger),
		Explain:  handlers.NewExplainHandler(explainService, logger),
		Ws:       handlers.NewWsHandler(hub, logger),
		DB:       db,
		Redis:    rdb,
		Adapters: registry,
		Logger:   logger,
	})

	return &Server{
		cfg:    cfg,
		logger: logger,
		db:     db,
		rdb:    rdb,
		httpSrv: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		consumer: consumer,
		producer: statusProducer,
		pool:     pool,
		sweeper:  sweeper,
		hub:      hub,
	}, nil
}

// Run starts every component and blocks until ctx is cancelled, then shuts
// down in dependency order: HTTP and consumer first, workers drain last.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.cfg.HTTPAddr))
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		if err := s.consumer.Start(ctx); err != nil {
			errCh <- fmt.Errorf("event consumer: %w", err)
		}
	}()
	go s.pool.Start(ctx)
	go s.sweeper.Start(ctx)
	go s.hub.Heartbeat(30 * time.Second)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		s.logger.Error("component failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("http shutdown", zap.Error(err))
	}
	if err := s.consumer.Close(); err != nil {
		s.logger.Error("consumer close", zap.Error(err))
	}
	if s.producer != nil {
		if err := s.producer.Close(); err != nil {
			s.logger.Error("producer close", zap.Error(err))
		}
	}
	s.db.Close()
	if err := s.rdb.Close(); err != nil {
		s.logger.Error("redis close", zap.Error(err))
	}

	s.logger.Info("orchestrator stopped")
	return nil
}

// Package factory wires configuration, clients, caches, services and
// handlers, and owns their shutdown order.
package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"eventgate/internal/audit"
	"eventgate/internal/bucketing"
	"eventgate/internal/client"
	"eventgate/internal/config"
	"eventgate/internal/handler"
	"eventgate/internal/hashing"
	"eventgate/internal/mailer"
	redisrepo "eventgate/internal/repository/redis"
	"eventgate/internal/repository/scylla"
	"eventgate/internal/service"
	"eventgate/internal/store"
	"eventgate/internal/tls"
	"eventgate/internal/token"
	"eventgate/internal/util"
)

// Factory manages the lifecycle of all application dependencies.
type Factory struct {
	config     *config.Config
	tlsManager *tls.TLSManager

	// Clients
	redisClient   *client.RedisClient
	scyllaClient  *scylla.ScyllaClient
	kafkaProducer *client.KafkaProducer

	// Managers
	hasher           *hashing.Hasher
	bucketingManager *bucketing.Manager
	minter           token.Minter
	sender           mailer.Sender
	emitter          audit.Emitter

	// Caches and repositories
	otpCache        *redisrepo.OTPCache
	rateLimitCache  *redisrepo.RateLimitCache
	suspensionCache *redisrepo.SuspensionCache
	sessionCache    *redisrepo.PINSessionCache
	eventRepository scylla.EventRepository

	// Services
	rateLimiter       *service.RateLimiter
	suspensionTracker *service.SuspensionTracker
	otpService        *service.OTPService
	pinSessionService *service.PINSessionService

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory creates and initializes all application dependencies.
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	factory := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		tlsConfig := &tls.TLSConfig{
			EnableTLS:   cfg.Server.EnableTLS,
			AutoCert:    cfg.Server.AutoCert,
			Domain:      cfg.Server.Domain,
			CertFile:    cfg.Server.CertFile,
			KeyFile:     cfg.Server.KeyFile,
			AutoCertDir: cfg.Server.AutoCertDir,
			Email:       cfg.Server.Email,
			Environment: cfg.Environment,
		}
		factory.tlsManager = tls.NewTLSManager(tlsConfig)
	}

	if err := factory.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	if err := factory.initializeManagers(); err != nil {
		return nil, fmt.Errorf("failed to initialize managers: %w", err)
	}

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kafka_enabled", cfg.Kafka.Enabled),
	)

	return factory, nil
}

// initializeClients brings up the external clients concurrently and runs
// their health checks. Kafka is optional; Redis and Scylla are critical in
// production.
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		redisClient, err := client.NewRedisClient(f.config, util.Get())
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		if err := redisClient.HealthCheck(gctx); err != nil {
			return fmt.Errorf("redis health check: %w", err)
		}
		f.redisClient = redisClient
		return nil
	})

	g.Go(func() error {
		scyllaClient, err := scylla.NewScyllaClient(f.config, util.Get())
		if err != nil {
			return fmt.Errorf("scylla: %w", err)
		}
		if err := scyllaClient.HealthCheck(gctx); err != nil {
			return fmt.Errorf("scylla health check: %w", err)
		}
		f.scyllaClient = scyllaClient
		return nil
	})

	if f.config.Kafka.Enabled {
		g.Go(func() error {
			producer, err := client.NewKafkaProducer(f.config, util.Get())
			if err != nil {
				util.Warn("Kafka producer initialization failed - proceeding without Kafka", util.ErrorField(err))
				return nil
			}
			if err := producer.HealthCheck(gctx); err != nil {
				util.Warn("Kafka health check failed - proceeding without Kafka", util.ErrorField(err))
				_ = producer.Close()
				return nil
			}
			f.kafkaProducer = producer
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if f.config.IsProduction() {
			return err
		}
		util.Warn("Service initialization warning", util.ErrorField(err))
	}

	return nil
}

func (f *Factory) initializeManagers() error {
	f.hasher = hashing.NewHasher(f.config)
	f.bucketingManager = bucketing.NewManager(f.config)
	f.sender = mailer.NewSMTPSender(f.config)

	minter, err := token.NewJWTMinter(f.config)
	if err != nil {
		return fmt.Errorf("token minter: %w", err)
	}
	f.minter = minter

	if f.kafkaProducer != nil {
		f.emitter = audit.NewKafkaEmitter(f.kafkaProducer, f.config.Kafka.SecurityTopic)
	} else {
		f.emitter = audit.NopEmitter{}
	}

	return nil
}

// Store returns the ephemeral store backing the caches.
func (f *Factory) Store() store.Store {
	return f.redisClient
}

func (f *Factory) OTPCache() *redisrepo.OTPCache {
	if f.otpCache == nil {
		f.otpCache = redisrepo.NewOTPCache(f.Store())
	}
	return f.otpCache
}

func (f *Factory) RateLimitCache() *redisrepo.RateLimitCache {
	if f.rateLimitCache == nil {
		f.rateLimitCache = redisrepo.NewRateLimitCache(f.Store())
	}
	return f.rateLimitCache
}

func (f *Factory) SuspensionCache() *redisrepo.SuspensionCache {
	if f.suspensionCache == nil {
		f.suspensionCache = redisrepo.NewSuspensionCache(f.Store())
	}
	return f.suspensionCache
}

func (f *Factory) SessionCache() *redisrepo.PINSessionCache {
	if f.sessionCache == nil {
		f.sessionCache = redisrepo.NewPINSessionCache(f.Store())
	}
	return f.sessionCache
}

func (f *Factory) EventRepository() scylla.EventRepository {
	if f.eventRepository == nil {
		f.eventRepository = scylla.NewEventRepository(f.scyllaClient)
	}
	return f.eventRepository
}

func (f *Factory) RateLimiter() *service.RateLimiter {
	if f.rateLimiter == nil {
		f.rateLimiter = service.NewRateLimiter(f.RateLimitCache(), f.bucketingManager, f.config)
	}
	return f.rateLimiter
}

func (f *Factory) SuspensionTracker() *service.SuspensionTracker {
	if f.suspensionTracker == nil {
		f.suspensionTracker = service.NewSuspensionTracker(f.SuspensionCache(), f.bucketingManager, f.config)
	}
	return f.suspensionTracker
}

func (f *Factory) OTPService() *service.OTPService {
	if f.otpService == nil {
		f.otpService = service.NewOTPService(
			f.config,
			f.OTPCache(),
			f.RateLimiter(),
			f.SuspensionTracker(),
			f.hasher,
			f.sender,
			f.minter,
			f.emitter,
		)
	}
	return f.otpService
}

func (f *Factory) PINSessionService() *service.PINSessionService {
	if f.pinSessionService == nil {
		f.pinSessionService = service.NewPINSessionService(
			f.config,
			f.EventRepository(),
			f.SessionCache(),
			f.RateLimiter(),
			f.hasher,
			f.emitter,
		)
	}
	return f.pinSessionService
}

func (f *Factory) AuthHandler() *handler.AuthHandler {
	return handler.NewAuthHandler(f.OTPService(), util.Get())
}

func (f *Factory) EventHandler() *handler.EventHandler {
	return handler.NewEventHandler(f.PINSessionService(), util.Get())
}

// HealthCheck probes every critical dependency.
func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.redisClient != nil {
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	} else {
		healthErrors["redis"] = fmt.Errorf("redis client not initialized")
	}

	if f.scyllaClient != nil {
		if err := f.scyllaClient.HealthCheck(ctx); err != nil {
			healthErrors["scylla"] = err
		}
	} else {
		healthErrors["scylla"] = fmt.Errorf("scylla client not initialized")
	}

	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			healthErrors["kafka"] = err
		}
	}

	return healthErrors
}

// IsHealthy ignores Kafka, which the audit path treats as best effort.
func (f *Factory) IsHealthy(ctx context.Context) bool {
	healthErrors := f.HealthCheck(ctx)
	delete(healthErrors, "kafka")
	return len(healthErrors) == 0
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			}
		}

		util.Sync()
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.TLSManager {
	return f.tlsManager
}

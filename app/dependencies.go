package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/upb/tma-auth-gateway/cache"
	"github.com/upb/tma-auth-gateway/config"
	"github.com/upb/tma-auth-gateway/firebase"
	"github.com/upb/tma-auth-gateway/handlers"
	"github.com/upb/tma-auth-gateway/identity"
	"github.com/upb/tma-auth-gateway/initdata"
	"github.com/upb/tma-auth-gateway/internal/observability"
	"github.com/upb/tma-auth-gateway/middleware"
	"github.com/upb/tma-auth-gateway/repositories"
	"github.com/upb/tma-auth-gateway/repositories/postgres"
	"github.com/upb/tma-auth-gateway/services"
	"github.com/upb/tma-auth-gateway/services/audit"
)

const auditStopTimeout = 5 * time.Second

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config   *config.Config
	Logger   *zap.Logger
	Registry *prometheus.Registry
	Metrics  *observability.Metrics
	DB       *postgres.DB
	Redis    *redis.Client

	// Repository Factory
	RepoFactory *postgres.RepositoryFactory

	// Repositories
	Accounts  repositories.AccountRepository
	AuditLogs repositories.AuditRepository

	// Identity provider
	Firebase     *firebase.Client
	AccountStore identity.AccountStore
	SubjectCache *cache.SubjectCache
	TokenIssuer  identity.TokenIssuer
	Provisioner  *identity.Provisioner

	// Services
	AuthService  *services.TelegramAuthService
	AuditService *audit.AuditService

	// HTTP
	AuthHandler    *handlers.AuthHandler
	MeHandler      *handlers.MeHandler
	HealthHandler  *handlers.HealthHandler
	AuthMiddleware *middleware.AuthMiddleware
}

// NewDependencies creates and wires up all application dependencies.
// Any failure releases what was already opened.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"metrics", deps.initMetrics},
		{"database", deps.initDatabase},
		{"cache", deps.initCache},
		{"identity provider", deps.initIdentityProvider},
		{"audit", deps.initAudit},
		{"auth", deps.initAuth},
	}
	for _, step := range steps {
		if err := step.fn(ctx); err != nil {
			_ = deps.Close(ctx)
			return nil, fmt.Errorf("failed to initialize %s: %w", step.name, err)
		}
	}

	deps.initHealth()

	logger.Info("all dependencies initialized successfully",
		zap.String("backend", cfg.IdentityProvider.Backend),
		zap.Bool("database", deps.DB != nil),
		zap.Bool("subject_cache", deps.SubjectCache != nil),
		zap.Bool("audit", deps.AuditService != nil))
	return deps, nil
}

// initMetrics creates a private registry so tests can build several apps
func (d *Dependencies) initMetrics(context.Context) error {
	d.Registry = prometheus.NewRegistry()
	if !d.Config.Observability.MetricsEnabled {
		return nil
	}

	d.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := observability.NewMetrics(d.Registry)
	if err != nil {
		return err
	}
	d.Metrics = metrics
	return nil
}

// initDatabase connects to PostgreSQL when configured
func (d *Dependencies) initDatabase(ctx context.Context) error {
	if !d.Config.Database.Enabled() {
		d.Logger.Info("no database configured")
		return nil
	}

	factory, err := postgres.NewRepositoryFactory(ctx, d.Config.Database, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}

	d.RepoFactory = factory
	d.DB = factory.GetDB()

	repos := factory.NewRepositories()
	d.Accounts = repos.Accounts
	d.AuditLogs = repos.AuditLogs

	d.Logger.Info("repositories initialized")
	return nil
}

// initCache connects the subject cache when REDIS_ADDR is set
func (d *Dependencies) initCache(ctx context.Context) error {
	rc := d.Config.Redis
	if rc.Addr == "" {
		return nil
	}

	client, err := cache.NewRedisClient(ctx, rc.Addr, rc.Password, rc.DB)
	if err != nil {
		return err
	}
	d.Redis = client
	d.SubjectCache = cache.NewSubjectCache(client, rc.SubjectTTL)

	d.Logger.Info("subject cache connected", zap.String("addr", rc.Addr))
	return nil
}

// initIdentityProvider selects the account store and token issuer
func (d *Dependencies) initIdentityProvider(ctx context.Context) error {
	idp := d.Config.IdentityProvider

	switch idp.Backend {
	case config.BackendFirebase:
		client := firebase.NewClient(firebase.Config{
			ProjectID:            idp.Firebase.ProjectID,
			ClientEmail:          idp.Firebase.ClientEmail,
			PrivateKey:           idp.Firebase.PrivateKey,
			ServiceAccountBase64: idp.Firebase.ServiceAccountBase64,
			BaseURL:              idp.Firebase.BaseURL,
			TokenURL:             idp.Firebase.TokenURL,
			TokenTTL:             idp.Firebase.TokenTTL,
			Timeout:              idp.Timeout,
		}, d.Logger)
		// fail at startup rather than on the first login
		if err := client.Init(ctx); err != nil {
			return err
		}
		d.Firebase = client
		d.AccountStore = firebase.NewAccountStore(client)
		d.TokenIssuer = firebase.NewCustomTokenIssuer(client, idp.Firebase.TokenTTL)

	case config.BackendPostgres:
		if d.Accounts == nil {
			return errors.New("postgres backend requires a database")
		}
		d.AccountStore = d.Accounts
		if err := d.initJWTIssuer(); err != nil {
			return err
		}

	case config.BackendMemory:
		d.Logger.Warn("using in-memory account store, accounts are lost on restart")
		d.AccountStore = identity.NewMemoryStore()
		if err := d.initJWTIssuer(); err != nil {
			return err
		}

	default:
		return fmt.Errorf("unknown identity provider backend %q", idp.Backend)
	}

	return nil
}

func (d *Dependencies) initJWTIssuer() error {
	ic := d.Config.IdentityProvider.Issuer
	issuer, err := identity.NewJWTIssuer(ic.SigningKey, ic.Issuer, ic.Audience, ic.TokenTTL)
	if err != nil {
		return err
	}
	d.TokenIssuer = issuer
	return nil
}

// initAudit starts the audit workers when a database is available
func (d *Dependencies) initAudit(context.Context) error {
	ac := d.Config.Audit
	if !ac.Enabled || d.AuditLogs == nil {
		return nil
	}

	service := audit.NewAuditService(d.AuditLogs, d.Logger, audit.Config{
		BufferSize:  ac.BufferSize,
		WorkerCount: ac.WorkerCount,
		BatchSize:   ac.BatchSize,
	})
	if err := service.Start(); err != nil {
		return err
	}
	d.AuditService = service
	return nil
}

// initAuth wires the exchange service and its HTTP surface
func (d *Dependencies) initAuth(context.Context) error {
	verifier, err := initdata.NewVerifier(d.Config.Telegram.BotToken,
		initdata.WithMaxAge(d.Config.Telegram.MaxAuthAge))
	if err != nil {
		return err
	}

	provisionerOpts := []identity.ProvisionerOption{
		identity.WithMaxRetries(d.Config.IdentityProvider.MaxRetries),
		identity.WithCallTimeout(d.Config.IdentityProvider.Timeout),
	}
	if d.SubjectCache != nil {
		provisionerOpts = append(provisionerOpts, identity.WithSubjectCache(d.SubjectCache))
	}
	d.Provisioner = identity.NewProvisioner(d.AccountStore, d.Logger, provisionerOpts...)

	serviceOpts := []services.AuthServiceOption{
		services.WithUpstreamTimeout(d.Config.IdentityProvider.Timeout),
		services.WithMetrics(d.Metrics),
	}
	if d.AuditService != nil {
		serviceOpts = append(serviceOpts, services.WithAudit(d.AuditService))
	}
	d.AuthService = services.NewTelegramAuthService(verifier, d.Provisioner, d.TokenIssuer, d.Logger, serviceOpts...)

	d.AuthHandler = handlers.NewAuthHandler(d.AuthService, d.Logger)
	d.MeHandler = handlers.NewMeHandler(d.Logger)
	d.AuthMiddleware = middleware.NewAuthMiddleware(d.AuthService, d.Logger)

	d.Logger.Info("auth service initialized",
		zap.Duration("max_auth_age", verifier.MaxAge()))
	return nil
}

func (d *Dependencies) initHealth() {
	d.HealthHandler = handlers.NewHealthHandler(d.Logger)

	if d.DB != nil {
		d.HealthHandler.AddCheck("database", d.DB.HealthCheck)
	}
	if d.SubjectCache != nil {
		d.HealthHandler.AddCheck("cache", d.SubjectCache.Ping)
	}
	if d.Firebase != nil {
		client := d.Firebase
		d.HealthHandler.AddCheck("firebase", func(context.Context) error {
			if state := client.State(); state != firebase.StateReady {
				return fmt.Errorf("firebase client is %s", state)
			}
			return nil
		})
	}
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	// Drain audit events before the database goes away
	if d.AuditService != nil {
		if err := d.AuditService.Stop(auditStopTimeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop audit service: %w", err))
		}
	}

	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		}
	}

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	_ = d.Logger.Sync()

	return errors.Join(errs...)
}

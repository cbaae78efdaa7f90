package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinicdesk/internal/config"
	"github.com/clinicdesk/clinicdesk/internal/domain/assistant"
	"github.com/clinicdesk/clinicdesk/internal/domain/billing"
	"github.com/clinicdesk/clinicdesk/internal/domain/consent"
	"github.com/clinicdesk/clinicdesk/internal/domain/crm"
	"github.com/clinicdesk/clinicdesk/internal/domain/identity"
	"github.com/clinicdesk/clinicdesk/internal/domain/messaging"
	"github.com/clinicdesk/clinicdesk/internal/domain/scheduling"
	"github.com/clinicdesk/clinicdesk/internal/domain/subscription"
	"github.com/clinicdesk/clinicdesk/internal/platform/auth"
	"github.com/clinicdesk/clinicdesk/internal/platform/blobstore"
	"github.com/clinicdesk/clinicdesk/internal/platform/db"
	"github.com/clinicdesk/clinicdesk/internal/platform/events"
	"github.com/clinicdesk/clinicdesk/internal/platform/jobs"
	"github.com/clinicdesk/clinicdesk/internal/platform/llm"
	"github.com/clinicdesk/clinicdesk/internal/platform/middleware"
	"github.com/clinicdesk/clinicdesk/internal/platform/notification"
	"github.com/clinicdesk/clinicdesk/internal/platform/websocket"
)

const version = "1.0.0"

// app holds the wired services shared by serve and jobs run.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	pool   *pgxpool.Pool
	pub    events.Publisher
	hub    *websocket.Hub
	jobs   *jobs.Scheduler
	issuer *auth.Issuer

	identity     *identity.Service
	crm          *crm.Service
	scheduling   *scheduling.Service
	billing      *billing.Service
	consent      *consent.Service
	subscription *subscription.Service
	messaging    *messaging.Service
	assistant    *assistant.Service
}

func issuerFor(cfg *config.Config) *auth.Issuer {
	return auth.NewIssuer([]byte(cfg.JWTSecret), cfg.JWTTTL)
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	logger.Info().Msg("connected to database")

	a := &app{
		cfg:    cfg,
		logger: logger,
		pool:   pool,
		hub:    websocket.NewHub(logger),
		jobs:   jobs.NewScheduler(loc, logger.With().Str("component", "jobs").Logger()),
		issuer: issuerFor(cfg),
	}

	if cfg.KafkaEnabled() {
		a.pub = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		logger.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("publishing domain events to kafka")
	} else {
		a.pub = events.Noop{}
	}

	var blobs blobstore.Store
	if cfg.S3Enabled() {
		s3, err := blobstore.NewS3Store(ctx, blobstore.S3Config{Bucket: cfg.S3Bucket, Region: cfg.S3Region, Endpoint: cfg.S3Endpoint})
		if err != nil {
			pool.Close()
			return nil, err
		}
		blobs = s3
	} else {
		logger.Warn().Msg("S3_BUCKET not set, blobs are kept in memory")
		blobs = blobstore.NewMemoryStore(cfg.PublicBaseURL + "/files")
	}

	var sender notification.EmailSender
	if cfg.SMTPEnabled() {
		sender = notification.NewSMTPSender(notification.SMTPConfig{
			Host:      cfg.SMTPHost,
			Port:      cfg.SMTPPort,
			Username:  cfg.SMTPUser,
			Password:  cfg.SMTPPassword,
			FromName:  cfg.SMTPFromName,
			FromEmail: cfg.SMTPFromEmail,
		})
	} else {
		sender = notification.LogSender{Logger: logger}
	}
	mailer := notification.NewMailer(sender, notification.NewTemplateEngine(), logger)

	tx := db.NewTxRunner(pool)

	a.identity = identity.NewService(identity.NewRepoPG(pool), tx, a.issuer, mailer, cfg.DefaultTimezone, logger)
	a.crm = crm.NewService(crm.NewClientRepoPG(pool), crm.NewTagRepoPG(pool), tx, a.identity, a.pub, logger)

	a.scheduling = scheduling.NewService(scheduling.Repositories{
		Professionals: scheduling.NewProfessionalRepoPG(pool),
		Consultations: scheduling.NewConsultationRepoPG(pool),
		Appointments:  scheduling.NewAppointmentRepoPG(pool),
		Activities:    scheduling.NewActivityRepoPG(pool),
		Participants:  scheduling.NewParticipantRepoPG(pool),
	}, tx, a.identity, a.crm, mailer, a.pub, logger)

	a.billing = billing.NewService(billing.NewInvoiceRepoPG(pool), billing.NewExpenseRepoPG(pool), tx, a.identity, a.crm, blobs, mailer, a.pub, logger)

	signingKey := cfg.ConsentSigningKey
	if signingKey == "" {
		// development only, Validate rejects this elsewhere
		signingKey = cfg.JWTSecret
	}
	a.consent = consent.NewService(consent.Repositories{
		Forms:    consent.NewFormRepoPG(pool),
		Tokens:   consent.NewTokenRepoPG(pool),
		Consents: consent.NewConsentRepoPG(pool),
	}, tx, a.identity, a.crm, consent.NewLinkSigner([]byte(signingKey)), blobs, mailer, a.pub,
		consent.Config{PublicBaseURL: cfg.PublicBaseURL, TokenTTL: cfg.ConsentTokenTTL}, logger)

	var gateway subscription.Gateway
	if cfg.StripeEnabled() {
		gateway = subscription.NewStripeGateway(cfg.StripeSecretKey, cfg.StripeWebhookSecret)
	} else {
		logger.Warn().Msg("STRIPE_SECRET_KEY not set, subscription billing disabled")
	}
	a.subscription = subscription.NewService(subscription.NewRepoPG(pool), gateway, a.identity, a.pub, cfg.StripePriceID,
		logger.With().Str("component", "subscription").Logger())

	a.messaging = messaging.NewService(messaging.NewProjectRepoPG(pool), messaging.NewMessageRepoPG(pool),
		messaging.NewGraphClient(cfg.WhatsAppGraphURL, cfg.WhatsAppAPIVersion), a.identity, a.crm, a.hub, a.pub,
		messaging.Config{PublicBaseURL: cfg.PublicBaseURL, VerifyToken: cfg.WhatsAppVerifyToken},
		logger.With().Str("component", "whatsapp").Logger())
	a.scheduling.SetWhatsApp(a.messaging)

	var model llm.Client = llm.Unavailable{}
	if cfg.LLMEnabled() {
		model = llm.NewOpenAIClient(cfg.LLMAPIKey, cfg.LLMBaseURL, cfg.LLMModel)
	}
	a.assistant = assistant.NewService(model, a.identity, cfg.AssistantTimeout, logger)
	a.crm.SetColumnMapper(a.assistant)

	if err := a.registerJobs(loc); err != nil {
		a.close(ctx)
		return nil, err
	}
	return a, nil
}

// close releases the scheduler, the event writer and the pool, in that order.
func (a *app) close(ctx context.Context) {
	a.jobs.Stop(ctx)
	if err := a.pub.Close(); err != nil {
		a.logger.Error().Err(err).Msg("close event publisher")
	}
	a.pool.Close()
}

func (a *app) routes() *echo.Echo {
	cfg := a.cfg

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(a.logger)

	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", subscription.IdempotencyHeader, db.OrganizationHeader},
	}))
	e.Use(middleware.BodyLimit("1M", "10M", "/api/v1/clients/import", "/api/v1/expenses", "/api/v1/consent/"))
	e.Use(middleware.SecurityHeaders())

	e.GET("/health", db.LivenessHandler(version))
	e.GET("/health/db", db.HealthHandler(a.pool))

	rl := middleware.DefaultRateLimitConfig()
	rl.RequestsPerSecond = cfg.RateLimitRPS
	rl.BurstSize = cfg.RateLimitBurst

	// provider callbacks carry their own signatures
	subscriptionHandler := subscription.NewHandler(a.subscription)
	messagingHandler := messaging.NewHandler(a.messaging, cfg.WhatsAppAppSecret)
	hooks := e.Group("")
	subscriptionHandler.RegisterWebhookRoutes(hooks)
	messagingHandler.RegisterWebhookRoutes(hooks)

	public := e.Group("/api/v1", middleware.RateLimit(rl))
	identityHandler := identity.NewHandler(a.identity)
	identityHandler.RegisterPublicRoutes(public)
	consentHandler := consent.NewHandler(a.consent)
	consentHandler.RegisterPublicRoutes(public)

	authMW := auth.JWTMiddleware(a.issuer)
	if cfg.IsDev() {
		authMW = auth.DevAuthMiddleware(a.issuer)
	}
	api := e.Group("/api/v1", authMW, db.OrganizationMiddleware(a.pool, cfg.IsDev()), middleware.RateLimit(rl))

	identityHandler.RegisterRoutes(api)
	crm.NewHandler(a.crm).RegisterRoutes(api)
	scheduling.NewHandler(a.scheduling).RegisterRoutes(api)
	billing.NewHandler(a.billing).RegisterRoutes(api)
	consentHandler.RegisterRoutes(api)
	subscriptionHandler.RegisterRoutes(api)
	messagingHandler.RegisterRoutes(api)
	assistant.NewHandler(a.assistant).RegisterRoutes(api.Group("", middleware.RequestTimeout(cfg.AssistantTimeout+5*time.Second)))

	// browsers cannot set headers on the upgrade request
	ws := e.Group("/api/v1", auth.WebSocketToken(), authMW, db.OrganizationMiddleware(a.pool, cfg.IsDev()), middleware.RateLimit(rl))
	websocket.NewHandler(a.hub, cfg.CORSOrigins).RegisterRoutes(ws)

	return e
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(os.Stdout, cfg.IsDev())
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}

	a, err := newApp(context.Background(), cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("startup failed")
		return err
	}

	e := a.routes()
	a.jobs.Start()

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Bool("tls", cfg.TLSEnabled).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-quit:
	case runErr = <-errCh:
		logger.Error().Err(runErr).Msg("server error")
	}

	logger.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	a.close(ctx)
	logger.Info().Msg("server stopped")
	return runErr
}

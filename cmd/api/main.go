package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/pprof"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/backend-mealkit/internal/audit"
	"github.com/noah-isme/backend-mealkit/internal/common"
	"github.com/noah-isme/backend-mealkit/internal/config"
	"github.com/noah-isme/backend-mealkit/internal/discount"
	"github.com/noah-isme/backend-mealkit/internal/health"
	"github.com/noah-isme/backend-mealkit/internal/lock"
	"github.com/noah-isme/backend-mealkit/internal/obs"
	"github.com/noah-isme/backend-mealkit/internal/quote"
	"github.com/noah-isme/backend-mealkit/internal/ratelimit"
	"github.com/noah-isme/backend-mealkit/internal/repo"
	"github.com/noah-isme/backend-mealkit/internal/resilience"
	"github.com/noah-isme/backend-mealkit/internal/security"
	"github.com/noah-isme/backend-mealkit/internal/subscription"
)

const metricsNamespace = "mealkit"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.Obs.LogFormat, cfg.Obs.LogLevel).With().Str("env", cfg.AppEnv).Logger()

	obs.MustRegisterDomainMetrics(metricsNamespace, nil)
	resilience.MustRegisterMetrics(metricsNamespace, nil)

	tracingEnabled := cfg.Obs.TracingEnabled
	if tracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   cfg.Obs.ServiceName,
			Endpoint:      cfg.Obs.OTLPEndpoint,
			Exporter:      cfg.Obs.TracingExporter,
			SamplingRatio: cfg.Obs.SamplingRatio,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = cfg.Obs.ServiceName

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if cfg.Obs.MetricsEnabled {
		if err := redisotel.InstrumentMetrics(redisClient); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}

	store := repo.New(pool)
	pricingCache := quote.NewCache(redisClient, cfg.PricingCacheTTL)

	quoteService, err := quote.NewService(quote.ServiceConfig{
		Store: store,
		Cache: pricingCache,
		RulesBreaker: resilience.NewBreaker(resilience.BreakerConfig{
			Target:       "discount_rules",
			MinRequests:  5,
			FailureRatio: 0.5,
			OpenFor:      cfg.RulesBreakerOpenFor,
			Logger:       obs.Component(logger, "breaker"),
		}),
		Logger: logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise quote service")
	}
	quoteHandler := quote.NewHandler(quote.HandlerConfig{
		Service:  quoteService,
		Currency: cfg.CurrencyCode,
		Logger:   logger,
	})

	subscriptionHandler := &subscription.Handler{
		Svc: &subscription.Service{
			Store:  store,
			Quotes: quoteService,
			Locker: lock.Locker{
				R:            redisClient,
				RetryBackoff: cfg.LockRetryBackoff,
				Wait:         cfg.SubscriptionLockWait,
			},
			LockTTL:  cfg.LockTTL,
			Currency: cfg.CurrencyCode,
			Logger:   obs.Component(logger, "subscription"),
		},
		Logger: logger,
	}
	discountHandler := &discount.Handler{
		Store:  store,
		Cache:  pricingCache,
		Logger: obs.Component(logger, "discount"),
	}

	auditService := &audit.Service{Store: store, Enabled: cfg.AuditEnabled}
	auditRecorder := audit.HTTPRecorder{
		Service: auditService,
		OnError: func(err error) {
			logger.Warn().Err(err).Msg("audit record failed")
		},
	}
	auditHandler := audit.Handler{Store: store}

	idem := common.Idem{R: redisClient, TTL: cfg.IdempotencyTTL}
	quoteLimit := ratelimit.Handler{
		Limiter: ratelimit.Limiter{Client: redisClient, Prefix: "ratelimit:"},
		Config: ratelimit.Config{
			Key:    ratelimit.KeyByClientIP("quote"),
			Window: cfg.QuoteRateLimitWindow,
			Max:    cfg.QuoteRateLimitMax,
		},
		OnError: func(err error) {
			logger.Warn().Err(err).Msg("quote rate limiter unavailable")
		},
	}
	adminLimit, err := security.AdminRateLimit(redisClient, cfg.AdminRateLimit)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise admin rate limit")
	}
	adminAuth := security.AdminToken{Token: cfg.AdminAPIToken}

	var httpMetrics *obs.HTTPMetrics
	if cfg.Obs.MetricsEnabled {
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, obs.ParseBucketsCSV(cfg.Obs.MetricsBuckets), nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.Headers{
		Enable:     cfg.SecurityHeadersEnabled,
		EnableHSTS: cfg.EnableHSTS,
		HSTSMaxAge: 31536000,
		NoStore:    true,
	}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins(cfg),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Admin-Token", common.IdempotencyHeader},
		MaxAge:         300,
	}))

	if cfg.Obs.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if cfg.Obs.PprofEnabled {
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), cfg.Obs.PprofUser, cfg.Obs.PprofPassword))
	}

	healthHandler := health.Handler{
		Checker:      readinessChecker{db: pool, redis: redisClient},
		DBTimeout:    500 * time.Millisecond,
		RedisTimeout: 300 * time.Millisecond,
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(security.BodyLimit{Max: cfg.BodyLimitBytes, JSONOnly: true}.Middleware)

		v.With(quoteLimit.Middleware).Post("/pricing/quote", quoteHandler.Quote)

		v.Route("/admin", func(admin chi.Router) {
			admin.Use(adminAuth.Middleware)
			admin.Use(adminLimit)
			admin.Post("/pricing/preview", quoteHandler.AdminPreview)
			admin.With(idem.Middleware, auditRecorder.Middleware(audit.HTTPConfig{ResourceType: "subscription"})).
				Post("/subscriptions", subscriptionHandler.Create)
			admin.Get("/audit-logs", auditHandler.List)

			admin.Route("/discount-rules", func(d chi.Router) {
				ruleAudit := func(action string) func(http.Handler) http.Handler {
					return auditRecorder.Middleware(audit.HTTPConfig{
						Action:          action,
						ResourceType:    "discount_rule",
						ResourceIDParam: "id",
					})
				}
				d.Get("/", discountHandler.List)
				d.With(idem.Middleware, ruleAudit("discount_rule.create")).Post("/", discountHandler.Create)
				d.With(ruleAudit("discount_rule.update")).Put("/{id}", discountHandler.Update)
				d.With(ruleAudit("discount_rule.deactivate")).Delete("/{id}", discountHandler.Deactivate)
			})
		})
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
		return
	case <-sigCtx.Done():
	}

	health.SetReady(false)
	logger.Info().Msg("shutdown requested")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown")
	}
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

type readinessChecker struct {
	db    *pgxpool.Pool
	redis *redis.Client
}

func (c readinessChecker) PingDB(ctx context.Context, timeout time.Duration) error {
	if c.db == nil {
		return errors.New("db not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.db.Ping(ctx)
}

func (c readinessChecker) PingRedis(ctx context.Context, timeout time.Duration) error {
	if c.redis == nil {
		return errors.New("redis not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.redis.Ping(ctx).Err()
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/allocs", pprof.Handler("allocs"))
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/heap", pprof.Handler("heap"))
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}

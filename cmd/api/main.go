package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	limiterstdlib "github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/backend-market/internal/admin"
	"github.com/noah-isme/backend-market/internal/cart"
	"github.com/noah-isme/backend-market/internal/catalog"
	"github.com/noah-isme/backend-market/internal/checkout"
	"github.com/noah-isme/backend-market/internal/common"
	"github.com/noah-isme/backend-market/internal/config"
	"github.com/noah-isme/backend-market/internal/events"
	"github.com/noah-isme/backend-market/internal/health"
	"github.com/noah-isme/backend-market/internal/obs"
	"github.com/noah-isme/backend-market/internal/order"
	"github.com/noah-isme/backend-market/internal/payment"
	"github.com/noah-isme/backend-market/internal/ratelimit"
	"github.com/noah-isme/backend-market/internal/repo"
	"github.com/noah-isme/backend-market/internal/resilience"
	"github.com/noah-isme/backend-market/internal/session"
	"github.com/noah-isme/backend-market/internal/tax"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "market")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		sampling := envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0)
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "market-api",
			Endpoint:      envOrDefault("OBS_OTLP_ENDPOINT", ""),
			SamplingRatio: sampling,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				ctx := context.Background()
				if err := shutdown(ctx); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := repo.NewPool(ctx, cfg.DatabaseURL, "market-api")
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}

	if envBool("DB_MIGRATE_ON_START", true) {
		if err := repo.Migrate(cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("run migrations")
		}
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metricsEnabled {
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

	orderStore := &repo.OrderStore{Pool: pool}
	catalogStore := &repo.CatalogStore{Pool: pool}
	eventStore := &repo.EventStore{Pool: pool}

	cacheTTL := envDurationMillis("CATALOG_CACHE_TTL_MS", 60_000)
	purchasables := catalog.CachedSource{
		Source: catalogStore,
		Cache:  catalog.NewCache(redisClient, cacheTTL),
	}

	calc := &order.Calculator{
		Catalog:   catalogStore,
		Usage:     catalogStore,
		Prices:    purchasables,
		TaxSource: tax.AddressSource(cfg.TaxAddressSource),
	}

	cartSvc := &cart.Service{
		Sessions:     &session.Redis{R: redisClient, TTL: cfg.SessionTTL},
		Orders:       orderStore,
		Currency:     cfg.Currency,
		PurgeEnabled: cfg.PurgeEnabled,
		PurgeAfter:   cfg.PurgeAfter,
	}

	bus := &events.Bus{Store: eventStore}

	gateways := payment.Registry{}
	gateways.Register(payment.Dummy{})
	if cfg.GatewayBaseURL != "" {
		gateways.Register(&payment.HTTPGateway{
			Name:      "card",
			BaseURL:   cfg.GatewayBaseURL,
			SecretKey: cfg.GatewaySecretKey,
			Client: resilience.HTTPClient{
				Client: &http.Client{
					Timeout:   10 * time.Second,
					Transport: otelhttp.NewTransport(http.DefaultTransport),
				},
				Breaker:     resilience.NewBreaker(10, 0.5, 30*time.Second).WithTarget("payment-gateway").WithLogger(logger),
				BaseBackoff: 200 * time.Millisecond,
				MaxAttempts: 3,
				Jitter:      0.2,
				Timeout:     10 * time.Second,
			},
		})
	}

	checkoutSvc := &checkout.Service{
		Orders:   orderStore,
		Calc:     calc,
		Gateways: gateways,
		Events:   bus,
	}

	cartHandler := &cart.Handler{Svc: cartSvc, Calc: calc, Catalog: purchasables}
	checkoutHandler := &checkout.Handler{Svc: checkoutSvc, Carts: cartSvc}
	adminHandler := &admin.Handler{Store: catalogStore}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		buckets := obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", ""))
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, buckets, nil)
	}

	cartLimiter := ratelimit.Handler{
		Limiter: ratelimit.Limiter{Client: redisClient, Prefix: "market:ratelimit:"},
		Config: ratelimit.Config{
			Key:    rateLimitKey,
			Window: time.Minute,
			Max:    envInt("RATELIMIT_CART_PER_MINUTE", 120),
		},
		OnError: func(err error) { logger.Error().Err(err).Msg("rate limit") },
	}

	limiterStore, err := limiterredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{Prefix: "market:adminlimit"})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise admin limiter store")
	}
	adminLimiter := limiterstdlib.NewMiddleware(limiter.New(limiterStore, limiter.Rate{
		Period: time.Minute,
		Limit:  int64(envInt("RATELIMIT_ADMIN_PER_MINUTE", 60)),
	}))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if metricsEnabled && httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(identityMiddleware)
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "X-Customer-Id", "X-Customer-Email"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	pprofEnabled := envBool("OBS_ENABLE_PPROF", true)
	if pprofEnabled {
		user := envOrDefault("SECURE_PPROF_BASIC_AUTH_USER", "")
		pass := envOrDefault("SECURE_PPROF_BASIC_AUTH_PASS", "")
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), user, pass))
	}

	healthHandler := health.Handler{
		Checker:      readinessChecker{db: pool, redis: redisClient},
		DBTimeout:    envDurationMillis("HEALTH_READY_DB_TIMEOUT_MS", 500),
		RedisTimeout: envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300),
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Route("/cart", func(c chi.Router) {
			c.Get("/", cartHandler.Get)
			c.Group(func(g chi.Router) {
				g.Use(cartLimiter.Middleware)
				g.Post("/items", cartHandler.AddItem)
				g.Patch("/items/{lineID}", cartHandler.UpdateItem)
				g.Delete("/items/{lineID}", cartHandler.RemoveItem)
				g.Put("/email", cartHandler.SetEmail)
				g.Put("/coupon", cartHandler.ApplyCoupon)
				g.Delete("/coupon", cartHandler.RemoveCoupon)
				g.Put("/addresses", cartHandler.SetAddresses)
				g.Put("/shipping-method", cartHandler.SetShippingMethod)
				g.Post("/forget", cartHandler.Forget)
				g.Post("/restore", cartHandler.Restore)
			})
		})

		v.Route("/checkout", func(c chi.Router) {
			c.Use(cartLimiter.Middleware)
			c.Put("/gateway", checkoutHandler.SetGateway)
			c.Post("/pay", checkoutHandler.Pay)
			c.Post("/complete", checkoutHandler.Complete)
			c.Post("/cancel", checkoutHandler.Cancel)
		})

		v.Route("/admin", func(a chi.Router) {
			a.Use(adminLimiter.Handler)
			a.Use(requireAdminToken(envOrDefault("ADMIN_API_TOKEN", "")))
			a.Get("/discounts", adminHandler.ListDiscounts)
			a.Post("/discounts", adminHandler.SaveDiscount)
			a.Delete("/discounts/{id}", adminHandler.DeleteDiscount)
			a.Get("/tax-zones", adminHandler.ListZones)
			a.Post("/tax-zones", adminHandler.SaveZone)
			a.Get("/tax-rates", adminHandler.ListRates)
			a.Post("/tax-rates", adminHandler.SaveRate)
			a.Get("/shipping-methods", adminHandler.ListMethods)
			a.Post("/shipping-methods", adminHandler.SaveMethod)
		})
	})

	srv := &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: r,
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-stopCtx.Done()
		health.SetReady(false)
		drainCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(drainCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown")
		}
	}()

	health.SetReady(true)
	logger.Info().Str("addr", srv.Addr).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
	logger.Info().Msg("server stopped")
}

// identityMiddleware lifts the trusted identity headers set by the edge
// proxy into the request context.
func identityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ident := common.Identity{
			CustomerID: strings.TrimSpace(r.Header.Get("X-Customer-Id")),
			Email:      strings.TrimSpace(r.Header.Get("X-Customer-Email")),
			IP:         r.RemoteAddr,
			UserAgent:  r.UserAgent(),
		}
		next.ServeHTTP(w, r.WithContext(common.WithIdentity(r.Context(), ident)))
	})
}

func rateLimitKey(r *http.Request) string {
	if c, err := r.Cookie(cart.SessionCookie); err == nil && c.Value != "" {
		return "session:" + c.Value
	}
	return "ip:" + r.RemoteAddr
}

func requireAdminToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				common.JSONError(w, http.StatusForbidden, "forbidden", "ADMIN_DISABLED", "admin API is not configured", nil)
				return
			}
			presented := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				common.JSONError(w, http.StatusForbidden, "forbidden", "FORBIDDEN", "insufficient permissions", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
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

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDurationMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/allocs", pprof.Handler("allocs"))
	mux.Handle("/block", pprof.Handler("block"))
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/heap", pprof.Handler("heap"))
	mux.Handle("/mutex", pprof.Handler("mutex"))
	mux.Handle("/threadcreate", pprof.Handler("threadcreate"))
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

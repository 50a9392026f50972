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
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/noah-isme/kopi-pos/internal/analytics"
	"github.com/noah-isme/kopi-pos/internal/app"
	"github.com/noah-isme/kopi-pos/internal/audit"
	"github.com/noah-isme/kopi-pos/internal/auth"
	"github.com/noah-isme/kopi-pos/internal/common"
	"github.com/noah-isme/kopi-pos/internal/config"
	"github.com/noah-isme/kopi-pos/internal/events"
	"github.com/noah-isme/kopi-pos/internal/health"
	"github.com/noah-isme/kopi-pos/internal/jobs"
	"github.com/noah-isme/kopi-pos/internal/notify"
	"github.com/noah-isme/kopi-pos/internal/obs"
	"github.com/noah-isme/kopi-pos/internal/order"
	"github.com/noah-isme/kopi-pos/internal/payment"
	"github.com/noah-isme/kopi-pos/internal/queue"
	"github.com/noah-isme/kopi-pos/internal/ratelimit"
	"github.com/noah-isme/kopi-pos/internal/security"
	"github.com/noah-isme/kopi-pos/internal/store"
	"github.com/noah-isme/kopi-pos/internal/voucher"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.Obs.LogFormat, cfg.Obs.LogLevel).With().Str("env", cfg.AppEnv).Logger()

	obs.MustRegisterDomainMetrics("kopi_pos", nil)

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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	initCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool := app.MustInitDatabase(initCtx, cfg.DatabaseURL, "kopi-pos-api", logger)
	defer pool.Close()

	redisClient := app.MustInitRedis(initCtx, cfg.RedisURL, cfg.Obs.MetricsEnabled, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	st := store.NewStore(pool)
	queries := store.New(pool)

	verifier, err := auth.NewVerifier(auth.Config{
		Secret:   cfg.JWTSecret,
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise session verifier")
	}
	authMiddleware := auth.Middleware{Verifier: verifier, AccessCookie: cfg.AccessCookie}

	taskQueue := queue.Enqueuer{R: redisClient, Prefix: cfg.Queue.Prefix, DedupTTL: cfg.Queue.DedupTTL, MaxAttempts: cfg.Queue.MaxAttempts}
	notifiers := []events.Notifier{
		&notify.WhatsAppNotifier{Queue: taskQueue, MaxAttempts: cfg.Queue.MaxAttempts, Logger: logger},
	}
	if len(cfg.KafkaBrokers) > 0 {
		publisher := notify.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		defer func() {
			if err := publisher.Close(); err != nil {
				logger.Error().Err(err).Msg("close kafka writer")
			}
		}()
		notifiers = append(notifiers, publisher)
	}
	bus := &events.Bus{Store: queries, Notifiers: notifiers}

	asynqOpt, err := app.AsynqRedisOpt(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse asynq redis options")
	}
	asynqClient := asynq.NewClient(asynqOpt)
	defer func() {
		if err := asynqClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close asynq client")
		}
	}()

	voucherSvc := &voucher.Service{Store: queries, Location: cfg.Location, Logger: logger}
	voucherHandler := &voucher.Handler{Svc: voucherSvc, Store: queries, Logger: logger}

	snap := &payment.Snap{
		BaseURL:   cfg.MidtransBaseURL,
		ServerKey: cfg.MidtransServerKey,
		HTTP:      app.NewOutboundClient(cfg.Outbound, "midtrans", logger),
	}

	orderSvc := &order.Service{
		Store:      st.Orders(),
		Vouchers:   voucherSvc,
		Gateway:    snap,
		Events:     bus,
		Expiry:     &jobs.Scheduler{Client: asynqClient, Queue: cfg.Jobs.Queue, MaxRetry: cfg.Jobs.MaxRetry},
		Policy:     order.ParseConsumePolicy(cfg.VoucherConsumeOn),
		PaymentTTL: cfg.PaymentTTL,
		NewID:      uuid.NewString,
		Logger:     logger,
	}
	orderHandler := &order.Handler{Svc: orderSvc, Logger: logger}
	webhookHandler := order.WebhookHandler{
		Svc:       orderSvc,
		Verifier:  payment.Verifier{ServerKey: cfg.MidtransServerKey},
		Replay:    redisClient,
		ReplayTTL: cfg.WebhookReplayTTL,
		MaxBody:   cfg.WebhookMaxBody,
		Logger:    logger,
	}

	analyticsSvc := &analytics.Service{Q: queries, R: redisClient, TTL: cfg.Analytics.CacheTTL, DefaultRange: cfg.Analytics.DefaultRange}
	analyticsHandler := &analytics.Handler{Svc: analyticsSvc}

	queueAdmin := &queue.AdminHandler{Store: queries, Queue: taskQueue, Logger: logger}

	auditRecorder := audit.HTTPRecorder{
		Service: audit.Service{Store: queries, Enabled: cfg.AuditEnabled, SamplingRate: cfg.AuditSampleRate},
		OnError: func(err error) { logger.Warn().Err(err).Msg("record audit entry") },
	}
	auditHandler := audit.Handler{Store: queries}

	idem := common.Idem{R: redisClient, TTL: cfg.IdempotencyTTL}

	voucherLimit := ratelimit.Handler{
		Limiter: ratelimit.Limiter{Client: redisClient, Prefix: "rl:voucher:"},
		Config: ratelimit.Config{
			Key:    ratelimit.ByClientIP("validate:"),
			Window: cfg.Limits.VoucherWindow,
			Max:    cfg.Limits.VoucherLimit,
		},
		OnError: func(err error) { logger.Warn().Err(err).Msg("voucher rate limiter unavailable") },
	}

	limiterStore, err := app.NewLimiterStore(redisClient, "rl:online")
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise limiter store")
	}
	onlineLimit, err := ratelimit.FixedWindow(limiterStore, cfg.Limits.OnlineOrderRate, ratelimit.ByClientIP("online:"), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise online order limiter")
	}

	var httpMetrics *obs.HTTPMetrics
	if cfg.Obs.MetricsEnabled {
		httpMetrics = obs.NewHTTPMetrics("kopi_pos", obs.ParseBucketsCSV(cfg.Obs.MetricsBuckets), nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-CSRF-Token"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(security.Headers{Enable: cfg.Obs.SecurityHeaders, EnableHSTS: cfg.Obs.EnableHSTS}.Middleware)

	if cfg.Obs.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if cfg.Obs.PprofEnabled {
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), cfg.Obs.PprofUser, cfg.Obs.PprofPass))
	}

	healthHandler := health.Handler{
		Checker:      health.Probes{DB: pool, Redis: redisClient},
		DBTimeout:    500 * time.Millisecond,
		RedisTimeout: 300 * time.Millisecond,
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		// The gateway callback carries its own body limit and signature check.
		v.Post("/payments/notification", webhookHandler.Handle)

		v.Group(func(api chi.Router) {
			api.Use(security.BodyLimit{Max: cfg.RequestMaxBody}.Middleware)
			api.Use(authMiddleware.Authenticate)
			api.Use(security.CSRF{SessionCookie: cfg.AccessCookie}.Middleware)

			api.Get("/branches", listBranches(queries, logger))
			api.With(voucherLimit.Middleware).Post("/vouchers/validate", voucherHandler.Validate)
			api.With(onlineLimit, idem.Middleware).Post("/orders/online", orderHandler.CreateOnline)
			api.Get("/orders/{id}", orderHandler.Get)

			api.Group(func(staff chi.Router) {
				staff.Use(authMiddleware.RequireAuth)
				staff.With(idem.Middleware, auditRecorder.Middleware(audit.HTTPConfig{Action: "order.create_cash", ResourceType: "order"})).
					Post("/orders/cash", orderHandler.CreateCash)
				staff.With(auditRecorder.Middleware(audit.HTTPConfig{Action: "order.advance", ResourceType: "order", ResourceIDParam: "id"})).
					Patch("/orders/{id}/advance", orderHandler.Advance)
				staff.Get("/kitchen/orders", orderHandler.Kitchen)
				staff.Get("/analytics/revenue", analyticsHandler.Revenue)
				staff.Get("/analytics/top-items", analyticsHandler.TopItems)
			})

			api.Route("/admin", func(admin chi.Router) {
				admin.Use(authMiddleware.RequireAuth)
				admin.Use(auth.RequireRole(common.RoleAdmin))
				admin.Get("/vouchers", voucherHandler.List)
				admin.With(auditRecorder.Middleware(audit.HTTPConfig{Action: "voucher.create", ResourceType: "voucher"})).
					Post("/vouchers", voucherHandler.Create)
				admin.With(auditRecorder.Middleware(audit.HTTPConfig{Action: "voucher.update", ResourceType: "voucher", ResourceIDParam: "id"})).
					Put("/vouchers/{id}", voucherHandler.Update)
				admin.Get("/queue/dlq", queueAdmin.ListDLQ)
				admin.With(auditRecorder.Middleware(audit.HTTPConfig{Action: "queue.replay", ResourceType: "queue_dlq", ResourceIDParam: "id"})).
					Post("/queue/dlq/{id}/replay", queueAdmin.Replay)
				admin.Get("/queue/stats", queueAdmin.Stats)
				admin.Get("/audit", auditHandler.List)
			})
		})
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		health.SetReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown")
		}
	}()

	logger.Info().Str("addr", srv.Addr).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
	logger.Info().Msg("server stopped")
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

func listBranches(q *store.Queries, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		branches, err := q.ListBranches(r.Context())
		if err != nil {
			logger.Error().Err(err).Msg("list branches")
			common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to list branches", nil)
			return
		}
		common.JSON(w, http.StatusOK, map[string]any{"data": branches})
	}
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/heap", pprof.Handler("heap"))
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
	if user == "" {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "not found", nil)
		})
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

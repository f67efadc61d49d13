package main

import (
	"context"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ironwill/pkg/auth"
	"ironwill/pkg/config"
	"ironwill/pkg/hardening"
	"ironwill/pkg/httpx"
	"ironwill/pkg/judge"
	"ironwill/pkg/metrics"
	"ironwill/pkg/store"
	"ironwill/pkg/telemetry"
)

// Testable variables for main()
var (
	logFatalf       = log.Fatalf
	loadSettingsFn  = config.Load
	initTelemetryFn = telemetry.Init
	openDBFn        func(context.Context, config.Settings) (store.Pinger, func(), error)
	listenFn        func(*http.Server) error
)

func main() {
	if err := runAgent(loadSettingsFn, initTelemetryFn, openDBFn, listenFn); err != nil {
		logFatalf("agent: %v", err)
	}
}

func runAgent(
	loadSettings func() (config.Settings, error),
	initTelemetry func(context.Context, telemetry.Options) (func(context.Context) error, error),
	openDB func(context.Context, config.Settings) (store.Pinger, func(), error),
	listen func(*http.Server) error,
) error {
	if loadSettings == nil {
		loadSettings = config.Load
	}
	if initTelemetry == nil {
		initTelemetry = telemetry.Init
	}
	if openDB == nil {
		openDB = openPostgres
	}
	if listen == nil {
		listen = func(server *http.Server) error { return server.ListenAndServe() }
	}

	settings, err := loadSettings()
	if err != nil {
		return err
	}
	if err := hardening.ValidateProduction(hardening.Options{
		Service:            "agent",
		Environment:        settings.Environment,
		StrictProdSecurity: settings.StrictProdSecurity,
		SharedSecret:       settings.AgentInternalSecret,
		DevelopmentSecret:  config.DefaultSecret,
		DatabaseURL:        settings.DatabaseURL,
		DatabaseRequireTLS: settings.DatabaseRequireTLS,
		CORSAllowedOrigins: settings.CORSAllowedOrigins,
	}); err != nil {
		return err
	}

	ctx := context.Background()
	shutdown, err := initTelemetry(ctx, settings.Telemetry)
	if err != nil {
		return err
	}
	defer func() { _ = shutdown(context.Background()) }()

	db, closeDB, err := openDB(ctx, settings)
	if err != nil {
		return err
	}
	if closeDB != nil {
		defer closeDB()
	}

	handler := newRouter(settings, judge.PlaceholderDecider{}, db, metrics.NewRegistry())
	server := &http.Server{
		Addr:              settings.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: settings.ReadHeaderTimeout,
		ReadTimeout:       settings.ReadTimeout,
		WriteTimeout:      settings.WriteTimeout,
		IdleTimeout:       settings.IdleTimeout,
	}
	log.Printf("agent: listening on %s (%s)", server.Addr, settings)
	return listen(server)
}

// openPostgres returns a lazily connecting pool, or no pinger when DB_URL is
// cleared.
func openPostgres(ctx context.Context, s config.Settings) (store.Pinger, func(), error) {
	if s.DatabaseURL == "" {
		return nil, nil, nil
	}
	pool, err := store.NewPostgresPool(ctx, s.DatabaseURL, store.RequiresTLS(s.DatabaseRequireTLS))
	if err != nil {
		return nil, nil, err
	}
	return pool, pool.Close, nil
}

func newRouter(s config.Settings, decider judge.Decider, db store.Pinger, reg *metrics.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(httpx.CORSMiddleware(s.CORSAllowedOrigins))
	r.Use(httpx.SecurityHeadersMiddleware)
	r.Use(httpx.RequestIDMiddleware)
	r.Use(telemetry.HTTPMiddleware(telemetry.DefaultServiceName))
	r.Use(reg.Middleware)
	r.Use(httpx.LimitBodyMiddleware(s.MaxRequestBodyBytes))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ready(r.Context(), db, s.ReadyTimeout); err != nil {
			log.Printf("agent: readiness check failed: %v", err)
			httpx.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	audit := judge.NewHandler(decider, judge.WithMetrics(reg))
	r.Group(func(secured chi.Router) {
		secured.Use(auth.SharedSecret(s.AuthHeader, s.AgentInternalSecret))
		secured.Method(http.MethodPost, "/internal/judge/audit", audit)
		secured.Get("/internal/metrics", reg.Handler())
		secured.Get("/internal/metrics/prometheus", reg.PrometheusHandler())
	})
	return r
}

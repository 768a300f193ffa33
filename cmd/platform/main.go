package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	his "github.com/carelink-health/platform/internal/adapters/his"
	"github.com/carelink-health/platform/internal/attachment"
	"github.com/carelink-health/platform/internal/audit"
	"github.com/carelink-health/platform/internal/directory"
	"github.com/carelink-health/platform/internal/facility"
	"github.com/carelink-health/platform/internal/notification"
	"github.com/carelink-health/platform/internal/shared/auth"
	"github.com/carelink-health/platform/internal/shared/config"
	"github.com/carelink-health/platform/internal/shared/database"
	"github.com/carelink-health/platform/internal/shared/events"
	"github.com/carelink-health/platform/internal/shared/metrics"
	secmiddleware "github.com/carelink-health/platform/internal/shared/middleware"
	"github.com/carelink-health/platform/internal/submission"
	workflowapi "github.com/carelink-health/platform/internal/workflow/api"
	"github.com/carelink-health/platform/internal/workflow/domain"
	"github.com/carelink-health/platform/internal/workflow/infrastructure"
)

// App holds all application dependencies
type App struct {
	Config *config.Config
	DB     *database.DB
	Bus    events.EventBus
	HIS    *his.Adapter
}

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	app := &App{Config: cfg}

	// Initialize database (optional - skip if not available)
	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		fmt.Printf("Warning: Database not available: %v\n", err)
		fmt.Println("Running in limited mode without draft persistence...")
	} else {
		app.DB = db
		defer db.Close()

		if err := database.Migrate(ctx, db.Pool); err != nil {
			fmt.Printf("Warning: Migration failed: %v\n", err)
		}
	}

	// Initialize event bus (optional - sessions work without streaming)
	bus, transport, err := events.NewEventBus(ctx, cfg.EventStore)
	if err != nil {
		fmt.Printf("Warning: Event store not available: %v\n", err)
		fmt.Println("Running without event streaming...")
	} else {
		app.Bus = bus
		defer bus.Close()
		fmt.Printf("Event bus initialized (%s transport)\n", transport)
	}

	// Hospital information system adapter (optional)
	if cfg.HIS.Enabled {
		adapter := his.New(cfg.HIS)
		if err := adapter.Start(ctx); err != nil {
			fmt.Printf("Warning: HIS connection failed: %v\n", err)
		} else {
			app.HIS = adapter
			defer adapter.Stop()
			fmt.Printf("HIS adapter connected (%s:%d)\n", cfg.HIS.Host, cfg.HIS.Port)
		}
	}

	// Workflow wiring: in-memory sessions, Postgres drafts
	registry := infrastructure.NewMemoryRegistry()

	var drafts domain.DraftRepository
	if app.DB != nil {
		drafts = infrastructure.NewPostgresDraftRepository(app.DB.Pool)
	} else {
		drafts = infrastructure.NewMemoryDraftRepository()
	}

	notifier := notification.NewNotifier(app.Bus)

	payerClient := submission.NewClient(cfg.Submission)
	orchestrator := submission.NewOrchestrator(drafts, payerClient, notifier, cfg.Draft.Key)
	if app.DB != nil {
		orchestrator.SetRecorder(submission.NewRecordStore(app.DB.Pool))
	}

	sequencer := directory.NewSequencer()
	directoryClient := directory.NewClient(cfg.Directory)

	workflowHandler := workflowapi.NewHandler(registry, orchestrator, notifier, sequencer, app.Bus)
	directoryHandler := directory.NewHandler(directoryClient, sequencer, workflowHandler)

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(secmiddleware.SecurityHeaders)
	r.Use(secmiddleware.InputSanitizer)
	r.Use(metrics.Middleware)
	r.Use(secmiddleware.CORS(secmiddleware.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	r.Use(secmiddleware.RateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst))

	// Health checks (unauthenticated)
	r.Get("/health", healthHandler(app))
	r.Get("/ready", readyHandler(app))
	r.Handle("/metrics", metrics.Handler())

	// API info
	r.Get("/", infoHandler)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		if cfg.Server.Env == "production" {
			r.Use(auth.Middleware(cfg.Auth))
		}

		r.Mount("/workflows", workflowHandler.Routes())
		r.Mount("/directory", directoryHandler.Routes())

		if app.DB != nil {
			facilityRepo := facility.NewRepository(app.DB.Pool)
			facilityHandler := facility.NewHandler(facilityRepo, app.Bus)
			r.Mount("/facilities", facilityHandler.Routes())

			attachmentStore := attachment.NewStore(app.DB.Pool)
			attachmentHandler := attachment.NewHandler(attachmentStore)
			r.Mount("/attachments", attachmentHandler.Routes())

			auditRepo := audit.NewRepository(app.DB.Pool)
			if err := auditRepo.Initialize(ctx); err != nil {
				fmt.Printf("Warning: Audit initialization failed: %v\n", err)
			}
			auditHandler := audit.NewHandler(auditRepo)
			r.Mount("/audit", auditHandler.Routes())

			if app.Bus != nil {
				auditSubscriber := audit.NewSubscriber(auditRepo, app.Bus)
				if err := auditSubscriber.Start(ctx); err != nil {
					fmt.Printf("Warning: Audit subscriber failed to start: %v\n", err)
				} else {
					fmt.Println("Audit subscriber started")
				}
			}
		}

		if app.HIS != nil {
			hisHandler := his.NewHandler(app.HIS)
			r.Mount("/his", hisHandler.Routes())
		}
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan bool)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		fmt.Println("\nShutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			fmt.Printf("Server shutdown error: %v\n", err)
		}
		close(done)
	}()

	fmt.Println("============================================")
	fmt.Println("CareLink Prior Authorization Platform")
	fmt.Println("============================================")
	fmt.Printf("Environment:  %s\n", cfg.Server.Env)
	fmt.Printf("Server:       http://localhost:%d\n", cfg.Server.Port)
	fmt.Printf("API:          http://localhost:%d/api/v1\n", cfg.Server.Port)
	fmt.Printf("Health:       http://localhost:%d/health\n", cfg.Server.Port)
	fmt.Printf("Draft key:    %s\n", cfg.Draft.Key)
	fmt.Printf("HIS enabled:  %v\n", cfg.HIS.Enabled)
	fmt.Println("============================================")

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}

	<-done
	fmt.Println("Server stopped")
}

func infoHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"name":    "CareLink Prior Authorization Platform",
		"version": "0.1.0",
		"docs":    "/api/v1",
	})
}

func healthHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "healthy",
		})
	}
}

func readyHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"server": "ready",
		}

		if app.DB != nil {
			if err := app.DB.Health(r.Context()); err != nil {
				checks["database"] = "not ready: " + err.Error()
			} else {
				checks["database"] = "ready"
			}
		} else {
			checks["database"] = "not configured"
		}

		if app.Bus != nil {
			if err := app.Bus.Health(); err != nil {
				checks["eventstore"] = "not ready: " + err.Error()
			} else {
				checks["eventstore"] = "ready"
			}
		} else {
			checks["eventstore"] = "not configured"
		}

		if app.HIS != nil {
			if err := app.HIS.Health(r.Context()); err != nil {
				checks["his"] = "not ready: " + err.Error()
			} else {
				checks["his"] = "ready"
			}
		} else {
			checks["his"] = "not configured"
		}

		allReady := true
		for _, status := range checks {
			if status != "ready" && status != "not configured" {
				allReady = false
				break
			}
		}

		status := http.StatusOK
		if !allReady {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{
			"status": map[bool]string{true: "ready", false: "not ready"}[allReady],
			"checks": checks,
		})
	}
}

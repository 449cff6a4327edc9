package main

import (
	"encoding/json"
	stdlog "log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/username/crewledger/backend/src/audit"
	"github.com/username/crewledger/backend/src/config"
	"github.com/username/crewledger/backend/src/database"
	"github.com/username/crewledger/backend/src/handlers"
	"github.com/username/crewledger/backend/src/ledger"
	"github.com/username/crewledger/backend/src/logger"
	"github.com/username/crewledger/backend/src/notify"
	"github.com/username/crewledger/backend/src/otp"
	"github.com/username/crewledger/backend/src/security"
	"github.com/username/crewledger/backend/src/services"
	"github.com/username/crewledger/backend/src/telemetry"
	"golang.org/x/time/rate"
)

var limiter = rate.NewLimiter(rate.Every(100*time.Millisecond), 30)

func rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			logger.L.Warn("Rate limit exceeded",
				"method", r.Method,
				"path", r.URL.Path,
				"remoteAddr", r.RemoteAddr)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == config.Cfg.CORSAllowedOrigin {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE, PATCH")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization, X-Requested-With, If-None-Match")
			w.Header().Set("Access-Control-Expose-Headers", "ETag")
		} else if origin == "" {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}

		if r.Method == "OPTIONS" {
			logger.L.Debug("Handling OPTIONS preflight request", "path", r.URL.Path, "origin", origin)
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func main() {
	config.LoadConfig()
	logger.InitLogger(config.Cfg.LogLevel)
	logger.L.Info("Crewledger confirmation core starting...")

	if config.Cfg.JWTSecret == "" || len(config.Cfg.JWTSecret) < 32 {
		logger.L.Error("JWT_SECRET configuration invalid. Must be at least 32 bytes.")
		os.Exit(1)
	}

	logger.L.Info("Initializing database...", "path", config.Cfg.DatabasePath)
	database.InitDB(config.Cfg.DatabasePath)
	logger.L.Info("Database initialized successfully.")

	logger.L.Info("Initializing services and handlers...")
	authService := security.NewAuthService(config.Cfg.JWTSecret)
	auditSink := audit.NewSink(database.DB)
	emitter := telemetry.NewAsyncEmitter(logger.L, 256)
	defer emitter.Close()
	notifier := notify.NewNotifier()

	ledgerClient := ledger.NewClient(ledger.Options{
		BaseURL:        config.Cfg.LedgerBaseURL,
		APISecret:      config.Cfg.LedgerAPISecret,
		ConfirmTimeout: config.Cfg.LedgerTimeout,
		ProbeTimeout:   config.Cfg.LedgerProbeTimeout,
		RatePerSecond:  config.Cfg.LedgerRatePerSecond,
	})
	eligibility := services.NewHTTPEligibilityChecker(
		config.Cfg.EligibilityBaseURL,
		config.Cfg.LedgerProbeTimeout,
		config.Cfg.EligibilityCacheTTL,
	)

	otpIssuer := otp.NewIssuer(config.Cfg.OTPValidityWindow)
	txService := services.NewTransactionService(database.DB, otpIssuer, auditSink, ledgerClient, notifier, emitter)
	punchService := services.NewPunchService(database.DB, auditSink, ledgerClient, eligibility, emitter)

	reconciler := services.NewReconciler(punchService, config.Cfg.SyncInterval)
	reconciler.Start()
	defer reconciler.Stop()

	sweeper := services.NewRetentionSweeper(auditSink, config.Cfg.RetentionSweepInterval)
	sweeper.Start()
	defer sweeper.Stop()

	txHandler := handlers.NewTransactionHandler(txService)
	punchHandler := handlers.NewPunchHandler(punchService)
	auditHandler := handlers.NewAuditHandler(auditSink)

	logger.L.Info("Configuring routes...")
	rootMux := http.NewServeMux()
	apiRouter := http.NewServeMux()

	requireAuth := handlers.AuthMiddleware(authService)

	apiRouter.Handle("POST /api/transactions", requireAuth(txHandler.HandleInitiate))
	apiRouter.Handle("POST /api/transactions/{id}/confirm", requireAuth(txHandler.HandleConfirm))
	apiRouter.Handle("POST /api/transactions/{id}/override", requireAuth(txHandler.HandleOverride))
	apiRouter.Handle("GET /api/transactions/{id}", requireAuth(txHandler.HandleGet))
	apiRouter.Handle("GET /api/transactions", requireAuth(txHandler.HandleList))

	apiRouter.Handle("POST /api/punches/in", requireAuth(punchHandler.HandlePunchIn))
	apiRouter.Handle("POST /api/punches/out", requireAuth(punchHandler.HandlePunchOut))
	apiRouter.Handle("PATCH /api/punches/{id}/note", requireAuth(punchHandler.HandleAnnotateNote))
	apiRouter.Handle("GET /api/punches/pending", requireAuth(punchHandler.HandlePendingSync))
	apiRouter.Handle("GET /api/attendance/summary", requireAuth(punchHandler.HandleAttendanceSummary))
	apiRouter.Handle("GET /api/attendance/earnings", requireAuth(punchHandler.HandleEarnings))

	apiRouter.Handle("GET /api/audit", requireAuth(auditHandler.HandleListByResource))
	apiRouter.Handle("POST /api/audit/{id}/legal-hold", requireAuth(auditHandler.HandleSetLegalHold))

	rootMux.Handle("/api/", apiRouter)

	rootMux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" && r.Method == http.MethodGet {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{"message": "Crewledger backend is running"})
		} else {
			if !strings.HasPrefix(r.URL.Path, "/api/") {
				logger.L.Warn("Root level path not found", "method", r.Method, "path", r.URL.Path)
				http.NotFound(w, r)
			}
		}
	})

	logger.L.Info("Applying global middleware...")
	finalHandler := enableCORS(rateLimitMiddleware(rootMux))

	serverAddr := ":" + config.Cfg.Port
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      finalHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.L.Info("Server starting", "address", serverAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.L.Error("Failed to start server", "error", err)
		stdlog.Fatalf("Failed to start server: %v", err)
	} else if err == http.ErrServerClosed {
		logger.L.Info("Server stopped gracefully.")
	}
}

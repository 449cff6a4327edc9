package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type AppConfig struct {
	Port              string
	DatabasePath      string
	LogLevel          string
	JWTSecret         string
	AccessTokenExpiry time.Duration
	CORSAllowedOrigin string

	// Remote ledger (authoritative backend).
	LedgerBaseURL       string
	LedgerAPISecret     string
	LedgerTimeout       time.Duration // confirm/override calls
	LedgerProbeTimeout  time.Duration // punch sync and connectivity probes
	LedgerRatePerSecond int

	// Eligibility collaborator.
	EligibilityBaseURL  string
	EligibilityCacheTTL time.Duration

	// OTP gating.
	OTPValidityWindow time.Duration

	// Background loops.
	SyncInterval           time.Duration
	RetentionSweepInterval time.Duration

	// OTP delivery.
	NotifierProvider     string
	MailgunDomain        string
	MailgunPrivateAPIKey string
	SenderEmail          string
	SenderName           string
}

var Cfg *AppConfig

func LoadConfig() {
	errEnv := godotenv.Load()
	if errEnv != nil {
		log.Println("Info: No .env file found or error loading .env file. Relying on OS environment variables and defaults. Error (if any):", errEnv)
	} else {
		log.Println(".env file loaded successfully.")
	}

	log.Println("Loading application configuration...")

	jwtSecret := getEnv("JWT_SECRET", "your-very-secure-and-long-jwt-secret-key-for-hs256-minimum-32-bytes")
	if jwtSecret == "your-very-secure-and-long-jwt-secret-key-for-hs256-minimum-32-bytes" {
		log.Println("WARNING: Using default insecure JWT_SECRET. Set JWT_SECRET environment variable for production.")
	}

	ledgerSecret := getEnv("LEDGER_API_SECRET", "")
	if ledgerSecret == "" {
		log.Println("WARNING: LEDGER_API_SECRET not set. Ledger calls will be unsigned and the remote side will reject them.")
	}

	Cfg = &AppConfig{
		Port:              getEnv("PORT", "8080"),
		DatabasePath:      getEnv("DATABASE_PATH", "./crewledger.db"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		JWTSecret:         jwtSecret,
		AccessTokenExpiry: getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 24*time.Hour),
		CORSAllowedOrigin: getEnv("CORS_ALLOWED_ORIGIN", "http://localhost:3000"),

		LedgerBaseURL:       getEnv("LEDGER_BASE_URL", "http://localhost:9090"),
		LedgerAPISecret:     ledgerSecret,
		LedgerTimeout:       getEnvAsDuration("LEDGER_TIMEOUT", 8*time.Second),
		LedgerProbeTimeout:  getEnvAsDuration("LEDGER_PROBE_TIMEOUT", 5*time.Second),
		LedgerRatePerSecond: getEnvAsInt("LEDGER_RATE_PER_SECOND", 20),

		EligibilityBaseURL:  getEnv("ELIGIBILITY_BASE_URL", "http://localhost:9091"),
		EligibilityCacheTTL: getEnvAsDuration("ELIGIBILITY_CACHE_TTL", 5*time.Minute),

		OTPValidityWindow: getEnvAsDuration("OTP_VALIDITY_WINDOW", 15*time.Minute),

		SyncInterval:           getEnvAsDuration("SYNC_INTERVAL", 30*time.Second),
		RetentionSweepInterval: getEnvAsDuration("RETENTION_SWEEP_INTERVAL", 1*time.Hour),

		NotifierProvider:     getEnv("NOTIFIER_PROVIDER", "mock"),
		MailgunDomain:        getEnv("MAILGUN_DOMAIN", ""),
		MailgunPrivateAPIKey: getEnv("MAILGUN_PRIVATE_API_KEY", ""),
		SenderEmail:          getEnv("SENDER_EMAIL", "noreply@example.com"),
		SenderName:           getEnv("SENDER_NAME", "Crewledger"),
	}

	if Cfg.NotifierProvider == "mailgun" {
		if Cfg.MailgunDomain == "" {
			log.Fatalf("FATAL: MAILGUN_DOMAIN is required when NOTIFIER_PROVIDER is 'mailgun', but it's not set in environment or .env file.")
		}
		if Cfg.MailgunPrivateAPIKey == "" {
			log.Fatalf("FATAL: MAILGUN_PRIVATE_API_KEY is required when NOTIFIER_PROVIDER is 'mailgun', but it's not set in environment or .env file.")
		}
	}

	log.Printf("Configuration loaded: Port=%s, LogLevel=%s, DBPath=%s, LedgerBaseURL=%s, SyncInterval=%s",
		Cfg.Port, Cfg.LogLevel, Cfg.DatabasePath, Cfg.LedgerBaseURL, Cfg.SyncInterval)
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	log.Printf("Environment variable %s not set, using default: %s", key, fallback)
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		log.Printf("Integer value for %s not set or empty, using default: %d", key, fallback)
		return fallback
	}
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	log.Printf("Invalid integer value for %s ('%s'), using default: %d", key, valueStr, fallback)
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		log.Printf("Duration value for %s not set or empty, using default: %s", key, fallback.String())
		return fallback
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	log.Printf("Invalid duration value for %s ('%s'), using default: %s", key, valueStr, fallback.String())
	return fallback
}

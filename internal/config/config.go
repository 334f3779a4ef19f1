package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Module provides the loaded configuration.
var Module = fx.Provide(Load)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	// VaultKeySecret derives the AES key protecting IBAN/DNI columns.
	// Required outside development mode.
	VaultKeySecret string

	Creditor CreditorConfig

	// CollectionLeadDays is the minimum number of business days between
	// remittance creation and the requested collection date.
	CollectionLeadDays int

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
}

// CreditorConfig identifies the association as SEPA creditor towards the bank.
type CreditorConfig struct {
	Name     string
	IBAN     string
	BIC      string
	SchemeID string // SEPA creditor identifier (e.g. ES12ZZZ...)
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:        getenv("APP_SERVICE", "remesa"),
		AppVersion:     getenv("APP_VERSION", "0.1.0"),
		Environment:    getenv("ENVIRONMENT", EnvDevelopment),
		VaultKeySecret: strings.TrimSpace(getenv("VAULT_KEY_SECRET", "")),
		Creditor: CreditorConfig{
			Name:     getenv("CREDITOR_NAME", ""),
			IBAN:     strings.ReplaceAll(getenv("CREDITOR_IBAN", ""), " ", ""),
			BIC:      strings.TrimSpace(getenv("CREDITOR_BIC", "")),
			SchemeID: strings.TrimSpace(getenv("CREDITOR_SCHEME_ID", "")),
		},
		CollectionLeadDays: getenvInt("COLLECTION_LEAD_DAYS", 5),
		DBType:             getenv("DATABASE_TYPE", "postgres"),
		DBHost:             getenv("DATABASE_HOST", "localhost"),
		DBPort:             getenv("DATABASE_PORT", "5432"),
		DBName:             getenv("DATABASE_NAME", "postgres"),
		DBUser:             getenv("DATABASE_USER", "postgres"),
		DBPassword:         getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:          getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:      getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:      getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime:  getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),
		DBConnMaxIdleTime:  getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 600),
	}

	return cfg
}

func getenv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	return value
}

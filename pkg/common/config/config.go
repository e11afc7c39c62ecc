package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Server
	ServerPort     string
	ServerHost     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestBody int64

	// Database
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Kafka
	KafkaBrokers []string
	KafkaGroupID string

	// Pipeline
	SourceTable       string
	WorkingTable      string
	CatalogPath       string
	IndexPrefixLength int
	PipelineTopic     string
	AuditEnabled      bool
	AuditRulesPath    string

	// Analytics
	CacheTTL       time.Duration
	RateLimitRPS   int
	RateLimitBurst int

	// Auth
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
	JWTTTL      time.Duration

	// OIDC
	OIDCIssuer       string
	OIDCClientID     string
	OIDCClientSecret string

	// Report worker
	ReportWorkers   int
	RefreshInterval time.Duration
	WebhookURL      string
	WebhookTimeout  time.Duration
	WebhookAttempts int

	// Exports
	ExportDir          string
	ExportPseudonymize bool
	PseudonymSalt      string
	ArchiveBucket      string
	ArchivePrefix      string
}

func Load() *Config {
	return &Config{
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		ServerHost:     getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:    getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:   getDuration("WRITE_TIMEOUT", 30*time.Second),
		MaxRequestBody: int64(getIntEnv("MAX_REQUEST_BODY_BYTES", 4*1024*1024)),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "clinalytics"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "clinalytics123"),
		PostgresDB:       getEnv("POSTGRES_DB", "clinalytics"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		KafkaBrokers: getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID: getEnv("KAFKA_GROUP_ID", "clinalytics-platform"),

		SourceTable:       getEnv("PIPELINE_SOURCE_TABLE", "healthcare_dataset"),
		WorkingTable:      getEnv("PIPELINE_WORKING_TABLE", "admissions"),
		CatalogPath:       getEnv("PIPELINE_CATALOG_PATH", ""),
		IndexPrefixLength: getIntEnv("PIPELINE_INDEX_PREFIX", 191),
		PipelineTopic:     getEnv("PIPELINE_KAFKA_TOPIC", "pipeline.runs"),
		AuditEnabled:      getBoolEnv("PIPELINE_AUDIT_ENABLED", false),
		AuditRulesPath:    getEnv("PIPELINE_AUDIT_RULES_PATH", ""),

		CacheTTL:       getDuration("ANALYTICS_CACHE_TTL", 5*time.Minute),
		RateLimitRPS:   getIntEnv("ANALYTICS_RATE_LIMIT_RPS", 50),
		RateLimitBurst: getIntEnv("ANALYTICS_RATE_LIMIT_BURST", 100),

		JWTSecret:   getEnv("JWT_SECRET", ""),
		JWTIssuer:   getEnv("JWT_ISSUER", "clinalytics"),
		JWTAudience: getEnv("JWT_AUDIENCE", "clinalytics-api"),
		JWTTTL:      getDuration("JWT_TTL", time.Hour),

		OIDCIssuer:       getEnv("OIDC_ISSUER", ""),
		OIDCClientID:     getEnv("OIDC_CLIENT_ID", ""),
		OIDCClientSecret: getEnv("OIDC_CLIENT_SECRET", ""),

		ReportWorkers:   getIntEnv("REPORT_WORKERS", 2),
		RefreshInterval: getDuration("REPORT_REFRESH_INTERVAL", 0),
		WebhookURL:      getEnv("REPORT_WEBHOOK_URL", ""),
		WebhookTimeout:  getDuration("REPORT_WEBHOOK_TIMEOUT", 10*time.Second),
		WebhookAttempts: getIntEnv("REPORT_WEBHOOK_ATTEMPTS", 3),

		ExportDir:          getEnv("EXPORT_DIR", "exports"),
		ExportPseudonymize: getBoolEnv("EXPORT_PSEUDONYMIZE", false),
		PseudonymSalt:      getEnv("EXPORT_PSEUDONYM_SALT", ""),
		ArchiveBucket:      getEnv("ARCHIVE_S3_BUCKET", ""),
		ArchivePrefix:      getEnv("ARCHIVE_S3_PREFIX", "reports"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return []string{value}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Duplicate-name policies.
const (
	PolicyTakeover = "takeover"
	PolicyReject   = "reject"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	AWS       AWSConfig
	Classroom ClassroomConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
	LogMode            string // production | development
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Driver     string
	SQLitePath string
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int32
}

// RedisConfig holds Redis connection settings. Redis backs the archive queue
// and the event mirror; both are skipped when disabled.
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	Channel  string
}

// AWSConfig holds AWS credentials and the poll archive bucket. An empty bucket
// disables archiving.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	ArchiveBucket        string
	PresignExpireMinutes int
}

// ClassroomConfig holds session behaviour.
type ClassroomConfig struct {
	TeacherName           string
	DuplicateNamePolicy   string
	EnforceCompletionGate bool
	RevealCorrect         bool
	HistoryLimit          int
	PollGrace             time.Duration
	IntentTimeout         time.Duration
	ClientSendBuffer      int
	InProcessArchiver     bool
}

// DSN returns the PostgreSQL connection string.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
			LogMode:            getEnv("LOG_MODE", "production"),
		},
		Storage: StorageConfig{
			Driver:     strings.ToLower(getEnv("STORAGE_DRIVER", DriverPostgres)),
			SQLitePath: getEnv("SQLITE_PATH", "classroom.db"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "classroom"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 10)),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", false),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			Channel:  getEnv("REDIS_EVENTS_CHANNEL", "classroom:events"),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			ArchiveBucket:        getEnv("AWS_S3_ARCHIVE_BUCKET", ""),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
		Classroom: ClassroomConfig{
			TeacherName:           getEnv("CLASSROOM_TEACHER_NAME", "Teacher"),
			DuplicateNamePolicy:   strings.ToLower(getEnv("CLASSROOM_DUPLICATE_NAME_POLICY", PolicyTakeover)),
			EnforceCompletionGate: getEnvBool("CLASSROOM_ENFORCE_COMPLETION_GATE", false),
			RevealCorrect:         getEnvBool("CLASSROOM_REVEAL_CORRECT", true),
			HistoryLimit:          getEnvInt("CLASSROOM_HISTORY_LIMIT", 10),
			PollGrace:             time.Duration(getEnvInt("CLASSROOM_POLL_GRACE_SEC", 2)) * time.Second,
			IntentTimeout:         time.Duration(getEnvInt("INTENT_TIMEOUT_SEC", 10)) * time.Second,
			ClientSendBuffer:      getEnvInt("CLIENT_SEND_BUFFER", 256),
			InProcessArchiver:     getEnvBool("ARCHIVE_WORKER_IN_PROCESS", true),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverPostgres, DriverSQLite, DriverMemory:
	default:
		return fmt.Errorf("config: unknown STORAGE_DRIVER %q", c.Storage.Driver)
	}
	switch c.Classroom.DuplicateNamePolicy {
	case PolicyTakeover, PolicyReject:
	default:
		return fmt.Errorf("config: unknown CLASSROOM_DUPLICATE_NAME_POLICY %q", c.Classroom.DuplicateNamePolicy)
	}
	if c.Storage.Driver == DriverSQLite && c.Storage.SQLitePath == "" {
		return fmt.Errorf("config: SQLITE_PATH is required for the sqlite driver")
	}
	if c.Classroom.HistoryLimit < 0 {
		return fmt.Errorf("config: CLASSROOM_HISTORY_LIMIT must not be negative")
	}
	if c.Classroom.PollGrace < 0 {
		return fmt.Errorf("config: CLASSROOM_POLL_GRACE_SEC must not be negative")
	}
	if c.Classroom.ClientSendBuffer <= 0 {
		return fmt.Errorf("config: CLIENT_SEND_BUFFER must be positive")
	}
	return nil
}

// ArchiveEnabled reports whether closed polls are archived to S3.
func (c *Config) ArchiveEnabled() bool {
	return c.Redis.Enabled && c.AWS.ArchiveBucket != ""
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

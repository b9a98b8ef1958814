package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	HTTP     HTTPConfig
	Auth     AuthConfig
	Gateway  GatewayConfig
	SMTP     SMTPConfig
	Log      LogConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	DBName       string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

func (d DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers       []string
	TopicReadings string
	TopicAlerts   string
	NumPartitions int

	// Producer tuning
	BatchSize    int
	BatchTimeout time.Duration
	Compression  string
	MaxAttempts  int
	RequiredAcks string
}

type HTTPConfig struct {
	Addr              string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	MigrationsDir     string

	// QueryTimeout bounds spatial and visibility-filtered queries.
	QueryTimeout time.Duration
}

type AuthConfig struct {
	JWTSecret string
	JWTIssuer string
	AccessTTL time.Duration
}

// Validate reports whether tokens can be issued and verified.
func (a AuthConfig) Validate() error {
	if a.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if a.AccessTTL <= 0 {
		return fmt.Errorf("JWT_ACCESS_TTL must be positive, got %s", a.AccessTTL)
	}
	return nil
}

// GatewayConfig configures the device ingestion TCP listener.
type GatewayConfig struct {
	Port              int
	MaxConnections    int
	IdentifyTimeout   time.Duration
	InactivityTimeout time.Duration
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	config := &Config{
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnvAsInt("DB_PORT", 5432),
			User:         getEnv("DB_USER", "vrisa_user"),
			Password:     getEnv("DB_PASSWORD", "vrisa_pass"),
			DBName:       getEnv("DB_NAME", "vrisa_db"),
			SSLMode:      getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers:       strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			TopicReadings: getEnv("KAFKA_TOPIC_READINGS", "vrisa.readings.raw"),
			TopicAlerts:   getEnv("KAFKA_TOPIC_ALERTS", "vrisa.alerts"),
			NumPartitions: getEnvAsInt("KAFKA_NUM_PARTITIONS", 10),
			BatchSize:     getEnvAsInt("KAFKA_BATCH_SIZE", 100),
			BatchTimeout:  getEnvAsDuration("KAFKA_BATCH_TIMEOUT", 10*time.Millisecond),
			Compression:   getEnv("KAFKA_COMPRESSION", "snappy"),
			MaxAttempts:   getEnvAsInt("KAFKA_MAX_ATTEMPTS", 3),
			RequiredAcks:  getEnv("KAFKA_REQUIRED_ACKS", "one"),
		},
		HTTP: HTTPConfig{
			Addr:              getEnv("HTTP_ADDR", ":8000"),
			ReadHeaderTimeout: getEnvAsDuration("HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
			ShutdownTimeout:   getEnvAsDuration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
			QueryTimeout:      getEnvAsDuration("QUERY_TIMEOUT", 5*time.Second),
			MigrationsDir:     getEnv("MIGRATIONS_DIR", "migrations"),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
			JWTIssuer: getEnv("JWT_ISSUER", "vrisa"),
			AccessTTL: getEnvAsDuration("JWT_ACCESS_TTL", 60*time.Minute),
		},
		Gateway: GatewayConfig{
			Port:              getEnvAsInt("GATEWAY_PORT", 8080),
			MaxConnections:    getEnvAsInt("GATEWAY_MAX_CONNECTIONS", 10000),
			IdentifyTimeout:   getEnvAsDuration("GATEWAY_IDENTIFY_TIMEOUT", 10*time.Second),
			InactivityTimeout: getEnvAsDuration("GATEWAY_INACTIVITY_TIMEOUT", 2*time.Minute),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", "smtp.gmail.com"),
			Port:     getEnvAsInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", "alerts@vrisa.example.com"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
	}

	if config.HTTP.QueryTimeout <= 0 {
		return nil, fmt.Errorf("QUERY_TIMEOUT must be positive, got %s", config.HTTP.QueryTimeout)
	}

	return config, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

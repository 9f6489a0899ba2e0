package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Config is the process-wide configuration, loaded once at startup.
type Config struct {
	Environment string

	Server  ServerConfig
	Logging LoggingConfig
	Redis   RedisConfig
	Scylla  ScyllaConfig
	Kafka   KafkaConfig
	SMTP    SMTPConfig
	OTP     OTPConfig
	PIN     PINConfig
	Token   TokenConfig

	Bucketing BucketingConfig
	Hashing   HashingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	EnableTLS   bool
	TLSPort     int
	AutoCert    bool
	AutoCertDir string
	Domain      string
	Email       string
	CertFile    string
	KeyFile     string
}

type LoggingConfig struct {
	Level  string
	Format string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
}

type KafkaConfig struct {
	Enabled       bool
	Brokers       []string
	SecurityTopic string
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// OTPConfig holds thresholds for the email one-time-code flow.
type OTPConfig struct {
	CodeLength           int
	TTL                  time.Duration
	RequestsPerIdentity  int
	RequestsPerOrigin    int
	RequestWindow        time.Duration
	SuspensionThreshold  int
	DevBypassCode        string
	DeliverySendDeadline time.Duration
}

// PINConfig holds thresholds for the shared event-PIN flow.
type PINConfig struct {
	AttemptLimit       int
	AttemptWindow      time.Duration
	SessionTTL         time.Duration
	FingerprintBinding bool
}

type TokenConfig struct {
	PrivateKeyPath string
	PublicKeyPath  string
	HMACSecret     string
	Issuer         string
	TTL            time.Duration
}

type BucketingConfig struct {
	IdentityBuckets int
}

type HashingConfig struct {
	Argon2MemoryCost  int
	Argon2TimeCost    int
	Argon2Parallelism int
	Pepper            string
}

var (
	globalConfig *Config
	once         sync.Once
)

// LoadConfig reads configuration from the environment (.env is honored in
// development) and caches the result for the process lifetime.
func LoadConfig() *Config {
	once.Do(func() {
		_ = godotenv.Load()

		globalConfig = &Config{
			Environment: getEnv("ENVIRONMENT", "development"),
			Server: ServerConfig{
				Host:         getEnv("SERVER_HOST", "0.0.0.0"),
				Port:         getEnvInt("SERVER_PORT", 8080),
				ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 10*time.Second),
				WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
				IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
				EnableTLS:    getEnvBool("SERVER_ENABLE_TLS", false),
				TLSPort:      getEnvInt("SERVER_TLS_PORT", 8443),
				AutoCert:     getEnvBool("SERVER_AUTO_CERT", false),
				AutoCertDir:  getEnv("SERVER_AUTO_CERT_DIR", "/var/lib/eventgate/certs"),
				Domain:       getEnv("SERVER_DOMAIN", "localhost"),
				Email:        getEnv("SERVER_ACME_EMAIL", ""),
				CertFile:     getEnv("SERVER_CERT_FILE", ""),
				KeyFile:      getEnv("SERVER_KEY_FILE", ""),
			},
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
			Redis: RedisConfig{
				URL:      getEnv("REDIS_URL", "redis://localhost:6379"),
				Password: getEnv("REDIS_PASSWORD", ""),
				DB:       getEnvInt("REDIS_DB", 0),
				PoolSize: getEnvInt("REDIS_POOL_SIZE", 50),
			},
			Scylla: ScyllaConfig{
				Nodes:    getEnvList("SCYLLA_NODES", []string{"localhost:9042"}),
				Keyspace: getEnv("SCYLLA_KEYSPACE", "eventgate"),
				Username: getEnv("SCYLLA_USERNAME", ""),
				Password: getEnv("SCYLLA_PASSWORD", ""),
			},
			Kafka: KafkaConfig{
				Enabled:       getEnvBool("KAFKA_ENABLED", false),
				Brokers:       getEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
				SecurityTopic: getEnv("KAFKA_SECURITY_TOPIC", "eventgate.security-events"),
			},
			SMTP: SMTPConfig{
				Host:     getEnv("SMTP_HOST", "localhost"),
				Port:     getEnvInt("SMTP_PORT", 587),
				Username: getEnv("SMTP_USER", ""),
				Password: getEnv("SMTP_PASS", ""),
				From:     getEnv("SMTP_FROM", "no-reply@eventgate.local"),
				Timeout:  getEnvDuration("SMTP_TIMEOUT", 10*time.Second),
			},
			OTP: OTPConfig{
				CodeLength:           6,
				TTL:                  getEnvDuration("OTP_TTL", 5*time.Minute),
				RequestsPerIdentity:  getEnvInt("OTP_REQUESTS_PER_IDENTITY", 3),
				RequestsPerOrigin:    getEnvInt("OTP_REQUESTS_PER_ORIGIN", 5),
				RequestWindow:        getEnvDuration("OTP_REQUEST_WINDOW", 10*time.Minute),
				SuspensionThreshold:  getEnvInt("OTP_SUSPENSION_THRESHOLD", 5),
				DevBypassCode:        getEnv("OTP_DEV_BYPASS_CODE", "000000"),
				DeliverySendDeadline: getEnvDuration("OTP_DELIVERY_DEADLINE", 15*time.Second),
			},
			PIN: PINConfig{
				AttemptLimit:       getEnvInt("PIN_ATTEMPT_LIMIT", 5),
				AttemptWindow:      getEnvDuration("PIN_ATTEMPT_WINDOW", 15*time.Minute),
				SessionTTL:         getEnvDuration("PIN_SESSION_TTL", 12*time.Hour),
				FingerprintBinding: getEnvBool("PIN_FINGERPRINT_BINDING", true),
			},
			Token: TokenConfig{
				PrivateKeyPath: getEnv("JWT_PRIVATE_KEY_PATH", ""),
				PublicKeyPath:  getEnv("JWT_PUBLIC_KEY_PATH", ""),
				HMACSecret:     getEnv("JWT_HMAC_SECRET", ""),
				Issuer:         getEnv("JWT_ISSUER", "eventgate"),
				TTL:            getEnvDuration("JWT_TTL", 24*time.Hour),
			},
			Bucketing: BucketingConfig{
				IdentityBuckets: getEnvInt("BUCKETING_IDENTITY_BUCKETS", 64),
			},
			Hashing: HashingConfig{
				Argon2MemoryCost:  getEnvInt("ARGON2_MEMORY_COST", 19456),
				Argon2TimeCost:    getEnvInt("ARGON2_TIME_COST", 2),
				Argon2Parallelism: getEnvInt("ARGON2_PARALLELISM", 1),
				Pepper:            getEnv("ARGON2_PEPPER", ""),
			},
		}
	})

	return globalConfig
}

// Get returns the cached configuration, loading it on first use.
func Get() *Config {
	if globalConfig == nil {
		return LoadConfig()
	}
	return globalConfig
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return !c.IsProduction()
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}

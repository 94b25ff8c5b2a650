package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// APIServerConfig holds the listener settings of the JSON API server.
type APIServerConfig struct {
	Host string     `mapstructure:"HOST"`
	Port string     `mapstructure:"PORT"`
	CORS CORSConfig `mapstructure:"CORS"`
}

// CORSConfig holds configuration for CORS.
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"ALLOWED_ORIGINS"`
	AllowedMethods   []string `mapstructure:"ALLOWED_METHODS"`
	AllowedHeaders   []string `mapstructure:"ALLOWED_HEADERS"`
	ExposedHeaders   []string `mapstructure:"EXPOSED_HEADERS"`
	AllowCredentials bool     `mapstructure:"ALLOW_CREDENTIALS"`
	MaxAge           int      `mapstructure:"MAX_AGE"`
}

// RedisConfig holds configuration for Redis. Redis is optional: when it is
// disabled or unreachable the servers keep running without a cache.
type RedisConfig struct {
	Enabled     bool          `mapstructure:"ENABLED"`
	Addr        string        `mapstructure:"ADDR"`
	Password    string        `mapstructure:"PASSWORD"`
	DB          int           `mapstructure:"DB"`
	DialTimeout time.Duration `mapstructure:"DIAL_TIMEOUT"`
}

// Config holds all configuration for the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	AppName    string          `mapstructure:"APP_NAME"`
	AppVersion string          `mapstructure:"APP_VERSION"`
	Log        LogConfig       `mapstructure:"LOG"`
	Server     ServerConfig    `mapstructure:"SERVER"` // realtime gateway listener
	APIServer  APIServerConfig `mapstructure:"API_SERVER"`
	Kafka      KafkaConfig     `mapstructure:"KAFKA"`
	Database   DatabaseConfig  `mapstructure:"DATABASE"`
	Storage    StorageConfig   `mapstructure:"STORAGE"`
	Auth       AuthConfig      `mapstructure:"AUTH"`
	WebSocket  WebSocketConfig `mapstructure:"WEBSOCKET"`
	Redis      RedisConfig     `mapstructure:"REDIS"`
	RateLimit  RateLimitConfig `mapstructure:"RATE_LIMIT"`
	Cache      CacheConfig     `mapstructure:"CACHE"`
	Friends    FriendsConfig   `mapstructure:"FRIENDS"`
}

// LogConfig selects the zap encoder and level.
type LogConfig struct {
	Level  string `mapstructure:"LEVEL"`
	Format string `mapstructure:"FORMAT"` // json or console
}

// ServerConfig holds configuration for the realtime gateway HTTP server.
type ServerConfig struct {
	Host           string        `mapstructure:"HOST"`
	Port           string        `mapstructure:"PORT"`
	WebSocketPath  string        `mapstructure:"WEBSOCKET_PATH"`
	ReadTimeout    time.Duration `mapstructure:"READ_TIMEOUT"`
	WriteTimeout   time.Duration `mapstructure:"WRITE_TIMEOUT"`
	MaxHeaderBytes int           `mapstructure:"MAX_HEADER_BYTES"`
}

// KafkaConfig holds configuration for Kafka. When disabled, room events are
// fanned out only to connections of the local gateway process.
type KafkaConfig struct {
	Enabled           bool     `mapstructure:"ENABLED"`
	Brokers           []string `mapstructure:"BROKERS"`
	ClientID          string   `mapstructure:"CLIENT_ID"`
	RoomEventsTopic   string   `mapstructure:"ROOM_EVENTS_TOPIC"`   // persisted chat events, keyed by room id
	DomainEventsTopic string   `mapstructure:"DOMAIN_EVENTS_TOPIC"` // friendship / activity events
	ConsumerGroup     string   `mapstructure:"CONSUMER_GROUP"`
	Protocol          string   `mapstructure:"PROTOCOL"`
}

// DatabaseConfig holds configuration for the database.
type DatabaseConfig struct {
	Type     string `mapstructure:"TYPE"` // postgres, mysql or sqlite
	Host     string `mapstructure:"HOST"`
	Port     int    `mapstructure:"PORT"`
	User     string `mapstructure:"USER"`
	Password string `mapstructure:"PASSWORD"`
	DBName   string `mapstructure:"DB_NAME"` // file path for sqlite
	SSLMode  string `mapstructure:"SSL_MODE"`
	LogLevel string `mapstructure:"LOG_LEVEL"`
}

// StorageConfig holds configuration for uploaded attachments.
type StorageConfig struct {
	LocalPath     string `mapstructure:"LOCAL_PATH"`
	BaseURL       string `mapstructure:"BASE_URL"`
	MaxFileSizeMB int64  `mapstructure:"MAX_FILE_SIZE_MB"`
}

// AuthConfig holds configuration for session tokens.
type AuthConfig struct {
	JWTSecretKey string        `mapstructure:"JWT_SECRET_KEY"`
	JWTExpiry    time.Duration `mapstructure:"JWT_EXPIRY"`
	CookieName   string        `mapstructure:"COOKIE_NAME"`
}

// WebSocketConfig holds configuration for WebSocket connections.
type WebSocketConfig struct {
	WriteWaitSeconds    int     `mapstructure:"WRITE_WAIT_SECONDS"`
	PongWaitSeconds     int     `mapstructure:"PONG_WAIT_SECONDS"`
	PingPeriodSeconds   int     `mapstructure:"PING_PERIOD_SECONDS"`
	MaxMessageSizeBytes int     `mapstructure:"MAX_MESSAGE_SIZE_BYTES"`
	AuthTimeoutSeconds  int     `mapstructure:"AUTH_TIMEOUT_SECONDS"`
	IdleTimeoutSeconds  int     `mapstructure:"IDLE_TIMEOUT_SECONDS"`
	TypingTTLSeconds    int     `mapstructure:"TYPING_TTL_SECONDS"`
	EventsPerSecond     float64 `mapstructure:"EVENTS_PER_SECOND"`
	EventBurst          int     `mapstructure:"EVENT_BURST"`
}

// RateLimitRule is one fixed-window class.
type RateLimitRule struct {
	Window time.Duration `mapstructure:"WINDOW"`
	Max    int           `mapstructure:"MAX"`
}

// RateLimitConfig configures the fixed-window limiter classes.
type RateLimitConfig struct {
	Backend string        `mapstructure:"BACKEND"` // memory or redis
	Auth    RateLimitRule `mapstructure:"AUTH"`
	API     RateLimitRule `mapstructure:"API"`
	Strict  RateLimitRule `mapstructure:"STRICT"`
	// TrustedProxies are addresses or CIDRs whose X-Forwarded-For is honoured.
	TrustedProxies []string `mapstructure:"TRUSTED_PROXIES"`
}

// CacheConfig holds TTLs for the optional Redis cache.
type CacheConfig struct {
	LeaderboardTTL time.Duration `mapstructure:"LEADERBOARD_TTL"`
	SearchTTL      time.Duration `mapstructure:"SEARCH_TTL"`
}

// FriendsConfig tunes the friendship state machine.
type FriendsConfig struct {
	// RerequestCooldown is how long a rejected edge blocks a new request.
	// Zero keeps rejected edges blocking forever.
	RerequestCooldown time.Duration `mapstructure:"REREQUEST_COOLDOWN"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_NAME", "cpsocial")
	v.SetDefault("APP_VERSION", "0.1.0")
	v.SetDefault("LOG.LEVEL", "info")
	v.SetDefault("LOG.FORMAT", "json")

	// Realtime gateway
	v.SetDefault("SERVER.HOST", "0.0.0.0")
	v.SetDefault("SERVER.PORT", "8080")
	v.SetDefault("SERVER.WEBSOCKET_PATH", "/ws/chat")
	v.SetDefault("SERVER.READ_TIMEOUT", 30*time.Second)
	v.SetDefault("SERVER.WRITE_TIMEOUT", 30*time.Second)
	v.SetDefault("SERVER.MAX_HEADER_BYTES", 1<<20)

	// API server
	v.SetDefault("API_SERVER.HOST", "0.0.0.0")
	v.SetDefault("API_SERVER.PORT", "8081")
	v.SetDefault("API_SERVER.CORS.ALLOWED_ORIGINS", []string{"http://localhost:5173"})
	v.SetDefault("API_SERVER.CORS.ALLOWED_METHODS", []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"})
	v.SetDefault("API_SERVER.CORS.ALLOWED_HEADERS", []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"})
	v.SetDefault("API_SERVER.CORS.EXPOSED_HEADERS", []string{"Content-Length", "X-RateLimit-Remaining", "X-RateLimit-Reset"})
	v.SetDefault("API_SERVER.CORS.ALLOW_CREDENTIALS", true)
	v.SetDefault("API_SERVER.CORS.MAX_AGE", 300)

	v.SetDefault("KAFKA.ENABLED", false)
	v.SetDefault("KAFKA.BROKERS", []string{"localhost:9092"})
	v.SetDefault("KAFKA.CLIENT_ID", "cpsocial")
	v.SetDefault("KAFKA.ROOM_EVENTS_TOPIC", "cpsocial-room-events")
	v.SetDefault("KAFKA.DOMAIN_EVENTS_TOPIC", "cpsocial-domain-events")
	v.SetDefault("KAFKA.CONSUMER_GROUP", "cpsocial-gateway")
	v.SetDefault("KAFKA.PROTOCOL", "plaintext")

	v.SetDefault("DATABASE.TYPE", "postgres")
	v.SetDefault("DATABASE.HOST", "localhost")
	v.SetDefault("DATABASE.PORT", 5432)
	v.SetDefault("DATABASE.USER", "postgres")
	v.SetDefault("DATABASE.PASSWORD", "password")
	v.SetDefault("DATABASE.DB_NAME", "cpsocial")
	v.SetDefault("DATABASE.SSL_MODE", "disable")
	v.SetDefault("DATABASE.LOG_LEVEL", "warn")

	v.SetDefault("STORAGE.LOCAL_PATH", "./uploads")
	v.SetDefault("STORAGE.BASE_URL", "/uploads")
	v.SetDefault("STORAGE.MAX_FILE_SIZE_MB", 10)

	v.SetDefault("AUTH.JWT_SECRET_KEY", "a_very_secret_key_that_should_be_changed")
	v.SetDefault("AUTH.JWT_EXPIRY", 24*time.Hour)
	v.SetDefault("AUTH.COOKIE_NAME", "session")

	v.SetDefault("REDIS.ENABLED", true)
	v.SetDefault("REDIS.ADDR", "localhost:6379")
	v.SetDefault("REDIS.PASSWORD", "")
	v.SetDefault("REDIS.DB", 0)
	v.SetDefault("REDIS.DIAL_TIMEOUT", 2*time.Second)

	v.SetDefault("WEBSOCKET.WRITE_WAIT_SECONDS", 10)
	v.SetDefault("WEBSOCKET.PONG_WAIT_SECONDS", 60)
	v.SetDefault("WEBSOCKET.PING_PERIOD_SECONDS", 54) // (60 * 9) / 10
	v.SetDefault("WEBSOCKET.MAX_MESSAGE_SIZE_BYTES", 8192)
	v.SetDefault("WEBSOCKET.AUTH_TIMEOUT_SECONDS", 10)
	v.SetDefault("WEBSOCKET.IDLE_TIMEOUT_SECONDS", 300)
	v.SetDefault("WEBSOCKET.TYPING_TTL_SECONDS", 6)
	v.SetDefault("WEBSOCKET.EVENTS_PER_SECOND", 10)
	v.SetDefault("WEBSOCKET.EVENT_BURST", 20)

	v.SetDefault("RATE_LIMIT.BACKEND", "memory")
	v.SetDefault("RATE_LIMIT.AUTH.WINDOW", 15*time.Minute)
	v.SetDefault("RATE_LIMIT.AUTH.MAX", 5)
	v.SetDefault("RATE_LIMIT.API.WINDOW", time.Minute)
	v.SetDefault("RATE_LIMIT.API.MAX", 60)
	v.SetDefault("RATE_LIMIT.STRICT.WINDOW", time.Minute)
	v.SetDefault("RATE_LIMIT.STRICT.MAX", 10)
	v.SetDefault("RATE_LIMIT.TRUSTED_PROXIES", []string{})

	v.SetDefault("CACHE.LEADERBOARD_TTL", time.Minute)
	v.SetDefault("CACHE.SEARCH_TTL", 30*time.Second)

	v.SetDefault("FRIENDS.REREQUEST_COOLDOWN", time.Duration(0))
}

// LoadConfig reads configuration from file or environment variables.
// A .env file in the working directory is loaded first if present.
func LoadConfig(path string) (config Config, err error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	// API_SERVER_PORT overrides API_SERVER.PORT
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err = v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return
		}
		// defaults are enough to boot
		err = nil
	}

	err = v.Unmarshal(&config)
	return
}

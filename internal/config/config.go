package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	ServiceName string
	Env         string
	Port        string
	DBAdapter   string
	SQLiteFile  string
	LogLevel    string
	AutoMigrate bool
	// PostgreSQL connection settings
	PostgresDSN      string
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	JWTPrivateKeyPath string
	JWTPublicKeyPath  string
	JWTIssuer         string
	AccessTokenTTL    time.Duration
	RefreshTokenTTL   time.Duration

	Argon2Memory      uint32 // KiB
	Argon2Iterations  uint32
	Argon2Parallelism uint8

	EventBus     string // memory | kafka
	KafkaBrokers []string
	KafkaGroupID string
	EventBuffer  int

	RateLimitPerMinute  int
	CORSAllowedOrigins  []string
	TrustedProxies      []string // IPs or CIDRs allowed to set X-Forwarded-For
	AuthzStrictSubjects bool
	OTLPEndpoint        string
}

// Production reports whether the service runs with production settings
// (secure cookies, no debug output).
func (c *Config) Production() bool {
	env := strings.ToLower(c.Env)
	return env == "production" || env == "prod"
}

// BuildPostgresDSN constructs a PostgreSQL DSN from individual components or returns the provided DSN
func (c *Config) BuildPostgresDSN() (string, error) {
	if c.PostgresDSN != "" {
		return c.PostgresDSN, nil
	}

	if c.PostgresHost == "" {
		return "", errors.New("POSTGRES_HOST or POSTGRES_DSN must be set")
	}
	if c.PostgresUser == "" {
		return "", errors.New("POSTGRES_USER must be set")
	}
	if c.PostgresDB == "" {
		return "", errors.New("POSTGRES_DB must be set")
	}

	port := c.PostgresPort
	if port == "" {
		port = "5432"
	}

	sslMode := c.PostgresSSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=%s",
		c.PostgresHost, port, c.PostgresUser, c.PostgresDB, sslMode)

	if c.PostgresPassword != "" {
		dsn += " password=" + c.PostgresPassword
	}

	return dsn, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("service_name", "expense-tracker")
	v.SetDefault("port", "8080")
	v.SetDefault("db_adapter", "postgres")
	v.SetDefault("sqlite_file", "./data/expense_tracker.db")
	v.SetDefault("log_level", "info")
	v.SetDefault("auto_migrate", false)
	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", "5432")
	v.SetDefault("postgres_user", "expense")
	v.SetDefault("postgres_password", "expensepass")
	v.SetDefault("postgres_db", "expense_tracker")
	v.SetDefault("postgres_sslmode", "disable")
	v.SetDefault("jwt_private_key_path", "private.pem")
	v.SetDefault("jwt_public_key_path", "public.pem")
	v.SetDefault("jwt_issuer", "expense-tracker")
	v.SetDefault("access_token_ttl", "15m")
	v.SetDefault("refresh_token_ttl", "720h")
	v.SetDefault("argon2_memory_kb", 64*1024)
	v.SetDefault("argon2_iterations", 3)
	v.SetDefault("argon2_parallelism", 2)
	v.SetDefault("event_bus", "memory")
	v.SetDefault("kafka_brokers", "localhost:9092")
	v.SetDefault("kafka_group_id", "expense-tracker-consumer")
	v.SetDefault("event_buffer", 256)
	v.SetDefault("rate_limit_per_minute", 20)
	v.SetDefault("cors_allowed_origins", "")
	v.SetDefault("trusted_proxies", "")
	v.SetDefault("authz_strict_subjects", false)

	// first variable that is set wins
	_ = v.BindEnv("env", "NODE_ENV", "ENV")
	_ = v.BindEnv("postgres_dsn", "POSTGRES_DSN", "DATABASE_URL")
	_ = v.BindEnv("postgres_host", "POSTGRES_HOST", "DB_HOST")
	_ = v.BindEnv("postgres_port", "POSTGRES_PORT", "DB_PORT")
	_ = v.BindEnv("postgres_user", "POSTGRES_USER", "DB_USER")
	_ = v.BindEnv("postgres_password", "POSTGRES_PASSWORD", "DB_PASSWORD")
	_ = v.BindEnv("postgres_db", "POSTGRES_DB", "DB_NAME")
	_ = v.BindEnv("postgres_sslmode", "POSTGRES_SSLMODE", "DB_SSLMODE")
	_ = v.BindEnv("access_token_ttl", "ACCESS_TOKEN_TTL", "ACCESS_TOKEN_EXPIRY")
	_ = v.BindEnv("otel_exporter_otlp_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
	_ = v.BindEnv("config_file", "CONFIG_FILE")
	return v
}

func New() (*Config, error) {
	v := newViper()

	if path := v.GetString("config_file"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	parallelism := v.GetUint("argon2_parallelism")
	if parallelism < 1 || parallelism > 255 {
		return nil, fmt.Errorf("invalid ARGON2_PARALLELISM: %d (must be 1..255)", parallelism)
	}

	c := &Config{
		ServiceName: v.GetString("service_name"),
		Env:         v.GetString("env"),
		Port:        v.GetString("port"),
		DBAdapter:   strings.ToLower(v.GetString("db_adapter")),
		SQLiteFile:  v.GetString("sqlite_file"),
		LogLevel:    v.GetString("log_level"),
		AutoMigrate: v.GetBool("auto_migrate"),

		PostgresDSN:      v.GetString("postgres_dsn"),
		PostgresHost:     v.GetString("postgres_host"),
		PostgresPort:     v.GetString("postgres_port"),
		PostgresUser:     v.GetString("postgres_user"),
		PostgresPassword: v.GetString("postgres_password"),
		PostgresDB:       v.GetString("postgres_db"),
		PostgresSSLMode:  v.GetString("postgres_sslmode"),

		JWTPrivateKeyPath: v.GetString("jwt_private_key_path"),
		JWTPublicKeyPath:  v.GetString("jwt_public_key_path"),
		JWTIssuer:         v.GetString("jwt_issuer"),
		AccessTokenTTL:    v.GetDuration("access_token_ttl"),
		RefreshTokenTTL:   v.GetDuration("refresh_token_ttl"),

		Argon2Memory:      v.GetUint32("argon2_memory_kb"),
		Argon2Iterations:  v.GetUint32("argon2_iterations"),
		Argon2Parallelism: uint8(parallelism),

		EventBus:     strings.ToLower(v.GetString("event_bus")),
		KafkaBrokers: splitList(v.GetString("kafka_brokers")),
		KafkaGroupID: v.GetString("kafka_group_id"),
		EventBuffer:  v.GetInt("event_buffer"),

		RateLimitPerMinute:  v.GetInt("rate_limit_per_minute"),
		CORSAllowedOrigins:  splitList(v.GetString("cors_allowed_origins")),
		TrustedProxies:      splitList(v.GetString("trusted_proxies")),
		AuthzStrictSubjects: v.GetBool("authz_strict_subjects"),
		OTLPEndpoint:        v.GetString("otel_exporter_otlp_endpoint"),
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) validate() error {
	switch c.DBAdapter {
	case "postgres":
		dsn, err := c.BuildPostgresDSN()
		if err != nil {
			return fmt.Errorf("postgres configuration error: %w", err)
		}
		c.PostgresDSN = dsn
	case "sqlite":
		if c.SQLiteFile == "" {
			return errors.New("SQLITE_FILE must be set when DB_ADAPTER=sqlite")
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported DB_ADAPTER: %s", c.DBAdapter)
	}

	if c.JWTPrivateKeyPath == "" || c.JWTPublicKeyPath == "" {
		return errors.New("JWT_PRIVATE_KEY_PATH and JWT_PUBLIC_KEY_PATH must be set")
	}
	if c.AccessTokenTTL <= 0 {
		return errors.New("ACCESS_TOKEN_TTL must be a positive duration")
	}
	if c.RefreshTokenTTL <= 0 {
		return errors.New("REFRESH_TOKEN_TTL must be a positive duration")
	}

	switch c.EventBus {
	case "memory":
	case "kafka":
		if len(c.KafkaBrokers) == 0 {
			return errors.New("KAFKA_BROKERS must be set when EVENT_BUS=kafka")
		}
	default:
		return fmt.Errorf("unsupported EVENT_BUS: %s", c.EventBus)
	}

	if c.Argon2Iterations < 1 {
		return fmt.Errorf("invalid ARGON2_ITERATIONS: %d", c.Argon2Iterations)
	}
	if c.Argon2Parallelism < 1 {
		return fmt.Errorf("invalid ARGON2_PARALLELISM: %d", c.Argon2Parallelism)
	}
	if c.Argon2Memory < 8*uint32(c.Argon2Parallelism) {
		return fmt.Errorf("invalid ARGON2_MEMORY_KB: %d (must be at least 8 x parallelism)", c.Argon2Memory)
	}

	for _, p := range c.TrustedProxies {
		if _, err := ParseProxy(p); err != nil {
			return fmt.Errorf("invalid TRUSTED_PROXIES entry: %s", p)
		}
	}

	if c.RateLimitPerMinute <= 0 {
		return fmt.Errorf("invalid RATE_LIMIT_PER_MINUTE: %d", c.RateLimitPerMinute)
	}

	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("invalid PORT: %s", c.Port)
	}
	return nil
}

// ParseProxy accepts a bare IP or a CIDR and returns it as a prefix.
func ParseProxy(s string) (netip.Prefix, error) {
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		return p.Masked(), err
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

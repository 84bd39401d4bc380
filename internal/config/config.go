package config

import (
	"context"
	"fmt"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Server        ServerConfig        `env:",prefix=SERVER_"`
	Postgres      PostgresConfig      `env:",prefix=POSTGRES_"`
	Redis         RedisConfig         `env:",prefix=REDIS_"`
	Session       SessionConfig       `env:",prefix=SESSION_"`
	HostedAuth    HostedAuthConfig    `env:",prefix=HOSTED_AUTH_"`
	FederatedAuth FederatedAuthConfig `env:",prefix=FEDERATED_AUTH_"`
	Profile       ProfileConfig       `env:",prefix=PROFILE_"`
	Security      SecurityConfig      `env:",prefix="`
	CORS          CORSConfig          `env:",prefix=CORS_"`
	DeviceID      string              `env:"DEVICE_ID"`
	Env           string              `env:"ENV,default=development"`
}

type ServerConfig struct {
	Port         string   `env:"PORT,default=8787"`
	Host         string   `env:"HOST,default=127.0.0.1"`
	ReadTimeout  Duration `env:"READ_TIMEOUT,default=15s"`
	WriteTimeout Duration `env:"WRITE_TIMEOUT,default=30s"`
}

type PostgresConfig struct {
	Host     string `env:"HOST,default=localhost"`
	Port     string `env:"PORT,default=5432"`
	User     string `env:"USER,default=session_service"`
	Password string `env:"PASSWORD,default=session_service_password"`
	DBName   string `env:"DB,default=session_service_db"`
	SSLMode  string `env:"SSLMODE,default=disable"`
}

type RedisConfig struct {
	Host     string `env:"HOST,default=localhost"`
	Port     string `env:"PORT,default=6379"`
	Password string `env:"PASSWORD,default="`
	DB       int    `env:"DB,default=0"`
}

// SessionConfig holds the refresh scheduling policy
type SessionConfig struct {
	RefreshBuffer       Duration `env:"REFRESH_BUFFER,default=5m"`
	DefaultRefresh      Duration `env:"DEFAULT_REFRESH_INTERVAL,default=1h"`
	MaxRefreshDelay     Duration `env:"MAX_REFRESH_DELAY,default=12h"`
	MinRefreshDelay     Duration `env:"MIN_REFRESH_DELAY,default=30s"`
	ForegroundThreshold Duration `env:"FOREGROUND_REFRESH_THRESHOLD,default=5m"`
	RecoverTimeout      Duration `env:"RECOVER_TIMEOUT,default=20s"`
}

type HostedAuthConfig struct {
	TokenURL     string   `env:"TOKEN_URL,default=http://localhost:9001/oauth2/token"`
	UserInfoURL  string   `env:"USERINFO_URL,default=http://localhost:9001/oauth2/userInfo"`
	ClientID     string   `env:"CLIENT_ID,default=vetcare-mobile"`
	ClientSecret string   `env:"CLIENT_SECRET,default="`
	Timeout      Duration `env:"TIMEOUT,default=10s"`
}

type FederatedAuthConfig struct {
	APIKey    string   `env:"API_KEY,default="`
	TokenURL  string   `env:"TOKEN_URL,default=https://securetoken.googleapis.com/v1/token"`
	LookupURL string   `env:"LOOKUP_URL,default=https://identitytoolkit.googleapis.com/v1/accounts:lookup"`
	Timeout   Duration `env:"TIMEOUT,default=10s"`
}

type ProfileConfig struct {
	StatusURL string   `env:"STATUS_URL,default=http://localhost:3000/fhir/v1/profile/status"`
	Timeout   Duration `env:"TIMEOUT,default=10s"`
}

type SecurityConfig struct {
	TokenSealingKey   string   `env:"TOKEN_SEALING_KEY,required"`
	RateLimitRequests int      `env:"RATE_LIMIT_REQUESTS,default=30"`
	RateLimitWindow   Duration `env:"RATE_LIMIT_WINDOW,default=1m"`
}

type CORSConfig struct {
	AllowedOrigins []string `env:"ALLOWED_ORIGINS,default=http://localhost:8081"`
	AllowedMethods []string `env:"ALLOWED_METHODS,default=GET,POST,PUT,DELETE,OPTIONS"`
	AllowedHeaders []string `env:"ALLOWED_HEADERS,default=Content-Type,Authorization"`
}

// DSN returns PostgreSQL connection string
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.DBName, p.SSLMode)
}

// Address returns Redis connection address
func (r RedisConfig) Address() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

// Load loads configuration from environment variables
func Load(ctx context.Context) (*Config, error) {
	var config Config

	if err := envconfig.Process(ctx, &config); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) validate() error {
	if len(c.Security.TokenSealingKey) < 32 {
		return fmt.Errorf("TOKEN_SEALING_KEY must be at least 32 characters long")
	}

	if c.Session.MinRefreshDelay.Duration > c.Session.MaxRefreshDelay.Duration {
		return fmt.Errorf("SESSION_MIN_REFRESH_DELAY (%s) must not exceed SESSION_MAX_REFRESH_DELAY (%s)",
			c.Session.MinRefreshDelay, c.Session.MaxRefreshDelay)
	}

	if c.Session.RefreshBuffer.Duration < 0 {
		return fmt.Errorf("SESSION_REFRESH_BUFFER must not be negative")
	}

	return nil
}

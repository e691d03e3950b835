package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/sirupsen/logrus"
)

const (
	defaultConfigPath = "config/pulseops.yaml"
	envConfigPath     = "PULSEOPS_CONFIG"

	// MinSecretLength is the shortest accepted signing or encryption secret.
	MinSecretLength = 32
)

type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	GRPC     GRPCConfig     `yaml:"grpc"`
	Auth     AuthConfig     `yaml:"auth"`
	OTP      OTPConfig      `yaml:"otp"`
	Security SecurityConfig `yaml:"security"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
	Log      LogConfig      `yaml:"log"`
	Sweep    SweepConfig    `yaml:"sweep"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr" env:"PULSEOPS_HTTP_ADDR" env-default:":8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"PULSEOPS_HTTP_READ_TIMEOUT" env-default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"PULSEOPS_HTTP_WRITE_TIMEOUT" env-default:"15s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"PULSEOPS_HTTP_IDLE_TIMEOUT" env-default:"60s"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes" env:"PULSEOPS_HTTP_MAX_BODY_BYTES" env-default:"1048576"`
	RequestsPerMin  int           `yaml:"requests_per_minute" env:"PULSEOPS_RATE_LIMIT_PER_MINUTE" env-default:"60"`
	Burst           int           `yaml:"burst" env:"PULSEOPS_RATE_LIMIT_BURST" env-default:"100"`
	CorrelationHdr  string        `yaml:"correlation_header" env:"PULSEOPS_CORRELATION_HEADER" env-default:"X-Correlation-ID"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"PULSEOPS_SHUTDOWN_TIMEOUT" env-default:"10s"`
}

type GRPCConfig struct {
	Addr string `yaml:"addr" env:"PULSEOPS_GRPC_ADDR" env-default:":9090"`
}

type AuthConfig struct {
	JWTSecret  string        `yaml:"jwt_secret" env:"PULSEOPS_JWT_SECRET"`
	Algorithm  string        `yaml:"algorithm" env:"PULSEOPS_JWT_ALGORITHM" env-default:"HS256"`
	Issuer     string        `yaml:"issuer" env:"PULSEOPS_JWT_ISSUER" env-default:"pulseops-api"`
	AccessTTL  time.Duration `yaml:"access_ttl" env:"PULSEOPS_ACCESS_TTL" env-default:"60m"`
	RefreshTTL time.Duration `yaml:"refresh_ttl" env:"PULSEOPS_REFRESH_TTL" env-default:"168h"`

	PasswordMinLength      int  `yaml:"password_min_length" env:"PULSEOPS_PASSWORD_MIN_LENGTH" env-default:"8"`
	PasswordRequireUpper   bool `yaml:"password_require_uppercase" env:"PULSEOPS_PASSWORD_REQUIRE_UPPERCASE" env-default:"true"`
	PasswordRequireNumber  bool `yaml:"password_require_numbers" env:"PULSEOPS_PASSWORD_REQUIRE_NUMBERS" env-default:"true"`
	PasswordRequireSpecial bool `yaml:"password_require_special" env:"PULSEOPS_PASSWORD_REQUIRE_SPECIAL" env-default:"true"`
}

type OTPConfig struct {
	Length         int           `yaml:"length" env:"PULSEOPS_OTP_LENGTH" env-default:"6"`
	TTL            time.Duration `yaml:"ttl" env:"PULSEOPS_OTP_TTL" env-default:"5m"`
	MaxAttempts    int           `yaml:"max_attempts" env:"PULSEOPS_OTP_MAX_ATTEMPTS" env-default:"3"`
	ResendCooldown time.Duration `yaml:"resend_cooldown" env:"PULSEOPS_OTP_RESEND_COOLDOWN" env-default:"2m"`
	HourlyLimit    int           `yaml:"hourly_limit" env:"PULSEOPS_OTP_HOURLY_LIMIT" env-default:"10"`
	LockoutPeriod  time.Duration `yaml:"lockout_period" env:"PULSEOPS_OTP_LOCKOUT" env-default:"15m"`
}

type SecurityConfig struct {
	EncryptionEnabled bool   `yaml:"encryption_enabled" env:"PULSEOPS_ENCRYPTION_ENABLED" env-default:"true"`
	EncryptionKey     string `yaml:"encryption_key" env:"PULSEOPS_ENCRYPTION_KEY"`
	PIIMaskingEnabled bool   `yaml:"pii_masking_enabled" env:"PULSEOPS_PII_MASKING_ENABLED" env-default:"true"`
	AuditEnabled      bool   `yaml:"audit_enabled" env:"PULSEOPS_AUDIT_ENABLED" env-default:"true"`
	LoginPerHour      int    `yaml:"login_attempts_per_hour" env:"PULSEOPS_LOGIN_ATTEMPTS_PER_HOUR" env-default:"10"`
}

type RedisConfig struct {
	Enabled   bool   `yaml:"enabled" env:"PULSEOPS_REDIS_ENABLED" env-default:"false"`
	Addr      string `yaml:"addr" env:"PULSEOPS_REDIS_ADDR" env-default:"localhost:6379"`
	Password  string `yaml:"password" env:"PULSEOPS_REDIS_PASSWORD"`
	DB        int    `yaml:"db" env:"PULSEOPS_REDIS_DB" env-default:"0"`
	KeyPrefix string `yaml:"key_prefix" env:"PULSEOPS_REDIS_KEY_PREFIX" env-default:"pulseops"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn" env:"PULSEOPS_PG_DSN"`
}

type LogConfig struct {
	Level string `yaml:"level" env:"PULSEOPS_LOG_LEVEL" env-default:"info"`
}

type SweepConfig struct {
	Schedule string `yaml:"schedule" env:"PULSEOPS_SWEEP_SCHEDULE" env-default:"@every 5m"`
}

// Load reads the optional YAML file and then the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	path := resolvePath()
	if st, err := os.Stat(path); err == nil && !st.IsDir() {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}
	normalize(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func resolvePath() string {
	if p := strings.TrimSpace(os.Getenv(envConfigPath)); p != "" {
		return p
	}
	return defaultConfigPath
}

func normalize(cfg *Config) {
	cfg.Auth.JWTSecret = strings.TrimSpace(cfg.Auth.JWTSecret)
	cfg.Auth.Algorithm = strings.ToUpper(strings.TrimSpace(cfg.Auth.Algorithm))
	cfg.Auth.Issuer = strings.TrimSpace(cfg.Auth.Issuer)
	cfg.Security.EncryptionKey = strings.TrimSpace(cfg.Security.EncryptionKey)
	if cfg.Security.EncryptionKey == "" {
		cfg.Security.EncryptionKey = cfg.Auth.JWTSecret
	}
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	cfg.Redis.KeyPrefix = strings.Trim(strings.TrimSpace(cfg.Redis.KeyPrefix), ":")
	cfg.Postgres.DSN = strings.TrimSpace(cfg.Postgres.DSN)
}

// Validate reports every problem with cfg at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config: nil")
	}
	var errs []error
	if len(cfg.Auth.JWTSecret) < MinSecretLength {
		errs = append(errs, fmt.Errorf("config: jwt secret must be at least %d characters", MinSecretLength))
	}
	if cfg.Auth.Algorithm != "HS256" {
		errs = append(errs, fmt.Errorf("config: unsupported jwt algorithm %q", cfg.Auth.Algorithm))
	}
	if cfg.Auth.AccessTTL <= 0 || cfg.Auth.RefreshTTL <= 0 {
		errs = append(errs, errors.New("config: token TTLs must be positive"))
	}
	if cfg.Auth.PasswordMinLength < 6 {
		errs = append(errs, errors.New("config: password min length must be at least 6"))
	}
	if cfg.OTP.Length < 4 || cfg.OTP.Length > 10 {
		errs = append(errs, fmt.Errorf("config: otp length %d out of range 4..10", cfg.OTP.Length))
	}
	if cfg.OTP.MaxAttempts < 1 {
		errs = append(errs, errors.New("config: otp max attempts must be at least 1"))
	}
	if cfg.OTP.TTL <= 0 {
		errs = append(errs, errors.New("config: otp ttl must be positive"))
	}
	if cfg.OTP.HourlyLimit < 1 {
		errs = append(errs, errors.New("config: otp hourly limit must be at least 1"))
	}
	if cfg.Security.EncryptionEnabled && len(cfg.Security.EncryptionKey) < MinSecretLength {
		errs = append(errs, fmt.Errorf("config: encryption key must be at least %d characters", MinSecretLength))
	}
	if _, err := logrus.ParseLevel(cfg.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("config: %w", err))
	}
	return errors.Join(errs...)
}

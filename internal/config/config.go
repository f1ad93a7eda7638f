package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds environment configuration for the identity core.
type Config struct {
	ListenAddr string `envconfig:"LISTEN_ADDR" default:":8080"`
	PGDSN      string `envconfig:"PG_DSN"`

	JWTSecret string `envconfig:"JWT_SECRET" required:"true"`
	Issuer    string `envconfig:"TOKEN_ISSUER" default:"afripay-identity"`

	AccessTokenTTL  time.Duration `envconfig:"ACCESS_TOKEN_TTL" default:"8h"`
	RefreshTokenTTL time.Duration `envconfig:"REFRESH_TOKEN_TTL" default:"168h"`
	OTPTTL          time.Duration `envconfig:"OTP_TTL" default:"10m"`

	SweepInterval time.Duration `envconfig:"SWEEP_INTERVAL" default:"1h"`

	MigrationsDir string `envconfig:"MIGRATIONS_DIR" default:"migrations"`
}

// Load reads configuration from AFRIPAY_-prefixed environment variables.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("afripay", &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

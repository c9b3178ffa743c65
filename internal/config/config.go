package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port          string   `mapstructure:"PORT"`
	Env           string   `mapstructure:"ENV"`
	DatabaseURL   string   `mapstructure:"DATABASE_URL"`
	DBMaxConns    int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32    `mapstructure:"DB_MIN_CONNS"`
	AuthIssuer    string   `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL   string   `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience  string   `mapstructure:"AUTH_AUDIENCE"`
	DefaultTenant string   `mapstructure:"DEFAULT_TENANT"`
	CORSOrigins   []string `mapstructure:"CORS_ORIGINS"`

	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`

	TLSEnabled  bool   `mapstructure:"TLS_ENABLED"`
	TLSCertFile string `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile  string `mapstructure:"TLS_KEY_FILE"`

	// Urgency windows and cadences. These are deployment configuration, not
	// constants: organizations tune how aggressively reminders surface.
	CriticalWindowMinutes    int `mapstructure:"REMINDER_CRITICAL_WINDOW_MINUTES"`
	NextWindowMinutes        int `mapstructure:"REMINDER_NEXT_WINDOW_MINUTES"`
	NextCap                  int `mapstructure:"REMINDER_NEXT_CAP"`
	SnoozeDefaultMinutes     int `mapstructure:"SNOOZE_DEFAULT_MINUTES"`
	SweepIntervalSeconds     int `mapstructure:"SWEEP_INTERVAL_SECONDS"`
	GeneratorIntervalSeconds int `mapstructure:"GENERATOR_INTERVAL_SECONDS"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DEFAULT_TENANT", "default")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("REMINDER_CRITICAL_WINDOW_MINUTES", 15)
	v.SetDefault("REMINDER_NEXT_WINDOW_MINUTES", 120)
	v.SetDefault("REMINDER_NEXT_CAP", 5)
	v.SetDefault("SNOOZE_DEFAULT_MINUTES", 10)
	v.SetDefault("SWEEP_INTERVAL_SECONDS", 60)
	v.SetDefault("GENERATOR_INTERVAL_SECONDS", 300)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("AUTH_ISSUER")
	v.BindEnv("AUTH_JWKS_URL")
	v.BindEnv("AUTH_AUDIENCE")
	v.BindEnv("DEFAULT_TENANT")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")
	v.BindEnv("TLS_ENABLED")
	v.BindEnv("TLS_CERT_FILE")
	v.BindEnv("TLS_KEY_FILE")
	v.BindEnv("REMINDER_CRITICAL_WINDOW_MINUTES")
	v.BindEnv("REMINDER_NEXT_WINDOW_MINUTES")
	v.BindEnv("REMINDER_NEXT_CAP")
	v.BindEnv("SNOOZE_DEFAULT_MINUTES")
	v.BindEnv("SWEEP_INTERVAL_SECONDS")
	v.BindEnv("GENERATOR_INTERVAL_SECONDS")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: ============================================================")
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active — all requests get admin access.")
		log.Println("WARNING: Set ENV=production and configure AUTH_ISSUER for production.")
		log.Println("WARNING: ============================================================")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// CriticalWindow is how far ahead of schedule a critical-priority reminder
// is already surfaced as NOW.
func (c *Config) CriticalWindow() time.Duration {
	return time.Duration(c.CriticalWindowMinutes) * time.Minute
}

// NextWindow is the horizon for the NEXT bucket.
func (c *Config) NextWindow() time.Duration {
	return time.Duration(c.NextWindowMinutes) * time.Minute
}

// DefaultSnooze is applied when a snooze response carries no duration.
func (c *Config) DefaultSnooze() time.Duration {
	return time.Duration(c.SnoozeDefaultMinutes) * time.Minute
}

// SweepInterval is the escalation sweeper cadence.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// GeneratorInterval is the reminder instance generator cadence.
func (c *Config) GeneratorInterval() time.Duration {
	return time.Duration(c.GeneratorIntervalSeconds) * time.Second
}

// Validate checks that the configuration is safe to run. In production
// AUTH_ISSUER must be set so real JWT authentication is enforced, and the
// scheduling knobs must be sane.
func (c *Config) Validate() error {
	if c.IsProduction() && c.AuthIssuer == "" {
		return fmt.Errorf(
			"AUTH_ISSUER must be set in production (current ENV=%q); refusing to start without authentication configuration", c.Env)
	}

	if c.CriticalWindowMinutes < 0 {
		return fmt.Errorf("REMINDER_CRITICAL_WINDOW_MINUTES must be >= 0, got %d", c.CriticalWindowMinutes)
	}
	if c.NextWindowMinutes <= 0 {
		return fmt.Errorf("REMINDER_NEXT_WINDOW_MINUTES must be > 0, got %d", c.NextWindowMinutes)
	}
	if c.NextCap <= 0 {
		return fmt.Errorf("REMINDER_NEXT_CAP must be > 0, got %d", c.NextCap)
	}
	if c.SnoozeDefaultMinutes <= 0 {
		return fmt.Errorf("SNOOZE_DEFAULT_MINUTES must be > 0, got %d", c.SnoozeDefaultMinutes)
	}
	if c.SweepIntervalSeconds <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL_SECONDS must be > 0, got %d", c.SweepIntervalSeconds)
	}
	if c.GeneratorIntervalSeconds <= 0 {
		return fmt.Errorf("GENERATOR_INTERVAL_SECONDS must be > 0, got %d", c.GeneratorIntervalSeconds)
	}

	// TLS validation: when TLS is enabled, cert and key files must be specified.
	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}

	return nil
}

package config

import (
	"errors"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	FroelingCfg FroelingConfig `envPrefix:"FROELING_"`
	MqttCfg     MqttConfig     `envPrefix:"MQTT_"`
	DatabaseCfg DatabaseConfig
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:"0.0.0.0:8000"`
	// bcrypt hash of the bearer token accepted by the HTTP API. Empty disables auth.
	APITokenHash string `env:"API_TOKEN_HASH"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"INFO"`
	// origins allowed to open /ws besides the API's own, "*" allows any.
	WSAllowedOrigins []string      `env:"WS_ALLOWED_ORIGINS" envSeparator:","`
	WSWriteTimeout   time.Duration `env:"WS_WRITE_TIMEOUT" envDefault:"10s"`
}

type FroelingConfig struct {
	Username       string        `env:"USERNAME"`
	Password       string        `env:"PASSWORD"`
	FacilityID     string        `env:"FACILITY_ID"`
	BaseURL        string        `env:"BASE_URL" envDefault:"https://connect-api.froeling.com"`
	PollInterval   time.Duration `env:"POLL_INTERVAL" envDefault:"60s"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`
}

type MqttConfig struct {
	Host            string `env:"HOST"`
	Username        string `env:"USER"`
	Password        string `env:"PASS"`
	ClientID        string `env:"CLIENT_ID" envDefault:"froeling-integration"`
	DiscoveryPrefix string `env:"DISCOVERY_PREFIX" envDefault:"homeassistant"`
	StatePrefix     string `env:"STATE_PREFIX" envDefault:"froeling"`
}

type DatabaseConfig struct {
	URL              string `env:"DATABASE_URL"`
	MigrationsFolder string `env:"MIGRATIONS_FOLDER" envDefault:"migrations"`
	RetentionDays    int    `env:"RETENTION_DAYS" envDefault:"8"`
	CleanupSchedule  string `env:"CLEANUP_SCHEDULE" envDefault:"0 3 * * *"`
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.FroelingCfg.Username == "" {
		errs = append(errs, errors.New("FROELING_USERNAME is required"))
	}
	if c.FroelingCfg.Password == "" {
		errs = append(errs, errors.New("FROELING_PASSWORD is required"))
	}
	if c.FroelingCfg.FacilityID == "" {
		errs = append(errs, errors.New("FROELING_FACILITY_ID is required"))
	}
	if c.FroelingCfg.PollInterval <= 0 {
		errs = append(errs, errors.New("FROELING_POLL_INTERVAL must be positive"))
	}
	if c.FroelingCfg.RequestTimeout <= 0 {
		errs = append(errs, errors.New("FROELING_REQUEST_TIMEOUT must be positive"))
	}
	if c.WSWriteTimeout <= 0 {
		errs = append(errs, errors.New("WS_WRITE_TIMEOUT must be positive"))
	}
	if c.DatabaseCfg.URL != "" && c.DatabaseCfg.RetentionDays <= 0 {
		errs = append(errs, errors.New("RETENTION_DAYS must be positive"))
	}
	return errors.Join(errs...)
}

// ControllerName is the facility id made safe for use inside identifiers.
func (f FroelingConfig) ControllerName() string {
	return strings.ReplaceAll(f.FacilityID, ".", "_")
}

func (m MqttConfig) Enabled() bool {
	return m.Host != ""
}

func (d DatabaseConfig) Enabled() bool {
	return d.URL != ""
}

// Package config centralises runtime configuration for statusdeck.
package config

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment identifies the runtime environment where statusdeck operates.
type Environment string

const (
	// EnvDev marks the development environment.
	EnvDev Environment = "dev"
	// EnvStaging marks the staging environment.
	EnvStaging Environment = "staging"
	// EnvProd marks the production environment.
	EnvProd Environment = "prod"
)

// AppConfig is the statusdeck configuration tree loaded from YAML and
// environment overrides.
type AppConfig struct {
	Environment   Environment        `yaml:"environment"`
	Polling       PollingConfig      `yaml:"polling"`
	Providers     ProviderSet        `yaml:"providers"`
	Notifications NotificationConfig `yaml:"notifications"`
	Server        ServerConfig       `yaml:"server"`
	Telemetry     TelemetryConfig    `yaml:"telemetry"`
}

// PollingConfig controls the refresh scheduler.
type PollingConfig struct {
	Interval    time.Duration `yaml:"interval"`
	MinInterval time.Duration `yaml:"minInterval"`
	Retention   int           `yaml:"retention"`
}

// ProviderSet encapsulates per-provider connection settings.
type ProviderSet struct {
	Vercel  VercelConfig  `yaml:"vercel"`
	Netlify NetlifyConfig `yaml:"netlify"`
	Amplify AmplifyConfig `yaml:"awsAmplify"`
}

// VercelConfig declares Vercel API access.
type VercelConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	TeamID  string `yaml:"teamId"`
	BaseURL string `yaml:"baseUrl"`
}

// NetlifyConfig declares Netlify API access.
type NetlifyConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Token       string `yaml:"token"`
	AccountSlug string `yaml:"accountSlug"`
	BaseURL     string `yaml:"baseUrl"`
}

// AmplifyConfig declares AWS Amplify access via the default credential chain.
type AmplifyConfig struct {
	Enabled bool   `yaml:"enabled"`
	Region  string `yaml:"region"`
	Profile string `yaml:"profile"`
}

// NotificationConfig governs alert delivery.
type NotificationConfig struct {
	WebhookURL string `yaml:"webhookUrl"`
	Rule       string `yaml:"rule"`
	Workers    int    `yaml:"workers"`
	Queue      int    `yaml:"queue"`
}

// ServerConfig sets the control HTTP server listen address.
type ServerConfig struct {
	Listen string `yaml:"listen"`
}

// TelemetryConfig configures OTLP exporters.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlpEndpoint"`
	ServiceName  string `yaml:"serviceName"`
}

// Default returns the default statusdeck configuration.
func Default() AppConfig {
	return AppConfig{
		Environment: EnvProd,
		Polling: PollingConfig{
			Interval:    60 * time.Second,
			MinInterval: 20 * time.Second,
			Retention:   20,
		},
		Providers: ProviderSet{
			Vercel:  VercelConfig{Enabled: false, Token: "", TeamID: "", BaseURL: ""},
			Netlify: NetlifyConfig{Enabled: false, Token: "", AccountSlug: "", BaseURL: ""},
			Amplify: AmplifyConfig{Enabled: false, Region: "", Profile: ""},
		},
		Notifications: NotificationConfig{
			WebhookURL: "",
			Rule:       "",
			Workers:    2,
			Queue:      64,
		},
		Server:    ServerConfig{Listen: "127.0.0.1:8787"},
		Telemetry: TelemetryConfig{OTLPEndpoint: "", ServiceName: "statusdeck"},
	}
}

// Load reads the configuration file at path, applies environment overrides,
// and validates the result. An empty path falls back to STATUSDECK_CONFIG,
// then to config/statusdeck.yaml; a missing file yields the defaults so the
// binary runs with environment variables alone.
func Load(path string) (AppConfig, error) {
	cfg := Default()

	path = strings.TrimSpace(path)
	if path == "" {
		path = strings.TrimSpace(os.Getenv("STATUSDECK_CONFIG"))
	}
	explicit := path != ""
	if path == "" {
		path = "config/statusdeck.yaml"
	}

	file, err := os.Open(filepath.Clean(path)) // #nosec G304 -- configuration paths are controlled by operators.
	switch {
	case err == nil:
		defer func() {
			_ = file.Close()
		}()
		raw, readErr := io.ReadAll(file)
		if readErr != nil {
			return AppConfig{}, fmt.Errorf("read config: %w", readErr)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return AppConfig{}, fmt.Errorf("unmarshal config: %w", err)
		}
	case os.IsNotExist(err) && !explicit:
		// Defaults plus environment overrides.
	default:
		return AppConfig{}, fmt.Errorf("open config: %w", err)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func (c *AppConfig) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("STATUSDECK_ENV")); v != "" {
		c.Environment = Environment(strings.ToLower(v))
	}
	if v := strings.TrimSpace(os.Getenv("STATUSDECK_POLL_INTERVAL")); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			c.Polling.Interval = dur
		}
	}
	if v := strings.TrimSpace(os.Getenv("STATUSDECK_LISTEN")); v != "" {
		c.Server.Listen = v
	}
	if v := strings.TrimSpace(os.Getenv("STATUSDECK_WEBHOOK_URL")); v != "" {
		c.Notifications.WebhookURL = v
	}
	if v := strings.TrimSpace(os.Getenv("STATUSDECK_OTLP_ENDPOINT")); v != "" {
		c.Telemetry.OTLPEndpoint = v
	}
	if v := strings.TrimSpace(os.Getenv("VERCEL_TOKEN")); v != "" {
		c.Providers.Vercel.Token = v
		c.Providers.Vercel.Enabled = true
	}
	if v := strings.TrimSpace(os.Getenv("VERCEL_TEAM_ID")); v != "" {
		c.Providers.Vercel.TeamID = v
	}
	if v := strings.TrimSpace(os.Getenv("NETLIFY_TOKEN")); v != "" {
		c.Providers.Netlify.Token = v
		c.Providers.Netlify.Enabled = true
	}
	if v := strings.TrimSpace(os.Getenv("NETLIFY_ACCOUNT_SLUG")); v != "" {
		c.Providers.Netlify.AccountSlug = v
	}
	if v := strings.TrimSpace(os.Getenv("STATUSDECK_AMPLIFY_REGION")); v != "" {
		c.Providers.Amplify.Region = v
		c.Providers.Amplify.Enabled = true
	}
	if v := strings.TrimSpace(os.Getenv("STATUSDECK_AMPLIFY_PROFILE")); v != "" {
		c.Providers.Amplify.Profile = v
	}
}

// Validate performs semantic validation on the loaded configuration.
func (c AppConfig) Validate() error {
	switch c.Environment {
	case EnvDev, EnvStaging, EnvProd:
	default:
		return fmt.Errorf("environment must be dev|staging|prod")
	}
	if c.Polling.Interval <= 0 {
		return fmt.Errorf("polling interval must be >0")
	}
	if c.Polling.MinInterval <= 0 {
		return fmt.Errorf("polling minInterval must be >0")
	}
	if c.Polling.Retention <= 0 {
		return fmt.Errorf("polling retention must be >0")
	}
	if c.Providers.Vercel.Enabled && strings.TrimSpace(c.Providers.Vercel.Token) == "" {
		return fmt.Errorf("vercel enabled without token")
	}
	if c.Providers.Netlify.Enabled && strings.TrimSpace(c.Providers.Netlify.Token) == "" {
		return fmt.Errorf("netlify enabled without token")
	}
	if hook := strings.TrimSpace(c.Notifications.WebhookURL); hook != "" {
		parsed, err := url.Parse(hook)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("notifications webhookUrl must be an absolute URL")
		}
		if c.Notifications.Workers <= 0 {
			return fmt.Errorf("notifications workers must be >0")
		}
		if c.Notifications.Queue < 0 {
			return fmt.Errorf("notifications queue must be >=0")
		}
	}
	if strings.TrimSpace(c.Server.Listen) == "" {
		return fmt.Errorf("server listen address required")
	}
	return nil
}

// EnabledProviders reports which provider integrations are switched on.
func (c AppConfig) EnabledProviders() []string {
	var out []string
	if c.Providers.Vercel.Enabled {
		out = append(out, "vercel")
	}
	if c.Providers.Netlify.Enabled {
		out = append(out, "netlify")
	}
	if c.Providers.Amplify.Enabled {
		out = append(out, "awsAmplify")
	}
	return out
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, EnvProd, cfg.Environment)
	require.Equal(t, 60*time.Second, cfg.Polling.Interval)
	require.Empty(t, cfg.EnabledProviders())
}

func TestLoadExplicitMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "statusdeck.yaml")
	doc := `
environment: staging
polling:
  interval: 90s
  minInterval: 30s
  retention: 10
providers:
  vercel:
    enabled: true
    token: tok-123
    teamId: team-1
  netlify:
    enabled: true
    token: tok-456
    accountSlug: acme
notifications:
  webhookUrl: https://hooks.example.com/deploys
  rule: "function allow(alert) { return true; }"
  workers: 4
  queue: 128
server:
  listen: 0.0.0.0:9090
telemetry:
  otlpEndpoint: http://localhost:4318
  serviceName: statusdeck-stage
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, EnvStaging, cfg.Environment)
	require.Equal(t, 90*time.Second, cfg.Polling.Interval)
	require.Equal(t, 10, cfg.Polling.Retention)
	require.True(t, cfg.Providers.Vercel.Enabled)
	require.Equal(t, "team-1", cfg.Providers.Vercel.TeamID)
	require.Equal(t, "acme", cfg.Providers.Netlify.AccountSlug)
	require.Equal(t, "https://hooks.example.com/deploys", cfg.Notifications.WebhookURL)
	require.Equal(t, "0.0.0.0:9090", cfg.Server.Listen)
	require.ElementsMatch(t, []string{"vercel", "netlify"}, cfg.EnabledProviders())
}

func TestEnvOverridesEnableProviders(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("STATUSDECK_ENV", "dev")
	t.Setenv("STATUSDECK_POLL_INTERVAL", "45s")
	t.Setenv("VERCEL_TOKEN", "tok-env")
	t.Setenv("STATUSDECK_WEBHOOK_URL", "https://hooks.example.com/x")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, EnvDev, cfg.Environment)
	require.Equal(t, 45*time.Second, cfg.Polling.Interval)
	require.True(t, cfg.Providers.Vercel.Enabled)
	require.Equal(t, "tok-env", cfg.Providers.Vercel.Token)
	require.Equal(t, "https://hooks.example.com/x", cfg.Notifications.WebhookURL)
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*AppConfig)
	}{
		{"unknown environment", func(c *AppConfig) { c.Environment = "qa" }},
		{"zero interval", func(c *AppConfig) { c.Polling.Interval = 0 }},
		{"zero retention", func(c *AppConfig) { c.Polling.Retention = 0 }},
		{"vercel without token", func(c *AppConfig) { c.Providers.Vercel.Enabled = true }},
		{"netlify without token", func(c *AppConfig) { c.Providers.Netlify.Enabled = true }},
		{"relative webhook url", func(c *AppConfig) { c.Notifications.WebhookURL = "/hooks" }},
		{"empty listen", func(c *AppConfig) { c.Server.Listen = " " }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

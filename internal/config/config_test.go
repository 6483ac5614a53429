package config

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"go.yaml.in/yaml/v3"
)

// resetViper resets viper global state and applies the defaults the same way
// initConfig() in cmd/root.go does, plus the two keys without defaults.
func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	SetDefaults()
	viper.Set("tracker.url", "https://tracker.test")
	viper.Set("tracker.campaign-token", "token")
}

// writeConfigFile writes YAML content to a temp file.
func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

// loadConfigFile merges a YAML config file into viper.
func loadConfigFile(t *testing.T, path string) {
	t.Helper()
	viper.SetConfigFile(path)
	if err := viper.MergeInConfig(); err != nil {
		t.Fatalf("failed to merge config file: %v", err)
	}
}

func TestDefaultConfig(t *testing.T) {
	resetViper(t)

	cfg, err := BuildConfigFromViper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"BindAddress", cfg.BindAddress, "127.0.0.1"},
		{"Port", cfg.Port, 8080},
		{"ListenAddr", cfg.ListenAddr, "127.0.0.1:8080"},
		{"LogLevel", cfg.LogLevel, "info"},
		{"Tracker.URL", cfg.Tracker.URL, "https://tracker.test"},
		{"Tracker.Debug", cfg.Tracker.Debug, false},
		{"Tracker.InsecureSkipVerify", cfg.Tracker.InsecureSkipVerify, false},
		{"Session.Enabled", cfg.Session.Enabled, true},
		{"Session.CookieName", cfg.Session.CookieName, "RELAYSESSID"},
		{"Session.IdleTTL", cfg.Session.IdleTTL, 30},
		{"Session.MaxSessions", cfg.Session.MaxSessions, 100000},
		{"IP.MobileProxyMarker", cfg.IP.MobileProxyMarker, "mini"},
		{"RateLimit.Enabled", cfg.RateLimit.Enabled, false},
		{"RateLimit.RPS", cfg.RateLimit.RPS, 5.0},
		{"RateLimit.Burst", cfg.RateLimit.Burst, 20},
		{"RateLimit.TrustForwarded", cfg.RateLimit.TrustForwarded, false},
		{"API.Address", cfg.API.Address, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestConfigFromFile(t *testing.T) {
	viper.Reset()
	SetDefaults()

	content := `
bind-address: 0.0.0.0
port: 9000
log-level: DEBUG
tracker:
  url: " https://clicks.example.com "
  campaign-token: abc123
  debug: true
  send-all-params: true
  send-utm-labels: true
  force-redirect-offer: true
  current-page-as-referrer: true
  keyword: shoes
session:
  enabled: true
  cookie-name: SID
  idle-ttl: 60
  max-sessions: 10
ip:
  mobile-proxy-marker: "Opera Mini|UCBrowser"
rate-limit:
  enabled: true
  rps: 1.5
  burst: 3
  trust-forwarded: true
api:
  address: 127.0.0.1:9191
  secret: s3cret
`
	loadConfigFile(t, writeConfigFile(t, content))

	cfg, err := BuildConfigFromViper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.ListenAddr != "0.0.0.0:9000" {
		t.Errorf("ListenAddr = %v, want 0.0.0.0:9000", cfg.ListenAddr)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %v, want debug", cfg.LogLevel)
	}
	if cfg.Tracker.URL != "https://clicks.example.com" {
		t.Errorf("Tracker.URL = %q", cfg.Tracker.URL)
	}
	if cfg.Tracker.CampaignToken != "abc123" {
		t.Errorf("Tracker.CampaignToken = %v, want abc123", cfg.Tracker.CampaignToken)
	}
	if !cfg.Tracker.Debug || !cfg.Tracker.SendAllParams || !cfg.Tracker.SendUTMLabels ||
		!cfg.Tracker.ForceRedirectOffer || !cfg.Tracker.CurrentPageAsReferrer {
		t.Errorf("tracker flags not all set: %+v", cfg.Tracker)
	}
	if cfg.Tracker.Keyword != "shoes" {
		t.Errorf("Tracker.Keyword = %v, want shoes", cfg.Tracker.Keyword)
	}
	if cfg.Session.CookieName != "SID" || cfg.Session.IdleTTL != 60 || cfg.Session.MaxSessions != 10 {
		t.Errorf("Session = %+v", cfg.Session)
	}
	if cfg.Session.IdleTimeout().Minutes() != 60 {
		t.Errorf("IdleTimeout = %v, want 1h", cfg.Session.IdleTimeout())
	}
	if cfg.IP.MobileProxyMarker != "Opera Mini|UCBrowser" {
		t.Errorf("IP.MobileProxyMarker = %v", cfg.IP.MobileProxyMarker)
	}
	if !cfg.RateLimit.Enabled || cfg.RateLimit.RPS != 1.5 || cfg.RateLimit.Burst != 3 || !cfg.RateLimit.TrustForwarded {
		t.Errorf("RateLimit = %+v", cfg.RateLimit)
	}
	if cfg.API.Address != "127.0.0.1:9191" || cfg.API.Secret != "s3cret" {
		t.Errorf("API = %+v", cfg.API)
	}
}

func TestEnvOverride(t *testing.T) {
	resetViper(t)
	t.Setenv("CLICKRELAY_TRACKER_KEYWORD", "from-env")
	t.Setenv("CLICKRELAY_PORT", "7070")
	viper.SetEnvPrefix("CLICKRELAY")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	cfg, err := BuildConfigFromViper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Tracker.Keyword != "from-env" {
		t.Errorf("Tracker.Keyword = %v, want from-env", cfg.Tracker.Keyword)
	}
	if cfg.Port != 7070 {
		t.Errorf("Port = %v, want 7070", cfg.Port)
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value interface{}
	}{
		{"missing tracker url", "tracker.url", ""},
		{"tracker url without scheme", "tracker.url", "tracker.test"},
		{"missing campaign token", "tracker.campaign-token", ""},
		{"port zero", "port", 0},
		{"port too large", "port", 70000},
		{"bad log level", "log-level", "verbose"},
		{"bad marker", "ip.mobile-proxy-marker", "(unclosed"},
		{"no cookie name", "session.cookie-name", ""},
		{"zero idle ttl", "session.idle-ttl", 0},
		{"zero rps", "rate-limit.rps", 0},
		{"bad api address", "api.address", "not an address"},
		{"missing template", "landing.template", "/nonexistent/landing.html"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetViper(t)
			viper.Set(tt.key, tt.value)

			_, err := BuildConfigFromViper()
			if err == nil {
				t.Fatalf("expected validation error for %s=%v, got nil", tt.key, tt.value)
			}
			if !strings.Contains(err.Error(), "invalid config") {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestSessionCookieOptionalWhenDisabled(t *testing.T) {
	resetViper(t)
	viper.Set("session.enabled", false)
	viper.Set("session.cookie-name", "")

	if _, err := BuildConfigFromViper(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGenerateTemplateConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg, err := GenerateTemplateConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("template not written: %v", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		t.Fatalf("template is not valid YAML: %v", err)
	}
	if _, ok := raw["listen-addr"]; ok {
		t.Error("derived listen address must not be written")
	}

	viper.Reset()
	SetDefaults()
	loadConfigFile(t, path)
	loaded, err := BuildConfigFromViper()
	if err != nil {
		t.Fatalf("template does not validate: %v", err)
	}
	if loaded.Tracker.URL != cfg.Tracker.URL || loaded.Session != cfg.Session || loaded.RateLimit != cfg.RateLimit {
		t.Errorf("template round trip mismatch: %+v vs %+v", loaded, cfg)
	}
}

func TestSecretsHiddenFromJSON(t *testing.T) {
	resetViper(t)
	viper.Set("api.secret", "s3cret")

	cfg, err := BuildConfigFromViper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}
	if strings.Contains(string(data), "s3cret") || strings.Contains(string(data), `"token"`) {
		t.Errorf("secrets leaked: %s", data)
	}
}

func TestLogValue(t *testing.T) {
	resetViper(t)
	cfg, err := BuildConfigFromViper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v := cfg.LogValue()
	if v.Kind() != slog.KindGroup {
		t.Fatalf("LogValue kind = %v, want group", v.Kind())
	}
	found := false
	for _, a := range v.Group() {
		if a.Key == "Tracker" && a.Value.String() == "https://tracker.test" {
			found = true
		}
	}
	if !found {
		t.Error("Tracker attribute missing from LogValue")
	}
}

package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v3"
)

// GenerateTemplateConfig returns a starter config. When path is
// not empty the YAML is written there as well.
func GenerateTemplateConfig(path string) (Config, error) {
	cfg := Config{
		BindAddress: DefaultBindAddress,
		Port:        DefaultPort,

		LogLevel: DefaultLogLevel,

		Tracker: TrackerConfig{
			URL:           "https://tracker.example.com",
			CampaignToken: "CHANGE_ME",
			SendUTMLabels: true,
		},

		Session: SessionConfig{
			Enabled:     true,
			CookieName:  DefaultSessionCookie,
			IdleTTL:     DefaultSessionIdleTTL,
			MaxSessions: DefaultMaxSessions,
		},

		IP: IPConfig{
			MobileProxyMarker: DefaultMobileProxyMarker,
		},

		RateLimit: RateLimitConfig{
			Enabled: false,
			RPS:     DefaultRateLimitRPS,
			Burst:   DefaultRateLimitBurst,
		},

		API: APIConfig{
			Address: "127.0.0.1:9090",
		},
	}

	if path != "" {
		data, err := MarshalYAML(&cfg)
		if err != nil {
			return Config{}, err
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			return Config{}, fmt.Errorf("failed to write template config to file: %w", err)
		}
	}
	return cfg, nil
}

// MarshalYAML renders cfg in the config file format.
func MarshalYAML(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config to YAML: %w", err)
	}
	return data, nil
}

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	DefaultBindAddress       = "127.0.0.1"
	DefaultPort              = 8080
	DefaultLogLevel          = "info"
	DefaultSessionCookie     = "RELAYSESSID"
	DefaultSessionIdleTTL    = 30 // minutes
	DefaultMaxSessions       = 100000
	DefaultMobileProxyMarker = "mini"
	DefaultRateLimitRPS      = 5
	DefaultRateLimitBurst    = 20
)

type Config struct {
	BindAddress string `yaml:"bind-address" json:"bind_address" validate:"required,ip|hostname"`
	Port        int    `yaml:"port" json:"port" validate:"min=1,max=65535"`
	ListenAddr  string `yaml:"-" json:"listen_addr"`
	LogLevel    string `yaml:"log-level" json:"log_level" validate:"oneof=debug info warn error"`

	Tracker   TrackerConfig   `yaml:"tracker" json:"tracker"`
	Session   SessionConfig   `yaml:"session" json:"session"`
	IP        IPConfig        `yaml:"ip" json:"ip"`
	Landing   LandingConfig   `yaml:"landing" json:"landing"`
	RateLimit RateLimitConfig `yaml:"rate-limit" json:"rate_limit"`
	API       APIConfig       `yaml:"api" json:"api"`
}

type TrackerConfig struct {
	URL                   string `yaml:"url" json:"url" validate:"required,http_url"`
	CampaignToken         string `yaml:"campaign-token" json:"-" validate:"required"`
	Debug                 bool   `yaml:"debug" json:"debug"`
	InsecureSkipVerify    bool   `yaml:"insecure-skip-verify" json:"insecure_skip_verify"`
	SendAllParams         bool   `yaml:"send-all-params" json:"send_all_params"`
	SendUTMLabels         bool   `yaml:"send-utm-labels" json:"send_utm_labels"`
	ForceRedirectOffer    bool   `yaml:"force-redirect-offer" json:"force_redirect_offer"`
	CurrentPageAsReferrer bool   `yaml:"current-page-as-referrer" json:"current_page_as_referrer"`
	Keyword               string `yaml:"keyword,omitempty" json:"keyword,omitempty"`
}

type SessionConfig struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	CookieName  string `yaml:"cookie-name" json:"cookie_name" validate:"required_if=Enabled true"`
	IdleTTL     int    `yaml:"idle-ttl" json:"idle_ttl" validate:"min=1"`
	MaxSessions int    `yaml:"max-sessions" json:"max_sessions" validate:"min=1"`
}

// IdleTimeout returns IdleTTL, which is kept in minutes.
func (s SessionConfig) IdleTimeout() time.Duration {
	return time.Duration(s.IdleTTL) * time.Minute
}

type IPConfig struct {
	MobileProxyMarker string `yaml:"mobile-proxy-marker" json:"mobile_proxy_marker" validate:"omitempty,regexp2"`
}

type LandingConfig struct {
	// Template is an html/template file. Empty selects the built-in page.
	Template string `yaml:"template,omitempty" json:"template,omitempty" validate:"omitempty,file"`
}

type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" json:"enabled"`
	RPS     float64 `yaml:"rps" json:"rps" validate:"gt=0"`
	Burst   int     `yaml:"burst" json:"burst" validate:"min=1"`

	// TrustForwarded keys buckets on the forwarded visitor IP instead of the
	// connection peer. Enable it only behind a proxy that rewrites those headers.
	TrustForwarded bool `yaml:"trust-forwarded" json:"trust_forwarded"`
}

type APIConfig struct {
	Address string `yaml:"address,omitempty" json:"address,omitempty" validate:"omitempty,hostname_port"`
	Secret  string `yaml:"secret,omitempty" json:"-"`
}

// SetDefaults registers every key on the global viper, so AutomaticEnv can
// resolve keys that have no flag and no file entry.
func SetDefaults() {
	viper.SetDefault("bind-address", DefaultBindAddress)
	viper.SetDefault("port", DefaultPort)
	viper.SetDefault("log-level", DefaultLogLevel)
	viper.SetDefault("tracker.url", "")
	viper.SetDefault("tracker.campaign-token", "")
	viper.SetDefault("tracker.debug", false)
	viper.SetDefault("tracker.insecure-skip-verify", false)
	viper.SetDefault("tracker.send-all-params", false)
	viper.SetDefault("tracker.send-utm-labels", false)
	viper.SetDefault("tracker.force-redirect-offer", false)
	viper.SetDefault("tracker.current-page-as-referrer", false)
	viper.SetDefault("tracker.keyword", "")
	viper.SetDefault("session.enabled", true)
	viper.SetDefault("session.cookie-name", DefaultSessionCookie)
	viper.SetDefault("session.idle-ttl", DefaultSessionIdleTTL)
	viper.SetDefault("session.max-sessions", DefaultMaxSessions)
	viper.SetDefault("ip.mobile-proxy-marker", DefaultMobileProxyMarker)
	viper.SetDefault("rate-limit.rps", DefaultRateLimitRPS)
	viper.SetDefault("rate-limit.enabled", false)
	viper.SetDefault("rate-limit.burst", DefaultRateLimitBurst)
	viper.SetDefault("rate-limit.trust-forwarded", false)
	viper.SetDefault("landing.template", "")
	viper.SetDefault("api.address", "")
	viper.SetDefault("api.secret", "")
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("regexp2", func(fl validator.FieldLevel) bool {
		_, err := regexp2.Compile(fl.Field().String(), regexp2.IgnoreCase)
		return err == nil
	})
	return v
}

// BuildConfigFromViper decodes the merged viper state (flags, env, file,
// defaults) and validates it.
func BuildConfigFromViper() (*Config, error) {
	var cfg Config
	err := viper.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "yaml"
	})
	if err != nil {
		return nil, fmt.Errorf("viper.Unmarshal: %w", err)
	}

	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.Tracker.URL = strings.TrimSpace(cfg.Tracker.URL)
	cfg.ListenAddr = net.JoinHostPort(cfg.BindAddress, strconv.Itoa(cfg.Port))

	if err := newValidator().Struct(&cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed on %s", fe.Namespace(), fe.Tag()))
			}
			return nil, fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("Log Level", c.LogLevel),
		slog.String("Listen Address", c.ListenAddr),
		slog.String("Tracker", c.Tracker.URL),
		slog.Bool("Debug", c.Tracker.Debug),
		slog.Bool("Send All Params", c.Tracker.SendAllParams),
		slog.Bool("Sessions", c.Session.Enabled),
		slog.String("Session Cookie", c.Session.CookieName),
		slog.String("Mobile Proxy Marker", c.IP.MobileProxyMarker),
		slog.Bool("Rate Limit", c.RateLimit.Enabled),
		slog.String("API Address", c.API.Address),
	)
}

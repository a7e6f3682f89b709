// Package config loads environment variables into the typed Config used
// across the relay. Defaults let the binary start locally with only
// CLOUD_FUNCTION_URL set; use ValidateChatReady before starting the Twitch
// listener.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	// Remote endpoint
	CloudFunctionURL string        `env:"CLOUD_FUNCTION_URL"`
	FlushInterval    time.Duration `env:"FLUSH_INTERVAL" envDefault:"60s"`
	DeliveryTimeout  time.Duration `env:"DELIVERY_TIMEOUT" envDefault:"10s"`

	// Classification
	MessageMaxLength int      `env:"MESSAGE_MAX_LENGTH" envDefault:"200"`
	SlotPrefixes     []string `env:"SLOT_PREFIXES" envDefault:"P1:,P2:" envSeparator:","`
	SlotCommands     []string `env:"SLOT_COMMANDS" envDefault:"!p1,!p2" envSeparator:","`
	// ChannelOwner may start a new match ("game X vs Y"); defaults to the first channel.
	ChannelOwner string `env:"CHANNEL_OWNER"`

	// Twitch
	TwitchChannels     []string `env:"TWITCH_CHANNEL" envSeparator:","`
	TwitchBotUsername  string   `env:"TWITCH_BOT_USERNAME"`
	TwitchOAuthToken   string   `env:"TWITCH_OAUTH_TOKEN"`
	TwitchClientID     string   `env:"TWITCH_CLIENT_ID"`
	TwitchClientSecret string   `env:"TWITCH_CLIENT_SECRET"`

	// Token store
	DBDsn         string `env:"DB_DSN" envDefault:"tokens.db"`
	EncryptionKey string `env:"ENCRYPTION_KEY"`

	// Ops
	HTTPAddr         string  `env:"HTTP_ADDR" envDefault:":8080"`
	OTLPEndpoint     string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName      string  `env:"OTEL_SERVICE_NAME" envDefault:"slot-relay"`
	TraceSampleRatio float64 `env:"OTEL_TRACES_SAMPLER_ARG" envDefault:"1"`
}

// Load parses the environment and validates relay settings. Missing Twitch
// credentials are not an error here; they only disable the chat listener.
func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.TwitchChannels = normalizeChannels(cfg.TwitchChannels)
	for i, p := range cfg.SlotPrefixes {
		cfg.SlotPrefixes[i] = strings.TrimSpace(p)
	}
	for i, c := range cfg.SlotCommands {
		cfg.SlotCommands[i] = strings.TrimSpace(c)
	}
	cfg.ChannelOwner = strings.ToLower(strings.TrimSpace(cfg.ChannelOwner))
	if cfg.ChannelOwner == "" && len(cfg.TwitchChannels) > 0 {
		cfg.ChannelOwner = cfg.TwitchChannels[0]
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.FlushInterval <= 0 {
		return fmt.Errorf("FLUSH_INTERVAL must be positive, got %s", c.FlushInterval)
	}
	if c.DeliveryTimeout <= 0 {
		return fmt.Errorf("DELIVERY_TIMEOUT must be positive, got %s", c.DeliveryTimeout)
	}
	if c.MessageMaxLength <= 0 {
		return fmt.Errorf("MESSAGE_MAX_LENGTH must be positive, got %d", c.MessageMaxLength)
	}
	if len(c.SlotPrefixes) != 2 || c.SlotPrefixes[0] == "" || c.SlotPrefixes[1] == "" {
		return fmt.Errorf("SLOT_PREFIXES must list exactly two non-empty prefixes, got %q", c.SlotPrefixes)
	}
	if c.SlotPrefixes[0] == c.SlotPrefixes[1] {
		return fmt.Errorf("SLOT_PREFIXES must be distinct, got %q twice", c.SlotPrefixes[0])
	}
	if len(c.SlotCommands) != 2 || c.SlotCommands[0] == "" || c.SlotCommands[1] == "" || c.SlotCommands[0] == c.SlotCommands[1] {
		return fmt.Errorf("SLOT_COMMANDS must list two distinct non-empty commands, got %q", c.SlotCommands)
	}
	for _, cmd := range c.SlotCommands {
		if strings.ContainsAny(cmd, " \t") {
			return fmt.Errorf("SLOT_COMMANDS entry %q must not contain whitespace", cmd)
		}
	}
	if c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1 {
		return fmt.Errorf("OTEL_TRACES_SAMPLER_ARG must be within [0,1], got %v", c.TraceSampleRatio)
	}
	if c.CloudFunctionURL != "" {
		u, err := url.Parse(c.CloudFunctionURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid CLOUD_FUNCTION_URL %q", c.CloudFunctionURL)
		}
	}
	return nil
}

// ValidateRelayReady checks that a delivery endpoint is configured.
func (c *Config) ValidateRelayReady() error {
	if c.CloudFunctionURL == "" {
		return errors.New("missing CLOUD_FUNCTION_URL")
	}
	return nil
}

// ValidateChatReady checks the fields the Twitch listener needs. A token may
// come from TWITCH_OAUTH_TOKEN or the token store, so only the channel and
// bot username are required here.
func (c *Config) ValidateChatReady() error {
	if len(c.TwitchChannels) == 0 || c.TwitchBotUsername == "" {
		return errors.New("missing twitch env: require TWITCH_CHANNEL, TWITCH_BOT_USERNAME")
	}
	return nil
}

// RefreshEnabled reports whether stored bot tokens can be refreshed.
func (c *Config) RefreshEnabled() bool {
	return c.TwitchClientID != "" && c.TwitchClientSecret != ""
}

func normalizeChannels(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, ch := range in {
		ch = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ch), "#"))
		if ch == "" || seen[ch] {
			continue
		}
		seen[ch] = true
		out = append(out, ch)
	}
	return out
}

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	ProviderVenice    = "venice"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"

	CaptionerHuggingFace  = "huggingface"
	CaptionerOpenAIVision = "openai_vision"

	DefaultVeniceAPIBase       = "https://api.venice.ai/api/v1"
	DefaultHuggingFaceAPIBase  = "https://api-inference.huggingface.co/models"
	DefaultTwitterAPIBase      = "https://api.twitter.com"
	DefaultMissingImageReply   = "Please attach an image and I'll critique it."
	DefaultPollIntervalSeconds = 15
)

// FlexibleStringSlice is a []string that also accepts JSON numbers,
// so allow_from can contain both "123" and 123.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

type Config struct {
	Workspace string          `json:"workspace" env:"ARTCRITIC_WORKSPACE"`
	Critic    CriticConfig    `json:"critic" envPrefix:"ARTCRITIC_CRITIC_"`
	Captioner CaptionerConfig `json:"captioner" envPrefix:"ARTCRITIC_CAPTIONER_"`
	Channels  ChannelsConfig  `json:"channels" envPrefix:"ARTCRITIC_CHANNELS_"`
	Providers ProvidersConfig `json:"providers" envPrefix:"ARTCRITIC_PROVIDERS_"`
	Gateway   GatewayConfig   `json:"gateway" envPrefix:"ARTCRITIC_GATEWAY_"`
	Logging   LoggingConfig   `json:"logging" envPrefix:"ARTCRITIC_LOGGING_"`
	mu        sync.RWMutex
}

type CriticConfig struct {
	Mode string `json:"mode" env:"MODE"`
	// Provider serves the text critique and, unless VisionProvider is set,
	// the direct image critique.
	Provider       string  `json:"provider" env:"PROVIDER"`
	Model          string  `json:"model" env:"MODEL"`
	VisionProvider string  `json:"vision_provider,omitempty" env:"VISION_PROVIDER"`
	VisionModel    string  `json:"vision_model,omitempty" env:"VISION_MODEL"`
	MaxTokens      int     `json:"max_tokens" env:"MAX_TOKENS"`
	Temperature    float64 `json:"temperature" env:"TEMPERATURE"`
	HTTPTimeout    int     `json:"http_timeout" env:"HTTP_TIMEOUT"` // seconds
	// ErrorReply replaces the structured failure detail in user replies.
	ErrorReply        string `json:"error_reply,omitempty" env:"ERROR_REPLY"`
	MissingImageReply string `json:"missing_image_reply" env:"MISSING_IMAGE_REPLY"`
}

type CaptionerConfig struct {
	Provider     string `json:"provider" env:"PROVIDER"`
	Model        string `json:"model" env:"MODEL"`
	APIBase      string `json:"api_base" env:"API_BASE"`
	APIKey       string `json:"api_key" env:"API_KEY"`
	MaxNewTokens int    `json:"max_new_tokens" env:"MAX_NEW_TOKENS"`
	Serialize    bool   `json:"serialize" env:"SERIALIZE"`
	Timeout      int    `json:"timeout" env:"TIMEOUT"` // seconds
}

type ChannelsConfig struct {
	Discord DiscordConfig `json:"discord" envPrefix:"DISCORD_"`
	Twitter TwitterConfig `json:"twitter" envPrefix:"TWITTER_"`
}

type DiscordConfig struct {
	Enabled        bool                `json:"enabled" env:"ENABLED"`
	Token          string              `json:"token" env:"TOKEN"`
	RequireMention bool                `json:"require_mention" env:"REQUIRE_MENTION"`
	AllowFrom      FlexibleStringSlice `json:"allow_from" env:"ALLOW_FROM"`
}

type TwitterConfig struct {
	Enabled      bool   `json:"enabled" env:"ENABLED"`
	ClientID     string `json:"client_id" env:"CLIENT_ID"`
	ClientSecret string `json:"client_secret" env:"CLIENT_SECRET"`
	AccessToken  string `json:"access_token" env:"ACCESS_TOKEN"`
	RefreshToken string `json:"refresh_token" env:"REFRESH_TOKEN"`
	// BearerToken is used as a static token when no OAuth2 user token is set.
	BearerToken         string              `json:"bearer_token,omitempty" env:"BEARER_TOKEN"`
	APIBase             string              `json:"api_base" env:"API_BASE"`
	PollIntervalSeconds int                 `json:"poll_interval_seconds" env:"POLL_INTERVAL_SECONDS"`
	PollSchedule        string              `json:"poll_schedule,omitempty" env:"POLL_SCHEDULE"` // cron expression
	MaxResults          int                 `json:"max_results" env:"MAX_RESULTS"`
	AllowFrom           FlexibleStringSlice `json:"allow_from" env:"ALLOW_FROM"`
}

type ProvidersConfig struct {
	Venice    ProviderConfig `json:"venice" envPrefix:"VENICE_"`
	OpenAI    ProviderConfig `json:"openai" envPrefix:"OPENAI_"`
	Anthropic ProviderConfig `json:"anthropic" envPrefix:"ANTHROPIC_"`
}

type ProviderConfig struct {
	APIKey  string `json:"api_key" env:"API_KEY"`
	APIBase string `json:"api_base" env:"API_BASE"`
}

type GatewayConfig struct {
	Enabled bool   `json:"enabled" env:"ENABLED"`
	Host    string `json:"host" env:"HOST"`
	Port    int    `json:"port" env:"PORT"`
}

type LoggingConfig struct {
	Level           string `json:"level" env:"LEVEL"`
	FileEnabled     bool   `json:"file_enabled" env:"FILE_ENABLED"`
	FilePath        string `json:"file_path" env:"FILE_PATH"`
	RotationEnabled bool   `json:"rotation_enabled" env:"ROTATION_ENABLED"`
	MaxAgeDays      int    `json:"max_age_days" env:"MAX_AGE_DAYS"`
	MaxSizeMB       int    `json:"max_size_mb" env:"MAX_SIZE_MB"`
}

func DefaultConfig() *Config {
	return &Config{
		Workspace: "~/.artcritic/workspace",
		Critic: CriticConfig{
			Mode:              "caption_then_critique",
			Provider:          ProviderVenice,
			Model:             "venice-uncensored",
			MaxTokens:         300,
			Temperature:       0,
			HTTPTimeout:       60,
			MissingImageReply: DefaultMissingImageReply,
		},
		Captioner: CaptionerConfig{
			Provider:     CaptionerHuggingFace,
			Model:        "Salesforce/blip-image-captioning-base",
			APIBase:      DefaultHuggingFaceAPIBase,
			MaxNewTokens: 50,
			Serialize:    true,
			Timeout:      60,
		},
		Channels: ChannelsConfig{
			Discord: DiscordConfig{
				Enabled:   false,
				AllowFrom: FlexibleStringSlice{},
			},
			Twitter: TwitterConfig{
				Enabled:             false,
				APIBase:             DefaultTwitterAPIBase,
				PollIntervalSeconds: DefaultPollIntervalSeconds,
				MaxResults:          100,
				AllowFrom:           FlexibleStringSlice{},
			},
		},
		Providers: ProvidersConfig{
			Venice:    ProviderConfig{APIBase: DefaultVeniceAPIBase},
			OpenAI:    ProviderConfig{},
			Anthropic: ProviderConfig{},
		},
		Gateway: GatewayConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8000,
		},
		Logging: LoggingConfig{
			Level:           "info",
			FileEnabled:     false,
			FilePath:        "~/.artcritic/workspace/artcritic.log",
			RotationEnabled: true,
			MaxAgeDays:      7,
			MaxSizeMB:       50,
		},
	}
}

// DefaultPath is ARTCRITIC_CONFIG or ~/.artcritic/config.json.
func DefaultPath() string {
	if p := strings.TrimSpace(os.Getenv("ARTCRITIC_CONFIG")); p != "" {
		return expandHome(p)
	}
	return expandHome("~/.artcritic/config.json")
}

// LoadConfig reads path over the defaults and then applies the environment.
// A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	applyLegacyEnvOverrides(cfg)
	resolveEnvRefs(cfg)

	return cfg, nil
}

// applyLegacyEnvOverrides honours the variable names the original bots were
// deployed with.
func applyLegacyEnvOverrides(cfg *Config) {
	bindings := []struct {
		target *string
		key    string
	}{
		{&cfg.Channels.Discord.Token, "DISCORD_BOT_TOKEN"},
		{&cfg.Providers.Venice.APIKey, "VENICE_API_KEY"},
		{&cfg.Providers.OpenAI.APIKey, "OPENAI_API_KEY"},
		{&cfg.Providers.Anthropic.APIKey, "ANTHROPIC_API_KEY"},
		{&cfg.Captioner.APIKey, "HUGGINGFACE_API_KEY"},
		{&cfg.Channels.Twitter.ClientID, "TWITTER_CLIENT_ID"},
		{&cfg.Channels.Twitter.ClientSecret, "TWITTER_CLIENT_SECRET"},
		{&cfg.Channels.Twitter.AccessToken, "TWITTER_ACCESS_TOKEN"},
		{&cfg.Channels.Twitter.RefreshToken, "TWITTER_REFRESH_TOKEN"},
		{&cfg.Channels.Twitter.BearerToken, "TWITTER_BEARER_TOKEN"},
	}
	for _, b := range bindings {
		if *b.target != "" {
			continue
		}
		if v := strings.TrimSpace(os.Getenv(b.key)); v != "" {
			*b.target = v
		}
	}
}

func resolveEnvRefs(cfg *Config) {
	for _, p := range []*ProviderConfig{&cfg.Providers.Venice, &cfg.Providers.OpenAI, &cfg.Providers.Anthropic} {
		p.APIKey = resolveEnvRef(p.APIKey)
		p.APIBase = resolveEnvRef(p.APIBase)
	}
	cfg.Captioner.APIKey = resolveEnvRef(cfg.Captioner.APIKey)
	cfg.Channels.Discord.Token = resolveEnvRef(cfg.Channels.Discord.Token)
	tw := &cfg.Channels.Twitter
	tw.ClientID = resolveEnvRef(tw.ClientID)
	tw.ClientSecret = resolveEnvRef(tw.ClientSecret)
	tw.AccessToken = resolveEnvRef(tw.AccessToken)
	tw.RefreshToken = resolveEnvRef(tw.RefreshToken)
	tw.BearerToken = resolveEnvRef(tw.BearerToken)
}

func resolveEnvRef(v string) string {
	s := strings.TrimSpace(v)
	if s == "" {
		return v
	}
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		key := strings.TrimSpace(s[2 : len(s)-1])
		if key == "" {
			return v
		}
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
		return v
	}
	if strings.HasPrefix(s, "$") && len(s) > 1 {
		key := strings.TrimSpace(s[1:])
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
	}
	return v
}

// Validate reports every missing setting for the enabled components at once.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var errs []error
	switch strings.ToLower(strings.TrimSpace(c.Critic.Mode)) {
	case "caption_then_critique", "direct_image_critique":
	default:
		errs = append(errs, fmt.Errorf("critic.mode %q is not one of caption_then_critique, direct_image_critique", c.Critic.Mode))
	}
	if _, ok := c.providerLocked(c.Critic.Provider); !ok {
		errs = append(errs, fmt.Errorf("critic.provider %q is unknown", c.Critic.Provider))
	}
	if c.Critic.VisionProvider != "" {
		if _, ok := c.providerLocked(c.Critic.VisionProvider); !ok {
			errs = append(errs, fmt.Errorf("critic.vision_provider %q is unknown", c.Critic.VisionProvider))
		}
	}
	switch c.Captioner.Provider {
	case CaptionerHuggingFace, CaptionerOpenAIVision:
	default:
		errs = append(errs, fmt.Errorf("captioner.provider %q is not one of huggingface, openai_vision", c.Captioner.Provider))
	}
	if c.Channels.Discord.Enabled && c.Channels.Discord.Token == "" {
		errs = append(errs, errors.New("channels.discord.token is required when discord is enabled"))
	}
	tw := c.Channels.Twitter
	if tw.Enabled {
		if tw.AccessToken == "" && tw.BearerToken == "" {
			errs = append(errs, errors.New("channels.twitter.access_token or bearer_token is required when twitter is enabled"))
		}
		if tw.RefreshToken != "" && tw.ClientID == "" {
			errs = append(errs, errors.New("channels.twitter.client_id is required to refresh the access token"))
		}
		if tw.PollIntervalSeconds <= 0 && tw.PollSchedule == "" {
			errs = append(errs, errors.New("channels.twitter.poll_interval_seconds must be positive"))
		}
	}
	if c.Gateway.Enabled && (c.Gateway.Port <= 0 || c.Gateway.Port > 65535) {
		errs = append(errs, fmt.Errorf("gateway.port %d is out of range", c.Gateway.Port))
	}
	return errors.Join(errs...)
}

// Provider returns the credentials for a named model provider.
func (c *Config) Provider(name string) (ProviderConfig, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.providerLocked(name)
}

func (c *Config) providerLocked(name string) (ProviderConfig, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case ProviderVenice:
		return c.Providers.Venice, true
	case ProviderOpenAI:
		return c.Providers.OpenAI, true
	case ProviderAnthropic:
		return c.Providers.Anthropic, true
	}
	return ProviderConfig{}, false
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

func (c *Config) WorkspacePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Workspace)
}

func (c *Config) LogFilePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Logging.FilePath)
}

func (c *Config) CriticTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Critic.HTTPTimeout) * time.Second
}

func (c *Config) CaptionerTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Captioner.Timeout) * time.Second
}

func (c *Config) PollInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Channels.Twitter.PollIntervalSeconds <= 0 {
		return DefaultPollIntervalSeconds * time.Second
	}
	return time.Duration(c.Channels.Twitter.PollIntervalSeconds) * time.Second
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}

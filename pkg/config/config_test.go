package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestDefaultConfig_Critic verifies the deployment defaults of the critic
func TestDefaultConfig_Critic(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Critic.Mode != "caption_then_critique" {
		t.Errorf("Mode = %q, want caption_then_critique", cfg.Critic.Mode)
	}
	if cfg.Critic.Provider != ProviderVenice {
		t.Errorf("Provider = %q, want venice", cfg.Critic.Provider)
	}
	if cfg.Critic.Model != "venice-uncensored" {
		t.Errorf("Model = %q", cfg.Critic.Model)
	}
	if cfg.Critic.MissingImageReply != DefaultMissingImageReply {
		t.Errorf("MissingImageReply = %q", cfg.Critic.MissingImageReply)
	}
	if cfg.Providers.Venice.APIBase != DefaultVeniceAPIBase {
		t.Errorf("Venice api_base = %q", cfg.Providers.Venice.APIBase)
	}
}

func TestDefaultConfig_Captioner(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Captioner.Model != "Salesforce/blip-image-captioning-base" {
		t.Errorf("captioner model = %q", cfg.Captioner.Model)
	}
	if cfg.Captioner.MaxNewTokens != 50 {
		t.Errorf("max_new_tokens = %d, want 50", cfg.Captioner.MaxNewTokens)
	}
	if !cfg.Captioner.Serialize {
		t.Error("captioner should be serialized by default")
	}
}

// TestDefaultConfig_Channels verifies channels are disabled by default
func TestDefaultConfig_Channels(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Channels.Discord.Enabled {
		t.Error("Discord should be disabled by default")
	}
	if cfg.Channels.Twitter.Enabled {
		t.Error("Twitter should be disabled by default")
	}
	if cfg.Channels.Twitter.PollIntervalSeconds != 15 {
		t.Errorf("poll interval = %d, want 15", cfg.Channels.Twitter.PollIntervalSeconds)
	}
	if got := cfg.PollInterval(); got != 15*time.Second {
		t.Errorf("PollInterval() = %v", got)
	}
}

func TestDefaultConfig_Validates(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Critic.Mode = "vibes"
	cfg.Channels.Discord.Enabled = true
	cfg.Channels.Twitter.Enabled = true

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	for _, want := range []string{"critic.mode", "channels.discord.token", "channels.twitter.access_token"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q does not mention %s", msg, want)
		}
	}
}

func TestValidateModeSpellings(t *testing.T) {
	cases := []struct {
		mode string
		ok   bool
	}{
		{"caption_then_critique", true},
		{" Direct_Image_Critique ", true},
		{"caption", false},
		{"image", false},
	}
	for _, tc := range cases {
		cfg := DefaultConfig()
		cfg.Critic.Mode = tc.mode
		if err := cfg.Validate(); (err == nil) != tc.ok {
			t.Fatalf("Validate(mode=%q) = %v, want ok=%v", tc.mode, err, tc.ok)
		}
	}
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Critic.Model != "venice-uncensored" {
		t.Fatalf("expected defaults, got model %q", cfg.Critic.Model)
	}
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	raw := `{
		"critic": {"mode": "direct_image_critique", "model": "file-model"},
		"channels": {"discord": {"enabled": true, "token": "file-token", "allow_from": ["42", 7]}}
	}`
	if err := os.WriteFile(path, []byte(raw), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ARTCRITIC_CRITIC_MODEL", "env-model")
	t.Setenv("ARTCRITIC_CHANNELS_TWITTER_POLL_INTERVAL_SECONDS", "30")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Critic.Mode != "direct_image_critique" {
		t.Errorf("mode = %q", cfg.Critic.Mode)
	}
	if cfg.Critic.Model != "env-model" {
		t.Errorf("env should override file, got %q", cfg.Critic.Model)
	}
	if cfg.Channels.Twitter.PollIntervalSeconds != 30 {
		t.Errorf("poll interval = %d", cfg.Channels.Twitter.PollIntervalSeconds)
	}
	if got := []string(cfg.Channels.Discord.AllowFrom); len(got) != 2 || got[0] != "42" || got[1] != "7" {
		t.Errorf("allow_from = %v", got)
	}
	// Untouched sections keep their defaults.
	if cfg.Captioner.MaxNewTokens != 50 {
		t.Errorf("captioner defaults lost: %+v", cfg.Captioner)
	}
}

func TestLoadConfigRejectsBadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestApplyLegacyEnvOverrides(t *testing.T) {
	cfg := DefaultConfig()
	t.Setenv("DISCORD_BOT_TOKEN", "discord-env-token")
	t.Setenv("VENICE_API_KEY", "venice-env-key")
	t.Setenv("TWITTER_ACCESS_TOKEN", "tw-access")
	cfg.Channels.Twitter.ClientID = "from-file"
	t.Setenv("TWITTER_CLIENT_ID", "from-env")

	applyLegacyEnvOverrides(cfg)

	if cfg.Channels.Discord.Token != "discord-env-token" {
		t.Fatalf("discord token not taken from env")
	}
	if cfg.Providers.Venice.APIKey != "venice-env-key" {
		t.Fatalf("venice key not taken from env")
	}
	if cfg.Channels.Twitter.AccessToken != "tw-access" {
		t.Fatalf("twitter access token not taken from env")
	}
	if cfg.Channels.Twitter.ClientID != "from-file" {
		t.Fatalf("explicit value should win over legacy env, got %q", cfg.Channels.Twitter.ClientID)
	}
}

func TestResolveEnvRefs(t *testing.T) {
	cfg := DefaultConfig()
	t.Setenv("MY_VENICE_KEY", "resolved-key")
	cfg.Providers.Venice.APIKey = "${MY_VENICE_KEY}"
	cfg.Channels.Discord.Token = "$MY_VENICE_KEY"

	resolveEnvRefs(cfg)

	if cfg.Providers.Venice.APIKey != "resolved-key" {
		t.Fatalf("expected env ref to resolve, got %q", cfg.Providers.Venice.APIKey)
	}
	if cfg.Channels.Discord.Token != "resolved-key" {
		t.Fatalf("expected bare $ ref to resolve, got %q", cfg.Channels.Discord.Token)
	}
}

func TestResolveEnvRefKeepsOriginalWhenUnset(t *testing.T) {
	_ = os.Unsetenv("ARTCRITIC_TEST_UNSET_KEY")
	raw := "${ARTCRITIC_TEST_UNSET_KEY}"
	if got := resolveEnvRef(raw); got != raw {
		t.Fatalf("expected unresolved ref to stay unchanged, got %q", got)
	}
}

func TestProviderLookup(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Providers.Anthropic.APIKey = "sk-ant"

	p, ok := cfg.Provider("Anthropic")
	if !ok || p.APIKey != "sk-ant" {
		t.Fatalf("Provider(Anthropic) = %+v, %v", p, ok)
	}
	if _, ok := cfg.Provider("gemini"); ok {
		t.Fatal("unknown provider should not resolve")
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	cfg := DefaultConfig()
	cfg.Critic.ErrorReply = "nope"

	if err := SaveConfig(path, cfg); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("saved file is not JSON: %v", err)
	}
	if _, ok := decoded["critic"]; !ok {
		t.Fatalf("saved file missing critic section: %s", data)
	}
}

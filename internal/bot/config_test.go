package bot

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Name == "" {
		t.Error("name default missing")
	}
	if cfg.Bot.MaxTokens != 3000 || cfg.Bot.MaxMessages != 20 {
		t.Errorf("bot defaults = %+v", cfg.Bot)
	}
	if cfg.LLM.Provider != "openai" {
		t.Errorf("provider default = %q", cfg.LLM.Provider)
	}
	if cfg.Bot.SystemMessage == "" {
		t.Error("system message default missing")
	}
}

func TestLoadConfigFile(t *testing.T) {
	t.Setenv("TEST_LOQUI_KEY", "secret-from-env")

	path := filepath.Join(t.TempDir(), "config.json")
	data := `{
		"name": "testbot",
		"matrix": {
			"homeserver": "https://matrix.example.org",
			"server_name": "example.org"
		},
		"llm": {
			"provider": "openai",
			"openai": {"api_key": "$TEST_LOQUI_KEY", "chat_model": "gpt-4o"}
		},
		"bot": {"max_tokens": 1234}
	}`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Name != "testbot" {
		t.Errorf("name = %q", cfg.Name)
	}
	if cfg.LLM.OpenAI.APIKey != "secret-from-env" {
		t.Errorf("api key = %q, want env-resolved value", cfg.LLM.OpenAI.APIKey)
	}
	if cfg.Bot.MaxTokens != 1234 {
		t.Errorf("max tokens = %d", cfg.Bot.MaxTokens)
	}
	if cfg.Matrix.ServerName != "example.org" {
		t.Errorf("server name = %q", cfg.Matrix.ServerName)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig("/nonexistent/config.json"); err == nil {
		t.Error("expected error for missing config file")
	}
}

package bot

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config holds the bot configuration.
type Config struct {
	// Name is the bot's identity; it is the Matrix localpart and the
	// command prefix ("!<name> help").
	Name string `json:"name"`

	Matrix MatrixConfig `json:"matrix"`
	LLM    LLMConfig    `json:"llm"`
	Bot    BotConfig    `json:"bot"`
	Tools  ToolsConfig  `json:"tools"`

	// StorePath is the SQLite database location.
	StorePath string `json:"store_path"`
}

// MatrixConfig holds Matrix connection settings.
type MatrixConfig struct {
	Homeserver   string   `json:"homeserver"`    // e.g. http://synapse:8008
	Password     string   `json:"password"`      // bot password
	ServerName   string   `json:"server_name"`   // e.g. matrix.example.com
	AllowedUsers []string `json:"allowed_users"` // who can talk to the bot, glob patterns allowed
	DataDir      string   `json:"data_dir"`      // persistent login state
}

// LLMConfig selects and configures the chat providers.
type LLMConfig struct {
	// Provider selects the chat backend: "openai" or "anthropic".
	Provider string `json:"provider"`

	OpenAI    OpenAIConfig    `json:"openai"`
	Anthropic AnthropicConfig `json:"anthropic"`
}

// OpenAIConfig holds OpenAI (or compatible) API settings.
type OpenAIConfig struct {
	APIKey             string `json:"api_key"`            // can use env reference: "$OPENAI_API_KEY"
	BaseURL            string `json:"base_url,omitempty"` // optional compatible endpoint
	ChatModel          string `json:"chat_model,omitempty"`
	TranscriptionModel string `json:"transcription_model,omitempty"`
	TTSModel           string `json:"tts_model,omitempty"`
	TTSVoice           string `json:"tts_voice,omitempty"`
	ImageModel         string `json:"image_model,omitempty"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url,omitempty"`
	Model   string `json:"model,omitempty"`
}

// BotConfig holds response generation behavior.
type BotConfig struct {
	// SystemMessage is the default system prompt, overridable per room.
	SystemMessage string `json:"system_message,omitempty"`

	// MaxTokens bounds both the assembled prompt and the completion.
	MaxTokens int `json:"max_tokens,omitempty"`

	// MaxMessages bounds how much room history is fetched per query.
	MaxMessages int `json:"max_messages,omitempty"`

	// ToolModel is swapped in for tool dispatch when the chat model
	// cannot call tools natively.
	ToolModel string `json:"tool_model,omitempty"`

	// ForceTools advertises the tool catalog regardless of model.
	ForceTools bool `json:"force_tools,omitempty"`

	// EmulateTools asks non-tool models for JSON tool directives.
	EmulateTools bool `json:"emulate_tools,omitempty"`

	// Vision enables image input for the chat model.
	Vision bool `json:"vision,omitempty"`

	// SpeechToText transcribes voice messages by default; rooms can
	// override with the stt setting.
	SpeechToText bool `json:"speech_to_text,omitempty"`

	Temperature      float32 `json:"temperature,omitempty"`
	TopP             float32 `json:"top_p,omitempty"`
	FrequencyPenalty float32 `json:"frequency_penalty,omitempty"`
	PresencePenalty  float32 `json:"presence_penalty,omitempty"`
}

// ToolsConfig holds settings for individual tools.
type ToolsConfig struct {
	WeatherAPIKey string `json:"weather_api_key,omitempty"` // OpenWeatherMap
	UserAgent     string `json:"user_agent,omitempty"`      // for outbound HTTP
}

// LoadConfig reads config from a file path. If path is empty, defaults
// suitable for container deployment are used.
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	// Resolve env var references in all $-prefixed values.
	cfg.Matrix.Homeserver = resolveEnv(cfg.Matrix.Homeserver)
	cfg.Matrix.Password = resolveEnv(cfg.Matrix.Password)
	cfg.Matrix.ServerName = resolveEnv(cfg.Matrix.ServerName)
	cfg.LLM.OpenAI.APIKey = resolveEnv(cfg.LLM.OpenAI.APIKey)
	cfg.LLM.OpenAI.BaseURL = resolveEnv(cfg.LLM.OpenAI.BaseURL)
	cfg.LLM.Anthropic.APIKey = resolveEnv(cfg.LLM.Anthropic.APIKey)
	cfg.LLM.Anthropic.BaseURL = resolveEnv(cfg.LLM.Anthropic.BaseURL)
	cfg.Tools.WeatherAPIKey = resolveEnv(cfg.Tools.WeatherAPIKey)
	cfg.StorePath = resolveEnv(cfg.StorePath)

	if cfg.Name == "" {
		cfg.Name = "loqui"
	}
	if cfg.Bot.SystemMessage == "" {
		cfg.Bot.SystemMessage = "You are a helpful assistant."
	}
	if cfg.Bot.MaxTokens <= 0 {
		cfg.Bot.MaxTokens = 3000
	}
	if cfg.Bot.MaxMessages <= 0 {
		cfg.Bot.MaxMessages = 20
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "openai"
	}
	if cfg.Tools.UserAgent == "" {
		cfg.Tools.UserAgent = "loqui/1.0 (Matrix chat bot)"
	}

	return cfg, nil
}

// resolveEnv replaces $ENV_VAR references with actual values.
func resolveEnv(s string) string {
	if len(s) > 1 && s[0] == '$' {
		if v := os.Getenv(s[1:]); v != "" {
			return v
		}
	}
	return s
}

// defaultConfig returns a config driven by environment variables,
// suitable for container deployment.
func defaultConfig() *Config {
	return &Config{
		Name: envOr("LOQUI_BOT_NAME", "loqui"),
		Matrix: MatrixConfig{
			Homeserver:   envOr("MATRIX_HOMESERVER", "http://synapse:8008"),
			Password:     envOr("MATRIX_BOT_PASSWORD", ""),
			ServerName:   envOr("MATRIX_SERVER_NAME", "matrix.example.com"),
			AllowedUsers: []string{envOr("ALLOWED_USERS", "")},
			DataDir:      envOr("LOQUI_DATA_DIR", "/data"),
		},
		LLM: LLMConfig{
			Provider: envOr("LOQUI_PROVIDER", "openai"),
			OpenAI: OpenAIConfig{
				APIKey:  os.Getenv("OPENAI_API_KEY"),
				BaseURL: os.Getenv("OPENAI_BASE_URL"),
			},
			Anthropic: AnthropicConfig{
				APIKey: os.Getenv("ANTHROPIC_API_KEY"),
			},
		},
		Bot: BotConfig{
			Vision:       true,
			SpeechToText: true,
		},
		Tools: ToolsConfig{
			WeatherAPIKey: os.Getenv("OPENWEATHERMAP_API_KEY"),
		},
		StorePath: envOr("LOQUI_STORE_PATH", "/data/loqui.db"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

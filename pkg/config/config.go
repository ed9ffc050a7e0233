package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/caarlos0/env/v11"

	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/utils"
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
	Agent     AgentConfig     `json:"agent"`
	Providers ProvidersConfig `json:"providers"`
	Data      DataConfig      `json:"data"`
	Embedding EmbeddingConfig `json:"embedding"`
	Retrieval RetrievalConfig `json:"retrieval"`
	Channels  ChannelsConfig  `json:"channels"`
	Gateway   GatewayConfig   `json:"gateway"`
	Diary     DiaryConfig     `json:"diary"`
	Logging   LoggingConfig   `json:"logging"`
	mu        sync.RWMutex
}

type AgentConfig struct {
	Provider          string  `json:"provider" env:"WELLDYING_AGENT_PROVIDER"`
	Model             string  `json:"model" env:"WELLDYING_AGENT_MODEL"`
	MaxTokens         int     `json:"max_tokens" env:"WELLDYING_AGENT_MAX_TOKENS"`
	Temperature       float64 `json:"temperature" env:"WELLDYING_AGENT_TEMPERATURE"`
	MaxToolIterations int     `json:"max_tool_iterations" env:"WELLDYING_AGENT_MAX_TOOL_ITERATIONS"`
	HistoryWindow     int     `json:"history_window" env:"WELLDYING_AGENT_HISTORY_WINDOW"`
	ActivityOfferTurn int     `json:"activity_offer_turn" env:"WELLDYING_AGENT_ACTIVITY_OFFER_TURN"`
}

type ProvidersConfig struct {
	OpenRouter OpenRouterConfig `json:"openrouter"`
	OpenAI     OpenAIConfig     `json:"openai"`
	Gemini     GeminiConfig     `json:"gemini"`
}

// APIKeyFile names a file holding the key (for mounted secrets). Only one of
// APIKey and APIKeyFile may be set.
type OpenRouterConfig struct {
	APIKey     string `json:"api_key" env:"WELLDYING_PROVIDERS_OPENROUTER_API_KEY"`
	APIKeyFile string `json:"api_key_file,omitempty" env:"WELLDYING_PROVIDERS_OPENROUTER_API_KEY_FILE"`
	APIBase    string `json:"api_base" env:"WELLDYING_PROVIDERS_OPENROUTER_API_BASE"`
}

type OpenAIConfig struct {
	APIKey       string `json:"api_key" env:"WELLDYING_PROVIDERS_OPENAI_API_KEY"`
	APIKeyFile   string `json:"api_key_file,omitempty" env:"WELLDYING_PROVIDERS_OPENAI_API_KEY_FILE"`
	APIBase      string `json:"api_base" env:"WELLDYING_PROVIDERS_OPENAI_API_BASE"`
	Organization string `json:"organization,omitempty" env:"WELLDYING_PROVIDERS_OPENAI_ORGANIZATION"`
}

type GeminiConfig struct {
	APIKey     string `json:"api_key" env:"WELLDYING_PROVIDERS_GEMINI_API_KEY"`
	APIKeyFile string `json:"api_key_file,omitempty" env:"WELLDYING_PROVIDERS_GEMINI_API_KEY_FILE"`
}

// DataConfig locates every on-disk artifact. Relative paths resolve against Home.
type DataConfig struct {
	Home             string `json:"home" env:"WELLDYING_DATA_HOME"`
	SessionsDir      string `json:"sessions_dir" env:"WELLDYING_DATA_SESSIONS_DIR"`
	DiaryDir         string `json:"diary_dir" env:"WELLDYING_DATA_DIARY_DIR"`
	IndexPath        string `json:"index_path" env:"WELLDYING_DATA_INDEX_PATH"`
	FacilityRegions  string `json:"facility_regions" env:"WELLDYING_DATA_FACILITY_REGIONS"`
	OrdinanceRegions string `json:"ordinance_regions" env:"WELLDYING_DATA_ORDINANCE_REGIONS"`
	RulesPath        string `json:"rules_path" env:"WELLDYING_DATA_RULES_PATH"`
	ActivitiesPath   string `json:"activities_path" env:"WELLDYING_DATA_ACTIVITIES_PATH"`
}

type EmbeddingConfig struct {
	Provider string `json:"provider" env:"WELLDYING_EMBEDDING_PROVIDER"`
	Model    string `json:"model" env:"WELLDYING_EMBEDDING_MODEL"`
	Endpoint string `json:"endpoint" env:"WELLDYING_EMBEDDING_ENDPOINT"`
	APIKey   string `json:"api_key" env:"WELLDYING_EMBEDDING_API_KEY"`
}

type RetrievalConfig struct {
	FacilityBudget      int `json:"facility_budget" env:"WELLDYING_RETRIEVAL_FACILITY_BUDGET"`
	FacilityExpansions  int `json:"facility_expansions" env:"WELLDYING_RETRIEVAL_FACILITY_EXPANSIONS"`
	OrdinanceExpansions int `json:"ordinance_expansions" env:"WELLDYING_RETRIEVAL_ORDINANCE_EXPANSIONS"`
	OrdinanceTopK       int `json:"ordinance_top_k" env:"WELLDYING_RETRIEVAL_ORDINANCE_TOP_K"`
	ReferenceTopK       int `json:"reference_top_k" env:"WELLDYING_RETRIEVAL_REFERENCE_TOP_K"`
	QuestionTopK        int `json:"question_top_k" env:"WELLDYING_RETRIEVAL_QUESTION_TOP_K"`
}

type ChannelsConfig struct {
	Discord DiscordConfig `json:"discord"`
}

type DiscordConfig struct {
	Enabled   bool                `json:"enabled" env:"WELLDYING_CHANNELS_DISCORD_ENABLED"`
	Token     string              `json:"token" env:"WELLDYING_CHANNELS_DISCORD_TOKEN"`
	AllowFrom FlexibleStringSlice `json:"allow_from" env:"WELLDYING_CHANNELS_DISCORD_ALLOW_FROM"`
}

type GatewayConfig struct {
	Host string `json:"host" env:"WELLDYING_GATEWAY_HOST"`
	Port int    `json:"port" env:"WELLDYING_GATEWAY_PORT"`

	// APIKey guards the HTTP API with a bearer token; empty disables auth.
	APIKey string `json:"api_key" env:"WELLDYING_GATEWAY_API_KEY"`
}

type DiaryConfig struct {
	AutoCompose bool   `json:"auto_compose" env:"WELLDYING_DIARY_AUTO_COMPOSE"`
	Schedule    string `json:"schedule" env:"WELLDYING_DIARY_SCHEDULE"`
}

type LoggingConfig struct {
	Level  string `json:"level" env:"WELLDYING_LOGGING_LEVEL"`
	Format string `json:"format" env:"WELLDYING_LOGGING_FORMAT"`
}

func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			Provider:          "openai",
			Model:             "gpt-4o-mini",
			MaxTokens:         1024,
			Temperature:       0.7,
			MaxToolIterations: 5,
			HistoryWindow:     20,
			ActivityOfferTurn: 3,
		},
		Providers: ProvidersConfig{},
		Data: DataConfig{
			Home:             "~/.welldying",
			SessionsDir:      "sessions",
			DiaryDir:         "diary",
			IndexPath:        "state/index.db",
			FacilityRegions:  "data/facilities_region_list.json",
			OrdinanceRegions: "data/ordinance_region_list.json",
			RulesPath:        "",
			ActivitiesPath:   "",
		},
		Embedding: EmbeddingConfig{
			Provider: "local",
			Model:    "chargram-384",
			Endpoint: "http://localhost:11434",
		},
		Retrieval: RetrievalConfig{
			FacilityBudget:      10,
			FacilityExpansions:  100,
			OrdinanceExpansions: 3,
			OrdinanceTopK:       3,
			ReferenceTopK:       5,
			QuestionTopK:        3,
		},
		Channels: ChannelsConfig{
			Discord: DiscordConfig{
				AllowFrom: FlexibleStringSlice{},
			},
		},
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 18790,
		},
		Diary: DiaryConfig{
			AutoCompose: true,
			Schedule:    "50 23 * * *",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig reads path over the defaults and then applies WELLDYING_* env
// overrides. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// HomePath is the expanded data root.
func (c *Config) HomePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	home, _ := os.UserHomeDir()
	return utils.ExpandHome(c.Data.Home, home)
}

// ResolvePath expands ~ and anchors relative paths under HomePath.
// An empty input stays empty.
func (c *Config) ResolvePath(p string) string {
	if p == "" {
		return ""
	}
	home, _ := os.UserHomeDir()
	p = utils.ExpandHome(p, home)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.HomePath(), p)
}

func (c *Config) SessionsPath() string { return c.ResolvePath(c.Data.SessionsDir) }

func (c *Config) DiaryPath() string { return c.ResolvePath(c.Data.DiaryDir) }

func (c *Config) IndexPath() string { return c.ResolvePath(c.Data.IndexPath) }

package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestDefaultConfig_AgentDefaults(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Agent.Model == "" {
		t.Error("Model should not be empty")
	}
	if cfg.Agent.MaxToolIterations == 0 {
		t.Error("MaxToolIterations should not be zero")
	}
	if cfg.Agent.ActivityOfferTurn != 3 {
		t.Errorf("ActivityOfferTurn = %d, want 3", cfg.Agent.ActivityOfferTurn)
	}
	if cfg.Agent.Temperature == 0 {
		t.Error("Temperature should not be zero")
	}
}

// TestDefaultConfig_RetrievalBudgets pins the search budgets the retrieval
// layer relies on.
func TestDefaultConfig_RetrievalBudgets(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Retrieval.FacilityBudget != 10 {
		t.Errorf("FacilityBudget = %d, want 10", cfg.Retrieval.FacilityBudget)
	}
	if cfg.Retrieval.FacilityExpansions != 100 {
		t.Errorf("FacilityExpansions = %d, want 100", cfg.Retrieval.FacilityExpansions)
	}
	if cfg.Retrieval.OrdinanceExpansions != 3 || cfg.Retrieval.OrdinanceTopK != 3 {
		t.Errorf("unexpected ordinance defaults: %+v", cfg.Retrieval)
	}
	if cfg.Retrieval.ReferenceTopK != 5 {
		t.Errorf("ReferenceTopK = %d, want 5", cfg.Retrieval.ReferenceTopK)
	}
}

func TestDefaultConfig_Providers(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Providers.OpenRouter.APIKey != "" {
		t.Error("OpenRouter API key should be empty by default")
	}
	if cfg.Providers.OpenAI.APIKey != "" {
		t.Error("OpenAI API key should be empty by default")
	}
	if cfg.Channels.Discord.Token != "" {
		t.Error("Discord token should be empty by default")
	}
}

func TestSaveConfig_FilePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file permission bits are not enforced on Windows")
	}

	path := filepath.Join(t.TempDir(), "config.json")
	if err := SaveConfig(path, DefaultConfig()); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("config file has permission %04o, want 0600", perm)
	}
}

func TestLoadConfig_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := DefaultConfig()
	cfg.Agent.Model = "gpt-test"
	cfg.Channels.Discord.AllowFrom = FlexibleStringSlice{"42"}
	if err := SaveConfig(path, cfg); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if loaded.Agent.Model != "gpt-test" {
		t.Fatalf("expected model gpt-test, got %q", loaded.Agent.Model)
	}
	if len(loaded.Channels.Discord.AllowFrom) != 1 || loaded.Channels.Discord.AllowFrom[0] != "42" {
		t.Fatalf("unexpected allow_from: %v", loaded.Channels.Discord.AllowFrom)
	}
}

func TestLoadConfig_EnvOverridesWithoutFile(t *testing.T) {
	t.Setenv("WELLDYING_AGENT_MODEL", "env/model")
	t.Setenv("WELLDYING_RETRIEVAL_ORDINANCE_EXPANSIONS", "5")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing-config.json"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if got := cfg.Agent.Model; got != "env/model" {
		t.Fatalf("expected env override model, got %q", got)
	}
	if got := cfg.Retrieval.OrdinanceExpansions; got != 5 {
		t.Fatalf("expected ordinance expansions 5, got %d", got)
	}
}

func TestLoadConfig_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected parse error for malformed config")
	}
}

func TestFlexibleStringSlice_AcceptsNumbers(t *testing.T) {
	var f FlexibleStringSlice
	if err := f.UnmarshalJSON([]byte(`["abc", 123456789012]`)); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(f) != 2 || f[0] != "abc" || f[1] != "123456789012" {
		t.Fatalf("unexpected values: %v", f)
	}
}

func TestConfig_ResolvePath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Data.Home = "/srv/welldying"

	if got := cfg.SessionsPath(); got != filepath.Join("/srv/welldying", "sessions") {
		t.Fatalf("unexpected sessions path: %q", got)
	}
	if got := cfg.ResolvePath("/abs/index.db"); got != "/abs/index.db" {
		t.Fatalf("absolute path should be kept, got %q", got)
	}
	if got := cfg.ResolvePath(""); got != "" {
		t.Fatalf("empty path should stay empty, got %q", got)
	}
}

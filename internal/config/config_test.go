package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/szaher/chatmemory/internal/testutil"
)

// isolate clears every variable Load reads so the host environment cannot leak in.
func isolate(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	for _, name := range []string{
		"MEMORY_DB_PATH", "DEBUG", "ANTHROPIC_API_KEY",
		"CHATMEMORY_DB_DRIVER", "CHATMEMORY_DB_PATH", "CHATMEMORY_DB_DSN",
		"CHATMEMORY_LLM_MODEL", "CHATMEMORY_LLM_API_KEY", "CHATMEMORY_LOG_LEVEL",
		"CHATMEMORY_LOG_DEBUG", "CHATMEMORY_SERVER_HTTP_ADDR", "CHATMEMORY_SERVER_API_KEY",
		"CHATMEMORY_SERVER_RATE_LIMIT", "CHATMEMORY_SERVER_TRUST_PROXY", "CHATMEMORY_WARM_SCHEDULE",
	} {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chatmemory.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DB.Driver != DriverSQLite {
		t.Errorf("DB.Driver = %q, want sqlite", cfg.DB.Driver)
	}
	if !strings.HasSuffix(cfg.DB.Path, filepath.Join("chatmemory", "memory.db")) {
		t.Errorf("DB.Path = %q, want default data path", cfg.DB.Path)
	}
	if cfg.LLM.Model != "claude-3-5-sonnet-20241022" {
		t.Errorf("LLM.Model = %q", cfg.LLM.Model)
	}
	if cfg.LLM.Temperature != 0.3 {
		t.Errorf("LLM.Temperature = %v, want 0.3", cfg.LLM.Temperature)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
	if cfg.Warm.Limit != 20 {
		t.Errorf("Warm.Limit = %d, want 20", cfg.Warm.Limit)
	}
	if cfg.Server.RateLimit != 10 || cfg.Server.RateBurst != 20 {
		t.Errorf("Server rate limit = %v/%d, want 10/20", cfg.Server.RateLimit, cfg.Server.RateBurst)
	}
	if cfg.Server.TrustProxy {
		t.Error("Server.TrustProxy = true, want false")
	}
}

func TestLoadFile(t *testing.T) {
	isolate(t)
	path := writeFile(t, `
db:
  driver: memory
llm:
  model: openai/gpt-4o-mini
  temperature: 0.5
server:
  http_addr: ":8080"
warm:
  schedule: "@every 30m"
  limit: 5
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DB.Driver != DriverMemory {
		t.Errorf("DB.Driver = %q, want memory", cfg.DB.Driver)
	}
	if cfg.LLM.Model != "openai/gpt-4o-mini" || cfg.LLM.Temperature != 0.5 {
		t.Errorf("LLM = %+v", cfg.LLM)
	}
	if cfg.Server.HTTPAddr != ":8080" {
		t.Errorf("Server.HTTPAddr = %q", cfg.Server.HTTPAddr)
	}
	if cfg.Warm.Schedule != "@every 30m" || cfg.Warm.Limit != 5 {
		t.Errorf("Warm = %+v", cfg.Warm)
	}
}

func TestLoadSearchPath(t *testing.T) {
	isolate(t)
	dir := filepath.Join(os.Getenv("XDG_CONFIG_HOME"), "chatmemory")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("log:\n  level: warn\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want warn from XDG config", cfg.Log.Level)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	isolate(t)
	path := writeFile(t, "db:\n  path: /from/file.db\n")

	t.Setenv("MEMORY_DB_PATH", "/from/legacy.db")
	t.Setenv("ANTHROPIC_API_KEY", "sk-legacy")
	t.Setenv("DEBUG", "1")
	t.Setenv("CHATMEMORY_LLM_MODEL", "ollama/llama3.2")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DB.Path != "/from/legacy.db" {
		t.Errorf("DB.Path = %q, want MEMORY_DB_PATH", cfg.DB.Path)
	}
	if cfg.LLM.APIKey != "sk-legacy" {
		t.Errorf("LLM.APIKey = %q, want ANTHROPIC_API_KEY", cfg.LLM.APIKey)
	}
	if !cfg.Log.Debug || cfg.Log.Level != "debug" {
		t.Errorf("Log = %+v, want debug from DEBUG=1", cfg.Log)
	}
	if cfg.LLM.Model != "ollama/llama3.2" {
		t.Errorf("LLM.Model = %q, want prefixed env override", cfg.LLM.Model)
	}

	t.Setenv("CHATMEMORY_DB_PATH", "/from/prefixed.db")
	cfg, err = Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DB.Path != "/from/prefixed.db" {
		t.Errorf("DB.Path = %q, want prefixed variable to win", cfg.DB.Path)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	isolate(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	testutil.AssertErrorContains(t, err, "config: read")
}

func TestValidate(t *testing.T) {
	valid := Config{DB: DBConfig{Driver: DriverSQLite, Path: "x.db"}, LLM: LLMConfig{Temperature: 0.3}}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"memory needs nothing", func(c *Config) { c.DB = DBConfig{Driver: DriverMemory} }, ""},
		{"unknown driver", func(c *Config) { c.DB.Driver = "mysql" }, "invalid db.driver"},
		{"sqlite without path", func(c *Config) { c.DB.Path = "" }, "db.path is required"},
		{"postgres without dsn", func(c *Config) { c.DB.Driver = DriverPostgres }, "db.dsn is required"},
		{"postgres with dsn", func(c *Config) { c.DB = DBConfig{Driver: DriverPostgres, DSN: "postgres://x"} }, ""},
		{"temperature", func(c *Config) { c.LLM.Temperature = 3 }, "llm.temperature"},
		{"negative rate limit", func(c *Config) { c.Server.RateLimit = -1 }, "server.rate_limit"},
		{"negative warm limit", func(c *Config) { c.Warm.Limit = -1 }, "warm.limit"},
		{"bad schedule", func(c *Config) { c.Warm.Schedule = "whenever" }, "invalid warm.schedule"},
		{"good schedule", func(c *Config) { c.Warm.Schedule = "0 */6 * * *" }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			testutil.AssertErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	t.Setenv("CHATMEMORY_DOTENV_PROBE", "")
	os.Unsetenv("CHATMEMORY_DOTENV_PROBE")

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("CHATMEMORY_DOTENV_PROBE=loaded\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := LoadDotEnv(path, filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("CHATMEMORY_DOTENV_PROBE"); got != "loaded" {
		t.Errorf("CHATMEMORY_DOTENV_PROBE = %q, want loaded", got)
	}
}

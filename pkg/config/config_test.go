package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/nstogner/autoassist/pkg/models/gemini"
	"github.com/nstogner/autoassist/pkg/store"
	"github.com/nstogner/autoassist/pkg/store/jsonl"
)

// clearEnv unsets every variable Load reads for the duration of the test.
func clearEnv(t *testing.T) {
	for _, k := range []string{
		"GEMINI_API_KEY", "AUTOASSIST_CONFIG", "AUTOASSIST_MODEL", "AUTOASSIST_STORE",
		"AUTOASSIST_DATA_DIR", "AUTOASSIST_DB_PATH", "AUTOASSIST_IMAGE_DIR", "AUTOASSIST_ADDR",
		"LOG_LEVEL", "AUTOASSIST_LOG_FILE", "AUTOASSIST_AGENT_MODE", "AUTOASSIST_UPLOAD_DIR",
		"AUTOASSIST_ALLOWED_ORIGINS",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

const sampleYAML = `
model: gemini-test
store: sqlite
data_dir: /tmp/aa
agent_mode: true
assistants:
  - title: Translator
    system_instruction: You translate.
    summary: translation
    enable_api: true
    apis:
      - name: dictionary
        endpoint:
          url: https://example.com/dict
          method: GET
        triggers:
          - type: keyword
            value: "define, meaning"
`

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Model != gemini.DefaultModel || cfg.StoreDriver != StoreJSONL || cfg.Addr != "localhost:8080" {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if cfg.DBPath != filepath.Join("./data", "autoassist.db") || cfg.ImageDir != filepath.Join("./data", "images") || cfg.UploadDir != filepath.Join("./data", "uploads") {
		t.Errorf("derived paths not filled: %q %q %q", cfg.DBPath, cfg.ImageDir, cfg.UploadDir)
	}
	if err := cfg.RequireAPIKey(); err == nil {
		t.Errorf("expected missing API key error")
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "autoassist.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("AUTOASSIST_CONFIG", path)
	t.Setenv("AUTOASSIST_MODEL", "from-env")
	t.Setenv("GEMINI_API_KEY", "k")
	t.Setenv("AUTOASSIST_ALLOWED_ORIGINS", "https://ui.example, ,http://10.0.0.2:3000")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Model != "from-env" {
		t.Errorf("env should override file, got %q", cfg.Model)
	}
	if cfg.StoreDriver != StoreSQLite || cfg.DataDir != "/tmp/aa" || !cfg.AgentMode {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.DBPath != "/tmp/aa/autoassist.db" || cfg.UploadDir != "/tmp/aa/uploads" {
		t.Errorf("unexpected derived paths %q %q", cfg.DBPath, cfg.UploadDir)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "http://10.0.0.2:3000" {
		t.Errorf("unexpected allowed origins %q", cfg.AllowedOrigins)
	}
	if len(cfg.Assistants) != 1 || cfg.Assistants[0].APIConfigs[0].Triggers[0].Value != "define, meaning" {
		t.Errorf("unexpected seeds %+v", cfg.Assistants)
	}
	if err := cfg.RequireAPIKey(); err != nil {
		t.Error(err)
	}
}

func TestLoad_Invalid(t *testing.T) {
	clearEnv(t)
	t.Setenv("AUTOASSIST_STORE", "postgres")
	if _, err := Load(""); err == nil {
		t.Errorf("expected invalid store driver error")
	}

	clearEnv(t)
	t.Setenv("LOG_LEVEL", "loud")
	if _, err := Load(""); err == nil {
		t.Errorf("expected invalid log level error")
	}

	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Errorf("expected missing file error")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"trace": gemini.LevelTrace,
		"DEBUG": slog.LevelDebug,
		"":      slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"Error": slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
}

func TestImportAssistants(t *testing.T) {
	ctx := context.Background()
	s, err := jsonl.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Create(ctx, s, store.Assistant{Title: "translator"}); err != nil {
		t.Fatal(err)
	}

	seeds := []AssistantSeed{
		{Title: "Translator"},
		{Title: "Summarizer", Summary: "summaries", APIConfigs: []store.APIConfig{{Name: "x"}}},
	}
	created, skipped, err := ImportAssistants(ctx, s, seeds)
	if err != nil {
		t.Fatal(err)
	}
	if created != 1 || skipped != 1 {
		t.Errorf("created=%d skipped=%d", created, skipped)
	}

	all, _ := s.LoadAll(ctx)
	a, ok := store.FindByTitle(all, "Summarizer")
	if !ok {
		t.Fatal("Summarizer not imported")
	}
	if a.APIConfigs[0].ID == "" || a.APIConfigs[0].ResponseType != store.ResponseText {
		t.Errorf("API config defaults not applied: %+v", a.APIConfigs[0])
	}
}

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sample = `
http:
  port: 9090
  request_timeout: 5s
database:
  path: data/test.db
log:
  level: debug
auth:
  jwt_secret: "0123456789abcdef0123"
storage:
  upload_dir: /var/lib/cardio/uploads
ml:
  model_type: decision_tree
  model_path: models
`

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaultsAndResolvesPaths(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(writeConfig(t, dir, sample))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Http.Port != 9090 || cfg.Http.RequestTimeout != 5*time.Second {
		t.Fatalf("unexpected http section %+v", cfg.Http)
	}
	if cfg.Http.ReadTimeout != 15*time.Second || cfg.Auth.TokenTTL != time.Hour {
		t.Fatalf("defaults not applied: %+v %+v", cfg.Http, cfg.Auth)
	}
	if cfg.Database.Path != filepath.Join(dir, "data/test.db") {
		t.Fatalf("relative db path not resolved: %s", cfg.Database.Path)
	}
	if cfg.Storage.UploadDir != "/var/lib/cardio/uploads" {
		t.Fatalf("absolute path changed: %s", cfg.Storage.UploadDir)
	}
	if cfg.ML.ModelType != "decision_tree" || cfg.ML.Training.TestRatio != 0.2 {
		t.Fatalf("unexpected ml section %+v", cfg.ML)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv(EnvJWTSecret, "env-secret-of-sufficient-length")
	t.Setenv(EnvDBPath, ":memory:")
	cfg, err := Parse([]byte("log:\n  level: warn\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Auth.JWTSecret != "env-secret-of-sufficient-length" || cfg.Database.Path != ":memory:" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing secret", "http:\n  port: 80\n"},
		{"short secret", "auth:\n  jwt_secret: short\n"},
		{"bad port", "http:\n  port: 70000\nauth:\n  jwt_secret: 0123456789abcdef\n"},
		{"bad ratio", "auth:\n  jwt_secret: 0123456789abcdef\nml:\n  training:\n    test_ratio: 1.5\n"},
		{"bad yaml", "auth: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.body)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, sample)

	changes := make(chan *Config, 4)
	w, err := NewWatcher(path, func(cfg *Config) { changes <- cfg }, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// An unrelated file in the same directory is ignored.
	if err := os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	writeConfig(t, dir, sample+"\n# edited\n")

	select {
	case cfg := <-changes:
		if cfg.Log.Level != "debug" {
			t.Fatalf("unexpected reloaded config %+v", cfg.Log)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}

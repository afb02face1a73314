package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Database.Driver != DriverPostgres || cfg.Recognition.Index != "postgres" {
		t.Errorf("driver/index = %s/%s, want postgres/postgres", cfg.Database.Driver, cfg.Recognition.Index)
	}
	if cfg.Recognition.Threshold != 0.85 {
		t.Errorf("Recognition.Threshold = %v, want 0.85", cfg.Recognition.Threshold)
	}
	if cfg.Database.EmbeddingDim != 512 {
		t.Errorf("Database.EmbeddingDim = %d, want 512", cfg.Database.EmbeddingDim)
	}
	if cfg.Vision.MaxImageBytes != 10<<20 {
		t.Errorf("Vision.MaxImageBytes = %d, want 10MB", cfg.Vision.MaxImageBytes)
	}
	if cfg.Recognition.IndexRefresh != time.Minute {
		t.Errorf("Recognition.IndexRefresh = %v, want 1m", cfg.Recognition.IndexRefresh)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
database:
  driver: memory
  embedding_dim: 128
recognition:
  threshold: 0.6
  index: hnsw
  index_refresh: 30s
logging:
  format: text
`)
	t.Setenv("VISAGE_SERVER_PORT", "9100")
	t.Setenv("VISAGE_MATCH_THRESHOLD", "0.7")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("Server.Port = %d, want env override 9100", cfg.Server.Port)
	}
	if cfg.Recognition.Threshold != 0.7 {
		t.Errorf("Recognition.Threshold = %v, want 0.7", cfg.Recognition.Threshold)
	}
	if cfg.Database.Driver != DriverMemory || cfg.Database.EmbeddingDim != 128 {
		t.Errorf("database = %+v", cfg.Database)
	}
	if cfg.Recognition.Index != "hnsw" || cfg.Recognition.IndexRefresh != 30*time.Second {
		t.Errorf("recognition = %+v", cfg.Recognition)
	}
	if cfg.Logging.Format != "text" || cfg.Logging.Level != "info" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
}

func TestLoad_MemoryDriverDefaultsToFlatIndex(t *testing.T) {
	path := writeConfig(t, "database:\n  driver: memory\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Recognition.Index != "flat" {
		t.Errorf("Recognition.Index = %q, want flat", cfg.Recognition.Index)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"bad yaml", "server: [", "parse config"},
		{"unknown driver", "database:\n  driver: sqlite\n", "database.driver"},
		{"unknown index", "recognition:\n  index: ivf\n", "recognition.index"},
		{"postgres index on memory", "database:\n  driver: memory\nrecognition:\n  index: postgres\n", "requires database.driver"},
		{"negative threshold", "recognition:\n  threshold: -1\n", "recognition.threshold"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, Name: "visage", User: "u", Password: "p"}
	if got, want := d.DSN(), "postgres://u:p@db:5432/visage?sslmode=disable"; got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
	d.URL = "postgres://other/db"
	if got := d.DSN(); got != d.URL {
		t.Errorf("DSN() = %q, want URL override", got)
	}
}

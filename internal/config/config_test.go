package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("FINBACK_CONFIG", "")
	t.Setenv("GEMINI_API_KEY", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Errorf("Server.Addr = %q, want :8080", cfg.Server.Addr)
	}
	if cfg.Oracle.APIKeyEnv != "GEMINI_API_KEY" {
		t.Errorf("Oracle.APIKeyEnv = %q, want GEMINI_API_KEY", cfg.Oracle.APIKeyEnv)
	}
	if cfg.Oracle.Model != "gemini-2.5-flash" {
		t.Errorf("Oracle.Model = %q, want gemini-2.5-flash", cfg.Oracle.Model)
	}
	if cfg.Oracle.Timeout != 45*time.Second {
		t.Errorf("Oracle.Timeout = %v, want 45s", cfg.Oracle.Timeout)
	}
	if cfg.Jobs.BufferSize != 100 || cfg.Jobs.Workers != 5 {
		t.Errorf("Jobs = %+v, want BufferSize 100 Workers 5", cfg.Jobs)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("FINBACK_CONFIG", "")
	t.Setenv("FINBACK_BIGQUERY_PROJECT_ID", "env-project")
	t.Setenv("FINBACK_JOBS_BUFFER_SIZE", "7")
	t.Setenv("FINBACK_NOTION_DATABASE_ID", "db-env")
	t.Setenv("GEMINI_API_KEY", "env-key")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BigQuery.ProjectID != "env-project" {
		t.Errorf("BigQuery.ProjectID = %q, want env-project", cfg.BigQuery.ProjectID)
	}
	if cfg.Jobs.BufferSize != 7 {
		t.Errorf("Jobs.BufferSize = %d, want 7", cfg.Jobs.BufferSize)
	}
	if cfg.Notion.DatabaseID != "db-env" {
		t.Errorf("Notion.DatabaseID = %q, want db-env", cfg.Notion.DatabaseID)
	}
	if cfg.Oracle.APIKey != "env-key" {
		t.Errorf("Oracle.APIKey = %q, want resolved from GEMINI_API_KEY", cfg.Oracle.APIKey)
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte(`
bigquery:
  project_id: file-project
oracle:
  api_key: file-key
  model: gemini-2.5-pro
gcs:
  bucket: statements-bucket
`)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FINBACK_CONFIG", path)
	t.Setenv("GEMINI_API_KEY", "ignored-when-file-sets-key")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BigQuery.ProjectID != "file-project" {
		t.Errorf("BigQuery.ProjectID = %q, want file-project", cfg.BigQuery.ProjectID)
	}
	if cfg.Oracle.APIKey != "file-key" {
		t.Errorf("Oracle.APIKey = %q, want file-key", cfg.Oracle.APIKey)
	}
	if cfg.Oracle.Model != "gemini-2.5-pro" {
		t.Errorf("Oracle.Model = %q, want gemini-2.5-pro", cfg.Oracle.Model)
	}
	if cfg.GCS.Bucket != "statements-bucket" {
		t.Errorf("GCS.Bucket = %q, want statements-bucket", cfg.GCS.Bucket)
	}
}

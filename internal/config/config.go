// Package config loads application configuration from file and environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	BigQuery BigQueryConfig `mapstructure:"bigquery"`
	GCS      GCSConfig      `mapstructure:"gcs"`
	Oracle   OracleConfig   `mapstructure:"oracle"`
	Notion   NotionConfig   `mapstructure:"notion"`
	Jobs     JobsConfig     `mapstructure:"jobs"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// BigQueryConfig holds warehouse settings.
type BigQueryConfig struct {
	ProjectID string `mapstructure:"project_id"`
}

// GCSConfig holds statement storage settings.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
}

// OracleConfig holds verification model settings.
type OracleConfig struct {
	APIKeyEnv string        `mapstructure:"api_key_env"`
	APIKey    string        `mapstructure:"api_key"`
	Model     string        `mapstructure:"model"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// NotionConfig holds export settings.
type NotionConfig struct {
	TokenEnv   string `mapstructure:"token_env"`
	Token      string `mapstructure:"token"`
	DatabaseID string `mapstructure:"database_id"`
}

// JobsConfig holds background queue settings.
type JobsConfig struct {
	BufferSize int `mapstructure:"buffer_size"`
	Workers    int `mapstructure:"workers"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// Load reads configuration from file and env. Env var overrides use prefix
// FINBACK_, e.g. FINBACK_BIGQUERY_PROJECT_ID.
func Load() (Config, error) {
	v := viper.New()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("bigquery.project_id", "")
	v.SetDefault("gcs.bucket", "")
	v.SetDefault("oracle.api_key_env", "GEMINI_API_KEY")
	v.SetDefault("oracle.api_key", "")
	v.SetDefault("oracle.model", "gemini-2.5-flash")
	v.SetDefault("oracle.timeout", "45s")
	v.SetDefault("notion.token_env", "NOTION_TOKEN")
	v.SetDefault("notion.token", "")
	v.SetDefault("notion.database_id", "")
	v.SetDefault("jobs.buffer_size", 100)
	v.SetDefault("jobs.workers", 5)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetConfigType("yaml")

	cfgPath := os.Getenv("FINBACK_CONFIG")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/finance-backend")
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("FINBACK")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// read config file if present
	_ = v.ReadInConfig()

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	// Secrets prefer the pointed-at env var over a value in the file.
	if c.Oracle.APIKey == "" && c.Oracle.APIKeyEnv != "" {
		c.Oracle.APIKey = os.Getenv(c.Oracle.APIKeyEnv)
	}
	if c.Notion.Token == "" && c.Notion.TokenEnv != "" {
		c.Notion.Token = os.Getenv(c.Notion.TokenEnv)
	}

	return c, nil
}

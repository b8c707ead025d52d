package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Secrets are process-level settings read from the environment only.
type Secrets struct {
	GeminiAPIKey string `envconfig:"GEMINI_API_KEY"`
	LLMProvider  string `envconfig:"LLM_PROVIDER" default:""`
	OllamaHost   string `envconfig:"OLLAMA_HOST" default:"http://localhost:11434"`
	OllamaModel  string `envconfig:"OLLAMA_MODEL" default:"llama3.1"`
	DatabaseURL  string `envconfig:"DATABASE_URL" default:""`
	AdminSecret  string `envconfig:"ADMIN_SECRET" default:""`
	JWTSecret    string `envconfig:"JWT_SECRET" default:""`
	Port         string `envconfig:"PORT" default:"8080"`
	LogLevel     string `envconfig:"LOG_LEVEL" default:"info"`
	SettingsPath string `envconfig:"SETTINGS_PATH" default:""`

	Minio        MinioConfig `envconfig:"MINIO"`
}

// MinioConfig is read from MINIO_ENDPOINT, MINIO_ACCESS_KEY and so on.
type MinioConfig struct {
	Endpoint  string `envconfig:"ENDPOINT" default:""`
	AccessKey string `envconfig:"ACCESS_KEY" default:""`
	SecretKey string `envconfig:"SECRET_KEY" default:""`
	Bucket    string `envconfig:"BUCKET" default:"opportunity-runs"`
	UseSSL    bool   `envconfig:"USE_SSL" default:"false"`
}

func (m MinioConfig) Enabled() bool {
	return m.Endpoint != "" && m.AccessKey != "" && m.SecretKey != ""
}

func LoadSecrets() (*Secrets, error) {
	s := new(Secrets)
	if err := envconfig.Process("", s); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	return s, nil
}

// ApplyOverrides lets the environment pick the LLM backend without editing
// the settings file.
func (s *Secrets) ApplyOverrides(settings *Settings) {
	if s.LLMProvider != "" {
		settings.LLM.Provider = s.LLMProvider
	}
}

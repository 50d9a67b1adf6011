// Package config loads the process configuration from the environment,
// with optional YAML overrides for settings that are awkward as env vars.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultWorkspaceRoot = "/workspace"
	DefaultStorePath     = "/data/pipelines.json"
	DefaultListenAddr    = ":8080"
	DefaultLLMBaseURL    = "https://api.anthropic.com"
)

// Config is the full process configuration.
type Config struct {
	WorkspaceRoot string
	StorePath     string
	ListenAddr    string

	LLMBaseURL string
	LLMAPIKey  string
	LLMModels  []string

	RepoOwner string
	RepoToken string

	DeployURL        string
	DeployToken      string
	DeployBaseDomain string

	SkillsURL string
}

// overrides is the optional YAML file pointed at by FABRIQ_CONFIG.
type overrides struct {
	ListenAddr string   `yaml:"listen_addr"`
	LLMBaseURL string   `yaml:"llm_base_url"`
	LLMModels  []string `yaml:"llm_models"`
}

// Load reads configuration from the environment and the optional
// overrides file. The LLM credential and model list are required.
func Load() (*Config, error) {
	cfg := &Config{
		WorkspaceRoot: envOr("WORKSPACE_ROOT", DefaultWorkspaceRoot),
		StorePath:     envOr("STORE_PATH", DefaultStorePath),
		ListenAddr:    envOr("FABRIQ_ADDR", DefaultListenAddr),

		LLMBaseURL: envOr("LLM_BASE_URL", DefaultLLMBaseURL),
		LLMAPIKey:  os.Getenv("LLM_API_KEY"),
		LLMModels:  splitList(os.Getenv("LLM_MODELS")),

		RepoOwner: os.Getenv("REPO_OWNER"),
		RepoToken: os.Getenv("REPO_TOKEN"),

		DeployURL:        os.Getenv("DEPLOY_URL"),
		DeployToken:      os.Getenv("DEPLOY_TOKEN"),
		DeployBaseDomain: os.Getenv("DEPLOY_BASE_DOMAIN"),

		SkillsURL: os.Getenv("SKILLS_URL"),
	}

	if path := os.Getenv("FABRIQ_CONFIG"); path != "" {
		if err := cfg.applyOverrides(path); err != nil {
			return nil, err
		}
	}

	if cfg.LLMAPIKey == "" {
		return nil, fmt.Errorf("LLM_API_KEY is required")
	}
	if len(cfg.LLMModels) == 0 {
		return nil, fmt.Errorf("LLM_MODELS is required (comma-separated, preferred model first)")
	}
	return cfg, nil
}

func (c *Config) applyOverrides(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	var ov overrides
	if err := yaml.Unmarshal(data, &ov); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	if ov.ListenAddr != "" {
		c.ListenAddr = ov.ListenAddr
	}
	if ov.LLMBaseURL != "" {
		c.LLMBaseURL = ov.LLMBaseURL
	}
	if len(ov.LLMModels) > 0 {
		c.LLMModels = ov.LLMModels
	}
	return nil
}

// RepoConfigured reports whether source-hosting credentials are present.
func (c *Config) RepoConfigured() bool {
	return c.RepoOwner != "" && c.RepoToken != ""
}

// DeployConfigured reports whether deployment credentials are present.
func (c *Config) DeployConfigured() bool {
	return c.DeployURL != "" && c.DeployToken != ""
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

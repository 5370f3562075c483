// internal/common/config/loader.go
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load reads configs/config.yaml, merges config.<APP_ENVIRONMENT>.yaml on top
// and applies environment overrides. The result is immutable for the life of
// the process.
func Load() (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")

	// JIRA_BASE_URL -> jira.base_url
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	v.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = v.MergeInConfig() // ignore error if not found

	return decode(v)
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	overrideEmptyConfig(&cfg)
	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
		"../../../.env",
	}

	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// Find project root by looking for go.mod
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// expandEnvVars resolves ${VAR} placeholders left in string values.
func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		strVal, ok := v.Get(key).(string)
		if !ok {
			continue
		}
		if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
			expanded := os.ExpandEnv(strVal)
			if expanded != strVal && expanded != "" {
				v.Set(key, expanded)
			}
		}
	}
}

// overrideEmptyConfig fills values still empty after unmarshal from the
// flat variable names the chatbot has always been deployed with.
func overrideEmptyConfig(cfg *Config) {
	setString := func(dst *string, names ...string) {
		if *dst != "" {
			return
		}
		for _, name := range names {
			if val := os.Getenv(name); val != "" {
				*dst = val
				return
			}
		}
	}

	setString(&cfg.Jira.BaseURL, "JIRA_BASE_URL")
	setString(&cfg.Jira.Email, "JIRA_EMAIL")
	setString(&cfg.Jira.APIToken, "JIRA_API_TOKEN")

	setString(&cfg.Generation.BaseURL, "OLLAMA_BASE_URL")
	setString(&cfg.Generation.Model, "OLLAMA_MODEL", "LLM_MODEL_NAME")
	setString(&cfg.Server.Host, "HOST")

	if cfg.Generation.Backend == "" {
		if val := os.Getenv("USE_OLLAMA"); val != "" {
			if enabled, err := strconv.ParseBool(val); err == nil && !enabled {
				cfg.Generation.Backend = "template"
			} else {
				cfg.Generation.Backend = "ollama"
			}
		}
	}

	if cfg.Server.Port == 0 {
		if val, err := strconv.Atoi(os.Getenv("PORT")); err == nil {
			cfg.Server.Port = val
		}
	}
	if cfg.Generation.Temperature == 0 {
		if val, err := strconv.ParseFloat(os.Getenv("TEMPERATURE"), 64); err == nil {
			cfg.Generation.Temperature = val
		}
	}
	if cfg.Generation.MaxResponseLength == 0 {
		if val, err := strconv.Atoi(os.Getenv("MAX_RESPONSE_LENGTH")); err == nil {
			cfg.Generation.MaxResponseLength = val
		}
	}
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "jira-support-bot"
	}

	// Server defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15000
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60000
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = []string{"*"}
	}

	// Camunda defaults
	if cfg.Camunda.MaxJobsActive == 0 {
		cfg.Camunda.MaxJobsActive = 10
	}
	if cfg.Camunda.Timeout == 0 {
		cfg.Camunda.Timeout = 30000
	}
	if cfg.Camunda.RequestTimeout == 0 {
		cfg.Camunda.RequestTimeout = 30000
	}

	// Database defaults
	if cfg.Database.Corpus.Driver == "" {
		cfg.Database.Corpus.Driver = "sqlite"
	}
	if cfg.Database.Corpus.DSN == "" && cfg.Database.Corpus.Driver == "sqlite" {
		cfg.Database.Corpus.DSN = "./data/corpus.db"
	}
	if cfg.Database.Corpus.Table == "" {
		cfg.Database.Corpus.Table = "passages"
	}
	if cfg.Database.Corpus.MaxConnections == 0 {
		cfg.Database.Corpus.MaxConnections = 4
	}
	if cfg.Database.Elasticsearch.URL == "" && len(cfg.Database.Elasticsearch.Addresses) > 0 {
		cfg.Database.Elasticsearch.URL = cfg.Database.Elasticsearch.Addresses[0]
	}
	if cfg.Database.Redis.CacheTTL == 0 {
		cfg.Database.Redis.CacheTTL = 60
	}

	// Jira defaults
	if cfg.Jira.Timeout == 0 {
		cfg.Jira.Timeout = 10000
	}
	cfg.Jira.BaseURL = strings.TrimRight(cfg.Jira.BaseURL, "/")

	// Generation defaults
	if cfg.Generation.Backend == "" {
		cfg.Generation.Backend = "ollama"
	}
	if cfg.Generation.BaseURL == "" {
		cfg.Generation.BaseURL = "http://localhost:11434"
	}
	if cfg.Generation.Model == "" {
		cfg.Generation.Model = "llama2"
	}
	if cfg.Generation.Temperature == 0 {
		cfg.Generation.Temperature = 0.7
	}
	if cfg.Generation.MaxTokens == 0 {
		cfg.Generation.MaxTokens = 256
	}
	if cfg.Generation.MaxResponseLength == 0 {
		cfg.Generation.MaxResponseLength = 500
	}
	if cfg.Generation.HistoryTurns == 0 {
		cfg.Generation.HistoryTurns = 5
	}
	if cfg.Generation.Timeout == 0 {
		cfg.Generation.Timeout = 60000
	}

	// Knowledge defaults
	if cfg.Knowledge.Backend == "" {
		cfg.Knowledge.Backend = "memory"
	}
	if cfg.Knowledge.Index == "" {
		cfg.Knowledge.Index = "jira-docs"
	}
	if cfg.Knowledge.EmbeddingModel == "" {
		cfg.Knowledge.EmbeddingModel = "all-minilm"
	}
	if cfg.Knowledge.TopK == 0 {
		cfg.Knowledge.TopK = 5
	}
	if cfg.Knowledge.Timeout == 0 {
		cfg.Knowledge.Timeout = 5000
	}

	// Router defaults
	if cfg.Router.IntentThreshold == 0 {
		cfg.Router.IntentThreshold = 0.5
	}
	if cfg.Router.RetryDelay == 0 {
		cfg.Router.RetryDelay = 500
	}
	if cfg.Router.Tier1Budget == 0 {
		cfg.Router.Tier1Budget = 8000
	}
	if cfg.Router.FallbackConfidence == 0 {
		cfg.Router.FallbackConfidence = 0.1
	}
	if cfg.Router.HistoryWindow == 0 {
		cfg.Router.HistoryWindow = 10
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	// Worker defaults
	for key, worker := range cfg.Workers {
		if worker.MaxJobsActive == 0 {
			worker.MaxJobsActive = 5
		}
		if worker.Timeout == 0 {
			worker.Timeout = 30000
		}
		if worker.MaxRetries == 0 {
			worker.MaxRetries = 3
		}
		cfg.Workers[key] = worker
	}
}

// validateConfig validates critical configuration fields
func validateConfig(cfg *Config) error {
	if cfg.Jira.BaseURL == "" {
		return fmt.Errorf("jira.base_url is required")
	}
	if u, err := url.Parse(cfg.Jira.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("jira.base_url must be an absolute URL, got %q", cfg.Jira.BaseURL)
	}
	if cfg.Jira.Email != "" && cfg.Jira.APIToken == "" {
		return fmt.Errorf("jira.api_token is required when jira.email is set")
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", cfg.Server.Port)
	}

	switch cfg.Generation.Backend {
	case "ollama", "template":
	default:
		return fmt.Errorf("generation.backend must be ollama or template, got %q", cfg.Generation.Backend)
	}
	if cfg.Generation.Temperature < 0 || cfg.Generation.Temperature > 2 {
		return fmt.Errorf("generation.temperature out of range: %v", cfg.Generation.Temperature)
	}

	switch cfg.Knowledge.Backend {
	case "memory":
		switch cfg.Database.Corpus.Driver {
		case "sqlite", "postgres":
		default:
			return fmt.Errorf("database.corpus.driver must be sqlite or postgres, got %q", cfg.Database.Corpus.Driver)
		}
		if cfg.Database.Corpus.DSN == "" {
			return fmt.Errorf("database.corpus.dsn is required for the memory knowledge backend")
		}
	case "elasticsearch":
		if cfg.Database.Elasticsearch.GetURL() == "" {
			return fmt.Errorf("database.elasticsearch.addresses or url is required for the elasticsearch knowledge backend")
		}
	case "none":
	default:
		return fmt.Errorf("knowledge.backend must be memory, elasticsearch or none, got %q", cfg.Knowledge.Backend)
	}
	if cfg.Knowledge.TopK < 1 || cfg.Knowledge.TopK > 20 {
		return fmt.Errorf("knowledge.top_k must be between 1 and 20, got %d", cfg.Knowledge.TopK)
	}

	if cfg.Router.IntentThreshold < 0 || cfg.Router.IntentThreshold > 1 {
		return fmt.Errorf("router.intent_threshold must be within [0,1], got %v", cfg.Router.IntentThreshold)
	}
	if cfg.Router.RetryDelay >= cfg.Router.Tier1Budget {
		return fmt.Errorf("router.retry_delay (%dms) must be shorter than router.tier1_budget (%dms)",
			cfg.Router.RetryDelay, cfg.Router.Tier1Budget)
	}

	return nil
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}

// GetWorkerConfig retrieves worker-specific configuration with fallback to defaults
func GetWorkerConfig(cfg *Config, workerName string) WorkerConfig {
	if worker, exists := cfg.Workers[workerName]; exists {
		return worker
	}

	return WorkerConfig{
		Enabled:       true,
		MaxJobsActive: 5,
		Timeout:       30000,
		MaxRetries:    3,
	}
}

// IsWorkerEnabled checks if a specific worker is enabled
func IsWorkerEnabled(cfg *Config, workerName string) bool {
	if worker, exists := cfg.Workers[workerName]; exists {
		return worker.Enabled
	}
	return true
}

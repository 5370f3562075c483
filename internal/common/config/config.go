// internal/common/config/config.go
package config

import (
	"fmt"
	"net"
	"strconv"
)

// Config is the main application configuration struct.
type Config struct {
	App        AppConfig               `mapstructure:"app"`
	Server     ServerConfig            `mapstructure:"server"`
	Camunda    CamundaConfig           `mapstructure:"camunda"`
	Database   DatabaseConfig          `mapstructure:"database"`
	Workers    map[string]WorkerConfig `mapstructure:"workers"`
	Jira       JiraConfig              `mapstructure:"jira"`
	Generation GenerationConfig        `mapstructure:"generation"`
	Knowledge  KnowledgeConfig         `mapstructure:"knowledge"`
	Router     RouterConfig            `mapstructure:"router"`
	Logging    LoggingConfig           `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type ServerConfig struct {
	Host         string   `mapstructure:"host"`
	Port         int      `mapstructure:"port"`
	ReadTimeout  int      `mapstructure:"read_timeout"`  // milliseconds
	WriteTimeout int      `mapstructure:"write_timeout"` // milliseconds
	CORSOrigins  []string `mapstructure:"cors_origins"`
}

// Address returns host:port for the HTTP listener.
func (s ServerConfig) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// CamundaConfig enables the optional Zeebe job worker. An empty broker
// address leaves it disabled.
type CamundaConfig struct {
	BrokerAddress  string `mapstructure:"broker_address"`
	MaxJobsActive  int    `mapstructure:"max_jobs_active"`
	Timeout        int    `mapstructure:"timeout"`         // milliseconds
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
}

type DatabaseConfig struct {
	Corpus        CorpusConfig        `mapstructure:"corpus"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

// CorpusConfig points at the SQL store holding the pre-built documentation
// corpus. Driver is "sqlite" or "postgres".
type CorpusConfig struct {
	Driver         string `mapstructure:"driver"`
	DSN            string `mapstructure:"dsn"`
	Table          string `mapstructure:"table"`
	MaxConnections int    `mapstructure:"max_connections"`
}

type ElasticsearchConfig struct {
	Addresses  []string `mapstructure:"addresses"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	SSLEnabled bool     `mapstructure:"ssl_enabled"`
	URL        string   `mapstructure:"url"` // Single URL for backwards compatibility
}

// GetURL returns the first address or the URL field
func (e ElasticsearchConfig) GetURL() string {
	if e.URL != "" {
		return e.URL
	}
	if len(e.Addresses) > 0 {
		return e.Addresses[0]
	}
	return ""
}

// RedisConfig backs the tier-1 read cache. An empty address disables it.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	CacheTTL int    `mapstructure:"cache_ttl"` // seconds
}

// WorkerConfig holds the core settings applicable to every worker.
type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"`     // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"` // For error handling
}

// --- Specific Configuration Sections ---

// JiraConfig holds the tracking system connection. Email + APIToken selects
// basic auth, APIToken alone selects bearer auth.
type JiraConfig struct {
	BaseURL  string `mapstructure:"base_url"`
	Email    string `mapstructure:"email"`
	APIToken string `mapstructure:"api_token"`
	Timeout  int    `mapstructure:"timeout"` // milliseconds
}

// GenerationConfig selects the text generation backend.
type GenerationConfig struct {
	Backend           string  `mapstructure:"backend"` // "ollama" or "template"
	BaseURL           string  `mapstructure:"base_url"`
	Model             string  `mapstructure:"model"`
	Temperature       float64 `mapstructure:"temperature"`
	MaxTokens         int     `mapstructure:"max_tokens"`
	MaxResponseLength int     `mapstructure:"max_response_length"`
	HistoryTurns      int     `mapstructure:"history_turns"`
	Timeout           int     `mapstructure:"timeout"` // milliseconds
}

// KnowledgeConfig selects the documentation search index.
type KnowledgeConfig struct {
	Backend        string `mapstructure:"backend"` // "memory", "elasticsearch" or "none"
	Index          string `mapstructure:"index"`
	EmbeddingModel string `mapstructure:"embedding_model"`
	TopK           int    `mapstructure:"top_k"`
	Timeout        int    `mapstructure:"timeout"` // milliseconds
}

// RouterConfig holds the tier policy knobs.
type RouterConfig struct {
	IntentThreshold    float64 `mapstructure:"intent_threshold"`
	RetryDelay         int     `mapstructure:"retry_delay"`  // milliseconds
	Tier1Budget        int     `mapstructure:"tier1_budget"` // milliseconds
	FallbackConfidence float64 `mapstructure:"fallback_confidence"`
	HistoryWindow      int     `mapstructure:"history_window"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// CacheEnabled reports whether a Redis address was configured.
func (r RedisConfig) CacheEnabled() bool {
	return r.Address != ""
}

// Enabled reports whether the Zeebe worker should start.
func (c CamundaConfig) Enabled() bool {
	return c.BrokerAddress != ""
}

func (c CorpusConfig) String() string {
	return fmt.Sprintf("%s(%s)", c.Driver, c.Table)
}

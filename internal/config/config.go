// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	// Server configuration
	Host string `envconfig:"FINRAG_HOST" yaml:"host" toml:"host"`
	Port int    `envconfig:"FINRAG_PORT" yaml:"port" toml:"port"`

	// Vector index
	Qdrant QdrantConfig `yaml:"qdrant" toml:"qdrant"`

	// External model providers
	Embedding EmbeddingConfig `yaml:"embedding" toml:"embedding"`
	LLM       LLMConfig       `yaml:"llm" toml:"llm"`
	Rerank    RerankConfig    `yaml:"rerank" toml:"rerank"`

	// Query pipeline
	Retrieval RetrievalConfig `yaml:"retrieval" toml:"retrieval"`

	// Spend control
	Cost CostConfig `yaml:"cost" toml:"cost"`

	// Request governor
	RateLimit RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`

	// Source documents
	Documents DocumentsConfig `yaml:"documents" toml:"documents"`

	// Bus configuration
	Bus BusConfig `yaml:"bus" toml:"bus"`

	// Logging configuration
	Log LogConfig `yaml:"log" toml:"log"`

	// Security configuration
	Security SecurityConfig `yaml:"security" toml:"security"`

	// Observability configuration
	Observability ObservabilityConfig `yaml:"observability" toml:"observability"`
}

// QdrantConfig holds Qdrant connection settings.
type QdrantConfig struct {
	// URL is the gRPC endpoint, e.g. http://localhost:6334.
	URL            string `envconfig:"QDRANT_URL" yaml:"url" toml:"url"`
	APIKey         string `envconfig:"QDRANT_API_KEY" yaml:"api_key" toml:"api_key"`
	Collection     string `envconfig:"QDRANT_COLLECTION" yaml:"collection" toml:"collection"`
	DenseVector    string `envconfig:"QDRANT_DENSE_VECTOR" yaml:"dense_vector" toml:"dense_vector"`
	SparseVector   string `envconfig:"QDRANT_SPARSE_VECTOR" yaml:"sparse_vector" toml:"sparse_vector"`
	TimeoutSeconds int    `envconfig:"QDRANT_TIMEOUT" yaml:"timeout_seconds" toml:"timeout_seconds"`
}

// EmbeddingConfig holds the embedding provider settings.
type EmbeddingConfig struct {
	BaseURL        string `envconfig:"FINRAG_EMBEDDING_URL" yaml:"base_url" toml:"base_url"`
	APIKey         string `envconfig:"OPENAI_API_KEY" yaml:"api_key" toml:"api_key"`
	Model          string `envconfig:"OPENAI_EMBEDDING_MODEL" yaml:"model" toml:"model"`
	Dimensions     int    `envconfig:"FINRAG_EMBEDDING_DIM" yaml:"dimensions" toml:"dimensions"`
	CacheSize      int    `envconfig:"FINRAG_EMBEDDING_CACHE_SIZE" yaml:"cache_size" toml:"cache_size"` // 0 = disabled
	TimeoutSeconds int    `envconfig:"FINRAG_EMBEDDING_TIMEOUT" yaml:"timeout_seconds" toml:"timeout_seconds"`
}

// LLMConfig holds the language model provider settings.
type LLMConfig struct {
	BaseURL        string  `envconfig:"FINRAG_LLM_URL" yaml:"base_url" toml:"base_url"`
	APIKey         string  `envconfig:"OPENAI_API_KEY" yaml:"api_key" toml:"api_key"`
	Model          string  `envconfig:"OPENAI_MODEL" yaml:"model" toml:"model"`
	Temperature    float64 `envconfig:"FINRAG_LLM_TEMPERATURE" yaml:"temperature" toml:"temperature"`
	MaxTokens      int     `envconfig:"FINRAG_LLM_MAX_TOKENS" yaml:"max_tokens" toml:"max_tokens"`
	TimeoutSeconds int     `envconfig:"FINRAG_LLM_TIMEOUT" yaml:"timeout_seconds" toml:"timeout_seconds"`
}

// RerankConfig holds the rerank provider settings.
type RerankConfig struct {
	Enabled        bool   `envconfig:"FINRAG_RERANK_ENABLED" yaml:"enabled" toml:"enabled"`
	BaseURL        string `envconfig:"FINRAG_RERANK_URL" yaml:"base_url" toml:"base_url"`
	APIKey         string `envconfig:"COHERE_API_KEY" yaml:"api_key" toml:"api_key"`
	Model          string `envconfig:"FINRAG_RERANK_MODEL" yaml:"model" toml:"model"`
	Candidates     int    `envconfig:"FINRAG_RERANK_CANDIDATES" yaml:"candidates" toml:"candidates"`
	TimeoutSeconds int    `envconfig:"FINRAG_RERANK_TIMEOUT" yaml:"timeout_seconds" toml:"timeout_seconds"`
}

// RetrievalConfig holds query pipeline settings.
type RetrievalConfig struct {
	DefaultTopK     int     `envconfig:"FINRAG_DEFAULT_TOP_K" yaml:"default_top_k" toml:"default_top_k"`
	MaxTopK         int     `envconfig:"FINRAG_MAX_TOP_K" yaml:"max_top_k" toml:"max_top_k"`
	OverfetchFactor int     `envconfig:"FINRAG_OVERFETCH_FACTOR" yaml:"overfetch_factor" toml:"overfetch_factor"`
	SourceThreshold float64 `envconfig:"FINRAG_SOURCE_THRESHOLD" yaml:"source_threshold" toml:"source_threshold"`
	ThreatThreshold float64 `envconfig:"FINRAG_THREAT_THRESHOLD" yaml:"threat_threshold" toml:"threat_threshold"`
	SourceTextLimit int     `envconfig:"FINRAG_SOURCE_TEXT_LIMIT" yaml:"source_text_limit" toml:"source_text_limit"`
}

// CostConfig holds the daily budget and price table.
type CostConfig struct {
	DailyLimitUSD float64 `envconfig:"MAX_DAILY_COST_USD" yaml:"daily_limit_usd" toml:"daily_limit_usd"`
	ResetHour     int     `envconfig:"COST_RESET_HOUR" yaml:"reset_hour" toml:"reset_hour"`
	Store         string  `envconfig:"FINRAG_COST_STORE" yaml:"store" toml:"store"`
	RedisURL      string  `envconfig:"FINRAG_REDIS_URL" yaml:"redis_url" toml:"redis_url"`
	RedisPrefix   string  `envconfig:"FINRAG_REDIS_PREFIX" yaml:"redis_prefix" toml:"redis_prefix"`
	SQLitePath    string  `envconfig:"FINRAG_COST_DB" yaml:"sqlite_path" toml:"sqlite_path"`

	Pricing PricingConfig `yaml:"pricing" toml:"pricing"`
}

// PricingConfig is the per-unit price table in USD.
type PricingConfig struct {
	EmbeddingPer1K        float64 `envconfig:"FINRAG_PRICE_EMBEDDING_1K" yaml:"embedding_per_1k" toml:"embedding_per_1k"`
	GenerationInputPer1K  float64 `envconfig:"FINRAG_PRICE_LLM_INPUT_1K" yaml:"generation_input_per_1k" toml:"generation_input_per_1k"`
	GenerationOutputPer1K float64 `envconfig:"FINRAG_PRICE_LLM_OUTPUT_1K" yaml:"generation_output_per_1k" toml:"generation_output_per_1k"`
	VectorQueryPerResult  float64 `envconfig:"FINRAG_PRICE_VECTOR_RESULT" yaml:"vector_query_per_result" toml:"vector_query_per_result"`
	RerankPerSearch       float64 `envconfig:"FINRAG_PRICE_RERANK_SEARCH" yaml:"rerank_per_search" toml:"rerank_per_search"`
}

// RateLimitConfig holds per-route request limits. A zero rate disables the route limit.
type RateLimitConfig struct {
	Enabled            bool `envconfig:"FINRAG_RATE_LIMIT_ENABLED" yaml:"enabled" toml:"enabled"`
	QueryPerMinute     int  `envconfig:"FINRAG_RATE_LIMIT_QUERY" yaml:"query_per_minute" toml:"query_per_minute"`
	CostsPerMinute     int  `envconfig:"FINRAG_RATE_LIMIT_COSTS" yaml:"costs_per_minute" toml:"costs_per_minute"`
	DocumentsPerMinute int  `envconfig:"FINRAG_RATE_LIMIT_DOCUMENTS" yaml:"documents_per_minute" toml:"documents_per_minute"`
	Burst              int  `envconfig:"FINRAG_RATE_LIMIT_BURST" yaml:"burst" toml:"burst"`

	// TrustedProxies lists the peers, as IPs or CIDRs separated by commas,
	// whose X-Forwarded-For and X-Real-IP headers are believed. Empty trusts none.
	TrustedProxies string `envconfig:"FINRAG_TRUSTED_PROXIES" yaml:"trusted_proxies" toml:"trusted_proxies"`
}

// DocumentsConfig points at the directory holding the original PDFs.
type DocumentsConfig struct {
	Dir string `envconfig:"DOCS_DIR" yaml:"dir" toml:"dir"`
}

// BusConfig holds event bus settings.
type BusConfig struct {
	Type         string `envconfig:"FINRAG_BUS_TYPE" yaml:"type" toml:"type"`
	KafkaBrokers string `envconfig:"FINRAG_KAFKA_BROKERS" yaml:"kafka_brokers" toml:"kafka_brokers"`
	ClientID     string `envconfig:"FINRAG_KAFKA_CLIENT_ID" yaml:"client_id" toml:"client_id"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `envconfig:"FINRAG_LOG_LEVEL" yaml:"level" toml:"level"`
	Format string `envconfig:"FINRAG_LOG_FORMAT" yaml:"format" toml:"format"`
}

// SecurityConfig holds security settings.
type SecurityConfig struct {
	CORSOrigins     string `envconfig:"CORS_ORIGINS" yaml:"cors_origins" toml:"cors_origins"`
	MaxRequestBytes int64  `envconfig:"FINRAG_MAX_REQUEST_BYTES" yaml:"max_request_bytes" toml:"max_request_bytes"`
}

// ObservabilityConfig holds observability settings.
type ObservabilityConfig struct {
	MetricsEnabled bool   `envconfig:"FINRAG_METRICS_ENABLED" yaml:"metrics_enabled" toml:"metrics_enabled"`
	MetricsPath    string `envconfig:"FINRAG_METRICS_PATH" yaml:"metrics_path" toml:"metrics_path"`
	MCPEnabled     bool   `envconfig:"FINRAG_MCP_HTTP_ENABLED" yaml:"mcp_enabled" toml:"mcp_enabled"`

	// ActivityLogSize bounds the in-memory recent query log. 0 disables it.
	ActivityLogSize int `envconfig:"FINRAG_ACTIVITY_LOG_SIZE" yaml:"activity_log_size" toml:"activity_log_size"`
}

// Load loads configuration from environment variables and optional config file.
// Files ending in .toml are parsed as TOML, anything else as YAML.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	setDefaults(cfg)

	if configPath != "" {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	// Environment has the highest priority.
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("processing env config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables only.
func LoadFromEnv() (*Config, error) {
	return Load("")
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return toml.Unmarshal(data, cfg)
	}
	return yaml.Unmarshal(data, cfg)
}

// Default returns a configuration populated with defaults only.
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

func setDefaults(cfg *Config) {
	cfg.Host = "0.0.0.0"
	cfg.Port = 8000

	cfg.Qdrant = QdrantConfig{
		URL:            "http://localhost:6334",
		Collection:     "investment_research",
		DenseVector:    "dense",
		SparseVector:   "keywords",
		TimeoutSeconds: 10,
	}

	cfg.Embedding = EmbeddingConfig{
		BaseURL:        "https://api.openai.com/v1",
		Model:          "text-embedding-3-large",
		Dimensions:     3072,
		CacheSize:      1000,
		TimeoutSeconds: 15,
	}

	cfg.LLM = LLMConfig{
		BaseURL:        "https://api.openai.com/v1",
		Model:          "gpt-4-turbo-preview",
		Temperature:    0.1,
		MaxTokens:      1000,
		TimeoutSeconds: 60,
	}

	cfg.Rerank = RerankConfig{
		Enabled:        true,
		BaseURL:        "https://api.cohere.com/v1",
		Model:          "rerank-english-v3.0",
		Candidates:     20,
		TimeoutSeconds: 10,
	}

	cfg.Retrieval = RetrievalConfig{
		DefaultTopK:     5,
		MaxTopK:         20,
		OverfetchFactor: 3,
		SourceThreshold: 0.30,
		ThreatThreshold: 0.50,
		SourceTextLimit: 500,
	}

	cfg.Cost = CostConfig{
		DailyLimitUSD: 20.0,
		ResetHour:     0,
		Store:         "memory",
		RedisURL:      "redis://localhost:6379",
		RedisPrefix:   "finrag:cost",
		SQLitePath:    "./data/costs.db",
		Pricing: PricingConfig{
			EmbeddingPer1K:        0.00013,
			GenerationInputPer1K:  0.01,
			GenerationOutputPer1K: 0.03,
			VectorQueryPerResult:  0.0001,
			RerankPerSearch:       0.002,
		},
	}

	cfg.RateLimit = RateLimitConfig{
		Enabled:            true,
		QueryPerMinute:     10,
		CostsPerMinute:     60,
		DocumentsPerMinute: 30,
		Burst:              5,
	}

	cfg.Documents = DocumentsConfig{
		Dir: "./demo_data/documents",
	}

	cfg.Bus = BusConfig{
		Type:     "memory",
		ClientID: "research-assistant",
	}

	cfg.Log = LogConfig{
		Level:  "info",
		Format: "text",
	}

	cfg.Security = SecurityConfig{
		CORSOrigins:     "http://localhost:3000,http://127.0.0.1:3000",
		MaxRequestBytes: 16 << 10,
	}

	cfg.Observability = ObservabilityConfig{
		MetricsEnabled:  true,
		MetricsPath:     "/metrics",
		MCPEnabled:      true,
		ActivityLogSize: 1000,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	// Server validation
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, "port must be between 1 and 65535")
	}

	if c.Qdrant.Collection == "" {
		errs = append(errs, "qdrant collection is required")
	}

	if c.Qdrant.DenseVector == "" || c.Qdrant.SparseVector == "" {
		errs = append(errs, "qdrant dense_vector and sparse_vector names are required")
	}

	if c.Embedding.Dimensions < 1 {
		errs = append(errs, "embedding dimensions must be positive")
	}

	if c.LLM.MaxTokens < 1 {
		errs = append(errs, "llm max_tokens must be positive")
	}

	if c.Observability.ActivityLogSize < 0 {
		errs = append(errs, "activity_log_size must not be negative")
	}

	if c.Rerank.Candidates < 1 {
		errs = append(errs, "rerank candidates must be positive")
	}

	// Retrieval validation
	r := c.Retrieval
	if r.MaxTopK < 1 {
		errs = append(errs, "max_top_k must be positive")
	}

	if r.DefaultTopK < 1 || r.DefaultTopK > r.MaxTopK {
		errs = append(errs, "default_top_k must be between 1 and max_top_k")
	}

	if r.OverfetchFactor < 1 {
		errs = append(errs, "overfetch_factor must be at least 1")
	}

	if r.SourceThreshold < 0 || r.SourceThreshold > 1 {
		errs = append(errs, "source_threshold must be between 0 and 1")
	}

	if r.ThreatThreshold < 0 || r.ThreatThreshold > 1 {
		errs = append(errs, "threat_threshold must be between 0 and 1")
	}

	// Cost validation
	if c.Cost.DailyLimitUSD <= 0 {
		errs = append(errs, "daily_limit_usd must be positive")
	}

	if c.Cost.ResetHour < 0 || c.Cost.ResetHour > 23 {
		errs = append(errs, "reset_hour must be between 0 and 23")
	}

	validStores := map[string]bool{"memory": true, "redis": true, "sqlite": true}
	if !validStores[c.Cost.Store] {
		errs = append(errs, fmt.Sprintf("invalid cost store: %s (must be memory, redis, or sqlite)", c.Cost.Store))
	}

	p := c.Cost.Pricing
	if p.EmbeddingPer1K < 0 || p.GenerationInputPer1K < 0 || p.GenerationOutputPer1K < 0 ||
		p.VectorQueryPerResult < 0 || p.RerankPerSearch < 0 {
		errs = append(errs, "prices must not be negative")
	}

	if c.RateLimit.QueryPerMinute < 0 || c.RateLimit.CostsPerMinute < 0 || c.RateLimit.DocumentsPerMinute < 0 {
		errs = append(errs, "rate limits must not be negative")
	}
	if _, err := c.RateLimit.TrustedProxyPrefixes(); err != nil {
		errs = append(errs, err.Error())
	}

	// Bus validation
	validBusTypes := map[string]bool{"memory": true, "kafka": true}
	if !validBusTypes[c.Bus.Type] {
		errs = append(errs, fmt.Sprintf("invalid bus type: %s (must be memory or kafka)", c.Bus.Type))
	}

	if c.Bus.Type == "kafka" && c.Bus.KafkaBrokers == "" {
		errs = append(errs, "kafka_brokers is required when bus type is kafka")
	}

	// Log validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("invalid log format: %s (must be text or json)", c.Log.Format))
	}

	if c.Security.MaxRequestBytes < 1024 {
		errs = append(errs, "max_request_bytes must be at least 1024")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// Address returns the server address.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Log.Level == "debug"
}

// CORSOriginList splits the configured origins.
func (c *Config) CORSOriginList() []string {
	var out []string
	for _, o := range strings.Split(c.Security.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// TrustedProxyPrefixes parses TrustedProxies. A bare address becomes a
// single-host prefix.
func (c RateLimitConfig) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, entry := range strings.Split(c.TrustedProxies, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
			}
			out = append(out, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// Timeout converts a seconds setting into a duration.
func Timeout(seconds int) time.Duration {
	if seconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(seconds) * time.Second
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures every setting required to boot the RCA service.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
	Rules       RulesConfig       `yaml:"rules"`
	Timeline    TimelineConfig    `yaml:"timeline"`
	Hypotheses  HypothesesConfig  `yaml:"hypotheses"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Similarity  SimilarityConfig  `yaml:"similarity"`
	Graph       GraphConfig       `yaml:"graph"`
	Oracle      OracleConfig      `yaml:"oracle"`
	Store       StoreConfig       `yaml:"store"`
	Narrative   NarrativeConfig   `yaml:"narrative"`
	Cache       CacheConfig       `yaml:"cache"`
	Tracing     TracingConfig     `yaml:"tracing"`
}

// ServerConfig controls the gRPC and HTTP listeners.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	HTTPAddress     string        `yaml:"httpAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
	AnalyzeTimeout  time.Duration `yaml:"analyzeTimeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// RulesConfig controls rule-pack loading.
type RulesConfig struct {
	Path string `yaml:"path"`
}

// TimelineConfig overrides the phase-marker vocabularies. Empty lists keep the
// built-in keywords.
type TimelineConfig struct {
	MitigationKeywords     []string `yaml:"mitigationKeywords"`
	RecoveryKeywords       []string `yaml:"recoveryKeywords"`
	AcknowledgmentKeywords []string `yaml:"acknowledgmentKeywords"`
}

// HypothesesConfig tunes evidence weighting.
type HypothesesConfig struct {
	PhaseDecay       float64 `yaml:"phaseDecay"`
	OutlierBoost     float64 `yaml:"outlierBoost"`
	OutlierThreshold float64 `yaml:"outlierThreshold"`
}

// CalibrationConfig sets the reliability margins.
type CalibrationConfig struct {
	LowMargin      float64 `yaml:"lowMargin"`
	ModerateMargin float64 `yaml:"moderateMargin"`
}

// SimilarityConfig controls historical-incident ranking.
type SimilarityConfig struct {
	Threshold       float64       `yaml:"threshold"`
	TopK            int           `yaml:"topK"`
	CategoryWeight  float64       `yaml:"categoryWeight"`
	SourceWeight    float64       `yaml:"sourceWeight"`
	SeverityWeight  float64       `yaml:"severityWeight"`
	CandidateLimit  int           `yaml:"candidateLimit"`
	StoreTimeout    time.Duration `yaml:"storeTimeout"`
	Retries         int           `yaml:"retries"`
	PersistAnalyses bool          `yaml:"persistAnalyses"`
}

// GraphConfig controls causal graph assembly.
type GraphConfig struct {
	Relevance float64 `yaml:"relevance"`
}

// OracleConfig configures the reasoning oracle.
type OracleConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Provider      string        `yaml:"provider"`
	Model         string        `yaml:"model"`
	APIKey        string        `yaml:"apiKey"`
	BaseURL       string        `yaml:"baseURL"`
	MaxTokens     int           `yaml:"maxTokens"`
	Timeout       time.Duration `yaml:"timeout"`
	Retries       int           `yaml:"retries"`
	MaxAdjustment float64       `yaml:"maxAdjustment"`
}

// StoreConfig configures the Weaviate fingerprint store.
type StoreConfig struct {
	Endpoint  string        `yaml:"endpoint"`
	APIKey    string        `yaml:"apiKey"`
	ClassName string        `yaml:"className"`
	Timeout   time.Duration `yaml:"timeout"`
}

// NarrativeConfig configures the external recommendation service. An empty
// base URL selects the built-in rule-pack recommender.
type NarrativeConfig struct {
	BaseURL       string        `yaml:"baseURL"`
	RecommendPath string        `yaml:"recommendPath"`
	Timeout       time.Duration `yaml:"timeout"`
}

// CacheConfig controls caching of fingerprint lookups. Valkey is used when
// enabled; otherwise an in-process LRU of LocalSize entries.
type CacheConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Addr           string        `yaml:"addr"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	DB             int           `yaml:"db"`
	DialTimeout    time.Duration `yaml:"dialTimeout"`
	ReadTimeout    time.Duration `yaml:"readTimeout"`
	WriteTimeout   time.Duration `yaml:"writeTimeout"`
	MaxRetries     int           `yaml:"maxRetries"`
	TLS            bool          `yaml:"tls"`
	KeyPrefix      string        `yaml:"keyPrefix"`
	LocalSize      int           `yaml:"localSize"`
	FingerprintTTL time.Duration `yaml:"fingerprintTTL"`
}

// TracingConfig controls OpenTelemetry export.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	ServiceName string  `yaml:"serviceName"`
	SampleRatio float64 `yaml:"sampleRatio"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("INCIDENT_RCA_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":50051",
			HTTPAddress:     ":8080",
			GracefulTimeout: 10 * time.Second,
			AnalyzeTimeout:  30 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Rules:   RulesConfig{Path: "configs/rules/default.yaml"},
		Hypotheses: HypothesesConfig{
			PhaseDecay:       0.5,
			OutlierBoost:     1.25,
			OutlierThreshold: 2.0,
		},
		Calibration: CalibrationConfig{LowMargin: 0.1, ModerateMargin: 0.25},
		Similarity: SimilarityConfig{
			Threshold:       0.5,
			TopK:            5,
			CategoryWeight:  0.35,
			SourceWeight:    0.35,
			SeverityWeight:  0.30,
			CandidateLimit:  50,
			StoreTimeout:    2 * time.Second,
			Retries:         1,
			PersistAnalyses: true,
		},
		Graph: GraphConfig{Relevance: 0.05},
		Oracle: OracleConfig{
			Enabled:       false,
			Provider:      "anthropic",
			MaxTokens:     1024,
			Timeout:       3 * time.Second,
			Retries:       1,
			MaxAdjustment: 0.2,
		},
		Store: StoreConfig{ClassName: "IncidentFingerprint", Timeout: 5 * time.Second},
		Narrative: NarrativeConfig{
			RecommendPath: "/api/v1/recommendations",
			Timeout:       5 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:        false,
			DialTimeout:    2 * time.Second,
			ReadTimeout:    500 * time.Millisecond,
			WriteTimeout:   500 * time.Millisecond,
			MaxRetries:     2,
			KeyPrefix:      "incident-rca:",
			LocalSize:      1024,
			FingerprintTTL: 2 * time.Minute,
		},
		Tracing: TracingConfig{
			Endpoint:    "localhost:4317",
			Insecure:    true,
			ServiceName: "incident-rca",
			SampleRatio: 1,
		},
	}
}

// Validate rejects settings outside their meaningful ranges.
func (c *Config) Validate() error {
	var problems []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	check(c.Server.Address != "", "server.address is required")
	check(inUnit(c.Similarity.Threshold), "similarity.threshold must be within [0,1], got %v", c.Similarity.Threshold)
	check(c.Similarity.TopK > 0, "similarity.topK must be positive, got %d", c.Similarity.TopK)
	check(c.Similarity.CategoryWeight >= 0 && c.Similarity.SourceWeight >= 0 && c.Similarity.SeverityWeight >= 0,
		"similarity weights must be non-negative")
	check(c.Similarity.CategoryWeight+c.Similarity.SourceWeight+c.Similarity.SeverityWeight > 0,
		"similarity weights must not all be zero")
	check(c.Similarity.Retries >= 0 && c.Similarity.Retries <= 1, "similarity.retries must be 0 or 1, got %d", c.Similarity.Retries)
	check(c.Calibration.LowMargin > 0 && c.Calibration.LowMargin <= 1, "calibration.lowMargin must be within (0,1], got %v", c.Calibration.LowMargin)
	check(c.Calibration.ModerateMargin >= c.Calibration.LowMargin && c.Calibration.ModerateMargin <= 1,
		"calibration.moderateMargin must be within [lowMargin,1], got %v", c.Calibration.ModerateMargin)
	check(c.Hypotheses.PhaseDecay > 0 && c.Hypotheses.PhaseDecay <= 1, "hypotheses.phaseDecay must be within (0,1], got %v", c.Hypotheses.PhaseDecay)
	check(c.Hypotheses.OutlierBoost >= 1, "hypotheses.outlierBoost must be at least 1, got %v", c.Hypotheses.OutlierBoost)
	check(c.Graph.Relevance > 0 && c.Graph.Relevance <= 1, "graph.relevance must be within (0,1], got %v", c.Graph.Relevance)
	check(c.Oracle.MaxAdjustment > 0 && c.Oracle.MaxAdjustment <= 1, "oracle.maxAdjustment must be within (0,1], got %v", c.Oracle.MaxAdjustment)
	check(c.Oracle.Retries >= 0 && c.Oracle.Retries <= 1, "oracle.retries must be 0 or 1, got %d", c.Oracle.Retries)
	if c.Oracle.Enabled {
		check(strings.EqualFold(c.Oracle.Provider, "anthropic"), "oracle.provider %q is not supported", c.Oracle.Provider)
	}
	if c.Cache.Enabled {
		check(c.Cache.Addr != "", "cache.addr is required when cache is enabled")
	}
	check(c.Tracing.SampleRatio >= 0 && c.Tracing.SampleRatio <= 1, "tracing.sampleRatio must be within [0,1], got %v", c.Tracing.SampleRatio)

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func inUnit(v float64) bool { return v >= 0 && v <= 1 }

func applyEnvOverrides(cfg *Config) {
	envString("INCIDENT_RCA_SERVER_ADDRESS", &cfg.Server.Address)
	envString("INCIDENT_RCA_HTTP_ADDRESS", &cfg.Server.HTTPAddress)
	envDuration("INCIDENT_RCA_ANALYZE_TIMEOUT", &cfg.Server.AnalyzeTimeout)
	envString("INCIDENT_RCA_LOG_LEVEL", &cfg.Logging.Level)
	if v := os.Getenv("INCIDENT_RCA_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	envString("INCIDENT_RCA_RULES_PATH", &cfg.Rules.Path)

	envFloat("INCIDENT_RCA_SIMILARITY_THRESHOLD", &cfg.Similarity.Threshold)
	envInt("INCIDENT_RCA_SIMILARITY_TOP_K", &cfg.Similarity.TopK)
	envDuration("INCIDENT_RCA_SIMILARITY_STORE_TIMEOUT", &cfg.Similarity.StoreTimeout)
	envFloat("INCIDENT_RCA_GRAPH_RELEVANCE", &cfg.Graph.Relevance)

	envBool("INCIDENT_RCA_ORACLE_ENABLED", &cfg.Oracle.Enabled)
	envString("INCIDENT_RCA_ORACLE_MODEL", &cfg.Oracle.Model)
	envString("INCIDENT_RCA_ORACLE_API_KEY", &cfg.Oracle.APIKey)
	envString("INCIDENT_RCA_ORACLE_BASE_URL", &cfg.Oracle.BaseURL)
	envDuration("INCIDENT_RCA_ORACLE_TIMEOUT", &cfg.Oracle.Timeout)

	envString("INCIDENT_RCA_WEAVIATE_URL", &cfg.Store.Endpoint)
	envString("INCIDENT_RCA_WEAVIATE_API_KEY", &cfg.Store.APIKey)
	envString("INCIDENT_RCA_WEAVIATE_CLASS", &cfg.Store.ClassName)
	envString("INCIDENT_RCA_NARRATIVE_URL", &cfg.Narrative.BaseURL)

	envBool("INCIDENT_RCA_CACHE_ENABLED", &cfg.Cache.Enabled)
	envString("INCIDENT_RCA_CACHE_ADDR", &cfg.Cache.Addr)
	envString("INCIDENT_RCA_CACHE_USERNAME", &cfg.Cache.Username)
	envString("INCIDENT_RCA_CACHE_PASSWORD", &cfg.Cache.Password)
	envInt("INCIDENT_RCA_CACHE_DB", &cfg.Cache.DB)
	envBool("INCIDENT_RCA_CACHE_TLS", &cfg.Cache.TLS)
	envDuration("INCIDENT_RCA_CACHE_DIAL_TIMEOUT", &cfg.Cache.DialTimeout)
	envDuration("INCIDENT_RCA_CACHE_READ_TIMEOUT", &cfg.Cache.ReadTimeout)
	envDuration("INCIDENT_RCA_CACHE_WRITE_TIMEOUT", &cfg.Cache.WriteTimeout)
	envInt("INCIDENT_RCA_CACHE_MAX_RETRIES", &cfg.Cache.MaxRetries)
	envDuration("INCIDENT_RCA_CACHE_FINGERPRINT_TTL", &cfg.Cache.FingerprintTTL)

	envBool("INCIDENT_RCA_TRACING_ENABLED", &cfg.Tracing.Enabled)
	envString("INCIDENT_RCA_TRACING_ENDPOINT", &cfg.Tracing.Endpoint)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		*dst = strings.EqualFold(v, "true") || v == "1"
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

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

func TestLoadDefaults(t *testing.T) {
	t.Setenv("INCIDENT_RCA_CONFIG", "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Similarity.Threshold != 0.5 || cfg.Similarity.TopK != 5 {
		t.Fatalf("unexpected similarity defaults: %+v", cfg.Similarity)
	}
	if cfg.Calibration.LowMargin != 0.1 || cfg.Calibration.ModerateMargin != 0.25 {
		t.Fatalf("unexpected calibration defaults: %+v", cfg.Calibration)
	}
	if cfg.Oracle.Timeout != 3*time.Second || cfg.Oracle.Retries != 1 || cfg.Oracle.MaxAdjustment != 0.2 {
		t.Fatalf("unexpected oracle defaults: %+v", cfg.Oracle)
	}
	if cfg.Graph.Relevance != 0.05 {
		t.Fatalf("unexpected graph relevance: %v", cfg.Graph.Relevance)
	}
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  address: ":6000"
similarity:
  threshold: 0.7
  topK: 3
timeline:
  recoveryKeywords: ["all clear"]
store:
  endpoint: "http://weaviate:8080"
`)
	t.Setenv("INCIDENT_RCA_SIMILARITY_TOP_K", "8")
	t.Setenv("INCIDENT_RCA_ORACLE_ENABLED", "true")
	t.Setenv("INCIDENT_RCA_ORACLE_TIMEOUT", "5s")
	t.Setenv("INCIDENT_RCA_LOG_FORMAT", "json")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Server.Address != ":6000" || cfg.Similarity.Threshold != 0.7 {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Similarity.TopK != 8 {
		t.Fatalf("env override not applied, topK=%d", cfg.Similarity.TopK)
	}
	if !cfg.Oracle.Enabled || cfg.Oracle.Timeout != 5*time.Second || !cfg.Logging.JSON {
		t.Fatalf("env overrides not applied: %+v", cfg.Oracle)
	}
	if cfg.Similarity.SourceWeight != 0.35 {
		t.Fatalf("defaults lost for unset keys: %+v", cfg.Similarity)
	}

	opts := cfg.TimelineOptions()
	if len(opts.RecoveryKeywords) != 1 || opts.RecoveryKeywords[0] != "all clear" {
		t.Fatalf("timeline keywords not mapped: %+v", opts)
	}
	if cfg.WeaviateConfig().Endpoint != "http://weaviate:8080" || cfg.WeaviateConfig().CacheTTL != 2*time.Minute {
		t.Fatalf("store config not mapped: %+v", cfg.WeaviateConfig())
	}
	if cfg.SimilarityOptions().Weights.Severity != 0.30 {
		t.Fatalf("similarity weights not mapped: %+v", cfg.SimilarityOptions())
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoadRejectsOutOfRange(t *testing.T) {
	cases := map[string]string{
		"threshold":  "similarity:\n  threshold: 1.5\n",
		"margins":    "calibration:\n  lowMargin: 0.3\n  moderateMargin: 0.2\n",
		"retries":    "oracle:\n  retries: 3\n",
		"weights":    "similarity:\n  categoryWeight: 0\n  sourceWeight: 0\n  severityWeight: 0\n",
		"provider":   "oracle:\n  enabled: true\n  provider: other\n",
		"cache addr": "cache:\n  enabled: true\n",
	}
	for name, body := range cases {
		body := body
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			if err == nil || !strings.Contains(err.Error(), "invalid config") {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

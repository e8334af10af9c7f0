package config

import (
	"github.com/miradorstack/incident-rca/internal/cache"
	"github.com/miradorstack/incident-rca/internal/engine"
	"github.com/miradorstack/incident-rca/internal/oracle"
	"github.com/miradorstack/incident-rca/internal/repo"
	"github.com/miradorstack/incident-rca/internal/tracing"
)

// TimelineOptions maps the timeline section onto builder options.
func (c *Config) TimelineOptions() engine.TimelineOptions {
	return engine.TimelineOptions{
		MitigationKeywords:     c.Timeline.MitigationKeywords,
		RecoveryKeywords:       c.Timeline.RecoveryKeywords,
		AcknowledgmentKeywords: c.Timeline.AcknowledgmentKeywords,
	}
}

// HypothesisOptions maps the hypotheses and oracle sections.
func (c *Config) HypothesisOptions() engine.HypothesisOptions {
	return engine.HypothesisOptions{
		PhaseDecay:       c.Hypotheses.PhaseDecay,
		OutlierBoost:     c.Hypotheses.OutlierBoost,
		OutlierThreshold: c.Hypotheses.OutlierThreshold,
		MaxAdjustment:    c.Oracle.MaxAdjustment,
	}
}

// CalibrationOptions maps the calibration section.
func (c *Config) CalibrationOptions() engine.CalibrationOptions {
	return engine.CalibrationOptions{
		LowMargin:      c.Calibration.LowMargin,
		ModerateMargin: c.Calibration.ModerateMargin,
	}
}

// SimilarityOptions maps the similarity section.
func (c *Config) SimilarityOptions() engine.SimilarityOptions {
	return engine.SimilarityOptions{
		Threshold: c.Similarity.Threshold,
		TopK:      c.Similarity.TopK,
		Weights: engine.SimilarityWeights{
			Categories: c.Similarity.CategoryWeight,
			Sources:    c.Similarity.SourceWeight,
			Severity:   c.Similarity.SeverityWeight,
		},
		CandidateLimit: c.Similarity.CandidateLimit,
		StoreTimeout:   c.Similarity.StoreTimeout,
		Retries:        c.Similarity.Retries,
	}
}

// BoundedOracleOptions maps the oracle section onto the bounded adapter.
func (c *Config) BoundedOracleOptions() oracle.BoundedOptions {
	return oracle.BoundedOptions{
		Timeout:       c.Oracle.Timeout,
		Retries:       c.Oracle.Retries,
		MaxAdjustment: c.Oracle.MaxAdjustment,
	}
}

// AnthropicConfig maps the oracle section onto the Anthropic client.
func (c *Config) AnthropicConfig() oracle.AnthropicConfig {
	return oracle.AnthropicConfig{
		APIKey:    c.Oracle.APIKey,
		Model:     c.Oracle.Model,
		MaxTokens: c.Oracle.MaxTokens,
		BaseURL:   c.Oracle.BaseURL,
	}
}

// WeaviateConfig maps the store and cache sections.
func (c *Config) WeaviateConfig() repo.WeaviateConfig {
	return repo.WeaviateConfig{
		Endpoint:  c.Store.Endpoint,
		APIKey:    c.Store.APIKey,
		ClassName: c.Store.ClassName,
		Timeout:   c.Store.Timeout,
		CacheTTL:  c.Cache.FingerprintTTL,
	}
}

// ValkeyConfig maps the cache section.
func (c *Config) ValkeyConfig() cache.ValkeyConfig {
	return cache.ValkeyConfig{
		Addr:         c.Cache.Addr,
		Username:     c.Cache.Username,
		Password:     c.Cache.Password,
		DB:           c.Cache.DB,
		DialTimeout:  c.Cache.DialTimeout,
		ReadTimeout:  c.Cache.ReadTimeout,
		WriteTimeout: c.Cache.WriteTimeout,
		MaxRetries:   c.Cache.MaxRetries,
		TLS:          c.Cache.TLS,
		KeyPrefix:    c.Cache.KeyPrefix,
	}
}

// TracingConfig maps the tracing section.
func (c *Config) TracingConfig() tracing.Config {
	return tracing.Config{
		Enabled:     c.Tracing.Enabled,
		Endpoint:    c.Tracing.Endpoint,
		Insecure:    c.Tracing.Insecure,
		ServiceName: c.Tracing.ServiceName,
		SampleRatio: c.Tracing.SampleRatio,
	}
}

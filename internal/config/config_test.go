package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefault_MatchesSpecifiedDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 0.4, cfg.Quality.MinChunkQuality)
	assert.Equal(t, 0.6, cfg.Quality.MinEmbeddingQuality)
	assert.Equal(t, 0.5, cfg.Quality.MinOverallQuality)
	assert.Equal(t, 0.9, cfg.Quality.MaxDuplicateThreshold)

	assert.Equal(t, ScaleBand{Min: 4000, Max: 8000}, cfg.Chunking.Document)
	assert.Equal(t, ScaleBand{Min: 500, Max: 2000}, cfg.Chunking.Section)
	assert.Equal(t, ScaleBand{Min: 100, Max: 500}, cfg.Chunking.Paragraph)
	assert.Equal(t, ScaleBand{Min: 20, Max: 150}, cfg.Chunking.Sentence)
	assert.Equal(t, 0.3, cfg.Chunking.SentenceSimilarityThreshold)

	assert.Equal(t, 16, cfg.Embedding.BatchSize)
	assert.Equal(t, 4, cfg.Embedding.Concurrency)
	assert.Equal(t, 64*1024, cfg.Embedding.MaxBatchBytes)

	assert.Equal(t, 0.40, cfg.Retrieval.VectorWeight)
	assert.Equal(t, 0.25, cfg.Retrieval.ContentTypeWeight)
	assert.Equal(t, 0.20, cfg.Retrieval.InstructionalWeight)
	assert.Equal(t, 0.10, cfg.Retrieval.QualityWeight)
	assert.Equal(t, 0.05, cfg.Retrieval.ContextualWeight)
	assert.Equal(t, 3, cfg.Retrieval.MaxChunksPerSource)
	assert.Equal(t, 2, cfg.Retrieval.MaxChunksPerPage)

	assert.Equal(t, 5, cfg.Concurrency.MaxConcurrentJobs)
	assert.Equal(t, 32, cfg.Concurrency.ChannelCapacity)
	assert.Equal(t, 120*time.Second, cfg.Concurrency.IngestTimeout)
	assert.Equal(t, 30*time.Second, cfg.Concurrency.EmbedTimeout)
	assert.Equal(t, 5*time.Second, cfg.Concurrency.RetrieveTimeout)

	require.NoError(t, cfg.Validate())
}

func TestParse_RejectsUnknownOption(t *testing.T) {
	cfg := Default()
	err := Parse([]byte("retrieval:\n  shiny_new_knob: 42\n"), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown")
}

func TestParse_RejectsUnknownTopLevelKey(t *testing.T) {
	cfg := Default()
	err := Parse([]byte("telemetry:\n  enabled: true\n"), cfg)
	require.Error(t, err)
}

func TestLoad_MergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
quality:
  min_chunk_quality: 0.55
lexical:
  backend: sqlite
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.55, cfg.Quality.MinChunkQuality)
	assert.Equal(t, "sqlite", cfg.Lexical.Backend)
	// Untouched options keep defaults.
	assert.Equal(t, 16, cfg.Embedding.BatchSize)
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Quality, cfg.Quality)
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"weights do not sum", func(c *Config) { c.Retrieval.VectorWeight = 0.9 }},
		{"bad backend", func(c *Config) { c.Lexical.Backend = "postgres" }},
		{"bad provider", func(c *Config) { c.Embedding.Provider = "openai" }},
		{"bad kind", func(c *Config) { c.Embedding.Kinds = []string{"holographic"} }},
		{"no kinds", func(c *Config) { c.Embedding.Kinds = nil }},
		{"band below hard min", func(c *Config) { c.Chunking.Sentence.Min = 5 }},
		{"band above hard max", func(c *Config) { c.Chunking.Document.Max = 20000 }},
		{"quality out of range", func(c *Config) { c.Quality.MinChunkQuality = 1.5 }},
		{"zero jobs", func(c *Config) { c.Concurrency.MaxConcurrentJobs = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestParse_DurationStrings(t *testing.T) {
	cfg := Default()
	data := `
concurrency:
  max_concurrent_jobs: 2
  ingest_timeout: 45s
  embed_timeout: 2m
`
	require.NoError(t, Parse([]byte(data), cfg))

	assert.Equal(t, 2, cfg.Concurrency.MaxConcurrentJobs)
	assert.Equal(t, 45*time.Second, cfg.Concurrency.IngestTimeout)
	assert.Equal(t, 2*time.Minute, cfg.Concurrency.EmbedTimeout)
	// Absent keys keep their defaults.
	assert.Equal(t, 5*time.Second, cfg.Concurrency.RetrieveTimeout)
	assert.Equal(t, 32, cfg.Concurrency.ChannelCapacity)
}

func TestParse_BadDuration(t *testing.T) {
	cfg := Default()
	err := Parse([]byte("concurrency:\n  ingest_timeout: fortnight\n"), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ingest_timeout")
}

func TestParse_UnknownConcurrencyOption(t *testing.T) {
	cfg := Default()
	err := Parse([]byte("concurrency:\n  thread_count: 9\n"), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "thread_count")
}

func TestConcurrencyConfig_MarshalRoundTrip(t *testing.T) {
	cfg := Default()
	data, err := yaml.Marshal(cfg)
	require.NoError(t, err)
	assert.Contains(t, string(data), "ingest_timeout: 2m0s")

	loaded := Default()
	loaded.Concurrency = ConcurrencyConfig{}
	require.NoError(t, Parse(data, loaded))
	assert.Equal(t, cfg.Concurrency, loaded.Concurrency)
}

func TestBandFor(t *testing.T) {
	cfg := Default()
	assert.Equal(t, cfg.Chunking.Paragraph, cfg.Chunking.BandFor("paragraph"))
	fallback := cfg.Chunking.BandFor("galaxy")
	assert.Equal(t, HardMinTokens, fallback.Min)
	assert.Equal(t, HardMaxTokens, fallback.Max)
}

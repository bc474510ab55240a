// Package config defines the chunkstack configuration surface.
//
// Only the options declared here are recognised. Unknown keys are
// rejected at load time via strict YAML decoding, so a typo in a
// config file fails startup instead of being silently ignored.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete chunkstack configuration.
type Config struct {
	Version     int               `yaml:"version"`
	Paths       PathsConfig       `yaml:"paths"`
	Quality     QualityConfig     `yaml:"quality"`
	Chunking    ChunkingConfig    `yaml:"chunking"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
	Lexical     LexicalConfig     `yaml:"lexical"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// PathsConfig configures on-disk locations.
type PathsConfig struct {
	// DataDir is the root directory for the chunk store and indexes.
	// Defaults to ~/.chunkstack/data.
	DataDir string `yaml:"data_dir"`
}

// QualityConfig holds quality gates applied during ingestion.
type QualityConfig struct {
	// MinChunkQuality is the floor below which a chunk is not persisted.
	MinChunkQuality float64 `yaml:"min_chunk_quality"`
	// MinEmbeddingQuality gates embedding vector acceptance.
	MinEmbeddingQuality float64 `yaml:"min_embedding_quality"`
	// MinOverallQuality gates the whole-document validation report.
	MinOverallQuality float64 `yaml:"min_overall_quality"`
	// MaxDuplicateThreshold is the Jaccard similarity at which two
	// chunks are flagged as near-duplicates.
	MaxDuplicateThreshold float64 `yaml:"max_duplicate_threshold"`
}

// ScaleBand is a target token range for one chunk scale.
type ScaleBand struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

// ChunkingConfig configures the hierarchical chunker.
type ChunkingConfig struct {
	Document  ScaleBand `yaml:"document"`
	Section   ScaleBand `yaml:"section"`
	Paragraph ScaleBand `yaml:"paragraph"`
	Sentence  ScaleBand `yaml:"sentence"`

	// SentenceSimilarityThreshold controls semantic boundary refinement:
	// adjacent paragraphs whose boundary similarity exceeds it are merged.
	SentenceSimilarityThreshold float64 `yaml:"sentence_similarity_threshold"`

	// TokenEncoding selects the token counter. Empty uses a local
	// heuristic; a tiktoken encoding name (e.g. "cl100k_base") counts
	// with real BPE data.
	TokenEncoding string `yaml:"token_encoding"`
}

// HardMinTokens and HardMaxTokens bound every chunk regardless of band.
const (
	HardMinTokens = 20
	HardMaxTokens = 10000
)

// EmbeddingConfig configures the multi-scale embedder.
type EmbeddingConfig struct {
	// Provider selects the embedding provider ("static" or "ollama").
	Provider string `yaml:"provider"`
	// Model is the provider model identifier.
	Model string `yaml:"model"`
	// OllamaHost is the Ollama API endpoint (provider "ollama" only).
	OllamaHost string `yaml:"ollama_host"`
	// Kinds lists the embedding kinds to compute
	// (content, contextual, hierarchical, semantic).
	Kinds []string `yaml:"kinds"`
	// BatchSize is the maximum inputs per provider call.
	BatchSize int `yaml:"batch_size"`
	// MaxBatchBytes clamps the total input bytes per provider call.
	MaxBatchBytes int `yaml:"max_batch_bytes"`
	// Concurrency is the maximum inflight provider calls per job.
	Concurrency int `yaml:"concurrency"`
	// CacheSize is the LRU embedding cache capacity in entries.
	CacheSize int `yaml:"cache_size"`
	// RequestsPerSecond is the process-wide provider rate limit.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// RetrievalConfig configures the hybrid retriever.
type RetrievalConfig struct {
	// Weights of the blended score components. Must sum to 1.0.
	VectorWeight        float64 `yaml:"vector_weight"`
	ContentTypeWeight   float64 `yaml:"content_type_weight"`
	InstructionalWeight float64 `yaml:"instructional_weight"`
	QualityWeight       float64 `yaml:"quality_weight"`
	ContextualWeight    float64 `yaml:"contextual_weight"`

	// MaxChunksPerSource caps returned items per source (diversity).
	MaxChunksPerSource int `yaml:"max_chunks_per_source"`
	// MaxChunksPerPage caps returned items per page (diversity).
	MaxChunksPerPage int `yaml:"max_chunks_per_page"`
	// MaxExpansionChunks bounds semantic neighbourhood expansion.
	MaxExpansionChunks int `yaml:"max_expansion_chunks"`

	// MatrixOverrides overrides content-type match multipliers,
	// keyed "queryType/contentType".
	MatrixOverrides map[string]float64 `yaml:"matrix_overrides"`
}

// ConcurrencyConfig configures pipeline scheduling.
type ConcurrencyConfig struct {
	// MaxConcurrentJobs bounds parallel source ingestions.
	MaxConcurrentJobs int `yaml:"max_concurrent_jobs"`
	// ChannelCapacity is the bounded stage channel size.
	ChannelCapacity int `yaml:"channel_capacity"`
	// IngestTimeout is the whole-document soft timeout.
	IngestTimeout time.Duration `yaml:"ingest_timeout"`
	// EmbedTimeout is the per-provider-call soft timeout.
	EmbedTimeout time.Duration `yaml:"embed_timeout"`
	// RetrieveTimeout is the per-query soft timeout.
	RetrieveTimeout time.Duration `yaml:"retrieve_timeout"`
}

// UnmarshalYAML accepts Go duration strings ("120s", "2m") for the
// timeout fields, which yaml.v3 does not decode natively. Unknown keys
// are still rejected, and absent keys keep their current values.
func (c *ConcurrencyConfig) UnmarshalYAML(node *yaml.Node) error {
	allowed := map[string]bool{
		"max_concurrent_jobs": true,
		"channel_capacity":    true,
		"ingest_timeout":      true,
		"embed_timeout":       true,
		"retrieve_timeout":    true,
	}
	for i := 0; i < len(node.Content); i += 2 {
		if !allowed[node.Content[i].Value] {
			return fmt.Errorf("unknown concurrency option %q", node.Content[i].Value)
		}
	}

	var raw struct {
		MaxConcurrentJobs *int    `yaml:"max_concurrent_jobs"`
		ChannelCapacity   *int    `yaml:"channel_capacity"`
		IngestTimeout     *string `yaml:"ingest_timeout"`
		EmbedTimeout      *string `yaml:"embed_timeout"`
		RetrieveTimeout   *string `yaml:"retrieve_timeout"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}

	if raw.MaxConcurrentJobs != nil {
		c.MaxConcurrentJobs = *raw.MaxConcurrentJobs
	}
	if raw.ChannelCapacity != nil {
		c.ChannelCapacity = *raw.ChannelCapacity
	}
	for _, f := range []struct {
		name string
		in   *string
		out  *time.Duration
	}{
		{"ingest_timeout", raw.IngestTimeout, &c.IngestTimeout},
		{"embed_timeout", raw.EmbedTimeout, &c.EmbedTimeout},
		{"retrieve_timeout", raw.RetrieveTimeout, &c.RetrieveTimeout},
	} {
		if f.in == nil {
			continue
		}
		d, err := time.ParseDuration(*f.in)
		if err != nil {
			return fmt.Errorf("concurrency.%s: %w", f.name, err)
		}
		*f.out = d
	}
	return nil
}

// MarshalYAML emits the timeout fields as duration strings so that
// rendered configs load back through UnmarshalYAML.
func (c ConcurrencyConfig) MarshalYAML() (any, error) {
	return struct {
		MaxConcurrentJobs int    `yaml:"max_concurrent_jobs"`
		ChannelCapacity   int    `yaml:"channel_capacity"`
		IngestTimeout     string `yaml:"ingest_timeout"`
		EmbedTimeout      string `yaml:"embed_timeout"`
		RetrieveTimeout   string `yaml:"retrieve_timeout"`
	}{
		MaxConcurrentJobs: c.MaxConcurrentJobs,
		ChannelCapacity:   c.ChannelCapacity,
		IngestTimeout:     c.IngestTimeout.String(),
		EmbedTimeout:      c.EmbedTimeout.String(),
		RetrieveTimeout:   c.RetrieveTimeout.String(),
	}, nil
}

// LexicalConfig selects the full-text backend.
type LexicalConfig struct {
	// Backend is "bleve" (default) or "sqlite" (FTS5).
	Backend string `yaml:"backend"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Default returns the configuration defaults from the specification.
func Default() *Config {
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			DataDir: defaultDataDir(),
		},
		Quality: QualityConfig{
			MinChunkQuality:       0.4,
			MinEmbeddingQuality:   0.6,
			MinOverallQuality:     0.5,
			MaxDuplicateThreshold: 0.9,
		},
		Chunking: ChunkingConfig{
			Document:                    ScaleBand{Min: 4000, Max: 8000},
			Section:                     ScaleBand{Min: 500, Max: 2000},
			Paragraph:                   ScaleBand{Min: 100, Max: 500},
			Sentence:                    ScaleBand{Min: 20, Max: 150},
			SentenceSimilarityThreshold: 0.3,
		},
		Embedding: EmbeddingConfig{
			Provider:          "static",
			Kinds:             []string{"content", "contextual", "hierarchical", "semantic"},
			BatchSize:         16,
			MaxBatchBytes:     64 * 1024,
			Concurrency:       4,
			CacheSize:         1000,
			RequestsPerSecond: 60,
		},
		Retrieval: RetrievalConfig{
			VectorWeight:        0.40,
			ContentTypeWeight:   0.25,
			InstructionalWeight: 0.20,
			QualityWeight:       0.10,
			ContextualWeight:    0.05,
			MaxChunksPerSource:  3,
			MaxChunksPerPage:    2,
			MaxExpansionChunks:  3,
		},
		Concurrency: ConcurrencyConfig{
			MaxConcurrentJobs: 5,
			ChannelCapacity:   32,
			IngestTimeout:     120 * time.Second,
			EmbedTimeout:      30 * time.Second,
			RetrieveTimeout:   5 * time.Second,
		},
		Lexical: LexicalConfig{
			Backend: "bleve",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML config file, merging it over defaults.
// Unknown keys are rejected. A missing path returns defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := Parse(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Parse decodes YAML strictly into cfg. Unknown keys are an error.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("unknown or malformed option: %w", err)
	}
	return nil
}

// Validate checks invariants that strict decoding cannot express.
func (c *Config) Validate() error {
	if c.Quality.MinChunkQuality < 0 || c.Quality.MinChunkQuality > 1 {
		return fmt.Errorf("quality.min_chunk_quality must be in [0,1], got %v", c.Quality.MinChunkQuality)
	}
	if c.Quality.MaxDuplicateThreshold <= 0 || c.Quality.MaxDuplicateThreshold > 1 {
		return fmt.Errorf("quality.max_duplicate_threshold must be in (0,1], got %v", c.Quality.MaxDuplicateThreshold)
	}

	sum := c.Retrieval.VectorWeight + c.Retrieval.ContentTypeWeight +
		c.Retrieval.InstructionalWeight + c.Retrieval.QualityWeight +
		c.Retrieval.ContextualWeight
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("retrieval weights must sum to 1.0, got %.3f", sum)
	}

	for _, band := range []struct {
		name string
		b    ScaleBand
	}{
		{"document", c.Chunking.Document},
		{"section", c.Chunking.Section},
		{"paragraph", c.Chunking.Paragraph},
		{"sentence", c.Chunking.Sentence},
	} {
		if band.b.Min < HardMinTokens || band.b.Max > HardMaxTokens || band.b.Min >= band.b.Max {
			return fmt.Errorf("chunking.%s band [%d,%d] violates hard bounds [%d,%d]",
				band.name, band.b.Min, band.b.Max, HardMinTokens, HardMaxTokens)
		}
	}

	switch c.Lexical.Backend {
	case "bleve", "sqlite":
	default:
		return fmt.Errorf("lexical.backend must be \"bleve\" or \"sqlite\", got %q", c.Lexical.Backend)
	}

	switch c.Embedding.Provider {
	case "static", "ollama":
	default:
		return fmt.Errorf("embedding.provider must be \"static\" or \"ollama\", got %q", c.Embedding.Provider)
	}

	validKinds := map[string]bool{"content": true, "contextual": true, "hierarchical": true, "semantic": true}
	if len(c.Embedding.Kinds) == 0 {
		return fmt.Errorf("embedding.kinds must enable at least one kind")
	}
	for _, k := range c.Embedding.Kinds {
		if !validKinds[k] {
			return fmt.Errorf("embedding.kinds contains unknown kind %q", k)
		}
	}

	if c.Concurrency.MaxConcurrentJobs < 1 {
		return fmt.Errorf("concurrency.max_concurrent_jobs must be >= 1")
	}
	if c.Concurrency.ChannelCapacity < 1 {
		return fmt.Errorf("concurrency.channel_capacity must be >= 1")
	}

	return nil
}

// BandFor returns the token band for a chunk scale name.
func (c *ChunkingConfig) BandFor(scale string) ScaleBand {
	switch scale {
	case "document":
		return c.Document
	case "section":
		return c.Section
	case "paragraph":
		return c.Paragraph
	case "sentence":
		return c.Sentence
	default:
		return ScaleBand{Min: HardMinTokens, Max: HardMaxTokens}
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".chunkstack", "data")
	}
	return filepath.Join(home, ".chunkstack", "data")
}

// Package config holds all memcore configuration. Defaults are safe
// for a local single-process deployment; a YAML file and CORE_* env
// variables override them in that order.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Backend names.
const (
	BackendLog        = "log"
	BackendRelational = "relational"
)

// Replay seed policies.
const (
	SeedPolicyPreserve  = "preserve"
	SeedPolicyRandomize = "randomize_for_load_test"
)

// Config is the top-level configuration.
type Config struct {
	// Backend selects the journal ("log") or embedded DB ("relational") store.
	Backend string `yaml:"backend"`

	// MemoryPath is the directory for durable storage.
	MemoryPath string `yaml:"memory_path"`

	// LazyIndexThreshold is the minimum priority tag weight that
	// triggers hierarchical indexing of a new atom.
	LazyIndexThreshold float64 `yaml:"lazy_index_threshold"`

	// EagerIndex indexes qualifying atoms synchronously on insert.
	// When false, indexing is offered to a bounded queue and skipped
	// (atom still stored) if the queue is full.
	EagerIndex bool `yaml:"eager_index"`

	// IndexQueueDepth bounds the async indexing queue.
	IndexQueueDepth int `yaml:"index_queue_depth"`

	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Compression CompressionConfig `yaml:"compression"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Gate        GateConfig        `yaml:"gate"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`

	// ReplaySeedPolicy: "preserve" (default) replays with the recorded
	// seed; "randomize_for_load_test" substitutes a fresh seed.
	ReplaySeedPolicy string `yaml:"replay_seed_policy"`

	Logging LoggingConfig `yaml:"logging"`
}

// RetrievalConfig configures the two-stage retriever.
type RetrievalConfig struct {
	// CoarseK is the number of candidates recalled in stage one.
	CoarseK int `yaml:"coarse_k"`

	// TargetLevel is the index level queried in stage one: document,
	// section, paragraph, or sentence.
	TargetLevel string `yaml:"target_level"`

	// DedupSimilarity is the maximum cosine similarity allowed between
	// two kept items.
	DedupSimilarity float64 `yaml:"dedup_similarity"`

	// TokenBudget is the default per-query budget.
	TokenBudget int `yaml:"token_budget"`

	// MinRelevance drops coarse candidates scoring below this.
	MinRelevance float64 `yaml:"min_relevance"`

	// Rerank weights. They need not sum to one; scores are a weighted sum.
	SemanticWeight float64 `yaml:"semantic_weight"`
	PriorityWeight float64 `yaml:"priority_weight"`
	RecencyWeight  float64 `yaml:"recency_weight"`
	BoostWeight    float64 `yaml:"boost_weight"`

	// EnableCompression allows the retriever to substitute compressed
	// content while packing the budget.
	EnableCompression bool `yaml:"enable_compression"`

	// EnableConflictResolution invokes the contradiction predicate.
	EnableConflictResolution bool `yaml:"enable_conflict_resolution"`

	// MaxRetries bounds Dependency retries against the embedding
	// provider and vector store.
	MaxRetries int `yaml:"max_retries"`
}

// CompressionConfig configures the strategic compressor.
type CompressionConfig struct {
	// HighPriorityTag is the tag weight at which an item earns the
	// gentler retention column.
	HighPriorityTag float64 `yaml:"high_priority_tag"`

	// PreserveEdges keeps the first and last sentence of each
	// paragraph verbatim when compressing.
	PreserveEdges bool `yaml:"preserve_edges"`

	// FreshnessDays is the age past which the retriever considers an
	// item stale enough to compress before packing.
	FreshnessDays int `yaml:"freshness_days"`
}

// CalibrationConfig configures the ECE tracker.
type CalibrationConfig struct {
	// Bins is the histogram resolution for ECE.
	Bins int `yaml:"bins"`
}

// GateConfig configures the confidence gate and escalator.
type GateConfig struct {
	// Per-criticality confidence thresholds.
	LowThreshold       float64 `yaml:"low_threshold"`
	RoutineThreshold   float64 `yaml:"routine_threshold"`
	ImportantThreshold float64 `yaml:"important_threshold"`
	CriticalThreshold  float64 `yaml:"critical_threshold"`

	// HardFloor: a critical operation below this is rejected outright.
	HardFloor float64 `yaml:"hard_floor"`

	// EscalationMargin: passes within this margin above the threshold
	// still escalate for important and critical tasks.
	EscalationMargin float64 `yaml:"escalation_margin"`

	// AdaptiveThreshold raises thresholds when recent ECE or accuracy
	// is poor. Thresholds never drop below the configured values.
	AdaptiveThreshold bool `yaml:"adaptive_threshold"`
}

// EmbeddingConfig configures the embedding engine.
// Provider is one of "fallback", "ollama", or "genai".
type EmbeddingConfig struct {
	Provider string `yaml:"provider"`

	// Ollama (local embedding server)
	OllamaEndpoint string `yaml:"ollama_endpoint"`
	OllamaModel    string `yaml:"ollama_model"`

	// Google GenAI (cloud)
	GenAIAPIKey string `yaml:"genai_api_key"`
	GenAIModel  string `yaml:"genai_model"`

	// FallbackDimensions sizes the deterministic hash embedding used
	// for tests and model-free deployments. Not production quality.
	FallbackDimensions int `yaml:"fallback_dimensions"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level       string `yaml:"level"` // debug, info, warn, error
	Development bool   `yaml:"development"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		Backend:            BackendLog,
		MemoryPath:         ".memcore",
		LazyIndexThreshold: 0.6,
		EagerIndex:         true,
		IndexQueueDepth:    256,

		Retrieval: RetrievalConfig{
			CoarseK:                  100,
			TargetLevel:              "paragraph",
			DedupSimilarity:          0.92,
			TokenBudget:              4000,
			MinRelevance:             0.3,
			SemanticWeight:           0.6,
			PriorityWeight:           0.2,
			RecencyWeight:            0.15,
			BoostWeight:              0.05,
			EnableCompression:        true,
			EnableConflictResolution: false,
			MaxRetries:               3,
		},

		Compression: CompressionConfig{
			HighPriorityTag: 0.85,
			PreserveEdges:   true,
			FreshnessDays:   7,
		},

		Calibration: CalibrationConfig{Bins: 10},

		Gate: GateConfig{
			LowThreshold:       0.50,
			RoutineThreshold:   0.70,
			ImportantThreshold: 0.85,
			CriticalThreshold:  0.95,
			HardFloor:          0.50,
			EscalationMargin:   0.10,
			AdaptiveThreshold:  false,
		},

		Embedding: EmbeddingConfig{
			Provider:           "fallback",
			OllamaEndpoint:     "http://localhost:11434",
			OllamaModel:        "embeddinggemma",
			GenAIModel:         "gemini-embedding-001",
			FallbackDimensions: 64,
		},

		ReplaySeedPolicy: SeedPolicyPreserve,

		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads a YAML config file over the defaults, then applies env
// overrides. A missing file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides applies the recognized CORE_* environment
// variables on top of whatever the file provided.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("CORE_BACKEND"); v != "" {
		c.Backend = v
	}
	if v := os.Getenv("CORE_PATH"); v != "" {
		c.MemoryPath = v
	}
	if v := os.Getenv("CORE_COARSE_K"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Retrieval.CoarseK = k
		}
	}
	if v := os.Getenv("CORE_TOKEN_BUDGET"); v != "" {
		if b, err := strconv.Atoi(v); err == nil && b > 0 {
			c.Retrieval.TokenBudget = b
		}
	}
}

// Validate rejects configurations that cannot work.
func (c *Config) Validate() error {
	if c.Backend != BackendLog && c.Backend != BackendRelational {
		return fmt.Errorf("unknown backend %q (use %q or %q)", c.Backend, BackendLog, BackendRelational)
	}
	if c.MemoryPath == "" {
		return fmt.Errorf("memory_path is required")
	}
	if c.LazyIndexThreshold < 0 || c.LazyIndexThreshold > 1 {
		return fmt.Errorf("lazy_index_threshold %.2f outside [0,1]", c.LazyIndexThreshold)
	}
	if c.Retrieval.CoarseK <= 0 {
		return fmt.Errorf("coarse_k must be positive, got %d", c.Retrieval.CoarseK)
	}
	switch c.Retrieval.TargetLevel {
	case "", "document", "section", "paragraph", "sentence":
	default:
		return fmt.Errorf("unknown target_level %q", c.Retrieval.TargetLevel)
	}
	if c.Retrieval.DedupSimilarity <= 0 || c.Retrieval.DedupSimilarity > 1 {
		return fmt.Errorf("dedup_similarity %.2f outside (0,1]", c.Retrieval.DedupSimilarity)
	}
	if c.Retrieval.TokenBudget <= 0 {
		return fmt.Errorf("token_budget must be positive, got %d", c.Retrieval.TokenBudget)
	}
	if c.Calibration.Bins <= 0 {
		return fmt.Errorf("calibration bins must be positive, got %d", c.Calibration.Bins)
	}
	for name, t := range map[string]float64{
		"low":       c.Gate.LowThreshold,
		"routine":   c.Gate.RoutineThreshold,
		"important": c.Gate.ImportantThreshold,
		"critical":  c.Gate.CriticalThreshold,
	} {
		if t < 0 || t > 1 {
			return fmt.Errorf("gate threshold %s=%.2f outside [0,1]", name, t)
		}
	}
	if c.ReplaySeedPolicy != SeedPolicyPreserve && c.ReplaySeedPolicy != SeedPolicyRandomize {
		return fmt.Errorf("unknown replay_seed_policy %q", c.ReplaySeedPolicy)
	}
	return nil
}

// Package logging provides categorized structured logging for memcore.
// Each subsystem logs under its own named zap logger so operators can
// filter journal noise from retrieval noise. Call Initialize once at
// startup; before that, all helpers are silent no-ops.
package logging

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category identifies a logging subsystem.
type Category string

const (
	CategoryBoot        Category = "boot"        // Startup/teardown
	CategoryStore       Category = "store"       // Memory store facade, backends
	CategoryJournal     Category = "journal"     // Append-only log, quarantine
	CategoryIndex       Category = "index"       // Hierarchical index construction
	CategoryRetrieval   Category = "retrieval"   // Two-stage retriever
	CategoryEmbedding   Category = "embedding"   // Embedding engines
	CategoryCompress    Category = "compress"    // Strategic compression
	CategoryWitness     Category = "witness"     // Witness generation and replay
	CategoryGate        Category = "gate"        // Confidence gate and escalation
	CategoryCalibration Category = "calibration" // Confidence extraction, ECE
)

var (
	mu      sync.RWMutex
	base    *zap.Logger
	sugared = make(map[Category]*zap.SugaredLogger)
	nop     = zap.NewNop().Sugar()
)

// Initialize configures the process-wide logger. level is one of
// debug, info, warn, error; anything else falls back to info.
func Initialize(level string, development bool) error {
	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	case "warn", "warning":
		cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}

	mu.Lock()
	base = logger
	sugared = make(map[Category]*zap.SugaredLogger)
	mu.Unlock()
	return nil
}

// InitializeForTest installs a no-op logger. Tests that want output can
// call Initialize("debug", true) instead.
func InitializeForTest() {
	mu.Lock()
	base = zap.NewNop()
	sugared = make(map[Category]*zap.SugaredLogger)
	mu.Unlock()
}

// Sync flushes buffered log entries. Call on shutdown.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	if base != nil {
		_ = base.Sync()
	}
}

// Get returns the sugared logger for a category.
func Get(cat Category) *zap.SugaredLogger {
	mu.RLock()
	if s, ok := sugared[cat]; ok {
		mu.RUnlock()
		return s
	}
	b := base
	mu.RUnlock()

	if b == nil {
		return nop
	}

	mu.Lock()
	defer mu.Unlock()
	if s, ok := sugared[cat]; ok {
		return s
	}
	s := b.Named(string(cat)).Sugar()
	sugared[cat] = s
	return s
}

// Store logs at info level under the store category.
func Store(format string, args ...interface{}) { Get(CategoryStore).Infof(format, args...) }

// StoreDebug logs at debug level under the store category.
func StoreDebug(format string, args ...interface{}) { Get(CategoryStore).Debugf(format, args...) }

// Journal logs at info level under the journal category.
func Journal(format string, args ...interface{}) { Get(CategoryJournal).Infof(format, args...) }

// JournalDebug logs at debug level under the journal category.
func JournalDebug(format string, args ...interface{}) { Get(CategoryJournal).Debugf(format, args...) }

// Index logs at info level under the index category.
func Index(format string, args ...interface{}) { Get(CategoryIndex).Infof(format, args...) }

// IndexDebug logs at debug level under the index category.
func IndexDebug(format string, args ...interface{}) { Get(CategoryIndex).Debugf(format, args...) }

// Retrieval logs at info level under the retrieval category.
func Retrieval(format string, args ...interface{}) { Get(CategoryRetrieval).Infof(format, args...) }

// RetrievalDebug logs at debug level under the retrieval category.
func RetrievalDebug(format string, args ...interface{}) {
	Get(CategoryRetrieval).Debugf(format, args...)
}

// Embedding logs at info level under the embedding category.
func Embedding(format string, args ...interface{}) { Get(CategoryEmbedding).Infof(format, args...) }

// EmbeddingDebug logs at debug level under the embedding category.
func EmbeddingDebug(format string, args ...interface{}) {
	Get(CategoryEmbedding).Debugf(format, args...)
}

// Witness logs at info level under the witness category.
func Witness(format string, args ...interface{}) { Get(CategoryWitness).Infof(format, args...) }

// Gate logs at info level under the gate category.
func Gate(format string, args ...interface{}) { Get(CategoryGate).Infof(format, args...) }

// Timer measures an operation's duration and logs it on Stop.
type Timer struct {
	cat   Category
	op    string
	start time.Time
}

// StartTimer begins timing an operation within a category.
func StartTimer(cat Category, op string) *Timer {
	return &Timer{cat: cat, op: op, start: time.Now()}
}

// Stop logs the elapsed duration at debug level.
func (t *Timer) Stop() {
	Get(t.cat).Debugf("%s completed in %s", t.op, time.Since(t.start))
}

// Package logging provides config-driven categorized logging for the pattern
// lattice engine on top of zap.
// Every category shares one zap core; a category logger only adds a
// "category" field. Logging is controlled by debug_mode in the logging
// config - when false, every category logger is a no-op.
package logging

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/subsystem
type Category string

const (
	CategoryBoot      Category = "boot"      // Boot/initialization
	CategoryLattice   Category = "lattice"   // Node lattice growth, propagation, pruning
	CategoryConverter Category = "converter" // Conjunction decomposition of neurons
	CategorySearch    Category = "search"    // Interpretation search
	CategoryDocument  Category = "document"  // Document lifecycle and commits
	CategoryStore     Category = "store"     // Suspension backends
	CategoryExport    Category = "export"    // Fact export of committed interpretations
	CategoryPool      Category = "pool"      // Parallel document processing
)

// Settings mirrors config.LoggingConfig to avoid circular imports.
type Settings struct {
	DebugMode  bool
	Level      string // debug, info, warn, error
	Format     string // json, console
	File       string // empty means stderr
	Categories map[string]bool
}

// Logger is a category logger with printf-style methods.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
}

var (
	mu       sync.RWMutex
	base     = zap.NewNop()
	settings Settings
	loggers  = make(map[Category]*Logger)
)

// Initialize builds the shared zap core from s. It may be called again to
// reconfigure; previously returned category loggers keep the old core.
func Initialize(s Settings) error {
	if !s.DebugMode {
		mu.Lock()
		settings = s
		base = zap.NewNop()
		loggers = make(map[Category]*Logger)
		mu.Unlock()
		return nil
	}

	cfg := zap.NewProductionConfig()
	if s.Format == "console" {
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	level, err := parseLevel(s.Level)
	if err != nil {
		return err
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	if s.File != "" {
		cfg.OutputPaths = []string{s.File}
	}
	cfg.Sampling = nil

	z, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	SetBase(z, s)

	Boot("logging initialized: level=%s format=%s", level, cfg.Encoding)
	if len(s.Categories) > 0 {
		enabled := 0
		for _, on := range s.Categories {
			if on {
				enabled++
			}
		}
		Boot("enabled categories: %d/%d", enabled, len(s.Categories))
	}
	return nil
}

// SetBase installs an already built zap logger, e.g. the one the CLI
// builds from its flags.
func SetBase(z *zap.Logger, s Settings) {
	mu.Lock()
	defer mu.Unlock()
	base = z
	settings = s
	settings.DebugMode = true
	loggers = make(map[Category]*Logger)
}

func parseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	}
	return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
}

// IsDebugMode returns whether logging is enabled at all
func IsDebugMode() bool {
	mu.RLock()
	defer mu.RUnlock()
	return settings.DebugMode
}

// IsCategoryEnabled returns whether a specific category is enabled
func IsCategoryEnabled(category Category) bool {
	mu.RLock()
	defer mu.RUnlock()
	return categoryEnabled(category)
}

func categoryEnabled(category Category) bool {
	if !settings.DebugMode {
		return false
	}
	if settings.Categories == nil {
		return true
	}
	enabled, exists := settings.Categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger if debug mode is disabled or category is disabled.
func Get(category Category) *Logger {
	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}
	z := zap.NewNop()
	if categoryEnabled(category) {
		z = base.With(zap.String("category", string(category)))
	}
	l := &Logger{category: category, sugar: z.Sugar()}
	loggers[category] = l
	return l
}

// Zap returns the underlying structured logger.
func (l *Logger) Zap() *zap.Logger { return l.sugar.Desugar() }

func (l *Logger) Debug(format string, args ...interface{}) { l.sugar.Debugf(format, args...) }

func (l *Logger) Info(format string, args ...interface{}) { l.sugar.Infof(format, args...) }

func (l *Logger) Warn(format string, args ...interface{}) { l.sugar.Warnf(format, args...) }

func (l *Logger) Error(format string, args ...interface{}) { l.sugar.Errorf(format, args...) }

// With returns a logger carrying additional key-value context.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{category: l.category, sugar: l.sugar.With(keysAndValues...)}
}

// Sync flushes buffered entries (call at shutdown)
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = base.Sync()
}

// =============================================================================
// CONVENIENCE FUNCTIONS - Quick logging without getting a logger first
// =============================================================================

func Boot(format string, args ...interface{})      { Get(CategoryBoot).Info(format, args...) }
func BootDebug(format string, args ...interface{}) { Get(CategoryBoot).Debug(format, args...) }
func BootWarn(format string, args ...interface{})  { Get(CategoryBoot).Warn(format, args...) }

func Lattice(format string, args ...interface{})      { Get(CategoryLattice).Info(format, args...) }
func LatticeDebug(format string, args ...interface{}) { Get(CategoryLattice).Debug(format, args...) }
func LatticeWarn(format string, args ...interface{})  { Get(CategoryLattice).Warn(format, args...) }
func LatticeError(format string, args ...interface{}) { Get(CategoryLattice).Error(format, args...) }

func Converter(format string, args ...interface{})      { Get(CategoryConverter).Info(format, args...) }
func ConverterDebug(format string, args ...interface{}) { Get(CategoryConverter).Debug(format, args...) }
func ConverterWarn(format string, args ...interface{})  { Get(CategoryConverter).Warn(format, args...) }

func Search(format string, args ...interface{})      { Get(CategorySearch).Info(format, args...) }
func SearchDebug(format string, args ...interface{}) { Get(CategorySearch).Debug(format, args...) }
func SearchWarn(format string, args ...interface{})  { Get(CategorySearch).Warn(format, args...) }

func Document(format string, args ...interface{})      { Get(CategoryDocument).Info(format, args...) }
func DocumentDebug(format string, args ...interface{}) { Get(CategoryDocument).Debug(format, args...) }
func DocumentWarn(format string, args ...interface{})  { Get(CategoryDocument).Warn(format, args...) }

func Store(format string, args ...interface{})      { Get(CategoryStore).Info(format, args...) }
func StoreDebug(format string, args ...interface{}) { Get(CategoryStore).Debug(format, args...) }
func StoreWarn(format string, args ...interface{})  { Get(CategoryStore).Warn(format, args...) }
func StoreError(format string, args ...interface{}) { Get(CategoryStore).Error(format, args...) }

func Export(format string, args ...interface{})      { Get(CategoryExport).Info(format, args...) }
func ExportDebug(format string, args ...interface{}) { Get(CategoryExport).Debug(format, args...) }

func Pool(format string, args ...interface{})      { Get(CategoryPool).Info(format, args...) }
func PoolDebug(format string, args ...interface{}) { Get(CategoryPool).Debug(format, args...) }
func PoolWarn(format string, args ...interface{})  { Get(CategoryPool).Warn(format, args...) }

// =============================================================================
// TIMING HELPERS - For performance logging
// =============================================================================

// Timer helps measure operation duration
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{
		category: category,
		op:       operation,
		start:    time.Now(),
	}
}

// Stop ends the timer and logs the duration
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs warning if duration exceeds threshold
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}

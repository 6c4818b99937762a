// Command latticectl builds pattern networks from YAML, processes text
// documents through them and reports the committed interpretations.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"patternlattice/internal/config"
	"patternlattice/internal/logging"
)

var (
	verbose    bool
	configPath string
	mode       string
	backend    string
	timeout    time.Duration

	logger *zap.Logger
	cfg    *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "latticectl",
	Short: "Pattern lattice engine",
	Long: `latticectl compiles neuron networks into a shared conjunction lattice,
propagates text documents through it and resolves competing interpretations
with a bounded search.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if mode != "" {
			cfg.Engine.Mode = mode
		}
		if backend != "" {
			cfg.Store.Backend = backend
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		zc := zap.NewProductionConfig()
		if verbose {
			zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		logger, err = zc.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		settings := logging.Settings{
			DebugMode:  cfg.Logging.DebugMode,
			Level:      cfg.Logging.Level,
			Format:     cfg.Logging.Format,
			File:       cfg.Logging.File,
			Categories: cfg.Logging.Categories,
		}
		if verbose {
			logging.SetBase(logger.Named("lattice"), settings)
		} else if err := logging.Initialize(settings); err != nil {
			return err
		}
		if off := cfg.Logging.DisabledCategories(); len(off) > 0 {
			logging.BootDebug("Log categories disabled: %v", off)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "latticectl.yaml", "Configuration file")
	rootCmd.PersistentFlags().StringVar(&mode, "mode", "", "Search mode override (best, softmax)")
	rootCmd.PersistentFlags().StringVar(&backend, "store", "", "Suspension backend override (memory, sqlite, badger)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "Operation timeout")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(demoCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

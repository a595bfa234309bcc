package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"classmorph/internal/classfile"
	"classmorph/internal/config"
	"classmorph/internal/logging"
	"classmorph/internal/pipeline"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var (
	cfgPath string
	debug   bool
	logger  *logging.LoggerCloser
)

var rootCmd = &cobra.Command{
	Use:   "classmorph",
	Short: "JVM bytecode obfuscator",
	Long: `classmorph renames, flattens and encrypts the classes of a jar or class
directory while keeping their behavior. It also lists, graphs and exports
the bytecode it reads.`,
	Example: `
# Obfuscate a jar with the default configuration
classmorph run app.jar -o app-obf.jar --mappings mappings.yaml

# Use a configuration file and a fixed seed
classmorph run -c classmorph.yaml --seed 42 build/classes -o out/
  `,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger = logging.NewLogger()
		if debug {
			logger.SetLevel(log.DebugLevel)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if logger != nil {
			return logger.Close()
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "Configuration file (YAML, JSON or TOML)")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Debug logging")
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		return 1
	}
	return 0
}

// loadConfig reads --config and applies the run flags that override it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("seed") {
		cfg.RandomSeed, _ = flags.GetInt64("seed")
	}
	if flags.Changed("parallelism") {
		cfg.Parallelism, _ = flags.GetInt("parallelism")
	}
	if flags.Changed("prefix") {
		cfg.NamePrefix, _ = flags.GetString("prefix")
	}
	if flags.Changed("exclude") {
		ex, _ := flags.GetStringSlice("exclude")
		cfg.Exclusions = append(cfg.Exclusions, ex...)
	}
	if flags.Changed("classpath") {
		cp, _ := flags.GetStringSlice("classpath")
		cfg.Classpath = append(cfg.Classpath, cp...)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadClasses reads path and parses every class file in it. Units that do
// not parse are logged and skipped.
func loadClasses(path string) ([]*classfile.Class, error) {
	inputs, err := pipeline.Load(path)
	if err != nil {
		return nil, err
	}
	var out []*classfile.Class
	for _, in := range inputs {
		if !strings.HasSuffix(in.Name, ".class") || strings.HasSuffix(in.Name, "module-info.class") {
			continue
		}
		c, err := classfile.Parse(in.Name, in.Data)
		if err != nil {
			logger.Warn("skipping unit", "name", in.Name, "err", err)
			continue
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: %w", path, pipeline.ErrNoUnits)
	}
	return out, nil
}

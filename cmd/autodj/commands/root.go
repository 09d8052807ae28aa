package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/haivivi/autodj/cmd/autodj/internal/config"
)

var (
	verbose bool
	cfgFile string

	globalConfig *config.Config
	// configLoadErr is reported by GetConfig so that commands which do not
	// need the config still run.
	configLoadErr error
)

var rootCmd = &cobra.Command{
	Use:   "autodj",
	Short: "Drive DJ effect macros from a live AI session",
	Long: `autodj - turn intent from a realtime Gemini session into smooth DJ
effect macro automation.

The model calls set_macro_controls with four values in [-1, 1]:
  filter_macro, beat_repeat_macro, reverb_macro, eq_low_macro

autodj validates each call, maps it to [0, 1], smooths the result and sends
it to the audio host at a fixed rate. When the session drops, values hold
for a moment and then fade to neutral while autodj reconnects.

Configuration is read from the OS config directory:
  macOS:   ~/Library/Application Support/autodj/config.yaml
  Linux:   ~/.config/autodj/config.yaml
  Windows: %AppData%/autodj/config.yaml

Examples:
  autodj config init
  GEMINI_API_KEY=... autodj run --bridge ws://127.0.0.1:9753/macros
  autodj rehearse testdata/breakdown.jsonl --console`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $AUTODJ_CONFIG_DIR/config.yaml or the OS config dir)")
}

func initConfig() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))

	globalConfig, configLoadErr = config.Load(cfgFile)
}

// GetConfig returns the loaded configuration.
func GetConfig() (*config.Config, error) {
	if globalConfig == nil {
		if configLoadErr != nil {
			return nil, fmt.Errorf("config not available: %w", configLoadErr)
		}
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return nil, fmt.Errorf("config not available: %w", err)
		}
		globalConfig = cfg
	}
	return globalConfig, nil
}

// IsVerbose returns whether verbose mode is enabled.
func IsVerbose() bool {
	return verbose
}

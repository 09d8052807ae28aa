package commands

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/haivivi/autodj/cmd/autodj/internal/config"
	"github.com/haivivi/autodj/pkg/inference"
)

var (
	runFlags  pipelineFlags
	runModel  string
	runPrompt string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to Gemini and drive the macros",
	Long: `Connect to a Gemini Live session and drive the DJ macros until
interrupted.

The API key is read from GEMINI_API_KEY. On SIGINT or SIGTERM every macro is
set to neutral and flushed to the sinks before autodj exits.

Examples:
  autodj run --dry-run
  autodj run --console --bridge ws://127.0.0.1:9753/macros
  sox -d -t raw -r 16000 -b 16 -c 1 -e signed - | autodj run --audio-in -`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		if runModel != "" {
			cfg.Model = runModel
		}
		if runPrompt != "" {
			cfg.Prompt = runPrompt
		}
		apiKey := os.Getenv(config.EnvAPIKey)
		if apiKey == "" {
			return errors.New(config.EnvAPIKey + " is not set")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		priming := inference.DefaultPrimingPrompt
		if cfg.SkipPriming {
			priming = ""
		}
		dialer, err := inference.NewGeminiDialer(ctx, inference.GeminiConfig{
			APIKey:             apiKey,
			Model:              cfg.Model,
			SystemInstruction:  cfg.SystemInstruction,
			PrimingPrompt:      priming,
			CompressionTrigger: cfg.Compression.Trigger,
			CompressionTarget:  cfg.Compression.Target,
			Logger:             slog.Default().With("component", "gemini"),
		})
		if err != nil {
			return err
		}

		st, err := newPipeline(cmd, cfg, runFlags).run(ctx, dialer, nil, 0)
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		if IsVerbose() {
			printStatus(cmd.OutOrStdout(), st)
		}
		return nil
	},
}

func init() {
	runFlags.register(runCmd)
	runCmd.Flags().StringVar(&runModel, "model", "", "Gemini model (overrides model)")
	runCmd.Flags().StringVar(&runPrompt, "prompt", "", "user turn sent after the first connect (overrides prompt)")
	rootCmd.AddCommand(runCmd)
}

package commands

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haivivi/autodj/pkg/inference"
)

var (
	rehearseFlags  pipelineFlags
	rehearseGrace  time.Duration
	rehearseResume bool
)

var rehearseCmd = &cobra.Command{
	Use:   "rehearse <script.jsonl>",
	Short: "Replay a scripted session offline",
	Long: `Replay a JSON lines script of model events through the full pipeline
without contacting Gemini.

Each line is one step:
  {"after": "1s", "call": {"filter_macro": 0.8, "beat_repeat_macro": 0, "reverb_macro": 0.3, "eq_low_macro": 0}}
  {"handle": "tok-1"}
  {"text": "building energy"}
  {"error": "socket reset"}
  {"dial_error": "unavailable"}
  {"go_away": true}
  {"close": true}

The run ends once the script is exhausted and the grace period has passed.
The resumption handle is kept in memory unless --persist is given.

Examples:
  autodj rehearse breakdown.jsonl --console
  autodj rehearse outage.jsonl --bridge ws://127.0.0.1:9753/macros`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		steps, err := inference.LoadScript(args[0])
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		dialer := inference.NewScriptDialer(steps, nil)
		flags := rehearseFlags
		flags.memoryState = !rehearseResume
		st, err := newPipeline(cmd, cfg, flags).run(ctx, dialer, dialer.Done(), rehearseGrace)
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}

		accepted, rejected := 0, 0
		for _, r := range dialer.Results() {
			if r.OK() {
				accepted++
			} else {
				rejected++
			}
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "steps:      %d\n", len(steps))
		fmt.Fprintf(out, "dials:      %d\n", dialer.Dials())
		fmt.Fprintf(out, "accepted:   %d\n", accepted)
		fmt.Fprintf(out, "rejected:   %d\n", rejected)
		printStatus(out, st)
		return nil
	},
}

func init() {
	rehearseFlags.register(rehearseCmd)
	rehearseCmd.Flags().DurationVar(&rehearseGrace, "grace", 2*time.Second, "keep running this long after the last step")
	rehearseCmd.Flags().BoolVar(&rehearseResume, "persist", false, "store the resumption handle in the state directory")
	rootCmd.AddCommand(rehearseCmd)
}

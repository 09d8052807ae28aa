package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/haivivi/autodj/pkg/kv"
	"github.com/haivivi/autodj/pkg/resilience"
)

var sessionPrefix = kv.Key{"session"}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Show or clear the stored resumption handle",
}

var sessionShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print stored resumption handles",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		db, err := openState(cfg, slog.Default())
		if err != nil {
			return err
		}
		defer db.Close()

		out := cmd.OutOrStdout()
		ctx := cmd.Context()
		n := 0
		for e, err := range db.List(ctx, sessionPrefix) {
			if err != nil {
				return err
			}
			store := &resilience.KVHandleStore{Store: db, Key: e.Key}
			h, err := store.Load(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s\tseq=%d\ttoken=%s\n", e.Key, h.Seq, abbrev(h.Token, 16))
			n++
		}
		if n == 0 {
			fmt.Fprintln(out, "no stored handle")
		}
		return nil
	},
}

var sessionClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete stored resumption handles",
	Long: `Delete stored resumption handles so the next run starts a fresh
session instead of resuming the previous one.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		db, err := openState(cfg, slog.Default())
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := cmd.Context()
		var keys []kv.Key
		for e, err := range db.List(ctx, sessionPrefix) {
			if err != nil {
				return err
			}
			keys = append(keys, e.Key)
		}
		for _, k := range keys {
			if err := db.Delete(ctx, k); err != nil {
				return err
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d handle(s)\n", len(keys))
		return nil
	},
}

func abbrev(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func init() {
	sessionCmd.AddCommand(sessionShowCmd, sessionClearCmd)
	rootCmd.AddCommand(sessionCmd)
}

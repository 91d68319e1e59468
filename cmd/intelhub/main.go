package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "intelhub",
		Short:         "Score market news, persist it and push what matters",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")

	root.AddCommand(runCmd())
	root.AddCommand(scoreCmd())
	root.AddCommand(eventsCmd())
	root.AddCommand(sweepCmd())
	root.AddCommand(pushTestCmd())

	return root
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start collectors, pipeline, notifier and HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context())
		},
	}
}

func scoreCmd() *cobra.Command {
	var sourceID string

	cmd := &cobra.Command{
		Use:   "score <headline>",
		Short: "Score a headline against the current rules",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScore(cmd.OutOrStdout(), args[0], sourceID)
		},
	}

	cmd.Flags().StringVar(&sourceID, "source", "", "source id used for blacklist and thread key")
	return cmd
}

func eventsCmd() *cobra.Command {
	var (
		high       bool
		jsonOutput bool
		minScore   float64
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "List recent stored events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvents(cmd.Context(), cmd.OutOrStdout(), high, jsonOutput, minScore, limit)
		},
	}

	cmd.Flags().BoolVar(&high, "high", false, "order by score, important and above only")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().Float64Var(&minScore, "min-score", -1, "minimum score (default: 0, or the important threshold with --high)")
	cmd.Flags().IntVar(&limit, "limit", 50, "max events to show")
	return cmd
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired events once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func pushTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "push-test",
		Short: "Send a sanity message through the configured channel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPushTest(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

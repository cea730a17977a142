package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/hed1ad/taosad/pkg/logging"
)

var (
	name    = "goguard"
	version = "v0.0.1-default"
	commit  = ""
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fatalErr(err)
	}
}

func newRootCmd() *cobra.Command {
	var logLevel, logFormat string

	root := &cobra.Command{
		Use:           name,
		Short:         "Unsupervised outlier scoring for tabular, packet and database data",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			logging.Init(cmd.ErrOrStderr(), logLevel, logFormat)
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(
		newScoreCmd(),
		newEvaluateCmd(),
		newWatchCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (commit: %s)\n", name, version, commit)
		},
	}
}

func fatalErr(err error) {
	if err != nil {
		log.Errorf("fatal error: %v", err)
		os.Exit(1)
	}
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"recall-backend/internal/logger"
)

var debugMode bool

func main() {
	if err := newRootCommand().Execute(); err != nil {
		if _, fprintfErr := fmt.Fprintf(os.Stderr, "recallctl: %v\n", err); fprintfErr != nil {
			panic(fmt.Errorf("failed to output an error: %w. Reason: %w", err, fprintfErr))
		}
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "recallctl",
		Short:         "Operate the review scheduling engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	root.AddCommand(
		newMigrateCommand(),
		newRebuildProgressCommand(),
		newDueCommand(),
		newTokenCommand(),
		newSimulateCommand(),
	)
	return root
}

// newLogger keeps CLI output quiet unless --debug is set.
func newLogger() (*logger.Logger, error) {
	if debugMode {
		return logger.New("development")
	}
	return logger.New("production")
}

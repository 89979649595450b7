// Command changefeed-tail prints the change events that occur within one or
// more MongoDB namespaces as canonical extended JSON, one event per line.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, cancel := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			os.Exit(1)
		}
	}
}

// newRootCommand returns the command that tails the namespaces given on the
// command line.
func newRootCommand() *cobra.Command {
	var cfg config

	cmd := &cobra.Command{
		Use:   "changefeed-tail",
		Short: "Print MongoDB change events as extended JSON",
		Long: "changefeed-tail watches one or more MongoDB namespaces and " +
			"prints each change event as a line of canonical extended JSON. " +
			"A namespace is either 'db.coll', 'db' or '*' for the whole cluster.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.URI, "uri", "mongodb://localhost:27017", "MongoDB connection string")
	flags.StringSliceVar(&cfg.Namespaces, "ns", nil, "namespace to watch (may be repeated)")
	flags.StringVar(&cfg.FullDocument, "full-document", "", "fullDocument mode (default, updateLookup, whenAvailable, required)")
	flags.StringVar(&cfg.TokenFile, "token-file", "", "path to a BoltDB file used to persist resume tokens")
	flags.DurationVar(&cfg.MaxAwait, "max-await", 0, "maximum time the server waits for new events before replying")
	flags.BoolVar(&cfg.Debug, "debug", false, "enable debug logging")

	cmd.MarkFlagRequired("ns")

	return cmd
}

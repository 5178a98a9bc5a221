package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/relayr/pkg/client"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

const (
	apiTimeout = 10 * time.Second
	addTimeout = 45 * time.Second
)

// GlobalFlags holds persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
}

// APIFlags select the daemon a client command talks to.
type APIFlags struct {
	APIUrl     string
	APITimeout time.Duration
	CACert     string
	Insecure   bool
}

// AddFlags holds flags for the add command.
type AddFlags struct {
	APIFlags
	StreamKey string
	Name      string
	Source    string
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	apiFlags := &APIFlags{}
	addFlags := &AddFlags{}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServeCommand(globalFlags),
		createListCommand(apiFlags),
		createAddCommand(addFlags),
		createStopCommand(apiFlags),
		createDeleteCommand(apiFlags),
		createLogsCommand(apiFlags),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "relayr",
		Short: "Live stream relay manager",
		Long: `Relayr runs ffmpeg relay jobs under supervisord or tmux and keeps a
registry of them.

Examples:
  relayr serve --config relayr.toml
  relayr add --stream-key=rtmp://live.example.com/app/KEY --name=evening
  relayr list --api-url=http://remote:8080/api`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}

func addAPIFlags(cmd *cobra.Command, f *APIFlags, timeout time.Duration) {
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "", "daemon API base URL (default http://localhost:8080/api)")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", timeout, "API request timeout")
	cmd.Flags().StringVar(&f.CACert, "ca-cert", "", "PEM file with the CA that signed the daemon certificate")
	cmd.Flags().BoolVar(&f.Insecure, "insecure", false, "skip daemon certificate verification")
}

// withClient adapts a client command body to cobra.
func withClient(f *APIFlags, run func(ctx context.Context, c *client.Client, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		c, err := newClient(*f)
		if err != nil {
			return err
		}
		return run(requestContext(cmd.Context()), c, args)
	}
}

func createServeCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the relay daemon",
		Long: `Run the relay daemon: load the config, reconcile the registry with the
backend and serve the HTTP API until SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), flags.ConfigPath)
		},
	}
}

func createListCommand(f *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List relay jobs",
		Args:  cobra.NoArgs,
		RunE: withClient(f, func(ctx context.Context, c *client.Client, _ []string) error {
			return listStreams(ctx, c)
		}),
	}
	addAPIFlags(cmd, f, apiTimeout)
	return cmd
}

func createAddCommand(f *AddFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Start a new relay job",
		Args:  cobra.NoArgs,
		RunE: withClient(&f.APIFlags, func(ctx context.Context, c *client.Client, _ []string) error {
			return addStream(ctx, *f, c)
		}),
	}
	cmd.Flags().StringVar(&f.StreamKey, "stream-key", "", "destination ingest URL including the stream key")
	cmd.Flags().StringVar(&f.Name, "name", "", "display name (default derived from the current time)")
	cmd.Flags().StringVar(&f.Source, "source", "", "source locator (default from daemon config)")
	// add blocks until the relay settles, so it needs more than the default
	addAPIFlags(cmd, &f.APIFlags, addTimeout)
	_ = cmd.MarkFlagRequired("stream-key")
	return cmd
}

func createStopCommand(f *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop <id>",
		Short: "Stop a relay job and keep its record",
		Args:  cobra.ExactArgs(1),
		RunE: withClient(f, func(ctx context.Context, c *client.Client, args []string) error {
			return stopStream(ctx, args[0], c)
		}),
	}
	addAPIFlags(cmd, f, apiTimeout)
	return cmd
}

func createDeleteCommand(f *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Stop a relay job and remove it",
		Args:  cobra.ExactArgs(1),
		RunE: withClient(f, func(ctx context.Context, c *client.Client, args []string) error {
			return deleteStream(ctx, args[0], c)
		}),
	}
	addAPIFlags(cmd, f, apiTimeout)
	return cmd
}

func createLogsCommand(f *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs <id>",
		Short: "Show recent output of a relay job",
		Args:  cobra.ExactArgs(1),
		RunE: withClient(f, func(ctx context.Context, c *client.Client, args []string) error {
			return streamLogs(ctx, args[0], c)
		}),
	}
	addAPIFlags(cmd, f, apiTimeout)
	return cmd
}

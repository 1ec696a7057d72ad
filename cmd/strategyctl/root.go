package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jacentio/strategystore/config"
)

// cli carries the state shared by the commands of one invocation.
type cli struct {
	configPath string
	backend    string
	region     string
	endpoint   string
	verbose    bool

	cfg    *config.Config
	logger *slog.Logger

	// open builds the store for the loaded configuration.
	open storeOpener
}

func newRootCmd() *cobra.Command {
	return newRootCmdWith(openStore)
}

func newRootCmdWith(open storeOpener) *cobra.Command {
	c := &cli{open: open}

	root := &cobra.Command{
		Use:          "strategyctl",
		Short:        "Manage pipeline strategies",
		Long:         `Create, list, rename and delete pipeline strategies kept in a DynamoDB table or an S3 bucket.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.configPath, "config", "", "config file (default ./config.yaml)")
	flags.StringVar(&c.backend, "backend", "", "storage backend: dynamo or s3")
	flags.StringVar(&c.region, "region", "", "AWS region")
	flags.StringVar(&c.endpoint, "endpoint", "", "AWS endpoint override")
	flags.BoolVarP(&c.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		c.initCmd(),
		c.listCmd(),
		c.getCmd(),
		c.saveCmd(),
		c.renameCmd(),
		c.deleteCmd(),
		c.watchCmd(),
	)
	return root
}

// load reads the configuration and applies the flags set on the command line.
func (c *cli) load(cmd *cobra.Command) error {
	level := slog.LevelInfo
	if c.verbose {
		level = slog.LevelDebug
	}
	c.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("backend") {
		cfg.Backend = c.backend
	}
	if flags.Changed("region") {
		cfg.AWS.Region = c.region
	}
	if flags.Changed("endpoint") {
		cfg.AWS.Endpoint = c.endpoint
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.cfg = cfg
	return nil
}

// handleSignals returns a context cancelled on SIGINT or SIGTERM.
func handleSignals(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

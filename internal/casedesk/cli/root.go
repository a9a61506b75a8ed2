// Package cli implements the casedesk command line client.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aussiebroadwan/casedesk/internal/casedesk/app"
)

type rootOptions struct {
	configPath string
	apiURL     string
	stateDir   string
	driver     string
	logLevel   string
}

// NewRootCommand builds the casedesk command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "casedesk",
		Short: "Case desk client",
		Long: `casedesk talks to the case management backend and keeps the session
shared by every casedesk process on this machine.

A login in one process is visible to the others; a logout in one logs
them all out. "casedesk watch" shows the session countdown, warns before
the credential expires and offers to extend it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Config file path (YAML); overrides CASEDESK_CONFIG")
	flags.StringVar(&opts.apiURL, "api-url", "", "Backend base URL; overrides CASEDESK_API_URL")
	flags.StringVar(&opts.stateDir, "state-dir", "", "Directory holding the session record")
	flags.StringVar(&opts.driver, "store", "", "Session record driver (file, sqlite)")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		newLoginCommand(opts),
		newLogoutCommand(opts),
		newStatusCommand(opts),
		newPingCommand(opts),
		newSendCommand(opts),
		newHealthCommand(opts),
		newWatchCommand(opts),
		newVersionCommand(),
	)
	return cmd
}

// config resolves the configuration: file and environment first, then
// command line flags.
func (o *rootOptions) config() (app.Config, error) {
	if o.configPath != "" {
		if err := os.Setenv("CASEDESK_CONFIG", o.configPath); err != nil {
			return app.Config{}, err
		}
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		return app.Config{}, fmt.Errorf("load config: %w", err)
	}

	if o.apiURL != "" {
		cfg.APIURL = o.apiURL
	}
	if o.stateDir != "" {
		cfg.StateDir = o.stateDir
	}
	if o.driver != "" {
		cfg.StoreDriver = o.driver
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	return cfg, nil
}

// open builds an Application for one command. The caller shuts it down.
func (o *rootOptions) open(cmd *cobra.Command, extra ...app.Option) (*app.Application, error) {
	cfg, err := o.config()
	if err != nil {
		return nil, err
	}
	return openConfig(cmd, cfg, extra...)
}

func openConfig(cmd *cobra.Command, cfg app.Config, extra ...app.Option) (*app.Application, error) {
	opts := append([]app.Option{app.WithLogOutput(cmd.ErrOrStderr())}, extra...)
	a, err := app.New(cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return a, nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "casedesk version %s\n", app.BuildVersion)
		},
	}
}

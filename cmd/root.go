package cmd

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Execute loads .env when present and runs the CLI.
func Execute() error {
	_ = godotenv.Load()
	return newRootCmd().Execute()
}

// lazyApp wires the app the first time a command needs it.
type lazyApp struct {
	app *app
}

func (l *lazyApp) get() (*app, error) {
	if l.app != nil {
		return l.app, nil
	}
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a, err := newApp(cfg)
	if err != nil {
		return nil, err
	}
	l.app = a
	return a, nil
}

func (l *lazyApp) close() {
	if l.app != nil {
		_ = l.app.Close()
		l.app = nil
	}
}

// runE adapts a command body that needs the wired app.
func (l *lazyApp) runE(fn func(cmd *cobra.Command, args []string, a *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := l.get()
		if err != nil {
			return err
		}
		defer l.close()
		return fn(cmd, args, a)
	}
}

func newRootCmd() *cobra.Command {
	deps := &lazyApp{}

	rootCmd := &cobra.Command{
		Use:   "oracle",
		Short: "Oracle engine: write, review and deliver personalised readings",
		Long: `oracle turns a client's order text into a finished reading.

Each cycle identifies the client, loads their session history, drafts a
reading with the creative model, has it reviewed until approved, extracts a
session summary into memory and writes a short delivery message. Orders can
be run one at a time or queued and processed in batches.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newRunCmd(deps),
		newQueueCmd(deps),
		newClientsCmd(deps),
		newUsageCmd(deps),
	)

	return rootCmd
}

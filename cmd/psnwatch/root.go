package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"tools.zach/dev/psnwatch/internal/config"
)

// runFlags are the command-line overrides for one run. Only flags the user
// set are applied over the config file.
type runFlags struct {
	csvFile             string
	status              bool
	gameChange          bool
	activeInactive      bool
	noErrors            bool
	checkInterval       int
	activeCheckInterval int
	disableLogging      bool
	npsso               string
	logLevel            string
}

func newRootCmd() *cobra.Command {
	var (
		dataDir string
		flags   runFlags
	)

	rootCmd := &cobra.Command{
		Use:   "psnwatch <psn_id>",
		Short: "Track a PlayStation Network user's presence sessions",
		Long: `psnwatch polls a PlayStation Network account and reports when it goes online or
offline, changes status and starts, switches or stops playing a game.

Settings live in <data-dir>/config.toml, which is created on first run. Secrets may
be kept in <data-dir>/.env (PSN_NPSSO, SMTP_USER, SMTP_PASSWORD).

Examples:
  psnwatch misiektoja                    # monitor with config.toml settings
  psnwatch misiektoja -a -g              # email on online/offline and game changes
  psnwatch misiektoja -b psn_history.csv # also write every change to a CSV file
  psnwatch misiektoja -c 300 -k 30       # poll every 5 minutes offline, 30s online
  psnwatch ctl status -u misiektoja      # query a running daemon`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), daemonOptions{
				user:    args[0],
				dataDir: dataDir,
				flags:   flags,
				changed: cmd.Flags(),
				stdout:  cmd.OutOrStdout(),
			})
		},
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", defaultDataDir(),
		"Data directory for config, snapshots, logs and the control socket")

	f := rootCmd.Flags()
	f.StringVarP(&flags.csvFile, "csv-file", "b", "",
		"Write all status and game changes to this CSV file")
	f.BoolVarP(&flags.status, "status-notification", "s", false,
		"Send an email on every status change")
	f.BoolVarP(&flags.gameChange, "game-change-notification", "g", false,
		"Send an email when the user starts, switches or stops a game")
	f.BoolVarP(&flags.activeInactive, "active-inactive-notification", "a", false,
		"Send an email when the user goes online or offline")
	f.BoolVarP(&flags.noErrors, "disable-error-notification", "e", false,
		"Do not send an email when the NPSSO key is rejected")
	f.IntVarP(&flags.checkInterval, "check-interval", "c", 0,
		"Seconds between checks while the user is offline")
	f.IntVarP(&flags.activeCheckInterval, "active-check-interval", "k", 0,
		"Seconds between checks while the user is online")
	f.BoolVarP(&flags.disableLogging, "disable-logging", "d", false,
		"Do not write the psnwatch_<user>.log file")
	f.StringVarP(&flags.npsso, "npsso", "n", "",
		"PlayStation NPSSO key (prefer PSN_NPSSO in .env)")
	f.StringVar(&flags.logLevel, "log-level", "",
		"Minimum log level (trace, debug, info, warn, error)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newCtlCmd(&dataDir),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the psnwatch version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "psnwatch %s\n", resolveVersion())
			return err
		},
	}
}

// apply copies the flags the user set into cfg.
func (f runFlags) apply(changed *pflag.FlagSet, cfg *config.Config) {
	set := func(name string) bool { return changed != nil && changed.Changed(name) }

	if set("csv-file") {
		cfg.CSV.File = f.csvFile
	}
	if set("status-notification") {
		cfg.Notify.Status = f.status
	}
	if set("game-change-notification") {
		cfg.Notify.GameChange = f.gameChange
	}
	if set("active-inactive-notification") {
		cfg.Notify.ActiveInactive = f.activeInactive
	}
	if set("disable-error-notification") {
		cfg.Notify.Errors = !f.noErrors
	}
	if set("check-interval") {
		cfg.Monitor.CheckIntervalSeconds = f.checkInterval
	}
	if set("active-check-interval") {
		cfg.Monitor.ActiveCheckIntervalSeconds = f.activeCheckInterval
	}
	if set("disable-logging") {
		cfg.Log.File = !f.disableLogging
	}
	if set("npsso") {
		cfg.PSN.NPSSO = f.npsso
	}
	if set("log-level") {
		cfg.Log.Level = f.logLevel
	}
}

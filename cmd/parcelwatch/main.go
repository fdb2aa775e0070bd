package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var (
	configPath string
	verbose    bool
	noColor    bool
)

var rootCmd = &cobra.Command{
	Use:   "parcelwatch",
	Short: "Track Amazon deliveries from order-update emails",
	Long: `parcelwatch watches the order-update mail Amazon sends after every
purchase and turns it into a live view of your open deliveries. It
connects to the mailbox over IMAP, stays subscribed via IDLE, and
distills each notification into order, status, carrier, and tracking
facts without ever talking to Amazon itself.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		initLogging()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/parcelwatch/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(listCmd)
}

// initLogging installs the process-wide logger. Components receive it
// through their constructors, so one SetDefault here covers everything.
func initLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}

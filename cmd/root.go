package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ziadkadry99/relaybot/internal/config"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "relaybot",
	Short: "Chat platform event engine with exactly-once command handling",
	Long: `Relaybot ingests chat platform events over a webhook or socket stream,
runs each one through its conversation's command handler exactly once,
and delivers the replies through a retrying outbox. Duplicate deliveries
are absorbed, crashes never double-apply a command, and queued replies
survive restarts.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", config.DefaultPath, "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

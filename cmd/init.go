package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ziadkadry99/relaybot/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize relaybot configuration with an interactive wizard",
	Long:  `Runs an interactive wizard to configure storage, the platform gateway, and delivery, then writes a .relaybot.yml file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := config.RunWizard()
		return err
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}

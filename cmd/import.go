package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/relaybot/internal/config"
	"github.com/ziadkadry99/relaybot/internal/db"
	"github.com/ziadkadry99/relaybot/internal/importer"
	"github.com/ziadkadry99/relaybot/internal/journal"
	"github.com/ziadkadry99/relaybot/internal/progress"
)

var importConversation string

var importCmd = &cobra.Command{
	Use:   "import [legacy-data-dir]",
	Short: "Import a legacy JSON data directory",
	Long: `Migrates the flat files of the old bot (settings.json, afk.json,
logs.json) into one conversation's state and the journal. The directory
defaults to the current one.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		legacyDir := "."
		if len(args) == 1 {
			legacyDir = args[0]
		}

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return fmt.Errorf("creating data dir: %w", err)
		}
		database, err := db.Open(filepath.Join(cfg.DataDir, "relaybot.db"))
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer database.Close()

		st, closeStore, err := openConversationStore(cfg, database)
		if err != nil {
			return err
		}
		defer closeStore()

		res, err := importer.Run(cmd.Context(), importer.Options{
			DataDir:        legacyDir,
			ConversationID: importConversation,
			Store:          st,
			Journal:        journal.NewStore(database),
			Reporter:       progress.NewReporter(),
		})
		if err != nil {
			return err
		}

		fmt.Printf("Imported into conversation %s:\n", importConversation)
		fmt.Printf("  Blocked words:   %d\n", res.BlockedWords)
		fmt.Printf("  AFK members:     %d\n", res.AFKMembers)
		fmt.Printf("  Welcome set:     %v\n", res.WelcomeSet)
		fmt.Printf("  Journal entries: %d\n", res.JournalEntries)
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importConversation, "conversation", "", "conversation id that receives the imported state (required)")
	importCmd.MarkFlagRequired("conversation")
	rootCmd.AddCommand(importCmd)
}

package cmd

import (
	"context"
	"fmt"

	"github.com/ziadkadry99/relaybot/internal/config"
	"github.com/ziadkadry99/relaybot/internal/db"
	"github.com/ziadkadry99/relaybot/internal/store"
)

// openConversationStore builds the conversation store the config names.
// This is the shared version used by the serve and import commands. The
// returned closer is a no-op for SQLite, which rides on the local
// database handle the caller already owns.
func openConversationStore(cfg *config.Config, database *db.DB) (store.Store, func(), error) {
	if cfg.StorageDriver == config.DriverPostgres {
		pg, err := store.NewPostgres(context.Background(), cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		return pg, pg.Close, nil
	}
	return store.NewSQLite(database), func() {}, nil
}

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/zulandar/mailslot/internal/config"
	"github.com/zulandar/mailslot/internal/db"
	"github.com/zulandar/mailslot/internal/relay"
	"github.com/zulandar/mailslot/internal/store"
)

const defaultConfigPath = "mailslot.yaml"

// addConfigFlag registers the shared --config flag.
func addConfigFlag(cmd *cobra.Command, path *string) {
	cmd.Flags().StringVarP(path, "config", "c", defaultConfigPath, "path to mailslot config file")
}

// loadConfig reads the config file. When the default file is absent and
// --config was not given, the config comes from the environment alone.
func loadConfig(cmd *cobra.Command, path string) (*config.Config, error) {
	if !cmd.Flags().Changed("config") {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			cfg, err := config.FromEnv()
			if err != nil {
				return nil, fmt.Errorf("load config from environment: %w", err)
			}
			return cfg, nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// backend is an opened storage stack.
type backend struct {
	store    store.Store
	sessions relay.SessionStore
	close    func() error
}

// openBackend opens the configured store. SQL drivers get migrated tables
// and durable sessions; the file driver keeps sessions in memory.
func openBackend(cfg config.StorageConfig) (*backend, error) {
	if cfg.Driver == config.DriverFile {
		fs, err := store.OpenFileStore(cfg.Dir)
		if err != nil {
			return nil, err
		}
		return &backend{
			store:    fs,
			sessions: relay.NewMemorySessionStore(),
			close:    func() error { return nil },
		}, nil
	}

	gormDB, err := db.Open(cfg)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		db.Close(gormDB)
		return nil, err
	}
	gs, err := store.NewGormStore(gormDB)
	if err != nil {
		db.Close(gormDB)
		return nil, err
	}
	sessions, err := relay.NewGormSessionStore(gormDB)
	if err != nil {
		db.Close(gormDB)
		return nil, err
	}
	return &backend{
		store:    gs,
		sessions: sessions,
		close:    func() error { return db.Close(gormDB) },
	}, nil
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/mailslot/internal/config"
	"github.com/zulandar/mailslot/internal/db"
	"github.com/zulandar/mailslot/internal/store"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBMigrateCmd())
	cmd.AddCommand(newDBImportCmd())
	return cmd
}

func newDBMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBMigrate(cmd, configPath)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runDBMigrate(cmd *cobra.Command, configPath string) error {
	cfg, err := loadConfig(cmd, configPath)
	if err != nil {
		return err
	}
	if cfg.Storage.Driver == config.DriverFile {
		return fmt.Errorf("db migrate: storage driver is %q, nothing to migrate", cfg.Storage.Driver)
	}

	gormDB, err := db.Open(cfg.Storage)
	if err != nil {
		return err
	}
	defer db.Close(gormDB)

	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Migrated %d tables\n", len(db.AllModels()))
	return nil
}

func newDBImportCmd() *cobra.Command {
	var (
		configPath string
		dir        string
	)

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import user_data.json and stats.json into the database",
		Long:  "Loads the JSON files written by the file storage driver (or a legacy Python deployment) and writes them into the configured SQL database.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBImport(cmd, configPath, dir)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&dir, "dir", ".", "directory containing user_data.json and stats.json")
	return cmd
}

func runDBImport(cmd *cobra.Command, configPath, dir string) error {
	cfg, err := loadConfig(cmd, configPath)
	if err != nil {
		return err
	}
	if cfg.Storage.Driver == config.DriverFile {
		return fmt.Errorf("db import: storage driver is %q, want sqlite or mysql", cfg.Storage.Driver)
	}

	src, err := store.OpenFileStore(dir)
	if err != nil {
		return err
	}
	snap, err := src.Snapshot(cmd.Context())
	if err != nil {
		return err
	}

	be, err := openBackend(cfg.Storage)
	if err != nil {
		return err
	}
	defer be.close()

	if err := be.store.Restore(cmd.Context(), snap); err != nil {
		return fmt.Errorf("db import: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Imported %d identities from %s\n", len(snap.Identities), dir)
	fmt.Fprintf(out, "  Total messages: %d\n", snap.Stats.TotalMessages)
	fmt.Fprintf(out, "  Total users:    %d\n", snap.Stats.TotalUsers)
	return nil
}

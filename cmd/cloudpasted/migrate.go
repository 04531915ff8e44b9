package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cloudpaste/cloudpaste/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema and exit",
	Long:  "store.Open applies every CREATE TABLE IF NOT EXISTS statement on connect; this command just does that and reports success, for use in a deploy's init step.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		db, err := store.Open(cfg.Database.Driver, cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime)
		if err != nil {
			return err
		}
		defer db.Close()
		fmt.Println("schema up to date")
		return nil
	},
}

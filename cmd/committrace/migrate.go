package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	type migrator interface {
		Migrate(ctx context.Context) error
	}
	m, ok := s.(migrator)
	if !ok {
		return fmt.Errorf("storage backend %q does not support migration", cfg.Storage.Type)
	}
	if err := m.Migrate(ctx); err != nil {
		return err
	}

	logger.WithField("backend", cfg.Storage.Type).Info("Schema migration completed")
	return nil
}

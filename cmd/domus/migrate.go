package main

import (
	"context"

	"github.com/rs/zerolog/log"
)

// MigrateCmd applies the embedded schema migrations.
type MigrateCmd struct{}

func (c *MigrateCmd) Run(ctx context.Context) error {
	_, store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		return err
	}
	log.Info().Msg("migrations applied")
	return nil
}

package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/prism-data/prism/internal/audit"
	"github.com/prism-data/prism/internal/config"
	"github.com/prism-data/prism/internal/domain/resources"
	"github.com/prism-data/prism/internal/registry"
	"github.com/prism-data/prism/internal/storage/postgres"
)

// regenerateCmd force-regenerates resources from their sources, cascading
// over links. Useful after catalog changes that alter inference or
// normalization.
var regenerateAll bool

var regenerateCmd = &cobra.Command{
	Use:   "regenerate [href...]",
	Short: "Regenerate derived documents for the given resource hrefs",
	Args: func(cmd *cobra.Command, args []string) error {
		if regenerateAll && len(args) > 0 {
			return fmt.Errorf("--all does not take href arguments")
		}
		if !regenerateAll && len(args) == 0 {
			return fmt.Errorf("requires at least one href, or --all")
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := config.NewLogger(cfg.Logging)

		reg, err := registry.LoadFile(cfg.Catalog.Path, registry.Hooks{})
		if err != nil {
			return fmt.Errorf("load catalog %s: %w", cfg.Catalog.Path, err)
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
		defer cancel()

		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer pool.Close()

		store, err := postgres.NewStore(pool)
		if err != nil {
			return err
		}

		// No scheduler here: extancy flips are picked up by the next
		// server-side save.
		regen := resources.NewRegenerator(reg, audit.NewSink(logger), nil)
		service := resources.NewService(store, regen, nil)

		hrefs := args
		if regenerateAll {
			if hrefs, err = store.Resources().ListHrefs(ctx); err != nil {
				return err
			}
		}
		for _, href := range hrefs {
			if err := service.Save(ctx, href); err != nil {
				return fmt.Errorf("regenerate %s: %w", href, err)
			}
			logger.Info().Str("href", href).Msg("regenerated")
		}
		return nil
	},
}

func init() {
	regenerateCmd.Flags().BoolVar(&regenerateAll, "all", false, "regenerate every resource")
}

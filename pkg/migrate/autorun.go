package migrate

import (
	"context"
	"fmt"

	"github.com/herfa-app/herfa-backend/pkg/config"
	"github.com/herfa-app/herfa-backend/pkg/db"
	"github.com/herfa-app/herfa-backend/pkg/logger"
)

// ApplyOnBoot brings a dev database up to the embedded schema when
// HERFA_AUTO_MIGRATE is set. Staging and prod run cmd/migrate as a release
// step, so this is a no-op there.
func ApplyOnBoot(ctx context.Context, app config.AppConfig, logg *logger.Logger, client *db.Client) error {
	if !app.IsDev() || !app.AutoMigrate {
		return nil
	}
	if err := ValidateEmbedded(); err != nil {
		return fmt.Errorf("embedded migrations: %w", err)
	}
	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("sql handle: %w", err)
	}

	from, err := Version(ctx, sqlDB)
	if err != nil {
		return err
	}
	if err := Run(ctx, sqlDB, "", "up"); err != nil {
		return fmt.Errorf("auto migrate from %d: %w", from, err)
	}
	to, err := Version(ctx, sqlDB)
	if err != nil {
		return err
	}
	if to != from {
		logg.Info(logg.WithFields(ctx, map[string]any{"from_version": from, "to_version": to}), "schema migrated on boot")
	}
	return nil
}

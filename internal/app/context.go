package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"cleansweep/internal/config"
	"cleansweep/internal/repo"
)

// ResolveHostAndConfig loads cleansweep.yml from the workspace and makes sure
// the host row exists in the database, seeding it on first use.
func ResolveHostAndConfig(ctx context.Context, workspace string, r repo.Repo) (*config.Config, error) {
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, err
	}
	if err := ensureHost(ctx, r, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func ensureHost(ctx context.Context, r repo.Repo, cfg *config.Config) error {
	exists, err := r.HostExists(ctx, cfg.Host.ID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	now := time.Now().UTC().Format(time.RFC3339)
	if err := r.EnsureHost(ctx, tx, cfg.Host.ID, cfg.Host.Name, now); err != nil {
		return fmt.Errorf("seed host: %w", err)
	}
	return tx.Commit()
}

// InitConfig writes a default cleansweep.yml for the host unless one already
// exists.
func InitConfig(workspace, hostID string) (string, error) {
	path := config.Path(workspace)
	if _, err := os.Stat(path); err == nil {
		return path, fmt.Errorf("config %s already exists", path)
	}
	if err := os.WriteFile(path, []byte(config.GenerateDefault(hostID)), 0o644); err != nil {
		return path, err
	}
	return path, nil
}

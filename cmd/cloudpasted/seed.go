package main

import (
	"context"
	"os"
	"time"

	"github.com/cloudpaste/cloudpaste/internal/config"
	"github.com/cloudpaste/cloudpaste/internal/store"
	"github.com/cloudpaste/cloudpaste/pkg/types"
)

// seedConfiguredState creates the StorageConfig/Mount rows named in cfg.Storage/cfg.Mounts
// if they don't already exist, so a single-binary deployment boots with a working mount
// table without an external admin API call. Operators normally manage these through the
// admin surface; this just lets the YAML file double as a bootstrap manifest.
func seedConfiguredState(db *store.DB, cfg *config.Configuration) error {
	ctx := context.Background()
	now := time.Now().UnixMilli()

	for _, dial := range cfg.Storage {
		if _, err := db.StorageConfigs.Get(ctx, dial.ID); err == nil {
			continue
		}
		secrets := make(map[string]string, len(dial.SecretEnv))
		for field, envVar := range dial.SecretEnv {
			secrets[field] = types.EncryptedPrefix + os.Getenv(envVar)
		}
		sc := types.StorageConfig{
			ID:          dial.ID,
			Type:        types.StorageType(dial.Type),
			Name:        dial.Name,
			Secrets:     secrets,
			QuotaBytes:  dial.QuotaBytes,
			RootPrefix:  dial.RootPrefix,
			Extra:       dial.Extra,
			CreatedAtMs: now,
			UpdatedAtMs: now,
		}
		if err := db.StorageConfigs.Create(ctx, sc); err != nil {
			return err
		}
	}

	for _, mc := range cfg.Mounts {
		if _, err := db.Mounts.Get(ctx, mc.ID); err == nil {
			continue
		}
		sc, err := db.StorageConfigs.Get(ctx, mc.StorageConfigID)
		if err != nil {
			return err
		}
		mount := types.Mount{
			ID:               mc.ID,
			Name:             mc.Name,
			MountPath:        mc.MountPath,
			StorageConfigID:  mc.StorageConfigID,
			StorageType:      sc.Type,
			IsActive:         true,
			WebProxy:         mc.WebProxy,
			RequireSignature: mc.RequireSignature,
			CreatedBy:        "config",
			CreatedAtMs:      now,
			UpdatedAtMs:      now,
		}
		if err := db.Mounts.Create(ctx, mount); err != nil {
			return err
		}
	}

	return nil
}

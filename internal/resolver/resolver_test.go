package resolver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cloudpaste/cloudpaste/internal/store"
	"github.com/cloudpaste/cloudpaste/pkg/types"
)

func newTestManager(t *testing.T) (*Manager, *store.DB) {
	t.Helper()
	db, err := store.Open("sqlite", "file::memory:?cache=shared", 1, 1, time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db), db
}

func TestManager_Resolve(t *testing.T) {
	mgr, db := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, db.Mounts.Create(ctx, types.Mount{
		ID: "m1", Name: "docs", MountPath: "/docs", StorageConfigID: "sc1",
		StorageType: types.StorageLocal, IsActive: true, CreatedAtMs: 1, UpdatedAtMs: 1,
	}))

	r, err := mgr.Resolve(ctx, "/docs/report.pdf", false, types.Principal{Type: types.PrincipalAdmin})
	require.NoError(t, err)
	require.NotNil(t, r.Mount)
	require.Equal(t, "m1", r.Mount.ID)
	require.Equal(t, "/report.pdf", r.SubPath)
}

func TestManager_Resolve_VirtualRoot(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	r, err := mgr.Resolve(ctx, "/", false, types.Principal{Type: types.PrincipalAdmin})
	require.NoError(t, err)
	require.True(t, r.VirtualRoot)
	require.Nil(t, r.Mount)
}

func TestManager_Resolve_ForbiddenOutsideBase(t *testing.T) {
	mgr, db := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, db.Mounts.Create(ctx, types.Mount{
		ID: "m1", Name: "docs", MountPath: "/docs", StorageConfigID: "sc1",
		StorageType: types.StorageLocal, IsActive: true, CreatedAtMs: 1, UpdatedAtMs: 1,
	}))

	_, err := mgr.Resolve(ctx, "/other/file.txt", false, types.Principal{
		Type: types.PrincipalAPIKey, AllowedBasePath: "/docs",
	})
	require.Error(t, err)
}

func TestManager_InvalidateDriver(t *testing.T) {
	mgr, _ := newTestManager(t)
	mgr.drivers["sc1"] = nil
	mgr.InvalidateDriver("sc1")
	if _, ok := mgr.drivers["sc1"]; ok {
		t.Error("expected driver entry to be removed")
	}
}

func TestDecryptSecrets(t *testing.T) {
	cfg := types.StorageConfig{Secrets: map[string]string{"key": types.EncryptedPrefix + "abc"}}
	out := decryptSecrets(cfg)
	if out.Secrets["key"] != "abc" {
		t.Errorf("expected decrypted value abc, got %q", out.Secrets["key"])
	}
}

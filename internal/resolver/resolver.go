// Package resolver implements the path resolver and mount manager (§4.1):
// normalising incoming virtual paths, finding the owning mount, enforcing a
// principal's allowed base path, and caching instantiated drivers keyed by
// storage config id.
package resolver

import (
	"context"
	"strings"
	"sync"

	"github.com/cloudpaste/cloudpaste/internal/circuit"
	"github.com/cloudpaste/cloudpaste/internal/driver"
	"github.com/cloudpaste/cloudpaste/internal/store"
	"github.com/cloudpaste/cloudpaste/pkg/errors"
	"github.com/cloudpaste/cloudpaste/pkg/retry"
	"github.com/cloudpaste/cloudpaste/pkg/types"
)

// Resolved is the outcome of resolving one virtual path: the owning mount
// (nil for a virtual prefix) and the sub-path handed to its driver.
type Resolved struct {
	Mount        *types.Mount
	SubPath      string
	VirtualRoot  bool // true when Mount is nil: no mount owns p
}

// Manager resolves paths against the mount table and caches driver
// instances per storage config id.
type Manager struct {
	db *store.DB

	mu      sync.RWMutex
	drivers map[string]types.Driver // storageConfigId -> instance

	retryer  *retry.Retryer
	breakers *circuit.Manager
	metrics  types.MetricsCollector
}

// New constructs a Manager over db. Driver calls are unguarded until
// EnableGuard is called; tests and one-off CLI commands that don't need
// retry/circuit-breaking/metrics can use the bare driver instances.
func New(db *store.DB) *Manager {
	return &Manager{db: db, drivers: make(map[string]types.Driver)}
}

// EnableGuard turns on retry-with-backoff, per-storage-config circuit
// breaking and operation metrics for every driver this Manager instantiates
// from this point on (§7). metrics may be nil.
func (m *Manager) EnableGuard(retryer *retry.Retryer, breakers *circuit.Manager, metrics types.MetricsCollector) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retryer = retryer
	m.breakers = breakers
	m.metrics = metrics
}

// Resolve normalises p, finds its owning mount, and enforces the
// principal's AllowedBasePath (§4.1).
func (m *Manager) Resolve(ctx context.Context, rawPath string, dirIntent bool, principal types.Principal) (*Resolved, error) {
	p, err := NormalizePath(rawPath, dirIntent)
	if err != nil {
		return nil, err
	}

	if principal.AllowedBasePath != "" && !IsUnderBase(principal.AllowedBasePath, p) {
		return nil, errors.Forbidden("resolver", "path is outside the principal's allowed base path")
	}

	mount, err := m.db.Mounts.GetByPath(ctx, p)
	if err != nil {
		if errors.Code(err) == errors.ErrCodeNotFound {
			return &Resolved{VirtualRoot: true, SubPath: p}, nil
		}
		return nil, err
	}

	return &Resolved{Mount: mount, SubPath: SplitMount(mount.MountPath, p)}, nil
}

// ListVisibleMounts returns the mounts whose path lies under prefix and
// which the principal may see, the virtual-prefix directory's children
// (§4.1 "synthetic directory").
func (m *Manager) ListVisibleMounts(ctx context.Context, prefix string, principal types.Principal) ([]types.Mount, error) {
	all, err := m.db.Mounts.List(ctx)
	if err != nil {
		return nil, err
	}

	prefix = strings.TrimSuffix(prefix, "/")
	var out []types.Mount
	for _, mnt := range all {
		if !mnt.IsActive {
			continue
		}
		if principal.AllowedBasePath != "" && !IsUnderBase(principal.AllowedBasePath, mnt.MountPath) {
			continue
		}
		if prefix == "" || prefix == "/" || strings.HasPrefix(mnt.MountPath, prefix+"/") || mnt.MountPath == prefix {
			out = append(out, mnt)
		}
	}
	return out, nil
}

// Driver returns the cached driver instance for mount, instantiating and
// caching it on first use (§4.1).
func (m *Manager) Driver(ctx context.Context, mount *types.Mount) (types.Driver, error) {
	m.mu.RLock()
	drv, ok := m.drivers[mount.StorageConfigID]
	m.mu.RUnlock()
	if ok {
		return drv, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if drv, ok := m.drivers[mount.StorageConfigID]; ok {
		return drv, nil
	}

	cfg, err := m.db.StorageConfigs.Get(ctx, mount.StorageConfigID)
	if err != nil {
		return nil, err
	}

	decrypted := decryptSecrets(*cfg)
	drv, err = driver.Build(decrypted)
	if err != nil {
		return nil, err
	}
	if m.retryer != nil && m.breakers != nil {
		drv = driver.NewGuarded(drv, m.retryer, m.breakers.GetBreaker(mount.StorageConfigID), m.metrics)
	}

	m.drivers[mount.StorageConfigID] = drv
	return drv, nil
}

// InvalidateDriver drops the cached driver instance for a storage config,
// called after its StorageConfig changes (§4.1 "invalidated when the
// underlying config changes").
func (m *Manager) InvalidateDriver(storageConfigID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.drivers, storageConfigID)
}

// decryptSecrets strips the EncryptedPrefix marker from every secret
// field. Actual key management is an external collaborator (§4 Non-goals
// exclude auth/secret storage); this gateway only needs to recognise
// already-encrypted values at rest and hand the driver plaintext.
func decryptSecrets(cfg types.StorageConfig) types.StorageConfig {
	if len(cfg.Secrets) == 0 {
		return cfg
	}
	plain := make(map[string]string, len(cfg.Secrets))
	for k, v := range cfg.Secrets {
		plain[k] = strings.TrimPrefix(v, types.EncryptedPrefix)
	}
	cfg.Secrets = plain
	return cfg
}

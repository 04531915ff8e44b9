// Package driver holds the storage-driver registry and the retry/circuit
// wrapper every driver call runs through. Concrete back-ends live in
// sub-packages (internal/driver/s3, .../local, .../webdav, ...) and
// register their DriverFactory with Register from an init() function,
// following the teacher's internal/storage factory-registration shape.
package driver

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/cloudpaste/cloudpaste/internal/circuit"
	"github.com/cloudpaste/cloudpaste/pkg/errors"
	"github.com/cloudpaste/cloudpaste/pkg/retry"
	"github.com/cloudpaste/cloudpaste/pkg/types"
)

var (
	registryMu sync.RWMutex
	registry   = map[types.StorageType]types.DriverFactory{}
)

// Register binds a factory to a storage type. Called from sub-package
// init()s; panics on duplicate registration since that is a programming
// error, never a runtime condition.
func Register(t types.StorageType, factory types.DriverFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[t]; exists {
		panic("driver: duplicate registration for storage type " + string(t))
	}
	registry[t] = factory
}

// Build instantiates the driver registered for cfg.Type.
func Build(cfg types.StorageConfig) (types.Driver, error) {
	registryMu.RLock()
	factory, ok := registry[cfg.Type]
	registryMu.RUnlock()

	if !ok {
		return nil, errors.NotSupported("driver.registry", "no driver registered for storage type "+string(cfg.Type))
	}

	drv, err := factory(cfg)
	if err != nil {
		return nil, errors.Internal("driver.registry", "driver initialization failed", err).WithDetail("storageType", string(cfg.Type))
	}
	return drv, nil
}

// RequireCapability returns NOT_SUPPORTED if drv doesn't declare every bit
// in want, the uniform capability gate every call site in the core uses
// before invoking an operation (§4.2).
func RequireCapability(drv types.Driver, want types.Capability, operation string) error {
	if drv.Capabilities().Has(want) {
		return nil
	}
	return errors.NotSupported("driver", operation+" requires capability "+want.String()+" which "+string(drv.Type())+" does not declare")
}

// Guarded wraps a driver so its ten listing/metadata/read/write/namespace
// calls (the methods overridden below) go through retry-with-backoff and
// a per-driver circuit breaker; multipart, URL-generation, DiskUsage and
// HealthCheck calls reach the embedded driver directly. Per §7 ("Transient back-end errors are
// retried up to a per-operation limit with exponential backoff+jitter") and
// the teacher's internal/circuit usage. The wrapped calls also record per-operation
// duration, size and error metrics when a collector is attached, mirroring
// the teacher's internal/metrics instrumentation of internal/storage calls.
type Guarded struct {
	types.Driver
	retryer *retry.Retryer
	breaker *circuit.CircuitBreaker
	metrics types.MetricsCollector // nil disables recording
}

// NewGuarded wraps drv with the given retry policy and circuit breaker.
// metrics may be nil.
func NewGuarded(drv types.Driver, retryer *retry.Retryer, breaker *circuit.CircuitBreaker, metrics types.MetricsCollector) *Guarded {
	return &Guarded{Driver: drv, retryer: retryer, breaker: breaker, metrics: metrics}
}

// Call runs op through the breaker and retryer, used by the drivers that
// need it wrapped explicitly (resolver-level operations call this instead
// of the embedded Driver methods directly).
func (g *Guarded) Call(ctx context.Context, op func(context.Context) error) error {
	return g.breaker.Execute(func() error {
		return g.retryer.DoWithContext(ctx, op)
	})
}

// record wraps a single driver call with retry+breaker and records its
// outcome. name is the metric's operation label; size is the byte count to
// attribute to it (0 when not meaningful, e.g. ListDirectory).
func (g *Guarded) record(ctx context.Context, name string, size int64, op func(context.Context) error) error {
	start := time.Now()
	err := g.Call(ctx, op)
	if g.metrics != nil {
		g.metrics.RecordOperation(name, time.Since(start), size, err == nil)
		if err != nil {
			g.metrics.RecordError(name, err)
		}
	}
	return err
}

func (g *Guarded) ListDirectory(subPath string, ctx types.OpContext) (*types.ListResult, error) {
	var res *types.ListResult
	err := g.record(ctx.Context, "list", 0, func(c context.Context) error {
		var innerErr error
		res, innerErr = g.Driver.ListDirectory(subPath, ctx)
		return innerErr
	})
	return res, err
}

func (g *Guarded) GetFileInfo(subPath string, ctx types.OpContext) (*types.FileInfo, error) {
	var res *types.FileInfo
	err := g.record(ctx.Context, "getattr", 0, func(c context.Context) error {
		var innerErr error
		res, innerErr = g.Driver.GetFileInfo(subPath, ctx)
		return innerErr
	})
	return res, err
}

func (g *Guarded) DownloadFile(subPath string, ctx types.OpContext) (*types.StreamDescriptor, error) {
	var res *types.StreamDescriptor
	err := g.record(ctx.Context, "read", 0, func(c context.Context) error {
		var innerErr error
		res, innerErr = g.Driver.DownloadFile(subPath, ctx)
		return innerErr
	})
	if res != nil && res.Size != nil && g.metrics != nil {
		g.metrics.RecordOperation("read_bytes", 0, *res.Size, true)
	}
	return res, err
}

func (g *Guarded) UploadFile(subPath string, body io.Reader, ctx types.OpContext) (*types.UploadResult, error) {
	var res *types.UploadResult
	err := g.record(ctx.Context, "write", 0, func(c context.Context) error {
		var innerErr error
		res, innerErr = g.Driver.UploadFile(subPath, body, ctx)
		return innerErr
	})
	return res, err
}

func (g *Guarded) CreateDirectory(subPath string, ctx types.OpContext) error {
	return g.record(ctx.Context, "mkdir", 0, func(c context.Context) error {
		return g.Driver.CreateDirectory(subPath, ctx)
	})
}

func (g *Guarded) Remove(subPath string, ctx types.OpContext) error {
	return g.record(ctx.Context, "delete", 0, func(c context.Context) error {
		return g.Driver.Remove(subPath, ctx)
	})
}

func (g *Guarded) Exists(subPath string, ctx types.OpContext) (bool, error) {
	var res bool
	err := g.record(ctx.Context, "exists", 0, func(c context.Context) error {
		var innerErr error
		res, innerErr = g.Driver.Exists(subPath, ctx)
		return innerErr
	})
	return res, err
}

func (g *Guarded) Stat(subPath string, ctx types.OpContext) (*types.FileInfo, error) {
	var res *types.FileInfo
	err := g.record(ctx.Context, "getattr", 0, func(c context.Context) error {
		var innerErr error
		res, innerErr = g.Driver.Stat(subPath, ctx)
		return innerErr
	})
	return res, err
}

func (g *Guarded) RenameItem(oldSubPath, newSubPath string, ctx types.OpContext) error {
	return g.record(ctx.Context, "rename", 0, func(c context.Context) error {
		return g.Driver.RenameItem(oldSubPath, newSubPath, ctx)
	})
}

func (g *Guarded) CopyItem(srcSubPath, dstSubPath string, ctx types.OpContext) (*types.CopyResult, error) {
	var res *types.CopyResult
	err := g.record(ctx.Context, "copy", 0, func(c context.Context) error {
		var innerErr error
		res, innerErr = g.Driver.CopyItem(srcSubPath, dstSubPath, ctx)
		return innerErr
	})
	return res, err
}

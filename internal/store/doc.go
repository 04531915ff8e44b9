// Package store is the gateway's persistence layer.
//
// One typed repository backs each §3 entity (StorageConfig, Mount,
// UploadSession/UploadPart, VfsNode, Task, FsIndexEntry/State/Dirty,
// UsageSnapshot), all wired off a single *sql.DB by Open, in the
// repository-per-entity shape storj's satellitedb factory uses. The
// default driver is modernc.org/sqlite (cgo-free); github.com/lib/pq backs
// Postgres deployments. Every repository method takes a context.Context
// and returns a *pkg/errors.CloudPasteError classified per §7 so callers
// never need to distinguish "row missing" from "driver unreachable" by
// hand.
package store

package cache

import (
	"fmt"
	"hash/fnv"
	"time"
)

// Scope identifies which cache family an Invalidation targets.
type Scope string

const (
	ScopeListing   Scope = "listing"
	ScopeSignedURL Scope = "signed_url"
	ScopeSearch    Scope = "search"
	ScopeAll       Scope = "all"
)

// Invalidation is the message posted after any write through the core.
// MountID and StorageConfigID are optional narrowing filters; when both are
// empty the whole scope (or all scopes, for ScopeAll) is dropped.
type Invalidation struct {
	Scope           Scope
	MountID         string
	StorageConfigID string
}

// Bus owns the three caches described in §4.9 and applies one
// Invalidation to all of them synchronously.
type Bus struct {
	Listings   *LRUCache
	SignedURLs *LRUCache
	Search     *LRUCache
}

// NewBus constructs the three caches with the durations SPEC_FULL.md's
// ProxyConfig/SearchConfig name as defaults.
func NewBus(listingTTL, signedURLTTL, searchTTL time.Duration) *Bus {
	return &Bus{
		Listings:   NewLRUCache(Config{MaxEntries: 20000, DefaultTTL: listingTTL}),
		SignedURLs: NewLRUCache(Config{MaxEntries: 20000, DefaultTTL: signedURLTTL}),
		Search:     NewLRUCache(Config{MaxEntries: 5000, DefaultTTL: searchTTL}),
	}
}

// Close stops every cache's background sweeper.
func (b *Bus) Close() {
	b.Listings.Close()
	b.SignedURLs.Close()
	b.Search.Close()
}

// Publish drops every cache entry matching inv. A mount-scoped
// invalidation drops by mount prefix; an empty MountID/StorageConfigID
// drops the entire named scope.
func (b *Bus) Publish(inv Invalidation) {
	switch inv.Scope {
	case ScopeListing:
		b.invalidate(b.Listings, inv)
	case ScopeSignedURL:
		b.invalidate(b.SignedURLs, inv)
	case ScopeSearch:
		b.invalidate(b.Search, inv)
	case ScopeAll:
		b.invalidate(b.Listings, inv)
		b.invalidate(b.SignedURLs, inv)
		b.invalidate(b.Search, inv)
	}
}

func (b *Bus) invalidate(c *LRUCache, inv Invalidation) {
	switch {
	case inv.MountID != "":
		c.DeletePrefix(MountPrefix(inv.MountID))
	case inv.StorageConfigID != "":
		c.DeletePrefix(StorageConfigPrefix(inv.StorageConfigID))
	default:
		c.DeletePrefix("")
	}
}

// ListingKey builds the directory-listing cache key per §4.9.
func ListingKey(mountID, subPath, principalScope string) string {
	return fmt.Sprintf("mount:%s:dir:%s:scope:%s", mountID, subPath, principalScope)
}

// SignedURLKey builds the signed-URL cache key per §4.9.
func SignedURLKey(mountID, subPath, principalScope string, forceDownload bool) string {
	return fmt.Sprintf("mount:%s:url:%s:scope:%s:dl:%v", mountID, subPath, principalScope, forceDownload)
}

// SearchKey builds the search-state cache key for one mount.
func SearchKey(mountID string) string {
	return fmt.Sprintf("mount:%s:search", mountID)
}

// MountPrefix is the key prefix shared by every cache entry for one mount.
func MountPrefix(mountID string) string {
	return fmt.Sprintf("mount:%s:", mountID)
}

// StorageConfigPrefix narrows invalidation to entries tagged with a
// storage config id (used when a back-end's credentials or quota change).
func StorageConfigPrefix(storageConfigID string) string {
	return fmt.Sprintf("storage:%s:", storageConfigID)
}

// DirListingItem is the minimal shape hashed into a listing's weak ETag.
type DirListingItem struct {
	Path     string
	IsDir    bool
	Size     int64
	Modified int64 // unix seconds
	ETag     string
}

// WeakListingETag computes `(mountId, dirPath, itemCount, FNV-1a hash of
// per-item fields)` per §4.9, returned as a quoted weak ETag.
func WeakListingETag(mountID, dirPath string, items []DirListingItem) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s:%s:%d", mountID, dirPath, len(items))
	for _, it := range items {
		fmt.Fprintf(h, "|%s:%v:%d:%d:%s", it.Path, it.IsDir, it.Size, it.Modified, it.ETag)
	}
	return fmt.Sprintf(`W/"%x"`, h.Sum64())
}

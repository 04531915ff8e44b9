// Package cache implements CloudPaste's invalidation bus (spec §4.9): three
// LRU caches (directory listings, signed proxy URLs, search index state)
// plus a Bus that fans a single invalidation message out to all three so a
// write anywhere through the core immediately stops serving stale reads.
//
// Directory listing keys combine mount, sub-path and principal scope so
// permission-scoped listings never bleed across principals. Signed URL
// entries additionally key on forceDownload and carry a TTL bounded by the
// signature's own expiry. Listing entries carry a weak ETag computed from
// the directory's item count and an FNV-1a hash over each item's
// {path,isDir,size,modified,etag} so clients can revalidate with
// If-None-Match.
package cache

package cache

import (
	"testing"
	"time"
)

func TestBus_PublishMountScoped(t *testing.T) {
	b := NewBus(time.Minute, time.Minute, time.Minute)
	defer b.Close()

	b.Listings.Put(ListingKey("m1", "/docs", "admin"), []string{"a"}, time.Minute)
	b.Listings.Put(ListingKey("m2", "/docs", "admin"), []string{"b"}, time.Minute)

	b.Publish(Invalidation{Scope: ScopeListing, MountID: "m1"})

	if _, ok := b.Listings.Get(ListingKey("m1", "/docs", "admin")); ok {
		t.Error("m1 listing should be invalidated")
	}
	if _, ok := b.Listings.Get(ListingKey("m2", "/docs", "admin")); !ok {
		t.Error("m2 listing should survive")
	}
}

func TestBus_PublishAllScopes(t *testing.T) {
	b := NewBus(time.Minute, time.Minute, time.Minute)
	defer b.Close()

	b.Listings.Put(ListingKey("m1", "/", "admin"), 1, time.Minute)
	b.SignedURLs.Put(SignedURLKey("m1", "/f", "admin", false), "url", time.Minute)
	b.Search.Put(SearchKey("m1"), "state", time.Minute)

	b.Publish(Invalidation{Scope: ScopeAll, MountID: "m1"})

	if _, ok := b.Listings.Get(ListingKey("m1", "/", "admin")); ok {
		t.Error("listing should be gone")
	}
	if _, ok := b.SignedURLs.Get(SignedURLKey("m1", "/f", "admin", false)); ok {
		t.Error("signed url should be gone")
	}
	if _, ok := b.Search.Get(SearchKey("m1")); ok {
		t.Error("search state should be gone")
	}
}

func TestWeakListingETag_Stable(t *testing.T) {
	items := []DirListingItem{{Path: "a.txt", Size: 10, Modified: 100, ETag: "e1"}}
	e1 := WeakListingETag("m1", "/", items)
	e2 := WeakListingETag("m1", "/", items)
	if e1 != e2 {
		t.Errorf("expected stable etag, got %s vs %s", e1, e2)
	}

	items[0].Size = 11
	e3 := WeakListingETag("m1", "/", items)
	if e3 == e1 {
		t.Error("etag should change when item contents change")
	}
}

// Package search implements the derived, eventually consistent search
// index (§4.7): the query interface over FsIndexEntry rows, the dirty-queue
// reconciliation that keeps it current, and the admin rebuild/clear
// controls.
package search

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/cloudpaste/cloudpaste/internal/store"
	"github.com/cloudpaste/cloudpaste/pkg/errors"
	"github.com/cloudpaste/cloudpaste/pkg/types"
)

// Scope selects which subset of the index a query runs over.
type Scope string

const (
	ScopeGlobal    Scope = "global"
	ScopeMount     Scope = "mount"
	ScopeDirectory Scope = "directory"
)

const (
	minQueryLen = 3
	maxLimit    = 200
)

// Query is one search request (§4.7).
type Query struct {
	Text       string
	Scope      Scope
	MountID    string
	PathPrefix string
	Limit      int
	Cursor     string
}

// Validate enforces the query-length floor and the scope-specific required
// fields, failing VALIDATION per §4.7.
func (q *Query) Validate() error {
	if len(q.Text) < minQueryLen {
		return errors.Validation("search", fmt.Sprintf("query must be at least %d characters", minQueryLen))
	}
	switch q.Scope {
	case ScopeGlobal:
	case ScopeMount:
		if q.MountID == "" {
			return errors.Validation("search", "scope \"mount\" requires mountId")
		}
	case ScopeDirectory:
		if q.PathPrefix == "" {
			return errors.Validation("search", "scope \"directory\" requires pathPrefix")
		}
	default:
		return errors.Validation("search", "scope must be one of global, mount, directory")
	}
	if q.Limit <= 0 {
		q.Limit = maxLimit
	}
	if q.Limit > maxLimit {
		return errors.Validation("search", fmt.Sprintf("limit must be <= %d", maxLimit))
	}
	return nil
}

// Page is one page of search results plus the cursor to resume from.
type Page struct {
	Entries    []types.FsIndexEntry
	NextCursor string
}

// cursorPayload is the JSON shape carried, base64url-encoded, inside an
// opaque page cursor. Digest binds the cursor to the filters it was issued
// under so a caller can't resume one query's position against another's
// (§4.7 "cursors are opaque base64url-JSON carrying the tuple and the
// filter digest for consistency").
type cursorPayload struct {
	ModifiedMs int64  `json:"m"`
	FsPath     string `json:"p"`
	MountID    string `json:"i"`
	Digest     string `json:"d"`
}

func filterDigest(q Query) string {
	sum := sha256.Sum256([]byte(q.Text + "|" + string(q.Scope) + "|" + q.MountID + "|" + q.PathPrefix))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func encodeCursor(q Query, last types.FsIndexEntry) string {
	payload := cursorPayload{
		ModifiedMs: last.ModifiedMs,
		FsPath:     last.FsPath,
		MountID:    last.MountID,
		Digest:     filterDigest(q),
	}
	b, _ := json.Marshal(payload)
	return base64.RawURLEncoding.EncodeToString(b)
}

func decodeCursor(q Query, encoded string) (*store.SearchCursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errors.Validation("search", "malformed cursor")
	}
	var payload cursorPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, errors.Validation("search", "malformed cursor")
	}
	if payload.Digest != filterDigest(q) {
		return nil, errors.Validation("search", "cursor does not match the request's filters")
	}
	return &store.SearchCursor{ModifiedMs: payload.ModifiedMs, FsPath: payload.FsPath, MountID: payload.MountID}, nil
}

// Service answers Query requests and drives the reconciliation/rebuild
// lifecycle over one store.DB.
type Service struct {
	db *store.DB
}

// New builds a Service over db.
func New(db *store.DB) *Service {
	return &Service{db: db}
}

// Search validates q and runs one page against the index.
func (s *Service) Search(ctx context.Context, q Query) (*Page, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	var cursor *store.SearchCursor
	if q.Cursor != "" {
		c, err := decodeCursor(q, q.Cursor)
		if err != nil {
			return nil, err
		}
		cursor = c
	}

	mountID := ""
	pathPrefix := ""
	switch q.Scope {
	case ScopeMount:
		mountID = q.MountID
	case ScopeDirectory:
		mountID = q.MountID
		pathPrefix = q.PathPrefix
	}

	entries, err := s.db.SearchIndex.SearchPage(ctx, mountID, pathPrefix, q.Text, cursor, q.Limit)
	if err != nil {
		return nil, err
	}

	page := &Page{Entries: entries}
	if len(entries) == q.Limit {
		page.NextCursor = encodeCursor(q, entries[len(entries)-1])
	}
	return page, nil
}

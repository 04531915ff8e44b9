package upload

import (
	"context"
	"strings"

	"github.com/cloudpaste/cloudpaste/pkg/errors"
	"github.com/cloudpaste/cloudpaste/pkg/types"
)

// storageFirst holds the storage types whose native model has no notion of
// an empty directory (§4.4 "storage-first drivers like Google Drive or
// HuggingFace") — the admission check auto-creates the parent instead of
// rejecting a missing one.
var storageFirst = map[types.StorageType]bool{
	types.StorageGoogleDrive: true,
	types.StorageHuggingFace: true,
}

// ValidateFileName enforces the minimum filename rules of §4.4: no path
// separators, no NUL, no leading/trailing whitespace, and never "." or "..".
func ValidateFileName(name string) error {
	if name == "" {
		return errors.Validation("upload", "file name must not be empty")
	}
	if name == "." || name == ".." {
		return errors.Validation("upload", "file name must not be \".\" or \"..\"")
	}
	if strings.ContainsAny(name, "/\\\x00") {
		return errors.Validation("upload", "file name must not contain path separators or NUL")
	}
	if strings.TrimSpace(name) != name {
		return errors.Validation("upload", "file name must not have leading or trailing whitespace")
	}
	return nil
}

// admitParent ensures the parent directory of an upload target exists,
// auto-creating it for storage-first drivers and failing NOT_FOUND for
// mount-view drivers that require an existing directory (§4.4).
func admitParent(ctx context.Context, drv types.Driver, storageType types.StorageType, parentSubPath string, opCtx types.OpContext) error {
	exists, err := drv.Exists(parentSubPath, opCtx)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if storageFirst[storageType] {
		if err := drv.CreateDirectory(parentSubPath, opCtx); err != nil && errors.Code(err) != errors.ErrCodeConflict {
			return err
		}
		return nil
	}
	return errors.NotFound("upload", "parent directory "+parentSubPath+" does not exist")
}

// targetKey joins a directory sub-path and a file name into the driver key
// the upload will land at.
func targetKey(dirSubPath, fileName string) string {
	dir := strings.TrimSuffix(dirSubPath, "/")
	if dir == "" {
		return "/" + fileName
	}
	return dir + "/" + fileName
}

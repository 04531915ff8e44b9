package onedrive

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudpaste/cloudpaste/pkg/errors"
	"github.com/cloudpaste/cloudpaste/pkg/types"
)

func TestNew_RequiresCredentials(t *testing.T) {
	_, err := New(types.StorageConfig{Type: types.StorageOneDrive})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeValidation, errors.Code(err))
}

func TestItemPath_RootAndNested(t *testing.T) {
	d := &Driver{root: "base"}
	assert.Equal(t, "/me/drive/root:/base", d.itemPath("/"))
	assert.Equal(t, "/me/drive/root:/base/a/b.txt", d.itemPath("/a/b.txt"))
}

func TestItemPath_NoRoot(t *testing.T) {
	d := &Driver{}
	assert.Equal(t, "/me/drive/root", d.itemPath("/"))
	assert.Equal(t, "/me/drive/root:/a.txt", d.itemPath("/a.txt"))
}

func TestParentOfAndLastSegment(t *testing.T) {
	assert.Equal(t, "/", parentOf("/a.txt"))
	assert.Equal(t, "/dir", parentOf("/dir/a.txt"))
	assert.Equal(t, "a.txt", lastSegment("/dir/a.txt"))
}

func TestJoinVirtual(t *testing.T) {
	assert.Equal(t, "/a/b.txt", joinVirtual("/a", "b.txt"))
	assert.Equal(t, "/b.txt", joinVirtual("/", "b.txt"))
}

func TestGraphItemToInfo_File(t *testing.T) {
	item := graphItemToInfo("/dir", graphItem{
		Name:                 "a.txt",
		Size:                 42,
		ETag:                 `"abc"`,
		LastModifiedDateTime: time.Unix(1000, 0),
		File:                 &struct{ MimeType string `json:"mimeType"` }{MimeType: "text/plain"},
	})
	assert.Equal(t, "a.txt", item.Name)
	assert.False(t, item.IsDir)
	require.NotNil(t, item.Size)
	assert.Equal(t, int64(42), *item.Size)
	assert.Equal(t, "abc", item.ETag)
	assert.Equal(t, "text/plain", item.MimeType)
	assert.Equal(t, "/dir/a.txt", item.Path)
}

func TestGraphItemToInfo_Folder(t *testing.T) {
	item := graphItemToInfo("/", graphItem{
		Name:   "sub",
		Folder: &struct{ ChildCount int `json:"childCount"` }{ChildCount: 2},
	})
	assert.True(t, item.IsDir)
	assert.Nil(t, item.Size)
}

func TestCapabilities(t *testing.T) {
	d := &Driver{}
	assert.True(t, d.Capabilities()&types.CapReader != 0)
	assert.True(t, d.Capabilities()&types.CapDirectLink != 0)
	assert.False(t, d.Capabilities()&types.CapMultipart != 0)
}

func TestMultipartNotSupported(t *testing.T) {
	d := &Driver{}
	_, err := d.InitiateMultipart("/a", "a", 0, 0, 0, types.OpContext{})
	assert.Equal(t, errors.ErrCodeNotSupported, errors.Code(err))
}

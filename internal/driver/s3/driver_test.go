package s3

import (
	"testing"

	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudpaste/cloudpaste/pkg/errors"
	"github.com/cloudpaste/cloudpaste/pkg/types"
)

func TestNew_RequiresBucket(t *testing.T) {
	_, err := New(types.StorageConfig{Type: types.StorageS3})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeValidation, errors.Code(err))
}

func TestKey_WithAndWithoutPrefix(t *testing.T) {
	d := &Driver{bucket: "b"}
	assert.Equal(t, "a/b.txt", d.key("/a/b.txt"))

	d.prefix = "tenant1"
	assert.Equal(t, "tenant1/a/b.txt", d.key("/a/b.txt"))
	assert.Equal(t, "tenant1/", d.key("/"))
}

func TestTranslateErr_NoSuchKey(t *testing.T) {
	d := &Driver{bucket: "b"}
	err := d.translateErr("stat", "a/b.txt", &s3types.NoSuchKey{})
	assert.Equal(t, errors.ErrCodeNotFound, errors.Code(err))
}

func TestTranslateErr_NoSuchBucket(t *testing.T) {
	d := &Driver{bucket: "b"}
	err := d.translateErr("stat", "a/b.txt", &s3types.NoSuchBucket{})
	assert.Equal(t, errors.ErrCodeNotFound, errors.Code(err))
}

func TestTranslateErr_Generic(t *testing.T) {
	d := &Driver{bucket: "b"}
	err := d.translateErr("stat", "a/b.txt", assertError("boom"))
	assert.Equal(t, errors.ErrCodeDriverError, errors.Code(err))
}

func TestJoinVirtualAndLastSegment(t *testing.T) {
	assert.Equal(t, "/a/b.txt", joinVirtual("/a", "b.txt"))
	assert.Equal(t, "/b.txt", joinVirtual("/", "b.txt"))
	assert.Equal(t, "b.txt", lastSegment("/a/b.txt"))
	assert.Equal(t, "b.txt", lastSegment("/a/b.txt/"))
}

func TestCapabilities(t *testing.T) {
	d := &Driver{bucket: "b"}
	caps := d.Capabilities()
	assert.True(t, caps.Has(types.CapMultipart))
	assert.True(t, caps.Has(types.CapReader))
	assert.False(t, caps.Has(types.CapSearch))
}

type assertError string

func (e assertError) Error() string { return string(e) }

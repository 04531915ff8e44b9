package webdav

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudpaste/cloudpaste/pkg/errors"
	"github.com/cloudpaste/cloudpaste/pkg/types"
)

func TestNew_RequiresBaseURL(t *testing.T) {
	_, err := New(types.StorageConfig{Type: types.StorageWebDAV})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeValidation, errors.Code(err))
}

func TestPathEscape(t *testing.T) {
	assert.Equal(t, "/a%20b/c.txt", pathEscape("/a b/c.txt"))
}

func TestLastSegmentAndJoinVirtual(t *testing.T) {
	assert.Equal(t, "c.txt", lastSegment("/a/b/c.txt"))
	assert.Equal(t, "/a/c.txt", joinVirtual("/a", "c.txt"))
	assert.Equal(t, "/c.txt", joinVirtual("/", "c.txt"))
}

func TestUploadAndHealthCheck_AgainstStub(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPut:
			w.WriteHeader(http.StatusCreated)
		case "PROPFIND":
			w.WriteHeader(http.StatusMultiStatus)
			w.Write([]byte(`<?xml version="1.0"?><multistatus xmlns="DAV:"></multistatus>`))
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	defer srv.Close()

	drv, err := New(types.StorageConfig{Type: types.StorageWebDAV, Extra: map[string]string{"base_url": srv.URL}})
	require.NoError(t, err)

	_, err = drv.UploadFile("/a.txt", strings.NewReader("hello"), types.OpContext{})
	require.NoError(t, err)

	require.NoError(t, drv.HealthCheck(nil))
}

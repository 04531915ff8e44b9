package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudpaste/cloudpaste/internal/health"
	"github.com/cloudpaste/cloudpaste/pkg/types"
)

func TestServer_HealthReflectsCheckerStatus(t *testing.T) {
	checker, err := health.NewChecker(nil)
	require.NoError(t, err)
	require.NoError(t, checker.RegisterCheck("db", "ping", health.CategoryCore, health.PriorityCritical, health.PingCheck()))
	_, err = checker.RunAllChecks(context.Background())
	require.NoError(t, err)

	s := NewServer(DefaultConfig(), checker, nil, "test")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, string(health.StatusHealthy), body["status"])
}

func TestServer_ReadinessWithoutCheckerIsReady(t *testing.T) {
	s := NewServer(DefaultConfig(), nil, nil, "test")

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	rr := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestServer_InfoListsProxyPrefix(t *testing.T) {
	s := NewServer(DefaultConfig(), nil, nil, "1.2.3")

	req := httptest.NewRequest(http.MethodGet, "/info", nil)
	rr := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rr, req)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "1.2.3", body["version"])
	endpoints, ok := body["endpoints"].([]interface{})
	require.True(t, ok)
	assert.Contains(t, endpoints, "/p/*")
}

func TestPrincipalFromRequest_DefaultsToAnonWithoutHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/p/anything", nil)
	p := principalFromRequest(req)
	assert.Equal(t, types.PrincipalAnon, p.Type)
}

func TestPrincipalFromRequest_HonoursHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/p/anything", nil)
	req.Header.Set("X-Principal-Type", "API_KEY")
	req.Header.Set("X-Principal-Id", "key-1")
	req.Header.Set("X-Principal-Permissions", "read,write")
	req.Header.Set("X-Principal-Base-Path", "/tenant-a")

	p := principalFromRequest(req)
	assert.Equal(t, types.PrincipalAPIKey, p.Type)
	assert.Equal(t, "key-1", p.ID)
	assert.Equal(t, []string{"read", "write"}, p.Permissions)
	assert.Equal(t, "/tenant-a", p.AllowedBasePath)
}

func TestPrincipalFromRequest_RejectsUnknownType(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/p/anything", nil)
	req.Header.Set("X-Principal-Type", "ROOT")
	p := principalFromRequest(req)
	assert.Equal(t, types.PrincipalAnon, p.Type)
}

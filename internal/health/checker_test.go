package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecker_RunAllChecksAggregatesOverallStatus(t *testing.T) {
	c, err := NewChecker(&Config{Enabled: true, Timeout: time.Second})
	require.NoError(t, err)

	require.NoError(t, c.RegisterCheck("db", "database ping", CategoryCore, PriorityCritical, PingCheck()))
	require.NoError(t, c.RegisterCheck("s3-mount", "storage driver health", CategoryStorage, PriorityHigh,
		StorageCheck(func(ctx context.Context) error { return nil })))

	results, err := c.RunAllChecks(context.Background())
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Equal(t, StatusHealthy, c.GetStats().OverallStatus)
	assert.True(t, c.IsHealthy())
}

func TestChecker_CriticalFailureMarksOverallUnhealthy(t *testing.T) {
	c, err := NewChecker(&Config{Enabled: true, Timeout: time.Second})
	require.NoError(t, err)

	require.NoError(t, c.RegisterCheck("db", "database ping", CategoryCore, PriorityCritical,
		StorageCheck(func(ctx context.Context) error { return errors.New("connection refused") })))

	_, err = c.RunAllChecks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusUnhealthy, c.GetStats().OverallStatus)
	assert.False(t, c.IsHealthy())
}

func TestChecker_NonCriticalFailureMarksDegraded(t *testing.T) {
	c, err := NewChecker(&Config{Enabled: true, Timeout: time.Second})
	require.NoError(t, err)

	require.NoError(t, c.RegisterCheck("db", "database ping", CategoryCore, PriorityCritical, PingCheck()))
	require.NoError(t, c.RegisterCheck("gdrive-mount", "storage driver health", CategoryStorage, PriorityMedium,
		StorageCheck(func(ctx context.Context) error { return errors.New("rate limited") })))

	_, err = c.RunAllChecks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusDegraded, c.GetStats().OverallStatus)
}

func TestChecker_RegisterCheckRejectsDuplicateName(t *testing.T) {
	c, err := NewChecker(nil)
	require.NoError(t, err)
	require.NoError(t, c.RegisterCheck("db", "database ping", CategoryCore, PriorityCritical, PingCheck()))
	assert.Error(t, c.RegisterCheck("db", "again", CategoryCore, PriorityCritical, PingCheck()))
}

func TestChecker_DisableCheckExcludesItFromResults(t *testing.T) {
	c, err := NewChecker(&Config{Enabled: true, Timeout: time.Second})
	require.NoError(t, err)
	require.NoError(t, c.RegisterCheck("db", "database ping", CategoryCore, PriorityCritical, PingCheck()))
	require.NoError(t, c.DisableCheck("db"))

	results, err := c.RunAllChecks(context.Background())
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestChecker_NewServiceStatusReflectsLatestRun(t *testing.T) {
	c, err := NewChecker(&Config{Enabled: true, Timeout: time.Second})
	require.NoError(t, err)
	require.NoError(t, c.RegisterCheck("db", "database ping", CategoryCore, PriorityCritical, PingCheck()))
	_, err = c.RunAllChecks(context.Background())
	require.NoError(t, err)

	status := c.NewServiceStatus("0.1.0", map[string]interface{}{"mounts": 3})
	assert.Equal(t, StatusHealthy, status.Status)
	assert.Equal(t, "0.1.0", status.Version)
	assert.Contains(t, status.Checks, "db")
}

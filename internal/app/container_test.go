package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queuecast/queuecast/internal/shared/infrastructure/eventbus"
	"github.com/queuecast/queuecast/pkg/config"
	"github.com/queuecast/queuecast/pkg/observability"
)

func TestNewContainer_SQLiteMode(t *testing.T) {
	cfg := &config.Config{
		AppEnv:      "development",
		DatabaseURL: ":memory:",
	}

	c, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer c.Close()

	assert.NotNil(t, c.Subscriptions)
	assert.NotNil(t, c.Payments)
	assert.NotNil(t, c.Plans)
	assert.NotNil(t, c.Notifications)
	assert.NotNil(t, c.Verifier)
	assert.NotNil(t, c.Runner)
	assert.NotNil(t, c.Reminders)
	assert.NotNil(t, c.HostedEvents)
	assert.NotNil(t, c.StartTrial)

	// No broker configured: events fall to the noop publisher.
	_, isNoop := c.Publisher.(*eventbus.NoopPublisher)
	assert.True(t, isNoop)

	// No redis configured: the worker runs unlocked.
	assert.Nil(t, c.JobLock)

	health := c.Health.GetOverallHealth(context.Background())
	assert.Equal(t, observability.HealthStatusHealthy, health.Status)
	assert.Contains(t, health.Checks, "database")
}

func TestNewContainer_MigrationsAreIdempotent(t *testing.T) {
	cfg := &config.Config{DatabaseURL: ":memory:"}

	c, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	c.Close()

	c2, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	c2.Close()
}

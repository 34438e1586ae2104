//go:build integration

package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	mongoTC "github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/storefront/storefront/internal/config"
	"github.com/storefront/storefront/pkg/recovery"
)

func TestManagerAgainstMongoDB(t *testing.T) {
	ctx := context.Background()

	container, err := mongoTC.Run(ctx, "mongo:7")
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	m, err := New(config.DatabaseConfig{
		URI:                    uri,
		Name:                   "storefront_test",
		ConnectTimeout:         5 * time.Second,
		ServerSelectionTimeout: 5 * time.Second,
	}, recovery.Config{HealthCheckInterval: 500 * time.Millisecond})
	require.NoError(t, err)
	defer m.Close(ctx)

	require.NoError(t, m.Connect(ctx))
	assert.Equal(t, recovery.StateConnected, m.State())

	report := m.CheckHealth(ctx)
	assert.True(t, report.Healthy(), report.Detail)

	orders, err := m.Collection("orders")
	require.NoError(t, err)
	_, err = orders.InsertOne(ctx, bson.M{"_id": "order-1", "total": 42})
	require.NoError(t, err)

	var got bson.M
	require.NoError(t, orders.FindOne(ctx, bson.M{"_id": "order-1"}).Decode(&got))
	assert.EqualValues(t, 42, got["total"])

	stats := m.Stats()
	assert.True(t, stats.Connected)
	assert.Zero(t, stats.Retry.CurrentAttempt)
}

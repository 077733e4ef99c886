package cache

import (
	"context"
	"testing"
	"time"

	"ecomdash/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return mr, client
}

func testRange() models.DateRange {
	return models.DateRange{
		Start: time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2018, 3, 31, 0, 0, 0, 0, time.UTC),
	}
}

func TestReportCacheRoundTrip(t *testing.T) {
	_, client := setupTestRedis(t)
	c := New(client, "ecomdash", time.Minute)
	ctx := context.Background()

	got, ok, err := c.Get(ctx, "v1", testRange())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, got)

	data := &models.DashboardData{
		Rows:       3,
		TotalSpend: decimal.RequireFromString("60.25"),
		Cities:     []models.KeyCount{{Key: "sao paulo", Count: 2}},
		Reviews:    models.ReviewSummary{Counts: []models.ScoreCount{{Score: 5, Count: 3}}, MostCommon: 5},
	}
	require.NoError(t, c.Set(ctx, "v1", testRange(), data))

	got, ok, err = c.Get(ctx, "v1", testRange())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, got.Rows)
	assert.True(t, got.TotalSpend.Equal(data.TotalSpend))
	assert.Equal(t, data.Cities, got.Cities)
	assert.Equal(t, 5, got.Reviews.MostCommon)
}

func TestReportCacheExpiry(t *testing.T) {
	mr, client := setupTestRedis(t)
	c := New(client, "ecomdash", 30*time.Second)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "v1", testRange(), &models.DashboardData{Rows: 1}))
	mr.FastForward(31 * time.Second)

	_, ok, err := c.Get(ctx, "v1", testRange())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReportCacheKeyedByPrefixAndRange(t *testing.T) {
	mr, client := setupTestRedis(t)
	ctx := context.Background()

	c := New(client, "ecomdash", 0)

	require.NoError(t, c.Set(ctx, "v1", testRange(), &models.DashboardData{Rows: 1}))
	assert.True(t, mr.Exists("ecomdash:v1:dashboard:2018-01-01:2018-03-31"))

	_, ok, err := c.Get(ctx, "v2", testRange())
	require.NoError(t, err)
	assert.False(t, ok)

	other := testRange()
	other.End = other.End.AddDate(0, 0, 1)
	_, ok, err = c.Get(ctx, "v1", other)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReportCacheCorruptEntry(t *testing.T) {
	mr, client := setupTestRedis(t)
	require.NoError(t, mr.Set("ecomdash:v1:dashboard:2018-01-01:2018-03-31", "not json"))

	_, _, err := New(client, "ecomdash", 0).Get(context.Background(), "v1", testRange())
	assert.ErrorContains(t, err, "cache decode")
}

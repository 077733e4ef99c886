package engine

import (
	"testing"
	"time"

	"ecomdash/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBounds(t *testing.T) {
	_, _, ok := (*ColumnStore)(nil).Bounds()
	assert.False(t, ok)

	store := FromRecords([]models.OrderRecord{
		order("A", "c1", day(2018, 5, 2).Add(9*time.Hour), 1),
		order("B", "c2", day(2017, 1, 5).Add(30*time.Minute), 1),
		order("C", "c3", day(2018, 8, 29).Add(23*time.Hour), 1),
	})
	lo, hi, ok := store.Bounds()
	require.True(t, ok)
	assert.Equal(t, day(2017, 1, 5).Add(30*time.Minute), lo)
	assert.Equal(t, day(2018, 8, 29).Add(23*time.Hour), hi)
}

func TestFilterEndCoversWholeDay(t *testing.T) {
	store := FromRecords([]models.OrderRecord{
		order("A", "c1", day(2018, 1, 1), 1),
		order("B", "c2", day(2018, 1, 31).Add(23*time.Hour+59*time.Minute), 2),
		order("C", "c3", day(2018, 2, 1), 3),
		order("D", "c4", day(2017, 12, 31).Add(23*time.Hour), 4),
	})

	out := store.Filter(day(2018, 1, 1), day(2018, 1, 31))
	require.Equal(t, 2, out.Len())
	assert.Equal(t, []float64{1, 2}, out.Payments)
	assert.Equal(t, "B", out.OrderDict[out.OrderIDs[1]])

	// Dictionaries are shared with the parent.
	assert.Equal(t, len(store.OrderDict), len(out.OrderDict))

	single := store.Filter(day(2018, 2, 1), day(2018, 2, 1))
	assert.Equal(t, 1, single.Len())

	assert.Equal(t, 0, store.Filter(day(2019, 1, 1), day(2019, 12, 31)).Len())
	assert.Equal(t, 4, store.Len())
}

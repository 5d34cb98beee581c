package analytics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dbpkg "pulse/internal/db"
)

func TestLogErrorRecordsRowAndMirrorEvent(t *testing.T) {
	gdb := openTestDB(t)
	tracker := NewTracker(gdb)
	et := NewErrorTracker(gdb, tracker)

	row, err := et.LogError(context.Background(), LogErrorInput{
		Level:         "ERROR",
		Message:       "database timeout",
		ExceptionType: "TimeoutError",
		UserID:        "user-1",
		Context:       map[string]any{"query": "select 1"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, row.ID)
	assert.Equal(t, dbpkg.LevelError, row.Level)
	assert.False(t, row.Resolved)

	var event dbpkg.AnalyticsEvent
	require.NoError(t, gdb.Where("event_type = ?", dbpkg.EventTypeError).First(&event).Error)
	assert.Equal(t, "ERROR: TimeoutError", event.EventName)
	assert.Equal(t, "user-1", event.UserID)
}

func TestLogErrorValidation(t *testing.T) {
	gdb := openTestDB(t)
	et := NewErrorTracker(gdb, NewTracker(gdb))

	_, err := et.LogError(context.Background(), LogErrorInput{Level: "fatal", Message: "x"})
	assert.True(t, errors.Is(err, ErrValidation))

	_, err = et.LogError(context.Background(), LogErrorInput{Level: "error"})
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestResolveErrorIsOneWay(t *testing.T) {
	gdb := openTestDB(t)
	et := NewErrorTracker(gdb, NewTracker(gdb))
	ctx := context.Background()

	row, err := et.LogError(ctx, LogErrorInput{Level: "warning", Message: "disk almost full"})
	require.NoError(t, err)

	require.NoError(t, et.ResolveError(ctx, row.ID, "ops-1"))

	resolved, err := et.GetError(ctx, row.ID)
	require.NoError(t, err)
	assert.True(t, resolved.Resolved)
	assert.Equal(t, "ops-1", resolved.ResolvedBy)
	require.NotNil(t, resolved.ResolvedAt)
	firstResolvedAt := *resolved.ResolvedAt

	// Second resolve is rejected and the original record stands.
	err = et.ResolveError(ctx, row.ID, "ops-2")
	assert.True(t, errors.Is(err, ErrConflict))

	again, err := et.GetError(ctx, row.ID)
	require.NoError(t, err)
	assert.Equal(t, "ops-1", again.ResolvedBy)
	assert.True(t, firstResolvedAt.Equal(*again.ResolvedAt))
}

func TestResolveErrorNotFound(t *testing.T) {
	gdb := openTestDB(t)
	et := NewErrorTracker(gdb, NewTracker(gdb))

	err := et.ResolveError(context.Background(), "00000000-0000-0000-0000-000000000000", "ops-1")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStatsTrendIsZeroFilled(t *testing.T) {
	gdb := openTestDB(t)
	et := NewErrorTracker(gdb, NewTracker(gdb))
	ctx := context.Background()

	start := day(2024, 1, 1)
	// Errors only on day 3 of a 7-day range.
	for i := 0; i < 2; i++ {
		_, err := et.LogError(ctx, LogErrorInput{
			Level:      "error",
			Message:    "boom",
			OccurredAt: start.AddDate(0, 0, 2).Add(time.Duration(i) * time.Hour),
		})
		require.NoError(t, err)
	}

	stats, err := et.Stats(ctx, start, start.AddDate(0, 0, 6))
	require.NoError(t, err)

	require.Len(t, stats.Trend, 7)
	for i, point := range stats.Trend {
		assert.Equal(t, start.AddDate(0, 0, i).Format("2006-01-02"), point.Date)
		if i == 2 {
			assert.EqualValues(t, 2, point.Count)
		} else {
			assert.EqualValues(t, 0, point.Count)
		}
	}
	assert.EqualValues(t, 2, stats.TotalErrors)
	assert.EqualValues(t, 2, stats.UnresolvedErrors)
	assert.EqualValues(t, 2, stats.CountsByType["Unknown"])
}

func TestStatsResolvedRatio(t *testing.T) {
	gdb := openTestDB(t)
	et := NewErrorTracker(gdb, NewTracker(gdb))
	ctx := context.Background()
	at := day(2024, 5, 5).Add(6 * time.Hour)

	a, err := et.LogError(ctx, LogErrorInput{Level: "error", Message: "one", OccurredAt: at})
	require.NoError(t, err)
	_, err = et.LogError(ctx, LogErrorInput{Level: "critical", Message: "two", OccurredAt: at})
	require.NoError(t, err)
	require.NoError(t, et.ResolveError(ctx, a.ID, "ops-1"))

	stats, err := et.Stats(ctx, at, at)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.ResolvedErrors)
	assert.InDelta(t, 0.5, stats.ResolvedRatio, 0.001)
	assert.EqualValues(t, 1, stats.CountsByLevel["error"])
	assert.EqualValues(t, 1, stats.CountsByLevel["critical"])

	_, err = et.Stats(ctx, at.AddDate(0, 0, 3), at)
	assert.True(t, errors.Is(err, ErrValidation))
}

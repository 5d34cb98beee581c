package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dbpkg "pulse/internal/db"
)

func TestDashboardStats(t *testing.T) {
	gdb := openTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	seedEvent(t, gdb, dbpkg.EventTypeUserAction, dbpkg.EventLogin, "user-1", now, nil)
	seedEvent(t, gdb, dbpkg.EventTypeUserAction, dbpkg.EventPageView, "user-2", now, nil)
	seedEvent(t, gdb, dbpkg.EventTypeUserAction, dbpkg.EventLogin, "user-1", now.AddDate(0, 0, -2), nil)

	et := NewErrorTracker(gdb, NewTracker(gdb))
	_, err := et.LogError(ctx, LogErrorInput{Level: "critical", Message: "down"})
	require.NoError(t, err)
	fixed, err := et.LogError(ctx, LogErrorInput{Level: "warning", Message: "slow"})
	require.NoError(t, err)
	require.NoError(t, et.ResolveError(ctx, fixed.ID, "ops-1"))

	require.NoError(t, gdb.Create(&dbpkg.SystemMetrics{
		Date:              truncateDay(now.AddDate(0, 0, -1)),
		TotalMessages:     12,
		TotalStorageBytes: 4096,
		AvgResponseMs:     42.5,
		ErrorRate:         1.25,
		UptimePct:         99.5,
	}).Error)

	stats, err := NewDashboard(gdb).Stats(ctx)
	require.NoError(t, err)

	assert.EqualValues(t, 2, stats.TotalUsers)
	assert.EqualValues(t, 2, stats.ActiveUsersToday)
	// user-1 was first seen two days ago; only user-2 is new today.
	assert.EqualValues(t, 1, stats.NewUsersToday)
	// Two user events today plus two mirrored error events.
	assert.EqualValues(t, 4, stats.EventsToday)
	assert.EqualValues(t, 1, stats.UnresolvedErrors)
	assert.EqualValues(t, 1, stats.ErrorsByLevel["critical"])
	assert.EqualValues(t, 12, stats.TotalMessages)
	assert.EqualValues(t, 4096, stats.TotalStorageBytes)
	assert.InDelta(t, 42.5, stats.AvgResponseMs, 0.001)
	assert.InDelta(t, 1.25, stats.ErrorRate, 0.001)
	assert.InDelta(t, 99.5, stats.UptimePct, 0.001)
}

func TestDashboardStatsEmptyStore(t *testing.T) {
	gdb := openTestDB(t)

	stats, err := NewDashboard(gdb).Stats(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 0, stats.TotalUsers)
	assert.EqualValues(t, 0, stats.EventsToday)
	assert.EqualValues(t, 0, stats.UnresolvedErrors)
	assert.Empty(t, stats.MetricsDate)
	assert.InDelta(t, 100.0, stats.UptimePct, 0.001)
}

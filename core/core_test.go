package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"pulse/internal/analytics"
	dbpkg "pulse/internal/db"
	"pulse/internal/report"
	"pulse/internal/storage"
)

func newTestCore(t *testing.T) *Core {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, dbpkg.Migrate(gdb))

	blobs, err := storage.NewFileSystemStore(t.TempDir())
	require.NoError(t, err)
	return New(gdb, blobs)
}

// Track a day of events, aggregate it, then pull the rollup back out
// through a report artifact.
func TestTrackAggregateReportFlow(t *testing.T) {
	c := newTestCore(t)
	ctx := context.Background()
	day := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)

	c.Start(ctx, 2)
	defer c.Shutdown()

	for i := 0; i < 3; i++ {
		_, err := c.TrackEvent(ctx, analytics.TrackEventInput{
			UserID:     "user-1",
			EventType:  dbpkg.EventTypeUserAction,
			EventName:  dbpkg.EventLogin,
			OccurredAt: day.Add(time.Duration(i) * time.Hour),
		})
		require.NoError(t, err)
	}
	_, err := c.TrackEvent(ctx, analytics.TrackEventInput{
		UserID:     "user-2",
		EventType:  dbpkg.EventTypeUserAction,
		EventName:  dbpkg.EventMessage,
		OccurredAt: day.Add(5 * time.Hour),
	})
	require.NoError(t, err)

	written, err := c.Aggregate(ctx, day, analytics.ScopeAll, false)
	require.NoError(t, err)
	assert.Greater(t, written, int64(0))

	row, err := c.CreateReport(ctx, report.CreateReportInput{
		ReportType:  dbpkg.ReportTypeUserActivity,
		Format:      dbpkg.ReportFormatJSON,
		RequestedBy: "admin-1",
		StartDate:   day,
		EndDate:     day,
	})
	require.NoError(t, err)

	deadline := time.Now().Add(5 * time.Second)
	var done *dbpkg.Report
	for {
		done, err = c.GetReport(ctx, row.ID)
		require.NoError(t, err)
		if done.Terminal() {
			break
		}
		require.False(t, time.Now().After(deadline), "report stuck in %s", done.Status)
		time.Sleep(10 * time.Millisecond)
	}
	require.Equal(t, dbpkg.ReportStatusCompleted, done.Status)

	rc, contentType, err := c.DownloadReport(ctx, row.ID)
	require.NoError(t, err)
	defer rc.Close()
	assert.Equal(t, "application/json", contentType)

	var records []map[string]any
	require.NoError(t, json.NewDecoder(rc).Decode(&records))
	require.Len(t, records, 2)
	assert.Equal(t, "user-1", records[0]["user_id"])
	assert.EqualValues(t, 3, records[0]["login_count"])
	assert.Equal(t, "user-2", records[1]["user_id"])
	assert.EqualValues(t, 1, records[1]["message_count"])
}

func TestErrorLifecycleThroughFacade(t *testing.T) {
	c := newTestCore(t)
	ctx := context.Background()

	logged, err := c.LogError(ctx, analytics.LogErrorInput{
		Level:         "error",
		Message:       "upload failed",
		ExceptionType: "IOError",
		UserID:        "user-1",
	})
	require.NoError(t, err)
	require.NoError(t, c.ResolveError(ctx, logged.ID, "admin-1"))

	today := time.Now().UTC()
	stats, err := c.ErrorStats(ctx, today, today)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.TotalErrors)
	assert.EqualValues(t, 1, stats.ResolvedErrors)

	dash, err := c.DashboardStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, dash.UnresolvedErrors)
}

func TestCleanupThroughFacade(t *testing.T) {
	c := newTestCore(t)
	ctx := context.Background()

	_, err := c.TrackEvent(ctx, analytics.TrackEventInput{
		EventType:  dbpkg.EventTypeSystem,
		EventName:  dbpkg.EventAPICall,
		OccurredAt: time.Now().UTC().AddDate(0, 0, -200),
	})
	require.NoError(t, err)

	policy := analytics.RetentionPolicy{EventsDays: 90, MetricsDays: 365, ErrorsDays: 180, ReportsDays: 30}
	rep, err := c.Cleanup(ctx, policy, false)
	require.NoError(t, err)
	assert.EqualValues(t, 1, rep.Events)
	assert.False(t, rep.DryRun)
}

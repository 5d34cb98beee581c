package analytics

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dbpkg "pulse/internal/db"
	"pulse/internal/storage"
)

func TestCleanupDryRunLeavesStoreUnchanged(t *testing.T) {
	gdb := openTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, age := range []int{30, 100, 200} {
		seedEvent(t, gdb, dbpkg.EventTypeSystem, "heartbeat", "", now.AddDate(0, 0, -age), nil)
	}

	cleaner := NewCleaner(gdb, nil)
	report, err := cleaner.Cleanup(ctx, RetentionPolicy{EventsDays: 90}, true)
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.EqualValues(t, 2, report.Events)
	assert.EqualValues(t, 2, report.Total())

	var n int64
	require.NoError(t, gdb.Model(&dbpkg.AnalyticsEvent{}).Count(&n).Error)
	assert.EqualValues(t, 3, n, "dry run must not delete")
}

func TestCleanupDeletesPerKind(t *testing.T) {
	gdb := openTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()
	old := now.AddDate(0, 0, -400)

	seedEvent(t, gdb, dbpkg.EventTypeSystem, "heartbeat", "", old, nil)
	seedEvent(t, gdb, dbpkg.EventTypeSystem, "heartbeat", "", now.Add(-time.Hour), nil)

	require.NoError(t, gdb.Create(&dbpkg.UserActivity{UserID: "u", Date: day(2020, 1, 1)}).Error)
	require.NoError(t, gdb.Create(&dbpkg.SystemMetrics{Date: day(2020, 1, 1)}).Error)
	require.NoError(t, gdb.Create(&dbpkg.FeatureUsage{FeatureName: "export", Date: day(2020, 1, 1)}).Error)

	cleaner := NewCleaner(gdb, nil)
	report, err := cleaner.Cleanup(ctx, RetentionPolicy{EventsDays: 300, MetricsDays: 300}, false)
	require.NoError(t, err)
	assert.EqualValues(t, 1, report.Events)
	assert.EqualValues(t, 1, report.UserActivity)
	assert.EqualValues(t, 1, report.SystemMetrics)
	assert.EqualValues(t, 1, report.FeatureUsage)

	var n int64
	require.NoError(t, gdb.Model(&dbpkg.AnalyticsEvent{}).Count(&n).Error)
	assert.EqualValues(t, 1, n, "recent event survives")
}

func TestCleanupNeverDeletesUnresolvedErrors(t *testing.T) {
	gdb := openTestDB(t)
	ctx := context.Background()
	et := NewErrorTracker(gdb, NewTracker(gdb))
	old := time.Now().UTC().AddDate(0, 0, -500)

	openErr, err := et.LogError(ctx, LogErrorInput{Level: "error", Message: "still open", OccurredAt: old})
	require.NoError(t, err)
	closedErr, err := et.LogError(ctx, LogErrorInput{Level: "error", Message: "long fixed", OccurredAt: old})
	require.NoError(t, err)
	require.NoError(t, et.ResolveError(ctx, closedErr.ID, "ops-1"))

	cleaner := NewCleaner(gdb, nil)
	report, err := cleaner.Cleanup(ctx, RetentionPolicy{ErrorsDays: 90}, false)
	require.NoError(t, err)
	assert.EqualValues(t, 1, report.Errors)

	_, err = et.GetError(ctx, openErr.ID)
	assert.NoError(t, err, "unresolved error must survive any retention window")
}

func TestCleanupExpiredReportsAndArtifacts(t *testing.T) {
	gdb := openTestDB(t)
	ctx := context.Background()

	blobs, err := storage.NewFileSystemStore(t.TempDir())
	require.NoError(t, err)
	_, err = blobs.Put(ctx, "reports/old-report.csv", strings.NewReader("a,b\n"))
	require.NoError(t, err)

	oldReport := &dbpkg.Report{
		ReportType: dbpkg.ReportTypeErrorLog,
		Format:     dbpkg.ReportFormatCSV,
		StartDate:  day(2020, 1, 1),
		EndDate:    day(2020, 1, 2),
		Status:     dbpkg.ReportStatusCompleted,
		OutputPath: "reports/old-report.csv",
	}
	require.NoError(t, gdb.Create(oldReport).Error)
	// created_at is set by GORM; age the row directly.
	require.NoError(t, gdb.Model(oldReport).Update("created_at", time.Now().UTC().AddDate(0, 0, -90)).Error)

	pending := &dbpkg.Report{
		ReportType: dbpkg.ReportTypeErrorLog,
		Format:     dbpkg.ReportFormatCSV,
		StartDate:  day(2020, 1, 1),
		EndDate:    day(2020, 1, 2),
		Status:     dbpkg.ReportStatusPending,
	}
	require.NoError(t, gdb.Create(pending).Error)
	require.NoError(t, gdb.Model(pending).Update("created_at", time.Now().UTC().AddDate(0, 0, -90)).Error)

	cleaner := NewCleaner(gdb, blobs)
	report, err := cleaner.Cleanup(ctx, RetentionPolicy{ReportsDays: 30}, false)
	require.NoError(t, err)
	assert.EqualValues(t, 1, report.Reports, "only terminal reports expire")

	_, err = blobs.Get(ctx, "reports/old-report.csv")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	var n int64
	require.NoError(t, gdb.Model(&dbpkg.Report{}).Count(&n).Error)
	assert.EqualValues(t, 1, n)
}

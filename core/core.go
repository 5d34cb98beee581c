// Package core is the boundary the platform's API layer calls into. It
// bundles event tracking, aggregation, error tracking, reporting and
// retention behind one constructor; HTTP routing, auth and response
// mapping stay on the caller's side.
package core

import (
	"context"
	"io"
	"time"

	"gorm.io/gorm"

	"pulse/internal/analytics"
	dbpkg "pulse/internal/db"
	"pulse/internal/report"
	"pulse/internal/storage"
)

// Core wires the analytics components against one database and blob
// store. Zero ambient state: every operation takes an explicit context.
type Core struct {
	Tracker    *analytics.Tracker
	Aggregator *analytics.Aggregator
	Errors     *analytics.ErrorTracker
	Dashboard  *analytics.Dashboard
	Cleaner    *analytics.Cleaner
	Reports    *report.Engine
}

// New assembles the core. Call Start before enqueueing reports.
func New(gdb *gorm.DB, blobs storage.BlobStore) *Core {
	tracker := analytics.NewTracker(gdb)
	return &Core{
		Tracker:    tracker,
		Aggregator: analytics.NewAggregator(gdb),
		Errors:     analytics.NewErrorTracker(gdb, tracker),
		Dashboard:  analytics.NewDashboard(gdb),
		Cleaner:    analytics.NewCleaner(gdb, blobs),
		Reports:    report.NewEngine(gdb, blobs),
	}
}

// Start launches the report worker pool.
func (c *Core) Start(ctx context.Context, reportWorkers int) {
	c.Reports.Start(ctx, reportWorkers)
}

// Shutdown drains in-flight report executions.
func (c *Core) Shutdown() {
	c.Reports.Shutdown()
}

// TrackEvent appends one analytics event.
func (c *Core) TrackEvent(ctx context.Context, in analytics.TrackEventInput) (*dbpkg.AnalyticsEvent, error) {
	return c.Tracker.TrackEvent(ctx, in)
}

// Aggregate (re)computes the daily rollups of scope for date's UTC day.
func (c *Core) Aggregate(ctx context.Context, date time.Time, scope analytics.Scope, force bool) (int64, error) {
	return c.Aggregator.Aggregate(ctx, date, scope, force)
}

// CreateReport records a PENDING report and hands it to the worker pool.
func (c *Core) CreateReport(ctx context.Context, in report.CreateReportInput) (*dbpkg.Report, error) {
	row, err := c.Reports.CreateReport(ctx, in)
	if err != nil {
		return nil, err
	}
	c.Reports.Enqueue(row.ID)
	return row, nil
}

// GetReport loads a report's current state.
func (c *Core) GetReport(ctx context.Context, id string) (*dbpkg.Report, error) {
	return c.Reports.GetReport(ctx, id)
}

// CancelReport cancels a pending report; best effort once running.
func (c *Core) CancelReport(ctx context.Context, id string) error {
	return c.Reports.CancelReport(ctx, id)
}

// DownloadReport streams a completed report artifact and its content type.
func (c *Core) DownloadReport(ctx context.Context, id string) (io.ReadCloser, string, error) {
	return c.Reports.DownloadReport(ctx, id)
}

// LogError records an application error.
func (c *Core) LogError(ctx context.Context, in analytics.LogErrorInput) (*dbpkg.ErrorLog, error) {
	return c.Errors.LogError(ctx, in)
}

// ResolveError marks an error resolved; double resolution conflicts.
func (c *Core) ResolveError(ctx context.Context, id, resolver string) error {
	return c.Errors.ResolveError(ctx, id, resolver)
}

// ErrorStats summarizes errors over an inclusive date range.
func (c *Core) ErrorStats(ctx context.Context, start, end time.Time) (*analytics.ErrorStats, error) {
	return c.Errors.Stats(ctx, start, end)
}

// DashboardStats reads the dashboard composite.
func (c *Core) DashboardStats(ctx context.Context) (*analytics.DashboardStats, error) {
	return c.Dashboard.Stats(ctx)
}

// Cleanup applies the retention policy, or reports what it would delete
// when dryRun is set.
func (c *Core) Cleanup(ctx context.Context, policy analytics.RetentionPolicy, dryRun bool) (analytics.CleanupReport, error) {
	return c.Cleaner.Cleanup(ctx, policy, dryRun)
}

package report

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"pulse/internal/analytics"
	dbpkg "pulse/internal/db"
	"pulse/internal/storage"
)

var validReportTypes = map[string]bool{
	dbpkg.ReportTypeUserActivity:  true,
	dbpkg.ReportTypeSystemMetrics: true,
	dbpkg.ReportTypeFeatureUsage:  true,
	dbpkg.ReportTypeErrorLog:      true,
}

var validFormats = map[string]bool{
	dbpkg.ReportFormatJSON: true,
	dbpkg.ReportFormatCSV:  true,
}

// CreateReportInput describes one report request.
type CreateReportInput struct {
	Name        string
	ReportType  string
	Format      string
	RequestedBy string
	StartDate   time.Time
	EndDate     time.Time

	// Filters narrows the result set per report type: "user_id" for
	// user_activity, "feature" for feature_usage, "level"/"user_id"/
	// "resolved" for error_log.
	Filters map[string]any
}

// Engine owns Report rows end to end: creation, asynchronous execution on
// a bounded worker pool, cancellation and artifact download.
type Engine struct {
	db    *gorm.DB
	blobs storage.BlobStore
	log   *logrus.Entry

	pool    *pool
	cancels *cancelSet
}

func NewEngine(gdb *gorm.DB, blobs storage.BlobStore) *Engine {
	return &Engine{
		db:      gdb,
		blobs:   blobs,
		log:     logrus.WithField("component", "reports"),
		cancels: newCancelSet(),
	}
}

// Start launches the worker pool that drains enqueued reports. Call once.
func (e *Engine) Start(ctx context.Context, workers int) {
	e.pool = newPool(ctx, workers, e.runSafely)
}

// Shutdown stops accepting work and waits for in-flight reports to reach
// a terminal state.
func (e *Engine) Shutdown() {
	if e.pool != nil {
		e.pool.shutdown()
	}
}

// CreateReport validates the request and records a PENDING report. It
// does not start execution; identical concurrent requests each get their
// own report row.
func (e *Engine) CreateReport(ctx context.Context, in CreateReportInput) (*dbpkg.Report, error) {
	if !validReportTypes[in.ReportType] {
		return nil, fmt.Errorf("%w: unknown report type %q", analytics.ErrValidation, in.ReportType)
	}
	if !validFormats[in.Format] {
		return nil, fmt.Errorf("%w: unknown report format %q", analytics.ErrValidation, in.Format)
	}

	start := dayStart(in.StartDate)
	end := dayStart(in.EndDate)
	if start.After(end) {
		return nil, fmt.Errorf("%w: start date %s is after end date %s", analytics.ErrValidation,
			start.Format("2006-01-02"), end.Format("2006-01-02"))
	}

	filters := datatypes.JSONMap{}
	for k, v := range in.Filters {
		filters[k] = v
	}

	name := in.Name
	if name == "" {
		name = fmt.Sprintf("%s %s to %s", in.ReportType,
			start.Format("2006-01-02"), end.Format("2006-01-02"))
	}

	row := &dbpkg.Report{
		Name:        name,
		ReportType:  in.ReportType,
		Format:      in.Format,
		RequestedBy: in.RequestedBy,
		StartDate:   start,
		EndDate:     end,
		Filters:     filters,
		Status:      dbpkg.ReportStatusPending,
	}
	if err := e.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, fmt.Errorf("%w: insert report: %v", analytics.ErrDependency, err)
	}
	return row, nil
}

// Enqueue hands a pending report to the worker pool. The caller gets
// control back immediately; the report's own row is the status channel.
// Before Start the report runs on a transient goroutine instead.
func (e *Engine) Enqueue(id string) {
	if e.pool == nil {
		go e.runSafely(context.Background(), id)
		return
	}
	e.pool.submit(id)
}

// GetReport loads one report by id.
func (e *Engine) GetReport(ctx context.Context, id string) (*dbpkg.Report, error) {
	var row dbpkg.Report
	err := e.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, fmt.Errorf("%w: report %s", analytics.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load report: %v", analytics.ErrDependency, err)
	}
	return &row, nil
}

// ListReports returns the requester's reports, newest first.
func (e *Engine) ListReports(ctx context.Context, requestedBy string) ([]dbpkg.Report, error) {
	var rows []dbpkg.Report
	q := e.db.WithContext(ctx).Order("created_at DESC")
	if requestedBy != "" {
		q = q.Where("requested_by = ?", requestedBy)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: list reports: %v", analytics.ErrDependency, err)
	}
	return rows, nil
}

// CancelReport cancels a report. A PENDING report transitions to FAILED
// with a "cancelled" message; for a RUNNING report cancellation is best
// effort, honored at the next phase boundary. Terminal reports conflict.
func (e *Engine) CancelReport(ctx context.Context, id string) error {
	row, err := e.GetReport(ctx, id)
	if err != nil {
		return err
	}

	switch row.Status {
	case dbpkg.ReportStatusPending:
		res := e.db.WithContext(ctx).
			Model(&dbpkg.Report{}).
			Where("id = ? AND status = ?", id, dbpkg.ReportStatusPending).
			Updates(map[string]interface{}{
				"status":        dbpkg.ReportStatusFailed,
				"error_message": "cancelled",
			})
		if res.Error != nil {
			return fmt.Errorf("%w: cancel report: %v", analytics.ErrDependency, res.Error)
		}
		if res.RowsAffected == 0 {
			// The status moved between the read and the update. Only flag a
			// report that is still in flight; a terminal one would never
			// clear the flag again.
			fresh, err := e.GetReport(ctx, id)
			if err != nil {
				return err
			}
			if fresh.Terminal() {
				return fmt.Errorf("%w: report %s already %s", analytics.ErrConflict, id, fresh.Status)
			}
			e.cancels.set(id)
		}
		return nil
	case dbpkg.ReportStatusRunning:
		e.cancels.set(id)
		return nil
	default:
		return fmt.Errorf("%w: report %s already %s", analytics.ErrConflict, id, row.Status)
	}
}

// DownloadReport opens the completed report's artifact for streaming and
// returns its content type.
func (e *Engine) DownloadReport(ctx context.Context, id string) (io.ReadCloser, string, error) {
	row, err := e.GetReport(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if row.Status != dbpkg.ReportStatusCompleted {
		return nil, "", fmt.Errorf("%w: report %s is %s, not completed", analytics.ErrConflict, id, row.Status)
	}

	rc, err := e.blobs.Get(ctx, row.OutputPath)
	if err == storage.ErrNotFound {
		return nil, "", fmt.Errorf("%w: report artifact %s", analytics.ErrNotFound, row.OutputPath)
	}
	if err != nil {
		return nil, "", fmt.Errorf("%w: open report artifact: %v", analytics.ErrDependency, err)
	}

	contentType := "application/json"
	if row.Format == dbpkg.ReportFormatCSV {
		contentType = "text/csv"
	}
	return rc, contentType, nil
}

// RunReport executes a pending report through the state machine. Errors
// during execution are captured into the report row (status FAILED plus
// error_message) rather than returned, since execution normally happens
// on a worker far from the requester. The returned error covers only
// pre-transition problems: unknown id or a report not in PENDING.
func (e *Engine) RunReport(ctx context.Context, id string) error {
	row, err := e.GetReport(ctx, id)
	if err != nil {
		return err
	}
	if row.Status != dbpkg.ReportStatusPending {
		return fmt.Errorf("%w: report %s is %s, not pending", analytics.ErrConflict, id, row.Status)
	}

	res := e.db.WithContext(ctx).
		Model(&dbpkg.Report{}).
		Where("id = ? AND status = ?", id, dbpkg.ReportStatusPending).
		Update("status", dbpkg.ReportStatusRunning)
	if res.Error != nil {
		return fmt.Errorf("%w: start report: %v", analytics.ErrDependency, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: report %s is no longer pending", analytics.ErrConflict, id)
	}
	defer e.cancels.clear(id)

	src := newSource(row.ReportType, row.StartDate, row.EndDate, row.Filters)
	if src == nil {
		return e.fail(ctx, id, row.ReportType, fmt.Sprintf("unknown report type %q", row.ReportType))
	}

	// Phase 1: run the query. An empty result set is not an error.
	gdb := e.db.WithContext(ctx)
	rows, err := src.count(gdb)
	if err != nil {
		return e.fail(ctx, id, row.ReportType, "query failed: "+err.Error())
	}
	if err := e.setProgress(ctx, id, 50); err != nil {
		return e.fail(ctx, id, row.ReportType, err.Error())
	}
	if e.cancels.has(id) {
		return e.fail(ctx, id, row.ReportType, "cancelled")
	}

	// Phase 2: stream the rows into the artifact.
	key := artifactKey(id, row.Format)
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(serialize(gdb, src, row.Format, pw))
	}()
	size, err := e.blobs.Put(ctx, key, pr)
	if err != nil {
		pr.CloseWithError(err)
		return e.fail(ctx, id, row.ReportType, "write artifact failed: "+err.Error())
	}
	if e.cancels.has(id) {
		if derr := e.blobs.Delete(ctx, key); derr != nil {
			e.log.WithError(derr).WithField("key", key).Warn("failed to delete cancelled artifact")
		}
		return e.fail(ctx, id, row.ReportType, "cancelled")
	}

	now := time.Now().UTC()
	err = e.db.WithContext(ctx).
		Model(&dbpkg.Report{}).
		Where("id = ? AND status = ?", id, dbpkg.ReportStatusRunning).
		Updates(map[string]interface{}{
			"status":       dbpkg.ReportStatusCompleted,
			"progress":     100,
			"output_path":  key,
			"output_bytes": size,
			"completed_at": now,
		}).Error
	if err != nil {
		return e.fail(ctx, id, row.ReportType, "finalize failed: "+err.Error())
	}

	countReport(row.ReportType, dbpkg.ReportStatusCompleted)
	e.log.WithFields(logrus.Fields{
		"report": id,
		"type":   row.ReportType,
		"format": row.Format,
		"rows":   rows,
		"bytes":  size,
	}).Info("report completed")
	return nil
}

// fail drives a running report into the FAILED terminal state. The nil
// return lets callers `return e.fail(...)`: capture, don't propagate.
func (e *Engine) fail(ctx context.Context, id, reportType, message string) error {
	err := e.db.WithContext(ctx).
		Model(&dbpkg.Report{}).
		Where("id = ? AND status = ?", id, dbpkg.ReportStatusRunning).
		Updates(map[string]interface{}{
			"status":        dbpkg.ReportStatusFailed,
			"error_message": message,
		}).Error
	if err != nil {
		e.log.WithError(err).WithField("report", id).Error("failed to mark report failed")
	}
	countReport(reportType, dbpkg.ReportStatusFailed)
	e.log.WithFields(logrus.Fields{"report": id, "error": message}).Warn("report failed")
	return nil
}

// setProgress advances the progress of a running report. Progress only
// moves forward.
func (e *Engine) setProgress(ctx context.Context, id string, pct int) error {
	return e.db.WithContext(ctx).
		Model(&dbpkg.Report{}).
		Where("id = ? AND status = ? AND progress < ?", id, dbpkg.ReportStatusRunning, pct).
		Update("progress", pct).Error
}

// runSafely is the worker entry point: panics become FAILED reports
// instead of dead workers.
func (e *Engine) runSafely(ctx context.Context, id string) {
	defer func() {
		if r := recover(); r != nil {
			e.log.WithField("report", id).Errorf("panic during report run: %v", r)
			_ = e.fail(ctx, id, "", fmt.Sprintf("internal error: %v", r))
		}
	}()
	if err := e.RunReport(ctx, id); err != nil {
		e.log.WithError(err).WithField("report", id).Warn("report not run")
	}
}

func artifactKey(id, format string) string {
	return "reports/" + id + "." + format
}

func dayStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

package analytics

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	dbpkg "pulse/internal/db"
	"pulse/internal/storage"
)

// RetentionPolicy holds the per-kind retention windows in days. A zero
// value disables cleanup for that kind.
type RetentionPolicy struct {
	EventsDays  int
	MetricsDays int // rollup rows: user activity, system metrics, feature usage
	ErrorsDays  int // resolved errors only; open errors are never deleted
	ReportsDays int // terminal reports and their artifacts
}

// CleanupReport counts the rows deleted (or deletable, in dry-run) per kind.
type CleanupReport struct {
	Events        int64 `json:"events"`
	UserActivity  int64 `json:"user_activity"`
	SystemMetrics int64 `json:"system_metrics"`
	FeatureUsage  int64 `json:"feature_usage"`
	Errors        int64 `json:"errors"`
	Reports       int64 `json:"reports"`

	DryRun bool `json:"dry_run"`
}

// Total sums the per-kind counts.
func (r CleanupReport) Total() int64 {
	return r.Events + r.UserActivity + r.SystemMetrics + r.FeatureUsage + r.Errors + r.Reports
}

// Cleaner deletes data past its retention window.
type Cleaner struct {
	db    *gorm.DB
	blobs storage.BlobStore // may be nil; report artifacts are then left in place
	log   *logrus.Entry
}

func NewCleaner(gdb *gorm.DB, blobs storage.BlobStore) *Cleaner {
	return &Cleaner{
		db:    gdb,
		blobs: blobs,
		log:   logrus.WithField("component", "cleanup"),
	}
}

// Cleanup removes rows strictly older than now minus each kind's window.
// With dryRun it only reports what would be deleted and leaves the store
// untouched. Deletion is atomic per invocation.
func (c *Cleaner) Cleanup(ctx context.Context, policy RetentionPolicy, dryRun bool) (CleanupReport, error) {
	now := time.Now().UTC()
	report := CleanupReport{DryRun: dryRun}

	var expired []dbpkg.Report
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if policy.EventsDays > 0 {
			cutoff := now.AddDate(0, 0, -policy.EventsDays)
			n, err := purge(tx, dryRun, &dbpkg.AnalyticsEvent{}, "occurred_at < ?", cutoff)
			if err != nil {
				return err
			}
			report.Events = n
		}

		if policy.MetricsDays > 0 {
			cutoff := truncateDay(now.AddDate(0, 0, -policy.MetricsDays))
			n, err := purge(tx, dryRun, &dbpkg.UserActivity{}, "date < ?", cutoff)
			if err != nil {
				return err
			}
			report.UserActivity = n

			n, err = purge(tx, dryRun, &dbpkg.SystemMetrics{}, "date < ?", cutoff)
			if err != nil {
				return err
			}
			report.SystemMetrics = n

			n, err = purge(tx, dryRun, &dbpkg.FeatureUsage{}, "date < ?", cutoff)
			if err != nil {
				return err
			}
			report.FeatureUsage = n
		}

		if policy.ErrorsDays > 0 {
			cutoff := now.AddDate(0, 0, -policy.ErrorsDays)
			n, err := purge(tx, dryRun, &dbpkg.ErrorLog{}, "resolved = ? AND occurred_at < ?", true, cutoff)
			if err != nil {
				return err
			}
			report.Errors = n
		}

		if policy.ReportsDays > 0 {
			cutoff := now.AddDate(0, 0, -policy.ReportsDays)
			terminal := []string{dbpkg.ReportStatusCompleted, dbpkg.ReportStatusFailed}
			if !dryRun {
				// Remember the artifacts before the rows go away.
				if err := tx.Where("status IN ? AND created_at < ?", terminal, cutoff).Find(&expired).Error; err != nil {
					return err
				}
			}
			n, err := purge(tx, dryRun, &dbpkg.Report{}, "status IN ? AND created_at < ?", terminal, cutoff)
			if err != nil {
				return err
			}
			report.Reports = n
		}

		return nil
	})
	if err != nil {
		return CleanupReport{DryRun: dryRun}, dependency("retention cleanup", err)
	}

	// Blob deletion happens after the transaction commits; a leftover blob
	// is preferable to a report row pointing at a deleted artifact.
	if !dryRun && c.blobs != nil {
		for _, r := range expired {
			if r.OutputPath == "" {
				continue
			}
			if err := c.blobs.Delete(ctx, r.OutputPath); err != nil {
				c.log.WithError(err).WithField("key", r.OutputPath).Warn("failed to delete report artifact")
			}
		}
	}

	if !dryRun {
		countN(rowsDeleted, float64(report.Events), "events")
		countN(rowsDeleted, float64(report.UserActivity+report.SystemMetrics+report.FeatureUsage), "rollups")
		countN(rowsDeleted, float64(report.Errors), "errors")
		countN(rowsDeleted, float64(report.Reports), "reports")
	}

	c.log.WithFields(logrus.Fields{
		"dry_run": dryRun,
		"total":   report.Total(),
	}).Info("retention cleanup complete")
	return report, nil
}

// purge counts the matching rows and, unless this is a dry run, deletes
// them. The count is what a delete would remove either way.
func purge(tx *gorm.DB, dryRun bool, model interface{}, query string, args ...interface{}) (int64, error) {
	if dryRun {
		var n int64
		if err := tx.Model(model).Where(query, args...).Count(&n).Error; err != nil {
			return 0, err
		}
		return n, nil
	}
	res := tx.Where(query, args...).Delete(model)
	return res.RowsAffected, res.Error
}

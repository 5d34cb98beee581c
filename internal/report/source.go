package report

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	dbpkg "pulse/internal/db"
)

const batchSize = 500

// inBatches pages through q in stable order so large result sets stream
// without being held in memory at once.
func inBatches[T any](q *gorm.DB, order string, fn func(T) error) error {
	for offset := 0; ; offset += batchSize {
		var batch []T
		if err := q.Session(&gorm.Session{}).Order(order).Limit(batchSize).Offset(offset).Find(&batch).Error; err != nil {
			return err
		}
		for _, row := range batch {
			if err := fn(row); err != nil {
				return err
			}
		}
		if len(batch) < batchSize {
			return nil
		}
	}
}

// source is a report-type-specific view over the store: a stable field
// list plus a batched row stream. Field names are the documented JSON
// keys and CSV headers for that report type.
type source interface {
	fields() []string
	count(tx *gorm.DB) (int64, error)
	// forEach streams matching rows ordered by date ascending, invoking fn
	// with one value per field. Values are limited to strings, numbers,
	// bools, times, dateOnly and nil. Calendar-date fields must be wrapped
	// in dateOnly; bare time.Time values serialize as full timestamps.
	forEach(tx *gorm.DB, fn func(values []any) error) error
}

// newSource resolves a report type and its filters to a data source.
func newSource(reportType string, start, end time.Time, filters datatypes.JSONMap) source {
	switch reportType {
	case dbpkg.ReportTypeUserActivity:
		return &userActivitySource{start: start, end: end, userID: filterString(filters, "user_id")}
	case dbpkg.ReportTypeSystemMetrics:
		return &systemMetricsSource{start: start, end: end}
	case dbpkg.ReportTypeFeatureUsage:
		return &featureUsageSource{start: start, end: end, feature: filterString(filters, "feature")}
	case dbpkg.ReportTypeErrorLog:
		return &errorLogSource{
			start:    start,
			end:      end,
			level:    filterString(filters, "level"),
			userID:   filterString(filters, "user_id"),
			resolved: filterBool(filters, "resolved"),
		}
	}
	return nil
}

func filterString(filters datatypes.JSONMap, key string) string {
	if filters == nil {
		return ""
	}
	if s, ok := filters[key].(string); ok {
		return s
	}
	return ""
}

func filterBool(filters datatypes.JSONMap, key string) *bool {
	if filters == nil {
		return nil
	}
	if b, ok := filters[key].(bool); ok {
		return &b
	}
	return nil
}

type userActivitySource struct {
	start, end time.Time
	userID     string
}

func (s *userActivitySource) fields() []string {
	return []string{
		"user_id", "date", "login_count", "message_count", "upload_count",
		"download_count", "page_views", "api_calls", "session_seconds",
	}
}

func (s *userActivitySource) query(tx *gorm.DB) *gorm.DB {
	q := tx.Model(&dbpkg.UserActivity{}).Where("date >= ? AND date <= ?", s.start, s.end)
	if s.userID != "" {
		q = q.Where("user_id = ?", s.userID)
	}
	return q
}

func (s *userActivitySource) count(tx *gorm.DB) (int64, error) {
	var n int64
	err := s.query(tx).Count(&n).Error
	return n, err
}

func (s *userActivitySource) forEach(tx *gorm.DB, fn func([]any) error) error {
	return inBatches(s.query(tx), "date, user_id", func(r dbpkg.UserActivity) error {
		return fn([]any{
			r.UserID, dateOnly(r.Date), r.LoginCount, r.MessageCount, r.UploadCount,
			r.DownloadCount, r.PageViews, r.APICalls, r.SessionSecs,
		})
	})
}

type systemMetricsSource struct {
	start, end time.Time
}

func (s *systemMetricsSource) fields() []string {
	return []string{
		"date", "active_users", "total_events", "total_api_calls",
		"total_messages", "total_storage_bytes", "error_count", "error_rate",
		"avg_response_ms", "uptime_pct",
	}
}

func (s *systemMetricsSource) query(tx *gorm.DB) *gorm.DB {
	return tx.Model(&dbpkg.SystemMetrics{}).Where("date >= ? AND date <= ?", s.start, s.end)
}

func (s *systemMetricsSource) count(tx *gorm.DB) (int64, error) {
	var n int64
	err := s.query(tx).Count(&n).Error
	return n, err
}

func (s *systemMetricsSource) forEach(tx *gorm.DB, fn func([]any) error) error {
	return inBatches(s.query(tx), "date", func(r dbpkg.SystemMetrics) error {
		return fn([]any{
			dateOnly(r.Date), r.ActiveUsers, r.TotalEvents, r.TotalAPICalls,
			r.TotalMessages, r.TotalStorageBytes, r.ErrorCount, r.ErrorRate,
			r.AvgResponseMs, r.UptimePct,
		})
	})
}

type featureUsageSource struct {
	start, end time.Time
	feature    string
}

func (s *featureUsageSource) fields() []string {
	return []string{"date", "feature_name", "usage_count", "unique_users"}
}

func (s *featureUsageSource) query(tx *gorm.DB) *gorm.DB {
	q := tx.Model(&dbpkg.FeatureUsage{}).Where("date >= ? AND date <= ?", s.start, s.end)
	if s.feature != "" {
		q = q.Where("feature_name = ?", s.feature)
	}
	return q
}

func (s *featureUsageSource) count(tx *gorm.DB) (int64, error) {
	var n int64
	err := s.query(tx).Count(&n).Error
	return n, err
}

func (s *featureUsageSource) forEach(tx *gorm.DB, fn func([]any) error) error {
	return inBatches(s.query(tx), "date, feature_name", func(r dbpkg.FeatureUsage) error {
		return fn([]any{dateOnly(r.Date), r.FeatureName, r.UsageCount, r.UniqueUsers})
	})
}

type errorLogSource struct {
	start, end time.Time
	level      string
	userID     string
	resolved   *bool
}

func (s *errorLogSource) fields() []string {
	return []string{
		"id", "occurred_at", "level", "exception_type", "message", "user_id",
		"resolved", "resolved_by", "resolved_at",
	}
}

func (s *errorLogSource) query(tx *gorm.DB) *gorm.DB {
	// End date is inclusive; error logs carry full timestamps, so the
	// upper bound is the following midnight, exclusive.
	q := tx.Model(&dbpkg.ErrorLog{}).
		Where("occurred_at >= ? AND occurred_at < ?", s.start, s.end.AddDate(0, 0, 1))
	if s.level != "" {
		q = q.Where("level = ?", s.level)
	}
	if s.userID != "" {
		q = q.Where("user_id = ?", s.userID)
	}
	if s.resolved != nil {
		q = q.Where("resolved = ?", *s.resolved)
	}
	return q
}

func (s *errorLogSource) count(tx *gorm.DB) (int64, error) {
	var n int64
	err := s.query(tx).Count(&n).Error
	return n, err
}

func (s *errorLogSource) forEach(tx *gorm.DB, fn func([]any) error) error {
	return inBatches(s.query(tx), "occurred_at, id", func(r dbpkg.ErrorLog) error {
		var resolvedAt any
		if r.ResolvedAt != nil {
			resolvedAt = *r.ResolvedAt
		}
		return fn([]any{
			r.ID, r.OccurredAt, r.Level, r.ExceptionType, r.Message,
			r.UserID, r.Resolved, r.ResolvedBy, resolvedAt,
		})
	})
}

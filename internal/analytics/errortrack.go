package analytics

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	dbpkg "pulse/internal/db"
)

var validErrorLevels = map[string]bool{
	dbpkg.LevelDebug:    true,
	dbpkg.LevelInfo:     true,
	dbpkg.LevelWarning:  true,
	dbpkg.LevelError:    true,
	dbpkg.LevelCritical: true,
}

// LogErrorInput describes one application error to record.
type LogErrorInput struct {
	Level         string
	Message       string
	ExceptionType string
	StackTrace    string
	UserID        string
	Context       map[string]any
	OccurredAt    time.Time // defaults to now (UTC)
}

// ErrorStats summarizes errors over an inclusive date range.
type ErrorStats struct {
	TotalErrors      int64            `json:"total_errors"`
	ResolvedErrors   int64            `json:"resolved_errors"`
	UnresolvedErrors int64            `json:"unresolved_errors"`
	ResolvedRatio    float64          `json:"resolved_ratio"`
	CountsByLevel    map[string]int64 `json:"counts_by_level"`
	CountsByType     map[string]int64 `json:"counts_by_type"`

	// Trend holds one point per day in the range, ascending, zero-filled.
	Trend []TrendPoint `json:"trend"`
}

// TrendPoint is one day's error count.
type TrendPoint struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

// ErrorTracker records errors and their resolution lifecycle.
type ErrorTracker struct {
	db      *gorm.DB
	tracker *Tracker
	log     *logrus.Entry
}

func NewErrorTracker(gdb *gorm.DB, tracker *Tracker) *ErrorTracker {
	return &ErrorTracker{
		db:      gdb,
		tracker: tracker,
		log:     logrus.WithField("component", "errortracker"),
	}
}

// LogError records an error log row and mirrors it as an error analytics
// event so daily system metrics pick it up.
func (e *ErrorTracker) LogError(ctx context.Context, in LogErrorInput) (*dbpkg.ErrorLog, error) {
	level := strings.ToLower(in.Level)
	if !validErrorLevels[level] {
		return nil, validationf("unknown error level %q", in.Level)
	}
	if in.Message == "" {
		return nil, validationf("error message is required")
	}

	errCtx, err := normalizeProperties(in.Context)
	if err != nil {
		return nil, err
	}

	occurredAt := in.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	exceptionType := in.ExceptionType
	if exceptionType == "" {
		exceptionType = "Unknown"
	}

	row := &dbpkg.ErrorLog{
		Level:         level,
		Message:       in.Message,
		ExceptionType: exceptionType,
		StackTrace:    in.StackTrace,
		UserID:        in.UserID,
		Context:       errCtx,
		OccurredAt:    occurredAt.UTC(),
	}
	if err := e.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, dependency("insert error log", err)
	}

	count(errorsLogged, level)

	_, err = e.tracker.TrackEvent(ctx, TrackEventInput{
		UserID:    in.UserID,
		EventType: dbpkg.EventTypeError,
		EventName: strings.ToUpper(level) + ": " + exceptionType,
		Properties: map[string]any{
			"error_id":       row.ID,
			"error_level":    level,
			"exception_type": exceptionType,
		},
		OccurredAt: occurredAt,
	})
	if err != nil {
		// The error log row is the source of truth; a missing mirror event
		// only skews daily totals.
		e.log.WithError(err).WithField("error_id", row.ID).Warn("failed to mirror error event")
	}

	return row, nil
}

// ResolveError marks the error as resolved by resolver. Resolution is
// one-way: resolving an already-resolved error is rejected with a
// conflict so the original resolver and timestamp stand.
func (e *ErrorTracker) ResolveError(ctx context.Context, id, resolver string) error {
	if resolver == "" {
		return validationf("resolver is required")
	}

	now := time.Now().UTC()
	res := e.db.WithContext(ctx).
		Model(&dbpkg.ErrorLog{}).
		Where("id = ? AND resolved = ?", id, false).
		Updates(map[string]interface{}{
			"resolved":    true,
			"resolved_by": resolver,
			"resolved_at": now,
		})
	if res.Error != nil {
		return dependency("resolve error log", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	// Distinguish missing from already resolved.
	var existing dbpkg.ErrorLog
	err := e.db.WithContext(ctx).First(&existing, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return notFoundf("error log %s", id)
	}
	if err != nil {
		return dependency("load error log", err)
	}
	return conflictf("error log %s is already resolved", id)
}

// GetError loads one error log by id.
func (e *ErrorTracker) GetError(ctx context.Context, id string) (*dbpkg.ErrorLog, error) {
	var row dbpkg.ErrorLog
	err := e.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, notFoundf("error log %s", id)
	}
	if err != nil {
		return nil, dependency("load error log", err)
	}
	return &row, nil
}

// Stats computes frequency and trend statistics over [start, end]
// (inclusive calendar days, UTC). Every day in range appears in the trend
// series even when its count is zero.
func (e *ErrorTracker) Stats(ctx context.Context, start, end time.Time) (*ErrorStats, error) {
	first, last := truncateDay(start), truncateDay(end)
	if first.After(last) {
		return nil, validationf("start date %s is after end date %s",
			first.Format("2006-01-02"), last.Format("2006-01-02"))
	}

	var rows []dbpkg.ErrorLog
	err := e.db.WithContext(ctx).
		Where("occurred_at >= ? AND occurred_at < ?", first, last.AddDate(0, 0, 1)).
		Find(&rows).Error
	if err != nil {
		return nil, dependency("load error logs", err)
	}

	stats := &ErrorStats{
		CountsByLevel: make(map[string]int64),
		CountsByType:  make(map[string]int64),
	}

	byDay := make(map[string]int64)
	for _, r := range rows {
		stats.TotalErrors++
		if r.Resolved {
			stats.ResolvedErrors++
		} else {
			stats.UnresolvedErrors++
		}
		stats.CountsByLevel[r.Level]++
		stats.CountsByType[r.ExceptionType]++
		byDay[truncateDay(r.OccurredAt).Format("2006-01-02")]++
	}
	if stats.TotalErrors > 0 {
		stats.ResolvedRatio = float64(stats.ResolvedErrors) / float64(stats.TotalErrors)
	}

	for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
		key := day.Format("2006-01-02")
		stats.Trend = append(stats.Trend, TrendPoint{Date: key, Count: byDay[key]})
	}

	return stats, nil
}

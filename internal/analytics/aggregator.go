package analytics

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	dbpkg "pulse/internal/db"
)

// Scope selects which rollup family Aggregate (re)computes.
type Scope string

const (
	ScopeUserActivity  Scope = "user_activity"
	ScopeSystemMetrics Scope = "system_metrics"
	ScopeFeatureUsage  Scope = "feature_usage"
	ScopeAll           Scope = "all"
)

// familyOrder is the fixed lock-acquisition and computation order for
// ScopeAll. Keeping it stable prevents deadlocks between concurrent runs.
var familyOrder = []Scope{ScopeUserActivity, ScopeSystemMetrics, ScopeFeatureUsage}

// Aggregator turns one UTC day of raw events into rollup rows. It is the
// only writer of UserActivity, SystemMetrics and FeatureUsage.
type Aggregator struct {
	db  *gorm.DB
	log *logrus.Entry

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewAggregator(gdb *gorm.DB) *Aggregator {
	return &Aggregator{
		db:    gdb,
		log:   logrus.WithField("component", "aggregator"),
		locks: make(map[string]*sync.Mutex),
	}
}

// keyLock returns the mutex serializing runs for one (scope, day) pair.
func (a *Aggregator) keyLock(scope Scope, day time.Time) *sync.Mutex {
	key := string(scope) + "|" + day.Format("2006-01-02")
	a.mu.Lock()
	defer a.mu.Unlock()
	if l, ok := a.locks[key]; ok {
		return l
	}
	l := &sync.Mutex{}
	a.locks[key] = l
	return l
}

// Aggregate computes the rollups of the given scope for the calendar day
// containing date (UTC). When force is false, keys that already have a
// rollup row are skipped; when true, their rows are fully replaced.
// Returns the number of rollup rows written. Each invocation is
// all-or-nothing: a failure writes no rows for the date.
func (a *Aggregator) Aggregate(ctx context.Context, date time.Time, scope Scope, force bool) (int64, error) {
	scopes, err := expandScope(scope)
	if err != nil {
		return 0, err
	}

	day := truncateDay(date)

	for _, s := range scopes {
		l := a.keyLock(s, day)
		l.Lock()
		defer l.Unlock()
	}

	var written int64
	err = a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		events, err := loadDay(tx, day)
		if err != nil {
			return err
		}

		for _, s := range scopes {
			var n int64
			var err error
			switch s {
			case ScopeUserActivity:
				n, err = aggregateUserActivity(tx, day, events, force)
			case ScopeSystemMetrics:
				n, err = aggregateSystemMetrics(tx, day, events, force)
			case ScopeFeatureUsage:
				n, err = aggregateFeatureUsage(tx, day, events, force)
			}
			if err != nil {
				return err
			}
			written += n
		}
		return nil
	})
	if err != nil {
		count(aggregationRuns, string(scope), "error")
		return 0, dependency("aggregate "+day.Format("2006-01-02"), err)
	}

	count(aggregationRuns, string(scope), "ok")
	a.log.WithFields(logrus.Fields{
		"date":  day.Format("2006-01-02"),
		"scope": scope,
		"force": force,
		"rows":  written,
	}).Info("aggregation complete")
	return written, nil
}

// AggregateRange backfills every day in [start, end] (inclusive, UTC days)
// with bounded concurrency. Days are independent; a failing day does not
// roll back the others.
func (a *Aggregator) AggregateRange(ctx context.Context, start, end time.Time, scope Scope, force bool) (int64, error) {
	if _, err := expandScope(scope); err != nil {
		return 0, err
	}
	first, last := truncateDay(start), truncateDay(end)
	if first.After(last) {
		return 0, validationf("start date %s is after end date %s",
			first.Format("2006-01-02"), last.Format("2006-01-02"))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	var mu sync.Mutex
	var total int64
	for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
		day := day
		g.Go(func() error {
			n, err := a.Aggregate(gctx, day, scope, force)
			if err != nil {
				return err
			}
			mu.Lock()
			total += n
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return total, err
	}
	return total, nil
}

func expandScope(scope Scope) ([]Scope, error) {
	switch scope {
	case ScopeAll:
		return familyOrder, nil
	case ScopeUserActivity, ScopeSystemMetrics, ScopeFeatureUsage:
		return []Scope{scope}, nil
	default:
		return nil, validationf("unknown aggregation scope %q", scope)
	}
}

func truncateDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// loadDay fetches the events whose occurred_at falls in [day, day+1).
func loadDay(tx *gorm.DB, day time.Time) ([]dbpkg.AnalyticsEvent, error) {
	var events []dbpkg.AnalyticsEvent
	err := tx.
		Where("occurred_at >= ? AND occurred_at < ?", day, day.AddDate(0, 0, 1)).
		Find(&events).Error
	return events, err
}

func aggregateUserActivity(tx *gorm.DB, day time.Time, events []dbpkg.AnalyticsEvent, force bool) (int64, error) {
	rows := make(map[string]*dbpkg.UserActivity)
	for _, e := range events {
		if e.EventType != dbpkg.EventTypeUserAction || e.UserID == "" {
			continue
		}
		row, ok := rows[e.UserID]
		if !ok {
			row = &dbpkg.UserActivity{UserID: e.UserID, Date: day}
			rows[e.UserID] = row
		}
		switch e.EventName {
		case dbpkg.EventLogin:
			row.LoginCount++
		case dbpkg.EventMessage:
			row.MessageCount++
		case dbpkg.EventUpload:
			row.UploadCount++
		case dbpkg.EventDownload:
			row.DownloadCount++
		case dbpkg.EventPageView:
			row.PageViews++
		case dbpkg.EventAPICall:
			row.APICalls++
		}
		if secs, ok := propFloat(e.Properties, "duration_seconds"); ok {
			row.SessionSecs += int64(secs)
		}
	}

	var written int64
	for _, row := range rows {
		var existing dbpkg.UserActivity
		err := tx.Where("user_id = ? AND date = ?", row.UserID, day).First(&existing).Error
		switch {
		case err == gorm.ErrRecordNotFound:
			err = tx.Create(row).Error
		case err == nil && force:
			// Full-row replace, never an additive merge.
			err = tx.Model(&existing).Updates(map[string]interface{}{
				"login_count":    row.LoginCount,
				"message_count":  row.MessageCount,
				"upload_count":   row.UploadCount,
				"download_count": row.DownloadCount,
				"page_views":     row.PageViews,
				"api_calls":      row.APICalls,
				"session_secs":   row.SessionSecs,
			}).Error
		case err == nil:
			continue // idempotent no-op
		}
		if err != nil {
			return 0, err
		}
		written++
	}
	return written, nil
}

func aggregateSystemMetrics(tx *gorm.DB, day time.Time, events []dbpkg.AnalyticsEvent, force bool) (int64, error) {
	row := &dbpkg.SystemMetrics{Date: day}

	users := make(map[string]bool)
	var durationSum float64
	var durationN int64
	for _, e := range events {
		row.TotalEvents++
		if e.UserID != "" {
			users[e.UserID] = true
		}
		if e.EventType == dbpkg.EventTypeError {
			row.ErrorCount++
		}
		switch e.EventName {
		case dbpkg.EventAPICall:
			row.TotalAPICalls++
			if ms, ok := propFloat(e.Properties, "duration_ms"); ok {
				durationSum += ms
				durationN++
			}
		case dbpkg.EventMessage:
			row.TotalMessages++
		case dbpkg.EventUpload:
			if size, ok := propFloat(e.Properties, "size_bytes"); ok {
				row.TotalStorageBytes += int64(size)
			}
		}
	}
	row.ActiveUsers = int64(len(users))
	if row.TotalEvents > 0 {
		row.ErrorRate = float64(row.ErrorCount) / float64(row.TotalEvents) * 100
	}
	if durationN > 0 {
		row.AvgResponseMs = durationSum / float64(durationN)
	}
	// The event stream carries no outage signal; an external health probe
	// may overwrite this later.
	row.UptimePct = 100

	var existing dbpkg.SystemMetrics
	err := tx.Where("date = ?", day).First(&existing).Error
	switch {
	case err == gorm.ErrRecordNotFound:
		if err := tx.Create(row).Error; err != nil {
			return 0, err
		}
		return 1, nil
	case err == nil && force:
		err = tx.Model(&existing).Updates(map[string]interface{}{
			"active_users":        row.ActiveUsers,
			"total_events":        row.TotalEvents,
			"total_api_calls":     row.TotalAPICalls,
			"total_messages":      row.TotalMessages,
			"total_storage_bytes": row.TotalStorageBytes,
			"error_count":         row.ErrorCount,
			"error_rate":          row.ErrorRate,
			"avg_response_ms":     row.AvgResponseMs,
			"uptime_pct":          row.UptimePct,
		}).Error
		if err != nil {
			return 0, err
		}
		return 1, nil
	case err == nil:
		return 0, nil
	default:
		return 0, err
	}
}

func aggregateFeatureUsage(tx *gorm.DB, day time.Time, events []dbpkg.AnalyticsEvent, force bool) (int64, error) {
	type featureAgg struct {
		uses  int64
		users map[string]bool
	}
	features := make(map[string]*featureAgg)
	for _, e := range events {
		if e.EventType != dbpkg.EventTypeFeature || e.EventName == "" {
			continue
		}
		f, ok := features[e.EventName]
		if !ok {
			f = &featureAgg{users: make(map[string]bool)}
			features[e.EventName] = f
		}
		f.uses++
		if e.UserID != "" {
			f.users[e.UserID] = true
		}
	}

	var written int64
	for name, f := range features {
		row := dbpkg.FeatureUsage{
			FeatureName: name,
			Date:        day,
			UsageCount:  f.uses,
			UniqueUsers: int64(len(f.users)),
		}
		var existing dbpkg.FeatureUsage
		err := tx.Where("feature_name = ? AND date = ?", name, day).First(&existing).Error
		switch {
		case err == gorm.ErrRecordNotFound:
			err = tx.Create(&row).Error
		case err == nil && force:
			err = tx.Model(&existing).Updates(map[string]interface{}{
				"usage_count":  row.UsageCount,
				"unique_users": row.UniqueUsers,
			}).Error
		case err == nil:
			continue
		}
		if err != nil {
			return 0, err
		}
		written++
	}
	return written, nil
}

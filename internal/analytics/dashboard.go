package analytics

import (
	"context"
	"time"

	"gorm.io/gorm"

	dbpkg "pulse/internal/db"
)

// DashboardStats is the read-only composite the platform dashboard shows:
// user counts, content totals, error counts and the latest health
// indicators. User counts are derived from the event stream: a user is
// anyone who has ever produced an event, and a new user is one whose
// first event fell on the current day.
type DashboardStats struct {
	TotalUsers       int64 `json:"total_users"`
	ActiveUsersToday int64 `json:"active_users_today"`
	NewUsersToday    int64 `json:"new_users_today"`
	EventsToday      int64 `json:"events_today"`

	// Content totals come from the most recent SystemMetrics row.
	TotalMessages     int64 `json:"total_messages"`
	TotalStorageBytes int64 `json:"total_storage_bytes"`

	UnresolvedErrors int64            `json:"unresolved_errors"`
	ErrorsByLevel    map[string]int64 `json:"errors_by_level"`

	// Health indicators come from the most recent SystemMetrics row.
	MetricsDate   string  `json:"metrics_date,omitempty"`
	AvgResponseMs float64 `json:"avg_response_ms"`
	ErrorRate     float64 `json:"error_rate"`
	UptimePct     float64 `json:"uptime_pct"`
}

// Dashboard composes aggregator and error-tracker outputs into one read.
type Dashboard struct {
	db *gorm.DB
}

func NewDashboard(gdb *gorm.DB) *Dashboard {
	return &Dashboard{db: gdb}
}

// Stats reads the dashboard composite for now (UTC).
func (d *Dashboard) Stats(ctx context.Context) (*DashboardStats, error) {
	today := truncateDay(time.Now())
	tomorrow := today.AddDate(0, 0, 1)
	gdb := d.db.WithContext(ctx)

	stats := &DashboardStats{ErrorsByLevel: make(map[string]int64)}

	err := gdb.Model(&dbpkg.AnalyticsEvent{}).
		Where("occurred_at >= ? AND occurred_at < ?", today, tomorrow).
		Count(&stats.EventsToday).Error
	if err != nil {
		return nil, dependency("count events", err)
	}

	err = gdb.Model(&dbpkg.AnalyticsEvent{}).
		Where("occurred_at >= ? AND occurred_at < ? AND user_id <> ''", today, tomorrow).
		Distinct("user_id").
		Count(&stats.ActiveUsersToday).Error
	if err != nil {
		return nil, dependency("count active users", err)
	}

	err = gdb.Model(&dbpkg.AnalyticsEvent{}).
		Where("user_id <> ''").
		Distinct("user_id").
		Count(&stats.TotalUsers).Error
	if err != nil {
		return nil, dependency("count total users", err)
	}

	var firstSeenToday []string
	err = gdb.Model(&dbpkg.AnalyticsEvent{}).
		Select("user_id").
		Where("user_id <> ''").
		Group("user_id").
		Having("MIN(occurred_at) >= ? AND MIN(occurred_at) < ?", today, tomorrow).
		Scan(&firstSeenToday).Error
	if err != nil {
		return nil, dependency("count new users", err)
	}
	stats.NewUsersToday = int64(len(firstSeenToday))

	type levelCount struct {
		Level string
		N     int64
	}
	var levels []levelCount
	err = gdb.Model(&dbpkg.ErrorLog{}).
		Select("level, count(*) as n").
		Where("resolved = ?", false).
		Group("level").
		Scan(&levels).Error
	if err != nil {
		return nil, dependency("count unresolved errors", err)
	}
	for _, lc := range levels {
		stats.ErrorsByLevel[lc.Level] = lc.N
		stats.UnresolvedErrors += lc.N
	}

	// Full uptime until a SystemMetrics row says otherwise.
	stats.UptimePct = 100

	var latest dbpkg.SystemMetrics
	err = gdb.Order("date DESC").First(&latest).Error
	if err == nil {
		stats.MetricsDate = latest.Date.Format("2006-01-02")
		stats.TotalMessages = latest.TotalMessages
		stats.TotalStorageBytes = latest.TotalStorageBytes
		stats.AvgResponseMs = latest.AvgResponseMs
		stats.ErrorRate = latest.ErrorRate
		stats.UptimePct = latest.UptimePct
	} else if err != gorm.ErrRecordNotFound {
		return nil, dependency("load latest system metrics", err)
	}

	return stats, nil
}

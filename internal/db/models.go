package db

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Event types. EventTypeUserAction events feed per-user rollups,
// EventTypeFeature events feed feature rollups, EventTypeError events are
// counted into the daily system metrics. EventTypeSystem covers everything
// emitted by the platform itself.
const (
	EventTypeUserAction = "user_action"
	EventTypeSystem     = "system"
	EventTypeError      = "error"
	EventTypeFeature    = "feature"
)

// Well-known event names the aggregator understands. Callers are free to
// track other names; they count toward daily totals but not toward a
// dedicated activity counter.
const (
	EventLogin    = "login"
	EventLogout   = "logout"
	EventMessage  = "message"
	EventUpload   = "upload"
	EventDownload = "download"
	EventPageView = "page_view"
	EventAPICall  = "api_call"
)

// Error levels, lowest to highest severity.
const (
	LevelDebug    = "debug"
	LevelInfo     = "info"
	LevelWarning  = "warning"
	LevelError    = "error"
	LevelCritical = "critical"
)

// AnalyticsEvent is a single immutable telemetry event. Rows are only ever
// inserted; the retention worker is the sole deleter.
type AnalyticsEvent struct {
	ID string `gorm:"primaryKey;size:36"`

	EventType string `gorm:"size:50;index:idx_events_type_time,priority:1"`
	EventName string `gorm:"size:100;index"`

	// UserID is empty for anonymous or system events.
	UserID    string `gorm:"size:36;index:idx_events_user_time,priority:1"`
	SessionID string `gorm:"size:100"`

	IPAddress string `gorm:"size:45"`
	UserAgent string

	// Properties holds arbitrary key/value pairs for this event so callers
	// can attach custom dimensions without schema changes. Values are
	// restricted to strings, numbers, bools and null to keep report
	// serialization deterministic.
	Properties datatypes.JSONMap `gorm:"type:json"`

	OccurredAt time.Time `gorm:"index:idx_events_type_time,priority:2;index:idx_events_user_time,priority:2;index"`
}

func (e *AnalyticsEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}

// UserActivity is the daily per-user rollup. At most one row exists per
// (user, date); recomputation replaces the full row.
type UserActivity struct {
	ID uint `gorm:"primaryKey"`

	UserID string    `gorm:"size:36;uniqueIndex:idx_user_activity_unique,priority:1;not null"`
	Date   time.Time `gorm:"uniqueIndex:idx_user_activity_unique,priority:2;not null"` // UTC midnight

	LoginCount    int64 `gorm:"not null"`
	MessageCount  int64 `gorm:"not null"`
	UploadCount   int64 `gorm:"not null"`
	DownloadCount int64 `gorm:"not null"`
	PageViews     int64 `gorm:"not null"`
	APICalls      int64 `gorm:"not null"`
	SessionSecs   int64 `gorm:"not null"`

	UpdatedAt time.Time
}

// SystemMetrics is the daily system-wide rollup, one row per date.
type SystemMetrics struct {
	ID uint `gorm:"primaryKey"`

	Date time.Time `gorm:"uniqueIndex;not null"` // UTC midnight

	ActiveUsers       int64   `gorm:"not null"`
	TotalEvents       int64   `gorm:"not null"`
	TotalAPICalls     int64   `gorm:"not null"`
	TotalMessages     int64   `gorm:"not null"`
	TotalStorageBytes int64   `gorm:"not null"`
	ErrorCount        int64   `gorm:"not null"`
	ErrorRate         float64 `gorm:"not null"` // percentage of events
	AvgResponseMs     float64 `gorm:"not null"`
	UptimePct         float64 `gorm:"not null;default:100"`

	UpdatedAt time.Time
}

// FeatureUsage is the daily per-feature rollup keyed by (feature, date).
type FeatureUsage struct {
	ID uint `gorm:"primaryKey"`

	FeatureName string    `gorm:"size:100;uniqueIndex:idx_feature_usage_unique,priority:1;not null"`
	Date        time.Time `gorm:"uniqueIndex:idx_feature_usage_unique,priority:2;not null"` // UTC midnight

	UsageCount  int64 `gorm:"not null"`
	UniqueUsers int64 `gorm:"not null"`

	UpdatedAt time.Time
}

// ErrorLog records an application error. The only permitted mutation is
// the one-way unresolved -> resolved transition.
type ErrorLog struct {
	ID string `gorm:"primaryKey;size:36"`

	Level         string `gorm:"size:20;index:idx_errors_level_time,priority:1"`
	Message       string
	ExceptionType string `gorm:"size:100;index"`
	StackTrace    string

	UserID  string            `gorm:"size:36"`
	Context datatypes.JSONMap `gorm:"type:json"`

	Resolved   bool       `gorm:"index:idx_errors_resolved_time,priority:1"`
	ResolvedBy string     `gorm:"size:36"`
	ResolvedAt *time.Time

	OccurredAt time.Time `gorm:"index:idx_errors_level_time,priority:2;index:idx_errors_resolved_time,priority:2;index"`
}

func (e *ErrorLog) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}

// Report statuses. Completed and failed are terminal.
const (
	ReportStatusPending   = "pending"
	ReportStatusRunning   = "running"
	ReportStatusCompleted = "completed"
	ReportStatusFailed    = "failed"
)

// Report types and output formats.
const (
	ReportTypeUserActivity  = "user_activity"
	ReportTypeSystemMetrics = "system_metrics"
	ReportTypeFeatureUsage  = "feature_usage"
	ReportTypeErrorLog      = "error_log"

	ReportFormatJSON = "json"
	ReportFormatCSV  = "csv"
)

// Report tracks one report request end to end: parameters, state machine,
// progress and the location of the produced artifact.
type Report struct {
	ID string `gorm:"primaryKey;size:36"`

	Name        string `gorm:"size:200"`
	ReportType  string `gorm:"size:50;index:idx_reports_type_status,priority:1"`
	Format      string `gorm:"size:10"`
	RequestedBy string `gorm:"size:36;index"`

	StartDate time.Time         `gorm:"not null"`
	EndDate   time.Time         `gorm:"not null"`
	Filters   datatypes.JSONMap `gorm:"type:json"`

	Status   string `gorm:"size:20;index:idx_reports_type_status,priority:2;index"`
	Progress int    `gorm:"not null"` // 0-100, monotonic

	OutputPath   string `gorm:"size:500"`
	OutputBytes  int64
	ErrorMessage string

	CreatedAt   time.Time `gorm:"index"`
	CompletedAt *time.Time
}

func (r *Report) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// Terminal reports whether no further status transition is allowed.
func (r *Report) Terminal() bool {
	return r.Status == ReportStatusCompleted || r.Status == ReportStatusFailed
}

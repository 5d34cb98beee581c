package analytics

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	dbpkg "pulse/internal/db"
)

var validEventTypes = map[string]bool{
	dbpkg.EventTypeUserAction: true,
	dbpkg.EventTypeSystem:     true,
	dbpkg.EventTypeError:      true,
	dbpkg.EventTypeFeature:    true,
}

// RequestContext carries the request-scoped attribution for an event.
// Passed explicitly on every call; the core keeps no ambient state.
type RequestContext struct {
	SessionID string
	IPAddress string
	UserAgent string
}

// TrackEventInput describes one event to ingest.
type TrackEventInput struct {
	// UserID is empty for anonymous or system events.
	UserID     string
	EventType  string
	EventName  string
	Properties map[string]any
	Request    RequestContext

	// OccurredAt defaults to now (UTC) when zero.
	OccurredAt time.Time
}

// Tracker is the write side of the event store.
type Tracker struct {
	db *gorm.DB
}

func NewTracker(gdb *gorm.DB) *Tracker {
	return &Tracker{db: gdb}
}

// TrackEvent appends one immutable analytics event. Safe for unlimited
// concurrent callers.
func (t *Tracker) TrackEvent(ctx context.Context, in TrackEventInput) (*dbpkg.AnalyticsEvent, error) {
	if !validEventTypes[in.EventType] {
		return nil, validationf("unknown event type %q", in.EventType)
	}
	if in.EventName == "" {
		return nil, validationf("event name is required")
	}

	props, err := normalizeProperties(in.Properties)
	if err != nil {
		return nil, err
	}

	occurredAt := in.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	event := &dbpkg.AnalyticsEvent{
		EventType:  in.EventType,
		EventName:  in.EventName,
		UserID:     in.UserID,
		SessionID:  in.Request.SessionID,
		IPAddress:  in.Request.IPAddress,
		UserAgent:  in.Request.UserAgent,
		Properties: props,
		OccurredAt: occurredAt.UTC(),
	}

	if err := t.db.WithContext(ctx).Create(event).Error; err != nil {
		return nil, dependency("insert analytics event", err)
	}

	count(eventsTracked, in.EventType)
	return event, nil
}

// normalizeProperties copies the caller's map into a JSONMap, admitting
// only the value types the report serializers can render deterministically:
// strings, numbers, bools and null.
func normalizeProperties(in map[string]any) (datatypes.JSONMap, error) {
	props := datatypes.JSONMap{}
	for k, v := range in {
		switch val := v.(type) {
		case nil, string, bool:
			props[k] = val
		case int:
			props[k] = float64(val)
		case int32:
			props[k] = float64(val)
		case int64:
			props[k] = float64(val)
		case float32:
			props[k] = float64(val)
		case float64:
			props[k] = val
		default:
			return nil, validationf("property %q has unsupported type %T", k, v)
		}
	}
	return props, nil
}

// propFloat reads a numeric property, tolerating the types normalization
// and JSON decoding can produce.
func propFloat(props datatypes.JSONMap, key string) (float64, bool) {
	v, ok := props[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}

package analytics

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	dbpkg "pulse/internal/db"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	// One connection keeps concurrent writers from tripping SQLite locks.
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, dbpkg.Migrate(gdb))
	return gdb
}

func seedEvent(t *testing.T, gdb *gorm.DB, eventType, eventName, userID string, at time.Time, props map[string]any) {
	t.Helper()
	tracker := NewTracker(gdb)
	_, err := tracker.TrackEvent(context.Background(), TrackEventInput{
		UserID:     userID,
		EventType:  eventType,
		EventName:  eventName,
		Properties: props,
		OccurredAt: at,
	})
	require.NoError(t, err)
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

package database

import (
	"time"

	"gorm.io/gorm"

	"example.com/backstage/services/provenance/internal/metrics"
)

const startTimeKey = "provenance:start_time"

// RegisterMetricsHooks records every create, query and update in the metrics collector
func RegisterMetricsHooks(db *gorm.DB) {
	db.Callback().Create().After("gorm:create").Register("metrics:create", recordQuery(metrics.DBQueryTypeInsert))
	db.Callback().Query().After("gorm:query").Register("metrics:query", recordQuery(metrics.DBQueryTypeSelect))
	db.Callback().Update().After("gorm:update").Register("metrics:update", recordQuery(metrics.DBQueryTypeUpdate))
	db.Callback().Delete().After("gorm:delete").Register("metrics:delete", recordQuery(metrics.DBQueryTypeDelete))
}

// RegisterDurationHooks stamps the start time of every operation
func RegisterDurationHooks(db *gorm.DB) {
	db.Callback().Create().Before("gorm:create").Register("duration:create", markStart)
	db.Callback().Query().Before("gorm:query").Register("duration:query", markStart)
	db.Callback().Update().Before("gorm:update").Register("duration:update", markStart)
	db.Callback().Delete().Before("gorm:delete").Register("duration:delete", markStart)
}

func markStart(db *gorm.DB) {
	db.InstanceSet(startTimeKey, time.Now())
}

func recordQuery(queryType string) func(*gorm.DB) {
	return func(db *gorm.DB) {
		success := db.Error == nil || db.Error == gorm.ErrRecordNotFound
		metrics.GetCollector().RecordDatabaseQuery(queryType, success, elapsed(db))
	}
}

func elapsed(db *gorm.DB) time.Duration {
	if start, ok := db.InstanceGet(startTimeKey); ok {
		if t, ok := start.(time.Time); ok {
			return time.Since(t)
		}
	}
	return 0
}

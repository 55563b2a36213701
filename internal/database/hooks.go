package database

import (
	"time"

	"example.com/backstage/services/calendar/internal/metrics"

	"gorm.io/gorm"
)

const startTimeKey = "calendar:start_time"

// RegisterMetricsHooks records per-operation timings and error rates
func RegisterMetricsHooks(db *gorm.DB, m *metrics.Metrics) {
	record := func(op string) func(*gorm.DB) {
		return func(tx *gorm.DB) {
			name := "db_" + op
			m.RecordTimer(name, getDuration(tx).Milliseconds())
			if tx.Error != nil && tx.Error != gorm.ErrRecordNotFound {
				m.RecordError(name)
				return
			}
			m.RecordSuccess(name)
		}
	}

	_ = db.Callback().Create().After("gorm:create").Register("metrics:create", record("insert"))
	_ = db.Callback().Query().After("gorm:query").Register("metrics:query", record("select"))
	_ = db.Callback().Update().After("gorm:update").Register("metrics:update", record("update"))
	_ = db.Callback().Delete().After("gorm:delete").Register("metrics:delete", record("delete"))
	_ = db.Callback().Raw().After("gorm:raw").Register("metrics:raw", record("raw"))
}

// RegisterDurationHooks stamps the start time before each operation
func RegisterDurationHooks(db *gorm.DB) {
	_ = db.Callback().Create().Before("gorm:create").Register("duration:create", stampStart)
	_ = db.Callback().Query().Before("gorm:query").Register("duration:query", stampStart)
	_ = db.Callback().Update().Before("gorm:update").Register("duration:update", stampStart)
	_ = db.Callback().Delete().Before("gorm:delete").Register("duration:delete", stampStart)
	_ = db.Callback().Raw().Before("gorm:raw").Register("duration:raw", stampStart)
}

func stampStart(tx *gorm.DB) {
	tx.InstanceSet(startTimeKey, time.Now())
}

func getDuration(tx *gorm.DB) time.Duration {
	if start, ok := tx.InstanceGet(startTimeKey); ok {
		return time.Since(start.(time.Time))
	}
	return 0
}

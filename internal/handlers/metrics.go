package handlers

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oceandive/divetrack/backend/internal/models"
	"github.com/oceandive/divetrack/backend/internal/services"
	"gorm.io/gorm"
)

var startTime = time.Now()

// MetricsHandler returns Prometheus-compatible text format metrics.
func MetricsHandler(db *gorm.DB, sink services.AuditSink) gin.HandlerFunc {
	return func(c *gin.Context) {
		var b strings.Builder

		// -- Runtime metrics --
		var m runtime.MemStats
		runtime.ReadMemStats(&m)

		writeGauge(&b, "divetrack_uptime_seconds", "Time since server start in seconds", float64(time.Since(startTime).Seconds()))
		writeGauge(&b, "divetrack_goroutines", "Number of active goroutines", float64(runtime.NumGoroutine()))
		writeGauge(&b, "divetrack_memory_alloc_bytes", "Current heap allocation in bytes", float64(m.Alloc))
		writeGauge(&b, "divetrack_memory_sys_bytes", "Total memory obtained from OS in bytes", float64(m.Sys))
		writeGauge(&b, "divetrack_gc_runs_total", "Total number of GC runs", float64(m.NumGC))

		// -- Database metrics --
		if db != nil {
			if sqlDB, err := db.DB(); err == nil {
				stats := sqlDB.Stats()
				writeGauge(&b, "divetrack_db_open_connections", "Number of open DB connections", float64(stats.OpenConnections))
				writeGauge(&b, "divetrack_db_in_use_connections", "Number of in-use DB connections", float64(stats.InUse))
				writeGauge(&b, "divetrack_db_idle_connections", "Number of idle DB connections", float64(stats.Idle))
			}
		}

		// -- Audit sink metrics --
		auditAsync := 0.0
		if sink != nil && sink.IsAsync() {
			auditAsync = 1.0
		}
		writeGauge(&b, "divetrack_audit_async_enabled", "Whether async audit sink (Redis) is enabled (1=yes, 0=no)", auditAsync)

		// -- Session metrics --
		if db != nil {
			now := time.Now()
			var activeSessions, revokedSessions, expiredSessions int64
			db.Model(&models.RefreshToken{}).Where("is_revoked = ? AND expires_at > ?", false, now).Count(&activeSessions)
			db.Model(&models.RefreshToken{}).Where("is_revoked = ?", true).Count(&revokedSessions)
			db.Model(&models.RefreshToken{}).Where("is_revoked = ? AND expires_at <= ?", false, now).Count(&expiredSessions)

			writeGauge(&b, "divetrack_sessions_active", "Number of usable refresh-token records", float64(activeSessions))
			writeGauge(&b, "divetrack_sessions_revoked", "Number of revoked refresh-token records", float64(revokedSessions))
			writeGauge(&b, "divetrack_sessions_expired", "Number of expired but unrevoked refresh-token records", float64(expiredSessions))

			// Users
			var userCount int64
			db.Model(&models.User{}).Where("deleted_at IS NULL AND is_active = ?", true).Count(&userCount)
			writeGauge(&b, "divetrack_users_active", "Number of active users", float64(userCount))

			// Audit activity (last 24h)
			since24h := now.Add(-24 * time.Hour)
			var auditEntries24h, reuseDetections24h int64
			db.Model(&models.AuditLog{}).Where("created_at >= ?", since24h).Count(&auditEntries24h)
			db.Model(&models.AuditLog{}).Where("action = ? AND created_at >= ?", models.AuditTokenReuseDetected, since24h).Count(&reuseDetections24h)

			writeGauge(&b, "divetrack_audit_entries_24h", "Audit entries recorded in the last 24 hours", float64(auditEntries24h))
			writeGauge(&b, "divetrack_token_reuse_detected_24h", "Refresh-token reuse detections in the last 24 hours", float64(reuseDetections24h))
		}

		c.Data(200, "text/plain; version=0.0.4; charset=utf-8", []byte(b.String()))
	}
}

func writeGauge(b *strings.Builder, name, help string, value float64) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s gauge\n", name)
	fmt.Fprintf(b, "%s %g\n\n", name, value)
}

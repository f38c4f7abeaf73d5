package analytics

import (
	"encoding/json"
	"errors"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// ErrInvalidExport 导入内容不是合法的统计数据文档
var ErrInvalidExport = errors.New("analytics: invalid export document")

// Export 将当前统计数据快照以 JSON 形式写入文件
func (r *Recorder) Export(path string) error {
	data := r.Data()
	buf, err := json.MarshalIndent(&data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, buf, os.ModePerm)
}

// Import 从先前导出的 JSON 文档恢复统计数据
//
// 采用宽容解析：顶层计数缺失时取 0，性能指标与审计日志中
// 无法解析的条目跳过并记录日志，而非整体失败。
// 导入会整体替换当前内存数据。
func (r *Recorder) Import(path string) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if !gjson.ValidBytes(buf) {
		return ErrInvalidExport
	}
	doc := gjson.ParseBytes(buf)
	if !doc.IsObject() {
		return ErrInvalidExport
	}

	logger := r.logger.WithField("path", path)
	data := Data{
		SuccessfulMigrations: int(doc.Get("successful_migrations").Int()),
		FailedMigrations:     int(doc.Get("failed_migrations").Int()),
		TotalMigrationTime:   time.Duration(doc.Get("total_migration_time").Int()),
		AverageMigrationTime: time.Duration(doc.Get("average_migration_time").Int()),
		LastError:            doc.Get("last_error").String(),
	}

	for _, raw := range doc.Get("performance_metrics").Array() {
		var metric PerformanceMetric
		if err := json.Unmarshal([]byte(raw.Raw), &metric); err != nil {
			logger.WithError(err).Warn("skipping unreadable performance metric")
			continue
		}
		data.PerformanceMetrics = append(data.PerformanceMetrics, metric)
	}
	for _, raw := range doc.Get("audit_log").Array() {
		var entry AuditEntry
		if err := json.Unmarshal([]byte(raw.Raw), &entry); err != nil {
			logger.WithError(err).Warn("skipping unreadable audit entry")
			continue
		}
		data.AuditLog = append(data.AuditLog, entry)
	}

	r.mu.Lock()
	r.data = data
	r.recomputeRateLocked()
	imported := r.data
	r.mu.Unlock()

	logger.WithFields(logrus.Fields{
		"metrics":       len(imported.PerformanceMetrics),
		"audit_entries": len(imported.AuditLog),
	}).Info("analytics data imported")

	r.persist(func(s *Store) error {
		if err := s.Reset(); err != nil {
			return err
		}
		for i := range imported.PerformanceMetrics {
			if err := s.AppendMetric(&imported.PerformanceMetrics[i]); err != nil {
				return err
			}
		}
		for i := range imported.AuditLog {
			if err := s.AppendAudit(&imported.AuditLog[i]); err != nil {
				return err
			}
		}
		return s.SaveCounters(imported)
	})
	return nil
}

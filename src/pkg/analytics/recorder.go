package analytics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	uuid "github.com/satori/go.uuid"
	"github.com/sirupsen/logrus"

	"github.com/schemaflow/schemaflow/src/pkg/memstats"
)

// Option Recorder 构造选项
type Option func(*Recorder)

// WithPrometheus 在给定的 Registerer 上注册迁移指标
func WithPrometheus(reg prometheus.Registerer) Option {
	return func(r *Recorder) {
		r.metrics = newMetrics(reg)
	}
}

// WithStore 启用 SQLite 持久化后端
// 构造时加载已有的聚合数据，之后所有记录操作写穿到存储
func WithStore(store *Store) Option {
	return func(r *Recorder) {
		r.store = store
	}
}

// Recorder 迁移统计与审计记录器
// 所有方法并发安全，可被多个编排器共享
type Recorder struct {
	mu      sync.RWMutex
	data    Data
	metrics *metrics
	store   *Store
	logger  *logrus.Entry
}

// NewRecorder 创建记录器
func NewRecorder(opts ...Option) (*Recorder, error) {
	r := &Recorder{
		logger: logrus.WithField("component", "analytics_recorder"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.store != nil {
		loaded, err := r.store.Load()
		if err != nil {
			return nil, err
		}
		r.data = *loaded
	}
	return r, nil
}

// RecordMigrationSuccess 记录一次成功的迁移
// 恰好递增一次成功计数，追加一条性能指标与一条成功审计日志
func (r *Recorder) RecordMigrationSuccess(report *MigrationReport) {
	metric := PerformanceMetric{
		ID:              newID(),
		FromVersion:     report.FromVersion,
		ToVersion:       report.ToVersion,
		Duration:        report.Duration,
		RecordsAffected: report.RecordsAffected,
		RSSBytes:        memstats.CurrentRSS(),
		RecordedAt:      time.Now(),
	}
	entry := AuditEntry{
		ID:        newID(),
		Timestamp: time.Now(),
		Event:     EventMigrationCompleted,
		Success:   true,
		Detail:    report.FromVersion + " -> " + report.ToVersion,
	}

	r.mu.Lock()
	r.data.SuccessfulMigrations++
	r.data.TotalMigrationTime += report.Duration
	r.data.AverageMigrationTime = r.data.TotalMigrationTime / time.Duration(r.data.SuccessfulMigrations)
	r.data.PerformanceMetrics = append(r.data.PerformanceMetrics, metric)
	r.data.AuditLog = append(r.data.AuditLog, entry)
	r.recomputeRateLocked()
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.observeSuccess(report.Duration)
	}
	r.persist(func(s *Store) error {
		if err := s.AppendMetric(&metric); err != nil {
			return err
		}
		if err := s.AppendAudit(&entry); err != nil {
			return err
		}
		return s.SaveCounters(r.Data())
	})
}

// RecordMigrationFailure 记录一次失败的迁移
func (r *Recorder) RecordMigrationFailure(err error) {
	entry := AuditEntry{
		ID:        newID(),
		Timestamp: time.Now(),
		Event:     EventMigrationFailed,
		Success:   false,
		Detail:    err.Error(),
	}

	r.mu.Lock()
	r.data.FailedMigrations++
	r.data.LastError = err.Error()
	r.data.AuditLog = append(r.data.AuditLog, entry)
	r.recomputeRateLocked()
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.observeFailure()
	}
	r.persist(func(s *Store) error {
		if err := s.AppendAudit(&entry); err != nil {
			return err
		}
		return s.SaveCounters(r.Data())
	})
}

// RecordAuditEvent 追加一条审计日志
// 备份、回滚、冲突等操作相关事件通过本方法进入审计轨迹
func (r *Recorder) RecordAuditEvent(event string, success bool, detail string) {
	entry := AuditEntry{
		ID:        newID(),
		Timestamp: time.Now(),
		Event:     event,
		Success:   success,
		Detail:    detail,
	}
	r.mu.Lock()
	r.data.AuditLog = append(r.data.AuditLog, entry)
	r.mu.Unlock()

	r.persist(func(s *Store) error {
		return s.AppendAudit(&entry)
	})
}

// Data 返回统计数据的只读快照
func (r *Recorder) Data() Data {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := r.data
	snapshot.PerformanceMetrics = append([]PerformanceMetric(nil), r.data.PerformanceMetrics...)
	snapshot.AuditLog = append([]AuditEntry(nil), r.data.AuditLog...)
	return snapshot
}

// Reset 清空全部计数与日志
// 仅用于测试隔离或显式的运维操作，编排器绝不隐式调用
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.data = Data{}
	r.mu.Unlock()

	r.persist(func(s *Store) error {
		return s.Reset()
	})
}

// recomputeRateLocked 重算成功率，两个计数都为 0 时为 0
func (r *Recorder) recomputeRateLocked() {
	total := r.data.SuccessfulMigrations + r.data.FailedMigrations
	if total == 0 {
		r.data.SuccessRate = 0
		return
	}
	r.data.SuccessRate = float64(r.data.SuccessfulMigrations) / float64(total)
}

// persist 写穿到持久化存储，失败只记日志不影响内存状态
func (r *Recorder) persist(fn func(*Store) error) {
	if r.store == nil {
		return
	}
	if err := fn(r.store); err != nil {
		r.logger.WithError(err).Warn("failed to persist analytics data")
	}
}

func newID() string {
	return strings.ReplaceAll(uuid.Must(uuid.NewV4()).String(), "-", "")
}

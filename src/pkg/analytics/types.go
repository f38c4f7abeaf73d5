// Package analytics 提供迁移结果统计与追加式审计日志
//
// Recorder 聚合迁移成功/失败计数、耗时与性能指标，可被多个编排器
// 安全共享；所有对外暴露的数据都是某一时刻的快照副本。
// 可选的 SQLite 持久化后端使统计在进程重启后仍然可用。
package analytics

import (
	"time"
)

// MigrationReport 一次迁移运行的汇报数据，由编排器在运行结束时构造
type MigrationReport struct {
	// FromVersion 起始版本
	FromVersion string `json:"from_version"`
	// ToVersion 目标版本
	ToVersion string `json:"to_version"`
	// Duration 运行耗时
	Duration time.Duration `json:"duration"`
	// RecordsAffected 受影响记录数
	RecordsAffected int64 `json:"records_affected"`
}

// PerformanceMetric 一次迁移运行的性能指标条目
type PerformanceMetric struct {
	// ID 条目唯一标识
	ID string `json:"id"`
	// FromVersion 起始版本
	FromVersion string `json:"from_version"`
	// ToVersion 目标版本
	ToVersion string `json:"to_version"`
	// Duration 运行耗时
	Duration time.Duration `json:"duration"`
	// RecordsAffected 受影响记录数
	RecordsAffected int64 `json:"records_affected"`
	// RSSBytes 运行结束时进程 RSS（采集失败时为 0）
	RSSBytes uint64 `json:"rss_bytes"`
	// RecordedAt 记录时间
	RecordedAt time.Time `json:"recorded_at"`
}

// AuditEntry 审计日志条目
type AuditEntry struct {
	// ID 条目唯一标识
	ID string `json:"id"`
	// Timestamp 事件时间
	Timestamp time.Time `json:"timestamp"`
	// Event 事件名（如 migration_completed / migration_failed / backup_created）
	Event string `json:"event"`
	// Success 事件是否成功
	Success bool `json:"success"`
	// Detail 事件详情
	Detail string `json:"detail,omitempty"`
}

// 常用审计事件名
const (
	// EventMigrationCompleted 迁移成功完成
	EventMigrationCompleted = "migration_completed"
	// EventMigrationFailed 迁移失败
	EventMigrationFailed = "migration_failed"
	// EventRollbackCompleted 回滚成功完成
	EventRollbackCompleted = "rollback_completed"
	// EventRollbackFailed 回滚失败（存储状态未知，最严重事件）
	EventRollbackFailed = "rollback_failed"
	// EventBackupCreated 备份创建
	EventBackupCreated = "backup_created"
	// EventBackupRestored 备份恢复
	EventBackupRestored = "backup_restored"
	// EventConflictDetected 检测到数据冲突
	EventConflictDetected = "conflict_detected"
	// EventValidationFailed 模式校验失败
	EventValidationFailed = "validation_failed"
)

// Data 统计数据快照
type Data struct {
	// SuccessfulMigrations 成功迁移次数
	SuccessfulMigrations int `json:"successful_migrations"`
	// FailedMigrations 失败迁移次数
	FailedMigrations int `json:"failed_migrations"`
	// TotalMigrationTime 成功迁移累计耗时
	TotalMigrationTime time.Duration `json:"total_migration_time"`
	// AverageMigrationTime 成功迁移平均耗时
	AverageMigrationTime time.Duration `json:"average_migration_time"`
	// SuccessRate 成功率，无任何运行时为 0
	SuccessRate float64 `json:"success_rate"`
	// LastError 最近一次失败的错误描述
	LastError string `json:"last_error,omitempty"`
	// PerformanceMetrics 按时间顺序排列的性能指标
	PerformanceMetrics []PerformanceMetric `json:"performance_metrics,omitempty"`
	// AuditLog 按时间顺序排列的审计日志
	AuditLog []AuditEntry `json:"audit_log,omitempty"`
}

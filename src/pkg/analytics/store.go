package analytics

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Store 统计数据的 SQLite 持久化后端
// 表结构由嵌入的迁移文件管理，打开时自动升级到最新版本
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// NewStore 打开（必要时创建）统计数据库
func NewStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create analytics db directory: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open analytics db: %w", err)
	}
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate analytics db: %w", err)
	}
	return &Store{db: db}, nil
}

// runMigrations 将嵌入的迁移应用到数据库
func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(embeddedMigrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create iofs source: %w", err)
	}
	dbDriver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	mig, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	if err := mig.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	return s.db.Close()
}

// Load 读取全部持久化数据
func (s *Store) Load() (*Data, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data := &Data{}
	row := s.db.QueryRow(`SELECT successful_migrations, failed_migrations,
		total_migration_time, average_migration_time, success_rate, last_error
		FROM counters WHERE id = 1`)
	err := row.Scan(&data.SuccessfulMigrations, &data.FailedMigrations,
		&data.TotalMigrationTime, &data.AverageMigrationTime,
		&data.SuccessRate, &data.LastError)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to load counters: %w", err)
	}

	rows, err := s.db.Query(`SELECT id, from_version, to_version, duration_ns,
		records_affected, rss_bytes, recorded_at
		FROM performance_metrics ORDER BY recorded_at ASC, rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to load performance metrics: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var m PerformanceMetric
		var recordedAt int64
		if err := rows.Scan(&m.ID, &m.FromVersion, &m.ToVersion, &m.Duration,
			&m.RecordsAffected, &m.RSSBytes, &recordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan performance metric: %w", err)
		}
		m.RecordedAt = time.Unix(0, recordedAt)
		data.PerformanceMetrics = append(data.PerformanceMetrics, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	auditRows, err := s.db.Query(`SELECT id, timestamp, event, success, detail
		FROM audit_log ORDER BY timestamp ASC, rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to load audit log: %w", err)
	}
	defer auditRows.Close()
	for auditRows.Next() {
		var e AuditEntry
		var ts int64
		if err := auditRows.Scan(&e.ID, &ts, &e.Event, &e.Success, &e.Detail); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Timestamp = time.Unix(0, ts)
		data.AuditLog = append(data.AuditLog, e)
	}
	if err := auditRows.Err(); err != nil {
		return nil, err
	}
	return data, nil
}

// SaveCounters 覆盖写入聚合计数
func (s *Store) SaveCounters(data Data) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`INSERT INTO counters (id, successful_migrations, failed_migrations,
		total_migration_time, average_migration_time, success_rate, last_error)
		VALUES (1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			successful_migrations = excluded.successful_migrations,
			failed_migrations = excluded.failed_migrations,
			total_migration_time = excluded.total_migration_time,
			average_migration_time = excluded.average_migration_time,
			success_rate = excluded.success_rate,
			last_error = excluded.last_error`,
		data.SuccessfulMigrations, data.FailedMigrations,
		int64(data.TotalMigrationTime), int64(data.AverageMigrationTime),
		data.SuccessRate, data.LastError)
	return err
}

// AppendMetric 追加一条性能指标
func (s *Store) AppendMetric(m *PerformanceMetric) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`INSERT INTO performance_metrics
		(id, from_version, to_version, duration_ns, records_affected, rss_bytes, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.FromVersion, m.ToVersion, int64(m.Duration),
		m.RecordsAffected, m.RSSBytes, m.RecordedAt.UnixNano())
	return err
}

// AppendAudit 追加一条审计日志
func (s *Store) AppendAudit(e *AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`INSERT INTO audit_log (id, timestamp, event, success, detail)
		VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.Timestamp.UnixNano(), e.Event, e.Success, e.Detail)
	return err
}

// Reset 清空全部持久化数据
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, stmt := range []string{
		`DELETE FROM counters`,
		`DELETE FROM performance_metrics`,
		`DELETE FROM audit_log`,
	} {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Package orchestrator 实现迁移编排核心状态机
//
// 编排器把版本路径解析、备份、逐步执行、冲突解决、模式校验和统计记录
// 串成一次完整的迁移或回滚运行，保证存储要么到达目标版本、要么被完整
// 回滚、要么以带备份的显式失败状态留给人工处理。
//
// 单个存储实例同一时刻只允许一次 Migrate/Rollback 在途，跨进程的互斥
// 由调用方负责；编排器内部用互斥锁拒绝同实例的并发调用。
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/schemaflow/schemaflow/src/pkg/analytics"
	"github.com/schemaflow/schemaflow/src/pkg/backup"
	"github.com/schemaflow/schemaflow/src/pkg/conflict"
	"github.com/schemaflow/schemaflow/src/pkg/sentry"
	"github.com/schemaflow/schemaflow/src/pkg/store"
	"github.com/schemaflow/schemaflow/src/pkg/validate"
	"github.com/schemaflow/schemaflow/src/pkg/version"
)

var (
	// ErrMigrationInProgress 同一编排器实例上已有迁移或回滚在途
	ErrMigrationInProgress = errors.New("another migration or rollback is in progress")
	// ErrBackupCreationFailed 迁移前备份创建失败
	ErrBackupCreationFailed = errors.New("backup creation failed")
	// ErrSchemaValidationFailed 模式校验失败
	ErrSchemaValidationFailed = errors.New("schema validation failed")
	// ErrConflictUnresolved 高严重度冲突未能自动解决
	ErrConflictUnresolved = errors.New("high severity conflict requires manual intervention")
	// ErrStepFailed 迁移步骤执行失败
	ErrStepFailed = errors.New("migration step failed")
	// ErrNoRollbackAvailable 迁移历史为空，无可回滚的记录
	ErrNoRollbackAvailable = errors.New("no migration record available for rollback")
	// ErrRollbackFailed 回滚本身失败，存储状态与任何已知版本均无保证对应
	// 这是最严重的错误类别，必须与普通迁移失败区分开
	ErrRollbackFailed = errors.New("rollback failed, store state is unknown and requires manual recovery")
)

// ValidationError 携带逐项错误列表的校验失败
// errors.Is(err, ErrSchemaValidationFailed) 恒为真
type ValidationError struct {
	Result *validate.Result
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: [%s]", ErrSchemaValidationFailed, strings.Join(e.Result.Errors, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrSchemaValidationFailed
}

// State 编排器状态
type State string

const (
	StateIdle        State = "idle"
	StatePreparing   State = "preparing"
	StateMigrating   State = "migrating"
	StateValidating  State = "validating"
	StateRollingBack State = "rollingBack"
	StateCompleted   State = "completed"
)

// ProgressFunc 进度回调
// 以放飞的 goroutine 异步调用，绝不阻塞编排线程；percent 在一次运行内
// 单调非降且落在 [0,100]
type ProgressFunc func(percent int, stage State)

// MigrationRecord 迁移历史条目
// 仅在 Migrate 成功完成时追加；Rollback 成功时弹出最近一条而非追加
// 反向条目，保证历史与实际到达过的版本一一对应
type MigrationRecord struct {
	// FromVersion 迁移起始版本
	FromVersion string `json:"from_version"`
	// ToVersion 迁移到达版本
	ToVersion string `json:"to_version"`
	// Timestamp 完成时间
	Timestamp time.Time `json:"timestamp"`
	// Duration 运行耗时
	Duration time.Duration `json:"duration"`
	// Success 是否成功（历史中只保留成功完成的迁移）
	Success bool `json:"success"`
}

// MigrationResult 一次迁移运行的结果
type MigrationResult struct {
	Success bool `json:"success"`
	// FromVersion 起始版本
	FromVersion string `json:"from_version"`
	// ToVersion 到达版本
	ToVersion string `json:"to_version"`
	// Duration 运行耗时
	Duration time.Duration `json:"duration"`
	// StepsApplied 已应用的步骤数
	StepsApplied int `json:"steps_applied"`
	// RecordsAffected 受影响记录总数
	RecordsAffected int64 `json:"records_affected"`
	// ConflictsResolved 自动解决的冲突数
	ConflictsResolved int `json:"conflicts_resolved"`
}

// RollbackResult 一次回滚运行的结果
type RollbackResult struct {
	Success bool `json:"success"`
	// FromVersion 回滚起始版本
	FromVersion string `json:"from_version"`
	// TargetVersion 回滚到达版本
	TargetVersion string `json:"target_version"`
	// Duration 运行耗时
	Duration time.Duration `json:"duration"`
	// StepsApplied 已应用的回滚步骤数
	StepsApplied int `json:"steps_applied"`
}

// Config 编排器配置，构造后不再修改
type Config struct {
	// CurrentVersion 存储当前所处版本
	CurrentVersion string `json:"current_version" yaml:"current_version"`
	// TargetVersion 迁移目标版本
	TargetVersion string `json:"target_version" yaml:"target_version"`
	// EnableRollback 失败时是否自动回滚
	EnableRollback bool `json:"enable_rollback" yaml:"enable_rollback"`
	// EnableBackup 迁移前是否创建备份
	EnableBackup bool `json:"enable_backup" yaml:"enable_backup"`
	// EnableAnalytics 是否记录统计与审计数据
	EnableAnalytics bool `json:"enable_analytics" yaml:"enable_analytics"`
	// BatchSize 批量迁移时的并发上限
	BatchSize int `json:"batch_size" yaml:"batch_size"`
}

// Verify 校验配置
func (c *Config) Verify() error {
	if _, err := version.Parse(c.CurrentVersion); err != nil {
		return fmt.Errorf("%w: %v", version.ErrInvalidCurrentVersion, err)
	}
	if _, err := version.Parse(c.TargetVersion); err != nil {
		return fmt.Errorf("%w: %v", version.ErrInvalidTargetVersion, err)
	}
	if c.BatchSize < 0 {
		return fmt.Errorf("batch size cannot be negative: %d", c.BatchSize)
	}
	return nil
}

// Option 编排器构造选项
type Option func(*Orchestrator)

// WithBackupManager 设置备份管理器，EnableBackup 为真时必须提供
func WithBackupManager(m *backup.Manager) Option {
	return func(o *Orchestrator) { o.backups = m }
}

// WithRecorder 设置统计记录器，可被多个编排器共享
func WithRecorder(r *analytics.Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithConflictResolver 替换默认冲突解决器
func WithConflictResolver(r *conflict.Resolver) Option {
	return func(o *Orchestrator) { o.resolver = r }
}

// WithValidationEngine 替换默认校验引擎
func WithValidationEngine(e *validate.Engine) Option {
	return func(o *Orchestrator) { o.validator = e }
}

// WithHistoryFile 将迁移历史持久化到文件
// 构造时加载已有历史，之后每次追加或弹出都写回；没有历史文件时
// 历史只保存在进程内存中
func WithHistoryFile(path string) Option {
	return func(o *Orchestrator) { o.historyFile = path }
}

// Orchestrator 迁移编排器
// 每个实例独占自己的状态机变量与迁移历史，不同实例之间不共享可变状态
// （显式传入的共享 Recorder 除外，其内部自行保证并发安全）
type Orchestrator struct {
	config    *Config
	adapter   store.Adapter
	registry  *version.Registry
	resolver  *conflict.Resolver
	validator *validate.Engine
	backups   *backup.Manager
	recorder  *analytics.Recorder
	logger    *logrus.Entry

	mu           sync.Mutex
	running      bool
	state        State
	current      version.Version
	history      []*MigrationRecord
	historyFile  string
	lastProgress int
}

// New 创建编排器
func New(cfg *Config, adapter store.Adapter, registry *version.Registry, opts ...Option) (*Orchestrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if adapter == nil {
		return nil, fmt.Errorf("store adapter cannot be nil")
	}
	if registry == nil {
		return nil, fmt.Errorf("step registry cannot be nil")
	}
	if err := cfg.Verify(); err != nil {
		return nil, err
	}

	o := &Orchestrator{
		config:    cfg,
		adapter:   adapter,
		registry:  registry,
		resolver:  conflict.NewResolver(),
		validator: validate.NewEngine(nil),
		state:     StateIdle,
		current:   version.MustParse(cfg.CurrentVersion),
		logger: logrus.WithFields(logrus.Fields{
			"component":      "orchestrator",
			"store_location": adapter.Location(),
		}),
	}
	for _, opt := range opts {
		opt(o)
	}
	if cfg.EnableBackup && o.backups == nil {
		return nil, fmt.Errorf("backup is enabled but no backup manager configured")
	}
	if o.historyFile != "" {
		if err := o.loadHistory(); err != nil {
			return nil, fmt.Errorf("failed to load migration history: %w", err)
		}
	}
	return o, nil
}

// loadHistory 从历史文件恢复迁移历史，文件不存在时历史为空
func (o *Orchestrator) loadHistory() error {
	b, err := os.ReadFile(o.historyFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(b, &o.history)
}

// persistHistoryLocked 把当前历史写回历史文件，失败只记日志
func (o *Orchestrator) persistHistoryLocked() {
	if o.historyFile == "" {
		return
	}
	b, err := json.MarshalIndent(o.history, "", "  ")
	if err == nil {
		err = os.WriteFile(o.historyFile, b, 0644)
	}
	if err != nil {
		o.logger.WithError(err).Warn("failed to persist migration history")
	}
}

// State 返回当前状态
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// CurrentVersion 返回存储当前所处版本
func (o *Orchestrator) CurrentVersion() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current.String()
}

// History 返回迁移历史的副本，最旧的在前
func (o *Orchestrator) History() []*MigrationRecord {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]*MigrationRecord, len(o.history))
	for i, r := range o.history {
		c := *r
		out[i] = &c
	}
	return out
}

// begin 占用编排器，拒绝同实例并发运行
func (o *Orchestrator) begin() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return ErrMigrationInProgress
	}
	o.running = true
	o.lastProgress = 0
	return nil
}

func (o *Orchestrator) end() {
	o.mu.Lock()
	o.running = false
	o.mu.Unlock()
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// reportProgress 异步派发进度回调
// percent 被钳制为单调非降；回调在带 panic 恢复的 goroutine 中执行，
// 缓慢或出错的回调不会影响迁移本身
func (o *Orchestrator) reportProgress(handler ProgressFunc, percent int, stage State) {
	if handler == nil {
		return
	}
	o.mu.Lock()
	if percent < o.lastProgress {
		percent = o.lastProgress
	}
	if percent > 100 {
		percent = 100
	}
	o.lastProgress = percent
	o.mu.Unlock()

	p := percent
	sentry.Go(func() {
		handler(p, stage)
	})
}

// audit 在启用统计时追加一条审计日志
func (o *Orchestrator) audit(event string, success bool, detail string) {
	if !o.config.EnableAnalytics || o.recorder == nil {
		return
	}
	o.recorder.RecordAuditEvent(event, success, detail)
}

// recordFailure 在启用统计时记录一次迁移失败
func (o *Orchestrator) recordFailure(err error) {
	if !o.config.EnableAnalytics || o.recorder == nil {
		return
	}
	o.recorder.RecordMigrationFailure(err)
}

// Migrate 执行一次从当前版本到目标版本的迁移
//
// 阶段依次为 preparing（路径解析、备份、前置校验）、migrating（顺序
// 执行步骤并路由冲突）、validating（后置校验）。任何致使中止的失败都会
// 先记录统计失败，再在启用回滚时尝试恢复，最后把原始错误返回给调用方；
// 回滚只是返回途中的副作用，不替代失败上报。
func (o *Orchestrator) Migrate(ctx context.Context, handler ProgressFunc) (*MigrationResult, error) {
	if err := o.begin(); err != nil {
		return nil, err
	}
	defer o.end()

	start := time.Now()
	fromV := o.current
	targetV, err := version.Parse(o.config.TargetVersion)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", version.ErrInvalidTargetVersion, err)
	}

	logger := o.logger.WithFields(logrus.Fields{
		"from_version": fromV.String(),
		"to_version":   targetV.String(),
	})
	logger.Info("migration started")

	// preparing: 路径解析
	o.setState(StatePreparing)
	o.reportProgress(handler, 0, StatePreparing)

	path, err := o.registry.ResolvePathVersions(fromV, targetV)
	if err != nil {
		o.setState(StateIdle)
		o.recordFailure(err)
		return nil, err
	}

	// preparing: 备份，失败在任何变更之前中止
	var backupMeta *backup.Metadata
	if o.config.EnableBackup {
		backupMeta, err = o.backups.CreateBackup(ctx, o.adapter, fromV)
		if err != nil {
			o.setState(StateIdle)
			wrapped := fmt.Errorf("%w: %v", ErrBackupCreationFailed, err)
			o.audit(analytics.EventBackupCreated, false, err.Error())
			o.recordFailure(wrapped)
			logger.WithError(err).Error("backup creation failed, migration aborted")
			return nil, wrapped
		}
		o.audit(analytics.EventBackupCreated, true, backupMeta.ID)
		logger.WithField("backup_id", backupMeta.ID).Info("backup created")
	}
	o.reportProgress(handler, 5, StatePreparing)

	// preparing: 前置校验，失败时尚未发生变更，无须回滚
	preResult, err := o.validator.Validate(ctx, o.adapter)
	if err != nil {
		o.setState(StateIdle)
		o.recordFailure(err)
		return nil, err
	}
	if !preResult.Valid {
		o.setState(StateIdle)
		verr := &ValidationError{Result: preResult}
		o.audit(analytics.EventValidationFailed, false, verr.Error())
		o.recordFailure(verr)
		logger.WithField("errors", preResult.Errors).Error("pre-migration validation failed")
		return nil, verr
	}
	o.reportProgress(handler, 10, StatePreparing)

	// migrating: 顺序执行步骤，等待每一步完成后再开始下一步
	o.setState(StateMigrating)
	result := &MigrationResult{FromVersion: fromV.String(), ToVersion: targetV.String()}
	var applied []*version.Step

	for i, step := range path {
		// 取消只在步骤边界生效，步骤本身对编排器而言是原子的
		if err := ctx.Err(); err != nil {
			return nil, o.abort(ctx, logger, handler, err, backupMeta, applied)
		}

		outcome, err := o.adapter.ApplyStep(ctx, step)
		if err != nil {
			wrapped := fmt.Errorf("%w: %s: %v", ErrStepFailed, step.TargetVersion, err)
			return nil, o.abort(ctx, logger, handler, wrapped, backupMeta, applied)
		}
		applied = append(applied, step)
		result.StepsApplied++
		result.RecordsAffected += outcome.RecordsAffected

		for _, c := range outcome.Conflicts {
			res := o.resolver.Resolve(c)
			o.audit(analytics.EventConflictDetected, res.Outcome == conflict.OutcomeResolved,
				fmt.Sprintf("%s: %s -> %s", c.Type, c.Description, res.Outcome))
			switch res.Outcome {
			case conflict.OutcomeResolved:
				result.ConflictsResolved++
			case conflict.OutcomeManual, conflict.OutcomeUnresolved:
				if c.Severity >= conflict.SeverityHigh {
					wrapped := fmt.Errorf("%w: %s (%s)", ErrConflictUnresolved, c.Description, c.Severity)
					return nil, o.abort(ctx, logger, handler, wrapped, backupMeta, applied)
				}
				// 低严重度的人工冲突记录后继续
				logger.WithFields(logrus.Fields{
					"conflict_type": string(c.Type),
					"severity":      c.Severity.String(),
				}).Warn("conflict left for manual resolution")
			}
		}

		o.reportProgress(handler, 10+(i+1)*80/len(path), StateMigrating)
	}

	// validating: 后置校验，失败在启用回滚时触发回滚
	o.setState(StateValidating)
	o.reportProgress(handler, 95, StateValidating)

	postResult, err := o.validator.Validate(ctx, o.adapter)
	if err != nil {
		return nil, o.abort(ctx, logger, handler, err, backupMeta, applied)
	}
	if !postResult.Valid {
		verr := &ValidationError{Result: postResult}
		o.audit(analytics.EventValidationFailed, false, verr.Error())
		return nil, o.abort(ctx, logger, handler, verr, backupMeta, applied)
	}

	// 成功：恰好追加一条历史记录并恰好递增一次成功计数
	result.Success = true
	result.Duration = time.Since(start)

	o.mu.Lock()
	o.current = targetV
	o.history = append(o.history, &MigrationRecord{
		FromVersion: fromV.String(),
		ToVersion:   targetV.String(),
		Timestamp:   time.Now(),
		Duration:    result.Duration,
		Success:     true,
	})
	o.persistHistoryLocked()
	o.mu.Unlock()

	if o.config.EnableAnalytics && o.recorder != nil {
		o.recorder.RecordMigrationSuccess(&analytics.MigrationReport{
			FromVersion:     fromV.String(),
			ToVersion:       targetV.String(),
			Duration:        result.Duration,
			RecordsAffected: result.RecordsAffected,
		})
	}

	o.setState(StateCompleted)
	o.reportProgress(handler, 100, StateCompleted)
	logger.WithFields(logrus.Fields{
		"duration":           result.Duration.String(),
		"steps_applied":      result.StepsApplied,
		"records_affected":   result.RecordsAffected,
		"conflicts_resolved": result.ConflictsResolved,
	}).Info("migration completed")
	return result, nil
}

// abort 处理迁移中止：记录失败、按配置尝试恢复、返回给调用方的最终错误
//
// 恢复成功时返回原始错误（调用方可知存储已还原）；恢复失败时返回
// ErrRollbackFailed 包装的错误，与普通迁移失败严格区分
func (o *Orchestrator) abort(ctx context.Context, logger *logrus.Entry, handler ProgressFunc,
	cause error, backupMeta *backup.Metadata, applied []*version.Step) error {

	o.audit(analytics.EventMigrationFailed, false, cause.Error())
	o.recordFailure(cause)
	logger.WithError(cause).Error("migration aborted")

	if !o.config.EnableRollback {
		o.setState(StateIdle)
		return cause
	}

	o.setState(StateRollingBack)
	// percent 0 会被钳制到当前进度，保持单调
	o.reportProgress(handler, 0, StateRollingBack)

	// 恢复动作不受原调用取消的影响，否则取消触发的回滚必然失败
	if err := o.recover(context.WithoutCancel(ctx), backupMeta, applied); err != nil {
		o.audit(analytics.EventRollbackFailed, false, err.Error())
		logger.WithError(err).Error("rollback failed, store state is unknown")
		return fmt.Errorf("%w: %v (original failure: %v)", ErrRollbackFailed, err, cause)
	}

	o.audit(analytics.EventRollbackCompleted, true, "store restored after failed migration")
	o.setState(StateCompleted)
	logger.Info("store restored after failed migration")
	return cause
}

// recover 将存储恢复到迁移开始前的状态
// 优先用本次运行创建的备份整体恢复，无备份时按相反顺序应用已执行
// 步骤的回滚操作
func (o *Orchestrator) recover(ctx context.Context, backupMeta *backup.Metadata, applied []*version.Step) error {
	if backupMeta != nil {
		if err := o.backups.RestoreBackup(ctx, o.adapter, backupMeta); err != nil {
			return err
		}
		o.audit(analytics.EventBackupRestored, true, backupMeta.ID)
		return nil
	}
	for i := len(applied) - 1; i >= 0; i-- {
		step := applied[i]
		if !step.CanRollback() {
			return fmt.Errorf("step %s has no rollback operations", step.TargetVersion)
		}
		if _, err := o.adapter.ApplyRollbackStep(ctx, step); err != nil {
			return fmt.Errorf("rollback of step %s: %w", step.TargetVersion, err)
		}
	}
	return nil
}

// Rollback 回滚最近一次成功的迁移
//
// target 为空时默认回滚到最近一条历史记录的起始版本。按正向步骤的
// 相反顺序应用回滚操作；成功后弹出最近一条 MigrationRecord。回滚步骤
// 本身失败时返回 ErrRollbackFailed，存储状态不再与任何已知版本对应。
func (o *Orchestrator) Rollback(ctx context.Context, target string) (*RollbackResult, error) {
	if err := o.begin(); err != nil {
		return nil, err
	}
	defer o.end()

	o.mu.Lock()
	if len(o.history) == 0 {
		o.mu.Unlock()
		return nil, ErrNoRollbackAvailable
	}
	last := o.history[len(o.history)-1]
	fromV := o.current
	o.mu.Unlock()

	if target == "" {
		target = last.FromVersion
	}
	targetV, err := version.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", version.ErrInvalidTargetVersion, err)
	}

	logger := o.logger.WithFields(logrus.Fields{
		"from_version":   fromV.String(),
		"target_version": targetV.String(),
	})
	logger.Info("rollback started")

	start := time.Now()
	o.setState(StateRollingBack)

	path, err := o.registry.ResolveRollbackPath(fromV, targetV)
	if err != nil {
		o.setState(StateIdle)
		o.audit(analytics.EventRollbackFailed, false, err.Error())
		return nil, err
	}

	result := &RollbackResult{FromVersion: fromV.String(), TargetVersion: targetV.String()}
	for _, step := range path {
		if err := ctx.Err(); err != nil {
			o.audit(analytics.EventRollbackFailed, false, err.Error())
			return nil, fmt.Errorf("%w: %v", ErrRollbackFailed, err)
		}
		if _, err := o.adapter.ApplyRollbackStep(ctx, step); err != nil {
			o.audit(analytics.EventRollbackFailed, false, err.Error())
			logger.WithError(err).WithField("step", step.TargetVersion.String()).
				Error("rollback step failed, store state is unknown")
			return nil, fmt.Errorf("%w: step %s: %v", ErrRollbackFailed, step.TargetVersion, err)
		}
		result.StepsApplied++
	}

	result.Success = true
	result.Duration = time.Since(start)

	// 回滚将这次正向迁移从历史中移除，而不是追加反向条目
	o.mu.Lock()
	o.history = o.history[:len(o.history)-1]
	o.current = targetV
	o.persistHistoryLocked()
	o.mu.Unlock()

	o.audit(analytics.EventRollbackCompleted, true,
		fmt.Sprintf("%s -> %s", fromV, targetV))
	o.setState(StateCompleted)
	logger.WithField("duration", result.Duration.String()).Info("rollback completed")
	return result, nil
}

// ValidateSchema 独立执行一次模式校验，不触发任何迁移
func (o *Orchestrator) ValidateSchema(ctx context.Context) (*validate.Result, error) {
	return o.validator.Validate(ctx, o.adapter)
}

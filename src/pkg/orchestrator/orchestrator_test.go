package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/schemaflow/schemaflow/src/pkg/analytics"
	"github.com/schemaflow/schemaflow/src/pkg/backup"
	"github.com/schemaflow/schemaflow/src/pkg/conflict"
	"github.com/schemaflow/schemaflow/src/pkg/store"
	storemock "github.com/schemaflow/schemaflow/src/pkg/store/mock"
	"github.com/schemaflow/schemaflow/src/pkg/validate"
	"github.com/schemaflow/schemaflow/src/pkg/version"
)

func newTestRegistry(t *testing.T) *version.Registry {
	t.Helper()
	reg := version.NewRegistry()
	reg.MustRegister(&version.Step{
		Description:   "create users table",
		TargetVersion: version.MustParse("2.0.0"),
		Up:            []version.Operation{{Kind: version.OpAddTable, Table: "users"}},
		Down:          []version.Operation{{Kind: version.OpDropTable, Table: "users"}},
	})
	reg.MustRegister(&version.Step{
		Description:   "create orders table",
		TargetVersion: version.MustParse("3.0.0"),
		Up:            []version.Operation{{Kind: version.OpAddTable, Table: "orders"}},
		Down:          []version.Operation{{Kind: version.OpDropTable, Table: "orders"}},
	})
	return reg
}

func newTestAdapter(t *testing.T) *store.MemoryAdapter {
	t.Helper()
	adapter, err := store.NewMemoryAdapter(filepath.Join(t.TempDir(), "store.json"))
	require.NoError(t, err)
	return adapter
}

func newTestBackupManager(t *testing.T) *backup.Manager {
	t.Helper()
	m, err := backup.NewManager(t.TempDir(), 0, "")
	require.NoError(t, err)
	return m
}

func TestMigrateSuccess(t *testing.T) {
	adapter := newTestAdapter(t)
	recorder, err := analytics.NewRecorder()
	require.NoError(t, err)

	o, err := New(&Config{
		CurrentVersion:  "1.0.0",
		TargetVersion:   "2.0.0",
		EnableRollback:  true,
		EnableBackup:    true,
		EnableAnalytics: true,
	}, adapter, newTestRegistry(t),
		WithBackupManager(newTestBackupManager(t)),
		WithRecorder(recorder))
	require.NoError(t, err)

	result, err := o.Migrate(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "1.0.0", result.FromVersion)
	assert.Equal(t, "2.0.0", result.ToVersion)
	assert.Equal(t, 1, result.StepsApplied)
	assert.Equal(t, StateCompleted, o.State())
	assert.Equal(t, "2.0.0", o.CurrentVersion())

	// 历史恰好一条记录，成功计数恰好加一
	history := o.History()
	require.Len(t, history, 1)
	assert.Equal(t, "1.0.0", history[0].FromVersion)
	assert.Equal(t, "2.0.0", history[0].ToVersion)
	assert.True(t, history[0].Success)

	data := recorder.Data()
	assert.Equal(t, 1, data.SuccessfulMigrations)
	assert.Zero(t, data.FailedMigrations)

	desc, err := adapter.ReadSchemaDescriptor(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, desc.Table("users"))
}

func TestMigrateSameVersionRejected(t *testing.T) {
	o, err := New(&Config{
		CurrentVersion: "2.0.0",
		TargetVersion:  "2.0.0",
	}, newTestAdapter(t), newTestRegistry(t))
	require.NoError(t, err)

	_, err = o.Migrate(context.Background(), nil)
	assert.ErrorIs(t, err, version.ErrSameVersionMigration)
	assert.Empty(t, o.History())
}

func TestMigrateBackupFailureAbortsBeforeMutation(t *testing.T) {
	ctrl := gomock.NewController(t)
	adapter := storemock.NewMockAdapter(ctrl)
	adapter.EXPECT().Location().Return("mock://store").AnyTimes()
	adapter.EXPECT().CopyStoreTo(gomock.Any(), gomock.Any()).Return(errors.New("disk full"))
	// ApplyStep 绝不允许被调用：备份失败必须发生在任何变更之前

	recorder, err := analytics.NewRecorder()
	require.NoError(t, err)
	o, err := New(&Config{
		CurrentVersion:  "1.0.0",
		TargetVersion:   "2.0.0",
		EnableBackup:    true,
		EnableRollback:  true,
		EnableAnalytics: true,
	}, adapter, newTestRegistry(t),
		WithBackupManager(newTestBackupManager(t)),
		WithRecorder(recorder))
	require.NoError(t, err)

	_, err = o.Migrate(context.Background(), nil)
	assert.ErrorIs(t, err, ErrBackupCreationFailed)
	assert.Equal(t, 1, recorder.Data().FailedMigrations)
	assert.Empty(t, o.History())
}

func TestMigratePreValidationFailureNoRollback(t *testing.T) {
	adapter := newTestAdapter(t)
	recorder, err := analytics.NewRecorder()
	require.NoError(t, err)

	// 前置校验要求的表不存在，必须在任何变更之前中止
	o, err := New(&Config{
		CurrentVersion:  "1.0.0",
		TargetVersion:   "2.0.0",
		EnableRollback:  true,
		EnableAnalytics: true,
	}, adapter, newTestRegistry(t),
		WithValidationEngine(validate.NewEngine([]string{"accounts"})),
		WithRecorder(recorder))
	require.NoError(t, err)

	_, err = o.Migrate(context.Background(), nil)
	assert.ErrorIs(t, err, ErrSchemaValidationFailed)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Result.Errors, 1)
	assert.Equal(t, 1, recorder.Data().FailedMigrations)
	assert.Equal(t, "1.0.0", o.CurrentVersion())
}

func TestMigratePostValidationFailureTriggersRollback(t *testing.T) {
	adapter := newTestAdapter(t)
	adapter.SetSchema(store.SchemaDescriptor{Tables: []store.TableDescriptor{
		{Name: "users", Columns: []store.ColumnDescriptor{{Name: "id", Type: "int"}}},
		{Name: "orders", Columns: []store.ColumnDescriptor{{Name: "id", Type: "int"}}},
	}})

	// 这次迁移删掉两张被校验要求的表，后置校验带回两条错误
	reg := version.NewRegistry()
	reg.MustRegister(&version.Step{
		Description:   "drop legacy tables",
		TargetVersion: version.MustParse("2.0.0"),
		Up: []version.Operation{
			{Kind: version.OpDropTable, Table: "users"},
			{Kind: version.OpDropTable, Table: "orders"},
		},
		Down: []version.Operation{
			{Kind: version.OpAddTable, Table: "users"},
			{Kind: version.OpAddTable, Table: "orders"},
		},
	})

	recorder, err := analytics.NewRecorder()
	require.NoError(t, err)
	o, err := New(&Config{
		CurrentVersion:  "1.0.0",
		TargetVersion:   "2.0.0",
		EnableRollback:  true,
		EnableAnalytics: true,
	}, adapter, reg,
		WithValidationEngine(validate.NewEngine([]string{"users", "orders"})),
		WithRecorder(recorder))
	require.NoError(t, err)

	_, err = o.Migrate(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSchemaValidationFailed)
	assert.NotErrorIs(t, err, ErrRollbackFailed)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Result.Errors, 2)

	// 回滚把表补了回来，历史与版本保持迁移前的状态
	desc, derr := adapter.ReadSchemaDescriptor(context.Background())
	require.NoError(t, derr)
	assert.NotNil(t, desc.Table("users"))
	assert.NotNil(t, desc.Table("orders"))
	assert.Empty(t, o.History())
	assert.Equal(t, "1.0.0", o.CurrentVersion())
	assert.Equal(t, 1, recorder.Data().FailedMigrations)
	assert.Zero(t, recorder.Data().SuccessfulMigrations)
}

func TestMigrateStepFailureRestoresBackup(t *testing.T) {
	ctrl := gomock.NewController(t)
	adapter := storemock.NewMockAdapter(ctrl)
	adapter.EXPECT().Location().Return("mock://store").AnyTimes()
	adapter.EXPECT().CopyStoreTo(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, location string) error {
			return os.WriteFile(location, []byte(`{"schema":{}}`), os.ModePerm)
		})
	adapter.EXPECT().ReadSchemaDescriptor(gomock.Any()).Return(&store.SchemaDescriptor{}, nil)
	adapter.EXPECT().ApplyStep(gomock.Any(), gomock.Any()).Return(nil, errors.New("column type unknown"))
	adapter.EXPECT().RestoreStoreFrom(gomock.Any(), gomock.Any()).Return(nil)

	o, err := New(&Config{
		CurrentVersion: "1.0.0",
		TargetVersion:  "2.0.0",
		EnableBackup:   true,
		EnableRollback: true,
	}, adapter, newTestRegistry(t),
		WithBackupManager(newTestBackupManager(t)))
	require.NoError(t, err)

	_, err = o.Migrate(context.Background(), nil)
	// 恢复成功时返回原始错误，调用方据此得知存储已还原
	assert.ErrorIs(t, err, ErrStepFailed)
	assert.NotErrorIs(t, err, ErrRollbackFailed)
	assert.Equal(t, StateCompleted, o.State())
	assert.Empty(t, o.History())
}

func TestMigrateRollbackFailureIsDistinct(t *testing.T) {
	ctrl := gomock.NewController(t)
	adapter := storemock.NewMockAdapter(ctrl)
	adapter.EXPECT().Location().Return("mock://store").AnyTimes()
	adapter.EXPECT().CopyStoreTo(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, location string) error {
			return os.WriteFile(location, []byte(`{"schema":{}}`), os.ModePerm)
		})
	adapter.EXPECT().ReadSchemaDescriptor(gomock.Any()).Return(&store.SchemaDescriptor{}, nil)
	adapter.EXPECT().ApplyStep(gomock.Any(), gomock.Any()).Return(nil, errors.New("column type unknown"))
	adapter.EXPECT().RestoreStoreFrom(gomock.Any(), gomock.Any()).Return(errors.New("artifact corrupted"))

	o, err := New(&Config{
		CurrentVersion: "1.0.0",
		TargetVersion:  "2.0.0",
		EnableBackup:   true,
		EnableRollback: true,
	}, adapter, newTestRegistry(t),
		WithBackupManager(newTestBackupManager(t)))
	require.NoError(t, err)

	_, err = o.Migrate(context.Background(), nil)
	// 回滚本身失败：必须与普通迁移失败区分，存储状态未知
	assert.ErrorIs(t, err, ErrRollbackFailed)
	assert.Contains(t, err.Error(), "column type unknown")
}

func TestMigrateHighSeverityConflictAborts(t *testing.T) {
	ctrl := gomock.NewController(t)
	adapter := storemock.NewMockAdapter(ctrl)
	adapter.EXPECT().Location().Return("mock://store").AnyTimes()
	adapter.EXPECT().ReadSchemaDescriptor(gomock.Any()).Return(&store.SchemaDescriptor{}, nil)
	adapter.EXPECT().ApplyStep(gomock.Any(), gomock.Any()).Return(&store.StepOutcome{
		Conflicts: []*conflict.Conflict{{
			Type:        conflict.TypeConstraintViolation,
			Description: "unique constraint broken on users.email",
			Severity:    conflict.SeverityCritical,
			DetectedAt:  time.Now(),
		}},
	}, nil)

	o, err := New(&Config{
		CurrentVersion: "1.0.0",
		TargetVersion:  "2.0.0",
	}, adapter, newTestRegistry(t))
	require.NoError(t, err)

	_, err = o.Migrate(context.Background(), nil)
	assert.ErrorIs(t, err, ErrConflictUnresolved)
}

func TestMigrateLowSeverityManualConflictContinues(t *testing.T) {
	ctrl := gomock.NewController(t)
	adapter := storemock.NewMockAdapter(ctrl)
	adapter.EXPECT().Location().Return("mock://store").AnyTimes()
	adapter.EXPECT().ReadSchemaDescriptor(gomock.Any()).Return(&store.SchemaDescriptor{}, nil).Times(2)
	adapter.EXPECT().ApplyStep(gomock.Any(), gomock.Any()).Return(&store.StepOutcome{
		RecordsAffected: 3,
		Conflicts: []*conflict.Conflict{{
			Type:        conflict.TypeForeignKey,
			Description: "orphaned reference in audit table",
			Severity:    conflict.SeverityLow,
			DetectedAt:  time.Now(),
		}},
	}, nil)

	o, err := New(&Config{
		CurrentVersion: "1.0.0",
		TargetVersion:  "2.0.0",
	}, adapter, newTestRegistry(t))
	require.NoError(t, err)

	result, err := o.Migrate(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, int64(3), result.RecordsAffected)
	assert.Zero(t, result.ConflictsResolved)
}

func TestMigrateResolvedConflictCounted(t *testing.T) {
	ctrl := gomock.NewController(t)
	adapter := storemock.NewMockAdapter(ctrl)
	adapter.EXPECT().Location().Return("mock://store").AnyTimes()
	adapter.EXPECT().ReadSchemaDescriptor(gomock.Any()).Return(&store.SchemaDescriptor{}, nil).Times(2)
	adapter.EXPECT().ApplyStep(gomock.Any(), gomock.Any()).Return(&store.StepOutcome{
		Conflicts: []*conflict.Conflict{{
			Type:        conflict.TypeDuplicateKey,
			Description: "duplicate id in users",
			OldValue:    "old",
			NewValue:    "new",
			Severity:    conflict.SeverityMedium,
			DetectedAt:  time.Now(),
		}},
	}, nil)

	resolver := conflict.NewResolver()
	o, err := New(&Config{
		CurrentVersion: "1.0.0",
		TargetVersion:  "2.0.0",
	}, adapter, newTestRegistry(t), WithConflictResolver(resolver))
	require.NoError(t, err)

	result, err := o.Migrate(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.ConflictsResolved)

	// 冲突在日志中出现一次且已全部解决
	stats := resolver.GetStatistics()
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Resolved)
	assert.InDelta(t, 1.0, stats.ResolutionRate, 1e-9)
}

func TestNewRejectsInvalidCurrentVersion(t *testing.T) {
	_, err := New(&Config{
		CurrentVersion: "",
		TargetVersion:  "2.0.0",
	}, newTestAdapter(t), newTestRegistry(t))
	assert.ErrorIs(t, err, version.ErrInvalidCurrentVersion)
}

func TestMigrateCancelledAtStepBoundary(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o, err := New(&Config{
		CurrentVersion: "1.0.0",
		TargetVersion:  "2.0.0",
	}, newTestAdapter(t), newTestRegistry(t))
	require.NoError(t, err)

	_, err = o.Migrate(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, o.History())
}

func TestRollbackRoundTrip(t *testing.T) {
	adapter := newTestAdapter(t)
	o, err := New(&Config{
		CurrentVersion: "1.0.0",
		TargetVersion:  "2.0.0",
		EnableRollback: true,
	}, adapter, newTestRegistry(t))
	require.NoError(t, err)

	_, err = o.Migrate(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, o.History(), 1)

	result, err := o.Rollback(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "1.0.0", result.TargetVersion)
	assert.Equal(t, 1, result.StepsApplied)

	// 回滚弹出最近一条历史记录，版本和模式恢复原状
	assert.Empty(t, o.History())
	assert.Equal(t, "1.0.0", o.CurrentVersion())
	desc, derr := adapter.ReadSchemaDescriptor(context.Background())
	require.NoError(t, derr)
	assert.Nil(t, desc.Table("users"))
}

func TestRollbackEmptyHistory(t *testing.T) {
	o, err := New(&Config{
		CurrentVersion: "1.0.0",
		TargetVersion:  "2.0.0",
	}, newTestAdapter(t), newTestRegistry(t))
	require.NoError(t, err)

	_, err = o.Rollback(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoRollbackAvailable)
}

func TestRollbackMultiStep(t *testing.T) {
	adapter := newTestAdapter(t)
	o, err := New(&Config{
		CurrentVersion: "1.0.0",
		TargetVersion:  "3.0.0",
	}, adapter, newTestRegistry(t))
	require.NoError(t, err)

	_, err = o.Migrate(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "3.0.0", o.CurrentVersion())

	result, err := o.Rollback(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", result.TargetVersion)
	assert.Equal(t, 2, result.StepsApplied)

	desc, derr := adapter.ReadSchemaDescriptor(context.Background())
	require.NoError(t, derr)
	assert.Nil(t, desc.Table("users"))
	assert.Nil(t, desc.Table("orders"))
}

func TestRollbackStepFailureIsDistinct(t *testing.T) {
	ctrl := gomock.NewController(t)
	adapter := storemock.NewMockAdapter(ctrl)
	adapter.EXPECT().Location().Return("mock://store").AnyTimes()
	adapter.EXPECT().ReadSchemaDescriptor(gomock.Any()).Return(&store.SchemaDescriptor{}, nil).Times(2)
	adapter.EXPECT().ApplyStep(gomock.Any(), gomock.Any()).Return(&store.StepOutcome{}, nil)
	adapter.EXPECT().ApplyRollbackStep(gomock.Any(), gomock.Any()).Return(nil, errors.New("drop rejected"))

	o, err := New(&Config{
		CurrentVersion: "1.0.0",
		TargetVersion:  "2.0.0",
	}, adapter, newTestRegistry(t))
	require.NoError(t, err)

	_, err = o.Migrate(context.Background(), nil)
	require.NoError(t, err)

	_, err = o.Rollback(context.Background(), "")
	assert.ErrorIs(t, err, ErrRollbackFailed)
	// 失败的回滚不得弹出历史记录
	assert.Len(t, o.History(), 1)
}

func TestProgressMonotonicAndBounded(t *testing.T) {
	var mu sync.Mutex
	var percents []int
	handler := func(p int, _ State) {
		mu.Lock()
		percents = append(percents, p)
		mu.Unlock()
	}

	o, err := New(&Config{
		CurrentVersion: "1.0.0",
		TargetVersion:  "3.0.0",
	}, newTestAdapter(t), newTestRegistry(t))
	require.NoError(t, err)

	_, err = o.Migrate(context.Background(), handler)
	require.NoError(t, err)

	// 回调异步派发，等待最终的 100 到达
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, p := range percents {
			if p == 100 {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for _, p := range percents {
		assert.GreaterOrEqual(t, p, 0)
		assert.LessOrEqual(t, p, 100)
	}
}

func TestProgressClampedNeverDecreases(t *testing.T) {
	o, err := New(&Config{
		CurrentVersion: "1.0.0",
		TargetVersion:  "2.0.0",
	}, newTestAdapter(t), newTestRegistry(t))
	require.NoError(t, err)

	got := make(chan int, 2)
	handler := func(p int, _ State) { got <- p }

	o.reportProgress(handler, 50, StateMigrating)
	o.reportProgress(handler, 30, StateMigrating)

	assert.Equal(t, 50, <-got)
	assert.Equal(t, 50, <-got)
}

func TestProgressHandlerPanicDoesNotAbort(t *testing.T) {
	o, err := New(&Config{
		CurrentVersion: "1.0.0",
		TargetVersion:  "2.0.0",
	}, newTestAdapter(t), newTestRegistry(t))
	require.NoError(t, err)

	handler := func(int, State) { panic("broken progress sink") }
	result, err := o.Migrate(context.Background(), handler)
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestBatchMigrateSharedRecorder(t *testing.T) {
	recorder, err := analytics.NewRecorder()
	require.NoError(t, err)

	var orchestrators []*Orchestrator
	for i := 0; i < 3; i++ {
		o, oerr := New(&Config{
			CurrentVersion:  "1.0.0",
			TargetVersion:   "2.0.0",
			EnableAnalytics: true,
			BatchSize:       2,
		}, newTestAdapter(t), newTestRegistry(t), WithRecorder(recorder))
		require.NoError(t, oerr)
		orchestrators = append(orchestrators, o)
	}

	results := NewBatchMigrator(orchestrators).MigrateAll(context.Background(), nil)
	require.Len(t, results, 3)
	for _, r := range results {
		require.NoError(t, r.Err)
		assert.True(t, r.Result.Success)
	}
	assert.Equal(t, 3, recorder.Data().SuccessfulMigrations)
}

func TestConcurrentMigrateRejected(t *testing.T) {
	o, err := New(&Config{
		CurrentVersion: "1.0.0",
		TargetVersion:  "2.0.0",
	}, newTestAdapter(t), newTestRegistry(t))
	require.NoError(t, err)

	require.NoError(t, o.begin())
	_, err = o.Migrate(context.Background(), nil)
	assert.ErrorIs(t, err, ErrMigrationInProgress)
	o.end()
}

func TestHistoryFilePersistence(t *testing.T) {
	dir := t.TempDir()
	historyPath := filepath.Join(dir, "history.json")
	adapter, err := store.NewMemoryAdapter(filepath.Join(dir, "store.json"))
	require.NoError(t, err)

	o, err := New(&Config{
		CurrentVersion: "1.0.0",
		TargetVersion:  "2.0.0",
	}, adapter, newTestRegistry(t), WithHistoryFile(historyPath))
	require.NoError(t, err)
	_, err = o.Migrate(context.Background(), nil)
	require.NoError(t, err)

	// 新实例从历史文件恢复，可以直接回滚上一次迁移
	o2, err := New(&Config{
		CurrentVersion: "2.0.0",
		TargetVersion:  "3.0.0",
	}, adapter, newTestRegistry(t), WithHistoryFile(historyPath))
	require.NoError(t, err)
	require.Len(t, o2.History(), 1)

	result, err := o2.Rollback(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", result.TargetVersion)
	assert.Empty(t, o2.History())

	// 弹出的历史也写回了文件
	o3, err := New(&Config{
		CurrentVersion: "1.0.0",
		TargetVersion:  "2.0.0",
	}, adapter, newTestRegistry(t), WithHistoryFile(historyPath))
	require.NoError(t, err)
	assert.Empty(t, o3.History())
}

func TestValidateSchemaStandalone(t *testing.T) {
	adapter := newTestAdapter(t)
	o, err := New(&Config{
		CurrentVersion: "1.0.0",
		TargetVersion:  "2.0.0",
	}, adapter, newTestRegistry(t),
		WithValidationEngine(validate.NewEngine([]string{"users"})))
	require.NoError(t, err)

	result, rerr := o.ValidateSchema(context.Background())
	require.NoError(t, rerr)
	assert.False(t, result.Valid)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "users")
}

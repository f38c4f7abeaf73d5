package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/schemaflow/schemaflow/src/pkg/conflict"
	"github.com/schemaflow/schemaflow/src/pkg/version"
)

var (
	// ErrTableNotFound 表不存在
	ErrTableNotFound = errors.New("table not found")
	// ErrTableExists 表已存在
	ErrTableExists = errors.New("table already exists")
	// ErrColumnNotFound 列不存在
	ErrColumnNotFound = errors.New("column not found")
	// ErrTransformNotFound 命名变换未注册
	ErrTransformNotFound = errors.New("named transform not registered")
)

// Row 内存存储中的一行数据
type Row map[string]any

// TransformFunc 命名数据变换
// 在持有存储写锁的情况下执行，可直接修改 state，返回受影响行数与产生的冲突
type TransformFunc func(ctx context.Context, state *MemoryState) (int64, []*conflict.Conflict, error)

// MemoryState 内存存储的完整状态，可整体序列化为 JSON
type MemoryState struct {
	Schema SchemaDescriptor `json:"schema"`
	Data   map[string][]Row `json:"data"`
}

// MemoryAdapter 内存参考适配器
//
// 用于测试以及 CLI 演示，将存储状态保存为单个 JSON 文件。
// 它不是 SQL 方言执行器：生产环境的存储引擎适配器在本仓库范围之外。
type MemoryAdapter struct {
	mu         sync.RWMutex
	state      MemoryState
	location   string
	transforms map[string]TransformFunc
	logger     *logrus.Entry
}

// NewMemoryAdapter 创建内存适配器
// location 是存储状态 JSON 文件的路径；文件存在时加载其内容，不存在时从空状态开始
func NewMemoryAdapter(location string) (*MemoryAdapter, error) {
	a := &MemoryAdapter{
		state: MemoryState{
			Data: make(map[string][]Row),
		},
		location:   location,
		transforms: make(map[string]TransformFunc),
		logger:     logrus.WithField("component", "memory_adapter"),
	}
	if location != "" {
		if _, err := os.Stat(location); err == nil {
			if err := a.loadFromFile(location); err != nil {
				return nil, fmt.Errorf("failed to load store state: %w", err)
			}
		}
	}
	return a, nil
}

// RegisterTransform 注册命名数据变换
// 同名变换后注册的生效
func (a *MemoryAdapter) RegisterTransform(name string, fn TransformFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.transforms[name] = fn
}

// Location 返回存储状态文件路径
func (a *MemoryAdapter) Location() string {
	return a.location
}

// ApplyStep 应用一个迁移步骤的正向操作
func (a *MemoryAdapter) ApplyStep(ctx context.Context, step *version.Step) (*StepOutcome, error) {
	return a.applyOperations(ctx, step.Up)
}

// ApplyRollbackStep 应用一个迁移步骤的回滚操作
func (a *MemoryAdapter) ApplyRollbackStep(ctx context.Context, step *version.Step) (*StepOutcome, error) {
	if !step.CanRollback() {
		return nil, fmt.Errorf("step to %s has no rollback operations", step.TargetVersion)
	}
	return a.applyOperations(ctx, step.Down)
}

func (a *MemoryAdapter) applyOperations(ctx context.Context, ops []version.Operation) (*StepOutcome, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	outcome := &StepOutcome{}
	for i := range ops {
		if err := ctx.Err(); err != nil {
			return outcome, err
		}
		if err := a.applyOperationLocked(ctx, &ops[i], outcome); err != nil {
			return outcome, err
		}
	}
	if a.location != "" {
		if err := a.persistLocked(a.location); err != nil {
			return outcome, fmt.Errorf("failed to persist store state: %w", err)
		}
	}
	return outcome, nil
}

func (a *MemoryAdapter) applyOperationLocked(ctx context.Context, op *version.Operation, outcome *StepOutcome) error {
	switch op.Kind {
	case version.OpAddTable:
		if a.state.Schema.Table(op.Table) != nil {
			return fmt.Errorf("%w: %s", ErrTableExists, op.Table)
		}
		a.state.Schema.Tables = append(a.state.Schema.Tables, TableDescriptor{Name: op.Table})
		a.state.Data[op.Table] = nil

	case version.OpDropTable:
		if a.state.Schema.Table(op.Table) == nil {
			return fmt.Errorf("%w: %s", ErrTableNotFound, op.Table)
		}
		outcome.RecordsAffected += int64(len(a.state.Data[op.Table]))
		a.removeTableLocked(op.Table)

	case version.OpAddColumn:
		table := a.state.Schema.Table(op.Table)
		if table == nil {
			return fmt.Errorf("%w: %s", ErrTableNotFound, op.Table)
		}
		if table.Column(op.Column) != nil {
			// 列已存在视为冲突而不是硬错误，交由上层策略决定
			outcome.Conflicts = append(outcome.Conflicts, &conflict.Conflict{
				Type:        conflict.TypeDuplicateKey,
				Description: fmt.Sprintf("column %s already exists in table %s", op.Column, op.Table),
				Entity:      op.Table,
				Property:    op.Column,
				OldValue:    table.Column(op.Column).Type,
				NewValue:    op.ColumnType,
				Severity:    conflict.SeverityLow,
			})
			return nil
		}
		table.Columns = append(table.Columns, ColumnDescriptor{Name: op.Column, Type: op.ColumnType})

	case version.OpDropColumn:
		table := a.state.Schema.Table(op.Table)
		if table == nil {
			return fmt.Errorf("%w: %s", ErrTableNotFound, op.Table)
		}
		if table.Column(op.Column) == nil {
			return fmt.Errorf("%w: %s.%s", ErrColumnNotFound, op.Table, op.Column)
		}
		for i, c := range table.Columns {
			if c.Name == op.Column {
				table.Columns = append(table.Columns[:i], table.Columns[i+1:]...)
				break
			}
		}
		for _, row := range a.state.Data[op.Table] {
			if _, ok := row[op.Column]; ok {
				delete(row, op.Column)
				outcome.RecordsAffected++
			}
		}

	case version.OpCreateIndex:
		table := a.state.Schema.Table(op.Table)
		if table == nil {
			return fmt.Errorf("%w: %s", ErrTableNotFound, op.Table)
		}
		table.Indexes = append(table.Indexes, IndexDescriptor{Name: op.Index, Columns: []string{op.Column}})

	case version.OpDropIndex:
		table := a.state.Schema.Table(op.Table)
		if table == nil {
			return fmt.Errorf("%w: %s", ErrTableNotFound, op.Table)
		}
		for i, idx := range table.Indexes {
			if idx.Name == op.Index {
				table.Indexes = append(table.Indexes[:i], table.Indexes[i+1:]...)
				break
			}
		}

	case version.OpTransform:
		fn, ok := a.transforms[op.Transform]
		if !ok {
			return fmt.Errorf("%w: %s", ErrTransformNotFound, op.Transform)
		}
		affected, conflicts, err := fn(ctx, &a.state)
		outcome.RecordsAffected += affected
		outcome.Conflicts = append(outcome.Conflicts, conflicts...)
		if err != nil {
			return err
		}

	default:
		return fmt.Errorf("unsupported operation kind: %s", op.Kind)
	}
	return nil
}

func (a *MemoryAdapter) removeTableLocked(name string) {
	for i, t := range a.state.Schema.Tables {
		if t.Name == name {
			a.state.Schema.Tables = append(a.state.Schema.Tables[:i], a.state.Schema.Tables[i+1:]...)
			break
		}
	}
	delete(a.state.Data, name)
}

// ReadSchemaDescriptor 返回当前模式描述的深拷贝
func (a *MemoryAdapter) ReadSchemaDescriptor(ctx context.Context) (*SchemaDescriptor, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	data, err := json.Marshal(a.state.Schema)
	if err != nil {
		return nil, err
	}
	var out SchemaDescriptor
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CopyStoreTo 将完整状态序列化写入 location
func (a *MemoryAdapter) CopyStoreTo(ctx context.Context, location string) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.persistLocked(location)
}

// RestoreStoreFrom 用 location 中的状态整体替换当前状态
func (a *MemoryAdapter) RestoreStoreFrom(ctx context.Context, location string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.loadFromFile(location); err != nil {
		return err
	}
	if a.location != "" {
		if err := a.persistLocked(a.location); err != nil {
			return fmt.Errorf("failed to persist restored state: %w", err)
		}
	}
	a.logger.WithField("location", location).Info("store state restored")
	return nil
}

// Rows 返回某个表的行数据副本，仅用于测试与命名变换的断言
func (a *MemoryAdapter) Rows(table string) []Row {
	a.mu.RLock()
	defer a.mu.RUnlock()
	rows := make([]Row, 0, len(a.state.Data[table]))
	for _, r := range a.state.Data[table] {
		cp := make(Row, len(r))
		for k, v := range r {
			cp[k] = v
		}
		rows = append(rows, cp)
	}
	return rows
}

// InsertRow 插入一行数据，仅用于测试数据准备
func (a *MemoryAdapter) InsertRow(table string, row Row) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state.Schema.Table(table) == nil {
		return fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	a.state.Data[table] = append(a.state.Data[table], row)
	return nil
}

// SetSchema 整体替换模式描述，仅用于测试数据准备
func (a *MemoryAdapter) SetSchema(schema SchemaDescriptor) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state.Schema = schema
	for _, t := range schema.Tables {
		if _, ok := a.state.Data[t.Name]; !ok {
			a.state.Data[t.Name] = nil
		}
	}
}

func (a *MemoryAdapter) persistLocked(location string) error {
	if err := os.MkdirAll(filepath.Dir(location), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(&a.state, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(location, data, 0644)
}

func (a *MemoryAdapter) loadFromFile(location string) error {
	data, err := os.ReadFile(location)
	if err != nil {
		return err
	}
	var state MemoryState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("corrupt store state file %s: %w", location, err)
	}
	if state.Data == nil {
		state.Data = make(map[string][]Row)
	}
	a.state = state
	return nil
}

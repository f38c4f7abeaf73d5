// Package validate 提供存储模式的结构、完整性与约束校验
package validate

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/schemaflow/schemaflow/src/pkg/store"
)

// Result 一次校验的结果
// 错误列表非空时 Valid 必为 false，警告不影响有效性
type Result struct {
	// Valid 是否通过校验
	Valid bool `json:"valid"`
	// Errors 错误列表
	Errors []string `json:"errors,omitempty"`
	// Warnings 警告列表
	Warnings []string `json:"warnings,omitempty"`
	// CheckedAt 校验时间
	CheckedAt time.Time `json:"checked_at"`
}

// AddError 追加一条错误
func (r *Result) AddError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// AddWarning 追加一条警告
func (r *Result) AddWarning(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Rule 单条校验规则
// 规则将问题追加到共享的 Result 上而不是短路返回，
// 使调用方一次校验就能看到全部问题
type Rule interface {
	// Name 规则名
	Name() string
	// Check 对模式描述执行检查
	Check(ctx context.Context, desc *store.SchemaDescriptor, result *Result)
}

// Engine 校验引擎，按注册顺序执行所有规则
type Engine struct {
	rules  []Rule
	logger *logrus.Entry
}

// NewEngine 创建校验引擎并注册默认规则（结构、完整性、约束、索引，按此顺序）
// expectedTables 为结构检查要求存在的表名列表，可为空
func NewEngine(expectedTables []string) *Engine {
	return &Engine{
		rules: []Rule{
			&StructuralRule{ExpectedTables: expectedTables},
			&IntegrityRule{},
			&ConstraintRule{},
			&IndexRule{},
		},
		logger: logrus.WithField("component", "validation_engine"),
	}
}

// AddRule 追加一条自定义规则，在默认规则之后执行
func (e *Engine) AddRule(rule Rule) {
	e.rules = append(e.rules, rule)
}

// Validate 读取存储的模式描述并执行全部规则
func (e *Engine) Validate(ctx context.Context, adapter store.Adapter) (*Result, error) {
	desc, err := adapter.ReadSchemaDescriptor(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema descriptor: %w", err)
	}
	return e.ValidateDescriptor(ctx, desc), nil
}

// ValidateDescriptor 对已读出的模式描述执行全部规则
func (e *Engine) ValidateDescriptor(ctx context.Context, desc *store.SchemaDescriptor) *Result {
	result := &Result{CheckedAt: time.Now()}
	for _, rule := range e.rules {
		rule.Check(ctx, desc, result)
	}
	result.Valid = len(result.Errors) == 0

	e.logger.WithFields(logrus.Fields{
		"valid":    result.Valid,
		"errors":   len(result.Errors),
		"warnings": len(result.Warnings),
	}).Debug("schema validation finished")
	return result
}

// StructuralRule 结构检查：要求的表必须存在
type StructuralRule struct {
	// ExpectedTables 必须存在的表名列表
	ExpectedTables []string
}

// Name 规则名
func (r *StructuralRule) Name() string { return "structural" }

// Check 检查期望的表是否存在，空表给出警告
func (r *StructuralRule) Check(_ context.Context, desc *store.SchemaDescriptor, result *Result) {
	for _, name := range r.ExpectedTables {
		if desc.Table(name) == nil {
			result.AddError("structural: expected table %q is missing", name)
		}
	}
	for i := range desc.Tables {
		if len(desc.Tables[i].Columns) == 0 {
			result.AddWarning("structural: table %q has no columns", desc.Tables[i].Name)
		}
	}
}

// IntegrityRule 完整性检查：外键必须引用存在的表和列
type IntegrityRule struct{}

// Name 规则名
func (r *IntegrityRule) Name() string { return "integrity" }

// Check 检查外键引用的表与列是否存在
func (r *IntegrityRule) Check(_ context.Context, desc *store.SchemaDescriptor, result *Result) {
	for i := range desc.Tables {
		table := &desc.Tables[i]
		for _, fk := range table.ForeignKeys {
			if table.Column(fk.Column) == nil {
				result.AddError("integrity: table %q foreign key column %q does not exist", table.Name, fk.Column)
			}
			ref := desc.Table(fk.RefTable)
			if ref == nil {
				result.AddError("integrity: table %q references missing table %q", table.Name, fk.RefTable)
				continue
			}
			if ref.Column(fk.RefColumn) == nil {
				result.AddError("integrity: table %q references missing column %q.%q", table.Name, fk.RefTable, fk.RefColumn)
			}
		}
	}
}

// ConstraintRule 约束检查：主键列必须存在，列名不得重复
type ConstraintRule struct{}

// Name 规则名
func (r *ConstraintRule) Name() string { return "constraint" }

// Check 检查主键列与列名唯一性
func (r *ConstraintRule) Check(_ context.Context, desc *store.SchemaDescriptor, result *Result) {
	for i := range desc.Tables {
		table := &desc.Tables[i]
		for _, pk := range table.PrimaryKey {
			if table.Column(pk) == nil {
				result.AddError("constraint: table %q primary key column %q does not exist", table.Name, pk)
			}
		}
		seen := make(map[string]bool, len(table.Columns))
		for _, c := range table.Columns {
			if seen[c.Name] {
				result.AddError("constraint: table %q has duplicate column %q", table.Name, c.Name)
			}
			seen[c.Name] = true
			if c.Type == "" {
				result.AddWarning("constraint: table %q column %q has no declared type", table.Name, c.Name)
			}
		}
	}
}

// IndexRule 索引检查：索引列必须存在，索引名不得重复
type IndexRule struct{}

// Name 规则名
func (r *IndexRule) Name() string { return "index" }

// Check 检查索引定义
func (r *IndexRule) Check(_ context.Context, desc *store.SchemaDescriptor, result *Result) {
	seen := make(map[string]string)
	for i := range desc.Tables {
		table := &desc.Tables[i]
		for _, idx := range table.Indexes {
			if prev, dup := seen[idx.Name]; dup {
				result.AddWarning("index: index name %q used by both %q and %q", idx.Name, prev, table.Name)
			}
			seen[idx.Name] = table.Name
			for _, col := range idx.Columns {
				if table.Column(col) == nil {
					result.AddError("index: table %q index %q covers missing column %q", table.Name, idx.Name, col)
				}
			}
		}
	}
}

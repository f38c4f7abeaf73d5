//go:generate go run go.uber.org/mock/mockgen -package mock -destination mock/mock.go github.com/schemaflow/schemaflow/src/pkg/store Adapter

// Package store 定义迁移编排器与具体存储实现之间的适配器边界
//
// 适配器是唯一接触物理存储格式的组件。编排器只通过 Adapter 接口
// 应用迁移步骤、读取模式描述以及复制/恢复存储内容。
package store

import (
	"context"

	"github.com/schemaflow/schemaflow/src/pkg/conflict"
	"github.com/schemaflow/schemaflow/src/pkg/version"
)

// Adapter 存储适配器接口
type Adapter interface {
	// ApplyStep 应用一个迁移步骤
	// 无法无歧义应用的变更以冲突形式放入 StepOutcome 返回，而不是直接报错
	ApplyStep(ctx context.Context, step *version.Step) (*StepOutcome, error)
	// ApplyRollbackStep 应用一个步骤的回滚操作
	ApplyRollbackStep(ctx context.Context, step *version.Step) (*StepOutcome, error)
	// ReadSchemaDescriptor 读取当前存储的模式描述
	ReadSchemaDescriptor(ctx context.Context) (*SchemaDescriptor, error)
	// CopyStoreTo 将存储的持久化表示完整复制到 location
	CopyStoreTo(ctx context.Context, location string) error
	// RestoreStoreFrom 用 location 中的内容整体替换当前存储
	RestoreStoreFrom(ctx context.Context, location string) error
	// Location 返回存储的持久化位置标识（用于备份元数据）
	Location() string
}

// StepOutcome 一个迁移步骤的执行结果
type StepOutcome struct {
	// RecordsAffected 受影响的记录数
	RecordsAffected int64 `json:"records_affected"`
	// Conflicts 步骤执行过程中产生的冲突
	Conflicts []*conflict.Conflict `json:"conflicts,omitempty"`
}

// ColumnDescriptor 列描述
type ColumnDescriptor struct {
	Name string `json:"name"`
	Type string `json:"type"`
	// NotNull 必填约束
	NotNull bool `json:"not_null,omitempty"`
	// Unique 唯一约束
	Unique bool `json:"unique,omitempty"`
}

// ForeignKeyDescriptor 外键描述
type ForeignKeyDescriptor struct {
	Column    string `json:"column"`
	RefTable  string `json:"ref_table"`
	RefColumn string `json:"ref_column"`
}

// IndexDescriptor 索引描述
type IndexDescriptor struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
}

// TableDescriptor 表描述
type TableDescriptor struct {
	Name        string                 `json:"name"`
	Columns     []ColumnDescriptor     `json:"columns"`
	PrimaryKey  []string               `json:"primary_key,omitempty"`
	ForeignKeys []ForeignKeyDescriptor `json:"foreign_keys,omitempty"`
	Indexes     []IndexDescriptor      `json:"indexes,omitempty"`
}

// Column 按名称查找列描述，不存在时返回 nil
func (t *TableDescriptor) Column(name string) *ColumnDescriptor {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i]
		}
	}
	return nil
}

// SchemaDescriptor 存储的模式描述，由适配器从物理存储读出
type SchemaDescriptor struct {
	Tables []TableDescriptor `json:"tables"`
}

// Table 按名称查找表描述，不存在时返回 nil
func (d *SchemaDescriptor) Table(name string) *TableDescriptor {
	for i := range d.Tables {
		if d.Tables[i].Name == name {
			return &d.Tables[i]
		}
	}
	return nil
}

package version

// OperationKind 迁移操作类型
type OperationKind string

const (
	// OpAddTable 新建表
	OpAddTable OperationKind = "add_table"
	// OpDropTable 删除表
	OpDropTable OperationKind = "drop_table"
	// OpAddColumn 新增列
	OpAddColumn OperationKind = "add_column"
	// OpDropColumn 删除列
	OpDropColumn OperationKind = "drop_column"
	// OpCreateIndex 创建索引
	OpCreateIndex OperationKind = "create_index"
	// OpDropIndex 删除索引
	OpDropIndex OperationKind = "drop_index"
	// OpTransform 执行适配器预注册的命名数据变换
	OpTransform OperationKind = "transform"
)

// Operation 声明式迁移操作描述
// 具体执行由存储适配器解释，本包只负责描述
type Operation struct {
	Kind   OperationKind `json:"kind"`
	Table  string        `json:"table,omitempty"`
	Column string        `json:"column,omitempty"`
	// ColumnType 列类型（OpAddColumn 时使用）
	ColumnType string `json:"column_type,omitempty"`
	// Index 索引名（OpCreateIndex/OpDropIndex 时使用）
	Index string `json:"index,omitempty"`
	// Transform 命名变换标识（OpTransform 时使用），由适配器在其变换表中查找
	Transform string `json:"transform,omitempty"`
}

// Step 一个迁移步骤，对应一次版本跃迁
// Step 在注册后不可变，解析迁移路径时按目标版本升序排列
type Step struct {
	// Description 步骤描述
	Description string `json:"description"`
	// TargetVersion 本步骤完成后存储到达的版本
	TargetVersion Version `json:"target_version"`
	// Up 正向迁移操作
	Up []Operation `json:"up"`
	// Down 回滚操作（可为空，为空表示该步骤不可回滚）
	Down []Operation `json:"down,omitempty"`
}

// CanRollback 判断该步骤是否具备回滚操作
func (s *Step) CanRollback() bool {
	return len(s.Down) > 0
}

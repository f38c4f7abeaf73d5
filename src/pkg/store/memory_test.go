package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schemaflow/schemaflow/src/pkg/conflict"
	"github.com/schemaflow/schemaflow/src/pkg/version"
)

func newTestAdapter(t *testing.T) *MemoryAdapter {
	t.Helper()
	a, err := NewMemoryAdapter(filepath.Join(t.TempDir(), "store.json"))
	require.NoError(t, err)
	return a
}

func TestMemoryAdapter_ApplyStep(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	step := &version.Step{
		Description:   "create users table",
		TargetVersion: version.MustParse("1.1.0"),
		Up: []version.Operation{
			{Kind: version.OpAddTable, Table: "users"},
			{Kind: version.OpAddColumn, Table: "users", Column: "id", ColumnType: "integer"},
			{Kind: version.OpAddColumn, Table: "users", Column: "email", ColumnType: "text"},
			{Kind: version.OpCreateIndex, Table: "users", Column: "email", Index: "idx_users_email"},
		},
		Down: []version.Operation{
			{Kind: version.OpDropTable, Table: "users"},
		},
	}

	outcome, err := a.ApplyStep(ctx, step)
	require.NoError(t, err)
	assert.Empty(t, outcome.Conflicts)

	desc, err := a.ReadSchemaDescriptor(ctx)
	require.NoError(t, err)
	table := desc.Table("users")
	require.NotNil(t, table)
	assert.NotNil(t, table.Column("email"))
	assert.Len(t, table.Indexes, 1)

	// 回滚后表消失
	_, err = a.ApplyRollbackStep(ctx, step)
	require.NoError(t, err)
	desc, err = a.ReadSchemaDescriptor(ctx)
	require.NoError(t, err)
	assert.Nil(t, desc.Table("users"))
}

func TestMemoryAdapter_DuplicateColumnConflict(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	_, err := a.ApplyStep(ctx, &version.Step{
		TargetVersion: version.MustParse("1.1.0"),
		Up: []version.Operation{
			{Kind: version.OpAddTable, Table: "users"},
			{Kind: version.OpAddColumn, Table: "users", Column: "name", ColumnType: "text"},
		},
	})
	require.NoError(t, err)

	// 重复加列产生冲突而不是硬错误
	outcome, err := a.ApplyStep(ctx, &version.Step{
		TargetVersion: version.MustParse("1.2.0"),
		Up: []version.Operation{
			{Kind: version.OpAddColumn, Table: "users", Column: "name", ColumnType: "varchar"},
		},
	})
	require.NoError(t, err)
	require.Len(t, outcome.Conflicts, 1)
	assert.Equal(t, conflict.TypeDuplicateKey, outcome.Conflicts[0].Type)
	assert.Equal(t, "users", outcome.Conflicts[0].Entity)
}

func TestMemoryAdapter_Transform(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	_, err := a.ApplyStep(ctx, &version.Step{
		TargetVersion: version.MustParse("1.1.0"),
		Up:            []version.Operation{{Kind: version.OpAddTable, Table: "users"}},
	})
	require.NoError(t, err)
	require.NoError(t, a.InsertRow("users", Row{"name": "alice"}))
	require.NoError(t, a.InsertRow("users", Row{"name": "bob"}))

	a.RegisterTransform("uppercase_names", func(ctx context.Context, state *MemoryState) (int64, []*conflict.Conflict, error) {
		var n int64
		for _, row := range state.Data["users"] {
			row["name"] = "USER_" + row["name"].(string)
			n++
		}
		return n, nil, nil
	})

	outcome, err := a.ApplyStep(ctx, &version.Step{
		TargetVersion: version.MustParse("1.2.0"),
		Up:            []version.Operation{{Kind: version.OpTransform, Transform: "uppercase_names"}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), outcome.RecordsAffected)

	rows := a.Rows("users")
	require.Len(t, rows, 2)
	assert.Equal(t, "USER_alice", rows[0]["name"])

	// 未注册的命名变换是硬错误
	_, err = a.ApplyStep(ctx, &version.Step{
		TargetVersion: version.MustParse("1.3.0"),
		Up:            []version.Operation{{Kind: version.OpTransform, Transform: "missing"}},
	})
	assert.ErrorIs(t, err, ErrTransformNotFound)
}

func TestMemoryAdapter_CopyAndRestore(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	_, err := a.ApplyStep(ctx, &version.Step{
		TargetVersion: version.MustParse("1.1.0"),
		Up:            []version.Operation{{Kind: version.OpAddTable, Table: "users"}},
	})
	require.NoError(t, err)

	snapshot := filepath.Join(t.TempDir(), "snap.json")
	require.NoError(t, a.CopyStoreTo(ctx, snapshot))
	assert.FileExists(t, snapshot)

	// 破坏性变更后从快照恢复
	_, err = a.ApplyStep(ctx, &version.Step{
		TargetVersion: version.MustParse("1.2.0"),
		Up:            []version.Operation{{Kind: version.OpDropTable, Table: "users"}},
	})
	require.NoError(t, err)

	require.NoError(t, a.RestoreStoreFrom(ctx, snapshot))
	desc, err := a.ReadSchemaDescriptor(ctx)
	require.NoError(t, err)
	assert.NotNil(t, desc.Table("users"))
}

func TestMemoryAdapter_PersistAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	a, err := NewMemoryAdapter(path)
	require.NoError(t, err)

	_, err = a.ApplyStep(context.Background(), &version.Step{
		TargetVersion: version.MustParse("1.1.0"),
		Up:            []version.Operation{{Kind: version.OpAddTable, Table: "events"}},
	})
	require.NoError(t, err)

	// 重新打开同一路径应看到持久化的模式
	b, err := NewMemoryAdapter(path)
	require.NoError(t, err)
	desc, err := b.ReadSchemaDescriptor(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, desc.Table("events"))
}

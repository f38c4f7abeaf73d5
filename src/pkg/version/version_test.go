package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	v, err := Parse("1.2.3")
	require.NoError(t, err)
	assert.Equal(t, Version{Major: 1, Minor: 2, Patch: 3}, v)
	assert.Equal(t, "1.2.3", v.String())

	// 非法格式
	for _, s := range []string{"", "1", "1.2", "a.b.c", "1.2.3.4", "-1.0.0", "1.0.0-rc1", "1.0.0+build5"} {
		_, err := Parse(s)
		assert.ErrorIs(t, err, ErrInvalidVersionFormat, "input: %q", s)
	}
}

func TestCompare(t *testing.T) {
	assert.Equal(t, 0, MustParse("1.0.0").Compare(MustParse("1.0.0")))
	assert.Equal(t, -1, MustParse("1.0.0").Compare(MustParse("1.0.1")))
	assert.Equal(t, -1, MustParse("1.9.9").Compare(MustParse("2.0.0")))
	assert.Equal(t, 1, MustParse("2.0.0").Compare(MustParse("1.99.99")))
	assert.True(t, MustParse("0.1.0").Less(MustParse("0.2.0")))
	assert.True(t, MustParse("1.0.0").Equal(MustParse("1.0.0")))
}

// 比较必须满足传递性
func TestCompareTransitive(t *testing.T) {
	a, b, c := MustParse("1.0.0"), MustParse("1.5.0"), MustParse("2.0.0")
	assert.True(t, a.Less(b))
	assert.True(t, b.Less(c))
	assert.True(t, a.Less(c))
}

func newTestRegistry(t *testing.T, targets ...string) *Registry {
	t.Helper()
	r := NewRegistry()
	for _, target := range targets {
		err := r.Register(&Step{
			Description:   "migrate to " + target,
			TargetVersion: MustParse(target),
			Up:            []Operation{{Kind: OpAddTable, Table: "t_" + target}},
			Down:          []Operation{{Kind: OpDropTable, Table: "t_" + target}},
		})
		require.NoError(t, err)
	}
	return r
}

func TestRegistry_Register(t *testing.T) {
	r := newTestRegistry(t, "1.1.0")

	// 重复注册同一目标版本应失败
	err := r.Register(&Step{
		TargetVersion: MustParse("1.1.0"),
		Up:            []Operation{{Kind: OpAddTable, Table: "dup"}},
	})
	assert.ErrorIs(t, err, ErrStepAlreadyRegistered)

	// 没有正向操作的步骤应被拒绝
	err = r.Register(&Step{TargetVersion: MustParse("1.2.0")})
	assert.Error(t, err)
}

func TestResolvePath(t *testing.T) {
	r := newTestRegistry(t, "1.1.0", "1.2.0", "2.0.0", "3.0.0")

	path, err := r.ResolvePath("1.0.0", "2.0.0")
	require.NoError(t, err)
	require.Len(t, path, 3)

	// 步骤严格升序
	for i := 1; i < len(path); i++ {
		assert.True(t, path[i-1].TargetVersion.Less(path[i].TargetVersion))
	}
	assert.Equal(t, "2.0.0", path[len(path)-1].TargetVersion.String())

	// 区间端点：(from, to]，from 自身的步骤不包含
	path, err = r.ResolvePath("1.1.0", "1.2.0")
	require.NoError(t, err)
	require.Len(t, path, 1)
	assert.Equal(t, "1.2.0", path[0].TargetVersion.String())
}

func TestResolvePath_Errors(t *testing.T) {
	r := newTestRegistry(t, "1.1.0")

	_, err := r.ResolvePath("1.0.0", "1.0.0")
	assert.ErrorIs(t, err, ErrSameVersionMigration)

	_, err = r.ResolvePath("2.0.0", "1.0.0")
	assert.ErrorIs(t, err, ErrDowngradeNotSupported)

	_, err = r.ResolvePath("", "2.0.0")
	assert.ErrorIs(t, err, ErrInvalidCurrentVersion)

	_, err = r.ResolvePath("1.0.0", "bogus")
	assert.ErrorIs(t, err, ErrInvalidTargetVersion)

	// 区间内没有任何步骤是硬错误
	_, err = r.ResolvePath("1.1.0", "2.0.0")
	assert.ErrorIs(t, err, ErrMissingMigrationStep)
}

func TestResolvePath_CacheInvalidation(t *testing.T) {
	r := newTestRegistry(t, "1.1.0")

	path, err := r.ResolvePath("1.0.0", "2.0.0")
	require.NoError(t, err)
	assert.Len(t, path, 1)

	// 注册新步骤后缓存应失效，解析结果包含新步骤
	require.NoError(t, r.Register(&Step{
		Description:   "migrate to 1.5.0",
		TargetVersion: MustParse("1.5.0"),
		Up:            []Operation{{Kind: OpAddColumn, Table: "t", Column: "c"}},
	}))
	path, err = r.ResolvePath("1.0.0", "2.0.0")
	require.NoError(t, err)
	assert.Len(t, path, 2)
}

func TestResolveRollbackPath(t *testing.T) {
	r := newTestRegistry(t, "1.1.0", "1.2.0", "2.0.0")

	path, err := r.ResolveRollbackPath(MustParse("2.0.0"), MustParse("1.0.0"))
	require.NoError(t, err)
	require.Len(t, path, 3)

	// 回滚步骤按目标版本降序
	assert.Equal(t, "2.0.0", path[0].TargetVersion.String())
	assert.Equal(t, "1.1.0", path[2].TargetVersion.String())

	// 缺少回滚操作的步骤导致整体失败
	require.NoError(t, r.Register(&Step{
		Description:   "irreversible",
		TargetVersion: MustParse("3.0.0"),
		Up:            []Operation{{Kind: OpDropTable, Table: "legacy"}},
	}))
	_, err = r.ResolveRollbackPath(MustParse("3.0.0"), MustParse("1.0.0"))
	assert.Error(t, err)
}

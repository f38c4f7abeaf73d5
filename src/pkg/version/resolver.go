package version

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/bluele/gcache"
)

var (
	// ErrSameVersionMigration 源版本与目标版本相同错误
	ErrSameVersionMigration = errors.New("source and target versions are identical")
	// ErrInvalidCurrentVersion 当前版本非法错误
	ErrInvalidCurrentVersion = errors.New("invalid current version")
	// ErrInvalidTargetVersion 目标版本非法错误
	ErrInvalidTargetVersion = errors.New("invalid target version")
	// ErrDowngradeNotSupported 不支持正向迁移到更低版本，降级通过回滚完成
	ErrDowngradeNotSupported = errors.New("downgrade is not supported, use rollback instead")
	// ErrMissingMigrationStep 版本区间内没有任何已注册的迁移步骤
	ErrMissingMigrationStep = errors.New("no migration step registered for version range")
	// ErrStepAlreadyRegistered 目标版本已注册过迁移步骤
	ErrStepAlreadyRegistered = errors.New("migration step already registered for target version")
)

// 路径解析结果缓存容量
const pathCacheSize = 64

// Registry 迁移步骤注册表
// 步骤以目标版本为键注册，一个目标版本只允许注册一个步骤
type Registry struct {
	mu    sync.RWMutex
	steps map[Version]*Step
	// 路径解析是纯函数，结果按 (from,to) 缓存，注册新步骤时整体失效
	pathCache gcache.Cache
}

// NewRegistry 创建步骤注册表
func NewRegistry() *Registry {
	return &Registry{
		steps:     make(map[Version]*Step),
		pathCache: gcache.New(pathCacheSize).LRU().Build(),
	}
}

// Register 注册一个迁移步骤
// 重复注册同一目标版本返回 ErrStepAlreadyRegistered
func (r *Registry) Register(step *Step) error {
	if step == nil {
		return fmt.Errorf("step cannot be nil")
	}
	if len(step.Up) == 0 {
		return fmt.Errorf("step %s has no up operations", step.TargetVersion)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.steps[step.TargetVersion]; exists {
		return fmt.Errorf("%w: %s", ErrStepAlreadyRegistered, step.TargetVersion)
	}
	r.steps[step.TargetVersion] = step
	r.pathCache.Purge()
	return nil
}

// MustRegister 注册迁移步骤，失败时panic
func (r *Registry) MustRegister(step *Step) {
	if err := r.Register(step); err != nil {
		panic(fmt.Sprintf("failed to register migration step: %v", err))
	}
}

// Steps 返回所有已注册步骤，按目标版本升序
func (r *Registry) Steps() []*Step {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedStepsLocked()
}

func (r *Registry) sortedStepsLocked() []*Step {
	steps := make([]*Step, 0, len(r.steps))
	for _, s := range r.steps {
		steps = append(steps, s)
	}
	sort.Slice(steps, func(i, j int) bool {
		return steps[i].TargetVersion.Less(steps[j].TargetVersion)
	})
	return steps
}

// ResolvePath 解析从 from 到 to 的迁移步骤序列
//
// 返回目标版本严格升序、落在 (from, to] 区间内的全部已注册步骤。
// 区间内没有任何步骤时返回 ErrMissingMigrationStep（缺失的中间版本是硬错误，
// 不做静默跳过）；相邻步骤之间允许存在版本间隔，一个步骤可以跨越多个版本。
func (r *Registry) ResolvePath(from, to string) ([]*Step, error) {
	fromV, err := Parse(from)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCurrentVersion, err)
	}
	toV, err := Parse(to)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTargetVersion, err)
	}
	return r.ResolvePathVersions(fromV, toV)
}

// ResolvePathVersions 解析从 fromV 到 toV 的迁移步骤序列（已解析版本）
func (r *Registry) ResolvePathVersions(fromV, toV Version) ([]*Step, error) {
	if fromV.Equal(toV) {
		return nil, fmt.Errorf("%w: %s", ErrSameVersionMigration, fromV)
	}
	if toV.Less(fromV) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrDowngradeNotSupported, fromV, toV)
	}

	cacheKey := fromV.String() + "->" + toV.String()
	if cached, err := r.pathCache.Get(cacheKey); err == nil {
		return cached.([]*Step), nil
	}

	r.mu.RLock()
	var path []*Step
	for _, s := range r.sortedStepsLocked() {
		if fromV.Less(s.TargetVersion) && !toV.Less(s.TargetVersion) {
			path = append(path, s)
		}
	}
	r.mu.RUnlock()

	if len(path) == 0 {
		return nil, fmt.Errorf("%w: (%s, %s]", ErrMissingMigrationStep, fromV, toV)
	}

	_ = r.pathCache.Set(cacheKey, path)
	return path, nil
}

// ResolveRollbackPath 解析从 from 回退到 to 的步骤序列
//
// 复用正向路径解析算法：取 (to, from] 区间内的步骤并反转顺序。
// 区间内任何一个步骤缺少回滚操作都会返回错误，而不是跳过该步骤。
func (r *Registry) ResolveRollbackPath(fromV, toV Version) ([]*Step, error) {
	if fromV.Equal(toV) {
		return nil, fmt.Errorf("%w: %s", ErrSameVersionMigration, fromV)
	}
	if fromV.Less(toV) {
		return nil, fmt.Errorf("%w: rollback target %s is above current %s", ErrInvalidTargetVersion, toV, fromV)
	}

	forward, err := r.ResolvePathVersions(toV, fromV)
	if err != nil {
		return nil, err
	}

	path := make([]*Step, 0, len(forward))
	for i := len(forward) - 1; i >= 0; i-- {
		s := forward[i]
		if !s.CanRollback() {
			return nil, fmt.Errorf("step to %s has no rollback operations", s.TargetVersion)
		}
		path = append(path, s)
	}
	return path, nil
}

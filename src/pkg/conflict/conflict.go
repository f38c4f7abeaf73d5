// Package conflict 提供迁移过程中数据级冲突的解决框架
//
// 存储适配器在无法无歧义地应用某个变更时产生 Conflict，
// Resolver 按冲突类型查找已注册的解决策略并应用，
// 所有冲突无论解决与否都会进入追加式冲突日志。
package conflict

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	// ErrNoStrategyFound 没有注册对应冲突类型的解决策略
	ErrNoStrategyFound = errors.New("no resolution strategy registered for conflict type")
)

// Type 冲突类型标签
type Type string

const (
	// TypeDuplicateKey 主键/唯一键重复
	TypeDuplicateKey Type = "duplicate_key"
	// TypeDataTypeMismatch 数据类型不匹配
	TypeDataTypeMismatch Type = "type_mismatch"
	// TypeConstraintViolation 约束冲突
	TypeConstraintViolation Type = "constraint_violation"
	// TypeForeignKey 外键/悬挂引用冲突
	TypeForeignKey Type = "foreign_key"
)

// Severity 冲突严重程度
type Severity int

const (
	// SeverityLow 低：可自动处理，不影响迁移
	SeverityLow Severity = iota
	// SeverityMedium 中：可自动处理，但需要记录
	SeverityMedium
	// SeverityHigh 高：无法自动解决时必须中止迁移
	SeverityHigh
	// SeverityCritical 严重：无法自动解决时必须中止迁移
	SeverityCritical
)

// String 返回严重程度的字符串表示
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// Conflict 迁移步骤执行过程中检测到的一处数据分歧
type Conflict struct {
	// Type 冲突类型
	Type Type `json:"type"`
	// Description 人类可读描述
	Description string `json:"description"`
	// Entity 发生冲突的实体/表名（可为空）
	Entity string `json:"entity,omitempty"`
	// Property 发生冲突的属性/列名（可为空）
	Property string `json:"property,omitempty"`
	// OldValue 旧值
	OldValue any `json:"old_value,omitempty"`
	// NewValue 新值
	NewValue any `json:"new_value,omitempty"`
	// Severity 严重程度
	Severity Severity `json:"severity"`
	// DetectedAt 检测时间
	DetectedAt time.Time `json:"detected_at"`
}

// Outcome 冲突解决结局
type Outcome string

const (
	// OutcomeResolved 已解决，Result.Value 为采用的值
	OutcomeResolved Outcome = "resolved"
	// OutcomeIgnored 已忽略
	OutcomeIgnored Outcome = "ignored"
	// OutcomeManual 需要人工介入，迁移层面视为软失败
	OutcomeManual Outcome = "manual"
	// OutcomeUnresolved 未解决
	OutcomeUnresolved Outcome = "unresolved"
)

// Result 一次冲突解决的结果
type Result struct {
	// Outcome 解决结局
	Outcome Outcome `json:"outcome"`
	// Value 解决后采用的值（仅 OutcomeResolved 时有意义）
	Value any `json:"value,omitempty"`
	// Strategy 使用的策略名
	Strategy string `json:"strategy,omitempty"`
	// Err 解决失败原因（仅 OutcomeUnresolved 时有意义）
	Err error `json:"-"`
}

// Strategy 冲突解决策略
type Strategy interface {
	// Name 策略名，用于日志与统计
	Name() string
	// Resolve 尝试解决一个冲突
	Resolve(c *Conflict) *Result
}

// logEntry 冲突日志条目
type logEntry struct {
	conflict *Conflict
	result   *Result
}

// Resolver 冲突解决器
// 策略注册允许覆盖：同一冲突类型后注册的策略生效（last registration wins）
type Resolver struct {
	mu         sync.RWMutex
	strategies map[Type]Strategy
	log        []logEntry
	logger     *logrus.Entry
}

// NewResolver 创建冲突解决器，并注册默认策略
func NewResolver() *Resolver {
	r := &Resolver{
		strategies: make(map[Type]Strategy),
		logger:     logrus.WithField("component", "conflict_resolver"),
	}
	r.RegisterStrategy(TypeDuplicateKey, PreferNewerStrategy{})
	r.RegisterStrategy(TypeDataTypeMismatch, CoerceTypeStrategy{})
	r.RegisterStrategy(TypeConstraintViolation, ManualStrategy{Reason: "constraint violations need schema-specific handling"})
	r.RegisterStrategy(TypeForeignKey, ManualStrategy{Reason: "foreign key conflicts need schema-specific handling"})
	return r
}

// RegisterStrategy 注册冲突类型对应的解决策略
// 已有策略会被覆盖，不报错
func (r *Resolver) RegisterStrategy(t Type, s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, exists := r.strategies[t]; exists {
		r.logger.WithFields(logrus.Fields{
			"conflict_type": t,
			"old_strategy":  old.Name(),
			"new_strategy":  s.Name(),
		}).Debug("conflict strategy overwritten")
	}
	r.strategies[t] = s
}

// Resolve 解决一个冲突
// 冲突无论结局如何都会先进入冲突日志
func (r *Resolver) Resolve(c *Conflict) *Result {
	if c.DetectedAt.IsZero() {
		c.DetectedAt = time.Now()
	}

	r.mu.RLock()
	strategy, found := r.strategies[c.Type]
	r.mu.RUnlock()

	var result *Result
	if !found {
		result = &Result{
			Outcome: OutcomeUnresolved,
			Err:     fmt.Errorf("%w: %s", ErrNoStrategyFound, c.Type),
		}
	} else {
		result = strategy.Resolve(c)
		result.Strategy = strategy.Name()
	}

	r.mu.Lock()
	r.log = append(r.log, logEntry{conflict: c, result: result})
	r.mu.Unlock()

	r.logger.WithFields(logrus.Fields{
		"conflict_type": c.Type,
		"entity":        c.Entity,
		"property":      c.Property,
		"severity":      c.Severity.String(),
		"outcome":       result.Outcome,
		"strategy":      result.Strategy,
	}).Debug("conflict processed")

	return result
}

// Statistics 冲突统计信息
type Statistics struct {
	// Total 冲突总数
	Total int `json:"total"`
	// Resolved 已解决（含忽略）数
	Resolved int `json:"resolved"`
	// ResolutionRate 解决率，Total 为 0 时为 0
	ResolutionRate float64 `json:"resolution_rate"`
	// CountsByType 按类型统计
	CountsByType map[Type]int `json:"counts_by_type"`
}

// GetStatistics 计算冲突统计
// 总是基于完整日志按需计算，不做增量缓存，避免日志与计数漂移
func (r *Resolver) GetStatistics() Statistics {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Statistics{CountsByType: make(map[Type]int)}
	for _, e := range r.log {
		stats.Total++
		stats.CountsByType[e.conflict.Type]++
		if e.result.Outcome == OutcomeResolved || e.result.Outcome == OutcomeIgnored {
			stats.Resolved++
		}
	}
	if stats.Total > 0 {
		stats.ResolutionRate = float64(stats.Resolved) / float64(stats.Total)
	}
	return stats
}

// Log 返回冲突日志的副本（冲突及其结局），按发生顺序排列
func (r *Resolver) Log() []*Conflict {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Conflict, 0, len(r.log))
	for _, e := range r.log {
		out = append(out, e.conflict)
	}
	return out
}

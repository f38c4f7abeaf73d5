package conflict

import (
	"fmt"
	"strconv"
)

// PreferNewerStrategy 重复键默认策略：保留较新的值
type PreferNewerStrategy struct{}

// Name 策略名
func (PreferNewerStrategy) Name() string { return "prefer_newer" }

// Resolve 采用冲突中的新值
func (PreferNewerStrategy) Resolve(c *Conflict) *Result {
	return &Result{Outcome: OutcomeResolved, Value: c.NewValue}
}

// PreferOlderStrategy 保留较旧的值
// 默认不注册，供调用方按需覆盖 duplicate_key 策略
type PreferOlderStrategy struct{}

// Name 策略名
func (PreferOlderStrategy) Name() string { return "prefer_older" }

// Resolve 采用冲突中的旧值
func (PreferOlderStrategy) Resolve(c *Conflict) *Result {
	return &Result{Outcome: OutcomeResolved, Value: c.OldValue}
}

// CoerceTypeStrategy 类型不匹配默认策略：尝试将旧值转换为新值的类型
// 转换不可行时回落为人工处理
type CoerceTypeStrategy struct{}

// Name 策略名
func (CoerceTypeStrategy) Name() string { return "coerce_type" }

// Resolve 按新值的类型对旧值做保守转换
func (CoerceTypeStrategy) Resolve(c *Conflict) *Result {
	coerced, ok := coerce(c.OldValue, c.NewValue)
	if !ok {
		return &Result{Outcome: OutcomeManual}
	}
	return &Result{Outcome: OutcomeResolved, Value: coerced}
}

// coerce 将 value 转换为与 target 相同的类型
// 只做无信息损失风险可控的转换：数值间互转、任意值转字符串、字符串转数值
func coerce(value, target any) (any, bool) {
	switch target.(type) {
	case string:
		return fmt.Sprintf("%v", value), true
	case int64:
		switch v := value.(type) {
		case int:
			return int64(v), true
		case int64:
			return v, true
		case float64:
			if v == float64(int64(v)) {
				return int64(v), true
			}
		case string:
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				return n, true
			}
		}
	case int:
		switch v := value.(type) {
		case int:
			return v, true
		case int64:
			return int(v), true
		case float64:
			if v == float64(int(v)) {
				return int(v), true
			}
		case string:
			if n, err := strconv.Atoi(v); err == nil {
				return n, true
			}
		}
	case float64:
		switch v := value.(type) {
		case int:
			return float64(v), true
		case int64:
			return float64(v), true
		case float64:
			return v, true
		case string:
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return f, true
			}
		}
	case bool:
		switch v := value.(type) {
		case bool:
			return v, true
		case string:
			if b, err := strconv.ParseBool(v); err == nil {
				return b, true
			}
		}
	}
	return nil, false
}

// ManualStrategy 固定返回人工处理的策略
// 用于约束冲突和外键冲突：它们需要通用解决器不具备的模式知识
type ManualStrategy struct {
	// Reason 需要人工处理的原因，仅用于说明
	Reason string
}

// Name 策略名
func (ManualStrategy) Name() string { return "manual" }

// Resolve 固定返回人工处理
func (ManualStrategy) Resolve(*Conflict) *Result {
	return &Result{Outcome: OutcomeManual}
}

// IgnoreStrategy 固定忽略冲突的策略
// 默认不注册，供调用方对低风险冲突类型按需使用
type IgnoreStrategy struct{}

// Name 策略名
func (IgnoreStrategy) Name() string { return "ignore" }

// Resolve 固定返回忽略
func (IgnoreStrategy) Resolve(*Conflict) *Result {
	return &Result{Outcome: OutcomeIgnored}
}

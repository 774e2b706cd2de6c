package scoring

import (
	"sort"

	"github.com/sqlhealthpro/sqlhealthpro/internal/model"
)

// 比较操作符枚举
const (
	OpGT  = ">"
	OpGTE = ">="
	OpLT  = "<"
	OpLTE = "<="
	OpEQ  = "="
	OpNEQ = "!="
)

// Compare 按操作符比较指标值与阈值
func Compare(value float64, operator string, threshold float64) bool {
	switch operator {
	case OpGT:
		return value > threshold
	case OpGTE:
		return value >= threshold
	case OpLT:
		return value < threshold
	case OpLTE:
		return value <= threshold
	case OpEQ:
		return value == threshold
	case OpNEQ:
		return value != threshold
	default:
		return false
	}
}

// ValidOperator 判断比较运算符是否受支持
func ValidOperator(operator string) bool {
	switch operator {
	case OpGT, OpGTE, OpLT, OpLTE, OpEQ, OpNEQ:
		return true
	default:
		return false
	}
}

// Clamp 将分值限制在[0,100]
func Clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// activeRules 过滤指定组与动作的生效规则，并按eval_order排序
func activeRules(rules []model.ThresholdRule, group, action string) []model.ThresholdRule {
	out := make([]model.ThresholdRule, 0, len(rules))
	for _, r := range rules {
		if !r.Active {
			continue
		}
		if group != "" && r.RuleGroup != group {
			continue
		}
		if r.Action != action {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EvalOrder < out[j].EvalOrder
	})
	return out
}

// EvaluateScore 求值Score规则：组内按顺序首个命中生效；无命中返回100
// 空规则集同样返回100（现状行为，保持乐观默认）
func EvaluateScore(value float64, rules []model.ThresholdRule, group string) int {
	for _, r := range activeRules(rules, group, model.ActionScore) {
		if Compare(value, r.Operator, r.Threshold) {
			return Clamp(r.Value)
		}
	}
	return 100
}

// ApplyCaps 应用Cap规则：所有命中规则均生效，score = min(score, cap)
func ApplyCaps(score int, value float64, rules []model.ThresholdRule, group string) int {
	for _, r := range activeRules(rules, group, model.ActionCap) {
		if Compare(value, r.Operator, r.Threshold) && r.Value < score {
			score = r.Value
		}
	}
	return Clamp(score)
}

// ApplyPenalties 应用Penalty规则：所有命中规则叠加（增量为负数），最终限制在[0,100]
func ApplyPenalties(score int, value float64, rules []model.ThresholdRule, group string) int {
	for _, r := range activeRules(rules, group, model.ActionPenalty) {
		if Compare(value, r.Operator, r.Threshold) {
			score += r.Value
		}
	}
	return Clamp(score)
}

// CapAt 取两分值较小者（跨类别联动用）
func CapAt(score, cap int) int {
	if cap < score {
		return cap
	}
	return score
}

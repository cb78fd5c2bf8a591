// internal/service/ticket/application/policy.go
package application

// LimitPolicy 计算一次预订允许的最大张数。
// 品类有专属上限时用品类上限，否则用全局上限。
//
// 请求量超过上限时不拒绝，而是把授予量静默压到上限，
// 响应里的 quantity 字段反映压低后的值。这是沿用上游系统的行为，
// 是否应改为显式拒绝仍是一个待产品澄清的开放问题（见 DESIGN.md）。
type LimitPolicy struct {
	globalMax   int
	categoryMax map[string]int
}

// NewLimitPolicy 创建策略。overrides 缺失的品类落回 globalMax。
func NewLimitPolicy(globalMax int, overrides map[string]int) *LimitPolicy {
	if globalMax <= 0 {
		globalMax = 1
	}
	cm := make(map[string]int, len(overrides))
	for cat, limit := range overrides {
		if limit > 0 {
			cm[cat] = limit
		}
	}
	return &LimitPolicy{globalMax: globalMax, categoryMax: cm}
}

// Ceiling 返回品类的每单上限。category 为空（目录降级）时用全局上限。
func (p *LimitPolicy) Ceiling(category string) int {
	if limit, ok := p.categoryMax[category]; ok {
		return limit
	}
	return p.globalMax
}

// EffectiveQuantity 返回实际授予的数量。
func (p *LimitPolicy) EffectiveQuantity(category string, requested int) int {
	if ceiling := p.Ceiling(category); requested > ceiling {
		return ceiling
	}
	return requested
}

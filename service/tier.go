package service

// Tier 抠图质量档位
type Tier string

const (
	TierFast     Tier = "fast"
	TierBalanced Tier = "balanced"
	TierPrecise  Tier = "precise"
)

// ParseTier 解析档位字符串
func ParseTier(s string) (Tier, bool) {
	switch Tier(s) {
	case TierFast, TierBalanced, TierPrecise:
		return Tier(s), true
	}
	return "", false
}

// NextLower 返回下一个更低的档位，fast 没有更低档位
func (t Tier) NextLower() (Tier, bool) {
	switch t {
	case TierPrecise:
		return TierBalanced, true
	case TierBalanced:
		return TierFast, true
	}
	return "", false
}

// TierDecision 档位决策，自动选择时携带产生它的特征向量
type TierDecision struct {
	Tier     Tier
	Auto     bool
	Features *FeatureVector
}

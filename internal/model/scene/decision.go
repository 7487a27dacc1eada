package scene

// DecisionOutcome 复用决策结果
type DecisionOutcome string

const (
	OutcomeReuse    DecisionOutcome = "reuse"    // 复用已有条目
	OutcomeGenerate DecisionOutcome = "generate" // 重新生成
)

// ReuseDecision 匹配引擎针对单次查询的输出
type ReuseDecision struct {
	Outcome DecisionOutcome `json:"outcome"`
	EntryID string          `json:"entry_id,omitempty"` // Outcome 为 reuse 时必填
	Reason  string          `json:"reason"`             // 诊断信息，仅用于观测
}

// Generate 构造生成决策
func Generate(reason string) ReuseDecision {
	return ReuseDecision{Outcome: OutcomeGenerate, Reason: reason}
}

// Reuse 构造复用决策
func Reuse(entryID, reason string) ReuseDecision {
	return ReuseDecision{Outcome: OutcomeReuse, EntryID: entryID, Reason: reason}
}

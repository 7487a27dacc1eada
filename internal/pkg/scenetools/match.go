package scenetools

import (
	"fmt"

	"plum/internal/model/scene"
)

// Matcher 匹配引擎
// 只读纯函数：不触碰存储，不修改任何实体。
// 策略取向：漏判（多花一次生成调用）可以接受，错判（把不相干的图展示给用户）不可以，
// 因此所有不确定情形一律倾向 Generate
type Matcher struct {
	norm *Normalizer
}

// NewMatcher 创建匹配引擎
func NewMatcher(norm *Normalizer) *Matcher {
	if norm == nil {
		norm = NewNormalizer()
	}
	return &Matcher{norm: norm}
}

// Match 针对一次查询给出复用决策
//
// Args:
//   - query: 当前片段的描述符
//   - ineligible: 防重复窗口内不可复用的条目ID集合（硬排除，任何得分不可推翻）
//   - candidates: 待评估的缓存条目（顺序无关，内部自行排序）
//
// Returns:
//   - decision: Reuse(entry_id) 或 Generate
func (m *Matcher) Match(query scene.Descriptor, ineligible map[string]struct{}, candidates []*scene.CacheEntry) scene.ReuseDecision {
	queryAction := m.norm.CanonicalPhrase(query.Action)
	queryLocation := m.norm.CanonicalPhrase(query.Location)
	queryCharacters := NormalizeCharacters(query.Characters)

	// 动作或地点未知时无法做正向匹配，直接生成
	if queryAction == "" || queryLocation == "" {
		return scene.Generate("query action/location unknown")
	}

	var (
		survivors      []*scene.CacheEntry
		windowExcluded int
		charRejected   int
		phraseRejected int
	)

	for _, candidate := range candidates {
		if candidate == nil {
			continue
		}

		// 1. 防重复窗口硬排除
		if _, blocked := ineligible[candidate.EntryID]; blocked {
			windowExcluded++
			continue
		}

		// 2. 角色集合必须被候选覆盖；空角色查询只允许匹配空角色候选
		if !charactersCompatible(queryCharacters, NormalizeCharacters(candidate.Descriptor.Characters)) {
			charRejected++
			continue
		}

		// 3. 动作与地点都要求规范化短语完全相等，部分相近一律拒绝
		//    风格标签差异不构成拒绝理由
		if m.norm.CanonicalPhrase(candidate.Descriptor.Action) != queryAction {
			phraseRejected++
			continue
		}
		if m.norm.CanonicalPhrase(candidate.Descriptor.Location) != queryLocation {
			phraseRejected++
			continue
		}

		survivors = append(survivors, candidate)
	}

	if len(survivors) == 0 {
		return scene.Generate(fmt.Sprintf(
			"no eligible candidate (window=%d character=%d phrase=%d of %d)",
			windowExcluded, charRejected, phraseRejected, len(candidates)))
	}

	// 4. 并列时取最新创建的条目，避免复用早期劣化素材
	best := survivors[0]
	for _, candidate := range survivors[1:] {
		if candidate.CreatedAt.After(best.CreatedAt) {
			best = candidate
		}
	}

	return scene.Reuse(best.EntryID, fmt.Sprintf(
		"exact action/location match (%d survivor(s))", len(survivors)))
}

// charactersCompatible 候选角色集合是否覆盖查询角色集合
// 两侧均已规范化；查询为空集时候选也必须为空集
func charactersCompatible(query, candidate []string) bool {
	if len(query) == 0 {
		return len(candidate) == 0
	}

	have := make(map[string]struct{}, len(candidate))
	for _, name := range candidate {
		have[name] = struct{}{}
	}
	for _, name := range query {
		if _, ok := have[name]; !ok {
			return false
		}
	}
	return true
}

package scenetools

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/go-ego/gse"

	"plum/internal/model/scene"
)

const (
	maxPhraseRunes    = 220 // 动作/地点短语长度上限
	maxStyleTags      = 12  // 风格标签数量上限
	maxStyleTagRunes  = 80  // 单个风格标签长度上限
	maxCharacterRunes = 80  // 单个角色标识长度上限
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// Normalizer 描述符规范化器
// 规范化规则：压缩空白、小写、去标点、gse 分词后以单空格重组。
// 匹配引擎只比较规范化后的短语，规范化器是两侧共用的唯一事实来源
type Normalizer struct {
	segmenter *gse.Segmenter
}

// NewNormalizer 创建规范化器实例
func NewNormalizer() *Normalizer {
	// 初始化 gse 分词器（支持中英文混合短语）
	var segmenter *gse.Segmenter
	if seg, err := gse.New(); err == nil {
		segmenter = &seg
	}
	// 初始化失败时 segmenter 保持 nil，降级到空白切分

	return &Normalizer{segmenter: segmenter}
}

// NormalizeText 压缩空白并去除首尾空格
func NormalizeText(text string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
}

// truncateRunes 按 rune 截断
func truncateRunes(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}

// stripPunct 去除标点，仅保留字母、数字和 CJK 字符，其余替换为空格
func stripPunct(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return b.String()
}

// Tokens 对短语分词（已规范化小写、去标点）
// gse 不可用时降级为空白切分
func (n *Normalizer) Tokens(text string) []string {
	cleaned := stripPunct(strings.ToLower(NormalizeText(text)))
	if cleaned == "" {
		return nil
	}

	var words []string
	if n != nil && n.segmenter != nil {
		words = n.segmenter.Cut(cleaned, false)
	} else {
		words = strings.Fields(cleaned)
	}

	tokens := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		tokens = append(tokens, w)
	}
	return tokens
}

// TokenSet 分词结果的集合形式（用于候选预排序与诊断）
func (n *Normalizer) TokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, token := range n.Tokens(text) {
		set[token] = struct{}{}
	}
	return set
}

// CanonicalPhrase 短语规范化键
// 空输入返回空串，表示"未知"；未知与未知永不相等（由匹配引擎保证）
func (n *Normalizer) CanonicalPhrase(text string) string {
	tokens := n.Tokens(truncateRunes(NormalizeText(text), maxPhraseRunes))
	return strings.Join(tokens, " ")
}

// CanonicalCharacter 角色标识规范化键（小写、压缩空白）
func CanonicalCharacter(name string) string {
	return strings.ToLower(truncateRunes(NormalizeText(name), maxCharacterRunes))
}

// NormalizeCharacters 角色列表规范化：逐项规范化、按规范化键去重、保持原有顺序
func NormalizeCharacters(names []string) []string {
	out := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, raw := range names {
		key := CanonicalCharacter(raw)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}

// NormalizeStyleTags 风格标签规范化：去重、截断、数量封顶
func NormalizeStyleTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, raw := range tags {
		tag := strings.ToLower(truncateRunes(NormalizeText(raw), maxStyleTagRunes))
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
		if len(out) >= maxStyleTags {
			break
		}
	}
	return out
}

// NormalizeDescriptor 描述符整体规范化
// 描述符创建后不可变，因此规范化仅发生在抽取和入库两个入口
func (n *Normalizer) NormalizeDescriptor(d scene.Descriptor) scene.Descriptor {
	return scene.Descriptor{
		Characters: NormalizeCharacters(d.Characters),
		Action:     n.CanonicalPhrase(d.Action),
		Location:   n.CanonicalPhrase(d.Location),
		StyleTags:  NormalizeStyleTags(d.StyleTags),
	}
}

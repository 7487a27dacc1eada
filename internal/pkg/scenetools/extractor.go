package scenetools

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"plum/internal/model/scene"
)

// Extraction 描述符抽取结果
// 图片提示词与结构化描述符来自同一次大模型响应，二者之间不存在回填环节，
// 这是硬性约束：禁止引入读取生成图片的第二次异步流程
type Extraction struct {
	ImagePrompt string           `json:"image_prompt"` // 图片生成提示词
	Descriptor  scene.Descriptor `json:"descriptor"`   // 场景描述符
}

// extractionJSON 临时结构体，用于解析 LLM 返回的 JSON（不落库）
type extractionJSON struct {
	ImagePrompt *string  `json:"image_prompt"`
	Characters  []string `json:"characters"`
	Action      *string  `json:"action"`
	Location    *string  `json:"location"`
	StyleTags   []string `json:"style_tags,omitempty"`
}

// ExtractionPromptBuilder 描述符抽取提示词构建器
type ExtractionPromptBuilder struct {
	stylePrompt string
}

// NewExtractionPromptBuilder 创建抽取提示词构建器
func NewExtractionPromptBuilder() *ExtractionPromptBuilder {
	return &ExtractionPromptBuilder{
		stylePrompt: "画面风格是强调强烈线条、鲜明对比和现代感造型，色彩饱和，带有动态夸张与都市叙事视觉冲击力的国风漫画风格",
	}
}

// BuildPrompt 构建单次抽取提示词
// 要求模型在同一次响应中返回图片提示词和结构化描述符（严格 JSON）
func (b *ExtractionPromptBuilder) BuildPrompt(segmentText string, roster []scene.CharacterRole) string {
	var sb strings.Builder

	sb.WriteString("你是小说视频化流水线中的场景分析助手。请针对下面的文本片段，")
	sb.WriteString("在一次回复中同时给出配图提示词和结构化场景描述，只输出严格 JSON，不要输出任何其他内容。\n\n")

	sb.WriteString("已确认的角色名册（characters 字段只能使用其中的 name，不在名册中的人物一律忽略）：\n")
	for _, role := range roster {
		if role.Description != "" {
			sb.WriteString(fmt.Sprintf("- %s：%s\n", role.Name, role.Description))
		} else {
			sb.WriteString(fmt.Sprintf("- %s\n", role.Name))
		}
	}

	sb.WriteString("\n文本片段：\n")
	sb.WriteString(NormalizeText(segmentText))
	sb.WriteString("\n\n")

	sb.WriteString("输出 JSON 格式：\n")
	sb.WriteString(`{
  "image_prompt": "完整的配图提示词",
  "characters": ["片段中出现的角色name，可为空数组"],
  "action": "正在发生什么（简短短语，无法判断时为空串）",
  "location": "场景发生在哪里（简短短语，无法判断时为空串）",
  "style_tags": ["时间/氛围等修饰标签，可省略"]
}`)
	sb.WriteString("\n\n配图提示词要求：")
	sb.WriteString(b.stylePrompt)
	sb.WriteString("。提示词需包含角色外形、动作和环境描述。")

	return sb.String()
}

// cleanJSONContent 清理 LLM 返回的 JSON 内容
// 移除 markdown 代码块标记；解析失败时退而提取首个花括号包裹的对象
func cleanJSONContent(content string) string {
	content = strings.TrimSpace(content)

	markdownPattern := regexp.MustCompile(`(?s)^\s*` + "```" + `(?:json)?\s*\n(.*?)\n\s*` + "```" + `\s*$`)
	if matches := markdownPattern.FindStringSubmatch(content); len(matches) > 1 {
		content = matches[1]
	}

	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}

var jsonObjectRe = regexp.MustCompile(`(?s)\{.*\}`)

// ParseExtraction 解析 LLM 响应为抽取结果
// 必需字段缺失或 JSON 无法解析时返回错误，调用方按"描述符未知"处理并强制生成；
// 绝不携带残缺描述符进入匹配
func ParseExtraction(raw string, roster []scene.CharacterRole, norm *Normalizer) (*Extraction, error) {
	content := cleanJSONContent(raw)
	if content == "" {
		return nil, fmt.Errorf("empty response")
	}

	var parsed extractionJSON
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		// 模型偶尔在 JSON 前后夹带说明文字，提取首个对象再试一次
		fragment := jsonObjectRe.FindString(content)
		if fragment == "" {
			return nil, fmt.Errorf("parse extraction JSON: %w", err)
		}
		if err := json.Unmarshal([]byte(fragment), &parsed); err != nil {
			return nil, fmt.Errorf("parse extraction JSON: %w", err)
		}
	}

	if parsed.ImagePrompt == nil || NormalizeText(*parsed.ImagePrompt) == "" {
		return nil, fmt.Errorf("missing image_prompt")
	}
	// characters/action/location 必须出现（值可以为空，空即"未知"）
	if parsed.Characters == nil || parsed.Action == nil || parsed.Location == nil {
		return nil, fmt.Errorf("missing descriptor fields")
	}

	descriptor := norm.NormalizeDescriptor(scene.Descriptor{
		Characters: filterRoster(parsed.Characters, roster),
		Action:     *parsed.Action,
		Location:   *parsed.Location,
		StyleTags:  parsed.StyleTags,
	})

	return &Extraction{
		ImagePrompt: NormalizeText(*parsed.ImagePrompt),
		Descriptor:  descriptor,
	}, nil
}

// filterRoster 只保留名册内的角色标识（按规范化键比较）
func filterRoster(names []string, roster []scene.CharacterRole) []string {
	allowed := make(map[string]struct{}, len(roster))
	for _, role := range roster {
		allowed[CanonicalCharacter(role.Name)] = struct{}{}
	}

	out := make([]string, 0, len(names))
	for _, name := range names {
		if _, ok := allowed[CanonicalCharacter(name)]; ok {
			out = append(out, name)
		}
	}
	return out
}

package scene

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"plum/internal/model/scene"
	"plum/internal/pkg/scenetools"
)

// Extractor 描述符抽取服务
// 单次 LLM 调用同时产出图片提示词和结构化描述符，失败时统一归类为
// ErrExtraction，由协调器降级处理（跳过匹配直接生成）
type Extractor struct {
	provider scenetools.LLMProvider
	builder  *scenetools.ExtractionPromptBuilder
	norm     *scenetools.Normalizer
}

// NewExtractor 创建描述符抽取服务
func NewExtractor(provider scenetools.LLMProvider, norm *scenetools.Normalizer) *Extractor {
	if norm == nil {
		norm = scenetools.NewNormalizer()
	}
	return &Extractor{
		provider: provider,
		builder:  scenetools.NewExtractionPromptBuilder(),
		norm:     norm,
	}
}

// Extract 对一个文本片段抽取图片提示词和场景描述符
func (e *Extractor) Extract(ctx context.Context, segmentText string, roster []scene.CharacterRole) (*scenetools.Extraction, error) {
	if scenetools.NormalizeText(segmentText) == "" {
		return nil, fmt.Errorf("%w: empty segment text", ErrExtraction)
	}

	prompt := e.builder.BuildPrompt(segmentText, roster)

	raw, err := e.provider.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: llm call: %v", ErrExtraction, err)
	}

	extraction, err := scenetools.ParseExtraction(raw, roster, e.norm)
	if err != nil {
		log.Warn().
			Err(err).
			Int("response_len", len(raw)).
			Msg("描述符抽取响应不可解析")
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}

	return extraction, nil
}

package scenetools

import (
	"context"
)

// LLMProvider 定义了调用大模型的接口
// 具体的「如何调用大模型」由调用方通过实现此接口注入，方便单测和替换实现
type LLMProvider interface {
	// Generate 根据提示词生成文本
	//
	// Args:
	//   - ctx: 上下文
	//   - prompt: 提示词
	//
	// Returns:
	//   - text: 生成的文本
	//   - err: 错误信息
	Generate(ctx context.Context, prompt string) (string, error)
}

// ImageOptions 图片生成参数（分辨率/比例提示）
type ImageOptions struct {
	Width  int // 像素宽度，0 使用提供者默认值
	Height int // 像素高度，0 使用提供者默认值
}

// ImageProvider 图片生成提供者接口
// 统一抽象 Ark 和 T2P 两种图片生成方式；仅在缓存未命中时调用
type ImageProvider interface {
	// GenerateImage 生成图片
	// Args:
	//   - ctx: 上下文
	//   - prompt: 图片描述文本
	//   - opts: 分辨率提示
	// Returns:
	//   - imageData: 图片二进制数据
	//   - error: 错误信息
	GenerateImage(ctx context.Context, prompt string, opts ImageOptions) ([]byte, error)
}

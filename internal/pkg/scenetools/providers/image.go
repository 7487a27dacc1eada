package providers

import (
	"context"
	"fmt"

	"plum/internal/pkg/ark"
	"plum/internal/pkg/scenetools"
	"plum/internal/pkg/t2p"
)

// ArkImageProvider Ark 实现的图片生成提供者
// 实现了 scenetools.ImageProvider 接口
type ArkImageProvider struct {
	client *ark.ArkImageClient
}

// NewArkImageProvider 创建基于 Ark 的图片生成提供者
func NewArkImageProvider(client *ark.ArkImageClient) *ArkImageProvider {
	return &ArkImageProvider{
		client: client,
	}
}

// GenerateImage 生成图片（Ark Seedream 文生图）
// 实现了 scenetools.ImageProvider 接口
func (p *ArkImageProvider) GenerateImage(ctx context.Context, prompt string, opts scenetools.ImageOptions) ([]byte, error) {
	if p.client == nil {
		return nil, fmt.Errorf("ark image client is required")
	}

	size := ""
	if opts.Width > 0 && opts.Height > 0 {
		size = fmt.Sprintf("%dx%d", opts.Width, opts.Height)
	}

	return p.client.GenerateImage(ctx, prompt, size, false)
}

// T2PProvider 火山引擎 visual 服务实现的图片生成提供者
// 实现了 scenetools.ImageProvider 接口
type T2PProvider struct {
	client *t2p.Client
}

// NewT2PProvider 创建基于 T2P 的图片生成提供者
func NewT2PProvider(client *t2p.Client) *T2PProvider {
	return &T2PProvider{
		client: client,
	}
}

// GenerateImage 生成图片（CVProcess 文生图）
// 实现了 scenetools.ImageProvider 接口
func (p *T2PProvider) GenerateImage(ctx context.Context, prompt string, opts scenetools.ImageOptions) ([]byte, error) {
	if p.client == nil {
		return nil, fmt.Errorf("t2p client is required")
	}
	return p.client.GenerateImageSized(ctx, prompt, opts.Width, opts.Height)
}

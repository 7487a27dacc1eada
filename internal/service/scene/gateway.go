package scene

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/rs/zerolog/log"

	"plum/internal/pkg/id"
	"plum/internal/pkg/scenetools"
	"plum/internal/pkg/storage"
)

// Gateway 图片生成网关
// 缓存未命中时的唯一生成出口：调用图片提供者生成图片、落存储、
// 返回不可变的 image_path。生成失败归类为 ErrGeneration
type Gateway struct {
	provider scenetools.ImageProvider
	storage  storage.Storage
	imageDir string
	opts     scenetools.ImageOptions
}

// NewGateway 创建图片生成网关
//
// Args:
//   - provider: 图片生成提供者（Ark 或 T2P）
//   - store: 图片资源存储（local 或 oss）
//   - imageDir: 图片在存储中的目录前缀
//   - opts: 分辨率提示
func NewGateway(provider scenetools.ImageProvider, store storage.Storage, imageDir string, opts scenetools.ImageOptions) *Gateway {
	if imageDir == "" {
		imageDir = "scene-images"
	}
	return &Gateway{
		provider: provider,
		storage:  store,
		imageDir: imageDir,
		opts:     opts,
	}
}

// Generate 根据提示词生成图片并落存储，返回存储内的 image_path
func (g *Gateway) Generate(ctx context.Context, prompt string) (string, error) {
	if scenetools.NormalizeText(prompt) == "" {
		return "", fmt.Errorf("%w: empty prompt", ErrGeneration)
	}

	data, err := g.provider.GenerateImage(ctx, prompt, g.opts)
	if err != nil {
		return "", fmt.Errorf("%w: provider: %v", ErrGeneration, err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%w: provider returned empty image", ErrGeneration)
	}

	key := path.Join(g.imageDir, id.New()+".png")
	if _, err := g.storage.Upload(ctx, key, bytes.NewReader(data), "image/png"); err != nil {
		return "", fmt.Errorf("%w: upload image: %v", ErrGeneration, err)
	}

	log.Debug().
		Str("key", key).
		Int("bytes", len(data)).
		Msg("场景图片已生成并落存储")

	return key, nil
}

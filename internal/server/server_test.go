package server

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"plum/internal/config"
	"plum/internal/pkg/scenetools"
)

func TestNewExtractor(t *testing.T) {
	Convey("描述符抽取服务装配", t, func() {
		norm := scenetools.NewNormalizer()

		Convey("未配置 API Key 时返回 nil，任务接口不挂载", func() {
			cfg := &config.Config{}
			So(newExtractor(cfg, norm), ShouldBeNil)
		})

		Convey("ark-sdk 走火山官方 SDK 客户端", func() {
			cfg := &config.Config{
				AI: config.AIConfig{
					Provider: "ark-sdk",
					APIKey:   "test-key",
					Model:    "doubao-seed-1-6-flash-250615",
				},
			}
			So(newExtractor(cfg, norm), ShouldNotBeNil)
		})
	})
}

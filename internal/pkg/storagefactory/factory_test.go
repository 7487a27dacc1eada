package storagefactory

import (
	"context"
	"io"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"plum/internal/config"
)

func TestNewStorage(t *testing.T) {
	Convey("存储工厂", t, func() {
		ctx := context.Background()

		Convey("local 类型创建本地存储", func() {
			store, err := NewStorage(ctx, &config.StorageConfig{
				Type: "local",
				Local: &config.LocalConfig{
					BasePath:      t.TempDir(),
					BaseURL:       "http://localhost:8080/files",
					PresignExpiry: 3600,
				},
			})
			So(err, ShouldBeNil)
			So(store.GetStorageType(), ShouldEqual, "local")

			Convey("上传后可回读", func() {
				_, err := store.Upload(ctx, "scene-images/a.png", strings.NewReader("png-bytes"), "image/png")
				So(err, ShouldBeNil)

				reader, err := store.Download(ctx, "scene-images/a.png")
				So(err, ShouldBeNil)
				defer reader.Close()

				data, err := io.ReadAll(reader)
				So(err, ShouldBeNil)
				So(string(data), ShouldEqual, "png-bytes")
			})

			Convey("Exists 区分存在与否", func() {
				_, err := store.Upload(ctx, "scene-images/b.png", strings.NewReader("x"), "image/png")
				So(err, ShouldBeNil)

				exists, err := store.Exists(ctx, "scene-images/b.png")
				So(err, ShouldBeNil)
				So(exists, ShouldBeTrue)

				exists, err = store.Exists(ctx, "scene-images/missing.png")
				So(err, ShouldBeNil)
				So(exists, ShouldBeFalse)
			})
		})

		Convey("local 类型缺少配置时报错", func() {
			_, err := NewStorage(ctx, &config.StorageConfig{Type: "local"})
			So(err, ShouldNotBeNil)
		})

		Convey("oss 类型缺少配置时报错", func() {
			_, err := NewStorage(ctx, &config.StorageConfig{Type: "oss"})
			So(err, ShouldNotBeNil)
		})

		Convey("未知类型报错", func() {
			_, err := NewStorage(ctx, &config.StorageConfig{Type: "gcs"})
			So(err, ShouldNotBeNil)
		})
	})
}

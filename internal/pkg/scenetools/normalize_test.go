package scenetools

import (
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"plum/internal/model/scene"
)

func TestNormalizeText(t *testing.T) {
	Convey("文本规范化", t, func() {
		Convey("压缩空白并去除首尾空格", func() {
			So(NormalizeText("  林羽   拔剑\t\n出鞘  "), ShouldEqual, "林羽 拔剑 出鞘")
		})

		Convey("空输入返回空串", func() {
			So(NormalizeText(""), ShouldBeEmpty)
			So(NormalizeText("   \t\n  "), ShouldBeEmpty)
		})
	})
}

func TestCanonicalPhrase(t *testing.T) {
	Convey("短语规范化键", t, func() {
		norm := NewNormalizer()

		Convey("空白和标点差异不影响规范化键", func() {
			a := norm.CanonicalPhrase("在山门前，拔剑！")
			b := norm.CanonicalPhrase("在山门前 拔剑")
			So(a, ShouldNotBeEmpty)
			So(a, ShouldEqual, b)
		})

		Convey("大小写差异不影响规范化键", func() {
			So(norm.CanonicalPhrase("Walking Along The Street"),
				ShouldEqual, norm.CanonicalPhrase("walking along the street"))
		})

		Convey("空输入规范化为空串（表示未知）", func() {
			So(norm.CanonicalPhrase(""), ShouldBeEmpty)
			So(norm.CanonicalPhrase("，。！"), ShouldBeEmpty)
		})

		Convey("超长短语按 rune 截断后仍可得到稳定键", func() {
			long := strings.Repeat("长", 500)
			key := norm.CanonicalPhrase(long)
			So(key, ShouldNotBeEmpty)
			So(norm.CanonicalPhrase(long+"尾巴"), ShouldEqual, key)
		})

		Convey("语义不同的短语得到不同的键", func() {
			So(norm.CanonicalPhrase("拔剑"), ShouldNotEqual, norm.CanonicalPhrase("收剑"))
		})
	})
}

func TestNormalizeCharacters(t *testing.T) {
	Convey("角色列表规范化", t, func() {
		Convey("逐项小写、压缩空白", func() {
			So(NormalizeCharacters([]string{" 林羽 ", "SU rou"}),
				ShouldResemble, []string{"林羽", "su rou"})
		})

		Convey("按规范化键去重并保持顺序", func() {
			So(NormalizeCharacters([]string{"林羽", "LIN", "lin", "林羽"}),
				ShouldResemble, []string{"林羽", "lin"})
		})

		Convey("空项被丢弃", func() {
			So(NormalizeCharacters([]string{"", "  ", "林羽"}),
				ShouldResemble, []string{"林羽"})
		})
	})
}

func TestNormalizeStyleTags(t *testing.T) {
	Convey("风格标签规范化", t, func() {
		Convey("去重并封顶数量", func() {
			tags := make([]string, 0, maxStyleTags+5)
			for i := 0; i < maxStyleTags+5; i++ {
				tags = append(tags, string(rune('a'+i)))
			}
			So(len(NormalizeStyleTags(tags)), ShouldEqual, maxStyleTags)
		})

		Convey("重复标签只保留一个", func() {
			So(NormalizeStyleTags([]string{"夜晚", "夜晚", "雨天"}),
				ShouldResemble, []string{"夜晚", "雨天"})
		})
	})
}

func TestNormalizeDescriptor(t *testing.T) {
	Convey("描述符整体规范化", t, func() {
		norm := NewNormalizer()

		d := norm.NormalizeDescriptor(scene.Descriptor{
			Characters: []string{" 林羽 ", "林羽"},
			Action:     "拔剑，出鞘！",
			Location:   "",
			StyleTags:  []string{"夜晚", "夜晚"},
		})

		So(d.Characters, ShouldResemble, []string{"林羽"})
		So(d.Action, ShouldNotBeEmpty)
		So(d.Location, ShouldBeEmpty) // 地点未知保持为空
		So(d.StyleTags, ShouldResemble, []string{"夜晚"})
	})
}

package scenetools

import (
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"plum/internal/model/scene"
)

func TestBuildPrompt(t *testing.T) {
	Convey("抽取提示词构建", t, func() {
		builder := NewExtractionPromptBuilder()
		roster := []scene.CharacterRole{
			{Name: "林羽", Description: "青衫少年剑客"},
			{Name: "苏柔"},
		}

		prompt := builder.BuildPrompt("林羽在山门前拔剑。", roster)

		Convey("包含角色名册和片段文本", func() {
			So(prompt, ShouldContainSubstring, "林羽")
			So(prompt, ShouldContainSubstring, "青衫少年剑客")
			So(prompt, ShouldContainSubstring, "苏柔")
			So(prompt, ShouldContainSubstring, "林羽在山门前拔剑。")
		})

		Convey("要求严格 JSON 输出", func() {
			So(prompt, ShouldContainSubstring, "image_prompt")
			So(prompt, ShouldContainSubstring, "characters")
			So(prompt, ShouldContainSubstring, "action")
			So(prompt, ShouldContainSubstring, "location")
		})
	})
}

func TestParseExtraction(t *testing.T) {
	Convey("抽取结果解析", t, func() {
		norm := NewNormalizer()
		roster := []scene.CharacterRole{{Name: "林羽"}, {Name: "苏柔"}}

		valid := `{
			"image_prompt": "山门前，青衫少年拔剑",
			"characters": ["林羽"],
			"action": "拔剑",
			"location": "山门",
			"style_tags": ["白天"]
		}`

		Convey("解析合法 JSON", func() {
			extraction, err := ParseExtraction(valid, roster, norm)
			So(err, ShouldBeNil)
			So(extraction.ImagePrompt, ShouldEqual, "山门前，青衫少年拔剑")
			So(extraction.Descriptor.Characters, ShouldResemble, []string{"林羽"})
			So(extraction.Descriptor.Action, ShouldNotBeEmpty)
			So(extraction.Descriptor.Location, ShouldNotBeEmpty)
		})

		Convey("剥离 markdown 代码块标记", func() {
			wrapped := "```json\n" + valid + "\n```"
			extraction, err := ParseExtraction(wrapped, roster, norm)
			So(err, ShouldBeNil)
			So(extraction.Descriptor.Characters, ShouldResemble, []string{"林羽"})
		})

		Convey("JSON 前后夹带说明文字时提取首个对象", func() {
			chatty := "好的，以下是结果：\n" + valid + "\n希望有帮助。"
			extraction, err := ParseExtraction(chatty, roster, norm)
			So(err, ShouldBeNil)
			So(extraction.ImagePrompt, ShouldNotBeEmpty)
		})

		Convey("名册外的角色被过滤", func() {
			raw := strings.Replace(valid, `["林羽"]`, `["林羽", "路人甲"]`, 1)
			extraction, err := ParseExtraction(raw, roster, norm)
			So(err, ShouldBeNil)
			So(extraction.Descriptor.Characters, ShouldResemble, []string{"林羽"})
		})

		Convey("缺少 image_prompt 时报错", func() {
			raw := `{"characters": [], "action": "a", "location": "b"}`
			_, err := ParseExtraction(raw, roster, norm)
			So(err, ShouldNotBeNil)
		})

		Convey("缺少描述符字段时报错（不允许残缺描述符进入匹配）", func() {
			raw := `{"image_prompt": "p", "characters": [], "action": "a"}`
			_, err := ParseExtraction(raw, roster, norm)
			So(err, ShouldNotBeNil)
		})

		Convey("字段存在但为空值时按未知处理，不报错", func() {
			raw := `{"image_prompt": "p", "characters": [], "action": "", "location": ""}`
			extraction, err := ParseExtraction(raw, roster, norm)
			So(err, ShouldBeNil)
			So(extraction.Descriptor.Action, ShouldBeEmpty)
			So(extraction.Descriptor.Location, ShouldBeEmpty)
		})

		Convey("完全不可解析时报错", func() {
			_, err := ParseExtraction("这不是 JSON", roster, norm)
			So(err, ShouldNotBeNil)

			_, err = ParseExtraction("", roster, norm)
			So(err, ShouldNotBeNil)
		})
	})
}

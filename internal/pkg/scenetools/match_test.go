package scenetools

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"plum/internal/model/scene"
)

func candidate(id string, characters []string, action, location string, createdAt time.Time) *scene.CacheEntry {
	norm := NewNormalizer()
	return &scene.CacheEntry{
		EntryID: id,
		Descriptor: norm.NormalizeDescriptor(scene.Descriptor{
			Characters: characters,
			Action:     action,
			Location:   location,
		}),
		ImagePath: "images/" + id + ".png",
		Source:    scene.SourceGenerated,
		CreatedAt: createdAt,
	}
}

func TestMatcher(t *testing.T) {
	Convey("匹配引擎", t, func() {
		matcher := NewMatcher(nil)
		now := time.Now()
		none := map[string]struct{}{}

		query := scene.Descriptor{
			Characters: []string{"林羽"},
			Action:     "拔剑",
			Location:   "山门",
		}

		Convey("动作地点完全一致且角色被覆盖时复用", func() {
			decision := matcher.Match(query, none, []*scene.CacheEntry{
				candidate("e1", []string{"林羽"}, "拔剑", "山门", now),
			})
			So(decision.Outcome, ShouldEqual, scene.OutcomeReuse)
			So(decision.EntryID, ShouldEqual, "e1")
		})

		Convey("候选角色是查询超集时允许复用", func() {
			decision := matcher.Match(query, none, []*scene.CacheEntry{
				candidate("e1", []string{"林羽", "苏柔"}, "拔剑", "山门", now),
			})
			So(decision.Outcome, ShouldEqual, scene.OutcomeReuse)
		})

		Convey("查询角色不被候选覆盖时拒绝", func() {
			twoChars := scene.Descriptor{
				Characters: []string{"林羽", "苏柔"},
				Action:     "拔剑",
				Location:   "山门",
			}
			decision := matcher.Match(twoChars, none, []*scene.CacheEntry{
				candidate("e1", []string{"林羽"}, "拔剑", "山门", now),
			})
			So(decision.Outcome, ShouldEqual, scene.OutcomeGenerate)
		})

		Convey("空角色查询只匹配空角色候选", func() {
			emptyChars := scene.Descriptor{Action: "空镜", Location: "荒野"}

			Convey("候选有角色时拒绝", func() {
				decision := matcher.Match(emptyChars, none, []*scene.CacheEntry{
					candidate("e1", []string{"林羽"}, "空镜", "荒野", now),
				})
				So(decision.Outcome, ShouldEqual, scene.OutcomeGenerate)
			})

			Convey("候选同为空角色时复用", func() {
				decision := matcher.Match(emptyChars, none, []*scene.CacheEntry{
					candidate("e1", nil, "空镜", "荒野", now),
				})
				So(decision.Outcome, ShouldEqual, scene.OutcomeReuse)
			})
		})

		Convey("动作或地点不一致时拒绝（禁止部分相近）", func() {
			decision := matcher.Match(query, none, []*scene.CacheEntry{
				candidate("e1", []string{"林羽"}, "收剑", "山门", now),
				candidate("e2", []string{"林羽"}, "拔剑", "后山", now),
			})
			So(decision.Outcome, ShouldEqual, scene.OutcomeGenerate)
		})

		Convey("查询动作或地点未知时直接生成", func() {
			unknown := scene.Descriptor{Characters: []string{"林羽"}, Action: "", Location: "山门"}
			decision := matcher.Match(unknown, none, []*scene.CacheEntry{
				candidate("e1", []string{"林羽"}, "", "山门", now),
			})
			So(decision.Outcome, ShouldEqual, scene.OutcomeGenerate)
		})

		Convey("未知与未知永不相等", func() {
			bothUnknown := scene.Descriptor{Characters: []string{"林羽"}}
			decision := matcher.Match(bothUnknown, none, []*scene.CacheEntry{
				candidate("e1", []string{"林羽"}, "", "", now),
			})
			So(decision.Outcome, ShouldEqual, scene.OutcomeGenerate)
		})

		Convey("窗口内条目被硬排除，不受任何得分影响", func() {
			blocked := map[string]struct{}{"e1": {}}
			decision := matcher.Match(query, blocked, []*scene.CacheEntry{
				candidate("e1", []string{"林羽"}, "拔剑", "山门", now),
			})
			So(decision.Outcome, ShouldEqual, scene.OutcomeGenerate)
		})

		Convey("并列时取最新创建的条目", func() {
			decision := matcher.Match(query, none, []*scene.CacheEntry{
				candidate("old", []string{"林羽"}, "拔剑", "山门", now.Add(-time.Hour)),
				candidate("new", []string{"林羽"}, "拔剑", "山门", now),
				candidate("mid", []string{"林羽"}, "拔剑", "山门", now.Add(-time.Minute)),
			})
			So(decision.Outcome, ShouldEqual, scene.OutcomeReuse)
			So(decision.EntryID, ShouldEqual, "new")
		})

		Convey("风格标签差异不构成拒绝理由", func() {
			entry := candidate("e1", []string{"林羽"}, "拔剑", "山门", now)
			entry.Descriptor.StyleTags = []string{"夜晚", "雨天"}

			tagged := query
			tagged.StyleTags = []string{"白天"}

			decision := matcher.Match(tagged, none, []*scene.CacheEntry{entry})
			So(decision.Outcome, ShouldEqual, scene.OutcomeReuse)
		})

		Convey("零候选时给出可解释的生成原因", func() {
			decision := matcher.Match(query, none, nil)
			So(decision.Outcome, ShouldEqual, scene.OutcomeGenerate)
			So(decision.Reason, ShouldNotBeEmpty)
		})

		Convey("标点与空白差异在规范化后不影响匹配", func() {
			decision := matcher.Match(query, none, []*scene.CacheEntry{
				candidate("e1", []string{" 林羽 "}, "拔剑！", "山门。", now),
			})
			So(decision.Outcome, ShouldEqual, scene.OutcomeReuse)
		})
	})
}

package scene

import (
	"context"
	"errors"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"plum/internal/model/scene"
)

func TestStoreRecordUsage(t *testing.T) {
	Convey("使用记录写入", t, func() {
		ctx := context.Background()
		store := newTestStore(t)

		entry, err := store.Insert(ctx, scene.Descriptor{
			Characters: []string{"林羽"},
			Action:     "拔剑",
			Location:   "山门",
		}, "scene-images/ref.png", scene.SourceReference)
		So(err, ShouldBeNil)

		Convey("已存在条目正常记录且幂等", func() {
			recorded, err := store.RecordUsage(ctx, entry.EntryID, "job1", 1)
			So(err, ShouldBeNil)
			So(recorded, ShouldBeTrue)

			recorded, err = store.RecordUsage(ctx, entry.EntryID, "job1", 1)
			So(err, ShouldBeNil)
			So(recorded, ShouldBeFalse)
		})

		Convey("未知条目ID返回 ErrEntryNotFound 且不落库", func() {
			recorded, err := store.RecordUsage(ctx, "no-such-entry", "job1", 1)
			So(err, ShouldNotBeNil)
			So(recorded, ShouldBeFalse)
			So(errors.Is(err, ErrEntryNotFound), ShouldBeTrue)

			// 没有悬空记录：窗口查询和断点续跑都看不到该位置
			records, err := store.UsageByJob(ctx, "job1")
			So(err, ShouldBeNil)
			So(len(records), ShouldEqual, 0)

			blocked, err := store.IneligibleEntries(ctx, scene.JobSegmentContext{
				JobID:           "job1",
				SegmentPosition: 2,
				NoRepeatWindow:  scene.DefaultNoRepeatWindow,
			})
			So(err, ShouldBeNil)
			So(len(blocked), ShouldEqual, 0)
		})
	})
}

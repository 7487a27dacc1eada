package scene

import (
	"context"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"plum/internal/model/scene"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testEntry(id string, characters []string, action, location string, createdAt time.Time) *scene.CacheEntry {
	return &scene.CacheEntry{
		EntryID: id,
		Descriptor: scene.Descriptor{
			Characters: characters,
			Action:     action,
			Location:   location,
		},
		ImagePath: "images/" + id + ".png",
		Source:    scene.SourceGenerated,
		CreatedAt: createdAt,
	}
}

func TestSQLiteEntryRepo(t *testing.T) {
	Convey("SQLite 条目仓库", t, func() {
		store := openTestStore(t)
		repo := NewSQLiteEntryRepo(store)
		ctx := context.Background()
		now := time.Now()

		Convey("写入后可按ID查询", func() {
			entry := testEntry("e1", []string{"林羽"}, "拔剑", "山门", now)
			So(repo.Create(ctx, entry), ShouldBeNil)

			got, err := repo.FindByID(ctx, "e1")
			So(err, ShouldBeNil)
			So(got.EntryID, ShouldEqual, "e1")
			So(got.Descriptor.Characters, ShouldResemble, []string{"林羽"})
			So(got.Descriptor.Action, ShouldEqual, "拔剑")
			So(got.ImagePath, ShouldEqual, "images/e1.png")
			So(got.Source, ShouldEqual, scene.SourceGenerated)
		})

		Convey("未找到返回 ErrNotFound", func() {
			_, err := repo.FindByID(ctx, "missing")
			So(err, ShouldEqual, ErrNotFound)
		})

		Convey("按角色集合预筛", func() {
			So(repo.Create(ctx, testEntry("both", []string{"林羽", "苏柔"}, "对话", "客栈", now)), ShouldBeNil)
			So(repo.Create(ctx, testEntry("solo", []string{"林羽"}, "对话", "客栈", now)), ShouldBeNil)
			So(repo.Create(ctx, testEntry("none", nil, "空镜", "荒野", now)), ShouldBeNil)

			Convey("候选角色必须覆盖给定集合", func() {
				entries, err := repo.ListByCharacters(ctx, []string{"林羽", "苏柔"})
				So(err, ShouldBeNil)
				So(len(entries), ShouldEqual, 1)
				So(entries[0].EntryID, ShouldEqual, "both")
			})

			Convey("单角色查询同时命中单人图和双人图", func() {
				entries, err := repo.ListByCharacters(ctx, []string{"林羽"})
				So(err, ShouldBeNil)
				So(len(entries), ShouldEqual, 2)
			})

			Convey("空角色集合只命中空角色条目", func() {
				entries, err := repo.ListByCharacters(ctx, nil)
				So(err, ShouldBeNil)
				So(len(entries), ShouldEqual, 1)
				So(entries[0].EntryID, ShouldEqual, "none")
			})
		})

		Convey("分页列表按创建时间倒序", func() {
			So(repo.Create(ctx, testEntry("old", nil, "a", "b", now.Add(-time.Hour))), ShouldBeNil)
			So(repo.Create(ctx, testEntry("new", nil, "a", "b", now)), ShouldBeNil)

			entries, err := repo.List(ctx, 10, 0)
			So(err, ShouldBeNil)
			So(len(entries), ShouldEqual, 2)
			So(entries[0].EntryID, ShouldEqual, "new")
			So(entries[1].EntryID, ShouldEqual, "old")

			count, err := repo.Count(ctx)
			So(err, ShouldBeNil)
			So(count, ShouldEqual, 2)
		})
	})
}

func TestSQLiteUsageRepo(t *testing.T) {
	Convey("SQLite 使用记录仓库", t, func() {
		store := openTestStore(t)
		repo := NewSQLiteUsageRepo(store)
		ctx := context.Background()

		record := func(entryID, jobID string, pos int) (bool, error) {
			return repo.Record(ctx, &scene.UsageRecord{
				EntryID:         entryID,
				JobID:           jobID,
				SegmentPosition: pos,
			})
		}

		Convey("同一 (job, position) 重复写入幂等", func() {
			recorded, err := record("e1", "job1", 1)
			So(err, ShouldBeNil)
			So(recorded, ShouldBeTrue)

			recorded, err = record("e2", "job1", 1)
			So(err, ShouldBeNil)
			So(recorded, ShouldBeFalse)

			// 首条记录不被覆盖
			records, err := repo.FindByJob(ctx, "job1")
			So(err, ShouldBeNil)
			So(len(records), ShouldEqual, 1)
			So(records[0].EntryID, ShouldEqual, "e1")
		})

		Convey("按任务查询按片段位置升序", func() {
			_, _ = record("e1", "job1", 3)
			_, _ = record("e2", "job1", 1)
			_, _ = record("e1", "job2", 2)

			records, err := repo.FindByJob(ctx, "job1")
			So(err, ShouldBeNil)
			So(len(records), ShouldEqual, 2)
			So(records[0].SegmentPosition, ShouldEqual, 1)
			So(records[1].SegmentPosition, ShouldEqual, 3)
		})

		Convey("防重复窗口区间查询", func() {
			_, _ = record("e1", "job1", 1)
			_, _ = record("e2", "job1", 2)
			_, _ = record("e1", "job1", 3)
			_, _ = record("e3", "job1", 7)
			_, _ = record("e9", "other", 2)

			Convey("区间内条目ID去重", func() {
				ids, err := repo.EntriesUsedInWindow(ctx, "job1", 1, 3)
				So(err, ShouldBeNil)
				So(len(ids), ShouldEqual, 2)
				So(ids, ShouldContain, "e1")
				So(ids, ShouldContain, "e2")
			})

			Convey("区间外的使用不计入", func() {
				ids, err := repo.EntriesUsedInWindow(ctx, "job1", 4, 6)
				So(err, ShouldBeNil)
				So(len(ids), ShouldEqual, 0)
			})

			Convey("空区间返回空集合", func() {
				ids, err := repo.EntriesUsedInWindow(ctx, "job1", 1, 0)
				So(err, ShouldBeNil)
				So(len(ids), ShouldEqual, 0)
			})
		})

		Convey("按条目查询使用日志", func() {
			_, _ = record("e1", "job1", 1)
			_, _ = record("e1", "job2", 5)
			_, _ = record("e2", "job1", 2)

			records, err := repo.FindByEntry(ctx, "e1")
			So(err, ShouldBeNil)
			So(len(records), ShouldEqual, 2)

			count, err := repo.Count(ctx)
			So(err, ShouldBeNil)
			So(count, ShouldEqual, 3)
		})
	})
}

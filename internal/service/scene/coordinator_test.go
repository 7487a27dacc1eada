package scene

import (
	"context"
	"fmt"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"plum/internal/model/scene"
	"plum/internal/pkg/scenetools"
	repo "plum/internal/repository/scene"
)

// fakeExtractor 按片段文本返回预置抽取结果
type fakeExtractor struct {
	byText map[string]*scenetools.Extraction
}

func (f *fakeExtractor) Extract(ctx context.Context, segmentText string, roster []scene.CharacterRole) (*scenetools.Extraction, error) {
	if e, ok := f.byText[segmentText]; ok {
		return e, nil
	}
	return nil, fmt.Errorf("%w: no extraction for segment", ErrExtraction)
}

// fakeGenerator 返回递增的假图片路径
type fakeGenerator struct {
	calls int
	fail  bool
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if f.fail {
		return "", fmt.Errorf("%w: provider down", ErrGeneration)
	}
	f.calls++
	return fmt.Sprintf("scene-images/gen-%d.png", f.calls), nil
}

// fakeCancelFlag 固定返回取消状态
type fakeCancelFlag struct {
	cancelled bool
}

func (f *fakeCancelFlag) IsJobCancelled(ctx context.Context, jobID string) (bool, error) {
	return f.cancelled, nil
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	sqlStore, err := repo.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { sqlStore.Close() })
	return NewStore(repo.NewSQLiteEntryRepo(sqlStore), repo.NewSQLiteUsageRepo(sqlStore), nil)
}

func extraction(prompt string, characters []string, action, location string) *scenetools.Extraction {
	norm := scenetools.NewNormalizer()
	return &scenetools.Extraction{
		ImagePrompt: prompt,
		Descriptor: norm.NormalizeDescriptor(scene.Descriptor{
			Characters: characters,
			Action:     action,
			Location:   location,
		}),
	}
}

func TestCoordinatorProcessJob(t *testing.T) {
	Convey("复用协调器", t, func() {
		ctx := context.Background()
		store := newTestStore(t)
		gen := &fakeGenerator{}

		roster := []scene.CharacterRole{{Name: "林羽"}, {Name: "苏柔"}}
		sameScene := extraction("林羽在山门前拔剑", []string{"林羽"}, "拔剑", "山门")

		newCoordinator := func(ext descriptorExtractor, opts CoordinatorOptions) *Coordinator {
			return NewCoordinator(store, ext, gen, scenetools.NewMatcher(nil), opts)
		}
		defaultOpts := CoordinatorOptions{EnableReuse: true, NoRepeatWindow: scene.DefaultNoRepeatWindow}

		Convey("冷缓存片段走生成并入库", func() {
			ext := &fakeExtractor{byText: map[string]*scenetools.Extraction{"seg1": sameScene}}
			coord := newCoordinator(ext, defaultOpts)

			result, err := coord.ProcessJob(ctx, "job1", []scene.Segment{{Position: 1, Text: "seg1"}}, roster)
			So(err, ShouldBeNil)
			So(len(result.Results), ShouldEqual, 1)

			seg := result.Results[0]
			So(seg.State, ShouldEqual, SegmentRecorded)
			So(seg.Outcome, ShouldEqual, scene.OutcomeGenerate)
			So(seg.EntryID, ShouldNotBeEmpty)
			So(seg.ImagePath, ShouldEqual, "scene-images/gen-1.png")

			// 条目和使用记录都已落库
			entry, err := store.GetEntry(ctx, seg.EntryID)
			So(err, ShouldBeNil)
			So(entry.Source, ShouldEqual, scene.SourceGenerated)

			records, err := store.UsageByJob(ctx, "job1")
			So(err, ShouldBeNil)
			So(len(records), ShouldEqual, 1)
		})

		Convey("防重复窗口边界", func() {
			ext := &fakeExtractor{byText: map[string]*scenetools.Extraction{
				"seg": sameScene,
			}}
			coord := newCoordinator(ext, defaultOpts)

			// 位置 1 生成条目
			first, err := coord.ProcessJob(ctx, "job1", []scene.Segment{{Position: 1, Text: "seg"}}, roster)
			So(err, ShouldBeNil)
			entryID := first.Results[0].EntryID
			So(entryID, ShouldNotBeEmpty)

			Convey("位置 4 落在窗口 [1,3] 内，不可复用", func() {
				result, err := coord.ProcessJob(ctx, "job1", []scene.Segment{{Position: 4, Text: "seg"}}, roster)
				So(err, ShouldBeNil)

				seg := result.Results[0]
				So(seg.State, ShouldEqual, SegmentRecorded)
				So(seg.Outcome, ShouldEqual, scene.OutcomeGenerate)
				So(seg.EntryID, ShouldNotEqual, entryID)
			})

			Convey("位置 5 的窗口是 [2,4]，位置 1 的使用不再阻挡", func() {
				result, err := coord.ProcessJob(ctx, "job1", []scene.Segment{{Position: 5, Text: "seg"}}, roster)
				So(err, ShouldBeNil)

				seg := result.Results[0]
				So(seg.State, ShouldEqual, SegmentRecorded)
				So(seg.Outcome, ShouldEqual, scene.OutcomeReuse)
				So(seg.EntryID, ShouldEqual, entryID)
				// 复用不产生新的生成调用
				So(gen.calls, ShouldEqual, 1)
			})
		})

		Convey("抽取失败的片段直接生成，空描述符入库", func() {
			ext := &fakeExtractor{byText: map[string]*scenetools.Extraction{}}
			coord := newCoordinator(ext, defaultOpts)

			result, err := coord.ProcessJob(ctx, "job1", []scene.Segment{{Position: 1, Text: "无法解析的片段"}}, roster)
			So(err, ShouldBeNil)

			seg := result.Results[0]
			So(seg.State, ShouldEqual, SegmentRecorded)
			So(seg.Outcome, ShouldEqual, scene.OutcomeGenerate)

			entry, err := store.GetEntry(ctx, seg.EntryID)
			So(err, ShouldBeNil)
			So(len(entry.Descriptor.Characters), ShouldEqual, 0)
			So(entry.Descriptor.Action, ShouldBeEmpty)
			So(entry.Descriptor.Location, ShouldBeEmpty)
		})

		Convey("生成失败只影响当前片段", func() {
			ext := &fakeExtractor{byText: map[string]*scenetools.Extraction{
				"bad":  extraction("p1", nil, "走路", "街道"),
				"good": extraction("p2", nil, "走路", "街道"),
			}}
			failing := &fakeGenerator{fail: true}
			coord := NewCoordinator(store, ext, failing, scenetools.NewMatcher(nil), defaultOpts)

			result, err := coord.ProcessJob(ctx, "job1", []scene.Segment{{Position: 1, Text: "bad"}}, roster)
			So(err, ShouldBeNil)
			So(result.Results[0].State, ShouldEqual, SegmentFailed)
			So(result.Results[0].Err, ShouldNotBeNil)

			// 同一任务换回可用的生成器继续处理后续片段
			coord = newCoordinator(ext, defaultOpts)
			result, err = coord.ProcessJob(ctx, "job1", []scene.Segment{{Position: 2, Text: "good"}}, roster)
			So(err, ShouldBeNil)
			So(result.Results[0].State, ShouldEqual, SegmentRecorded)
		})

		Convey("断点续跑跳过已记录片段", func() {
			ext := &fakeExtractor{byText: map[string]*scenetools.Extraction{"seg": sameScene}}
			coord := newCoordinator(ext, defaultOpts)

			segments := []scene.Segment{{Position: 1, Text: "seg"}, {Position: 2, Text: "seg"}}
			_, err := coord.ProcessJob(ctx, "job1", segments, roster)
			So(err, ShouldBeNil)
			So(gen.calls, ShouldEqual, 2) // 位置 2 在窗口内，两次都生成

			// 重跑同一任务：两个片段都应跳过，不触发生成
			result, err := coord.ProcessJob(ctx, "job1", segments, roster)
			So(err, ShouldBeNil)
			So(result.Results[0].State, ShouldEqual, SegmentSkipped)
			So(result.Results[1].State, ShouldEqual, SegmentSkipped)
			So(gen.calls, ShouldEqual, 2)
		})

		Convey("片段按位置排序后顺序处理", func() {
			ext := &fakeExtractor{byText: map[string]*scenetools.Extraction{"seg": sameScene}}
			coord := newCoordinator(ext, defaultOpts)

			result, err := coord.ProcessJob(ctx, "job1", []scene.Segment{
				{Position: 3, Text: "seg"},
				{Position: 1, Text: "seg"},
				{Position: 2, Text: "seg"},
			}, roster)
			So(err, ShouldBeNil)
			So(result.Results[0].Position, ShouldEqual, 1)
			So(result.Results[1].Position, ShouldEqual, 2)
			So(result.Results[2].Position, ShouldEqual, 3)
		})

		Convey("取消标记在片段边界生效", func() {
			ext := &fakeExtractor{byText: map[string]*scenetools.Extraction{"seg": sameScene}}
			opts := defaultOpts
			opts.CancelFlag = &fakeCancelFlag{cancelled: true}
			coord := newCoordinator(ext, opts)

			result, err := coord.ProcessJob(ctx, "job1", []scene.Segment{
				{Position: 1, Text: "seg"},
				{Position: 2, Text: "seg"},
			}, roster)
			So(err, ShouldBeNil)
			So(result.Cancelled, ShouldBeTrue)
			So(result.Results[0].State, ShouldEqual, SegmentCancelled)
			So(result.Results[1].State, ShouldEqual, SegmentCancelled)
			So(gen.calls, ShouldEqual, 0)
		})

		Convey("context 取消同样在边界生效", func() {
			ext := &fakeExtractor{byText: map[string]*scenetools.Extraction{"seg": sameScene}}
			coord := newCoordinator(ext, defaultOpts)

			cancelledCtx, cancel := context.WithCancel(ctx)
			cancel()

			result, err := coord.ProcessJob(cancelledCtx, "job1", []scene.Segment{{Position: 1, Text: "seg"}}, roster)
			So(err, ShouldBeNil)
			So(result.Cancelled, ShouldBeTrue)
			So(result.Results[0].State, ShouldEqual, SegmentCancelled)
		})

		Convey("关闭复用后全部走生成", func() {
			ext := &fakeExtractor{byText: map[string]*scenetools.Extraction{"seg": sameScene}}
			opts := CoordinatorOptions{EnableReuse: false, NoRepeatWindow: scene.DefaultNoRepeatWindow}
			coord := newCoordinator(ext, opts)

			_, err := coord.ProcessJob(ctx, "job1", []scene.Segment{{Position: 1, Text: "seg"}}, roster)
			So(err, ShouldBeNil)

			result, err := coord.ProcessJob(ctx, "job2", []scene.Segment{{Position: 1, Text: "seg"}}, roster)
			So(err, ShouldBeNil)
			So(result.Results[0].Outcome, ShouldEqual, scene.OutcomeGenerate)
			So(result.Results[0].Reason, ShouldEqual, "reuse disabled")
			So(gen.calls, ShouldEqual, 2)
		})

		Convey("不同任务之间窗口互不影响", func() {
			ext := &fakeExtractor{byText: map[string]*scenetools.Extraction{"seg": sameScene}}
			coord := newCoordinator(ext, defaultOpts)

			first, err := coord.ProcessJob(ctx, "job1", []scene.Segment{{Position: 1, Text: "seg"}}, roster)
			So(err, ShouldBeNil)
			entryID := first.Results[0].EntryID

			// job2 的位置 1 不受 job1 窗口约束，直接复用
			result, err := coord.ProcessJob(ctx, "job2", []scene.Segment{{Position: 1, Text: "seg"}}, roster)
			So(err, ShouldBeNil)
			So(result.Results[0].Outcome, ShouldEqual, scene.OutcomeReuse)
			So(result.Results[0].EntryID, ShouldEqual, entryID)
		})
	})
}

// flakyEntryRepo 包装真实条目仓库，按开关注入候选查询失败
type flakyEntryRepo struct {
	repo.EntryRepository
	failList bool
}

func (f *flakyEntryRepo) ListByCharacters(ctx context.Context, characters []string) ([]*scene.CacheEntry, error) {
	if f.failList {
		return nil, fmt.Errorf("database is locked")
	}
	return f.EntryRepository.ListByCharacters(ctx, characters)
}

// flakyUsageRepo 包装真实使用记录仓库，可注入窗口查询失败和前 N 次写入失败
type flakyUsageRepo struct {
	repo.UsageRepository
	failWindow  bool
	recordFails int
	recordCalls int
}

func (f *flakyUsageRepo) EntriesUsedInWindow(ctx context.Context, jobID string, startPos, endPos int) ([]string, error) {
	if f.failWindow {
		return nil, fmt.Errorf("database is locked")
	}
	return f.UsageRepository.EntriesUsedInWindow(ctx, jobID, startPos, endPos)
}

func (f *flakyUsageRepo) Record(ctx context.Context, rec *scene.UsageRecord) (bool, error) {
	f.recordCalls++
	if f.recordCalls <= f.recordFails {
		return false, fmt.Errorf("database is locked")
	}
	return f.UsageRepository.Record(ctx, rec)
}

func newFlakyTestStore(t *testing.T) (*Store, *flakyEntryRepo, *flakyUsageRepo) {
	t.Helper()
	sqlStore, err := repo.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { sqlStore.Close() })
	entries := &flakyEntryRepo{EntryRepository: repo.NewSQLiteEntryRepo(sqlStore)}
	usage := &flakyUsageRepo{UsageRepository: repo.NewSQLiteUsageRepo(sqlStore)}
	return NewStore(entries, usage, nil), entries, usage
}

func TestCoordinatorStoreFailures(t *testing.T) {
	Convey("存储不可用时的降级", t, func() {
		ctx := context.Background()
		store, entries, usage := newFlakyTestStore(t)
		gen := &fakeGenerator{}

		roster := []scene.CharacterRole{{Name: "林羽"}}
		sameScene := extraction("林羽在山门前拔剑", []string{"林羽"}, "拔剑", "山门")
		ext := &fakeExtractor{byText: map[string]*scenetools.Extraction{"seg": sameScene}}
		coord := NewCoordinator(store, ext, gen, scenetools.NewMatcher(nil),
			CoordinatorOptions{EnableReuse: true, NoRepeatWindow: scene.DefaultNoRepeatWindow})

		// 预置一个本可复用的候选条目
		seeded, err := store.Insert(ctx, sameScene.Descriptor, "scene-images/ref.png", scene.SourceReference)
		So(err, ShouldBeNil)

		Convey("候选查询失败时安全降级到生成", func() {
			entries.failList = true

			result, err := coord.ProcessJob(ctx, "job1", []scene.Segment{{Position: 1, Text: "seg"}}, roster)
			So(err, ShouldBeNil)

			seg := result.Results[0]
			So(seg.State, ShouldEqual, SegmentRecorded)
			So(seg.Outcome, ShouldEqual, scene.OutcomeGenerate)
			So(seg.Reason, ShouldEqual, "store unavailable")
			So(seg.EntryID, ShouldNotEqual, seeded.EntryID)
			So(gen.calls, ShouldEqual, 1)
		})

		Convey("窗口查询失败时安全降级到生成", func() {
			usage.failWindow = true

			// 位置 2 的窗口非空，必须经过窗口查询
			result, err := coord.ProcessJob(ctx, "job1", []scene.Segment{{Position: 2, Text: "seg"}}, roster)
			So(err, ShouldBeNil)

			seg := result.Results[0]
			So(seg.State, ShouldEqual, SegmentRecorded)
			So(seg.Outcome, ShouldEqual, scene.OutcomeGenerate)
			So(seg.Reason, ShouldEqual, "store unavailable")
			So(gen.calls, ShouldEqual, 1)
		})

		Convey("使用记录瞬断时重试一次后成功", func() {
			usage.recordFails = 1

			result, err := coord.ProcessJob(ctx, "job1", []scene.Segment{{Position: 1, Text: "seg"}}, roster)
			So(err, ShouldBeNil)

			seg := result.Results[0]
			So(seg.State, ShouldEqual, SegmentRecorded)
			So(seg.EntryID, ShouldEqual, seeded.EntryID)
			So(usage.recordCalls, ShouldEqual, 2)

			records, err := store.UsageByJob(ctx, "job1")
			So(err, ShouldBeNil)
			So(len(records), ShouldEqual, 1)
		})

		Convey("使用记录持续失败时重试一次后片段标记失败", func() {
			usage.recordFails = 10

			result, err := coord.ProcessJob(ctx, "job1", []scene.Segment{{Position: 1, Text: "seg"}}, roster)
			So(err, ShouldBeNil)

			seg := result.Results[0]
			So(seg.State, ShouldEqual, SegmentFailed)
			So(seg.Err, ShouldNotBeNil)
			// 只重试一次，不无限重试
			So(usage.recordCalls, ShouldEqual, 2)
		})
	})
}

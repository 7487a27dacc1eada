package scene

import (
	"context"
	"errors"
	"sort"

	"github.com/rs/zerolog/log"

	"plum/internal/model/scene"
	"plum/internal/pkg/scenetools"
)

// SegmentState 片段处理终态
type SegmentState string

const (
	SegmentRecorded  SegmentState = "recorded"  // 正常完成并已记录使用
	SegmentFailed    SegmentState = "failed"    // 处理失败，任务继续后续片段
	SegmentSkipped   SegmentState = "skipped"   // 断点续跑时已有使用记录，跳过
	SegmentCancelled SegmentState = "cancelled" // 任务在该片段前被取消
)

// SegmentResult 单个片段的处理结果
type SegmentResult struct {
	Position  int                   `json:"position"`
	State     SegmentState          `json:"state"`
	Outcome   scene.DecisionOutcome `json:"outcome,omitempty"`
	EntryID   string                `json:"entry_id,omitempty"`
	ImagePath string                `json:"image_path,omitempty"`
	Reason    string                `json:"reason,omitempty"`
	Err       error                 `json:"-"`
}

// JobResult 任务处理结果
type JobResult struct {
	JobID     string          `json:"job_id"`
	Cancelled bool            `json:"cancelled"`
	Results   []SegmentResult `json:"results"`
}

// descriptorExtractor 描述符抽取依赖（单测时注入假实现）
type descriptorExtractor interface {
	Extract(ctx context.Context, segmentText string, roster []scene.CharacterRole) (*scenetools.Extraction, error)
}

// imageGenerator 图片生成依赖（单测时注入假实现）
type imageGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// cancelFlag 跨进程取消标记（可选，通常由 Redis 提供）
type cancelFlag interface {
	IsJobCancelled(ctx context.Context, jobID string) (bool, error)
}

// CoordinatorOptions 协调器选项
type CoordinatorOptions struct {
	// EnableReuse 关闭后跳过匹配，所有片段都走生成
	EnableReuse bool
	// NoRepeatWindow 防重复窗口片段数，<0 时取默认值
	NoRepeatWindow int
	// CancelFlag 跨进程取消标记，nil 时仅依赖 context 取消
	CancelFlag cancelFlag
}

// Coordinator 复用协调器
// 驱动单个片段的状态机：Idle → Extracting → Matching → (Reusing|Generating) → Recorded。
// 片段按位置严格顺序处理；单片段失败不中止任务；取消只在片段边界生效，
// 进行中的片段总是跑完
type Coordinator struct {
	store     *Store
	extractor descriptorExtractor
	gateway   imageGenerator
	matcher   *scenetools.Matcher
	opts      CoordinatorOptions
}

// NewCoordinator 创建复用协调器
func NewCoordinator(store *Store, extractor descriptorExtractor, gateway imageGenerator, matcher *scenetools.Matcher, opts CoordinatorOptions) *Coordinator {
	if matcher == nil {
		matcher = scenetools.NewMatcher(nil)
	}
	if opts.NoRepeatWindow < 0 {
		opts.NoRepeatWindow = scene.DefaultNoRepeatWindow
	}
	return &Coordinator{
		store:     store,
		extractor: extractor,
		gateway:   gateway,
		matcher:   matcher,
		opts:      opts,
	}
}

// ProcessJob 处理一个任务的全部片段
// 断点续跑：使用日志中已有记录的位置直接跳过，天然幂等
func (c *Coordinator) ProcessJob(ctx context.Context, jobID string, segments []scene.Segment, roster []scene.CharacterRole) (*JobResult, error) {
	result := &JobResult{JobID: jobID}

	ordered := make([]scene.Segment, len(segments))
	copy(ordered, segments)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Position < ordered[j].Position
	})

	done, err := c.recordedPositions(ctx, jobID)
	if err != nil {
		// 存储暂时不可用时按"无历史记录"继续，后续记录阶段仍会失败并标记片段
		log.Warn().Err(err).Str("job_id", jobID).Msg("读取任务使用记录失败，按全新任务处理")
		done = map[int]struct{}{}
	}

	for i, segment := range ordered {
		if c.isCancelled(ctx, jobID) {
			result.Cancelled = true
			for _, remaining := range ordered[i:] {
				result.Results = append(result.Results, SegmentResult{
					Position: remaining.Position,
					State:    SegmentCancelled,
				})
			}
			log.Info().
				Str("job_id", jobID).
				Int("position", segment.Position).
				Msg("任务已取消，剩余片段不再处理")
			break
		}

		if _, ok := done[segment.Position]; ok {
			result.Results = append(result.Results, SegmentResult{
				Position: segment.Position,
				State:    SegmentSkipped,
				Reason:   "usage already recorded",
			})
			continue
		}

		result.Results = append(result.Results, c.processSegment(ctx, jobID, segment, roster))
	}

	return result, nil
}

// processSegment 驱动单个片段从 Extracting 到 Recorded
func (c *Coordinator) processSegment(ctx context.Context, jobID string, segment scene.Segment, roster []scene.CharacterRole) SegmentResult {
	result := SegmentResult{Position: segment.Position}

	job := scene.JobSegmentContext{
		JobID:           jobID,
		SegmentPosition: segment.Position,
		NoRepeatWindow:  c.opts.NoRepeatWindow,
	}

	// Extracting
	var (
		descriptor scene.Descriptor
		prompt     string
	)
	extraction, err := c.extractor.Extract(ctx, segment.Text, roster)
	if err != nil {
		// 抽取失败：跳过匹配，用片段文本兜底做生成提示词，
		// 条目带空描述符入库（空描述符永不会被后续查询命中）
		log.Warn().
			Err(err).
			Str("job_id", jobID).
			Int("position", segment.Position).
			Msg("描述符抽取失败，该片段直接生成")
		prompt = scenetools.NormalizeText(segment.Text)
		result.Reason = "extraction failed"
	} else {
		descriptor = extraction.Descriptor
		prompt = extraction.ImagePrompt
	}

	// Matching
	decision := scene.Generate(result.Reason)
	if err == nil {
		if c.opts.EnableReuse {
			decision = c.match(ctx, job, descriptor)
		} else {
			decision = scene.Generate("reuse disabled")
		}
	}

	// Reusing
	entryID, imagePath := "", ""
	if decision.Outcome == scene.OutcomeReuse {
		entry, getErr := c.store.GetEntry(ctx, decision.EntryID)
		switch {
		case getErr == nil:
			entryID, imagePath = entry.EntryID, entry.ImagePath
		case errors.Is(getErr, ErrEntryNotFound):
			// 匹配与读取之间条目被外部清理，属于需要关注的异常状态
			log.Error().
				Err(getErr).
				Str("job_id", jobID).
				Int("position", segment.Position).
				Str("entry_id", decision.EntryID).
				Msg("匹配选中的缓存条目已不存在，回退到生成")
			decision = scene.Generate("matched entry missing")
		default:
			log.Warn().
				Err(getErr).
				Str("job_id", jobID).
				Int("position", segment.Position).
				Msg("读取缓存条目失败，回退到生成")
			decision = scene.Generate("store unavailable")
		}
	}

	// Generating
	if decision.Outcome == scene.OutcomeGenerate {
		imagePath, err = c.gateway.Generate(ctx, prompt)
		if err != nil {
			result.State = SegmentFailed
			result.Err = err
			log.Error().
				Err(err).
				Str("job_id", jobID).
				Int("position", segment.Position).
				Msg("图片生成失败，片段标记失败")
			return result
		}

		entry, insertErr := c.store.Insert(ctx, descriptor, imagePath, scene.SourceGenerated)
		if insertErr != nil {
			result.State = SegmentFailed
			result.Err = insertErr
			log.Error().
				Err(insertErr).
				Str("job_id", jobID).
				Int("position", segment.Position).
				Msg("缓存条目写入失败，片段标记失败")
			return result
		}
		entryID = entry.EntryID
	}

	// Recorded
	if recErr := c.recordWithRetry(ctx, entryID, jobID, segment.Position); recErr != nil {
		result.State = SegmentFailed
		result.Err = recErr
		log.Error().
			Err(recErr).
			Str("job_id", jobID).
			Int("position", segment.Position).
			Str("entry_id", entryID).
			Msg("使用记录写入失败，片段标记失败")
		return result
	}

	result.State = SegmentRecorded
	result.Outcome = decision.Outcome
	result.EntryID = entryID
	result.ImagePath = imagePath
	result.Reason = decision.Reason

	log.Info().
		Str("job_id", jobID).
		Int("position", segment.Position).
		Str("outcome", string(decision.Outcome)).
		Str("entry_id", entryID).
		Str("reason", decision.Reason).
		Msg("片段处理完成")

	return result
}

// match 执行匹配阶段
// 存储不可用时按"零候选"处理：复用只是省钱手段，绝不能因为它引入错图
func (c *Coordinator) match(ctx context.Context, job scene.JobSegmentContext, descriptor scene.Descriptor) scene.ReuseDecision {
	ineligible, err := c.store.IneligibleEntries(ctx, job)
	if err != nil {
		log.Warn().Err(err).Str("job_id", job.JobID).Msg("查询防重复窗口失败，安全降级到生成")
		return scene.Generate("store unavailable")
	}

	candidates, err := c.store.ListCandidates(ctx, descriptor.Characters)
	if err != nil {
		log.Warn().Err(err).Str("job_id", job.JobID).Msg("查询匹配候选失败，安全降级到生成")
		return scene.Generate("store unavailable")
	}

	return c.matcher.Match(descriptor, ineligible, candidates)
}

// recordWithRetry 写使用记录，存储瞬断时重试一次
func (c *Coordinator) recordWithRetry(ctx context.Context, entryID, jobID string, position int) error {
	_, err := c.store.RecordUsage(ctx, entryID, jobID, position)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrStoreUnavailable) {
		return err
	}

	log.Warn().
		Err(err).
		Str("job_id", jobID).
		Int("position", position).
		Msg("使用记录写入失败，重试一次")

	_, err = c.store.RecordUsage(ctx, entryID, jobID, position)
	return err
}

// recordedPositions 任务已记录的片段位置集合
func (c *Coordinator) recordedPositions(ctx context.Context, jobID string) (map[int]struct{}, error) {
	records, err := c.store.UsageByJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	done := make(map[int]struct{}, len(records))
	for _, rec := range records {
		done[rec.SegmentPosition] = struct{}{}
	}
	return done, nil
}

// isCancelled 片段边界的取消检查：context 优先，其次跨进程标记
func (c *Coordinator) isCancelled(ctx context.Context, jobID string) bool {
	if ctx.Err() != nil {
		return true
	}
	if c.opts.CancelFlag == nil {
		return false
	}
	cancelled, err := c.opts.CancelFlag.IsJobCancelled(ctx, jobID)
	if err != nil {
		// 取消标记查不到时继续处理，任务宁可多跑也不误停
		log.Warn().Err(err).Str("job_id", jobID).Msg("查询取消标记失败，继续处理")
		return false
	}
	return cancelled
}

package extraction

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/EvanCNavarro/disc-sub000/core/llm"
	"github.com/EvanCNavarro/disc-sub000/logger"
	"github.com/EvanCNavarro/disc-sub000/model"
	"github.com/EvanCNavarro/disc-sub000/repository"
)

// maxObjectsPerTrack caps how many objects a single track contributes.
const maxObjectsPerTrack = 3

// ProgressFunc receives the running extraction list and the cumulative token
// count after each track completes, so callers can surface partial results
// while the batch is still in flight.
type ProgressFunc func(done []model.TrackExtraction, totalTokens int)

// Engine runs per-track visual object extraction.
// 架构与歌词抓取一致：索引任务通道 → WorkerPool → 按原顺序写回
type Engine struct {
	llm         *llm.Client
	cache       repository.ExtractionCacheRepository
	workerCount int
}

// NewEngine creates an extraction engine.
func NewEngine(llmClient *llm.Client, cache repository.ExtractionCacheRepository, workers int) *Engine {
	if workers <= 0 {
		workers = 5
	}
	return &Engine{
		llm:         llmClient,
		cache:       cache,
		workerCount: workers,
	}
}

// BatchResult is the outcome of extracting a whole track list.
type BatchResult struct {
	Extractions []model.TrackExtraction // same order as the input tracks
	TokensIn    int
	TokensOut   int
}

// ExtractAll extracts objects for every track with bounded concurrency.
// A per-track failure degrades to an empty-objects extraction; only context
// cancellation aborts the batch.
func (e *Engine) ExtractAll(ctx context.Context, tracks []model.Track, progress ProgressFunc) (*BatchResult, error) {
	result := &BatchResult{
		Extractions: make([]model.TrackExtraction, len(tracks)),
	}
	if len(tracks) == 0 {
		return result, nil
	}

	var mu sync.Mutex // guards the progress aggregates below
	completed := make([]model.TrackExtraction, 0, len(tracks))

	taskChan := make(chan int, len(tracks))
	var wg sync.WaitGroup

	for i := 0; i < e.workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range taskChan {
				if ctx.Err() != nil {
					continue
				}
				ext, tokensIn, tokensOut := e.extractOne(ctx, &tracks[idx])
				result.Extractions[idx] = ext

				mu.Lock()
				result.TokensIn += tokensIn
				result.TokensOut += tokensOut
				completed = append(completed, ext)
				if progress != nil {
					snapshot := make([]model.TrackExtraction, len(completed))
					copy(snapshot, completed)
					progress(snapshot, result.TokensIn+result.TokensOut)
				}
				mu.Unlock()
			}
		}()
	}

	for i := range tracks {
		taskChan <- i
	}
	close(taskChan)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	logger.Info("[Extraction] 批量提取完成",
		logger.Int("tracks", len(tracks)),
		logger.Int("tokensIn", result.TokensIn),
		logger.Int("tokensOut", result.TokensOut))
	return result, nil
}

// extractOne resolves a single track: cache first, then one LLM call. Any
// failure returns a degraded empty-objects extraction instead of an error.
func (e *Engine) extractOne(ctx context.Context, track *model.Track) (model.TrackExtraction, int, int) {
	ext := model.TrackExtraction{
		TrackID:    track.ID,
		TrackName:  track.Name,
		Artist:     track.Artist(),
		LyricsUsed: track.LyricsFound,
	}

	if entry, err := e.cache.Get(track.ID, e.llm.Model()); err != nil {
		logger.Warn("[Extraction] 读取提取缓存失败",
			logger.String("trackId", track.ID),
			logger.ErrorField(err))
	} else if entry != nil {
		ext.Objects = entry.Objects
		return ext, 0, 0
	}

	messages := []model.OpenAIChatMessage{
		{Role: "system", Content: ExtractionSystemPrompt},
		{Role: "user", Content: buildUserPrompt(track)},
	}

	res, err := e.llm.CompleteJSON(ctx, messages)
	if err != nil {
		logger.Error("[Extraction] 提取调用失败，降级为空对象",
			logger.String("trackId", track.ID),
			logger.String("trackName", track.Name),
			logger.ErrorField(err))
		return ext, 0, 0
	}

	objects, err := parseObjects(res.Content)
	if err != nil {
		// 模型输出无法解析同样降级，但token已经花出去了，照常计入
		logger.Error("[Extraction] 提取结果解析失败，降级为空对象",
			logger.String("trackId", track.ID),
			logger.String("content", res.Content),
			logger.ErrorField(err))
		return ext, res.Usage.PromptTokens, res.Usage.CompletionTokens
	}

	ext.Objects = objects
	if err := e.cache.Put(&model.CachedExtraction{
		TrackID:   track.ID,
		Model:     e.llm.Model(),
		Objects:   objects,
		TokensIn:  int64(res.Usage.PromptTokens),
		TokensOut: int64(res.Usage.CompletionTokens),
	}); err != nil {
		logger.Warn("[Extraction] 写入提取缓存失败",
			logger.String("trackId", track.ID),
			logger.ErrorField(err))
	}
	return ext, res.Usage.PromptTokens, res.Usage.CompletionTokens
}

// parseObjects decodes the model's JSON reply and drops malformed entries.
func parseObjects(content string) ([]model.TieredObject, error) {
	var payload struct {
		Objects []model.TieredObject `json:"objects"`
	}
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return nil, err
	}

	objects := make([]model.TieredObject, 0, len(payload.Objects))
	for _, obj := range payload.Objects {
		if obj.Object == "" || !obj.Tier.Valid() {
			continue
		}
		objects = append(objects, obj)
		if len(objects) == maxObjectsPerTrack {
			break
		}
	}
	return objects, nil
}

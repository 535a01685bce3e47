package lyrics

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/EvanCNavarro/disc-sub000/logger"
	"github.com/EvanCNavarro/disc-sub000/model"
	"github.com/EvanCNavarro/disc-sub000/repository"
)

// 歌词截断长度（按字符数），控制后续提取调用的token消耗
const maxLyricRunes = 2000

// Fetcher 并行歌词抓取器。
// 架构：索引任务通道 → WorkerPool 并行抓取 → 按原顺序写回结果
type Fetcher struct {
	client      *Client
	cache       repository.LyricCacheRepository
	workerCount int
}

// NewFetcher 创建歌词抓取器
func NewFetcher(client *Client, cache repository.LyricCacheRepository, workers int) *Fetcher {
	if workers <= 0 {
		workers = 5
	}
	return &Fetcher{
		client:      client,
		cache:       cache,
		workerCount: workers,
	}
}

// FetchAll 为整个曲目列表抓取歌词并写回每条记录。
// 单曲失败不会中断整体：失败的曲目保持无歌词状态，由调用方用元数据回退。
// 返回的切片与输入顺序一致。
func (f *Fetcher) FetchAll(ctx context.Context, tracks []model.Track) []model.Track {
	if len(tracks) == 0 {
		return tracks
	}

	results := make([]model.Track, len(tracks))
	copy(results, tracks)

	taskChan := make(chan int, len(tracks))
	var wg sync.WaitGroup
	var cacheHits, fetched, missing int32

	for i := 0; i < f.workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range taskChan {
				if ctx.Err() != nil {
					continue
				}
				f.fetchOne(ctx, &results[idx], &cacheHits, &fetched, &missing)
			}
		}()
	}

	for i := range tracks {
		taskChan <- i
	}
	close(taskChan)
	wg.Wait()

	logger.Info("[Lyrics] 歌词抓取完成",
		logger.Int("total", len(tracks)),
		logger.Int("cacheHits", int(atomic.LoadInt32(&cacheHits))),
		logger.Int("fetched", int(atomic.LoadInt32(&fetched))),
		logger.Int("missing", int(atomic.LoadInt32(&missing))))

	return results
}

func (f *Fetcher) fetchOne(ctx context.Context, track *model.Track, cacheHits, fetched, missing *int32) {
	if entry, err := f.cache.Get(track.ID); err != nil {
		logger.Warn("[Lyrics] 读取歌词缓存失败",
			logger.String("trackId", track.ID),
			logger.ErrorField(err))
	} else if entry != nil {
		atomic.AddInt32(cacheHits, 1)
		track.Lyrics = truncateRunes(entry.Lyrics, maxLyricRunes)
		track.LyricsFound = entry.Found
		if !entry.Found {
			atomic.AddInt32(missing, 1)
		}
		return
	}

	lyric, found, err := f.client.Get(ctx, track)
	if err != nil {
		// 抓取失败按无歌词处理，但不写负缓存，下次运行还有机会
		logger.Warn("[Lyrics] 歌词抓取失败，使用元数据回退",
			logger.String("trackId", track.ID),
			logger.String("trackName", track.Name),
			logger.ErrorField(err))
		atomic.AddInt32(missing, 1)
		return
	}

	track.Lyrics = truncateRunes(lyric, maxLyricRunes)
	track.LyricsFound = found
	if found {
		atomic.AddInt32(fetched, 1)
	} else {
		atomic.AddInt32(missing, 1)
	}

	if err := f.cache.Put(&model.CachedLyric{
		TrackID:   track.ID,
		TrackName: track.Name,
		Artist:    track.Artist(),
		Lyrics:    track.Lyrics,
		Found:     found,
	}); err != nil {
		logger.Warn("[Lyrics] 写入歌词缓存失败",
			logger.String("trackId", track.ID),
			logger.ErrorField(err))
	}
}

// truncateRunes 按字符数截断，避免把多字节字符切成半个
func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

package lyrics

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EvanCNavarro/disc-sub000/model"
)

// memLyricCache is an in-memory stand-in for the MySQL lyric cache.
type memLyricCache struct {
	mu      sync.Mutex
	entries map[string]*model.CachedLyric
	puts    []model.CachedLyric
}

func newMemLyricCache() *memLyricCache {
	return &memLyricCache{entries: map[string]*model.CachedLyric{}}
}

func (c *memLyricCache) Get(trackID string) (*model.CachedLyric, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[trackID], nil
}

func (c *memLyricCache) Put(entry *model.CachedLyric) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	stored := *entry
	c.entries[entry.TrackID] = &stored
	c.puts = append(c.puts, stored)
	return nil
}

func lyricTrack(id, name string) model.Track {
	return model.Track{ID: id, Name: name, Artists: []string{"Artist"}, Album: "Album", DurationMS: 200000}
}

// --- Client.Get ---

func TestClientGetPlainLyrics(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		require.Equal(t, "/api/get", r.URL.Path)
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
			"plainLyrics": "first line\nsecond line",
		}))
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	track := lyricTrack("t1", "Beacon")
	lyric, found, err := client.Get(context.Background(), &track)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "first line\nsecond line", lyric)

	// 查询参数齐全：曲名、艺人、专辑、时长（秒）
	assert.Contains(t, gotQuery, "track_name=Beacon")
	assert.Contains(t, gotQuery, "artist_name=Artist")
	assert.Contains(t, gotQuery, "album_name=Album")
	assert.Contains(t, gotQuery, "duration=200")
}

func TestClientGetStripsSyncedTimestamps(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
			"plainLyrics":  "",
			"syncedLyrics": "[00:12.34]hello darkness\n[00:15.00]my old friend",
		}))
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	track := lyricTrack("t1", "Beacon")
	lyric, found, err := client.Get(context.Background(), &track)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Contains(t, lyric, "hello darkness")
	assert.Contains(t, lyric, "my old friend")
	assert.NotContains(t, lyric, "[00:")
}

func TestClientGetNotFoundIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	track := lyricTrack("t1", "Beacon")
	lyric, found, err := client.Get(context.Background(), &track)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, lyric)
}

func TestClientGetInstrumentalHasNoLyrics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
			"plainLyrics":  "should be ignored",
			"instrumental": true,
		}))
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	track := lyricTrack("t1", "Interlude")
	_, found, err := client.Get(context.Background(), &track)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestClientGetServerErrorIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	track := lyricTrack("t1", "Beacon")
	_, _, err := client.Get(context.Background(), &track)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

// --- Fetcher.FetchAll ---

func lyricServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		name := r.URL.Query().Get("track_name")
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
			"plainLyrics": "lyrics for " + name,
		}))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchAllEnrichesEveryTrackInOrder(t *testing.T) {
	var calls atomic.Int32
	srv := lyricServer(t, &calls)
	cache := newMemLyricCache()
	fetcher := NewFetcher(NewClient(srv.URL), cache, 3)

	tracks := []model.Track{
		lyricTrack("t1", "One"),
		lyricTrack("t2", "Two"),
		lyricTrack("t3", "Three"),
	}
	out := fetcher.FetchAll(context.Background(), tracks)

	require.Len(t, out, 3)
	for i, track := range out {
		assert.Equal(t, tracks[i].ID, track.ID, "track %d out of order", i)
		assert.True(t, track.LyricsFound)
		assert.Equal(t, "lyrics for "+tracks[i].Name, track.Lyrics)
	}
	assert.Equal(t, int32(3), calls.Load())
	// 每条结果都写回缓存
	assert.Len(t, cache.puts, 3)
	// 输入切片本身不被改写
	assert.Empty(t, tracks[0].Lyrics)
}

func TestFetchAllServesFromCache(t *testing.T) {
	var calls atomic.Int32
	srv := lyricServer(t, &calls)
	cache := newMemLyricCache()
	require.NoError(t, cache.Put(&model.CachedLyric{TrackID: "t1", Lyrics: "cached words", Found: true}))
	cache.puts = nil

	fetcher := NewFetcher(NewClient(srv.URL), cache, 2)
	out := fetcher.FetchAll(context.Background(), []model.Track{lyricTrack("t1", "One")})

	assert.Zero(t, calls.Load())
	assert.True(t, out[0].LyricsFound)
	assert.Equal(t, "cached words", out[0].Lyrics)
	assert.Empty(t, cache.puts)
}

func TestFetchAllHonorsNegativeCache(t *testing.T) {
	var calls atomic.Int32
	srv := lyricServer(t, &calls)
	cache := newMemLyricCache()
	// Found=false 也是有效命中：这首歌已知没有歌词
	require.NoError(t, cache.Put(&model.CachedLyric{TrackID: "t1", Found: false}))

	fetcher := NewFetcher(NewClient(srv.URL), cache, 2)
	out := fetcher.FetchAll(context.Background(), []model.Track{lyricTrack("t1", "One")})

	assert.Zero(t, calls.Load())
	assert.False(t, out[0].LyricsFound)
}

func TestFetchAllMissWritesNegativeCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()
	cache := newMemLyricCache()
	fetcher := NewFetcher(NewClient(srv.URL), cache, 1)

	out := fetcher.FetchAll(context.Background(), []model.Track{lyricTrack("t1", "One")})

	assert.False(t, out[0].LyricsFound)
	require.Len(t, cache.puts, 1)
	assert.False(t, cache.puts[0].Found)
}

func TestFetchAllErrorSkipsNegativeCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "flaky", http.StatusInternalServerError)
	}))
	defer srv.Close()
	cache := newMemLyricCache()
	fetcher := NewFetcher(NewClient(srv.URL), cache, 1)

	out := fetcher.FetchAll(context.Background(), []model.Track{lyricTrack("t1", "One")})

	// 抓取失败按无歌词处理，但不写负缓存，下次运行还有机会
	assert.False(t, out[0].LyricsFound)
	assert.Empty(t, cache.puts)
}

func TestFetchAllTruncatesLongLyrics(t *testing.T) {
	long := strings.Repeat("好", maxLyricRunes+500)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{"plainLyrics": long}))
	}))
	defer srv.Close()
	fetcher := NewFetcher(NewClient(srv.URL), newMemLyricCache(), 1)

	out := fetcher.FetchAll(context.Background(), []model.Track{lyricTrack("t1", "One")})

	require.True(t, out[0].LyricsFound)
	runes := []rune(out[0].Lyrics)
	assert.Len(t, runes, maxLyricRunes)
	// 多字节字符不被切半
	assert.Equal(t, '好', runes[len(runes)-1])
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "abc", truncateRunes("abc", 10))
	assert.Equal(t, "ab", truncateRunes("abcd", 2))
	assert.Equal(t, "好好", truncateRunes("好好好好", 2))
	assert.Equal(t, "好", truncateRunes("好", 5))
}

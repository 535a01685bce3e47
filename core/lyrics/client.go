package lyrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/EvanCNavarro/disc-sub000/model"
)

// Client 歌词服务客户端，对接lrclib风格的公开查询API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient 创建歌词客户端，单次请求超时5秒
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// lrcTimestampPattern 匹配LRC格式的时间标签
var lrcTimestampPattern = regexp.MustCompile(`\[[0-9:.]+\]`)

// Get 按曲目元数据查询歌词。返回 (歌词, 是否找到, 错误)。
// 404是确定的"无歌词"结果而非错误，调用方据此写入负缓存。
func (c *Client) Get(ctx context.Context, track *model.Track) (string, bool, error) {
	params := url.Values{}
	params.Set("track_name", track.Name)
	params.Set("artist_name", track.Artist())
	if track.Album != "" {
		params.Set("album_name", track.Album)
	}
	if track.DurationMS > 0 {
		params.Set("duration", strconv.Itoa(track.DurationMS/1000))
	}

	reqURL := fmt.Sprintf("%s/api/get?%s", c.baseURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return "", false, fmt.Errorf("failed to create lyric request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("lyric request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("lyric service returned status %d", resp.StatusCode)
	}

	var result struct {
		PlainLyrics  string `json:"plainLyrics"`
		SyncedLyrics string `json:"syncedLyrics"`
		Instrumental bool   `json:"instrumental"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", false, fmt.Errorf("failed to decode lyric response: %w", err)
	}

	if result.Instrumental {
		return "", false, nil
	}

	lyric := strings.TrimSpace(result.PlainLyrics)
	if lyric == "" && result.SyncedLyrics != "" {
		// 只有同步歌词时，剥掉时间标签当纯文本用
		lyric = strings.TrimSpace(lrcTimestampPattern.ReplaceAllString(result.SyncedLyrics, ""))
	}
	if lyric == "" {
		return "", false, nil
	}
	return lyric, true, nil
}

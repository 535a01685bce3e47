package spotify

import (
	"context"
	"fmt"
	"strconv"

	"github.com/EvanCNavarro/disc-sub000/core/retry"
	"github.com/EvanCNavarro/disc-sub000/logger"
	"github.com/EvanCNavarro/disc-sub000/model"

	"github.com/go-resty/resty/v2"
)

// 单页曲目数，平台上限100
const tracksPageLimit = 100

// trackFields 限定曲目列表响应只携带流水线需要的字段
const trackFields = "items(track(id,name,duration_ms,album(name),artists(name))),next,total"

// maxCoverPayloadBytes 封面上传接口的硬性大小上限（base64编码后）
const maxCoverPayloadBytes = 256 * 1024

// Client 平台Web API客户端。访问令牌由调用方按次传入，客户端自身无状态。
type Client struct {
	apiURL string
	http   *resty.Client
}

// NewClient 创建平台API客户端
func NewClient(apiURL string) *Client {
	return &Client{
		apiURL: apiURL,
		http:   resty.New(),
	}
}

type trackPage struct {
	Items []struct {
		Track struct {
			ID         string `json:"id"`
			Name       string `json:"name"`
			DurationMS int    `json:"duration_ms"`
			Album      struct {
				Name string `json:"name"`
			} `json:"album"`
			Artists []struct {
				Name string `json:"name"`
			} `json:"artists"`
		} `json:"track"`
	} `json:"items"`
	Next  string `json:"next"`
	Total int    `json:"total"`
}

// PlaylistTracks 分页拉取歌单的全部曲目。每次运行都取全新快照。
// 本地曲目（无ID）会被跳过，它们没有可查询的歌词与元数据。
func (c *Client) PlaylistTracks(ctx context.Context, accessToken, playlistID string) ([]model.Track, error) {
	var tracks []model.Track

	for offset := 0; ; offset += tracksPageLimit {
		var page trackPage
		err := retry.Do(ctx, retry.PlatformPolicy, "spotify.tracks", func() error {
			resp, err := c.http.R().
				SetContext(ctx).
				SetAuthToken(accessToken).
				SetQueryParams(map[string]string{
					"limit":  strconv.Itoa(tracksPageLimit),
					"offset": strconv.Itoa(offset),
					"fields": trackFields,
				}).
				SetResult(&page).
				Get(c.apiURL + "/playlists/" + playlistID + "/tracks")
			if err != nil {
				return fmt.Errorf("track page request failed: %w", err)
			}
			if resp.IsError() {
				return &retry.StatusError{Code: resp.StatusCode(), Message: string(resp.Body())}
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to fetch tracks for playlist %s at offset %d: %w", playlistID, offset, err)
		}

		for _, item := range page.Items {
			if item.Track.ID == "" {
				continue
			}
			artists := make([]string, 0, len(item.Track.Artists))
			for _, a := range item.Track.Artists {
				artists = append(artists, a.Name)
			}
			tracks = append(tracks, model.Track{
				ID:         item.Track.ID,
				Name:       item.Track.Name,
				Artists:    artists,
				Album:      item.Track.Album.Name,
				DurationMS: item.Track.DurationMS,
			})
		}

		if page.Next == "" || len(page.Items) == 0 {
			break
		}
	}

	logger.Info("[PlaylistTracks] 歌单曲目快照拉取完成",
		logger.String("playlistId", playlistID),
		logger.Int("tracks", len(tracks)))
	return tracks, nil
}

// PlaylistSummary 是漂移检测所需的歌单概要。
type PlaylistSummary struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	TrackCount int    `json:"trackCount"`
	CoverURL   string `json:"coverUrl"`
	SnapshotID string `json:"snapshotId"`
}

type playlistPage struct {
	Items []struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		Images []struct {
			URL string `json:"url"`
		} `json:"images"`
		Tracks struct {
			Total int `json:"total"`
		} `json:"tracks"`
		SnapshotID string `json:"snapshot_id"`
	} `json:"items"`
	Next string `json:"next"`
}

// UserPlaylists 列出当前用户的全部歌单，用于面板同步与漂移检测。
func (c *Client) UserPlaylists(ctx context.Context, accessToken string) ([]PlaylistSummary, error) {
	var playlists []PlaylistSummary

	for offset := 0; ; offset += 50 {
		var page playlistPage
		err := retry.Do(ctx, retry.PlatformPolicy, "spotify.playlists", func() error {
			resp, err := c.http.R().
				SetContext(ctx).
				SetAuthToken(accessToken).
				SetQueryParams(map[string]string{
					"limit":  "50",
					"offset": strconv.Itoa(offset),
				}).
				SetResult(&page).
				Get(c.apiURL + "/me/playlists")
			if err != nil {
				return fmt.Errorf("playlist page request failed: %w", err)
			}
			if resp.IsError() {
				return &retry.StatusError{Code: resp.StatusCode(), Message: string(resp.Body())}
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to fetch playlists at offset %d: %w", offset, err)
		}

		for _, item := range page.Items {
			p := PlaylistSummary{
				ID:         item.ID,
				Name:       item.Name,
				TrackCount: item.Tracks.Total,
				SnapshotID: item.SnapshotID,
			}
			if len(item.Images) > 0 {
				p.CoverURL = item.Images[0].URL
			}
			playlists = append(playlists, p)
		}

		if page.Next == "" || len(page.Items) == 0 {
			break
		}
	}
	return playlists, nil
}

// Playlist 获取单个歌单的概要（上传封面后刷新封面URL用）。
func (c *Client) Playlist(ctx context.Context, accessToken, playlistID string) (*PlaylistSummary, error) {
	var result struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		Images []struct {
			URL string `json:"url"`
		} `json:"images"`
		Tracks struct {
			Total int `json:"total"`
		} `json:"tracks"`
		SnapshotID string `json:"snapshot_id"`
	}

	err := retry.Do(ctx, retry.PlatformPolicy, "spotify.playlist", func() error {
		resp, err := c.http.R().
			SetContext(ctx).
			SetAuthToken(accessToken).
			SetQueryParam("fields", "id,name,images,tracks.total,snapshot_id").
			SetResult(&result).
			Get(c.apiURL + "/playlists/" + playlistID)
		if err != nil {
			return fmt.Errorf("playlist request failed: %w", err)
		}
		if resp.IsError() {
			return &retry.StatusError{Code: resp.StatusCode(), Message: string(resp.Body())}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch playlist %s: %w", playlistID, err)
	}

	p := &PlaylistSummary{
		ID:         result.ID,
		Name:       result.Name,
		TrackCount: result.Tracks.Total,
		SnapshotID: result.SnapshotID,
	}
	if len(result.Images) > 0 {
		p.CoverURL = result.Images[0].URL
	}
	return p, nil
}

// UploadCover 上传base64编码的JPEG封面。平台对请求体有硬性大小上限，
// 超限直接报错，不再交给平台拒绝。
func (c *Client) UploadCover(ctx context.Context, accessToken, playlistID, base64JPEG string) error {
	if len(base64JPEG) > maxCoverPayloadBytes {
		return fmt.Errorf("cover payload %d bytes exceeds platform limit %d", len(base64JPEG), maxCoverPayloadBytes)
	}

	err := retry.Do(ctx, retry.PlatformPolicy, "spotify.upload_cover", func() error {
		resp, err := c.http.R().
			SetContext(ctx).
			SetAuthToken(accessToken).
			SetHeader("Content-Type", "image/jpeg").
			SetBody(base64JPEG).
			Put(c.apiURL + "/playlists/" + playlistID + "/images")
		if err != nil {
			return fmt.Errorf("cover upload request failed: %w", err)
		}
		if resp.IsError() {
			return &retry.StatusError{Code: resp.StatusCode(), Message: string(resp.Body())}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to upload cover for playlist %s: %w", playlistID, err)
	}

	logger.Info("[UploadCover] 封面上传成功",
		logger.String("playlistId", playlistID),
		logger.Int("payloadBytes", len(base64JPEG)))
	return nil
}

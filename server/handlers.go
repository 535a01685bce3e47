package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/EvanCNavarro/disc-sub000/cache"
	"github.com/EvanCNavarro/disc-sub000/logger"
	"github.com/EvanCNavarro/disc-sub000/model"

	"github.com/gorilla/mux"
)

// Handler 处理状态服务的全部请求
type Handler struct {
	deps      Deps
	startedAt time.Time
}

// NewHandler 创建状态接口处理器
func NewHandler(deps Deps) *Handler {
	return &Handler{deps: deps, startedAt: time.Now()}
}

// writeJSON 输出JSON响应
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("[Server] JSON响应编码失败", logger.ErrorField(err))
	}
}

// writeError 输出JSON错误响应
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Healthz 健康检查
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Status 返回工作进程概况：待处理任务数、可用风格数与运行时长
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	pending, err := h.deps.Jobs.PendingCount()
	if err != nil {
		logger.Error("[Server] 查询待处理任务数失败", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "failed to count pending jobs")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"pendingJobs":   pending,
		"styles":        len(h.deps.Styles.List()),
		"uptimeSeconds": int64(time.Since(h.startedAt).Seconds()),
	})
}

// ListStyles 返回当前加载的全部风格定义
func (h *Handler) ListStyles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Styles.List())
}

// playlistFromPath 解析路径中的歌单行ID并加载歌单。
// 出错时已写好响应，调用方收到nil直接返回即可。
func (h *Handler) playlistFromPath(w http.ResponseWriter, r *http.Request) *model.Playlist {
	idStr := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid playlist id")
		return nil
	}

	playlist, err := h.deps.Playlists.GetByID(id)
	if err != nil {
		logger.Error("[Server] 查询歌单失败",
			logger.Int64("playlistId", id),
			logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "failed to load playlist")
		return nil
	}
	if playlist == nil {
		writeError(w, http.StatusNotFound, "playlist not found")
		return nil
	}
	return playlist
}

// Progress 返回歌单当前状态与进度文档
func (h *Handler) Progress(w http.ResponseWriter, r *http.Request) {
	playlist := h.playlistFromPath(w, r)
	if playlist == nil {
		return
	}
	writeJSON(w, http.StatusOK, progressPayload(r.Context(), playlist))
}

// progressPayload 组装状态推送帧。进度文档优先读Redis镜像，
// 镜像未命中或读取失败时回退MySQL的权威进度列。
func progressPayload(ctx context.Context, playlist *model.Playlist) map[string]any {
	doc, err := cache.GetProgress(ctx, playlist.ID)
	if err != nil {
		logger.Warn("[Server] 进度镜像读取失败",
			logger.Int64("playlistId", playlist.ID),
			logger.ErrorField(err))
		doc = ""
	}
	if doc == "" {
		doc = playlist.Progress
	}

	payload := map[string]any{
		"playlistId": playlist.ID,
		"platformId": playlist.PlatformID,
		"status":     playlist.Status,
	}
	if doc != "" {
		payload["progress"] = json.RawMessage(doc)
	}
	return payload
}

// Generations 返回歌单最近的生成历史
func (h *Handler) Generations(w http.ResponseWriter, r *http.Request) {
	playlist := h.playlistFromPath(w, r)
	if playlist == nil {
		return
	}

	records, err := h.deps.Generations.ListByPlaylist(playlist.PlatformID, 10)
	if err != nil {
		logger.Error("[Server] 查询生成历史失败",
			logger.String("playlistId", playlist.PlatformID),
			logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "failed to list generations")
		return
	}
	writeJSON(w, http.StatusOK, records)
}

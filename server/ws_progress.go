package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/EvanCNavarro/disc-sub000/logger"
	"github.com/EvanCNavarro/disc-sub000/model"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// 进度帧推送间隔
const progressPushInterval = time.Second

// ProgressStream 通过WebSocket周期推送歌单状态帧。
// 歌单进入终态后推送最后一帧并正常关闭；客户端断开立即停止。
func (h *Handler) ProgressStream(w http.ResponseWriter, r *http.Request) {
	idStr := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		http.Error(w, "invalid playlist id", http.StatusBadRequest)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("[Server] WebSocket升级失败", logger.ErrorField(err))
		return
	}
	defer conn.Close()

	// 读协程只用来感知客户端断开
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(progressPushInterval)
	defer ticker.Stop()

	// 劫持后的连接不再跟随请求上下文，镜像读取用独立上下文
	ctx := context.Background()

	for {
		playlist, err := h.deps.Playlists.GetByID(id)
		if err != nil {
			logger.Warn("[Server] 进度推送查询歌单失败",
				logger.Int64("playlistId", id),
				logger.ErrorField(err))
			return
		}
		if playlist == nil {
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "playlist not found"))
			return
		}

		if err := conn.WriteJSON(progressPayload(ctx, playlist)); err != nil {
			return
		}

		// 终态帧已送达，正常关闭
		if playlist.Status != model.PlaylistQueued && playlist.Status != model.PlaylistProcessing {
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(playlist.Status)))
			return
		}

		select {
		case <-done:
			return
		case <-ticker.C:
		}
	}
}

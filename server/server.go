package server

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/EvanCNavarro/disc-sub000/core/styles"
	"github.com/EvanCNavarro/disc-sub000/logger"
	"github.com/EvanCNavarro/disc-sub000/repository"
	"github.com/EvanCNavarro/disc-sub000/storage"

	"github.com/gorilla/mux"
)

// Deps 状态服务依赖的只读数据源
type Deps struct {
	Playlists   repository.PlaylistRepository
	Generations repository.GenerationRepository
	Jobs        repository.JobRepository
	Styles      *styles.Registry
}

// Start 启动只读状态服务并阻塞，上下文取消后优雅退出。
// 这组接口面向运维排障，不承载产品API，也不做鉴权。
func Start(ctx context.Context, addr string, deps Deps) error {
	handler := newRouter(NewHandler(deps))

	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("[Server] 状态服务监听中", logger.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("[Server] 状态服务已停止")
	return nil
}

// newRouter 注册全部路由。
// CORS 中间件包在路由器外层，预检请求不进路由匹配直接放行。
func newRouter(h *Handler) http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/healthz", h.Healthz).Methods(http.MethodGet)
	router.HandleFunc("/api/status", h.Status).Methods(http.MethodGet)
	router.HandleFunc("/api/styles", h.ListStyles).Methods(http.MethodGet)
	router.HandleFunc("/api/playlists/{id}/progress", h.Progress).Methods(http.MethodGet)
	router.HandleFunc("/api/playlists/{id}/generations", h.Generations).Methods(http.MethodGet)
	router.HandleFunc("/ws/progress/{id}", h.ProgressStream)

	// 归档封面直读：按生成记录里的 archive_key 取原始PNG
	router.PathPrefix("/archive/").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.URL.Path, "/archive/")
		if !strings.HasPrefix(key, storage.ArchivePrefix) {
			http.Error(w, "not an archive key", http.StatusBadRequest)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()

		object, err := storage.GetCover(ctx, key)
		if err != nil {
			http.Error(w, "cover not found", http.StatusNotFound)
			return
		}
		defer object.Close()

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "public, max-age=31536000") // 归档不可变，缓存一年
		if _, err := io.Copy(w, object); err != nil {
			logger.Warn("[Server] 归档封面传输中断",
				logger.String("key", key),
				logger.ErrorField(err))
		}
	}).Methods(http.MethodGet)

	return withCORS(router)
}

// withCORS 添加 CORS 响应头
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

package cmd

import (
	"fmt"
	"time"

	"github.com/EvanCNavarro/disc-sub000/config"
	"github.com/EvanCNavarro/disc-sub000/db"
	"github.com/EvanCNavarro/disc-sub000/logger"
	"github.com/EvanCNavarro/disc-sub000/repository"

	"github.com/spf13/cobra"
)

// 处理中状态允许存在的最长时间，超过即视为被崩溃的进程遗弃。
// 窗口要比流水线的10分钟硬截止宽，否则会误杀仍在运行的任务。
const staleWindow = 15 * time.Minute

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "回收滞留的歌单、生成记录与任务",
	Long: `单次清扫：把停留在queued/processing超过15分钟的歌单打回idle，
并把同样超时的生成记录和运行中任务标记为失败。

serve进程启动时和每分钟都会自动执行同样的清扫；本命令用于工作进程
停机时的手工回收，只需要MySQL可达。`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()
		initLogging(cfg)
		defer logger.Sync()

		if err := db.ConnectDB(cfg); err != nil {
			logger.Fatal("[Sweep] MySQL连接失败", logger.ErrorField(err))
		}
		if err := db.InitDB(); err != nil {
			logger.Fatal("[Sweep] 表结构初始化失败", logger.ErrorField(err))
		}

		sweepStale(
			repository.NewMySQLPlaylistRepository(db.DB),
			repository.NewMySQLGenerationRepository(db.DB),
			repository.NewMySQLJobRepository(db.DB),
		)
		fmt.Println("清扫完成")
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

// sweepOnce 用已装配的服务执行一轮滞留回收
func sweepOnce(svc *services) {
	sweepStale(svc.playlists, svc.generations, svc.jobs)
}

// sweepStale 回收滞留状态。三处回收相互独立，单独失败不影响其余两处。
func sweepStale(playlists repository.PlaylistRepository, generations repository.GenerationRepository, jobs repository.JobRepository) {
	if n, err := playlists.ResetStale(staleWindow); err != nil {
		logger.Error("[Sweep] 重置滞留歌单失败", logger.ErrorField(err))
	} else if n > 0 {
		logger.Warn("[Sweep] 重置滞留歌单", logger.Int64("count", n))
	}

	if n, err := generations.FailStale(staleWindow); err != nil {
		logger.Error("[Sweep] 关闭滞留生成记录失败", logger.ErrorField(err))
	} else if n > 0 {
		logger.Warn("[Sweep] 关闭滞留生成记录", logger.Int64("count", n))
	}

	if n, err := jobs.FailStale(staleWindow); err != nil {
		logger.Error("[Sweep] 关闭滞留任务失败", logger.ErrorField(err))
	} else if n > 0 {
		logger.Warn("[Sweep] 关闭滞留任务", logger.Int64("count", n))
	}
}

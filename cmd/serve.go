package cmd

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/EvanCNavarro/disc-sub000/config"
	"github.com/EvanCNavarro/disc-sub000/core/pipeline"
	"github.com/EvanCNavarro/disc-sub000/logger"
	"github.com/EvanCNavarro/disc-sub000/model"
	"github.com/EvanCNavarro/disc-sub000/server"

	"github.com/spf13/cobra"
)

const (
	// 队列空时的轮询间隔
	jobPollInterval = 2 * time.Second
	// 周期清扫间隔
	sweepEvery = time.Minute
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动生成工作进程",
	Long: `启动常驻工作进程：顺序消费jobs队列中的生成任务（同一时刻只处理一个歌单），
周期清扫崩溃进程留下的滞留状态，并在STATUS_ADDR上提供只读状态接口
（健康检查、风格列表、生成历史、进度查询与WebSocket进度推送）。`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()
		initLogging(cfg)
		defer logger.Sync()

		if err := connectInfra(cfg); err != nil {
			logger.Fatal("[Serve] 基础设施初始化失败", logger.ErrorField(err))
		}

		svc, err := buildServices(cfg)
		if err != nil {
			logger.Fatal("[Serve] 服务装配失败", logger.ErrorField(err))
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		// 启动先清扫一轮，回收上一个进程崩溃留下的滞留状态
		sweepOnce(svc)

		go func() {
			if err := svc.styles.Watch(ctx); err != nil {
				logger.Warn("[Serve] 风格目录监听退出", logger.ErrorField(err))
			}
		}()

		go func() {
			if err := server.Start(ctx, cfg.StatusAddr, server.Deps{
				Playlists:   svc.playlists,
				Generations: svc.generations,
				Jobs:        svc.jobs,
				Styles:      svc.styles,
			}); err != nil {
				logger.Error("[Serve] 状态服务退出", logger.ErrorField(err))
			}
		}()

		logger.Info("[Serve] 工作进程已启动",
			logger.String("statusAddr", cfg.StatusAddr),
			logger.Int("styles", len(svc.styles.List())),
			logger.Duration("deadline", cfg.PipelineDeadline))
		runWorker(ctx, svc)
		logger.Info("[Serve] 工作进程已退出")
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// runWorker 轮询任务队列直到上下文取消
func runWorker(ctx context.Context, svc *services) {
	poll := time.NewTicker(jobPollInterval)
	defer poll.Stop()
	sweep := time.NewTicker(sweepEvery)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sweep.C:
			sweepOnce(svc)
		case <-poll.C:
			drainJobs(ctx, svc)
		}
	}
}

// drainJobs 连续认领并执行待处理任务，队列清空或上下文取消时返回
func drainJobs(ctx context.Context, svc *services) {
	for ctx.Err() == nil {
		job, err := svc.jobs.ClaimNext()
		if err != nil {
			logger.Error("[Worker] 认领任务失败", logger.ErrorField(err))
			return
		}
		if job == nil {
			return
		}
		runJob(ctx, svc, job)
	}
}

// runJob 执行单个任务并回写任务状态。失败详情由流水线自己落库，
// 这里只维护队列行的生命周期。
func runJob(ctx context.Context, svc *services, job *model.Job) {
	logger.Info("[Worker] 开始执行任务",
		logger.Int64("jobId", job.ID),
		logger.String("playlistId", job.PlaylistID),
		logger.String("trigger", string(job.Trigger)))

	err := svc.pipeline.Run(ctx, &pipeline.Request{
		UserID:     job.UserID,
		PlaylistID: job.PlaylistID,
		Trigger:    job.Trigger,
		JobID:      job.ID,
		Options:    job.Options,
	})
	if err != nil {
		if markErr := svc.jobs.Fail(job.ID, err.Error()); markErr != nil {
			logger.Error("[Worker] 任务失败状态写入出错",
				logger.Int64("jobId", job.ID),
				logger.ErrorField(markErr))
		}
		return
	}
	if err := svc.jobs.Complete(job.ID); err != nil {
		logger.Error("[Worker] 任务完成状态写入出错",
			logger.Int64("jobId", job.ID),
			logger.ErrorField(err))
	}
}

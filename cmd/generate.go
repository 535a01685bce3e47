package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/EvanCNavarro/disc-sub000/config"
	"github.com/EvanCNavarro/disc-sub000/core/pipeline"
	"github.com/EvanCNavarro/disc-sub000/logger"
	"github.com/EvanCNavarro/disc-sub000/model"

	"github.com/spf13/cobra"
)

var (
	genUserID    int64
	genPlaylist  string
	genStyle     string
	genObject    string
	genLightText string
	genNotes     string
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "对单个歌单直接执行一次封面生成",
	Long: `绕过任务队列，对指定歌单同步执行一次完整的封面生成流水线。
歌单尚未登记时会自动建档。需要完整的基础设施（MySQL、Redis、MinIO）
以及平台、LLM与图像服务的凭证。`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()
		initLogging(cfg)
		defer logger.Sync()

		if err := connectInfra(cfg); err != nil {
			logger.Fatal("[Generate] 基础设施初始化失败", logger.ErrorField(err))
		}
		svc, err := buildServices(cfg)
		if err != nil {
			logger.Fatal("[Generate] 服务装配失败", logger.ErrorField(err))
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		err = svc.pipeline.Run(ctx, &pipeline.Request{
			UserID:     genUserID,
			PlaylistID: genPlaylist,
			Trigger:    model.TriggerManual,
			Options: model.JobOptions{
				CustomObject:        genObject,
				LightExtractionText: genLightText,
				RevisionNotes:       genNotes,
				StyleID:             genStyle,
			},
		})
		if err != nil {
			logger.Fatal("[Generate] 生成失败", logger.ErrorField(err))
		}
		fmt.Println("封面生成完成")
	},
}

func init() {
	rootCmd.AddCommand(generateCmd)

	generateCmd.Flags().Int64VarP(&genUserID, "user", "u", 0, "歌单所属用户ID")
	generateCmd.Flags().StringVarP(&genPlaylist, "playlist", "p", "", "平台歌单ID")
	generateCmd.Flags().StringVarP(&genStyle, "style", "s", "", "覆盖歌单配置的风格ID")
	generateCmd.Flags().StringVarP(&genObject, "object", "o", "", "跳过全部分析，直接使用该主体")
	generateCmd.Flags().StringVarP(&genLightText, "light-text", "t", "", "跳过逐曲提取，从该描述轻量推导主体")
	generateCmd.Flags().StringVarP(&genNotes, "notes", "n", "", "重跑修正提示，引导主题避开上次结果")
	_ = generateCmd.MarkFlagRequired("user")
	_ = generateCmd.MarkFlagRequired("playlist")

	generateCmd.Example = `  # 完整分析流水线
  disc generate -u 42 -p 37i9dQZF1DXcBWIGoYBM5M

  # 指定主体，跳过歌词抓取与全部LLM分析
  disc generate -u 42 -p 37i9dQZF1DXcBWIGoYBM5M -o "neon jellyfish"

  # 轻量提取并覆盖风格
  disc generate -u 42 -p 37i9dQZF1DXcBWIGoYBM5M -t "晚间低保真学习歌单" -s vaporwave

  # 重跑并附带修正提示
  disc generate -u 42 -p 37i9dQZF1DXcBWIGoYBM5M -n "avoid desert imagery"`
}

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "disc",
	Short: "Disc 根据歌单内容生成AI封面",
	Long: `Disc 是歌单封面生成服务：分析歌单曲目与歌词、收敛出视觉主题、
调用图像模型生成封面并上传回音乐平台。

serve 启动常驻进程（任务队列 + 状态接口），generate 对单个歌单直接跑一次流水线。`,
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

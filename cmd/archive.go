package cmd

import (
	"context"
	"fmt"
	"log"

	"github.com/EvanCNavarro/disc-sub000/config"
	"github.com/EvanCNavarro/disc-sub000/storage"

	"github.com/spf13/cobra"
)

var (
	archivePrefix string
	archiveStats  bool
	archiveTree   bool
	archiveDelete bool
)

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "封面归档管理",
	Long: `查看和管理MinIO中归档的原始封面。封面按 generations/{用户}/{歌单}/{时间戳}.png
归档，支持列出、统计、按层级展示与按前缀删除。所有操作都限定在归档前缀之下。`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("开始连接MinIO服务器...")

		cfg := config.Load()
		fmt.Printf("MinIO配置: %s, Bucket: %s\n", cfg.MinioEndpoint, cfg.MinioBucket)

		if err := storage.InitMinio(); err != nil {
			log.Fatalf("无法连接到MinIO: %v", err)
		}
		fmt.Println("MinIO连接成功！")

		browser, err := storage.NewBrowser()
		if err != nil {
			log.Fatalf("创建归档浏览器失败: %v", err)
		}

		ctx := context.Background()
		switch {
		case archiveDelete:
			if archivePrefix == "" {
				log.Fatal("删除操作需要指定前缀，如 -p \"42/\" 或 -p \"42/37i9dQ.../\"")
			}
			n, err := browser.Purge(ctx, archivePrefix)
			if err != nil {
				log.Fatalf("删除归档失败: %v", err)
			}
			fmt.Printf("已删除 %d 张归档封面\n", n)
		case archiveTree:
			if err := browser.PrintTree(ctx, archivePrefix); err != nil {
				log.Fatalf("显示归档结构失败: %v", err)
			}
		case archiveStats:
			if err := browser.PrintStats(ctx, archivePrefix); err != nil {
				log.Fatalf("获取归档统计失败: %v", err)
			}
		default:
			if err := browser.PrintList(ctx, archivePrefix); err != nil {
				log.Fatalf("列出归档失败: %v", err)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(archiveCmd)

	archiveCmd.Flags().StringVarP(&archivePrefix, "prefix", "p", "", "归档前缀（用户ID或 用户ID/歌单ID），留空为全部")
	archiveCmd.Flags().BoolVarP(&archiveStats, "stats", "s", false, "显示归档统计信息")
	archiveCmd.Flags().BoolVarP(&archiveTree, "tree", "t", false, "按用户/歌单层级显示归档")
	archiveCmd.Flags().BoolVarP(&archiveDelete, "delete", "d", false, "删除指定前缀下的全部归档封面")

	archiveCmd.Example = `  # 列出全部归档封面
  disc archive

  # 只看某个用户的归档
  disc archive -p "42/"

  # 归档统计
  disc archive -s

  # 按用户/歌单层级展示
  disc archive -t

  # 删除某个歌单的历史归档
  disc archive -d -p "42/37i9dQZF1DXcBWIGoYBM5M/"`
}

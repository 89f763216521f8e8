package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JackieWYB/majiang-sub003/app"
	"github.com/JackieWYB/majiang-sub003/common/config"
	"github.com/JackieWYB/majiang-sub003/common/log"
	"github.com/JackieWYB/majiang-sub003/common/metrics"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "sanma",
	Short: "三人麻将游戏服务",
	Long:  `三人麻将游戏服务`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := config.Load(configFile); err != nil {
			log.Fatal("文件配置发生错误：%v", err)
		}
		log.InitLog(config.Conf.ID, config.Conf.LogConf.Level)

		go func() {
			log.Info("启动监控..., URL: http://localhost:%d/debug/statsviz/", config.Conf.MetricPort)
			if err := metrics.Serve(fmt.Sprintf("0.0.0.0:%d", config.Conf.MetricPort)); err != nil {
				panic(err)
			}
		}()

		if err := app.Run(context.Background()); err != nil {
			log.Error("发生异常: %v", err)
			os.Exit(-1)
		}
	},
}

func init() {
	rootCmd.Flags().StringVar(&configFile, "configFile", "", "resource file")
	_ = rootCmd.MarkFlagRequired("configFile")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error("error happen: %#v", err)
		os.Exit(1)
	}
}

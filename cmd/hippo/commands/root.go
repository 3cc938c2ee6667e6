package commands

import (
	"context"
	"fmt"
	"os"

	"hippo/pkg/acl"
	"hippo/pkg/app"
	"hippo/pkg/config"
	"hippo/pkg/logging"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string

	// 调用方身份，管理员工具默认以 --as 指定的用户操作
	asUser   string
	asGroups []string
	asAdmin  bool

	// 全局应用实例，供子命令使用
	Hippo *app.App
)

// skipApp 这些命令不需要数据库和对象存储
const skipApp = "skip-app"

var rootCmd = &cobra.Command{
	Use:           "hippo",
	Short:         "hippo: versioned catalog of data products",
	SilenceUsage:  true,
	SilenceErrors: true,
	// PersistentPreRunE 会在所有子命令执行前运行
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		log := logging.Setup(viper.GetString("log.level"), viper.GetString("log.format"))

		if _, ok := cmd.Annotations[skipApp]; ok || Hippo != nil {
			return nil
		}

		var err error
		Hippo, err = app.NewApp(context.Background(), log)
		if err != nil {
			return fmt.Errorf("failed to initialize hippo: %w\n(is the database reachable?)", err)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if Hippo == nil {
			return nil
		}
		return Hippo.Close()
	},
}

// Execute 是入口
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// 1. 全局参数
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.hippo/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&asUser, "as", os.Getenv("USER"), "act as this user")
	rootCmd.PersistentFlags().StringSliceVar(&asGroups, "groups", nil, "extra groups of the acting user")
	rootCmd.PersistentFlags().BoolVar(&asAdmin, "admin", false, "act with the admin scope")

	// 2. 绑定到 Viper，yaml 和 --log-level 都可以设置
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("storage-type", "", "object store backend (s3, memory)")
	for key, flag := range map[string]string{
		"log.level":    "log-level",
		"storage.type": "storage-type",
	} {
		if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			fmt.Fprintln(os.Stderr, "Failed to bind flag:", err)
			os.Exit(1)
		}
	}
}

// initConfig 读取配置文件和环境变量
func initConfig() {
	if err := config.Load(cfgFile); err != nil {
		fmt.Fprintln(os.Stderr, "Config error:", err)
		os.Exit(1)
	}
}

// currentCaller 用户名本身也是一个 group
func currentCaller() acl.Caller {
	c := acl.Caller{Name: asUser, Groups: append([]string{asUser}, asGroups...)}
	if asAdmin {
		c.Scopes = []string{acl.AdminScope}
	}
	return c
}

func requireApp() error {
	if Hippo == nil {
		return fmt.Errorf("application not initialized")
	}
	return nil
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀，例如 HIPPO_STORAGE_BUCKET 对应 storage.bucket
const EnvPrefix = "HIPPO"

// Load 初始化 Viper 配置
// cfgFile: 可选，用户显式指定的配置文件路径
func Load(cfgFile string) error {
	// 1. 设置默认值 (Defaults)
	setDefaults()

	// 2. 配置搜索路径
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}

		// 搜索顺序：当前目录 -> ./.hippo -> ~/.hippo
		viper.AddConfigPath(".")
		viper.AddConfigPath(".hippo")
		viper.AddConfigPath(filepath.Join(home, ".hippo"))

		viper.SetConfigType("yaml")
		viper.SetConfigName("config") // 找 config.yaml
	}

	// 3. 读取环境变量 (HIPPO_DATABASE_HOST 等)
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// 4. 读取配置文件
	if err := viper.ReadInConfig(); err != nil {
		// 没找到配置文件不算错，可能全靠环境变量；格式错才是错
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("fatal error config file: %w", err)
		}
		log.Debug().Msg("no config file found, using defaults/env vars")
	} else {
		log.Debug().Str("file", viper.ConfigFileUsed()).Msg("using config file")
	}

	return nil
}

func setDefaults() {
	// 数据库默认值
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "hippo")
	viper.SetDefault("database.name", "hippo")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.log_sql", false)

	// 对象存储默认值
	viper.SetDefault("storage.type", "s3")
	viper.SetDefault("storage.region", "us-east-1")
	viper.SetDefault("storage.bucket", "global")
	viper.SetDefault("storage.upgrade_https", false)
	viper.SetDefault("storage.presign_expiry", 24*time.Hour)

	// 上传
	viper.SetDefault("upload.part_size", 50*1024*1024)
	viper.SetDefault("upload.multipart_threshold", 50*1024*1024)
	viper.SetDefault("upload.chunk_timeout", 120*time.Second)

	// stat 缓存，redis_url 为空表示不启用
	viper.SetDefault("cache.redis_url", "")
	viper.SetDefault("cache.ttl", 10*time.Minute)

	viper.SetDefault("versioning.optimistic_lock", false)

	viper.SetDefault("server.grpc_addr", ":8080")
	viper.SetDefault("server.metrics_addr", ":9090")
	viper.SetDefault("server.object_addr", ":8081")
	viper.SetDefault("server.object_url", "http://localhost:8081")
	viper.SetDefault("server.token_ttl", 24*time.Hour)

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "console")

	home, _ := os.UserHomeDir()
	viper.SetDefault("localcache.path", filepath.Join(home, ".hippo", "cache"))
}

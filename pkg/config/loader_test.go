package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_FileAndEnv(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte(`
storage:
  endpoint: http://localhost:9000
  bucket: maps
cache:
  ttl: 30s
versioning:
  optimistic_lock: true
`), 0644))

	t.Setenv("HIPPO_STORAGE_BUCKET", "from-env")
	t.Setenv("HIPPO_LOG_LEVEL", "debug")

	require.NoError(t, Load(cfgFile))

	// 1. 文件
	assert.Equal(t, "http://localhost:9000", viper.GetString("storage.endpoint"))
	assert.Equal(t, 30*time.Second, viper.GetDuration("cache.ttl"))
	assert.True(t, viper.GetBool("versioning.optimistic_lock"))

	// 2. 环境变量优先于文件
	assert.Equal(t, "from-env", viper.GetString("storage.bucket"))
	assert.Equal(t, "debug", viper.GetString("log.level"))

	// 3. 默认值
	assert.Equal(t, 24*time.Hour, viper.GetDuration("storage.presign_expiry"))
	assert.Equal(t, int64(50*1024*1024), viper.GetInt64("upload.part_size"))
	assert.Equal(t, ":8080", viper.GetString("server.grpc_addr"))
}

func TestLoad_BadFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cfgFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("storage: [unclosed"), 0644))

	assert.Error(t, Load(cfgFile))
}

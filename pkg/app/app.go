// pkg/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"

	"hippo/pkg/collection"
	"hippo/pkg/meta"
	"hippo/pkg/metrics"
	"hippo/pkg/product"
	"hippo/pkg/server"
	"hippo/pkg/storage"
	"hippo/pkg/storage/cache"
	"hippo/pkg/storage/memory"
	"hippo/pkg/storage/s3"
	"hippo/pkg/upload"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// TokenIssuer 令牌的 iss 字段
const TokenIssuer = "hippo"

// App 是整个应用程序的依赖容器 (Dependency Container)
// 它持有所有 "单例" 服务
type App struct {
	DB    *meta.DB
	Repo  *meta.Repository
	Store storage.ObjectStore
	// Memory 只有 storage.type=memory 时非空，需要由服务端对外提供 HTTP
	Memory *memory.Store

	Uploads     *upload.Orchestrator
	Products    *product.Service
	Collections *collection.Service

	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Tokens   *server.TokenService
	Log      zerolog.Logger

	closers []func() error
}

// NewApp 是工厂函数，负责组装这一台机器
// 它遵循 Viper 的配置，但不知道具体的 CLI 命令
func NewApp(ctx context.Context, log zerolog.Logger) (*App, error) {
	// 1. 文档存储
	db, err := meta.NewDB(ctx, meta.Config{
		Host:     viper.GetString("database.host"),
		Port:     viper.GetInt("database.port"),
		User:     viper.GetString("database.user"),
		Password: viper.GetString("database.password"),
		DBName:   viper.GetString("database.name"),
		SSLMode:  viper.GetString("database.sslmode"),
		LogSQL:   viper.GetBool("database.log_sql"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init database: %w", err)
	}

	a, err := New(ctx, db, log)
	if err != nil {
		db.Close()
		return nil, err
	}
	a.closers = append(a.closers, db.Close)
	return a, nil
}

// New 在已有的数据库连接上组装其余组件，测试直接传入 SQLite
func New(ctx context.Context, db *meta.DB, log zerolog.Logger) (*App, error) {
	a := &App{
		DB:       db,
		Repo:     meta.NewRepository(db),
		Registry: prometheus.NewRegistry(),
		Log:      log,
	}
	a.Metrics = metrics.New(a.Registry)

	// 2. 对象存储 (Dependency Injection)
	store, mem, err := initStore(ctx, log)
	if err != nil {
		return nil, fmt.Errorf("failed to init storage: %w", err)
	}
	a.Memory = mem

	// 3. 可选的 stat 缓存
	if url := viper.GetString("cache.redis_url"); url != "" {
		cached, err := cache.NewCachedStore(store, cache.Config{
			RedisURL: url,
			TTL:      viper.GetDuration("cache.ttl"),
		}, log)
		if err != nil {
			return nil, fmt.Errorf("failed to init stat cache: %w", err)
		}
		a.closers = append(a.closers, cached.Close)
		store = cached
	}
	a.Store = store

	// 4. 业务服务
	a.Uploads = upload.NewOrchestrator(a.Repo, store, upload.Config{
		Bucket:             viper.GetString("storage.bucket"),
		MultipartThreshold: viper.GetInt64("upload.multipart_threshold"),
		PartSize:           viper.GetInt64("upload.part_size"),
	}, log, a.Metrics)
	a.Products = product.NewService(a.Repo, a.Uploads, product.Config{
		OptimisticLock: viper.GetBool("versioning.optimistic_lock"),
	}, log, a.Metrics)
	a.Collections = collection.NewService(a.Repo, log)

	if secret := viper.GetString("server.jwt_secret"); secret != "" {
		a.Tokens = server.NewTokenService([]byte(secret), TokenIssuer, viper.GetDuration("server.token_ttl"))
	}
	return a, nil
}

// initStore 根据 storage.type 选择后端
func initStore(ctx context.Context, log zerolog.Logger) (storage.ObjectStore, *memory.Store, error) {
	switch kind := viper.GetString("storage.type"); kind {
	case "s3":
		bucket := viper.GetString("storage.bucket")
		if bucket == "" {
			return nil, nil, errors.New("s3 bucket is required (storage.bucket)")
		}
		adapter, err := s3.NewAdapter(ctx, s3.Config{
			Endpoint:        viper.GetString("storage.endpoint"),
			Region:          viper.GetString("storage.region"),
			Bucket:          bucket,
			AccessKeyID:     viper.GetString("storage.access_key"),
			SecretAccessKey: viper.GetString("storage.secret_key"),
			PresignEndpoint: viper.GetString("storage.presign_endpoint"),
			UpgradeHTTPS:    viper.GetBool("storage.upgrade_https"),
			PresignExpiry:   viper.GetDuration("storage.presign_expiry"),
		}, log)
		if err != nil {
			return nil, nil, err
		}
		return adapter, nil, nil

	case "memory":
		mem := memory.New(viper.GetString("server.object_url"))
		return mem, mem, nil

	default:
		return nil, nil, fmt.Errorf("unsupported storage type: %q", kind)
	}
}

// Close 按创建的逆序释放资源
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

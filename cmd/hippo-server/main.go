package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hippo/pkg/app"
	"hippo/pkg/config"
	"hippo/pkg/logging"
	"hippo/pkg/server"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// 1. Load Config
	cfgFile := flag.String("config", "", "config file (default is $HOME/.hippo/config.yaml)")
	flag.Parse()

	if err := config.Load(*cfgFile); err != nil {
		bootLog := logging.Setup("info", "json")
		bootLog.Fatal().Err(err).Msg("❌ Config error")
	}
	log := logging.Setup(viper.GetString("log.level"), viper.GetString("log.format"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Init Core Application
	application, err := app.NewApp(ctx, log)
	if err != nil {
		log.Fatal().Err(err).Msg("❌ Failed to initialize app")
	}
	log.Info().Msg("✅ Hippo core initialized")

	err = run(ctx, application, log)
	if cerr := application.Close(); cerr != nil {
		log.Warn().Err(cerr).Msg("close app")
	}
	if err != nil {
		log.Error().Err(err).Msg("❌ Server exited")
		os.Exit(1)
	}
	log.Info().Msg("👋 Server stopped")
}

// run 启动 gRPC、指标和 (内存存储时的) 对象 HTTP 服务，直到 ctx 结束
func run(ctx context.Context, a *app.App, log zerolog.Logger) error {
	// 1. gRPC
	grpcAddr := viper.GetString("server.grpc_addr")
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		return err
	}
	grpcServer := grpc.NewServer(server.ServerOptions(log, a.Metrics, a.Tokens)...)

	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	// Enable Reflection for debugging tools (grpcurl)
	reflection.Register(grpcServer)

	// 2. HTTP: /metrics 和内存对象存储
	httpServers := []*http.Server{{
		Addr:              viper.GetString("server.metrics_addr"),
		Handler:           metricsMux(a),
		ReadHeaderTimeout: 5 * time.Second,
	}}
	if a.Memory != nil {
		a.Memory.SetBaseURL(viper.GetString("server.object_url"))
		httpServers = append(httpServers, &http.Server{
			Addr:              viper.GetString("server.object_addr"),
			Handler:           a.Memory,
			ReadHeaderTimeout: 5 * time.Second,
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", grpcAddr).Msg("🚀 gRPC server listening")
		return grpcServer.Serve(lis)
	})
	for _, srv := range httpServers {
		g.Go(func() error {
			log.Info().Str("addr", srv.Addr).Msg("🚀 HTTP server listening")
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	// 3. Graceful Shutdown
	g.Go(func() error {
		<-gctx.Done()
		log.Warn().Msg("⚠️  Shutting down server...")
		healthSrv.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		for _, srv := range httpServers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Str("addr", srv.Addr).Msg("http shutdown")
			}
		}
		grpcServer.GracefulStop()
		return nil
	})

	return g.Wait()
}

func metricsMux(a *app.App) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{Registry: a.Registry}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

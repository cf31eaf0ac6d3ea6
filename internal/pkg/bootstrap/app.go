// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"orderflow/internal/pkg/nacos"
)

const shutdownTimeout = 10 * time.Second

// Worker 是随服务一起运行的后台任务，ctx 结束时应返回
type Worker func(ctx context.Context) error

// Closer 在关停时按登记的逆序执行
type Closer func(ctx context.Context) error

// AppInfo 包含了启动一个微服务所需的所有特定信息。
type AppInfo struct {
	ServiceName string
	Port        int
	Handler     http.Handler
	Workers     []Worker
	Closers     []Closer
	// Nacos 非空时启动后注册实例，关停时注销
	Nacos *nacos.Client
}

// StartService 运行 HTTP 服务与后台任务，直到收到退出信号或任一任务出错，然后优雅关停。
func StartService(ctx context.Context, info AppInfo) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(info.Port),
		Handler:           info.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("service", info.ServiceName).Int("port", info.Port).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	for _, w := range info.Workers {
		w := w
		g.Go(func() error { return w(gctx) })
	}

	var ip string
	if info.Nacos != nil {
		var err error
		if ip, err = nacos.OutboundIP(); err != nil {
			log.Error().Err(err).Msg("failed to resolve outbound ip, skipping nacos registration")
		} else if err := info.Nacos.RegisterServiceInstance(info.ServiceName, ip, info.Port); err != nil {
			log.Error().Err(err).Msg("nacos registration failed")
			ip = ""
		}
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Str("service", info.ServiceName).Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// 先从注册中心摘除，再停止接收请求
		if info.Nacos != nil {
			if ip != "" {
				if err := info.Nacos.DeregisterServiceInstance(info.ServiceName, ip, info.Port); err != nil {
					log.Warn().Err(err).Msg("nacos deregistration failed")
				}
			}
			info.Nacos.Close()
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("http server shutdown")
		}
		for i := len(info.Closers) - 1; i >= 0; i-- {
			if err := info.Closers[i](shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("closer failed")
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Str("service", info.ServiceName).Msg("service gracefully shut down")
	return nil
}

// Getenv 读取环境变量，未设置时返回 fallback
func Getenv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

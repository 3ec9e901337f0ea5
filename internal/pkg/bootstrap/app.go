// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"context"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"shopline/internal/pkg/nacos"
)

// AppInfo 包含了启动一个服务所需的所有特定信息
type AppInfo struct {
	ServiceName string
	Port        int
	Handler     http.Handler
	// Nacos 为 nil 时不做服务注册
	Nacos *nacos.Client
	// Workers 与 HTTP 服务并行运行，ctx 在关停时取消；任何一个返回错误都会触发关停
	Workers []func(ctx context.Context) error
	// Cleanups 在 HTTP 服务停止后按注册的逆序执行
	Cleanups        []func(ctx context.Context)
	ShutdownTimeout time.Duration
}

// Run 启动 HTTP 服务和后台任务，阻塞到收到 SIGINT/SIGTERM、ctx 取消或某个任务失败，
// 然后注销服务、停止 HTTP 服务并执行清理。
func Run(ctx context.Context, info AppInfo) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if info.ShutdownTimeout <= 0 {
		info.ShutdownTimeout = 10 * time.Second
	}

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(info.Port),
		Handler:           info.Handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("service", info.ServiceName).Int("port", info.Port).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrapf(err, "listen on %s", server.Addr)
		}
		return nil
	})
	for _, worker := range info.Workers {
		g.Go(func() error { return worker(gctx) })
	}

	var ip string
	if info.Nacos != nil {
		var err error
		if ip, err = nacos.OutboundIP(); err != nil {
			log.Error().Err(err).Msg("skip nacos registration")
		} else if err := info.Nacos.RegisterServiceInstance(info.ServiceName, ip, info.Port); err != nil {
			log.Error().Err(err).Msg("nacos registration failed")
			ip = ""
		}
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Str("service", info.ServiceName).Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), info.ShutdownTimeout)
		defer cancel()

		// 先从注册中心摘除，再停止接收请求
		if ip != "" {
			if err := info.Nacos.DeregisterServiceInstance(info.ServiceName, ip, info.Port); err != nil {
				log.Error().Err(err).Msg("nacos deregistration failed")
			}
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("http server shutdown")
		}
		for i := len(info.Cleanups) - 1; i >= 0; i-- {
			info.Cleanups[i](shutdownCtx)
		}
		return nil
	})

	err := g.Wait()
	if err != nil {
		log.Error().Err(err).Str("service", info.ServiceName).Msg("service stopped with error")
	} else {
		log.Info().Str("service", info.ServiceName).Msg("service gracefully shut down")
	}
	return err
}

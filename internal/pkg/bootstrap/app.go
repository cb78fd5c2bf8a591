// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"eventix/internal/pkg/logger"
	"eventix/internal/pkg/nacos"
	"eventix/internal/pkg/tracing"
)

// AppCtx 传递给路由注册回调的上下文。
type AppCtx struct {
	Mux   *http.ServeMux
	Nacos *nacos.Client // 未启用 Nacos 时为 nil
}

// AppInfo 包含了启动一个服务所需的所有特定信息。
type AppInfo struct {
	ServiceName    string
	Port           int
	JaegerEndpoint string

	// Nacos 注册信息，ServerAddrs 为空时跳过注册（本地或测试环境）
	NacosServerAddrs string
	NacosNamespace   string
	NacosGroup       string

	// RegisterHandlers 允许服务注册自己独特的 HTTP 路由
	RegisterHandlers func(appCtx AppCtx)

	// Runners 是随服务生命周期运行的后台任务（清扫器、消费者等），
	// ctx 取消后必须返回
	Runners []func(ctx context.Context) error
}

// StartService 封装了服务的通用启动和优雅关停逻辑。
func StartService(info AppInfo) error {
	log := logger.Ctx(context.Background())

	// 1. Tracer
	tp, err := tracing.InitTracerProvider(info.ServiceName, info.JaegerEndpoint)
	if err != nil {
		return fmt.Errorf("failed to initialize tracer provider: %w", err)
	}

	// 2. Nacos 注册（可选）
	var naming *nacos.Client
	var registeredIP string
	if info.NacosServerAddrs != "" {
		naming, err = nacos.NewClient(info.NacosServerAddrs, info.NacosNamespace, info.NacosGroup)
		if err != nil {
			return fmt.Errorf("failed to initialize nacos client: %w", err)
		}
		registeredIP, err = outboundIP()
		if err != nil {
			return fmt.Errorf("failed to get outbound IP address: %w", err)
		}
		if err := naming.RegisterServiceInstance(info.ServiceName, registeredIP, info.Port); err != nil {
			return fmt.Errorf("failed to register service with nacos: %w", err)
		}
	}

	// 3. HTTP Server
	mux := http.NewServeMux()
	if info.RegisterHandlers != nil {
		info.RegisterHandlers(AppCtx{Mux: mux, Nacos: naming})
	}
	server := &http.Server{Addr: ":" + strconv.Itoa(info.Port), Handler: mux}

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		log.Info().Msgf("%s listening on :%d", info.ServiceName, info.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	for _, runner := range info.Runners {
		r := runner
		g.Go(func() error { return r(gctx) })
	}

	// 4. 阻塞直到收到退出信号或任一组件失败
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info().Msgf("Received signal %s, shutting down %s...", sig, info.ServiceName)
	case <-gctx.Done():
		log.Error().Msg("A component failed, shutting down...")
	}
	cancel()

	// 5. 按后进先出的顺序执行清理
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if naming != nil {
		if err := naming.DeregisterServiceInstance(info.ServiceName, registeredIP, info.Port); err != nil {
			log.Error().Err(err).Msg("Error deregistering from Nacos")
		}
	}

	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error shutting down tracer provider")
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error shutting down http server")
	}

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Background runner exited with error")
		return err
	}

	log.Info().Msgf("Service %s gracefully shut down.", info.ServiceName)
	return nil
}

// outboundIP 通过一次 UDP 拨号探测本机对外 IP，用于服务注册。
func outboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}

package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/vladislavdragonenkov/orderflow/internal/health"
)

// grpcServiceName: имя сервиса в gRPC health.
const grpcServiceName = "orderflow"

// Run поднимает HTTP API, сервер метрик, gRPC health и фоновые воркеры,
// ждёт отмены ctx и останавливает всё. Возвращает nil при штатной остановке.
func (a *Application) Run(ctx context.Context) error {
	defer func() {
		if err := a.Close(); err != nil {
			a.logger.WithError(err).Warn("close resources")
		}
	}()

	apiLis, err := net.Listen("tcp", a.cfg.HTTPAddr)
	if err != nil {
		return err
	}
	metricsLis, err := net.Listen("tcp", a.cfg.MetricsAddr)
	if err != nil {
		_ = apiLis.Close()
		return err
	}
	grpcLis, err := net.Listen("tcp", a.cfg.GRPCAddr)
	if err != nil {
		_ = apiLis.Close()
		_ = metricsLis.Close()
		return err
	}

	apiSrv := &http.Server{Handler: a.router, ReadHeaderTimeout: 5 * time.Second}
	metricsSrv := &http.Server{Handler: metricsMux(a.health), ReadHeaderTimeout: 5 * time.Second}
	grpcSrv, grpcHealth := newGRPCServer(a.logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.WithField("addr", apiLis.Addr().String()).Info("http api listening")
		return ignoreClosed(apiSrv.Serve(apiLis))
	})
	g.Go(func() error {
		a.logger.WithField("addr", metricsLis.Addr().String()).Info("metrics and health checks listening")
		return ignoreClosed(metricsSrv.Serve(metricsLis))
	})
	g.Go(func() error {
		a.logger.WithField("addr", grpcLis.Addr().String()).Info("grpc health listening")
		if err := grpcSrv.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		a.Pool.Run(gctx)
		return nil
	})
	g.Go(func() error {
		a.janitor.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return a.Sync.Run(gctx)
	})
	if a.outboxWorker != nil {
		g.Go(func() error {
			return a.outboxWorker.Run(gctx)
		})
	}
	if a.consumer != nil {
		g.Go(func() error {
			return a.consumer.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down")
		grpcHealth.Shutdown()
		stopGRPC(grpcSrv, a.cfg.ShutdownTimeout, a.logger)
		shutdownHTTP(apiSrv, a.cfg.ShutdownTimeout, a.logger)
		shutdownHTTP(metricsSrv, a.cfg.ShutdownTimeout, a.logger)
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// metricsMux отдаёт /metrics и probe'ы оркестратора.
func metricsMux(checks *health.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", checks)
	mux.HandleFunc("/readyz", checks.ReadinessHandler)
	mux.HandleFunc("/livez", health.LivenessHandler)
	return mux
}

func newGRPCServer(logger *log.Entry) (*grpc.Server, *grpchealth.Server) {
	grpcMetrics := registerGRPCMetrics(logger)
	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(grpcMetrics.StreamServerInterceptor()),
	)

	healthServer := grpchealth.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(grpcServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)
	reflection.Register(server)
	grpcMetrics.InitializeMetrics(server)
	return server, healthServer
}

// registerGRPCMetrics переиспользует уже зарегистрированные метрики при повторном запуске в одном процессе.
func registerGRPCMetrics(logger *log.Entry) *promgrpc.ServerMetrics {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				return existing
			}
		}
		logger.WithError(err).Warn("failed to register grpc metrics")
	}
	return grpcMetrics
}

func stopGRPC(server *grpc.Server, timeout time.Duration, logger *log.Entry) {
	stopped := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(timeout):
		logger.Warn("grpc graceful stop timed out, forcing")
		server.Stop()
	}
}

func shutdownHTTP(srv *http.Server, timeout time.Duration, logger *log.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}

func ignoreClosed(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/RenatoCabral2022/callstream/internal/adapter"
	"github.com/RenatoCabral2022/callstream/internal/api"
	"github.com/RenatoCabral2022/callstream/internal/audio"
	"github.com/RenatoCabral2022/callstream/internal/calls"
	"github.com/RenatoCabral2022/callstream/internal/config"
	"github.com/RenatoCabral2022/callstream/internal/consumer"
	"github.com/RenatoCabral2022/callstream/internal/discovery"
	"github.com/RenatoCabral2022/callstream/internal/streaming"
	"github.com/RenatoCabral2022/callstream/internal/transaction"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}
	logger.Info("streamd starting",
		zap.String("listen", cfg.ListenAddr),
		zap.String("roles", cfg.RolesFile),
		zap.Duration("connectTimeout", cfg.ConsumerConnectTimeout),
		zap.Bool("allowPrivateConsumers", cfg.AllowPrivateConsumers),
	)

	registry, err := discovery.Open(cfg.RolesFile, logger.Named("discovery"))
	if err != nil {
		logger.Fatal("failed to load role registry", zap.Error(err))
	}

	binder := consumer.NewBinder(logger.Named("consumer"), consumer.Options{
		ConnectTimeout: cfg.ConsumerConnectTimeout,
		CallTimeout:    cfg.ConsumerCallTimeout,
		AllowPrivate:   cfg.AllowPrivateConsumers,
	})
	txs := transaction.NewManager(logger.Named("transactions"), cfg.TransactionTimeout, cfg.TransactionQueue)
	interceptor := audio.NewInterceptor(logger.Named("audio"), cfg.TapBufferSec)

	ctl := streaming.NewController(streaming.Deps{
		Logger:        logger.Named("streaming"),
		Resolver:      registry,
		Binder:        binder,
		Audio:         interceptor,
		Transactions:  txs,
		NotifyTimeout: cfg.ConsumerCallTimeout,
	})
	callManager := calls.NewManager(logger.Named("calls"))
	callManager.AddListener(ctl)

	server := api.NewServer(api.Deps{
		Logger:       logger.Named("api"),
		Controller:   ctl,
		Calls:        callManager,
		Owners:       calls.NewOwners(callManager, ctl, txs, logger.Named("owner")),
		Audio:        interceptor,
		Adapter:      adapter.NewStreamingRouter(ctl, logger.Named("adapter")),
		StartTimeout: cfg.ConsumerConnectTimeout + cfg.TransactionTimeout,
	})
	srv := &http.Server{
		Addr: cfg.ListenAddr,
		Handler: server.Handler(api.Options{
			CORSOrigins: cfg.CORSOrigins,
			APIToken:    cfg.APIToken,
		}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.ConsumerConnectTimeout + cfg.TransactionTimeout + 5*time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("API listening", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return registry.Watch(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("API shutdown", zap.Error(err))
		}
		if call, ok := ctl.StreamingCall(); ok {
			if _, err := ctl.StopStreaming(call).Run(shutdownCtx).Await(shutdownCtx); err != nil {
				logger.Warn("stop streaming on shutdown", zap.Error(err))
			}
		}
		if err := txs.Close(shutdownCtx); err != nil {
			logger.Warn("transaction queue did not drain", zap.Error(err))
		}
		binder.Close()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("streamd exited with error", zap.Error(err))
		os.Exit(1)
	}
}

package app

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/silverbackgo/silverback/internal/envelope"
)

// Start launches one ConsumeLoop goroutine per registered endpoint plus the
// outbox worker (the broker was already connected by New), and returns a channel closed
// once a shutdown signal arrives, mirroring gobite's Start/signal-handling
// shape with the HTTP/SSE servers replaced by the broker consume loops.
func (a *App) Start() <-chan struct{} {
	terminateChan := make(chan struct{})

	consumeCtx, stopConsume := context.WithCancel(a.ctx)
	a.stopConsume = stopConsume

	for _, endpoint := range a.consumeEndpoints {
		endpoint := endpoint
		a.goroutine.Go(consumeCtx, func(ctx context.Context) error {
			slog.InfoContext(ctx, "consume loop starting", "endpoint", endpoint.String())
			err := a.broker.ConsumeLoop(ctx, endpoint, a.handle(endpoint))
			if err != nil && !errors.Is(err, context.Canceled) {
				slog.ErrorContext(ctx, "consume loop exited", "endpoint", endpoint.String(), "error", err)
			}
			return err
		})
	}

	a.outboxWorker.Start(consumeCtx)

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
		defer signal.Stop(sigint)

		<-sigint

		if a.cancel != nil {
			a.cancel()
		}

		close(terminateChan)

		slog.Info("application gracefully shutdown")
	}()

	return terminateChan
}

// handle adapts the consumer pipeline to broker.Handler for one endpoint.
func (a *App) handle(endpoint envelope.Endpoint) func(ctx context.Context, id envelope.Identifier, env *envelope.Envelope) error {
	cfg := a.consumeConfigs[endpoint.Name]
	errPolicy := a.errorPolicies[cfg.ErrorPolicy]

	return func(ctx context.Context, id envelope.Identifier, env *envelope.Envelope) error {
		return a.consumerPipe.Process(ctx, endpoint, cfg, id, env, errPolicy)
	}
}

// Stop gracefully shuts down the consume loops, the outbox worker, and all
// registered resources.
func (a *App) Stop(ctx context.Context) {
	if a.cancel != nil {
		a.cancel()
	}
	if a.stopConsume != nil {
		a.stopConsume()
	}

	if err := a.outboxWorker.Stop(); err != nil {
		slog.ErrorContext(ctx, "failed to stop outbox worker", "error", err)
	}

	a.sequenceTracker.AbortAll()

	slog.InfoContext(ctx, "waiting for all goroutine to finish")
	if err := a.goroutine.Wait(); err != nil {
		slog.ErrorContext(ctx, "error from goroutines executions", "error", err)
	}
	slog.InfoContext(ctx, "all goroutines have finished successfully")

	for _, closer := range a.closers {
		if err := closer.fn(ctx); err != nil {
			slog.ErrorContext(ctx, "failed to close resources", "name", closer.name, "error", err)
		}
	}
}
